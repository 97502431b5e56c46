package bot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/bottlepoint/waterbot/internal/analytics"
	"github.com/bottlepoint/waterbot/internal/employees"
	"github.com/bottlepoint/waterbot/internal/ledger"
	"github.com/bottlepoint/waterbot/internal/points"
	"github.com/bottlepoint/waterbot/internal/registration"
	pkgerrors "github.com/bottlepoint/waterbot/pkg/errors"
	"github.com/bottlepoint/waterbot/pkg/logger"
	"github.com/bottlepoint/waterbot/pkg/qrcode"
	"github.com/bottlepoint/waterbot/pkg/types"
)

const (
	msgAdminWelcome   = "👋 Welcome, Admin! Send me an Excel file with employee details."
	msgNotAuthorized  = "❌ You are not authorized to use this bot."
	msgQRUsage        = "❌ Please provide a point id.\nExample: /generate_qr 3"
	msgAddPointUsage  = "❌ Please provide the point address.\nExample: /add_point 12 Abay Ave"
	msgChooseAnalysis = "Choose an analysis option:"
	msgEmptyRoster    = "No employees found in the file."

	analyticsPrefix = "analytics"
)

type AdminDeps struct {
	Messenger           Messenger
	Employees           employees.Service
	Analytics           *analytics.Service
	Points              *points.Repository
	Ledger              ledger.Service
	QR                  *qrcode.Generator
	Geocoder            registration.Geocoder
	EmployeeBotUsername string
	MaxRosterBytes      int64
	IsAdmin             func(userID int64) bool
	Logger              *logger.Logger
}

// AdminRoutes is the command table of the admin bot. Every event from a
// sender outside the admin list is rejected before routing.
func AdminRoutes(d AdminDeps) Routes {
	h := &admin{AdminDeps: d}
	routes := Routes{
		Commands: []Command{
			{Name: "start", Description: "show the welcome message", Run: h.start},
			{Name: "generate_qr", Description: "QR code for a bottle point: /generate_qr <point_id>", Run: h.generateQR},
			{Name: "analytics", Description: "household and consumption reports", Run: h.analytics},
			{Name: "add_point", Description: "open a bottle point: /add_point <address>", Run: h.addPoint},
		},
		Callbacks: map[string]CallbackFunc{
			analyticsPrefix: h.report,
		},
		Document: h.roster,
		Guard:    h.guard,
	}
	help := routes.HelpText() + "\nSend an .xlsx or .csv roster to import employees."
	routes.Commands = append(routes.Commands, Command{
		Name:        "help",
		Description: "show this list",
		Run: func(ctx context.Context, ev Event, _ string) error {
			return reply(ctx, h.Messenger, ev.ChatID, help)
		},
	})
	return routes
}

type admin struct {
	AdminDeps
}

func (h *admin) guard(_ context.Context, ev Event) error {
	if h.IsAdmin == nil || !h.IsAdmin(ev.Sender.UserID) {
		return pkgerrors.New(pkgerrors.CodeForbidden, msgNotAuthorized)
	}
	return nil
}

func (h *admin) start(ctx context.Context, ev Event, _ string) error {
	return reply(ctx, h.Messenger, ev.ChatID, msgAdminWelcome)
}

func (h *admin) roster(ctx context.Context, ev Event) error {
	body, err := h.Messenger.Download(ctx, ev.Document.FileID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "Could not download the file. Please send it again.")
	}
	defer func() { _ = body.Close() }()

	var roster io.Reader = body
	if h.MaxRosterBytes > 0 {
		data, err := io.ReadAll(io.LimitReader(body, h.MaxRosterBytes+1))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "Could not download the file. Please send it again.")
		}
		if int64(len(data)) > h.MaxRosterBytes {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("❌ The file is too large (limit %d KB).", h.MaxRosterBytes/1024))
		}
		roster = bytes.NewReader(data)
	}

	report, err := h.Employees.Import(ctx, roster, ev.Document.FileName)
	if report == nil {
		return err
	}
	if err != nil && h.Logger != nil {
		h.Logger.Error(ctx, "roster rows failed", err)
	}
	text := report.String()
	if text == "" {
		text = msgEmptyRoster
	}
	text += fmt.Sprintf("\n\nAdded: %d, updated: %d, failed: %d", report.Added, report.Updated, report.Failed)
	return reply(ctx, h.Messenger, ev.ChatID, text)
}

func (h *admin) generateQR(ctx context.Context, ev Event, args string) error {
	pointID, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil || pointID <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, msgQRUsage)
	}
	point, err := h.Points.FindByID(ctx, pointID)
	if err != nil {
		return err
	}
	link := PointLink(h.EmployeeBotUsername, point.ID)
	path, err := h.QR.WriteFile(fmt.Sprintf("point_%d", point.ID), link)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate qr")
	}
	defer func() { _ = os.Remove(path) }()

	caption := fmt.Sprintf("✅ Here is your QR code for point %d (%s).\n%s", point.ID, point.Address, link)
	return h.Messenger.SendPhoto(ctx, ev.ChatID, path, caption)
}

func (h *admin) analytics(ctx context.Context, ev Event, _ string) error {
	reports := []analytics.Report{
		analytics.ReportHouseholdDistribution,
		analytics.ReportWaterConsumption,
		analytics.ReportAverageBottles,
	}
	buttons := make([][]types.Button, 0, len(reports))
	for _, r := range reports {
		buttons = append(buttons, []types.Button{{Text: r.Title(), Data: analyticsPrefix + ":" + string(r)}})
	}
	return reply(ctx, h.Messenger, ev.ChatID, msgChooseAnalysis, buttons...)
}

func (h *admin) report(ctx context.Context, ev Event) error {
	_, value, _ := strings.Cut(ev.Action, ":")
	report, ok := analytics.ParseReport(value)
	if !ok {
		return pkgerrors.New(pkgerrors.CodeValidation, "Invalid selection.")
	}
	text, err := h.Analytics.Render(ctx, report)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "render analytics")
	}
	return reply(ctx, h.Messenger, ev.ChatID, text)
}

func (h *admin) addPoint(ctx context.Context, ev Event, args string) error {
	address := strings.TrimSpace(args)
	if address == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, msgAddPointUsage)
	}
	input := ledger.OpenAccountInput{Address: address}
	if h.Geocoder != nil {
		res, err := h.Geocoder.Geocode(ctx, address)
		if err != nil {
			return err
		}
		lat, lng := res.Location.Latitude, res.Location.Longitude
		input.Address = res.FormattedAddress
		input.Latitude = &lat
		input.Longitude = &lng
	}
	point, err := h.Ledger.OpenPoint(ctx, input)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeConflict) {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "A bottle point already exists at this address.")
		}
		return err
	}
	return reply(ctx, h.Messenger, ev.ChatID, fmt.Sprintf("✅ Bottle point %d opened at %s. Use /generate_qr %d for its QR code.", point.ID, point.Address, point.ID))
}

// PointLink is the employee bot deep link printed on a point's QR code.
func PointLink(employeeBot string, pointID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=%d", strings.TrimPrefix(employeeBot, "@"), pointID)
}
