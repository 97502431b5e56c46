package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bottlepoint/waterbot/internal/ledger"
	"github.com/bottlepoint/waterbot/internal/points"
	"github.com/bottlepoint/waterbot/internal/session"
	"github.com/bottlepoint/waterbot/pkg/enums"
	pkgerrors "github.com/bottlepoint/waterbot/pkg/errors"
)

const (
	msgEmployeeHello   = "Hello! Scan the QR code at a bottle point or use /point <point_id>."
	msgAskRefill       = "Send how many bottles you filled."
	msgInvalidAmount   = "❌ Invalid Amount. Please enter a number"
	msgEmployeeCancel  = "Cancelled."
	msgPointIDRequired = "Usage: /point <point_id>"
)

type EmployeeDeps struct {
	Messenger Messenger
	Sessions  session.Store
	Ledger    ledger.Service
	Points    *points.Repository
}

// EmployeeRoutes is the command table of the employee bot. Employees reach a
// point through the QR deep link, then report how many bottles they loaded.
func EmployeeRoutes(d EmployeeDeps) Routes {
	h := &employee{EmployeeDeps: d}
	routes := Routes{
		Commands: []Command{
			{Name: "start", Description: "open a bottle point from its QR code", Run: h.start},
			{Name: "point", Description: "open a bottle point: /point <point_id>", Run: h.point},
			{Name: "cancel", Description: "stop refilling the current point", Run: h.cancel},
		},
		States: map[enums.ConversationState]TextFunc{
			enums.StateAwaitingRefillAmount: h.refill,
		},
	}
	help := routes.HelpText()
	routes.Commands = append(routes.Commands, Command{
		Name:        "help",
		Description: "show this list",
		Run: func(ctx context.Context, ev Event, _ string) error {
			return reply(ctx, h.Messenger, ev.ChatID, help)
		},
	})
	return routes
}

type employee struct {
	EmployeeDeps
}

func (h *employee) start(ctx context.Context, ev Event, args string) error {
	if strings.TrimSpace(args) == "" {
		return reply(ctx, h.Messenger, ev.ChatID, msgEmployeeHello)
	}
	return h.point(ctx, ev, args)
}

func (h *employee) point(ctx context.Context, ev Event, args string) error {
	pointID, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil || pointID <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, msgPointIDRequired)
	}
	point, err := h.Points.FindByID(ctx, pointID)
	if err != nil {
		return err
	}
	sess := &session.Session{
		ChatID: ev.ChatID,
		State:  enums.StateAwaitingRefillAmount,
		Data:   session.Data{PointID: point.ID},
	}
	if err := h.Sessions.Save(ctx, sess); err != nil {
		return err
	}
	return reply(ctx, h.Messenger, ev.ChatID, fmt.Sprintf("Welcome! You are at Bottle Point: %d\n%s\n%s", point.ID, point.Address, msgAskRefill))
}

func (h *employee) refill(ctx context.Context, ev Event, sess *session.Session) error {
	amount, err := strconv.Atoi(strings.TrimSpace(ev.Text))
	if err != nil || amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, msgInvalidAmount)
	}
	res, err := h.Ledger.RefillPoint(ctx, ev.Sender.UserID, sess.Data.PointID, amount)
	if err != nil {
		return err
	}
	if err := h.Sessions.Delete(ctx, ev.ChatID); err != nil {
		return err
	}
	return reply(ctx, h.Messenger, ev.ChatID, fmt.Sprintf("✅ Bottle point filled successfully. Current amount %d", res.PointBalance))
}

func (h *employee) cancel(ctx context.Context, ev Event, _ string) error {
	if err := h.Sessions.Delete(ctx, ev.ChatID); err != nil {
		return err
	}
	return reply(ctx, h.Messenger, ev.ChatID, msgEmployeeCancel)
}
