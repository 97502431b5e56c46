package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bottlepoint/waterbot/internal/invitations"
	"github.com/bottlepoint/waterbot/internal/ledger"
	"github.com/bottlepoint/waterbot/internal/points"
	"github.com/bottlepoint/waterbot/internal/registration"
	"github.com/bottlepoint/waterbot/internal/session"
	"github.com/bottlepoint/waterbot/internal/users"
	"github.com/bottlepoint/waterbot/pkg/db/models"
	"github.com/bottlepoint/waterbot/pkg/enums"
	pkgerrors "github.com/bottlepoint/waterbot/pkg/errors"
	"github.com/bottlepoint/waterbot/pkg/types"
)

const (
	msgAskInvitees    = "Send a list of @usernames to invite (comma-separated):"
	msgNoPending      = "You have no pending invitations."
	msgNotRegistered  = "You are not registered yet. Use /register to start."
	msgNotVerified    = "Your membership is not confirmed yet. Ask a household member to /invite you."
	msgNoPoints       = "There are no collection points yet."
	msgTransferUsage  = "Usage: /transfer <point_id> <bottles>"
	msgInvalidBottles = "❌ Please enter a positive number of bottles."
	msgNoHistory      = "No bottle movements yet."
	msgHistoryUsage   = "Usage: /history [count], up to 50"

	defaultHistory = 10
	maxHistory     = 50
)

// ResidentDeps wires the resident bot.
type ResidentDeps struct {
	Messenger      Messenger
	Sessions       session.Store
	Registration   registration.Service
	Invitations    invitations.Service
	Ledger         ledger.Service
	Users          *users.Repository
	Points         *points.Repository
	DefaultCollect int
}

// ResidentRoutes is the command table of the resident bot.
func ResidentRoutes(d ResidentDeps) Routes {
	if d.DefaultCollect <= 0 {
		d.DefaultCollect = 5
	}
	h := &resident{ResidentDeps: d}
	routes := Routes{
		Commands: []Command{
			{Name: "start", Description: "start or resume registration", Run: h.start},
			{Name: "register", Description: "register your household", Run: h.register},
			{Name: "cancel", Description: "cancel the current step", Run: h.cancel},
			{Name: "invite", Description: "invite household members: /invite @a, @b", Run: h.invite},
			{Name: "add_member", Description: "same as /invite", Run: h.invite, Hidden: true},
			{Name: "verify", Description: "show your pending invitation", Run: h.verify},
			{Name: "balance", Description: "show your household bottle balance", Run: h.balance},
			{Name: "history", Description: fmt.Sprintf("recent bottle movements: /history [n], default %d", defaultHistory), Run: h.history},
			{Name: "collect", Description: fmt.Sprintf("collect bottles: /collect [n], default %d", d.DefaultCollect), Run: h.collect},
			{Name: "transfer", Description: "hand bottles to a point: /transfer <point_id> <n>", Run: h.transfer},
			{Name: "points", Description: "list collection points", Run: h.points},
		},
		States: map[enums.ConversationState]TextFunc{
			enums.StateAwaitingInvitees: h.invitees,
		},
		Callbacks: map[string]CallbackFunc{
			"verify": h.respond,
		},
	}
	for _, state := range []enums.ConversationState{
		enums.StateAwaitingAddress,
		enums.StateAwaitingNationalID,
		enums.StateInvitedAwaitingNationalID,
		enums.StateAwaitingName,
		enums.StateAwaitingPhone,
	} {
		routes.States[state] = h.advance
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

type resident struct {
	ResidentDeps
}

func (h *resident) start(ctx context.Context, ev Event, args string) error {
	if householdID, ok := invitations.ParseInviteStart(args); ok {
		h.deliverPending(ctx, ev.Sender)
		out, err := h.Registration.StartInvited(ctx, ev.Sender, householdID)
		if err != nil {
			return err
		}
		return reply(ctx, h.Messenger, ev.ChatID, out.Text)
	}
	if h.deliverPending(ctx, ev.Sender) {
		return nil
	}
	return h.register(ctx, ev, args)
}

func (h *resident) register(ctx context.Context, ev Event, _ string) error {
	out, err := h.Registration.Start(ctx, ev.Sender)
	if err != nil {
		return err
	}
	return reply(ctx, h.Messenger, ev.ChatID, out.Text)
}

func (h *resident) advance(ctx context.Context, ev Event, sess *session.Session) error {
	out, err := h.Registration.Advance(ctx, ev.Sender, sess, ev.Text)
	if err != nil {
		return err
	}
	return reply(ctx, h.Messenger, ev.ChatID, out.Text)
}

func (h *resident) cancel(ctx context.Context, ev Event, _ string) error {
	out, err := h.Registration.Cancel(ctx, ev.ChatID)
	if err != nil {
		return err
	}
	return reply(ctx, h.Messenger, ev.ChatID, out.Text)
}

func (h *resident) invite(ctx context.Context, ev Event, args string) error {
	if strings.TrimSpace(args) != "" {
		return h.sendInvites(ctx, ev, args)
	}
	if _, err := h.member(ctx, ev.Sender, true); err != nil {
		return err
	}
	sess := &session.Session{ChatID: ev.ChatID, State: enums.StateAwaitingInvitees}
	if err := h.Sessions.Save(ctx, sess); err != nil {
		return err
	}
	return reply(ctx, h.Messenger, ev.ChatID, msgAskInvitees)
}

func (h *resident) invitees(ctx context.Context, ev Event, _ *session.Session) error {
	if err := h.Sessions.Delete(ctx, ev.ChatID); err != nil {
		return err
	}
	return h.sendInvites(ctx, ev, ev.Text)
}

func (h *resident) sendInvites(ctx context.Context, ev Event, list string) error {
	result, err := h.Invitations.Invite(ctx, ev.Sender, list)
	if err != nil {
		return err
	}
	return reply(ctx, h.Messenger, ev.ChatID, result.Text())
}

func (h *resident) verify(ctx context.Context, ev Event, _ string) error {
	delivered, err := h.Invitations.DeliverPending(ctx, ev.Sender)
	if err != nil {
		return err
	}
	if !delivered {
		return reply(ctx, h.Messenger, ev.ChatID, msgNoPending)
	}
	return nil
}

func (h *resident) respond(ctx context.Context, ev Event) error {
	action, identity, ok := invitations.ParseCallback(ev.Action)
	if !ok {
		return pkgerrors.New(pkgerrors.CodeValidation, "Unknown answer.")
	}
	resp, err := h.Invitations.Respond(ctx, ev.Sender, action, identity)
	if err != nil {
		return err
	}
	return reply(ctx, h.Messenger, ev.ChatID, resp.Text)
}

func (h *resident) balance(ctx context.Context, ev Event, _ string) error {
	user, err := h.member(ctx, ev.Sender, true)
	if err != nil {
		return err
	}
	balance, err := h.Ledger.Balance(ctx, ledger.HouseholdAccount(*user.HouseholdID))
	if err != nil {
		return err
	}
	return reply(ctx, h.Messenger, ev.ChatID, fmt.Sprintf("💧 Bottle balance: %d", balance))
}

func (h *resident) history(ctx context.Context, ev Event, args string) error {
	limit := defaultHistory
	if fields := strings.Fields(args); len(fields) > 0 {
		n, err := strconv.Atoi(fields[0])
		if err != nil || n <= 0 || n > maxHistory {
			return pkgerrors.New(pkgerrors.CodeValidation, msgHistoryUsage)
		}
		limit = n
	}
	user, err := h.member(ctx, ev.Sender, true)
	if err != nil {
		return err
	}
	entries, err := h.Ledger.History(ctx, ledger.HouseholdAccount(*user.HouseholdID), limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return reply(ctx, h.Messenger, ev.ChatID, msgNoHistory)
	}
	lines := make([]string, 0, len(entries)+1)
	lines = append(lines, "Recent bottle movements:")
	for _, e := range entries {
		lines = append(lines, historyLine(e))
	}
	return reply(ctx, h.Messenger, ev.ChatID, strings.Join(lines, "\n"))
}

// historyLine renders a household journal row, newest first.
func historyLine(e models.Transaction) string {
	sign := "-"
	if e.Kind == enums.TransactionKindOpening {
		sign = "+"
	}
	line := fmt.Sprintf("%s %s %s%d", e.CreatedAt.UTC().Format("2006-01-02 15:04"), e.Kind, sign, e.BottlesCharged)
	if e.Kind == enums.TransactionKindTransfer && e.PointID != nil {
		line += fmt.Sprintf(" to point #%d", *e.PointID)
	}
	if e.BalanceAfter != nil {
		line += fmt.Sprintf(", balance %d", *e.BalanceAfter)
	}
	return line
}

func (h *resident) collect(ctx context.Context, ev Event, args string) error {
	requested := h.DefaultCollect
	if fields := strings.Fields(args); len(fields) > 0 {
		n, err := strconv.Atoi(fields[0])
		if err != nil || n <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, msgInvalidBottles)
		}
		requested = n
	}
	user, err := h.member(ctx, ev.Sender, true)
	if err != nil {
		return err
	}
	res, err := h.Ledger.Collect(ctx, *user.HouseholdID, requested)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("✅ Collected %d bottles. Remaining balance: %d", res.Collected, res.Balance)
	if res.Collected < res.Requested {
		text += fmt.Sprintf("\nOnly %d of the %d requested were available.", res.Collected, res.Requested)
	}
	return reply(ctx, h.Messenger, ev.ChatID, text)
}

func (h *resident) transfer(ctx context.Context, ev Event, args string) error {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return pkgerrors.New(pkgerrors.CodeValidation, msgTransferUsage)
	}
	pointID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || pointID <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, msgTransferUsage)
	}
	amount, err := strconv.Atoi(fields[1])
	if err != nil || amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, msgInvalidBottles)
	}
	user, err := h.member(ctx, ev.Sender, true)
	if err != nil {
		return err
	}
	res, err := h.Ledger.TransferToPoint(ctx, *user.HouseholdID, pointID, amount)
	if err != nil {
		return err
	}
	return reply(ctx, h.Messenger, ev.ChatID, fmt.Sprintf("✅ Transferred %d bottles to point %d. Remaining balance: %d", res.Amount, res.PointID, res.HouseholdBalance))
}

func (h *resident) points(ctx context.Context, ev Event, _ string) error {
	list, err := h.Points.List(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return reply(ctx, h.Messenger, ev.ChatID, msgNoPoints)
	}
	lines := make([]string, 0, len(list)+1)
	lines = append(lines, "Collection points:")
	for _, p := range list {
		lines = append(lines, fmt.Sprintf("#%d %s (%d bottles)", p.ID, p.Address, p.BottleAmount))
	}
	return reply(ctx, h.Messenger, ev.ChatID, strings.Join(lines, "\n"))
}

// member resolves the sender's resident row. Ledger commands need a
// household and, unless verified is false, a confirmed membership.
func (h *resident) member(ctx context.Context, who types.Identity, verified bool) (*models.User, error) {
	user, err := h.Users.FindByIdentity(ctx, who)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeForbidden, err, msgNotRegistered)
		}
		return nil, err
	}
	if user.HouseholdID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, msgNotRegistered)
	}
	if verified && !user.Verified {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, msgNotVerified)
	}
	return user, nil
}

func (h *resident) deliverPending(ctx context.Context, who types.Identity) bool {
	delivered, err := h.Invitations.DeliverPending(ctx, who)
	return err == nil && delivered
}
