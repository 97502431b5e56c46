// Package invitations lets a confirmed household member add others by
// username. Each invitee answers an inline prompt; a confirmation makes them
// a verified member of the inviter's household.
package invitations

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bottlepoint/waterbot/internal/households"
	"github.com/bottlepoint/waterbot/internal/users"
	"github.com/bottlepoint/waterbot/pkg/enums"
	pkgerrors "github.com/bottlepoint/waterbot/pkg/errors"
	"github.com/bottlepoint/waterbot/pkg/logger"
	"github.com/bottlepoint/waterbot/pkg/types"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

const (
	callbackPrefix = "verify"

	inviteLimit  = 20
	inviteWindow = time.Hour

	msgAnswered       = "\n\n(Response received ✅)"
	msgExpired        = "\n\n(This invitation has expired ⌛)"
	msgClosed         = "\n\n(This invitation is no longer pending)"
	msgConfirmed      = "✅ You have been added to the household!"
	msgDeclined       = "❌ Thanks for your answer. The action has been cancelled."
	msgAlreadyHandled = "This invitation has already been answered."
	msgExpiredReply   = "⌛ This invitation has expired. Ask your household member to invite you again."
	msgNotYours       = "This invitation is addressed to someone else."
	msgNotRegistered  = "You must register first using /register."
	msgNotVerified    = "Only confirmed household members can invite others."
	msgRateLimited    = "Too many invitations. Please try again later."
	msgEmptyList      = "Send member details in format: @username1, @username2"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Messenger is the slice of the chat transport invitations need.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string, buttons ...[]types.Button) (types.MessageRef, error)
	Edit(ctx context.Context, ref types.MessageRef, text string, buttons ...[]types.Button) error
}

// Directory resolves a username to the chat it last wrote from.
type Directory interface {
	ChatIDFor(ctx context.Context, username string) (int64, bool, error)
}

// RateLimiter caps how often one chat may send invitations.
type RateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

type Service interface {
	Invite(ctx context.Context, inviter types.Identity, raw string) (*InviteResult, error)
	DeliverPending(ctx context.Context, who types.Identity) (bool, error)
	Respond(ctx context.Context, responder types.Identity, action enums.VerificationAction, identity string) (*Response, error)
	ExpireStale(ctx context.Context, limit int) (int, error)
}

type ServiceParams struct {
	DB          txRunner
	Store       Store
	Users       *users.Repository
	Households  *households.Repository
	Directory   Directory
	Messenger   Messenger
	Limiter     RateLimiter
	TTL         time.Duration
	BotUsername string
	Logger      *logger.Logger
	Now         func() time.Time
}

// Outcome is what happened to one requested username.
type Outcome string

const (
	OutcomeSent     Outcome = "sent"
	OutcomeDeferred Outcome = "deferred"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeInvalid  Outcome = "invalid"
)

type InviteEntry struct {
	Identity string
	Outcome  Outcome
	Reason   string
}

type InviteResult struct {
	HouseholdID int64
	Entries     []InviteEntry
	// Link is set when at least one invitee could not be reached directly.
	Link string
}

// Identities returns the usernames that ended with outcome.
func (r *InviteResult) Identities(outcome Outcome) []string {
	var out []string
	for _, e := range r.Entries {
		if e.Outcome == outcome {
			out = append(out, e.Identity)
		}
	}
	return out
}

// Text renders the result for the inviter.
func (r *InviteResult) Text() string {
	var lines []string
	if sent := r.Identities(OutcomeSent); len(sent) > 0 {
		lines = append(lines, "Confirmation sent to: "+handles(sent))
	}
	if deferred := r.Identities(OutcomeDeferred); len(deferred) > 0 {
		lines = append(lines, fmt.Sprintf("Not reachable yet: %s\nAsk them to open this link:\n%s", handles(deferred), r.Link))
	}
	for _, e := range r.Entries {
		switch e.Outcome {
		case OutcomeSkipped:
			lines = append(lines, fmt.Sprintf("Skipped @%s: %s", e.Identity, e.Reason))
		case OutcomeInvalid:
			lines = append(lines, fmt.Sprintf("Not a valid username: %s", e.Identity))
		}
	}
	return strings.Join(lines, "\n")
}

type Response struct {
	Text    string
	Handled bool
	Action  enums.VerificationAction
}

type service struct {
	db          txRunner
	store       Store
	users       *users.Repository
	households  *households.Repository
	directory   Directory
	messenger   Messenger
	limiter     RateLimiter
	ttl         time.Duration
	botUsername string
	logg        *logger.Logger
	now         func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.DB == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Store == nil:
		return nil, fmt.Errorf("invitation store required")
	case params.Users == nil || params.Households == nil:
		return nil, fmt.Errorf("user and household repositories required")
	case params.Directory == nil:
		return nil, fmt.Errorf("chat directory required")
	case params.Messenger == nil:
		return nil, fmt.Errorf("messenger required")
	case params.TTL <= 0:
		return nil, fmt.Errorf("invitation ttl must be positive")
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &service{
		db:          params.DB,
		store:       params.Store,
		users:       params.Users,
		households:  params.Households,
		directory:   params.Directory,
		messenger:   params.Messenger,
		limiter:     params.Limiter,
		ttl:         params.TTL,
		botUsername: params.BotUsername,
		logg:        params.Logger,
		now:         params.Now,
	}, nil
}

// CallbackData encodes a prompt button.
func CallbackData(action enums.VerificationAction, identity string) string {
	return strings.Join([]string{callbackPrefix, string(action), identity}, ":")
}

// ParseCallback decodes CallbackData. ok is false for foreign callbacks.
func ParseCallback(data string) (action enums.VerificationAction, identity string, ok bool) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[0] != callbackPrefix {
		return "", "", false
	}
	action, err := enums.ParseVerificationAction(parts[1])
	if err != nil || parts[2] == "" {
		return "", "", false
	}
	return action, parts[2], true
}

// InviteLink is the deep link that starts registration into householdID.
func InviteLink(botUsername string, householdID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=invite_%d", botUsername, householdID)
}

// ParseInviteStart extracts the household id from a /start payload.
func ParseInviteStart(payload string) (int64, bool) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(payload), "invite_")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *service) Invite(ctx context.Context, inviter types.Identity, raw string) (*InviteResult, error) {
	member, err := s.users.FindByIdentity(ctx, inviter)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeForbidden, err, msgNotRegistered)
		}
		return nil, err
	}
	if !member.Verified || member.HouseholdID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, msgNotVerified)
	}

	identities := splitList(raw)
	if len(identities) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, msgEmptyList)
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.FixedWindowAllow(ctx, "invite:"+strconv.FormatInt(inviter.ChatID, 10), inviteLimit, inviteWindow)
		if err != nil && s.logg != nil {
			s.logg.Warn(s.logg.WithChatID(ctx, inviter.ChatID), "invite rate limiter unavailable")
		}
		if err == nil && !allowed {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, msgRateLimited)
		}
	}

	household, err := s.households.FindByID(ctx, *member.HouseholdID)
	if err != nil {
		return nil, err
	}

	result := &InviteResult{HouseholdID: household.ID}
	now := s.now().UTC()
	for _, identity := range identities {
		entry, err := s.inviteOne(ctx, inviter, household.ID, household.Address, identity, now)
		if err != nil {
			return nil, err
		}
		result.Entries = append(result.Entries, entry)
	}
	if len(result.Identities(OutcomeDeferred)) > 0 {
		result.Link = InviteLink(s.botUsername, household.ID)
	}
	return result, nil
}

func (s *service) inviteOne(ctx context.Context, inviter types.Identity, householdID int64, address, identity string, now time.Time) (InviteEntry, error) {
	entry := InviteEntry{Identity: identity}
	switch {
	case !types.ValidUsername(identity):
		entry.Outcome = OutcomeInvalid
		return entry, nil
	case identity == inviter.Handle():
		entry.Outcome, entry.Reason = OutcomeSkipped, "that is you"
		return entry, nil
	}

	existing, err := s.users.FindByUsername(ctx, identity)
	switch {
	case err == nil && existing.Verified && existing.HouseholdID != nil && *existing.HouseholdID == householdID:
		entry.Outcome, entry.Reason = OutcomeSkipped, "already a member"
		return entry, nil
	case err != nil && !pkgerrors.Is(err, pkgerrors.CodeNotFound):
		return entry, err
	}

	pending, err := s.store.Get(ctx, identity)
	if err != nil {
		return entry, err
	}
	if pending != nil && !pending.Expired(now) {
		entry.Outcome, entry.Reason = OutcomeSkipped, "already invited"
		return entry, nil
	}

	p := Pending{
		Identity:      identity,
		HouseholdID:   householdID,
		Address:       address,
		InviterChatID: inviter.ChatID,
		InviterName:   inviterName(inviter),
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.ttl),
	}
	if err := s.store.Put(ctx, p); err != nil {
		return entry, err
	}

	chatID, ok, err := s.directory.ChatIDFor(ctx, identity)
	if err != nil {
		return entry, err
	}
	entry.Outcome = OutcomeDeferred
	if ok {
		if delivered := s.deliver(ctx, &p, chatID); delivered {
			entry.Outcome = OutcomeSent
		}
	}
	return entry, nil
}

// deliver sends the prompt for p to chatID and records where it landed. When
// the invitation was answered or replaced while the prompt was in flight, the
// new prompt is closed instead and p keeps its previous handle.
func (s *service) deliver(ctx context.Context, p *Pending, chatID int64) bool {
	ref, err := s.messenger.Send(ctx, chatID, promptText(*p), promptButtons(p.Identity))
	if err != nil {
		if s.logg != nil {
			s.logg.Error(s.logg.WithChatID(ctx, chatID), "failed to deliver invitation prompt", err)
		}
		return false
	}
	recorded, err := s.store.SetPrompt(ctx, p.Identity, p.CreatedAt, ref)
	if err != nil {
		if s.logg != nil {
			s.logg.Error(s.logg.WithChatID(ctx, chatID), "failed to record invitation prompt", err)
		}
		return false
	}
	if !recorded {
		stale := *p
		stale.Prompt = ref
		s.closePrompt(ctx, stale, msgClosed)
		return true
	}
	p.Prompt = ref
	return true
}

// DeliverPending (re)sends a pending prompt to who's current chat.
func (s *service) DeliverPending(ctx context.Context, who types.Identity) (bool, error) {
	identity := who.Handle()
	if identity == "" || who.ChatID == 0 {
		return false, nil
	}
	p, err := s.store.Get(ctx, identity)
	if err != nil || p == nil {
		return false, err
	}
	if p.Expired(s.now()) {
		return false, nil
	}
	previous := p.Prompt
	if !s.deliver(ctx, p, who.ChatID) {
		return false, nil
	}
	if !previous.IsZero() && previous != p.Prompt {
		_ = s.messenger.Edit(ctx, previous, promptText(*p)+"\n\n(Prompt re-sent below)")
	}
	return true, nil
}

func (s *service) Respond(ctx context.Context, responder types.Identity, action enums.VerificationAction, identity string) (*Response, error) {
	identity = types.NormalizeUsername(identity)
	if !action.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Unknown answer.")
	}
	if responder.Handle() != identity {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, msgNotYours)
	}

	p, err := s.store.Take(ctx, identity)
	if err != nil {
		if p == nil {
			return nil, err
		}
		if s.logg != nil {
			s.logg.Error(s.logg.WithChatID(ctx, responder.ChatID), "invitation taken with errors", err)
		}
	}
	if p == nil {
		return &Response{Text: msgAlreadyHandled, Action: action}, nil
	}
	if p.Expired(s.now()) {
		s.closePrompt(ctx, *p, msgExpired)
		return &Response{Text: msgExpiredReply, Action: action}, nil
	}

	resp := &Response{Handled: true, Action: action, Text: msgDeclined}
	if action == enums.VerificationConfirm {
		err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
			_, err := s.users.WithTx(tx).UpsertVerifiedMember(ctx, identity, responder.ChatID, p.HouseholdID)
			return err
		})
		if err != nil {
			if putErr := s.store.Put(ctx, *p); putErr != nil {
				err = multierr.Append(err, putErr)
			}
			return nil, err
		}
		resp.Text = msgConfirmed
	}

	s.closePrompt(ctx, *p, msgAnswered)
	s.notifyInviter(ctx, *p, action)
	if s.logg != nil {
		logCtx := s.logg.WithFields(s.logg.WithHouseholdID(ctx, p.HouseholdID), map[string]any{
			"identity": identity,
			"action":   string(action),
		})
		s.logg.Info(logCtx, "invitation answered")
	}
	return resp, nil
}

// ExpireStale drops invitations past their TTL and closes their prompts.
func (s *service) ExpireStale(ctx context.Context, limit int) (int, error) {
	expired, err := s.store.TakeExpired(ctx, s.now(), limit)
	var errs error
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	for _, p := range expired {
		if p.Prompt.IsZero() {
			continue
		}
		if editErr := s.messenger.Edit(ctx, p.Prompt, promptText(p)+msgExpired); editErr != nil {
			errs = multierr.Append(errs, fmt.Errorf("close prompt for %s: %w", p.Identity, editErr))
		}
	}
	return len(expired), errs
}

func (s *service) closePrompt(ctx context.Context, p Pending, suffix string) {
	if p.Prompt.IsZero() {
		return
	}
	if err := s.messenger.Edit(ctx, p.Prompt, promptText(p)+suffix); err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithChatID(ctx, p.Prompt.ChatID), "failed to close invitation prompt")
	}
}

func (s *service) notifyInviter(ctx context.Context, p Pending, action enums.VerificationAction) {
	if p.InviterChatID == 0 {
		return
	}
	verb := "declined"
	if action == enums.VerificationConfirm {
		verb = "confirmed"
	}
	text := fmt.Sprintf("@%s %s your invitation to %s.", p.Identity, verb, p.Address)
	if _, err := s.messenger.Send(ctx, p.InviterChatID, text); err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithChatID(ctx, p.InviterChatID), "failed to notify inviter")
	}
}

func promptText(p Pending) string {
	return fmt.Sprintf("%s is adding you to the household at %s. Do you confirm?", p.InviterName, p.Address)
}

func promptButtons(identity string) []types.Button {
	return []types.Button{
		{Text: "✅ Confirm", Data: CallbackData(enums.VerificationConfirm, identity)},
		{Text: "❌ Decline", Data: CallbackData(enums.VerificationDecline, identity)},
	}
}

func inviterName(who types.Identity) string {
	if handle := who.Handle(); handle != "" {
		return "@" + handle
	}
	if who.FirstName != "" {
		return who.FirstName
	}
	return "A household member"
}

// splitList turns "@a, @b c;d" into normalized, de-duplicated usernames.
func splitList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\t'
	})
	seen := make(map[string]struct{}, len(fields))
	var out []string
	for _, f := range fields {
		name := types.NormalizeUsername(f)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func handles(identities []string) string {
	out := make([]string, len(identities))
	for i, id := range identities {
		out[i] = "@" + id
	}
	return strings.Join(out, ", ")
}
