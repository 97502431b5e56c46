// Package registration walks a new resident from address to phone number and
// commits the profile, and the household when needed, in one transaction.
package registration

import (
	"context"
	"fmt"

	"github.com/bottlepoint/waterbot/internal/households"
	"github.com/bottlepoint/waterbot/internal/ledger"
	"github.com/bottlepoint/waterbot/internal/session"
	"github.com/bottlepoint/waterbot/internal/users"
	"github.com/bottlepoint/waterbot/pkg/db"
	"github.com/bottlepoint/waterbot/pkg/db/models"
	"github.com/bottlepoint/waterbot/pkg/enums"
	pkgerrors "github.com/bottlepoint/waterbot/pkg/errors"
	"github.com/bottlepoint/waterbot/pkg/logger"
	"github.com/bottlepoint/waterbot/pkg/maps"
	"github.com/bottlepoint/waterbot/pkg/types"
	"gorm.io/gorm"
)

const (
	msgAlreadyRegistered = "✅ You are already registered! Want to /invite your neighbours?"
	msgWelcome           = "Welcome! Please enter your Address to start your Registration:"
	msgInvited           = "Invitation was approved. Please enter your IIN to start registration:"
	msgAskIIN            = "Please enter your IIN (12 digits):"
	msgAskName           = "Enter your full name:"
	msgAskPhone          = "Enter your Phone Number:"
	msgCancelled         = "Registration cancelled. Send /register to start again."
	msgInviteExpired     = "This invitation link is no longer valid. Ask your household member for a new one."
	msgDuplicateIIN      = "This IIN is already registered. Please check it and enter your IIN again:"
	msgDuplicatePhone    = "This phone number is already registered. Please enter a different phone number:"
	msgAddressRace       = "Your household was just created by someone else. Please send your phone number again."
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Geocoder resolves the address a resident typed to a canonical one.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*maps.GeocodeResult, error)
}

// Service drives the registration dialog for one chat at a time.
type Service interface {
	Start(ctx context.Context, who types.Identity) (*Reply, error)
	StartInvited(ctx context.Context, who types.Identity, householdID int64) (*Reply, error)
	Advance(ctx context.Context, who types.Identity, sess *session.Session, text string) (*Reply, error)
	Cancel(ctx context.Context, chatID int64) (*Reply, error)
}

type ServiceParams struct {
	DB         txRunner
	Sessions   session.Store
	Users      *users.Repository
	Households *households.Repository
	Ledger     ledger.Service
	Geocoder   Geocoder
	Logger     *logger.Logger
}

// Reply is what the bot should answer after a registration step.
type Reply struct {
	Text  string
	State enums.ConversationState
	// User and Household are set once the profile is committed.
	User      *models.User
	Household *models.Household
}

type service struct {
	db         txRunner
	sessions   session.Store
	users      *users.Repository
	households *households.Repository
	ledger     ledger.Service
	geocoder   Geocoder
	logg       *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.DB == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Sessions == nil:
		return nil, fmt.Errorf("session store required")
	case params.Users == nil || params.Households == nil:
		return nil, fmt.Errorf("user and household repositories required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	}
	return &service{
		db:         params.DB,
		sessions:   params.Sessions,
		users:      params.Users,
		households: params.Households,
		ledger:     params.Ledger,
		geocoder:   params.Geocoder,
		logg:       params.Logger,
	}, nil
}

// Start begins registration. A sender already added to a household by a
// confirmed invitation skips straight to the IIN.
func (s *service) Start(ctx context.Context, who types.Identity) (*Reply, error) {
	existing, err := s.users.FindByIdentity(ctx, who)
	switch {
	case err == nil && existing.HasProfile():
		return &Reply{Text: msgAlreadyRegistered, State: enums.StateCompleted}, nil
	case err == nil && existing.HouseholdID != nil:
		return s.begin(ctx, who, enums.StateInvitedAwaitingNationalID, session.Data{HouseholdID: *existing.HouseholdID, Invited: true}, msgInvited)
	case err != nil && !pkgerrors.Is(err, pkgerrors.CodeNotFound):
		return nil, err
	}
	return s.begin(ctx, who, enums.StateAwaitingAddress, session.Data{}, msgWelcome)
}

// StartInvited begins registration from an invite link for householdID.
func (s *service) StartInvited(ctx context.Context, who types.Identity, householdID int64) (*Reply, error) {
	existing, err := s.users.FindByIdentity(ctx, who)
	if err == nil && existing.HasProfile() {
		return &Reply{Text: msgAlreadyRegistered, State: enums.StateCompleted}, nil
	}
	if err != nil && !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		return nil, err
	}
	if _, err := s.households.FindByID(ctx, householdID); err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, msgInviteExpired)
		}
		return nil, err
	}
	return s.begin(ctx, who, enums.StateInvitedAwaitingNationalID, session.Data{HouseholdID: householdID, Invited: true}, msgInvited)
}

func (s *service) begin(ctx context.Context, who types.Identity, state enums.ConversationState, data session.Data, text string) (*Reply, error) {
	sess := &session.Session{ChatID: who.ChatID, State: state, Data: data}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	return &Reply{Text: text, State: state}, nil
}

// Advance feeds one text message into the dialog. Invalid input leaves the
// session untouched and re-prompts.
func (s *service) Advance(ctx context.Context, who types.Identity, sess *session.Session, text string) (*Reply, error) {
	if sess == nil || !sess.State.IsRegistration() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "No registration in progress. Send /register to start.")
	}

	switch sess.State {
	case enums.StateAwaitingAddress:
		address, err := validateAddress(text)
		if err != nil {
			return nil, reprompt(err, msgWelcome)
		}
		sess.Data.Address = address
		return s.step(ctx, sess, enums.StateAwaitingNationalID, msgAskIIN)

	case enums.StateAwaitingNationalID, enums.StateInvitedAwaitingNationalID:
		iin, err := validateIIN(text)
		if err != nil {
			return nil, reprompt(err, msgAskIIN)
		}
		sess.Data.IIN = iin
		return s.step(ctx, sess, enums.StateAwaitingName, msgAskName)

	case enums.StateAwaitingName:
		name, err := validateName(text)
		if err != nil {
			return nil, reprompt(err, msgAskName)
		}
		sess.Data.Name = name
		return s.step(ctx, sess, enums.StateAwaitingPhone, msgAskPhone)

	case enums.StateAwaitingPhone:
		phone, err := validatePhone(text)
		if err != nil {
			return nil, reprompt(err, msgAskPhone)
		}
		sess.Data.Phone = phone
		return s.complete(ctx, who, sess)
	}
	return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "No registration in progress. Send /register to start.")
}

// Cancel drops the chat's session. Nothing in the ledger changes.
func (s *service) Cancel(ctx context.Context, chatID int64) (*Reply, error) {
	if err := s.sessions.Delete(ctx, chatID); err != nil {
		return nil, err
	}
	return &Reply{Text: msgCancelled}, nil
}

func (s *service) step(ctx context.Context, sess *session.Session, next enums.ConversationState, prompt string) (*Reply, error) {
	sess.State = next
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	return &Reply{Text: prompt, State: next}, nil
}

func (s *service) complete(ctx context.Context, who types.Identity, sess *session.Session) (*Reply, error) {
	if !sess.Data.Invited {
		if err := s.resolveAddress(ctx, sess); err != nil {
			return nil, err
		}
	}

	var (
		user      *models.User
		household *models.Household
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var created bool
		var err error
		if sess.Data.Invited {
			household, err = s.households.WithTx(tx).FindByID(ctx, sess.Data.HouseholdID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, msgInviteExpired)
			}
		} else {
			household, created, err = s.findOrOpenHousehold(ctx, tx, sess.Data)
			if err != nil {
				return err
			}
		}
		user, err = s.saveProfile(ctx, tx, who, sess.Data, household.ID, created)
		return err
	})
	if err != nil {
		return nil, s.rewindOnConflict(ctx, sess, err)
	}

	if err := s.sessions.Delete(ctx, sess.ChatID); err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithChatID(ctx, sess.ChatID), "failed to drop completed registration session")
	}
	if s.logg != nil {
		logCtx := s.logg.WithHouseholdID(s.logg.WithChatID(ctx, sess.ChatID), household.ID)
		s.logg.Info(logCtx, "registration completed")
	}
	return &Reply{
		Text:      completionText(user, household),
		State:     enums.StateCompleted,
		User:      user,
		Household: household,
	}, nil
}

func (s *service) resolveAddress(ctx context.Context, sess *session.Session) error {
	if s.geocoder == nil {
		return nil
	}
	result, err := s.geocoder.Geocode(ctx, sess.Data.Address)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeValidation) {
			sess.State = enums.StateAwaitingAddress
			sess.Data.Address = ""
			if saveErr := s.sessions.Save(ctx, sess); saveErr != nil {
				return saveErr
			}
			return err
		}
		if saveErr := s.sessions.Save(ctx, sess); saveErr != nil {
			return saveErr
		}
		return err
	}
	if result.FormattedAddress != "" {
		sess.Data.Address = result.FormattedAddress
	}
	lat, lng := result.Location.Latitude, result.Location.Longitude
	sess.Data.Latitude = &lat
	sess.Data.Longitude = &lng
	return nil
}

func (s *service) findOrOpenHousehold(ctx context.Context, tx *gorm.DB, data session.Data) (*models.Household, bool, error) {
	household, err := s.households.WithTx(tx).FindByAddress(ctx, data.Address)
	if err == nil {
		return household, false, nil
	}
	if !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		return nil, false, err
	}
	household, err = s.ledger.OpenHousehold(ctx, tx, ledger.OpenAccountInput{
		Address:   data.Address,
		Latitude:  data.Latitude,
		Longitude: data.Longitude,
	})
	if err != nil {
		return nil, false, err
	}
	return household, true, nil
}

// saveProfile fills in a row left by a confirmed invitation or creates a new
// one. Only the resident who created the household is verified here.
func (s *service) saveProfile(ctx context.Context, tx *gorm.DB, who types.Identity, data session.Data, householdID int64, firstMember bool) (*models.User, error) {
	repo := s.users.WithTx(tx)
	dto := users.ProfileDTO{
		Identity:    who,
		IIN:         data.IIN,
		Name:        data.Name,
		Phone:       data.Phone,
		HouseholdID: householdID,
		Verified:    firstMember,
	}

	existing, err := repo.FindByIdentity(ctx, who)
	switch {
	case err == nil && existing.HasProfile():
		return nil, pkgerrors.New(pkgerrors.CodeConflict, msgAlreadyRegistered).WithDetails(map[string]string{"field": "chat_id"})
	case err == nil:
		if err := repo.CompleteProfile(ctx, existing.ID, dto); err != nil {
			return nil, err
		}
		return repo.FindByID(ctx, existing.ID)
	case pkgerrors.Is(err, pkgerrors.CodeNotFound):
		return repo.Create(ctx, dto)
	default:
		return nil, err
	}
}

// rewindOnConflict maps a failed commit back onto the session so the resident can
// correct the offending field and resubmit.
func (s *service) rewindOnConflict(ctx context.Context, sess *session.Session, err error) error {
	if !pkgerrors.Is(err, pkgerrors.CodeConflict) {
		return err
	}
	var (
		next    enums.ConversationState
		message string
	)
	switch db.UniqueViolationColumn(err, "iin", "phone", "chat_id", "username", "address") {
	case "iin":
		next, message = enums.StateAwaitingNationalID, msgDuplicateIIN
		if sess.Data.Invited {
			next = enums.StateInvitedAwaitingNationalID
		}
		sess.Data.IIN = ""
	case "phone":
		next, message = enums.StateAwaitingPhone, msgDuplicatePhone
		sess.Data.Phone = ""
	case "address":
		next, message = enums.StateAwaitingPhone, msgAddressRace
		return s.rewind(ctx, sess, next, pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, message))
	default:
		if delErr := s.sessions.Delete(ctx, sess.ChatID); delErr != nil {
			return delErr
		}
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, msgAlreadyRegistered)
	}
	return s.rewind(ctx, sess, next, pkgerrors.Wrap(pkgerrors.CodeConflict, err, message))
}

func (s *service) rewind(ctx context.Context, sess *session.Session, next enums.ConversationState, err *pkgerrors.Error) error {
	sess.State = next
	if saveErr := s.sessions.Save(ctx, sess); saveErr != nil {
		return saveErr
	}
	return err
}

func reprompt(err error, prompt string) error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("❌ %s. %s", pkgerrors.As(err).Message(), prompt))
}

func completionText(user *models.User, household *models.Household) string {
	text := fmt.Sprintf("✅ Registration successful!\nHousehold: %s\nBottle balance: %d", household.Address, household.BottleBalance)
	if !user.Verified {
		text += "\n\nYour membership is not confirmed yet. Ask a household member to /invite you."
	}
	return text
}
