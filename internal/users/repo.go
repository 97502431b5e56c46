package users

import (
	"context"

	"github.com/bottlepoint/waterbot/internal/store"
	"github.com/bottlepoint/waterbot/pkg/db/models"
	pkgerrors "github.com/bottlepoint/waterbot/pkg/errors"
	"github.com/bottlepoint/waterbot/pkg/types"
	"gorm.io/gorm"
)

// Repository exposes resident persistence operations.
type Repository struct {
	conn *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{conn: conn}
}

// WithTx returns a copy of the repository bound to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return NewRepository(tx)
}

func (r *Repository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	return store.FetchOne[models.User](ctx, r.conn, store.Where{"id": id})
}

func (r *Repository) FindByChatID(ctx context.Context, chatID int64) (*models.User, error) {
	return store.FetchOne[models.User](ctx, r.conn, store.Where{"chat_id": chatID})
}

func (r *Repository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return store.FetchOne[models.User](ctx, r.conn, store.Where{"username": types.NormalizeUsername(username)})
}

// FindByIdentity resolves a sender by chat id first and username second.
func (r *Repository) FindByIdentity(ctx context.Context, who types.Identity) (*models.User, error) {
	if who.ChatID != 0 {
		user, err := r.FindByChatID(ctx, who.ChatID)
		if err == nil || !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			return user, err
		}
	}
	if handle := who.Handle(); handle != "" {
		return r.FindByUsername(ctx, handle)
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
}

// Create inserts a new user and returns the persisted model.
func (r *Repository) Create(ctx context.Context, dto ProfileDTO) (*models.User, error) {
	user := dto.ToModel()
	if err := store.Insert(ctx, r.conn, user); err != nil {
		return nil, err
	}
	return user, nil
}

// CompleteProfile fills the registration fields of an existing row and binds
// it to the sender's chat. Household and verification are left untouched.
func (r *Repository) CompleteProfile(ctx context.Context, id int64, dto ProfileDTO) error {
	set := map[string]any{
		"iin":   dto.IIN,
		"name":  dto.Name,
		"phone": dto.Phone,
	}
	if dto.Identity.ChatID != 0 {
		set["chat_id"] = dto.Identity.ChatID
	}
	if handle := dto.Identity.Handle(); handle != "" {
		set["username"] = handle
	}
	n, err := store.Update[models.User](ctx, r.conn, set, store.Where{"id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	return nil
}

// UpsertVerifiedMember marks username as a verified member of householdID,
// creating a row holding only the identity when none exists yet.
func (r *Repository) UpsertVerifiedMember(ctx context.Context, username string, chatID int64, householdID int64) (*models.User, error) {
	handle := types.NormalizeUsername(username)
	existing, err := r.FindByUsername(ctx, handle)
	switch {
	case err == nil:
		set := map[string]any{"household_id": householdID, "verified": true}
		if existing.ChatID == nil && chatID != 0 {
			set["chat_id"] = chatID
		}
		if _, err := store.Update[models.User](ctx, r.conn, set, store.Where{"id": existing.ID}); err != nil {
			return nil, err
		}
		return r.FindByID(ctx, existing.ID)
	case pkgerrors.Is(err, pkgerrors.CodeNotFound):
		if chatID != 0 {
			if byChat, chatErr := r.FindByChatID(ctx, chatID); chatErr == nil {
				set := map[string]any{"household_id": householdID, "verified": true, "username": handle}
				if _, err := store.Update[models.User](ctx, r.conn, set, store.Where{"id": byChat.ID}); err != nil {
					return nil, err
				}
				return r.FindByID(ctx, byChat.ID)
			}
		}
		return r.Create(ctx, ProfileDTO{
			Identity:    types.Identity{ChatID: chatID, Username: handle},
			HouseholdID: householdID,
			Verified:    true,
		})
	default:
		return nil, err
	}
}

func (r *Repository) ListByHousehold(ctx context.Context, householdID int64) ([]models.User, error) {
	return store.FetchAll[models.User](ctx, r.conn, store.Where{"household_id": householdID})
}
