package households

import (
	"context"
	"strings"

	"github.com/bottlepoint/waterbot/internal/store"
	"github.com/bottlepoint/waterbot/pkg/db"
	"github.com/bottlepoint/waterbot/pkg/db/models"
	pkgerrors "github.com/bottlepoint/waterbot/pkg/errors"
	"gorm.io/gorm"
)

// Repository reads households. Balances are written only by the ledger.
type Repository struct {
	store.Base
}

func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{Base: store.NewBase(conn)}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return NewRepository(tx)
}

func (r *Repository) FindByID(ctx context.Context, id int64) (*models.Household, error) {
	household, err := store.FetchOne[models.Household](ctx, r.DB(ctx), store.Where{"id": id})
	if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "Household not found.")
	}
	return household, err
}

// FindByAddress matches the canonical address exactly.
func (r *Repository) FindByAddress(ctx context.Context, address string) (*models.Household, error) {
	return store.FetchOne[models.Household](ctx, r.DB(ctx), store.Where{"address": strings.TrimSpace(address)})
}

// MemberCount returns how many residents belong to the household.
func (r *Repository) MemberCount(ctx context.Context, id int64) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&models.User{}).Where("household_id = ?", id).Count(&count).Error
	if err != nil {
		return 0, db.Classify(err, "count household members")
	}
	return count, nil
}

func (r *Repository) List(ctx context.Context) ([]models.Household, error) {
	return store.FetchAll[models.Household](ctx, r.DB(ctx), nil)
}
