package points

import (
	"context"
	"fmt"

	"github.com/bottlepoint/waterbot/internal/store"
	"github.com/bottlepoint/waterbot/pkg/db/models"
	pkgerrors "github.com/bottlepoint/waterbot/pkg/errors"
	"gorm.io/gorm"
)

// Repository reads collection points. Stock levels are written only by the ledger.
type Repository struct {
	store.Base
}

func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{Base: store.NewBase(conn)}
}

func (r *Repository) FindByID(ctx context.Context, id int64) (*models.CollectionPoint, error) {
	point, err := store.FetchOne[models.CollectionPoint](ctx, r.DB(ctx), store.Where{"point_id": id})
	if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, fmt.Sprintf("Collection point %d not found.", id))
	}
	return point, err
}

func (r *Repository) List(ctx context.Context) ([]models.CollectionPoint, error) {
	return store.FetchAll[models.CollectionPoint](ctx, r.DB(ctx), nil)
}
