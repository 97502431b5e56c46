package employees

import (
	"context"

	"github.com/bottlepoint/waterbot/internal/store"
	"github.com/bottlepoint/waterbot/pkg/db/models"
	pkgerrors "github.com/bottlepoint/waterbot/pkg/errors"
	"gorm.io/gorm"
)

// Repository persists employees and reads their monthly work.
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

func (r *Repository) FindByID(ctx context.Context, id int64) (*models.Employee, error) {
	return store.FetchOne[models.Employee](ctx, r.DB(ctx), store.Where{"employee_id": id})
}

// Upsert inserts row or overwrites the existing employee with the same id.
// created reports which of the two happened.
func (r *Repository) Upsert(ctx context.Context, row RosterRow) (created bool, err error) {
	_, err = r.FindByID(ctx, row.EmployeeID)
	switch {
	case err == nil:
		set := map[string]any{
			"name":          row.Name,
			"employed_date": row.EmployedDate,
			"phone_number":  nullable(row.PhoneNumber),
		}
		_, err = store.Update[models.Employee](ctx, r.DB(ctx), set, store.Where{"employee_id": row.EmployeeID})
		return false, err
	case pkgerrors.Is(err, pkgerrors.CodeNotFound):
		employee := &models.Employee{
			ID:           row.EmployeeID,
			Name:         row.Name,
			EmployedDate: row.EmployedDate,
			PhoneNumber:  nullable(row.PhoneNumber),
		}
		return true, store.Insert(ctx, r.DB(ctx), employee)
	default:
		return false, err
	}
}

func (r *Repository) MonthlyWork(ctx context.Context, employeeID int64) ([]models.EmployeeMonthlyWork, error) {
	return store.FetchAll[models.EmployeeMonthlyWork](ctx, r.DB(ctx), store.Where{"employee_id": employeeID})
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
