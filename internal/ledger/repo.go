package ledger

import (
	"context"
	"time"

	"github.com/bottlepoint/waterbot/internal/store"
	"github.com/bottlepoint/waterbot/pkg/db"
	"github.com/bottlepoint/waterbot/pkg/db/models"
	"github.com/bottlepoint/waterbot/pkg/enums"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the only code path that writes balances or the journal.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockHousehold(ctx context.Context, id int64) (*models.Household, error)
	LockPoint(ctx context.Context, id int64) (*models.CollectionPoint, error)
	FindEmployee(ctx context.Context, id int64) (*models.Employee, error)
	CreateHousehold(ctx context.Context, household *models.Household) error
	CreatePoint(ctx context.Context, point *models.CollectionPoint) error
	DebitHousehold(ctx context.Context, id int64, amount int) (int64, error)
	CreditPoint(ctx context.Context, id int64, amount int) (int64, error)
	AppendTransaction(ctx context.Context, tx *models.Transaction) error
	AddMonthlyWork(ctx context.Context, employeeID int64, month time.Time, amount int) (int, error)
	SumByKind(ctx context.Context, account Account) (map[enums.TransactionKind]int, error)
	CurrentBalance(ctx context.Context, account Account) (int, error)
	AccountIDs(ctx context.Context, kind AccountKind) ([]int64, error)
	ListTransactions(ctx context.Context, account Account, limit int) ([]models.Transaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) LockHousehold(ctx context.Context, id int64) (*models.Household, error) {
	var household models.Household
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).Take(&household).Error; err != nil {
		return nil, db.Classify(err, "lock household")
	}
	return &household, nil
}

func (r *repository) LockPoint(ctx context.Context, id int64) (*models.CollectionPoint, error) {
	var point models.CollectionPoint
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("point_id = ?", id).Take(&point).Error; err != nil {
		return nil, db.Classify(err, "lock collection point")
	}
	return &point, nil
}

func (r *repository) FindEmployee(ctx context.Context, id int64) (*models.Employee, error) {
	return store.FetchOne[models.Employee](ctx, r.db, store.Where{"employee_id": id})
}

func (r *repository) CreateHousehold(ctx context.Context, household *models.Household) error {
	return store.Insert(ctx, r.db, household)
}

func (r *repository) CreatePoint(ctx context.Context, point *models.CollectionPoint) error {
	return store.Insert(ctx, r.db, point)
}

// DebitHousehold subtracts amount only while the balance covers it. Zero rows
// affected means the balance moved underneath the caller.
func (r *repository) DebitHousehold(ctx context.Context, id int64, amount int) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Household{}).
		Where("id = ? AND bottle_balance >= ?", id, amount).
		UpdateColumn("bottle_balance", gorm.Expr("bottle_balance - ?", amount))
	if res.Error != nil {
		return 0, db.Classify(res.Error, "debit household")
	}
	return res.RowsAffected, nil
}

func (r *repository) CreditPoint(ctx context.Context, id int64, amount int) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CollectionPoint{}).
		Where("point_id = ?", id).
		UpdateColumn("bottle_amount", gorm.Expr("bottle_amount + ?", amount))
	if res.Error != nil {
		return 0, db.Classify(res.Error, "credit collection point")
	}
	return res.RowsAffected, nil
}

func (r *repository) AppendTransaction(ctx context.Context, entry *models.Transaction) error {
	return store.Insert(ctx, r.db, entry)
}

// AddMonthlyWork upserts the employee's tally for month and returns the new total.
func (r *repository) AddMonthlyWork(ctx context.Context, employeeID int64, month time.Time, amount int) (int, error) {
	row := models.EmployeeMonthlyWork{EmployeeID: employeeID, MonthYear: month, BottlesPerMonth: amount}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "employee_id"}, {Name: "month_year"}},
		DoUpdates: clause.Assignments(map[string]any{
			"bottles_per_month": gorm.Expr("employee_monthly_work.bottles_per_month + ?", amount),
		}),
	}).Create(&row).Error
	if err != nil {
		return 0, db.Classify(err, "upsert monthly work")
	}
	current, err := store.FetchOne[models.EmployeeMonthlyWork](ctx, r.db, store.Where{"employee_id": employeeID, "month_year": month})
	if err != nil {
		return 0, err
	}
	return current.BottlesPerMonth, nil
}

func (r *repository) SumByKind(ctx context.Context, account Account) (map[enums.TransactionKind]int, error) {
	var rows []struct {
		Kind  enums.TransactionKind
		Total int
	}
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Select("kind, COALESCE(SUM(bottles_charged), 0) AS total").
		Where(account.column()+" = ?", account.ID).
		Group("kind").
		Scan(&rows).Error
	if err != nil {
		return nil, db.Classify(err, "sum journal")
	}
	sums := make(map[enums.TransactionKind]int, len(rows))
	for _, row := range rows {
		sums[row.Kind] = row.Total
	}
	return sums, nil
}

func (r *repository) CurrentBalance(ctx context.Context, account Account) (int, error) {
	switch account.Kind {
	case AccountPoint:
		point, err := store.FetchOne[models.CollectionPoint](ctx, r.db, store.Where{"point_id": account.ID})
		if err != nil {
			return 0, err
		}
		return point.BottleAmount, nil
	default:
		household, err := store.FetchOne[models.Household](ctx, r.db, store.Where{"id": account.ID})
		if err != nil {
			return 0, err
		}
		return household.BottleBalance, nil
	}
}

func (r *repository) AccountIDs(ctx context.Context, kind AccountKind) ([]int64, error) {
	if kind == AccountPoint {
		return store.FetchColumn[int64, models.CollectionPoint](ctx, r.db, "point_id", nil)
	}
	return store.FetchColumn[int64, models.Household](ctx, r.db, "id", nil)
}

func (r *repository) ListTransactions(ctx context.Context, account Account, limit int) ([]models.Transaction, error) {
	var entries []models.Transaction
	q := r.db.WithContext(ctx).
		Where(account.column()+" = ?", account.ID).
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, db.Classify(err, "list journal")
	}
	return entries, nil
}
