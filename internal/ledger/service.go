package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bottlepoint/waterbot/pkg/db/models"
	"github.com/bottlepoint/waterbot/pkg/enums"
	pkgerrors "github.com/bottlepoint/waterbot/pkg/errors"
	"github.com/bottlepoint/waterbot/pkg/metrics"
	"gorm.io/gorm"
)

const (
	opCollect  = "collect"
	opTransfer = "transfer"
	opRefill   = "refill"
	opOpen     = "open"

	defaultMaxAttempts = 3
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service moves bottles between households, collection points and employees.
// Every call is one transaction: either all rows change or none do.
type Service interface {
	OpenHousehold(ctx context.Context, tx *gorm.DB, input OpenAccountInput) (*models.Household, error)
	OpenPoint(ctx context.Context, input OpenAccountInput) (*models.CollectionPoint, error)
	Collect(ctx context.Context, householdID int64, requested int) (*CollectResult, error)
	TransferToPoint(ctx context.Context, householdID, pointID int64, amount int) (*TransferResult, error)
	RefillPoint(ctx context.Context, employeeID, pointID int64, amount int) (*RefillResult, error)
	Balance(ctx context.Context, account Account) (int, error)
	History(ctx context.Context, account Account, limit int) ([]models.Transaction, error)
	Replay(ctx context.Context, account Account) (*ReplayReport, error)
}

// ServiceParams wires the ledger service.
type ServiceParams struct {
	DB             txRunner
	Repo           Repository
	Metrics        *metrics.LedgerMetrics
	DefaultBalance int
	MaxAttempts    int
	Now            func() time.Time
}

type service struct {
	db             txRunner
	repo           Repository
	metrics        *metrics.LedgerMetrics
	defaultBalance int
	maxAttempts    int
	now            func() time.Time
}

// OpenAccountInput describes a new household or collection point.
type OpenAccountInput struct {
	Address   string
	Latitude  *float64
	Longitude *float64
	// Initial overrides the configured opening balance when non-nil.
	Initial *int
}

type CollectResult struct {
	HouseholdID   int64
	Requested     int
	Collected     int
	Balance       int
	TransactionID int64
}

type TransferResult struct {
	HouseholdID      int64
	PointID          int64
	Amount           int
	HouseholdBalance int
	PointBalance     int
	TransactionID    int64
}

type RefillResult struct {
	EmployeeID    int64
	PointID       int64
	Amount        int
	PointBalance  int
	Month         time.Time
	MonthTotal    int
	TransactionID int64
}

// NewService wires a ledger service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.DefaultBalance < 0 {
		return nil, fmt.Errorf("default balance must not be negative")
	}
	if params.MaxAttempts <= 0 {
		params.MaxAttempts = defaultMaxAttempts
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &service{
		db:             params.DB,
		repo:           params.Repo,
		metrics:        params.Metrics,
		defaultBalance: params.DefaultBalance,
		maxAttempts:    params.MaxAttempts,
		now:            params.Now,
	}, nil
}

// OpenHousehold creates a household with the opening balance and journals it.
// When tx is non-nil the work joins the caller's transaction.
func (s *service) OpenHousehold(ctx context.Context, tx *gorm.DB, input OpenAccountInput) (*models.Household, error) {
	address := strings.TrimSpace(input.Address)
	if address == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "address is required")
	}
	opening := s.defaultBalance
	if input.Initial != nil {
		opening = *input.Initial
	}
	if opening < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "opening balance must not be negative")
	}

	var household *models.Household
	open := func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		household = &models.Household{
			Address:       address,
			Latitude:      input.Latitude,
			Longitude:     input.Longitude,
			BottleBalance: opening,
		}
		if err := repo.CreateHousehold(ctx, household); err != nil {
			return err
		}
		balance := opening
		return repo.AppendTransaction(ctx, &models.Transaction{
			Kind:           enums.TransactionKindOpening,
			HouseholdID:    &household.ID,
			BottlesCharged: opening,
			BalanceAfter:   &balance,
		})
	}

	var err error
	if tx != nil {
		err = open(tx)
	} else {
		err = s.db.WithTx(ctx, open)
	}
	s.observe(opOpen, err, 0)
	if err != nil {
		return nil, err
	}
	return household, nil
}

func (s *service) OpenPoint(ctx context.Context, input OpenAccountInput) (*models.CollectionPoint, error) {
	address := strings.TrimSpace(input.Address)
	if address == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "address is required")
	}
	opening := 0
	if input.Initial != nil {
		opening = *input.Initial
	}
	if opening < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "opening amount must not be negative")
	}

	var point *models.CollectionPoint
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		point = &models.CollectionPoint{
			Address:      address,
			Latitude:     input.Latitude,
			Longitude:    input.Longitude,
			BottleAmount: opening,
		}
		if err := repo.CreatePoint(ctx, point); err != nil {
			return err
		}
		amount := opening
		return repo.AppendTransaction(ctx, &models.Transaction{
			Kind:           enums.TransactionKindOpening,
			PointID:        &point.ID,
			BottlesCharged: opening,
			BalanceAfter:   &amount,
		})
	})
	s.observe(opOpen, err, 0)
	if err != nil {
		return nil, err
	}
	return point, nil
}

// Collect takes up to requested bottles from the household. A request larger
// than the balance is capped at the balance; only an empty balance fails.
func (s *service) Collect(ctx context.Context, householdID int64, requested int) (*CollectResult, error) {
	if requested <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Number of bottles must be positive.")
	}

	var result *CollectResult
	err := s.retry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		household, err := repo.LockHousehold(ctx, householdID)
		if err != nil {
			return notFoundAs(err, "Household not found.")
		}
		if household.BottleBalance == 0 {
			return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "Your household has no bottles left.")
		}

		collected := min(requested, household.BottleBalance)
		if err := s.debit(ctx, repo, householdID, collected); err != nil {
			return err
		}
		balance := household.BottleBalance - collected
		entry := &models.Transaction{
			Kind:           enums.TransactionKindCollect,
			HouseholdID:    &householdID,
			BottlesCharged: collected,
			BalanceAfter:   &balance,
		}
		if err := repo.AppendTransaction(ctx, entry); err != nil {
			return err
		}
		result = &CollectResult{
			HouseholdID:   householdID,
			Requested:     requested,
			Collected:     collected,
			Balance:       balance,
			TransactionID: entry.ID,
		}
		return nil
	})
	if err != nil {
		s.observe(opCollect, err, 0)
		return nil, err
	}
	s.observe(opCollect, nil, result.Collected)
	return result, nil
}

// TransferToPoint moves exactly amount bottles or nothing at all.
func (s *service) TransferToPoint(ctx context.Context, householdID, pointID int64, amount int) (*TransferResult, error) {
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Number of bottles must be positive.")
	}

	var result *TransferResult
	err := s.retry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		// households are always locked before points
		household, err := repo.LockHousehold(ctx, householdID)
		if err != nil {
			return notFoundAs(err, "Household not found.")
		}
		point, err := repo.LockPoint(ctx, pointID)
		if err != nil {
			return notFoundAs(err, fmt.Sprintf("Collection point %d not found.", pointID))
		}
		if household.BottleBalance < amount {
			return pkgerrors.New(pkgerrors.CodeInsufficientBalance,
				fmt.Sprintf("Your household has %d bottles, cannot transfer %d.", household.BottleBalance, amount)).
				WithDetails(map[string]any{"balance": household.BottleBalance, "requested": amount})
		}

		if err := s.debit(ctx, repo, householdID, amount); err != nil {
			return err
		}
		if err := s.credit(ctx, repo, pointID, amount); err != nil {
			return err
		}
		householdBalance := household.BottleBalance - amount
		entry := &models.Transaction{
			Kind:           enums.TransactionKindTransfer,
			HouseholdID:    &householdID,
			PointID:        &pointID,
			BottlesCharged: amount,
			BalanceAfter:   &householdBalance,
		}
		if err := repo.AppendTransaction(ctx, entry); err != nil {
			return err
		}
		result = &TransferResult{
			HouseholdID:      householdID,
			PointID:          pointID,
			Amount:           amount,
			HouseholdBalance: householdBalance,
			PointBalance:     point.BottleAmount + amount,
			TransactionID:    entry.ID,
		}
		return nil
	})
	if err != nil {
		s.observe(opTransfer, err, 0)
		return nil, err
	}
	s.observe(opTransfer, nil, amount)
	return result, nil
}

// RefillPoint records an employee topping up a collection point and credits
// the employee's tally for the current month.
func (s *service) RefillPoint(ctx context.Context, employeeID, pointID int64, amount int) (*RefillResult, error) {
	if amount <= 0 {
		err := pkgerrors.New(pkgerrors.CodeRefillRejected, "Amount must be a positive number.")
		s.observe(opRefill, err, 0)
		return nil, err
	}

	month := monthStart(s.now())
	var result *RefillResult
	err := s.retry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindEmployee(ctx, employeeID); err != nil {
			if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeRefillRejected, err, "You are not registered as an employee.")
			}
			return err
		}
		point, err := repo.LockPoint(ctx, pointID)
		if err != nil {
			return notFoundAs(err, fmt.Sprintf("Collection point %d not found.", pointID))
		}
		if err := s.credit(ctx, repo, pointID, amount); err != nil {
			return err
		}
		total, err := repo.AddMonthlyWork(ctx, employeeID, month, amount)
		if err != nil {
			return err
		}
		pointBalance := point.BottleAmount + amount
		entry := &models.Transaction{
			Kind:           enums.TransactionKindRefill,
			PointID:        &pointID,
			EmployeeID:     &employeeID,
			BottlesCharged: amount,
			BalanceAfter:   &pointBalance,
		}
		if err := repo.AppendTransaction(ctx, entry); err != nil {
			return err
		}
		result = &RefillResult{
			EmployeeID:    employeeID,
			PointID:       pointID,
			Amount:        amount,
			PointBalance:  pointBalance,
			Month:         month,
			MonthTotal:    total,
			TransactionID: entry.ID,
		}
		return nil
	})
	if err != nil {
		s.observe(opRefill, err, 0)
		return nil, err
	}
	s.observe(opRefill, nil, amount)
	return result, nil
}

func (s *service) Balance(ctx context.Context, account Account) (int, error) {
	balance, err := s.repo.CurrentBalance(ctx, account)
	if err != nil {
		return 0, notFoundAs(err, fmt.Sprintf("%s %d not found", account.Kind, account.ID))
	}
	return balance, nil
}

func (s *service) History(ctx context.Context, account Account, limit int) ([]models.Transaction, error) {
	return s.repo.ListTransactions(ctx, account, limit)
}

func (s *service) debit(ctx context.Context, repo Repository, householdID int64, amount int) error {
	affected, err := repo.DebitHousehold(ctx, householdID, amount)
	if err != nil {
		return err
	}
	if affected != 1 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "household balance changed concurrently")
	}
	return nil
}

func (s *service) credit(ctx context.Context, repo Repository, pointID int64, amount int) error {
	affected, err := repo.CreditPoint(ctx, pointID, amount)
	if err != nil {
		return err
	}
	if affected != 1 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "collection point changed concurrently")
	}
	return nil
}

// retry reruns fn in a fresh transaction while it fails with STATE_CONFLICT.
func (s *service) retry(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err = s.db.WithTx(ctx, fn)
		if !pkgerrors.Is(err, pkgerrors.CodeStateConflict) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeStorage, ctxErr, "ledger operation cancelled")
		}
	}
	return err
}

func (s *service) observe(op string, err error, bottles int) {
	if err == nil {
		s.metrics.Observe(op, "ok", bottles)
		return
	}
	s.metrics.Observe(op, string(pkgerrors.CodeOf(err)), 0)
}

func notFoundAs(err error, message string) error {
	if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, message)
	}
	return err
}

func monthStart(t time.Time) time.Time {
	utc := t.UTC()
	return time.Date(utc.Year(), utc.Month(), 1, 0, 0, 0, 0, time.UTC)
}
