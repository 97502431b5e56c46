package employees

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/bottlepoint/waterbot/pkg/logger"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service imports employee rosters uploaded by an administrator.
type Service interface {
	Import(ctx context.Context, r io.Reader, filename string) (*ImportReport, error)
}

type ServiceParams struct {
	DB      txRunner
	Repo    *Repository
	Logger  *logger.Logger
	MaxRows int
}

// ImportReport has one line per roster row, in file order.
type ImportReport struct {
	Lines   []string
	Added   int
	Updated int
	Failed  int
}

func (r *ImportReport) String() string {
	return strings.Join(r.Lines, "\n")
}

type service struct {
	db      txRunner
	repo    *Repository
	logg    *logger.Logger
	maxRows int
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("employee repository required")
	}
	return &service{db: params.DB, repo: params.Repo, logg: params.Logger, maxRows: params.MaxRows}, nil
}

// Import parses the roster and upserts each row in its own transaction, so
// one bad row does not undo the others. The returned error combines the
// per-row failures; the report is always populated when parsing succeeded.
func (s *service) Import(ctx context.Context, r io.Reader, filename string) (*ImportReport, error) {
	rows, err := ParseRoster(r, filename, s.maxRows)
	if err != nil {
		return nil, err
	}

	report := &ImportReport{}
	var errs error
	for _, row := range rows {
		var created bool
		err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			created, err = s.repo.WithTx(tx).Upsert(ctx, row)
			return err
		})
		switch {
		case err != nil:
			report.Failed++
			report.Lines = append(report.Lines, fmt.Sprintf("❌ Row %d: could not save employee %s", row.Line, row.Name))
			errs = multierr.Append(errs, fmt.Errorf("row %d: %w", row.Line, err))
		case created:
			report.Added++
			report.Lines = append(report.Lines, fmt.Sprintf("✅ Added new employee: %s", row.Name))
		default:
			report.Updated++
			report.Lines = append(report.Lines, fmt.Sprintf("🔄 Updated existing employee: %s", row.Name))
		}
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"file":    filename,
			"added":   report.Added,
			"updated": report.Updated,
			"failed":  report.Failed,
		})
		s.logg.Info(logCtx, "roster imported")
	}
	return report, errs
}
