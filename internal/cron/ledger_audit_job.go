package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/bottlepoint/waterbot/internal/ledger"
	"github.com/bottlepoint/waterbot/pkg/logger"
	"github.com/bottlepoint/waterbot/pkg/metrics"
)

const ledgerAuditJobName = "ledger-audit"

type LedgerAuditJobParams struct {
	Logger  *logger.Logger
	Ledger  ledger.Service
	Repo    ledger.Repository
	Metrics *metrics.LedgerMetrics
}

// NewLedgerAuditJob replays every household and point journal and reports
// accounts whose stored balance disagrees with it.
func NewLedgerAuditJob(params LedgerAuditJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil || params.Repo == nil {
		return nil, fmt.Errorf("ledger service and repository required")
	}
	return &ledgerAuditJob{
		logg:    params.Logger,
		ledger:  params.Ledger,
		repo:    params.Repo,
		metrics: params.Metrics,
	}, nil
}

type ledgerAuditJob struct {
	logg    *logger.Logger
	ledger  ledger.Service
	repo    ledger.Repository
	metrics *metrics.LedgerMetrics
}

func (j *ledgerAuditJob) Name() string { return ledgerAuditJobName }

func (j *ledgerAuditJob) Run(ctx context.Context) error {
	var errs error
	for _, kind := range []ledger.AccountKind{ledger.AccountHousehold, ledger.AccountPoint} {
		mismatches, err := ledger.Audit(ctx, j.ledger, j.repo, kind)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("audit %s accounts: %w", kind, err))
		}
		for _, m := range mismatches {
			j.metrics.IncMismatch(string(kind))
			j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
				"account":  m.Account.String(),
				"stored":   m.Stored,
				"replayed": m.Replayed,
			}), "ledger balance disagrees with journal")
			errs = multierr.Append(errs, fmt.Errorf("%s: stored %d, journal %d", m.Account, m.Stored, m.Replayed))
		}
	}
	return errs
}
