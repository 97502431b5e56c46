package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bottlepoint/waterbot/internal/ledger"
	"github.com/bottlepoint/waterbot/internal/testutil"
	"github.com/bottlepoint/waterbot/pkg/db/models"
	"github.com/bottlepoint/waterbot/pkg/metrics"
)

type fakeExpirer struct {
	batches []int
	err     error
	limits  []int
}

func (f *fakeExpirer) ExpireStale(_ context.Context, limit int) (int, error) {
	f.limits = append(f.limits, limit)
	if len(f.batches) == 0 {
		return 0, f.err
	}
	n := f.batches[0]
	f.batches = f.batches[1:]
	return n, nil
}

func TestVerificationExpiryDrainsBacklog(t *testing.T) {
	expirer := &fakeExpirer{batches: []int{10, 10, 3}}
	job, err := NewVerificationExpiryJob(VerificationExpiryJobParams{Logger: quietLogger(), Invitations: expirer, BatchSize: 10})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []int{10, 10, 10}, expirer.limits)
	assert.Equal(t, "verification-expiry", job.Name())
}

func TestVerificationExpiryReportsErrors(t *testing.T) {
	expirer := &fakeExpirer{err: errors.New("redis down")}
	job, err := NewVerificationExpiryJob(VerificationExpiryJobParams{Logger: quietLogger(), Invitations: expirer})
	require.NoError(t, err)
	assert.EqualError(t, job.Run(context.Background()), "redis down")
}

func TestLedgerAuditFlagsTamperedBalances(t *testing.T) {
	client, conn := testutil.NewClient(t)
	ctx := context.Background()
	repo := ledger.NewRepository(conn)
	svc, err := ledger.NewService(ledger.ServiceParams{DB: client, Repo: repo, DefaultBalance: 5})
	require.NoError(t, err)

	household, err := svc.OpenHousehold(ctx, nil, ledger.OpenAccountInput{Address: "123 Elm St"})
	require.NoError(t, err)
	point, err := svc.OpenPoint(ctx, ledger.OpenAccountInput{Address: "Point A"})
	require.NoError(t, err)
	_, err = svc.TransferToPoint(ctx, household.ID, point.ID, 2)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	job, err := NewLedgerAuditJob(LedgerAuditJobParams{
		Logger:  quietLogger(),
		Ledger:  svc,
		Repo:    repo,
		Metrics: metrics.NewLedgerMetrics(reg),
	})
	require.NoError(t, err)
	require.NoError(t, job.Run(ctx))

	require.NoError(t, conn.Model(&models.Household{}).Where("id = ?", household.ID).Update("bottle_balance", 9).Error)
	err = job.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stored 9, journal 3")

	families, err := reg.Gather()
	require.NoError(t, err)
	var mismatches float64
	for _, f := range families {
		if f.GetName() == "waterbot_ledger_audit_mismatches_total" {
			mismatches = f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), mismatches)
}
