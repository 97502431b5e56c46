package cron

import (
	"context"
	"fmt"

	"github.com/bottlepoint/waterbot/pkg/logger"
)

const (
	verificationExpiryJobName = "verification-expiry"
	defaultExpiryBatch        = 100
)

type invitationExpirer interface {
	ExpireStale(ctx context.Context, limit int) (int, error)
}

type VerificationExpiryJobParams struct {
	Logger      *logger.Logger
	Invitations invitationExpirer
	BatchSize   int
}

// NewVerificationExpiryJob drops invitations nobody answered in time and
// marks their prompts as expired.
func NewVerificationExpiryJob(params VerificationExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Invitations == nil {
		return nil, fmt.Errorf("invitation service required")
	}
	if params.BatchSize <= 0 {
		params.BatchSize = defaultExpiryBatch
	}
	return &verificationExpiryJob{logg: params.Logger, invitations: params.Invitations, batch: params.BatchSize}, nil
}

type verificationExpiryJob struct {
	logg        *logger.Logger
	invitations invitationExpirer
	batch       int
}

func (j *verificationExpiryJob) Name() string { return verificationExpiryJobName }

// Run keeps taking batches until one comes back short, so a backlog clears in
// a single cycle.
func (j *verificationExpiryJob) Run(ctx context.Context) error {
	total := 0
	for {
		n, err := j.invitations.ExpireStale(ctx, j.batch)
		total += n
		if err != nil {
			j.logg.Info(j.logg.WithField(ctx, "expired", total), "verification expiry interrupted")
			return err
		}
		if n < j.batch {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if total > 0 {
		j.logg.Info(j.logg.WithField(ctx, "expired", total), "expired pending verifications")
	}
	return nil
}
