package ledger

import (
	"context"

	"github.com/bottlepoint/waterbot/pkg/enums"
)

// ReplayReport compares a stored balance with the one implied by the journal.
type ReplayReport struct {
	Account  Account
	Stored   int
	Replayed int
}

func (r ReplayReport) Consistent() bool {
	return r.Stored == r.Replayed
}

// Replay recomputes an account balance from its journal rows.
func (s *service) Replay(ctx context.Context, account Account) (*ReplayReport, error) {
	stored, err := s.Balance(ctx, account)
	if err != nil {
		return nil, err
	}
	sums, err := s.repo.SumByKind(ctx, account)
	if err != nil {
		return nil, err
	}
	return &ReplayReport{
		Account:  account,
		Stored:   stored,
		Replayed: replayed(account.Kind, sums),
	}, nil
}

func replayed(kind AccountKind, sums map[enums.TransactionKind]int) int {
	opening := sums[enums.TransactionKindOpening]
	if kind == AccountPoint {
		return opening + sums[enums.TransactionKindTransfer] + sums[enums.TransactionKindRefill]
	}
	return opening - sums[enums.TransactionKindCollect] - sums[enums.TransactionKindTransfer]
}

// Audit replays every account of kind and returns the inconsistent ones.
func Audit(ctx context.Context, svc Service, repo Repository, kind AccountKind) ([]ReplayReport, error) {
	ids, err := repo.AccountIDs(ctx, kind)
	if err != nil {
		return nil, err
	}
	var mismatches []ReplayReport
	for _, id := range ids {
		report, err := svc.Replay(ctx, Account{Kind: kind, ID: id})
		if err != nil {
			return mismatches, err
		}
		if !report.Consistent() {
			mismatches = append(mismatches, *report)
		}
	}
	return mismatches, nil
}
