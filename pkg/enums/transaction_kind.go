package enums

import "fmt"

// TransactionKind maps to the transactions.kind column.
type TransactionKind string

const (
	TransactionKindOpening  TransactionKind = "opening"
	TransactionKindCollect  TransactionKind = "collect"
	TransactionKindTransfer TransactionKind = "transfer"
	TransactionKindRefill   TransactionKind = "refill"
)

var validTransactionKinds = []TransactionKind{
	TransactionKindOpening,
	TransactionKindCollect,
	TransactionKindTransfer,
	TransactionKindRefill,
}

// IsValid reports whether the value matches a journal entry kind.
func (k TransactionKind) IsValid() bool {
	for _, candidate := range validTransactionKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseTransactionKind converts raw input into TransactionKind.
func ParseTransactionKind(value string) (TransactionKind, error) {
	for _, candidate := range validTransactionKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction kind %q", value)
}
