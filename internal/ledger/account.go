package ledger

import "fmt"

// AccountKind distinguishes the two kinds of balance holders.
type AccountKind string

const (
	AccountHousehold AccountKind = "household"
	AccountPoint     AccountKind = "point"
)

// Account addresses one balance holder.
type Account struct {
	Kind AccountKind
	ID   int64
}

func HouseholdAccount(id int64) Account { return Account{Kind: AccountHousehold, ID: id} }

func PointAccount(id int64) Account { return Account{Kind: AccountPoint, ID: id} }

func (a Account) String() string {
	return fmt.Sprintf("%s:%d", a.Kind, a.ID)
}

func (a Account) column() string {
	if a.Kind == AccountPoint {
		return "point_id"
	}
	return "household_id"
}
