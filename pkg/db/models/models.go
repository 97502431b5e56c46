package models

// All lists every persisted model, in dependency order. Tests and sqlite dev
// runs build their schema from it; postgres schema comes from migrations.
func All() []any {
	return []any{
		&Household{},
		&CollectionPoint{},
		&Employee{},
		&User{},
		&Transaction{},
		&EmployeeMonthlyWork{},
		&ChatAccount{},
	}
}
