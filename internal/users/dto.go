package users

import (
	"github.com/bottlepoint/waterbot/pkg/db/models"
	"github.com/bottlepoint/waterbot/pkg/types"
)

// ProfileDTO carries the fields a resident fills in during registration.
type ProfileDTO struct {
	Identity    types.Identity
	IIN         string
	Name        string
	Phone       string
	HouseholdID int64
	Verified    bool
}

// ToModel builds a new user row from the profile.
func (p ProfileDTO) ToModel() *models.User {
	user := &models.User{
		IIN:      strPtr(p.IIN),
		Name:     strPtr(p.Name),
		Phone:    strPtr(p.Phone),
		Verified: p.Verified,
	}
	if p.Identity.ChatID != 0 {
		chatID := p.Identity.ChatID
		user.ChatID = &chatID
	}
	user.Username = strPtr(p.Identity.Handle())
	if p.HouseholdID != 0 {
		householdID := p.HouseholdID
		user.HouseholdID = &householdID
	}
	return user
}

func strPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
