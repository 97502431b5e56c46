package registration

import (
	"strings"

	"github.com/bottlepoint/waterbot/pkg/validators"
)

type addressInput struct {
	Address string `label:"Address" validate:"required,min=3,max=256"`
}

type iinInput struct {
	IIN string `label:"IIN" validate:"required,len=12,number"`
}

type nameInput struct {
	Name string `label:"Name" validate:"required,min=2,max=128"`
}

type phoneInput struct {
	Phone string `label:"Phone number" validate:"required,e164"`
}

// NormalizePhone strips separators, maps a national leading 8 to +7 and
// ensures a leading plus.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && b.Len() == 0:
			b.WriteRune(r)
		case r == ' ', r == '-', r == '(', r == ')', r == '.':
		default:
			// keep unexpected characters so validation rejects them
			b.WriteRune(r)
		}
	}
	phone := b.String()
	if phone == "" {
		return ""
	}
	if strings.HasPrefix(phone, "8") && len(phone) == 11 {
		phone = "7" + phone[1:]
	}
	if !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}
	return phone
}

func validateAddress(raw string) (string, error) {
	in := addressInput{Address: strings.Join(strings.Fields(raw), " ")}
	return in.Address, validators.Struct(in)
}

func validateIIN(raw string) (string, error) {
	in := iinInput{IIN: strings.TrimSpace(raw)}
	return in.IIN, validators.Struct(in)
}

func validateName(raw string) (string, error) {
	in := nameInput{Name: strings.Join(strings.Fields(raw), " ")}
	return in.Name, validators.Struct(in)
}

func validatePhone(raw string) (string, error) {
	in := phoneInput{Phone: NormalizePhone(raw)}
	return in.Phone, validators.Struct(in)
}
