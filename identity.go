package auth

import (
	"net/mail"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is used for phone login keys without a country prefix
const DefaultPhoneRegion = "IN"

// NormalizeLoginKey maps a login identifier to the user column it should
// match: emails are lower cased, phone numbers formatted as E.164.
func NormalizeLoginKey(key, region string) (column, value string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "email", ""
	}

	if strings.Contains(key, "@") {
		if addr, err := mail.ParseAddress(key); err == nil {
			return "email", strings.ToLower(addr.Address)
		}
		return "email", strings.ToLower(key)
	}

	if region == "" {
		region = DefaultPhoneRegion
	}

	if num, err := phonenumbers.Parse(key, region); err == nil && phonenumbers.IsValidNumber(num) {
		return "phone_number", phonenumbers.Format(num, phonenumbers.E164)
	}

	return "email", strings.ToLower(key)
}
