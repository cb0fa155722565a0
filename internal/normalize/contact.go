// Package normalize canonicalizes raw contact fields into comparable keys.
package normalize

import (
	"strings"

	"github.com/sells-group/leadsync/internal/model"
)

// PhoneRules describes the local numbering plan used for comparison.
type PhoneRules struct {
	CountryCode    string // e.g. "55"
	NationalLength int    // digits in a national number, e.g. 11
	SuffixLength   int    // trailing digits used for loose matching, e.g. 8
}

// DefaultPhoneRules matches Brazilian mobile numbers.
func DefaultPhoneRules() PhoneRules {
	return PhoneRules{CountryCode: "55", NationalLength: 11, SuffixLength: 8}
}

// Email lower-cases and trims an address.
func Email(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Digits strips every non-digit character.
func Digits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Phone returns the stored form of a phone number: digits only. The country
// code is kept.
func Phone(raw string) string {
	return Digits(raw)
}

// ComparablePhone drops the local country code from digits when the
// remaining number is longer than a national number. The stored value is
// never rewritten with this form.
func ComparablePhone(digits string, rules PhoneRules) string {
	if rules.CountryCode == "" || rules.NationalLength <= 0 {
		return digits
	}
	if strings.HasPrefix(digits, rules.CountryCode) && len(digits) > rules.NationalLength {
		return digits[len(rules.CountryCode):]
	}
	return digits
}

// Suffix returns the last n digits, or "" when fewer than n are present.
func Suffix(digits string, n int) string {
	if n <= 0 || len(digits) < n {
		return ""
	}
	return digits[len(digits)-n:]
}

// SplitName splits a full name on its first space. Without a space the whole
// string is the first name.
func SplitName(full string) (first, last string) {
	full = strings.TrimSpace(full)
	first, last, found := strings.Cut(full, " ")
	if !found {
		return full, ""
	}
	return first, strings.TrimSpace(last)
}

// Name trims a single name component.
func Name(raw string) string {
	return strings.TrimSpace(raw)
}

// Contact normalizes a raw contact payload. Explicit first/last names win
// over a combined name field.
func Contact(c model.Contact, rules PhoneRules) model.NormalizedContact {
	phone := Phone(c.Phone)
	search := ComparablePhone(phone, rules)

	first, last := Name(c.FirstName), Name(c.LastName)
	if first == "" && last == "" {
		first, last = SplitName(c.Name)
	}

	return model.NormalizedContact{
		Email:     Email(c.Email),
		Phone:     phone,
		Search:    search,
		Suffix:    Suffix(search, rules.SuffixLength),
		FirstName: first,
		LastName:  last,
	}
}
