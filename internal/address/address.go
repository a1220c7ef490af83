// Package address turns loosely formatted phone numbers into canonical
// recipient addresses understood by the messaging session.
package address

import "strings"

const (
	// DefaultCountryCode replaces a leading trunk "0".
	DefaultCountryCode = "62"
	// UserSuffix is the domain suffix of a personal chat address.
	UserSuffix = "@c.us"
	// GroupSuffix is the domain suffix of a group chat address.
	GroupSuffix = "@g.us"
)

// Address is a canonical recipient identifier: digits followed by UserSuffix.
type Address string

func (a Address) String() string { return string(a) }

// User returns the digits without the suffix.
func (a Address) User() string {
	return strings.TrimSuffix(string(a), UserSuffix)
}

// Normalizer rewrites raw input using a configurable country code.
type Normalizer struct {
	CountryCode string
}

var defaultNormalizer = Normalizer{CountryCode: DefaultCountryCode}

// Normalize uses DefaultCountryCode.
func Normalize(raw string) Address {
	return defaultNormalizer.Normalize(raw)
}

// Normalize strips non-digits, rewrites a leading "0" to the country code and
// appends UserSuffix once. It never fails: garbage in yields a canonical but
// meaningless address, which the registration check rejects later.
func (n Normalizer) Normalize(raw string) Address {
	var b strings.Builder
	b.Grow(len(raw) + len(UserSuffix) + len(n.CountryCode))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	cc := n.CountryCode
	if cc == "" {
		cc = DefaultCountryCode
	}
	if strings.HasPrefix(digits, "0") {
		digits = cc + digits[1:]
	}
	if !strings.HasSuffix(digits, UserSuffix) {
		digits += UserSuffix
	}
	return Address(digits)
}
