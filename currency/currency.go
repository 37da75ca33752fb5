// Package currency provides the closed set of campaign currencies and
// pure FX conversion over externally supplied exchange rates.
package currency

import (
	"fmt"
	"strings"
)

// Code is an ISO 4217 currency code, lowercase. The set is closed:
// extending it is an explicit migration, not a runtime concern.
type Code string

const (
	USD Code = "usd"
	EUR Code = "eur"
	GBP Code = "gbp"
	CHF Code = "chf"
)

// Supported returns the closed set of campaign currencies, in a stable order.
func Supported() []Code {
	return []Code{USD, EUR, GBP, CHF}
}

// Parse validates a currency code string against the supported set.
func Parse(s string) (Code, error) {
	c := Code(strings.ToLower(s))
	for _, sup := range Supported() {
		if c == sup {
			return c, nil
		}
	}
	return "", fmt.Errorf("currency: unsupported code %q", s)
}

// MustParse is like Parse but panics on error. Use for hardcoded codes.
func MustParse(s string) Code {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String returns the lowercase ISO code.
func (c Code) String() string { return string(c) }
