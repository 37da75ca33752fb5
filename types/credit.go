// Package types provides common value types used across the funding engine.
package types

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// UnitMinute is the only credit unit in circulation: one minute of
// distributed work (DoW). Kept as an explicit field so the ledger stays
// auditable if other units are ever migrated in.
const UnitMinute = "minute"

// MilliPerUnit is the number of milli-DoW in one DoW credit unit.
// The HTTP surface deals in integer milli-DoW amounts.
const MilliPerUnit = 1000

// Credit is an exact-decimal amount of DoW credit.
// All arithmetic is decimal-exact — floating point is forbidden for
// credit amounts.
type Credit struct {
	Amount decimal.Decimal `json:"amount"`
	Unit   string          `json:"unit"`
}

// Minutes creates a Credit of n whole DoW minutes.
func Minutes(n int64) Credit {
	return Credit{Amount: decimal.NewFromInt(n), Unit: UnitMinute}
}

// FromMilliDow creates a Credit from an integer milli-DoW amount,
// the wire representation used by the HTTP surface.
func FromMilliDow(milli int64) Credit {
	return Credit{Amount: decimal.New(milli, -3), Unit: UnitMinute}
}

// FromDecimal creates a Credit from an exact decimal amount of minutes.
func FromDecimal(d decimal.Decimal) Credit {
	return Credit{Amount: d, Unit: UnitMinute}
}

// ZeroCredit returns a zero Credit value.
func ZeroCredit() Credit {
	return Credit{Amount: decimal.Zero, Unit: UnitMinute}
}

// MilliDow returns the amount as integer milli-DoW, truncating any
// precision finer than a thousandth of a minute.
func (c Credit) MilliDow() int64 {
	return c.Amount.Mul(decimal.NewFromInt(MilliPerUnit)).IntPart()
}

// Add adds two Credit values. Panics if units differ.
func (c Credit) Add(other Credit) Credit {
	c.assertSameUnit(other)
	return Credit{Amount: c.Amount.Add(other.Amount), Unit: c.Unit}
}

// Sub subtracts another Credit value. Panics if units differ.
func (c Credit) Sub(other Credit) Credit {
	c.assertSameUnit(other)
	return Credit{Amount: c.Amount.Sub(other.Amount), Unit: c.Unit}
}

// Cmp compares two Credit values: -1 if c < other, 0 if equal, +1 if c > other.
// Panics if units differ.
func (c Credit) Cmp(other Credit) int {
	c.assertSameUnit(other)
	return c.Amount.Cmp(other.Amount)
}

// Equal reports whether both amount and unit match.
func (c Credit) Equal(other Credit) bool {
	return c.Unit == other.Unit && c.Amount.Equal(other.Amount)
}

// LessThan reports whether c < other. Panics if units differ.
func (c Credit) LessThan(other Credit) bool { return c.Cmp(other) < 0 }

// IsZero reports whether the amount is zero.
func (c Credit) IsZero() bool { return c.Amount.IsZero() }

// IsPositive reports whether the amount is greater than zero.
func (c Credit) IsPositive() bool { return c.Amount.IsPositive() }

// IsNegative reports whether the amount is less than zero.
func (c Credit) IsNegative() bool { return c.Amount.IsNegative() }

// String returns a human-readable representation, e.g. "12.5 minute".
func (c Credit) String() string {
	unit := c.Unit
	if unit == "" {
		unit = UnitMinute
	}
	return fmt.Sprintf("%s %s", c.Amount.String(), unit)
}

// MarshalJSON implements json.Marshaler. Amounts serialize as strings to
// keep exact precision on the wire.
func (c Credit) MarshalJSON() ([]byte, error) {
	unit := c.Unit
	if unit == "" {
		unit = UnitMinute
	}
	return json.Marshal(struct {
		Amount string `json:"amount"`
		Unit   string `json:"unit"`
	}{
		Amount: c.Amount.String(),
		Unit:   unit,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Credit) UnmarshalJSON(data []byte) error {
	var raw struct {
		Amount string `json:"amount"`
		Unit   string `json:"unit"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	amount, err := decimal.NewFromString(raw.Amount)
	if err != nil {
		return fmt.Errorf("credit: invalid amount %q: %w", raw.Amount, err)
	}

	unit := raw.Unit
	if unit == "" {
		unit = UnitMinute
	}

	*c = Credit{Amount: amount, Unit: unit}
	return nil
}

// SumCredit calculates the sum of multiple Credit values.
func SumCredit(values ...Credit) Credit {
	result := ZeroCredit()
	for _, v := range values {
		result = result.Add(v)
	}
	return result
}

func (c Credit) assertSameUnit(other Credit) {
	cu, ou := c.Unit, other.Unit
	if cu == "" {
		cu = UnitMinute
	}
	if ou == "" {
		ou = UnitMinute
	}
	if cu != ou {
		panic(fmt.Sprintf("credit: unit mismatch: %s != %s", cu, ou))
	}
}
