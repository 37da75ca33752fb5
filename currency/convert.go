package currency

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RateSource supplies exchange rates quoted against USD: Rate(c) is the
// number of US dollars one unit of c is worth. Rates come from an external
// provider; this layer never invents them.
type RateSource interface {
	// Rate returns the USD value of one unit of the given currency.
	Rate(code Code) (decimal.Decimal, error)
}

// Converter performs pure FX conversion between campaign currencies.
//
// No rounding is applied here: results are exact decimals and the caller
// owns the rounding policy (campaign aggregation rounds half away from
// zero to the target currency's minor unit).
type Converter struct {
	rates RateSource
}

// NewConverter creates a Converter over the given rate source.
func NewConverter(rates RateSource) *Converter {
	return &Converter{rates: rates}
}

// Convert converts a major-unit amount from one currency to another.
// Identity when from == to, without consulting the rate source.
func (cv *Converter) Convert(amount decimal.Decimal, from, to Code) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}

	fromRate, err := cv.rates.Rate(from)
	if err != nil {
		return decimal.Zero, fmt.Errorf("currency: rate for %s: %w", from, err)
	}
	toRate, err := cv.rates.Rate(to)
	if err != nil {
		return decimal.Zero, fmt.Errorf("currency: rate for %s: %w", to, err)
	}
	if toRate.IsZero() {
		return decimal.Zero, fmt.Errorf("currency: zero rate for %s", to)
	}

	// Cross rate via USD: amount × usd(from) ÷ usd(to), carried to 16
	// fractional digits so round-trips stay within one minor unit.
	return amount.Mul(fromRate).DivRound(toRate, 16), nil
}

// StaticRates is a fixed in-memory RateSource, useful for tests and for
// deployments where rates are injected by configuration.
type StaticRates map[Code]decimal.Decimal

// Rate implements RateSource.
func (r StaticRates) Rate(code Code) (decimal.Decimal, error) {
	if code == USD {
		return decimal.NewFromInt(1), nil
	}
	rate, ok := r[code]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("currency: no rate for %s", code)
	}
	return rate, nil
}
