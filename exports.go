package dowfund

import "github.com/workfund/dowfund/types"

// Re-export common types for convenience so users don't have to import types package.

// Money is re-exported from types package.
type Money = types.Money

// Credit is re-exported from types package.
type Credit = types.Credit

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export Money constructors
var (
	USD       = types.USD
	EUR       = types.EUR
	GBP       = types.GBP
	CHF       = types.CHF
	ZeroMoney = types.ZeroMoney
	SumMoney  = types.SumMoney
)

// Re-export Credit constructors
var (
	Minutes      = types.Minutes
	FromMilliDow = types.FromMilliDow
	ZeroCredit   = types.ZeroCredit
	SumCredit    = types.SumCredit
)

// Re-export Entity constructor
var NewEntity = types.NewEntity
