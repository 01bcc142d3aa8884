// Package currency formats ledger amounts for display.
package currency

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Default is the catalog currency.
const Default = "INR"

// Format renders amount with the symbol and digit grouping of code, rounded
// to the currency's minor unit. Unknown codes fall back to the plain decimal.
func Format(amount decimal.Decimal, code string) string {
	if code == "" {
		code = Default
	}
	cur := money.GetCurrency(code)
	if cur == nil {
		return amount.StringFixed(2)
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	return money.New(minor.IntPart(), cur.Code).Display()
}

// Known reports whether code is a currency go-money can format.
func Known(code string) bool {
	return money.GetCurrency(code) != nil
}
