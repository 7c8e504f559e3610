package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

const DefaultCurrency = "USD"

var zeroDecimalCurrencies = map[string]bool{
	"JPY": true, "KRW": true, "VND": true, "CLP": true, "ISK": true, "UGX": true,
}

// ToMinorUnits converts an amount to the smallest currency unit, rounding half away from zero
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Shift(2).Round(0).IntPart()
}
