package payments

import "strings"

// Currencies billed without a minor unit (amounts already whole).
var zeroDecimalCurrencies = map[string]struct{}{
	"JPY": {},
	"KRW": {},
	"VND": {},
	"CLP": {},
}

// FromMinorUnits converts a provider amount in minor units (cents, paise)
// into decimal currency for the ledger.
func FromMinorUnits(amount int64, currency string) float64 {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return float64(amount)
	}
	return float64(amount) / 100.0
}

// ToMinorUnits converts a decimal currency amount into provider minor units.
func ToMinorUnits(amount float64, currency string) int64 {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return int64(amount + 0.5)
	}
	return int64(amount*100 + 0.5)
}
