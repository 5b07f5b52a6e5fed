package payments

import "testing"

func TestFromMinorUnits(t *testing.T) {
	tests := []struct {
		amount   int64
		currency string
		want     float64
	}{
		{amount: 9900, currency: "USD", want: 99.00},
		{amount: 12550, currency: "eur", want: 125.50},
		{amount: 500, currency: "JPY", want: 500},
		{amount: 1200, currency: "krw", want: 1200},
		{amount: 0, currency: "USD", want: 0},
	}

	for _, tt := range tests {
		if got := FromMinorUnits(tt.amount, tt.currency); got != tt.want {
			t.Fatalf("FromMinorUnits(%d, %q) = %v, want %v", tt.amount, tt.currency, got, tt.want)
		}
	}
}

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		amount   float64
		currency string
		want     int64
	}{
		{amount: 99.00, currency: "USD", want: 9900},
		{amount: 125.50, currency: "EUR", want: 12550},
		{amount: 19.99, currency: "usd", want: 1999},
		{amount: 500, currency: "JPY", want: 500},
	}

	for _, tt := range tests {
		if got := ToMinorUnits(tt.amount, tt.currency); got != tt.want {
			t.Fatalf("ToMinorUnits(%v, %q) = %d, want %d", tt.amount, tt.currency, got, tt.want)
		}
	}
}
