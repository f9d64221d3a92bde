package common

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestToMinorUnits(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"50", 5000},
		{"50.00", 5000},
		{"0.01", 1},
		{"0.015", 2},
		{"19.994", 1999},
		{"1234.5", 123450},
	}
	for _, c := range cases {
		got := ToMinorUnits(decimal.RequireFromString(c.in))
		if got != c.want {
			t.Errorf("ToMinorUnits(%s) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestResolveCurrency(t *testing.T) {
	if got := ResolveCurrency("", " EUR "); got != "eur" {
		t.Fatalf("got %q, want eur", got)
	}
	if got := ResolveCurrency("GBP", "eur"); got != "gbp" {
		t.Fatalf("got %q, want gbp", got)
	}
	if got := ResolveCurrency("", ""); got != DefaultCurrency {
		t.Fatalf("got %q, want %q", got, DefaultCurrency)
	}
}

func TestFormatMoney(t *testing.T) {
	if got := FormatMoney(decimal.NewFromInt(50), "usd"); got != "50.00 USD" {
		t.Fatalf("got %q", got)
	}
	if got := FormatMoney(decimal.RequireFromString("30.5"), "eur"); got != "30.50 EUR" {
		t.Fatalf("got %q", got)
	}
}

func TestPluralizeTransactions(t *testing.T) {
	cases := map[int64]string{
		0:   "транзакций",
		1:   "транзакция",
		2:   "транзакции",
		5:   "транзакций",
		11:  "транзакций",
		21:  "транзакция",
		22:  "транзакции",
		112: "транзакций",
	}
	for n, want := range cases {
		if got := PluralizeTransactions(n); got != want {
			t.Errorf("PluralizeTransactions(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestFixedClock(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewFixedClock(start)
	c.Advance(time.Hour)
	if !c.Now().Equal(start.Add(time.Hour)) {
		t.Fatalf("unexpected time %s", c.Now())
	}
}
