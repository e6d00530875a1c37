package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseDecimalToCents(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0.01", 1, true},
		{"1.005", 101, true}, // half-up rounding
		{" 2.50 ", 250, true},
		{"1 250,40", 125040, true},
		{"99.5 RON", 9950, true},
		{"-1", 0, false},
		{"0", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseDecimalToCents(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error", tc.in)
			}
		}
	}
}

func TestParseSignedCents(t *testing.T) {
	cases := []struct {
		in  string
		out int64
	}{
		{"-500", -50000},
		{"-12,5", -1250},
		{"+3", 300},
		{"0", 0},
		{".5", 50},
	}
	for _, tc := range cases {
		got, err := ParseSignedCents(tc.in)
		if err != nil || got != tc.out {
			t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
		}
	}
	if _, err := ParseSignedCents("-"); err == nil {
		t.Fatalf("expected error for bare sign")
	}
}

func TestMoneyFromDecimalRoundsHalfUp(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"10.005", 1001},
		{"10.004", 1000},
		{"-10.005", -1001},
		{"0.333333", 33},
	}
	for _, tc := range cases {
		got := MoneyFromDecimal(decimal.RequireFromString(tc.in))
		if got.Cents != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.in, tc.want, got.Cents)
		}
	}
}

func TestMoneyArithmetic(t *testing.T) {
	a := Money{Cents: 1050}
	b := Money{Cents: -300}
	if got := a.Add(b); got.Cents != 750 {
		t.Fatalf("add: got %d", got.Cents)
	}
	if got := a.Sub(b); got.Cents != 1350 {
		t.Fatalf("sub: got %d", got.Cents)
	}
	if got := b.Abs(); got.Cents != 300 {
		t.Fatalf("abs: got %d", got.Cents)
	}
	if got := SumMoney(a, b, Money{Cents: 1}); got.Cents != 751 {
		t.Fatalf("sum: got %d", got.Cents)
	}
	if a.String() != "10.50" || b.String() != "-3.00" {
		t.Fatalf("string: %s %s", a, b)
	}
}

func TestEURRate(t *testing.T) {
	if _, err := NewEURRate(decimal.Zero); err == nil {
		t.Fatalf("expected error for zero rate")
	}
	r, err := NewEURRate(decimal.RequireFromString("5.08"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 508.00 RON is exactly 100 EUR
	if got := r.ToEUR(Money{Cents: 50800}); got.Cents != 10000 {
		t.Fatalf("expected 10000, got %d", got.Cents)
	}
	// 100 RON / 5.08 = 19.685... -> 19.69
	if got := r.ToEUR(Money{Cents: 10000}); got.Cents != 1969 {
		t.Fatalf("expected 1969, got %d", got.Cents)
	}
}
