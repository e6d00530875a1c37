package core

import (
	"errors"
	"testing"
	"time"
)

func TestParsePeriod(t *testing.T) {
	cases := []struct {
		in   string
		want Period
		ok   bool
	}{
		{"Octombrie 2025", Period{2025, time.October}, true},
		{"octombrie 2025", Period{2025, time.October}, true},
		{"  Mai   2024 ", Period{2024, time.May}, true},
		{"Februărie 2026", Period{2026, time.February}, true},
		{"October 2025", Period{}, false},
		{"Octombrie", Period{}, false},
		{"Octombrie 25", Period{}, false},
		{"Octombrie 2025 extra", Period{}, false},
		{"Octombrie 1999", Period{}, false},
		{"Octombrie 20x5", Period{}, false},
		{"", Period{}, false},
	}
	for _, tc := range cases {
		got, err := ParsePeriod(tc.in)
		if tc.ok {
			if err != nil || got != tc.want {
				t.Fatalf("%q: expected %v, got %v (err=%v)", tc.in, tc.want, got, err)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidPeriod) {
			t.Fatalf("%q: expected ErrInvalidPeriod, got %v", tc.in, err)
		}
	}
}

func TestPeriodKeyRoundTrip(t *testing.T) {
	for m := time.January; m <= time.December; m++ {
		p := Period{Year: 2025, Month: m}
		got, err := ParsePeriod(p.Key())
		if err != nil || got != p {
			t.Fatalf("%v: round trip gave %v (err=%v)", p, got, err)
		}
	}
}

func TestPeriodNavigation(t *testing.T) {
	jan := MustParsePeriod("Ianuarie 2025")
	if got := jan.Prev().Key(); got != "Decembrie 2024" {
		t.Fatalf("prev: %s", got)
	}
	if got := jan.Prev().Next(); got != jan {
		t.Fatalf("next: %v", got)
	}
	back := jan.Back(2)
	if len(back) != 3 || back[0].Key() != "Noiembrie 2024" || back[2] != jan {
		t.Fatalf("back: %v", back)
	}
	r := PeriodRange(MustParsePeriod("Noiembrie 2024"), MustParsePeriod("Februarie 2025"))
	if len(r) != 4 {
		t.Fatalf("range: %v", r)
	}
	if PeriodRange(jan, jan.Prev()) != nil {
		t.Fatalf("inverted range should be empty")
	}
	if !jan.Prev().Before(jan) || jan.Before(jan) {
		t.Fatalf("before is wrong")
	}
}
