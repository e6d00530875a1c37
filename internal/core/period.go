package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Month names as used by the source record store. The period key
// "<MonthName> <Year>" is the external identifier of a processing period.
var monthNames = [12]string{
	"Ianuarie", "Februarie", "Martie", "Aprilie", "Mai", "Iunie",
	"Iulie", "August", "Septembrie", "Octombrie", "Noiembrie", "Decembrie",
}

const (
	minPeriodYear = 2000
	maxPeriodYear = 2100
)

// Period identifies one calendar month.
type Period struct {
	Year  int
	Month time.Month
}

// NewPeriod builds a period and validates its range.
func NewPeriod(year int, month time.Month) (Period, error) {
	p := Period{Year: year, Month: month}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// ParsePeriod parses a period key such as "Octombrie 2025". Parsing is
// strict: exactly one month name and a four digit year separated by
// whitespace. Month names match case- and diacritics-insensitively.
func ParsePeriod(key string) (Period, error) {
	fields := strings.Fields(key)
	if len(fields) != 2 {
		return Period{}, fmt.Errorf("%w: %q: expected \"<Month> <Year>\"", ErrInvalidPeriod, key)
	}
	month := time.Month(0)
	name := foldASCII(fields[0])
	for i, m := range monthNames {
		if strings.EqualFold(name, m) {
			month = time.Month(i + 1)
			break
		}
	}
	if month == 0 {
		return Period{}, fmt.Errorf("%w: unknown month %q", ErrInvalidPeriod, fields[0])
	}
	if len(fields[1]) != 4 {
		return Period{}, fmt.Errorf("%w: year %q must have four digits", ErrInvalidPeriod, fields[1])
	}
	year, err := strconv.Atoi(fields[1])
	if err != nil {
		return Period{}, fmt.Errorf("%w: year %q: %v", ErrInvalidPeriod, fields[1], err)
	}
	return NewPeriod(year, month)
}

// MustParsePeriod is for tests and constants.
func MustParsePeriod(key string) Period {
	p, err := ParsePeriod(key)
	if err != nil {
		panic(err)
	}
	return p
}

// Validate checks month and year ranges.
func (p Period) Validate() error {
	if p.Month < time.January || p.Month > time.December {
		return fmt.Errorf("%w: month %d", ErrInvalidPeriod, p.Month)
	}
	if p.Year < minPeriodYear || p.Year > maxPeriodYear {
		return fmt.Errorf("%w: year %d out of range", ErrInvalidPeriod, p.Year)
	}
	return nil
}

// IsZero reports whether the period is unset.
func (p Period) IsZero() bool {
	return p.Year == 0 && p.Month == 0
}

// Key renders the canonical period key, e.g. "Octombrie 2025".
func (p Period) Key() string {
	if p.Month < time.January || p.Month > time.December {
		return ""
	}
	return fmt.Sprintf("%s %d", monthNames[p.Month-1], p.Year)
}

func (p Period) String() string { return p.Key() }

func (p Period) index() int { return p.Year*12 + int(p.Month) - 1 }

func periodFromIndex(i int) Period {
	return Period{Year: i / 12, Month: time.Month(i%12 + 1)}
}

// Before reports whether p is strictly earlier than o.
func (p Period) Before(o Period) bool { return p.index() < o.index() }

// Prev returns the previous month.
func (p Period) Prev() Period { return periodFromIndex(p.index() - 1) }

// Next returns the following month.
func (p Period) Next() Period { return periodFromIndex(p.index() + 1) }

// Back returns p and the n periods before it, oldest first.
func (p Period) Back(n int) []Period {
	if n < 0 {
		n = 0
	}
	out := make([]Period, 0, n+1)
	for i := n; i >= 0; i-- {
		out = append(out, periodFromIndex(p.index()-i))
	}
	return out
}

// PeriodRange returns all periods from..to inclusive, oldest first.
func PeriodRange(from, to Period) []Period {
	if to.Before(from) {
		return nil
	}
	out := make([]Period, 0, to.index()-from.index()+1)
	for i := from.index(); i <= to.index(); i++ {
		out = append(out, periodFromIndex(i))
	}
	return out
}

// foldASCII drops the Romanian diacritics that can appear in hand-typed
// month names ("Mai" never has any, but "Februarie" is sometimes typed with
// a stray "ă").
func foldASCII(s string) string {
	r := strings.NewReplacer(
		"ă", "a", "â", "a", "î", "i", "ș", "s", "ş", "s", "ț", "t", "ţ", "t",
		"Ă", "A", "Â", "A", "Î", "I", "Ș", "S", "Ş", "S", "Ț", "T", "Ţ", "T",
	)
	return r.Replace(s)
}
