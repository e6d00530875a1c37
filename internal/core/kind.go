package core

import (
	"fmt"
	"strings"
)

// Kind is an allocation kind. Each kind produces its own family of
// DerivedExpenses and is processed and reported separately.
type Kind string

const (
	KindSalesRep     Kind = "sales-rep"
	KindSetterCaller Kind = "setter-caller"
	KindTeamLeader   Kind = "team-leader"
	KindPaymentFee   Kind = "payment-fee"
	KindAdSpend      Kind = "ad-spend"
	KindCopywriting  Kind = "copywriting"
)

// AllKinds lists the kinds in processing order.
func AllKinds() []Kind {
	return []Kind{KindSalesRep, KindSetterCaller, KindTeamLeader, KindPaymentFee, KindAdSpend, KindCopywriting}
}

// ParseKind accepts a kind name, ignoring case.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range AllKinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown allocation kind %q", s)
}

// Label is the prefix used in expense descriptions.
func (k Kind) Label() string {
	switch k {
	case KindSalesRep:
		return "Comision vanzari"
	case KindSetterCaller:
		return "Comision setter/caller"
	case KindTeamLeader:
		return "Comision team leader"
	case KindPaymentFee:
		return "Comision procesare"
	case KindAdSpend:
		return "Reclame"
	case KindCopywriting:
		return "Copywriting"
	}
	return string(k)
}

// Describe renders the standard expense description
// "<kind label> - <name> - <period>".
func Describe(k Kind, name string, p Period) string {
	return fmt.Sprintf("%s - %s - %s", k.Label(), strings.TrimSpace(name), p.Key())
}

// NameFromDescription recovers the display name from a description written
// by Describe. It returns false for descriptions of any other shape.
func NameFromDescription(desc string) (string, bool) {
	parts := strings.Split(desc, " - ")
	if len(parts) < 3 {
		return "", false
	}
	if _, err := ParsePeriod(parts[len(parts)-1]); err != nil {
		return "", false
	}
	name := strings.TrimSpace(strings.Join(parts[1:len(parts)-1], " - "))
	return name, name != ""
}
