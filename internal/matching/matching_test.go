package matching

import (
	"errors"
	"testing"

	"comisioane/internal/core"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"  Ștefan  POPESCU": "stefan popescu",
		"Țăndărei":          "tandarei",
		"Şcoala":            "scoala",
		"":                  "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("%q: expected %q, got %q", in, want, got)
		}
	}
}

func TestExtractName(t *testing.T) {
	cases := []struct {
		tag  string
		want string
		ok   bool
	}{
		{"FB_IonPopescu_Oct", "Ion Popescu", true},
		{"IonPopescu", "Ion Popescu", true},
		{"lead-AnaMariaPop", "Ana Maria Pop", true},
		{"ig_ȘtefanIonescu", "Ștefan Ionescu", true},
		{"FB_ION_Oct", "", false},
		{"oct2025", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := ExtractName(tc.tag)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("%q: expected (%q,%v), got (%q,%v)", tc.tag, tc.want, tc.ok, got, ok)
		}
	}
}

func TestSimilarity(t *testing.T) {
	if s := Similarity("Ion Popescu", "ion popescu"); s != 1 {
		t.Fatalf("case and spacing must not matter, got %f", s)
	}
	if s := Similarity("Ion Popescu", "Ion Popesku"); s < SimilarityThreshold {
		t.Fatalf("one typo should be similar, got %f", s)
	}
	if s := Similarity("Ion Popescu", "Ana Ionescu"); s >= SimilarityThreshold {
		t.Fatalf("different names should not be similar, got %f", s)
	}
	if d := Levenshtein("kitten", "sitting"); d != 3 {
		t.Fatalf("expected 3, got %d", d)
	}
}

func directory() []core.Payee {
	return []core.Payee{
		{ID: "1", Name: "Ion Popescu", Roles: []core.Role{core.RoleSetter}},
		{ID: "2", Name: "Ion Popesku", Roles: []core.Role{core.RoleCaller}},
		{ID: "3", Name: "Maria Ionescu", Roles: []core.Role{core.RoleSales}},
		{ID: "4", Name: "Andrei Pop", Roles: []core.Role{core.RoleCaller}},
		{ID: "5", Name: "Andrei Pap", Roles: []core.Role{core.RoleCaller}},
	}
}

func TestResolve(t *testing.T) {
	r := NewResolver(directory())
	cases := []struct {
		name  string
		id    string
		stage Stage
	}{
		{"ion popescu", "1", StageExact},
		{"ION POPESKU", "2", StageExact},
		{"Maria Ionescu SRL", "3", StageContains},
		{"Ionescu", "3", StageContains},
		{"Maria Ionesku", "3", StageSimilar},
	}
	for _, tc := range cases {
		m, err := r.Resolve(tc.name)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tc.name, err)
		}
		if m.Payee.ID != tc.id || m.Stage != tc.stage {
			t.Fatalf("%q: expected %s via %s, got %s via %s", tc.name, tc.id, tc.stage, m.Payee.ID, m.Stage)
		}
	}
}

func TestResolveAmbiguousIsUnresolved(t *testing.T) {
	r := NewResolver(directory())
	_, err := r.Resolve("Andrei Pep")
	if !errors.Is(err, ErrAmbiguous) || !errors.Is(err, core.ErrValidationSkip) {
		t.Fatalf("expected ambiguous validation skip, got %v", err)
	}
	if _, err := r.Resolve("Popes"); !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("containment matching two entries must be ambiguous, got %v", err)
	}
	if _, err := r.Resolve("Gheorghe Hagi"); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("expected unresolved, got %v", err)
	}
}

func TestResolveWithRole(t *testing.T) {
	r := NewResolver(directory()).WithRole(core.RoleCaller)
	// Only "Ion Popesku" is a caller, so the similar setter is not a candidate.
	m, err := r.Resolve("Ion Popescu")
	if err != nil || m.Payee.ID != "2" || m.Stage != StageSimilar {
		t.Fatalf("unexpected match %+v err=%v", m, err)
	}
}

func TestGroup(t *testing.T) {
	sales := []core.Sale{
		{ID: "s1", Project: "Alpha"},
		{ID: "s2", Project: "Beta"},
		{ID: "s3", Project: "Alpha"},
		{ID: "s4", Project: ""},
	}
	groups, order := Group(sales, func(s core.Sale) (GroupKey, bool) {
		return GroupKey{Payee: "Ion", Project: s.Project, Role: core.RoleSetter}, s.Project != ""
	})
	if len(order) != 2 || order[0].Project != "Alpha" {
		t.Fatalf("unexpected order %v", order)
	}
	if got := SaleIDs(groups[order[0]]); len(got) != 2 || got[0] != "s1" || got[1] != "s3" {
		t.Fatalf("unexpected group %v", got)
	}
	setter := GroupKey{Payee: "Ion", Project: "Alpha", Role: core.RoleSetter}
	caller := GroupKey{Payee: "Ion", Project: "Alpha", Role: core.RoleCaller}
	if setter == caller || setter.String() == caller.String() {
		t.Fatalf("roles must separate groups")
	}
}

func TestProjectMatcher(t *testing.T) {
	m := NewProjectMatcher([]string{"Alpha", "Alpha Pro", "Școala de Vânzări"}, "Comun")
	cases := []struct {
		campaign string
		want     string
		matched  bool
	}{
		{"FB - alpha pro - retargeting", "Alpha Pro", true},
		{"IG Alpha lead", "Alpha", true},
		{"scoala de vanzari | toamna", "Școala de Vânzări", true},
		{"Brand awareness", "Comun", false},
	}
	for _, tc := range cases {
		got, ok := m.Match(tc.campaign)
		if got != tc.want || ok != tc.matched {
			t.Fatalf("%q: expected (%q,%v), got (%q,%v)", tc.campaign, tc.want, tc.matched, got, ok)
		}
	}
}
