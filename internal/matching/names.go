package matching

import (
	"fmt"
	"regexp"
	"strings"

	"comisioane/internal/core"
)

// SimilarityThreshold is the minimum similarity for a fuzzy match.
const SimilarityThreshold = 0.85

// minContained is the shortest normalized name accepted by containment
// matching; shorter fragments match too much of the directory.
const minContained = 4

var (
	ErrUnresolved = fmt.Errorf("%w: name not in directory", core.ErrValidationSkip)
	ErrAmbiguous  = fmt.Errorf("%w: name matches several directory entries", core.ErrValidationSkip)
)

var (
	nameRun  = regexp.MustCompile(`\p{Lu}\p{Ll}+(?: ?\p{Lu}\p{Ll}+)+`)
	fragment = regexp.MustCompile(`\p{Lu}\p{Ll}+`)
)

// ExtractName pulls a person name out of a campaign tag. It looks for two
// or more capitalised fragments written together, e.g. "FB_IonPopescu_Oct"
// yields "Ion Popescu". The second result is false when no such run exists.
func ExtractName(tag string) (string, bool) {
	run := nameRun.FindString(tag)
	if run == "" {
		return "", false
	}
	return strings.Join(fragment.FindAllString(run, -1), " "), true
}

// Stage tells which rule resolved a name.
type Stage int

const (
	StageExact Stage = iota + 1
	StageContains
	StageSimilar
)

func (s Stage) String() string {
	switch s {
	case StageExact:
		return "exact"
	case StageContains:
		return "contains"
	case StageSimilar:
		return "similar"
	}
	return "none"
}

// Match is a resolved directory entry.
type Match struct {
	Payee core.Payee
	Stage Stage
	Score float64
}

type entry struct {
	payee core.Payee
	norm  string
}

// Resolver matches names against a directory snapshot. It is safe for
// concurrent use once built.
type Resolver struct {
	entries []entry
}

func NewResolver(payees []core.Payee) *Resolver {
	r := &Resolver{entries: make([]entry, 0, len(payees))}
	for _, p := range payees {
		n := Normalize(p.Name)
		if n == "" {
			continue
		}
		r.entries = append(r.entries, entry{payee: p, norm: n})
	}
	return r
}

// WithRole returns a resolver restricted to payees holding role.
func (r *Resolver) WithRole(role core.Role) *Resolver {
	out := &Resolver{}
	for _, e := range r.entries {
		if core.HasRole(e.payee.Roles, role) {
			out.entries = append(out.entries, e)
		}
	}
	return out
}

// Resolve tries, in order, an exact case-insensitive match, containment in
// either direction and edit-distance similarity. Each stage must produce a
// single candidate; several candidates make the name ambiguous and no
// later stage is tried.
func (r *Resolver) Resolve(name string) (Match, error) {
	n := Normalize(name)
	if n == "" {
		return Match{}, ErrUnresolved
	}

	var hits []entry
	for _, e := range r.entries {
		if e.norm == n {
			hits = append(hits, e)
		}
	}
	if m, done, err := pick(hits, StageExact, 1, name); done {
		return m, err
	}

	hits = hits[:0]
	for _, e := range r.entries {
		if contains(e.norm, n) {
			hits = append(hits, e)
		}
	}
	if m, done, err := pick(hits, StageContains, 1, name); done {
		return m, err
	}

	var best []entry
	bestScore := 0.0
	for _, e := range r.entries {
		s := Similarity(e.norm, n)
		if s < SimilarityThreshold {
			continue
		}
		best = append(best, e)
		if s > bestScore {
			bestScore = s
		}
	}
	if m, done, err := pick(best, StageSimilar, bestScore, name); done {
		return m, err
	}
	return Match{}, fmt.Errorf("%w: %q", ErrUnresolved, name)
}

func pick(hits []entry, stage Stage, score float64, name string) (Match, bool, error) {
	switch len(hits) {
	case 0:
		return Match{}, false, nil
	case 1:
		return Match{Payee: hits[0].payee, Stage: stage, Score: score}, true, nil
	}
	return Match{}, true, fmt.Errorf("%w: %q (%s, %d candidates)", ErrAmbiguous, name, stage, len(hits))
}

func contains(a, b string) bool {
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	return len(short) >= minContained && strings.Contains(long, short)
}
