package matching

import (
	"sort"
	"strings"

	"comisioane/internal/core"
)

// GroupKey buckets records by person, project and role, so one person
// acting in two roles in the same period never merges into one bucket.
type GroupKey struct {
	Payee   string
	Project string
	Role    core.Role
}

func (k GroupKey) String() string {
	return strings.Join([]string{k.Payee, k.Project, k.Role.String()}, "|")
}

// Group buckets items by key. Items for which key reports false are
// dropped. Keys are returned in first-seen order.
func Group[K comparable, T any](items []T, key func(T) (K, bool)) (map[K][]T, []K) {
	groups := make(map[K][]T)
	var order []K
	for _, it := range items {
		k, ok := key(it)
		if !ok {
			continue
		}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], it)
	}
	return groups, order
}

// SumByProject totals an amount per sale project.
func SumByProject(sales []core.Sale, amount func(core.Sale) core.Money) map[string]core.Money {
	out := make(map[string]core.Money)
	for _, s := range sales {
		out[s.Project] = out[s.Project].Add(amount(s))
	}
	return out
}

// ExclVat and InclVat select a sale amount for SumByProject.
func ExclVat(s core.Sale) core.Money { return s.AmountExclVat }
func InclVat(s core.Sale) core.Money { return s.AmountInclVat }

// SaleIDs lists the ids of sales in a stable order.
func SaleIDs(sales []core.Sale) []string {
	ids := make([]string, 0, len(sales))
	for _, s := range sales {
		ids = append(ids, s.ID)
	}
	return core.SortedIDs(ids)
}

// ProjectMatcher assigns ad campaigns to projects by looking for a project
// name inside the campaign name. Campaigns naming no known project land in
// the shared project.
type ProjectMatcher struct {
	shared   string
	projects []project
}

type project struct {
	name string
	norm string
}

func NewProjectMatcher(projects []string, shared string) *ProjectMatcher {
	m := &ProjectMatcher{shared: shared}
	seen := map[string]bool{}
	for _, p := range projects {
		n := Normalize(p)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		m.projects = append(m.projects, project{name: p, norm: n})
	}
	// Longest name first so "Alpha Pro" beats "Alpha".
	sort.SliceStable(m.projects, func(i, j int) bool {
		if len(m.projects[i].norm) != len(m.projects[j].norm) {
			return len(m.projects[i].norm) > len(m.projects[j].norm)
		}
		return m.projects[i].norm < m.projects[j].norm
	})
	return m
}

// Match returns the project for a campaign and whether it was matched
// rather than defaulted to the shared project.
func (m *ProjectMatcher) Match(campaign string) (string, bool) {
	c := Normalize(campaign)
	for _, p := range m.projects {
		if strings.Contains(c, p.norm) {
			return p.name, true
		}
	}
	return m.shared, false
}

// Shared is the fallback project name.
func (m *ProjectMatcher) Shared() string { return m.shared }
