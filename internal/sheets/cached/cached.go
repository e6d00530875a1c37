// Package cached puts TTL caches in front of the read-heavy Source calls.
// Directory and sales reads are repeated by every allocation kind of a
// run; against the paced spreadsheet API that repetition dominates.
package cached

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"comisioane/internal/cache"
	"comisioane/internal/core"
	"comisioane/internal/log"
	"comisioane/internal/sheets"
)

const (
	keyPayees   = "payees"
	keyProjects = "projects"
)

// Source decorates a sheets.Source. Ad spend is always read through.
type Source struct {
	sheets.Source

	payees      *cache.LRUCache[[]core.Payee]
	projects    *cache.LRUCache[[]string]
	sales       *cache.LRUCache[[]core.Sale]
	commissions *cache.LRUCache[[]core.MonthlyCommissionRecord]
	negatives   *cache.LRUCache[[]core.MonthlyCommissionRecord]
}

// New wraps src. Entries live for ttl; size bounds each cache.
func New(src sheets.Source, ttl time.Duration, size int) *Source {
	return &Source{
		Source:      src,
		payees:      cache.NewLRUCache[[]core.Payee](1, ttl),
		projects:    cache.NewLRUCache[[]string](1, ttl),
		sales:       cache.NewLRUCache[[]core.Sale](size, ttl),
		commissions: cache.NewLRUCache[[]core.MonthlyCommissionRecord](size, ttl),
		negatives:   cache.NewLRUCache[[]core.MonthlyCommissionRecord](size, ttl),
	}
}

// Register hands every cache to m for periodic expiry.
func (s *Source) Register(m *cache.Manager) {
	m.Register(s.payees)
	m.Register(s.projects)
	m.Register(s.sales)
	m.Register(s.commissions)
	m.Register(s.negatives)
}

// Invalidate drops everything, forcing the next run to re-read the store.
func (s *Source) Invalidate() {
	s.payees.Purge()
	s.projects.Purge()
	s.sales.Purge()
	s.commissions.Purge()
	s.negatives.Purge()
}

// Stats sums hit and miss counters across the caches.
func (s *Source) Stats() cache.Stats {
	var total cache.Stats
	for _, st := range []cache.Stats{
		s.payees.Stats(), s.projects.Stats(), s.sales.Stats(), s.commissions.Stats(), s.negatives.Stats(),
	} {
		total.Hits += st.Hits
		total.Misses += st.Misses
		total.Evictions += st.Evictions
	}
	return total
}

func load[T any](ctx context.Context, c *cache.LRUCache[T], key string, fetch func() (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := fetch()
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	slog.DebugContext(ctx, "Cache filled", log.FieldComponent, log.ComponentCache, "key", key)
	return v, nil
}

func (s *Source) ListPayees(ctx context.Context) ([]core.Payee, error) {
	return load(ctx, s.payees, keyPayees, func() ([]core.Payee, error) {
		return s.Source.ListPayees(ctx)
	})
}

// GetPayee and FindPayeeByName answer from the cached directory.
func (s *Source) GetPayee(ctx context.Context, id string) (core.Payee, bool, error) {
	payees, err := s.ListPayees(ctx)
	if err != nil {
		return core.Payee{}, false, err
	}
	for _, p := range payees {
		if p.ID == id {
			return p, true, nil
		}
	}
	return core.Payee{}, false, nil
}

func (s *Source) FindPayeeByName(ctx context.Context, name string) (core.Payee, bool, error) {
	payees, err := s.ListPayees(ctx)
	if err != nil {
		return core.Payee{}, false, err
	}
	for _, p := range payees {
		if strings.EqualFold(strings.TrimSpace(p.Name), strings.TrimSpace(name)) {
			return p, true, nil
		}
	}
	return core.Payee{}, false, nil
}

func (s *Source) ListProjects(ctx context.Context) ([]string, error) {
	return load(ctx, s.projects, keyProjects, func() ([]string, error) {
		return s.Source.ListProjects(ctx)
	})
}

func (s *Source) ListSales(ctx context.Context, period core.Period) ([]core.Sale, error) {
	return load(ctx, s.sales, period.Key(), func() ([]core.Sale, error) {
		return s.Source.ListSales(ctx, period)
	})
}

func (s *Source) ListCommissions(ctx context.Context, period core.Period, roles ...core.Role) ([]core.MonthlyCommissionRecord, error) {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.String()
	}
	key := period.Key() + "|" + strings.Join(names, ",")
	return load(ctx, s.commissions, key, func() ([]core.MonthlyCommissionRecord, error) {
		return s.Source.ListCommissions(ctx, period, roles...)
	})
}

func (s *Source) ListNegativeCommissions(ctx context.Context, payeeRef string, before core.Period) ([]core.MonthlyCommissionRecord, error) {
	key := fmt.Sprintf("%s|%s", payeeRef, before.Key())
	return load(ctx, s.negatives, key, func() ([]core.MonthlyCommissionRecord, error) {
		return s.Source.ListNegativeCommissions(ctx, payeeRef, before)
	})
}

// UpdateLinkedSales writes through and drops cached commission listings.
func (s *Source) UpdateLinkedSales(ctx context.Context, commissionID string, saleIDs []string) error {
	if err := s.Source.UpdateLinkedSales(ctx, commissionID, saleIDs); err != nil {
		return err
	}
	s.commissions.Purge()
	return nil
}
