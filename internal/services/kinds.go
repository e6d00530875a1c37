package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"comisioane/internal/allocation"
	"comisioane/internal/core"
	"comisioane/internal/log"
	"comisioane/internal/matching"
	"comisioane/internal/reconcile"
)

func (a *Allocator) commissions(ctx context.Context, in *inputs, roles ...core.Role) ([]core.MonthlyCommissionRecord, error) {
	recs, err := a.source.ListCommissions(ctx, in.period, roles...)
	if err != nil {
		if isFatal(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: commissions for %s: %w", core.ErrLookupFailure, in.period.Key(), err)
	}
	return sortedRecords(recs), nil
}

// salesRep splits each sales commission across the projects of its linked
// sales, weighted by revenue excluding VAT.
func (a *Allocator) salesRep(ctx context.Context, in *inputs) (reconcile.Counts, error) {
	var c reconcile.Counts
	recs, err := a.commissions(ctx, in, core.RoleSales)
	if err != nil {
		return c, err
	}
	sales, err := in.validSales(ctx)
	if err != nil {
		return c, err
	}
	byID := make(map[string]core.Sale, len(sales))
	for _, s := range sales {
		byID[s.ID] = s
	}

	for _, rec := range recs {
		var linked []core.Sale
		for _, id := range core.SortedIDs(rec.LinkedSaleIDs) {
			s, ok := byID[id]
			if !ok {
				slog.DebugContext(ctx, "Linked sale not in period",
					log.FieldComponent, log.ComponentAllocation, "commission_id", rec.ID, "sale_id", id)
				continue
			}
			linked = append(linked, s)
		}
		weights, ids := salesByProject(linked, matching.ExclVat)
		recID := rec.ID
		c.Merge(a.allocatePerson(ctx, in, personAllocation{
			kind:     core.KindSalesRep,
			record:   rec,
			name:     in.payeeName(ctx, rec.PayeeRef),
			category: core.CategorySalesCommission,
			gross:    rec.FinalCommission,
			weights:  weights,
			sales:    ids,
			key:      func(project string) string { return reconcile.SalesRepKey(recID, project) },
		}))
	}
	return c, nil
}

// setterCaller attributes sales to setters and callers through the name
// embedded in the sale's campaign tag, refreshes each record's linked sales
// and splits the commission across those sales' projects.
func (a *Allocator) setterCaller(ctx context.Context, in *inputs) (reconcile.Counts, error) {
	var c reconcile.Counts
	recs, err := a.commissions(ctx, in, core.RoleSetter, core.RoleCaller)
	if err != nil {
		return c, err
	}
	if len(recs) == 0 {
		return c, nil
	}
	sales, err := in.validSales(ctx)
	if err != nil {
		return c, err
	}
	byID, directory, err := in.payeeDirectory(ctx)
	if err != nil {
		return c, err
	}

	resolvers := map[core.Role]*matching.Resolver{}
	all := matching.NewResolver(directory)
	for _, role := range []core.Role{core.RoleSetter, core.RoleCaller} {
		resolvers[role] = all.WithRole(role)
	}

	// attributed[role][payeeID] lists the sales credited to that person.
	attributed := map[core.Role]map[string][]core.Sale{}
	unresolved := map[string]error{}
	for _, s := range sales {
		name, ok := matching.ExtractName(s.CampaignTag)
		if !ok {
			continue
		}
		var lastErr error
		resolved := false
		for role, r := range resolvers {
			m, err := r.Resolve(name)
			if err != nil {
				lastErr = err
				continue
			}
			resolved = true
			if attributed[role] == nil {
				attributed[role] = map[string][]core.Sale{}
			}
			attributed[role][m.Payee.ID] = append(attributed[role][m.Payee.ID], s)
		}
		if !resolved {
			unresolved[name] = lastErr
		}
	}
	for name, err := range unresolved {
		slog.WarnContext(ctx, "Campaign name not attributed",
			log.FieldComponent, log.ComponentMatching, log.FieldPeriod, in.period.Key(), "name", name, log.FieldError, err)
	}

	for _, rec := range recs {
		payee, ok := byID[rec.PayeeRef]
		if !ok {
			in.debts.Touch(rec.PayeeRef)
			c.Add(reconcile.Skipped)
			slog.WarnContext(ctx, "Commission payee not in directory",
				log.FieldComponent, log.ComponentAllocation, "commission_id", rec.ID, log.FieldPayee, rec.PayeeRef)
			continue
		}
		category, err := core.CategoryForRole(rec.Role)
		if err != nil {
			in.debts.Touch(rec.PayeeRef)
			c.Add(reconcile.Skipped)
			continue
		}
		mine := attributed[rec.Role][payee.ID]
		ids := matching.SaleIDs(mine)
		if !core.SameIDs(rec.LinkedSaleIDs, ids) {
			if err := a.source.UpdateLinkedSales(ctx, rec.ID, ids); err != nil {
				c.Add(reconcile.Failed)
				slog.ErrorContext(ctx, "Failed to update linked sales",
					log.FieldComponent, log.ComponentAllocation, "commission_id", rec.ID, log.FieldError, err)
			}
		}

		weights, byProject := salesByProject(mine, matching.ExclVat)
		role, name := rec.Role, payee.Name
		c.Merge(a.allocatePerson(ctx, in, personAllocation{
			kind:     core.KindSetterCaller,
			record:   rec,
			name:     name,
			category: category,
			gross:    rec.FinalCommission,
			weights:  weights,
			sales:    byProject,
			key: func(project string) string {
				return reconcile.PersonKey(core.KindSetterCaller, role, name, project, in.period)
			},
		}))
	}
	return c, nil
}

// teamLeader pays each team leader a progressive commission on the
// period's total revenue, split across projects by revenue.
func (a *Allocator) teamLeader(ctx context.Context, in *inputs) (reconcile.Counts, error) {
	var c reconcile.Counts
	if err := allocation.ValidateTiers(a.cfg.Tiers); err != nil {
		return c, fmt.Errorf("%w: %w", core.ErrCredentialOrConfig, err)
	}
	recs, err := a.commissions(ctx, in, core.RoleTeamLeader)
	if err != nil {
		return c, err
	}
	if len(recs) == 0 {
		return c, nil
	}
	sales, err := in.validSales(ctx)
	if err != nil {
		return c, err
	}
	weights, ids := salesByProject(sales, matching.ExclVat)
	gross, err := allocation.Progressive(allocation.TotalWeight(weights), a.cfg.Rate, a.cfg.Tiers)
	if err != nil {
		return c, fmt.Errorf("%w: %w", core.ErrCredentialOrConfig, err)
	}

	for _, rec := range recs {
		name := in.payeeName(ctx, rec.PayeeRef)
		c.Merge(a.allocatePerson(ctx, in, personAllocation{
			kind:     core.KindTeamLeader,
			record:   rec,
			name:     name,
			category: core.CategoryTeamLeaderCommission,
			gross:    gross,
			weights:  weights,
			sales:    ids,
			key: func(project string) string {
				return reconcile.PersonKey(core.KindTeamLeader, core.RoleTeamLeader, name, project, in.period)
			},
		}))
	}
	return c, nil
}

// copywriting splits each copywriter's commission across projects by the
// period's revenue.
func (a *Allocator) copywriting(ctx context.Context, in *inputs) (reconcile.Counts, error) {
	var c reconcile.Counts
	recs, err := a.commissions(ctx, in, core.RoleCopywriter)
	if err != nil {
		return c, err
	}
	if len(recs) == 0 {
		return c, nil
	}
	sales, err := in.validSales(ctx)
	if err != nil {
		return c, err
	}
	weights, ids := salesByProject(sales, matching.ExclVat)

	for _, rec := range recs {
		name := in.payeeName(ctx, rec.PayeeRef)
		c.Merge(a.allocatePerson(ctx, in, personAllocation{
			kind:     core.KindCopywriting,
			record:   rec,
			name:     name,
			category: core.CategoryCopywriting,
			gross:    rec.FinalCommission,
			weights:  weights,
			sales:    ids,
			key: func(project string) string {
				return reconcile.PersonKey(core.KindCopywriting, core.RoleCopywriter, name, project, in.period)
			},
		}))
	}
	return c, nil
}

type feeGroup struct {
	rule allocation.FeeRule
	fee  core.Money
	ids  []string
}

// paymentFee charges the processor fee of every sale, grouped by payment
// method and project. Fees apply to the amount including VAT.
func (a *Allocator) paymentFee(ctx context.Context, in *inputs) (reconcile.Counts, error) {
	var c reconcile.Counts
	if len(a.cfg.Fees) == 0 {
		slog.WarnContext(ctx, "No payment fee rules configured", log.FieldComponent, log.ComponentAllocation)
		return c, nil
	}
	sales, err := in.validSales(ctx)
	if err != nil {
		return c, err
	}

	groups := map[matching.GroupKey]*feeGroup{}
	var order []matching.GroupKey
	for _, s := range sales {
		if strings.TrimSpace(s.PaymentMethod) == "" {
			continue
		}
		rule, ok := a.cfg.Fees.Lookup(s.PaymentMethod)
		if !ok {
			c.Add(reconcile.Skipped)
			slog.WarnContext(ctx, "Unknown payment method",
				log.FieldComponent, log.ComponentAllocation, "sale_id", s.ID, "method", s.PaymentMethod)
			continue
		}
		k := matching.GroupKey{Payee: rule.Method, Project: s.Project}
		g, ok := groups[k]
		if !ok {
			g = &feeGroup{rule: rule}
			groups[k] = g
			order = append(order, k)
		}
		g.fee = g.fee.Add(rule.FeeFor(s.AmountInclVat))
		g.ids = append(g.ids, s.ID)
	}

	for _, k := range order {
		g := groups[k]
		if g.fee.IsZero() {
			continue
		}
		a.upsert(ctx, in, &c, core.DerivedExpense{
			NaturalKey:        reconcile.FeeKey(g.rule.Method, k.Project, in.period),
			Name:              g.rule.Method,
			Description:       core.Describe(core.KindPaymentFee, g.rule.Method, in.period),
			Project:           k.Project,
			Category:          core.CategoryPaymentFee,
			Amount:            g.fee,
			VATIncluded:       true,
			Period:            in.period,
			Kind:              core.KindPaymentFee,
			AssociatedSaleIDs: g.ids,
		})
	}
	return c, nil
}

// adSpend books campaign spend on the project named in the campaign.
// Campaigns naming no project go to the shared project. Any currency other
// than RON aborts the kind before anything is written.
func (a *Allocator) adSpend(ctx context.Context, in *inputs) (reconcile.Counts, error) {
	var c reconcile.Counts
	spend, err := a.source.ListAdSpend(ctx, in.period)
	if err != nil {
		if isFatal(err) {
			return c, err
		}
		return c, fmt.Errorf("%w: ad spend for %s: %w", core.ErrLookupFailure, in.period.Key(), err)
	}
	for _, s := range spend {
		cur := strings.ToUpper(strings.TrimSpace(s.Currency))
		if cur != "" && cur != core.CurrencyRON {
			return c, fmt.Errorf("%w: campaign %q reports %s, only %s is supported",
				core.ErrCredentialOrConfig, s.CampaignName, cur, core.CurrencyRON)
		}
	}
	if len(spend) == 0 {
		return c, nil
	}

	projects, err := a.projects(ctx, in)
	if err != nil {
		return c, err
	}
	matcher := matching.NewProjectMatcher(projects, a.cfg.SharedProject)

	totals := map[string]core.Money{}
	for _, s := range spend {
		if s.Amount.Cents < 0 {
			c.Add(reconcile.Skipped)
			continue
		}
		project, _ := matcher.Match(s.CampaignName)
		totals[project] = totals[project].Add(s.Amount)
	}

	for _, w := range allocation.WeightsFromMap(totals) {
		if w.Value.IsZero() {
			continue
		}
		a.upsert(ctx, in, &c, core.DerivedExpense{
			NaturalKey:  reconcile.AdSpendKey(w.Group, in.period),
			Name:        w.Group,
			Description: core.Describe(core.KindAdSpend, w.Group, in.period),
			Project:     w.Group,
			Category:    core.CategoryAdvertising,
			Amount:      w.Value,
			Period:      in.period,
			Kind:        core.KindAdSpend,
		})
	}
	return c, nil
}

// projects returns every known project: those the source lists plus the
// ones with sales this period.
func (a *Allocator) projects(ctx context.Context, in *inputs) ([]string, error) {
	known, err := a.source.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: projects: %w", core.ErrLookupFailure, err)
	}
	// Unreadable sales only narrow the project list.
	sales, _ := in.validSales(ctx)
	for _, s := range sales {
		known = append(known, s.Project)
	}
	return known, nil
}
