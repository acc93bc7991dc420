package earnings

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/earnings-engine/split"
)

// Resolver resolves the employee share in force on a date. Satisfied by
// *split.Ledger.
type Resolver interface {
	Resolve(ctx context.Context, d split.Date) (decimal.Decimal, error)
}

// Aggregator computes earnings statistics against a percentage resolver.
// Stateless and safe for concurrent use.
type Aggregator struct {
	resolver Resolver
}

func NewAggregator(r Resolver) *Aggregator {
	return &Aggregator{resolver: r}
}

// percentages resolves each distinct date once per computation. If the
// resolver fails the whole computation fails; defaulting silently would
// produce stats that look right and are wrong.
type percentages struct {
	resolver Resolver
	byDate   map[split.Date]decimal.Decimal
}

func (p *percentages) at(ctx context.Context, d split.Date) (decimal.Decimal, error) {
	if pct, ok := p.byDate[d]; ok {
		return pct, nil
	}
	pct, err := p.resolver.Resolve(ctx, d)
	if err != nil {
		return decimal.Zero, fmt.Errorf("resolve percentage for %s: %w", d, err)
	}
	p.byDate[d] = pct
	return pct, nil
}

func (a *Aggregator) newPercentages() *percentages {
	return &percentages{resolver: a.resolver, byDate: make(map[split.Date]decimal.Decimal)}
}

// StatsForUser computes TotalServices, TotalEarnings and UserShare for a
// single user's records. Record order does not affect the result.
func (a *Aggregator) StatsForUser(ctx context.Context, records []ServiceRecord) (UserStats, error) {
	return a.accumulate(ctx, a.newPercentages(), records)
}

func (a *Aggregator) accumulate(ctx context.Context, pcts *percentages, records []ServiceRecord) (UserStats, error) {
	stats := UserStats{
		TotalServices: len(records),
		TotalEarnings: decimal.Zero,
		UserShare:     decimal.Zero,
	}
	for _, rec := range records {
		pct, err := pcts.at(ctx, rec.Date)
		if err != nil {
			return UserStats{}, err
		}
		stats.TotalEarnings = stats.TotalEarnings.Add(rec.Earnings)
		stats.UserShare = stats.UserShare.Add(rec.Earnings.Mul(pct))
	}
	return stats, nil
}

// StatsForAllEmployees groups records by owner and computes stats for
// every employee, including those with zero records. The result is
// ordered by username for reproducible output.
func (a *Aggregator) StatsForAllEmployees(ctx context.Context, employees []Employee, records []ServiceRecord) ([]EmployeeStats, error) {
	byOwner := make(map[string][]ServiceRecord)
	for _, rec := range records {
		key := rec.UserID.String()
		byOwner[key] = append(byOwner[key], rec)
	}

	pcts := a.newPercentages()
	out := make([]EmployeeStats, 0, len(employees))
	for _, emp := range employees {
		stats, err := a.accumulate(ctx, pcts, byOwner[emp.ID.String()])
		if err != nil {
			return nil, err
		}
		out = append(out, EmployeeStats{
			UserID:    emp.ID,
			Username:  emp.Username,
			UserStats: stats,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// GlobalStats computes the business-side totals in a single pass:
// admin share per record plus the count of distinct users with at least
// one record.
func (a *Aggregator) GlobalStats(ctx context.Context, records []ServiceRecord) (GlobalStats, error) {
	one := decimal.NewFromInt(1)
	pcts := a.newPercentages()

	stats := GlobalStats{
		TotalAdminEarnings: decimal.Zero,
		TotalServices:      len(records),
	}
	owners := make(map[string]struct{})
	for _, rec := range records {
		pct, err := pcts.at(ctx, rec.Date)
		if err != nil {
			return GlobalStats{}, err
		}
		stats.TotalAdminEarnings = stats.TotalAdminEarnings.Add(rec.Earnings.Mul(one.Sub(pct)))
		owners[rec.UserID.String()] = struct{}{}
	}
	stats.ActiveEmployees = len(owners)
	return stats, nil
}
