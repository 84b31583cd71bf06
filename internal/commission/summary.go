package commission

import (
	"sort"

	"github.com/boddenberg/commission-tracker-go/internal/domain"

	"github.com/shopspring/decimal"
)

// GroupByAgent rolls records up per agent, sorted by total commission
// descending, then by name.
func GroupByAgent(records []domain.CommissionRecord) []domain.AgentSummary {
	index := make(map[string]int)
	summaries := make([]domain.AgentSummary, 0)

	for _, rec := range records {
		i, ok := index[rec.AgentName]
		if !ok {
			i = len(summaries)
			index[rec.AgentName] = i
			summaries = append(summaries, domain.AgentSummary{
				AgentName:       rec.AgentName,
				Locations:       []domain.CommissionRecord{},
				TotalVolume:     decimal.Zero,
				TotalCommission: decimal.Zero,
			})
		}
		s := &summaries[i]
		s.IsRemainder = s.IsRemainder || rec.IsRemainder
		s.Locations = append(s.Locations, rec)
		s.TotalVolume = s.TotalVolume.Add(rec.LocationVolume)
		s.TotalCommission = s.TotalCommission.Add(rec.Payout())
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		if c := summaries[i].TotalCommission.Cmp(summaries[j].TotalCommission); c != 0 {
			return c > 0
		}
		return summaries[i].AgentName < summaries[j].AgentName
	})
	return summaries
}

// BuildDashboard computes the headline totals of a period. Each location's
// volume is counted once no matter how many agents share it.
func BuildDashboard(period domain.Period, records []domain.CommissionRecord, summaries []domain.AgentSummary, topN int) domain.DashboardStats {
	stats := domain.DashboardStats{
		Period:            period,
		TotalVolume:       decimal.Zero,
		TotalCommission:   decimal.Zero,
		AgentCount:        len(summaries),
		TopAgentsByVolume: []domain.AgentVolume{},
	}

	seen := make(map[string]bool)
	for _, rec := range records {
		stats.TotalCommission = stats.TotalCommission.Add(rec.Payout())
		if seen[rec.LocationID] {
			continue
		}
		seen[rec.LocationID] = true
		stats.TotalVolume = stats.TotalVolume.Add(rec.LocationVolume)
	}
	stats.LocationCount = len(seen)

	top := make([]domain.AgentVolume, 0, len(summaries))
	for _, s := range summaries {
		top = append(top, domain.AgentVolume{
			AgentName:     s.AgentName,
			Volume:        s.TotalVolume,
			Commission:    s.TotalCommission,
			LocationCount: len(s.Locations),
		})
	}
	sort.SliceStable(top, func(i, j int) bool {
		if c := top[i].Volume.Cmp(top[j].Volume); c != 0 {
			return c > 0
		}
		return top[i].AgentName < top[j].AgentName
	})
	if topN > 0 && len(top) > topN {
		top = top[:topN]
	}
	stats.TopAgentsByVolume = top
	return stats
}
