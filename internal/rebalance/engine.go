package rebalance

import (
	"fmt"
	"math"
	"sort"

	"stokcabang/backend/internal/domain"
)

// DefaultSalesWindowDays is the trailing window the velocity estimate
// averages over when no other window is configured.
const DefaultSalesWindowDays = 7

const (
	lowStockDays    = 3.0
	surplusDays     = 10.0
	targetCoverDays = 7.0
)

// Classify derives the stock-health fields of a metric from CurrentStock and
// AvgDailySales. Thresholds are strict: a branch sitting exactly on 3 or 10
// days of cover is HEALTHY. A branch with zero stock and zero sales is the
// neutral case: zero days remaining but not actionable, so HEALTHY.
func Classify(m domain.BranchItemMetric) domain.BranchItemMetric {
	stock := m.CurrentStock
	avg := m.AvgDailySales

	switch {
	case avg > 0:
		m.DaysRemaining = float64(stock) / avg
	case stock == 0:
		m.DaysRemaining = 0
	default:
		m.DaysRemaining = math.Inf(1)
	}

	m.Status = domain.StockHealthy
	m.RequiredStock = 0
	m.ExcessStock = 0

	if m.DaysRemaining < lowStockDays && avg > 0 {
		m.Status = domain.StockLow
		m.RequiredStock = int(math.Ceil(targetCoverDays*avg - float64(stock)))
	} else if m.DaysRemaining > surplusDays && stock > 0 {
		m.Status = domain.StockSurplus
		m.ExcessStock = int(math.Floor(float64(stock) - surplusDays*avg))
	}

	return m
}

// UrgencyFor grades a shortage by how soon the branch runs dry.
func UrgencyFor(daysRemaining float64) string {
	switch {
	case daysRemaining < 1:
		return domain.UrgencyCritical
	case daysRemaining < 2:
		return domain.UrgencyHigh
	default:
		return domain.UrgencyMedium
	}
}

// Proposal is one suggested transfer produced by Match. It is not yet
// persisted; the caller turns accepted proposals into recommendations.
type Proposal struct {
	ItemID         string
	ItemName       string
	FromBranchID   string
	FromBranchName string
	ToBranchID     string
	ToBranchName   string
	Quantity       int
	UrgencyLevel   string
	Reason         string
}

// PendingChecker reports whether a pending recommendation already exists for
// the (item, from, to) route, so the matcher does not duplicate it.
type PendingChecker func(fromBranchID, toBranchID string) (bool, error)

// Match greedily pairs low-stock branches with surplus branches for a single
// item. Surplus branches are drained largest excess first; each shortage
// takes min(still needed, remaining excess) per donor. A route with a
// pending recommendation is skipped without consuming either side's budget.
// Returns the proposals and the number of routes skipped as duplicates.
func Match(metrics []domain.BranchItemMetric, hasPending PendingChecker) ([]Proposal, int, error) {
	var lows, surpluses []domain.BranchItemMetric
	for _, m := range metrics {
		switch m.Status {
		case domain.StockLow:
			lows = append(lows, m)
		case domain.StockSurplus:
			surpluses = append(surpluses, m)
		}
	}

	sort.SliceStable(surpluses, func(i, j int) bool {
		return surpluses[i].ExcessStock > surpluses[j].ExcessStock
	})

	var proposals []Proposal
	skipped := 0

	for _, low := range lows {
		stillNeeded := low.RequiredStock

		for s := range surpluses {
			surplus := &surpluses[s]
			if stillNeeded <= 0 {
				break
			}
			if surplus.ExcessStock <= 0 || surplus.BranchID == low.BranchID {
				continue
			}

			if hasPending != nil {
				pending, err := hasPending(surplus.BranchID, low.BranchID)
				if err != nil {
					return nil, skipped, err
				}
				if pending {
					skipped++
					continue
				}
			}

			qty := stillNeeded
			if surplus.ExcessStock < qty {
				qty = surplus.ExcessStock
			}

			proposals = append(proposals, Proposal{
				ItemID:         low.ItemID,
				ItemName:       low.ItemName,
				FromBranchID:   surplus.BranchID,
				FromBranchName: surplus.BranchName,
				ToBranchID:     low.BranchID,
				ToBranchName:   low.BranchName,
				Quantity:       qty,
				UrgencyLevel:   UrgencyFor(low.DaysRemaining),
				Reason: fmt.Sprintf("%s has %.1f days of stock remaining, while %s has an excess of %d",
					low.BranchName, low.DaysRemaining, surplus.BranchName, surplus.ExcessStock),
			})

			surplus.ExcessStock -= qty
			stillNeeded -= qty
		}
	}

	return proposals, skipped, nil
}
