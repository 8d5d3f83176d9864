package rebalance

import (
	"math"
	"testing"

	"stokcabang/backend/internal/domain"
)

func metric(branchID string, stock int, avg float64) domain.BranchItemMetric {
	return Classify(domain.BranchItemMetric{
		BranchID:      branchID,
		BranchName:    "Branch " + branchID,
		ItemID:        "item-1",
		ItemName:      "Beras 5kg",
		CurrentStock:  stock,
		AvgDailySales: avg,
	})
}

func TestClassifyLowStock(t *testing.T) {
	m := metric("a", 10, 10)
	if m.Status != domain.StockLow {
		t.Fatalf("expected LOW_STOCK, got %s", m.Status)
	}
	if m.DaysRemaining != 1 {
		t.Fatalf("expected 1 day remaining, got %v", m.DaysRemaining)
	}
	if m.RequiredStock != 60 {
		t.Fatalf("expected required stock 60, got %d", m.RequiredStock)
	}
}

func TestClassifySurplus(t *testing.T) {
	m := metric("a", 150, 10)
	if m.Status != domain.StockSurplus {
		t.Fatalf("expected SURPLUS, got %s", m.Status)
	}
	if m.ExcessStock != 50 {
		t.Fatalf("expected excess 50, got %d", m.ExcessStock)
	}
}

func TestClassifyBoundariesAreHealthy(t *testing.T) {
	// Exactly 3 days of cover is not low stock.
	if m := metric("a", 30, 10); m.Status != domain.StockHealthy {
		t.Fatalf("3 days remaining should be HEALTHY, got %s", m.Status)
	}
	// Exactly 10 days of cover is not surplus.
	if m := metric("a", 100, 10); m.Status != domain.StockHealthy {
		t.Fatalf("10 days remaining should be HEALTHY, got %s", m.Status)
	}
}

func TestClassifyNeutralZeroStockZeroSales(t *testing.T) {
	m := metric("a", 0, 0)
	if m.Status != domain.StockHealthy {
		t.Fatalf("zero stock, zero sales should be HEALTHY, got %s", m.Status)
	}
	if m.DaysRemaining != 0 {
		t.Fatalf("expected 0 days remaining, got %v", m.DaysRemaining)
	}
}

func TestClassifyNoSalesWithStockIsSurplus(t *testing.T) {
	m := metric("a", 40, 0)
	if !math.IsInf(m.DaysRemaining, 1) {
		t.Fatalf("expected unbounded days remaining, got %v", m.DaysRemaining)
	}
	if m.Status != domain.StockSurplus {
		t.Fatalf("expected SURPLUS, got %s", m.Status)
	}
	if m.ExcessStock != 40 {
		t.Fatalf("expected full stock as excess, got %d", m.ExcessStock)
	}
}

func TestUrgencyGrading(t *testing.T) {
	if got := UrgencyFor(0.5); got != domain.UrgencyCritical {
		t.Fatalf("expected CRITICAL, got %s", got)
	}
	if got := UrgencyFor(1.5); got != domain.UrgencyHigh {
		t.Fatalf("expected HIGH, got %s", got)
	}
	if got := UrgencyFor(2.5); got != domain.UrgencyMedium {
		t.Fatalf("expected MEDIUM, got %s", got)
	}
}

func TestMatchSingleDonorLeavesUnmetNeed(t *testing.T) {
	metrics := []domain.BranchItemMetric{
		metric("a", 150, 10), // surplus, excess 50
		metric("b", 10, 10),  // low, required 60
	}

	proposals, skipped, err := Match(metrics, nil)
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if skipped != 0 {
		t.Fatalf("expected no skips, got %d", skipped)
	}
	if len(proposals) != 1 {
		t.Fatalf("expected one proposal, got %d", len(proposals))
	}

	p := proposals[0]
	if p.FromBranchID != "a" || p.ToBranchID != "b" {
		t.Fatalf("unexpected route %s -> %s", p.FromBranchID, p.ToBranchID)
	}
	if p.Quantity != 50 {
		t.Fatalf("expected quantity capped at donor excess 50, got %d", p.Quantity)
	}
	if p.UrgencyLevel != domain.UrgencyHigh {
		t.Fatalf("expected HIGH urgency for 1 day remaining, got %s", p.UrgencyLevel)
	}
}

func TestMatchDrainsLargestDonorFirst(t *testing.T) {
	metrics := []domain.BranchItemMetric{
		metric("small", 120, 1), // excess 110
		metric("big", 300, 1),   // excess 290
		metric("low", 1, 2),     // required 13
	}

	proposals, _, err := Match(metrics, nil)
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if len(proposals) != 1 {
		t.Fatalf("expected one proposal, got %d", len(proposals))
	}
	if proposals[0].FromBranchID != "big" {
		t.Fatalf("expected largest donor first, got %s", proposals[0].FromBranchID)
	}
	if proposals[0].Quantity != 13 {
		t.Fatalf("expected full need 13, got %d", proposals[0].Quantity)
	}
}

func TestMatchSplitsAcrossDonors(t *testing.T) {
	metrics := []domain.BranchItemMetric{
		metric("d1", 130, 1), // excess 120
		metric("d2", 40, 0),  // excess 40
		metric("low", 0, 30), // required 210
	}

	proposals, _, err := Match(metrics, nil)
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if len(proposals) != 2 {
		t.Fatalf("expected two proposals, got %d", len(proposals))
	}

	total := 0
	for _, p := range proposals {
		total += p.Quantity
		if p.ToBranchID != "low" {
			t.Fatalf("unexpected destination %s", p.ToBranchID)
		}
	}
	if total != 160 {
		t.Fatalf("expected combined quantity 160, got %d", total)
	}
}

func TestMatchSkipsRoutesWithPendingRecommendation(t *testing.T) {
	metrics := []domain.BranchItemMetric{
		metric("a", 150, 10),
		metric("b", 10, 10),
	}

	proposals, skipped, err := Match(metrics, func(from, to string) (bool, error) {
		return from == "a" && to == "b", nil
	})
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if len(proposals) != 0 {
		t.Fatalf("expected no proposals on duplicate route, got %d", len(proposals))
	}
	if skipped != 1 {
		t.Fatalf("expected one skipped route, got %d", skipped)
	}
}

func TestMatchIgnoresHealthyBranches(t *testing.T) {
	metrics := []domain.BranchItemMetric{
		metric("a", 30, 10), // healthy, exactly on the boundary
		metric("b", 10, 10), // low
	}

	proposals, _, err := Match(metrics, nil)
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if len(proposals) != 0 {
		t.Fatalf("healthy branch must not donate, got %d proposals", len(proposals))
	}
}
