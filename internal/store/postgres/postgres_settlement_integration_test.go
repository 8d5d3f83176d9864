package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"stokcabang/backend/internal/domain"
	"stokcabang/backend/internal/store"
)

func TestApproveRecommendationMovesStockBetweenBranches(t *testing.T) {
	databaseURL := os.Getenv("STOKCABANG_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set STOKCABANG_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	fromBranch := fmt.Sprintf("branch-it-from-%d", stamp)
	toBranch := fmt.Sprintf("branch-it-to-%d", stamp)
	itemID := fmt.Sprintf("item-it-%d", stamp)
	recID := fmt.Sprintf("rec-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM notifications WHERE branch_id IN ($1, $2)`, fromBranch, toBranch)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE entity_id = $1`, recID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM transfer_recommendations WHERE id = $1`, recID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory WHERE branch_id IN ($1, $2)`, fromBranch, toBranch)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, itemID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM branches WHERE id IN ($1, $2)`, fromBranch, toBranch)
	})

	for _, b := range []domain.Branch{
		{ID: fromBranch, Name: "IT Donor", City: "Jakarta"},
		{ID: toBranch, Name: "IT Recipient", City: "Bandung"},
	} {
		if _, err := s.CreateBranch(ctx, b); err != nil {
			t.Fatalf("create branch %s: %v", b.ID, err)
		}
	}
	if _, err := s.CreateItem(ctx, domain.Item{ID: itemID, Name: "IT Beras", Category: "staple", UnitPriceCents: 100}); err != nil {
		t.Fatalf("create item: %v", err)
	}
	if _, err := s.ReceiveStock(ctx, fromBranch, itemID, 100, time.Now().UTC()); err != nil {
		t.Fatalf("seed donor stock: %v", err)
	}

	rec, err := s.CreateRecommendation(ctx, domain.TransferRecommendation{
		ID:                recID,
		ItemID:            itemID,
		FromBranchID:      fromBranch,
		ToBranchID:        toBranch,
		SuggestedQuantity: 40,
		Reason:            "integration seed",
		UrgencyLevel:      domain.UrgencyHigh,
	})
	if err != nil {
		t.Fatalf("create recommendation: %v", err)
	}

	actor := domain.Actor{Username: "it-admin", Role: domain.RoleAdmin}
	settled, err := s.ApproveRecommendation(ctx, rec.ID, actor, time.Now().UTC())
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if settled.SourceAfter != 60 {
		t.Fatalf("expected donor stock 60, got %d", settled.SourceAfter)
	}
	if settled.DestAfter != 40 {
		t.Fatalf("expected recipient stock 40, got %d", settled.DestAfter)
	}
	if settled.Recommendation.Status != domain.TransferApproved {
		t.Fatalf("expected APPROVED, got %s", settled.Recommendation.Status)
	}

	if _, err := s.ApproveRecommendation(ctx, rec.ID, actor, time.Now().UTC()); !errors.Is(err, store.ErrNotPending) {
		t.Fatalf("expected ErrNotPending on double approve, got %v", err)
	}

	dest, err := s.GetInventory(ctx, toBranch, itemID)
	if err != nil {
		t.Fatalf("get recipient inventory: %v", err)
	}
	if dest.Quantity != 40 {
		t.Fatalf("expected recipient row with quantity 40, got %d", dest.Quantity)
	}

	notifs, err := s.ListNotifications(ctx, fromBranch, false, 10)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notifs) == 0 {
		t.Fatalf("expected donor branch notification from settlement")
	}
}
