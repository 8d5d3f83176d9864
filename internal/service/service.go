package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"stokcabang/backend/internal/cache"
	"stokcabang/backend/internal/domain"
	"stokcabang/backend/internal/rebalance"
	"stokcabang/backend/internal/store"
	"stokcabang/backend/internal/xid"
)

// ErrNotAuthorized is returned when the actor's role or branch does not
// permit the operation.
var ErrNotAuthorized = errors.New("not authorized")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo        store.Repository
	healthCache cache.StockHealthCache
	cacheTTL    time.Duration
	windowDays  int
}

func New(repo store.Repository, healthCache cache.StockHealthCache, cacheTTL time.Duration, windowDays int) *Service {
	if healthCache == nil {
		healthCache = cache.NoopStockHealthCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 60 * time.Second
	}
	if windowDays < 1 {
		windowDays = rebalance.DefaultSalesWindowDays
	}

	return &Service{
		repo:        repo,
		healthCache: healthCache,
		cacheTTL:    cacheTTL,
		windowDays:  windowDays,
	}
}

func (s *Service) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	return s.repo.ListBranches(ctx)
}

func (s *Service) CreateBranch(ctx context.Context, req domain.BranchCreateRequest) (domain.Branch, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Branch{}, fmt.Errorf("%w: admin role required", ErrNotAuthorized)
	}

	req.Name = strings.TrimSpace(req.Name)
	req.City = strings.TrimSpace(req.City)
	if req.Name == "" {
		return domain.Branch{}, store.ErrInvalid
	}

	created, err := s.repo.CreateBranch(ctx, domain.Branch{
		Name:   req.Name,
		City:   req.City,
		Active: true,
	})
	if err != nil {
		return domain.Branch{}, err
	}

	s.logAudit(ctx, "branch.create", "branch", created.ID, fmt.Sprintf("name=%s city=%s", created.Name, created.City))
	return *created, nil
}

func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	return s.repo.ListItems(ctx)
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Item{}, fmt.Errorf("%w: admin role required", ErrNotAuthorized)
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" || req.UnitPriceCents < 1 {
		return domain.Item{}, store.ErrInvalid
	}

	created, err := s.repo.CreateItem(ctx, domain.Item{
		Name:           req.Name,
		Category:       req.Category,
		UnitPriceCents: req.UnitPriceCents,
		Active:         true,
	})
	if err != nil {
		return domain.Item{}, err
	}

	s.logAudit(ctx, "item.create", "item", created.ID, fmt.Sprintf("name=%s price=%d", created.Name, created.UnitPriceCents))
	return *created, nil
}

func (s *Service) ListBranchInventory(ctx context.Context, branchID string) ([]domain.InventoryRecord, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrNotAuthorized
	}
	if actor.Role == domain.RoleManager {
		branchID = actor.BranchID
	}
	if branchID == "" {
		return nil, store.ErrInvalid
	}
	return s.repo.ListInventoryByBranch(ctx, branchID)
}

func (s *Service) ReceiveStock(ctx context.Context, req domain.StockReceiveRequest) (domain.InventoryRecord, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.InventoryRecord{}, ErrNotAuthorized
	}
	if actor.Role == domain.RoleManager {
		req.BranchID = actor.BranchID
	}
	if req.BranchID == "" || req.ItemID == "" {
		return domain.InventoryRecord{}, store.ErrInvalid
	}

	rec, err := s.repo.ReceiveStock(ctx, req.BranchID, req.ItemID, req.Quantity, time.Now().UTC())
	if err != nil {
		return domain.InventoryRecord{}, err
	}

	s.invalidateStockHealth(ctx, req.BranchID)
	s.logAudit(ctx, "inventory.receive", "inventory", req.BranchID+"/"+req.ItemID, fmt.Sprintf("qty=%d", req.Quantity))
	return *rec, nil
}

func (s *Service) RecordSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleRecord, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SaleRecord{}, ErrNotAuthorized
	}
	if actor.Role == domain.RoleManager {
		req.BranchID = actor.BranchID
	}
	if req.BranchID == "" || req.ItemID == "" {
		return domain.SaleRecord{}, store.ErrInvalid
	}

	sale, err := s.repo.CreateSale(ctx, domain.SaleRecord{
		BranchID:         req.BranchID,
		ItemID:           req.ItemID,
		QuantitySold:     req.QuantitySold,
		TotalAmountCents: req.TotalAmountCents,
		PaymentMode:      strings.TrimSpace(req.PaymentMode),
		CreatedBy:        actor.Username,
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		return domain.SaleRecord{}, err
	}

	s.invalidateStockHealth(ctx, req.BranchID)
	return *sale, nil
}

// StockHealth computes the classified metric for every item of one branch,
// or for every branch when branchID is empty (admin only). Snapshots are
// cached briefly; any stock movement on the branch invalidates them.
func (s *Service) StockHealth(ctx context.Context, branchID string) (domain.StockHealthResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.StockHealthResponse{}, ErrNotAuthorized
	}
	if actor.Role == domain.RoleManager {
		branchID = actor.BranchID
	}

	key := stockHealthKey(branchID)
	if cached, hit, err := s.healthCache.Get(ctx, key); err == nil && hit {
		return *cached, nil
	}

	branches, err := s.branchesInScope(ctx, branchID)
	if err != nil {
		return domain.StockHealthResponse{}, err
	}
	items, err := s.repo.ListItems(ctx)
	if err != nil {
		return domain.StockHealthResponse{}, err
	}

	now := time.Now().UTC()
	metrics := make([]domain.BranchItemMetric, 0, len(branches)*len(items))
	for _, branch := range branches {
		for _, item := range items {
			metric, err := s.metricFor(ctx, branch, item, now)
			if err != nil {
				return domain.StockHealthResponse{}, err
			}
			metrics = append(metrics, metric)
		}
	}

	resp := domain.StockHealthResponse{
		GeneratedAt: now.Format(time.RFC3339),
		Metrics:     metrics,
	}
	if err := s.healthCache.Set(ctx, key, &resp, s.cacheTTL); err != nil {
		log.Printf("[service] WARN: failed to cache stock health for %q: %v", key, err)
	}
	return resp, nil
}

// RunRebalanceBatch performs one full matching pass: classify every
// (branch, item) pair, pair shortages with surpluses, and persist a pending
// recommendation per match. Routes that already carry a pending
// recommendation are skipped, which makes re-running the batch idempotent
// while nothing is settled.
func (s *Service) RunRebalanceBatch(ctx context.Context) (*domain.RebalanceRunResult, error) {
	startedAt := time.Now().UTC()

	items, err := s.repo.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	branches, err := s.repo.ListBranches(ctx)
	if err != nil {
		return nil, err
	}

	// One item failing must not starve the rest of the catalog until the
	// next tick: log it, count it, and keep matching.
	created, skipped, failed := 0, 0, 0
	for _, item := range items {
		itemCreated, itemSkipped, err := s.matchItem(ctx, item, branches, startedAt)
		created += itemCreated
		skipped += itemSkipped
		if err != nil {
			failed++
			log.Printf("[service] WARN: rebalance matching failed for item=%s: %v", item.ID, err)
		}
	}

	finishedAt := time.Now().UTC()
	s.invalidateStockHealth(ctx, "")
	s.logAudit(ctx, "rebalance.run", "rebalance", "", fmt.Sprintf("items=%d branches=%d created=%d skipped=%d failed=%d",
		len(items), len(branches), created, skipped, failed))

	return &domain.RebalanceRunResult{
		ItemsScanned:           len(items),
		BranchesScanned:        len(branches),
		RecommendationsCreated: created,
		SkippedExisting:        skipped,
		ItemsFailed:            failed,
		StartedAt:              startedAt.Format(time.RFC3339),
		FinishedAt:             finishedAt.Format(time.RFC3339),
	}, nil
}

// matchItem classifies one item across all branches and persists a pending
// recommendation per matched route. Counts accumulated before an error are
// returned alongside it so the batch totals stay truthful.
func (s *Service) matchItem(ctx context.Context, item domain.Item, branches []domain.Branch, startedAt time.Time) (int, int, error) {
	metrics := make([]domain.BranchItemMetric, 0, len(branches))
	for _, branch := range branches {
		metric, err := s.metricFor(ctx, branch, item, startedAt)
		if err != nil {
			return 0, 0, err
		}
		metrics = append(metrics, metric)
	}

	proposals, skipped, err := rebalance.Match(metrics, func(from, to string) (bool, error) {
		return s.repo.HasPendingRecommendation(ctx, item.ID, from, to)
	})
	if err != nil {
		return 0, skipped, err
	}

	created := 0
	for _, p := range proposals {
		rec, err := s.repo.CreateRecommendation(ctx, domain.TransferRecommendation{
			ItemID:            p.ItemID,
			FromBranchID:      p.FromBranchID,
			ToBranchID:        p.ToBranchID,
			SuggestedQuantity: p.Quantity,
			Reason:            p.Reason,
			UrgencyLevel:      p.UrgencyLevel,
			CreatedAt:         startedAt,
		})
		if err != nil {
			return created, skipped, err
		}
		created++
		s.notifyRecommendation(ctx, rec, p)
	}

	return created, skipped, nil
}

func (s *Service) ListRecommendations(ctx context.Context, filter domain.TransferFilter) ([]domain.TransferRecommendation, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrNotAuthorized
	}
	if actor.Role == domain.RoleManager {
		filter.BranchID = actor.BranchID
	}
	return s.repo.ListRecommendations(ctx, filter)
}

func (s *Service) ApproveRecommendation(ctx context.Context, id string) (*store.Settlement, error) {
	actor, err := s.settlementActor(ctx)
	if err != nil {
		return nil, err
	}

	rec, err := s.repo.GetRecommendation(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == domain.RoleManager && actor.BranchID != rec.FromBranchID && actor.BranchID != rec.ToBranchID {
		return nil, fmt.Errorf("%w: recommendation does not involve your branch", ErrNotAuthorized)
	}

	settled, err := s.repo.ApproveRecommendation(ctx, id, actor, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	s.invalidateStockHealth(ctx, rec.FromBranchID, rec.ToBranchID)
	return settled, nil
}

func (s *Service) RejectRecommendation(ctx context.Context, id string, reason string) (*store.Settlement, error) {
	actor, err := s.settlementActor(ctx)
	if err != nil {
		return nil, err
	}

	rec, err := s.repo.GetRecommendation(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == domain.RoleManager && actor.BranchID != rec.FromBranchID && actor.BranchID != rec.ToBranchID {
		return nil, fmt.Errorf("%w: recommendation does not involve your branch", ErrNotAuthorized)
	}

	return s.repo.RejectRecommendation(ctx, id, actor, strings.TrimSpace(reason), time.Now().UTC())
}

// CreateTransferRequest raises a manual ask for stock: the actor's branch
// receives, the target branch donates. Admins must name the requesting
// branch explicitly.
func (s *Service) CreateTransferRequest(ctx context.Context, req domain.TransferRequestCreate) (domain.TransferRequest, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.TransferRequest{}, ErrNotAuthorized
	}
	if actor.Role == domain.RoleManager {
		req.RequestedByBranchID = actor.BranchID
	}
	if req.RequestedByBranchID == "" || req.TargetBranchID == "" || req.ItemID == "" {
		return domain.TransferRequest{}, store.ErrInvalid
	}

	created, err := s.repo.CreateRequest(ctx, domain.TransferRequest{
		RequestedByBranchID: req.RequestedByBranchID,
		TargetBranchID:      req.TargetBranchID,
		ItemID:              req.ItemID,
		Quantity:            req.Quantity,
		Reason:              strings.TrimSpace(req.Reason),
		CreatedAt:           time.Now().UTC(),
	})
	if err != nil {
		return domain.TransferRequest{}, err
	}

	s.notifyRequest(ctx, created)
	s.logAudit(ctx, "transfer.request.create", "request", created.ID,
		fmt.Sprintf("item=%s qty=%d from=%s to=%s", created.ItemID, created.Quantity, created.TargetBranchID, created.RequestedByBranchID))
	return *created, nil
}

func (s *Service) ListRequests(ctx context.Context, filter domain.TransferFilter) ([]domain.TransferRequest, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrNotAuthorized
	}
	if actor.Role == domain.RoleManager {
		filter.BranchID = actor.BranchID
	}
	return s.repo.ListRequests(ctx, filter)
}

// ApproveRequest settles a manual request. Only an admin or the manager of
// the donating (target) branch may approve, since that branch gives up the
// stock.
func (s *Service) ApproveRequest(ctx context.Context, id string) (*store.Settlement, error) {
	actor, err := s.settlementActor(ctx)
	if err != nil {
		return nil, err
	}

	req, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == domain.RoleManager && actor.BranchID != req.TargetBranchID {
		return nil, fmt.Errorf("%w: only the donating branch can approve this request", ErrNotAuthorized)
	}

	settled, err := s.repo.ApproveRequest(ctx, id, actor, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	s.invalidateStockHealth(ctx, req.TargetBranchID, req.RequestedByBranchID)
	return settled, nil
}

func (s *Service) RejectRequest(ctx context.Context, id string, reason string) (*store.Settlement, error) {
	actor, err := s.settlementActor(ctx)
	if err != nil {
		return nil, err
	}

	req, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == domain.RoleManager && actor.BranchID != req.TargetBranchID {
		return nil, fmt.Errorf("%w: only the donating branch can reject this request", ErrNotAuthorized)
	}

	return s.repo.RejectRequest(ctx, id, actor, strings.TrimSpace(reason), time.Now().UTC())
}

func (s *Service) ListNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrNotAuthorized
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	if actor.Role == domain.RoleAdmin {
		return s.repo.ListNotifications(ctx, "", true, limit)
	}
	return s.repo.ListNotifications(ctx, actor.BranchID, false, limit)
}

func (s *Service) MarkNotificationRead(ctx context.Context, id string) error {
	if _, ok := ActorFromContext(ctx); !ok {
		return ErrNotAuthorized
	}
	return s.repo.MarkNotificationRead(ctx, id)
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: admin role required", ErrNotAuthorized)
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}

	var from, to time.Time
	if date != "" {
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalid
		}
		from = day
		to = day.Add(24 * time.Hour)
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) settlementActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrNotAuthorized
	}
	if actor.Role != domain.RoleAdmin && actor.Role != domain.RoleManager {
		return domain.Actor{}, fmt.Errorf("%w: admin or manager role required", ErrNotAuthorized)
	}
	return actor, nil
}

func (s *Service) branchesInScope(ctx context.Context, branchID string) ([]domain.Branch, error) {
	if branchID == "" {
		return s.repo.ListBranches(ctx)
	}
	branch, err := s.repo.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	return []domain.Branch{*branch}, nil
}

func (s *Service) metricFor(ctx context.Context, branch domain.Branch, item domain.Item, now time.Time) (domain.BranchItemMetric, error) {
	stock := 0
	inv, err := s.repo.GetInventory(ctx, branch.ID, item.ID)
	switch {
	case err == nil:
		stock = inv.Quantity
	case errors.Is(err, store.ErrNotFound):
		// No record yet means the branch never held this item.
	default:
		return domain.BranchItemMetric{}, err
	}

	since := now.AddDate(0, 0, -s.windowDays)
	sold, err := s.repo.SumQuantitySold(ctx, branch.ID, item.ID, since)
	if err != nil {
		return domain.BranchItemMetric{}, err
	}

	return rebalance.Classify(domain.BranchItemMetric{
		BranchID:      branch.ID,
		BranchName:    branch.Name,
		ItemID:        item.ID,
		ItemName:      item.Name,
		CurrentStock:  stock,
		AvgDailySales: float64(sold) / float64(s.windowDays),
	}), nil
}

// notifyRecommendation fans the new-recommendation notice out to the admins
// and both involved branch managers. Failures are logged, not fatal: the
// recommendation itself is already persisted.
func (s *Service) notifyRecommendation(ctx context.Context, rec *domain.TransferRecommendation, p rebalance.Proposal) {
	title := "New Transfer Recommendation"
	message := fmt.Sprintf("%s has low stock of %s. Suggested transfer of %d units from %s.",
		p.ToBranchName, p.ItemName, rec.SuggestedQuantity, p.FromBranchName)

	for _, branchID := range []string{"", rec.FromBranchID, rec.ToBranchID} {
		err := s.repo.CreateNotification(ctx, domain.Notification{
			BranchID:  branchID,
			Title:     title,
			Message:   message,
			Kind:      domain.NotifyTransferRecommendation,
			CreatedAt: rec.CreatedAt,
		})
		if err != nil {
			log.Printf("[service] WARN: failed to create notification for rec=%s branch=%q: %v", rec.ID, branchID, err)
		}
	}
}

func (s *Service) notifyRequest(ctx context.Context, req *domain.TransferRequest) {
	title := "New Stock Request"
	message := fmt.Sprintf("%s requested %d units of %s from %s.",
		req.RequestedByBranchID, req.Quantity, req.ItemID, req.TargetBranchID)
	if item, err := s.repo.GetItem(ctx, req.ItemID); err == nil {
		fromName, toName := req.TargetBranchID, req.RequestedByBranchID
		if b, err := s.repo.GetBranch(ctx, req.TargetBranchID); err == nil {
			fromName = b.Name
		}
		if b, err := s.repo.GetBranch(ctx, req.RequestedByBranchID); err == nil {
			toName = b.Name
		}
		message = fmt.Sprintf("%s requested %d units of %s from %s.", toName, req.Quantity, item.Name, fromName)
	}

	for _, branchID := range []string{"", req.TargetBranchID} {
		err := s.repo.CreateNotification(ctx, domain.Notification{
			BranchID:  branchID,
			Title:     title,
			Message:   message,
			Kind:      domain.NotifyTransferRequest,
			CreatedAt: req.CreatedAt,
		})
		if err != nil {
			log.Printf("[service] WARN: failed to create notification for request=%s branch=%q: %v", req.ID, branchID, err)
		}
	}
}

func (s *Service) invalidateStockHealth(ctx context.Context, branchIDs ...string) {
	keys := []string{stockHealthKey("")}
	for _, branchID := range branchIDs {
		if branchID != "" {
			keys = append(keys, stockHealthKey(branchID))
		}
	}
	if err := s.healthCache.Invalidate(ctx, keys...); err != nil {
		log.Printf("[service] WARN: failed to invalidate stock health cache: %v", err)
	}
}

func stockHealthKey(branchID string) string {
	if branchID == "" {
		return "stokcabang:stockhealth:all"
	}
	return "stokcabang:stockhealth:" + branchID
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
