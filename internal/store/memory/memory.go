package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"stokcabang/backend/internal/domain"
	"stokcabang/backend/internal/store"
	"stokcabang/backend/internal/xid"
)

// Store is the in-memory repository used for dev mode and tests. A single
// mutex serializes all mutations, so every settlement observes the same
// all-or-nothing semantics the postgres store gets from transactions.
type Store struct {
	mu              sync.RWMutex
	branches        map[string]domain.Branch
	items           map[string]domain.Item
	inventory       map[string]map[string]domain.InventoryRecord
	sales           []domain.SaleRecord
	recommendations map[string]domain.TransferRecommendation
	requests        map[string]domain.TransferRequest
	notifications   []domain.Notification
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial accounts for dev/demo mode: one admin and one
// manager per seeded branch. Credentials come from SEED_ADMIN_PASSWORD and
// SEED_MANAGER_PASSWORD; hardcoded dev defaults are used with a warning when
// unset. The backend uses PostgreSQL when DATABASE_URL is set, so these never
// reach production.
func seedUsers(branchIDs []string) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_MANAGER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_MANAGER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}

	add := func(username, password, role, branchID string) {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", username, err)
		}
		users[username] = domain.UserAccount{
			Username:  username,
			Password:  string(hash),
			Role:      role,
			BranchID:  branchID,
			Active:    true,
			CreatedAt: now,
		}
	}

	add("admin", adminPwd, domain.RoleAdmin, "")
	for _, branchID := range branchIDs {
		add("manager-"+strings.TrimPrefix(branchID, "branch-"), managerPwd, domain.RoleManager, branchID)
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()

	branches := []domain.Branch{
		{ID: "branch-pusat", Name: "Cabang Pusat", City: "Jakarta", Active: true, CreatedAt: now},
		{ID: "branch-bandung", Name: "Cabang Bandung", City: "Bandung", Active: true, CreatedAt: now},
		{ID: "branch-surabaya", Name: "Cabang Surabaya", City: "Surabaya", Active: true, CreatedAt: now},
	}

	items := []domain.Item{
		{ID: "item-beras-5kg", Name: "Beras Premium 5kg", Category: "staple", UnitPriceCents: 7800000, Active: true, CreatedAt: now},
		{ID: "item-minyak-2l", Name: "Minyak Goreng 2L", Category: "staple", UnitPriceCents: 3650000, Active: true, CreatedAt: now},
		{ID: "item-gula-1kg", Name: "Gula Pasir 1kg", Category: "staple", UnitPriceCents: 1740000, Active: true, CreatedAt: now},
		{ID: "item-kopi-250g", Name: "Kopi Bubuk 250g", Category: "beverage", UnitPriceCents: 2850000, Active: true, CreatedAt: now},
		{ID: "item-teh-celup", Name: "Teh Celup 25s", Category: "beverage", UnitPriceCents: 980000, Active: true, CreatedAt: now},
		{ID: "item-kerupuk", Name: "Kerupuk Udang 500g", Category: "snack", UnitPriceCents: 2400000, Active: true, CreatedAt: now},
	}

	branchMap := make(map[string]domain.Branch, len(branches))
	branchIDs := make([]string, 0, len(branches))
	for _, b := range branches {
		branchMap[b.ID] = b
		branchIDs = append(branchIDs, b.ID)
	}

	itemMap := make(map[string]domain.Item, len(items))
	inventory := make(map[string]map[string]domain.InventoryRecord, len(branches))
	for _, b := range branches {
		inventory[b.ID] = make(map[string]domain.InventoryRecord, len(items))
	}
	for _, it := range items {
		itemMap[it.ID] = it
		for _, b := range branches {
			inventory[b.ID][it.ID] = domain.InventoryRecord{
				BranchID:    b.ID,
				ItemID:      it.ID,
				Quantity:    80,
				LastUpdated: now,
			}
		}
	}

	return &Store{
		branches:        branchMap,
		items:           itemMap,
		inventory:       inventory,
		sales:           make([]domain.SaleRecord, 0, 256),
		recommendations: make(map[string]domain.TransferRecommendation),
		requests:        make(map[string]domain.TransferRequest),
		notifications:   make([]domain.Notification, 0, 128),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(branchIDs),
	}
}

func (s *Store) CreateBranch(_ context.Context, branch domain.Branch) (*domain.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if branch.Name == "" {
		return nil, store.ErrInvalid
	}
	if branch.ID == "" {
		branch.ID = xid.New("branch")
	}
	if _, exists := s.branches[branch.ID]; exists {
		return nil, store.ErrInvalid
	}
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = time.Now().UTC()
	}
	branch.Active = true

	s.branches[branch.ID] = branch
	s.inventory[branch.ID] = make(map[string]domain.InventoryRecord)
	created := branch
	return &created, nil
}

func (s *Store) GetBranch(_ context.Context, id string) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branch, exists := s.branches[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyBranch := branch
	return &copyBranch, nil
}

func (s *Store) ListBranches(_ context.Context) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branches := make([]domain.Branch, 0, len(s.branches))
	for _, b := range s.branches {
		branches = append(branches, b)
	}
	slices.SortFunc(branches, func(a, b domain.Branch) int {
		return cmpString(a.Name, b.Name)
	})
	return branches, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.Name == "" || item.UnitPriceCents < 1 {
		return nil, store.ErrInvalid
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if _, exists := s.items[item.ID]; exists {
		return nil, store.ErrInvalid
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Active = true

	s.items[item.ID] = item
	created := item
	return &created, nil
}

func (s *Store) GetItem(_ context.Context, id string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.items[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyItem := item
	return &copyItem, nil
}

func (s *Store) ListItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.items))
	for _, it := range s.items {
		if !it.Active {
			continue
		}
		items = append(items, it)
	}
	slices.SortFunc(items, func(a, b domain.Item) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})
	return items, nil
}

func (s *Store) GetInventory(_ context.Context, branchID string, itemID string) (*domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.inventory[branchID][itemID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyRec := rec
	return &copyRec, nil
}

func (s *Store) ListInventoryByBranch(_ context.Context, branchID string) ([]domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byItem, exists := s.inventory[branchID]
	if !exists {
		return nil, store.ErrNotFound
	}
	records := make([]domain.InventoryRecord, 0, len(byItem))
	for _, rec := range byItem {
		records = append(records, rec)
	}
	slices.SortFunc(records, func(a, b domain.InventoryRecord) int {
		return cmpString(a.ItemID, b.ItemID)
	})
	return records, nil
}

func (s *Store) ListInventory(_ context.Context) ([]domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []domain.InventoryRecord
	for _, byItem := range s.inventory {
		for _, rec := range byItem {
			records = append(records, rec)
		}
	}
	slices.SortFunc(records, func(a, b domain.InventoryRecord) int {
		if a.BranchID == b.BranchID {
			return cmpString(a.ItemID, b.ItemID)
		}
		return cmpString(a.BranchID, b.BranchID)
	})
	return records, nil
}

func (s *Store) ReceiveStock(_ context.Context, branchID string, itemID string, qty int, at time.Time) (*domain.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if qty < 1 {
		return nil, store.ErrInvalid
	}
	if _, exists := s.branches[branchID]; !exists {
		return nil, store.ErrNotFound
	}
	if _, exists := s.items[itemID]; !exists {
		return nil, store.ErrNotFound
	}

	rec := s.creditLocked(branchID, itemID, qty, at)
	return &rec, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.SaleRecord) (*domain.SaleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.QuantitySold < 1 || sale.TotalAmountCents < 0 {
		return nil, store.ErrInvalid
	}
	if _, exists := s.branches[sale.BranchID]; !exists {
		return nil, store.ErrNotFound
	}
	if _, exists := s.items[sale.ItemID]; !exists {
		return nil, store.ErrNotFound
	}

	current, exists := s.inventory[sale.BranchID][sale.ItemID]
	if !exists || current.Quantity < sale.QuantitySold {
		return nil, store.ErrInsufficientStock
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	current.Quantity -= sale.QuantitySold
	current.LastUpdated = sale.CreatedAt
	s.inventory[sale.BranchID][sale.ItemID] = current
	s.sales = append(s.sales, sale)

	created := sale
	return &created, nil
}

func (s *Store) SumQuantitySold(_ context.Context, branchID string, itemID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, sale := range s.sales {
		if sale.BranchID != branchID || sale.ItemID != itemID {
			continue
		}
		if sale.CreatedAt.Before(since) {
			continue
		}
		total += sale.QuantitySold
	}
	return total, nil
}

func (s *Store) CreateRecommendation(_ context.Context, rec domain.TransferRecommendation) (*domain.TransferRecommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.SuggestedQuantity < 1 {
		return nil, store.ErrInvalid
	}
	if rec.FromBranchID == rec.ToBranchID {
		return nil, store.ErrSameBranch
	}
	if _, exists := s.branches[rec.FromBranchID]; !exists {
		return nil, store.ErrNotFound
	}
	if _, exists := s.branches[rec.ToBranchID]; !exists {
		return nil, store.ErrNotFound
	}
	if _, exists := s.items[rec.ItemID]; !exists {
		return nil, store.ErrNotFound
	}

	if rec.ID == "" {
		rec.ID = xid.New("rec")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Status = domain.TransferPending

	s.recommendations[rec.ID] = rec
	created := rec
	return &created, nil
}

func (s *Store) GetRecommendation(_ context.Context, id string) (*domain.TransferRecommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.recommendations[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyRec := rec
	return &copyRec, nil
}

func (s *Store) ListRecommendations(_ context.Context, filter domain.TransferFilter) ([]domain.TransferRecommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []domain.TransferRecommendation
	for _, rec := range s.recommendations {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.BranchID != "" && rec.FromBranchID != filter.BranchID && rec.ToBranchID != filter.BranchID {
			continue
		}
		if filter.ItemID != "" && rec.ItemID != filter.ItemID {
			continue
		}
		recs = append(recs, rec)
	}
	slices.SortFunc(recs, func(a, b domain.TransferRecommendation) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if filter.Limit > 0 && len(recs) > filter.Limit {
		recs = recs[:filter.Limit]
	}
	return recs, nil
}

func (s *Store) HasPendingRecommendation(_ context.Context, itemID string, fromBranchID string, toBranchID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.recommendations {
		if rec.Status != domain.TransferPending {
			continue
		}
		if rec.ItemID == itemID && rec.FromBranchID == fromBranchID && rec.ToBranchID == toBranchID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ApproveRecommendation(_ context.Context, id string, actor domain.Actor, at time.Time) (*store.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.recommendations[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if rec.Status != domain.TransferPending {
		return nil, store.ErrNotPending
	}

	source, ok := s.inventory[rec.FromBranchID][rec.ItemID]
	if !ok || source.Quantity < rec.SuggestedQuantity {
		return nil, store.ErrInsufficientStock
	}

	source.Quantity -= rec.SuggestedQuantity
	source.LastUpdated = at
	s.inventory[rec.FromBranchID][rec.ItemID] = source
	dest := s.creditLocked(rec.ToBranchID, rec.ItemID, rec.SuggestedQuantity, at)

	rec.Status = domain.TransferApproved
	rec.SettledBy = actor.Username
	settledAt := at
	rec.SettledAt = &settledAt
	s.recommendations[id] = rec

	itemName := s.itemNameLocked(rec.ItemID)
	message := fmt.Sprintf("Transfer of %d x %s from %s to %s has been approved by %s.",
		rec.SuggestedQuantity, itemName, s.branchNameLocked(rec.FromBranchID), s.branchNameLocked(rec.ToBranchID), actor.Username)
	s.notifyTransferLocked("Transfer Approved", message, domain.NotifyTransferApproved, rec.FromBranchID, rec.ToBranchID, at)
	s.appendAuditLocked(actor, "transfer.recommendation.approve", "recommendation", rec.ID,
		fmt.Sprintf("item=%s qty=%d from=%s to=%s", rec.ItemID, rec.SuggestedQuantity, rec.FromBranchID, rec.ToBranchID), at)

	settledRec := rec
	return &store.Settlement{
		Recommendation: &settledRec,
		SourceAfter:    source.Quantity,
		DestAfter:      dest.Quantity,
	}, nil
}

func (s *Store) RejectRecommendation(_ context.Context, id string, actor domain.Actor, reason string, at time.Time) (*store.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.recommendations[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if rec.Status != domain.TransferPending {
		return nil, store.ErrNotPending
	}

	rec.Status = domain.TransferRejected
	rec.SettledBy = actor.Username
	settledAt := at
	rec.SettledAt = &settledAt
	if reason != "" {
		rec.Reason = rec.Reason + " | Rejected because: " + reason
	}
	s.recommendations[id] = rec

	message := fmt.Sprintf("Transfer of %d x %s from %s to %s was rejected by %s.",
		rec.SuggestedQuantity, s.itemNameLocked(rec.ItemID), s.branchNameLocked(rec.FromBranchID), s.branchNameLocked(rec.ToBranchID), actor.Username)
	if reason != "" {
		message += " Reason: " + reason
	}
	s.notifyTransferLocked("Transfer Rejected", message, domain.NotifyTransferRejected, rec.FromBranchID, rec.ToBranchID, at)
	s.appendAuditLocked(actor, "transfer.recommendation.reject", "recommendation", rec.ID,
		fmt.Sprintf("item=%s qty=%d from=%s to=%s reason=%q", rec.ItemID, rec.SuggestedQuantity, rec.FromBranchID, rec.ToBranchID, reason), at)

	settledRec := rec
	return &store.Settlement{Recommendation: &settledRec}, nil
}

func (s *Store) CreateRequest(_ context.Context, req domain.TransferRequest) (*domain.TransferRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Quantity < 1 {
		return nil, store.ErrInvalid
	}
	if req.RequestedByBranchID == req.TargetBranchID {
		return nil, store.ErrSameBranch
	}
	if _, exists := s.branches[req.RequestedByBranchID]; !exists {
		return nil, store.ErrNotFound
	}
	if _, exists := s.branches[req.TargetBranchID]; !exists {
		return nil, store.ErrNotFound
	}
	if _, exists := s.items[req.ItemID]; !exists {
		return nil, store.ErrNotFound
	}

	if req.ID == "" {
		req.ID = xid.New("req")
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	req.Status = domain.TransferPending

	s.requests[req.ID] = req
	created := req
	return &created, nil
}

func (s *Store) GetRequest(_ context.Context, id string) (*domain.TransferRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, exists := s.requests[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyReq := req
	return &copyReq, nil
}

func (s *Store) ListRequests(_ context.Context, filter domain.TransferFilter) ([]domain.TransferRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var reqs []domain.TransferRequest
	for _, req := range s.requests {
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.BranchID != "" && req.RequestedByBranchID != filter.BranchID && req.TargetBranchID != filter.BranchID {
			continue
		}
		if filter.ItemID != "" && req.ItemID != filter.ItemID {
			continue
		}
		reqs = append(reqs, req)
	}
	slices.SortFunc(reqs, func(a, b domain.TransferRequest) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if filter.Limit > 0 && len(reqs) > filter.Limit {
		reqs = reqs[:filter.Limit]
	}
	return reqs, nil
}

// ApproveRequest moves stock from the target branch (the donor) to the
// branch that raised the request.
func (s *Store) ApproveRequest(_ context.Context, id string, actor domain.Actor, at time.Time) (*store.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, exists := s.requests[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if req.Status != domain.TransferPending {
		return nil, store.ErrNotPending
	}

	source, ok := s.inventory[req.TargetBranchID][req.ItemID]
	if !ok || source.Quantity < req.Quantity {
		return nil, store.ErrInsufficientStock
	}

	source.Quantity -= req.Quantity
	source.LastUpdated = at
	s.inventory[req.TargetBranchID][req.ItemID] = source
	dest := s.creditLocked(req.RequestedByBranchID, req.ItemID, req.Quantity, at)

	req.Status = domain.TransferApproved
	req.SettledBy = actor.Username
	settledAt := at
	req.SettledAt = &settledAt
	s.requests[id] = req

	message := fmt.Sprintf("Stock request of %d x %s from %s has been approved by %s.",
		req.Quantity, s.itemNameLocked(req.ItemID), s.branchNameLocked(req.TargetBranchID), actor.Username)
	s.notifyTransferLocked("Stock Request Approved", message, domain.NotifyTransferApproved, req.TargetBranchID, req.RequestedByBranchID, at)
	s.appendAuditLocked(actor, "transfer.request.approve", "request", req.ID,
		fmt.Sprintf("item=%s qty=%d from=%s to=%s", req.ItemID, req.Quantity, req.TargetBranchID, req.RequestedByBranchID), at)

	settledReq := req
	return &store.Settlement{
		Request:     &settledReq,
		SourceAfter: source.Quantity,
		DestAfter:   dest.Quantity,
	}, nil
}

func (s *Store) RejectRequest(_ context.Context, id string, actor domain.Actor, reason string, at time.Time) (*store.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, exists := s.requests[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if req.Status != domain.TransferPending {
		return nil, store.ErrNotPending
	}

	req.Status = domain.TransferRejected
	req.SettledBy = actor.Username
	settledAt := at
	req.SettledAt = &settledAt
	if reason != "" {
		req.Reason = req.Reason + " | Rejected because: " + reason
	}
	s.requests[id] = req

	message := fmt.Sprintf("Stock request of %d x %s from %s was rejected by %s.",
		req.Quantity, s.itemNameLocked(req.ItemID), s.branchNameLocked(req.TargetBranchID), actor.Username)
	if reason != "" {
		message += " Reason: " + reason
	}
	s.notifyTransferLocked("Stock Request Rejected", message, domain.NotifyTransferRejected, req.TargetBranchID, req.RequestedByBranchID, at)
	s.appendAuditLocked(actor, "transfer.request.reject", "request", req.ID,
		fmt.Sprintf("item=%s qty=%d from=%s to=%s reason=%q", req.ItemID, req.Quantity, req.TargetBranchID, req.RequestedByBranchID, reason), at)

	settledReq := req
	return &store.Settlement{Request: &settledReq}, nil
}

func (s *Store) CreateNotification(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendNotificationLocked(n)
	return nil
}

func (s *Store) ListNotifications(_ context.Context, branchID string, includeGlobal bool, limit int) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Notification
	for i := len(s.notifications) - 1; i >= 0; i-- {
		n := s.notifications[i]
		if n.BranchID != branchID && !(includeGlobal && n.BranchID == "") {
			continue
		}
		out = append(out, n)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notifications {
		if s.notifications[i].ID == id {
			s.notifications[i].Read = true
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AuditLog
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && entry.CreatedAt.After(to) {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrInvalid
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalid
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// creditLocked adds qty to a (branch, item) record, creating it on first
// movement. Caller must hold the write lock.
func (s *Store) creditLocked(branchID string, itemID string, qty int, at time.Time) domain.InventoryRecord {
	byItem, exists := s.inventory[branchID]
	if !exists {
		byItem = make(map[string]domain.InventoryRecord)
		s.inventory[branchID] = byItem
	}
	rec, exists := byItem[itemID]
	if !exists {
		rec = domain.InventoryRecord{BranchID: branchID, ItemID: itemID}
	}
	rec.Quantity += qty
	rec.LastUpdated = at
	byItem[itemID] = rec
	return rec
}

// itemNameLocked resolves an item's display name, falling back to the ID
// when the item is unknown. Caller must hold at least the read lock.
func (s *Store) itemNameLocked(itemID string) string {
	if item, exists := s.items[itemID]; exists {
		return item.Name
	}
	return itemID
}

// branchNameLocked resolves a branch's display name, falling back to the ID
// when the branch is unknown. Caller must hold at least the read lock.
func (s *Store) branchNameLocked(branchID string) string {
	if branch, exists := s.branches[branchID]; exists {
		return branch.Name
	}
	return branchID
}

// notifyTransferLocked fans a settlement notice out to the admins and both
// participating branches. Caller must hold the write lock.
func (s *Store) notifyTransferLocked(title, message, kind, fromBranchID, toBranchID string, at time.Time) {
	for _, branchID := range []string{"", fromBranchID, toBranchID} {
		s.appendNotificationLocked(domain.Notification{
			BranchID:  branchID,
			Title:     title,
			Message:   message,
			Kind:      kind,
			CreatedAt: at,
		})
	}
}

func (s *Store) appendNotificationLocked(n domain.Notification) {
	if n.ID == "" {
		n.ID = xid.New("notif")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	s.notifications = append(s.notifications, n)
}

func (s *Store) appendAuditLocked(actor domain.Actor, action, entityType, entityID, detail string, at time.Time) {
	s.auditLogs = append(s.auditLogs, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     at,
	})
}

func cmpString(a, b string) int {
	return strings.Compare(a, b)
}
