package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"stokcabang/backend/internal/domain"
	"stokcabang/backend/internal/store"
	"stokcabang/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error) {
	if branch.Name == "" {
		return nil, store.ErrInvalid
	}
	if branch.ID == "" {
		branch.ID = xid.New("branch")
	}
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = time.Now().UTC()
	}
	branch.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (id, name, city, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, branch.ID, branch.Name, branch.City, branch.Active, branch.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalid
		}
		return nil, err
	}

	created := branch
	return &created, nil
}

func (s *Store) GetBranch(ctx context.Context, id string) (*domain.Branch, error) {
	var branch domain.Branch
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, city, active, created_at
		FROM branches
		WHERE id = $1
	`, id).Scan(&branch.ID, &branch.Name, &branch.City, &branch.Active, &branch.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &branch, nil
}

func (s *Store) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, city, active, created_at
		FROM branches
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	branches := make([]domain.Branch, 0, 16)
	for rows.Next() {
		var b domain.Branch
		if err := rows.Scan(&b.ID, &b.Name, &b.City, &b.Active, &b.CreatedAt); err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if item.Name == "" || item.UnitPriceCents < 1 {
		return nil, store.ErrInvalid
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, name, category, unit_price_cents, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, item.ID, item.Name, item.Category, item.UnitPriceCents, item.Active, item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalid
		}
		return nil, err
	}

	created := item
	return &created, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	var item domain.Item
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, unit_price_cents, active, created_at
		FROM items
		WHERE id = $1
	`, id).Scan(&item.ID, &item.Name, &item.Category, &item.UnitPriceCents, &item.Active, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, unit_price_cents, active, created_at
		FROM items
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 64)
	for rows.Next() {
		var it domain.Item
		if err := rows.Scan(&it.ID, &it.Name, &it.Category, &it.UnitPriceCents, &it.Active, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *Store) GetInventory(ctx context.Context, branchID string, itemID string) (*domain.InventoryRecord, error) {
	var rec domain.InventoryRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT branch_id, item_id, quantity, last_updated
		FROM inventory
		WHERE branch_id = $1 AND item_id = $2
	`, branchID, itemID).Scan(&rec.BranchID, &rec.ItemID, &rec.Quantity, &rec.LastUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *Store) ListInventoryByBranch(ctx context.Context, branchID string) ([]domain.InventoryRecord, error) {
	if _, err := s.GetBranch(ctx, branchID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT branch_id, item_id, quantity, last_updated
		FROM inventory
		WHERE branch_id = $1
		ORDER BY item_id
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanInventory(rows)
}

func (s *Store) ListInventory(ctx context.Context) ([]domain.InventoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT branch_id, item_id, quantity, last_updated
		FROM inventory
		ORDER BY branch_id, item_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanInventory(rows)
}

func (s *Store) ReceiveStock(ctx context.Context, branchID string, itemID string, qty int, at time.Time) (*domain.InventoryRecord, error) {
	if qty < 1 {
		return nil, store.ErrInvalid
	}
	if _, err := s.GetBranch(ctx, branchID); err != nil {
		return nil, err
	}
	if _, err := s.GetItem(ctx, itemID); err != nil {
		return nil, err
	}

	var rec domain.InventoryRecord
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO inventory (branch_id, item_id, quantity, last_updated)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (branch_id, item_id)
		DO UPDATE SET quantity = inventory.quantity + EXCLUDED.quantity, last_updated = EXCLUDED.last_updated
		RETURNING branch_id, item_id, quantity, last_updated
	`, branchID, itemID, qty, at).Scan(&rec.BranchID, &rec.ItemID, &rec.Quantity, &rec.LastUpdated)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateSale records a sale and deducts the branch inventory in one
// serializable transaction, so the stock check and the decrement cannot be
// split by a concurrent transfer.
func (s *Store) CreateSale(ctx context.Context, sale domain.SaleRecord) (*domain.SaleRecord, error) {
	if sale.QuantitySold < 1 || sale.TotalAmountCents < 0 {
		return nil, store.ErrInvalid
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var quantity int
	err = tx.QueryRowContext(ctx, `
		SELECT quantity
		FROM inventory
		WHERE branch_id = $1 AND item_id = $2
		FOR UPDATE
	`, sale.BranchID, sale.ItemID).Scan(&quantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrInsufficientStock
		}
		return nil, translateTxError(err)
	}
	if quantity < sale.QuantitySold {
		return nil, store.ErrInsufficientStock
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE inventory
		SET quantity = quantity - $3, last_updated = $4
		WHERE branch_id = $1 AND item_id = $2
	`, sale.BranchID, sale.ItemID, sale.QuantitySold, sale.CreatedAt)
	if err != nil {
		return nil, translateTxError(err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, branch_id, item_id, quantity_sold, total_amount_cents, payment_mode, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, sale.ID, sale.BranchID, sale.ItemID, sale.QuantitySold, sale.TotalAmountCents, sale.PaymentMode, sale.CreatedBy, sale.CreatedAt)
	if err != nil {
		return nil, translateTxError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, translateTxError(err)
	}

	created := sale
	return &created, nil
}

func (s *Store) SumQuantitySold(ctx context.Context, branchID string, itemID string, since time.Time) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity_sold), 0)
		FROM sales
		WHERE branch_id = $1 AND item_id = $2 AND created_at >= $3
	`, branchID, itemID, since).Scan(&total)
	return total, err
}

func (s *Store) CreateRecommendation(ctx context.Context, rec domain.TransferRecommendation) (*domain.TransferRecommendation, error) {
	if rec.SuggestedQuantity < 1 {
		return nil, store.ErrInvalid
	}
	if rec.FromBranchID == rec.ToBranchID {
		return nil, store.ErrSameBranch
	}
	if rec.ID == "" {
		rec.ID = xid.New("rec")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Status = domain.TransferPending

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transfer_recommendations (
			id, item_id, from_branch_id, to_branch_id, suggested_quantity,
			reason, urgency_level, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, rec.ID, rec.ItemID, rec.FromBranchID, rec.ToBranchID, rec.SuggestedQuantity,
		rec.Reason, rec.UrgencyLevel, rec.Status, rec.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	created := rec
	return &created, nil
}

func (s *Store) GetRecommendation(ctx context.Context, id string) (*domain.TransferRecommendation, error) {
	rec, err := scanRecommendation(s.db.QueryRowContext(ctx, `
		SELECT id, item_id, from_branch_id, to_branch_id, suggested_quantity,
		       reason, urgency_level, status, settled_by, created_at, settled_at
		FROM transfer_recommendations
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *Store) ListRecommendations(ctx context.Context, filter domain.TransferFilter) ([]domain.TransferRecommendation, error) {
	limit := filter.Limit
	if limit < 1 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, from_branch_id, to_branch_id, suggested_quantity,
		       reason, urgency_level, status, settled_by, created_at, settled_at
		FROM transfer_recommendations
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR from_branch_id = $2 OR to_branch_id = $2)
		  AND ($3 = '' OR item_id = $3)
		ORDER BY created_at DESC
		LIMIT $4
	`, filter.Status, filter.BranchID, filter.ItemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := make([]domain.TransferRecommendation, 0, limit)
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func (s *Store) HasPendingRecommendation(ctx context.Context, itemID string, fromBranchID string, toBranchID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM transfer_recommendations
			WHERE item_id = $1 AND from_branch_id = $2 AND to_branch_id = $3 AND status = $4
		)
	`, itemID, fromBranchID, toBranchID, domain.TransferPending).Scan(&exists)
	return exists, err
}

// ApproveRecommendation settles a pending recommendation: the row is locked,
// the source branch is debited with a sufficiency check, the destination is
// credited (created on first movement), and the notifications and audit
// entry land in the same transaction.
func (s *Store) ApproveRecommendation(ctx context.Context, id string, actor domain.Actor, at time.Time) (*store.Settlement, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanRecommendation(tx.QueryRowContext(ctx, `
		SELECT id, item_id, from_branch_id, to_branch_id, suggested_quantity,
		       reason, urgency_level, status, settled_by, created_at, settled_at
		FROM transfer_recommendations
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, translateTxError(err)
	}
	if rec.Status != domain.TransferPending {
		return nil, store.ErrNotPending
	}

	sourceAfter, destAfter, err := moveStock(ctx, tx, rec.FromBranchID, rec.ToBranchID, rec.ItemID, rec.SuggestedQuantity, at)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE transfer_recommendations
		SET status = $2, settled_by = $3, settled_at = $4
		WHERE id = $1
	`, id, domain.TransferApproved, actor.Username, at)
	if err != nil {
		return nil, translateTxError(err)
	}

	itemName, fromName, toName, err := settlementNames(ctx, tx, rec.ItemID, rec.FromBranchID, rec.ToBranchID)
	if err != nil {
		return nil, translateTxError(err)
	}
	message := fmt.Sprintf("Transfer of %d x %s from %s to %s has been approved by %s.",
		rec.SuggestedQuantity, itemName, fromName, toName, actor.Username)
	if err := insertTransferNotifications(ctx, tx, "Transfer Approved", message, domain.NotifyTransferApproved, rec.FromBranchID, rec.ToBranchID, at); err != nil {
		return nil, translateTxError(err)
	}
	if err := insertAuditLog(ctx, tx, actor, "transfer.recommendation.approve", "recommendation", rec.ID,
		fmt.Sprintf("item=%s qty=%d from=%s to=%s", rec.ItemID, rec.SuggestedQuantity, rec.FromBranchID, rec.ToBranchID), at); err != nil {
		return nil, translateTxError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, translateTxError(err)
	}

	rec.Status = domain.TransferApproved
	rec.SettledBy = actor.Username
	settledAt := at
	rec.SettledAt = &settledAt
	return &store.Settlement{
		Recommendation: rec,
		SourceAfter:    sourceAfter,
		DestAfter:      destAfter,
	}, nil
}

func (s *Store) RejectRecommendation(ctx context.Context, id string, actor domain.Actor, reason string, at time.Time) (*store.Settlement, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanRecommendation(tx.QueryRowContext(ctx, `
		SELECT id, item_id, from_branch_id, to_branch_id, suggested_quantity,
		       reason, urgency_level, status, settled_by, created_at, settled_at
		FROM transfer_recommendations
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, translateTxError(err)
	}
	if rec.Status != domain.TransferPending {
		return nil, store.ErrNotPending
	}

	newReason := rec.Reason
	if reason != "" {
		newReason = newReason + " | Rejected because: " + reason
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE transfer_recommendations
		SET status = $2, reason = $3, settled_by = $4, settled_at = $5
		WHERE id = $1
	`, id, domain.TransferRejected, newReason, actor.Username, at)
	if err != nil {
		return nil, translateTxError(err)
	}

	itemName, fromName, toName, err := settlementNames(ctx, tx, rec.ItemID, rec.FromBranchID, rec.ToBranchID)
	if err != nil {
		return nil, translateTxError(err)
	}
	message := fmt.Sprintf("Transfer of %d x %s from %s to %s was rejected by %s.",
		rec.SuggestedQuantity, itemName, fromName, toName, actor.Username)
	if reason != "" {
		message += " Reason: " + reason
	}
	if err := insertTransferNotifications(ctx, tx, "Transfer Rejected", message, domain.NotifyTransferRejected, rec.FromBranchID, rec.ToBranchID, at); err != nil {
		return nil, translateTxError(err)
	}
	if err := insertAuditLog(ctx, tx, actor, "transfer.recommendation.reject", "recommendation", rec.ID,
		fmt.Sprintf("item=%s qty=%d from=%s to=%s reason=%q", rec.ItemID, rec.SuggestedQuantity, rec.FromBranchID, rec.ToBranchID, reason), at); err != nil {
		return nil, translateTxError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, translateTxError(err)
	}

	rec.Status = domain.TransferRejected
	rec.Reason = newReason
	rec.SettledBy = actor.Username
	settledAt := at
	rec.SettledAt = &settledAt
	return &store.Settlement{Recommendation: rec}, nil
}

func (s *Store) CreateRequest(ctx context.Context, req domain.TransferRequest) (*domain.TransferRequest, error) {
	if req.Quantity < 1 {
		return nil, store.ErrInvalid
	}
	if req.RequestedByBranchID == req.TargetBranchID {
		return nil, store.ErrSameBranch
	}
	if req.ID == "" {
		req.ID = xid.New("req")
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	req.Status = domain.TransferPending

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transfer_requests (
			id, requested_by_branch_id, target_branch_id, item_id, quantity,
			reason, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, req.ID, req.RequestedByBranchID, req.TargetBranchID, req.ItemID, req.Quantity,
		req.Reason, req.Status, req.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	created := req
	return &created, nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (*domain.TransferRequest, error) {
	req, err := scanRequest(s.db.QueryRowContext(ctx, `
		SELECT id, requested_by_branch_id, target_branch_id, item_id, quantity,
		       reason, status, settled_by, created_at, settled_at
		FROM transfer_requests
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return req, nil
}

func (s *Store) ListRequests(ctx context.Context, filter domain.TransferFilter) ([]domain.TransferRequest, error) {
	limit := filter.Limit
	if limit < 1 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, requested_by_branch_id, target_branch_id, item_id, quantity,
		       reason, status, settled_by, created_at, settled_at
		FROM transfer_requests
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR requested_by_branch_id = $2 OR target_branch_id = $2)
		  AND ($3 = '' OR item_id = $3)
		ORDER BY created_at DESC
		LIMIT $4
	`, filter.Status, filter.BranchID, filter.ItemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reqs := make([]domain.TransferRequest, 0, limit)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *req)
	}
	return reqs, rows.Err()
}

// ApproveRequest settles a manual request: the target branch donates the
// stock, the requesting branch receives it.
func (s *Store) ApproveRequest(ctx context.Context, id string, actor domain.Actor, at time.Time) (*store.Settlement, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	req, err := scanRequest(tx.QueryRowContext(ctx, `
		SELECT id, requested_by_branch_id, target_branch_id, item_id, quantity,
		       reason, status, settled_by, created_at, settled_at
		FROM transfer_requests
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, translateTxError(err)
	}
	if req.Status != domain.TransferPending {
		return nil, store.ErrNotPending
	}

	sourceAfter, destAfter, err := moveStock(ctx, tx, req.TargetBranchID, req.RequestedByBranchID, req.ItemID, req.Quantity, at)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE transfer_requests
		SET status = $2, settled_by = $3, settled_at = $4
		WHERE id = $1
	`, id, domain.TransferApproved, actor.Username, at)
	if err != nil {
		return nil, translateTxError(err)
	}

	itemName, fromName, _, err := settlementNames(ctx, tx, req.ItemID, req.TargetBranchID, req.RequestedByBranchID)
	if err != nil {
		return nil, translateTxError(err)
	}
	message := fmt.Sprintf("Stock request of %d x %s from %s has been approved by %s.",
		req.Quantity, itemName, fromName, actor.Username)
	if err := insertTransferNotifications(ctx, tx, "Stock Request Approved", message, domain.NotifyTransferApproved, req.TargetBranchID, req.RequestedByBranchID, at); err != nil {
		return nil, translateTxError(err)
	}
	if err := insertAuditLog(ctx, tx, actor, "transfer.request.approve", "request", req.ID,
		fmt.Sprintf("item=%s qty=%d from=%s to=%s", req.ItemID, req.Quantity, req.TargetBranchID, req.RequestedByBranchID), at); err != nil {
		return nil, translateTxError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, translateTxError(err)
	}

	req.Status = domain.TransferApproved
	req.SettledBy = actor.Username
	settledAt := at
	req.SettledAt = &settledAt
	return &store.Settlement{
		Request:     req,
		SourceAfter: sourceAfter,
		DestAfter:   destAfter,
	}, nil
}

func (s *Store) RejectRequest(ctx context.Context, id string, actor domain.Actor, reason string, at time.Time) (*store.Settlement, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	req, err := scanRequest(tx.QueryRowContext(ctx, `
		SELECT id, requested_by_branch_id, target_branch_id, item_id, quantity,
		       reason, status, settled_by, created_at, settled_at
		FROM transfer_requests
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, translateTxError(err)
	}
	if req.Status != domain.TransferPending {
		return nil, store.ErrNotPending
	}

	newReason := req.Reason
	if reason != "" {
		newReason = newReason + " | Rejected because: " + reason
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE transfer_requests
		SET status = $2, reason = $3, settled_by = $4, settled_at = $5
		WHERE id = $1
	`, id, domain.TransferRejected, newReason, actor.Username, at)
	if err != nil {
		return nil, translateTxError(err)
	}

	itemName, fromName, _, err := settlementNames(ctx, tx, req.ItemID, req.TargetBranchID, req.RequestedByBranchID)
	if err != nil {
		return nil, translateTxError(err)
	}
	message := fmt.Sprintf("Stock request of %d x %s from %s was rejected by %s.",
		req.Quantity, itemName, fromName, actor.Username)
	if reason != "" {
		message += " Reason: " + reason
	}
	if err := insertTransferNotifications(ctx, tx, "Stock Request Rejected", message, domain.NotifyTransferRejected, req.TargetBranchID, req.RequestedByBranchID, at); err != nil {
		return nil, translateTxError(err)
	}
	if err := insertAuditLog(ctx, tx, actor, "transfer.request.reject", "request", req.ID,
		fmt.Sprintf("item=%s qty=%d from=%s to=%s reason=%q", req.ItemID, req.Quantity, req.TargetBranchID, req.RequestedByBranchID, reason), at); err != nil {
		return nil, translateTxError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, translateTxError(err)
	}

	req.Status = domain.TransferRejected
	req.Reason = newReason
	req.SettledBy = actor.Username
	settledAt := at
	req.SettledAt = &settledAt
	return &store.Settlement{Request: req}, nil
}

func (s *Store) CreateNotification(ctx context.Context, n domain.Notification) error {
	if n.ID == "" {
		n.ID = xid.New("notif")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, branch_id, title, message, kind, read, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, n.ID, nullIfEmpty(n.BranchID), n.Title, n.Message, n.Kind, n.Read, n.CreatedAt)
	return err
}

func (s *Store) ListNotifications(ctx context.Context, branchID string, includeGlobal bool, limit int) ([]domain.Notification, error) {
	if limit < 1 || limit > 500 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, title, message, kind, read, created_at
		FROM notifications
		WHERE (branch_id = NULLIF($1, '')) OR ($2 AND branch_id IS NULL)
		ORDER BY created_at DESC
		LIMIT $3
	`, branchID, includeGlobal, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifs := make([]domain.Notification, 0, limit)
	for rows.Next() {
		var n domain.Notification
		var branch sql.NullString
		if err := rows.Scan(&n.ID, &branch, &n.Title, &n.Message, &n.Kind, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.BranchID = branch.String
		notifs = append(notifs, n)
	}
	return notifs, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read = true WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 || limit > 1000 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, nullTime(from), nullTime(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalid
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, branch_id, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, user.Username, user.Password, user.Role, nullIfEmpty(user.BranchID), user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalid
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, branch_id, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		var branch sql.NullString
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &branch, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.BranchID = branch.String
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// moveStock debits the source branch under a row lock and credits the
// destination, creating the destination record on first movement. Must run
// inside the caller's transaction.
func moveStock(ctx context.Context, tx *sql.Tx, fromBranchID, toBranchID, itemID string, qty int, at time.Time) (int, int, error) {
	var sourceQty int
	err := tx.QueryRowContext(ctx, `
		SELECT quantity
		FROM inventory
		WHERE branch_id = $1 AND item_id = $2
		FOR UPDATE
	`, fromBranchID, itemID).Scan(&sourceQty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, store.ErrInsufficientStock
		}
		return 0, 0, translateTxError(err)
	}
	if sourceQty < qty {
		return 0, 0, store.ErrInsufficientStock
	}

	var sourceAfter int
	err = tx.QueryRowContext(ctx, `
		UPDATE inventory
		SET quantity = quantity - $3, last_updated = $4
		WHERE branch_id = $1 AND item_id = $2
		RETURNING quantity
	`, fromBranchID, itemID, qty, at).Scan(&sourceAfter)
	if err != nil {
		return 0, 0, translateTxError(err)
	}

	var destAfter int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO inventory (branch_id, item_id, quantity, last_updated)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (branch_id, item_id)
		DO UPDATE SET quantity = inventory.quantity + EXCLUDED.quantity, last_updated = EXCLUDED.last_updated
		RETURNING quantity
	`, toBranchID, itemID, qty, at).Scan(&destAfter)
	if err != nil {
		return 0, 0, translateTxError(err)
	}

	return sourceAfter, destAfter, nil
}

func settlementNames(ctx context.Context, tx *sql.Tx, itemID, fromBranchID, toBranchID string) (string, string, string, error) {
	itemName, fromName, toName := itemID, fromBranchID, toBranchID
	err := tx.QueryRowContext(ctx, `SELECT name FROM items WHERE id = $1`, itemID).Scan(&itemName)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", "", "", err
	}
	err = tx.QueryRowContext(ctx, `SELECT name FROM branches WHERE id = $1`, fromBranchID).Scan(&fromName)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", "", "", err
	}
	err = tx.QueryRowContext(ctx, `SELECT name FROM branches WHERE id = $1`, toBranchID).Scan(&toName)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", "", "", err
	}
	return itemName, fromName, toName, nil
}

func insertTransferNotifications(ctx context.Context, tx *sql.Tx, title, message, kind, fromBranchID, toBranchID string, at time.Time) error {
	for _, branchID := range []string{"", fromBranchID, toBranchID} {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO notifications (id, branch_id, title, message, kind, read, created_at)
			VALUES ($1,$2,$3,$4,$5,false,$6)
		`, xid.New("notif"), nullIfEmpty(branchID), title, message, kind, at)
		if err != nil {
			return err
		}
	}
	return nil
}

func insertAuditLog(ctx context.Context, tx *sql.Tx, actor domain.Actor, action, entityType, entityID, detail string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, xid.New("audit"), actor.Username, actor.Role, action, entityType, entityID, detail, at)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecommendation(row rowScanner) (*domain.TransferRecommendation, error) {
	var rec domain.TransferRecommendation
	var settledBy sql.NullString
	var settledAt sql.NullTime
	err := row.Scan(&rec.ID, &rec.ItemID, &rec.FromBranchID, &rec.ToBranchID, &rec.SuggestedQuantity,
		&rec.Reason, &rec.UrgencyLevel, &rec.Status, &settledBy, &rec.CreatedAt, &settledAt)
	if err != nil {
		return nil, err
	}
	rec.SettledBy = settledBy.String
	if settledAt.Valid {
		t := settledAt.Time
		rec.SettledAt = &t
	}
	return &rec, nil
}

func scanRequest(row rowScanner) (*domain.TransferRequest, error) {
	var req domain.TransferRequest
	var settledBy sql.NullString
	var settledAt sql.NullTime
	err := row.Scan(&req.ID, &req.RequestedByBranchID, &req.TargetBranchID, &req.ItemID, &req.Quantity,
		&req.Reason, &req.Status, &settledBy, &req.CreatedAt, &settledAt)
	if err != nil {
		return nil, err
	}
	req.SettledBy = settledBy.String
	if settledAt.Valid {
		t := settledAt.Time
		req.SettledAt = &t
	}
	return &req, nil
}

func scanInventory(rows *sql.Rows) ([]domain.InventoryRecord, error) {
	records := make([]domain.InventoryRecord, 0, 64)
	for rows.Next() {
		var rec domain.InventoryRecord
		if err := rows.Scan(&rec.BranchID, &rec.ItemID, &rec.Quantity, &rec.LastUpdated); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// translateTxError maps serialization and deadlock failures onto
// store.ErrTransient so callers can decide to retry the whole operation.
func translateTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: %s", store.ErrTransient, pgErr.Code)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
