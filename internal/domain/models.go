package domain

import (
	"encoding/json"
	"math"
	"time"
)

type Branch struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	City      string    `json:"city"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type BranchCreateRequest struct {
	Name string `json:"name"`
	City string `json:"city"`
}

type Item struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Category       string    `json:"category"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

type ItemCreateRequest struct {
	Name           string `json:"name"`
	Category       string `json:"category"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// InventoryRecord is the authoritative quantity of one item at one branch.
// There is exactly one record per (branch, item) pair; it is created lazily
// on the first stock movement and quantity never goes below zero.
type InventoryRecord struct {
	BranchID    string    `json:"branch_id"`
	ItemID      string    `json:"item_id"`
	Quantity    int       `json:"quantity"`
	LastUpdated time.Time `json:"last_updated"`
}

type StockReceiveRequest struct {
	BranchID string `json:"branch_id"`
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type SaleRecord struct {
	ID               string    `json:"id"`
	BranchID         string    `json:"branch_id"`
	ItemID           string    `json:"item_id"`
	QuantitySold     int       `json:"quantity_sold"`
	TotalAmountCents int64     `json:"total_amount_cents"`
	PaymentMode      string    `json:"payment_mode"`
	CreatedBy        string    `json:"created_by"`
	CreatedAt        time.Time `json:"created_at"`
}

type SaleCreateRequest struct {
	BranchID         string `json:"branch_id"`
	ItemID           string `json:"item_id"`
	QuantitySold     int    `json:"quantity_sold"`
	TotalAmountCents int64  `json:"total_amount_cents"`
	PaymentMode      string `json:"payment_mode"`
}

// BranchItemMetric is the derived stock-health view of one (branch, item)
// pair. It is never persisted; the rebalance engine recomputes it from the
// inventory record and the trailing sales window.
type BranchItemMetric struct {
	BranchID      string  `json:"branch_id"`
	BranchName    string  `json:"branch_name,omitempty"`
	ItemID        string  `json:"item_id"`
	ItemName      string  `json:"item_name,omitempty"`
	CurrentStock  int     `json:"current_stock"`
	AvgDailySales float64 `json:"avg_daily_sales"`
	DaysRemaining float64 `json:"days_remaining"`
	Status        string  `json:"status"`
	RequiredStock int     `json:"required_stock"`
	ExcessStock   int     `json:"excess_stock"`
}

// MarshalJSON renders an unbounded days_remaining as null; JSON has no
// representation for infinity.
func (m BranchItemMetric) MarshalJSON() ([]byte, error) {
	type alias BranchItemMetric
	out := struct {
		alias
		DaysRemaining *float64 `json:"days_remaining"`
	}{alias: alias(m)}
	if !math.IsInf(m.DaysRemaining, 1) {
		out.DaysRemaining = &m.DaysRemaining
	}
	return json.Marshal(out)
}

func (m *BranchItemMetric) UnmarshalJSON(data []byte) error {
	type alias BranchItemMetric
	aux := struct {
		*alias
		DaysRemaining *float64 `json:"days_remaining"`
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.DaysRemaining == nil {
		m.DaysRemaining = math.Inf(1)
	} else {
		m.DaysRemaining = *aux.DaysRemaining
	}
	return nil
}

// TransferRecommendation is a system-generated suggestion to move stock from
// a surplus branch to a low-stock branch. Only the rebalance batch creates
// them; once settled the row is immutable apart from the rejection note
// appended to Reason.
type TransferRecommendation struct {
	ID                string     `json:"id"`
	ItemID            string     `json:"item_id"`
	FromBranchID      string     `json:"from_branch_id"`
	ToBranchID        string     `json:"to_branch_id"`
	SuggestedQuantity int        `json:"suggested_quantity"`
	Reason            string     `json:"reason"`
	UrgencyLevel      string     `json:"urgency_level"`
	Status            string     `json:"status"`
	SettledBy         string     `json:"settled_by,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	SettledAt         *time.Time `json:"settled_at,omitempty"`
}

// TransferRequest is a manager-initiated ask for stock. Direction is the
// reverse of a recommendation: the target branch gives up stock and the
// requesting branch receives it.
type TransferRequest struct {
	ID                  string     `json:"id"`
	RequestedByBranchID string     `json:"requested_by_branch_id"`
	TargetBranchID      string     `json:"target_branch_id"`
	ItemID              string     `json:"item_id"`
	Quantity            int        `json:"quantity"`
	Reason              string     `json:"reason"`
	Status              string     `json:"status"`
	SettledBy           string     `json:"settled_by,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	SettledAt           *time.Time `json:"settled_at,omitempty"`
}

type TransferRequestCreate struct {
	RequestedByBranchID string `json:"requested_by_branch_id,omitempty"`
	TargetBranchID      string `json:"target_branch_id"`
	ItemID              string `json:"item_id"`
	Quantity            int    `json:"quantity"`
	Reason              string `json:"reason"`
}

type TransferRejectRequest struct {
	Reason string `json:"reason"`
}

// TransferFilter narrows transfer listings. Empty fields match everything;
// BranchID matches rows where the branch participates on either side.
type TransferFilter struct {
	Status   string
	BranchID string
	ItemID   string
	Limit    int
}

// Notification with an empty BranchID is global and only visible to admins.
type Notification struct {
	ID        string    `json:"id"`
	BranchID  string    `json:"branch_id,omitempty"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Kind      string    `json:"kind"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type StockHealthResponse struct {
	GeneratedAt string             `json:"generated_at"`
	Metrics     []BranchItemMetric `json:"metrics"`
}

type RebalanceRunResult struct {
	ItemsScanned           int    `json:"items_scanned"`
	BranchesScanned        int    `json:"branches_scanned"`
	RecommendationsCreated int    `json:"recommendations_created"`
	SkippedExisting        int    `json:"skipped_existing"`
	ItemsFailed            int    `json:"items_failed"`
	StartedAt              string `json:"started_at"`
	FinishedAt             string `json:"finished_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	BranchID    string `json:"branch_id,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the authenticated caller. Managers carry the branch they run;
// admins have no branch and see everything.
type Actor struct {
	Username string
	Role     string
	BranchID string
}

type ManagerCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	BranchID string `json:"branch_id"`
}

type ManagerUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	BranchID  string    `json:"branch_id,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	BranchID  string
	Active    bool
	CreatedAt time.Time
}

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
)

const (
	StockHealthy = "HEALTHY"
	StockLow     = "LOW_STOCK"
	StockSurplus = "SURPLUS"
)

const (
	UrgencyLow      = "LOW"
	UrgencyMedium   = "MEDIUM"
	UrgencyHigh     = "HIGH"
	UrgencyCritical = "CRITICAL"
)

const (
	TransferPending  = "PENDING"
	TransferApproved = "APPROVED"
	TransferRejected = "REJECTED"
)

const (
	NotifyTransferRecommendation = "TRANSFER_RECOMMENDATION"
	NotifyTransferRequest        = "TRANSFER_REQUEST"
	NotifyTransferApproved       = "TRANSFER_APPROVED"
	NotifyTransferRejected       = "TRANSFER_REJECTED"
	NotifyLowStock               = "LOW_STOCK_ALERT"
)
