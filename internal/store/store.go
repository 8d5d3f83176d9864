package store

import (
	"context"
	"errors"
	"time"

	"stokcabang/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrNotPending        = errors.New("transfer is not pending")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalid           = errors.New("invalid request")
	ErrSameBranch        = errors.New("source and destination branch are the same")
	// ErrTransient signals a serialization or deadlock failure; the caller
	// may retry the whole operation.
	ErrTransient = errors.New("transient conflict")
)

// Settlement is the outcome of approving or rejecting a transfer. All
// mutations it describes happened in a single transaction.
type Settlement struct {
	Recommendation *domain.TransferRecommendation `json:"recommendation,omitempty"`
	Request        *domain.TransferRequest        `json:"request,omitempty"`
	SourceAfter    int                            `json:"source_after"`
	DestAfter      int                            `json:"dest_after"`
}

type Repository interface {
	CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error)
	GetBranch(ctx context.Context, id string) (*domain.Branch, error)
	ListBranches(ctx context.Context) ([]domain.Branch, error)

	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	GetItem(ctx context.Context, id string) (*domain.Item, error)
	ListItems(ctx context.Context) ([]domain.Item, error)

	GetInventory(ctx context.Context, branchID string, itemID string) (*domain.InventoryRecord, error)
	ListInventoryByBranch(ctx context.Context, branchID string) ([]domain.InventoryRecord, error)
	ListInventory(ctx context.Context) ([]domain.InventoryRecord, error)
	ReceiveStock(ctx context.Context, branchID string, itemID string, qty int, at time.Time) (*domain.InventoryRecord, error)

	CreateSale(ctx context.Context, sale domain.SaleRecord) (*domain.SaleRecord, error)
	SumQuantitySold(ctx context.Context, branchID string, itemID string, since time.Time) (int, error)

	CreateRecommendation(ctx context.Context, rec domain.TransferRecommendation) (*domain.TransferRecommendation, error)
	GetRecommendation(ctx context.Context, id string) (*domain.TransferRecommendation, error)
	ListRecommendations(ctx context.Context, filter domain.TransferFilter) ([]domain.TransferRecommendation, error)
	HasPendingRecommendation(ctx context.Context, itemID string, fromBranchID string, toBranchID string) (bool, error)
	ApproveRecommendation(ctx context.Context, id string, actor domain.Actor, at time.Time) (*Settlement, error)
	RejectRecommendation(ctx context.Context, id string, actor domain.Actor, reason string, at time.Time) (*Settlement, error)

	CreateRequest(ctx context.Context, req domain.TransferRequest) (*domain.TransferRequest, error)
	GetRequest(ctx context.Context, id string) (*domain.TransferRequest, error)
	ListRequests(ctx context.Context, filter domain.TransferFilter) ([]domain.TransferRequest, error)
	ApproveRequest(ctx context.Context, id string, actor domain.Actor, at time.Time) (*Settlement, error)
	RejectRequest(ctx context.Context, id string, actor domain.Actor, reason string, at time.Time) (*Settlement, error)

	CreateNotification(ctx context.Context, n domain.Notification) error
	ListNotifications(ctx context.Context, branchID string, includeGlobal bool, limit int) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
