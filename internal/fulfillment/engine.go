// Package fulfillment turns approved orders into committed stock changes.
//
// Approval is all-or-nothing: the store re-reads every referenced item,
// checks and decrements it, marks exhausted items SOLD_OUT and completes the
// order in one transaction. Only after commit are the changes handed to the
// stock projector, best-effort.
package fulfillment

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/tillsync/internal/domain"
	"github.com/roach88/tillsync/internal/ids"
)

// Store is the durable order and item record.
type Store interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ApproveOrder(ctx context.Context, orderID, approverID string, at time.Time) (*domain.Order, []domain.StockChange, error)
	RejectOrder(ctx context.Context, orderID, approverID string, at time.Time) (*domain.Order, error)
	Restock(ctx context.Context, itemID, quantity int64, at time.Time) (domain.StockChange, error)
}

// Projector receives committed stock changes.
type Projector interface {
	PublishStock(ctx context.Context, changes []domain.StockChange) error
}

// Engine executes order decisions.
//
// Thread-safety: Engine is safe for concurrent use; serialization of
// competing approvals is the store's job.
type Engine struct {
	store     Store
	projector Projector
	ids       ids.Generator
	now       func() time.Time
	logger    *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithIDGenerator sets the generator for orders submitted without an id.
func WithIDGenerator(gen ids.Generator) EngineOption {
	return func(e *Engine) {
		e.ids = gen
	}
}

// WithClock sets the wall clock. Default time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates an Engine. projector may be nil.
func New(store Store, projector Projector, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     store,
		projector: projector,
		ids:       ids.UUIDv7Generator{},
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SubmitRequest describes a new order.
type SubmitRequest struct {
	// OrderID is optional. A UUIDv7 is generated when empty.
	OrderID string
	BuyerID string
	Lines   []domain.OrderLine
}

// Submit records a PENDING order. Every referenced item must exist.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*domain.Order, error) {
	if req.BuyerID == "" {
		return nil, domain.InvalidArgument("buyer id is required")
	}
	if err := domain.ValidateLines(req.Lines); err != nil {
		return nil, err
	}

	id := req.OrderID
	if id == "" {
		id = e.ids.Generate()
	}
	now := e.clock()
	order := &domain.Order{
		ID:        id,
		BuyerID:   req.BuyerID,
		Status:    domain.OrderPending,
		Lines:     req.Lines,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	e.logger.Info("order submitted", "order_id", id, "buyer_id", req.BuyerID, "lines", len(req.Lines), "total", order.Total())
	return order, nil
}

// Approve commits a PENDING order and decrements stock for every line.
// On INSUFFICIENT_STOCK, INVALID_STATE or NOT_FOUND nothing changes.
func (e *Engine) Approve(ctx context.Context, orderID, approverID string) (*domain.Order, error) {
	if approverID == "" {
		return nil, domain.InvalidArgument("approver id is required")
	}

	order, changes, err := e.store.ApproveOrder(ctx, orderID, approverID, e.clock())
	if err != nil {
		e.logger.Info("order approval refused", "order_id", orderID, "approver_id", approverID, "code", domain.CodeOf(err), "error", err)
		return nil, err
	}

	e.logger.Info("order approved", "order_id", orderID, "approver_id", approverID, "items", len(changes))
	for _, c := range changes {
		if c.Availability == domain.SoldOut && c.QuantityAvailable == 0 {
			e.logger.Info("item sold out", "item_id", c.ItemID, "order_id", orderID)
		}
	}
	e.project(ctx, changes)
	return order, nil
}

// Reject closes a PENDING order without touching stock.
func (e *Engine) Reject(ctx context.Context, orderID, approverID string) (*domain.Order, error) {
	if approverID == "" {
		return nil, domain.InvalidArgument("approver id is required")
	}

	order, err := e.store.RejectOrder(ctx, orderID, approverID, e.clock())
	if err != nil {
		return nil, err
	}
	e.logger.Info("order rejected", "order_id", orderID, "approver_id", approverID)
	return order, nil
}

// Restock adds units to an item and publishes the new stock level.
func (e *Engine) Restock(ctx context.Context, itemID, quantity int64) (domain.StockChange, error) {
	change, err := e.store.Restock(ctx, itemID, quantity, e.clock())
	if err != nil {
		return domain.StockChange{}, err
	}
	e.logger.Info("item restocked", "item_id", itemID, "quantity", quantity, "available", change.QuantityAvailable)
	e.project(ctx, []domain.StockChange{change})
	return change, nil
}

// Order returns an order by id.
func (e *Engine) Order(ctx context.Context, id string) (*domain.Order, error) {
	return e.store.GetOrder(ctx, id)
}

func (e *Engine) project(ctx context.Context, changes []domain.StockChange) {
	if e.projector == nil || len(changes) == 0 {
		return
	}
	if err := e.projector.PublishStock(ctx, changes); err != nil {
		e.logger.Warn("stock projection incomplete", "error", err)
	}
}

func (e *Engine) clock() time.Time {
	return e.now().UTC().Truncate(time.Millisecond)
}
