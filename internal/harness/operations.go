package harness

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tillsync/internal/checkout"
	"github.com/roach88/tillsync/internal/domain"
	"github.com/roach88/tillsync/internal/fulfillment"
)

type operation func(h *Harness, ctx context.Context, args map[string]any) (any, error)

// operations lists every invocable flow step.
var operations = map[string]operation{
	"create_session":  (*Harness).createSession,
	"update_cart":     (*Harness).updateCart,
	"begin_payment":   (*Harness).beginPayment,
	"close_session":   (*Harness).closeSession,
	"expire_payments": (*Harness).expirePayments,
	"advance_clock":   (*Harness).advanceClock,
	"submit_order":    (*Harness).submitOrder,
	"approve_order":   (*Harness).approveOrder,
	"reject_order":    (*Harness).rejectOrder,
	"restock":         (*Harness).restock,
}

// argsError marks arguments that do not fit the operation.
type argsError struct {
	err error
}

func (e *argsError) Error() string { return "invalid args: " + e.err.Error() }
func (e *argsError) Unwrap() error { return e.err }

// decodeArgs re-decodes the generic YAML args into a typed struct, rejecting
// unknown fields.
func decodeArgs(args map[string]any, dst any) error {
	data, err := yaml.Marshal(args)
	if err != nil {
		return &argsError{err}
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil {
		return &argsError{err}
	}
	return nil
}

func snapshotResult(snap domain.Snapshot) map[string]any {
	return map[string]any{
		"session_id":   snap.SessionID,
		"status":       string(snap.Status),
		"gross_amount": snap.GrossAmount,
		"version":      snap.Version,
	}
}

func orderResult(o *domain.Order) map[string]any {
	m := map[string]any{
		"order_id": o.ID,
		"status":   string(o.Status),
		"total":    o.Total(),
	}
	if o.DecidedBy != "" {
		m["decided_by"] = o.DecidedBy
	}
	return m
}

func versionOption(v int64) []checkout.MutationOption {
	if v == 0 {
		return nil
	}
	return []checkout.MutationOption{checkout.IfVersion(v)}
}

func (h *Harness) createSession(ctx context.Context, args map[string]any) (any, error) {
	var a struct {
		SessionID    string `yaml:"session_id"`
		OperatorID   string `yaml:"operator_id"`
		OperatorName string `yaml:"operator_name"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	snap, err := h.sessions.Create(ctx, checkout.CreateRequest{
		SessionID:    a.SessionID,
		OperatorID:   a.OperatorID,
		OperatorName: a.OperatorName,
	})
	if err != nil {
		return nil, err
	}
	return snapshotResult(snap), nil
}

func (h *Harness) updateCart(ctx context.Context, args map[string]any) (any, error) {
	var a struct {
		SessionID string                 `yaml:"session_id"`
		Items     []domain.CartLineInput `yaml:"items"`
		IfVersion int64                  `yaml:"if_version"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	snap, err := h.sessions.UpdateCart(ctx, a.SessionID, a.Items, versionOption(a.IfVersion)...)
	if err != nil {
		return nil, err
	}
	return snapshotResult(snap), nil
}

func (h *Harness) beginPayment(ctx context.Context, args map[string]any) (any, error) {
	var a struct {
		SessionID   string        `yaml:"session_id"`
		QRPayload   string        `yaml:"qr_payload"`
		ExpireIn    time.Duration `yaml:"expire_in"`
		GrossAmount int64         `yaml:"gross_amount"`
		IfVersion   int64         `yaml:"if_version"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	snap, err := h.sessions.BeginPayment(ctx, a.SessionID, checkout.PaymentRequest{
		QRPayload:   a.QRPayload,
		ExpireAt:    h.clock.Now().Add(a.ExpireIn),
		GrossAmount: a.GrossAmount,
	}, versionOption(a.IfVersion)...)
	if err != nil {
		return nil, err
	}
	return snapshotResult(snap), nil
}

func (h *Harness) closeSession(ctx context.Context, args map[string]any) (any, error) {
	var a struct {
		SessionID string `yaml:"session_id"`
		IfVersion int64  `yaml:"if_version"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	snap, err := h.sessions.Close(ctx, a.SessionID, versionOption(a.IfVersion)...)
	if err != nil {
		return nil, err
	}
	return snapshotResult(snap), nil
}

func (h *Harness) expirePayments(ctx context.Context, args map[string]any) (any, error) {
	if err := decodeArgs(args, &struct{}{}); err != nil {
		return nil, err
	}
	n, err := h.sessions.ExpirePayments(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"closed": n}, nil
}

func (h *Harness) advanceClock(_ context.Context, args map[string]any) (any, error) {
	var a struct {
		By time.Duration `yaml:"by"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.By <= 0 {
		return nil, &argsError{fmt.Errorf("by must be positive")}
	}
	now := h.clock.Advance(a.By)
	return map[string]any{"now": now.Format(time.RFC3339)}, nil
}

func (h *Harness) submitOrder(ctx context.Context, args map[string]any) (any, error) {
	var a struct {
		OrderID string             `yaml:"order_id"`
		BuyerID string             `yaml:"buyer_id"`
		Lines   []domain.OrderLine `yaml:"lines"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	order, err := h.orders.Submit(ctx, fulfillment.SubmitRequest{
		OrderID: a.OrderID,
		BuyerID: a.BuyerID,
		Lines:   a.Lines,
	})
	if err != nil {
		return nil, err
	}
	return orderResult(order), nil
}

type decisionArgs struct {
	OrderID    string `yaml:"order_id"`
	ApproverID string `yaml:"approver_id"`
}

func (h *Harness) approveOrder(ctx context.Context, args map[string]any) (any, error) {
	var a decisionArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	order, err := h.orders.Approve(ctx, a.OrderID, a.ApproverID)
	if err != nil {
		return nil, err
	}
	return orderResult(order), nil
}

func (h *Harness) rejectOrder(ctx context.Context, args map[string]any) (any, error) {
	var a decisionArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	order, err := h.orders.Reject(ctx, a.OrderID, a.ApproverID)
	if err != nil {
		return nil, err
	}
	return orderResult(order), nil
}

func (h *Harness) restock(ctx context.Context, args map[string]any) (any, error) {
	var a struct {
		ItemID   int64 `yaml:"item_id"`
		Quantity int64 `yaml:"quantity"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	change, err := h.orders.Restock(ctx, a.ItemID, a.Quantity)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"item_id":            change.ItemID,
		"quantity_available": change.QuantityAvailable,
		"availability":       string(change.Availability),
		"version":            change.Version,
	}, nil
}
