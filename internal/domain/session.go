package domain

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// SessionStatus is the lifecycle state of a checkout session.
type SessionStatus string

const (
	StatusOpen    SessionStatus = "OPEN"
	StatusPayment SessionStatus = "PAYMENT"
	StatusClosed  SessionStatus = "CLOSED"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusPayment, StatusClosed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle permits moving from s to next.
// Transitions are forward-only: OPEN→PAYMENT, OPEN→CLOSED, PAYMENT→CLOSED.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case StatusOpen:
		return next == StatusPayment || next == StatusClosed
	case StatusPayment:
		return next == StatusClosed
	}
	return false
}

// CartLine is one priced line of a session cart.
type CartLine struct {
	ItemID    int64  `json:"itemId"`
	Name      string `json:"name"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	Subtotal  int64  `json:"subtotal"`
}

// CartLineInput is a cart line as submitted by the register.
type CartLineInput struct {
	ItemID    int64  `json:"itemId" yaml:"item_id"`
	Name      string `json:"name" yaml:"name"`
	Quantity  int64  `json:"quantity" yaml:"quantity"`
	UnitPrice int64  `json:"unitPrice" yaml:"unit_price"`
}

// Session is the durable record of a checkout session.
type Session struct {
	ID           string
	OperatorID   string
	OperatorName string
	Status       SessionStatus
	Cart         []CartLine
	GrossAmount  int64
	QRPayload    string
	ExpireAt     time.Time // zero until PAYMENT
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// Version starts at 1 and increases by one on every mutation.
	Version int64
}

// Snapshot is the complete, self-describing view of a session pushed to
// displays. The field order is the wire order.
type Snapshot struct {
	SessionID   string        `json:"sessionId"`
	Status      SessionStatus `json:"status"`
	Cart        []CartLine    `json:"cart"`
	GrossAmount int64         `json:"grossAmount"`
	QRPayload   string        `json:"qrPayload,omitempty"`
	ExpireAt    *time.Time    `json:"expireAt,omitempty"`
	UpdatedAt   time.Time     `json:"updatedAt"`

	// Version travels beside the snapshot (channel sequence, HTTP ETag).
	Version int64 `json:"-"`
}

// Snapshot returns the wire view of s.
func (s *Session) Snapshot() Snapshot {
	cart := make([]CartLine, len(s.Cart))
	copy(cart, s.Cart)
	snap := Snapshot{
		SessionID:   s.ID,
		Status:      s.Status,
		Cart:        cart,
		GrossAmount: s.GrossAmount,
		UpdatedAt:   s.UpdatedAt.UTC(),
		Version:     s.Version,
	}
	if s.Status != StatusOpen && s.QRPayload != "" {
		snap.QRPayload = s.QRPayload
		exp := s.ExpireAt.UTC()
		snap.ExpireAt = &exp
	}
	return snap
}

// Terminal reports whether the snapshot is the last one a session emits.
func (s Snapshot) Terminal() bool {
	return s.Status == StatusClosed
}

// PriceCart validates inputs and returns the priced cart with its gross amount.
// Names are NFC-normalized and trimmed. Duplicate item ids are rejected.
func PriceCart(inputs []CartLineInput) ([]CartLine, int64, error) {
	lines := make([]CartLine, 0, len(inputs))
	seen := make(map[int64]struct{}, len(inputs))
	var gross int64
	for i, in := range inputs {
		if in.ItemID <= 0 {
			return nil, 0, InvalidArgument("cart[%d]: item id must be positive", i)
		}
		if _, dup := seen[in.ItemID]; dup {
			return nil, 0, InvalidArgument("cart[%d]: duplicate item id %d", i, in.ItemID)
		}
		seen[in.ItemID] = struct{}{}
		if in.Quantity <= 0 {
			return nil, 0, InvalidArgument("cart[%d]: quantity must be positive", i)
		}
		if in.Quantity > MaxLineQuantity {
			return nil, 0, InvalidArgument("cart[%d]: quantity must not exceed %d", i, MaxLineQuantity)
		}
		if in.UnitPrice < 0 {
			return nil, 0, InvalidArgument("cart[%d]: unit price must not be negative", i)
		}
		name := NormalizeName(in.Name)
		if name == "" {
			return nil, 0, InvalidArgument("cart[%d]: name is required", i)
		}
		sub, ok := mulAmount(in.Quantity, in.UnitPrice)
		if !ok {
			return nil, 0, InvalidArgument("cart[%d]: subtotal overflows", i)
		}
		if gross, ok = addAmount(gross, sub); !ok {
			return nil, 0, InvalidArgument("cart[%d]: gross amount overflows", i)
		}
		lines = append(lines, CartLine{
			ItemID:    in.ItemID,
			Name:      name,
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
			Subtotal:  sub,
		})
	}
	return lines, gross, nil
}

// GrossOf sums the subtotals of lines.
func GrossOf(lines []CartLine) int64 {
	var gross int64
	for _, l := range lines {
		gross += l.Subtotal
	}
	return gross
}

// NormalizeName trims s and converts it to Unicode NFC so that visually equal
// names compare and serialize identically on both displays.
func NormalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
