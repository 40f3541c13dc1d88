package domain

import "time"

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderRejected  OrderStatus = "REJECTED"
)

// OrderLine is a requested quantity of one item.
type OrderLine struct {
	ItemID    int64 `json:"itemId" yaml:"item_id"`
	Quantity  int64 `json:"quantity" yaml:"quantity"`
	UnitPrice int64 `json:"unitPrice" yaml:"unit_price"`
}

// Order is a buyer's request for items, decided exactly once by an approver.
type Order struct {
	ID        string      `json:"id"`
	BuyerID   string      `json:"buyerId"`
	Status    OrderStatus `json:"status"`
	Lines     []OrderLine `json:"lines"`
	DecidedBy string      `json:"decidedBy,omitempty"`
	DecidedAt *time.Time  `json:"decidedAt,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Total returns the order value in minor units. Lines accepted by
// ValidateLines never overflow it.
func (o *Order) Total() int64 {
	var total int64
	for _, l := range o.Lines {
		total += l.Quantity * l.UnitPrice
	}
	return total
}

// RequestedQuantities sums line quantities per item. Every sum is positive;
// a non-positive line or an overflowing sum is INVALID_ARGUMENT.
func (o *Order) RequestedQuantities() (map[int64]int64, error) {
	req := make(map[int64]int64, len(o.Lines))
	for i, l := range o.Lines {
		if l.Quantity <= 0 {
			return nil, InvalidArgument("lines[%d]: quantity must be positive", i)
		}
		sum, ok := addAmount(req[l.ItemID], l.Quantity)
		if !ok {
			return nil, InvalidArgument("lines[%d]: requested quantity of item %d overflows", i, l.ItemID)
		}
		req[l.ItemID] = sum
	}
	return req, nil
}

// ValidateLines checks the lines of a new order.
func ValidateLines(lines []OrderLine) error {
	if len(lines) == 0 {
		return InvalidArgument("order must have at least one line")
	}
	var total int64
	perItem := make(map[int64]int64, len(lines))
	for i, l := range lines {
		if l.ItemID <= 0 {
			return InvalidArgument("lines[%d]: item id must be positive", i)
		}
		if l.Quantity <= 0 {
			return InvalidArgument("lines[%d]: quantity must be positive", i)
		}
		if l.Quantity > MaxLineQuantity {
			return InvalidArgument("lines[%d]: quantity must not exceed %d", i, MaxLineQuantity)
		}
		if l.UnitPrice < 0 {
			return InvalidArgument("lines[%d]: unit price must not be negative", i)
		}
		perItem[l.ItemID] += l.Quantity
		if perItem[l.ItemID] > MaxLineQuantity {
			return InvalidArgument("lines[%d]: total quantity of item %d must not exceed %d", i, l.ItemID, MaxLineQuantity)
		}
		sub, ok := mulAmount(l.Quantity, l.UnitPrice)
		if !ok {
			return InvalidArgument("lines[%d]: subtotal overflows", i)
		}
		if total, ok = addAmount(total, sub); !ok {
			return InvalidArgument("lines[%d]: order total overflows", i)
		}
	}
	return nil
}
