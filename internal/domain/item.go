package domain

import "time"

// Availability is the sellable state of a stocked item.
type Availability string

const (
	Available       Availability = "AVAILABLE"
	PendingApproval Availability = "PENDING_APPROVAL"
	SoldOut         Availability = "SOLD_OUT"
	Rejected        Availability = "REJECTED"
)

// Valid reports whether a is a known availability.
func (a Availability) Valid() bool {
	switch a {
	case Available, PendingApproval, SoldOut, Rejected:
		return true
	}
	return false
}

// Sellable reports whether stock of an item in this state may be committed
// to an order.
func (a Availability) Sellable() bool {
	return a == Available || a == SoldOut
}

// StockedItem is a catalog item with its on-hand quantity.
type StockedItem struct {
	ID                int64        `json:"id" yaml:"id"`
	Name              string       `json:"name" yaml:"name"`
	UnitPrice         int64        `json:"unitPrice" yaml:"unit_price"`
	QuantityAvailable int64        `json:"quantityAvailable" yaml:"quantity"`
	Availability      Availability `json:"availability" yaml:"availability"`
	Version           int64        `json:"version" yaml:"-"`
	UpdatedAt         time.Time    `json:"updatedAt" yaml:"-"`
}

// AfterDecrement returns the availability of an item that had prev
// availability and now has remaining units. An AVAILABLE item that reaches
// zero becomes SOLD_OUT; every other state is kept.
func AfterDecrement(prev Availability, remaining int64) Availability {
	if remaining == 0 && prev == Available {
		return SoldOut
	}
	return prev
}

// OpeningAvailability returns the availability a new item is stored with.
// An empty value means AVAILABLE, an AVAILABLE item with no stock opens
// SOLD_OUT and a SOLD_OUT item with stock opens AVAILABLE.
func OpeningAvailability(a Availability, quantity int64) Availability {
	if a == "" {
		a = Available
	}
	switch {
	case quantity == 0 && a == Available:
		return SoldOut
	case quantity > 0 && a == SoldOut:
		return Available
	}
	return a
}

// AfterRestock returns the availability of an item after units were added.
func AfterRestock(prev Availability, remaining int64) Availability {
	if remaining > 0 && prev == SoldOut {
		return Available
	}
	return prev
}

// StockChange records one committed change to an item's quantity.
type StockChange struct {
	ItemID            int64        `json:"itemId"`
	Delta             int64        `json:"delta"`
	QuantityAvailable int64        `json:"quantityAvailable"`
	Availability      Availability `json:"availability"`
	Version           int64        `json:"version"`
	At                time.Time    `json:"at"`
}
