// Package projection publishes committed stock changes on the realtime
// channel so dashboards and catalog views can follow item availability.
package projection

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/tillsync/internal/domain"
	"github.com/roach88/tillsync/internal/realtime"
)

// StockView is the wire form of an item's stock at key stock:<itemId>.
type StockView struct {
	ItemID            int64               `json:"itemId"`
	QuantityAvailable int64               `json:"quantityAvailable"`
	Availability      domain.Availability `json:"availability"`
	Delta             int64               `json:"delta"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

// ViewOf converts a committed change to its wire form.
func ViewOf(c domain.StockChange) StockView {
	return StockView{
		ItemID:            c.ItemID,
		QuantityAvailable: c.QuantityAvailable,
		Availability:      c.Availability,
		Delta:             c.Delta,
		UpdatedAt:         c.At.UTC(),
	}
}

// StockPublisher emits stock views, sequenced by item version.
type StockPublisher struct {
	notifier *realtime.Notifier
}

// NewStockPublisher creates a publisher writing through n.
func NewStockPublisher(n *realtime.Notifier) *StockPublisher {
	return &StockPublisher{notifier: n}
}

// PublishStock emits one view per change. Every change is attempted; the
// returned error joins the failures. Callers treat it as informational.
func (p *StockPublisher) PublishStock(ctx context.Context, changes []domain.StockChange) error {
	var errs []error
	for _, c := range changes {
		if err := p.notifier.Notify(ctx, realtime.StockKey(c.ItemID), c.Version, ViewOf(c)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe follows the stock view of one item.
func (p *StockPublisher) Subscribe(ctx context.Context, itemID int64) (*realtime.Subscription, error) {
	ch := p.notifier.Channel()
	if ch == nil {
		return nil, domain.ChannelUnavailable(realtime.StockKey(itemID), errors.New("no realtime channel configured"))
	}
	sub, err := ch.Subscribe(ctx, realtime.StockKey(itemID))
	if err != nil {
		return nil, domain.ChannelUnavailable(realtime.StockKey(itemID), err)
	}
	return sub, nil
}
