package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
)

// ErrClosed is returned by Subscription.Next after Close.
var ErrClosed = errors.New("realtime: subscription closed")

// Message is one value published at a key.
type Message struct {
	// Seq orders values at a key. Higher wins.
	Seq int64 `json:"seq"`

	// Payload is the complete JSON value.
	Payload json.RawMessage `json:"payload"`
}

// Channel is a last-value-wins broadcast medium keyed by string.
type Channel interface {
	// Publish replaces the value at key. Values with a sequence number not
	// above the current one are ignored.
	Publish(ctx context.Context, key string, msg Message) error

	// Subscribe returns a subscription that first yields the current value at
	// key, if any, then every later value.
	Subscribe(ctx context.Context, key string) (*Subscription, error)
}

// SessionKey is the channel key of a checkout session.
func SessionKey(sessionID string) string {
	return "session:" + sessionID
}

// StockKey is the channel key of an item's stock projection.
func StockKey(itemID int64) string {
	return "stock:" + strconv.FormatInt(itemID, 10)
}
