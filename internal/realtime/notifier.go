package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/tillsync/internal/domain"
)

// Notifier publishes values without letting channel failures reach the
// caller's primary operation.
type Notifier struct {
	channel Channel
	timeout time.Duration
	logger  *slog.Logger
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithPublishTimeout bounds each publish. Default 2s.
func WithPublishTimeout(d time.Duration) NotifierOption {
	return func(n *Notifier) {
		n.timeout = d
	}
}

// WithNotifierLogger sets the logger. Default slog.Default().
func WithNotifierLogger(logger *slog.Logger) NotifierOption {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// NewNotifier wraps channel. A nil channel makes every Notify a no-op.
func NewNotifier(channel Channel, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		channel: channel,
		timeout: 2 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify publishes payload at key with sequence number seq.
//
// The publish outlives cancellation of ctx but is bounded by the publish
// timeout. A failure is logged and returned as a CHANNEL_UNAVAILABLE error,
// which callers are free to ignore.
func (n *Notifier) Notify(ctx context.Context, key string, seq int64, payload any) error {
	if n == nil || n.channel == nil {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify %s: encode payload: %w", key, err)
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	if err := n.channel.Publish(pctx, key, Message{Seq: seq, Payload: data}); err != nil {
		cu := domain.ChannelUnavailable(key, err)
		n.logger.Warn("realtime publish failed", "key", key, "seq", seq, "error", cu)
		return cu
	}
	n.logger.Debug("realtime published", "key", key, "seq", seq)
	return nil
}

// Channel returns the wrapped channel.
func (n *Notifier) Channel() Channel {
	return n.channel
}
