package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// publishScript replaces the value at KEYS[1] and announces it on KEYS[3]
// unless the stored sequence number at KEYS[2] is already as high.
//
// ARGV: payload, seq, ttl in milliseconds (0 keeps the value forever).
var publishScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[2]) or '0')
local seq = tonumber(ARGV[2])
if cur >= seq then
  return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
  redis.call('SET', KEYS[2], ARGV[2], 'PX', ttl)
else
  redis.call('SET', KEYS[1], ARGV[1])
  redis.call('SET', KEYS[2], ARGV[2])
end
redis.call('PUBLISH', KEYS[3], ARGV[1])
return 1
`)

// RedisChannel is a Channel backed by Redis. The current value at a key is
// kept in a string key so late subscribers can read it; updates are announced
// with PUBLISH.
type RedisChannel struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// RedisOption configures a RedisChannel.
type RedisOption func(*RedisChannel)

// WithKeyPrefix namespaces every Redis key. Default "tillsync:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisChannel) {
		r.prefix = prefix
	}
}

// WithValueTTL expires retained values after ttl. Zero keeps them forever.
// Default 24h.
func WithValueTTL(ttl time.Duration) RedisOption {
	return func(r *RedisChannel) {
		r.ttl = ttl
	}
}

// WithRedisLogger sets the logger. Default slog.Default().
func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(r *RedisChannel) {
		r.logger = logger
	}
}

// NewRedisChannel creates a channel using client.
func NewRedisChannel(client *redis.Client, opts ...RedisOption) *RedisChannel {
	r := &RedisChannel{
		client: client,
		prefix: "tillsync:",
		ttl:    24 * time.Hour,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Publish implements Channel.
func (r *RedisChannel) Publish(ctx context.Context, key string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	keys := []string{r.valueKey(key), r.seqKey(key), r.topic(key)}
	err = publishScript.Run(ctx, r.client, keys, string(data), msg.Seq, r.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", key, err)
	}
	return nil
}

// Subscribe implements Channel.
//
// The SUBSCRIBE is confirmed before the current value is read, so a publish
// racing with Subscribe is seen either through GET or through the topic.
func (r *RedisChannel) Subscribe(ctx context.Context, key string) (*Subscription, error) {
	ps := r.client.Subscribe(ctx, r.topic(key))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", key, err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	sub := newSubscription(func() {
		cancel()
		ps.Close()
	})

	data, err := r.client.Get(ctx, r.valueKey(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		sub.Close()
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	default:
		if msg, err := decodeMessage(data); err == nil {
			sub.offer(msg)
		} else {
			r.logger.Warn("discarding undecodable retained value", "key", key, "error", err)
		}
	}

	go r.pump(pumpCtx, key, ps, sub)
	return sub, nil
}

// pump forwards topic messages into sub until the connection fails or the
// subscription is closed.
func (r *RedisChannel) pump(ctx context.Context, key string, ps *redis.PubSub, sub *Subscription) {
	for {
		m, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Debug("redis subscription ended", "key", key, "error", err)
			}
			sub.fail(fmt.Errorf("redis receive %s: %w", key, err))
			return
		}
		msg, err := decodeMessage([]byte(m.Payload))
		if err != nil {
			r.logger.Warn("discarding undecodable message", "key", key, "error", err)
			continue
		}
		sub.offer(msg)
	}
}

func (r *RedisChannel) valueKey(key string) string {
	return fmt.Sprintf("%s{%s}:value", r.prefix, key)
}

func (r *RedisChannel) seqKey(key string) string {
	return fmt.Sprintf("%s{%s}:seq", r.prefix, key)
}

func (r *RedisChannel) topic(key string) string {
	return fmt.Sprintf("%s{%s}:topic", r.prefix, key)
}

func decodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}
