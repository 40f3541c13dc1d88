package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/tillsync/internal/checkout"
	"github.com/roach88/tillsync/internal/config"
	"github.com/roach88/tillsync/internal/domain"
	"github.com/roach88/tillsync/internal/fulfillment"
	"github.com/roach88/tillsync/internal/pgstore"
	"github.com/roach88/tillsync/internal/projection"
	"github.com/roach88/tillsync/internal/realtime"
	"github.com/roach88/tillsync/internal/store"
)

// backend is the durable store behind every command. Both the SQLite and
// the Postgres store satisfy it.
type backend interface {
	checkout.SessionStore
	fulfillment.Store
	PutItem(ctx context.Context, item domain.StockedItem) (domain.StockedItem, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ backend = (*store.Store)(nil)
	_ backend = (*pgstore.Store)(nil)
)

// openBackend opens the store selected by cfg.Driver.
func openBackend(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (backend, error) {
	switch cfg.Driver {
	case "sqlite":
		logger.Info("opening database", "driver", cfg.Driver, "path", cfg.Path)
		st, err := store.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		logger.Info("opening database", "driver", cfg.Driver)
		st, err := pgstore.Open(ctx, cfg.DSN, pgstore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// openChannel connects the realtime channel selected by cfg.Driver. The
// returned close function releases the connection.
func openChannel(ctx context.Context, cfg config.RealtimeConfig, logger *slog.Logger) (realtime.Channel, func() error, error) {
	switch cfg.Driver {
	case "memory":
		return realtime.NewBroker(realtime.WithRetention(cfg.ValueTTL)), func() error { return nil }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("realtime channel connected", "driver", cfg.Driver, "addr", cfg.RedisAddr)
		ch := realtime.NewRedisChannel(client,
			realtime.WithKeyPrefix(cfg.KeyPrefix),
			realtime.WithValueTTL(cfg.ValueTTL),
			realtime.WithRedisLogger(logger),
		)
		return ch, client.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown realtime driver %q", cfg.Driver)
}

// app bundles the services a command needs.
type app struct {
	store    backend
	channel  realtime.Channel
	notifier *realtime.Notifier
	sessions *checkout.Service
	orders   *fulfillment.Engine
	stock    *projection.StockPublisher

	closeChannel func() error
}

// openApp opens the store and channel and wires the services over them.
func openApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	st, err := openBackend(ctx, cfg.Store, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	ch, closeChannel, err := openChannel(ctx, cfg.Realtime, logger)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open realtime channel", err)
	}

	notifier := realtime.NewNotifier(ch,
		realtime.WithPublishTimeout(cfg.Realtime.PublishTimeout),
		realtime.WithNotifierLogger(logger),
	)
	stock := projection.NewStockPublisher(notifier)
	return &app{
		store:    st,
		channel:  ch,
		notifier: notifier,
		sessions: checkout.New(st, ch,
			checkout.WithNotifier(notifier),
			checkout.WithLogger(logger),
			checkout.WithPollInterval(cfg.Checkout.PollInterval),
		),
		orders:       fulfillment.New(st, stock, fulfillment.WithLogger(logger)),
		stock:        stock,
		closeChannel: closeChannel,
	}, nil
}

// Close releases the channel and the store.
func (a *app) Close() error {
	chErr := a.closeChannel()
	if err := a.store.Close(); err != nil {
		return err
	}
	return chErr
}
