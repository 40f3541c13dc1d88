package checkout

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically closes PAYMENT sessions whose expiry has passed.
// Several reapers may run against one store; ExpirePayments tolerates
// losing the race for a session.
type Reaper struct {
	svc      *Service
	interval time.Duration
	logger   *slog.Logger
}

// NewReaper creates a reaper that runs every interval.
func NewReaper(svc *Service, interval time.Duration) *Reaper {
	return &Reaper{svc: svc, interval: interval, logger: svc.logger}
}

// Run expires sessions until ctx is done. Errors from a single pass are
// logged and the next tick tries again.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("payment reaper started", "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("payment reaper stopped")
			return ctx.Err()
		case <-ticker.C:
			n, err := r.svc.ExpirePayments(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Error("expire payments failed", "error", err)
				continue
			}
			if n > 0 {
				r.logger.Info("expired payment sessions", "count", n)
			}
		}
	}
}
