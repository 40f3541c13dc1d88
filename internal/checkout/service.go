package checkout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/tillsync/internal/domain"
	"github.com/roach88/tillsync/internal/ids"
	"github.com/roach88/tillsync/internal/realtime"
)

// SessionStore is the durable record the service reads and writes.
type SessionStore interface {
	CreateSession(ctx context.Context, sess *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	UpdateSession(ctx context.Context, sess *domain.Session, expectedVersion int64) error
	ListExpiredPayments(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// Service executes checkout session transitions.
//
// Thread-safety: Service holds no mutable state and is safe for concurrent
// use. Concurrent writers to one session are detected through the session
// version; the loser gets a CONFLICT error and is never retried implicitly.
type Service struct {
	store        SessionStore
	channel      realtime.Channel
	notifier     *realtime.Notifier
	ids          ids.Generator
	now          func() time.Time
	logger       *slog.Logger
	pollInterval time.Duration
	backoffMin   time.Duration
	backoffMax   time.Duration
	expireBatch  int
}

// Option configures a Service.
type Option func(*Service)

// WithIDGenerator sets the generator for sessions created without an id.
// Default ids.UUIDv7Generator.
func WithIDGenerator(gen ids.Generator) Option {
	return func(s *Service) {
		s.ids = gen
	}
}

// WithClock sets the wall clock. Default time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithPollInterval sets how long a Watch waits on the channel before
// re-reading the store, and how often it polls while degraded. Default 2s.
func WithPollInterval(d time.Duration) Option {
	return func(s *Service) {
		s.pollInterval = d
	}
}

// WithResubscribeBackoff bounds the delay between attempts to re-establish a
// failed channel subscription. Defaults 500ms and 30s.
func WithResubscribeBackoff(min, max time.Duration) Option {
	return func(s *Service) {
		s.backoffMin = min
		s.backoffMax = max
	}
}

// WithNotifier replaces the notifier built from the channel.
func WithNotifier(n *realtime.Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// New creates a Service. channel may be nil, in which case nothing is
// published and watchers poll the store.
func New(store SessionStore, channel realtime.Channel, opts ...Option) *Service {
	s := &Service{
		store:        store,
		channel:      channel,
		ids:          ids.UUIDv7Generator{},
		now:          time.Now,
		logger:       slog.Default(),
		pollInterval: 2 * time.Second,
		backoffMin:   500 * time.Millisecond,
		backoffMax:   30 * time.Second,
		expireBatch:  100,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = realtime.NewNotifier(channel, realtime.WithNotifierLogger(s.logger))
	}
	return s
}

// CreateRequest describes a new session.
type CreateRequest struct {
	// SessionID is optional. A UUIDv7 is generated when empty.
	SessionID    string
	OperatorID   string
	OperatorName string
}

// PaymentRequest carries the payment metadata produced by the gateway.
type PaymentRequest struct {
	QRPayload   string
	ExpireAt    time.Time
	GrossAmount int64
}

// MutationOption adjusts a single mutation.
type MutationOption func(*mutation)

type mutation struct {
	ifVersion int64
}

// IfVersion rejects the mutation with CONFLICT unless the session is
// currently at version v. Zero means no caller-side expectation.
func IfVersion(v int64) MutationOption {
	return func(m *mutation) {
		m.ifVersion = v
	}
}

// errUnchanged tells mutate that fn accepted the request without changing
// the session.
var errUnchanged = errors.New("unchanged")

// Create allocates an OPEN session with an empty cart and publishes it.
func (s *Service) Create(ctx context.Context, req CreateRequest) (domain.Snapshot, error) {
	if req.OperatorID == "" {
		return domain.Snapshot{}, domain.InvalidArgument("operator id is required")
	}

	id := req.SessionID
	if id == "" {
		id = s.ids.Generate()
	}

	now := s.clock()
	sess := &domain.Session{
		ID:           id,
		OperatorID:   req.OperatorID,
		OperatorName: domain.NormalizeName(req.OperatorName),
		Status:       domain.StatusOpen,
		Cart:         []domain.CartLine{},
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return domain.Snapshot{}, err
	}

	s.logger.Info("session created", "session_id", id, "operator_id", req.OperatorID)
	snap := sess.Snapshot()
	s.publish(ctx, snap)
	return snap, nil
}

// Get returns the current snapshot of a session.
func (s *Service) Get(ctx context.Context, id string) (domain.Snapshot, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

// UpdateCart replaces the cart of an OPEN session and recomputes the gross
// amount.
func (s *Service) UpdateCart(ctx context.Context, id string, items []domain.CartLineInput, opts ...MutationOption) (domain.Snapshot, error) {
	return s.mutate(ctx, id, "update cart", opts, func(sess *domain.Session) error {
		if sess.Status != domain.StatusOpen {
			return domain.InvalidState("session", id, string(sess.Status), "update cart")
		}
		lines, gross, err := domain.PriceCart(items)
		if err != nil {
			return err
		}
		sess.Cart = lines
		sess.GrossAmount = gross
		return nil
	})
}

// BeginPayment moves an OPEN session to PAYMENT. The supplied gross amount
// must equal the cart total exactly; a mismatch is an INTEGRITY_VIOLATION and
// the session is left untouched.
func (s *Service) BeginPayment(ctx context.Context, id string, req PaymentRequest, opts ...MutationOption) (domain.Snapshot, error) {
	return s.mutate(ctx, id, "begin payment", opts, func(sess *domain.Session) error {
		if sess.Status != domain.StatusOpen {
			return domain.InvalidState("session", id, string(sess.Status), "begin payment")
		}
		if len(sess.Cart) == 0 {
			return domain.InvalidArgument("cannot begin payment with an empty cart")
		}
		if req.QRPayload == "" {
			return domain.InvalidArgument("qr payload is required")
		}
		if !req.ExpireAt.After(s.clock()) {
			return domain.InvalidArgument("payment expiry must be in the future")
		}
		computed := domain.GrossOf(sess.Cart)
		if req.GrossAmount != computed {
			return domain.Integrity(id, req.GrossAmount, computed)
		}

		sess.Status = domain.StatusPayment
		sess.QRPayload = req.QRPayload
		sess.ExpireAt = req.ExpireAt.UTC().Truncate(time.Millisecond)
		sess.GrossAmount = computed
		return nil
	})
}

// Close ends a session from OPEN or PAYMENT. Closing a CLOSED session returns
// its terminal snapshot without writing or publishing.
func (s *Service) Close(ctx context.Context, id string, opts ...MutationOption) (domain.Snapshot, error) {
	return s.mutate(ctx, id, "close", opts, func(sess *domain.Session) error {
		if sess.Status == domain.StatusClosed {
			return errUnchanged
		}
		sess.Status = domain.StatusClosed
		return nil
	})
}

// ExpirePayments closes PAYMENT sessions whose expiry has passed and returns
// how many were closed. Sessions that change concurrently are skipped and
// picked up by a later run.
func (s *Service) ExpirePayments(ctx context.Context) (int, error) {
	now := s.clock()
	idList, err := s.store.ListExpiredPayments(ctx, now, s.expireBatch)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, id := range idList {
		_, err := s.mutate(ctx, id, "expire", nil, func(sess *domain.Session) error {
			if sess.Status != domain.StatusPayment || sess.ExpireAt.After(now) {
				return errUnchanged
			}
			sess.Status = domain.StatusClosed
			return nil
		})
		switch {
		case err == nil:
			closed++
		case domain.IsConflict(err), domain.IsNotFound(err):
			s.logger.Debug("skipping expired session", "session_id", id, "error", err)
		default:
			return closed, err
		}
	}
	return closed, nil
}

// mutate reads the session, applies fn, and writes the result with a
// compare-and-set on the version read.
func (s *Service) mutate(ctx context.Context, id, op string, opts []MutationOption, fn func(*domain.Session) error) (domain.Snapshot, error) {
	var m mutation
	for _, opt := range opts {
		opt(&m)
	}

	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if m.ifVersion != 0 && m.ifVersion != sess.Version {
		return domain.Snapshot{}, domain.VersionConflict("session", id, m.ifVersion, sess.Version)
	}

	prev := sess.Version
	prevStatus := sess.Status
	if err := fn(sess); err != nil {
		if errors.Is(err, errUnchanged) {
			return sess.Snapshot(), nil
		}
		return domain.Snapshot{}, err
	}
	if prevStatus != sess.Status && !prevStatus.CanTransitionTo(sess.Status) {
		return domain.Snapshot{}, domain.InvalidState("session", id, string(prevStatus), op)
	}

	sess.Version = prev + 1
	sess.UpdatedAt = s.clock()
	if err := s.store.UpdateSession(ctx, sess, prev); err != nil {
		return domain.Snapshot{}, err
	}

	s.logger.Info("session updated",
		"session_id", id,
		"op", op,
		"status", sess.Status,
		"version", sess.Version,
		"gross_amount", sess.GrossAmount)

	snap := sess.Snapshot()
	s.publish(ctx, snap)
	return snap, nil
}

func (s *Service) publish(ctx context.Context, snap domain.Snapshot) {
	// Failures are logged by the notifier and never fail the mutation.
	_ = s.notifier.Notify(ctx, realtime.SessionKey(snap.SessionID), snap.Version, snap)
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}
