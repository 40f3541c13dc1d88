package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/roach88/tillsync/internal/domain"
)

// CreateSession inserts a new session. Returns CONFLICT on a duplicate id.
func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	cart, err := json.Marshal(nonNilCart(sess.Cart))
	if err != nil {
		return fmt.Errorf("create session: encode cart: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO sessions
		(id, operator_id, operator_name, status, cart, gross_amount, qr_payload, expire_at, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		sess.ID, sess.OperatorID, sess.OperatorName, string(sess.Status), cart, sess.GrossAmount,
		sess.QRPayload, nullTime(sess.ExpireAt), utc(sess.CreatedAt), utc(sess.UpdatedAt), sess.Version,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Conflict("session", sess.ID, "session already exists")
	}
	return nil
}

// GetSession reads a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var (
		sess     domain.Session
		status   string
		cart     []byte
		expireAt *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, operator_id, operator_name, status, cart, gross_amount, qr_payload, expire_at, created_at, updated_at, version
		FROM sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.OperatorID, &sess.OperatorName, &status, &cart, &sess.GrossAmount,
		&sess.QRPayload, &expireAt, &sess.CreatedAt, &sess.UpdatedAt, &sess.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("session", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	sess.Status = domain.SessionStatus(status)
	if expireAt != nil {
		sess.ExpireAt = expireAt.UTC()
	}
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.UpdatedAt = sess.UpdatedAt.UTC()
	if err := json.Unmarshal(cart, &sess.Cart); err != nil {
		return nil, fmt.Errorf("get session: decode cart: %w", err)
	}
	sess.Cart = nonNilCart(sess.Cart)
	return &sess, nil
}

// UpdateSession overwrites the mutable fields of sess when the stored version
// equals expectedVersion.
func (s *Store) UpdateSession(ctx context.Context, sess *domain.Session, expectedVersion int64) error {
	cart, err := json.Marshal(nonNilCart(sess.Cart))
	if err != nil {
		return fmt.Errorf("update session: encode cart: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET status = $1, cart = $2, gross_amount = $3, qr_payload = $4, expire_at = $5, updated_at = $6, version = $7
		WHERE id = $8 AND version = $9`,
		string(sess.Status), cart, sess.GrossAmount, sess.QRPayload, nullTime(sess.ExpireAt),
		utc(sess.UpdatedAt), sess.Version, sess.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var actual int64
	err = s.pool.QueryRow(ctx, `SELECT version FROM sessions WHERE id = $1`, sess.ID).Scan(&actual)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NotFound("session", sess.ID)
	}
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return domain.VersionConflict("session", sess.ID, expectedVersion, actual)
}

// ListExpiredPayments returns ids of PAYMENT sessions whose expiry is at or
// before now, oldest first.
func (s *Store) ListExpiredPayments(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM sessions
		WHERE status = 'PAYMENT' AND expire_at <= $1
		ORDER BY expire_at ASC, id ASC
		LIMIT $2`, utc(now), limit)
	if err != nil {
		return nil, fmt.Errorf("list expired payments: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list expired payments: %w", err)
	}
	return ids, nil
}

func nonNilCart(cart []domain.CartLine) []domain.CartLine {
	if cart == nil {
		return []domain.CartLine{}
	}
	return cart
}
