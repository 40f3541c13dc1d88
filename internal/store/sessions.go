package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/tillsync/internal/domain"
)

// CreateSession inserts a new session.
// Returns a CONFLICT error when a session with the same id already exists.
func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	cartJSON, err := marshalCart(sess.Cart)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions
		(id, operator_id, operator_name, status, cart, gross_amount, qr_payload, expire_at, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		sess.ID,
		sess.OperatorID,
		sess.OperatorName,
		string(sess.Status),
		cartJSON,
		sess.GrossAmount,
		sess.QRPayload,
		nullMillis(sess.ExpireAt),
		toMillis(sess.CreatedAt),
		toMillis(sess.UpdatedAt),
		sess.Version,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if n == 0 {
		return domain.Conflict("session", sess.ID, "session already exists")
	}
	return nil
}

// GetSession reads a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, operator_id, operator_name, status, cart, gross_amount, qr_payload, expire_at, created_at, updated_at, version
		FROM sessions
		WHERE id = ?
	`, id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("session", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// UpdateSession overwrites the mutable fields of sess when the stored version
// equals expectedVersion. sess.Version must already hold the new version.
//
// Returns NOT_FOUND when the session does not exist and CONFLICT when another
// writer has moved the version on.
func (s *Store) UpdateSession(ctx context.Context, sess *domain.Session, expectedVersion int64) error {
	cartJSON, err := marshalCart(sess.Cart)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = ?, cart = ?, gross_amount = ?, qr_payload = ?, expire_at = ?, updated_at = ?, version = ?
		WHERE id = ? AND version = ?
	`,
		string(sess.Status),
		cartJSON,
		sess.GrossAmount,
		sess.QRPayload,
		nullMillis(sess.ExpireAt),
		toMillis(sess.UpdatedAt),
		sess.Version,
		sess.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n == 1 {
		return nil
	}

	var actual int64
	err = s.db.QueryRowContext(ctx, `SELECT version FROM sessions WHERE id = ?`, sess.ID).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM sessions
		WHERE status = 'PAYMENT' AND expire_at <= ?
		ORDER BY expire_at ASC, id ASC
		LIMIT ?
	`, toMillis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("list expired payments: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list expired payments: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list expired payments: %w", err)
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		sess      domain.Session
		status    string
		cartJSON  string
		expireAt  sql.NullInt64
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(
		&sess.ID,
		&sess.OperatorID,
		&sess.OperatorName,
		&status,
		&cartJSON,
		&sess.GrossAmount,
		&sess.QRPayload,
		&expireAt,
		&createdAt,
		&updatedAt,
		&sess.Version,
	)
	if err != nil {
		return nil, err
	}

	sess.Status = domain.SessionStatus(status)
	sess.ExpireAt = fromNullMillis(expireAt)
	sess.CreatedAt = fromMillis(createdAt)
	sess.UpdatedAt = fromMillis(updatedAt)
	if err := json.Unmarshal([]byte(cartJSON), &sess.Cart); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	if sess.Cart == nil {
		sess.Cart = []domain.CartLine{}
	}
	return &sess, nil
}

func marshalCart(cart []domain.CartLine) (string, error) {
	if cart == nil {
		return "[]", nil
	}
	data, err := json.Marshal(cart)
	if err != nil {
		return "", fmt.Errorf("encode cart: %w", err)
	}
	return string(data), nil
}
