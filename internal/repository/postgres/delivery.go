package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eduforum/forum/internal/models"
)

// DeliveryStore persists outbound-notification bookkeeping. The status
// column is what keeps delivery idempotent: the worker checks it before
// sending, so a task redelivered after a restart cannot notify twice.
type DeliveryStore struct {
	pool *pgxpool.Pool
}

func NewDeliveryStore(pool *pgxpool.Pool) *DeliveryStore {
	return &DeliveryStore{pool: pool}
}

const deliveryColumns = `id, message_id, status, attempts, next_retry_at, last_error, updated_at`

func (s *DeliveryStore) Create(ctx context.Context, messageID int64) (*models.DeliveryAttempt, error) {
	query := `
		INSERT INTO delivery_attempts (message_id, status, attempts, updated_at)
		VALUES ($1, 'pending', 0, now())
		RETURNING ` + deliveryColumns

	var a models.DeliveryAttempt
	err := s.pool.QueryRow(ctx, query, messageID).Scan(
		&a.ID,
		&a.MessageID,
		&a.Status,
		&a.Attempts,
		&a.NextRetryAt,
		&a.LastError,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert delivery attempt: %w", err)
	}
	return &a, nil
}

func (s *DeliveryStore) GetByID(ctx context.Context, attemptID int64) (*models.DeliveryAttempt, error) {
	query := `SELECT ` + deliveryColumns + ` FROM delivery_attempts WHERE id = $1`

	var a models.DeliveryAttempt
	err := s.pool.QueryRow(ctx, query, attemptID).Scan(
		&a.ID,
		&a.MessageID,
		&a.Status,
		&a.Attempts,
		&a.NextRetryAt,
		&a.LastError,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get delivery attempt: %w", err)
	}
	return &a, nil
}

func (s *DeliveryStore) MarkSucceeded(ctx context.Context, attemptID int64) error {
	query := `
		UPDATE delivery_attempts
		SET status = 'succeeded', next_retry_at = NULL, last_error = '', updated_at = now()
		WHERE id = $1`

	_, err := s.pool.Exec(ctx, query, attemptID)
	if err != nil {
		return fmt.Errorf("mark delivery succeeded: %w", err)
	}
	return nil
}

func (s *DeliveryStore) MarkFailed(ctx context.Context, attemptID int64, lastError string) error {
	// Terminal. Failed attempts are never re-queued automatically; they
	// surface only in logs and this table.
	query := `
		UPDATE delivery_attempts
		SET status = 'failed', next_retry_at = NULL, last_error = $2, updated_at = now()
		WHERE id = $1`

	_, err := s.pool.Exec(ctx, query, attemptID, lastError)
	if err != nil {
		return fmt.Errorf("mark delivery failed: %w", err)
	}
	return nil
}

func (s *DeliveryStore) RecordAttempt(ctx context.Context, attemptID int64, nextRetryInSeconds int, lastError string) error {
	query := `
		UPDATE delivery_attempts
		SET attempts = attempts + 1,
		    next_retry_at = now() + make_interval(secs => $2),
		    last_error = $3,
		    updated_at = now()
		WHERE id = $1`

	_, err := s.pool.Exec(ctx, query, attemptID, nextRetryInSeconds, lastError)
	if err != nil {
		return fmt.Errorf("record delivery attempt: %w", err)
	}
	return nil
}
