package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type attemptRepoPG struct{ db queryable }

func NewAttemptRepoPG(pool *pgxpool.Pool) AttemptRepository { return &attemptRepoPG{db: pool} }

const attemptCols = `transaction_id, appointment_id, provider, amount, issued_at,
	outcome, reference_id, raw_payload, verified_at`

func (r *attemptRepoPG) scan(row pgx.Row) (*Attempt, error) {
	var a Attempt
	err := row.Scan(&a.TransactionID, &a.AppointmentID, &a.Provider, &a.Amount, &a.IssuedAt,
		&a.Outcome, &a.ReferenceID, &a.RawPayload, &a.VerifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *attemptRepoPG) Create(ctx context.Context, a *Attempt) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO payment_attempts (transaction_id, appointment_id, provider, amount, issued_at)
		VALUES ($1, $2, $3, $4, $5)`,
		a.TransactionID, a.AppointmentID, a.Provider, a.Amount, a.IssuedAt)
	return err
}

func (r *attemptRepoPG) Get(ctx context.Context, transactionID string) (*Attempt, error) {
	return r.scan(r.db.QueryRow(ctx, `SELECT `+attemptCols+` FROM payment_attempts WHERE transaction_id = $1`, transactionID))
}

func (r *attemptRepoPG) Latest(ctx context.Context, appointmentID uuid.UUID) (*Attempt, error) {
	return r.scan(r.db.QueryRow(ctx, `
		SELECT `+attemptCols+` FROM payment_attempts
		WHERE appointment_id = $1
		ORDER BY issued_at DESC, transaction_id DESC
		LIMIT 1`, appointmentID))
}

func (r *attemptRepoPG) RecordResult(ctx context.Context, transactionID string, res VerificationResult) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE payment_attempts SET
			outcome = $2,
			provider_status = $3,
			reference_id = NULLIF($4, ''),
			raw_payload = $5,
			verified_at = $6
		WHERE transaction_id = $1 AND (outcome IS NULL OR outcome = 'Pending')`,
		transactionID, res.Outcome, res.ProviderStatus, res.ReferenceID, res.Raw, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	// Either unknown or already final.
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payment_attempts WHERE transaction_id = $1)`, transactionID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

func (r *attemptRepoPG) ListByAppointment(ctx context.Context, appointmentID uuid.UUID, limit, offset int) ([]*Attempt, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM payment_attempts WHERE appointment_id = $1`, appointmentID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+attemptCols+` FROM payment_attempts
		WHERE appointment_id = $1
		ORDER BY issued_at DESC
		LIMIT $2 OFFSET $3`, appointmentID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Attempt
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
