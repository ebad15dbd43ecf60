package appointment

import (
	"context"
	"errors"
	"fmt"

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

type appointmentRepoPG struct{ db queryable }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &appointmentRepoPG{db: pool} }

const apptCols = `id, patient_id, doctor_id, slot_start, slot_duration, consultation_type,
	consultation_fee, platform_fee, total_amount, payment_status, payment_method,
	transaction_id, payment_date, created_at, updated_at`

func (r *appointmentRepoPG) scan(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.SlotStart, &a.SlotDuration, &a.ConsultationType,
		&a.ConsultationFee, &a.PlatformFee, &a.TotalAmount, &a.PaymentStatus, &a.PaymentMethod,
		&a.TransactionID, &a.PaymentDate, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	if a.PaymentStatus == "" {
		a.PaymentStatus = StatusUnpaid
	}
	return r.db.QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, slot_start, slot_duration, consultation_type,
			consultation_fee, platform_fee, total_amount, payment_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.SlotStart, a.SlotDuration, a.ConsultationType,
		a.ConsultationFee, a.PlatformFee, a.TotalAmount, a.PaymentStatus).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scan(r.db.QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM appointment WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `SELECT `+apptCols+` FROM appointment WHERE patient_id = $1 ORDER BY slot_start DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

// ConditionalUpdate is a single compare-and-swap statement; the WHERE clause
// on payment_status is what serializes concurrent reconcilers.
func (r *appointmentRepoPG) ConditionalUpdate(ctx context.Context, id uuid.UUID, expected PaymentStatus, patch PaymentPatch) (*Appointment, error) {
	if !patch.Status.Valid() {
		return nil, fmt.Errorf("invalid payment status: %s", patch.Status)
	}
	a, err := r.scan(r.db.QueryRow(ctx, `
		UPDATE appointment SET
			payment_status = $3,
			payment_method = COALESCE($4, payment_method),
			transaction_id = COALESCE($5, transaction_id),
			payment_date = COALESCE($6, payment_date),
			updated_at = NOW()
		WHERE id = $1 AND payment_status = $2
		RETURNING `+apptCols,
		id, expected, patch.Status, patch.PaymentMethod, patch.TransactionID, patch.PaymentDate))
	if !errors.Is(err, ErrNotFound) {
		return a, err
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointment WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	return nil, ErrStatusConflict
}
