package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telehealth/telehealth/internal/domain/appointment"
)

const maxReconcileAttempts = 3

// AppointmentStore is the part of the appointment store reconciliation
// needs. ConditionalUpdate must be an atomic compare-and-swap on
// payment_status.
type AppointmentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ConditionalUpdate(ctx context.Context, id uuid.UUID, expected appointment.PaymentStatus, patch appointment.PaymentPatch) (*appointment.Appointment, error)
}

// SettlementListener is told once per appointment, after the Paid
// transition has been committed.
type SettlementListener interface {
	Settled(ctx context.Context, appt *appointment.Appointment, provider Provider)
}

// Reconciler applies verification results to appointments. It is the only
// writer of appointment payment fields.
type Reconciler struct {
	appts    AppointmentStore
	attempts AttemptRepository
	listener SettlementListener
	logger   zerolog.Logger
	now      func() time.Time
}

func NewReconciler(appts AppointmentStore, attempts AttemptRepository, listener SettlementListener, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		appts:    appts,
		attempts: attempts,
		listener: listener,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile applies result for transactionID to the appointment. The
// returned appointment is the stored state after the call, whether or not
// anything changed.
func (r *Reconciler) Reconcile(ctx context.Context, appointmentID uuid.UUID, transactionID string, result VerificationResult) (*appointment.Appointment, error) {
	attempt, err := r.checkLatest(ctx, appointmentID, transactionID)
	if err != nil {
		reconcileMismatchCounter.Inc()
		r.logger.Warn().Err(err).
			Str("appointment_id", appointmentID.String()).
			Str("transaction_id", transactionID).
			Msg("rejected verification for foreign or stale transaction")
		return nil, err
	}

	if err := r.attempts.RecordResult(ctx, transactionID, result); err != nil {
		r.logger.Error().Err(err).Str("transaction_id", transactionID).Msg("failed to record verification result")
	}

	for i := 0; i < maxReconcileAttempts; i++ {
		current, err := r.appts.GetByID(ctx, appointmentID)
		if errors.Is(err, appointment.ErrNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("load appointment: %w", err)
		}

		patch, ok := transition(current, transactionID, result.Outcome, attempt.Provider, r.now())
		if !ok {
			reconcileNoopCounter.Inc()
			return current, nil
		}

		updated, err := r.appts.ConditionalUpdate(ctx, appointmentID, current.PaymentStatus, patch)
		if errors.Is(err, appointment.ErrStatusConflict) {
			reconcileConflictCounter.Inc()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update appointment: %w", err)
		}

		r.logger.Info().
			Str("appointment_id", appointmentID.String()).
			Str("transaction_id", transactionID).
			Str("from", string(current.PaymentStatus)).
			Str("to", string(updated.PaymentStatus)).
			Msg("payment status changed")

		switch updated.PaymentStatus {
		case appointment.StatusPaid:
			reconcilePaidCounter.Inc()
			if r.listener != nil {
				r.listener.Settled(ctx, updated, attempt.Provider)
			}
		case appointment.StatusPending:
			reconcilePendingCounter.Inc()
		case appointment.StatusFailed:
			reconcileFailedCounter.Inc()
		}
		return updated, nil
	}
	return nil, fmt.Errorf("reconcile %s: %w", appointmentID, appointment.ErrStatusConflict)
}

func (r *Reconciler) checkLatest(ctx context.Context, appointmentID uuid.UUID, transactionID string) (*Attempt, error) {
	owner, _, err := ParseTransactionID(transactionID)
	if err != nil {
		return nil, err
	}
	if owner != appointmentID {
		return nil, fmt.Errorf("%w: %s belongs to another appointment", ErrMismatch, transactionID)
	}
	latest, err := r.attempts.Latest(ctx, appointmentID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: no order issued for appointment", ErrMismatch)
	}
	if err != nil {
		return nil, fmt.Errorf("load latest attempt: %w", err)
	}
	if latest.TransactionID != transactionID {
		return nil, fmt.Errorf("%w: %s is not the latest order", ErrMismatch, transactionID)
	}
	return latest, nil
}

// transition is the payment state machine. It returns false when the
// stored state must not change.
//
// Failed is terminal for the transaction that failed it; a newer order is
// allowed to move the appointment on, otherwise a retried payment could
// never settle.
func transition(a *appointment.Appointment, txID string, outcome Outcome, provider Provider, now time.Time) (appointment.PaymentPatch, bool) {
	status := a.PaymentStatus
	switch status {
	case appointment.StatusPaid:
		return appointment.PaymentPatch{}, false
	case appointment.StatusFailed:
		if a.TransactionID == nil || *a.TransactionID == txID {
			return appointment.PaymentPatch{}, false
		}
		status = appointment.StatusUnpaid
	}

	switch outcome {
	case OutcomeSuccess:
		method := provider.MethodName()
		return appointment.PaymentPatch{
			Status:        appointment.StatusPaid,
			PaymentMethod: &method,
			TransactionID: &txID,
			PaymentDate:   &now,
		}, true
	case OutcomeFailed:
		return appointment.PaymentPatch{Status: appointment.StatusFailed, TransactionID: &txID}, true
	default:
		if status == appointment.StatusPending {
			return appointment.PaymentPatch{}, false
		}
		return appointment.PaymentPatch{Status: appointment.StatusPending}, true
	}
}
