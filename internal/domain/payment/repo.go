package payment

import (
	"context"

	"github.com/google/uuid"
)

// AttemptRepository is the ledger of issued orders.
type AttemptRepository interface {
	Create(ctx context.Context, a *Attempt) error
	Get(ctx context.Context, transactionID string) (*Attempt, error)
	// Latest returns the most recently issued attempt for an appointment.
	Latest(ctx context.Context, appointmentID uuid.UUID) (*Attempt, error)
	// RecordResult stores a verification result. An attempt that already
	// holds a Success or Failed outcome is left as it is.
	RecordResult(ctx context.Context, transactionID string, r VerificationResult) error
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID, limit, offset int) ([]*Attempt, int, error)
}
