package appointment

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	// ConditionalUpdate applies patch only while the stored payment status
	// still equals expected. It returns ErrStatusConflict when another writer
	// got there first and ErrNotFound when the row does not exist.
	ConditionalUpdate(ctx context.Context, id uuid.UUID, expected PaymentStatus, patch PaymentPatch) (*Appointment, error)
}
