package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrForbidden = errors.New("access denied")

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Book stores a new unpaid appointment for principal. The total amount is
// fixed here so the payment order never recomputes fees.
func (s *Service) Book(ctx context.Context, principal string, a *Appointment) error {
	patientID, err := uuid.Parse(principal)
	if err != nil {
		return fmt.Errorf("invalid patient id: %w", err)
	}
	if a.DoctorID == uuid.Nil {
		return fmt.Errorf("doctor_id is required")
	}
	if a.SlotStart.IsZero() {
		return fmt.Errorf("slot_start is required")
	}
	if a.ConsultationFee <= 0 {
		return fmt.Errorf("consultation_fee must be positive")
	}
	if a.SlotDuration <= 0 {
		a.SlotDuration = 30
	}
	a.PatientID = patientID
	a.PlatformFee = PlatformFee(a.ConsultationFee)
	a.TotalAmount = a.ConsultationFee + a.PlatformFee
	a.PaymentStatus = StatusUnpaid
	a.PaymentMethod = nil
	a.TransactionID = nil
	a.PaymentDate = nil
	return s.repo.Create(ctx, a)
}

func (s *Service) Get(ctx context.Context, principal string, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.OwnedBy(principal) {
		return nil, ErrForbidden
	}
	return a, nil
}

func (s *Service) ListForPatient(ctx context.Context, principal string, limit, offset int) ([]*Appointment, int, error) {
	patientID, err := uuid.Parse(principal)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid patient id: %w", err)
	}
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}
