package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telehealth/telehealth/internal/domain/appointment"
)

const (
	SettledEventType  = "appointment.payment.settled"
	settlementTimeout = 5 * time.Second
)

// EventPublisher writes a keyed event to the message bus.
type EventPublisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Notifier sends a short text to staff.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// SettledEvent is published once per appointment when it becomes Paid.
type SettledEvent struct {
	ID            uuid.UUID `json:"id"`
	Type          string    `json:"type"`
	AppointmentID uuid.UUID `json:"appointmentId"`
	PatientID     uuid.UUID `json:"patientId"`
	DoctorID      uuid.UUID `json:"doctorId"`
	TransactionID string    `json:"transactionId"`
	Provider      Provider  `json:"provider"`
	Amount        string    `json:"amount"`
	PaidAt        time.Time `json:"paidAt"`
}

// Settlement fans a committed Paid transition out to the bus and to
// staff. Delivery runs in the background and failures are logged; the
// payment stays settled.
type Settlement struct {
	events   EventPublisher
	notifier Notifier
	logger   zerolog.Logger
	wg       sync.WaitGroup
}

func NewSettlement(events EventPublisher, notifier Notifier, logger zerolog.Logger) *Settlement {
	return &Settlement{events: events, notifier: notifier, logger: logger}
}

// Settled queues delivery for appt and returns without waiting for it.
func (s *Settlement) Settled(ctx context.Context, appt *appointment.Appointment, provider Provider) {
	ev := SettledEvent{
		ID:            uuid.New(),
		Type:          SettledEventType,
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
		DoctorID:      appt.DoctorID,
		Provider:      provider,
		Amount:        FormatAmount(appt.TotalAmount),
	}
	if appt.TransactionID != nil {
		ev.TransactionID = *appt.TransactionID
	}
	if appt.PaymentDate != nil {
		ev.PaidAt = *appt.PaymentDate
	}

	text := fmt.Sprintf("Payment received: NPR %s via %s\nAppointment %s at %s\nTransaction %s",
		ev.Amount, provider.MethodName(), appt.ID, appt.SlotStart.Format("2006-01-02 15:04"), ev.TransactionID)

	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliver(ctx, ev, text)
	}()
}

// Wait blocks until every queued delivery has finished.
func (s *Settlement) Wait() {
	s.wg.Wait()
}

func (s *Settlement) deliver(ctx context.Context, ev SettledEvent, text string) {
	ctx, cancel := context.WithTimeout(ctx, settlementTimeout)
	defer cancel()

	log := s.logger.With().Str("appointment_id", ev.AppointmentID.String()).Logger()

	if s.events != nil {
		body, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Msg("failed to encode settled event")
		} else if err := s.events.Publish(ctx, ev.AppointmentID.String(), body); err != nil {
			log.Error().Err(err).Msg("failed to publish settled event")
		}
	}

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, text); err != nil {
			log.Error().Err(err).Msg("failed to notify staff of settlement")
		}
	}
}
