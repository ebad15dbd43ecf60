package payment

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/telehealth/telehealth/internal/domain/appointment"
)

// -- Mock Appointment Store --

type memAppointments struct {
	mu      sync.Mutex
	appts   map[uuid.UUID]*appointment.Appointment
	updates int32
}

func newMemAppointments(appts ...*appointment.Appointment) *memAppointments {
	m := &memAppointments{appts: make(map[uuid.UUID]*appointment.Appointment)}
	for _, a := range appts {
		cp := *a
		m.appts[a.ID] = &cp
	}
	return m
}

func (m *memAppointments) GetByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, appointment.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAppointments) ConditionalUpdate(_ context.Context, id uuid.UUID, expected appointment.PaymentStatus, patch appointment.PaymentPatch) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, appointment.ErrNotFound
	}
	if a.PaymentStatus != expected {
		return nil, appointment.ErrStatusConflict
	}
	a.Apply(patch)
	atomic.AddInt32(&m.updates, 1)
	cp := *a
	return &cp, nil
}

func (m *memAppointments) get(id uuid.UUID) appointment.Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.appts[id]
}

// -- Mock Attempt Repository --

type memAttempts struct {
	mu       sync.Mutex
	attempts map[string]*Attempt
}

func newMemAttempts() *memAttempts {
	return &memAttempts{attempts: make(map[string]*Attempt)}
}

func (m *memAttempts) Create(_ context.Context, a *Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.attempts[a.TransactionID] = &cp
	return nil
}

func (m *memAttempts) Get(_ context.Context, txID string) (*Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[txID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAttempts) Latest(_ context.Context, appointmentID uuid.UUID) (*Attempt, error) {
	items := m.list(appointmentID)
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

func (m *memAttempts) RecordResult(_ context.Context, txID string, r VerificationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[txID]
	if !ok {
		return ErrNotFound
	}
	if a.Outcome != nil && a.Outcome.Terminal() {
		return nil
	}
	outcome, raw, now := r.Outcome, r.Raw, time.Now()
	a.Outcome = &outcome
	a.RawPayload = &raw
	a.VerifiedAt = &now
	if r.ReferenceID != "" {
		ref := r.ReferenceID
		a.ReferenceID = &ref
	}
	return nil
}

func (m *memAttempts) ListByAppointment(_ context.Context, appointmentID uuid.UUID, limit, offset int) ([]*Attempt, int, error) {
	items := m.list(appointmentID)
	total := len(items)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return items[offset:end], total, nil
}

func (m *memAttempts) list(appointmentID uuid.UUID) []*Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []*Attempt
	for _, a := range m.attempts {
		if a.AppointmentID != nil && *a.AppointmentID == appointmentID {
			cp := *a
			items = append(items, &cp)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].IssuedAt.After(items[j].IssuedAt) })
	return items
}

// issue records an attempt for appt the way the service does.
func (m *memAttempts) issue(appt *appointment.Appointment, provider Provider, issued time.Time) string {
	id := appt.ID
	tx := TransactionID(appt.ID, issued)
	m.Create(context.Background(), &Attempt{
		TransactionID: tx,
		AppointmentID: &id,
		Provider:      provider,
		Amount:        FormatAmount(appt.TotalAmount),
		IssuedAt:      issued,
	})
	return tx
}

// -- Recording Settlement Listener --

type recordingListener struct {
	mu      sync.Mutex
	settled []uuid.UUID
}

func (l *recordingListener) Settled(_ context.Context, appt *appointment.Appointment, _ Provider) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settled = append(l.settled, appt.ID)
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.settled)
}
