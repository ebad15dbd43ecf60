package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// -- Mock Repository --

type mockRepo struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*Appointment
}

func newMockRepo() *mockRepo {
	return &mockRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *mockRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = time.Now()
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Appointment
	for _, a := range m.appts {
		if a.PatientID == patientID {
			cp := *a
			result = append(result, &cp)
		}
	}
	return result, len(result), nil
}

func (m *mockRepo) ConditionalUpdate(_ context.Context, id uuid.UUID, expected PaymentStatus, patch PaymentPatch) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if a.PaymentStatus != expected {
		return nil, ErrStatusConflict
	}
	a.Apply(patch)
	cp := *a
	return &cp, nil
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo), repo
}

func TestService_Book(t *testing.T) {
	svc, _ := newTestService()
	patient := uuid.New()
	a := &Appointment{
		DoctorID:         uuid.New(),
		SlotStart:        time.Now().Add(24 * time.Hour),
		ConsultationType: "video",
		ConsultationFee:  1000,
	}
	if err := svc.Book(context.Background(), patient.String(), a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if a.PatientID != patient {
		t.Errorf("expected patient %s, got %s", patient, a.PatientID)
	}
	if a.PlatformFee != 100 {
		t.Errorf("expected platform fee 100, got %v", a.PlatformFee)
	}
	if a.TotalAmount != 1100 {
		t.Errorf("expected total 1100, got %v", a.TotalAmount)
	}
	if a.PaymentStatus != StatusUnpaid {
		t.Errorf("expected Unpaid, got %s", a.PaymentStatus)
	}
	if a.SlotDuration != 30 {
		t.Errorf("expected default duration 30, got %d", a.SlotDuration)
	}
}

func TestService_Book_IgnoresClientPaymentFields(t *testing.T) {
	svc, _ := newTestService()
	tx := "APT_forged"
	a := &Appointment{
		DoctorID:        uuid.New(),
		SlotStart:       time.Now(),
		ConsultationFee: 500,
		PaymentStatus:   StatusPaid,
		TransactionID:   &tx,
	}
	if err := svc.Book(context.Background(), uuid.New().String(), a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.PaymentStatus != StatusUnpaid || a.TransactionID != nil {
		t.Errorf("expected payment fields to be reset, got %s %v", a.PaymentStatus, a.TransactionID)
	}
}

func TestService_Book_Validation(t *testing.T) {
	svc, _ := newTestService()
	tests := []struct {
		name      string
		principal string
		appt      Appointment
	}{
		{"bad principal", "dev-user", Appointment{DoctorID: uuid.New(), SlotStart: time.Now(), ConsultationFee: 1}},
		{"missing doctor", uuid.New().String(), Appointment{SlotStart: time.Now(), ConsultationFee: 1}},
		{"missing slot", uuid.New().String(), Appointment{DoctorID: uuid.New(), ConsultationFee: 1}},
		{"zero fee", uuid.New().String(), Appointment{DoctorID: uuid.New(), SlotStart: time.Now()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.appt
			if err := svc.Book(context.Background(), tt.principal, &a); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestService_Get_Ownership(t *testing.T) {
	svc, _ := newTestService()
	patient := uuid.New().String()
	a := &Appointment{DoctorID: uuid.New(), SlotStart: time.Now(), ConsultationFee: 500}
	if err := svc.Book(context.Background(), patient, a); err != nil {
		t.Fatalf("book: %v", err)
	}

	if _, err := svc.Get(context.Background(), patient, a.ID); err != nil {
		t.Fatalf("owner should read appointment: %v", err)
	}
	if _, err := svc.Get(context.Background(), uuid.New().String(), a.ID); err != ErrForbidden {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Get(context.Background(), patient, uuid.New()); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_ListForPatient(t *testing.T) {
	svc, _ := newTestService()
	patient := uuid.New().String()
	for i := 0; i < 3; i++ {
		a := &Appointment{DoctorID: uuid.New(), SlotStart: time.Now(), ConsultationFee: 500}
		if err := svc.Book(context.Background(), patient, a); err != nil {
			t.Fatalf("book: %v", err)
		}
	}
	other := &Appointment{DoctorID: uuid.New(), SlotStart: time.Now(), ConsultationFee: 500}
	svc.Book(context.Background(), uuid.New().String(), other)

	items, total, err := svc.ListForPatient(context.Background(), patient, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 || len(items) != 3 {
		t.Errorf("expected 3 appointments, got %d/%d", len(items), total)
	}
}
