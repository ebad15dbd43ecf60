package payment

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedMessage struct {
	key   string
	value []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []capturedMessage
	err  error
}

func (p *fakePublisher) Publish(ctx context.Context, key string, value []byte) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("publish without deadline")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, capturedMessage{key: key, value: value})
	return p.err
}

type fakeNotifier struct {
	texts []string
	err   error
}

func (n *fakeNotifier) Notify(_ context.Context, text string) error {
	n.texts = append(n.texts, text)
	return n.err
}

func TestSettlement_PublishesAndNotifies(t *testing.T) {
	pub := &fakePublisher{}
	notifier := &fakeNotifier{}
	s := NewSettlement(pub, notifier, zerolog.Nop())

	appt := newAppointment(uuid.New(), 1100)
	tx := TransactionID(appt.ID, time.UnixMilli(1700000000000))
	paidAt := time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)
	appt.TransactionID = &tx
	appt.PaymentDate = &paidAt

	// a cancelled request must not stop the fan-out
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Settled(ctx, appt, ProviderEsewa)
	s.Wait()

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, appt.ID.String(), pub.msgs[0].key)

	var ev SettledEvent
	require.NoError(t, json.Unmarshal(pub.msgs[0].value, &ev))
	assert.Equal(t, SettledEventType, ev.Type)
	assert.Equal(t, appt.ID, ev.AppointmentID)
	assert.Equal(t, appt.PatientID, ev.PatientID)
	assert.Equal(t, tx, ev.TransactionID)
	assert.Equal(t, "1100.00", ev.Amount)
	assert.Equal(t, ProviderEsewa, ev.Provider)
	assert.True(t, ev.PaidAt.Equal(paidAt))

	require.Len(t, notifier.texts, 1)
	assert.Contains(t, notifier.texts[0], "NPR 1100.00 via eSewa")
	assert.Contains(t, notifier.texts[0], tx)
}

func TestSettlement_FailuresAreSwallowed(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker unavailable")}
	notifier := &fakeNotifier{err: errors.New("telegram down")}
	s := NewSettlement(pub, notifier, zerolog.Nop())

	assert.NotPanics(t, func() {
		s.Settled(context.Background(), newAppointment(uuid.New(), 500), ProviderFonePay)
		s.Wait()
	})
	assert.Len(t, pub.msgs, 1)
	assert.Len(t, notifier.texts, 1)
}

func TestSettlement_Optional(t *testing.T) {
	s := NewSettlement(nil, nil, zerolog.Nop())
	assert.NotPanics(t, func() {
		s.Settled(context.Background(), newAppointment(uuid.New(), 500), ProviderFonePay)
		s.Wait()
	})
}

type blockingPublisher struct {
	release chan struct{}
	done    chan struct{}
}

func (p *blockingPublisher) Publish(ctx context.Context, _ string, _ []byte) error {
	defer close(p.done)
	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestSettlement_DoesNotBlockCaller(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{}), done: make(chan struct{})}
	s := NewSettlement(pub, nil, zerolog.Nop())

	returned := make(chan struct{})
	go func() {
		s.Settled(context.Background(), newAppointment(uuid.New(), 500), ProviderFonePay)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Settled waited for the publisher")
	}

	select {
	case <-pub.done:
		t.Fatal("publish finished before release")
	default:
	}

	close(pub.release)
	s.Wait()
	select {
	case <-pub.done:
	default:
		t.Fatal("Wait returned before delivery finished")
	}
}
