package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telehealth/telehealth/internal/config"
	"github.com/telehealth/telehealth/internal/domain/payment"
	"github.com/telehealth/telehealth/internal/platform/auth"
	"github.com/telehealth/telehealth/internal/platform/events"
	"github.com/telehealth/telehealth/internal/platform/notification"
)

type fakeSessionPublisher struct {
	mu        sync.Mutex
	published []string
	forgotten []string
	err       error
}

func (p *fakeSessionPublisher) Publish(channel, event string, v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, channel+":"+event)
	return nil
}

func (p *fakeSessionPublisher) Forget(channel string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forgotten = append(p.forgotten, channel)
}

func (p *fakeSessionPublisher) forgottenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.forgotten)
}

func TestSessionObserver(t *testing.T) {
	pub := &fakeSessionPublisher{}
	obs := sessionObserver(pub, zerolog.Nop(), 10*time.Millisecond)
	id := uuid.New()
	channel := payment.SessionChannel(id)

	obs.SessionChanged(payment.Snapshot{ID: id, State: payment.StateProcessing})
	obs.SessionChanged(payment.Snapshot{ID: id, State: payment.StateSuccess})

	assert.Equal(t, []string{channel + ":session", channel + ":session"}, pub.published)
	assert.Eventually(t, func() bool { return pub.forgottenCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSessionObserver_PublishError(t *testing.T) {
	pub := &fakeSessionPublisher{err: errors.New("closed")}
	var buf bytes.Buffer
	obs := sessionObserver(pub, zerolog.New(&buf), time.Millisecond)

	obs.SessionChanged(payment.Snapshot{ID: uuid.New(), State: payment.StateFailed})

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, pub.forgottenCount())
	assert.Contains(t, buf.String(), "failed to publish session event")
}

func TestAPIAuth(t *testing.T) {
	call := func(cfg *config.Config, header, value string) int {
		e := echo.New()
		e.GET("/", func(c echo.Context) error {
			return c.String(http.StatusOK, auth.UserIDFromContext(c.Request().Context()))
		}, apiAuth(cfg))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set(header, value)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	dev := &config.Config{Env: "development", AuthSigningKey: "dev-secret"}
	assert.Equal(t, http.StatusOK, call(dev, auth.DevUserHeader, "patient-1"))
	assert.Equal(t, http.StatusUnauthorized, call(dev, "", ""))

	prod := &config.Config{Env: "production", AuthSigningKey: "0123456789abcdef0123456789abcdef"}
	assert.Equal(t, http.StatusUnauthorized, call(prod, auth.DevUserHeader, "patient-1"))
}

func TestSettlementSinks(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		pub, notifier, closer, err := settlementSinks(&config.Config{}, zerolog.Nop())
		require.NoError(t, err)
		assert.IsType(t, events.Nop{}, pub)
		assert.IsType(t, notification.Nop{}, notifier)
		assert.NoError(t, closer())
	})

	t.Run("kafka", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := &config.Config{KafkaBrokers: []string{"localhost:9092"}, KafkaPaymentTopic: "appointment.payments"}
		pub, _, closer, err := settlementSinks(cfg, zerolog.New(&buf))
		require.NoError(t, err)
		assert.IsType(t, &events.KafkaPublisher{}, pub)
		assert.NoError(t, closer())
		assert.Contains(t, buf.String(), "kafka publishing enabled")
		assert.NotContains(t, buf.String(), "telegram")
	})
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	prodLogger := newLogger("production", &buf)
	prodLogger.Info().Msg("hello")
	assert.Contains(t, buf.String(), `"message":"hello"`)

	buf.Reset()
	devLogger := newLogger("development", &buf)
	devLogger.Info().Msg("hello")
	assert.NotContains(t, buf.String(), `"message"`)
	assert.Contains(t, buf.String(), "hello")
}
