package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telehealth/telehealth/internal/domain/appointment"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultPollTimeout  = 60 * time.Second

	ReasonTimeout   = "timeout"
	ReasonCancelled = "cancelled"

	sessionRetention = 30 * time.Minute
)

var (
	ErrSessionNotFound = errors.New("payment session not found")
	ErrSessionState    = errors.New("payment session cannot do that in its current state")
)

type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateProcessing SessionState = "processing"
	StateSuccess    SessionState = "success"
	StateFailed     SessionState = "failed"
)

func (s SessionState) Terminal() bool { return s == StateSuccess || s == StateFailed }

// Flow is what the orchestrator drives. *Service implements it.
type Flow interface {
	CreateOrder(ctx context.Context, principal string, appointmentID uuid.UUID, provider Provider) (*PaymentOrder, RedirectDescriptor, error)
	CheckStatus(ctx context.Context, q StatusQuery) (VerificationResult, error)
	Reconcile(ctx context.Context, appointmentID uuid.UUID, transactionID string, result VerificationResult) (*appointment.Appointment, error)
}

// Snapshot is a copy of a session safe to hand out.
type Snapshot struct {
	ID            uuid.UUID                `json:"id"`
	AppointmentID uuid.UUID                `json:"appointmentId"`
	Provider      Provider                 `json:"provider"`
	State         SessionState             `json:"state"`
	Reason        string                   `json:"reason,omitempty"`
	TransactionID string                   `json:"transactionId,omitempty"`
	Amount        string                   `json:"amount,omitempty"`
	Redirect      *RedirectDescriptor      `json:"redirect,omitempty"`
	Appointment   *appointment.Appointment `json:"appointment,omitempty"`
	Deadline      *time.Time               `json:"deadline,omitempty"`
	UpdatedAt     time.Time                `json:"updatedAt"`
}

// Observer is notified of every session state change.
type Observer interface {
	SessionChanged(Snapshot)
}

type ObserverFunc func(Snapshot)

func (f ObserverFunc) SessionChanged(s Snapshot) { f(s) }

type session struct {
	id            uuid.UUID
	principal     string
	appointmentID uuid.UUID
	provider      Provider

	state       SessionState
	reason      string
	order       *PaymentOrder
	redirect    *RedirectDescriptor
	appointment *appointment.Appointment
	deadline    time.Time
	updatedAt   time.Time

	cancel  context.CancelFunc
	inbound chan VerificationResult
	done    chan struct{}
}

func (s *session) snapshot() Snapshot {
	snap := Snapshot{
		ID:            s.id,
		AppointmentID: s.appointmentID,
		Provider:      s.provider,
		State:         s.state,
		Reason:        s.reason,
		Redirect:      s.redirect,
		Appointment:   s.appointment,
		UpdatedAt:     s.updatedAt,
	}
	if s.order != nil {
		snap.TransactionID = s.order.TransactionID
		snap.Amount = s.order.Amount
	}
	if s.state == StateProcessing {
		d := s.deadline
		snap.Deadline = &d
	}
	return snap
}

// Orchestrator runs payment sessions: build and initiate an order, then
// poll the provider or accept a callback until the payment settles, fails
// or the deadline passes.
type Orchestrator struct {
	flow     Flow
	interval time.Duration
	timeout  time.Duration
	observer Observer
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
}

type OrchestratorOption func(*Orchestrator)

func WithPolling(interval, timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if interval > 0 {
			o.interval = interval
		}
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

func WithObserver(obs Observer) OrchestratorOption {
	return func(o *Orchestrator) { o.observer = obs }
}

func NewOrchestrator(flow Flow, logger zerolog.Logger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		flow:     flow,
		interval: DefaultPollInterval,
		timeout:  DefaultPollTimeout,
		logger:   logger,
		sessions: make(map[uuid.UUID]*session),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start opens a session and moves it to processing. The order is created
// with ctx; polling runs detached and stops at the deadline or on Cancel.
func (o *Orchestrator) Start(ctx context.Context, principal string, appointmentID uuid.UUID, provider Provider) (Snapshot, error) {
	o.sweep()

	s := &session{
		id:            uuid.New(),
		principal:     principal,
		appointmentID: appointmentID,
		provider:      provider,
		state:         StateIdle,
		updatedAt:     time.Now().UTC(),
	}
	o.mu.Lock()
	o.sessions[s.id] = s
	o.mu.Unlock()

	if err := o.begin(ctx, s); err != nil {
		o.mu.Lock()
		delete(o.sessions, s.id)
		o.mu.Unlock()
		return Snapshot{}, err
	}

	o.mu.Lock()
	snap := s.snapshot()
	o.mu.Unlock()
	o.notify(snap)
	return snap, nil
}

// Retry moves a failed session back through idle into processing with a
// fresh order.
func (o *Orchestrator) Retry(ctx context.Context, principal string, id uuid.UUID) (Snapshot, error) {
	o.mu.Lock()
	s, err := o.lookup(principal, id)
	if err != nil {
		o.mu.Unlock()
		return Snapshot{}, err
	}
	if s.state != StateFailed {
		o.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: %s", ErrSessionState, s.state)
	}
	s.state = StateIdle
	s.reason = ""
	s.order = nil
	s.redirect = nil
	s.cancel = nil
	s.done = nil
	s.updatedAt = time.Now().UTC()
	idle := s.snapshot()
	o.mu.Unlock()
	o.notify(idle)

	if err := o.begin(ctx, s); err != nil {
		o.finish(s, StateFailed, err.Error(), nil)
		snap, _ := o.Get(principal, id)
		return snap, err
	}
	o.mu.Lock()
	snap := s.snapshot()
	o.mu.Unlock()
	o.notify(snap)
	return snap, nil
}

// Cancel stops polling. A transition already committed stays committed.
func (o *Orchestrator) Cancel(principal string, id uuid.UUID) (Snapshot, error) {
	o.mu.Lock()
	s, err := o.lookup(principal, id)
	if err != nil {
		o.mu.Unlock()
		return Snapshot{}, err
	}
	if s.state != StateProcessing {
		o.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: %s", ErrSessionState, s.state)
	}
	cancel, done := s.cancel, s.done
	o.mu.Unlock()

	cancel()
	<-done
	return o.Get(principal, id)
}

// Get returns the current state of a session owned by principal.
func (o *Orchestrator) Get(principal string, id uuid.UUID) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, err := o.lookup(principal, id)
	if err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(), nil
}

// Wait blocks until the session leaves processing or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context, principal string, id uuid.UUID) (Snapshot, error) {
	o.mu.Lock()
	s, err := o.lookup(principal, id)
	if err != nil {
		o.mu.Unlock()
		return Snapshot{}, err
	}
	done := s.done
	o.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return o.Get(principal, id)
}

// Deliver hands an inbound verification result to the processing session
// that owns transactionID. It reports whether a session took it.
func (o *Orchestrator) Deliver(transactionID string, result VerificationResult) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.sessions {
		if s.state != StateProcessing || s.order == nil || s.order.TransactionID != transactionID {
			continue
		}
		select {
		case s.inbound <- result:
			return true
		default:
			// a result is already queued; the loop reconciles from the store anyway
			return true
		}
	}
	return false
}

func (o *Orchestrator) lookup(principal string, id uuid.UUID) (*session, error) {
	s, ok := o.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.principal != principal {
		return nil, ErrAuthorization
	}
	return s, nil
}

func (o *Orchestrator) begin(ctx context.Context, s *session) error {
	order, redirect, err := o.flow.CreateOrder(ctx, s.principal, s.appointmentID, s.provider)
	if err != nil {
		return err
	}

	// The poll task must outlive the request that started it.
	pollCtx, cancel := context.WithTimeout(context.Background(), o.timeout)
	deadline, _ := pollCtx.Deadline()

	o.mu.Lock()
	s.state = StateProcessing
	s.order = order
	s.redirect = &redirect
	s.deadline = deadline.UTC()
	s.cancel = cancel
	s.inbound = make(chan VerificationResult, 1)
	s.done = make(chan struct{})
	s.updatedAt = time.Now().UTC()
	inbound := s.inbound
	o.mu.Unlock()

	go o.poll(pollCtx, s, *order, inbound)
	return nil
}

func (o *Orchestrator) poll(ctx context.Context, s *session, order PaymentOrder, inbound <-chan VerificationResult) {
	log := o.logger.With().
		Str("session_id", s.id.String()).
		Str("transaction_id", order.TransactionID).
		Logger()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	q := StatusQuery{Provider: order.Provider, TransactionID: order.TransactionID, Amount: order.Amount}
	for {
		var res VerificationResult
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				sessionsTimedOutCounter.Inc()
				o.finish(s, StateFailed, ReasonTimeout, nil)
			} else {
				o.finish(s, StateFailed, ReasonCancelled, nil)
			}
			return
		case res = <-inbound:
		case <-ticker.C:
			r, err := o.flow.CheckStatus(ctx, q)
			if err != nil {
				if Retryable(err) || ctx.Err() != nil {
					log.Debug().Err(err).Msg("status check failed, retrying next tick")
					continue
				}
				o.finish(s, StateFailed, err.Error(), nil)
				return
			}
			res = r
		}

		appt, err := o.flow.Reconcile(ctx, s.appointmentID, order.TransactionID, res)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			o.finish(s, StateFailed, err.Error(), nil)
			return
		}

		switch {
		case appt.PaymentStatus == appointment.StatusPaid:
			o.finish(s, StateSuccess, "", appt)
			return
		case res.Outcome == OutcomeFailed:
			o.finish(s, StateFailed, failureReason(res), appt)
			return
		}
	}
}

func failureReason(res VerificationResult) string {
	if res.ProviderStatus == "" {
		return "payment declined by provider"
	}
	return "payment " + strings.ToLower(res.ProviderStatus)
}

func (o *Orchestrator) finish(s *session, state SessionState, reason string, appt *appointment.Appointment) {
	o.mu.Lock()
	if s.state != StateProcessing && s.state != StateIdle {
		o.mu.Unlock()
		return
	}
	s.state = state
	s.reason = reason
	if appt != nil {
		s.appointment = appt
	}
	s.updatedAt = time.Now().UTC()
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		close(s.done)
	}
	snap := s.snapshot()
	o.mu.Unlock()

	switch state {
	case StateSuccess:
		sessionsSucceededCounter.Inc()
	case StateFailed:
		sessionsFailedCounter.Inc()
	}
	o.logger.Info().
		Str("session_id", s.id.String()).
		Str("state", string(state)).
		Str("reason", reason).
		Msg("payment session finished")
	o.notify(snap)
}

func (o *Orchestrator) notify(s Snapshot) {
	if o.observer != nil {
		o.observer.SessionChanged(s)
	}
}

// sweep drops finished sessions nobody has looked at for a while.
func (o *Orchestrator) sweep() {
	cutoff := time.Now().Add(-sessionRetention)
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, s := range o.sessions {
		if s.state.Terminal() && s.updatedAt.Before(cutoff) {
			delete(o.sessions, id)
		}
	}
}
