package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telehealth/telehealth/internal/domain/appointment"
)

// Service wires the order builder, the gateway client, the attempt ledger
// and the reconciler into the operations the HTTP layer exposes.
type Service struct {
	appts      AppointmentStore
	attempts   AttemptRepository
	builder    *Builder
	gateway    *Client
	reconciler *Reconciler
	logger     zerolog.Logger
}

func NewService(appts AppointmentStore, attempts AttemptRepository, builder *Builder, gateway *Client, reconciler *Reconciler, logger zerolog.Logger) *Service {
	return &Service{
		appts:      appts,
		attempts:   attempts,
		builder:    builder,
		gateway:    gateway,
		reconciler: reconciler,
		logger:     logger,
	}
}

// CreateOrder builds, records and initiates an order for an appointment
// the principal owns.
func (s *Service) CreateOrder(ctx context.Context, principal string, appointmentID uuid.UUID, provider Provider) (*PaymentOrder, RedirectDescriptor, error) {
	appt, err := s.loadAppointment(ctx, appointmentID)
	if err != nil {
		return nil, RedirectDescriptor{}, err
	}
	order, err := s.builder.Build(principal, appt, provider)
	if err != nil {
		return nil, RedirectDescriptor{}, err
	}
	return s.issue(ctx, order)
}

// CreateInvoiceOrder signs a standalone invoice checkout.
func (s *Service) CreateInvoiceOrder(ctx context.Context, amount float64, invoice string, provider Provider) (*PaymentOrder, RedirectDescriptor, error) {
	order, err := s.builder.BuildInvoice(amount, invoice, provider)
	if err != nil {
		return nil, RedirectDescriptor{}, err
	}
	return s.issue(ctx, order)
}

func (s *Service) issue(ctx context.Context, order *PaymentOrder) (*PaymentOrder, RedirectDescriptor, error) {
	redirect, err := s.gateway.Initiate(order)
	if err != nil {
		return nil, RedirectDescriptor{}, err
	}
	if err := s.attempts.Create(ctx, attemptFromOrder(order)); err != nil {
		return nil, RedirectDescriptor{}, fmt.Errorf("record attempt: %w", err)
	}
	countOrder(order.Provider)
	s.logger.Info().
		Str("provider", string(order.Provider)).
		Str("transaction_id", order.TransactionID).
		Str("amount", order.Amount).
		Msg("payment order issued")
	return order, redirect, nil
}

func (s *Service) CheckStatus(ctx context.Context, q StatusQuery) (VerificationResult, error) {
	return s.gateway.CheckStatus(ctx, q)
}

func (s *Service) Reconcile(ctx context.Context, appointmentID uuid.UUID, transactionID string, result VerificationResult) (*appointment.Appointment, error) {
	return s.reconciler.Reconcile(ctx, appointmentID, transactionID, result)
}

// Verify asks the provider about transactionID and reconciles the answer.
func (s *Service) Verify(ctx context.Context, principal string, appointmentID uuid.UUID, transactionID string) (*appointment.Appointment, VerificationResult, error) {
	appt, err := s.loadAppointment(ctx, appointmentID)
	if err != nil {
		return nil, VerificationResult{}, err
	}
	if !appt.OwnedBy(principal) {
		return nil, VerificationResult{}, ErrAuthorization
	}
	// Settled by this very transaction: nothing the provider says can change it.
	if appt.PaymentStatus == appointment.StatusPaid && appt.TransactionID != nil && *appt.TransactionID == transactionID {
		return appt, VerificationResult{Outcome: OutcomeSuccess}, nil
	}

	attempt, err := s.attemptFor(ctx, transactionID)
	if err != nil {
		return nil, VerificationResult{}, err
	}
	if attempt.AppointmentID == nil || *attempt.AppointmentID != appointmentID {
		return nil, VerificationResult{}, fmt.Errorf("%w: %s belongs to another order", ErrMismatch, transactionID)
	}

	res, err := s.gateway.CheckStatus(ctx, StatusQuery{Provider: attempt.Provider, TransactionID: transactionID, Amount: attempt.Amount})
	if err != nil {
		return nil, VerificationResult{}, err
	}
	updated, err := s.reconciler.Reconcile(ctx, appointmentID, transactionID, res)
	if err != nil {
		return nil, res, err
	}
	return updated, res, nil
}

// ReturnParams are the query parameters a provider appends when it sends
// the browser back. Data carries eSewa's signed base64 payload; the other
// fields cover the plain oid/amt/refId and PRN/status forms.
type ReturnParams struct {
	Provider      Provider
	TransactionID string
	Amount        string
	ReferenceID   string
	Data          string
}

// ReturnResult is what handling a provider return produced. Appointment is
// nil for invoice orders.
type ReturnResult struct {
	TransactionID string                   `json:"transactionId"`
	Verification  VerificationResult       `json:"verification"`
	Appointment   *appointment.Appointment `json:"appointment,omitempty"`
}

// HandleReturn re-verifies a provider return with the status API before
// anything is reconciled; the redirect alone is never trusted.
func (s *Service) HandleReturn(ctx context.Context, p ReturnParams) (*ReturnResult, error) {
	txID, amount := p.TransactionID, p.Amount
	if p.Data != "" {
		ret, err := s.gateway.DecodeEsewaReturn(p.Data)
		if err != nil {
			return nil, err
		}
		txID, amount = ret.TransactionUUID, ret.TotalAmount
	}
	if txID == "" {
		return nil, fmt.Errorf("%w: missing transaction id", ErrMismatch)
	}

	attempt, err := s.attemptFor(ctx, txID)
	if err != nil {
		return nil, err
	}
	if attempt.Provider != p.Provider {
		return nil, fmt.Errorf("%w: %s was issued for %s", ErrMismatch, txID, attempt.Provider)
	}
	if amount != "" && !sameAmount(amount, attempt.Amount) {
		return nil, fmt.Errorf("%w: amount %s does not match order amount %s", ErrMismatch, amount, attempt.Amount)
	}

	res, err := s.gateway.CheckStatus(ctx, StatusQuery{Provider: attempt.Provider, TransactionID: txID, Amount: attempt.Amount})
	if err != nil {
		return nil, err
	}
	out := &ReturnResult{TransactionID: txID, Verification: res}

	if attempt.AppointmentID == nil {
		if err := s.attempts.RecordResult(ctx, txID, res); err != nil {
			s.logger.Error().Err(err).Str("transaction_id", txID).Msg("failed to record invoice verification")
		}
		return out, nil
	}
	out.Appointment, err = s.reconciler.Reconcile(ctx, *attempt.AppointmentID, txID, res)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListAttempts returns the order history of an appointment the principal owns.
func (s *Service) ListAttempts(ctx context.Context, principal string, appointmentID uuid.UUID, limit, offset int) ([]*Attempt, int, error) {
	appt, err := s.loadAppointment(ctx, appointmentID)
	if err != nil {
		return nil, 0, err
	}
	if !appt.OwnedBy(principal) {
		return nil, 0, ErrAuthorization
	}
	return s.attempts.ListByAppointment(ctx, appointmentID, limit, offset)
}

func (s *Service) loadAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	appt, err := s.appts.GetByID(ctx, id)
	if errors.Is(err, appointment.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	return appt, nil
}

func (s *Service) attemptFor(ctx context.Context, txID string) (*Attempt, error) {
	attempt, err := s.attempts.Get(ctx, txID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown transaction %s", ErrMismatch, txID)
	}
	if err != nil {
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	return attempt, nil
}

func sameAmount(a, b string) bool {
	x, errX := strconv.ParseFloat(a, 64)
	y, errY := strconv.ParseFloat(b, 64)
	if errX != nil || errY != nil {
		return false
	}
	return FormatAmount(x) == FormatAmount(y)
}
