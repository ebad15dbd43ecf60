package payment

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration    = errors.New("payment gateway not configured")
	ErrAuthorization    = errors.New("principal does not own appointment")
	ErrAlreadyPaid      = errors.New("appointment already paid")
	ErrMismatch         = errors.New("transaction id does not match latest order")
	ErrTransport        = errors.New("gateway transport failure")
	ErrGateway          = errors.New("gateway rejected request")
	ErrNotFound         = errors.New("not found")
	ErrInvalidSignature = errors.New("invalid gateway signature")
	ErrUnknownProvider  = errors.New("unknown payment provider")
)

// GatewayError carries the HTTP status and body a provider answered with.
type GatewayError struct {
	Provider   Provider
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s gateway returned %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *GatewayError) Unwrap() error { return ErrGateway }

// Retryable reports whether err is worth another attempt on the next poll tick.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport)
}
