package payment

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is a provider verification result reduced to three values.
type Outcome string

const (
	OutcomeSuccess Outcome = "Success"
	OutcomePending Outcome = "Pending"
	OutcomeFailed  Outcome = "Failed"
)

// Terminal reports whether a ledger entry with this outcome is final.
func (o Outcome) Terminal() bool { return o == OutcomeSuccess || o == OutcomeFailed }

// PaymentOrder is the signed, provider-facing request for one attempt.
// It is regenerated on every attempt; the attempt ledger keeps the audit copy.
type PaymentOrder struct {
	Provider      Provider   `json:"provider"`
	AppointmentID *uuid.UUID `json:"appointmentId,omitempty"`
	TransactionID string     `json:"transactionId"`
	Amount        string     `json:"amount"`
	MerchantCode  string     `json:"merchantCode"`
	Signature     string     `json:"signature"`
	SuccessURL    string     `json:"successUrl"`
	FailureURL    string     `json:"failureUrl"`
	IssuedAt      time.Time  `json:"issuedAt"`
}

// FormField is one hidden input of a POST-style checkout.
type FormField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Form describes a browser form post. Field order is preserved.
type Form struct {
	Method string      `json:"method"`
	Action string      `json:"action"`
	Fields []FormField `json:"fields"`
}

// RedirectDescriptor tells the client where to send the user. Exactly one
// of URL or Form is set.
type RedirectDescriptor struct {
	URL  string `json:"url,omitempty"`
	Form *Form  `json:"form,omitempty"`
}

func (r RedirectDescriptor) IsForm() bool { return r.Form != nil }

// VerificationResult is what a status check or a provider return yields.
type VerificationResult struct {
	Outcome        Outcome `json:"outcome"`
	ProviderStatus string  `json:"providerStatus"`
	ReferenceID    string  `json:"referenceId,omitempty"`
	Raw            string  `json:"raw,omitempty"`
}

// StatusQuery identifies the order a status check is about.
type StatusQuery struct {
	Provider      Provider
	TransactionID string
	Amount        string
}

// Attempt is one issued order as recorded in the ledger.
type Attempt struct {
	TransactionID string     `json:"transactionId"`
	AppointmentID *uuid.UUID `json:"appointmentId,omitempty"`
	Provider      Provider   `json:"provider"`
	Amount        string     `json:"amount"`
	IssuedAt      time.Time  `json:"issuedAt"`
	Outcome       *Outcome   `json:"outcome,omitempty"`
	ReferenceID   *string    `json:"referenceId,omitempty"`
	RawPayload    *string    `json:"rawPayload,omitempty"`
	VerifiedAt    *time.Time `json:"verifiedAt,omitempty"`
}

func attemptFromOrder(o *PaymentOrder) *Attempt {
	return &Attempt{
		TransactionID: o.TransactionID,
		AppointmentID: o.AppointmentID,
		Provider:      o.Provider,
		Amount:        o.Amount,
		IssuedAt:      o.IssuedAt,
	}
}
