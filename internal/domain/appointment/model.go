package appointment

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("appointment not found")
	ErrStatusConflict = errors.New("appointment payment status changed concurrently")
)

// PaymentStatus is the payment state of an appointment. Paid and Failed are
// terminal for the transaction that produced them.
type PaymentStatus string

const (
	StatusUnpaid  PaymentStatus = "Unpaid"
	StatusPending PaymentStatus = "Pending"
	StatusPaid    PaymentStatus = "Paid"
	StatusFailed  PaymentStatus = "Failed"
)

var validPaymentStatuses = map[PaymentStatus]bool{
	StatusUnpaid: true, StatusPending: true, StatusPaid: true, StatusFailed: true,
}

func (s PaymentStatus) Valid() bool { return validPaymentStatuses[s] }

func (s PaymentStatus) Terminal() bool { return s == StatusPaid || s == StatusFailed }

// Appointment maps to the appointment table.
type Appointment struct {
	ID               uuid.UUID     `db:"id" json:"id"`
	PatientID        uuid.UUID     `db:"patient_id" json:"patient_id"`
	DoctorID         uuid.UUID     `db:"doctor_id" json:"doctor_id"`
	SlotStart        time.Time     `db:"slot_start" json:"slot_start"`
	SlotDuration     int           `db:"slot_duration" json:"slot_duration"`
	ConsultationType string        `db:"consultation_type" json:"consultation_type"`
	ConsultationFee  float64       `db:"consultation_fee" json:"consultation_fee"`
	PlatformFee      float64       `db:"platform_fee" json:"platform_fee"`
	TotalAmount      float64       `db:"total_amount" json:"total_amount"`
	PaymentStatus    PaymentStatus `db:"payment_status" json:"payment_status"`
	PaymentMethod    *string       `db:"payment_method" json:"payment_method,omitempty"`
	TransactionID    *string       `db:"transaction_id" json:"transaction_id,omitempty"`
	PaymentDate      *time.Time    `db:"payment_date" json:"payment_date,omitempty"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
}

// OwnedBy reports whether principal is the patient who booked the appointment.
func (a *Appointment) OwnedBy(principal string) bool {
	return principal != "" && a.PatientID.String() == principal
}

// PaymentPatch is the set of payment fields written by a conditional update.
// Nil pointers leave the stored value untouched.
type PaymentPatch struct {
	Status        PaymentStatus
	PaymentMethod *string
	TransactionID *string
	PaymentDate   *time.Time
}

// Apply copies the patch onto a.
func (a *Appointment) Apply(p PaymentPatch) {
	a.PaymentStatus = p.Status
	if p.PaymentMethod != nil {
		a.PaymentMethod = p.PaymentMethod
	}
	if p.TransactionID != nil {
		a.TransactionID = p.TransactionID
	}
	if p.PaymentDate != nil {
		a.PaymentDate = p.PaymentDate
	}
}

// PlatformFeeRate is charged on top of the consultation fee and rounded to
// whole rupees.
const PlatformFeeRate = 0.1

func PlatformFee(consultationFee float64) float64 {
	return math.Round(consultationFee * PlatformFeeRate)
}
