package payment

import (
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telehealth/telehealth/internal/domain/appointment"
)

const (
	appointmentTxPrefix = "APT_"
	invoiceTxPrefix     = "INV_"
)

var invoicePattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,40}$`)

// idClock hands out strictly increasing millisecond stamps so two orders
// built in the same millisecond still get distinct transaction ids.
type idClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

func (c *idClock) next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now()
	ms := t.UnixMilli()
	if ms <= c.last {
		ms = c.last + 1
		t = time.UnixMilli(ms)
	}
	c.last = ms
	return t
}

// Builder assembles signed orders.
type Builder struct {
	cfg   ProviderConfig
	clock *idClock
}

func NewBuilder(cfg ProviderConfig) *Builder {
	return &Builder{cfg: cfg, clock: &idClock{now: time.Now}}
}

// Build creates the order for one payment attempt on appt. The appointment
// row is not touched.
func (b *Builder) Build(principal string, appt *appointment.Appointment, provider Provider) (*PaymentOrder, error) {
	if appt == nil {
		return nil, ErrNotFound
	}
	if !appt.OwnedBy(principal) {
		return nil, ErrAuthorization
	}
	if appt.PaymentStatus == appointment.StatusPaid {
		return nil, ErrAlreadyPaid
	}
	if err := b.cfg.Validate(provider); err != nil {
		return nil, err
	}

	issued := b.clock.next()
	id := appt.ID
	o := &PaymentOrder{
		Provider:      provider,
		AppointmentID: &id,
		TransactionID: TransactionID(appt.ID, issued),
		Amount:        FormatAmount(appt.TotalAmount),
		IssuedAt:      issued,
	}
	return o, b.finish(o)
}

// BuildInvoice signs a standalone checkout that is not bound to an
// appointment. Such orders are verified but never reconciled.
func (b *Builder) BuildInvoice(amount float64, invoice string, provider Provider) (*PaymentOrder, error) {
	if amount <= 0 {
		return nil, errors.New("amount must be positive")
	}
	if !invoicePattern.MatchString(invoice) {
		return nil, errors.New("invoice must be 1-40 letters, digits or dashes")
	}
	if err := b.cfg.Validate(provider); err != nil {
		return nil, err
	}

	issued := b.clock.next()
	o := &PaymentOrder{
		Provider:      provider,
		TransactionID: fmt.Sprintf("%s%s_%d", invoiceTxPrefix, invoice, issued.UnixMilli()),
		Amount:        FormatAmount(amount),
		IssuedAt:      issued,
	}
	return o, b.finish(o)
}

func (b *Builder) finish(o *PaymentOrder) error {
	o.SuccessURL = b.callbackURL("/payment-success", o.TransactionID)
	o.FailureURL = b.callbackURL("/payment-failed", o.TransactionID)

	var err error
	switch o.Provider {
	case ProviderFonePay:
		o.MerchantCode = b.cfg.FonePay.MerchantCode
		o.Signature, err = fonepayInitiate.Sign(b.cfg.FonePay.SecretKey, map[string]string{
			"MERCHANT_CODE": o.MerchantCode,
			"PRN":           o.TransactionID,
			"AMOUNT":        o.Amount,
		})
	case ProviderEsewa:
		o.MerchantCode = b.cfg.Esewa.ProductCode
		o.Signature, err = esewaInitiate.Sign(b.cfg.Esewa.SecretKey, map[string]string{
			"total_amount":     o.Amount,
			"transaction_uuid": o.TransactionID,
			"product_code":     o.MerchantCode,
		})
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownProvider, o.Provider)
	}
	if err != nil {
		return fmt.Errorf("sign %s order: %w", o.Provider, err)
	}
	return nil
}

func (b *Builder) callbackURL(path, txID string) string {
	base := strings.TrimRight(b.cfg.FrontendURL, "/")
	return base + path + "?tid=" + url.QueryEscape(txID)
}

// FormatAmount renders amount with exactly two decimals the way the
// checkout frontends do (JavaScript toFixed(2)): nearest cent of the exact
// binary value, exact half cents away from zero. FormatFloat alone rounds
// those halves to even.
func FormatAmount(amount float64) string {
	cents := new(big.Rat).SetFloat64(amount)
	if cents == nil {
		return strconv.FormatFloat(amount, 'f', 2, 64)
	}
	cents.Mul(cents, big.NewRat(100, 1))
	if cents.Denom().Cmp(big.NewInt(2)) != 0 {
		return strconv.FormatFloat(amount, 'f', 2, 64)
	}
	n := new(big.Int).Quo(cents.Num(), big.NewInt(2))
	n.Add(n, big.NewInt(int64(cents.Num().Sign())))
	return new(big.Rat).SetFrac(n, big.NewInt(100)).FloatString(2)
}

// TransactionID formats the id of an appointment payment attempt.
func TransactionID(appointmentID uuid.UUID, issued time.Time) string {
	return fmt.Sprintf("%s%s_%d", appointmentTxPrefix, appointmentID, issued.UnixMilli())
}

// ParseTransactionID recovers the appointment and issue time from an
// appointment transaction id.
func ParseTransactionID(txID string) (uuid.UUID, time.Time, error) {
	rest, ok := strings.CutPrefix(txID, appointmentTxPrefix)
	if !ok {
		return uuid.Nil, time.Time{}, fmt.Errorf("%w: %q is not an appointment transaction", ErrMismatch, txID)
	}
	i := strings.LastIndexByte(rest, '_')
	if i < 0 {
		return uuid.Nil, time.Time{}, fmt.Errorf("%w: malformed transaction id %q", ErrMismatch, txID)
	}
	id, err := uuid.Parse(rest[:i])
	if err != nil {
		return uuid.Nil, time.Time{}, fmt.Errorf("%w: malformed transaction id %q", ErrMismatch, txID)
	}
	ms, err := strconv.ParseInt(rest[i+1:], 10, 64)
	if err != nil {
		return uuid.Nil, time.Time{}, fmt.Errorf("%w: malformed transaction id %q", ErrMismatch, txID)
	}
	return id, time.UnixMilli(ms), nil
}

// IsInvoiceTransaction reports whether txID belongs to a standalone invoice.
func IsInvoiceTransaction(txID string) bool {
	return strings.HasPrefix(txID, invoiceTxPrefix)
}
