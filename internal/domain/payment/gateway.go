package payment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultGatewayTimeout = 10 * time.Second
	maxGatewayBody        = 1 << 20
)

// Client talks to the payment providers.
type Client struct {
	cfg    ProviderConfig
	http   *http.Client
	logger zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

func NewClient(cfg ProviderConfig, opts ...ClientOption) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initiate returns where the user goes to pay: a URL for FonePay, a
// form post for eSewa.
func (c *Client) Initiate(o *PaymentOrder) (RedirectDescriptor, error) {
	if err := c.cfg.Validate(o.Provider); err != nil {
		return RedirectDescriptor{}, err
	}
	switch o.Provider {
	case ProviderFonePay:
		return fonepayRedirect(c.cfg.FonePay, o), nil
	case ProviderEsewa:
		return esewaRedirect(c.cfg.Esewa, o), nil
	}
	return RedirectDescriptor{}, fmt.Errorf("%w: %q", ErrUnknownProvider, o.Provider)
}

// CheckStatus asks the provider for the state of one transaction. Responses
// that cannot be parsed or carry an unknown status are Pending.
func (c *Client) CheckStatus(ctx context.Context, q StatusQuery) (VerificationResult, error) {
	if err := c.cfg.Validate(q.Provider); err != nil {
		return VerificationResult{}, err
	}

	start := time.Now()
	var (
		res VerificationResult
		err error
	)
	switch q.Provider {
	case ProviderFonePay:
		res, err = c.fonepayCheck(ctx, q)
	case ProviderEsewa:
		res, err = c.esewaCheck(ctx, q)
	default:
		return VerificationResult{}, fmt.Errorf("%w: %q", ErrUnknownProvider, q.Provider)
	}
	observeStatusCheck(q.Provider, res.Outcome, err, time.Since(start))

	if err != nil {
		c.logger.Warn().Err(err).
			Str("provider", string(q.Provider)).
			Str("transaction_id", q.TransactionID).
			Msg("status check failed")
		return VerificationResult{}, err
	}
	c.logger.Debug().
		Str("provider", string(q.Provider)).
		Str("transaction_id", q.TransactionID).
		Str("provider_status", res.ProviderStatus).
		Str("outcome", string(res.Outcome)).
		Msg("status checked")
	return res, nil
}

func (c *Client) do(ctx context.Context, p Provider, method, url string, body []byte) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", p, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %v", method, p, ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxGatewayBody))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w: %v", p, ErrTransport, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &GatewayError{Provider: p, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}
