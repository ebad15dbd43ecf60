package payment

import (
	"fmt"
	"strings"
	"time"
)

// Provider names an external payment gateway.
type Provider string

const (
	ProviderFonePay Provider = "fonepay"
	ProviderEsewa   Provider = "esewa"
)

// ParseProvider accepts any casing. An empty name selects FonePay, the
// gateway every order used before eSewa was added.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ProviderFonePay):
		return ProviderFonePay, nil
	case string(ProviderEsewa):
		return ProviderEsewa, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// MethodName is the value stored in appointment.payment_method.
func (p Provider) MethodName() string {
	switch p {
	case ProviderFonePay:
		return "FonePay"
	case ProviderEsewa:
		return "eSewa"
	}
	return string(p)
}

type FonePayConfig struct {
	MerchantCode string
	SecretKey    string
	BaseURL      string
}

func (c FonePayConfig) validate() error {
	if c.MerchantCode == "" || c.SecretKey == "" || c.BaseURL == "" {
		return fmt.Errorf("fonepay merchant code, secret key and base url: %w", ErrConfiguration)
	}
	return nil
}

type EsewaConfig struct {
	ProductCode string
	SecretKey   string
	FormURL     string
	StatusURL   string
}

func (c EsewaConfig) validate() error {
	if c.ProductCode == "" || c.SecretKey == "" || c.FormURL == "" || c.StatusURL == "" {
		return fmt.Errorf("esewa product code, secret key and urls: %w", ErrConfiguration)
	}
	return nil
}

// ProviderConfig is the gateway configuration injected into the order
// builder and the gateway client. Nothing in this package reads the
// environment.
type ProviderConfig struct {
	FonePay     FonePayConfig
	Esewa       EsewaConfig
	FrontendURL string
	Timeout     time.Duration
}

// Validate checks the named provider has everything it needs to sign.
func (c ProviderConfig) Validate(p Provider) error {
	switch p {
	case ProviderFonePay:
		return c.FonePay.validate()
	case ProviderEsewa:
		return c.Esewa.validate()
	}
	return fmt.Errorf("%w: %q", ErrUnknownProvider, p)
}
