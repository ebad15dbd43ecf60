package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/telehealth/telehealth/internal/domain/payment"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	FrontendURL         string        `mapstructure:"FRONTEND_URL"`
	FonePayMerchantCode string        `mapstructure:"FONEPAY_MERCHANT_CODE"`
	FonePaySecretKey    string        `mapstructure:"FONEPAY_SECRET_KEY"`
	FonePayBaseURL      string        `mapstructure:"FONEPAY_BASE_URL"`
	EsewaProductCode    string        `mapstructure:"ESEWA_PRODUCT_CODE"`
	EsewaSecretKey      string        `mapstructure:"ESEWA_SECRET_KEY"`
	EsewaFormURL        string        `mapstructure:"ESEWA_FORM_URL"`
	EsewaStatusURL      string        `mapstructure:"ESEWA_STATUS_URL"`
	GatewayTimeout      time.Duration `mapstructure:"GATEWAY_TIMEOUT"`
	PaymentPollInterval time.Duration `mapstructure:"PAYMENT_POLL_INTERVAL"`
	PaymentPollTimeout  time.Duration `mapstructure:"PAYMENT_POLL_TIMEOUT"`

	KafkaBrokers      []string `mapstructure:"KAFKA_BROKERS"`
	KafkaPaymentTopic string   `mapstructure:"KAFKA_PAYMENT_TOPIC"`
	TelegramBotToken  string   `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID    int64    `mapstructure:"TELEGRAM_CHAT_ID"`
	MetricsPushURL    string   `mapstructure:"METRICS_PUSH_URL"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CORS_ORIGINS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"FRONTEND_URL",
	"FONEPAY_MERCHANT_CODE", "FONEPAY_SECRET_KEY", "FONEPAY_BASE_URL",
	"ESEWA_PRODUCT_CODE", "ESEWA_SECRET_KEY", "ESEWA_FORM_URL", "ESEWA_STATUS_URL",
	"GATEWAY_TIMEOUT", "PAYMENT_POLL_INTERVAL", "PAYMENT_POLL_TIMEOUT",
	"KAFKA_BROKERS", "KAFKA_PAYMENT_TOPIC",
	"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID",
	"METRICS_PUSH_URL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("FRONTEND_URL", "http://localhost:3000")
	v.SetDefault("FONEPAY_BASE_URL", "https://dev-clientapi.fonepay.com/api/merchantRequest")
	v.SetDefault("ESEWA_FORM_URL", "https://rc-epay.esewa.com.np/api/epay/main/v2/form")
	v.SetDefault("ESEWA_STATUS_URL", "https://rc.esewa.com.np/api/epay/transaction/status/")
	v.SetDefault("GATEWAY_TIMEOUT", "10s")
	v.SetDefault("PAYMENT_POLL_INTERVAL", payment.DefaultPollInterval.String())
	v.SetDefault("PAYMENT_POLL_TIMEOUT", payment.DefaultPollTimeout.String())
	v.SetDefault("KAFKA_PAYMENT_TOPIC", "appointment.payments")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// splitList prefers the raw comma separated value over viper's decoding so
// entries are trimmed.
func splitList(decoded []string, raw string) []string {
	if raw == "" {
		return decoded
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Payment builds the gateway configuration handed to the payment package.
// Missing provider credentials are not an error here; orders for that
// provider fail with a configuration error instead.
func (c *Config) Payment() payment.ProviderConfig {
	return payment.ProviderConfig{
		FonePay: payment.FonePayConfig{
			MerchantCode: c.FonePayMerchantCode,
			SecretKey:    c.FonePaySecretKey,
			BaseURL:      strings.TrimRight(c.FonePayBaseURL, "/"),
		},
		Esewa: payment.EsewaConfig{
			ProductCode: c.EsewaProductCode,
			SecretKey:   c.EsewaSecretKey,
			FormURL:     c.EsewaFormURL,
			StatusURL:   c.EsewaStatusURL,
		},
		FrontendURL: c.FrontendURL,
		Timeout:     c.GatewayTimeout,
	}
}

// Validate checks that the configuration is safe to run. Outside development
// a token verifier must be configured so patients cannot impersonate each
// other.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set when ENV=%q", c.Env)
	}
	if c.IsProduction() && c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes in production")
	}
	if c.PaymentPollInterval <= 0 || c.PaymentPollTimeout <= 0 {
		return fmt.Errorf("PAYMENT_POLL_INTERVAL and PAYMENT_POLL_TIMEOUT must be positive")
	}
	if c.PaymentPollInterval >= c.PaymentPollTimeout {
		return fmt.Errorf("PAYMENT_POLL_INTERVAL (%s) must be shorter than PAYMENT_POLL_TIMEOUT (%s)",
			c.PaymentPollInterval, c.PaymentPollTimeout)
	}
	if c.TelegramBotToken != "" && c.TelegramChatID == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	return nil
}
