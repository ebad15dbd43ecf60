package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/telehealth/telehealth/internal/config"
	"github.com/telehealth/telehealth/internal/domain/appointment"
	"github.com/telehealth/telehealth/internal/domain/payment"
	"github.com/telehealth/telehealth/internal/platform/auth"
	"github.com/telehealth/telehealth/internal/platform/db"
	"github.com/telehealth/telehealth/internal/platform/events"
	"github.com/telehealth/telehealth/internal/platform/metrics"
	"github.com/telehealth/telehealth/internal/platform/middleware"
	"github.com/telehealth/telehealth/internal/platform/notification"
	"github.com/telehealth/telehealth/internal/platform/openapi"
	"github.com/telehealth/telehealth/internal/platform/stream"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// finished sessions keep their last event this long for late subscribers
const sessionReplayTTL = 5 * time.Minute

func main() {
	rootCmd := &cobra.Command{
		Use:   "telehealth-server",
		Short: "Telehealth appointment payment API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the payment API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	withMigrator := func(run func(ctx context.Context, m *db.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			m, err := db.NewMigrator(cfg.DatabaseURL, newLogger(cfg.Env, os.Stdout))
			if err != nil {
				return err
			}
			return run(cmd.Context(), m)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: withMigrator(func(ctx context.Context, m *db.Migrator) error {
			if err := m.Up(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Println("Migrations applied successfully.")
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: withMigrator(func(ctx context.Context, m *db.Migrator) error {
			return m.Status(ctx)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: withMigrator(func(ctx context.Context, m *db.Migrator) error {
			v, err := m.Version(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Schema version: %d\n", v)
			return nil
		}),
	})

	return cmd
}

func newLogger(env string, w io.Writer) zerolog.Logger {
	if env == "development" {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// apiAuth picks the authentication middleware for /api/v1. Development
// servers also accept the X-Dev-User header.
func apiAuth(cfg *config.Config) echo.MiddlewareFunc {
	verify := auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(verify)
	}
	return verify
}

type sessionPublisher interface {
	Publish(channel, event string, v interface{}) error
	Forget(channel string)
}

// sessionObserver mirrors session snapshots onto the event stream.
func sessionObserver(pub sessionPublisher, logger zerolog.Logger, replayTTL time.Duration) payment.Observer {
	return payment.ObserverFunc(func(s payment.Snapshot) {
		channel := payment.SessionChannel(s.ID)
		if err := pub.Publish(channel, "session", s); err != nil {
			logger.Error().Err(err).Str("session_id", s.ID.String()).Msg("failed to publish session event")
			return
		}
		if s.State.Terminal() {
			time.AfterFunc(replayTTL, func() { pub.Forget(channel) })
		}
	})
}

// settlementSinks builds the Kafka publisher and Telegram notifier, falling
// back to no-ops when they are not configured. The returned closer flushes
// the Kafka writer.
func settlementSinks(cfg *config.Config, logger zerolog.Logger) (payment.EventPublisher, payment.Notifier, func() error, error) {
	var (
		publisher payment.EventPublisher = events.Nop{}
		notifier  payment.Notifier       = notification.Nop{}
		closer                           = func() error { return nil }
	)

	if len(cfg.KafkaBrokers) > 0 {
		w := events.NewKafkaWriter(events.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaPaymentTopic,
		})
		kp := events.NewKafkaPublisher(w, cfg.KafkaPaymentTopic, logger.With().Str("component", "kafka").Logger())
		publisher = kp
		closer = kp.Close
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaPaymentTopic).Msg("kafka publishing enabled")
	}

	if cfg.TelegramBotToken != "" {
		tg, err := notification.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, logger.With().Str("component", "telegram").Logger())
		if err != nil {
			_ = closer()
			return nil, nil, nil, fmt.Errorf("telegram: %w", err)
		}
		notifier = tg
	}

	return publisher, notifier, closer, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		return err
	}
	logger := newLogger(cfg.Env, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	metrics.Setup(metrics.PushConfig{
		URL:          cfg.MetricsPushURL,
		CommonLabels: fmt.Sprintf(`app="telehealth",env=%q`, cfg.Env),
	}, logger)

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Settlement fan-out
	publisher, notifier, closeSinks, err := settlementSinks(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up settlement sinks")
	}
	defer func() {
		if err := closeSinks(); err != nil {
			logger.Error().Err(err).Msg("failed to close event publisher")
		}
	}()

	// Payment domain
	providers := cfg.Payment()
	appts := appointment.NewRepoPG(pool)
	attempts := payment.NewAttemptRepoPG(pool)
	paymentLogger := logger.With().Str("component", "payment").Logger()

	settlement := payment.NewSettlement(publisher, notifier, paymentLogger)
	defer settlement.Wait()
	reconciler := payment.NewReconciler(appts, attempts, settlement, paymentLogger)
	svc := payment.NewService(appts, attempts,
		payment.NewBuilder(providers),
		payment.NewClient(providers, payment.WithLogger(paymentLogger)),
		reconciler, paymentLogger)

	broker := stream.NewBroker()
	defer broker.Close()
	orch := payment.NewOrchestrator(svc, paymentLogger,
		payment.WithPolling(cfg.PaymentPollInterval, cfg.PaymentPollTimeout),
		payment.WithObserver(sessionObserver(broker, paymentLogger, sessionReplayTTL)))

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Requests())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader, auth.DevUserHeader},
	}))
	e.Use(middleware.BodyLimit("64K"))
	e.Use(middleware.Audit(logger))

	e.GET("/health", db.Liveness())
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", metrics.Handler())

	limiter := middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	})
	// long-polled session reads may block for the whole poll window
	timeout := middleware.RequestTimeout(max(cfg.GatewayTimeout, cfg.PaymentPollTimeout) + 5*time.Second)
	api := e.Group("/api/v1", apiAuth(cfg), limiter, timeout)
	public := e.Group("", limiter, timeout)

	appointment.NewHandler(appointment.NewService(appts)).RegisterRoutes(api)
	payment.NewHandler(svc, orch, broker, paymentLogger).RegisterRoutes(api, public)

	if cfg.IsDev() {
		payment.NewSandbox().RegisterRoutes(e)
		logger.Warn().Msg("fake fonepay sandbox mounted at /fake-fonepay")
	}

	openapi.NewGenerator(version, "").RegisterRoutes(e)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
