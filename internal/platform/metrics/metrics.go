package metrics

import (
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// PushConfig configures pushing metrics to a remote collector. Push is
// disabled when URL is empty.
type PushConfig struct {
	URL          string
	Interval     time.Duration
	CommonLabels string
}

const defaultPushInterval = 10 * time.Second

// Setup starts pushing the default metrics set when a push URL is configured.
func Setup(cfg PushConfig, logger zerolog.Logger) {
	if cfg.URL == "" {
		return
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultPushInterval
	}
	if err := metrics.InitPush(cfg.URL, interval, cfg.CommonLabels, true); err != nil {
		logger.Error().Err(err).Str("url", cfg.URL).Msg("failed to initialize metrics push")
		return
	}
	logger.Info().Str("url", cfg.URL).Dur("interval", interval).Msg("metrics push enabled")
}

// Handler exposes all registered metrics, process metrics included, in
// Prometheus text format.
func Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, "text/plain; version=0.0.4; charset=utf-8")
		c.Response().WriteHeader(200)
		metrics.WritePrometheus(c.Response(), true)
		return nil
	}
}

// Requests records a duration histogram per route and status class.
func Requests() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			metrics.GetOrCreateHistogram(fmt.Sprintf(
				`http_request_duration_seconds{method=%q,route=%q,status="%dxx"}`,
				c.Request().Method, route, status/100,
			)).UpdateDuration(start)
			return err
		}
	}
}
