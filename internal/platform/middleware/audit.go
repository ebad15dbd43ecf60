package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telehealth/telehealth/internal/platform/auth"
)

// AuditEntry records who touched a payment resource and with what result.
type AuditEntry struct {
	UserID        string
	UserRoles     []string
	Action        string
	SessionID     string
	AppointmentID string
	TransactionID string
	IPAddress     string
	UserAgent     string
	Method        string
	Route         string
	Timestamp     time.Time
	RequestID     string
	StatusCode    int
}

// Audit emits one "payment_audit" log line per request under the payment API
// or the gateway return routes. Reads of the audit trail itself
// (GET /attempts) are included so access to payment history is traceable.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isAuditablePath(req.URL.Path) {
				return next(c)
			}

			err := next(c)

			entry := buildAuditEntry(c)
			status := entry.StatusCode
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			evt := logger.Info()
			if status >= 400 {
				evt = logger.Warn()
			}
			evt.
				Str("type", "payment_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("action", entry.Action).
				Str("session_id", entry.SessionID).
				Str("appointment_id", entry.AppointmentID).
				Str("transaction_id", entry.TransactionID).
				Str("method", entry.Method).
				Str("route", entry.Route).
				Str("remote_ip", entry.IPAddress).
				Str("user_agent", entry.UserAgent).
				Int("status", status).
				Time("at", entry.Timestamp).
				Msg("payment_access")

			return err
		}
	}
}

func buildAuditEntry(c echo.Context) AuditEntry {
	req := c.Request()
	ctx := req.Context()
	entry := AuditEntry{
		UserID:     auth.UserIDFromContext(ctx),
		UserRoles:  auth.RolesFromContext(ctx),
		Action:     auditAction(req.Method, c.Path()),
		IPAddress:  c.RealIP(),
		UserAgent:  req.UserAgent(),
		Method:     req.Method,
		Route:      c.Path(),
		Timestamp:  time.Now().UTC(),
		StatusCode: c.Response().Status,
	}
	if rid, ok := c.Get("request_id").(string); ok {
		entry.RequestID = rid
	}
	if id := c.Param("id"); isUUIDLike(id) {
		entry.SessionID = id
	}
	if id := c.QueryParam("appointment_id"); isUUIDLike(id) {
		entry.AppointmentID = id
	}
	// FonePay returns PRN, eSewa v1 returns oid
	for _, key := range []string{"PRN", "oid"} {
		if v := c.QueryParam(key); v != "" {
			entry.TransactionID = v
			break
		}
	}
	return entry
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/payment/") || strings.HasPrefix(path, "/payment/")
}

// auditAction names the operation from the matched route template. Unknown
// routes fall back to the HTTP verb.
func auditAction(method, route string) string {
	switch {
	case strings.HasSuffix(route, "/create-order"):
		return "order.create"
	case strings.HasSuffix(route, "/verify-payment"):
		return "payment.verify"
	case strings.HasSuffix(route, "/attempts"):
		return "attempts.list"
	case strings.HasSuffix(route, "/return"):
		return "gateway.return"
	case strings.HasSuffix(route, "/events"):
		return "session.watch"
	case strings.HasSuffix(route, "/retry"):
		return "session.retry"
	case strings.HasSuffix(route, "/sessions"):
		return "session.start"
	case strings.HasSuffix(route, "/sessions/:id"):
		if method == http.MethodDelete {
			return "session.cancel"
		}
		return "session.read"
	}
	return strings.ToLower(method)
}

func isUUIDLike(s string) bool {
	if s == "" {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
