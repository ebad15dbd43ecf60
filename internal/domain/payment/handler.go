package payment

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telehealth/telehealth/internal/domain/appointment"
	"github.com/telehealth/telehealth/internal/platform/auth"
	"github.com/telehealth/telehealth/pkg/pagination"
)

// EventStream serves server-sent events for one channel.
type EventStream interface {
	Handler(channel string) http.Handler
}

type Handler struct {
	svc    *Service
	orch   *Orchestrator
	stream EventStream
	logger zerolog.Logger
}

func NewHandler(svc *Service, orch *Orchestrator, stream EventStream, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, orch: orch, stream: stream, logger: logger}
}

// RegisterRoutes mounts the patient routes on api and the provider return
// routes on public, which carries no authentication.
func (h *Handler) RegisterRoutes(api, public *echo.Group) {
	g := api.Group("/payment", auth.RequireRole("patient"))
	g.POST("/create-order", h.CreateOrder)
	g.POST("/verify-payment", h.VerifyPayment)
	g.GET("/attempts", h.ListAttempts)
	g.POST("/sessions", h.StartSession)
	g.GET("/sessions/:id", h.GetSession)
	g.POST("/sessions/:id/retry", h.RetrySession)
	g.DELETE("/sessions/:id", h.CancelSession)
	g.GET("/sessions/:id/events", h.SessionEvents)

	p := public.Group("/payment")
	p.GET("/esewa/return", h.EsewaReturn)
	p.GET("/fonepay/return", h.FonePayReturn)
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

func ok(c echo.Context, code int, data interface{}, msg string) error {
	return c.JSON(code, envelope{Success: true, Data: data, Message: msg})
}

func fail(c echo.Context, code int, msg string) error {
	return c.JSON(code, envelope{Success: false, Message: msg})
}

// errorStatus maps the payment error taxonomy onto HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, ErrAlreadyPaid), errors.Is(err, ErrUnknownProvider), errors.Is(err, ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, ErrMismatch), errors.Is(err, ErrSessionState), errors.Is(err, appointment.ErrStatusConflict):
		return http.StatusConflict
	case errors.Is(err, ErrGateway), errors.Is(err, ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, ErrConfiguration):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) failErr(c echo.Context, err error) error {
	code := errorStatus(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.Path()).Msg("payment request failed")
	}
	return fail(c, code, err.Error())
}

type createOrderRequest struct {
	AppointmentID string  `json:"appointmentId"`
	Provider      string  `json:"provider"`
	Amount        float64 `json:"amount"`
	Invoice       string  `json:"invoice"`
}

type orderResponse struct {
	Provider      Provider `json:"provider"`
	TransactionID string   `json:"transactionId"`
	Amount        string   `json:"amount"`
	MerchantCode  string   `json:"merchantCode"`
	QRURL         string   `json:"qrUrl,omitempty"`
	PaymentURL    string   `json:"paymentUrl,omitempty"`
	FormData      *Form    `json:"formData,omitempty"`
}

func newOrderResponse(o *PaymentOrder, r RedirectDescriptor) orderResponse {
	resp := orderResponse{
		Provider:      o.Provider,
		TransactionID: o.TransactionID,
		Amount:        o.Amount,
		MerchantCode:  o.MerchantCode,
		FormData:      r.Form,
	}
	if !r.IsForm() {
		resp.QRURL = r.URL
		resp.PaymentURL = r.URL
	}
	return resp
}

func (h *Handler) CreateOrder(c echo.Context) error {
	var req createOrderRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	provider, err := ParseProvider(req.Provider)
	if err != nil {
		return h.failErr(c, err)
	}
	ctx := c.Request().Context()

	var (
		order    *PaymentOrder
		redirect RedirectDescriptor
	)
	switch {
	case req.AppointmentID != "":
		id, perr := uuid.Parse(req.AppointmentID)
		if perr != nil {
			return fail(c, http.StatusBadRequest, "valid appointment ID is required")
		}
		order, redirect, err = h.svc.CreateOrder(ctx, auth.UserIDFromContext(ctx), id, provider)
	case req.Invoice != "":
		order, redirect, err = h.svc.CreateInvoiceOrder(ctx, req.Amount, req.Invoice, provider)
		if err != nil && errorStatus(err) == http.StatusInternalServerError {
			return fail(c, http.StatusBadRequest, err.Error())
		}
	default:
		return fail(c, http.StatusBadRequest, "appointmentId or invoice is required")
	}
	if err != nil {
		return h.failErr(c, err)
	}
	return ok(c, http.StatusOK, newOrderResponse(order, redirect), provider.MethodName()+" payment order created successfully")
}

type verifyRequest struct {
	AppointmentID string `json:"appointmentId"`
	TransactionID string `json:"transactionId"`
}

func (h *Handler) VerifyPayment(c echo.Context) error {
	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	id, err := uuid.Parse(req.AppointmentID)
	if err != nil {
		return fail(c, http.StatusBadRequest, "valid appointment ID is required")
	}
	if req.TransactionID == "" {
		return fail(c, http.StatusBadRequest, "transaction ID is required")
	}

	ctx := c.Request().Context()
	appt, res, err := h.svc.Verify(ctx, auth.UserIDFromContext(ctx), id, req.TransactionID)
	if err != nil {
		return h.failErr(c, err)
	}
	h.orch.Deliver(req.TransactionID, res)

	switch appt.PaymentStatus {
	case appointment.StatusPaid:
		return ok(c, http.StatusOK, appt, "Payment verified and appointment confirmed successfully")
	case appointment.StatusFailed:
		return fail(c, http.StatusBadRequest, "payment verification failed: "+res.ProviderStatus)
	}
	return c.JSON(http.StatusAccepted, envelope{Success: false, Data: res, Message: "payment pending"})
}

func (h *Handler) ListAttempts(c echo.Context) error {
	id, err := uuid.Parse(c.QueryParam("appointment_id"))
	if err != nil {
		return fail(c, http.StatusBadRequest, "valid appointment_id is required")
	}
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	items, total, err := h.svc.ListAttempts(ctx, auth.UserIDFromContext(ctx), id, pg.Limit, pg.Offset)
	if err != nil {
		return h.failErr(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type startSessionRequest struct {
	AppointmentID string `json:"appointmentId"`
	Provider      string `json:"provider"`
}

func (h *Handler) StartSession(c echo.Context) error {
	var req startSessionRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	id, err := uuid.Parse(req.AppointmentID)
	if err != nil {
		return fail(c, http.StatusBadRequest, "valid appointment ID is required")
	}
	provider, err := ParseProvider(req.Provider)
	if err != nil {
		return h.failErr(c, err)
	}
	ctx := c.Request().Context()
	snap, err := h.orch.Start(ctx, auth.UserIDFromContext(ctx), id, provider)
	if err != nil {
		return h.failErr(c, err)
	}
	return ok(c, http.StatusCreated, snap, "")
}

func (h *Handler) GetSession(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return fail(c, http.StatusBadRequest, "invalid session id")
	}
	ctx := c.Request().Context()
	principal := auth.UserIDFromContext(ctx)

	var snap Snapshot
	if wait, _ := strconv.ParseBool(c.QueryParam("wait")); wait {
		waitCtx, cancel := context.WithTimeout(ctx, h.orch.timeout)
		defer cancel()
		snap, err = h.orch.Wait(waitCtx, principal, id)
	} else {
		snap, err = h.orch.Get(principal, id)
	}
	if err != nil {
		return h.failErr(c, err)
	}
	return ok(c, http.StatusOK, snap, "")
}

func (h *Handler) RetrySession(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return fail(c, http.StatusBadRequest, "invalid session id")
	}
	ctx := c.Request().Context()
	snap, err := h.orch.Retry(ctx, auth.UserIDFromContext(ctx), id)
	if err != nil {
		return h.failErr(c, err)
	}
	return ok(c, http.StatusOK, snap, "")
}

func (h *Handler) CancelSession(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return fail(c, http.StatusBadRequest, "invalid session id")
	}
	snap, err := h.orch.Cancel(auth.UserIDFromContext(c.Request().Context()), id)
	if err != nil {
		return h.failErr(c, err)
	}
	return ok(c, http.StatusOK, snap, "payment cancelled")
}

// SessionEvents streams session snapshots as server-sent events.
func (h *Handler) SessionEvents(c echo.Context) error {
	if h.stream == nil {
		return fail(c, http.StatusNotImplemented, "event stream disabled")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return fail(c, http.StatusBadRequest, "invalid session id")
	}
	if _, err := h.orch.Get(auth.UserIDFromContext(c.Request().Context()), id); err != nil {
		return h.failErr(c, err)
	}
	h.stream.Handler(SessionChannel(id)).ServeHTTP(c.Response(), c.Request())
	return nil
}

// SessionChannel names the event channel of a session.
func SessionChannel(id uuid.UUID) string { return "payment-session-" + id.String() }

// EsewaReturn accepts both the signed data payload and the plain
// oid/amt/refId form.
func (h *Handler) EsewaReturn(c echo.Context) error {
	return h.handleReturn(c, ReturnParams{
		Provider:      ProviderEsewa,
		Data:          c.QueryParam("data"),
		TransactionID: c.QueryParam("oid"),
		Amount:        c.QueryParam("amt"),
		ReferenceID:   c.QueryParam("refId"),
	})
}

func (h *Handler) FonePayReturn(c echo.Context) error {
	return h.handleReturn(c, ReturnParams{
		Provider:      ProviderFonePay,
		TransactionID: c.QueryParam("PRN"),
		Amount:        c.QueryParam("P_AMT"),
		ReferenceID:   c.QueryParam("UID"),
	})
}

func (h *Handler) handleReturn(c echo.Context, p ReturnParams) error {
	out, err := h.svc.HandleReturn(c.Request().Context(), p)
	if err != nil {
		return h.failErr(c, err)
	}
	h.orch.Deliver(out.TransactionID, out.Verification)

	switch out.Verification.Outcome {
	case OutcomeSuccess:
		return ok(c, http.StatusOK, out, "Payment verified")
	case OutcomeFailed:
		return c.JSON(http.StatusBadRequest, envelope{Success: false, Data: out, Message: "payment failed"})
	}
	return c.JSON(http.StatusAccepted, envelope{Success: false, Data: out, Message: "payment pending"})
}
