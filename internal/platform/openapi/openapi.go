package openapi

import (
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
)

// operation describes a documented route. Routes without an entry are still
// listed with a generic summary.
type operation struct {
	id       string
	summary  string
	tag      string
	public   bool
	request  string
	response string
	params   []map[string]interface{}
}

var (
	pathID = map[string]interface{}{
		"name": "id", "in": "path", "required": true,
		"schema": map[string]string{"type": "string", "format": "uuid"},
	}
	appointmentQuery = map[string]interface{}{
		"name": "appointment_id", "in": "query", "required": true,
		"schema": map[string]string{"type": "string", "format": "uuid"},
	}
	pageParams = []map[string]interface{}{
		{"name": "limit", "in": "query", "schema": map[string]interface{}{"type": "integer", "maximum": 100}},
		{"name": "offset", "in": "query", "schema": map[string]interface{}{"type": "integer", "minimum": 0}},
	}
)

var operations = map[string]operation{
	"POST /api/v1/payment/create-order": {
		id: "createOrder", summary: "Build a payment order for an appointment or invoice", tag: "payment",
		request: "CreateOrderRequest", response: "Order",
	},
	"POST /api/v1/payment/verify-payment": {
		id: "verifyPayment", summary: "Check an order with the provider and reconcile the appointment", tag: "payment",
		request: "VerifyRequest", response: "Appointment",
	},
	"GET /api/v1/payment/attempts": {
		id: "listAttempts", summary: "List orders issued for an appointment", tag: "payment",
		response: "AttemptPage", params: append([]map[string]interface{}{appointmentQuery}, pageParams...),
	},
	"POST /api/v1/payment/sessions": {
		id: "startSession", summary: "Start a polled payment session", tag: "session",
		request: "StartSessionRequest", response: "Session",
	},
	"GET /api/v1/payment/sessions/:id": {
		id: "getSession", summary: "Read a payment session; wait=true blocks until it settles", tag: "session",
		response: "Session", params: []map[string]interface{}{pathID,
			{"name": "wait", "in": "query", "schema": map[string]string{"type": "boolean"}}},
	},
	"POST /api/v1/payment/sessions/:id/retry": {
		id: "retrySession", summary: "Retry a failed payment session", tag: "session",
		response: "Session", params: []map[string]interface{}{pathID},
	},
	"DELETE /api/v1/payment/sessions/:id": {
		id: "cancelSession", summary: "Cancel a payment session", tag: "session",
		response: "Session", params: []map[string]interface{}{pathID},
	},
	"GET /api/v1/payment/sessions/:id/events": {
		id: "watchSession", summary: "Stream session changes as server-sent events", tag: "session",
		params: []map[string]interface{}{pathID},
	},
	"GET /payment/esewa/return": {
		id: "esewaReturn", summary: "eSewa browser return; re-verified with the status API", tag: "gateway",
		public: true, response: "ReturnResult",
		params: []map[string]interface{}{
			{"name": "data", "in": "query", "schema": map[string]string{"type": "string", "format": "byte"}},
			{"name": "oid", "in": "query", "schema": map[string]string{"type": "string"}},
			{"name": "amt", "in": "query", "schema": map[string]string{"type": "string"}},
			{"name": "refId", "in": "query", "schema": map[string]string{"type": "string"}},
		},
	},
	"GET /payment/fonepay/return": {
		id: "fonepayReturn", summary: "FonePay browser return; re-verified with the status API", tag: "gateway",
		public: true, response: "ReturnResult",
		params: []map[string]interface{}{
			{"name": "PRN", "in": "query", "required": true, "schema": map[string]string{"type": "string"}},
			{"name": "P_AMT", "in": "query", "schema": map[string]string{"type": "string"}},
			{"name": "UID", "in": "query", "schema": map[string]string{"type": "string"}},
		},
	},
}

// Generator builds an OpenAPI 3.0 document from the routes registered on
// an echo instance.
type Generator struct {
	version string
	baseURL string
}

func NewGenerator(version, baseURL string) *Generator {
	return &Generator{version: version, baseURL: baseURL}
}

// GenerateSpec documents every route under /api/v1 and /payment.
func (g *Generator) GenerateSpec(routes []*echo.Route) map[string]interface{} {
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})

	paths := make(map[string]interface{})
	for _, r := range routes {
		// group middleware registers catch-all routes
		if !documented(r.Path) || r.Method == echo.RouteNotFound || strings.Contains(r.Path, "*") {
			continue
		}
		key := openAPIPath(r.Path)
		item, _ := paths[key].(map[string]interface{})
		if item == nil {
			item = make(map[string]interface{})
			paths[key] = item
		}
		item[strings.ToLower(r.Method)] = buildOperation(r)
	}

	server := g.baseURL
	if server == "" {
		server = "/"
	}
	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":       "Telehealth Payment API",
			"version":     g.version,
			"description": "Appointment payments through FonePay and eSewa",
		},
		"servers": []map[string]string{
			{"url": server},
		},
		"paths": paths,
		"components": map[string]interface{}{
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]string{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
			"schemas": componentSchemas(),
		},
	}
}

func documented(path string) bool {
	return strings.HasPrefix(path, "/api/v1/") || strings.HasPrefix(path, "/payment/")
}

// openAPIPath rewrites echo's :param segments to {param}.
func openAPIPath(path string) string {
	segs := strings.Split(path, "/")
	for i, s := range segs {
		if strings.HasPrefix(s, ":") {
			segs[i] = "{" + s[1:] + "}"
		}
	}
	return strings.Join(segs, "/")
}

func buildOperation(r *echo.Route) map[string]interface{} {
	op, known := operations[r.Method+" "+r.Path]
	if !known {
		op = operation{
			id:      strings.ToLower(r.Method) + strings.ReplaceAll(openAPIPath(r.Path), "/", "_"),
			summary: r.Method + " " + r.Path,
			tag:     tagFor(r.Path),
			public:  !strings.HasPrefix(r.Path, "/api/"),
		}
		for _, s := range strings.Split(r.Path, "/") {
			if strings.HasPrefix(s, ":") {
				op.params = append(op.params, map[string]interface{}{
					"name": s[1:], "in": "path", "required": true,
					"schema": map[string]string{"type": "string"},
				})
			}
		}
	}

	out := map[string]interface{}{
		"operationId": op.id,
		"summary":     op.summary,
		"tags":        []string{op.tag},
		"responses":   responses(op),
	}
	if len(op.params) > 0 {
		out["parameters"] = op.params
	}
	if op.request != "" {
		out["requestBody"] = map[string]interface{}{
			"required": true,
			"content":  jsonContent(ref(op.request)),
		}
	}
	if !op.public {
		out["security"] = []map[string][]string{{"bearerAuth": {}}}
	}
	return out
}

func tagFor(path string) string {
	segs := strings.Split(strings.TrimPrefix(strings.TrimPrefix(path, "/api/v1"), "/"), "/")
	if len(segs) > 0 && segs[0] != "" {
		return segs[0]
	}
	return "default"
}

func responses(op operation) map[string]interface{} {
	success := map[string]interface{}{"description": "OK"}
	if op.id == "watchSession" {
		success["content"] = map[string]interface{}{
			"text/event-stream": map[string]interface{}{"schema": map[string]string{"type": "string"}},
		}
	} else if op.response != "" {
		success["content"] = jsonContent(envelopeOf(op.response))
	}
	code := "200"
	if op.id == "startSession" {
		code = "201"
	}

	errResp := map[string]interface{}{
		"description": "Error",
		"content":     jsonContent(ref("Envelope")),
	}
	out := map[string]interface{}{code: success, "default": errResp}
	if op.id == "verifyPayment" || strings.HasSuffix(op.id, "Return") {
		out["202"] = map[string]interface{}{"description": "Payment still pending", "content": jsonContent(ref("Envelope"))}
	}
	if !op.public {
		out["401"] = map[string]interface{}{"description": "Missing or invalid token"}
	}
	return out
}

func ref(name string) map[string]interface{} {
	return map[string]interface{}{"$ref": "#/components/schemas/" + name}
}

func jsonContent(schema map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		echo.MIMEApplicationJSON: map[string]interface{}{"schema": schema},
	}
}

func envelopeOf(name string) map[string]interface{} {
	return map[string]interface{}{
		"allOf": []interface{}{
			ref("Envelope"),
			map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"data": ref(name)},
			},
		},
	}
}

func object(required []string, props map[string]interface{}) map[string]interface{} {
	s := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func str(format string) map[string]string {
	if format == "" {
		return map[string]string{"type": "string"}
	}
	return map[string]string{"type": "string", "format": format}
}

func enum(values ...string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "enum": values}
}

func componentSchemas() map[string]interface{} {
	provider := enum("fonepay", "esewa")
	return map[string]interface{}{
		"Envelope": object([]string{"success"}, map[string]interface{}{
			"success": map[string]string{"type": "boolean"},
			"message": str(""),
			"data":    map[string]interface{}{},
		}),
		"CreateOrderRequest": object(nil, map[string]interface{}{
			"appointmentId": str("uuid"),
			"invoice":       str(""),
			"amount":        map[string]string{"type": "number"},
			"provider":      provider,
		}),
		"VerifyRequest": object([]string{"appointmentId", "transactionId"}, map[string]interface{}{
			"appointmentId": str("uuid"),
			"transactionId": str(""),
		}),
		"StartSessionRequest": object([]string{"appointmentId"}, map[string]interface{}{
			"appointmentId": str("uuid"),
			"provider":      provider,
		}),
		"Order": object(nil, map[string]interface{}{
			"transactionId": str(""),
			"provider":      provider,
			"amount":        str(""),
			"merchantCode":  str(""),
			"qrUrl":         str("uri"),
			"paymentUrl":    str("uri"),
			"formData": object(nil, map[string]interface{}{
				"method": str(""),
				"action": str("uri"),
				"fields": map[string]interface{}{
					"type": "array",
					"items": object(nil, map[string]interface{}{
						"name":  str(""),
						"value": str(""),
					}),
				},
			}),
		}),
		"Appointment": object(nil, map[string]interface{}{
			"id":             str("uuid"),
			"patient_id":     str("uuid"),
			"total_amount":   map[string]string{"type": "number"},
			"payment_status": enum("Unpaid", "Pending", "Paid", "Failed"),
			"payment_method": str(""),
			"transaction_id": str(""),
			"payment_date":   str("date-time"),
		}),
		"Attempt": object(nil, map[string]interface{}{
			"transactionId": str(""),
			"appointmentId": str("uuid"),
			"provider":      provider,
			"amount":        str(""),
			"issuedAt":      str("date-time"),
			"outcome":       enum("Success", "Pending", "Failed"),
			"referenceId":   str(""),
			"verifiedAt":    str("date-time"),
		}),
		"AttemptPage": object(nil, map[string]interface{}{
			"data":     map[string]interface{}{"type": "array", "items": ref("Attempt")},
			"total":    map[string]string{"type": "integer"},
			"limit":    map[string]string{"type": "integer"},
			"offset":   map[string]string{"type": "integer"},
			"has_more": map[string]string{"type": "boolean"},
		}),
		"Session": object(nil, map[string]interface{}{
			"id":            str("uuid"),
			"appointmentId": str("uuid"),
			"provider":      provider,
			"state":         enum("idle", "processing", "success", "failed"),
			"reason":        str(""),
			"transactionId": str(""),
			"amount":        str(""),
			"deadline":      str("date-time"),
			"updatedAt":     str("date-time"),
		}),
		"ReturnResult": object(nil, map[string]interface{}{
			"transactionId": str(""),
			"verification": object(nil, map[string]interface{}{
				"outcome":        enum("Success", "Pending", "Failed"),
				"providerStatus": str(""),
				"referenceId":    str(""),
			}),
			"appointment": ref("Appointment"),
		}),
	}
}

// RegisterRoutes serves the document at /openapi.json. Routes are read on
// every request so the document always matches the running server.
func (g *Generator) RegisterRoutes(e *echo.Echo) {
	e.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec(e.Routes()))
	})
}
