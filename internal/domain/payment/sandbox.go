package payment

import (
	"html/template"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var sandboxPage = template.Must(template.New("sandbox").Parse(`<!DOCTYPE html>
<html>
<head>
  <title>FonePay Sandbox</title>
  <meta http-equiv="refresh" content="3;url={{.Redirect}}">
</head>
<body style="font-family:sans-serif; text-align:center; padding-top:100px;">
  <h2>FonePay Sandbox (Demo Mode)</h2>
  <p>Merchant: {{.Merchant}}</p>
  <p>Transaction: {{.PRN}}</p>
  <p>Amount: {{.Amount}}</p>
  <p>Processing payment...</p>
  <p><a href="{{.Redirect}}">Continue</a></p>
</body>
</html>`))

type sandboxView struct {
	Merchant string
	PRN      string
	Amount   string
	Redirect string
}

// Sandbox is a fake FonePay merchant API that approves every payment whose
// checkout page was opened. The page redirects without script so it works
// under the API's Content-Security-Policy. Point FONEPAY_BASE_URL at
// <server>/fake-fonepay/api/merchantRequest to use it. Development only.
type Sandbox struct {
	paid sync.Map // PRN -> UID
}

func NewSandbox() *Sandbox { return &Sandbox{} }

func (s *Sandbox) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/fake-fonepay/api/merchantRequest")
	g.GET("/pay", s.Pay)
	g.POST("/checkTransactionStatus", s.CheckTransactionStatus)
}

func (s *Sandbox) Pay(c echo.Context) error {
	prn := c.QueryParam("prn")
	success := c.QueryParam("su")
	if prn == "" || success == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prn and su are required")
	}
	target, err := url.Parse(success)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid success url")
	}
	q := target.Query()
	q.Set("PRN", prn)
	q.Set("P_AMT", c.QueryParam("amt"))
	q.Set("status", "SUCCESS")
	q.Set("message", "Payment successful")
	target.RawQuery = q.Encode()
	s.paid.LoadOrStore(prn, uuid.NewString())

	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(http.StatusOK)
	return sandboxPage.Execute(c.Response(), sandboxView{
		Merchant: c.QueryParam("merchant"),
		PRN:      prn,
		Amount:   c.QueryParam("amt"),
		Redirect: target.String(),
	})
}

func (s *Sandbox) CheckTransactionStatus(c echo.Context) error {
	var req fonepayStatusRequest
	if err := c.Bind(&req); err != nil || req.PRN == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "PRN is required")
	}
	uid, ok := s.paid.Load(req.PRN)
	if !ok {
		return c.JSON(http.StatusOK, fonepayStatusResponse{Status: "PENDING"})
	}
	return c.JSON(http.StatusOK, fonepayStatusResponse{Status: "SUCCESS", UID: uid.(string)})
}
