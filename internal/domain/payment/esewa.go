package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var esewaScheme = Scheme{Algorithm: HMACSHA256, Encoding: Base64, KeyValue: true}

var (
	esewaInitiate = Layout{Scheme: esewaScheme, Keys: []string{"total_amount", "transaction_uuid", "product_code"}}
	esewaStatus   = Layout{Scheme: esewaScheme, Keys: []string{"product_code", "total_amount", "transaction_uuid"}}
)

func esewaOutcome(status string) Outcome {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "COMPLETE":
		return OutcomeSuccess
	case "CANCELED", "CANCELLED", "FULL_REFUND", "PARTIAL_REFUND":
		return OutcomeFailed
	}
	// PENDING, AMBIGUOUS, NOT_FOUND and anything unrecognized
	return OutcomePending
}

// esewaRedirect builds the auto-submitted checkout form.
func esewaRedirect(cfg EsewaConfig, o *PaymentOrder) RedirectDescriptor {
	return RedirectDescriptor{Form: &Form{
		Method: http.MethodPost,
		Action: cfg.FormURL,
		Fields: []FormField{
			{Name: "amount", Value: o.Amount},
			{Name: "tax_amount", Value: "0"},
			{Name: "total_amount", Value: o.Amount},
			{Name: "transaction_uuid", Value: o.TransactionID},
			{Name: "product_code", Value: o.MerchantCode},
			{Name: "product_service_charge", Value: "0"},
			{Name: "product_delivery_charge", Value: "0"},
			{Name: "success_url", Value: o.SuccessURL},
			{Name: "failure_url", Value: o.FailureURL},
			{Name: "signed_field_names", Value: strings.Join(esewaInitiate.Keys, ",")},
			{Name: "signature", Value: o.Signature},
		},
	}}
}

type esewaStatusResponse struct {
	Status string  `json:"status"`
	RefID  *string `json:"ref_id"`
}

func (c *Client) esewaCheck(ctx context.Context, q StatusQuery) (VerificationResult, error) {
	cfg := c.cfg.Esewa
	values := map[string]string{
		"product_code":     cfg.ProductCode,
		"total_amount":     q.Amount,
		"transaction_uuid": q.TransactionID,
	}
	sig, err := esewaStatus.Sign(cfg.SecretKey, values)
	if err != nil {
		return VerificationResult{}, err
	}
	params := url.Values{}
	for k, v := range values {
		params.Set(k, v)
	}
	params.Set("signature", sig)

	raw, err := c.do(ctx, ProviderEsewa, http.MethodGet, cfg.StatusURL+"?"+params.Encode(), nil)
	if err != nil {
		return VerificationResult{}, err
	}

	var resp esewaStatusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return VerificationResult{Outcome: OutcomePending, Raw: string(raw)}, nil
	}
	res := VerificationResult{
		Outcome:        esewaOutcome(resp.Status),
		ProviderStatus: resp.Status,
		Raw:            string(raw),
	}
	if resp.RefID != nil {
		res.ReferenceID = *resp.RefID
	}
	return res, nil
}

// EsewaReturn is the decoded payload eSewa appends to the success URL.
type EsewaReturn struct {
	TransactionUUID string
	TotalAmount     string
	TransactionCode string
	Status          string
	Raw             string
}

// DecodeEsewaReturn decodes the base64 data parameter and checks its
// signature over signed_field_names. The result is not trusted as a
// settlement; callers still re-verify with the status API.
func (c *Client) DecodeEsewaReturn(data string) (*EsewaReturn, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		if raw, err = base64.URLEncoding.DecodeString(data); err != nil {
			return nil, fmt.Errorf("decode esewa data: %w: %v", ErrInvalidSignature, err)
		}
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse esewa data: %w: %v", ErrInvalidSignature, err)
	}
	values := make(map[string]string, len(doc))
	for k, v := range doc {
		values[k] = rawString(v)
	}

	names := values["signed_field_names"]
	if names == "" {
		return nil, fmt.Errorf("esewa data: %w", ErrInvalidSignature)
	}
	layout := Layout{Scheme: esewaScheme, Keys: strings.Split(names, ",")}
	if err := Verify(c.cfg.Esewa.SecretKey, esewaScheme, layout.Fields(values), values["signature"]); err != nil {
		return nil, fmt.Errorf("esewa data: %w", err)
	}

	return &EsewaReturn{
		TransactionUUID: values["transaction_uuid"],
		TotalAmount:     values["total_amount"],
		TransactionCode: values["transaction_code"],
		Status:          values["status"],
		Raw:             string(raw),
	}, nil
}

// rawString renders a JSON scalar the way it was written, so numbers keep
// the exact text the provider signed.
func rawString(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(v)
}
