package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

var fonepayScheme = Scheme{Algorithm: SHA512Suffix, Encoding: HexUpper}

var (
	fonepayInitiate = Layout{Scheme: fonepayScheme, Keys: []string{"MERCHANT_CODE", "PRN", "AMOUNT"}}
	fonepayStatus   = Layout{Scheme: fonepayScheme, Keys: []string{"MERCHANT_CODE", "PRN"}}
)

func fonepayOutcome(status string) Outcome {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SUCCESS":
		return OutcomeSuccess
	case "FAILED", "FAILURE", "CANCELLED", "CANCELED", "DECLINED":
		return OutcomeFailed
	}
	return OutcomePending
}

// fonepayRedirect builds the hosted payment / QR link.
func fonepayRedirect(cfg FonePayConfig, o *PaymentOrder) RedirectDescriptor {
	q := url.Values{}
	q.Set("merchant", o.MerchantCode)
	q.Set("prn", o.TransactionID)
	q.Set("amt", o.Amount)
	q.Set("su", o.SuccessURL)
	q.Set("fu", o.FailureURL)
	q.Set("cs", o.Signature)
	return RedirectDescriptor{URL: strings.TrimRight(cfg.BaseURL, "/") + "/pay?" + q.Encode()}
}

type fonepayStatusRequest struct {
	MerchantCode string `json:"MERCHANT_CODE"`
	PRN          string `json:"PRN"`
	Checksum     string `json:"CHECKSUM"`
}

type fonepayStatusResponse struct {
	Status string `json:"STATUS"`
	UID    string `json:"UID"`
}

func (c *Client) fonepayCheck(ctx context.Context, q StatusQuery) (VerificationResult, error) {
	cfg := c.cfg.FonePay
	sig, err := fonepayStatus.Sign(cfg.SecretKey, map[string]string{
		"MERCHANT_CODE": cfg.MerchantCode,
		"PRN":           q.TransactionID,
	})
	if err != nil {
		return VerificationResult{}, err
	}
	body, err := json.Marshal(fonepayStatusRequest{MerchantCode: cfg.MerchantCode, PRN: q.TransactionID, Checksum: sig})
	if err != nil {
		return VerificationResult{}, err
	}

	raw, err := c.do(ctx, ProviderFonePay, http.MethodPost, strings.TrimRight(cfg.BaseURL, "/")+"/checkTransactionStatus", body)
	if err != nil {
		return VerificationResult{}, err
	}

	var resp fonepayStatusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return VerificationResult{Outcome: OutcomePending, Raw: string(raw)}, nil
	}
	return VerificationResult{
		Outcome:        fonepayOutcome(resp.Status),
		ProviderStatus: resp.Status,
		ReferenceID:    resp.UID,
		Raw:            string(raw),
	}, nil
}
