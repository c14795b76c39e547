package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mohsenbt/marzsell/internal/pkg/env"
)

const (
	defaultZarinpalAPIBaseURL = "https://api.zarinpal.com/pg/v4/payment"
	defaultZarinpalPayBaseURL = "https://www.zarinpal.com/pg/StartPay/"

	// Gateway result codes. 100 is a fresh verification, 101 means the
	// authority was verified before.
	zarinpalCodeOK              = 100
	zarinpalCodeAlreadyVerified = 101
	zarinpalCodeAmountMismatch  = -50
)

// ZarinpalClient talks to the hosted payment gateway.
type ZarinpalClient struct {
	MerchantID  string
	CallbackURL string

	APIBaseURL string
	PayBaseURL string

	HTTPClient *http.Client
}

type zarinpalRequestBody struct {
	MerchantID  string `json:"merchant_id"`
	Amount      int64  `json:"amount"`
	CallbackURL string `json:"callback_url"`
	Description string `json:"description"`
}

type zarinpalVerifyBody struct {
	MerchantID string `json:"merchant_id"`
	Amount     int64  `json:"amount"`
	Authority  string `json:"authority"`
}

// The gateway answers either {"data": {...}, "errors": []} on success or
// {"data": [], "errors": {"code": ..., "message": ...}} on failure, so both
// halves have to be decoded leniently.
type zarinpalEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

type zarinpalRequestData struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Authority string `json:"authority"`
}

type zarinpalVerifyData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	RefID   int64  `json:"ref_id"`
	CardPan string `json:"card_pan"`
}

type zarinpalErrorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// decodeZarinpalBody fills target from the data half and falls back to the
// errors half for the code and message when data is empty.
func decodeZarinpalBody(raw []byte, target interface{}) (int, string, error) {
	var envelope zarinpalEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return 0, "", err
	}

	if len(envelope.Data) > 0 && envelope.Data[0] == '{' {
		if err := json.Unmarshal(envelope.Data, target); err != nil {
			return 0, "", err
		}
	}

	if len(envelope.Errors) > 0 && envelope.Errors[0] == '{' {
		var ge zarinpalErrorData
		if err := json.Unmarshal(envelope.Errors, &ge); err == nil && ge.Code != 0 {
			return ge.Code, ge.Message, nil
		}
	}
	return 0, "", nil
}

// VerifyResult is the decoded outcome of a gateway verification call.
type VerifyResult struct {
	Code    int
	RefID   int64
	CardPan string
	Message string
}

// Verified reports whether the gateway accepted the charge. Code 101 counts:
// it means a retry of a verification that already went through.
func (v *VerifyResult) Verified() bool {
	return v.Code == zarinpalCodeOK || v.Code == zarinpalCodeAlreadyVerified
}

// AmountMismatch reports the gateway's explicit mismatch code.
func (v *VerifyResult) AmountMismatch() bool {
	return v.Code == zarinpalCodeAmountMismatch
}

// NewZarinpalClientFromEnv builds the gateway client from ZARINPAL_* vars.
// An empty merchant ID leaves the hosted method unusable; the service reports
// ErrGatewayUnavailable in that case instead of failing at startup.
func NewZarinpalClientFromEnv() *ZarinpalClient {
	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	callbackURL := strings.TrimSpace(env.GetEnv("ZARINPAL_CALLBACK_URL", ""))
	if callbackURL == "" && base != "" {
		callbackURL = base + "/payment/callback"
	}

	return &ZarinpalClient{
		MerchantID:  strings.TrimSpace(env.GetEnv("ZARINPAL_MERCHANT_ID", "")),
		CallbackURL: callbackURL,
		APIBaseURL:  strings.TrimRight(env.GetEnv("ZARINPAL_API_BASE_URL", defaultZarinpalAPIBaseURL), "/"),
		PayBaseURL:  env.GetEnv("ZARINPAL_PAY_BASE_URL", defaultZarinpalPayBaseURL),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Configured reports whether the client can reach the gateway at all.
func (c *ZarinpalClient) Configured() bool {
	return strings.TrimSpace(c.MerchantID) != "" && strings.TrimSpace(c.CallbackURL) != ""
}

// RequestPayment opens a charge at the gateway and returns its authority token.
func (c *ZarinpalClient) RequestPayment(ctx context.Context, amount int64, description string) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("%w: merchant id or callback url not configured", ErrGatewayUnavailable)
	}
	if amount <= 0 {
		return "", ErrInvalidAmount
	}

	body, _ := json.Marshal(zarinpalRequestBody{
		MerchantID:  c.MerchantID,
		Amount:      amount,
		CallbackURL: c.CallbackURL,
		Description: description,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/request.json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: charge request failed status=%d body=%s", ErrGatewayUnavailable, resp.StatusCode, string(raw))
	}

	var data zarinpalRequestData
	errCode, errMsg, err := decodeZarinpalBody(raw, &data)
	if err != nil {
		return "", fmt.Errorf("%w: malformed charge response: %v", ErrGatewayUnavailable, err)
	}
	if data.Code == 0 && errCode != 0 {
		return "", fmt.Errorf("gateway refused charge: code=%d message=%s", errCode, errMsg)
	}
	if data.Code != zarinpalCodeOK {
		return "", fmt.Errorf("gateway refused charge: code=%d message=%s", data.Code, data.Message)
	}
	if strings.TrimSpace(data.Authority) == "" {
		return "", errors.New("gateway charge response missing authority")
	}
	return data.Authority, nil
}

// VerifyPayment asks the gateway whether the charge behind an authority was
// actually paid for the given amount.
func (c *ZarinpalClient) VerifyPayment(ctx context.Context, amount int64, authority string) (*VerifyResult, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("%w: merchant id or callback url not configured", ErrGatewayUnavailable)
	}
	if strings.TrimSpace(authority) == "" {
		return nil, errors.New("authority is required")
	}

	body, _ := json.Marshal(zarinpalVerifyBody{
		MerchantID: c.MerchantID,
		Amount:     amount,
		Authority:  authority,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/verify.json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: verify failed status=%d body=%s", ErrGatewayUnavailable, resp.StatusCode, string(raw))
	}

	var data zarinpalVerifyData
	errCode, errMsg, err := decodeZarinpalBody(raw, &data)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed verify response: %v", ErrGatewayUnavailable, err)
	}

	result := &VerifyResult{
		Code:    data.Code,
		RefID:   data.RefID,
		CardPan: data.CardPan,
		Message: data.Message,
	}
	if data.Code == 0 && errCode != 0 {
		result.Code = errCode
		result.Message = errMsg
	}
	return result, nil
}

// PayURL is where the customer finishes a charge opened under an authority.
func (c *ZarinpalClient) PayURL(authority string) string {
	return c.PayBaseURL + authority
}
