package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPPaymentGateway posts payment instructions to the external payment
// initiation endpoint.
type HTTPPaymentGateway struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPPaymentGateway constructs the gateway client.
func NewHTTPPaymentGateway(baseURL string, timeout time.Duration) *HTTPPaymentGateway {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPPaymentGateway{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Ping checks if the payment endpoint is reachable.
func (g *HTTPPaymentGateway) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/health", g.baseURL), nil)
	if err != nil {
		return err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("payment gateway returned status %d", resp.StatusCode)
	}
	return nil
}

// Initiate submits the instruction. Only a 4xx reply or an explicit
// rejection in the receipt is a refusal; transport failures, timeouts and
// 5xx replies leave the outcome unknown.
func (g *HTTPPaymentGateway) Initiate(ctx context.Context, in PaymentInstruction) (PaymentReceipt, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return PaymentReceipt{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/payments", g.baseURL), bytes.NewReader(body))
	if err != nil {
		return PaymentReceipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", in.TransactionReference)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return PaymentReceipt{}, fmt.Errorf("%w: %v", ErrPaymentOutcomeUnknown, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		kind := ErrPaymentOutcomeUnknown
		if definiteRefusal(resp.StatusCode) {
			kind = ErrPaymentRejected
		}
		return PaymentReceipt{}, fmt.Errorf("%w: status %d: %s", kind, resp.StatusCode, bytes.TrimSpace(msg))
	}
	var receipt PaymentReceipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil && err != io.EOF {
		return PaymentReceipt{}, fmt.Errorf("%w: decode payment receipt: %v", ErrPaymentOutcomeUnknown, err)
	}
	switch strings.ToLower(receipt.Status) {
	case "":
		receipt.Status = "accepted"
	case "rejected", "declined":
		return PaymentReceipt{}, fmt.Errorf("%w: gateway status %s", ErrPaymentRejected, receipt.Status)
	}
	if receipt.Reference == "" {
		receipt.Reference = in.TransactionReference
	}
	return receipt, nil
}

// 408 and 409 may follow a request the gateway already processed.
func definiteRefusal(status int) bool {
	if status < 400 || status >= 500 {
		return false
	}
	return status != http.StatusRequestTimeout && status != http.StatusConflict
}
