package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/newrelic/go-agent/v3/newrelic"

	"subscription/internal/config"
)

const (
	initiatePath = "/epayment/initiate/"
	lookupPath   = "/epayment/lookup/"
	refundPath   = "/epayment/refund/"
)

// Client talks to the Khalti ePayment API. It never retries on its own;
// callers decide whether a failed call is worth repeating.
type Client struct {
	http *resty.Client
}

// NewClient creates a new Client.
// If nrApp is provided, outbound calls are recorded as New Relic external segments.
func NewClient(cfg config.GatewayConfig, nrApp *newrelic.Application) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Authorization", "Key "+cfg.SecretKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if nrApp != nil {
		client.SetTransport(newrelic.NewRoundTripper(nil))
	}

	return &Client{http: client}
}

// Initiate registers a payment with the provider and returns its pidx and checkout URL.
func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	const op = "initiate"

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post(initiatePath)
	if err != nil {
		log.Printf("[GATEWAY] initiate order=%s failed: %v", req.PurchaseOrderID, err)
		return nil, networkError(op, err)
	}

	body := resp.Body()
	if !resp.IsSuccess() {
		log.Printf("[GATEWAY] initiate order=%s rejected: status=%d", req.PurchaseOrderID, resp.StatusCode())
		return nil, protocolError(op, resp.StatusCode(), body, nil)
	}

	var out initiateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, protocolError(op, resp.StatusCode(), body, err)
	}
	if out.Pidx == "" || out.PaymentURL == "" {
		return nil, protocolError(op, resp.StatusCode(), body, fmt.Errorf("missing pidx or payment_url"))
	}

	log.Printf("[GATEWAY] initiate order=%s pidx=%s", req.PurchaseOrderID, out.Pidx)

	return &InitiateResult{
		ProviderReference: out.Pidx,
		PaymentURL:        out.PaymentURL,
		ExpiresAt:         out.ExpiresAt,
		Raw:               body,
	}, nil
}

// Lookup asks the provider for the authoritative status of a payment.
// A legitimate non-success status is returned as a result, not as an error.
func (c *Client) Lookup(ctx context.Context, providerReference string) (*LookupResult, error) {
	const op = "lookup"

	if providerReference == "" {
		return nil, ErrInvalidReference
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(lookupRequest{Pidx: providerReference}).
		Post(lookupPath)
	if err != nil {
		log.Printf("[GATEWAY] lookup pidx=%s failed: %v", providerReference, err)
		return nil, networkError(op, err)
	}

	body := resp.Body()
	status := resp.StatusCode()

	var out lookupResponse
	decodeErr := json.Unmarshal(body, &out)

	if !resp.IsSuccess() {
		// Khalti answers expired or canceled payments with a 4xx that still
		// carries the lookup payload. That payload is authoritative.
		if status >= http.StatusBadRequest && status < http.StatusInternalServerError &&
			status != http.StatusTooManyRequests && decodeErr == nil && out.Status != "" {
			return lookupResult(out, body), nil
		}
		log.Printf("[GATEWAY] lookup pidx=%s rejected: status=%d", providerReference, status)
		return nil, protocolError(op, status, body, nil)
	}

	if decodeErr != nil {
		return nil, protocolError(op, status, body, decodeErr)
	}
	if out.Status == "" {
		return nil, protocolError(op, status, body, fmt.Errorf("missing status"))
	}

	result := lookupResult(out, body)
	log.Printf("[GATEWAY] lookup pidx=%s status=%s", providerReference, result.Status)

	return result, nil
}

// Refund asks the provider to refund a settled payment.
func (c *Client) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	const op = "refund"

	if req.ProviderReference == "" {
		return nil, ErrInvalidReference
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(refundRequest{
			Pidx:   req.ProviderReference,
			Amount: req.AmountMinorUnits,
			Reason: req.Reason,
		}).
		Post(refundPath)
	if err != nil {
		log.Printf("[GATEWAY] refund pidx=%s failed: %v", req.ProviderReference, err)
		return nil, networkError(op, err)
	}

	body := resp.Body()
	if !resp.IsSuccess() {
		log.Printf("[GATEWAY] refund pidx=%s rejected: status=%d", req.ProviderReference, resp.StatusCode())
		return nil, protocolError(op, resp.StatusCode(), body, nil)
	}

	var out refundResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, protocolError(op, resp.StatusCode(), body, err)
	}

	log.Printf("[GATEWAY] refund pidx=%s refund_id=%s", req.ProviderReference, out.RefundID)

	return &RefundResult{RefundID: out.RefundID, Raw: body}, nil
}

func lookupResult(out lookupResponse, body []byte) *LookupResult {
	result := &LookupResult{
		Status:                ParseStatus(out.Status),
		RawStatus:             out.Status,
		TotalAmountMinorUnits: out.TotalAmount,
		Raw:                   body,
	}
	if out.TransactionID != nil {
		result.ProviderTransactionID = *out.TransactionID
	}
	return result
}
