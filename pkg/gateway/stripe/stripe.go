/**
 * @description
 * Stripe integration: the tokenized intent/capture style gateway variant.
 * It encapsulates the logic for making authenticated server-to-server calls
 * to Stripe's form-encoded API, handling request construction, response
 * parsing, and webhook signature verification.
 *
 * Payment intents are created with manual capture semantics: funds are
 * authorized when the payer confirms client-side, and moved only when the
 * orchestrator captures after the poster confirms job completion.
 */

package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oddjobs/payment-service/pkg/gateway"
)

const defaultBaseURL = "https://api.stripe.com"

// signatureTolerance bounds how old a webhook timestamp may be before the
// event is rejected as a potential replay.
const signatureTolerance = 5 * time.Minute

// Client is a client for the Stripe API implementing gateway.Gateway.
type Client struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	HTTPClient    *http.Client

	now func() time.Time // test seam for signature tolerance checks
}

// NewClient creates a new Stripe API client.
func NewClient(secretKey, webhookSecret string) *Client {
	return &Client{
		BaseURL:       defaultBaseURL,
		SecretKey:     secretKey,
		WebhookSecret: webhookSecret,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
}

// Name identifies the variant.
func (c *Client) Name() string { return "stripe" }

// intentResponse is the subset of a PaymentIntent this service reads.
type intentResponse struct {
	ID             string `json:"id"`
	ClientSecret   string `json:"client_secret"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	AmountReceived int64  `json:"amount_received"`
	LatestCharge   string `json:"latest_charge"`
}

type customerResponse struct {
	ID string `json:"id"`
}

type accountResponse struct {
	ID string `json:"id"`
}

type accountLinkResponse struct {
	URL string `json:"url"`
}

// errorResponse represents an error from the Stripe API.
type errorResponse struct {
	Err struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *errorResponse) Error() string {
	if e.Err.Message != "" {
		return fmt.Sprintf("stripe api error: %s - %s", e.Err.Code, e.Err.Message)
	}
	return "unknown stripe api error"
}

// do executes an authenticated form-encoded POST (or GET when form is nil)
// and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, form url.Values, out interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read stripe response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp errorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=stripe_client path=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, resp.StatusCode)
			return fmt.Errorf("failed to decode stripe error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=stripe_client path=%s status=%d code=%q msg=%q", path, resp.StatusCode, errResp.Err.Code, errResp.Err.Message)
		return &errResp
	}

	if out != nil {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("failed to decode stripe response: %w", err)
		}
	}
	return nil
}

// InitiatePayable creates a manual-capture payment intent sized to the
// request. The Idempotency-Key is derived from the service payment reference
// so a retried or raced initiation cannot create a second intent.
func (c *Client) InitiatePayable(ctx context.Context, req gateway.PayableRequest) (*gateway.Payable, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("capture_method", "manual")
	form.Set("description", req.ItemName)
	if req.CustomerRef != "" {
		form.Set("customer", req.CustomerRef)
	}
	form.Set("metadata[reference]", req.Reference)
	form.Set("metadata[purpose]", req.Purpose)
	for key, value := range req.Metadata {
		form.Set("metadata["+key+"]", value)
	}

	var intent intentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", req.Reference, form, &intent); err != nil {
		return nil, err
	}

	return &gateway.Payable{
		Reference:    intent.ID,
		ClientSecret: intent.ClientSecret,
	}, nil
}

// FinalizePayable captures a previously authorized payment intent.
func (c *Client) FinalizePayable(ctx context.Context, reference string) (*gateway.Settlement, error) {
	var intent intentResponse
	path := "/v1/payment_intents/" + reference + "/capture"
	if err := c.do(ctx, http.MethodPost, path, "", url.Values{}, &intent); err != nil {
		return nil, err
	}
	return &gateway.Settlement{
		Reference: reference,
		ChargeRef: intent.LatestCharge,
		Amount:    intent.AmountReceived,
	}, nil
}

// CancelPayable voids an intent that will never be completed, releasing any
// hold the payer's bank placed.
func (c *Client) CancelPayable(ctx context.Context, reference string) error {
	path := "/v1/payment_intents/" + reference + "/cancel"
	return c.do(ctx, http.MethodPost, path, "", url.Values{}, nil)
}

// CreateOrReuseCustomer returns the existing customer reference when one is
// already on file, otherwise provisions a new Stripe customer.
func (c *Client) CreateOrReuseCustomer(ctx context.Context, name, email, existingRef string) (string, error) {
	if existingRef != "" {
		return existingRef, nil
	}
	form := url.Values{}
	form.Set("name", name)
	form.Set("email", email)

	var customer customerResponse
	if err := c.do(ctx, http.MethodPost, "/v1/customers", "", form, &customer); err != nil {
		return "", err
	}
	return customer.ID, nil
}

// CreatePayoutAccount provisions an Express connected account for a worker
// and returns the hosted onboarding URL they must complete before payouts.
func (c *Client) CreatePayoutAccount(ctx context.Context, email, refreshURL, returnURL string) (string, string, error) {
	form := url.Values{}
	form.Set("type", "express")
	form.Set("email", email)

	var account accountResponse
	if err := c.do(ctx, http.MethodPost, "/v1/accounts", "", form, &account); err != nil {
		return "", "", err
	}

	linkForm := url.Values{}
	linkForm.Set("account", account.ID)
	linkForm.Set("refresh_url", refreshURL)
	linkForm.Set("return_url", returnURL)
	linkForm.Set("type", "account_onboarding")

	var link accountLinkResponse
	if err := c.do(ctx, http.MethodPost, "/v1/account_links", "", linkForm, &link); err != nil {
		return "", "", err
	}

	return account.ID, link.URL, nil
}

// webhookEvent is the subset of a Stripe event envelope this service reads.
type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID           string            `json:"id"`
			Status       string            `json:"status"`
			Amount       int64             `json:"amount"`
			LatestCharge string            `json:"latest_charge"`
			Metadata     map[string]string `json:"metadata"`
			LastPaymentError struct {
				Message string `json:"message"`
			} `json:"last_payment_error"`
		} `json:"object"`
	} `json:"data"`
}

// verifySignatureHeader checks the `t=<ts>,v1=<hmac>` header against the raw
// payload: HMAC-SHA256 over "<ts>.<payload>" with the webhook secret, plus a
// replay tolerance window on the timestamp.
func (c *Client) verifySignatureHeader(payload []byte, header string) error {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		pair := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(pair) != 2 {
			continue
		}
		switch pair[0] {
		case "t":
			timestamp = pair[1]
		case "v1":
			signatures = append(signatures, pair[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return gateway.ErrSignatureInvalid
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return gateway.ErrSignatureInvalid
	}
	age := c.now().Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return gateway.ErrSignatureInvalid
	}

	mac := hmac.New(sha256.New, []byte(c.WebhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(expected), []byte(signature)) {
			return nil
		}
	}
	return gateway.ErrSignatureInvalid
}

// SignPayload produces a valid signature header for a payload. Exposed for
// use by tests and local tooling that exercise the webhook endpoint.
func (c *Client) SignPayload(payload []byte, at time.Time) string {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(c.WebhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "t=" + timestamp + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyInboundEvent authenticates a webhook delivery and normalizes it.
func (c *Client) VerifyInboundEvent(event gateway.InboundEvent) (*gateway.Notification, error) {
	if err := c.verifySignatureHeader(event.RawBody, event.SignatureHeader); err != nil {
		return nil, err
	}

	var envelope webhookEvent
	if err := json.Unmarshal(event.RawBody, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}

	object := envelope.Data.Object
	// The ledger stores the intent id as its gateway reference, so the
	// notification must carry the intent id too. The service reference in
	// metadata is only a fallback for events without an intent object.
	notification := &gateway.Notification{
		Reference: object.ID,
		ChargeRef: object.LatestCharge,
		Purpose:   object.Metadata["purpose"],
		UserID:    object.Metadata["user_id"],
		JobID:     object.Metadata["job_id"],
		Amount:    object.Amount,
	}
	if notification.Reference == "" {
		notification.Reference = object.Metadata["reference"]
	}

	switch envelope.Type {
	case "payment_intent.amount_capturable_updated", "payment_intent.succeeded":
		notification.Status = gateway.StatusComplete
	case "payment_intent.canceled":
		notification.Status = gateway.StatusCancelled
		notification.Reason = "payment cancelled"
	case "payment_intent.payment_failed":
		notification.Status = gateway.StatusFailed
		notification.Reason = object.LastPaymentError.Message
		if notification.Reason == "" {
			notification.Reason = "payment failed"
		}
	default:
		// Verified but not something this service acts on.
		notification.Status = ""
	}

	return notification, nil
}
