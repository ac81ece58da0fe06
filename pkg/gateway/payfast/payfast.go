/**
 * @description
 * PayFast integration: the redirect/signature style gateway variant. The
 * charge itself is completed by the payer's browser posting a signed form to
 * PayFast, so InitiatePayable is pure computation here. Authenticity of
 * inbound ITN (Instant Transaction Notification) callbacks rests entirely on
 * the MD5 checksum over the notification fields; there is no transport-level
 * authentication, which makes the canonicalization rules security-critical.
 *
 * Canonicalization: keys sorted, empty values and the signature field
 * skipped, each value trimmed and URL-encoded with space as `+`, pairs
 * joined with `&`, optional `&passphrase=<urlencoded>` appended, MD5 hex
 * digest over the result.
 */

package payfast

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/oddjobs/payment-service/pkg/gateway"
)

const (
	sandboxURL = "https://sandbox.payfast.co.za/eng/process"
	liveURL    = "https://www.payfast.co.za/eng/process"
)

// Config holds the merchant credentials and callback URLs for PayFast.
// It is immutable after construction; mode selection happens here, once.
type Config struct {
	MerchantID  string
	MerchantKey string
	Passphrase  string
	Mode        string // sandbox | live
	ReturnURL   string
	CancelURL   string
	NotifyURL   string
}

// Client implements gateway.Gateway for PayFast.
type Client struct {
	cfg Config
}

// New creates a PayFast gateway client from an immutable config value.
func New(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// Name identifies the variant.
func (c *Client) Name() string { return "payfast" }

// ProcessURL returns the form target for the configured mode.
func (c *Client) ProcessURL() string {
	if c.cfg.Mode == "live" {
		return liveURL
	}
	return sandboxURL
}

// encode URL-encodes a trimmed value with space as `+`.
func encode(value string) string {
	return url.QueryEscape(strings.TrimSpace(value))
}

// Signature computes the MD5 checksum over the canonicalized fields. The
// `signature` key is always excluded so the same function serves both form
// generation and ITN verification.
func (c *Client) Signature(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		if key == "signature" || fields[key] == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(encode(fields[key]))
	}
	if c.cfg.Passphrase != "" {
		b.WriteString("&passphrase=")
		b.WriteString(encode(c.cfg.Passphrase))
	}

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// VerifyInboundNotification recomputes the checksum over the fields (with
// the signature key excluded) and compares it byte-for-byte with the
// provided signature.
func (c *Client) VerifyInboundNotification(fields map[string]string, providedSignature string) bool {
	expected := c.Signature(fields)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(providedSignature)) == 1
}

// formatAmount renders cents as a decimal string the way PayFast expects.
func formatAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// splitName derives the first-word / remaining-words name fields PayFast
// requires. This is a formatting detail local to this variant.
func splitName(fullName string) (first, last string) {
	parts := strings.Fields(fullName)
	if len(parts) == 0 {
		return "User", "User"
	}
	first = parts[0]
	last = strings.Join(parts[1:], " ")
	if last == "" {
		last = "User"
	}
	return first, last
}

// InitiatePayable builds the signed form the payer's browser posts to
// PayFast. Pure computation: the redirect happens in the external UI layer.
func (c *Client) InitiatePayable(_ context.Context, req gateway.PayableRequest) (*gateway.Payable, error) {
	first, last := splitName(req.CustomerName)

	fields := map[string]string{
		"merchant_id":      c.cfg.MerchantID,
		"merchant_key":     c.cfg.MerchantKey,
		"return_url":       c.cfg.ReturnURL,
		"cancel_url":       c.cfg.CancelURL,
		"notify_url":       c.cfg.NotifyURL,
		"name_first":       first,
		"name_last":        last,
		"email_address":    req.CustomerEmail,
		"m_payment_id":     req.Reference,
		"amount":           formatAmount(req.Amount),
		"item_name":        req.ItemName,
		"item_description": req.ItemNote,
	}

	switch req.Purpose {
	case gateway.PurposeFeeSettlement:
		fields["custom_str1"] = req.Metadata["user_id"]
		fields["custom_str2"] = "platform_fee"
	default:
		fields["custom_str1"] = req.Metadata["job_id"]
		fields["custom_str2"] = req.Metadata["poster_id"]
		fields["custom_str3"] = req.Metadata["worker_id"]
		fields["custom_int1"] = req.Metadata["fee_amount"]
	}

	fields["signature"] = c.Signature(fields)

	return &gateway.Payable{
		Reference:   req.Reference,
		RedirectURL: c.ProcessURL(),
		Fields:      fields,
	}, nil
}

// FinalizePayable is a no-op for PayFast: funds moved when the ITN reported
// completion, so capture is purely a local ledger transition. The settlement
// reference was recorded when the ITN arrived.
func (c *Client) FinalizePayable(_ context.Context, reference string) (*gateway.Settlement, error) {
	return &gateway.Settlement{Reference: reference}, nil
}

// VerifyInboundEvent authenticates an ITN callback and normalizes it.
func (c *Client) VerifyInboundEvent(event gateway.InboundEvent) (*gateway.Notification, error) {
	fields := event.Fields
	if fields == nil {
		return nil, gateway.ErrSignatureInvalid
	}
	provided, ok := fields["signature"]
	if !ok || provided == "" {
		return nil, gateway.ErrSignatureInvalid
	}
	if !c.VerifyInboundNotification(fields, provided) {
		return nil, gateway.ErrSignatureInvalid
	}

	reference := fields["m_payment_id"]
	notification := &gateway.Notification{
		Reference: reference,
		ChargeRef: fields["pf_payment_id"],
	}

	switch fields["payment_status"] {
	case "COMPLETE":
		notification.Status = gateway.StatusComplete
	case "CANCELLED":
		notification.Status = gateway.StatusCancelled
		notification.Reason = "payment cancelled"
	default:
		notification.Status = gateway.StatusFailed
		notification.Reason = "payment " + strings.ToLower(fields["payment_status"])
	}

	// The payment reference prefix encodes the payable purpose.
	switch {
	case strings.HasPrefix(reference, "FEE_"):
		notification.Purpose = gateway.PurposeFeeSettlement
		notification.UserID = fields["custom_str1"]
	default:
		notification.Purpose = gateway.PurposeJobPayment
		notification.JobID = fields["custom_str1"]
	}

	if gross := strings.TrimSpace(fields["amount_gross"]); gross != "" {
		if value, err := strconv.ParseFloat(gross, 64); err == nil {
			notification.Amount = int64(value*100 + 0.5)
		}
	}

	return notification, nil
}
