/**
 * @description
 * This package defines the abstract contract the payment orchestrator uses to
 * talk to a card-payment gateway. Two concrete variants implement it: the
 * redirect/signature style PayFast integration (pkg/gateway/payfast) and the
 * tokenized intent/capture style Stripe integration (pkg/gateway/stripe).
 * The variant is chosen once at startup from configuration, never per request.
 */

package gateway

import (
	"context"
	"errors"
)

var (
	// ErrSignatureInvalid is returned when an inbound notification fails its
	// authenticity check. Callers must reject the request without mutating
	// any state.
	ErrSignatureInvalid = errors.New("inbound notification signature invalid")

	// ErrUnavailable is returned when the gateway could not be reached or
	// timed out. The operation is safe to retry as a whole.
	ErrUnavailable = errors.New("payment gateway unavailable")
)

// Payable purpose values, carried in gateway metadata so inbound
// notifications can be routed without local lookups.
const (
	PurposeJobPayment    = "job_payment"
	PurposeFeeSettlement = "fee_settlement"
)

// Notification status values reported by VerifyInboundEvent.
const (
	StatusComplete  = "complete"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// PayableRequest describes a charge the orchestrator wants the gateway to
// prepare. Reference is the service-assigned payment id (e.g. JOB_<id>_<ts>)
// and is echoed back on inbound notifications.
type PayableRequest struct {
	Reference     string
	Purpose       string
	Amount        int64 // in cents
	Currency      string
	CustomerName  string
	CustomerEmail string
	CustomerRef   string // tokenized-gateway customer id, if already known
	ItemName      string
	ItemNote      string
	Metadata      map[string]string
}

// Payable is a gateway-side handle for an authorized-but-not-yet-captured
// (or about-to-be-redirected) payment. Exactly one of the two completion
// channels is populated: RedirectURL+Fields for the redirect variant,
// ClientSecret for the tokenized variant.
type Payable struct {
	Reference    string // gateway intent id or echoed service reference
	RedirectURL  string
	Fields       map[string]string
	ClientSecret string
}

// Settlement reports a completed capture.
type Settlement struct {
	Reference string // the payable reference that was captured
	ChargeRef string // provider settlement/charge id
	Amount    int64  // captured amount in cents
}

// InboundEvent is the raw material of a gateway-initiated notification:
// either form-encoded fields carrying their own signature field, or a raw
// JSON body plus a signature header.
type InboundEvent struct {
	Fields          map[string]string
	RawBody         []byte
	SignatureHeader string
}

// Notification is a verified, gateway-agnostic view of an inbound event.
type Notification struct {
	Reference string // service payment reference (m_payment_id / intent metadata)
	ChargeRef string // provider settlement id, when reported
	Purpose   string
	Status    string
	UserID    string // fee settlements: the account being settled
	JobID     string // job payments: the job the payment belongs to
	Amount    int64  // in cents, when reported
	Reason    string // provider failure detail, when reported
}

// CustomerProvisioner is implemented by variants that hold a server-side
// customer object per payer (the tokenized variant). The redirect variant
// identifies payers per payment form and does not implement it.
type CustomerProvisioner interface {
	CreateOrReuseCustomer(ctx context.Context, name, email, existingRef string) (string, error)
}

// PayoutProvisioner is implemented by variants that onboard payout accounts
// through the gateway itself.
type PayoutProvisioner interface {
	CreatePayoutAccount(ctx context.Context, email, refreshURL, returnURL string) (accountRef, onboardingURL string, err error)
}

// PayableCanceller is implemented by variants that hold server-side payment
// objects which must be voided when the local payment cycle never opens.
// The redirect variant prepares nothing server-side and does not implement it.
type PayableCanceller interface {
	CancelPayable(ctx context.Context, reference string) error
}

// Gateway is the capability set the orchestrator depends on.
type Gateway interface {
	// Name identifies the configured variant (payfast, stripe).
	Name() string

	// InitiatePayable prepares a charge for the given request. For the
	// redirect variant this is pure computation; for the tokenized variant
	// it creates a manual-capture intent server-side.
	InitiatePayable(ctx context.Context, req PayableRequest) (*Payable, error)

	// FinalizePayable converts an authorized hold into a funds transfer.
	// The redirect variant has no capture API; funds moved when the
	// notification reported completion, so it returns the settlement as
	// already reported.
	FinalizePayable(ctx context.Context, reference string) (*Settlement, error)

	// VerifyInboundEvent authenticates a gateway-initiated notification and
	// normalizes it. Returns ErrSignatureInvalid when the material fails the
	// authenticity check; no state may be mutated in that case.
	VerifyInboundEvent(event InboundEvent) (*Notification, error)
}
