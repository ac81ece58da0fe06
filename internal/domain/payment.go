/**
 * @description
 * This file defines the core domain models for the payment-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (cents),
 *   which avoids floating-point inaccuracies with financial data.
 * - Job and User rows are owned by the marketplace CRUD services; this
 *   service reads and mutates only the payment-relevant subset of fields.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transaction status values. The ledger permits pending -> authorized ->
// captured, with failed reachable from pending or authorized. captured,
// refunded and failed are terminal.
const (
	TxStatusPending    = "pending"
	TxStatusAuthorized = "authorized"
	TxStatusCaptured   = "captured"
	TxStatusRefunded   = "refunded"
	TxStatusFailed     = "failed"
)

// Payment method values.
const (
	MethodCard = "card"
	MethodCash = "cash"
)

// Job status values mutated by this service.
const (
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
)

// Transaction is the central ledger record for one money movement attempt,
// tied either to a job payment or to a platform-fee settlement.
// This struct maps directly to the `transactions` table.
type Transaction struct {
	ID               uuid.UUID  `json:"id"`
	JobID            *uuid.UUID `json:"job_id,omitempty"` // nil for fee-only settlements
	FromUserID       uuid.UUID  `json:"from_user_id"`
	ToUserID         *uuid.UUID `json:"to_user_id,omitempty"` // nil for fee-only settlements
	Amount           int64      `json:"amount"`               // in cents
	FeeAmount        int64      `json:"fee_amount"`           // platform fee in cents, 0 <= fee <= amount
	PaymentMethod    string     `json:"payment_method"`
	GatewayPaymentID *string    `json:"gateway_payment_id,omitempty"` // provider intent / m_payment_id
	GatewayChargeID  *string    `json:"gateway_charge_id,omitempty"`  // provider settlement reference
	Status           string     `json:"status"`
	FailureReason    *string    `json:"failure_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Job is the payment-relevant view of a marketplace job.
type Job struct {
	ID                   uuid.UUID  `json:"id"`
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	Price                int64      `json:"price"` // in cents
	Currency             string     `json:"currency"`
	PosterID             uuid.UUID  `json:"poster_id"`
	WorkerID             *uuid.UUID `json:"worker_id,omitempty"`
	Status               string     `json:"status"`
	PaymentMethod        *string    `json:"payment_method,omitempty"`
	PaymentIntentID      *string    `json:"payment_intent_id,omitempty"`
	ConfirmationCodeHash *string    `json:"-"`
	Paid                 bool       `json:"paid"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// User is the payment-relevant view of a marketplace user.
type User struct {
	ID                uuid.UUID  `json:"id"`
	Email             string     `json:"email"`
	FullName          string     `json:"full_name"`
	FeeDue            int64      `json:"fee_due"` // outstanding platform fees in cents
	AccountLocked     bool       `json:"account_locked"`
	FreeTrialEndsAt   *time.Time `json:"free_trial_ends_at,omitempty"`
	GatewayCustomerID *string    `json:"gateway_customer_id,omitempty"` // tokenized-gateway customer ref
	GatewayAccountID  *string    `json:"gateway_account_id,omitempty"`  // tokenized-gateway payout account ref
	CreatedAt         time.Time  `json:"created_at"`
}

// InitiatePaymentRequest is the DTO for starting a payment cycle on a job.
type InitiatePaymentRequest struct {
	JobID         uuid.UUID `json:"job_id"`
	PaymentMethod string    `json:"payment_method"` // card | cash
}

// InitiatePaymentResult is returned to the poster after a payment cycle has
// been opened. For the redirect-style gateway the caller posts RedirectFields
// to RedirectURL from the browser; for the tokenized gateway ClientSecret is
// used to confirm the intent client-side. Cash payments carry neither.
type InitiatePaymentResult struct {
	TransactionID  uuid.UUID         `json:"transaction_id"`
	PaymentMethod  string            `json:"payment_method"`
	PaymentID      string            `json:"payment_id,omitempty"`
	Amount         int64             `json:"amount"`
	FeeAmount      int64             `json:"fee_amount"`
	RedirectURL    string            `json:"redirect_url,omitempty"`
	RedirectFields map[string]string `json:"redirect_fields,omitempty"`
	ClientSecret   string            `json:"client_secret,omitempty"`
	Message        string            `json:"message,omitempty"`
}

// ConfirmPaymentRequest is the DTO for the poster's confirm-and-capture call.
type ConfirmPaymentRequest struct {
	JobID            uuid.UUID `json:"job_id"`
	ConfirmationCode string    `json:"confirmation_code"`
}

// ConfirmPaymentResult reports the finalized payment cycle.
type ConfirmPaymentResult struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Status        string    `json:"status"`
	FeeDue        int64     `json:"fee_due"`
	Message       string    `json:"message"`
}

// FeeSettlementResult is returned when a user starts settling outstanding fees.
type FeeSettlementResult struct {
	TransactionID  uuid.UUID         `json:"transaction_id"`
	PaymentID      string            `json:"payment_id"`
	Amount         int64             `json:"amount"`
	RedirectURL    string            `json:"redirect_url,omitempty"`
	RedirectFields map[string]string `json:"redirect_fields,omitempty"`
	ClientSecret   string            `json:"client_secret,omitempty"`
}

// PayoutAccountRequest carries worker payout details.
// Bank fields are used by the redirect-style gateway; the tokenized gateway
// provisions a connected account instead and returns an onboarding URL.
type PayoutAccountRequest struct {
	BankName      string `json:"bank_name,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	AccountType   string `json:"account_type,omitempty"`
	BranchCode    string `json:"branch_code,omitempty"`
}

// PayoutAccountResult reports the provisioned payout destination.
type PayoutAccountResult struct {
	AccountRef    string `json:"account_ref,omitempty"`
	OnboardingURL string `json:"onboarding_url,omitempty"`
	Message       string `json:"message"`
}

// PaymentInitiatedEvent is published when a payment cycle is opened.
type PaymentInitiatedEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	JobID         uuid.UUID `json:"job_id"`
	PosterID      uuid.UUID `json:"poster_id"`
	Amount        int64     `json:"amount"`
	FeeAmount     int64     `json:"fee_amount"`
	PaymentMethod string    `json:"payment_method"`
	Timestamp     time.Time `json:"timestamp"`
}

// PaymentStatusEvent is published when a ledger entry changes status.
type PaymentStatusEvent struct {
	TransactionID uuid.UUID  `json:"transaction_id"`
	JobID         *uuid.UUID `json:"job_id,omitempty"`
	Status        string     `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

// FeeSettledEvent is published when a user's outstanding fees are cleared.
type FeeSettledEvent struct {
	UserID    uuid.UUID `json:"user_id"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// ConfirmationCodeIssuedEvent carries a freshly issued confirmation code to
// the notification collaborator (SMS/email). The plaintext code travels only
// on this channel, never in an API response.
type ConfirmationCodeIssuedEvent struct {
	JobID       uuid.UUID `json:"job_id"`
	JobTitle    string    `json:"job_title"`
	PosterID    uuid.UUID `json:"poster_id"`
	PosterEmail string    `json:"poster_email"`
	Code        string    `json:"code"`
	Timestamp   time.Time `json:"timestamp"`
}
