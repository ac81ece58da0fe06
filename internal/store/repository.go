/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations required by the payment-service. By defining
 * an interface, we decouple the orchestration logic from the specific
 * database implementation (e.g., PostgreSQL), making the code more modular
 * and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/oddjobs/payment-service/internal/domain"
)

// InitiateJobPaymentParams bundles the writes applied atomically when a
// payment cycle is opened: the conditional job claim, the ledger insert,
// and (cash only) the eager fee debit on the poster.
type InitiateJobPaymentParams struct {
	Job             *domain.Job
	Transaction     *domain.Transaction
	PaymentIntentID *string // set on the job for card payments
	EagerFeeAmount  int64   // added to the poster's fee_due for cash payments
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// User and job reads
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	FindJobByID(ctx context.Context, jobID uuid.UUID) (*domain.Job, error)

	// Gateway references held on the user record
	SetUserGatewayCustomerID(ctx context.Context, userID uuid.UUID, customerRef string) error
	SetUserGatewayAccountID(ctx context.Context, userID uuid.UUID, accountRef string) error
	SetUserPayoutBankDetails(ctx context.Context, userID uuid.UUID, details domain.PayoutAccountRequest) error

	// Payment cycle writes; all multi-row mutations are atomic
	InitiateJobPayment(ctx context.Context, params InitiateJobPaymentParams) error
	CreateFeeSettlementTransaction(ctx context.Context, tx *domain.Transaction) error
	SetJobConfirmationCodeHash(ctx context.Context, jobID uuid.UUID, hash string) error

	// Ledger transitions
	MarkTransactionAuthorized(ctx context.Context, gatewayPaymentID, gatewayChargeID string) (*domain.Transaction, error)
	MarkTransactionFailed(ctx context.Context, gatewayPaymentID, reason string) (*domain.Transaction, error)
	CaptureJobPayment(ctx context.Context, transactionID, jobID uuid.UUID, gatewayChargeID *string, completedAt time.Time) error
	SettleOutstandingFees(ctx context.Context, userID uuid.UUID, gatewayPaymentID, gatewayChargeID string) error
	ExpireStalePendingCardPayments(ctx context.Context, cutoff time.Time) ([]domain.Transaction, error)

	// Ledger lookups; inbound notifications carry only the gateway reference
	FindTransactionByJobID(ctx context.Context, jobID uuid.UUID) (*domain.Transaction, error)
	FindTransactionByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*domain.Transaction, error)
}
