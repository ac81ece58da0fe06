/**
 * @description
 * This file contains the core business logic for the payment-service. The
 * Service struct orchestrates payment cycles end to end: opening them against
 * the ledger, gating on outstanding platform fees, talking to the configured
 * card gateway, reacting to gateway notifications, and capturing funds once
 * the poster confirms job completion with the worker's code.
 *
 * @dependencies
 * - internal/store: For database operations via the Repository interface.
 * - pkg/gateway: For the configured card gateway variant.
 * - pkg/rabbitmq: For publishing lifecycle events.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/oddjobs/payment-service/internal/domain"
	"github.com/oddjobs/payment-service/internal/store"
	"github.com/oddjobs/payment-service/pkg/gateway"
	"github.com/oddjobs/payment-service/pkg/rabbitmq"
)

// eventsExchange is the topic exchange all lifecycle events are published to.
const eventsExchange = "oddjobs.events"

var (
	// ErrForbidden is returned when the caller does not own the resource the
	// operation acts on.
	ErrForbidden = errors.New("caller is not permitted to act on this resource")

	// ErrInvalidState is returned when the job or ledger entry is not in a
	// state that permits the requested operation.
	ErrInvalidState = errors.New("operation not permitted in the current state")

	// ErrInvalidCode is returned when a presented confirmation code does not
	// match the stored hash.
	ErrInvalidCode = errors.New("confirmation code is incorrect")

	// ErrInvalidPaymentMethod is returned for payment methods other than
	// card or cash.
	ErrInvalidPaymentMethod = errors.New("payment method must be card or cash")
)

// FeesOutstandingError blocks new payment cycles until the poster settles
// their outstanding platform fees. It carries the amount due so the API layer
// can tell the caller what to pay.
type FeesOutstandingError struct {
	AmountDue int64
}

func (e *FeesOutstandingError) Error() string {
	return fmt.Sprintf("outstanding platform fees of %d cents must be settled first", e.AmountDue)
}

// Deduper suppresses redundant processing of replayed gateway notifications.
// Processing is idempotent without it; the deduper only saves work.
type Deduper interface {
	// Seen records the key and reports whether it had been recorded before.
	Seen(ctx context.Context, key string) (bool, error)
}

// Service provides payment orchestration operations.
type Service struct {
	repo            store.Repository
	gateway         gateway.Gateway
	producer        rabbitmq.Publisher
	dedup           Deduper
	feePolicy       domain.FeePolicy
	callbackBaseURL string

	now func() time.Time // test seam
}

// NewService creates a new payment service. producer must be non-nil (use the
// rabbitmq fallback when the broker is down); dedup may be nil.
func NewService(repo store.Repository, gw gateway.Gateway, producer rabbitmq.Publisher, dedup Deduper, feePolicy domain.FeePolicy, callbackBaseURL string) *Service {
	return &Service{
		repo:            repo,
		gateway:         gw,
		producer:        producer,
		dedup:           dedup,
		feePolicy:       feePolicy,
		callbackBaseURL: callbackBaseURL,
		now:             time.Now,
	}
}

// paymentReference builds the service-assigned payment id echoed back on
// gateway notifications, e.g. JOB_<jobID>_<nanos> or FEE_<userID>_<nanos>.
func (s *Service) paymentReference(prefix string, id uuid.UUID) string {
	return fmt.Sprintf("%s_%s_%d", prefix, id, s.now().UnixNano())
}

// publish sends a lifecycle event. Publishing is best-effort: a broker
// failure is logged but never fails the payment operation itself.
func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if err := s.producer.Publish(ctx, eventsExchange, routingKey, body); err != nil {
		log.Printf("level=error component=payment_service msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

// ensureGatewayCustomer provisions (or reuses) a gateway-side customer for
// the payer on variants that hold one, persisting a newly issued reference.
func (s *Service) ensureGatewayCustomer(ctx context.Context, user *domain.User) (string, error) {
	provisioner, ok := s.gateway.(gateway.CustomerProvisioner)
	if !ok {
		return "", nil
	}
	existing := ""
	if user.GatewayCustomerID != nil {
		existing = *user.GatewayCustomerID
	}
	customerRef, err := provisioner.CreateOrReuseCustomer(ctx, user.FullName, user.Email, existing)
	if err != nil {
		return "", err
	}
	if customerRef != existing {
		if err := s.repo.SetUserGatewayCustomerID(ctx, user.ID, customerRef); err != nil {
			return "", err
		}
	}
	return customerRef, nil
}

// cancelOrphanPayable voids a gateway payable that lost the race for its
/// ledger entry. Best-effort: a failed cancel is logged and the orphan expires
// at the gateway on its own.
func (s *Service) cancelOrphanPayable(ctx context.Context, reference string) {
	canceller, ok := s.gateway.(gateway.PayableCanceller)
	if !ok {
		return
	}
	if err := canceller.CancelPayable(ctx, reference); err != nil {
		log.Printf("level=warn component=payment_service msg=\"orphan payable cancel failed\" reference=%s err=%v", reference, err)
		return
	}
	log.Printf("level=info component=payment_service msg=\"orphan payable cancelled\" reference=%s", reference)
}

// InitiatePayment opens a payment cycle on a job for its poster. Outstanding
// platform fees block initiation for both methods, before any gateway call.
// Cash payments charge the platform fee eagerly to the poster's balance; card
// payments prepare a gateway payable and record the fee on the ledger entry.
func (s *Service) InitiatePayment(ctx context.Context, posterID uuid.UUID, req domain.InitiatePaymentRequest) (*domain.InitiatePaymentResult, error) {
	if req.PaymentMethod != domain.MethodCard && req.PaymentMethod != domain.MethodCash {
		return nil, ErrInvalidPaymentMethod
	}

	job, err := s.repo.FindJobByID(ctx, req.JobID)
	if err != nil {
		return nil, err
	}
	if job.PosterID != posterID {
		return nil, ErrForbidden
	}
	if job.WorkerID == nil || job.Status != domain.JobStatusInProgress {
		return nil, ErrInvalidState
	}

	poster, err := s.repo.FindUserByID(ctx, posterID)
	if err != nil {
		return nil, err
	}
	if poster.FeeDue > 0 {
		return nil, &FeesOutstandingError{AmountDue: poster.FeeDue}
	}

	feeAmount := s.feePolicy.ComputeFee(job.Price, poster, s.now())

	tx := &domain.Transaction{
		ID:            uuid.New(),
		JobID:         &job.ID,
		FromUserID:    posterID,
		ToUserID:      job.WorkerID,
		Amount:        job.Price,
		FeeAmount:     feeAmount,
		PaymentMethod: req.PaymentMethod,
		Status:        domain.TxStatusPending,
	}

	result := &domain.InitiatePaymentResult{
		TransactionID: tx.ID,
		PaymentMethod: req.PaymentMethod,
		Amount:        job.Price,
		FeeAmount:     feeAmount,
	}

	params := store.InitiateJobPaymentParams{Job: job, Transaction: tx}

	if req.PaymentMethod == domain.MethodCash {
		// Cash moves hand to hand; the platform only tracks its fee, which
		// becomes due the moment the cycle opens.
		params.EagerFeeAmount = feeAmount
		result.Message = "cash payment recorded; platform fee added to your outstanding balance"
	} else {
		customerRef, err := s.ensureGatewayCustomer(ctx, poster)
		if err != nil {
			return nil, err
		}

		reference := s.paymentReference("JOB", job.ID)
		payable, err := s.gateway.InitiatePayable(ctx, gateway.PayableRequest{
			Reference:     reference,
			Purpose:       gateway.PurposeJobPayment,
			Amount:        job.Price,
			Currency:      job.Currency,
			CustomerName:  poster.FullName,
			CustomerEmail: poster.Email,
			CustomerRef:   customerRef,
			ItemName:      job.Title,
			ItemNote:      job.Description,
			Metadata: map[string]string{
				"job_id":     job.ID.String(),
				"poster_id":  job.PosterID.String(),
				"worker_id":  job.WorkerID.String(),
				"fee_amount": fmt.Sprintf("%d", feeAmount),
			},
		})
		if err != nil {
			return nil, err
		}

		tx.GatewayPaymentID = &payable.Reference
		params.PaymentIntentID = &payable.Reference
		result.PaymentID = payable.Reference
		result.RedirectURL = payable.RedirectURL
		result.RedirectFields = payable.Fields
		result.ClientSecret = payable.ClientSecret
	}

	if err := s.repo.InitiateJobPayment(ctx, params); err != nil {
		// A lost conditional claim leaves a freshly prepared payable with
		// no ledger entry behind it; void it at the gateway where possible.
		if req.PaymentMethod == domain.MethodCard && tx.GatewayPaymentID != nil {
			s.cancelOrphanPayable(ctx, *tx.GatewayPaymentID)
		}
		return nil, err
	}

	log.Printf("level=info component=payment_service msg=\"payment cycle opened\" job_id=%s method=%s amount=%d fee=%d", job.ID, req.PaymentMethod, job.Price, feeAmount)
	s.publish(ctx, "payment.initiated", domain.PaymentInitiatedEvent{
		TransactionID: tx.ID,
		JobID:         job.ID,
		PosterID:      job.PosterID,
		Amount:        job.Price,
		FeeAmount:     feeAmount,
		PaymentMethod: req.PaymentMethod,
		Timestamp:     s.now(),
	})

	return result, nil
}

// IssueConfirmationCode generates a one-time completion code on the worker's
// request and delivers the plaintext to the poster over the notification
// channel. The plaintext never appears in an API response; only the bcrypt
// hash is persisted.
func (s *Service) IssueConfirmationCode(ctx context.Context, workerID, jobID uuid.UUID) error {
	job, err := s.repo.FindJobByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.WorkerID == nil || *job.WorkerID != workerID {
		return ErrForbidden
	}
	if job.Status != domain.JobStatusInProgress {
		return ErrInvalidState
	}

	code, hash, err := domain.GenerateConfirmationCode()
	if err != nil {
		return err
	}
	if err := s.repo.SetJobConfirmationCodeHash(ctx, jobID, hash); err != nil {
		return err
	}

	poster, err := s.repo.FindUserByID(ctx, job.PosterID)
	if err != nil {
		return err
	}

	log.Printf("level=info component=payment_service msg=\"confirmation code issued\" job_id=%s", jobID)
	s.publish(ctx, "confirmation_code.issued", domain.ConfirmationCodeIssuedEvent{
		JobID:       job.ID,
		JobTitle:    job.Title,
		PosterID:    poster.ID,
		PosterEmail: poster.Email,
		Code:        code,
		Timestamp:   s.now(),
	})
	return nil
}

// ConfirmAndCapture finalizes a payment cycle: the poster presents the
// worker's confirmation code, funds are captured (card) or acknowledged
// (cash), and the job is marked completed and paid. Card captures require
// the ledger entry to be authorized by a gateway notification first.
func (s *Service) ConfirmAndCapture(ctx context.Context, posterID uuid.UUID, req domain.ConfirmPaymentRequest) (*domain.ConfirmPaymentResult, error) {
	job, err := s.repo.FindJobByID(ctx, req.JobID)
	if err != nil {
		return nil, err
	}
	if job.PosterID != posterID {
		return nil, ErrForbidden
	}
	if job.ConfirmationCodeHash == nil {
		return nil, ErrInvalidState
	}
	if !domain.VerifyConfirmationCode(*job.ConfirmationCodeHash, req.ConfirmationCode) {
		return nil, ErrInvalidCode
	}

	tx, err := s.repo.FindTransactionByJobID(ctx, req.JobID)
	if err != nil {
		return nil, err
	}

	var chargeRef *string
	switch tx.PaymentMethod {
	case domain.MethodCard:
		// Card funds can only be captured after the gateway reported the
		// hold. A pending entry means the payer never completed checkout.
		if tx.Status != domain.TxStatusAuthorized {
			return nil, ErrInvalidState
		}
		if tx.GatewayPaymentID == nil {
			// A card entry without a gateway reference has nothing to
			// capture; there is no payment to confirm against.
			return nil, store.ErrTransactionNotFound
		}
		settlement, err := s.gateway.FinalizePayable(ctx, *tx.GatewayPaymentID)
		if err != nil {
			return nil, err
		}
		if settlement.ChargeRef != "" {
			chargeRef = &settlement.ChargeRef
		}
	case domain.MethodCash:
		if tx.Status != domain.TxStatusPending && tx.Status != domain.TxStatusAuthorized {
			return nil, ErrInvalidState
		}
	default:
		return nil, ErrInvalidState
	}

	completedAt := s.now()
	if err := s.repo.CaptureJobPayment(ctx, tx.ID, job.ID, chargeRef, completedAt); err != nil {
		return nil, err
	}

	poster, err := s.repo.FindUserByID(ctx, posterID)
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=payment_service msg=\"payment captured\" job_id=%s transaction_id=%s method=%s", job.ID, tx.ID, tx.PaymentMethod)
	s.publish(ctx, "payment.captured", domain.PaymentStatusEvent{
		TransactionID: tx.ID,
		JobID:         tx.JobID,
		Status:        domain.TxStatusCaptured,
		Timestamp:     completedAt,
	})

	return &domain.ConfirmPaymentResult{
		TransactionID: tx.ID,
		Status:        domain.TxStatusCaptured,
		FeeDue:        poster.FeeDue,
		Message:       "job completed and payment captured",
	}, nil
}

// GetOutstandingFee reports the user's outstanding platform fee balance.
func (s *Service) GetOutstandingFee(ctx context.Context, userID uuid.UUID) (int64, error) {
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.FeeDue, nil
}

// GetJobTransaction returns the ledger entry for a job to its poster or
// worker.
func (s *Service) GetJobTransaction(ctx context.Context, callerID, jobID uuid.UUID) (*domain.Transaction, error) {
	job, err := s.repo.FindJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.PosterID != callerID && (job.WorkerID == nil || *job.WorkerID != callerID) {
		return nil, ErrForbidden
	}
	return s.repo.FindTransactionByJobID(ctx, jobID)
}

// PayOutstandingFee opens a card payment cycle over the user's entire
// outstanding fee balance. The ledger entry carries no job; the FEE_ prefix
// on the reference routes the gateway notification back to fee settlement.
func (s *Service) PayOutstandingFee(ctx context.Context, userID uuid.UUID) (*domain.FeeSettlementResult, error) {
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.FeeDue <= 0 {
		return nil, ErrInvalidState
	}

	customerRef, err := s.ensureGatewayCustomer(ctx, user)
	if err != nil {
		return nil, err
	}

	reference := s.paymentReference("FEE", userID)
	payable, err := s.gateway.InitiatePayable(ctx, gateway.PayableRequest{
		Reference:     reference,
		Purpose:       gateway.PurposeFeeSettlement,
		Amount:        user.FeeDue,
		Currency:      "ZAR",
		CustomerName:  user.FullName,
		CustomerEmail: user.Email,
		CustomerRef:   customerRef,
		ItemName:      "Platform fee settlement",
		ItemNote:      "Outstanding platform fees",
		Metadata: map[string]string{
			"user_id": userID.String(),
		},
	})
	if err != nil {
		return nil, err
	}

	tx := &domain.Transaction{
		ID:               uuid.New(),
		FromUserID:       userID,
		Amount:           user.FeeDue,
		FeeAmount:        user.FeeDue,
		PaymentMethod:    domain.MethodCard,
		GatewayPaymentID: &payable.Reference,
		Status:           domain.TxStatusPending,
	}
	if err := s.repo.CreateFeeSettlementTransaction(ctx, tx); err != nil {
		return nil, err
	}

	log.Printf("level=info component=payment_service msg=\"fee settlement opened\" user_id=%s amount=%d", userID, user.FeeDue)

	return &domain.FeeSettlementResult{
		TransactionID:  tx.ID,
		PaymentID:      payable.Reference,
		Amount:         user.FeeDue,
		RedirectURL:    payable.RedirectURL,
		RedirectFields: payable.Fields,
		ClientSecret:   payable.ClientSecret,
	}, nil
}

// SetupPayoutAccount records where a worker gets paid. On gateways that
// onboard payout accounts themselves a hosted onboarding URL is returned;
// otherwise the bank details are stored directly.
func (s *Service) SetupPayoutAccount(ctx context.Context, userID uuid.UUID, req domain.PayoutAccountRequest) (*domain.PayoutAccountResult, error) {
	if provisioner, ok := s.gateway.(gateway.PayoutProvisioner); ok {
		user, err := s.repo.FindUserByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		refreshURL := s.callbackBaseURL + "/payments/payout-account/refresh"
		returnURL := s.callbackBaseURL + "/payments/payout-account/complete"
		accountRef, onboardingURL, err := provisioner.CreatePayoutAccount(ctx, user.Email, refreshURL, returnURL)
		if err != nil {
			return nil, err
		}
		if err := s.repo.SetUserGatewayAccountID(ctx, userID, accountRef); err != nil {
			return nil, err
		}
		return &domain.PayoutAccountResult{
			AccountRef:    accountRef,
			OnboardingURL: onboardingURL,
			Message:       "complete onboarding at the returned URL to receive payouts",
		}, nil
	}

	if req.BankName == "" || req.AccountNumber == "" {
		return nil, ErrInvalidState
	}
	if err := s.repo.SetUserPayoutBankDetails(ctx, userID, req); err != nil {
		return nil, err
	}
	return &domain.PayoutAccountResult{Message: "payout bank details saved"}, nil
}

// HandleGatewayNotification processes a verified gateway-initiated event.
// Business no-ops (replays, unknown references, already-terminal entries)
// return nil so the gateway sees a 2xx and stops retrying; only signature
// failures and real faults surface as errors.
func (s *Service) HandleGatewayNotification(ctx context.Context, event gateway.InboundEvent) error {
	notification, err := s.gateway.VerifyInboundEvent(event)
	if err != nil {
		return err
	}
	if notification.Status == "" {
		// Authenticated but not an event this service acts on.
		log.Printf("level=info component=payment_service msg=\"notification ignored\" gateway=%s reference=%s", s.gateway.Name(), notification.Reference)
		return nil
	}

	if s.dedup != nil {
		key := notification.Reference + ":" + notification.Status
		seen, err := s.dedup.Seen(ctx, key)
		if err != nil {
			log.Printf("level=warn component=payment_service msg=\"dedup check failed; processing anyway\" err=%v", err)
		} else if seen {
			log.Printf("level=info component=payment_service msg=\"duplicate notification suppressed\" reference=%s status=%s", notification.Reference, notification.Status)
			return nil
		}
	}

	if notification.Purpose == gateway.PurposeFeeSettlement {
		return s.handleFeeNotification(ctx, notification)
	}
	return s.handleJobPaymentNotification(ctx, notification)
}

func (s *Service) handleFeeNotification(ctx context.Context, n *gateway.Notification) error {
	if n.Status != gateway.StatusComplete {
		return s.failTransaction(ctx, n)
	}

	userID, err := uuid.Parse(n.UserID)
	if err != nil {
		log.Printf("level=warn component=payment_service msg=\"fee notification carries no valid user id\" reference=%s", n.Reference)
		return nil
	}
	if err := s.repo.SettleOutstandingFees(ctx, userID, n.Reference, n.ChargeRef); err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) || errors.Is(err, store.ErrUserNotFound) {
			log.Printf("level=warn component=payment_service msg=\"fee settlement notification matched nothing\" reference=%s", n.Reference)
			return nil
		}
		return err
	}

	log.Printf("level=info component=payment_service msg=\"outstanding fees settled\" user_id=%s amount=%d", userID, n.Amount)
	s.publish(ctx, "fee.settled", domain.FeeSettledEvent{
		UserID:    userID,
		Amount:    n.Amount,
		Timestamp: s.now(),
	})
	return nil
}

func (s *Service) handleJobPaymentNotification(ctx context.Context, n *gateway.Notification) error {
	if n.Status != gateway.StatusComplete {
		return s.failTransaction(ctx, n)
	}

	tx, err := s.repo.MarkTransactionAuthorized(ctx, n.Reference, n.ChargeRef)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrTransactionNotFound):
			log.Printf("level=warn component=payment_service msg=\"notification for unknown payment\" reference=%s", n.Reference)
			return nil
		case errors.Is(err, store.ErrInvalidTransition):
			// Terminal entry; a replay after capture or failure.
			log.Printf("level=info component=payment_service msg=\"notification for settled payment ignored\" reference=%s", n.Reference)
			return nil
		default:
			return err
		}
	}

	log.Printf("level=info component=payment_service msg=\"payment authorized\" transaction_id=%s reference=%s", tx.ID, n.Reference)
	s.publish(ctx, "payment.authorized", domain.PaymentStatusEvent{
		TransactionID: tx.ID,
		JobID:         tx.JobID,
		Status:        domain.TxStatusAuthorized,
		Timestamp:     s.now(),
	})
	return nil
}

func (s *Service) failTransaction(ctx context.Context, n *gateway.Notification) error {
	reason := n.Reason
	if reason == "" {
		reason = "payment " + n.Status
	}
	tx, err := s.repo.MarkTransactionFailed(ctx, n.Reference, reason)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrTransactionNotFound):
			log.Printf("level=warn component=payment_service msg=\"failure notification for unknown payment\" reference=%s", n.Reference)
			return nil
		case errors.Is(err, store.ErrInvalidTransition):
			log.Printf("level=info component=payment_service msg=\"failure notification for settled payment ignored\" reference=%s", n.Reference)
			return nil
		default:
			return err
		}
	}

	log.Printf("level=info component=payment_service msg=\"payment failed\" transaction_id=%s reference=%s reason=%q", tx.ID, n.Reference, reason)
	s.publish(ctx, "payment.failed", domain.PaymentStatusEvent{
		TransactionID: tx.ID,
		JobID:         tx.JobID,
		Status:        domain.TxStatusFailed,
		Reason:        reason,
		Timestamp:     s.now(),
	})
	return nil
}

// ExpireStalePendingPayments fails card ledger entries that sat pending for
// longer than ttl without any gateway confirmation, publishing a failure
// event for each. Returns how many entries were expired.
func (s *Service) ExpireStalePendingPayments(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := s.now().Add(-ttl)
	expired, err := s.repo.ExpireStalePendingCardPayments(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for i := range expired {
		tx := &expired[i]
		reason := ""
		if tx.FailureReason != nil {
			reason = *tx.FailureReason
		}
		s.publish(ctx, "payment.failed", domain.PaymentStatusEvent{
			TransactionID: tx.ID,
			JobID:         tx.JobID,
			Status:        domain.TxStatusFailed,
			Reason:        reason,
			Timestamp:     s.now(),
		})
	}
	if len(expired) > 0 {
		log.Printf("level=info component=payment_service msg=\"stale pending payments expired\" count=%d", len(expired))
	}
	return len(expired), nil
}
