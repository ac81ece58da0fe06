/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL required to interact with the users,
 * jobs and transactions tables, and keeps every money-affecting multi-row
 * mutation inside a single database transaction so ledger status, job state
 * and fee balances move together or not at all.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oddjobs/payment-service/internal/domain"
)

var (
	ErrUserNotFound            = errors.New("user not found")
	ErrJobNotFound             = errors.New("job not found")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrPaymentAlreadyInitiated = errors.New("payment already initiated for job")
	ErrInvalidTransition       = errors.New("invalid transaction status transition")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, email, full_name, fee_due, account_locked, free_trial_ends_at, gateway_customer_id, gateway_account_id, created_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.FeeDue,
		&user.AccountLocked,
		&user.FreeTrialEndsAt,
		&user.GatewayCustomerID,
		&user.GatewayAccountID,
		&user.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindUserByID retrieves the payment-relevant view of a user.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRow(ctx, query, userID))
}

const jobColumns = `id, title, description, price, currency, poster_id, worker_id, status, payment_method, payment_intent_id, confirmation_code_hash, paid, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	err := row.Scan(
		&job.ID,
		&job.Title,
		&job.Description,
		&job.Price,
		&job.Currency,
		&job.PosterID,
		&job.WorkerID,
		&job.Status,
		&job.PaymentMethod,
		&job.PaymentIntentID,
		&job.ConfirmationCodeHash,
		&job.Paid,
		&job.CompletedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// FindJobByID retrieves the payment-relevant view of a job.
func (r *PostgresRepository) FindJobByID(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	return scanJob(r.db.QueryRow(ctx, query, jobID))
}

// SetUserGatewayCustomerID records the tokenized-gateway customer reference.
func (r *PostgresRepository) SetUserGatewayCustomerID(ctx context.Context, userID uuid.UUID, customerRef string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET gateway_customer_id = $2 WHERE id = $1`, userID, customerRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetUserGatewayAccountID records the tokenized-gateway payout account reference.
func (r *PostgresRepository) SetUserGatewayAccountID(ctx context.Context, userID uuid.UUID, accountRef string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET gateway_account_id = $2 WHERE id = $1`, userID, accountRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetUserPayoutBankDetails stores bank payout details for gateways without
// their own onboarding flow.
func (r *PostgresRepository) SetUserPayoutBankDetails(ctx context.Context, userID uuid.UUID, details domain.PayoutAccountRequest) error {
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal payout details: %w", err)
	}
	tag, err := r.db.Exec(ctx, `UPDATE users SET payout_details = $2 WHERE id = $1`, userID, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// InitiateJobPayment opens a payment cycle atomically. The job row is
// claimed with a conditional write on `payment_method IS NULL`, so a
// concurrent duplicate initiation cannot create two ledger entries for the
// same cycle.
func (r *PostgresRepository) InitiateJobPayment(ctx context.Context, params InitiateJobPaymentParams) error {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer dbTx.Rollback(ctx)

	var claimed uuid.UUID
	claim := `
		UPDATE jobs
		SET payment_method = $2, payment_intent_id = $3, updated_at = now()
		WHERE id = $1 AND payment_method IS NULL
		RETURNING id
	`
	err = dbTx.QueryRow(ctx, claim, params.Job.ID, params.Transaction.PaymentMethod, params.PaymentIntentID).Scan(&claimed)
	if err != nil {
		if err == pgx.ErrNoRows {
			// Distinguish a missing job from an already-claimed one.
			var exists bool
			if checkErr := dbTx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, params.Job.ID).Scan(&exists); checkErr != nil {
				return checkErr
			}
			if !exists {
				return ErrJobNotFound
			}
			return ErrPaymentAlreadyInitiated
		}
		return err
	}

	insert := `
		INSERT INTO transactions (id, job_id, from_user_id, to_user_id, amount, fee_amount, payment_method, gateway_payment_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
	`
	tx := params.Transaction
	if _, err := dbTx.Exec(ctx, insert, tx.ID, tx.JobID, tx.FromUserID, tx.ToUserID, tx.Amount, tx.FeeAmount, tx.PaymentMethod, tx.GatewayPaymentID, tx.Status); err != nil {
		return err
	}

	if params.EagerFeeAmount > 0 {
		if _, err := dbTx.Exec(ctx, `UPDATE users SET fee_due = fee_due + $2 WHERE id = $1`, tx.FromUserID, params.EagerFeeAmount); err != nil {
			return err
		}
	}

	return dbTx.Commit(ctx)
}

// CreateFeeSettlementTransaction inserts a fee-only ledger entry (no job, no payee).
func (r *PostgresRepository) CreateFeeSettlementTransaction(ctx context.Context, tx *domain.Transaction) error {
	insert := `
		INSERT INTO transactions (id, job_id, from_user_id, to_user_id, amount, fee_amount, payment_method, gateway_payment_id, status, created_at, updated_at)
		VALUES ($1, NULL, $2, NULL, $3, $4, $5, $6, $7, now(), now())
	`
	_, err := r.db.Exec(ctx, insert, tx.ID, tx.FromUserID, tx.Amount, tx.FeeAmount, tx.PaymentMethod, tx.GatewayPaymentID, tx.Status)
	return err
}

// SetJobConfirmationCodeHash stores the one-way hash of a freshly issued
// confirmation code on the job.
func (r *PostgresRepository) SetJobConfirmationCodeHash(ctx context.Context, jobID uuid.UUID, hash string) error {
	tag, err := r.db.Exec(ctx, `UPDATE jobs SET confirmation_code_hash = $2, updated_at = now() WHERE id = $1`, jobID, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

const transactionColumns = `id, job_id, from_user_id, to_user_id, amount, fee_amount, payment_method, gateway_payment_id, gateway_charge_id, status, failure_reason, created_at, updated_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := row.Scan(
		&tx.ID,
		&tx.JobID,
		&tx.FromUserID,
		&tx.ToUserID,
		&tx.Amount,
		&tx.FeeAmount,
		&tx.PaymentMethod,
		&tx.GatewayPaymentID,
		&tx.GatewayChargeID,
		&tx.Status,
		&tx.FailureReason,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// MarkTransactionAuthorized moves a ledger entry to authorized once the
// gateway confirms funds are held. Safe to replay: an already-authorized
// entry is updated in place; a terminal entry is left untouched and returned
// with ErrInvalidTransition so the caller can decide whether the replay is
// benign.
func (r *PostgresRepository) MarkTransactionAuthorized(ctx context.Context, gatewayPaymentID, gatewayChargeID string) (*domain.Transaction, error) {
	query := `
		UPDATE transactions
		SET status = 'authorized', gateway_charge_id = COALESCE(NULLIF($2, ''), gateway_charge_id), updated_at = now()
		WHERE gateway_payment_id = $1 AND status IN ('pending', 'authorized')
		RETURNING ` + transactionColumns
	tx, err := scanTransaction(r.db.QueryRow(ctx, query, gatewayPaymentID, gatewayChargeID))
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, ErrTransactionNotFound) {
		return nil, err
	}

	existing, lookupErr := r.FindTransactionByGatewayPaymentID(ctx, gatewayPaymentID)
	if lookupErr != nil {
		return nil, lookupErr
	}
	return existing, ErrInvalidTransition
}

// MarkTransactionFailed moves a ledger entry to failed on gateway-reported
// failure or cancellation. Valid from pending or authorized; replaying a
// failure against an already-failed entry is a no-op.
func (r *PostgresRepository) MarkTransactionFailed(ctx context.Context, gatewayPaymentID, reason string) (*domain.Transaction, error) {
	query := `
		UPDATE transactions
		SET status = 'failed', failure_reason = $2, updated_at = now()
		WHERE gateway_payment_id = $1 AND status IN ('pending', 'authorized')
		RETURNING ` + transactionColumns
	tx, err := scanTransaction(r.db.QueryRow(ctx, query, gatewayPaymentID, reason))
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, ErrTransactionNotFound) {
		return nil, err
	}

	existing, lookupErr := r.FindTransactionByGatewayPaymentID(ctx, gatewayPaymentID)
	if lookupErr != nil {
		return nil, lookupErr
	}
	if existing.Status == domain.TxStatusFailed {
		return existing, nil
	}
	return existing, ErrInvalidTransition
}

// CaptureJobPayment finalizes a payment cycle: the ledger entry moves to
// captured and the job is marked completed and paid, together or not at all.
func (r *PostgresRepository) CaptureJobPayment(ctx context.Context, transactionID, jobID uuid.UUID, gatewayChargeID *string, completedAt time.Time) error {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer dbTx.Rollback(ctx)

	capture := `
		UPDATE transactions
		SET status = 'captured', gateway_charge_id = COALESCE($2, gateway_charge_id), updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'authorized')
	`
	tag, err := dbTx.Exec(ctx, capture, transactionID, gatewayChargeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if checkErr := dbTx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, transactionID).Scan(&exists); checkErr != nil {
			return checkErr
		}
		if !exists {
			return ErrTransactionNotFound
		}
		return ErrInvalidTransition
	}

	complete := `
		UPDATE jobs
		SET status = 'completed', paid = true, completed_at = $2, updated_at = now()
		WHERE id = $1
	`
	if _, err := dbTx.Exec(ctx, complete, jobID, completedAt); err != nil {
		return err
	}

	return dbTx.Commit(ctx)
}

// SettleOutstandingFees zeroes a user's fee balance and unlocks the account,
// and captures the matching fee-settlement ledger entry when one exists.
// Replays are harmless: re-zeroing an already-zero balance and re-capturing
// a captured entry both leave state unchanged.
func (r *PostgresRepository) SettleOutstandingFees(ctx context.Context, userID uuid.UUID, gatewayPaymentID, gatewayChargeID string) error {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer dbTx.Rollback(ctx)

	tag, err := dbTx.Exec(ctx, `UPDATE users SET fee_due = 0, account_locked = false WHERE id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	if gatewayPaymentID != "" {
		settle := `
			UPDATE transactions
			SET status = 'captured', gateway_charge_id = COALESCE(NULLIF($2, ''), gateway_charge_id), updated_at = now()
			WHERE gateway_payment_id = $1 AND status IN ('pending', 'authorized')
		`
		if _, err := dbTx.Exec(ctx, settle, gatewayPaymentID, gatewayChargeID); err != nil {
			return err
		}
	}

	return dbTx.Commit(ctx)
}

// ExpireStalePendingCardPayments fails card ledger entries that never
// received a gateway confirmation before the cutoff, and returns the rows it
// touched so the caller can report them.
func (r *PostgresRepository) ExpireStalePendingCardPayments(ctx context.Context, cutoff time.Time) ([]domain.Transaction, error) {
	query := `
		UPDATE transactions
		SET status = 'failed', failure_reason = 'abandoned: no gateway confirmation received', updated_at = now()
		WHERE status = 'pending' AND payment_method = 'card' AND created_at < $1
		RETURNING ` + transactionColumns
	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expired []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		expired = append(expired, *tx)
	}
	return expired, rows.Err()
}

// FindTransactionByJobID retrieves the ledger entry for a job's current
// payment cycle.
func (r *PostgresRepository) FindTransactionByJobID(ctx context.Context, jobID uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE job_id = $1 ORDER BY created_at DESC LIMIT 1`
	return scanTransaction(r.db.QueryRow(ctx, query, jobID))
}

// FindTransactionByGatewayPaymentID retrieves a ledger entry by the
// gateway-assigned payment reference.
func (r *PostgresRepository) FindTransactionByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE gateway_payment_id = $1`
	return scanTransaction(r.db.QueryRow(ctx, query, gatewayPaymentID))
}
