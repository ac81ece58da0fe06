/**
 * @description
 * This file contains the HTTP handlers for the payment-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oddjobs/payment-service/internal/app"
	"github.com/oddjobs/payment-service/internal/domain"
	"github.com/oddjobs/payment-service/internal/store"
	"github.com/oddjobs/payment-service/pkg/gateway"
)

// PaymentHandlers holds the application service that handlers will use.
type PaymentHandlers struct {
	service *app.Service
}

// NewPaymentHandlers creates a new instance of PaymentHandlers.
func NewPaymentHandlers(service *app.Service) *PaymentHandlers {
	return &PaymentHandlers{service: service}
}

func (h *PaymentHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (h *PaymentHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps service-layer errors onto HTTP responses.
func (h *PaymentHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	var feesErr *app.FeesOutstandingError
	switch {
	case errors.As(err, &feesErr):
		h.writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"error":   "outstanding platform fees must be settled before initiating payments",
			"fee_due": feesErr.AmountDue,
		})
	case errors.Is(err, app.ErrForbidden):
		h.writeError(w, http.StatusForbidden, "You are not permitted to perform this action")
	case errors.Is(err, app.ErrInvalidCode):
		h.writeError(w, http.StatusBadRequest, "Confirmation code is incorrect")
	case errors.Is(err, app.ErrInvalidPaymentMethod):
		h.writeError(w, http.StatusBadRequest, "Payment method must be card or cash")
	case errors.Is(err, app.ErrInvalidState):
		h.writeError(w, http.StatusConflict, "Operation not permitted in the current state")
	case errors.Is(err, store.ErrPaymentAlreadyInitiated):
		h.writeError(w, http.StatusConflict, "A payment has already been initiated for this job")
	case errors.Is(err, store.ErrJobNotFound):
		h.writeError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, store.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, store.ErrTransactionNotFound):
		h.writeError(w, http.StatusNotFound, "Transaction not found")
	case errors.Is(err, gateway.ErrUnavailable):
		h.writeError(w, http.StatusBadGateway, "Payment gateway is currently unavailable")
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"unhandled service error\" err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "An internal error occurred")
	}
}

func (h *PaymentHandlers) authUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return uuid.Nil, false
	}
	return userID, true
}

func (h *PaymentHandlers) jobIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid job ID")
		return uuid.Nil, false
	}
	return jobID, true
}

// InitiatePaymentHandler opens a payment cycle on a job for its poster.
func (h *PaymentHandlers) InitiatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authUser(w, r)
	if !ok {
		return
	}

	var req domain.InitiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.JobID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}

	result, err := h.service.InitiatePayment(r.Context(), userID, req)
	if err != nil {
		h.writeServiceError(w, "initiate_payment", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// ConfirmPaymentHandler captures a payment after the poster presents the
// worker's confirmation code.
func (h *PaymentHandlers) ConfirmPaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authUser(w, r)
	if !ok {
		return
	}

	var req domain.ConfirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.JobID == uuid.Nil || req.ConfirmationCode == "" {
		h.writeError(w, http.StatusBadRequest, "job_id and confirmation_code are required")
		return
	}

	result, err := h.service.ConfirmAndCapture(r.Context(), userID, req)
	if err != nil {
		h.writeServiceError(w, "confirm_payment", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// IssueConfirmationCodeHandler lets the assigned worker request a completion
// code. The code itself is delivered to the poster out of band; the response
// only acknowledges issuance.
func (h *PaymentHandlers) IssueConfirmationCodeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authUser(w, r)
	if !ok {
		return
	}
	jobID, ok := h.jobIDParam(w, r)
	if !ok {
		return
	}

	if err := h.service.IssueConfirmationCode(r.Context(), userID, jobID); err != nil {
		h.writeServiceError(w, "issue_confirmation_code", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"message": "Confirmation code sent to the job poster",
	})
}

// GetJobTransactionHandler returns the ledger entry for a job to its poster
// or worker.
func (h *PaymentHandlers) GetJobTransactionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authUser(w, r)
	if !ok {
		return
	}
	jobID, ok := h.jobIDParam(w, r)
	if !ok {
		return
	}

	tx, err := h.service.GetJobTransaction(r.Context(), userID, jobID)
	if err != nil {
		h.writeServiceError(w, "get_job_transaction", err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// GetOutstandingFeeHandler reports the caller's outstanding platform fees.
func (h *PaymentHandlers) GetOutstandingFeeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authUser(w, r)
	if !ok {
		return
	}

	feeDue, err := h.service.GetOutstandingFee(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "get_outstanding_fee", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"fee_due": feeDue})
}

// PayOutstandingFeeHandler opens a card payment over the caller's entire
// outstanding fee balance.
func (h *PaymentHandlers) PayOutstandingFeeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authUser(w, r)
	if !ok {
		return
	}

	result, err := h.service.PayOutstandingFee(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "pay_outstanding_fee", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// SetupPayoutAccountHandler records where the caller gets paid out.
func (h *PaymentHandlers) SetupPayoutAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authUser(w, r)
	if !ok {
		return
	}

	var req domain.PayoutAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.SetupPayoutAccount(r.Context(), userID, req)
	if err != nil {
		h.writeServiceError(w, "setup_payout_account", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}
