/**
 * @description
 * This file contains the HTTP handlers for gateway-initiated notifications:
 * PayFast ITN callbacks and Stripe webhooks. These endpoints are public (the
 * gateway cannot carry a session token), so authenticity rests entirely on
 * the signature checks performed in the gateway layer.
 *
 * Response semantics matter here: a 2xx tells the gateway to stop retrying,
 * so verified-but-irrelevant deliveries must still return 200. Only
 * signature failures (400) and real faults (500) say otherwise.
 */

package api

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/oddjobs/payment-service/pkg/gateway"
)

const maxNotificationBodyBytes = 1 << 16

// PayfastNotificationHandler handles PayFast ITN callbacks (form-encoded,
// signature carried as a form field).
func (h *PaymentHandlers) PayfastNotificationHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid form body")
		return
	}

	fields := make(map[string]string, len(r.PostForm))
	for key, values := range r.PostForm {
		if len(values) > 0 {
			fields[key] = values[0]
		}
	}

	err := h.service.HandleGatewayNotification(r.Context(), gateway.InboundEvent{Fields: fields})
	if err != nil {
		if errors.Is(err, gateway.ErrSignatureInvalid) {
			log.Printf("level=warn component=api endpoint=payfast_notify security_event=signature_invalid remote_addr=%s", r.RemoteAddr)
			h.writeError(w, http.StatusBadRequest, "Invalid signature")
			return
		}
		log.Printf("level=error component=api endpoint=payfast_notify msg=\"notification processing failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to process notification")
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// StripeWebhookHandler handles Stripe webhook deliveries (raw JSON body,
// signature carried in the Stripe-Signature header).
func (h *PaymentHandlers) StripeWebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNotificationBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Could not read request body")
		return
	}

	err = h.service.HandleGatewayNotification(r.Context(), gateway.InboundEvent{
		RawBody:         body,
		SignatureHeader: r.Header.Get("Stripe-Signature"),
	})
	if err != nil {
		if errors.Is(err, gateway.ErrSignatureInvalid) {
			log.Printf("level=warn component=api endpoint=stripe_webhook security_event=signature_invalid remote_addr=%s", r.RemoteAddr)
			h.writeError(w, http.StatusBadRequest, "Invalid signature")
			return
		}
		log.Printf("level=error component=api endpoint=stripe_webhook msg=\"webhook processing failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to process webhook")
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
