package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/oddjobs/payment-service/internal/app"
	"github.com/oddjobs/payment-service/internal/domain"
	"github.com/oddjobs/payment-service/internal/store"
	"github.com/oddjobs/payment-service/pkg/gateway"
	"github.com/oddjobs/payment-service/pkg/rabbitmq"
)

type notifyRepoStub struct {
	store.Repository

	tx              *domain.Transaction
	authorizeCalled bool
}

func (s *notifyRepoStub) MarkTransactionAuthorized(ctx context.Context, gatewayPaymentID, gatewayChargeID string) (*domain.Transaction, error) {
	s.authorizeCalled = true
	if s.tx == nil {
		return nil, store.ErrTransactionNotFound
	}
	return s.tx, nil
}

type notifyGatewayStub struct {
	notification *gateway.Notification
	verifyErr    error
}

func (g *notifyGatewayStub) Name() string { return "stub" }

func (g *notifyGatewayStub) InitiatePayable(ctx context.Context, req gateway.PayableRequest) (*gateway.Payable, error) {
	return &gateway.Payable{Reference: req.Reference}, nil
}

func (g *notifyGatewayStub) FinalizePayable(ctx context.Context, reference string) (*gateway.Settlement, error) {
	return &gateway.Settlement{Reference: reference}, nil
}

func (g *notifyGatewayStub) VerifyInboundEvent(event gateway.InboundEvent) (*gateway.Notification, error) {
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return g.notification, nil
}

func newNotifyHandlers(repo *notifyRepoStub, gw *notifyGatewayStub) *PaymentHandlers {
	service := app.NewService(repo, gw, &rabbitmq.EventProducerFallback{}, nil, domain.NewFeePolicy(10, 30), "")
	return NewPaymentHandlers(service)
}

func TestPayfastNotificationHandler_BadSignatureReturns400(t *testing.T) {
	handlers := newNotifyHandlers(&notifyRepoStub{}, &notifyGatewayStub{verifyErr: gateway.ErrSignatureInvalid})

	form := url.Values{}
	form.Set("m_payment_id", "JOB_x_1")
	form.Set("signature", "bogus")

	req := httptest.NewRequest(http.MethodPost, "/payments/notify/payfast", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	recorder := httptest.NewRecorder()

	handlers.PayfastNotificationHandler(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad signature, got %d", recorder.Code)
	}
}

func TestPayfastNotificationHandler_ProcessedReturns200(t *testing.T) {
	jobID := uuid.New()
	txID := uuid.New()
	gatewayPaymentID := "JOB_" + jobID.String() + "_1"
	repo := &notifyRepoStub{
		tx: &domain.Transaction{
			ID:               txID,
			JobID:            &jobID,
			GatewayPaymentID: &gatewayPaymentID,
			Status:           domain.TxStatusAuthorized,
		},
	}
	handlers := newNotifyHandlers(repo, &notifyGatewayStub{
		notification: &gateway.Notification{
			Reference: gatewayPaymentID,
			Purpose:   gateway.PurposeJobPayment,
			Status:    gateway.StatusComplete,
		},
	})

	form := url.Values{}
	form.Set("m_payment_id", gatewayPaymentID)
	form.Set("payment_status", "COMPLETE")

	req := httptest.NewRequest(http.MethodPost, "/payments/notify/payfast", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	recorder := httptest.NewRecorder()

	handlers.PayfastNotificationHandler(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if !repo.authorizeCalled {
		t.Error("expected the ledger to be authorized")
	}
}

func TestPayfastNotificationHandler_BusinessNoOpReturns200(t *testing.T) {
	// Unknown reference: the gateway verified the payload but the ledger has
	// no matching entry. The gateway must still see a 2xx.
	handlers := newNotifyHandlers(&notifyRepoStub{}, &notifyGatewayStub{
		notification: &gateway.Notification{
			Reference: "JOB_unknown_1",
			Purpose:   gateway.PurposeJobPayment,
			Status:    gateway.StatusComplete,
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/payments/notify/payfast", strings.NewReader("m_payment_id=JOB_unknown_1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	recorder := httptest.NewRecorder()

	handlers.PayfastNotificationHandler(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 for a business no-op, got %d", recorder.Code)
	}
}

func TestStripeWebhookHandler_BadSignatureReturns400(t *testing.T) {
	handlers := newNotifyHandlers(&notifyRepoStub{}, &notifyGatewayStub{verifyErr: gateway.ErrSignatureInvalid})

	req := httptest.NewRequest(http.MethodPost, "/payments/notify/stripe", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=bogus")
	recorder := httptest.NewRecorder()

	handlers.StripeWebhookHandler(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad signature, got %d", recorder.Code)
	}
}

func TestStripeWebhookHandler_VerifiedIrrelevantEventReturns200(t *testing.T) {
	handlers := newNotifyHandlers(&notifyRepoStub{}, &notifyGatewayStub{
		notification: &gateway.Notification{Reference: "pi_123", Status: ""},
	})

	req := httptest.NewRequest(http.MethodPost, "/payments/notify/stripe", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=valid")
	recorder := httptest.NewRecorder()

	handlers.StripeWebhookHandler(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 for a verified irrelevant event, got %d", recorder.Code)
	}
}
