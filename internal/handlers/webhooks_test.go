package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/festpass/api/internal/domain"
	"github.com/festpass/api/internal/payments"
	"github.com/festpass/api/internal/services"
)

type stubWebhookGateway struct {
	fetchFn func(context.Context, payments.PaymentContext, payments.AttemptsRequest) ([]payments.AttemptRecord, error)
}

func (s *stubWebhookGateway) CreateSession(context.Context, payments.PaymentContext, payments.SessionRequest) (payments.Session, error) {
	return payments.Session{}, errors.New("not implemented")
}

func (s *stubWebhookGateway) FetchAttempts(ctx context.Context, paymentCtx payments.PaymentContext, req payments.AttemptsRequest) ([]payments.AttemptRecord, error) {
	if s.fetchFn != nil {
		return s.fetchFn(ctx, paymentCtx, req)
	}
	return nil, nil
}

func newWebhookRouter(h *WebhookHandlers) chi.Router {
	router := chi.NewRouter()
	h.Routes(router)
	return router
}

func stripeEventBody(t *testing.T, eventType, objectID, orderID string) []byte {
	t.Helper()
	event := map[string]any{
		"type": eventType,
		"data": map[string]any{
			"object": map[string]any{
				"id":       objectID,
				"metadata": map[string]string{"order_id": orderID},
			},
		},
	}
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func TestWebhookHandlersAppliesFetchedAttempts(t *testing.T) {
	var appliedOrder string
	var applied []domain.PaymentAttempt
	orders := &stubOrderService{
		getFn: func(_ context.Context, orderID string) (services.OrderDetails, error) {
			return services.OrderDetails{Order: domain.Order{
				ID:               orderID,
				Status:           domain.OrderStatusPending,
				GatewayProvider:  "stripe",
				GatewaySessionID: "cs_123",
			}}, nil
		},
		applyFn: func(_ context.Context, orderID string, attempts []domain.PaymentAttempt) (domain.Order, error) {
			appliedOrder = orderID
			applied = attempts
			return domain.Order{ID: orderID, Status: domain.OrderStatusSuccess}, nil
		},
	}
	gateway := &stubWebhookGateway{
		fetchFn: func(_ context.Context, _ payments.PaymentContext, req payments.AttemptsRequest) ([]payments.AttemptRecord, error) {
			if req.SessionID != "cs_123" {
				t.Fatalf("expected stored session id, got %q", req.SessionID)
			}
			return []payments.AttemptRecord{
				{ID: "pay_1", Status: payments.StatusSucceeded, Amount: 1275, Currency: "INR"},
			}, nil
		},
	}

	handler := NewWebhookHandlers(orders, gateway, map[string]string{"stripe": "whsec_test"})
	handler.verify = func([]byte, string, string) error { return nil }

	router := newWebhookRouter(handler)
	req := httptest.NewRequest(http.MethodPost, "/psp/stripe", bytes.NewReader(stripeEventBody(t, "checkout.session.completed", "cs_123", "ord_123")))
	req.Header.Set("Stripe-Signature", "t=1,v1=sig")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if appliedOrder != "ord_123" || len(applied) != 1 {
		t.Fatalf("expected one applied attempt for ord_123, got %s/%d", appliedOrder, len(applied))
	}
	if applied[0].Status != domain.AttemptStatusSuccess {
		t.Fatalf("expected mapped SUCCESS attempt, got %s", applied[0].Status)
	}

	var ack webhookAck
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if !ack.Received || ack.Status != "SUCCESS" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
}

func TestWebhookHandlersRejectsBadSignature(t *testing.T) {
	handler := NewWebhookHandlers(&stubOrderService{}, &stubWebhookGateway{}, map[string]string{"stripe": "whsec_test"})
	handler.verify = func([]byte, string, string) error { return errors.New("bad signature") }

	router := newWebhookRouter(handler)
	req := httptest.NewRequest(http.MethodPost, "/psp/stripe", bytes.NewReader(stripeEventBody(t, "checkout.session.completed", "cs_123", "ord_123")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWebhookHandlersUnknownProvider(t *testing.T) {
	handler := NewWebhookHandlers(&stubOrderService{}, &stubWebhookGateway{}, map[string]string{"stripe": "whsec_test"})

	router := newWebhookRouter(handler)
	req := httptest.NewRequest(http.MethodPost, "/psp/paypal", bytes.NewReader(stripeEventBody(t, "x", "y", "z")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestWebhookHandlersAcknowledgesForeignEvents(t *testing.T) {
	handler := NewWebhookHandlers(&stubOrderService{}, &stubWebhookGateway{}, map[string]string{"stripe": "whsec_test"})
	handler.verify = func([]byte, string, string) error { return nil }

	body, _ := json.Marshal(map[string]any{
		"type": "customer.created",
		"data": map[string]any{"object": map[string]any{"id": "cus_1"}},
	})
	router := newWebhookRouter(handler)
	req := httptest.NewRequest(http.MethodPost, "/psp/stripe", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("foreign events must be acknowledged, got %d", rec.Code)
	}
}

func TestWebhookHandlersFetchFailureStillAcks(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(_ context.Context, orderID string) (services.OrderDetails, error) {
			return services.OrderDetails{Order: domain.Order{ID: orderID, Status: domain.OrderStatusPending}}, nil
		},
	}
	gateway := &stubWebhookGateway{
		fetchFn: func(context.Context, payments.PaymentContext, payments.AttemptsRequest) ([]payments.AttemptRecord, error) {
			return nil, errors.New("gateway down")
		},
	}

	handler := NewWebhookHandlers(orders, gateway, map[string]string{"stripe": "whsec_test"})
	handler.verify = func([]byte, string, string) error { return nil }

	router := newWebhookRouter(handler)
	req := httptest.NewRequest(http.MethodPost, "/psp/stripe", bytes.NewReader(stripeEventBody(t, "payment_intent.payment_failed", "pi_1", "ord_123")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("fetch failures defer to reconciliation and still ack, got %d", rec.Code)
	}
	var ack webhookAck
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Status != "PENDING" {
		t.Fatalf("expected unchanged PENDING status, got %s", ack.Status)
	}
}
