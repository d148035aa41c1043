package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/festpass/api/internal/domain"
	"github.com/festpass/api/internal/payments"
	"github.com/festpass/api/internal/services"
)

type stubOrderService struct {
	createFn func(context.Context, services.CreateOrderCommand) (services.OrderCreation, error)
	getFn    func(context.Context, string) (services.OrderDetails, error)
	statusFn func(context.Context, string) (domain.OrderStatus, error)
	applyFn  func(context.Context, string, []domain.PaymentAttempt) (domain.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.OrderCreation, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.OrderCreation{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.OrderDetails, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return services.OrderDetails{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	if s.statusFn != nil {
		return s.statusFn(ctx, orderID)
	}
	return "", errors.New("not implemented")
}

func (s *stubOrderService) ApplyAttempts(ctx context.Context, orderID string, attempts []domain.PaymentAttempt) (domain.Order, error) {
	if s.applyFn != nil {
		return s.applyFn(ctx, orderID, attempts)
	}
	return domain.Order{}, errors.New("not implemented")
}

func newOrderRouter(service services.OrderService) chi.Router {
	handler := NewOrderHandlers(service)
	router := chi.NewRouter()
	handler.Routes(router)
	return router
}

func createOrderBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(createOrderRequest{
		Cart: cartPayload{Items: []cartItemPayload{
			{SKU: "GA-DAY1", Name: "General Admission Day 1", UnitPrice: 750, Quantity: 2},
		}},
		Customer: customerPayload{
			Name:  "Asha Verma",
			Email: "asha@example.com",
			Phone: "9876543210",
		},
		CouponCode: "EARLYBIRD",
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return body
}

func TestOrderHandlersCreateOrderSuccess(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var captured services.CreateOrderCommand
	service := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.OrderCreation, error) {
			captured = cmd
			return services.OrderCreation{
				Order: domain.Order{
					ID:              "ord_123",
					Status:          domain.OrderStatusCreated,
					Currency:        "INR",
					RequestedAmount: 1500,
					CouponCode:      "EARLYBIRD",
					DiscountAmount:  225,
					FinalAmount:     1275,
					CreatedAt:       now,
				},
				Session: payments.Session{
					ID:          "cs_123",
					Provider:    "stripe",
					RedirectURL: "https://checkout.example.com/cs_123",
				},
			}, nil
		},
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(createOrderBody(t)))
	req.Header.Set("Idempotency-Key", "key-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.IdempotencyKey != "key-123" {
		t.Fatalf("expected idempotency key from header, got %q", captured.IdempotencyKey)
	}
	if captured.CouponCode != "EARLYBIRD" {
		t.Fatalf("expected coupon code forwarded, got %q", captured.CouponCode)
	}

	var resp createOrderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Order.ID != "ord_123" || resp.Order.FinalAmount != 1275 {
		t.Fatalf("unexpected order payload: %+v", resp.Order)
	}
	if resp.Gateway.SessionID != "cs_123" || resp.Gateway.Provider != "stripe" {
		t.Fatalf("unexpected gateway payload: %+v", resp.Gateway)
	}
	if resp.Replayed {
		t.Fatal("fresh creations must not be marked replayed")
	}
}

func TestOrderHandlersCreateOrderReplayReturns200(t *testing.T) {
	service := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.OrderCreation, error) {
			return services.OrderCreation{
				Order:    domain.Order{ID: "ord_123", Status: domain.OrderStatusPending},
				Session:  payments.Session{ID: "cs_123", Provider: "stripe"},
				Replayed: true,
			}, nil
		},
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(createOrderBody(t)))
	req.Header.Set("Idempotency-Key", "key-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for replay, got %d", rec.Code)
	}
}

func TestOrderHandlersCreateOrderRequiresIdempotencyKey(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(createOrderBody(t)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without Idempotency-Key, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "idempotency_key_required") {
		t.Fatalf("expected idempotency_key_required code, got %s", rec.Body.String())
	}
}

func TestOrderHandlersCreateOrderCouponRejection(t *testing.T) {
	service := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.OrderCreation, error) {
			return services.OrderCreation{}, &services.CouponRejectionError{
				Reason:  domain.CouponReasonBelowMinimum,
				Message: "order amount is below the minimum of 100",
			}
		},
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(createOrderBody(t)))
	req.Header.Set("Idempotency-Key", "key-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload["error"] != "coupon_rejected" {
		t.Fatalf("expected coupon_rejected, got %v", payload["error"])
	}
	if payload["reason"] != "BELOW_MINIMUM" {
		t.Fatalf("expected BELOW_MINIMUM reason, got %v", payload["reason"])
	}
}

func TestOrderHandlersCreateOrderGatewayUnavailable(t *testing.T) {
	service := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.OrderCreation, error) {
			return services.OrderCreation{}, services.ErrOrderGatewayUnavailable
		},
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(createOrderBody(t)))
	req.Header.Set("Idempotency-Key", "key-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "payment_unavailable") {
		t.Fatalf("expected payment_unavailable code, got %s", rec.Body.String())
	}
}

func TestOrderHandlersGetOrderWithAttempts(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	completed := now.Add(-time.Minute)
	service := &stubOrderService{
		getFn: func(_ context.Context, orderID string) (services.OrderDetails, error) {
			if orderID != "ord_123" {
				return services.OrderDetails{}, services.ErrOrderNotFound
			}
			return services.OrderDetails{
				Order: domain.Order{ID: "ord_123", Status: domain.OrderStatusSuccess, Currency: "inr", CreatedAt: now},
				Attempts: []domain.PaymentAttempt{
					{ID: "pay_1", Provider: "stripe", Status: domain.AttemptStatusFailed, Amount: 1275, Currency: "inr", RecordedAt: now},
					{ID: "pay_2", Provider: "stripe", Status: domain.AttemptStatusSuccess, Amount: 1275, Currency: "inr", CompletedAt: &completed, RecordedAt: now},
				},
			}, nil
		},
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodGet, "/ord_123", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp orderDetailsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(resp.Attempts))
	}
	if resp.Attempts[1].CompletedAt == "" {
		t.Fatal("expected completed_at on the successful attempt")
	}
	if resp.Order.Currency != "INR" {
		t.Fatalf("expected upper-cased currency, got %q", resp.Order.Currency)
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	service := &stubOrderService{
		getFn: func(context.Context, string) (services.OrderDetails, error) {
			return services.OrderDetails{}, services.ErrOrderNotFound
		},
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodGet, "/ord_missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestOrderHandlersGetOrderStatus(t *testing.T) {
	service := &stubOrderService{
		statusFn: func(_ context.Context, orderID string) (domain.OrderStatus, error) {
			return domain.OrderStatusPending, nil
		},
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodGet, "/ord_123/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp orderStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "PENDING" {
		t.Fatalf("expected PENDING, got %s", resp.Status)
	}
}
