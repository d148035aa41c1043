package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/festpass/api/internal/domain"
	"github.com/festpass/api/internal/payments"
	"github.com/festpass/api/internal/platform/httpx"
	"github.com/festpass/api/internal/services"
)

const (
	maxCreateOrderBodySize = 64 * 1024
	idempotencyKeyHeader   = "Idempotency-Key"
)

type createOrderRequest struct {
	Cart       cartPayload     `json:"cart"`
	Customer   customerPayload `json:"customer"`
	CouponCode string          `json:"coupon_code"`
	Currency   string          `json:"currency"`
}

type cartPayload struct {
	Items []cartItemPayload `json:"items"`
}

type cartItemPayload struct {
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

type customerPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// OrderHandlers exposes the order lifecycle endpoints.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/status", h.getOrderStatus)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if key == "" {
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "Idempotency-Key header is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxCreateOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	items := make([]domain.CartItem, 0, len(req.Cart.Items))
	for _, item := range req.Cart.Items {
		items = append(items, domain.CartItem{
			SKU:       strings.TrimSpace(item.SKU),
			Name:      strings.TrimSpace(item.Name),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}

	result, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		Cart: domain.Cart{Items: items},
		Customer: domain.CustomerDetails{
			Name:  strings.TrimSpace(req.Customer.Name),
			Email: strings.TrimSpace(req.Customer.Email),
			Phone: strings.TrimSpace(req.Customer.Phone),
		},
		CouponCode:     req.CouponCode,
		Currency:       req.Currency,
		IdempotencyKey: key,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSONResponse(w, status, createOrderResponse{
		Order:    buildOrderPayload(result.Order),
		Gateway:  buildSessionPayload(result.Session),
		Replayed: result.Replayed,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	details, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := orderDetailsResponse{
		Order:    buildOrderPayload(details.Order),
		Attempts: make([]attemptPayload, 0, len(details.Attempts)),
	}
	for _, attempt := range details.Attempts {
		payload.Attempts = append(payload.Attempts, buildAttemptPayload(attempt))
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *OrderHandlers) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	status, err := h.orders.GetOrderStatus(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderStatusResponse{Status: string(status)})
}

type createOrderResponse struct {
	Order    orderPayload   `json:"order"`
	Gateway  sessionPayload `json:"gateway"`
	Replayed bool           `json:"replayed,omitempty"`
}

type orderDetailsResponse struct {
	Order    orderPayload     `json:"order"`
	Attempts []attemptPayload `json:"attempts"`
}

type orderStatusResponse struct {
	Status string `json:"status"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	Status          string             `json:"status"`
	Currency        string             `json:"currency"`
	Items           []orderItemPayload `json:"items"`
	Customer        customerPayload    `json:"customer"`
	RequestedAmount int64              `json:"requested_amount"`
	CouponCode      string             `json:"coupon_code,omitempty"`
	DiscountAmount  int64              `json:"discount_amount"`
	FinalAmount     int64              `json:"final_amount"`
	Stuck           bool               `json:"stuck,omitempty"`
	CreatedAt       string             `json:"created_at"`
	UpdatedAt       string             `json:"updated_at,omitempty"`
}

type orderItemPayload struct {
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Subtotal  int64  `json:"subtotal"`
}

type sessionPayload struct {
	Provider     string `json:"provider"`
	SessionID    string `json:"session_id"`
	ClientSecret string `json:"client_secret,omitempty"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
}

type attemptPayload struct {
	ID          string `json:"id"`
	Provider    string `json:"provider"`
	Status      string `json:"status"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Message     string `json:"message,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	RecordedAt  string `json:"recorded_at"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			SKU:       item.SKU,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Subtotal:  item.Subtotal(),
		})
	}
	return orderPayload{
		ID:       order.ID,
		Status:   string(order.Status),
		Currency: strings.ToUpper(order.Currency),
		Items:    items,
		Customer: customerPayload{
			Name:  order.Customer.Name,
			Email: order.Customer.Email,
			Phone: order.Customer.Phone,
		},
		RequestedAmount: order.RequestedAmount,
		CouponCode:      order.CouponCode,
		DiscountAmount:  order.DiscountAmount,
		FinalAmount:     order.FinalAmount,
		Stuck:           order.Stuck,
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
}

func buildSessionPayload(session payments.Session) sessionPayload {
	return sessionPayload{
		Provider:     session.Provider,
		SessionID:    session.ID,
		ClientSecret: session.ClientSecret,
		RedirectURL:  session.RedirectURL,
		ExpiresAt:    formatTime(session.ExpiresAt),
	}
}

func buildAttemptPayload(attempt domain.PaymentAttempt) attemptPayload {
	return attemptPayload{
		ID:          attempt.ID,
		Provider:    attempt.Provider,
		Status:      string(attempt.Status),
		Amount:      attempt.Amount,
		Currency:    strings.ToUpper(attempt.Currency),
		Message:     attempt.Message,
		CompletedAt: formatTimePtr(attempt.CompletedAt),
		RecordedAt:  formatTime(attempt.RecordedAt),
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var rejection *services.CouponRejectionError
	switch {
	case errors.As(err, &rejection):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_rejected", rejection.Message, http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"reason": string(rejection.Reason)}))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderGatewayUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "payment system temporarily unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrOrderGatewayRejected):
		httpx.WriteError(ctx, w, httpx.NewError("payment_rejected", "payment gateway rejected the session", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
