package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/festpass/api/internal/payments"
	"github.com/festpass/api/internal/platform/httpx"
	"github.com/festpass/api/internal/services"
)

const maxWebhookBodySize = 256 * 1024

// WebhookHandlers ingests payment gateway callbacks. Events are treated as
// hints only: the handler re-fetches the authoritative attempt list from the
// gateway instead of trusting the event payload, so a forged or stale event
// can never settle an order incorrectly.
type WebhookHandlers struct {
	orders  services.OrderService
	gateway services.PaymentGateway
	secrets map[string]string
	logger  func(r *http.Request, event string, fields map[string]any)

	// verify is swappable for tests; defaults to Stripe signature checking.
	verify func(payload []byte, sigHeader, secret string) error
}

// NewWebhookHandlers constructs webhook handlers for the given per-provider
// signing secrets.
func NewWebhookHandlers(orders services.OrderService, gateway services.PaymentGateway, secrets map[string]string) *WebhookHandlers {
	normalized := make(map[string]string, len(secrets))
	for provider, secret := range secrets {
		normalized[strings.ToLower(strings.TrimSpace(provider))] = secret
	}
	return &WebhookHandlers{
		orders:  orders,
		gateway: gateway,
		secrets: normalized,
		logger:  func(*http.Request, string, map[string]any) {},
		verify: func(payload []byte, sigHeader, secret string) error {
			_, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
				IgnoreAPIVersionMismatch: true,
			})
			return err
		},
	}
}

// WithLogger sets the structured event logger.
func (h *WebhookHandlers) WithLogger(logger func(r *http.Request, event string, fields map[string]any)) *WebhookHandlers {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/psp/{provider}", h.handleGatewayEvent)
}

type gatewayEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

type webhookAck struct {
	Received bool   `json:"received"`
	OrderID  string `json:"order_id,omitempty"`
	Status   string `json:"status,omitempty"`
}

func (h *WebhookHandlers) handleGatewayEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil || h.gateway == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	secret, ok := h.secrets[provider]
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unknown_provider", "no webhook endpoint for this provider", http.StatusNotFound))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unreadable webhook payload", http.StatusBadRequest))
		return
	}

	if err := h.verify(body, r.Header.Get("Stripe-Signature"), secret); err != nil {
		h.logger(r, "webhook.signature.invalid", map[string]any{
			"provider": provider,
			"error":    err.Error(),
		})
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	}

	var event gatewayEvent
	if err := json.Unmarshal(body, &event); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "malformed webhook event", http.StatusBadRequest))
		return
	}

	orderID := strings.TrimSpace(event.Data.Object.Metadata["order_id"])
	if orderID == "" {
		// Events for objects this service did not create are acknowledged
		// so the gateway stops redelivering them.
		h.logger(r, "webhook.event.ignored", map[string]any{
			"provider": provider,
			"type":     event.Type,
		})
		writeJSONResponse(w, http.StatusOK, webhookAck{Received: true})
		return
	}

	updated, err := h.applyGatewayState(r, provider, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, webhookAck{
		Received: true,
		OrderID:  updated.ID,
		Status:   updated.Status,
	})
}

// applyGatewayState loads the order, asks the gateway for its full attempt
// list, and folds it through the same resolver the reconciler uses.
func (h *WebhookHandlers) applyGatewayState(r *http.Request, provider, orderID string) (orderState, error) {
	ctx := r.Context()

	details, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		return orderState{}, err
	}
	order := details.Order

	paymentCtx := payments.PaymentContext{
		PreferredProvider: order.GatewayProvider,
		Currency:          order.Currency,
	}
	if paymentCtx.PreferredProvider == "" {
		paymentCtx.PreferredProvider = provider
	}
	records, err := h.gateway.FetchAttempts(ctx, paymentCtx, payments.AttemptsRequest{
		OrderID:   order.ID,
		SessionID: order.GatewaySessionID,
	})
	if err != nil {
		h.logger(r, "webhook.fetch.failed", map[string]any{
			"provider": provider,
			"order":    orderID,
			"error":    err.Error(),
		})
		// The reconciliation loop will converge this order later.
		return orderState{ID: order.ID, Status: string(order.Status)}, nil
	}

	attempts := services.AttemptsFromGateway(order, records)
	updated, err := h.orders.ApplyAttempts(ctx, order.ID, attempts)
	if err != nil {
		return orderState{}, err
	}
	return orderState{ID: updated.ID, Status: string(updated.Status)}, nil
}

type orderState struct {
	ID     string
	Status string
}
