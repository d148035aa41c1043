package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
	intents  stripePaymentIntentAPI
}

// defaultStripeStatusMap translates Stripe payment intent statuses to the
// shared vocabulary. Config-level overrides take precedence.
var defaultStripeStatusMap = StatusMap{
	"succeeded":               StatusSucceeded,
	"canceled":                StatusFailed,
	"payment_failed":          StatusFailed,
	"processing":              StatusPending,
	"requires_payment_method": StatusPending,
	"requires_confirmation":   StatusPending,
	"requires_action":         StatusPending,
	"requires_capture":        StatusPending,
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey          string
	AccountID       string
	Backends        *stripe.Backends
	Logger          StripeLogger
	Clock           func() time.Time
	Clients         *stripeClients
	Retry           RetryPolicy
	StatusOverrides StatusMap
}

// StripeProvider implements the Provider interface using Stripe APIs.
type StripeProvider struct {
	api       stripeClients
	account   string
	clock     func() time.Time
	logger    StripeLogger
	retry     RetryPolicy
	statusMap StatusMap
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			sessions: sc.CheckoutSessions,
			intents:  sc.PaymentIntents,
		}
	}

	if clients.sessions == nil || clients.intents == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:    logger,
		retry:     cfg.Retry.normalized(),
		statusMap: cfg.StatusOverrides,
	}, nil
}

// NormalizeStatus maps a raw Stripe status string onto the shared vocabulary,
// applying config overrides before the built-in defaults.
func (p *StripeProvider) NormalizeStatus(raw string) (Status, bool) {
	if p == nil {
		return "", false
	}
	return p.statusMap.Normalize(raw, defaultStripeStatusMap)
}

// CreateSession opens a Stripe Checkout session keyed by the local order ID,
// so retried calls for the same order resolve to the same remote session.
func (p *StripeProvider) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	if p == nil {
		return Session{}, errors.New("stripe: provider is nil")
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return Session{}, errors.New("stripe: order id is required")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.OrderID)
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["order_id"] = req.OrderID
	params.Metadata = metadata

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		line := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max64(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(defaultString(item.Currency, req.Currency))),
				UnitAmount: stripe.Int64(item.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		}
		if item.SKU != "" {
			line.PriceData.ProductData.Metadata = map[string]string{
				"sku": item.SKU,
			}
		}
		lineItems = append(lineItems, line)
	}
	if len(lineItems) == 0 {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Order"),
				},
			},
		})
	}
	params.LineItems = lineItems
	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
		Metadata: metadata,
	}

	var session *stripe.CheckoutSession
	err := p.retry.retry(ctx, stripeTransient, func(context.Context) error {
		var callErr error
		session, callErr = p.api.sessions.New(params)
		return callErr
	})
	if err != nil {
		return Session{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	if session == nil || session.ID == "" {
		return Session{}, fmt.Errorf("%w: checkout session missing id", ErrMalformedResponse)
	}

	intentID := ""
	if session.PaymentIntent != nil {
		intentID = session.PaymentIntent.ID
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId":     session.ID,
		"orderId":       req.OrderID,
		"paymentIntent": intentID,
		"currency":      session.Currency,
	})

	expiresAt := p.clock().Add(30 * time.Minute)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	return Session{
		ID:           session.ID,
		Provider:     "stripe",
		ClientSecret: session.ClientSecret,
		RedirectURL:  session.URL,
		IntentID:     intentID,
		ExpiresAt:    expiresAt,
	}, nil
}

// FetchAttempts resolves the checkout session to its payment intent and
// returns the intent's current state as an attempt record. Responses are
// shape-validated before they reach the caller.
func (p *StripeProvider) FetchAttempts(ctx context.Context, req AttemptsRequest) ([]AttemptRecord, error) {
	if p == nil {
		return nil, errors.New("stripe: provider is nil")
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return nil, errors.New("stripe: session id is required")
	}

	sessionParams := &stripe.CheckoutSessionParams{}
	sessionParams.Context = ctx
	if p.account != "" {
		sessionParams.SetStripeAccount(p.account)
	}
	sessionParams.AddExpand("payment_intent")

	var session *stripe.CheckoutSession
	err := p.retry.retry(ctx, stripeTransient, func(context.Context) error {
		var callErr error
		session, callErr = p.api.sessions.Get(sessionID, sessionParams)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("stripe: fetch checkout session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("%w: empty checkout session", ErrMalformedResponse)
	}
	if session.PaymentIntent == nil || session.PaymentIntent.ID == "" {
		// Customer never reached the payment step; no attempts yet.
		return nil, nil
	}

	intentParams := &stripe.PaymentIntentParams{}
	intentParams.Context = ctx
	if p.account != "" {
		intentParams.SetStripeAccount(p.account)
	}

	var intent *stripe.PaymentIntent
	err = p.retry.retry(ctx, stripeTransient, func(context.Context) error {
		var callErr error
		intent, callErr = p.api.intents.Get(session.PaymentIntent.ID, intentParams)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("stripe: fetch payment intent: %w", err)
	}

	record, err := p.attemptFromIntent(intent)
	if err != nil {
		return nil, err
	}

	p.logger(ctx, "payments.stripe.attempts.fetched", map[string]any{
		"sessionId":     sessionID,
		"orderId":       req.OrderID,
		"paymentIntent": record.ID,
		"status":        string(record.Status),
	})

	return []AttemptRecord{record}, nil
}

func (p *StripeProvider) attemptFromIntent(intent *stripe.PaymentIntent) (AttemptRecord, error) {
	if intent == nil || intent.ID == "" {
		return AttemptRecord{}, fmt.Errorf("%w: payment intent missing id", ErrMalformedResponse)
	}
	if intent.Amount < 0 {
		return AttemptRecord{}, fmt.Errorf("%w: payment intent %s has negative amount", ErrMalformedResponse, intent.ID)
	}

	raw := string(intent.Status)
	status, ok := p.NormalizeStatus(raw)
	if !ok {
		return AttemptRecord{}, fmt.Errorf("%w: unmapped payment intent status %q", ErrMalformedResponse, raw)
	}

	record := AttemptRecord{
		ID:        intent.ID,
		Status:    status,
		RawStatus: raw,
		Amount:    intent.Amount,
		Currency:  strings.ToUpper(string(intent.Currency)),
	}

	if intent.LastPaymentError != nil {
		record.Message = intent.LastPaymentError.Msg
	}
	if charge := intent.LatestCharge; charge != nil {
		if charge.Paid || charge.Captured {
			t := time.Unix(charge.Created, 0).UTC()
			record.CompletedAt = &t
		}
		if record.Message == "" && charge.FailureMessage != "" {
			record.Message = charge.FailureMessage
		}
	}

	return record, nil
}

// stripeTransient reports whether a Stripe call failed for a reason worth
// retrying. API errors with 4xx statuses are authoritative; everything else
// (5xx, rate limits, transport errors) is treated as transient.
func stripeTransient(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == 429 {
			return true
		}
		return stripeErr.HTTPStatusCode >= 500
	}
	return true
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
