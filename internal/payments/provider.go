package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised payment attempt states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or gateway confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the gateway reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the gateway reports a failure and no further action is possible.
	StatusFailed Status = "failed"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// ErrUnavailable marks transient gateway failures that exhausted their retry
// budget. Callers surface it as "payment system temporarily unavailable" and
// must not record it as a failed attempt.
var ErrUnavailable = errors.New("payments: gateway temporarily unavailable")

// ErrMalformedResponse is returned when a gateway response fails shape validation.
var ErrMalformedResponse = errors.New("payments: malformed gateway response")

// SessionLineItem describes a single cart line to include in a gateway session.
type SessionLineItem struct {
	Name     string
	SKU      string
	Quantity int64
	Amount   int64
	Currency string
}

// SessionRequest captures the payload required to open a gateway session.
// OrderID doubles as the gateway idempotency key so retried creations never
// open a second session for the same order.
type SessionRequest struct {
	OrderID       string
	Amount        int64
	Currency      string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
	Items         []SessionLineItem
}

// Session represents the gateway session handed back to the client.
type Session struct {
	ID           string
	Provider     string
	ClientSecret string
	RedirectURL  string
	IntentID     string
	ExpiresAt    time.Time
}

// AttemptsRequest identifies the order whose attempts should be fetched.
type AttemptsRequest struct {
	OrderID   string
	SessionID string
}

// AttemptRecord is one gateway-reported attempt, normalised to the shared
// status vocabulary. RawStatus preserves the provider's own wording.
type AttemptRecord struct {
	ID          string
	Status      Status
	RawStatus   string
	Amount      int64
	Currency    string
	Message     string
	CompletedAt *time.Time
}

// Provider defines the contract gateway adapters implement.
type Provider interface {
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	FetchAttempts(ctx context.Context, req AttemptsRequest) ([]AttemptRecord, error)
}

// StatusMap translates provider-specific status strings to the shared
// vocabulary. Entries are keyed by the lower-cased raw status.
type StatusMap map[string]Status

// Normalize resolves a raw gateway status against the map, falling back to
// the supplied defaults. The boolean reports whether any mapping matched.
func (m StatusMap) Normalize(raw string, defaults StatusMap) (Status, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return "", false
	}
	if m != nil {
		if status, ok := m[key]; ok {
			return status, true
		}
	}
	if defaults != nil {
		if status, ok := defaults[key]; ok {
			return status, true
		}
	}
	return "", false
}

// ParseStatusMap builds a StatusMap from config-level string pairs, rejecting
// values outside the shared vocabulary.
func ParseStatusMap(raw map[string]string) (StatusMap, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(StatusMap, len(raw))
	for rawStatus, canonical := range raw {
		key := strings.ToLower(strings.TrimSpace(rawStatus))
		if key == "" {
			return nil, errors.New("payments: empty gateway status in mapping")
		}
		switch Status(strings.ToLower(strings.TrimSpace(canonical))) {
		case StatusPending:
			out[key] = StatusPending
		case StatusSucceeded:
			out[key] = StatusSucceeded
		case StatusFailed:
			out[key] = StatusFailed
		default:
			return nil, fmt.Errorf("payments: unknown canonical status %q for %q", canonical, rawStatus)
		}
	}
	return out, nil
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateSession delegates to the resolved provider and stamps the provider key.
func (m *Manager) CreateSession(ctx context.Context, paymentCtx PaymentContext, req SessionRequest) (Session, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return Session{}, err
	}
	session, err := provider.CreateSession(ctx, req)
	if err != nil {
		return Session{}, err
	}
	session.Provider = key
	return session, nil
}

// FetchAttempts delegates to the resolved provider.
func (m *Manager) FetchAttempts(ctx context.Context, paymentCtx PaymentContext, req AttemptsRequest) ([]AttemptRecord, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return nil, err
	}
	return provider.FetchAttempts(ctx, req)
}
