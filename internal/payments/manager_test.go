package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	lastOp   string
	session  Session
	attempts []AttemptRecord
	err      error
}

func (f *fakeProvider) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	f.lastOp = "create"
	return f.session, f.err
}

func (f *fakeProvider) FetchAttempts(ctx context.Context, req AttemptsRequest) ([]AttemptRecord, error) {
	f.lastOp = "fetch"
	return f.attempts, f.err
}

func TestManagerCreateSessionUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{session: Session{ID: "sess_stripe"}}
	razorpay := &fakeProvider{session: Session{ID: "sess_razorpay"}}

	mgr, err := NewManager(map[string]Provider{
		"stripe":   stripe,
		"razorpay": razorpay,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	session, err := mgr.CreateSession(ctx, PaymentContext{PreferredProvider: "razorpay"}, SessionRequest{OrderID: "ord_1", Currency: "USD"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if session.Provider != "razorpay" {
		t.Fatalf("expected provider 'razorpay', got %q", session.Provider)
	}
	if razorpay.lastOp != "create" {
		t.Fatalf("expected razorpay provider to handle call")
	}
	if stripe.lastOp != "" {
		t.Fatalf("expected stripe provider to remain unused")
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{session: Session{ID: "sess_stripe"}}
	razorpay := &fakeProvider{session: Session{ID: "sess_razorpay"}}

	mgr, err := NewManager(
		map[string]Provider{
			"stripe":   stripe,
			"razorpay": razorpay,
		},
		WithCurrencyRoutes(map[string]string{"INR": "razorpay"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	session, err := mgr.CreateSession(ctx, PaymentContext{Currency: "INR"}, SessionRequest{OrderID: "ord_1", Currency: "INR"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.Provider != "razorpay" {
		t.Fatalf("expected provider 'razorpay', got %q", session.Provider)
	}
	if razorpay.lastOp != "create" {
		t.Fatalf("expected razorpay provider to handle call")
	}
}

func TestManagerFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{attempts: []AttemptRecord{{ID: "pi_123", Status: StatusPending}}}

	mgr, err := NewManager(map[string]Provider{"stripe": stripe})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	attempts, err := mgr.FetchAttempts(ctx, PaymentContext{}, AttemptsRequest{OrderID: "ord_1", SessionID: "cs_123"})
	if err != nil {
		t.Fatalf("fetch attempts: %v", err)
	}
	if stripe.lastOp != "fetch" {
		t.Fatalf("expected fetch to invoke default provider")
	}
	if len(attempts) != 1 || attempts[0].ID != "pi_123" {
		t.Fatalf("unexpected attempts: %+v", attempts)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(map[string]Provider{"stripe": &fakeProvider{}, "razorpay": &fakeProvider{}}, WithDefaultProvider(""))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = mgr.CreateSession(ctx, PaymentContext{PreferredProvider: "unknown"}, SessionRequest{OrderID: "ord_1", Currency: "USD"})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager(map[string]Provider{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when providers empty")
	}
}

func TestParseStatusMap(t *testing.T) {
	m, err := ParseStatusMap(map[string]string{
		"Settlement": "succeeded",
		"DENY":       "failed",
		"pending":    "pending",
	})
	if err != nil {
		t.Fatalf("parse status map: %v", err)
	}

	if status, ok := m.Normalize("settlement", nil); !ok || status != StatusSucceeded {
		t.Fatalf("expected settlement to map to succeeded, got %q ok=%v", status, ok)
	}
	if status, ok := m.Normalize("deny", nil); !ok || status != StatusFailed {
		t.Fatalf("expected deny to map to failed, got %q ok=%v", status, ok)
	}

	if _, err := ParseStatusMap(map[string]string{"x": "not-a-status"}); err == nil {
		t.Fatalf("expected error for unknown canonical status")
	}
}

func TestStatusMapOverridesBeatDefaults(t *testing.T) {
	defaults := StatusMap{"processing": StatusPending}
	overrides := StatusMap{"processing": StatusFailed}

	if status, ok := overrides.Normalize("processing", defaults); !ok || status != StatusFailed {
		t.Fatalf("expected override to win, got %q ok=%v", status, ok)
	}
	if status, ok := StatusMap(nil).Normalize("processing", defaults); !ok || status != StatusPending {
		t.Fatalf("expected default fallback, got %q ok=%v", status, ok)
	}
	if _, ok := StatusMap(nil).Normalize("mystery", defaults); ok {
		t.Fatalf("expected unmapped status to miss")
	}
}
