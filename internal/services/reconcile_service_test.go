package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/festpass/api/internal/domain"
	"github.com/festpass/api/internal/payments"
)

type stubApplier struct {
	applyFn func(context.Context, string, []domain.PaymentAttempt) (domain.Order, error)
}

func (s *stubApplier) ApplyAttempts(ctx context.Context, orderID string, attempts []domain.PaymentAttempt) (domain.Order, error) {
	if s.applyFn != nil {
		return s.applyFn(ctx, orderID, attempts)
	}
	return domain.Order{ID: orderID}, nil
}

func newTestReconcileService(t *testing.T, deps ReconcileServiceDeps) ReconcileService {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = func() time.Time {
			return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		}
	}
	if deps.Applier == nil {
		deps.Applier = &stubApplier{}
	}
	svc, err := NewReconcileService(deps)
	if err != nil {
		t.Fatalf("new reconcile service: %v", err)
	}
	return svc
}

func TestReconcileRunOnceAppliesGracePeriod(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var gotFilter domain.OrderFilter
	orders := &stubOrderRepo{
		listFn: func(_ context.Context, filter domain.OrderFilter, _ domain.Pagination) (domain.CursorPage[domain.Order], error) {
			gotFilter = filter
			return domain.CursorPage[domain.Order]{}, nil
		},
	}

	svc := newTestReconcileService(t, ReconcileServiceDeps{
		Orders:      orders,
		Gateway:     &stubGateway{},
		Clock:       func() time.Time { return now },
		GracePeriod: 10 * time.Minute,
	})

	report, err := svc.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if report.Scanned != 0 {
		t.Fatalf("expected empty sweep, scanned %d", report.Scanned)
	}
	if gotFilter.CreatedBefore == nil || !gotFilter.CreatedBefore.Equal(now.Add(-10*time.Minute)) {
		t.Fatalf("expected cutoff at now minus grace, got %v", gotFilter.CreatedBefore)
	}
	if len(gotFilter.Statuses) != 2 {
		t.Fatalf("expected CREATED and PENDING in filter, got %v", gotFilter.Statuses)
	}
}

func TestReconcileRunOnceResolvesAndCountsFailures(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	unresolved := []domain.Order{
		{ID: "ord_ok", Status: domain.OrderStatusPending, GatewayProvider: "stripe", GatewaySessionID: "cs_ok"},
		{ID: "ord_bad", Status: domain.OrderStatusPending, GatewayProvider: "stripe", GatewaySessionID: "cs_bad"},
	}

	var outcomes []string
	orders := &stubOrderRepo{
		listFn: func(_ context.Context, _ domain.OrderFilter, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
			if pager.PageToken != "" {
				return domain.CursorPage[domain.Order]{}, nil
			}
			return domain.CursorPage[domain.Order]{Items: unresolved}, nil
		},
		reconcileFn: func(_ context.Context, orderID string, failures int, stuck bool, _ time.Time) error {
			outcomes = append(outcomes, orderID)
			if orderID == "ord_bad" && (failures != 1 || stuck) {
				t.Fatalf("expected first failure without stuck flag, got failures=%d stuck=%v", failures, stuck)
			}
			return nil
		},
	}
	gateway := &stubGateway{
		fetchFn: func(_ context.Context, _ payments.PaymentContext, req payments.AttemptsRequest) ([]payments.AttemptRecord, error) {
			if req.SessionID == "cs_bad" {
				return nil, errors.New("gateway boom")
			}
			return []payments.AttemptRecord{
				{ID: "pay_1", Status: payments.StatusSucceeded, Amount: 1000, Currency: "INR"},
			}, nil
		},
	}
	var applied []domain.PaymentAttempt
	applier := &stubApplier{
		applyFn: func(_ context.Context, orderID string, attempts []domain.PaymentAttempt) (domain.Order, error) {
			applied = append(applied, attempts...)
			return domain.Order{ID: orderID, Status: domain.OrderStatusSuccess}, nil
		},
	}

	svc := newTestReconcileService(t, ReconcileServiceDeps{
		Orders:  orders,
		Gateway: gateway,
		Applier: applier,
		Clock:   func() time.Time { return now },
	})

	report, err := svc.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if report.Scanned != 2 || report.Resolved != 1 || report.Failed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(applied) != 1 {
		t.Fatalf("expected 1 applied attempt, got %d", len(applied))
	}
	if applied[0].Status != domain.AttemptStatusSuccess || applied[0].Provider != "stripe" {
		t.Fatalf("unexpected mapped attempt: %+v", applied[0])
	}
	if len(outcomes) != 1 || outcomes[0] != "ord_bad" {
		t.Fatalf("expected one failure outcome for ord_bad, got %v", outcomes)
	}
}

func TestReconcileFlagsStuckAfterThreshold(t *testing.T) {
	ctx := context.Background()
	order := domain.Order{
		ID:                "ord_stuck",
		Status:            domain.OrderStatusPending,
		ReconcileFailures: 2,
	}
	var gotFailures int
	var gotStuck bool
	orders := &stubOrderRepo{
		listFn: func(_ context.Context, _ domain.OrderFilter, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
			if pager.PageToken != "" {
				return domain.CursorPage[domain.Order]{}, nil
			}
			return domain.CursorPage[domain.Order]{Items: []domain.Order{order}}, nil
		},
		reconcileFn: func(_ context.Context, _ string, failures int, stuck bool, _ time.Time) error {
			gotFailures, gotStuck = failures, stuck
			return nil
		},
	}
	gateway := &stubGateway{
		fetchFn: func(context.Context, payments.PaymentContext, payments.AttemptsRequest) ([]payments.AttemptRecord, error) {
			return nil, errors.New("still down")
		},
	}

	svc := newTestReconcileService(t, ReconcileServiceDeps{
		Orders:         orders,
		Gateway:        gateway,
		StuckThreshold: 3,
	})

	report, err := svc.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if gotFailures != 3 || !gotStuck {
		t.Fatalf("expected third consecutive failure to flag stuck, got failures=%d stuck=%v", gotFailures, gotStuck)
	}
	if report.Stuck != 1 {
		t.Fatalf("expected 1 newly stuck order, got %d", report.Stuck)
	}
}

func TestReconcileResetsFailureCountOnSuccessfulFetch(t *testing.T) {
	ctx := context.Background()
	order := domain.Order{
		ID:                "ord_back",
		Status:            domain.OrderStatusPending,
		ReconcileFailures: 4,
		Stuck:             true,
	}
	var gotFailures = -1
	var gotStuck = true
	orders := &stubOrderRepo{
		listFn: func(_ context.Context, _ domain.OrderFilter, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
			if pager.PageToken != "" {
				return domain.CursorPage[domain.Order]{}, nil
			}
			return domain.CursorPage[domain.Order]{Items: []domain.Order{order}}, nil
		},
		reconcileFn: func(_ context.Context, _ string, failures int, stuck bool, _ time.Time) error {
			gotFailures, gotStuck = failures, stuck
			return nil
		},
	}

	svc := newTestReconcileService(t, ReconcileServiceDeps{
		Orders:  orders,
		Gateway: &stubGateway{},
	})

	if _, err := svc.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if gotFailures != 0 || gotStuck {
		t.Fatalf("expected failure count reset, got failures=%d stuck=%v", gotFailures, gotStuck)
	}
}

func TestAttemptStatusFromGateway(t *testing.T) {
	cases := map[payments.Status]domain.AttemptStatus{
		payments.StatusSucceeded: domain.AttemptStatusSuccess,
		payments.StatusFailed:    domain.AttemptStatusFailed,
		payments.StatusPending:   domain.AttemptStatusPending,
	}
	for in, want := range cases {
		if got := attemptStatusFromGateway(in); got != want {
			t.Fatalf("map %s: expected %s, got %s", in, want, got)
		}
	}
}
