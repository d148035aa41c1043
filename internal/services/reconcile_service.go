package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/festpass/api/internal/domain"
	"github.com/festpass/api/internal/payments"
	"github.com/festpass/api/internal/repositories"
)

const (
	defaultReconcileInterval = time.Minute
	defaultReconcileGrace    = 5 * time.Minute
	defaultReconcilePageSize = 50
	defaultStuckThreshold    = 5
	reconcileMetricNamespace = "festpass/reconcile"
)

// ReconcileServiceDeps bundles collaborators required to construct the reconciler.
type ReconcileServiceDeps struct {
	Orders  repositories.OrderRepository
	Gateway PaymentGateway
	Applier AttemptApplier
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
	Meter   metric.Meter
	// GracePeriod keeps freshly created orders out of the sweep so normal
	// checkout flows are not raced by the reconciler.
	GracePeriod time.Duration
	Interval    time.Duration
	// StuckThreshold is the number of consecutive fetch failures after
	// which an order is flagged for manual attention.
	StuckThreshold int
	PageSize       int
}

type reconcileService struct {
	orders         repositories.OrderRepository
	gateway        PaymentGateway
	applier        AttemptApplier
	clock          func() time.Time
	logger         func(context.Context, string, map[string]any)
	grace          time.Duration
	interval       time.Duration
	stuckThreshold int
	pageSize       int

	scanned  metric.Int64Counter
	resolved metric.Int64Counter
	stuck    metric.Int64Counter
}

// NewReconcileService wires a ReconcileService that sweeps unresolved orders
// and asks the gateway for their attempt reports.
func NewReconcileService(deps ReconcileServiceDeps) (ReconcileService, error) {
	if deps.Orders == nil {
		return nil, errors.New("reconcile service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("reconcile service: payment gateway is required")
	}
	if deps.Applier == nil {
		return nil, errors.New("reconcile service: attempt applier is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	grace := deps.GracePeriod
	if grace <= 0 {
		grace = defaultReconcileGrace
	}
	interval := deps.Interval
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	threshold := deps.StuckThreshold
	if threshold <= 0 {
		threshold = defaultStuckThreshold
	}
	pageSize := deps.PageSize
	if pageSize <= 0 {
		pageSize = defaultReconcilePageSize
	}

	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(reconcileMetricNamespace)
	}
	scanned, _ := meter.Int64Counter(
		"reconcile.orders.scanned",
		metric.WithDescription("Unresolved orders examined per sweep"),
	)
	resolved, _ := meter.Int64Counter(
		"reconcile.orders.resolved",
		metric.WithDescription("Orders driven to a terminal status by reconciliation"),
	)
	stuck, _ := meter.Int64Counter(
		"reconcile.orders.stuck",
		metric.WithDescription("Orders newly flagged as stuck after repeated fetch failures"),
	)

	return &reconcileService{
		orders:         deps.Orders,
		gateway:        deps.Gateway,
		applier:        deps.Applier,
		clock:          func() time.Time { return clock().UTC() },
		logger:         logger,
		grace:          grace,
		interval:       interval,
		stuckThreshold: threshold,
		pageSize:       pageSize,
		scanned:        scanned,
		resolved:       resolved,
		stuck:          stuck,
	}, nil
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *reconcileService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			report, err := s.RunOnce(ctx)
			if err != nil {
				s.logger(ctx, "reconcile.sweep.failed", map[string]any{
					"error": err.Error(),
				})
				continue
			}
			if report.Scanned > 0 {
				s.logger(ctx, "reconcile.sweep.completed", map[string]any{
					"scanned":  report.Scanned,
					"resolved": report.Resolved,
					"failed":   report.Failed,
					"stuck":    report.Stuck,
					"duration": report.Duration.String(),
				})
			}
		}
	}
}

// RunOnce performs a single sweep over all unresolved orders older than the
// grace period.
func (s *reconcileService) RunOnce(ctx context.Context) (ReconcileReport, error) {
	started := s.clock()
	report := ReconcileReport{StartedAt: started}

	cutoff := started.Add(-s.grace)
	filter := domain.OrderFilter{
		Statuses:      []domain.OrderStatus{domain.OrderStatusCreated, domain.OrderStatusPending},
		CreatedBefore: &cutoff,
	}

	pageToken := ""
	for {
		page, err := s.orders.ListUnresolved(ctx, filter, domain.Pagination{
			PageSize:  s.pageSize,
			PageToken: pageToken,
		})
		if err != nil {
			return report, err
		}

		for _, order := range page.Items {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Scanned++
			if s.scanned != nil {
				s.scanned.Add(ctx, 1)
			}
			s.reconcileOrder(ctx, order, &report)
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	report.Duration = s.clock().Sub(started)
	return report, nil
}

func (s *reconcileService) reconcileOrder(ctx context.Context, order domain.Order, report *ReconcileReport) {
	records, err := s.gateway.FetchAttempts(ctx, payments.PaymentContext{
		PreferredProvider: order.GatewayProvider,
		Currency:          order.Currency,
	}, payments.AttemptsRequest{
		OrderID:   order.ID,
		SessionID: order.GatewaySessionID,
	})
	if err != nil {
		s.recordFetchFailure(ctx, order, err, report)
		return
	}

	if order.ReconcileFailures > 0 {
		if err := s.orders.RecordReconcileOutcome(ctx, order.ID, 0, false, s.clock()); err != nil {
			s.logger(ctx, "reconcile.reset.failed", map[string]any{
				"order": order.ID,
				"error": err.Error(),
			})
		}
	}

	if len(records) == 0 {
		return
	}

	updated, err := s.applier.ApplyAttempts(ctx, order.ID, AttemptsFromGateway(order, records))
	if err != nil {
		s.logger(ctx, "reconcile.apply.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
		report.Failed++
		return
	}
	if updated.Status.IsTerminal() {
		report.Resolved++
		if s.resolved != nil {
			s.resolved.Add(ctx, 1)
		}
	}
}

func (s *reconcileService) recordFetchFailure(ctx context.Context, order domain.Order, cause error, report *ReconcileReport) {
	report.Failed++
	failures := order.ReconcileFailures + 1
	nowStuck := failures >= s.stuckThreshold

	if err := s.orders.RecordReconcileOutcome(ctx, order.ID, failures, nowStuck, s.clock()); err != nil {
		s.logger(ctx, "reconcile.outcome.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
	}

	s.logger(ctx, "reconcile.fetch.failed", map[string]any{
		"order":    order.ID,
		"failures": failures,
		"stuck":    nowStuck,
		"error":    cause.Error(),
	})

	if nowStuck && !order.Stuck {
		report.Stuck++
		if s.stuck != nil {
			s.stuck.Add(ctx, 1)
		}
	}
}

// AttemptsFromGateway maps gateway attempt records onto stored attempts for
// the given order. RecordedAt is left zero; ApplyAttempts stamps it.
func AttemptsFromGateway(order domain.Order, records []payments.AttemptRecord) []domain.PaymentAttempt {
	if len(records) == 0 {
		return nil
	}
	attempts := make([]domain.PaymentAttempt, 0, len(records))
	for _, record := range records {
		attempts = append(attempts, domain.PaymentAttempt{
			ID:          record.ID,
			OrderID:     order.ID,
			Provider:    order.GatewayProvider,
			Status:      attemptStatusFromGateway(record.Status),
			Amount:      record.Amount,
			Currency:    record.Currency,
			Message:     record.Message,
			CompletedAt: record.CompletedAt,
		})
	}
	return attempts
}

// attemptStatusFromGateway maps the gateway vocabulary onto the stored one.
func attemptStatusFromGateway(status payments.Status) domain.AttemptStatus {
	switch status {
	case payments.StatusSucceeded:
		return domain.AttemptStatusSuccess
	case payments.StatusFailed:
		return domain.AttemptStatusFailed
	default:
		return domain.AttemptStatusPending
	}
}
