package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/festpass/api/internal/platform/config"
	"github.com/festpass/api/internal/repositories"
	"github.com/festpass/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders    services.OrderService
	Coupons   services.CouponService
	Reconcile services.ReconcileService
}

// Dependencies carries the externally constructed collaborators the container
// cannot build from the registry alone: the payment gateway adapter, the
// optional event publisher, and a structured logger.
type Dependencies struct {
	Gateway services.PaymentGateway
	Events  services.OrderEventPublisher
	Logger  func(ctx context.Context, event string, fields map[string]any)
	Clock   func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// Firestore-backed registries and the Stripe gateway, while tests can supply
// in-memory registries and stub gateways.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Dependencies) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment gateway is required")
	}

	svc, err := buildServices(cfg, reg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, reg repositories.Registry, deps Dependencies) (Services, error) {
	var svc Services

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: reg.Coupons(),
		Clock:   clock,
		Logger:  deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build coupon service: %w", err)
	}
	svc.Coupons = couponSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Attempts:   reg.Attempts(),
		Coupons:    reg.Coupons(),
		Gateway:    deps.Gateway,
		Events:     deps.Events,
		Clock:      clock,
		Logger:     deps.Logger,
		SuccessURL: cfg.Orders.SuccessURL,
		CancelURL:  cfg.Orders.CancelURL,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	reconcileSvc, err := services.NewReconcileService(services.ReconcileServiceDeps{
		Orders:         reg.Orders(),
		Gateway:        deps.Gateway,
		Applier:        orderSvc,
		Clock:          clock,
		Logger:         deps.Logger,
		GracePeriod:    cfg.Reconcile.GracePeriod,
		Interval:       cfg.Reconcile.Interval,
		StuckThreshold: cfg.Reconcile.StuckThreshold,
		PageSize:       cfg.Reconcile.PageSize,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build reconcile service: %w", err)
	}
	svc.Reconcile = reconcileSvc

	return svc, nil
}
