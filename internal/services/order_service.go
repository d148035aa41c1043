package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/festpass/api/internal/domain"
	"github.com/festpass/api/internal/payments"
	"github.com/festpass/api/internal/repositories"
)

const (
	orderEventCreated   = "order.created"
	orderEventSucceeded = "order.succeeded"
	orderEventFailed    = "order.failed"

	orderIDPrefix   = "ord_"
	defaultCurrency = "INR"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderCouponRejected indicates the supplied coupon failed validation.
	// The wrapped message carries the engine's rejection reason.
	ErrOrderCouponRejected = errors.New("order: coupon rejected")
	// ErrOrderGatewayUnavailable indicates session creation failed on a
	// transient gateway fault after exhausting retries.
	ErrOrderGatewayUnavailable = errors.New("order: payment gateway unavailable")
	// ErrOrderGatewayRejected indicates the gateway refused the session outright.
	ErrOrderGatewayRejected = errors.New("order: payment gateway rejected session")
)

// CouponRejectionError carries the discount engine's verdict so callers can
// surface the reason code without parsing error strings.
type CouponRejectionError struct {
	Reason  domain.CouponReason
	Message string
}

func (e *CouponRejectionError) Error() string {
	return fmt.Sprintf("order: coupon rejected: %s: %s", e.Reason, e.Message)
}

// Is matches ErrOrderCouponRejected so errors.Is keeps working.
func (e *CouponRejectionError) Is(target error) bool {
	return target == ErrOrderCouponRejected
}

// OrderEventPublisher publishes order lifecycle events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order lifecycle events.
type OrderEvent struct {
	Type           string
	OrderID        string
	PreviousStatus domain.OrderStatus
	CurrentStatus  domain.OrderStatus
	FinalAmount    int64
	Currency       string
	CustomerEmail  string
	OccurredAt     time.Time
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Attempts    repositories.PaymentAttemptRepository
	Coupons     repositories.CouponRepository
	Gateway     PaymentGateway
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
	// SuccessURL and CancelURL are forwarded to the gateway session so the
	// customer lands back on the site after checkout.
	SuccessURL string
	CancelURL  string
}

type orderService struct {
	orders     repositories.OrderRepository
	attempts   repositories.PaymentAttemptRepository
	coupons    repositories.CouponRepository
	gateway    PaymentGateway
	events     OrderEventPublisher
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
	successURL string
	cancelURL  string
	keys       *keyedMutex
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Attempts == nil {
		return nil, errors.New("order service: attempt repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("order service: payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:   deps.Orders,
		attempts: deps.Attempts,
		coupons:  deps.Coupons,
		gateway:  deps.Gateway,
		events:   deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:      idGen,
		logger:     logger,
		successURL: deps.SuccessURL,
		cancelURL:  deps.CancelURL,
		keys:       newKeyedMutex(),
	}, nil
}

// CreateOrder validates the cart, prices the coupon, persists the order under
// the caller's idempotency key, and opens a gateway session. Replays of the
// same key return the originally created order without touching the gateway.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (OrderCreation, error) {
	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key == "" {
		return OrderCreation{}, fmt.Errorf("%w: idempotency key is required", ErrOrderInvalidInput)
	}
	if err := domain.ValidateCart(cmd.Cart); err != nil {
		return OrderCreation{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	if err := domain.ValidateCustomer(cmd.Customer); err != nil {
		return OrderCreation{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	now := s.clock()
	requested := cmd.Cart.Total()
	final := requested
	var discount int64
	couponCode := domain.NormalizeCouponCode(cmd.CouponCode)
	if couponCode != "" {
		result, err := s.priceCoupon(ctx, couponCode, requested, now)
		if err != nil {
			return OrderCreation{}, err
		}
		discount = result.DiscountAmount
		final = result.FinalAmount
	}

	// Concurrent requests with the same key serialise here; the loser of
	// the insert race re-reads the winner's order below.
	unlock := s.keys.Lock(key)
	defer unlock()

	if existing, ok, err := s.findByKey(ctx, key); err != nil {
		return OrderCreation{}, err
	} else if ok {
		return s.replayCreation(ctx, existing), nil
	}

	order := domain.Order{
		ID:              s.nextOrderID(),
		Status:          domain.OrderStatusCreated,
		Currency:        currency,
		Items:           cmd.Cart.Items,
		Customer:        cmd.Customer,
		RequestedAmount: requested,
		CouponCode:      couponCode,
		DiscountAmount:  discount,
		FinalAmount:     final,
		IdempotencyKey:  key,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			// Another writer claimed the key between the read and the
			// insert. Hand back whatever it created.
			if existing, ok, readErr := s.findByKey(ctx, key); readErr == nil && ok {
				return s.replayCreation(ctx, existing), nil
			}
		}
		return OrderCreation{}, s.mapRepositoryError(err)
	}

	session, err := s.openSession(ctx, &order)
	if err != nil {
		return OrderCreation{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		CurrentStatus: order.Status,
		FinalAmount:   order.FinalAmount,
		Currency:      order.Currency,
		CustomerEmail: order.Customer.Email,
		OccurredAt:    now,
	})

	return OrderCreation{Order: order, Session: session}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (OrderDetails, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return OrderDetails{}, err
	}
	attempts, err := s.attempts.ListByOrder(ctx, order.ID)
	if err != nil {
		return OrderDetails{}, s.mapRepositoryError(err)
	}
	return OrderDetails{Order: order, Attempts: attempts}, nil
}

func (s *orderService) GetOrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	return order.Status, nil
}

// ApplyAttempts records the reported attempts and folds them into the order
// status. Both webhook delivery and reconciliation funnel through here, so
// replays and out-of-order reports resolve to the same outcome.
func (s *orderService) ApplyAttempts(ctx context.Context, orderID string, attempts []domain.PaymentAttempt) (domain.Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if len(attempts) == 0 {
		return order, nil
	}
	if order.Status.IsTerminal() {
		s.logger(ctx, "order.attempts.after_terminal", map[string]any{
			"order":    order.ID,
			"status":   string(order.Status),
			"attempts": len(attempts),
		})
		return order, nil
	}

	now := s.clock()
	for _, attempt := range attempts {
		attempt.OrderID = order.ID
		if attempt.Provider == "" {
			attempt.Provider = order.GatewayProvider
		}
		if attempt.RecordedAt.IsZero() {
			attempt.RecordedAt = now
		}
		if err := s.attempts.Record(ctx, attempt); err != nil {
			return domain.Order{}, s.mapRepositoryError(err)
		}
	}

	recorded, err := s.attempts.ListByOrder(ctx, order.ID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	next := domain.ResolveStatus(order.Status, recorded)
	if next == order.Status {
		return order, nil
	}

	previous := order.Status
	if err := s.orders.UpdateStatus(ctx, order.ID, previous, next, now); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			// A concurrent applier won the transition; its side effects
			// cover this report, so just return the current state.
			s.logger(ctx, "order.status.race", map[string]any{
				"order": order.ID,
				"from":  string(previous),
				"to":    string(next),
			})
			return s.loadOrder(ctx, order.ID)
		}
		return domain.Order{}, s.mapRepositoryError(err)
	}

	order.Status = next
	order.UpdatedAt = now

	if next.IsTerminal() {
		s.settleOrder(ctx, &order, previous, now)
	}
	return order, nil
}

// settleOrder runs the side effects of a terminal transition: coupon
// redemption on success and the edge-triggered lifecycle event.
func (s *orderService) settleOrder(ctx context.Context, order *domain.Order, previous domain.OrderStatus, now time.Time) {
	if order.Status == domain.OrderStatusSuccess && order.CouponCode != "" && !order.CouponRedeemed {
		s.redeemCoupon(ctx, order, now)
	}

	eventType := orderEventFailed
	if order.Status == domain.OrderStatusSuccess {
		eventType = orderEventSucceeded
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           eventType,
		OrderID:        order.ID,
		PreviousStatus: previous,
		CurrentStatus:  order.Status,
		FinalAmount:    order.FinalAmount,
		Currency:       order.Currency,
		CustomerEmail:  order.Customer.Email,
		OccurredAt:     now,
	})
}

// redeemCoupon consumes one coupon use for a successful order. Losing the
// usage-limit race is logged, not surfaced: the order already settled and the
// customer keeps the price they were quoted.
func (s *orderService) redeemCoupon(ctx context.Context, order *domain.Order, now time.Time) {
	if s.coupons == nil {
		return
	}
	if _, err := s.coupons.Redeem(ctx, order.CouponCode, now); err != nil {
		event := "order.coupon.redeem.failed"
		if errors.Is(err, repositories.ErrCouponLimitReached) {
			event = "order.coupon.limit_reached"
		}
		s.logger(ctx, event, map[string]any{
			"order":  order.ID,
			"coupon": order.CouponCode,
			"error":  err.Error(),
		})
		return
	}
	if err := s.orders.MarkCouponRedeemed(ctx, order.ID, now); err != nil {
		s.logger(ctx, "order.coupon.mark_redeemed.failed", map[string]any{
			"order":  order.ID,
			"coupon": order.CouponCode,
			"error":  err.Error(),
		})
		return
	}
	order.CouponRedeemed = true
	order.UpdatedAt = now
}

// priceCoupon applies the discount engine at creation time. A coupon that
// fails any rule rejects the whole creation so the customer never pays a
// price they did not see.
func (s *orderService) priceCoupon(ctx context.Context, code string, amount int64, now time.Time) (domain.CouponResult, error) {
	var coupon *domain.Coupon
	if s.coupons != nil {
		found, err := s.coupons.FindByCode(ctx, code)
		switch {
		case err == nil:
			coupon = &found
		default:
			var repoErr repositories.RepositoryError
			if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
				return domain.CouponResult{}, s.mapRepositoryError(err)
			}
		}
	}

	result := domain.EvaluateCoupon(coupon, amount, now)
	if !result.Valid {
		return domain.CouponResult{}, &CouponRejectionError{Reason: result.Reason, Message: result.Message}
	}
	return result, nil
}

// openSession opens the gateway checkout session for a freshly inserted
// order. The order's own ID is the gateway idempotency key, so a crashed and
// replayed creation can never open a second session. Any session failure
// marks the order FAILED locally; the error type tells the caller whether
// retrying later may help.
func (s *orderService) openSession(ctx context.Context, order *domain.Order) (payments.Session, error) {
	items := make([]payments.SessionLineItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, payments.SessionLineItem{
			Name:     item.Name,
			SKU:      item.SKU,
			Quantity: int64(item.Quantity),
			Amount:   item.UnitPrice,
			Currency: order.Currency,
		})
	}

	session, err := s.gateway.CreateSession(ctx, payments.PaymentContext{Currency: order.Currency}, payments.SessionRequest{
		OrderID:       order.ID,
		Amount:        order.FinalAmount,
		Currency:      order.Currency,
		CustomerEmail: order.Customer.Email,
		SuccessURL:    s.successURL,
		CancelURL:     s.cancelURL,
		Items:         items,
	})
	if err != nil {
		s.failOnSessionError(ctx, order, err)
		if errors.Is(err, payments.ErrUnavailable) {
			return payments.Session{}, fmt.Errorf("%w: %v", ErrOrderGatewayUnavailable, err)
		}
		return payments.Session{}, fmt.Errorf("%w: %v", ErrOrderGatewayRejected, err)
	}

	now := s.clock()
	if err := s.orders.SetGatewaySession(ctx, order.ID, session.Provider, session.ID, now); err != nil {
		return payments.Session{}, s.mapRepositoryError(err)
	}
	order.GatewayProvider = session.Provider
	order.GatewaySessionID = session.ID
	order.UpdatedAt = now
	return session, nil
}

func (s *orderService) failOnSessionError(ctx context.Context, order *domain.Order, cause error) {
	now := s.clock()
	if err := s.orders.UpdateStatus(ctx, order.ID, order.Status, domain.OrderStatusFailed, now); err != nil {
		s.logger(ctx, "order.session.fail_mark.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
		return
	}
	previous := order.Status
	order.Status = domain.OrderStatusFailed
	order.UpdatedAt = now
	s.logger(ctx, "order.session.failed", map[string]any{
		"order": order.ID,
		"error": cause.Error(),
	})
	s.settleOrder(ctx, order, previous, now)
}

// replayCreation rebuilds the creation response from a previously stored
// order without re-contacting the gateway.
func (s *orderService) replayCreation(ctx context.Context, order domain.Order) OrderCreation {
	s.logger(ctx, "order.create.replayed", map[string]any{
		"order": order.ID,
	})
	return OrderCreation{
		Order: order,
		Session: payments.Session{
			ID:       order.GatewaySessionID,
			Provider: order.GatewayProvider,
		},
		Replayed: true,
	}
}

func (s *orderService) findByKey(ctx context.Context, key string) (domain.Order, bool, error) {
	order, err := s.orders.FindByIdempotencyKey(ctx, key)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Order{}, false, nil
		}
		return domain.Order{}, false, s.mapRepositoryError(err)
	}
	return order, true, nil
}

func (s *orderService) loadOrder(ctx context.Context, orderID string) (domain.Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": string(event.CurrentStatus),
		})
	}
}
