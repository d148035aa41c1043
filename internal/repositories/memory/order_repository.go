package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/festpass/api/internal/domain"
)

// OrderRepository is a mutex-guarded in-memory order store for tests and
// local development. It mirrors the Firestore implementation's semantics:
// insert-with-unique-idempotency-key and compare-and-set status updates.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	keys   map[string]string
}

// NewOrderRepository constructs an empty in-memory order repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders: make(map[string]domain.Order),
		keys:   make(map[string]string),
	}
}

// Insert stores the order and claims its idempotency key atomically.
func (r *OrderRepository) Insert(_ context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("memory orders: order id is required")
	}
	if strings.TrimSpace(order.IdempotencyKey) == "" {
		return errors.New("memory orders: idempotency key is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.keys[order.IdempotencyKey]; exists {
		return conflictError("memory orders: idempotency key already claimed")
	}
	if _, exists := r.orders[order.ID]; exists {
		return conflictError("memory orders: order %s already exists", order.ID)
	}

	r.keys[order.IdempotencyKey] = order.ID
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

// FindByID fetches one order by its identifier.
func (r *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFoundError("memory orders: order %s not found", orderID)
	}
	return cloneOrder(order), nil
}

// FindByIdempotencyKey resolves the order that claimed the supplied key.
func (r *OrderRepository) FindByIdempotencyKey(_ context.Context, key string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orderID, ok := r.keys[key]
	if !ok {
		return domain.Order{}, notFoundError("memory orders: idempotency key not claimed")
	}
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFoundError("memory orders: order %s not found", orderID)
	}
	return cloneOrder(order), nil
}

// UpdateStatus compare-and-sets the status field. Terminal stored statuses
// and stale expectations fail with a conflict.
func (r *OrderRepository) UpdateStatus(_ context.Context, orderID string, expected, next domain.OrderStatus, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return notFoundError("memory orders: order %s not found", orderID)
	}
	if order.Status.IsTerminal() {
		return conflictError("memory orders: order %s is terminal (%s)", orderID, order.Status)
	}
	if order.Status != expected {
		return conflictError("memory orders: order %s status is %s, expected %s", orderID, order.Status, expected)
	}

	order.Status = next
	order.UpdatedAt = updatedAt
	r.orders[orderID] = order
	return nil
}

// SetGatewaySession records the remote session handle on the order.
func (r *OrderRepository) SetGatewaySession(_ context.Context, orderID, provider, sessionID string, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return notFoundError("memory orders: order %s not found", orderID)
	}
	order.GatewayProvider = provider
	order.GatewaySessionID = sessionID
	order.UpdatedAt = updatedAt
	r.orders[orderID] = order
	return nil
}

// MarkCouponRedeemed flags the order's coupon usage as counted.
func (r *OrderRepository) MarkCouponRedeemed(_ context.Context, orderID string, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return notFoundError("memory orders: order %s not found", orderID)
	}
	order.CouponRedeemed = true
	order.UpdatedAt = updatedAt
	r.orders[orderID] = order
	return nil
}

// RecordReconcileOutcome persists reconciliation bookkeeping for the order.
func (r *OrderRepository) RecordReconcileOutcome(_ context.Context, orderID string, failures int, stuck bool, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return notFoundError("memory orders: order %s not found", orderID)
	}
	order.ReconcileFailures = failures
	order.Stuck = stuck
	order.UpdatedAt = updatedAt
	r.orders[orderID] = order
	return nil
}

// ListUnresolved returns orders matching the filter, oldest first.
func (r *OrderRepository) ListUnresolved(_ context.Context, filter domain.OrderFilter, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []domain.Order
	for _, order := range r.orders {
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, order.Status) {
			continue
		}
		if filter.CreatedBefore != nil && !order.CreatedAt.Before(*filter.CreatedBefore) {
			continue
		}
		if filter.Stuck != nil && order.Stuck != *filter.Stuck {
			continue
		}
		matched = append(matched, cloneOrder(order))
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		if cursor, err := time.Parse(time.RFC3339Nano, token); err == nil {
			idx := sort.Search(len(matched), func(i int) bool {
				return matched[i].CreatedAt.After(cursor)
			})
			matched = matched[idx:]
		}
	}

	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	page := domain.CursorPage[domain.Order]{}
	if len(matched) > pageSize {
		page.Items = matched[:pageSize]
		page.NextPageToken = page.Items[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
	} else {
		page.Items = matched
	}
	return page, nil
}

func containsStatus(statuses []domain.OrderStatus, status domain.OrderStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func cloneOrder(order domain.Order) domain.Order {
	items := make([]domain.CartItem, len(order.Items))
	copy(items, order.Items)
	order.Items = items
	return order
}
