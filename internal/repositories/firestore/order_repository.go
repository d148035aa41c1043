package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/festpass/api/internal/domain"
	pfirestore "github.com/festpass/api/internal/platform/firestore"
)

const (
	ordersCollection      = "orders"
	idempotencyCollection = "order_idempotency"
)

type orderLineDocument struct {
	SKU       string `firestore:"sku,omitempty"`
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
}

type orderCustomerDocument struct {
	Name  string `firestore:"name"`
	Email string `firestore:"email"`
	Phone string `firestore:"phone"`
}

type orderDocument struct {
	Status            string                `firestore:"status"`
	Currency          string                `firestore:"currency"`
	Items             []orderLineDocument   `firestore:"items"`
	Customer          orderCustomerDocument `firestore:"customer"`
	RequestedAmount   int64                 `firestore:"requestedAmount"`
	CouponCode        string                `firestore:"couponCode,omitempty"`
	DiscountAmount    int64                 `firestore:"discountAmount"`
	FinalAmount       int64                 `firestore:"finalAmount"`
	CouponRedeemed    bool                  `firestore:"couponRedeemed"`
	IdempotencyKey    string                `firestore:"idempotencyKey"`
	GatewayProvider   string                `firestore:"gatewayProvider,omitempty"`
	GatewaySessionID  string                `firestore:"gatewaySessionId,omitempty"`
	ReconcileFailures int                   `firestore:"reconcileFailures"`
	Stuck             bool                  `firestore:"stuck"`
	CreatedAt         time.Time             `firestore:"createdAt"`
	UpdatedAt         time.Time             `firestore:"updatedAt"`
}

type idempotencyDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// OrderRepository implements repositories.OrderRepository backed by Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	keys     *pfirestore.BaseRepository[idempotencyDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
		keys:     pfirestore.NewBaseRepository[idempotencyDocument](provider, idempotencyCollection, nil, nil),
	}, nil
}

// IdempotencyKeyID derives the document ID for an idempotency-key index
// entry. Hashing keeps caller-supplied keys out of document paths.
func IdempotencyKeyID(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// Insert writes the order together with its idempotency index entry in one
// transaction. A second writer racing on the same key fails the index create
// with AlreadyExists, surfaced as a conflict for the caller to re-read.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	if strings.TrimSpace(order.IdempotencyKey) == "" {
		return errors.New("order repository: idempotency key is required")
	}

	orderRef, err := r.orders.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	keyRef, err := r.keys.DocumentRef(ctx, IdempotencyKeyID(order.IdempotencyKey))
	if err != nil {
		return err
	}

	doc := encodeOrder(order)
	keyDoc := idempotencyDocument{OrderID: order.ID, CreatedAt: order.CreatedAt}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(keyRef, keyDoc); err != nil {
			return err
		}
		return tx.Create(orderRef, doc)
	})
}

// FindByID fetches one order by its identifier.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// FindByIdempotencyKey resolves the order that claimed the supplied key.
func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, key string) (domain.Order, error) {
	entry, err := r.keys.Get(ctx, IdempotencyKeyID(key))
	if err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, entry.Data.OrderID)
}

// UpdateStatus compare-and-sets the status field inside a transaction.
// Terminal stored statuses and stale expectations both fail with a conflict.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, expected, next domain.OrderStatus, updatedAt time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}

	ref, err := r.orders.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return err
		}

		current := domain.OrderStatus(doc.Status)
		if current.IsTerminal() {
			return status.Errorf(codes.FailedPrecondition, "order %s is terminal (%s)", orderID, current)
		}
		if current != expected {
			return status.Errorf(codes.FailedPrecondition, "order %s status is %s, expected %s", orderID, current, expected)
		}

		return tx.Update(ref, []firestore.Update{
			{Path: "status", Value: string(next)},
			{Path: "updatedAt", Value: updatedAt},
		})
	})
}

// SetGatewaySession records the remote session handle on the order.
func (r *OrderRepository) SetGatewaySession(ctx context.Context, orderID, provider, sessionID string, updatedAt time.Time) error {
	_, err := r.orders.Update(ctx, orderID, []firestore.Update{
		{Path: "gatewayProvider", Value: provider},
		{Path: "gatewaySessionId", Value: sessionID},
		{Path: "updatedAt", Value: updatedAt},
	})
	return err
}

// MarkCouponRedeemed flags the order's coupon usage as counted.
func (r *OrderRepository) MarkCouponRedeemed(ctx context.Context, orderID string, updatedAt time.Time) error {
	_, err := r.orders.Update(ctx, orderID, []firestore.Update{
		{Path: "couponRedeemed", Value: true},
		{Path: "updatedAt", Value: updatedAt},
	})
	return err
}

// RecordReconcileOutcome persists reconciliation bookkeeping for the order.
func (r *OrderRepository) RecordReconcileOutcome(ctx context.Context, orderID string, failures int, stuck bool, updatedAt time.Time) error {
	_, err := r.orders.Update(ctx, orderID, []firestore.Update{
		{Path: "reconcileFailures", Value: failures},
		{Path: "stuck", Value: stuck},
		{Path: "updatedAt", Value: updatedAt},
	})
	return err
}

// ListUnresolved returns orders matching the filter, oldest first.
func (r *OrderRepository) ListUnresolved(ctx context.Context, filter domain.OrderFilter, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	docs, err := r.orders.Query(ctx, func(query firestore.Query) firestore.Query {
		if len(filter.Statuses) > 0 {
			statuses := make([]string, 0, len(filter.Statuses))
			for _, s := range filter.Statuses {
				statuses = append(statuses, string(s))
			}
			query = query.Where("status", "in", statuses)
		}
		if filter.CreatedBefore != nil {
			query = query.Where("createdAt", "<", *filter.CreatedBefore)
		}
		if filter.Stuck != nil {
			query = query.Where("stuck", "==", *filter.Stuck)
		}
		query = query.OrderBy("createdAt", firestore.Asc)
		if token := strings.TrimSpace(pager.PageToken); token != "" {
			if cursor, err := time.Parse(time.RFC3339Nano, token); err == nil {
				query = query.StartAfter(cursor)
			}
		}
		return query.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i == pageSize {
			page.NextPageToken = page.Items[len(page.Items)-1].CreatedAt.Format(time.RFC3339Nano)
			break
		}
		page.Items = append(page.Items, decodeOrder(doc.ID, doc.Data))
	}
	return page, nil
}

func encodeOrder(order domain.Order) orderDocument {
	items := make([]orderLineDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderLineDocument{
			SKU:       item.SKU,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	return orderDocument{
		Status:   string(order.Status),
		Currency: order.Currency,
		Items:    items,
		Customer: orderCustomerDocument{
			Name:  order.Customer.Name,
			Email: order.Customer.Email,
			Phone: order.Customer.Phone,
		},
		RequestedAmount:   order.RequestedAmount,
		CouponCode:        order.CouponCode,
		DiscountAmount:    order.DiscountAmount,
		FinalAmount:       order.FinalAmount,
		CouponRedeemed:    order.CouponRedeemed,
		IdempotencyKey:    order.IdempotencyKey,
		GatewayProvider:   order.GatewayProvider,
		GatewaySessionID:  order.GatewaySessionID,
		ReconcileFailures: order.ReconcileFailures,
		Stuck:             order.Stuck,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	items := make([]domain.CartItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.CartItem{
			SKU:       item.SKU,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	return domain.Order{
		ID:       id,
		Status:   domain.OrderStatus(doc.Status),
		Currency: doc.Currency,
		Items:    items,
		Customer: domain.CustomerDetails{
			Name:  doc.Customer.Name,
			Email: doc.Customer.Email,
			Phone: doc.Customer.Phone,
		},
		RequestedAmount:   doc.RequestedAmount,
		CouponCode:        doc.CouponCode,
		DiscountAmount:    doc.DiscountAmount,
		FinalAmount:       doc.FinalAmount,
		CouponRedeemed:    doc.CouponRedeemed,
		IdempotencyKey:    doc.IdempotencyKey,
		GatewayProvider:   doc.GatewayProvider,
		GatewaySessionID:  doc.GatewaySessionID,
		ReconcileFailures: doc.ReconcileFailures,
		Stuck:             doc.Stuck,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
	}
}
