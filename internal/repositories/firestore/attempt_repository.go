package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/festpass/api/internal/domain"
	pfirestore "github.com/festpass/api/internal/platform/firestore"
)

const attemptsSubcollection = "attempts"

type attemptDocument struct {
	OrderID     string     `firestore:"orderId"`
	Provider    string     `firestore:"provider"`
	Status      string     `firestore:"status"`
	Amount      int64      `firestore:"amount"`
	Currency    string     `firestore:"currency"`
	Message     string     `firestore:"message,omitempty"`
	CompletedAt *time.Time `firestore:"completedAt,omitempty"`
	RecordedAt  time.Time  `firestore:"recordedAt"`
}

// PaymentAttemptRepository stores attempts under orders/{orderID}/attempts.
type PaymentAttemptRepository struct {
	provider *pfirestore.Provider
}

// NewPaymentAttemptRepository constructs a Firestore-backed attempt repository.
func NewPaymentAttemptRepository(provider *pfirestore.Provider) (*PaymentAttemptRepository, error) {
	if provider == nil {
		return nil, errors.New("attempt repository requires firestore provider")
	}
	return &PaymentAttemptRepository{provider: provider}, nil
}

func (r *PaymentAttemptRepository) collection(ctx context.Context, orderID string) (*firestore.CollectionRef, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, errors.New("attempt repository: order id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(ordersCollection).Doc(orderID).Collection(attemptsSubcollection), nil
}

// Record persists one attempt, keyed by its gateway attempt ID. Attempts are
// append-only facts: a replayed ID leaves the original record untouched.
func (r *PaymentAttemptRepository) Record(ctx context.Context, attempt domain.PaymentAttempt) error {
	if r == nil || r.provider == nil {
		return errors.New("attempt repository not initialised")
	}
	if strings.TrimSpace(attempt.ID) == "" {
		return errors.New("attempt repository: attempt id is required")
	}

	coll, err := r.collection(ctx, attempt.OrderID)
	if err != nil {
		return err
	}

	doc := attemptDocument{
		OrderID:     attempt.OrderID,
		Provider:    attempt.Provider,
		Status:      string(attempt.Status),
		Amount:      attempt.Amount,
		Currency:    attempt.Currency,
		Message:     attempt.Message,
		CompletedAt: attempt.CompletedAt,
		RecordedAt:  attempt.RecordedAt,
	}

	_, err = coll.Doc(attempt.ID).Create(ctx, doc)
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	return pfirestore.WrapError("attempts.record", err)
}

// ListByOrder returns all recorded attempts for the order, oldest first.
func (r *PaymentAttemptRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentAttempt, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("attempt repository not initialised")
	}

	coll, err := r.collection(ctx, orderID)
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy("recordedAt", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var attempts []domain.PaymentAttempt
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("attempts.list", err)
		}
		var doc attemptDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return nil, pfirestore.WrapError("attempts.list", err)
		}
		attempts = append(attempts, domain.PaymentAttempt{
			ID:          snapshot.Ref.ID,
			OrderID:     doc.OrderID,
			Provider:    doc.Provider,
			Status:      domain.AttemptStatus(doc.Status),
			Amount:      doc.Amount,
			Currency:    doc.Currency,
			Message:     doc.Message,
			CompletedAt: doc.CompletedAt,
			RecordedAt:  doc.RecordedAt,
		})
	}
	return attempts, nil
}
