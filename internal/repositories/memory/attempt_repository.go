package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/festpass/api/internal/domain"
)

// PaymentAttemptRepository is an append-only in-memory attempt store.
type PaymentAttemptRepository struct {
	mu       sync.RWMutex
	attempts map[string]map[string]domain.PaymentAttempt
}

// NewPaymentAttemptRepository constructs an empty in-memory attempt repository.
func NewPaymentAttemptRepository() *PaymentAttemptRepository {
	return &PaymentAttemptRepository{
		attempts: make(map[string]map[string]domain.PaymentAttempt),
	}
}

// Record stores one attempt keyed by its gateway attempt ID. Replayed IDs
// leave the original record untouched.
func (r *PaymentAttemptRepository) Record(_ context.Context, attempt domain.PaymentAttempt) error {
	if strings.TrimSpace(attempt.ID) == "" {
		return errors.New("memory attempts: attempt id is required")
	}
	if strings.TrimSpace(attempt.OrderID) == "" {
		return errors.New("memory attempts: order id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byOrder, ok := r.attempts[attempt.OrderID]
	if !ok {
		byOrder = make(map[string]domain.PaymentAttempt)
		r.attempts[attempt.OrderID] = byOrder
	}
	if _, exists := byOrder[attempt.ID]; exists {
		return nil
	}
	byOrder[attempt.ID] = attempt
	return nil
}

// ListByOrder returns all recorded attempts for the order, oldest first.
func (r *PaymentAttemptRepository) ListByOrder(_ context.Context, orderID string) ([]domain.PaymentAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byOrder := r.attempts[orderID]
	if len(byOrder) == 0 {
		return nil, nil
	}

	attempts := make([]domain.PaymentAttempt, 0, len(byOrder))
	for _, attempt := range byOrder {
		attempts = append(attempts, attempt)
	}
	sort.Slice(attempts, func(i, j int) bool {
		if attempts[i].RecordedAt.Equal(attempts[j].RecordedAt) {
			return attempts[i].ID < attempts[j].ID
		}
		return attempts[i].RecordedAt.Before(attempts[j].RecordedAt)
	})
	return attempts, nil
}
