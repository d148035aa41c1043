package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/festpass/api/internal/domain"
	"github.com/festpass/api/internal/services"
)

type stubCouponService struct {
	validateFn func(context.Context, services.ValidateCouponCommand) (domain.CouponResult, error)
	redeemFn   func(context.Context, string) (domain.Coupon, error)
}

func (s *stubCouponService) Validate(ctx context.Context, cmd services.ValidateCouponCommand) (domain.CouponResult, error) {
	if s.validateFn != nil {
		return s.validateFn(ctx, cmd)
	}
	return domain.CouponResult{}, errors.New("not implemented")
}

func (s *stubCouponService) Redeem(ctx context.Context, code string) (domain.Coupon, error) {
	if s.redeemFn != nil {
		return s.redeemFn(ctx, code)
	}
	return domain.Coupon{}, errors.New("not implemented")
}

func newCouponRouter(service services.CouponService) chi.Router {
	handler := NewCouponHandlers(service)
	router := chi.NewRouter()
	handler.Routes(router)
	return router
}

func TestCouponHandlersValidateSuccess(t *testing.T) {
	var captured services.ValidateCouponCommand
	service := &stubCouponService{
		validateFn: func(_ context.Context, cmd services.ValidateCouponCommand) (domain.CouponResult, error) {
			captured = cmd
			return domain.CouponResult{Valid: true, DiscountAmount: 150, FinalAmount: 850}, nil
		},
	}

	body, _ := json.Marshal(validateCouponRequest{Code: "FEST15", OrderAmount: 1000})
	router := newCouponRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/validate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.Code != "FEST15" || captured.OrderAmount != 1000 {
		t.Fatalf("unexpected command: %+v", captured)
	}
	var resp validateCouponResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Valid || resp.DiscountAmount != 150 || resp.FinalAmount != 850 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCouponHandlersValidateRejectionIsStill200(t *testing.T) {
	service := &stubCouponService{
		validateFn: func(context.Context, services.ValidateCouponCommand) (domain.CouponResult, error) {
			return domain.CouponResult{
				Valid:       false,
				FinalAmount: 80,
				Reason:      domain.CouponReasonBelowMinimum,
				Message:     "order amount is below the minimum of 100",
			}, nil
		},
	}

	body, _ := json.Marshal(validateCouponRequest{Code: "BIG", OrderAmount: 80})
	router := newCouponRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/validate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("a rejected coupon is a valid answer, expected 200, got %d", rec.Code)
	}
	var resp validateCouponResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Valid || resp.Reason != "BELOW_MINIMUM" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCouponHandlersValidateBadInput(t *testing.T) {
	service := &stubCouponService{
		validateFn: func(context.Context, services.ValidateCouponCommand) (domain.CouponResult, error) {
			return domain.CouponResult{}, services.ErrCouponInvalidInput
		},
	}

	body, _ := json.Marshal(validateCouponRequest{Code: "", OrderAmount: 100})
	router := newCouponRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/validate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
