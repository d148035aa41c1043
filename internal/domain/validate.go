package domain

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

const phoneDigits = 10

// ErrEmptyCart indicates an order request arrived without any line items.
var ErrEmptyCart = errors.New("domain: cart has no items")

// ValidateCart checks the structural validity of an incoming cart.
func ValidateCart(cart Cart) error {
	if len(cart.Items) == 0 {
		return ErrEmptyCart
	}
	for i, item := range cart.Items {
		if strings.TrimSpace(item.Name) == "" {
			return fmt.Errorf("domain: cart item %d has no name", i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("domain: cart item %d has non-positive quantity", i)
		}
		if item.UnitPrice < 0 {
			return fmt.Errorf("domain: cart item %d has negative unit price", i)
		}
	}
	return nil
}

// ValidateCustomer checks the customer contact fields attached at order creation.
func ValidateCustomer(customer CustomerDetails) error {
	if strings.TrimSpace(customer.Name) == "" {
		return errors.New("domain: customer name is required")
	}
	email := strings.TrimSpace(customer.Email)
	if email == "" {
		return errors.New("domain: customer email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("domain: customer email is invalid: %w", err)
	}
	phone := strings.TrimSpace(customer.Phone)
	if len(phone) != phoneDigits {
		return fmt.Errorf("domain: customer phone must be %d digits", phoneDigits)
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return fmt.Errorf("domain: customer phone must be %d digits", phoneDigits)
		}
	}
	return nil
}

// NormalizeCouponCode folds a user-supplied coupon code to catalog form.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
