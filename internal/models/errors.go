package models

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the services wraps exactly one of these.
var (
	ErrNotFound                  = errors.New("not found")
	ErrInvalidRequest            = errors.New("invalid request")
	ErrUnauthorized              = errors.New("unauthorized")
	ErrForbidden                 = errors.New("forbidden")
	ErrInvalidState              = errors.New("invalid state")
	ErrConflict                  = errors.New("conflict")
	ErrGatewayUnavailable        = errors.New("payment gateway unavailable")
	ErrPaymentVerificationFailed = errors.New("payment verification failed")
	ErrPaymentPending            = errors.New("payment pending")
)

var (
	ErrVehicleNotFound        = fmt.Errorf("vehicle %w", ErrNotFound)
	ErrTransactionNotFound    = fmt.Errorf("transaction %w", ErrNotFound)
	ErrComplianceItemNotFound = fmt.Errorf("compliance item %w", ErrNotFound)
	ErrReceiptNotFound        = fmt.Errorf("receipt %w", ErrNotFound)
	ErrCommissionNotFound     = fmt.Errorf("commission %w", ErrNotFound)

	ErrDuplicateReference = fmt.Errorf("transaction reference %w", ErrConflict)
	ErrDuplicateVehicle   = fmt.Errorf("vehicle with this plate number or chassis number %w", ErrConflict)
	ErrPriceLocked        = fmt.Errorf("%w: compliance item price is locked and requires executive approval", ErrForbidden)
)

// KindOf maps an error to the stable code exposed to API clients.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidRequest):
		return "INVALID_REQUEST"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrInvalidState):
		return "INVALID_STATE"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrGatewayUnavailable):
		return "GATEWAY_UNAVAILABLE"
	case errors.Is(err, ErrPaymentVerificationFailed):
		return "PAYMENT_VERIFICATION_FAILED"
	case errors.Is(err, ErrPaymentPending):
		return "PAYMENT_PENDING"
	default:
		return "INTERNAL"
	}
}

// Retryable reports whether the caller may retry the same operation later.
func Retryable(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable) || errors.Is(err, ErrPaymentPending)
}
