package wallet

import (
	"errors"
	"fmt"
)

// ErrNotFound is the common parent of every missing-record error.
var ErrNotFound = errors.New("not found")

// Domain-level error values returned by the wallet service.
var (
	ErrWalletNotFound      = fmt.Errorf("wallet %w", ErrNotFound)
	ErrEntryNotFound       = fmt.Errorf("ledger entry %w", ErrNotFound)
	ErrRuleNotFound        = fmt.Errorf("burn rule %w", ErrNotFound)
	ErrCustomerNotFound    = fmt.Errorf("customer %w", ErrNotFound)
	ErrSettingsNotFound    = fmt.Errorf("wallet settings %w", ErrNotFound)
	ErrInvalidCoupon       = errors.New("invalid coupon")
	ErrCouponExpired       = errors.New("coupon expired")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNoApplicableRule    = errors.New("no applicable burn rule")
	ErrAlreadyProcessed    = errors.New("entry already processed")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrConcurrentUpdate    = errors.New("concurrent wallet update")
	ErrWalletExists        = errors.New("wallet already exists")

	ErrInvalidWalletID       = errors.New("invalid wallet id")
	ErrInvalidEntryID        = errors.New("invalid entry id")
	ErrInvalidTenantID       = errors.New("invalid tenant id")
	ErrInvalidBusinessUnitID = errors.New("invalid business unit id")
	ErrInvalidCustomerID     = errors.New("invalid customer id")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidEntryType      = errors.New("invalid entry type")
	ErrInvalidEntryStatus    = errors.New("invalid entry status")
	ErrInvalidMetadataJSON   = errors.New("invalid metadata json")
	ErrInvalidSettings       = errors.New("invalid wallet settings")
	ErrInvalidRule           = errors.New("invalid burn rule")
	ErrInvalidServiceConfig  = errors.New("invalid service config")
	ErrInvalidBalance        = errors.New("invalid balance")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
