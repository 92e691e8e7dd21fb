package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/pointswallet/pkg/wallet"
	"github.com/gin-gonic/gin"
)

const (
	errorCodeInvalidPayload      = "invalid_payload"
	errorCodeUnauthenticated     = "unauthenticated"
	errorCodeForbidden           = "forbidden"
	errorCodeNotFound            = "not_found"
	errorCodeInvalidArgument     = "invalid_argument"
	errorCodeInvalidCoupon       = "invalid_coupon"
	errorCodeCouponExpired       = "coupon_expired"
	errorCodeInsufficientBalance = "insufficient_balance"
	errorCodeNoApplicableRule    = "no_applicable_rule"
	errorCodeAlreadyProcessed    = "already_processed"
	errorCodeConflict            = "conflict"
	errorCodeTimeout             = "timeout"
	errorCodeInternal            = "internal_error"
)

var invalidArgumentErrors = []error{
	wallet.ErrInvalidWalletID,
	wallet.ErrInvalidEntryID,
	wallet.ErrInvalidTenantID,
	wallet.ErrInvalidBusinessUnitID,
	wallet.ErrInvalidCustomerID,
	wallet.ErrInvalidAmount,
	wallet.ErrInvalidEntryType,
	wallet.ErrInvalidEntryStatus,
	wallet.ErrInvalidMetadataJSON,
	wallet.ErrInvalidSettings,
	wallet.ErrInvalidRule,
}

// mapError translates a service error into an HTTP status and stable code.
func mapError(source error) (int, string) {
	switch {
	case errors.Is(source, wallet.ErrUnauthorized):
		return http.StatusForbidden, errorCodeForbidden
	case errors.Is(source, wallet.ErrNotFound):
		return http.StatusNotFound, errorCodeNotFound
	case errors.Is(source, wallet.ErrInvalidCoupon):
		return http.StatusUnprocessableEntity, errorCodeInvalidCoupon
	case errors.Is(source, wallet.ErrCouponExpired):
		return http.StatusUnprocessableEntity, errorCodeCouponExpired
	case errors.Is(source, wallet.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, errorCodeInsufficientBalance
	case errors.Is(source, wallet.ErrNoApplicableRule):
		return http.StatusUnprocessableEntity, errorCodeNoApplicableRule
	case errors.Is(source, wallet.ErrAlreadyProcessed):
		return http.StatusConflict, errorCodeAlreadyProcessed
	case errors.Is(source, wallet.ErrConcurrentUpdate), errors.Is(source, wallet.ErrWalletExists):
		return http.StatusConflict, errorCodeConflict
	case errors.Is(source, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorCodeTimeout
	}
	for _, candidate := range invalidArgumentErrors {
		if errors.Is(source, candidate) {
			return http.StatusBadRequest, errorCodeInvalidArgument
		}
	}
	return http.StatusInternalServerError, errorCodeInternal
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
