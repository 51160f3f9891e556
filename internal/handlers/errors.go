package handlers

import (
	"errors"
	"net/http"

	"github.com/nkiryanov/hhledger/internal/apperrors"
	"github.com/nkiryanov/hhledger/internal/handlers/render"
	"github.com/nkiryanov/hhledger/internal/logger"
)

// Human readable messages by error code
var messages = map[string]string{
	"USER_NOT_FOUND":              "User not found",
	"USER_INACTIVE":               "User is inactive",
	"BALANCE_NOT_FOUND":           "Balance not found",
	"INSUFFICIENT_BALANCE":        "Insufficient balance",
	"DAILY_CHARGE_LIMIT_EXCEEDED": "Daily charge limit exceeded",
	"MAX_BALANCE_LIMIT_EXCEEDED":  "Max balance limit exceeded",
	"COUPON_EVENT_NOT_FOUND":      "Coupon event not found",
	"COUPON_EVENT_NOT_ACTIVE":     "Coupon event is not active",
	"COUPON_EXHAUSTED":            "Coupons are exhausted",
	"DUPLICATE_COUPON_ISSUE":      "Coupon already issued",
	"INVALID_PARAMETER":           "Invalid parameter",
	"CONCURRENT_MODIFICATION":     "Concurrent modification, try again",
	"SERVICE_UNAVAILABLE":         "Service temporarily unavailable",
}

func statusOf(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindConflict:
		return http.StatusConflict
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// renderError writes service error as coded response. Infra failures are logged.
func renderError(w http.ResponseWriter, l logger.Logger, msg string, err error) {
	kind := apperrors.KindOf(err)
	code := apperrors.Code(err)

	switch kind {
	case apperrors.KindInternal:
		l.Error(msg, "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	case apperrors.KindUnavailable:
		l.Error(msg, "error", err, "code", code)
		w.Header().Set("Retry-After", "1")
	}

	var details map[string]int64
	var detailed interface{ Details() map[string]int64 }
	if errors.As(err, &detailed) {
		details = detailed.Details()
	}

	message, ok := messages[code]
	if !ok {
		message = "Request failed"
	}

	render.CodedError(w, code, message, details, statusOf(kind))
}
