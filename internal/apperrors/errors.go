package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrOwnerNotFound   = errors.New("owner not found")
	ErrOwnerInactive   = errors.New("owner is inactive")
	ErrBalanceNotFound = errors.New("balance not found")

	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDailyLimitExceeded  = errors.New("daily charge limit exceeded")
	ErrMaxBalanceExceeded  = errors.New("max balance limit exceeded")

	ErrPoolNotFound      = errors.New("coupon pool not found")
	ErrPoolNotActive     = errors.New("coupon pool is not active")
	ErrPoolExhausted     = errors.New("coupon pool exhausted")
	ErrDuplicateIssuance = errors.New("coupon already issued to recipient")

	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidID     = errors.New("invalid identifier")

	// Retryable by the caller: the failed atomic unit left no effect behind
	ErrStoreUnavailable       = errors.New("store unavailable")
	ErrConcurrentModification = errors.New("concurrent modification")
)

// Kind groups errors by how a caller is expected to react
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindValidation
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

type class struct {
	err  error
	kind Kind
	code string
}

// Order matters: the first matching sentinel wins
var classes = []class{
	{ErrOwnerNotFound, KindNotFound, "USER_NOT_FOUND"},
	{ErrBalanceNotFound, KindNotFound, "BALANCE_NOT_FOUND"},
	{ErrPoolNotFound, KindNotFound, "COUPON_EVENT_NOT_FOUND"},

	{ErrOwnerInactive, KindConflict, "USER_INACTIVE"},
	{ErrInsufficientBalance, KindConflict, "INSUFFICIENT_BALANCE"},
	{ErrDailyLimitExceeded, KindConflict, "DAILY_CHARGE_LIMIT_EXCEEDED"},
	{ErrMaxBalanceExceeded, KindConflict, "MAX_BALANCE_LIMIT_EXCEEDED"},
	{ErrPoolNotActive, KindConflict, "COUPON_EVENT_NOT_ACTIVE"},
	{ErrPoolExhausted, KindConflict, "COUPON_EXHAUSTED"},
	{ErrDuplicateIssuance, KindConflict, "DUPLICATE_COUPON_ISSUE"},

	{ErrInvalidAmount, KindValidation, "INVALID_PARAMETER"},
	{ErrInvalidID, KindValidation, "INVALID_PARAMETER"},

	{ErrConcurrentModification, KindUnavailable, "CONCURRENT_MODIFICATION"},
	{ErrStoreUnavailable, KindUnavailable, "SERVICE_UNAVAILABLE"},
}

func lookup(err error) (class, bool) {
	for _, c := range classes {
		if errors.Is(err, c.err) {
			return c, true
		}
	}
	return class{}, false
}

// KindOf classifies err; unknown errors are internal
func KindOf(err error) Kind {
	c, ok := lookup(err)
	if !ok {
		return KindInternal
	}
	return c.kind
}

// Code returns a stable machine readable code for err
func Code(err error) string {
	c, ok := lookup(err)
	if !ok {
		return "INTERNAL_SERVER_ERROR"
	}
	return c.code
}

// Retryable reports whether the caller may retry the operation with backoff
func Retryable(err error) bool {
	return KindOf(err) == KindUnavailable
}

// InsufficientBalanceError is returned when a debit exceeds the current balance
type InsufficientBalanceError struct {
	Current  int64
	Required int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%s: current=%d, required=%d, shortfall=%d", ErrInsufficientBalance, e.Current, e.Required, e.Shortfall())
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

func (e *InsufficientBalanceError) Shortfall() int64 {
	return e.Required - e.Current
}

func (e *InsufficientBalanceError) Details() map[string]int64 {
	return map[string]int64{
		"currentBalance": e.Current,
		"requiredAmount": e.Required,
		"shortfall":      e.Shortfall(),
	}
}

// LimitError is returned when a charge would break the daily or the max balance cap.
// Err is either ErrDailyLimitExceeded or ErrMaxBalanceExceeded.
type LimitError struct {
	Err       error
	Limit     int64
	Current   int64
	Attempted int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: limit=%d, current=%d, attempted=%d", e.Err, e.Limit, e.Current, e.Attempted)
}

func (e *LimitError) Unwrap() error {
	return e.Err
}

func (e *LimitError) Details() map[string]int64 {
	return map[string]int64{
		"limit":           e.Limit,
		"current":         e.Current,
		"attemptedAmount": e.Attempted,
	}
}
