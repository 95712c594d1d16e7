package domain

import "errors"

// ErrorKind classifies an operation failure so transports can map it to a
// status without inspecting individual sentinels.
type ErrorKind string

const (
	KindAuthorization ErrorKind = "authorization"
	KindState         ErrorKind = "state"
	KindValidation    ErrorKind = "validation"
	KindFunds         ErrorKind = "funds"
	KindNotFound      ErrorKind = "not_found"
	KindContention    ErrorKind = "contention"
)

// Error is a typed operation failure. Sentinel values below are compared with
// errors.Is; wrapped errors keep their kind through errors.As.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

// NewError builds a typed error. Packages outside domain use it for failures
// that belong to the same taxonomy (for example envelope replay).
func NewError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

var (
	// Authorization
	ErrUnauthorized = NewError(KindAuthorization, "unauthorized", "caller is not authorized for this operation")

	// State
	ErrAlreadyInitialized = NewError(KindState, "already_initialized", "vault already initialized")
	ErrAlreadyExists      = NewError(KindState, "already_exists", "record already exists")
	ErrAlreadyStarted     = NewError(KindState, "already_started", "market already started")
	ErrAlreadySettled     = NewError(KindState, "already_settled", "prediction already settled")
	ErrNotStarted         = NewError(KindState, "not_started", "market not started")
	ErrMarketClosed       = NewError(KindState, "market_closed", "market closed for new predictions")
	ErrNotFinished        = NewError(KindState, "not_finished", "market not finished")

	// Validation
	ErrInvalidAmount     = NewError(KindValidation, "invalid_amount", "amount must be positive and fit a signed 64-bit integer")
	ErrInvalidMultiplier = NewError(KindValidation, "invalid_multiplier", "payout multiplier must be positive")
	ErrInvalidEndTime    = NewError(KindValidation, "invalid_end_time", "end time must be in the future")
	ErrInvalidAsset      = NewError(KindValidation, "invalid_asset", "asset id must be 1-64 printable characters")
	ErrInvalidDirection  = NewError(KindValidation, "invalid_direction", "direction must be high or low")
	ErrRewardOverflow    = NewError(KindValidation, "reward_overflow", "reward does not fit in a 64-bit amount")
	ErrBalanceOverflow   = NewError(KindValidation, "balance_overflow", "credit would overflow the account balance")

	// Funds
	ErrInsufficientFunds = NewError(KindFunds, "insufficient_funds", "insufficient funds")

	// Lookup
	ErrNotFound = NewError(KindNotFound, "not_found", "not found")

	// Contention is returned by ledgers when a concurrent transaction won a
	// conflicting lock. Callers may retry the whole operation.
	ErrContention = NewError(KindContention, "contention", "ledger contention, retry the operation")
)

// Infrastructure errors that are not part of the operation taxonomy.
var (
	ErrRateLimited = errors.New("rate limited")
	ErrLockHeld    = errors.New("lock already held")
	ErrStalePrice  = errors.New("price is stale")
)

// KindOf returns the kind of the first typed error in err's chain, or the
// empty kind when err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the machine-readable code of err, or "internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

// IsRetryable reports whether the operation that produced err may be retried
// unchanged.
func IsRetryable(err error) bool {
	return KindOf(err) == KindContention
}
