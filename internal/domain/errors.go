package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrUnknownAccount       = errors.New("unknown_account")
	ErrUnknownInstrument    = errors.New("unknown_instrument")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInsufficientBalance  = errors.New("insufficient_balance")
	ErrInsufficientHoldings = errors.New("insufficient_holdings")
	ErrInvalidQuantity      = errors.New("invalid_quantity")
	ErrInvalidPrice         = errors.New("invalid_price")
	ErrArithmeticOverflow   = errors.New("arithmetic_overflow")
	ErrUnknownIntent        = errors.New("unknown_intent")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
