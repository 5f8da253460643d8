package domain

import (
	"errors"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Message: "side must be one of: buy, sell"}
	if err.Error() != "side must be one of: buy, sell" {
		t.Errorf("Error() = %q, want %q", err.Error(), "side must be one of: buy, sell")
	}
}

func TestSentinelErrors_AreDistinct(t *testing.T) {
	errs := []error{
		ErrUnknownAccount,
		ErrUnknownInstrument,
		ErrUnauthorized,
		ErrInsufficientBalance,
		ErrInsufficientHoldings,
		ErrInvalidQuantity,
		ErrInvalidPrice,
		ErrArithmeticOverflow,
		ErrUnknownIntent,
	}
	for i := 0; i < len(errs); i++ {
		for j := i + 1; j < len(errs); j++ {
			if errors.Is(errs[i], errs[j]) {
				t.Errorf("sentinel errors %d and %d should be distinct", i, j)
			}
		}
	}
}
