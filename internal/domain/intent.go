package domain

import (
	"fmt"
	"strings"
	"time"
)

// Side indicates whether an intent buys or sells.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide accepts buy/sell and the bid/ask aliases, case-insensitively.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "buy", "bid":
		return SideBuy, nil
	case "sell", "ask":
		return SideSell, nil
	}
	return "", &ValidationError{Message: fmt.Sprintf("side must be one of: buy, sell, got %q", s)}
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Intent is a limit order to buy or sell an instrument. Everything but
// Quantity is fixed at creation; Quantity is the unfilled remainder and
// shrinks as the matcher fills it.
type Intent struct {
	ID         string
	Instrument InstrumentID
	Account    AccountID
	Price      uint64 // limit price, minor units per unit of quantity
	Quantity   uint64
	Side       Side
	CreatedAt  time.Time
}

// Limits bounds accepted prices and quantities.
type Limits struct {
	MaxPrice    uint64
	MaxQuantity uint64
}

// Validate rejects zero or out-of-range price and quantity, and a
// combination whose notional does not fit in a uint64.
func (i *Intent) Validate(l Limits) error {
	if i.Side != SideBuy && i.Side != SideSell {
		return &ValidationError{Message: fmt.Sprintf("side must be one of: buy, sell, got %q", i.Side)}
	}
	if i.Price == 0 || (l.MaxPrice > 0 && i.Price > l.MaxPrice) {
		return ErrInvalidPrice
	}
	if i.Quantity == 0 || (l.MaxQuantity > 0 && i.Quantity > l.MaxQuantity) {
		return ErrInvalidQuantity
	}
	if _, err := Notional(i.Price, i.Quantity); err != nil {
		return ErrInvalidQuantity
	}
	return nil
}

// Crosses reports whether a resting intent at restingPrice satisfies
// this intent's limit.
func (i *Intent) Crosses(restingPrice uint64) bool {
	if i.Side == SideBuy {
		return i.Price >= restingPrice
	}
	return i.Price <= restingPrice
}
