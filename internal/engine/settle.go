package engine

import (
	"fmt"

	"github.com/efreitasn/singlebook/internal/domain"
)

// Party names the role an account plays in a settlement.
type Party string

const (
	PartyBuyer  Party = "buyer"
	PartySeller Party = "seller"
)

// SettlementError reports which party failed a settlement precondition.
type SettlementError struct {
	Party   Party
	Account domain.AccountID
	Err     error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settlement failed for %s %d: %v", e.Party, e.Account, e.Err)
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}

// Settle moves price × qty from buyer to seller and qty of inst from
// seller to buyer. Both accounts are locked for the duration; every
// precondition is checked before anything is written, so a failure
// leaves both accounts unchanged.
func Settle(buyer, seller *domain.Account, inst domain.InstrumentID, price, qty uint64) error {
	unlock := lockPair(buyer, seller)
	defer unlock()

	notional, err := domain.Notional(price, qty)
	if err != nil {
		return &SettlementError{Party: PartyBuyer, Account: buyer.ID, Err: err}
	}
	if buyer.Balance < notional {
		return &SettlementError{Party: PartyBuyer, Account: buyer.ID, Err: domain.ErrInsufficientBalance}
	}
	if seller.Holding(inst) < qty {
		return &SettlementError{Party: PartySeller, Account: seller.ID, Err: domain.ErrInsufficientHoldings}
	}

	if buyer == seller {
		buyer.Version++
		return nil
	}

	sellerBalance, err := domain.AddChecked(seller.Balance, notional)
	if err != nil {
		return &SettlementError{Party: PartySeller, Account: seller.ID, Err: err}
	}
	buyerHolding, err := domain.AddChecked(buyer.Holding(inst), qty)
	if err != nil {
		return &SettlementError{Party: PartyBuyer, Account: buyer.ID, Err: err}
	}

	buyer.Balance -= notional
	if buyer.Holdings == nil {
		buyer.Holdings = make(map[domain.InstrumentID]uint64)
	}
	buyer.Holdings[inst] = buyerHolding
	buyer.Version++

	seller.Balance = sellerBalance
	if left := seller.Holdings[inst] - qty; left > 0 {
		seller.Holdings[inst] = left
	} else {
		delete(seller.Holdings, inst)
	}
	seller.Version++

	return nil
}

// lockPair locks both accounts in ascending ID order so that concurrent
// settlements on the same pair cannot deadlock.
func lockPair(a, b *domain.Account) func() {
	if a == b {
		a.Mu.Lock()
		return a.Mu.Unlock
	}
	first, second := a, b
	if second.ID < first.ID {
		first, second = second, first
	}
	first.Mu.Lock()
	second.Mu.Lock()
	return func() {
		second.Mu.Unlock()
		first.Mu.Unlock()
	}
}
