package domain

import "sync"

// AccountID identifies a trading party.
type AccountID uint32

// Account is a party's cash balance and instrument holdings. Only
// settlement mutates it, always while holding Mu.
type Account struct {
	ID       AccountID
	Balance  uint64                  // minor currency units
	Holdings map[InstrumentID]uint64 // instrument → quantity owned
	Version  uint64                  // bumped on every settlement
	Mu       sync.Mutex
}

// NewAccount creates an account with a copy of the given holdings.
func NewAccount(id AccountID, balance uint64, holdings map[InstrumentID]uint64) *Account {
	h := make(map[InstrumentID]uint64, len(holdings))
	for inst, qty := range holdings {
		if qty > 0 {
			h[inst] = qty
		}
	}
	return &Account{
		ID:       id,
		Balance:  balance,
		Holdings: h,
	}
}

// Holding returns the quantity of the instrument owned, or 0.
// The caller must hold Mu.
func (a *Account) Holding(inst InstrumentID) uint64 {
	return a.Holdings[inst]
}

// AccountSnapshot is a point-in-time copy of an account, safe to use
// without holding any lock.
type AccountSnapshot struct {
	ID       AccountID
	Balance  uint64
	Holdings map[InstrumentID]uint64
	Version  uint64
}

// Snapshot copies the account under its lock.
func (a *Account) Snapshot() AccountSnapshot {
	a.Mu.Lock()
	defer a.Mu.Unlock()

	h := make(map[InstrumentID]uint64, len(a.Holdings))
	for inst, qty := range a.Holdings {
		h[inst] = qty
	}
	return AccountSnapshot{
		ID:       a.ID,
		Balance:  a.Balance,
		Holdings: h,
		Version:  a.Version,
	}
}
