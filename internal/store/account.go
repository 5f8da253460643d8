package store

import (
	"context"
	"errors"
	"sync"

	"github.com/efreitasn/singlebook/internal/domain"
)

// ErrAccountExists is returned when adding an account whose ID is taken.
var ErrAccountExists = errors.New("account already exists")

// MemoryCatalog is a thread-safe in-memory account and instrument
// catalog. The accounts it hands out are the live objects settlement
// mutates, so Save has nothing to write back.
type MemoryCatalog struct {
	mu          sync.RWMutex
	accounts    map[domain.AccountID]*domain.Account
	instruments *domain.InstrumentRegistry
}

// NewMemoryCatalog creates an empty catalog over the given instruments.
func NewMemoryCatalog(instruments *domain.InstrumentRegistry) *MemoryCatalog {
	return &MemoryCatalog{
		accounts:    make(map[domain.AccountID]*domain.Account),
		instruments: instruments,
	}
}

// AddAccount registers an account. It returns ErrAccountExists if an
// account with the same ID is already present.
func (c *MemoryCatalog) AddAccount(a *domain.Account) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.accounts[a.ID]; exists {
		return ErrAccountExists
	}
	c.accounts[a.ID] = a
	return nil
}

// Account returns the live account with the given ID, or
// domain.ErrUnknownAccount.
func (c *MemoryCatalog) Account(_ context.Context, id domain.AccountID) (*domain.Account, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a, ok := c.accounts[id]
	if !ok {
		return nil, domain.ErrUnknownAccount
	}
	return a, nil
}

// Instrument returns the instrument with the given ID, or
// domain.ErrUnknownInstrument.
func (c *MemoryCatalog) Instrument(_ context.Context, id domain.InstrumentID) (*domain.Instrument, error) {
	inst, err := c.instruments.Get(id)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// Save is a no-op: the catalog already holds the settled accounts.
func (c *MemoryCatalog) Save(context.Context, ...*domain.Account) error {
	return nil
}

// Len returns the number of accounts in the catalog.
func (c *MemoryCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.accounts)
}
