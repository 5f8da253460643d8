package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/efreitasn/singlebook/internal/domain"
)

// accountRecord is the persisted form of an account.
type accountRecord struct {
	ID       domain.AccountID               `json:"id"`
	Balance  uint64                         `json:"balance"`
	Holdings map[domain.InstrumentID]uint64 `json:"holdings"`
	Version  uint64                         `json:"version"`
}

// keys: a:<4-byte big-endian account id>
func accountKey(id domain.AccountID) []byte {
	key := make([]byte, 2, 6)
	copy(key, "a:")
	return binary.BigEndian.AppendUint32(key, uint32(id))
}

// PebbleCatalog is an account catalog persisted in Pebble. Accounts are
// loaded once and cached, so every caller shares the same live object;
// Save writes back any snapshot newer than the last one persisted.
type PebbleCatalog struct {
	db          *pebble.DB
	instruments *domain.InstrumentRegistry

	mu        sync.Mutex
	accounts  map[domain.AccountID]*domain.Account
	persisted map[domain.AccountID]uint64 // account → last persisted version
}

// OpenPebbleCatalog opens (or creates) a Pebble database at dir.
func OpenPebbleCatalog(dir string, instruments *domain.InstrumentRegistry) (*PebbleCatalog, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble catalog at %s: %w", dir, err)
	}
	return &PebbleCatalog{
		db:          db,
		instruments: instruments,
		accounts:    make(map[domain.AccountID]*domain.Account),
		persisted:   make(map[domain.AccountID]uint64),
	}, nil
}

// Close closes the database.
func (c *PebbleCatalog) Close() error {
	return c.db.Close()
}

// Seed writes the given accounts unless an account with the same ID is
// already persisted, so a restart keeps settled state. It returns the
// number of accounts written.
func (c *PebbleCatalog) Seed(ctx context.Context, accounts ...*domain.Account) (int, error) {
	batch := c.db.NewBatch()
	defer batch.Close()

	written := 0
	for _, a := range accounts {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		_, closer, err := c.db.Get(accountKey(a.ID))
		if err == nil {
			closer.Close()
			continue
		}
		if !errors.Is(err, pebble.ErrNotFound) {
			return 0, fmt.Errorf("read account %d: %w", a.ID, err)
		}
		data, err := json.Marshal(toRecord(a.Snapshot()))
		if err != nil {
			return 0, fmt.Errorf("marshal account %d: %w", a.ID, err)
		}
		if err := batch.Set(accountKey(a.ID), data, nil); err != nil {
			return 0, fmt.Errorf("stage account %d: %w", a.ID, err)
		}
		written++
	}
	if written == 0 {
		return 0, nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("commit seed: %w", err)
	}
	return written, nil
}

// Account returns the live account with the given ID, loading it from
// Pebble on first use. It returns domain.ErrUnknownAccount if no record
// exists.
func (c *PebbleCatalog) Account(ctx context.Context, id domain.AccountID) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if a, ok := c.accounts[id]; ok {
		return a, nil
	}

	data, closer, err := c.db.Get(accountKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, domain.ErrUnknownAccount
	}
	if err != nil {
		return nil, fmt.Errorf("get account %d: %w", id, err)
	}
	defer closer.Close()

	var rec accountRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal account %d: %w", id, err)
	}

	a := domain.NewAccount(rec.ID, rec.Balance, rec.Holdings)
	a.Version = rec.Version
	c.accounts[id] = a
	c.persisted[id] = rec.Version
	return a, nil
}

// Instrument returns the instrument with the given ID, or
// domain.ErrUnknownInstrument.
func (c *PebbleCatalog) Instrument(_ context.Context, id domain.InstrumentID) (*domain.Instrument, error) {
	inst, err := c.instruments.Get(id)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// Save persists the given accounts in one synced batch. Snapshots whose
// version is not newer than the last persisted one are skipped, so
// concurrent write-backs never regress an account.
func (c *PebbleCatalog) Save(ctx context.Context, accounts ...*domain.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	batch := c.db.NewBatch()
	defer batch.Close()

	staged := make(map[domain.AccountID]uint64, len(accounts))
	for _, a := range accounts {
		snap := a.Snapshot()
		last, seen := c.persisted[snap.ID]
		if seen && snap.Version <= last {
			continue
		}
		if v, ok := staged[snap.ID]; ok && snap.Version <= v {
			continue
		}
		data, err := json.Marshal(toRecord(snap))
		if err != nil {
			return fmt.Errorf("marshal account %d: %w", snap.ID, err)
		}
		if err := batch.Set(accountKey(snap.ID), data, nil); err != nil {
			return fmt.Errorf("stage account %d: %w", snap.ID, err)
		}
		staged[snap.ID] = snap.Version
	}
	if len(staged) == 0 {
		return nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit accounts: %w", err)
	}
	for id, v := range staged {
		c.persisted[id] = v
	}
	return nil
}

func toRecord(s domain.AccountSnapshot) accountRecord {
	return accountRecord{
		ID:       s.ID,
		Balance:  s.Balance,
		Holdings: s.Holdings,
		Version:  s.Version,
	}
}
