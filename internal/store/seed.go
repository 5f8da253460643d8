package store

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/efreitasn/singlebook/internal/domain"
)

// Seed is the startup catalog: the single traded instrument and the
// accounts allowed to trade it.
type Seed struct {
	Instrument SeedInstrument `yaml:"instrument"`
	Accounts   []SeedAccount  `yaml:"accounts"`
}

// SeedInstrument describes the traded instrument.
type SeedInstrument struct {
	ID                  domain.InstrumentID `yaml:"id"`
	Ticker              string              `yaml:"ticker"`
	ReferencePrice      uint64              `yaml:"reference_price"`
	CirculatingQuantity uint64              `yaml:"circulating_quantity"`
}

// SeedAccount describes one account. Exactly one of Token (plaintext,
// hashed at load) or TokenHash (bcrypt) authorizes callers for it.
type SeedAccount struct {
	ID        domain.AccountID               `yaml:"id"`
	Balance   uint64                         `yaml:"balance"`
	Holdings  map[domain.InstrumentID]uint64 `yaml:"holdings"`
	Token     string                         `yaml:"token"`
	TokenHash string                         `yaml:"token_hash"`
}

// DefaultSeed returns the development catalog: GOOGL and two accounts
// with 50000 each, account 1 holding the only share.
func DefaultSeed() *Seed {
	return &Seed{
		Instrument: SeedInstrument{
			ID:                  1,
			Ticker:              "GOOGL",
			ReferencePrice:      130,
			CirculatingQuantity: 1,
		},
		Accounts: []SeedAccount{
			{ID: 1, Balance: 50000, Holdings: map[domain.InstrumentID]uint64{1: 1}, Token: "dev-token-1"},
			{ID: 2, Balance: 50000, Token: "dev-token-2"},
		},
	}
}

// LoadSeed reads a seed file. An empty path returns DefaultSeed.
func LoadSeed(path string) (*Seed, error) {
	if path == "" {
		return DefaultSeed(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	return &s, nil
}

// Validate checks the seed for an instrument and unique, authorizable
// accounts.
func (s *Seed) Validate() error {
	if s.Instrument.ID == 0 {
		return errors.New("instrument id is required")
	}
	if s.Instrument.Ticker == "" {
		return errors.New("instrument ticker is required")
	}

	seen := make(map[domain.AccountID]bool, len(s.Accounts))
	for _, a := range s.Accounts {
		if a.ID == 0 {
			return errors.New("account id is required")
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate account %d", a.ID)
		}
		seen[a.ID] = true
		if (a.Token == "") == (a.TokenHash == "") {
			return fmt.Errorf("account %d: exactly one of token or token_hash is required", a.ID)
		}
	}
	return nil
}

// DomainInstrument returns the seeded instrument.
func (s *Seed) DomainInstrument() domain.Instrument {
	return domain.Instrument{
		ID:                  s.Instrument.ID,
		Ticker:              s.Instrument.Ticker,
		ReferencePrice:      s.Instrument.ReferencePrice,
		CirculatingQuantity: s.Instrument.CirculatingQuantity,
	}
}

// DomainAccounts returns a fresh account for every seeded entry.
func (s *Seed) DomainAccounts() []*domain.Account {
	out := make([]*domain.Account, len(s.Accounts))
	for i, a := range s.Accounts {
		out[i] = domain.NewAccount(a.ID, a.Balance, a.Holdings)
	}
	return out
}
