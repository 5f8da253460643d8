// Package auth decides whether a caller may act for an account.
package auth

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/efreitasn/singlebook/internal/domain"
)

// TokenAuthorizer authorizes a caller presenting the bearer token
// registered for an account. Only bcrypt hashes are kept in memory.
type TokenAuthorizer struct {
	mu     sync.RWMutex
	hashes map[domain.AccountID][]byte
	cost   int
}

// NewTokenAuthorizer creates an empty authorizer that hashes plaintext
// tokens with the given bcrypt cost. Out-of-range costs fall back to
// bcrypt.DefaultCost.
func NewTokenAuthorizer(cost int) *TokenAuthorizer {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &TokenAuthorizer{
		hashes: make(map[domain.AccountID][]byte),
		cost:   cost,
	}
}

// Add hashes token and registers it for the account, replacing any
// previous token.
func (a *TokenAuthorizer) Add(acct domain.AccountID, token string) error {
	if token == "" {
		return fmt.Errorf("account %d: empty token", acct)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), a.cost)
	if err != nil {
		return fmt.Errorf("hash token for account %d: %w", acct, err)
	}
	a.set(acct, hash)
	return nil
}

// AddHash registers an existing bcrypt hash for the account.
func (a *TokenAuthorizer) AddHash(acct domain.AccountID, hash string) error {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("account %d: invalid token hash: %w", acct, err)
	}
	a.set(acct, []byte(hash))
	return nil
}

func (a *TokenAuthorizer) set(acct domain.AccountID, hash []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hashes[acct] = hash
}

// IsAuthorized reports whether caller is the token registered for acct.
// Accounts without a token authorize nobody.
func (a *TokenAuthorizer) IsAuthorized(_ context.Context, caller string, acct domain.AccountID) bool {
	if caller == "" {
		return false
	}
	a.mu.RLock()
	hash, ok := a.hashes[acct]
	a.mu.RUnlock()
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(caller)) == nil
}
