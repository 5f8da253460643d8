package store

import (
	"sync"
	"time"

	"github.com/efreitasn/singlebook/internal/domain"
)

// IntentStore is a thread-safe in-memory store for intent records,
// with a primary index by intent ID and a secondary index by account.
type IntentStore struct {
	mu        sync.RWMutex
	intents   map[string]*domain.IntentRecord
	byAccount map[domain.AccountID][]*domain.IntentRecord // append-only
}

// NewIntentStore creates an empty IntentStore.
func NewIntentStore() *IntentStore {
	return &IntentStore{
		intents:   make(map[string]*domain.IntentRecord),
		byAccount: make(map[domain.AccountID][]*domain.IntentRecord),
	}
}

// Create adds a record to the store and appends it to the account's
// secondary index.
func (s *IntentStore) Create(r *domain.IntentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.intents[r.ID] = r
	s.byAccount[r.Account] = append(s.byAccount[r.Account], r)
}

// Get returns a copy of the record with the given ID, or
// domain.ErrUnknownIntent.
func (s *IntentStore) Get(id string) (domain.IntentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.intents[id]
	if !ok {
		return domain.IntentRecord{}, domain.ErrUnknownIntent
	}
	return *r, nil
}

// ApplyFill records a trade of qty against the intent. Unknown IDs are
// ignored.
func (s *IntentStore) ApplyFill(id string, qty uint64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.intents[id]; ok {
		r.ApplyFill(qty, at)
	}
}

// Close marks an open intent as evicted or rejected. Unknown or already
// closed IDs are ignored.
func (s *IntentStore) Close(id string, status domain.IntentStatus, reason string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.intents[id]; ok && r.Open() {
		r.Close(status, reason, at)
	}
}

// ListByAccount returns copies of an account's records, newest first.
// If status is non-nil, only records in that status are included.
// Pagination is 1-based. It returns the requested page and the total
// number of matching records.
func (s *IntentStore) ListByAccount(acct domain.AccountID, status *domain.IntentStatus, page, limit int) ([]domain.IntentRecord, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.byAccount[acct]

	filtered := make([]domain.IntentRecord, 0)
	for i := len(all) - 1; i >= 0; i-- {
		if status != nil && all[i].Status != *status {
			continue
		}
		filtered = append(filtered, *all[i])
	}

	total := len(filtered)

	start := (page - 1) * limit
	if start >= total {
		return []domain.IntentRecord{}, total
	}
	end := min(start+limit, total)

	return filtered[start:end], total
}
