package store

import (
	"sync"

	"github.com/efreitasn/singlebook/internal/domain"
)

// TradeStore is a thread-safe, bounded, in-memory trade tape. Trades are
// append-only and chronological; once capacity is reached the oldest
// trade is dropped for each new one.
type TradeStore struct {
	mu       sync.RWMutex
	trades   []domain.Trade // ring buffer
	start    int            // index of the oldest trade
	size     int
	capacity int
}

// NewTradeStore creates an empty TradeStore holding at most capacity
// trades. A non-positive capacity is treated as 1.
func NewTradeStore(capacity int) *TradeStore {
	if capacity < 1 {
		capacity = 1
	}
	return &TradeStore{
		trades:   make([]domain.Trade, capacity),
		capacity: capacity,
	}
}

// Append adds trades to the tape in order.
func (s *TradeStore) Append(trades ...domain.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range trades {
		if s.size < s.capacity {
			s.trades[(s.start+s.size)%s.capacity] = t
			s.size++
			continue
		}
		s.trades[s.start] = t
		s.start = (s.start + 1) % s.capacity
	}
}

// Recent returns up to limit of the most recent trades, oldest first.
// A non-positive limit returns every retained trade. The result is a
// copy and never nil.
func (s *TradeStore) Recent(limit int) []domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.size
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]domain.Trade, n)
	first := s.start + s.size - n
	for i := 0; i < n; i++ {
		result[i] = s.trades[(first+i)%s.capacity]
	}
	return result
}

// Len returns the number of retained trades.
func (s *TradeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}
