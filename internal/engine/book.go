package engine

import (
	"sync"

	"github.com/efreitasn/singlebook/internal/domain"
	"github.com/google/btree"
)

// Entry is a single intent resting on the book.
type Entry struct {
	Price   uint64
	Seq     uint64 // insertion sequence, starts at 1
	Intent  *domain.Intent
	Account *domain.Account
}

// entryLess orders both sides the same way: price descending, then
// insertion sequence ascending. Min() is the head of the sequence and
// Max() its tail, so the best bid is at the head and the best ask at
// the tail.
func entryLess(a, b Entry) bool {
	if a.Price != b.Price {
		return a.Price > b.Price
	}
	return a.Seq < b.Seq
}

// DepthEntry is one resting intent in a depth snapshot.
type DepthEntry struct {
	IntentID string
	Account  domain.AccountID
	Price    uint64
	Quantity uint64
}

// Depth is a consistent snapshot of both sides in stored order
// (price descending on both sides).
type Depth struct {
	Instrument domain.Instrument
	Bids       []DepthEntry
	Asks       []DepthEntry
}

// Book holds the resting bids and asks of a single instrument.
// Mutating methods require the caller to hold the write lock; Matcher
// does this for a whole fill plus the insert of its remainder.
type Book struct {
	instrument domain.Instrument
	mu         sync.RWMutex
	bids       *btree.BTreeG[Entry]
	asks       *btree.BTreeG[Entry]
	seq        uint64
}

// NewBook creates an empty book for the given instrument.
func NewBook(inst domain.Instrument) *Book {
	const degree = 32
	return &Book{
		instrument: inst,
		bids:       btree.NewG[Entry](degree, entryLess),
		asks:       btree.NewG[Entry](degree, entryLess),
	}
}

// Instrument returns the book's instrument.
func (b *Book) Instrument() domain.Instrument {
	return b.instrument
}

// Lock acquires the write lock on the book.
func (b *Book) Lock() {
	b.mu.Lock()
}

// Unlock releases the write lock on the book.
func (b *Book) Unlock() {
	b.mu.Unlock()
}

// RLock acquires the read lock on the book.
func (b *Book) RLock() {
	b.mu.RLock()
}

// RUnlock releases the read lock on the book.
func (b *Book) RUnlock() {
	b.mu.RUnlock()
}

func (b *Book) tree(side domain.Side) *btree.BTreeG[Entry] {
	if side == domain.SideBuy {
		return b.bids
	}
	return b.asks
}

// Insert rests an intent on its own side, after every entry of equal or
// higher price and before every lower-priced one.
func (b *Book) Insert(intent *domain.Intent, account *domain.Account) {
	b.seq++
	b.tree(intent.Side).ReplaceOrInsert(Entry{
		Price:   intent.Price,
		Seq:     b.seq,
		Intent:  intent,
		Account: account,
	})
}

// best returns the highest-priority resting entry on a side. For bids
// that is the head. For asks it is the earliest entry at the tail's
// price, so equal-priced asks keep time priority.
func (b *Book) best(side domain.Side) (Entry, bool) {
	if side == domain.SideBuy {
		return b.bids.Min()
	}
	tail, ok := b.asks.Max()
	if !ok {
		return Entry{}, false
	}
	var first Entry
	b.asks.AscendGreaterOrEqual(Entry{Price: tail.Price}, func(e Entry) bool {
		first = e
		return false
	})
	return first, true
}

func (b *Book) remove(side domain.Side, e Entry) {
	b.tree(side).Delete(e)
}

// Entries returns a side's entries in stored order (head first).
func (b *Book) Entries(side domain.Side) []Entry {
	tree := b.tree(side)
	out := make([]Entry, 0, tree.Len())
	tree.Ascend(func(e Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// BidCount returns the number of resting bids. The caller must hold a
// lock.
func (b *Book) BidCount() int {
	return b.bids.Len()
}

// AskCount returns the number of resting asks.
func (b *Book) AskCount() int {
	return b.asks.Len()
}

// Depth takes the read lock and returns both sides in stored order.
// A positive limit keeps only the best limit entries per side: the
// head of the bids and the tail of the asks.
func (b *Book) Depth(limit int) Depth {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.DepthLocked(limit)
}

// DepthLocked is Depth for a caller that already holds a lock, such as a
// Commit hook.
func (b *Book) DepthLocked(limit int) Depth {
	bids := toDepth(b.Entries(domain.SideBuy))
	asks := toDepth(b.Entries(domain.SideSell))
	if limit > 0 {
		if len(bids) > limit {
			bids = bids[:limit]
		}
		if len(asks) > limit {
			asks = asks[len(asks)-limit:]
		}
	}
	return Depth{
		Instrument: b.instrument,
		Bids:       bids,
		Asks:       asks,
	}
}

func toDepth(entries []Entry) []DepthEntry {
	out := make([]DepthEntry, len(entries))
	for i, e := range entries {
		out[i] = DepthEntry{
			IntentID: e.Intent.ID,
			Account:  e.Account.ID,
			Price:    e.Price,
			Quantity: e.Intent.Quantity,
		}
	}
	return out
}
