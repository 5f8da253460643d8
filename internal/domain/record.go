package domain

import "time"

// IntentStatus is the lifecycle state of a submitted intent.
type IntentStatus string

const (
	IntentStatusResting         IntentStatus = "resting"
	IntentStatusPartiallyFilled IntentStatus = "partially_filled"
	IntentStatusFilled          IntentStatus = "filled"
	IntentStatusEvicted         IntentStatus = "evicted"
	IntentStatusRejected        IntentStatus = "rejected"
)

// IntentRecord tracks a submitted intent after it leaves the engine.
// Quantity is the size at submission; Filled and Remaining follow every
// trade the intent takes part in, as aggressor or resting side.
type IntentRecord struct {
	ID         string
	Instrument InstrumentID
	Account    AccountID
	Side       Side
	Price      uint64
	Quantity   uint64
	Filled     uint64
	Remaining  uint64
	Status     IntentStatus
	Reason     string // set when evicted or rejected
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewIntentRecord creates a record for an intent before it is matched.
func NewIntentRecord(i *Intent) *IntentRecord {
	return &IntentRecord{
		ID:         i.ID,
		Instrument: i.Instrument,
		Account:    i.Account,
		Side:       i.Side,
		Price:      i.Price,
		Quantity:   i.Quantity,
		Remaining:  i.Quantity,
		Status:     IntentStatusResting,
		CreatedAt:  i.CreatedAt,
		UpdatedAt:  i.CreatedAt,
	}
}

// ApplyFill records qty traded against the intent. Quantities beyond
// what remains are clamped. A closed record keeps its status: the
// quantity still counts, but an evicted or rejected intent never reopens.
func (r *IntentRecord) ApplyFill(qty uint64, at time.Time) {
	qty = min(qty, r.Remaining)
	r.Filled += qty
	r.Remaining -= qty
	r.UpdatedAt = at
	if r.closed() {
		return
	}
	switch {
	case r.Remaining == 0:
		r.Status = IntentStatusFilled
	case r.Filled > 0:
		r.Status = IntentStatusPartiallyFilled
	}
}

func (r *IntentRecord) closed() bool {
	return r.Status == IntentStatusEvicted || r.Status == IntentStatusRejected
}

// Close marks an intent that left the book without filling completely.
func (r *IntentRecord) Close(status IntentStatus, reason string, at time.Time) {
	r.Status = status
	r.Reason = reason
	r.UpdatedAt = at
}

// Open reports whether the intent may still trade.
func (r *IntentRecord) Open() bool {
	return r.Status == IntentStatusResting || r.Status == IntentStatusPartiallyFilled
}
