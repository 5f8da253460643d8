package domain

import "sync"

// InstrumentID identifies a tradable instrument.
type InstrumentID uint32

// Instrument is reference data for a tradable instrument. ReferencePrice
// is informational; matching never reads it.
type Instrument struct {
	ID                  InstrumentID
	Ticker              string
	ReferencePrice      uint64
	CirculatingQuantity uint64
}

// InstrumentRegistry holds known instruments in a thread-safe manner.
type InstrumentRegistry struct {
	mu          sync.RWMutex
	instruments map[InstrumentID]Instrument
}

// NewInstrumentRegistry creates an empty InstrumentRegistry.
func NewInstrumentRegistry() *InstrumentRegistry {
	return &InstrumentRegistry{
		instruments: make(map[InstrumentID]Instrument),
	}
}

// Register adds or replaces an instrument. Safe for concurrent use.
func (r *InstrumentRegistry) Register(inst Instrument) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instruments[inst.ID] = inst
}

// Get returns the instrument with the given ID, or ErrUnknownInstrument.
func (r *InstrumentRegistry) Get(id InstrumentID) (Instrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instruments[id]
	if !ok {
		return Instrument{}, ErrUnknownInstrument
	}
	return inst, nil
}
