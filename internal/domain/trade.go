package domain

import "time"

// Trade is one settled match between a buy and a sell intent.
type Trade struct {
	ID           string
	Instrument   InstrumentID
	Buyer        AccountID
	Seller       AccountID
	BuyIntentID  string
	SellIntentID string
	Price        uint64 // resting intent's price
	Quantity     uint64
	Aggressor    Side // side of the incoming intent
	ExecutedAt   time.Time
}

// Notional returns price × quantity. Trades are only created after a
// settlement has already checked this product.
func (t Trade) Notional() uint64 {
	return t.Price * t.Quantity
}
