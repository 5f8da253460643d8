package engine

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/efreitasn/singlebook/internal/domain"
)

// Anomaly is a resting intent that crossed but could not settle because
// its owner lacked balance or holdings. The matcher evicts it from the
// book and keeps walking.
type Anomaly struct {
	IntentID string
	Account  domain.AccountID
	Side     domain.Side
	Price    uint64
	Quantity uint64
	Err      error
}

// FillResult is the outcome of walking the book with one incoming intent.
type FillResult struct {
	Trades    []domain.Trade
	Filled    uint64
	Remaining uint64
	Rested    bool
	Anomalies []Anomaly
}

// Fill walks the side opposite the incoming intent in price-time order,
// settling each crossable resting intent and shrinking or removing it in
// the same step. It stops when the incoming quantity reaches zero or the
// best resting price no longer crosses. The caller must hold the write
// lock.
//
// A settlement failure on the resting side evicts that resting intent
// and continues with the next one. A failure on the incoming side stops
// the walk and is returned with the trades completed so far.
func (b *Book) Fill(incoming *domain.Intent, account *domain.Account) (*FillResult, error) {
	result := &FillResult{}
	opposite := incoming.Side.Opposite()
	executedAt := time.Now()

	for incoming.Quantity > 0 {
		best, ok := b.best(opposite)
		if !ok || !incoming.Crosses(best.Price) {
			break
		}
		resting := best.Intent

		qty := min(incoming.Quantity, resting.Quantity)
		price := best.Price

		buyer, seller := account, best.Account
		buyIntent, sellIntent := incoming, resting
		if incoming.Side == domain.SideSell {
			buyer, seller = seller, buyer
			buyIntent, sellIntent = sellIntent, buyIntent
		}

		if err := Settle(buyer, seller, b.instrument.ID, price, qty); err != nil {
			var se *SettlementError
			if !errors.As(err, &se) || incomingParty(incoming.Side) == se.Party {
				result.Remaining = incoming.Quantity
				return result, err
			}
			b.remove(opposite, best)
			result.Anomalies = append(result.Anomalies, Anomaly{
				IntentID: resting.ID,
				Account:  best.Account.ID,
				Side:     resting.Side,
				Price:    price,
				Quantity: resting.Quantity,
				Err:      se.Err,
			})
			continue
		}

		incoming.Quantity -= qty
		resting.Quantity -= qty
		if resting.Quantity == 0 {
			b.remove(opposite, best)
		}

		result.Filled += qty
		result.Trades = append(result.Trades, domain.Trade{
			ID:           uuid.New().String(),
			Instrument:   b.instrument.ID,
			Buyer:        buyer.ID,
			Seller:       seller.ID,
			BuyIntentID:  buyIntent.ID,
			SellIntentID: sellIntent.ID,
			Price:        price,
			Quantity:     qty,
			Aggressor:    incoming.Side,
			ExecutedAt:   executedAt,
		})
	}

	result.Remaining = incoming.Quantity
	return result, nil
}

func incomingParty(side domain.Side) Party {
	if side == domain.SideBuy {
		return PartyBuyer
	}
	return PartySeller
}

// Matcher runs incoming intents against a single book.
type Matcher struct {
	book   *Book
	logger *zap.Logger
}

// NewMatcher creates a Matcher for the given book.
func NewMatcher(book *Book, logger *zap.Logger) *Matcher {
	return &Matcher{
		book:   book,
		logger: logger,
	}
}

// Book returns the matcher's book.
func (m *Matcher) Book() *Book {
	return m.book
}

// Commit receives the outcome of a match while the book's write lock is
// still held, so successive commits observe matches in execution order.
// It must not block and must not take the book lock.
type Commit func(result *FillResult, err error)

// Match fills the incoming intent and rests any remainder on its own
// side. The book's write lock is held across both steps, so no other
// submission or depth read can observe a match that has been settled but
// not yet reflected in the book.
func (m *Matcher) Match(incoming *domain.Intent, account *domain.Account) (*FillResult, error) {
	return m.MatchAndCommit(incoming, account, nil)
}

// MatchAndCommit is Match with a commit hook run before the lock is
// released. A nil commit is allowed.
func (m *Matcher) MatchAndCommit(incoming *domain.Intent, account *domain.Account, commit Commit) (*FillResult, error) {
	if incoming.Instrument != m.book.instrument.ID {
		return nil, domain.ErrUnknownInstrument
	}

	m.book.Lock()
	defer m.book.Unlock()

	result, err := m.book.Fill(incoming, account)
	for _, a := range result.Anomalies {
		m.logger.Warn("resting intent evicted after failed settlement",
			zap.String("intent_id", a.IntentID),
			zap.Uint32("account_id", uint32(a.Account)),
			zap.String("side", string(a.Side)),
			zap.Uint64("price", a.Price),
			zap.Uint64("quantity", a.Quantity),
			zap.Error(a.Err),
		)
	}
	if err != nil {
		m.logger.Error("incoming intent failed settlement",
			zap.String("intent_id", incoming.ID),
			zap.Uint32("account_id", uint32(incoming.Account)),
			zap.Uint64("filled", result.Filled),
			zap.Error(err),
		)
	} else if result.Remaining > 0 {
		m.book.Insert(incoming, account)
		result.Rested = true
	}

	if commit != nil {
		commit(result, err)
	}
	return result, err
}
