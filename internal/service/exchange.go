package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/efreitasn/singlebook/internal/domain"
	"github.com/efreitasn/singlebook/internal/engine"
	"github.com/efreitasn/singlebook/internal/metrics"
	"github.com/efreitasn/singlebook/internal/store"
)

// Catalog resolves accounts and instruments. Accounts it returns are the
// live objects settlement mutates; Save writes them back after trading.
type Catalog interface {
	Account(ctx context.Context, id domain.AccountID) (*domain.Account, error)
	Instrument(ctx context.Context, id domain.InstrumentID) (*domain.Instrument, error)
	Save(ctx context.Context, accounts ...*domain.Account) error
}

// Authorizer decides whether caller may act for an account.
type Authorizer interface {
	IsAuthorized(ctx context.Context, caller string, acct domain.AccountID) bool
}

// TradePublisher delivers executed trades downstream.
type TradePublisher interface {
	PublishTrades(ctx context.Context, trades []domain.Trade) error
}

// DepthPublisher receives a fresh depth view after every submission, in
// execution order. PublishDepth is called under the book lock and must
// not block.
type DepthPublisher interface {
	PublishDepth(v DepthView)
}

// SubmitRequest is the input for intent submission.
type SubmitRequest struct {
	InstrumentID domain.InstrumentID
	AccountID    domain.AccountID
	Side         string
	Price        uint64
	Quantity     uint64
}

// SubmitResult is the outcome of one submission.
type SubmitResult struct {
	IntentID  string
	Filled    uint64
	Remaining uint64
	Rested    bool
	Trades    []domain.Trade
	Anomalies []engine.Anomaly
}

// DepthLevel is one resting intent in a depth view.
type DepthLevel struct {
	IntentID  string
	AccountID domain.AccountID
	Price     uint64
	Quantity  uint64
}

// DepthView is both sides of the book in stored order: price descending
// on both sides, so the best bid is first and the best ask is last.
type DepthView struct {
	Instrument domain.Instrument
	Bids       []DepthLevel
	Asks       []DepthLevel
	SnapshotAt time.Time
}

// HoldingView is one instrument position in a balance view.
type HoldingView struct {
	InstrumentID domain.InstrumentID
	Ticker       string
	Quantity     uint64
}

// BalanceView is an account's cash and holdings.
type BalanceView struct {
	AccountID domain.AccountID
	Balance   uint64
	Holdings  []HoldingView
}

// Deps are the collaborators of an Exchange. Depth and Metrics may be nil.
type Deps struct {
	Matcher        *engine.Matcher
	Catalog        Catalog
	Authorizer     Authorizer
	Trades         *store.TradeStore
	Intents        *store.IntentStore
	Publisher      TradePublisher
	Depth          DepthPublisher
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
	Limits         domain.Limits
	PublishTimeout time.Duration
	DepthLimit     int // levels per side pushed to Depth; 0 means all
}

// Exchange is the single context object behind every transport: it
// authorizes, admits and matches intents, then persists, records and
// publishes the outcome outside the book's critical section.
type Exchange struct {
	matcher        *engine.Matcher
	catalog        Catalog
	auth           Authorizer
	trades         *store.TradeStore
	intents        *store.IntentStore
	publisher      TradePublisher
	depth          DepthPublisher
	metrics        *metrics.Metrics
	logger         *zap.Logger
	limits         domain.Limits
	publishTimeout time.Duration
	depthLimit     int
	outbox         chan []domain.Trade
}

const outboxSize = 1024

// NewExchange creates an Exchange. Call Run to start trade publishing.
func NewExchange(d Deps) *Exchange {
	m := d.Metrics
	if m == nil {
		m = metrics.New()
	}
	timeout := d.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Exchange{
		matcher:        d.Matcher,
		catalog:        d.Catalog,
		auth:           d.Authorizer,
		trades:         d.Trades,
		intents:        d.Intents,
		publisher:      d.Publisher,
		depth:          d.Depth,
		metrics:        m,
		logger:         d.Logger,
		limits:         d.Limits,
		publishTimeout: timeout,
		depthLimit:     d.DepthLimit,
		outbox:         make(chan []domain.Trade, outboxSize),
	}
}

// Instrument returns the instrument this exchange trades.
func (s *Exchange) Instrument() domain.Instrument {
	return s.matcher.Book().Instrument()
}

// Submit admits an intent and matches it against the book. When the
// incoming party fails settlement mid-walk, the partial result is
// returned together with the error.
func (s *Exchange) Submit(ctx context.Context, caller string, req SubmitRequest) (*SubmitResult, error) {
	intent, acct, err := s.admit(ctx, caller, req)
	if err != nil {
		s.metrics.IntentsRejected.WithLabelValues(reason(err)).Inc()
		return nil, err
	}
	s.metrics.IntentsSubmitted.WithLabelValues(string(intent.Side)).Inc()

	// Recorded before matching so fills taken while resting are never
	// applied to a missing record.
	s.intents.Create(domain.NewIntentRecord(intent))

	result, matchErr := s.matcher.MatchAndCommit(intent, acct, func(result *engine.FillResult, err error) {
		s.commit(intent, result, err)
	})
	if result == nil {
		s.intents.Close(intent.ID, domain.IntentStatusRejected, matchErr.Error(), time.Now())
		s.metrics.IntentsRejected.WithLabelValues(reason(matchErr)).Inc()
		return nil, matchErr
	}

	s.record(ctx, acct, intent.ID, result)

	out := &SubmitResult{
		IntentID:  intent.ID,
		Filled:    result.Filled,
		Remaining: result.Remaining,
		Rested:    result.Rested,
		Trades:    result.Trades,
		Anomalies: result.Anomalies,
	}
	if matchErr != nil {
		s.metrics.IntentsRejected.WithLabelValues(reason(matchErr)).Inc()
		return out, matchErr
	}
	return out, nil
}

// admit validates the request and everything the incoming party needs to
// settle, before the book is locked.
func (s *Exchange) admit(ctx context.Context, caller string, req SubmitRequest) (*domain.Intent, *domain.Account, error) {
	side, err := domain.ParseSide(req.Side)
	if err != nil {
		return nil, nil, err
	}

	intent := &domain.Intent{
		ID:         uuid.New().String(),
		Instrument: req.InstrumentID,
		Account:    req.AccountID,
		Price:      req.Price,
		Quantity:   req.Quantity,
		Side:       side,
		CreatedAt:  time.Now(),
	}
	if err := intent.Validate(s.limits); err != nil {
		return nil, nil, err
	}

	inst, err := s.catalog.Instrument(ctx, req.InstrumentID)
	if err != nil {
		return nil, nil, err
	}
	if inst.ID != s.Instrument().ID {
		return nil, nil, domain.ErrUnknownInstrument
	}

	if !s.auth.IsAuthorized(ctx, caller, req.AccountID) {
		return nil, nil, domain.ErrUnauthorized
	}

	acct, err := s.catalog.Account(ctx, req.AccountID)
	if err != nil {
		return nil, nil, err
	}

	snap := acct.Snapshot()
	switch side {
	case domain.SideBuy:
		notional, err := domain.Notional(intent.Price, intent.Quantity)
		if err != nil {
			return nil, nil, domain.ErrInvalidQuantity
		}
		if snap.Balance < notional {
			return nil, nil, domain.ErrInsufficientBalance
		}
	case domain.SideSell:
		if snap.Holdings[intent.Instrument] < intent.Quantity {
			return nil, nil, domain.ErrInsufficientHoldings
		}
	}
	return intent, acct, nil
}

// commit applies the order-sensitive part of a match result: intent
// records, the trade tape, the publishing outbox, the resting gauges and
// the depth stream. It runs under the book's write lock, so every sink
// sees matches in execution order. Nothing here blocks.
func (s *Exchange) commit(intent *domain.Intent, result *engine.FillResult, matchErr error) {
	now := time.Now()

	if result.Filled > 0 {
		s.intents.ApplyFill(intent.ID, result.Filled, now)
	}
	if matchErr != nil {
		s.intents.Close(intent.ID, domain.IntentStatusRejected, matchErr.Error(), now)
	}
	for _, t := range result.Trades {
		resting := t.BuyIntentID
		if t.Aggressor == domain.SideBuy {
			resting = t.SellIntentID
		}
		s.intents.ApplyFill(resting, t.Quantity, now)
	}
	for _, a := range result.Anomalies {
		s.intents.Close(a.IntentID, domain.IntentStatusEvicted, a.Err.Error(), now)
	}

	if len(result.Trades) > 0 {
		s.trades.Append(result.Trades...)
		s.enqueue(result.Trades)
	}

	book := s.matcher.Book()
	s.metrics.RestingIntents.WithLabelValues(string(domain.SideBuy)).Set(float64(book.BidCount()))
	s.metrics.RestingIntents.WithLabelValues(string(domain.SideSell)).Set(float64(book.AskCount()))

	if s.depth != nil {
		s.depth.PublishDepth(toView(book.DepthLocked(s.depthLimit)))
	}
}

// record persists the accounts a match touched and counts it. It runs
// after the book lock is released; pebble write-back is versioned, so
// out-of-order saves never regress an account.
func (s *Exchange) record(ctx context.Context, acct *domain.Account, intentID string, result *engine.FillResult) {
	for _, t := range result.Trades {
		s.metrics.Trades.Inc()
		s.metrics.TradedQuantity.Add(float64(t.Quantity))
	}
	for _, a := range result.Anomalies {
		s.metrics.Anomalies.WithLabelValues(reason(a.Err)).Inc()
	}
	if len(result.Trades) == 0 {
		return
	}

	touched := []*domain.Account{acct}
	seen := map[domain.AccountID]bool{acct.ID: true}
	for _, t := range result.Trades {
		for _, id := range []domain.AccountID{t.Buyer, t.Seller} {
			if seen[id] {
				continue
			}
			seen[id] = true
			a, err := s.catalog.Account(ctx, id)
			if err != nil {
				s.logger.Error("counterparty lookup failed", zap.Uint32("account_id", uint32(id)), zap.Error(err))
				continue
			}
			touched = append(touched, a)
		}
	}

	if err := s.catalog.Save(ctx, touched...); err != nil {
		s.logger.Error("persisting settled accounts failed",
			zap.String("intent_id", intentID),
			zap.Int("accounts", len(touched)),
			zap.Error(err),
		)
	}
}

// enqueue hands trades to the publishing loop without blocking.
func (s *Exchange) enqueue(trades []domain.Trade) {
	select {
	case s.outbox <- trades:
	default:
		s.metrics.PublishFailures.Inc()
		s.logger.Warn("trade outbox full, dropping batch", zap.Int("trades", len(trades)))
	}
}

// Run publishes queued trade batches in execution order until ctx is
// cancelled, then drains what is already queued.
func (s *Exchange) Run(ctx context.Context) error {
	for {
		select {
		case batch := <-s.outbox:
			s.publish(batch)
		case <-ctx.Done():
			for {
				select {
				case batch := <-s.outbox:
					s.publish(batch)
				default:
					return nil
				}
			}
		}
	}
}

func (s *Exchange) publish(trades []domain.Trade) {
	ctx, cancel := context.WithTimeout(context.Background(), s.publishTimeout)
	defer cancel()

	if err := s.publisher.PublishTrades(ctx, trades); err != nil {
		s.metrics.PublishFailures.Inc()
		s.logger.Error("publishing trades failed", zap.Int("trades", len(trades)), zap.Error(err))
	}
}

// Depth returns a consistent view of both sides. A positive limit keeps
// the best limit intents per side.
func (s *Exchange) Depth(_ context.Context, limit int) DepthView {
	return toView(s.matcher.Book().Depth(limit))
}

func toView(d engine.Depth) DepthView {
	return DepthView{
		Instrument: d.Instrument,
		Bids:       toLevels(d.Bids),
		Asks:       toLevels(d.Asks),
		SnapshotAt: time.Now(),
	}
}

func toLevels(entries []engine.DepthEntry) []DepthLevel {
	out := make([]DepthLevel, len(entries))
	for i, e := range entries {
		out[i] = DepthLevel{
			IntentID:  e.IntentID,
			AccountID: e.Account,
			Price:     e.Price,
			Quantity:  e.Quantity,
		}
	}
	return out
}

// Balance returns the account's cash and holdings if caller may see them.
func (s *Exchange) Balance(ctx context.Context, caller string, id domain.AccountID) (*BalanceView, error) {
	if !s.auth.IsAuthorized(ctx, caller, id) {
		return nil, domain.ErrUnauthorized
	}
	acct, err := s.catalog.Account(ctx, id)
	if err != nil {
		return nil, err
	}

	snap := acct.Snapshot()
	view := &BalanceView{
		AccountID: snap.ID,
		Balance:   snap.Balance,
		Holdings:  make([]HoldingView, 0, len(snap.Holdings)),
	}
	for instID, qty := range snap.Holdings {
		h := HoldingView{InstrumentID: instID, Quantity: qty}
		if inst, err := s.catalog.Instrument(ctx, instID); err == nil {
			h.Ticker = inst.Ticker
		}
		view.Holdings = append(view.Holdings, h)
	}
	slices.SortFunc(view.Holdings, func(a, b HoldingView) int {
		return cmp.Compare(a.InstrumentID, b.InstrumentID)
	})
	return view, nil
}

// Trades returns up to limit of the most recent trades, oldest first.
func (s *Exchange) Trades(limit int) []domain.Trade {
	return s.trades.Recent(limit)
}

// Intent returns the record of a submitted intent if caller may see it.
func (s *Exchange) Intent(ctx context.Context, caller, id string) (domain.IntentRecord, error) {
	rec, err := s.intents.Get(id)
	if err != nil {
		return domain.IntentRecord{}, err
	}
	if !s.auth.IsAuthorized(ctx, caller, rec.Account) {
		return domain.IntentRecord{}, domain.ErrUnauthorized
	}
	return rec, nil
}

// ValidIntentStatuses lists the status values accepted as a filter.
var ValidIntentStatuses = map[domain.IntentStatus]bool{
	domain.IntentStatusResting:         true,
	domain.IntentStatusPartiallyFilled: true,
	domain.IntentStatusFilled:          true,
	domain.IntentStatusEvicted:         true,
	domain.IntentStatusRejected:        true,
}

// Intents returns a page of an account's intents, newest first, with
// optional status filtering.
func (s *Exchange) Intents(ctx context.Context, caller string, acct domain.AccountID, status *domain.IntentStatus, page, limit int) ([]domain.IntentRecord, int, error) {
	if !s.auth.IsAuthorized(ctx, caller, acct) {
		return nil, 0, domain.ErrUnauthorized
	}
	if _, err := s.catalog.Account(ctx, acct); err != nil {
		return nil, 0, err
	}

	if status != nil && !ValidIntentStatuses[*status] {
		return nil, 0, &domain.ValidationError{
			Message: fmt.Sprintf("Invalid status filter: '%s'. Must be one of: resting, partially_filled, filled, evicted, rejected", *status),
		}
	}
	if page < 1 {
		return nil, 0, &domain.ValidationError{Message: "page must be >= 1"}
	}
	if limit < 1 || limit > 100 {
		return nil, 0, &domain.ValidationError{Message: "limit must be between 1 and 100"}
	}

	records, total := s.intents.ListByAccount(acct, status, page, limit)
	return records, total, nil
}

// reason is a low-cardinality metric label for err.
func reason(err error) string {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return "validation"
	}
	for _, sentinel := range []error{
		domain.ErrUnknownAccount,
		domain.ErrUnknownInstrument,
		domain.ErrUnauthorized,
		domain.ErrInsufficientBalance,
		domain.ErrInsufficientHoldings,
		domain.ErrInvalidQuantity,
		domain.ErrInvalidPrice,
		domain.ErrArithmeticOverflow,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal"
}
