package handler

import (
	"net/http"
	"strconv"

	"github.com/efreitasn/singlebook/internal/service"
)

const maxTradesLimit = 1000

// BookHandler handles HTTP requests for market data endpoints.
type BookHandler struct {
	exchange *service.Exchange
}

// NewBookHandler creates a new BookHandler.
func NewBookHandler(exchange *service.Exchange) *BookHandler {
	return &BookHandler{exchange: exchange}
}

type instrumentResponse struct {
	ID     uint32 `json:"id"`
	Ticker string `json:"ticker"`
}

type depthLevelResponse struct {
	IntentID  string `json:"intent_id"`
	AccountID uint32 `json:"account_id"`
	Price     uint64 `json:"price"`
	Qty       uint64 `json:"qty"`
}

// depthResponse is the JSON form of both sides of the book. Both sides
// are price descending; the best ask is the last element of asks.
type depthResponse struct {
	Instrument instrumentResponse   `json:"instrument"`
	Bids       []depthLevelResponse `json:"bids"`
	Asks       []depthLevelResponse `json:"asks"`
	SnapshotAt string               `json:"snapshot_at"`
}

type tradesResponse struct {
	Trades []tradeResponse `json:"trades"`
}

// Depth handles GET /depth.
func (h *BookHandler) Depth(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, 0, 0)
	if !ok {
		return
	}

	WriteJSON(w, http.StatusOK, buildDepthResponse(h.exchange.Depth(r.Context(), limit)))
}

// Trades handles GET /trades.
func (h *BookHandler) Trades(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, 100, maxTradesLimit)
	if !ok {
		return
	}

	WriteJSON(w, http.StatusOK, tradesResponse{
		Trades: buildTradeResponses(h.exchange.Trades(limit)),
	})
}

// parseLimit reads the optional "limit" query parameter. A zero maxLimit means
// unbounded. It writes a 400 and returns false when the value is invalid.
func parseLimit(w http.ResponseWriter, r *http.Request, def, maxLimit int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || (maxLimit > 0 && n > maxLimit) {
		msg := "limit must be a positive integer"
		if maxLimit > 0 {
			msg = "limit must be between 1 and " + strconv.Itoa(maxLimit)
		}
		WriteError(w, http.StatusBadRequest, "validation_error", msg)
		return 0, false
	}
	return n, true
}

func buildDepthResponse(v service.DepthView) depthResponse {
	return depthResponse{
		Instrument: instrumentResponse{
			ID:     uint32(v.Instrument.ID),
			Ticker: v.Instrument.Ticker,
		},
		Bids:       buildDepthLevels(v.Bids),
		Asks:       buildDepthLevels(v.Asks),
		SnapshotAt: v.SnapshotAt.UTC().Format(timeFormat),
	}
}

func buildDepthLevels(levels []service.DepthLevel) []depthLevelResponse {
	out := make([]depthLevelResponse, len(levels))
	for i, l := range levels {
		out[i] = depthLevelResponse{
			IntentID:  l.IntentID,
			AccountID: uint32(l.AccountID),
			Price:     l.Price,
			Qty:       l.Quantity,
		}
	}
	return out
}
