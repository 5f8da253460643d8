package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/singlebook/internal/domain"
	"github.com/efreitasn/singlebook/internal/engine"
	"github.com/efreitasn/singlebook/internal/service"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	exchange *service.Exchange
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(exchange *service.Exchange) *OrderHandler {
	return &OrderHandler{exchange: exchange}
}

// submitOrderRequest is the JSON request body for POST /order.
type submitOrderRequest struct {
	InstrumentID uint32 `json:"instrument_id"`
	AccountID    uint32 `json:"account_id"`
	Side         string `json:"side"`
	Price        uint64 `json:"price"`
	Qty          uint64 `json:"qty"`
}

// submitOrderResponse is the JSON response for POST /order.
type submitOrderResponse struct {
	IntentID     string            `json:"intent_id"`
	FilledQty    uint64            `json:"filled_qty"`
	RemainingQty uint64            `json:"remaining_qty"`
	Rested       bool              `json:"rested"`
	Trades       []tradeResponse   `json:"trades"`
	Anomalies    []anomalyResponse `json:"anomalies"`
}

// partialFillErrorResponse is the error body for a submission that failed
// after it had already traded. The trades and evictions it lists stand.
type partialFillErrorResponse struct {
	Error        string            `json:"error"`
	Message      string            `json:"message"`
	IntentID     string            `json:"intent_id"`
	FilledQty    uint64            `json:"filled_qty"`
	RemainingQty uint64            `json:"remaining_qty"`
	Trades       []tradeResponse   `json:"trades"`
	Anomalies    []anomalyResponse `json:"anomalies"`
}

// tradeResponse is a single executed trade.
type tradeResponse struct {
	TradeID      string `json:"trade_id"`
	InstrumentID uint32 `json:"instrument_id"`
	BuyerID      uint32 `json:"buyer_id"`
	SellerID     uint32 `json:"seller_id"`
	BuyIntentID  string `json:"buy_intent_id"`
	SellIntentID string `json:"sell_intent_id"`
	Price        uint64 `json:"price"`
	Qty          uint64 `json:"qty"`
	Aggressor    string `json:"aggressor"`
	ExecutedAt   string `json:"executed_at"`
}

// anomalyResponse is a resting intent evicted during the walk.
type anomalyResponse struct {
	IntentID  string `json:"intent_id"`
	AccountID uint32 `json:"account_id"`
	Side      string `json:"side"`
	Price     uint64 `json:"price"`
	Qty       uint64 `json:"qty"`
	Reason    string `json:"reason"`
}

// intentResponse is the JSON form of an intent record.
type intentResponse struct {
	IntentID     string  `json:"intent_id"`
	InstrumentID uint32  `json:"instrument_id"`
	AccountID    uint32  `json:"account_id"`
	Side         string  `json:"side"`
	Price        uint64  `json:"price"`
	Qty          uint64  `json:"qty"`
	FilledQty    uint64  `json:"filled_qty"`
	RemainingQty uint64  `json:"remaining_qty"`
	Status       string  `json:"status"`
	Reason       *string `json:"reason"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

// Submit handles POST /order.
func (h *OrderHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := h.exchange.Submit(r.Context(), bearerToken(r), service.SubmitRequest{
		InstrumentID: domain.InstrumentID(req.InstrumentID),
		AccountID:    domain.AccountID(req.AccountID),
		Side:         req.Side,
		Price:        req.Price,
		Quantity:     req.Qty,
	})
	if err != nil {
		writeSubmitError(w, result, err)
		return
	}

	WriteJSON(w, http.StatusCreated, submitOrderResponse{
		IntentID:     result.IntentID,
		FilledQty:    result.Filled,
		RemainingQty: result.Remaining,
		Rested:       result.Rested,
		Trades:       buildTradeResponses(result.Trades),
		Anomalies:    buildAnomalyResponses(result.Anomalies),
	})
}

// writeSubmitError maps a failed submission. When matching had started,
// the body also carries what the intent did before the failure.
func writeSubmitError(w http.ResponseWriter, result *service.SubmitResult, err error) {
	if result == nil {
		mapDomainError(w, err)
		return
	}

	status, code, message := classifyError(err)
	WriteJSON(w, status, partialFillErrorResponse{
		Error:        code,
		Message:      message,
		IntentID:     result.IntentID,
		FilledQty:    result.Filled,
		RemainingQty: result.Remaining,
		Trades:       buildTradeResponses(result.Trades),
		Anomalies:    buildAnomalyResponses(result.Anomalies),
	})
}

// Get handles GET /order/{intent_id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.exchange.Intent(r.Context(), bearerToken(r), chi.URLParam(r, "intent_id"))
	if err != nil {
		mapDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildIntentResponse(rec))
}

// buildTradeResponses converts domain trades to response trades.
func buildTradeResponses(trades []domain.Trade) []tradeResponse {
	result := make([]tradeResponse, len(trades))
	for i, t := range trades {
		result[i] = tradeResponse{
			TradeID:      t.ID,
			InstrumentID: uint32(t.Instrument),
			BuyerID:      uint32(t.Buyer),
			SellerID:     uint32(t.Seller),
			BuyIntentID:  t.BuyIntentID,
			SellIntentID: t.SellIntentID,
			Price:        t.Price,
			Qty:          t.Quantity,
			Aggressor:    string(t.Aggressor),
			ExecutedAt:   t.ExecutedAt.UTC().Format(timeFormat),
		}
	}
	return result
}

func buildAnomalyResponses(anomalies []engine.Anomaly) []anomalyResponse {
	result := make([]anomalyResponse, len(anomalies))
	for i, a := range anomalies {
		result[i] = anomalyResponse{
			IntentID:  a.IntentID,
			AccountID: uint32(a.Account),
			Side:      string(a.Side),
			Price:     a.Price,
			Qty:       a.Quantity,
			Reason:    a.Err.Error(),
		}
	}
	return result
}

func buildIntentResponse(rec domain.IntentRecord) intentResponse {
	resp := intentResponse{
		IntentID:     rec.ID,
		InstrumentID: uint32(rec.Instrument),
		AccountID:    uint32(rec.Account),
		Side:         string(rec.Side),
		Price:        rec.Price,
		Qty:          rec.Quantity,
		FilledQty:    rec.Filled,
		RemainingQty: rec.Remaining,
		Status:       string(rec.Status),
		CreatedAt:    rec.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:    rec.UpdatedAt.UTC().Format(timeFormat),
	}
	if rec.Reason != "" {
		reason := rec.Reason
		resp.Reason = &reason
	}
	return resp
}
