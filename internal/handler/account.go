package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/singlebook/internal/domain"
	"github.com/efreitasn/singlebook/internal/service"
)

// AccountHandler handles HTTP requests for account endpoints.
type AccountHandler struct {
	exchange *service.Exchange
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(exchange *service.Exchange) *AccountHandler {
	return &AccountHandler{exchange: exchange}
}

type holdingResponse struct {
	InstrumentID uint32 `json:"instrument_id"`
	Ticker       string `json:"ticker"`
	Quantity     uint64 `json:"quantity"`
}

// balanceResponse is the JSON response for GET /balance/{account_id}.
type balanceResponse struct {
	AccountID uint32            `json:"account_id"`
	Balance   uint64            `json:"balance"`
	Holdings  []holdingResponse `json:"holdings"`
}

// listOrdersResponse is the paginated response for an account's orders.
type listOrdersResponse struct {
	Orders []intentResponse `json:"orders"`
	Total  int              `json:"total"`
	Page   int              `json:"page"`
	Limit  int              `json:"limit"`
}

// Balance handles GET /balance/{account_id}.
func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAccountID(w, r)
	if !ok {
		return
	}

	view, err := h.exchange.Balance(r.Context(), bearerToken(r), id)
	if err != nil {
		mapDomainError(w, err)
		return
	}

	resp := balanceResponse{
		AccountID: uint32(view.AccountID),
		Balance:   view.Balance,
		Holdings:  make([]holdingResponse, len(view.Holdings)),
	}
	for i, hv := range view.Holdings {
		resp.Holdings[i] = holdingResponse{
			InstrumentID: uint32(hv.InstrumentID),
			Ticker:       hv.Ticker,
			Quantity:     hv.Quantity,
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// ListOrders handles GET /accounts/{account_id}/orders.
func (h *AccountHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAccountID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()

	var status *domain.IntentStatus
	if s := q.Get("status"); s != "" {
		st := domain.IntentStatus(s)
		status = &st
	}

	page := 1
	if p := q.Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "page must be >= 1")
			return
		}
		page = n
	}

	limit := 20
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	records, total, err := h.exchange.Intents(r.Context(), bearerToken(r), id, status, page, limit)
	if err != nil {
		mapDomainError(w, err)
		return
	}

	orders := make([]intentResponse, len(records))
	for i, rec := range records {
		orders[i] = buildIntentResponse(rec)
	}
	WriteJSON(w, http.StatusOK, listOrdersResponse{
		Orders: orders,
		Total:  total,
		Page:   page,
		Limit:  limit,
	})
}

// parseAccountID reads the account_id path parameter. It writes a 400
// and returns false when the value is not a uint32.
func parseAccountID(w http.ResponseWriter, r *http.Request) (domain.AccountID, bool) {
	n, err := strconv.ParseUint(chi.URLParam(r, "account_id"), 10, 32)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "account_id must be an unsigned 32-bit integer")
		return 0, false
	}
	return domain.AccountID(n), true
}
