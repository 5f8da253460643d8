package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/efreitasn/singlebook/internal/domain"
)

// timeFormat is the wire format of every timestamp.
const timeFormat = "2006-01-02T15:04:05Z"

// WriteJSON writes a JSON response with the given status code and data.
// Sets Content-Type to application/json before writing the status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data) // Write error intentionally ignored in response helper
}

// errorResponse is the standard error response format.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes a standard error response with the given status code,
// error code, and human-readable message.
func WriteError(w http.ResponseWriter, status int, errorCode, message string) {
	WriteJSON(w, status, errorResponse{
		Error:   errorCode,
		Message: message,
	})
}

// ParseJSON decodes the request body as JSON into v.
// It validates that the Content-Type header is application/json and
// returns an error for missing/incorrect content type or malformed JSON.
func ParseJSON(r *http.Request, v any) error {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("Request body must be valid JSON with Content-Type: application/json")
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("Request body must be valid JSON with Content-Type: application/json")
	}

	return nil
}

// errorStatus pairs a sentinel with its HTTP status.
var errorStatus = []struct {
	err    error
	status int
}{
	{domain.ErrInvalidPrice, http.StatusBadRequest},
	{domain.ErrInvalidQuantity, http.StatusBadRequest},
	{domain.ErrUnauthorized, http.StatusUnauthorized},
	{domain.ErrUnknownAccount, http.StatusNotFound},
	{domain.ErrUnknownInstrument, http.StatusNotFound},
	{domain.ErrUnknownIntent, http.StatusNotFound},
	{domain.ErrInsufficientBalance, http.StatusConflict},
	{domain.ErrInsufficientHoldings, http.StatusConflict},
}

var errorMessages = map[error]string{
	domain.ErrInvalidPrice:         "price must be between 1 and the configured maximum",
	domain.ErrInvalidQuantity:      "quantity must be between 1 and the configured maximum",
	domain.ErrUnauthorized:         "You can't access this information",
	domain.ErrUnknownAccount:       "account not found",
	domain.ErrUnknownInstrument:    "instrument not found",
	domain.ErrUnknownIntent:        "order not found",
	domain.ErrInsufficientBalance:  "balance does not cover price × quantity",
	domain.ErrInsufficientHoldings: "holdings do not cover quantity",
}

// mapDomainError maps domain errors to HTTP responses. The sentinel's
// text doubles as the machine-readable error code.
func mapDomainError(w http.ResponseWriter, err error) {
	status, code, message := classifyError(err)
	WriteError(w, status, code, message)
}

func classifyError(err error) (status int, code, message string) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, "validation_error", validationErr.Message
	}

	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status, e.err.Error(), errorMessages[e.err]
		}
	}
	return http.StatusInternalServerError, "internal_error", "An unexpected error occurred"
}
