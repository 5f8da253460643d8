package handler

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/efreitasn/singlebook/internal/service"
)

// RouterDeps are the collaborators of the HTTP router. Stream and
// Metrics may be nil, in which case /ws and /metrics are not mounted.
type RouterDeps struct {
	Exchange    *service.Exchange
	Stream      http.HandlerFunc
	Metrics     http.Handler
	Logger      *zap.Logger
	CORSOrigins []string
}

// NewRouter creates a chi router with all routes registered, CORS,
// request logging, and Content-Type validation middleware.
func NewRouter(d RouterDeps) chi.Router {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(corsMiddleware(d.CORSOrigins))
	r.Use(requestLogging(d.Logger))
	r.Use(contentTypeJSON)

	orderH := NewOrderHandler(d.Exchange)
	bookH := NewBookHandler(d.Exchange)
	accountH := NewAccountHandler(d.Exchange)

	// Health check.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Order routes.
	r.Post("/order", orderH.Submit)
	r.Get("/order/{intent_id}", orderH.Get)

	// Book routes.
	r.Get("/depth", bookH.Depth)
	r.Get("/trades", bookH.Trades)

	// Account routes.
	r.Get("/balance/{account_id}", accountH.Balance)
	r.Get("/accounts/{account_id}/orders", accountH.ListOrders)

	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	if d.Stream != nil {
		r.Get("/ws", d.Stream)
	}

	return r
}

// corsMiddleware allows the given origins; "*" or an empty list allows
// any origin.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration.
func requestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Hijack hands the connection to the websocket upgrader.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// contentTypeJSON is middleware that validates Content-Type for POST, PUT, and
// PATCH requests. If the Content-Type header doesn't start with
// "application/json", it returns 400 Bad Request before the handler runs.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(ct, "application/json") {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken returns the token of an "Authorization: Bearer" header, or
// an empty string.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
