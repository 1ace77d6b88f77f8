// Package http is the thin presentation adapter over the ledger service:
// JSON handlers for shipments, prices and monthly reports. It holds no
// business rules; validation happens here (the caller-side policy) and every
// decision beyond that is the service's.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	applog "shipledger/internal/log"
	"shipledger/internal/services"
)

type Server struct {
	http.Server
	service *services.LedgerService

	// Month report caches, invalidated through the ledger's change hook.
	monthsCache *ttlCache[[]monthSummary]
	monthCache  *ttlCache[monthReport]

	stopCacheCleanup chan struct{}
	shutdownOnce     sync.Once
}

// NewServer configures routes and report caches, returning a ready-to-run
// server. reportTTL bounds how stale a cached month report may get even
// without a change notification.
func NewServer(addr string, service *services.LedgerService, reportTTL time.Duration) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		service:          service,
		monthsCache:      newTTLCache[[]monthSummary](reportTTL),
		monthCache:       newTTLCache[monthReport](reportTTL),
		stopCacheCleanup: make(chan struct{}),
	}

	// Any committed mutation may move a month total; drop both caches.
	service.Subscribe(func(services.ShipmentChange) {
		s.monthsCache.Clear()
		s.monthCache.Clear()
	})

	go s.startCacheCleanup()

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("GET /shipments", s.withLogging(s.handleListShipments))
	mux.HandleFunc("POST /shipments", s.withLogging(s.handleAddShipment))
	mux.HandleFunc("GET /shipments/{id}", s.withLogging(s.handleGetShipment))
	mux.HandleFunc("PUT /shipments/{id}", s.withLogging(s.handleUpdateShipment))
	mux.HandleFunc("POST /shipments/{id}/complete", s.withLogging(s.handleCompleteShipment))
	mux.HandleFunc("DELETE /shipments/{id}", s.withLogging(s.handleDeleteShipment))

	mux.HandleFunc("GET /reports/months", s.withLogging(s.handleMonthlyIncome))
	mux.HandleFunc("GET /reports/months/{tag}", s.withLogging(s.handleMonthReport))

	mux.HandleFunc("GET /prices", s.withLogging(s.handleListPrices))
	mux.HandleFunc("PUT /prices/{product}", s.withLogging(s.handleSetPrice))

	return s
}

func (s *Server) startCacheCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := s.monthsCache.CleanExpired() + s.monthCache.CleanExpired()
			if removed > 0 {
				slog.Debug("Report cache cleanup completed", "entries_removed", removed)
			}
		case <-s.stopCacheCleanup:
			return
		}
	}
}

// Shutdown stops the cleanup goroutine and the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.stopCacheCleanup != nil {
			close(s.stopCacheCleanup)
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withLogging adds a request id, request/response logging and conservative
// response headers.
func (s *Server) withLogging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			applog.FieldRequestID, requestID,
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path)

		w.Header().Set("X-Content-Type-Options", "nosniff")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			applog.FieldRequestID, requestID,
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldStatusCode, rw.statusCode,
			applog.FieldDuration, time.Since(start).Milliseconds())
	}
}

type requestIDKey struct{}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// ttlCache is a small expiring map for month reports. Volumes are tiny (one
// entry per completion month), so plain TTL eviction is enough.
type ttlCache[T any] struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]ttlItem[T]
}

type ttlItem[T any] struct {
	data      T
	expiresAt time.Time
}

func newTTLCache[T any](ttl time.Duration) *ttlCache[T] {
	return &ttlCache[T]{
		ttl:   ttl,
		items: make(map[string]ttlItem[T]),
	}
}

func (c *ttlCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	item, ok := c.items[key]
	if !ok {
		return zero, false
	}
	if time.Now().After(item.expiresAt) {
		delete(c.items, key)
		return zero, false
	}
	return item.data, true
}

func (c *ttlCache[T]) Set(key string, data T) {
	c.mu.Lock()
	c.items[key] = ttlItem[T]{data: data, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *ttlCache[T]) Clear() {
	c.mu.Lock()
	c.items = make(map[string]ttlItem[T])
	c.mu.Unlock()
}

func (c *ttlCache[T]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// monthSummary and monthReport are the cached report payloads.
type monthSummary struct {
	Month      string `json:"month"`
	Formatted  string `json:"formatted"`
	TotalCents int64  `json:"total_cents"`
	Total      string `json:"total"`
}

type monthReport struct {
	monthSummary
	Shipments []shipmentDTO `json:"shipments"`
}
