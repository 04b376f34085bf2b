// Package trade provides the HTTP handlers for submitting prices and
// reading or resetting the simulated portfolio.
//
// All monetary values use shopspring/decimal, never float64.
package trade

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atmx/papertrader/internal/engine"
	"github.com/atmx/papertrader/internal/metrics"
	"github.com/atmx/papertrader/internal/model"
	"github.com/atmx/papertrader/internal/store"
)

// errMissingPrice is returned when the request body has no price field.
var errMissingPrice = errors.New(`field "price" is required`)

// Endpoints lists the public routes, shown on the welcome page and on 404s.
var Endpoints = []string{
	"GET /",
	"POST /api/price",
	"GET /api/state",
	"GET /api/logs",
	"POST /api/reset",
	"GET /api/sessions/current",
	"GET /api/sessions/{sessionID}/logs",
	"GET /api/ws",
}

// Service handles price submissions. Submissions and resets are serialized
// with mu so archive order matches ledger order.
type Service struct {
	engine  *engine.Engine
	archive store.Archive
	hub     *WSHub // optional WebSocket hub for real-time broadcasts
	logger  *zap.Logger

	mu      sync.Mutex
	session string
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(eng *engine.Engine, archive store.Archive, hub *WSHub, logger *zap.Logger) *Service {
	s := &Service{
		engine:  eng,
		archive: archive,
		hub:     hub,
		logger:  logger,
		session: uuid.New().String(),
	}
	metrics.ObserveState(viewOf(eng.Status().Snapshot))
	return s
}

// --- Request/Response types ---

// PriceRequest is the JSON body for POST /api/price. Price is kept raw so
// a missing field, a string and a number can be told apart.
type PriceRequest struct {
	Price json.RawMessage `json:"price"`
}

// Envelope wraps every JSON response.
type Envelope struct {
	Success            bool     `json:"success"`
	Data               any      `json:"data,omitempty"`
	Error              string   `json:"error,omitempty"`
	Example            any      `json:"example,omitempty"`
	AvailableEndpoints []string `json:"availableEndpoints,omitempty"`
}

// SessionResponse names the active archive session.
type SessionResponse struct {
	SessionID string `json:"sessionId"`
}

// SessionLogsResponse is the archived log of one session.
type SessionLogsResponse struct {
	SessionID string           `json:"sessionId"`
	TotalLogs int              `json:"totalLogs"`
	Logs      []model.LogEntry `json:"logs"`
}

var priceExample = map[string]int{"price": 1000}

// MaxBodyBytes caps the size of a price submission body.
const MaxBodyBytes = 1 << 10

// Register mounts the endpoints on r. apiMiddleware wraps the /api routes
// only. Unknown paths and methods both answer 404 with the endpoint list.
func (s *Service) Register(r chi.Router, apiMiddleware ...func(http.Handler) http.Handler) {
	r.NotFound(s.NotFound)
	r.MethodNotAllowed(s.NotFound)

	r.Get("/", s.Welcome)
	r.Route("/api", func(r chi.Router) {
		r.Use(apiMiddleware...)
		r.Post("/price", s.SubmitPrice)
		r.Get("/state", s.GetState)
		r.Get("/logs", s.GetLogs)
		r.Post("/reset", s.Reset)
		r.Get("/sessions/current", s.CurrentSession)
		r.Get("/sessions/{sessionID}/logs", s.GetSessionLogs)
		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}
	})
}

// --- HTTP Handlers ---

// SubmitPrice handles POST /api/price
func (s *Service) SubmitPrice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	var req PriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, fmt.Sprintf("request body exceeds %d bytes", MaxBodyBytes), http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	price, err := parsePrice(req.Price)
	if errors.Is(err, errMissingPrice) {
		writeJSON(w, http.StatusBadRequest, Envelope{Error: err.Error(), Example: priceExample})
		return
	}
	if err != nil {
		metrics.InvalidPricesTotal.Inc()
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Serialize decision + archive.
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	res, err := s.engine.SubmitPrice(price)
	elapsed := time.Since(start)
	if errors.Is(err, engine.ErrInvalidPrice) {
		metrics.InvalidPricesTotal.Inc()
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.logger.Error("price submission failed", zap.String("price", price.String()), zap.Error(err))
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	signal := Signal(res)
	metrics.ObserveDecision(res, signal, elapsed)

	if res.Transaction != nil {
		s.archiveEntry(r.Context(), *res.Transaction)
	}

	s.logger.Info("decision",
		zap.String("session", s.session),
		zap.String("signal", string(signal)),
		zap.String("action", string(res.Action)),
		zap.String("price", price.String()),
		zap.String("balance", res.State.Balance.String()),
		zap.Int64("holdings", res.State.Holdings),
		zap.String("reason", res.Reason),
	)

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:      "decision",
			SessionID: s.session,
			Action:    string(res.Action),
			Reason:    res.Reason,
			Price:     price.String(),
			Balance:   res.State.Balance.String(),
			Holdings:  res.State.Holdings,
			Position:  string(res.State.Position),
		})
	}

	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: res})
}

// archiveEntry copies entry to the audit archive. Failures never fail the
// request.
func (s *Service) archiveEntry(ctx context.Context, entry model.LogEntry) {
	if s.archive == nil {
		return
	}
	if err := s.archive.Append(ctx, s.session, entry); err != nil {
		metrics.ArchiveErrors.Inc()
		s.logger.Warn("archive append failed",
			zap.String("session", s.session),
			zap.Int64("entry_id", entry.ID),
			zap.Error(err),
		)
	}
}

// GetState handles GET /api/state
func (s *Service) GetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: s.engine.Status()})
}

// GetLogs handles GET /api/logs
func (s *Service) GetLogs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: s.engine.Logs()})
}

// Reset handles POST /api/reset. A reset also opens a new archive session.
func (s *Service) Reset(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.engine.Reset()
	previous := s.session
	s.session = uuid.New().String()

	metrics.Resets.Inc()
	metrics.ObserveState(viewOf(res.State))

	s.logger.Info("portfolio reset",
		zap.String("previous_session", previous),
		zap.String("session", s.session),
		zap.String("balance", res.State.Balance.String()),
	)

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:      "reset",
			SessionID: s.session,
			Balance:   res.State.Balance.String(),
			Holdings:  res.State.Holdings,
			Position:  string(res.State.CurrentPosition),
		})
	}

	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: res})
}

// Session returns the active archive session ID.
func (s *Service) Session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// CurrentSession handles GET /api/sessions/current
func (s *Service) CurrentSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: SessionResponse{SessionID: s.Session()}})
}

// GetSessionLogs handles GET /api/sessions/{sessionID}/logs
func (s *Service) GetSessionLogs(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := uuid.Parse(sessionID); err != nil {
		writeError(w, "invalid session id", http.StatusBadRequest)
		return
	}
	if s.archive == nil {
		writeError(w, "archive disabled", http.StatusNotFound)
		return
	}

	entries, err := s.archive.Entries(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("archive read failed", zap.String("session", sessionID), zap.Error(err))
		writeError(w, "failed to read archive", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LogEntry{}
	}

	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: SessionLogsResponse{
		SessionID: sessionID,
		TotalLogs: len(entries),
		Logs:      entries,
	}})
}

// Welcome handles GET /
func (s *Service) Welcome(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Paper Trader - educational trading simulator",
		"warning": "This is a SIMULATOR. It is not connected to any real market.",
		"endpoints": map[string]string{
			"POST /api/price":                    "submit a price and get a trading decision",
			"GET /api/state":                     "current portfolio state and performance",
			"GET /api/logs":                      "all transaction logs",
			"POST /api/reset":                    "reset the portfolio to its initial state",
			"GET /api/sessions/current":          "active archive session",
			"GET /api/sessions/{sessionID}/logs": "archived logs of a session",
			"GET /api/ws":                        "live decision feed (WebSocket)",
		},
		"example": map[string]any{
			"method": http.MethodPost,
			"url":    "/api/price",
			"body":   priceExample,
		},
	})
}

// NotFound handles unknown routes.
func (s *Service) NotFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, Envelope{
		Error:              "endpoint not found",
		AvailableEndpoints: Endpoints,
	})
}

// TooManyRequests is the rate limiter's reject handler.
func TooManyRequests(w http.ResponseWriter, _ *http.Request) {
	writeError(w, "rate limit exceeded", http.StatusTooManyRequests)
}

// Signal returns the action the price move called for, before any downgrade.
func Signal(res model.DecisionResult) model.Action {
	if res.PriceDifference == nil {
		return model.ActionHold
	}
	switch res.PriceDifference.Sign() {
	case -1:
		return model.ActionBuy
	case 1:
		return model.ActionSell
	}
	return model.ActionHold
}

// parsePrice accepts only a JSON number.
func parsePrice(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, errMissingPrice
	}
	if raw[0] == '"' {
		return decimal.Zero, fmt.Errorf("%w: got a string", engine.ErrInvalidPrice)
	}
	price, err := decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: got %s", engine.ErrInvalidPrice, raw)
	}
	return price, nil
}

func viewOf(snap model.Snapshot) model.StateView {
	return model.StateView{
		Balance:  snap.Balance,
		Holdings: snap.Holdings,
		Position: snap.CurrentPosition,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, Envelope{Error: message})
}
