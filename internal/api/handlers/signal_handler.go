package handlers

import (
	"context"
	"net/http"

	"surgetrader/internal/models"
)

// SignalService решение по сигналу (bot.Trader)
type SignalService interface {
	HandleSignal(ctx context.Context, sig models.Signal) (models.SignalEvent, error)
}

// SignalHistory журнал решений (repository.SignalEventRepository)
type SignalHistory interface {
	GetRecent(ctx context.Context, limit int) ([]*models.SignalEvent, error)
}

// SignalHandler ручная подача сигналов и история решений.
//
// Endpoints:
// - POST /api/signals - сигнал проходит тот же путь, что и из Redis
// - GET /api/signals?limit=N - последние решения (нужна БД)
type SignalHandler struct {
	trader  SignalService
	history SignalHistory
}

// NewSignalHandler создает новый SignalHandler; history может быть nil
func NewSignalHandler(trader SignalService, history SignalHistory) *SignalHandler {
	return &SignalHandler{trader: trader, history: history}
}

// SubmitSignal POST /api/signals
//
// Request: {"symbol": "SOLUSDT", "ratio": 12.5, "price": 101.2}
// Response 200 OK: SignalEvent с решением (accepted, rejected, skipped)
func (h *SignalHandler) SubmitSignal(w http.ResponseWriter, r *http.Request) {
	var sig models.Signal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	sig.Source = "api"

	ev, err := h.trader.HandleSignal(r.Context(), sig)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid signal", err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// GetSignals GET /api/signals
func (h *SignalHandler) GetSignals(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history store not configured", nil)
		return
	}
	events, err := h.history.GetRecent(r.Context(), queryLimit(r, 50, 500))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get signals", err)
		return
	}
	if events == nil {
		events = []*models.SignalEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}
