package handlers

import (
	"context"
	"net/http"
	"time"

	"surgetrader/internal/models"
)

// SummaryService дневная сводка (bot.Trader)
type SummaryService interface {
	Summary(ctx context.Context, day time.Time) (models.DailySummary, error)
}

// TradeHistory закрытые сделки (repository.TradeRepository)
type TradeHistory interface {
	GetRecent(ctx context.Context, limit int) ([]*models.TradeRecord, error)
}

// StatsHandler сводка и история сделок.
//
// Endpoints:
// - GET /api/summary - баланс, PnL за UTC день, открытые позиции, входы
// - GET /api/trades?limit=N - последние сделки (нужна БД)
type StatsHandler struct {
	summary SummaryService
	trades  TradeHistory
	now     func() time.Time
}

// NewStatsHandler создает новый StatsHandler; trades может быть nil
func NewStatsHandler(summary SummaryService, trades TradeHistory) *StatsHandler {
	return &StatsHandler{summary: summary, trades: trades, now: time.Now}
}

// GetSummary GET /api/summary
func (h *StatsHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.summary.Summary(r.Context(), h.now().UTC())
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to get summary", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// GetTrades GET /api/trades
func (h *StatsHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	if h.trades == nil {
		writeError(w, http.StatusServiceUnavailable, "history store not configured", nil)
		return
	}
	trades, err := h.trades.GetRecent(r.Context(), queryLimit(r, 50, 500))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get trades", err)
		return
	}
	if trades == nil {
		trades = []*models.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, trades)
}
