package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"surgetrader/internal/bot"
	"surgetrader/internal/models"
	"surgetrader/pkg/utils"
)

// PositionService сопровождаемые позиции (bot.PositionMonitor)
type PositionService interface {
	Positions() []models.TrackedPosition
	Get(symbol string) (models.TrackedPosition, bool)
	ForceClose(ctx context.Context, symbol string) error
}

// PositionHandler обрабатывает HTTP запросы по позициям.
//
// Endpoints:
// - GET /api/positions - снимки сопровождаемых позиций
// - GET /api/positions/{symbol} - одна позиция
// - POST /api/positions/{symbol}/close - принудительное закрытие
type PositionHandler struct {
	positions PositionService
}

// NewPositionHandler создает новый PositionHandler
func NewPositionHandler(positions PositionService) *PositionHandler {
	return &PositionHandler{positions: positions}
}

// GetPositions GET /api/positions
func (h *PositionHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	list := h.positions.Positions()
	if list == nil {
		list = []models.TrackedPosition{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetPosition GET /api/positions/{symbol}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	symbol := utils.NormalizeSymbol(mux.Vars(r)["symbol"])
	pos, ok := h.positions.Get(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, "position not tracked", nil)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// ClosePosition POST /api/positions/{symbol}/close
//
// Response 200 OK: {"message": "position closed", "data": {"symbol": "BTCUSDT"}}
// Response 404: позиция не сопровождается
// Response 502: биржа не закрыла позицию (отправлено critical уведомление)
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	symbol := utils.NormalizeSymbol(mux.Vars(r)["symbol"])
	if err := utils.ValidateSymbol(symbol); err != nil {
		writeError(w, http.StatusBadRequest, "invalid symbol", err)
		return
	}

	err := h.positions.ForceClose(r.Context(), symbol)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, SuccessResponse{
			Message: "position closed",
			Data:    map[string]string{"symbol": symbol},
		})
	case errors.Is(err, bot.ErrNotTracked):
		writeError(w, http.StatusNotFound, "position not tracked", err)
	default:
		writeError(w, http.StatusBadGateway, "force close failed", err)
	}
}
