package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"surgetrader/internal/api/handlers"
	"surgetrader/internal/api/middleware"
	"surgetrader/pkg/utils"
)

// Trader решения по сигналам и дневная сводка (bot.Trader)
type Trader interface {
	handlers.SignalService
	handlers.SummaryService
}

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Positions handlers.PositionService
	Trader    Trader

	// История из БД, nil если журнал не настроен
	Trades  handlers.TradeHistory
	Signals handlers.SignalHistory

	// WebSocket hub уведомлений, nil = /ws не регистрируется
	WS http.Handler

	HealthChecks   map[string]handlers.HealthCheck
	TokenHash      string
	AllowedOrigins []string
	Logger         *utils.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
//	GET  /health                         - состояние зависимостей (без auth)
//	GET  /metrics                        - Prometheus (без auth)
//	GET  /ws                             - поток уведомлений и снимков позиций
//	/api/
//	├── GET  /positions                  - сопровождаемые позиции
//	├── GET  /positions/{symbol}         - одна позиция
//	├── POST /positions/{symbol}/close   - принудительное закрытие
//	├── POST /signals                    - ручной сигнал
//	├── GET  /signals                    - последние решения по сигналам
//	├── GET  /trades                     - последние сделки
//	└── GET  /summary                    - сводка за UTC день
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Auth (/api и /ws)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	auth := middleware.NewBearerAuth(deps.TokenHash)

	router.HandleFunc("/health", handlers.NewHealthHandler(deps.HealthChecks).Health).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	if deps.WS != nil {
		router.Handle("/ws", auth.Middleware(deps.WS)).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api").Subrouter()
	api.Use(auth.Middleware)

	// Position routes
	if deps.Positions != nil {
		positionHandler := handlers.NewPositionHandler(deps.Positions)
		api.HandleFunc("/positions", positionHandler.GetPositions).Methods(http.MethodGet)
		api.HandleFunc("/positions/{symbol}", positionHandler.GetPosition).Methods(http.MethodGet)
		api.HandleFunc("/positions/{symbol}/close", positionHandler.ClosePosition).Methods(http.MethodPost)
	}

	// Signal and stats routes
	if deps.Trader != nil {
		signalHandler := handlers.NewSignalHandler(deps.Trader, deps.Signals)
		api.HandleFunc("/signals", signalHandler.SubmitSignal).Methods(http.MethodPost)
		api.HandleFunc("/signals", signalHandler.GetSignals).Methods(http.MethodGet)

		statsHandler := handlers.NewStatsHandler(deps.Trader, deps.Trades)
		api.HandleFunc("/summary", statsHandler.GetSummary).Methods(http.MethodGet)
		api.HandleFunc("/trades", statsHandler.GetTrades).Methods(http.MethodGet)
	}

	return router
}
