package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"surgetrader/internal/api"
	"surgetrader/internal/api/handlers"
	"surgetrader/internal/bot"
	rediscache "surgetrader/internal/cache/redis"
	"surgetrader/internal/config"
	"surgetrader/internal/exchange"
	"surgetrader/internal/filters"
	"surgetrader/internal/models"
	"surgetrader/internal/notify"
	"surgetrader/internal/repository"
	"surgetrader/internal/strategy"
	"surgetrader/internal/websocket"
	"surgetrader/pkg/utils"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("trader stopped with error", utils.Err(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("trader exited")
}

func run(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	// Блокировка экземпляра и лента сигналов
	var rdb *rediscache.Client
	if cfg.Redis.Enabled() {
		var err error
		rdb, err = rediscache.New(ctx, rediscache.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			TLSEnabled: cfg.Redis.TLS,
		})
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	var lock *rediscache.InstanceLock
	if rdb != nil {
		lock = rediscache.NewInstanceLock(rdb, cfg.Redis.LockName, cfg.Redis.LockTTL, logger)
		if err := lock.Acquire(ctx); err != nil {
			return fmt.Errorf("instance lock: %w", err)
		}
		defer lock.Release()
	}

	// Журнал в БД (опционально)
	var (
		db    *sql.DB
		store *repository.Store
	)
	if cfg.Database.Enabled() {
		var err error
		db, err = initDatabase(cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		if err := repository.Migrate(ctx, db); err != nil {
			return err
		}
		store = repository.NewStore(db)
		logger.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))
	}

	// Биржа
	_, wsURL, err := exchange.Endpoints(cfg.Exchange.Name)
	if err != nil {
		return err
	}
	httpCfg := exchange.DefaultHTTPClientConfig()
	httpCfg.TotalTimeout = cfg.Exchange.RequestTimeout
	httpCfg.ReadTimeout = cfg.Exchange.RequestTimeout

	ex, err := exchange.NewExchange(cfg.Exchange.Name, exchange.BinanceConfig{
		BaseURL:         cfg.Exchange.BaseURL,
		APIKey:          cfg.Exchange.APIKey,
		APISecret:       cfg.Exchange.APISecret,
		RecvWindow:      cfg.Exchange.RecvWindow,
		RulesTTL:        cfg.Exchange.RulesTTL,
		WeightPerMinute: cfg.Exchange.WeightPerMinute,
		HTTP:            httpCfg,
	}, logger)
	if err != nil {
		return err
	}
	defer ex.Close()
	ex.SetObserver(bot.MetricsObserver{})

	// Уведомления и WebSocket hub
	hub := websocket.NewHub(logger)
	hub.SetAllowedOrigins(cfg.Server.AllowedOrigins)
	go hub.Run()
	defer hub.Stop()

	notifier := notify.NewService(buildSenders(cfg, hub, logger), notify.Config{SendTimeout: cfg.Notify.SendTimeout}, logger)

	// Стратегия
	pipeline := filters.NewPipeline(logger, filters.Build(cfg.Strategy.Filters, ex)...)
	pipeline.SetObserver(bot.MetricsObserver{})

	stratCfg := strategy.DefaultConfig()
	stratCfg.StrongTPPct = cfg.Strategy.StrongTPPct
	stratCfg.MediumTPPct = cfg.Strategy.MediumTPPct
	stratCfg.WeakTPPct = cfg.Strategy.WeakTPPct
	stratCfg.SLPct = cfg.Strategy.SLPct
	stratCfg.MaxHold = cfg.Strategy.MaxHold
	stratCfg.SurgeMultiplier = cfg.Strategy.SurgeMultiplier
	strat := strategy.NewSurgeShort(stratCfg, ex, pipeline, logger)

	// Торговое ядро
	var botStore bot.Store
	if store != nil {
		botStore = store
	}

	executor := bot.NewOrderExecutor(ex, bot.ExecutorConfig{
		Leverage:        cfg.Trading.Leverage,
		FixedMarginUSDT: cfg.Trading.FixedMarginUSDT,
		PositionSizePct: cfg.Trading.PositionSizePct,
		EntryPremiumPct: cfg.Trading.EntryPremiumPct,
		SizingBuffer:    cfg.Trading.SizingBuffer,
	}, notifier, logger)

	monitorCfg := bot.DefaultMonitorConfig()
	monitorCfg.Interval = cfg.Monitor.Interval
	monitorCfg.SplitCloseDelay = cfg.Monitor.SplitCloseDelay
	monitor := bot.NewPositionMonitor(ex, executor, strat, notifier, botStore, bot.NewSymbolLocker(), monitorCfg, logger)

	trader := bot.NewTrader(ex, strat, executor, monitor, notifier, botStore, bot.TraderConfig{
		MaxPositions:       cfg.Trading.MaxPositions,
		MaxEntriesPerDay:   cfg.Trading.MaxEntriesPerDay,
		DailyLossLimitUSDT: cfg.Trading.DailyLossLimitUSDT,
		Leverage:           cfg.Trading.Leverage,
	}, logger)

	hub.SetSnapshot(monitor.Positions)

	// Восстановление после рестарта до приёма сигналов
	recovery := bot.NewRecoveryManager(ex, monitor, notifier, bot.RecoveryConfig{
		RecoveryTimeout:      cfg.Monitor.RecoveryTimeout,
		CancelOrphanedOrders: cfg.Monitor.CancelOrphanedOrders,
		DefaultTPPct:         cfg.Strategy.StrongTPPct,
		DefaultSLPct:         cfg.Strategy.SLPct,
	}, logger)
	result, err := recovery.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	logger.Info("recovery completed",
		utils.Int("positions", result.PositionsFound),
		utils.Int("restored", len(result.Restored)),
		utils.Int("unprotected", len(result.Unprotected)),
		utils.Int("orphaned_canceled", result.OrphanedCanceled),
		utils.Int("errors", len(result.Errors)))

	// Лента сигналов из Redis (POST /api/signals идёт напрямую в trader)
	signals := make(chan models.Signal, 64)
	if rdb != nil {
		sub := rediscache.NewSignalSubscriber(rdb, cfg.Redis.SignalChannel, logger)
		if err := sub.Subscribe(ctx, signals); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// Поток событий аккаунта
	var (
		events <-chan exchange.StreamEvent
		stream *exchange.UserStream
	)
	if cfg.Stream.Enabled {
		wsCfg := exchange.DefaultWSReconnectConfig()
		wsCfg.ReconnectDelay = cfg.Stream.ReconnectDelay
		wsCfg.MaxLifetime = cfg.Stream.MaxLifetime
		wsCfg.ReadTimeout = cfg.Stream.ReadTimeout

		stream = exchange.NewUserStream(ex, exchange.UserStreamConfig{
			WSBaseURL:         wsURL,
			KeepaliveInterval: cfg.Stream.KeepaliveInterval,
			WS:                wsCfg,
		}, logger)
		// События за время разрыва потеряны, сверяем все позиции
		stream.SetOnReconnect(func() {
			bot.MetricsObserver{}.StreamDisconnected()
			for _, p := range monitor.Positions() {
				monitor.Trigger(p.Symbol)
			}
		})
		events = stream.Events()
		g.Go(func() error { return stream.Run(gctx) })
	}

	g.Go(func() error { return monitor.Run(gctx, events) })

	if lock != nil {
		g.Go(func() error { return lock.Keep(gctx) })
	}
	g.Go(func() error { return trader.Run(gctx, signals) })

	if cfg.Monitor.DailySummary {
		g.Go(func() error { return trader.RunDailySummary(gctx, time.Minute) })
	}

	// HTTP API
	if cfg.Server.Enabled {
		deps := &api.Dependencies{
			Positions:      monitor,
			Trader:         trader,
			WS:             http.HandlerFunc(hub.ServeWS),
			HealthChecks:   healthChecks(ex, stream, db, rdb),
			TokenHash:      cfg.Server.APITokenHash,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Logger:         logger,
		}
		if store != nil {
			deps.Trades = store.Trades
			deps.Signals = store.Signals
		}

		server := &http.Server{
			Addr:         cfg.Server.Addr(),
			Handler:      api.SetupRoutes(deps),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		g.Go(func() error {
			logger.Info("starting server", utils.String("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	logger.Info("trader started",
		utils.String("exchange", cfg.Exchange.Name),
		utils.Int("tracked", monitor.Count()),
		utils.Bool("user_stream", cfg.Stream.Enabled),
		utils.Bool("redis", rdb != nil),
		utils.Bool("journal", store != nil))

	err = g.Wait()

	logger.Info("shutting down", utils.Int("tracked", monitor.Count()))
	waitCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if werr := notifier.Wait(waitCtx); werr != nil {
		logger.Warn("pending notifications dropped", utils.Err(werr))
	}
	return err
}

// buildSenders каналы уведомлений из конфигурации
func buildSenders(cfg *config.Config, hub *websocket.Hub, logger *utils.Logger) []notify.Sender {
	senders := []notify.Sender{
		notify.NewLogSender(logger),
		notify.NewHubSender(hub),
	}
	if cfg.Notify.TelegramToken != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.SMTPHost != "" {
		email := notify.NewEmailSender(notify.EmailConfig{
			Host:     cfg.Notify.SMTPHost,
			Port:     cfg.Notify.SMTPPort,
			Username: cfg.Notify.SMTPUser,
			Password: cfg.Notify.SMTPPassword,
			From:     cfg.Notify.EmailFrom,
			To:       cfg.Notify.EmailTo,
		})
		senders = append(senders, notify.WithMinSeverity(email, cfg.Notify.EmailMinSeverity))
	}
	return senders
}

// healthChecks проверки для /health
func healthChecks(ex *exchange.BinanceClient, stream *exchange.UserStream, db *sql.DB, rdb *rediscache.Client) map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{
		"exchange": func(ctx context.Context) error {
			if ban := ex.Ban(); ban.Active() {
				return fmt.Errorf("rate limit ban until %s", ban.Until().UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
	if stream != nil {
		checks["user_stream"] = func(ctx context.Context) error {
			if !stream.Connected() {
				return errors.New("disconnected")
			}
			return nil
		}
	}
	if db != nil {
		checks["database"] = db.PingContext
	}
	if rdb != nil {
		checks["redis"] = rdb.Ping
	}
	return checks
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
