package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"surgetrader/internal/exchange"
	"surgetrader/internal/filters"
	"surgetrader/pkg/crypto"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Exchange ExchangeConfig
	Trading  TradingConfig
	Strategy StrategyConfig
	Monitor  MonitorConfig
	Stream   StreamConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Notify   NotifyConfig
	Server   ServerConfig
	Logging  LoggingConfig
}

// ExchangeConfig - подключение к бирже
type ExchangeConfig struct {
	Name            string // binance, binance-testnet
	BaseURL         string // переопределение REST адреса (прокси)
	APIKey          string
	APISecret       string
	APISecretEnc    string // AES-GCM секрет (base64), расшифровывается EncryptionKey
	EncryptionKey   string
	RecvWindow      time.Duration
	RequestTimeout  time.Duration
	RulesTTL        time.Duration
	WeightPerMinute int
}

// TradingConfig - размер позиции и лимиты входа
type TradingConfig struct {
	Leverage           int
	FixedMarginUSDT    float64 // > 0: фиксированная маржа на сделку
	PositionSizePct    float64 // доля доступного баланса, если маржа не задана
	EntryPremiumPct    float64
	SizingBuffer       float64
	MaxPositions       int
	MaxEntriesPerDay   int
	DailyLossLimitUSDT float64
}

// StrategyConfig - TP/SL и сопровождение
type StrategyConfig struct {
	StrongTPPct     float64
	MediumTPPct     float64
	WeakTPPct       float64
	SLPct           float64
	MaxHold         time.Duration
	SurgeMultiplier float64

	FiltersFile string         // TOML с порогами фильтров
	Filters     filters.Config // заполняется из FiltersFile или по умолчанию
}

// MonitorConfig - цикл сверки и восстановление
type MonitorConfig struct {
	Interval             time.Duration
	SplitCloseDelay      time.Duration
	RecoveryTimeout      time.Duration
	CancelOrphanedOrders bool
	DailySummary         bool
}

// StreamConfig - user data stream
type StreamConfig struct {
	Enabled           bool
	ReconnectDelay    time.Duration
	MaxLifetime       time.Duration
	KeepaliveInterval time.Duration
	ReadTimeout       time.Duration
}

// DatabaseConfig - настройки подключения к БД (пустой DB_HOST = без журнала)
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// RedisConfig - лента сигналов и блокировка экземпляра (пустой адрес = отключено)
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	TLS           bool
	SignalChannel string
	LockName      string
	LockTTL       time.Duration
}

// NotifyConfig - каналы уведомлений
type NotifyConfig struct {
	TelegramToken  string
	TelegramChatID string

	SMTPHost         string
	SMTPPort         int
	SMTPUser         string
	SMTPPassword     string
	EmailFrom        string
	EmailTo          []string
	EmailMinSeverity string

	SendTimeout time.Duration
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Enabled        bool
	Host           string
	Port           int
	APITokenHash   string // bcrypt хэш bearer токена
	AllowedOrigins []string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load загружает конфигурацию из .env (если есть) и переменных окружения
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv собирает конфигурацию только из окружения
func FromEnv() (*Config, error) {
	cfg := &Config{
		Exchange: ExchangeConfig{
			Name:            getEnv("EXCHANGE", "binance"),
			BaseURL:         getEnv("BINANCE_BASE_URL", ""),
			APIKey:          getEnv("BINANCE_API_KEY", ""),
			APISecret:       getEnv("BINANCE_API_SECRET", ""),
			APISecretEnc:    getEnv("BINANCE_API_SECRET_ENC", ""),
			EncryptionKey:   getEnv("ENCRYPTION_KEY", ""),
			RecvWindow:      getEnvAsDuration("RECV_WINDOW", 5*time.Second),
			RequestTimeout:  getEnvAsDuration("REQUEST_TIMEOUT", 60*time.Second),
			RulesTTL:        getEnvAsDuration("RULES_TTL", 4*time.Hour),
			WeightPerMinute: getEnvAsInt("WEIGHT_PER_MINUTE", 2000),
		},
		Trading: TradingConfig{
			Leverage:           getEnvAsInt("LEVERAGE", 3),
			FixedMarginUSDT:    getEnvAsFloat("FIXED_MARGIN_USDT", 5),
			PositionSizePct:    getEnvAsFloat("POSITION_SIZE_PCT", 0.015),
			EntryPremiumPct:    getEnvAsFloat("ENTRY_PREMIUM_PCT", 0.5),
			SizingBuffer:       getEnvAsFloat("SIZING_BUFFER", 1.005),
			MaxPositions:       getEnvAsInt("MAX_POSITIONS", 6),
			MaxEntriesPerDay:   getEnvAsInt("MAX_ENTRIES_PER_DAY", 4),
			DailyLossLimitUSDT: getEnvAsFloat("DAILY_LOSS_LIMIT_USDT", 50),
		},
		Strategy: StrategyConfig{
			StrongTPPct:     getEnvAsFloat("TP_STRONG_PCT", 33),
			MediumTPPct:     getEnvAsFloat("TP_MEDIUM_PCT", 21),
			WeakTPPct:       getEnvAsFloat("TP_WEAK_PCT", 10),
			SLPct:           getEnvAsFloat("SL_PCT", 18),
			MaxHold:         getEnvAsDuration("MAX_HOLD", 72*time.Hour),
			SurgeMultiplier: getEnvAsFloat("SURGE_MULTIPLIER", 10),
			FiltersFile:     getEnv("FILTERS_CONFIG", ""),
		},
		Monitor: MonitorConfig{
			Interval:             getEnvAsDuration("MONITOR_INTERVAL", 60*time.Second),
			SplitCloseDelay:      getEnvAsDuration("SPLIT_CLOSE_DELAY", 500*time.Millisecond),
			RecoveryTimeout:      getEnvAsDuration("RECOVERY_TIMEOUT", 60*time.Second),
			CancelOrphanedOrders: getEnvAsBool("CANCEL_ORPHANED_ORDERS", true),
			DailySummary:         getEnvAsBool("DAILY_SUMMARY", true),
		},
		Stream: StreamConfig{
			Enabled:           getEnvAsBool("USER_STREAM_ENABLED", true),
			ReconnectDelay:    getEnvAsDuration("WS_RECONNECT_DELAY", 5*time.Second),
			MaxLifetime:       getEnvAsDuration("WS_MAX_LIFETIME", 23*time.Hour),
			KeepaliveInterval: getEnvAsDuration("LISTEN_KEY_KEEPALIVE", 30*time.Minute),
			ReadTimeout:       getEnvAsDuration("WS_READ_TIMEOUT", 10*time.Minute),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "surgetrader"),
			User:     getEnv("DB_USER", "surgetrader"),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", ""),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvAsInt("REDIS_DB", 0),
			TLS:           getEnvAsBool("REDIS_TLS", false),
			SignalChannel: getEnv("REDIS_SIGNAL_CHANNEL", "surge:signals"),
			LockName:      getEnv("REDIS_LOCK_NAME", "surgetrader"),
			LockTTL:       getEnvAsDuration("REDIS_LOCK_TTL", 30*time.Second),
		},
		Notify: NotifyConfig{
			TelegramToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
			TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
			SMTPHost:         getEnv("SMTP_HOST", ""),
			SMTPPort:         getEnvAsInt("SMTP_PORT", 587),
			SMTPUser:         getEnv("SMTP_USER", ""),
			SMTPPassword:     getEnv("SMTP_PASSWORD", ""),
			EmailFrom:        getEnv("EMAIL_FROM", ""),
			EmailTo:          getEnvAsList("EMAIL_TO"),
			EmailMinSeverity: getEnv("EMAIL_MIN_SEVERITY", "critical"),
			SendTimeout:      getEnvAsDuration("NOTIFY_TIMEOUT", 10*time.Second),
		},
		Server: ServerConfig{
			Enabled:        getEnvAsBool("SERVER_ENABLED", true),
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			APITokenHash:   getEnv("API_TOKEN_HASH", ""),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
	}

	// Пороги фильтров
	cfg.Strategy.Filters = filters.DefaultConfig()
	if cfg.Strategy.FiltersFile != "" {
		f, err := LoadFilters(cfg.Strategy.FiltersFile)
		if err != nil {
			return nil, err
		}
		cfg.Strategy.Filters = f
	}

	if err := cfg.resolveSecret(); err != nil {
		return nil, err
	}

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFilters читает пороги фильтров из TOML поверх значений по умолчанию
func LoadFilters(path string) (filters.Config, error) {
	cfg := filters.DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return filters.Config{}, fmt.Errorf("load filters config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return filters.Config{}, fmt.Errorf("filters config %s: %w", path, err)
	}
	return cfg, nil
}

// resolveSecret расшифровывает BINANCE_API_SECRET_ENC
func (c *Config) resolveSecret() error {
	if c.Exchange.APISecretEnc == "" {
		return nil
	}
	if c.Exchange.APISecret != "" {
		return fmt.Errorf("set either BINANCE_API_SECRET or BINANCE_API_SECRET_ENC, not both")
	}
	if c.Exchange.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required to decrypt BINANCE_API_SECRET_ENC")
	}
	key, err := crypto.ParseKey(c.Exchange.EncryptionKey)
	if err != nil {
		return fmt.Errorf("ENCRYPTION_KEY: %w", err)
	}
	secret, err := crypto.OpenSecret(c.Exchange.APISecretEnc, key)
	if err != nil {
		return fmt.Errorf("decrypt BINANCE_API_SECRET_ENC: %w", err)
	}
	c.Exchange.APISecret = secret
	return nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
		return fmt.Errorf("BINANCE_API_KEY and BINANCE_API_SECRET are required")
	}

	// API управляет позициями: без токена не запускаем
	if c.Server.Enabled {
		if c.Server.APITokenHash == "" {
			return fmt.Errorf("API_TOKEN_HASH is required when the HTTP server is enabled")
		}
		if !strings.HasPrefix(c.Server.APITokenHash, "$2") {
			return fmt.Errorf("API_TOKEN_HASH must be a bcrypt hash")
		}
	}

	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	if c.Notify.SMTPHost != "" && (c.Notify.EmailFrom == "" || len(c.Notify.EmailTo) == 0) {
		return fmt.Errorf("EMAIL_FROM and EMAIL_TO are required when SMTP_HOST is set")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if !exchange.IsSupported(c.Exchange.Name) {
		return fmt.Errorf("EXCHANGE %q is not supported", c.Exchange.Name)
	}

	// Валидация портов
	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Enabled() && (c.Database.Port < 1 || c.Database.Port > 65535) {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	// Размер позиции
	if c.Trading.Leverage < 1 || c.Trading.Leverage > 125 {
		return fmt.Errorf("LEVERAGE must be between 1 and 125, got %d", c.Trading.Leverage)
	}
	if c.Trading.FixedMarginUSDT < 0 {
		return fmt.Errorf("FIXED_MARGIN_USDT cannot be negative, got %v", c.Trading.FixedMarginUSDT)
	}
	if c.Trading.FixedMarginUSDT == 0 && (c.Trading.PositionSizePct <= 0 || c.Trading.PositionSizePct > 1) {
		return fmt.Errorf("POSITION_SIZE_PCT must be in (0, 1] when FIXED_MARGIN_USDT is 0, got %v", c.Trading.PositionSizePct)
	}
	if c.Trading.SizingBuffer < 1 {
		return fmt.Errorf("SIZING_BUFFER must be at least 1, got %v", c.Trading.SizingBuffer)
	}
	if c.Trading.EntryPremiumPct < 0 {
		return fmt.Errorf("ENTRY_PREMIUM_PCT cannot be negative, got %v", c.Trading.EntryPremiumPct)
	}

	// Лимиты
	if c.Trading.MaxPositions < 1 {
		return fmt.Errorf("MAX_POSITIONS must be positive, got %d", c.Trading.MaxPositions)
	}
	if c.Trading.MaxEntriesPerDay < 1 {
		return fmt.Errorf("MAX_ENTRIES_PER_DAY must be positive, got %d", c.Trading.MaxEntriesPerDay)
	}
	if c.Trading.DailyLossLimitUSDT <= 0 {
		return fmt.Errorf("DAILY_LOSS_LIMIT_USDT must be positive, got %v", c.Trading.DailyLossLimitUSDT)
	}

	// TP/SL
	for name, v := range map[string]float64{
		"TP_STRONG_PCT": c.Strategy.StrongTPPct,
		"TP_MEDIUM_PCT": c.Strategy.MediumTPPct,
		"TP_WEAK_PCT":   c.Strategy.WeakTPPct,
	} {
		if v <= 0 || v >= 100 {
			return fmt.Errorf("%s must be in (0, 100), got %v", name, v)
		}
	}
	if c.Strategy.SLPct <= 0 {
		return fmt.Errorf("SL_PCT must be positive, got %v", c.Strategy.SLPct)
	}
	if c.Strategy.MaxHold < 12*time.Hour {
		return fmt.Errorf("MAX_HOLD must be at least 12h, got %v", c.Strategy.MaxHold)
	}

	// Валидация таймаутов (должны быть положительными)
	if c.Monitor.Interval < time.Second {
		return fmt.Errorf("MONITOR_INTERVAL must be at least 1s, got %v", c.Monitor.Interval)
	}
	if c.Exchange.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %v", c.Exchange.RequestTimeout)
	}
	if c.Stream.ReconnectDelay <= 0 {
		return fmt.Errorf("WS_RECONNECT_DELAY must be positive, got %v", c.Stream.ReconnectDelay)
	}
	if c.Redis.Enabled() && c.Redis.LockTTL < 3*time.Second {
		return fmt.Errorf("REDIS_LOCK_TTL must be at least 3s, got %v", c.Redis.LockTTL)
	}

	return nil
}

// Enabled журнал в БД настроен
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Enabled Redis настроен
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// Addr адрес HTTP сервера
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList список через запятую, пустые элементы отбрасываются
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
