package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"surgetrader/pkg/crypto"
	"surgetrader/pkg/ratelimit"
	"surgetrader/pkg/retry"
	"surgetrader/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	BinanceMainnetURL = "https://fapi.binance.com"
	BinanceTestnetURL = "https://testnet.binancefuture.com"

	BinanceMainnetWS = "wss://fstream.binance.com/ws/"
	BinanceTestnetWS = "wss://stream.binancefuture.com/ws/"

	headerAPIKey     = "X-MBX-APIKEY"
	headerUsedWeight = "X-MBX-USED-WEIGHT-1M"

	// лимит веса запросов в минуту для USDⓈ-M futures
	defaultWeightPerMinute = 2400
)

// authLevel уровень аутентификации запроса
type authLevel int

const (
	authNone   authLevel = iota // публичный
	authKey                     // только заголовок API ключа (listenKey)
	authSigned                  // подпись HMAC-SHA256
)

// RequestObserver получает результаты запросов (метрики)
type RequestObserver interface {
	ObserveRequest(endpoint string, duration time.Duration, err error)
	BanActivated(until time.Time)
}

// BinanceConfig настройки клиента
type BinanceConfig struct {
	BaseURL         string
	APIKey          string
	APISecret       string
	RecvWindow      time.Duration
	RulesTTL        time.Duration
	WeightPerMinute int
	HTTP            HTTPClientConfig

	// Retry таблица задержек сетевых повторов (по умолчанию 2,4,8,16,32s)
	Retry retry.Schedule
}

// BinanceClient клиент Binance USDⓈ-M futures
//
// Состояние бана (BanGuard) принадлежит экземпляру клиента: все
// компоненты получают один и тот же *BinanceClient явно.
type BinanceClient struct {
	cfg      BinanceConfig
	http     *http.Client
	ban      *BanGuard
	rules    *RulesCache
	limiter  *ratelimit.WeightLimiter
	schedule retry.Schedule
	log      *utils.Logger
	observer RequestObserver
	now      func() time.Time
}

// NewBinanceClient создаёт клиент
func NewBinanceClient(cfg BinanceConfig, logger *utils.Logger) *BinanceClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = BinanceMainnetURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = 5 * time.Second
	}
	if cfg.WeightPerMinute <= 0 {
		cfg.WeightPerMinute = defaultWeightPerMinute
	}
	if cfg.HTTP.TotalTimeout <= 0 {
		cfg.HTTP = DefaultHTTPClientConfig()
	}
	if len(cfg.Retry.Delays) == 0 {
		cfg.Retry = retry.ExchangeSchedule()
	}
	if cfg.Retry.RetryIf == nil {
		cfg.Retry.RetryIf = retry.OnlyMarked
	}
	if logger == nil {
		logger = utils.L()
	}

	c := &BinanceClient{
		cfg:      cfg,
		http:     NewHTTPClient(cfg.HTTP),
		ban:      NewBanGuard(),
		limiter:  ratelimit.NewWeightLimiter(cfg.WeightPerMinute, time.Minute),
		schedule: cfg.Retry,
		log:      logger.WithExchange("binance"),
		now:      time.Now,
	}
	c.rules = NewRulesCache(c.fetchRules, cfg.RulesTTL)

	c.schedule.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.log.Warn("request failed, retrying",
			utils.Attempt(attempt),
			utils.Err(err),
			utils.Float64("delay_s", delay.Seconds()))
	}
	return c
}

// SetObserver подключает метрики запросов
func (c *BinanceClient) SetObserver(o RequestObserver) {
	c.observer = o
}

// Ban guard клиента
func (c *BinanceClient) Ban() *BanGuard {
	return c.ban
}

// GetName имя биржи
func (c *BinanceClient) GetName() string {
	return "binance"
}

// Close закрывает idle соединения
func (c *BinanceClient) Close() error {
	closeIdle(c.http)
	return nil
}

// ============================================================
// Выполнение запросов
// ============================================================

// do выполняет запрос с проверкой бана и повторами сетевых ошибок
//
// Порядок:
//  1. Активный бан - немедленный *RateLimitBanError без обращения в сеть
//  2. До 6 попыток по таблице задержек, подпись заново на каждой попытке
//  3. Ответ бана (-1003 / HTTP 418) фиксирует окно и не повторяется
//  4. Исчерпание повторов - *NetworkError с ErrConnection
func (c *BinanceClient) do(ctx context.Context, method, endpoint string, params url.Values, auth authLevel, weight int) ([]byte, error) {
	return c.doWith(ctx, c.schedule, method, endpoint, params, auth, weight)
}

// doOnce одна попытка: ответ 5xx или обрыв не повторяются, вызывающий
// сам перечитывает состояние биржи перед следующим действием
func (c *BinanceClient) doOnce(ctx context.Context, method, endpoint string, params url.Values, auth authLevel, weight int) ([]byte, error) {
	once := retry.Once()
	once.Sleep = c.schedule.Sleep
	return c.doWith(ctx, once, method, endpoint, params, auth, weight)
}

func (c *BinanceClient) doWith(ctx context.Context, schedule retry.Schedule, method, endpoint string, params url.Values, auth authLevel, weight int) ([]byte, error) {
	if err := c.ban.Check(); err != nil {
		return nil, err
	}
	if auth != authNone && c.cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	start := time.Now()
	body, err := retry.DoWithResult(ctx, func(ctx context.Context) ([]byte, error) {
		// Бан мог начаться во время паузы между попытками
		if err := c.ban.Check(); err != nil {
			return nil, err
		}
		if err := c.limiter.Wait(ctx, weight); err != nil {
			return nil, err
		}
		return c.send(ctx, method, endpoint, params, auth)
	}, schedule)

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		err = &NetworkError{
			Endpoint: endpoint,
			Err:      fmt.Errorf("%w after %d attempts: %v", ErrConnection, exhausted.Attempts, exhausted.Last),
		}
	}

	if c.observer != nil {
		c.observer.ObserveRequest(endpoint, time.Since(start), err)
	}
	return body, err
}

// send одна попытка запроса
func (c *BinanceClient) send(ctx context.Context, method, endpoint string, params url.Values, auth authLevel) ([]byte, error) {
	query := c.buildQuery(params, auth)

	reqURL := c.cfg.BaseURL + endpoint
	if query != "" {
		reqURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	if auth != authNone {
		req.Header.Set(headerAPIKey, c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &NetworkError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if used, convErr := strconv.Atoi(resp.Header.Get(headerUsedWeight)); convErr == nil {
		c.limiter.Observe(used)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Endpoint: endpoint, Err: fmt.Errorf("read body: %w", err)}
	}

	return c.checkResponse(endpoint, resp.StatusCode, body)
}

// buildQuery каноническая строка параметров (+ timestamp, recvWindow, signature)
func (c *BinanceClient) buildQuery(params url.Values, auth authLevel) string {
	q := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if auth != authSigned {
		return q.Encode()
	}

	q.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow.Milliseconds(), 10))
	q.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	payload := q.Encode()
	return payload + "&signature=" + crypto.SignHMAC(c.cfg.APISecret, payload)
}

// checkResponse разбирает ошибки биржи
func (c *BinanceClient) checkResponse(endpoint string, status int, body []byte) ([]byte, error) {
	var apiResp struct {
		Code *int   `json:"code"`
		Msg  string `json:"msg"`
	}
	// Успешные ответы бывают массивами, ошибка разбора здесь не важна
	_ = json.Unmarshal(body, &apiResp)

	code := 0
	if apiResp.Code != nil {
		code = *apiResp.Code
	}

	if code == CodeTooManyRequests || status == statusIPBanned {
		until := parseBanUntil(apiResp.Msg, c.now())
		c.ban.Set(until)
		c.log.Error("rate limit ban, all requests blocked",
			utils.Endpoint(endpoint),
			utils.Int("code", code),
			utils.String("until", until.UTC().Format(time.RFC3339)))
		if c.observer != nil {
			c.observer.BanActivated(until)
		}
		return nil, &RateLimitBanError{Until: until, Message: apiResp.Msg}
	}

	if status >= http.StatusInternalServerError {
		return nil, &NetworkError{
			Endpoint: endpoint,
			Err:      fmt.Errorf("server error %d: %s", status, truncate(string(body), 200)),
		}
	}

	if code < 0 || status >= http.StatusBadRequest {
		msg := apiResp.Msg
		if msg == "" {
			msg = truncate(string(body), 200)
		}
		return nil, &APIError{Code: code, Message: msg, HTTPStatus: status, Endpoint: endpoint}
	}

	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ============================================================
// Разбор значений
// ============================================================

// parseFloat строковые числа биржи ("0.00100000")
func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// anyFloat элемент массива свечи: число или строка
func anyFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		return parseFloat(t)
	}
	return 0
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
