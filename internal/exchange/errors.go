package exchange

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Коды ошибок биржи, для которых есть компенсирующие действия
const (
	CodeTooManyRequests    = -1003 // бан по IP за превышение веса
	CodeUnknownOrder       = -2011 // отмена несуществующего ордера
	CodeOrderNotFound      = -2013 // запрос несуществующего ордера
	CodeInsufficientMargin = -2019 // недостаточно маржи
	CodeReduceOnlyRejected = -2022 // reduceOnly ордер отклонён
	CodeImmediateTrigger   = -2021 // условный ордер сработал бы сразу
	CodeInvalidLeverage    = -4028 // недопустимое плечо для символа

	CodeDuplicateClientOrderID = -4116 // clientOrderId уже использован
)

// HTTP статус бана (IP забанен после повторных 429)
const statusIPBanned = 418

// banFallback пауза, если время разбана не указано в ответе
const banFallback = 60 * time.Second

var (
	// ErrConnection сетевые ошибки не прекратились после всех повторов
	ErrConnection = errors.New("exchange connection failed")

	// ErrBanned клиент в окне бана, запрос не отправлялся
	ErrBanned = errors.New("exchange rate limit ban active")

	// ErrSymbolNotFound символ отсутствует в exchangeInfo
	ErrSymbolNotFound = errors.New("symbol not found")

	// ErrNotConfigured нет API ключа для подписанного запроса
	ErrNotConfigured = errors.New("exchange credentials not configured")
)

// APIError отказ биржи с кодом (бизнес-правило)
type APIError struct {
	Code       int
	Message    string
	HTTPStatus int
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance API error [%d] on %s: %s", e.Code, e.Endpoint, e.Message)
}

// Retryable отказы биржи не повторяются
func (e *APIError) Retryable() bool { return false }

// NetworkError сетевой сбой (повторяемый)
type NetworkError struct {
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error on %s: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error   { return e.Err }
func (e *NetworkError) Retryable() bool { return true }

// RateLimitBanError бан по rate limit, запросы запрещены до Until
type RateLimitBanError struct {
	Until   time.Time
	Message string
}

func (e *RateLimitBanError) Error() string {
	return fmt.Sprintf("rate limit ban until %s: %s", e.Until.UTC().Format(time.RFC3339), e.Message)
}

func (e *RateLimitBanError) Unwrap() error   { return ErrBanned }
func (e *RateLimitBanError) Retryable() bool { return false }

// ============================================================
// Классификация
// ============================================================

// APICode код ошибки биржи или 0
func APICode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

// IsReduceOnlyRejected reduceOnly ордер отклонён (-2022)
func IsReduceOnlyRejected(err error) bool {
	return APICode(err) == CodeReduceOnlyRejected
}

// IsInsufficientMargin недостаточно маржи (-2019)
func IsInsufficientMargin(err error) bool {
	return APICode(err) == CodeInsufficientMargin
}

// IsOrderNotFound ордер не найден (уже исполнен или отменён)
func IsOrderNotFound(err error) bool {
	code := APICode(err)
	return code == CodeUnknownOrder || code == CodeOrderNotFound
}

// IsBanned ошибка бана или fail-fast внутри окна бана
func IsBanned(err error) bool {
	return errors.Is(err, ErrBanned)
}

// IsNetworkError сетевая ошибка (в том числе после исчерпания повторов)
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

var bannedUntilRe = regexp.MustCompile(`banned until (\d+)`)

// parseBanUntil извлекает "banned until <ms>" из сообщения, иначе now+60s
func parseBanUntil(msg string, now time.Time) time.Time {
	m := bannedUntilRe.FindStringSubmatch(msg)
	if len(m) == 2 {
		if ms, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return time.UnixMilli(ms)
		}
	}
	return now.Add(banFallback)
}
