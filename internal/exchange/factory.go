package exchange

import (
	"fmt"
	"strings"

	"surgetrader/pkg/utils"
)

// SupportedExchanges - поддерживаемые окружения
var SupportedExchanges = []string{
	"binance",
	"binance-testnet",
}

// Endpoints REST и WebSocket адреса окружения
func Endpoints(name string) (restURL, wsURL string, err error) {
	switch strings.ToLower(name) {
	case "binance":
		return BinanceMainnetURL, BinanceMainnetWS, nil
	case "binance-testnet":
		return BinanceTestnetURL, BinanceTestnetWS, nil
	default:
		return "", "", fmt.Errorf("unsupported exchange: %s", name)
	}
}

// NewExchange создаёт клиент по имени окружения
//
// Явно заданный cfg.BaseURL имеет приоритет (тесты, прокси).
func NewExchange(name string, cfg BinanceConfig, logger *utils.Logger) (*BinanceClient, error) {
	restURL, _, err := Endpoints(name)
	if err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = restURL
	}
	return NewBinanceClient(cfg, logger), nil
}

// IsSupported проверяет, поддерживается ли окружение
func IsSupported(name string) bool {
	name = strings.ToLower(name)
	for _, supported := range SupportedExchanges {
		if name == supported {
			return true
		}
	}
	return false
}

// compile-time проверки
var (
	_ Exchange     = (*BinanceClient)(nil)
	_ ListenKeyAPI = (*BinanceClient)(nil)
)
