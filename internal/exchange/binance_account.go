package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"surgetrader/pkg/utils"
)

type positionRiskResponse struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
	UpdateTime       int64  `json:"updateTime"`
}

func (r positionRiskResponse) toPosition() PositionRisk {
	lev, _ := strconv.Atoi(r.Leverage)
	return PositionRisk{
		Symbol:        r.Symbol,
		Amount:        parseFloat(r.PositionAmt),
		EntryPrice:    parseFloat(r.EntryPrice),
		MarkPrice:     parseFloat(r.MarkPrice),
		UnrealizedPnL: parseFloat(r.UnRealizedProfit),
		Leverage:      lev,
		UpdateTime:    fromMillis(r.UpdateTime),
	}
}

func (c *BinanceClient) positionRisk(ctx context.Context, symbol string) ([]PositionRisk, error) {
	params := url.Values{}
	weight := 5
	if symbol != "" {
		params.Set("symbol", utils.NormalizeSymbol(symbol))
		weight = 1
	}

	body, err := c.do(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, authSigned, weight)
	if err != nil {
		return nil, fmt.Errorf("position risk %s: %w", symbol, err)
	}

	var raw []positionRiskResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode position risk: %w", err)
	}

	out := make([]PositionRisk, 0, len(raw))
	for _, r := range raw {
		out = append(out, r.toPosition())
	}
	return out, nil
}

// GetPositionAmount объём позиции со знаком
//
// В one-way режиме на символ одна запись (positionSide BOTH).
// Отсутствие записи означает нулевую позицию.
func (c *BinanceClient) GetPositionAmount(ctx context.Context, symbol string) (float64, error) {
	symbol = utils.NormalizeSymbol(symbol)
	positions, err := c.positionRisk(ctx, symbol)
	if err != nil {
		return 0, err
	}
	var amount float64
	for _, p := range positions {
		if p.Symbol == symbol {
			amount += p.Amount
		}
	}
	return amount, nil
}

// GetPositions все ненулевые позиции
func (c *BinanceClient) GetPositions(ctx context.Context) ([]PositionRisk, error) {
	all, err := c.positionRisk(ctx, "")
	if err != nil {
		return nil, err
	}
	open := make([]PositionRisk, 0)
	for _, p := range all {
		if p.Amount != 0 {
			open = append(open, p)
		}
	}
	return open, nil
}

// GetBalance баланс USDT (/fapi/v2/balance)
func (c *BinanceClient) GetBalance(ctx context.Context) (*Balance, error) {
	body, err := c.do(ctx, http.MethodGet, "/fapi/v2/balance", nil, authSigned, 5)
	if err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}

	var raw []struct {
		Asset            string `json:"asset"`
		Balance          string `json:"balance"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}

	for _, b := range raw {
		if b.Asset == "USDT" {
			return &Balance{
				Asset:     b.Asset,
				Total:     parseFloat(b.Balance),
				Available: parseFloat(b.AvailableBalance),
			}, nil
		}
	}
	return &Balance{Asset: "USDT"}, nil
}

// SetLeverage устанавливает плечо (/fapi/v1/leverage)
func (c *BinanceClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := utils.ValidateLeverage(leverage); err != nil {
		return err
	}
	params := url.Values{}
	params.Set("symbol", utils.NormalizeSymbol(symbol))
	params.Set("leverage", strconv.Itoa(leverage))

	if _, err := c.do(ctx, http.MethodPost, "/fapi/v1/leverage", params, authSigned, 1); err != nil {
		return fmt.Errorf("set leverage %s x%d: %w", symbol, leverage, err)
	}
	return nil
}

// GetDailyRealizedPnL сумма REALIZED_PNL с начала UTC дня (/fapi/v1/income)
func (c *BinanceClient) GetDailyRealizedPnL(ctx context.Context, now time.Time) (float64, error) {
	params := url.Values{}
	params.Set("incomeType", "REALIZED_PNL")
	params.Set("startTime", strconv.FormatInt(utils.GetDayStartFrom(now).UnixMilli(), 10))
	params.Set("limit", "1000")

	body, err := c.do(ctx, http.MethodGet, "/fapi/v1/income", params, authSigned, 30)
	if err != nil {
		return 0, fmt.Errorf("income history: %w", err)
	}

	var raw []struct {
		Income string `json:"income"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return 0, fmt.Errorf("decode income: %w", err)
	}

	var total float64
	for _, r := range raw {
		total += parseFloat(r.Income)
	}
	return total, nil
}

// ============================================================
// Listen key
// ============================================================

// CreateListenKey создаёт ключ user data stream (действует 60 минут)
func (c *BinanceClient) CreateListenKey(ctx context.Context) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/fapi/v1/listenKey", nil, authKey, 1)
	if err != nil {
		return "", fmt.Errorf("create listen key: %w", err)
	}
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode listen key: %w", err)
	}
	return resp.ListenKey, nil
}

// KeepaliveListenKey продлевает ключ на 60 минут
func (c *BinanceClient) KeepaliveListenKey(ctx context.Context) error {
	if _, err := c.do(ctx, http.MethodPut, "/fapi/v1/listenKey", nil, authKey, 1); err != nil {
		return fmt.Errorf("keepalive listen key: %w", err)
	}
	return nil
}

// CloseListenKey закрывает ключ
func (c *BinanceClient) CloseListenKey(ctx context.Context) error {
	if _, err := c.do(ctx, http.MethodDelete, "/fapi/v1/listenKey", nil, authKey, 1); err != nil {
		return fmt.Errorf("close listen key: %w", err)
	}
	return nil
}
