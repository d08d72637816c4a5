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

// GetRules правила инструмента из кэша exchangeInfo
func (c *BinanceClient) GetRules(ctx context.Context, symbol string) (*SymbolRules, error) {
	return c.rules.Get(ctx, symbol)
}

// fetchRules загружает правила всех инструментов (/fapi/v1/exchangeInfo)
func (c *BinanceClient) fetchRules(ctx context.Context) (map[string]SymbolRules, error) {
	body, err := c.do(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, authNone, 1)
	if err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}

	var resp struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Status  string `json:"status"`
			Filters []struct {
				FilterType string `json:"filterType"`
				TickSize   string `json:"tickSize"`
				StepSize   string `json:"stepSize"`
				MinQty     string `json:"minQty"`
				MaxQty     string `json:"maxQty"`
				Notional   string `json:"notional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode exchange info: %w", err)
	}

	rules := make(map[string]SymbolRules, len(resp.Symbols))
	for _, s := range resp.Symbols {
		r := SymbolRules{Symbol: s.Symbol}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				r.TickSize = parseFloat(f.TickSize)
			case "LOT_SIZE":
				r.StepSize = parseFloat(f.StepSize)
				r.MinQty = parseFloat(f.MinQty)
				r.MaxQty = parseFloat(f.MaxQty)
			case "MIN_NOTIONAL":
				r.MinNotional = parseFloat(f.Notional)
			}
		}
		rules[s.Symbol] = r
	}

	c.log.Info("instrument rules refreshed", utils.Int("symbols", len(rules)))
	return rules, nil
}

// GetKlines свечи (/fapi/v1/klines)
//
// Формат элемента: [openTime, open, high, low, close, volume, closeTime,
// quoteVolume, trades, takerBuyBase, takerBuyQuote, ignore].
func (c *BinanceClient) GetKlines(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", utils.NormalizeSymbol(symbol))
	params.Set("interval", interval)
	if !start.IsZero() {
		params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		params.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	}
	if limit > 0 {
		if limit > 1500 {
			limit = 1500
		}
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.do(ctx, http.MethodGet, "/fapi/v1/klines", params, authNone, klineWeight(limit))
	if err != nil {
		return nil, fmt.Errorf("klines %s: %w", symbol, err)
	}

	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	klines := make([]Kline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 10 {
			continue
		}
		klines = append(klines, Kline{
			OpenTime:       fromMillis(int64(anyFloat(row[0]))),
			Open:           anyFloat(row[1]),
			High:           anyFloat(row[2]),
			Low:            anyFloat(row[3]),
			Close:          anyFloat(row[4]),
			Volume:         anyFloat(row[5]),
			CloseTime:      fromMillis(int64(anyFloat(row[6]))),
			QuoteVolume:    anyFloat(row[7]),
			Trades:         int64(anyFloat(row[8])),
			TakerBuyVolume: anyFloat(row[9]),
		})
	}
	return klines, nil
}

// klineWeight вес запроса свечей по limit
func klineWeight(limit int) int {
	switch {
	case limit < 100:
		return 1
	case limit < 500:
		return 2
	case limit <= 1000:
		return 5
	default:
		return 10
	}
}

// GetPremiumIndex mark/index цена (/fapi/v1/premiumIndex)
func (c *BinanceClient) GetPremiumIndex(ctx context.Context, symbol string) (*PremiumIndex, error) {
	params := url.Values{}
	params.Set("symbol", utils.NormalizeSymbol(symbol))

	body, err := c.do(ctx, http.MethodGet, "/fapi/v1/premiumIndex", params, authNone, 1)
	if err != nil {
		return nil, fmt.Errorf("premium index %s: %w", symbol, err)
	}

	var resp struct {
		Symbol          string `json:"symbol"`
		MarkPrice       string `json:"markPrice"`
		IndexPrice      string `json:"indexPrice"`
		LastFundingRate string `json:"lastFundingRate"`
		Time            int64  `json:"time"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode premium index: %w", err)
	}

	return &PremiumIndex{
		Symbol:          resp.Symbol,
		MarkPrice:       parseFloat(resp.MarkPrice),
		IndexPrice:      parseFloat(resp.IndexPrice),
		LastFundingRate: parseFloat(resp.LastFundingRate),
		Time:            fromMillis(resp.Time),
	}, nil
}
