package handlers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"surgetrader/internal/bot"
	"surgetrader/internal/models"
)

var ErrMockDatabase = errors.New("mock database error")

// ============ Mock Position Service ============

type MockPositionService struct {
	mu        sync.Mutex
	positions map[string]models.TrackedPosition
	closeErr  error
	closed    []string
}

func NewMockPositionService(positions ...models.TrackedPosition) *MockPositionService {
	m := &MockPositionService{positions: make(map[string]models.TrackedPosition)}
	for _, p := range positions {
		m.positions[p.Symbol] = p
	}
	return m
}

func (m *MockPositionService) Positions() []models.TrackedPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TrackedPosition
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

func (m *MockPositionService) Get(symbol string) (models.TrackedPosition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	return p, ok
}

func (m *MockPositionService) ForceClose(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.positions[symbol]; !ok {
		return fmt.Errorf("%w: %s", bot.ErrNotTracked, symbol)
	}
	if m.closeErr != nil {
		return m.closeErr
	}
	m.closed = append(m.closed, symbol)
	delete(m.positions, symbol)
	return nil
}

// ============ Mock Trader ============

type MockTrader struct {
	mu         sync.Mutex
	signals    []models.Signal
	decision   string
	summary    models.DailySummary
	summaryErr error
}

func (m *MockTrader) HandleSignal(ctx context.Context, sig models.Signal) (models.SignalEvent, error) {
	if err := sig.Validate(); err != nil {
		return models.SignalEvent{}, err
	}
	m.mu.Lock()
	m.signals = append(m.signals, sig)
	m.mu.Unlock()
	return models.SignalEvent{
		Symbol:      sig.Symbol,
		Ratio:       sig.Ratio,
		SignalPrice: sig.Price,
		Decision:    m.decision,
	}, nil
}

func (m *MockTrader) Summary(ctx context.Context, day time.Time) (models.DailySummary, error) {
	if m.summaryErr != nil {
		return models.DailySummary{}, m.summaryErr
	}
	s := m.summary
	s.Date = day
	return s, nil
}

// ============ Mock History ============

type MockTradeHistory struct {
	trades []*models.TradeRecord
	err    error
	limit  int
}

func (m *MockTradeHistory) GetRecent(ctx context.Context, limit int) ([]*models.TradeRecord, error) {
	m.limit = limit
	return m.trades, m.err
}

type MockSignalHistory struct {
	events []*models.SignalEvent
	err    error
	limit  int
}

func (m *MockSignalHistory) GetRecent(ctx context.Context, limit int) ([]*models.SignalEvent, error) {
	m.limit = limit
	return m.events, m.err
}
