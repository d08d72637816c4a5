package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"surgetrader/internal/exchange"
	"surgetrader/internal/models"
	"surgetrader/internal/strategy"
	"surgetrader/pkg/utils"
)

var testNow = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

// ============ Mock Exchange ============

type marketCall struct {
	Side       string
	Qty        float64
	ReduceOnly bool
}

// MockExchange биржа в памяти: рыночные ордера меняют объём позиции,
// условные ордера живут в списке открытых
type MockExchange struct {
	mu sync.Mutex

	rules    exchange.SymbolRules
	amounts  map[string]float64
	risks    []exchange.PositionRisk // если задано, ответ GetPositions
	algo     []exchange.AlgoOrder
	orders   map[int64]*exchange.Order
	balance  exchange.Balance
	mark     float64
	dailyPnL float64
	nextID   int64

	// Ошибки по очереди вызовов (nil - успех)
	placeAlgoErrs []error
	marketErrs    []error
	limitErr      error
	leverageErr   error
	dailyPnLErr   error
	amountErr     error
	cancelAlgoErr error

	// Позиция закрывается биржей одновременно с ошибкой рыночного ордера
	flatOnMarketErr bool

	// Записанные вызовы
	limitOrders   []exchange.LimitOrderRequest
	algoPlaced    []exchange.AlgoOrderRequest
	algoCanceled  []int64
	marketOrders  []marketCall
	leverageCalls int
}

func NewMockExchange() *MockExchange {
	return &MockExchange{
		rules: exchange.SymbolRules{
			Symbol:   "SOLUSDT",
			StepSize: 0.01,
			TickSize: 0.01,
			MinQty:   0.01,
		},
		amounts: make(map[string]float64),
		orders:  make(map[int64]*exchange.Order),
		balance: exchange.Balance{Asset: "USDT", Total: 1000, Available: 1000},
		nextID:  1000,
	}
}

func round8(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}

func popErr(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

func (m *MockExchange) id() int64 {
	m.nextID++
	return m.nextID
}

// setAmount выставляет объём позиции
func (m *MockExchange) setAmount(symbol string, amount float64) {
	m.mu.Lock()
	m.amounts[symbol] = amount
	m.mu.Unlock()
}

// addAlgo добавляет открытый условный ордер, возвращает его id
func (m *MockExchange) addAlgo(symbol, orderType, side, clientID string, trigger, qty float64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	m.algo = append(m.algo, exchange.AlgoOrder{
		AlgoID:       id,
		ClientAlgoID: clientID,
		Symbol:       symbol,
		Side:         side,
		Type:         orderType,
		Status:       "NEW",
		TriggerPrice: trigger,
		Quantity:     qty,
		ReduceOnly:   true,
		CreateTime:   testNow.Add(time.Duration(id) * time.Second),
	})
	return id
}

// removeAlgo эмулирует срабатывание или ручную отмену
func (m *MockExchange) removeAlgo(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, o := range m.algo {
		if o.AlgoID == id {
			m.algo = append(m.algo[:i], m.algo[i+1:]...)
			return
		}
	}
}

func (m *MockExchange) openAlgo(symbol string) []exchange.AlgoOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []exchange.AlgoOrder
	for _, o := range m.algo {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out
}

func (m *MockExchange) countPlaced(orderType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.algoPlaced {
		if r.Type == orderType {
			n++
		}
	}
	return n
}

func (m *MockExchange) GetName() string { return "mock" }
func (m *MockExchange) Close() error    { return nil }

func (m *MockExchange) GetKlines(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]exchange.Kline, error) {
	return nil, errors.New("klines not available")
}

func (m *MockExchange) GetPremiumIndex(ctx context.Context, symbol string) (*exchange.PremiumIndex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mark <= 0 {
		return nil, errors.New("no mark price")
	}
	return &exchange.PremiumIndex{Symbol: symbol, MarkPrice: m.mark, IndexPrice: m.mark}, nil
}

func (m *MockExchange) GetRules(ctx context.Context, symbol string) (*exchange.SymbolRules, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rules
	r.Symbol = symbol
	return &r, nil
}

func (m *MockExchange) GetBalance(ctx context.Context) (*exchange.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.balance
	return &b, nil
}

func (m *MockExchange) GetPositionAmount(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.amountErr != nil {
		return 0, m.amountErr
	}
	return m.amounts[symbol], nil
}

func (m *MockExchange) GetPositions(ctx context.Context) ([]exchange.PositionRisk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.risks != nil {
		return append([]exchange.PositionRisk(nil), m.risks...), nil
	}
	var out []exchange.PositionRisk
	for s, a := range m.amounts {
		if a != 0 {
			out = append(out, exchange.PositionRisk{Symbol: s, Amount: a, EntryPrice: 100, Leverage: 3, UpdateTime: testNow})
		}
	}
	return out, nil
}

func (m *MockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leverageCalls++
	return m.leverageErr
}

func (m *MockExchange) PlaceLimitOrder(ctx context.Context, req exchange.LimitOrderRequest) (*exchange.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limitErr != nil {
		return nil, m.limitErr
	}
	m.limitOrders = append(m.limitOrders, req)
	o := &exchange.Order{
		OrderID:       m.id(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          exchange.OrderTypeLimit,
		Status:        exchange.OrderStatusNew,
		Price:         req.Price,
		OrigQty:       req.Quantity,
	}
	m.orders[o.OrderID] = o
	cp := *o
	return &cp, nil
}

// fillEntry исполняет entry ордер и открывает позицию
func (m *MockExchange) fillEntry(orderID int64, avgPrice float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[orderID]
	o.Status = exchange.OrderStatusFilled
	o.AvgPrice = avgPrice
	o.ExecutedQty = o.OrigQty
	o.UpdateTime = testNow
	delta := o.OrigQty
	if o.Side == exchange.SideSell {
		delta = -delta
	}
	m.amounts[o.Symbol] = round8(m.amounts[o.Symbol] + delta)
}

func (m *MockExchange) setOrderStatus(orderID int64, status string, executed float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[orderID]
	o.Status = status
	o.ExecutedQty = executed
}

func (m *MockExchange) PlaceMarketOrder(ctx context.Context, symbol, side string, qty float64, reduceOnly bool) (*exchange.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marketOrders = append(m.marketOrders, marketCall{Side: side, Qty: qty, ReduceOnly: reduceOnly})
	if err := popErr(&m.marketErrs); err != nil {
		if m.flatOnMarketErr {
			m.amounts[symbol] = 0
		}
		return nil, err
	}
	delta := qty
	if side == exchange.SideSell {
		delta = -qty
	}
	m.amounts[symbol] = round8(m.amounts[symbol] + delta)
	return &exchange.Order{
		OrderID:     m.id(),
		Symbol:      symbol,
		Side:        side,
		Type:        exchange.OrderTypeMarket,
		Status:      exchange.OrderStatusFilled,
		AvgPrice:    95,
		OrigQty:     qty,
		ExecutedQty: qty,
		ReduceOnly:  reduceOnly,
	}, nil
}

func (m *MockExchange) QueryOrder(ctx context.Context, symbol string, orderID int64) (*exchange.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, &exchange.APIError{Code: exchange.CodeOrderNotFound, Message: "Order does not exist."}
	}
	cp := *o
	return &cp, nil
}

func (m *MockExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.IsFinal() {
		return &exchange.APIError{Code: exchange.CodeUnknownOrder, Message: "Unknown order sent."}
	}
	o.Status = exchange.OrderStatusCanceled
	return nil
}

func (m *MockExchange) PlaceAlgoOrder(ctx context.Context, req exchange.AlgoOrderRequest) (*exchange.AlgoOrder, error) {
	m.mu.Lock()
	m.algoPlaced = append(m.algoPlaced, req)
	if err := popErr(&m.placeAlgoErrs); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	id := m.addAlgo(req.Symbol, req.Type, req.Side, req.ClientAlgoID, req.TriggerPrice, req.Quantity)
	for _, o := range m.openAlgo(req.Symbol) {
		if o.AlgoID == id {
			return &o, nil
		}
	}
	return nil, fmt.Errorf("algo %d lost", id)
}

func (m *MockExchange) GetOpenAlgoOrders(ctx context.Context, symbol string) ([]exchange.AlgoOrder, error) {
	return m.openAlgo(symbol), nil
}

func (m *MockExchange) CancelAlgoOrder(ctx context.Context, symbol string, algoID int64) error {
	m.mu.Lock()
	if m.cancelAlgoErr != nil {
		m.mu.Unlock()
		return m.cancelAlgoErr
	}
	found := false
	for _, o := range m.algo {
		if o.AlgoID == algoID {
			found = true
		}
	}
	m.algoCanceled = append(m.algoCanceled, algoID)
	m.mu.Unlock()

	if !found {
		return &exchange.APIError{Code: exchange.CodeUnknownOrder, Message: "Unknown order sent."}
	}
	m.removeAlgo(algoID)
	return nil
}

func (m *MockExchange) GetDailyRealizedPnL(ctx context.Context, now time.Time) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyPnL, m.dailyPnLErr
}

var _ exchange.Exchange = (*MockExchange)(nil)

// ============ Mock Strategy ============

type MockStrategy struct {
	mu        sync.Mutex
	decision  strategy.EntryDecision
	entryErr  error
	action    strategy.PositionAction
	evalErr   error
	evalCalls int
}

func acceptingStrategy() *MockStrategy {
	return &MockStrategy{
		decision: strategy.EntryDecision{Accept: true, Side: exchange.SideShort, TPPct: 33, SLPct: 18},
		action:   strategy.Hold(),
	}
}

func (s *MockStrategy) FilterEntry(ctx context.Context, signal models.Signal, entryPrice float64, now time.Time) (strategy.EntryDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decision, s.entryErr
}

func (s *MockStrategy) EvaluatePosition(ctx context.Context, pos *models.TrackedPosition, now time.Time) (strategy.PositionAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evalCalls++
	return s.action, s.evalErr
}

// ============ Mock Notifier ============

type MockNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *MockNotifier) record(format string, args ...interface{}) {
	n.mu.Lock()
	n.calls = append(n.calls, fmt.Sprintf(format, args...))
	n.mu.Unlock()
}

// count количество вызовов с префиксом
func (n *MockNotifier) count(prefix string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, call := range n.calls {
		if strings.HasPrefix(call, prefix) {
			c++
		}
	}
	return c
}

func (n *MockNotifier) EntrySubmitted(p models.TrackedPosition)   { n.record("entry_submitted:%s", p.Symbol) }
func (n *MockNotifier) EntryFilled(p models.TrackedPosition)      { n.record("entry_filled:%s", p.Symbol) }
func (n *MockNotifier) ProtectionPlaced(p models.TrackedPosition) { n.record("protection:%s", p.Symbol) }
func (n *MockNotifier) TPTriggered(p models.TrackedPosition)      { n.record("tp:%s", p.Symbol) }
func (n *MockNotifier) SLTriggered(p models.TrackedPosition)      { n.record("sl:%s", p.Symbol) }
func (n *MockNotifier) TimedOut(p models.TrackedPosition)         { n.record("timed_out:%s", p.Symbol) }
func (n *MockNotifier) ForceClosed(p models.TrackedPosition)      { n.record("force_closed:%s", p.Symbol) }
func (n *MockNotifier) Replaced(p models.TrackedPosition, kind string) {
	n.record("replaced:%s:%s", p.Symbol, kind)
}
func (n *MockNotifier) DuplicatesSwept(symbol string, canceled int) {
	n.record("duplicates:%s:%d", symbol, canceled)
}
func (n *MockNotifier) TPAdjusted(p models.TrackedPosition, oldPct, newPct float64) {
	n.record("tp_adjusted:%s:%v:%v", p.Symbol, oldPct, newPct)
}
func (n *MockNotifier) Recovered(p models.TrackedPosition)   { n.record("recovered:%s", p.Symbol) }
func (n *MockNotifier) DailySummary(s models.DailySummary)   { n.record("summary:%d", s.EntriesToday) }
func (n *MockNotifier) Critical(symbol, action string, err error) {
	n.record("critical:%s:%s", symbol, action)
}

// ============ Mock Store ============

type MockStore struct {
	mu      sync.Mutex
	events  []models.PositionEvent
	trades  []models.TradeRecord
	signals []models.SignalEvent
	err     error
}

func (s *MockStore) SavePositionEvent(ctx context.Context, ev *models.PositionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, *ev)
	return nil
}

func (s *MockStore) SaveTrade(ctx context.Context, trade *models.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.trades = append(s.trades, *trade)
	return nil
}

func (s *MockStore) SaveSignalEvent(ctx context.Context, ev *models.SignalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.signals = append(s.signals, *ev)
	return nil
}

func (s *MockStore) hasEvent(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.Event == event {
			return true
		}
	}
	return false
}

// ============ Сборка ============

type testEnv struct {
	ex       *MockExchange
	strat    *MockStrategy
	notifier *MockNotifier
	store    *MockStore
	executor *OrderExecutor
	monitor  *PositionMonitor
	sleeps   []time.Duration
}

func newTestEnv() *testEnv {
	env := &testEnv{
		ex:       NewMockExchange(),
		strat:    acceptingStrategy(),
		notifier: &MockNotifier{},
		store:    &MockStore{},
	}
	logger := utils.NewNopLogger()
	env.executor = NewOrderExecutor(env.ex, DefaultExecutorConfig(), env.notifier, logger)
	env.executor.now = func() time.Time { return testNow }
	env.monitor = NewPositionMonitor(env.ex, env.executor, env.strat, env.notifier, env.store,
		NewSymbolLocker(), DefaultMonitorConfig(), logger)
	env.monitor.now = func() time.Time { return testNow }
	env.monitor.sleep = func(ctx context.Context, d time.Duration) error {
		env.sleeps = append(env.sleeps, d)
		return nil
	}
	return env
}

// protectedShort открытая защищённая SHORT позиция: вход 100, объём 0.14,
// TP 67 и SL 118 на бирже
func (env *testEnv) protectedShort(symbol string) *models.TrackedPosition {
	env.ex.setAmount(symbol, -0.14)
	pos := &models.TrackedPosition{
		Symbol:        symbol,
		Side:          exchange.SideShort,
		ClientPrefix:  "sttest",
		Quantity:      0.14,
		Leverage:      3,
		EntryFilled:   true,
		EntryPrice:    100,
		EntryFillTime: testNow.Add(-3 * time.Hour),
		FilledQty:     0.14,
		CurrentTPPct:  33,
		SLPct:         18,
		Strength:      models.StrengthUnknown,
		State:         models.StateProtected,
		CreatedAt:     testNow.Add(-3 * time.Hour),
	}
	tpID := env.ex.addAlgo(symbol, exchange.AlgoTypeTakeProfit, exchange.SideBuy, pos.TPClientID(), 67, 0.14)
	slID := env.ex.addAlgo(symbol, exchange.AlgoTypeStopLoss, exchange.SideBuy, pos.SLClientID(), 118, 0.14)
	pos.SetProtection(tpID, 67, slID, 118)
	return pos
}

func apiErr(code int) error {
	return &exchange.APIError{Code: code, Message: "rejected", HTTPStatus: 400, Endpoint: "/fapi/v1/order"}
}
