package bot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"surgetrader/internal/exchange"
	"surgetrader/internal/models"
	"surgetrader/internal/strategy"
)

func TestEntryLimitPrice(t *testing.T) {
	tests := []struct {
		side string
		want float64
	}{
		{exchange.SideShort, 100.5},
		{exchange.SideLong, 99.5},
	}
	for _, tt := range tests {
		t.Run(tt.side, func(t *testing.T) {
			if got := EntryLimitPrice(tt.side, 100, 0.5); got != tt.want {
				t.Errorf("EntryLimitPrice(%s) = %v, want %v", tt.side, got, tt.want)
			}
		})
	}
}

func TestOpenPosition_SizingAndLimitPrice(t *testing.T) {
	env := newTestEnv()
	sig := models.Signal{Symbol: "SOLUSDT", Ratio: 12, Price: 100, Timestamp: testNow}

	pos, err := env.executor.OpenPosition(context.Background(), sig, env.strat.decision)
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	// 5 × 3 / (100 × 1.005) = 0.1492... → 0.14
	if pos.Quantity != 0.14 {
		t.Errorf("Quantity = %v, want 0.14", pos.Quantity)
	}
	if pos.LimitPrice != 100.5 {
		t.Errorf("LimitPrice = %v, want 100.5", pos.LimitPrice)
	}
	if pos.State != models.StatePending || pos.EntryFilled {
		t.Errorf("new position must be pending, got %s filled=%v", pos.State, pos.EntryFilled)
	}
	if pos.CurrentTPPct != 33 || pos.SLPct != 18 {
		t.Errorf("TP/SL = %v/%v, want 33/18", pos.CurrentTPPct, pos.SLPct)
	}

	if len(env.ex.limitOrders) != 1 {
		t.Fatalf("limit orders = %d, want 1", len(env.ex.limitOrders))
	}
	req := env.ex.limitOrders[0]
	if req.Side != exchange.SideSell {
		t.Errorf("entry side = %s, want SELL", req.Side)
	}
	if !strings.HasSuffix(req.ClientOrderID, "_entry") || !strings.HasPrefix(req.ClientOrderID, "st") {
		t.Errorf("client id = %q", req.ClientOrderID)
	}
	if pos.EntryOrderID == 0 {
		t.Error("entry order id not recorded")
	}
	if env.notifier.count("entry_submitted:") != 1 {
		t.Error("entry submission not notified")
	}
}

func TestOpenPosition_PercentOfBalance(t *testing.T) {
	env := newTestEnv()
	env.executor.cfg.FixedMarginUSDT = 0
	env.executor.cfg.PositionSizePct = 0.015

	pos, err := env.executor.OpenPosition(context.Background(),
		models.Signal{Symbol: "SOLUSDT", Price: 100, Timestamp: testNow}, env.strat.decision)
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	// 1000 × 0.015 = 15 USDT маржи → 15 × 3 / 100.5 = 0.447... → 0.44
	if pos.Quantity != 0.44 {
		t.Errorf("Quantity = %v, want 0.44", pos.Quantity)
	}
}

func TestOpenPosition_QuantityTooSmall(t *testing.T) {
	env := newTestEnv()
	env.ex.rules.MinQty = 1

	_, err := env.executor.OpenPosition(context.Background(),
		models.Signal{Symbol: "SOLUSDT", Price: 100, Timestamp: testNow}, env.strat.decision)
	if !errors.Is(err, ErrQuantityTooSmall) {
		t.Fatalf("err = %v, want ErrQuantityTooSmall", err)
	}
	if len(env.ex.limitOrders) != 0 {
		t.Error("no order should be placed below minimum quantity")
	}
}

func filledShort(symbol string) *models.TrackedPosition {
	return &models.TrackedPosition{
		Symbol:        symbol,
		Side:          exchange.SideShort,
		ClientPrefix:  "sttest",
		Quantity:      0.14,
		EntryFilled:   true,
		EntryPrice:    100,
		EntryFillTime: testNow,
		FilledQty:     0.14,
		CurrentTPPct:  33,
		SLPct:         18,
		State:         models.StateFilled,
	}
}

func TestPlaceProtection_PlacesBoth(t *testing.T) {
	env := newTestEnv()
	pos := filledShort("SOLUSDT")

	if err := env.executor.PlaceProtection(context.Background(), pos); err != nil {
		t.Fatalf("PlaceProtection: %v", err)
	}
	if !pos.Protected() {
		t.Fatal("position must be protected")
	}
	if pos.TPPrice != 67 || pos.SLPrice != 118 {
		t.Errorf("TP/SL prices = %v/%v, want 67/118", pos.TPPrice, pos.SLPrice)
	}
	for _, req := range env.ex.algoPlaced {
		if req.Side != exchange.SideBuy {
			t.Errorf("%s side = %s, want BUY", req.Type, req.Side)
		}
		if req.Quantity != 0.14 {
			t.Errorf("%s qty = %v, want 0.14", req.Type, req.Quantity)
		}
	}
	if env.ex.algoPlaced[0].ClientAlgoID != "tp_sttest" || env.ex.algoPlaced[1].ClientAlgoID != "sl_sttest" {
		t.Errorf("client ids = %q, %q", env.ex.algoPlaced[0].ClientAlgoID, env.ex.algoPlaced[1].ClientAlgoID)
	}
}

func TestPlaceProtection_Idempotent(t *testing.T) {
	env := newTestEnv()
	pos := filledShort("SOLUSDT")
	ctx := context.Background()

	if err := env.executor.PlaceProtection(ctx, pos); err != nil {
		t.Fatalf("first call: %v", err)
	}
	tpID, slID := pos.TPOrderID, pos.SLOrderID

	pos.ClearProtection()
	if err := env.executor.PlaceProtection(ctx, pos); err != nil {
		t.Fatalf("second call: %v", err)
	}

	if got := len(env.ex.algoPlaced); got != 2 {
		t.Errorf("placed orders = %d, want 2 (second call adopts)", got)
	}
	if pos.TPOrderID != tpID || pos.SLOrderID != slID {
		t.Error("second call must adopt the existing orders")
	}
}

func TestPlaceProtection_AdoptsOldestAndCancelsSurplus(t *testing.T) {
	env := newTestEnv()
	pos := filledShort("SOLUSDT")
	older := env.ex.addAlgo("SOLUSDT", exchange.AlgoTypeTakeProfit, exchange.SideBuy, "tp_sttest", 67, 0.14)
	newer := env.ex.addAlgo("SOLUSDT", exchange.AlgoTypeTakeProfit, exchange.SideBuy, "tp_sttest", 67, 0.14)

	if err := env.executor.PlaceProtection(context.Background(), pos); err != nil {
		t.Fatalf("PlaceProtection: %v", err)
	}
	if pos.TPOrderID != older {
		t.Errorf("TPOrderID = %d, want oldest %d", pos.TPOrderID, older)
	}
	if len(env.ex.algoCanceled) != 1 || env.ex.algoCanceled[0] != newer {
		t.Errorf("canceled = %v, want [%d]", env.ex.algoCanceled, newer)
	}
	if env.ex.countPlaced(exchange.AlgoTypeTakeProfit) != 0 {
		t.Error("take-profit must not be placed again")
	}
	if env.ex.countPlaced(exchange.AlgoTypeStopLoss) != 1 {
		t.Error("stop-loss must be placed")
	}
}

func TestPlaceProtection_PartialFailureKeepsUnprotected(t *testing.T) {
	env := newTestEnv()
	pos := filledShort("SOLUSDT")
	ctx := context.Background()
	env.ex.placeAlgoErrs = []error{nil, errors.New("stop rejected")}

	err := env.executor.PlaceProtection(ctx, pos)
	if !errors.Is(err, ErrProtectionIncomplete) {
		t.Fatalf("err = %v, want ErrProtectionIncomplete", err)
	}
	if pos.Protected() {
		t.Fatal("position with one order must not be protected")
	}

	// Повтор принимает выставленный TP и добавляет только SL
	if err := env.executor.PlaceProtection(ctx, pos); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !pos.Protected() {
		t.Fatal("retry must complete protection")
	}
	if got := env.ex.countPlaced(exchange.AlgoTypeTakeProfit); got != 1 {
		t.Errorf("take-profit placements = %d, want 1", got)
	}
}

func TestReplaceTakeProfit_Success(t *testing.T) {
	env := newTestEnv()
	pos := env.protectedShort("SOLUSDT")
	oldTP := pos.TPOrderID

	if err := env.executor.ReplaceTakeProfit(context.Background(), pos, 21); err != nil {
		t.Fatalf("ReplaceTakeProfit: %v", err)
	}
	if pos.CurrentTPPct != 21 {
		t.Errorf("CurrentTPPct = %v, want 21", pos.CurrentTPPct)
	}
	if pos.TPPrice != 79 {
		t.Errorf("TPPrice = %v, want 79", pos.TPPrice)
	}
	if pos.TPOrderID == oldTP || !pos.Protected() {
		t.Error("new take-profit must be tracked")
	}
	last := env.ex.algoPlaced[len(env.ex.algoPlaced)-1]
	if last.ClientAlgoID != "tp_sttest_r1" {
		t.Errorf("client id = %q, want tp_sttest_r1", last.ClientAlgoID)
	}
	if len(env.ex.openAlgo("SOLUSDT")) != 2 {
		t.Error("exactly TP and SL must remain open")
	}
}

func TestReplaceTakeProfit_RestoresPrevious(t *testing.T) {
	env := newTestEnv()
	pos := env.protectedShort("SOLUSDT")
	env.ex.placeAlgoErrs = []error{errors.New("rejected")}

	err := env.executor.ReplaceTakeProfit(context.Background(), pos, 21)
	if !errors.Is(err, ErrTakeProfitRestored) {
		t.Fatalf("err = %v, want ErrTakeProfitRestored", err)
	}
	if !pos.Protected() || pos.TPPrice != 67 || pos.CurrentTPPct != 33 {
		t.Errorf("previous take-profit must be restored: protected=%v price=%v pct=%v",
			pos.Protected(), pos.TPPrice, pos.CurrentTPPct)
	}
	if env.notifier.count("critical:") != 0 {
		t.Error("restored take-profit is not critical")
	}
}

func TestReplaceTakeProfit_RestoreFailsRaisesCritical(t *testing.T) {
	env := newTestEnv()
	pos := env.protectedShort("SOLUSDT")
	env.ex.placeAlgoErrs = []error{errors.New("rejected"), errors.New("rejected again")}

	err := env.executor.ReplaceTakeProfit(context.Background(), pos, 21)
	if err == nil || errors.Is(err, ErrTakeProfitRestored) {
		t.Fatalf("err = %v, want hard failure", err)
	}
	if pos.Protected() {
		t.Error("protection must be cleared")
	}
	if pos.State != models.StateFilled {
		t.Errorf("State = %s, want FILLED", pos.State)
	}
	if pos.CurrentTPPct != 21 {
		t.Errorf("CurrentTPPct = %v, want 21 for the next placement", pos.CurrentTPPct)
	}
	if env.notifier.count("critical:SOLUSDT:restore_take_profit") != 1 {
		t.Errorf("critical alert missing: %v", env.notifier.calls)
	}
}

func TestPlaceReplacement_BumpsRevision(t *testing.T) {
	env := newTestEnv()
	pos := env.protectedShort("SOLUSDT")

	order, err := env.executor.PlaceReplacement(context.Background(), pos, "sl", 0.14)
	if err != nil {
		t.Fatalf("PlaceReplacement: %v", err)
	}
	if order.TriggerPrice != 118 {
		t.Errorf("TriggerPrice = %v, want original 118", order.TriggerPrice)
	}
	if pos.SLRevision != 1 || order.ClientAlgoID != "sl_sttest_r1" {
		t.Errorf("revision = %d, client id = %q", pos.SLRevision, order.ClientAlgoID)
	}

	if _, err := env.executor.PlaceReplacement(context.Background(), pos, "trailing", 0.14); err == nil {
		t.Error("unknown kind must fail")
	}
}

var _ strategy.Strategy = (*MockStrategy)(nil)
