package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// ============ TrackedPosition Tests ============

func TestTrackedPosition_ProtectionInvariant(t *testing.T) {
	p := &TrackedPosition{Symbol: "SOLUSDT"}

	if p.Protected() {
		t.Fatal("новая позиция не должна быть защищена")
	}

	p.SetProtection(101, 67, 202, 118)
	if !p.Protected() {
		t.Fatal("после SetProtection позиция должна быть защищена")
	}
	if p.TPPrice != 67 || p.SLPrice != 118 {
		t.Errorf("цены защиты: tp=%v sl=%v", p.TPPrice, p.SLPrice)
	}

	// Один id без второго не даёт частично защищённого состояния
	p.SetProtection(101, 67, 0, 118)
	if p.Protected() || p.TPOrderID != 0 || p.SLOrderID != 0 {
		t.Errorf("неполная защита должна сбрасываться: tp=%d sl=%d", p.TPOrderID, p.SLOrderID)
	}

	p.SetProtection(1, 1, 2, 2)
	p.ClearProtection()
	if p.Protected() {
		t.Error("после ClearProtection позиция не должна быть защищена")
	}
}

func TestTrackedPosition_MarkClosed(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := &TrackedPosition{Symbol: "SOLUSDT", State: StateProtected}

	p.MarkClosed(CloseTPTriggered, now)

	if !p.Closed || p.State != StateClosed {
		t.Errorf("closed=%v state=%s", p.Closed, p.State)
	}
	if p.CloseReason != CloseTPTriggered {
		t.Errorf("reason = %s", p.CloseReason)
	}
	if !p.ClosedAt.Equal(now) {
		t.Errorf("closed_at = %v", p.ClosedAt)
	}
}

func TestTrackedPosition_MarkEvaluated(t *testing.T) {
	p := &TrackedPosition{}
	p.MarkEvaluated(CheckpointNone)
	if p.EvaluatedAt2h || p.EvaluatedAt12h {
		t.Fatal("CheckpointNone не должен менять флаги")
	}

	p.MarkEvaluated(Checkpoint2h)
	if !p.EvaluatedAt2h || p.EvaluatedAt12h {
		t.Errorf("2h: %v/%v", p.EvaluatedAt2h, p.EvaluatedAt12h)
	}

	// 12h закрывает и 2h, если монитор пропустил первую точку
	q := &TrackedPosition{}
	q.MarkEvaluated(Checkpoint12h)
	if !q.EvaluatedAt2h || !q.EvaluatedAt12h {
		t.Errorf("12h: %v/%v", q.EvaluatedAt2h, q.EvaluatedAt12h)
	}
}

func TestTrackedPosition_HoldTime(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := created.Add(5 * time.Hour)

	tests := []struct {
		name string
		pos  TrackedPosition
		want time.Duration
	}{
		{"от исполнения", TrackedPosition{CreatedAt: created, EntryFillTime: created.Add(time.Hour)}, 4 * time.Hour},
		{"без исполнения от создания", TrackedPosition{CreatedAt: created}, 5 * time.Hour},
		{"пустая позиция", TrackedPosition{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pos.HoldTime(now); got != tt.want {
				t.Errorf("HoldTime = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTrackedPosition_ClientIDs(t *testing.T) {
	p := &TrackedPosition{ClientPrefix: "st1a2b3c4d"}

	if got := p.EntryClientID(); got != "st1a2b3c4d_entry" {
		t.Errorf("entry = %s", got)
	}
	if got := p.TPClientID(); got != "tp_st1a2b3c4d" {
		t.Errorf("tp = %s", got)
	}
	if got := p.SLClientID(); got != "sl_st1a2b3c4d" {
		t.Errorf("sl = %s", got)
	}

	p.TPRevision = 2
	if got := p.TPClientID(); got != "tp_st1a2b3c4d_r2" {
		t.Errorf("tp revision = %s", got)
	}
	if !strings.HasPrefix(p.TPClientID(), "tp_") {
		t.Error("перевыставленный TP должен сохранять префикс tp_")
	}

	p.SLRevision = 1
	if got := p.SLClientID(); got != "sl_st1a2b3c4d_r1" {
		t.Errorf("sl revision = %s", got)
	}
}

func TestTrackedPosition_ProtectQty(t *testing.T) {
	p := &TrackedPosition{Quantity: 0.14}
	if p.ProtectQty() != 0.14 {
		t.Errorf("без исполнения ожидали запрошенный объём, получили %v", p.ProtectQty())
	}
	p.MarkFilled(100.5, 0.1, time.Now())
	if p.ProtectQty() != 0.1 {
		t.Errorf("ожидали исполненный объём 0.1, получили %v", p.ProtectQty())
	}
}

func TestTrackedPosition_SnapshotIsCopy(t *testing.T) {
	p := &TrackedPosition{Symbol: "SOLUSDT", CurrentTPPct: 33}
	snap := p.Snapshot()
	p.CurrentTPPct = 10

	if snap.CurrentTPPct != 33 {
		t.Errorf("snapshot изменился вместе с оригиналом: %v", snap.CurrentTPPct)
	}
}

func TestTrackedPosition_JSONFieldNames(t *testing.T) {
	p := TrackedPosition{Symbol: "SOLUSDT", Side: "SHORT", State: StateProtected, Strength: StrengthStrong}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("ошибка сериализации: %v", err)
	}
	for _, field := range []string{`"symbol"`, `"side"`, `"state":"PROTECTED"`, `"strength":"strong"`, `"evaluated_2h"`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("поле %s отсутствует в JSON: %s", field, data)
		}
	}
	if strings.Contains(string(data), `"tp_order_id"`) {
		t.Error("пустой tp_order_id должен опускаться")
	}
}

// ============ Signal Tests ============

func TestSignal_Validate(t *testing.T) {
	tests := []struct {
		name    string
		signal  Signal
		wantErr error
	}{
		{"valid", Signal{Symbol: "SOLUSDT", Price: 100}, nil},
		{"empty symbol", Signal{Symbol: "  ", Price: 100}, ErrSignalSymbol},
		{"zero price", Signal{Symbol: "SOLUSDT"}, ErrSignalPrice},
		{"negative price", Signal{Symbol: "SOLUSDT", Price: -1}, ErrSignalPrice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.signal.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSignal_JSONDeserialization(t *testing.T) {
	data := `{"symbol":"SOLUSDT","ratio":12.5,"price":100.25,"timestamp":"2026-03-01T10:00:00Z"}`
	var s Signal
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		t.Fatalf("ошибка десериализации: %v", err)
	}
	if s.Symbol != "SOLUSDT" || s.Ratio != 12.5 || s.Price != 100.25 {
		t.Errorf("signal = %+v", s)
	}
	if s.Timestamp.Hour() != 10 {
		t.Errorf("timestamp = %v", s.Timestamp)
	}
}

// ============ Notification Tests ============

func TestNotification_SeverityFor(t *testing.T) {
	tests := map[string]string{
		NotificationCritical:     SeverityCritical,
		NotificationSLTriggered:  SeverityWarn,
		NotificationReplaced:     SeverityWarn,
		NotificationTimedOut:     SeverityWarn,
		NotificationEntryFilled:  SeverityInfo,
		NotificationTPTriggered:  SeverityInfo,
		NotificationDailySummary: SeverityInfo,
		"SOMETHING_NEW":          SeverityInfo,
	}
	for typ, want := range tests {
		if got := SeverityFor(typ); got != want {
			t.Errorf("SeverityFor(%s) = %s, want %s", typ, got, want)
		}
	}
}
