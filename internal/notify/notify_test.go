package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"surgetrader/internal/models"
	"surgetrader/pkg/utils"
)

type recordingSender struct {
	name string
	err  error

	mu  sync.Mutex
	got []*models.Notification
}

func (r *recordingSender) Name() string { return r.name }

func (r *recordingSender) Send(ctx context.Context, n *models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func (r *recordingSender) received() []*models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.Notification(nil), r.got...)
}

func newService(senders ...Sender) *Service {
	s := NewService(senders, Config{SendTimeout: time.Second}, utils.NewNopLogger())
	s.now = func() time.Time { return time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC) }
	return s
}

func waitSent(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func shortPosition() models.TrackedPosition {
	return models.TrackedPosition{
		Symbol:       "BTCUSDT",
		Side:         "SHORT",
		Quantity:     0.14,
		LimitPrice:   100.5,
		EntryPrice:   100,
		FilledQty:    0.14,
		TPPrice:      67,
		SLPrice:      118,
		CurrentTPPct: 33,
		SLPct:        18,
		Strength:     models.StrengthMedium,
		State:        models.StateProtected,
	}
}

// ============ Service ============

func TestService_CriticalReachesEveryChannel(t *testing.T) {
	failing := &recordingSender{name: "telegram", err: errors.New("telegram down")}
	ok := &recordingSender{name: "email"}
	hub := &recordingSender{name: "ws_hub"}
	s := newService(failing, ok, hub)

	s.Critical("BTCUSDT", "restore_tp", errors.New("order rejected"))
	waitSent(t, s)

	for _, r := range []*recordingSender{failing, ok, hub} {
		got := r.received()
		if len(got) != 1 {
			t.Fatalf("%s received %d notifications, want 1", r.name, len(got))
		}
		n := got[0]
		if n.Type != models.NotificationCritical || n.Severity != models.SeverityCritical {
			t.Errorf("%s got type=%s severity=%s", r.name, n.Type, n.Severity)
		}
		if !strings.Contains(n.Message, "restore_tp") || !strings.Contains(n.Message, "order rejected") {
			t.Errorf("%s message = %q", r.name, n.Message)
		}
		if n.Symbol != "BTCUSDT" {
			t.Errorf("%s symbol = %q", r.name, n.Symbol)
		}
	}
}

type panickingSender struct{}

func (panickingSender) Name() string { return "broken" }

func (panickingSender) Send(ctx context.Context, n *models.Notification) error {
	panic("nil template")
}

func TestService_SenderPanicIsContained(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	zl := zap.New(core)
	s := NewService([]Sender{panickingSender{}}, Config{SendTimeout: time.Second}, &utils.Logger{Logger: zl})
	ok := &recordingSender{name: "email"}
	s.senders = append(s.senders, ok)

	s.Critical("BTCUSDT", "force_close", errors.New("margin"))
	waitSent(t, s)

	if len(ok.received()) != 1 {
		t.Errorf("healthy channel received %d notifications, want 1", len(ok.received()))
	}
	panics := logs.FilterMessage("notification sender panic").All()
	if len(panics) != 1 {
		t.Fatalf("panic log entries = %d, want 1", len(panics))
	}
	if ctx := panics[0].ContextMap(); ctx["sender"] != "broken" || ctx["panic"] != "nil template" {
		t.Errorf("panic log context = %v", ctx)
	}
}

func TestService_FillsTimestampAndSeverity(t *testing.T) {
	r := &recordingSender{name: "rec"}
	s := newService(r)

	s.SLTriggered(shortPosition())
	waitSent(t, s)

	got := r.received()
	if len(got) != 1 {
		t.Fatalf("received %d notifications, want 1", len(got))
	}
	if got[0].Severity != models.SeverityWarn {
		t.Errorf("severity = %s, want warn", got[0].Severity)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestService_Messages(t *testing.T) {
	pos := shortPosition()
	tests := []struct {
		name     string
		send     func(s *Service)
		wantType string
		contains string
	}{
		{"entry submitted", func(s *Service) { s.EntrySubmitted(pos) }, models.NotificationEntrySubmitted, "100.5"},
		{"protection", func(s *Service) { s.ProtectionPlaced(pos) }, models.NotificationProtectionPlaced, "TP 67 (33%)"},
		{"tp adjusted", func(s *Service) { s.TPAdjusted(pos, 33, 21) }, models.NotificationTPAdjusted, "33% -> 21%"},
		{"replaced", func(s *Service) { s.Replaced(pos, "sl") }, models.NotificationReplaced, "Stop-loss order"},
		{"duplicates", func(s *Service) { s.DuplicatesSwept("ETHUSDT", 2) }, models.NotificationDuplicates, "Canceled 2 duplicate"},
		{"recovered", func(s *Service) {
			p := pos
			p.TPOrderID, p.SLOrderID = 1, 2
			s.Recovered(p)
		}, models.NotificationRecovered, "(protected)"},
		{"summary", func(s *Service) {
			s.DailySummary(models.DailySummary{Date: time.Date(2026, 4, 9, 0, 0, 0, 0, time.UTC), Balance: 1000, RealizedPnl: -12.5})
		}, models.NotificationDailySummary, "2026-04-09"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recordingSender{name: "rec"}
			s := newService(r)
			tt.send(s)
			waitSent(t, s)

			got := r.received()
			if len(got) != 1 {
				t.Fatalf("received %d notifications, want 1", len(got))
			}
			if got[0].Type != tt.wantType {
				t.Errorf("type = %s, want %s", got[0].Type, tt.wantType)
			}
			if !strings.Contains(got[0].Message, tt.contains) {
				t.Errorf("message %q does not contain %q", got[0].Message, tt.contains)
			}
		})
	}
}

func TestService_NoSenders(t *testing.T) {
	s := newService()
	s.Critical("BTCUSDT", "close", nil)
	waitSent(t, s)
}

// ============ Telegram ============

func TestTelegramSender_Send(t *testing.T) {
	var gotPath string
	var payload struct {
		ChatID    string `json:"chat_id"`
		Text      string `json:"text"`
		ParseMode string `json:"parse_mode"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		json.Unmarshal(b, &payload)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegramSender("123:abc", "-100500")
	tg.baseURL = srv.URL

	n := &models.Notification{
		Type:     models.NotificationCritical,
		Severity: models.SeverityCritical,
		Symbol:   "BTCUSDT",
		Message:  "close failed: <margin>",
	}
	if err := tg.Send(context.Background(), n); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if gotPath != "/bot123:abc/sendMessage" {
		t.Errorf("path = %s", gotPath)
	}
	if payload.ChatID != "-100500" || payload.ParseMode != "HTML" {
		t.Errorf("payload = %+v", payload)
	}
	want := "<b>[CRITICAL] critical BTCUSDT</b>\nclose failed: &lt;margin&gt;"
	if payload.Text != want {
		t.Errorf("text = %q, want %q", payload.Text, want)
	}
}

func TestTelegramSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	tg := NewTelegramSender("t", "c")
	tg.baseURL = srv.URL

	err := tg.Send(context.Background(), &models.Notification{Type: models.NotificationEntryFilled, Message: "x"})
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("Send() error = %v, want status error", err)
	}
}

// ============ Email ============

func TestEmailSender_Send(t *testing.T) {
	e := NewEmailSender(EmailConfig{Host: "smtp.example.com", From: "bot@example.com", To: []string{"ops@example.com"}})

	var gotAddr string
	var gotMsg []byte
	e.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotMsg = msg
		return nil
	}

	n := &models.Notification{
		Type:      models.NotificationCritical,
		Severity:  models.SeverityCritical,
		Symbol:    "ETHUSDT",
		Message:   "manual action required",
		Timestamp: time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC),
	}
	if err := e.Send(context.Background(), n); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotAddr != "smtp.example.com:587" {
		t.Errorf("addr = %s", gotAddr)
	}
	msg := string(gotMsg)
	if !strings.Contains(msg, "Subject: [surgetrader] [CRITICAL] critical ETHUSDT") {
		t.Errorf("unexpected subject in %q", msg)
	}
	if !strings.Contains(msg, "manual action required") {
		t.Errorf("body missing message: %q", msg)
	}
}

func TestEmailSender_NoRecipients(t *testing.T) {
	e := NewEmailSender(EmailConfig{Host: "smtp.example.com"})
	if err := e.Send(context.Background(), &models.Notification{}); err == nil {
		t.Fatal("expected error without recipients")
	}
}

func TestWithMinSeverity(t *testing.T) {
	r := &recordingSender{name: "email"}
	s := WithMinSeverity(r, models.SeverityCritical)

	s.Send(context.Background(), &models.Notification{Severity: models.SeverityWarn})
	s.Send(context.Background(), &models.Notification{Severity: models.SeverityCritical})

	if got := len(r.received()); got != 1 {
		t.Fatalf("delivered %d, want 1", got)
	}
	if s.Name() != "email" {
		t.Errorf("Name() = %s", s.Name())
	}
}

type fakeHub struct{ got []*models.Notification }

func (f *fakeHub) BroadcastNotification(n *models.Notification) { f.got = append(f.got, n) }

func TestHubSender(t *testing.T) {
	h := &fakeHub{}
	if err := NewHubSender(h).Send(context.Background(), &models.Notification{Type: "X"}); err != nil {
		t.Fatal(err)
	}
	if len(h.got) != 1 {
		t.Fatalf("broadcast %d, want 1", len(h.got))
	}
}
