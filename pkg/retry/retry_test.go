package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// recordingSleep запоминает запрошенные паузы и не ждёт
func recordingSleep(delays *[]time.Duration) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestExchangeSchedule_SustainedFailure(t *testing.T) {
	var slept []time.Duration
	s := ExchangeSchedule()
	s.Sleep = recordingSleep(&slept)

	calls := 0
	netErr := errors.New("connection reset")
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return netErr
	}, s)

	if calls != 6 {
		t.Fatalf("expected 6 attempts, got %d", calls)
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("expected %d pauses, got %d (%v)", len(want), len(slept), slept)
	}
	var total time.Duration
	for i := range want {
		if slept[i] != want[i] {
			t.Errorf("pause %d = %v, want %v", i, slept[i], want[i])
		}
		total += slept[i]
	}
	if total != 62*time.Second {
		t.Errorf("total pause = %v, want 62s", total)
	}
	if s.Total() != 62*time.Second {
		t.Errorf("Schedule.Total() = %v, want 62s", s.Total())
	}

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *ExhaustedError, got %T (%v)", err, err)
	}
	if exhausted.Attempts != 6 {
		t.Errorf("exhausted.Attempts = %d, want 6", exhausted.Attempts)
	}
	if !errors.Is(err, netErr) {
		t.Error("exhausted error should unwrap to the last error")
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	var slept []time.Duration
	s := ExchangeSchedule()
	s.Sleep = recordingSleep(&slept)

	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("timeout")
		}
		return nil
	}, s)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if len(slept) != 2 || slept[0] != 2*time.Second || slept[1] != 4*time.Second {
		t.Errorf("unexpected pauses: %v", slept)
	}
}

func TestDo_PermanentNotRetried(t *testing.T) {
	var slept []time.Duration
	s := ExchangeSchedule()
	s.Sleep = recordingSleep(&slept)

	calls := 0
	base := errors.New("banned")
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(base)
	}, s)

	if calls != 1 {
		t.Errorf("permanent error should not be retried, got %d calls", calls)
	}
	if len(slept) != 0 {
		t.Errorf("no pauses expected, got %v", slept)
	}
	if !errors.Is(err, base) {
		t.Errorf("expected wrapped base error, got %v", err)
	}
}

// markedError ошибка с явным Retryable
type markedError struct{ retry bool }

func (e markedError) Error() string   { return "marked" }
func (e markedError) Retryable() bool { return e.retry }

func TestDo_RetryIf(t *testing.T) {
	var slept []time.Duration
	s := Schedule{Delays: []time.Duration{time.Second, time.Second, time.Second}}
	s.Sleep = recordingSleep(&slept)
	s.RetryIf = OnlyMarked

	calls := 0
	_ = Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("plain")
	}, s)
	if calls != 1 {
		t.Errorf("unmarked error should stop with OnlyMarked, got %d calls", calls)
	}

	calls = 0
	_ = Do(context.Background(), func(ctx context.Context) error {
		calls++
		return markedError{retry: true}
	}, s)
	if calls != 4 {
		t.Errorf("marked error should use all attempts, got %d calls", calls)
	}
}

func TestDo_ContextCancelledDuringPause(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := ExchangeSchedule()
	s.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	calls := 0
	last := errors.New("refused")
	err := Do(ctx, func(ctx context.Context) error {
		calls++
		return last
	}, s)

	if calls != 1 {
		t.Errorf("expected 1 attempt before cancel, got %d", calls)
	}
	if !errors.Is(err, last) {
		t.Errorf("expected last operation error, got %v", err)
	}
}

func TestDoWithResult(t *testing.T) {
	s := Schedule{Delays: []time.Duration{time.Millisecond, time.Millisecond}}
	s.Sleep = func(ctx context.Context, d time.Duration) error { return nil }

	calls := 0
	v, err := DoWithResult(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("first fails")
		}
		return 42, nil
	}, s)
	if err != nil || v != 42 {
		t.Errorf("DoWithResult = (%d, %v), want (42, nil)", v, err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("x"), true},
		{"permanent", Permanent(errors.New("x")), false},
		{"marked retryable", markedError{retry: true}, true},
		{"marked permanent", markedError{retry: false}, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestOnce(t *testing.T) {
	s := Once()
	var slept []time.Duration
	s.Sleep = recordingSleep(&slept)

	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return markedError{retry: true}
	}, s)

	if calls != 1 {
		t.Errorf("Once should make a single attempt, got %d", calls)
	}
	if len(slept) != 0 {
		t.Errorf("no pauses expected, got %v", slept)
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 1 {
		t.Errorf("expected ExhaustedError after 1 attempt, got %v", err)
	}
}
