package resilience

import (
	"context"
	"errors"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-engine/internal/config"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Multiplier: 2}
}

func TestDo_Attempts(t *testing.T) {
	refused := &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}

	tests := []struct {
		name      string
		failFor   int // calls that fail before success; -1 never succeeds
		err       error
		attempts  int
		wantCalls int
		wantErr   bool
	}{
		{"first try", 0, nil, 3, 1, false},
		{"connection refused then up", 2, refused, 3, 3, false},
		{"transient exhausts", -1, NewTransientError(errors.New("db starting"), 503), 3, 3, true},
		{"permanent stops at once", -1, errors.New("password authentication failed"), 3, 1, true},
		{"single attempt", -1, refused, 1, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), fastRetry(tt.attempts), func(_ context.Context) error {
				calls++
				if tt.failFor < 0 || calls <= tt.failFor {
					return tt.err
				}
				return nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDo_ContextCancelledStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 10, InitialBackoff: 20 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}

	calls := 0
	err := Do(ctx, cfg, func(_ context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return NewTransientError(errors.New("fail"), 500)
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_ShouldRetryAndOnRetry(t *testing.T) {
	cfg := fastRetry(4)
	cfg.ShouldRetry = func(err error) bool { return err.Error() == "locked" }
	var retried []int
	cfg.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	calls := 0
	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("locked")
		}
		return errors.New("corrupt")
	})
	require.EqualError(t, err, "corrupt")
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDoVal(t *testing.T) {
	calls := 0
	v, err := DoVal(context.Background(), fastRetry(3), func(_ context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewTransientError(errors.New("busy"), 429)
		}
		return "pool", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "pool", v)

	v, err = DoVal(context.Background(), fastRetry(2), func(_ context.Context) (string, error) {
		return "partial", errors.New("bad dsn")
	})
	assert.Error(t, err)
	assert.Empty(t, v, "zero value on failure")
}

func TestComputeBackoff(t *testing.T) {
	cfg := applyDefaults(RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2})

	want := []time.Duration{100, 200, 400, 800, 1000, 1000}
	for attempt, ms := range want {
		assert.Equal(t, ms*time.Millisecond, computeBackoff(attempt, cfg), "attempt %d", attempt)
	}

	cfg.JitterFraction = 0.5
	for range 50 {
		d := computeBackoff(0, cfg)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.RetryConfig{MaxAttempts: 7, InitialBackoffMs: 100, MaxBackoffMs: 2000, Multiplier: 3, JitterFraction: 0})
	assert.Equal(t, 7, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 2*time.Second, cfg.MaxBackoff)
	assert.InDelta(t, 3, cfg.Multiplier, 1e-9)
	assert.Zero(t, cfg.JitterFraction)

	def := FromConfig(config.RetryConfig{JitterFraction: -1})
	assert.Equal(t, DefaultRetryConfig().MaxAttempts, def.MaxAttempts)
	assert.InDelta(t, DefaultRetryConfig().JitterFraction, def.JitterFraction, 1e-9, "negative jitter keeps default")
}

func TestRetryLogger(t *testing.T) {
	RetryLogger("store connect")(1, errors.New("refused"))
}
