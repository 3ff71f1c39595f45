package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{ timeout bool }

func (e timeoutErr) Error() string   { return "net error" }
func (e timeoutErr) Timeout() bool   { return e.timeout }
func (e timeoutErr) Temporary() bool { return false }

var _ net.Error = timeoutErr{}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"net timeout", timeoutErr{timeout: true}, true},
		{"net non-timeout", timeoutErr{timeout: false}, false},
		{"http 429", &HTTPStatusError{StatusCode: http.StatusTooManyRequests}, true},
		{"http 502", &HTTPStatusError{StatusCode: http.StatusBadGateway}, true},
		{"http 503", &HTTPStatusError{StatusCode: http.StatusServiceUnavailable}, true},
		{"http 504", &HTTPStatusError{StatusCode: http.StatusGatewayTimeout}, true},
		{"http 400", &HTTPStatusError{StatusCode: http.StatusBadRequest}, false},
		{"http 500", &HTTPStatusError{StatusCode: http.StatusInternalServerError}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	cfg := Config{MaxAttempts: 4, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffMultiplier: 2}
	attempts := 0
	err := Do(context.Background(), cfg, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return &HTTPStatusError{StatusCode: http.StatusServiceUnavailable}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	cfg := DefaultConfig()
	attempts := 0
	permanent := errors.New("bad request")
	err := Do(context.Background(), cfg, func(context.Context) error {
		attempts++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestDoExhaustion(t *testing.T) {
	cfg := Config{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1}
	last := &HTTPStatusError{StatusCode: http.StatusBadGateway, Message: "upstream"}
	err := Do(context.Background(), cfg, func(context.Context) error { return last })

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	require.ErrorIs(t, err, last)
}

func TestDoRespectsContext(t *testing.T) {
	cfg := Config{MaxAttempts: 10, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second, BackoffMultiplier: 2}
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, cfg, func(context.Context) error {
		attempts++
		return &HTTPStatusError{StatusCode: http.StatusServiceUnavailable}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestBackoffCapped(t *testing.T) {
	cfg := Config{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond, BackoffMultiplier: 2}
	assert.Equal(t, 100*time.Millisecond, backoffFor(cfg, 1))
	assert.Equal(t, 200*time.Millisecond, backoffFor(cfg, 2))
	assert.Equal(t, 300*time.Millisecond, backoffFor(cfg, 3))
	assert.Equal(t, 300*time.Millisecond, backoffFor(cfg, 8))
}
