package breaker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltmesh/dlm-go/pkg/fault"
)

func fastConfig() Config {
	return Config{
		Name:             "test",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		ResetTimeout:     100 * time.Millisecond,
		CallTimeout:      time.Second,
		MaxRetries:       1,
		RetryDelay:       time.Millisecond,
	}
}

func TestExecuteSuccess(t *testing.T) {
	b := New(fastConfig(), nil)
	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestOpensAfterFailureThreshold(t *testing.T) {
	b := New(fastConfig(), nil)
	fail := func(context.Context) error { return fault.New(fault.KindTransport, "down") }

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	// Next call fails immediately without invoking the op.
	var invoked atomic.Bool
	err := b.Execute(context.Background(), func(context.Context) error {
		invoked.Store(true)
		return nil
	})
	assert.Equal(t, fault.KindCircuitOpen, fault.KindOf(err))
	assert.False(t, invoked.Load())
}

func TestHalfOpenRecovery(t *testing.T) {
	b := New(fastConfig(), nil)
	fail := func(context.Context) error { return fault.New(fault.KindTransport, "down") }
	ok := func(context.Context) error { return nil }

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	require.Equal(t, gobreaker.StateOpen, b.State())

	time.Sleep(150 * time.Millisecond)

	// Two consecutive successes in half-open close the breaker.
	require.NoError(t, b.Execute(context.Background(), ok))
	require.NoError(t, b.Execute(context.Background(), ok))
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New(fastConfig(), nil)
	fail := func(context.Context) error { return fault.New(fault.KindTransport, "down") }

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	time.Sleep(150 * time.Millisecond)

	_ = b.Execute(context.Background(), fail)
	assert.Equal(t, gobreaker.StateOpen, b.State())
}

func TestRetriesWithBackoff(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 3
	cfg.FailureThreshold = 100
	b := New(cfg, nil)

	var calls atomic.Int32
	err := b.Execute(context.Background(), func(context.Context) error {
		if calls.Add(1) < 3 {
			return fault.New(fault.KindTransport, "flaky")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNonRetryableAborts(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 5
	b := New(cfg, nil)

	var calls atomic.Int32
	err := b.Execute(context.Background(), func(context.Context) error {
		calls.Add(1)
		return fault.New(fault.KindValidation, "bad command")
	})
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestCallTimeout(t *testing.T) {
	cfg := fastConfig()
	cfg.CallTimeout = 20 * time.Millisecond
	cfg.MaxRetries = 3
	b := New(cfg, nil)

	var calls atomic.Int32
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		calls.Add(1)
		<-ctx.Done()
		return ctx.Err()
	})
	assert.Equal(t, fault.KindTimeout, fault.KindOf(err))
	// Timeout aborts the retry loop.
	assert.Equal(t, int32(1), calls.Load())
}

func TestReset(t *testing.T) {
	b := New(fastConfig(), nil)
	fail := func(context.Context) error { return fault.New(fault.KindTransport, "down") }
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	require.Equal(t, gobreaker.StateOpen, b.State())

	b.Reset()
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.NoError(t, b.Execute(context.Background(), func(context.Context) error { return nil }))
}

func TestWatchdogFiresWithoutKick(t *testing.T) {
	fired := make(chan struct{}, 1)
	w := NewWatchdog(30*time.Millisecond, func() { fired <- struct{}{} })
	w.Start()
	defer w.Stop()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire")
	}
	assert.GreaterOrEqual(t, w.Timeouts(), 1)
}

func TestWatchdogKickDefersFiring(t *testing.T) {
	fired := make(chan struct{}, 1)
	w := NewWatchdog(60*time.Millisecond, func() { fired <- struct{}{} })
	w.Start()
	defer w.Stop()

	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		w.Kick()
	}

	select {
	case <-fired:
		t.Fatal("watchdog fired despite kicks")
	default:
	}
}

func TestWatchdogStop(t *testing.T) {
	var fired atomic.Bool
	w := NewWatchdog(20*time.Millisecond, func() { fired.Store(true) })
	w.Start()
	w.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.False(t, fired.Load())
	assert.False(t, w.Running())
}
