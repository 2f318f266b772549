package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 3, RecoveryTimeout: time.Minute, HalfOpenAttempts: 2})
	failing := errors.New("boom")

	for i := 0; i < 2; i++ {
		require.ErrorIs(t, b.Call(func() error { return failing }), failing)
		require.Equal(t, Closed, b.State())
	}
	// third failure trips the breaker; Call still returns the underlying error
	err := b.Call(func() error { return failing })
	require.Equal(t, failing, err)
	require.Equal(t, Open, b.State())

	// now calls are rejected outright
	called := false
	err = b.Call(func() error { called = true; return nil })
	require.False(t, called)
	var openErr *ErrOpen
	require.ErrorAs(t, err, &openErr)
}

func TestBreakerHalfOpenRecoversAfterTimeout(t *testing.T) {
	b := New(Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond, HalfOpenAttempts: 2})
	require.Error(t, b.Call(func() error { return errors.New("boom") }))
	require.Equal(t, Open, b.State())

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, b.Call(func() error { return nil }))
	require.Equal(t, HalfOpen, b.State())
	require.NoError(t, b.Call(func() error { return nil }))
	require.Equal(t, Closed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New(Config{FailureThreshold: 1, RecoveryTimeout: time.Millisecond, HalfOpenAttempts: 3})
	require.Error(t, b.Call(func() error { return errors.New("boom") }))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, b.Allow())

	err := b.Call(func() error { return errors.New("still failing") })
	require.Error(t, err)
	require.Equal(t, Open, b.State())
}

func TestDefaultConfigMatchesSpec(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 5, cfg.FailureThreshold)
	require.Equal(t, 30*time.Second, cfg.RecoveryTimeout)
	require.Equal(t, 3, cfg.HalfOpenAttempts)
}
