package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyRunnable struct {
	failures int32
	launches int32
}

func (r *flakyRunnable) Launch(ctx context.Context) error {
	n := atomic.AddInt32(&r.launches, 1)
	if n <= r.failures {
		return errors.New("boom")
	}
	<-ctx.Done()
	return ctx.Err()
}

func fastConfig() Config {
	return Config{
		RestartDelay:       time.Millisecond,
		MaxRestartDelay:    5 * time.Millisecond,
		MaxRestartAttempts: 3,
		ResetAttemptsAfter: time.Hour,
	}
}

func TestSupervisor_RestartsThenSettles(t *testing.T) {
	s := New(fastConfig(), nil, zerolog.Nop())
	r := &flakyRunnable{failures: 2}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := s.Run(ctx, map[string]Runnable{"balance": r})
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&r.launches), int32(3))
}

func TestSupervisor_ExceedsRestartLimit(t *testing.T) {
	s := New(fastConfig(), nil, zerolog.Nop())
	r := &flakyRunnable{failures: 1000}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := s.Run(ctx, map[string]Runnable{"price": r})
	require.Error(t, err)
	var limitErr *RestartLimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, "price", limitErr.Name)
	assert.Equal(t, 4, limitErr.Attempts) // MaxRestartAttempts=3 means the 4th attempt trips it
}

func TestSupervisor_CancelStopsCleanly(t *testing.T) {
	s := New(fastConfig(), nil, zerolog.Nop())
	r := &flakyRunnable{failures: 0}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, map[string]Runnable{"x": r}) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err) // ctx.Err() via default branch
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
