package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunNowExecutesImmediately(t *testing.T) {
	s := New(context.Background(), zerolog.Nop())
	var ran int32
	job := JobFunc{JobName: "probe", Fn: func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	}}

	require.NoError(t, s.RunNow(job))
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestScheduler_AddJobFiresOnSchedule(t *testing.T) {
	s := New(context.Background(), zerolog.Nop())
	var ran int32
	job := JobFunc{JobName: "tick", Fn: func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	}}

	require.NoError(t, s.AddJob("@every 50ms", job))
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&ran) >= 2 }, time.Second, 10*time.Millisecond)
}

func TestScheduler_AddJobRejectsInvalidSpec(t *testing.T) {
	s := New(context.Background(), zerolog.Nop())
	err := s.AddJob("not a cron spec", JobFunc{JobName: "x", Fn: func(ctx context.Context) error { return nil }})
	assert.Error(t, err)
}
