package upload

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_RunsTasks(t *testing.T) {
	e := NewExecutor(2, 4)

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, e.Go(func(context.Context) error {
			ran.Add(1)
			return nil
		}))
	}
	require.NoError(t, e.Shutdown(context.Background()))

	assert.Equal(t, int32(5), ran.Load())
	stats := e.Stats()
	assert.Equal(t, int64(5), stats.Completed)
	assert.Equal(t, int64(0), stats.Active)
	assert.Equal(t, int64(0), stats.Queued)
}

func TestExecutor_BackpressureAndRelease(t *testing.T) {
	e := NewExecutor(1, 1)
	block := make(chan struct{})

	require.NoError(t, e.Go(func(context.Context) error { <-block; return nil }))
	require.NoError(t, e.Go(func(context.Context) error { return nil }))
	assert.ErrorIs(t, e.Go(func(context.Context) error { return nil }), ErrBusy)

	slot, err := e.Reserve()
	assert.ErrorIs(t, err, ErrBusy)
	assert.Nil(t, slot)

	close(block)
	assert.Eventually(t, func() bool {
		slot, err := e.Reserve()
		if err != nil {
			return false
		}
		slot.Release()
		return true
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, e.Shutdown(context.Background()))
}

func TestExecutor_CountsFailuresAndPanics(t *testing.T) {
	e := NewExecutor(1, 2)

	require.NoError(t, e.Go(func(context.Context) error { return errors.New("nope") }))
	require.NoError(t, e.Go(func(context.Context) error { panic("kaboom") }))
	require.NoError(t, e.Go(func(context.Context) error { return nil }))
	require.NoError(t, e.Shutdown(context.Background()))

	stats := e.Stats()
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestExecutor_ClosedRejects(t *testing.T) {
	e := NewExecutor(1, 1)
	slot, err := e.Reserve()
	require.NoError(t, err)

	require.NoError(t, e.Shutdown(context.Background()))

	assert.ErrorIs(t, slot.Submit(func(context.Context) error { return nil }), ErrClosed)
	_, err = e.Reserve()
	assert.ErrorIs(t, err, ErrClosed)
}
