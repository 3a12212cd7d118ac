package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := New(context.Background(), 2, 4, time.Minute)
	var ran atomic.Int32
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		p.Submit(func(ctx context.Context) error {
			if ran.Add(1) == 5 {
				close(done)
			}
			return nil
		})
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for tasks to run")
	}
	require.NoError(t, p.Stop())
}

func TestPoolStopPropagatesTaskError(t *testing.T) {
	p := New(context.Background(), 1, 1, time.Minute)
	boom := errBoom
	p.Submit(func(ctx context.Context) error { return boom })
	// Give the one worker a moment to pick up the task before stopping.
	time.Sleep(50 * time.Millisecond)
	err := p.Stop()
	require.ErrorIs(t, err, boom)
}

func TestPoolGrowsBeyondMinUnderLoad(t *testing.T) {
	p := New(context.Background(), 1, 3, time.Minute)
	block := make(chan struct{})
	for i := 0; i < 3; i++ {
		p.Submit(func(ctx context.Context) error {
			<-block
			return nil
		})
	}
	require.Eventually(t, func() bool { return p.Active() > 1 }, time.Second, time.Millisecond)
	close(block)
	require.NoError(t, p.Stop())
}

var errBoom = errors.New("boom")
