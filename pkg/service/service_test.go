package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type mockserver struct {
	name string
	pre  func(ctx context.Context) error
	run  func(ctx context.Context) error
	stop func(ctx context.Context) error

	startTimeout time.Duration
	stopTimeout  time.Duration
}

func (m mockserver) Name() string {
	if m.name != "" {
		return m.name
	}
	return "mock"
}

func (m mockserver) Pre(ctx context.Context) error {
	if m.pre == nil {
		return nil
	}
	return m.pre(ctx)
}

func (m mockserver) Run(ctx context.Context) error {
	if m.run == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return m.run(ctx)
}

func (m mockserver) Stop(ctx context.Context) error {
	if m.stop == nil {
		return nil
	}
	return m.stop(ctx)
}

func (m mockserver) StartTimeout() time.Duration {
	if m.startTimeout != 0 {
		return m.startTimeout
	}
	return defaultTimeout
}

func (m mockserver) StopTimeout() time.Duration {
	if m.stopTimeout != 0 {
		return m.stopTimeout
	}
	return defaultTimeout
}

func TestStart(t *testing.T) {
	var stops int32
	m := mockserver{
		run:  func(ctx context.Context) error { <-time.After(500 * time.Millisecond); return nil },
		stop: func(ctx context.Context) error { atomic.AddInt32(&stops, 1); return nil },
	}
	now := time.Now()
	err := Start(context.Background(), m)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), now.Add(500*time.Millisecond), 50*time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&stops))
}

func TestContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	stopCtx := make(chan error, 1)
	m := mockserver{
		stop: func(ctx context.Context) error { stopCtx <- ctx.Err(); return nil },
	}
	require.NoError(t, Start(ctx, m))
	require.NoError(t, <-stopCtx, "stop context is not cancelled")
}

func TestSignals(t *testing.T) {
	for _, sig := range []syscall.Signal{syscall.SIGINT, syscall.SIGTERM} {
		t.Run(sig.String(), func(t *testing.T) {
			done := make(chan error, 1)
			now := time.Now()
			go func() {
				done <- Start(context.Background(), mockserver{})
			}()

			<-time.After(50 * time.Millisecond)
			require.NoError(t, syscall.Kill(syscall.Getpid(), sig))

			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(5 * time.Second):
				require.FailNow(t, "service did not stop")
			}
			require.WithinDuration(t, time.Now(), now.Add(50*time.Millisecond), 50*time.Millisecond)
		})
	}
}

func TestPreError(t *testing.T) {
	var ran int32
	m := mockserver{
		pre: func(ctx context.Context) error { return fmt.Errorf("pre error") },
		run: func(ctx context.Context) error { atomic.AddInt32(&ran, 1); return nil },
	}

	err := Start(context.Background(), m)
	require.ErrorContains(t, err, "pre error")
	require.EqualValues(t, 0, atomic.LoadInt32(&ran))
}

func TestPreTimeout(t *testing.T) {
	m := mockserver{
		pre:          func(ctx context.Context) error { <-time.After(time.Second); return nil },
		startTimeout: time.Millisecond,
	}
	err := Start(context.Background(), m)
	require.ErrorIs(t, err, ErrPreTimeout)
}

func TestRunAndStopErrorsAggregate(t *testing.T) {
	m := mockserver{
		run:  func(ctx context.Context) error { return fmt.Errorf("run error") },
		stop: func(ctx context.Context) error { return fmt.Errorf("stop error") },
	}
	err := Start(context.Background(), m)
	require.ErrorContains(t, err, "run error")
	require.ErrorContains(t, err, "stop error")
}

func TestStopTimeout(t *testing.T) {
	m := mockserver{
		run:         func(ctx context.Context) error { return nil },
		stop:        func(ctx context.Context) error { <-time.After(time.Second); return nil },
		stopTimeout: 10 * time.Millisecond,
	}
	err := Start(context.Background(), m)
	require.ErrorIs(t, err, ErrStopTimeout)
}

func TestPanicInRun(t *testing.T) {
	var stops int32
	m := mockserver{
		run:  func(ctx context.Context) error { panic("boom") },
		stop: func(ctx context.Context) error { atomic.AddInt32(&stops, 1); return nil },
	}
	err := Start(context.Background(), m)
	require.ErrorContains(t, err, "service panicked: boom")
	require.EqualValues(t, 1, atomic.LoadInt32(&stops))
}
