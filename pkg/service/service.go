// Package service runs a long-lived session: Pre, then Run until the
// context ends, a signal arrives or Run fails, then Stop.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/livefn/livefn/pkg/logger"
)

var (
	defaultTimeout = 30 * time.Second

	ErrPreTimeout  = fmt.Errorf("service did not pre-up within the given timeout")
	ErrStopTimeout = fmt.Errorf("service did not clean up within the given timeout")
)

// Service represents a basic interface for a long-running service. Pre
// prepares everything Run needs and may fail startup. Run blocks until its
// context is cancelled. Stop releases whatever Pre and Run acquired.
type Service interface {
	// Name returns the service name
	Name() string
	// Pre initializes the service, returning an error if the service is not
	// capable of running.
	Pre(ctx context.Context) error
	// Run runs the service as a blocking operation, until the given context
	// is cancelled.
	Run(ctx context.Context) error
	// Stop is called to gracefully shut down the service.
	Stop(ctx context.Context) error
}

// StartTimeouter lets a Service define the timeout period when running Pre
type StartTimeouter interface {
	Service
	StartTimeout() time.Duration
}

func startTimeout(s Service) time.Duration {
	if t, ok := s.(StartTimeouter); ok {
		return t.StartTimeout()
	}
	return defaultTimeout
}

// StopTimeouter lets a Service define the timeout period when running Stop
type StopTimeouter interface {
	Service
	StopTimeout() time.Duration
}

func stopTimeout(s Service) time.Duration {
	if t, ok := s.(StopTimeouter); ok {
		return t.StopTimeout()
	}
	return defaultTimeout
}

// Start runs a Service, invoking Pre() to bootstrap the Service, then Run()
// to run the Service.
//
// It blocks until an interrupt/term signal, the context ends or Run
// returns. Stop is always called once Pre succeeded, with a context that
// is not cancelled with ctx.
func Start(ctx context.Context, s Service) (err error) {
	l := logger.StdlibLogger(ctx).With("caller", s.Name())
	ctx = logger.WithStdlib(ctx, l)

	preCtx, cancelPre := context.WithCancel(ctx)
	defer cancelPre()

	preCh := make(chan error, 1)
	go func() {
		preCh <- guard(func() error { return s.Pre(preCtx) })
	}()
	select {
	case <-time.After(startTimeout(s)):
		return ErrPreTimeout
	case err = <-preCh:
		if err != nil {
			return err
		}
	}

	runCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	l.Info("service starting")
	runErr := make(chan error, 1)
	go func() {
		runErr <- guard(func() error { return s.Run(runCtx) })
	}()

	select {
	case <-runCtx.Done():
		l.Info("service stopping", "cause", context.Cause(runCtx))
		// Run observes the same context and returns shortly.
		if err = <-runErr; errors.Is(err, runCtx.Err()) {
			err = nil
		}
	case err = <-runErr:
		if err != nil {
			l.Error("service errored", "error", err)
		} else {
			l.Warn("service run stopped")
		}
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	stopCh := make(chan error, 1)
	go func() {
		l.Info("service cleaning up")
		stopCh <- guard(func() error { return s.Stop(context.WithoutCancel(ctx)) })
	}()
	select {
	case <-time.After(stopTimeout(s)):
		l.Error("service did not clean up within timeout")
		err = multierror.Append(err, ErrStopTimeout)
	case stopErr := <-stopCh:
		if stopErr != nil && !errors.Is(stopErr, context.Canceled) {
			err = multierror.Append(err, stopErr)
		}
	}

	return err
}

// guard converts a panic in fn into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("service panicked: %v", r)
		}
	}()
	return fn()
}
