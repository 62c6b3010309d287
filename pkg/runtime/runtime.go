// Package runtime is the local invocation server. It keeps one process slot
// per function, serialises invocations through each slot, enforces
// deadlines and replaces processes when their code changes.
//
// Processes talk to the server over the Lambda Runtime API, so the same
// bootstrap code that runs in the cloud can poll for work locally.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/livefn/livefn/pkg/function"
	"github.com/livefn/livefn/pkg/handler"
	"github.com/livefn/livefn/pkg/invocation"
	"github.com/livefn/livefn/pkg/logger"
	"github.com/livefn/livefn/pkg/metrics"
)

var (
	ErrUnknownInstance = errors.New("unknown runtime instance")
	ErrUnknownRequest  = errors.New("unknown invocation request")
	ErrClosed          = errors.New("runtime server closed")
)

// DefaultStripEnv lists ambient variables never forwarded to processes, so
// handlers use the deployed function's identity instead of the developer's.
var DefaultStripEnv = []string{"AWS_PROFILE"}

type Opts struct {
	Handlers *handler.Registry
	Starter  Starter
	Clock    clockwork.Clock
	Logger   logger.Logger
	Metrics  *metrics.Metrics
	// StripEnv defaults to DefaultStripEnv.
	StripEnv []string
	// APIAddr is the host:port processes use to reach the runtime API. It
	// is set by Serve when empty.
	APIAddr string
}

type Server struct {
	opts   Opts
	router chi.Router

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	apiAddr   string
	slots     map[string]*slot
	instances map[string]*instance
	closed    bool
}

func New(opts Opts) *Server {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logger.VoidLogger()
	}
	if opts.StripEnv == nil {
		opts.StripEnv = DefaultStripEnv
	}
	if opts.Starter == nil {
		opts.Starter = ExecStarter{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		apiAddr:   opts.APIAddr,
		slots:     map[string]*slot{},
		instances: map[string]*instance{},
	}
	s.router = s.routes()
	return s
}

// Handler returns the runtime API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve serves the runtime API on l until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, l net.Listener, h http.Handler) error {
	if h == nil {
		h = s.router
	}

	s.mu.Lock()
	if s.apiAddr == "" {
		s.apiAddr = l.Addr().String()
	}
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("error serving runtime api: %w", err)
	}
	return nil
}

// Invoke runs req against fn's process slot. It never returns an error:
// every failure is expressed as a failure result.
func (s *Server) Invoke(ctx context.Context, fn function.Descriptor, req invocation.Request) invocation.Result {
	started := s.opts.Clock.Now()
	c := newCall(ctx, req)

	sl, err := s.slot(fn)
	if err != nil {
		return invocation.Failure(invocation.KindCanceled, err.Error())
	}
	sl.enqueue(fn, c)

	select {
	case <-c.done:
	case <-ctx.Done():
		c.abandoned.Store(true)
		c.resolve(invocation.Failuref(invocation.KindCanceled, "invocation canceled: %s", ctx.Err()))
	}

	s.opts.Metrics.RecordInvocation(fn.ID, string(c.result.Status), string(c.result.Kind), s.opts.Clock.Since(started))
	return c.result
}

// Drain retires fn's process. An idle process is stopped immediately; a busy
// one once its current invocation settles. Queued invocations then run on a
// fresh process. Drain is idempotent and only fails if ctx is done first.
func (s *Server) Drain(ctx context.Context, fn function.Descriptor) error {
	s.mu.Lock()
	sl, ok := s.slots[fn.ID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	done, ok := sl.drain(fn)
	if !ok {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops every slot and its process. Queued invocations resolve as
// canceled.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Server) slot(fn function.Descriptor) (*slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if sl, ok := s.slots[fn.ID]; ok {
		return sl, nil
	}

	sl := newSlot(s, fn)
	s.slots[fn.ID] = sl
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sl.loop(s.ctx)
	}()
	return sl, nil
}

func (s *Server) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiAddr
}

func (s *Server) register(i *instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[i.id] = i
}

func (s *Server) unregister(i *instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, i.id)
}

func (s *Server) instance(id string) (*instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.instances[id]
	return i, ok
}
