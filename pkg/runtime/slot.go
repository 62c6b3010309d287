package runtime

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/livefn/livefn/pkg/function"
	"github.com/livefn/livefn/pkg/handler"
	"github.com/livefn/livefn/pkg/invocation"
	"github.com/livefn/livefn/pkg/logger"
	"github.com/oklog/ulid/v2"
)

// slot owns the process of one function. Its loop goroutine is the only
// code that starts, supervises or stops the process, and it runs one call
// at a time.
type slot struct {
	s          *Server
	functionID string
	log        logger.Logger

	mu     sync.Mutex
	fn     function.Descriptor
	queue  []*call
	drains []chan struct{}
	closed bool
	wake   chan struct{}

	// owned by the loop goroutine
	proc Process
	inst *instance
}

func newSlot(s *Server, fn function.Descriptor) *slot {
	return &slot{
		s:          s,
		functionID: fn.ID,
		fn:         fn,
		log:        s.opts.Logger.With("function_id", fn.ID),
		wake:       make(chan struct{}, 1),
	}
}

func (sl *slot) signal() {
	select {
	case sl.wake <- struct{}{}:
	default:
	}
}

func (sl *slot) enqueue(fn function.Descriptor, c *call) {
	sl.mu.Lock()
	if sl.closed {
		sl.mu.Unlock()
		c.resolve(invocation.Failure(invocation.KindCanceled, ErrClosed.Error()))
		return
	}
	sl.fn = fn
	sl.queue = append(sl.queue, c)
	sl.mu.Unlock()
	sl.signal()
}

// drain queues a drain request. The returned channel is closed once the
// process has been stopped. ok is false if the slot is already closed.
func (sl *slot) drain(fn function.Descriptor) (done <-chan struct{}, ok bool) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.closed {
		return nil, false
	}
	d := make(chan struct{})
	sl.fn = fn
	sl.drains = append(sl.drains, d)
	sl.signal()
	return d, true
}

func (sl *slot) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			sl.shutdown()
			return
		case <-sl.wake:
		}
		for ctx.Err() == nil && sl.step(ctx) {
		}
	}
}

// step handles one drain batch or one call. It returns false when there is
// nothing left to do. Drains go first so a stale process never serves a
// queued call.
func (sl *slot) step(ctx context.Context) bool {
	sl.mu.Lock()
	if len(sl.drains) > 0 {
		drains := sl.drains
		sl.drains = nil
		sl.mu.Unlock()

		sl.stop("drained")
		for _, d := range drains {
			close(d)
		}
		return true
	}
	if len(sl.queue) == 0 {
		sl.mu.Unlock()
		return false
	}
	c := sl.queue[0]
	sl.queue[0] = nil
	sl.queue = sl.queue[1:]
	fn := sl.fn
	sl.mu.Unlock()

	sl.run(ctx, fn, c)
	return true
}

func (sl *slot) run(ctx context.Context, fn function.Descriptor, c *call) {
	if c.settled() {
		// the caller gave up while the call was queued
		return
	}

	// the deadline covers queueing, building and starting the process
	var timeout <-chan time.Time
	if !c.req.Deadline.IsZero() {
		wait := c.req.Deadline.Sub(sl.s.opts.Clock.Now())
		if wait <= 0 {
			c.resolve(timedOut(c.req))
			return
		}
		t := sl.s.opts.Clock.NewTimer(wait)
		defer t.Stop()
		timeout = t.Chan()
	}

	if res, ok := sl.ensure(ctx, fn, c, timeout); !ok {
		c.resolve(res)
		return
	}
	proc, inst := sl.proc, sl.inst

	inst.deliver <- c

	select {
	case <-c.done:
		if c.abandoned.Load() {
			sl.stop("invocation canceled")
		}
	case <-inst.failed:
		c.resolve(inst.initResult)
		sl.stop("init error")
	case <-proc.Done():
		msg := "process exited unexpectedly"
		if err := proc.Err(); err != nil {
			msg = fmt.Sprintf("process exited unexpectedly: %s", err)
		}
		if tail := proc.Tail(); tail != "" {
			msg += "\n" + tail
		}
		c.resolve(invocation.Failure(invocation.KindCrash, msg))
		sl.stop("crashed")
	case <-timeout:
		if c.resolve(timedOut(c.req)) {
			sl.stop("timed out")
		}
	case <-ctx.Done():
		c.resolve(invocation.Failure(invocation.KindCanceled, ErrClosed.Error()))
	}
}

// ensure starts a process if the slot has none. On failure it returns the
// result to resolve the call with.
func (sl *slot) ensure(ctx context.Context, fn function.Descriptor, c *call, timeout <-chan time.Time) (invocation.Result, bool) {
	req := c.req
	if sl.proc != nil {
		select {
		case <-sl.proc.Done():
			sl.stop("exited")
		default:
			return invocation.Result{}, true
		}
	}

	def, err := sl.s.opts.Handlers.Resolve(fn.Runtime)
	if err != nil {
		return invocation.Failure(invocation.KindInit, err.Error()), false
	}
	opts := handler.OptsFrom(fn)
	instructions := def(opts)

	if instructions.Build != nil {
		if res, ok := sl.build(ctx, instructions.Build, c, timeout); !ok {
			return res, false
		}
	}

	inst := newInstance(fn.ID, ulid.Make().String())
	sl.s.register(inst)

	name := req.Context.FunctionName
	if name == "" {
		name = fn.ID
	}
	env := handler.Environ(
		sl.s.opts.StripEnv,
		req.Env,
		instructions.Run.Env,
		map[string]string{
			"AWS_LAMBDA_RUNTIME_API":   RuntimeAPI(sl.s.addr(), fn.ID, inst.id),
			"AWS_LAMBDA_FUNCTION_NAME": name,
			"LAMBDA_TASK_ROOT":         opts.SrcPath,
			"IS_LOCAL":                 "true",
		},
	)

	proc, err := sl.s.opts.Starter.Start(ctx, Spec{
		FunctionID: fn.ID,
		InstanceID: inst.id,
		Command:    instructions.Run,
		Env:        env,
	})
	if err != nil {
		sl.s.unregister(inst)
		return invocation.Failuref(invocation.KindInit, "error starting process: %s", err), false
	}

	sl.proc, sl.inst = proc, inst
	sl.s.opts.Metrics.ProcessStarted(fn.ID)
	sl.log.Debug("started process", "instance_id", inst.id, "command", instructions.Run.Command)
	return invocation.Result{}, true
}

// build runs a build step until it finishes or the call's deadline passes.
// A build that outlives its call is canceled and left to unwind on its own.
func (sl *slot) build(ctx context.Context, build func(context.Context) error, c *call, timeout <-chan time.Time) (invocation.Result, bool) {
	sl.log.Debug("building function")

	bctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- build(bctx) }()

	select {
	case err := <-errc:
		if err != nil {
			return invocation.Failuref(invocation.KindInit, "error building function: %s", err), false
		}
		return invocation.Result{}, true
	case <-timeout:
		sl.log.Debug("deadline passed while building")
		return timedOut(c.req), false
	case <-c.done:
		return invocation.Result{}, false
	case <-ctx.Done():
		return invocation.Failure(invocation.KindCanceled, ErrClosed.Error()), false
	}
}

func timedOut(req invocation.Request) invocation.Result {
	return invocation.Failuref(
		invocation.KindTimeout,
		"Function timed out, deadline was %s",
		req.Deadline.Format(time.RFC3339Nano),
	)
}

// stop kills the process, waits for it to exit and clears the slot.
func (sl *slot) stop(reason string) {
	if sl.proc == nil {
		return
	}
	sl.inst.stop()
	sl.s.unregister(sl.inst)

	if err := sl.proc.Kill(); err != nil {
		sl.log.Warn("error killing process", "error", err)
	}
	<-sl.proc.Done()

	sl.log.Debug("stopped process", "instance_id", sl.inst.id, "reason", reason)
	sl.s.opts.Metrics.ProcessStopped(sl.functionID)
	sl.proc, sl.inst = nil, nil
}

func (sl *slot) shutdown() {
	sl.mu.Lock()
	sl.closed = true
	queue, drains := sl.queue, sl.drains
	sl.queue, sl.drains = nil, nil
	sl.mu.Unlock()

	sl.stop("shutdown")
	for _, c := range queue {
		c.resolve(invocation.Failure(invocation.KindCanceled, ErrClosed.Error()))
	}
	for _, d := range drains {
		close(d)
	}
}

// RuntimeAPI returns the AWS_LAMBDA_RUNTIME_API value for an instance.
func RuntimeAPI(addr, functionID, instanceID string) string {
	return strings.Join([]string{addr, url.PathEscape(functionID), instanceID}, "/")
}
