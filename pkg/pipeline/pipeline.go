// Package pipeline coalesces infrastructure source changes into
// build, synth and deploy cycles.
//
// The pipeline is a finite state machine over Phase. A single goroutine
// (Run) owns the phase and applies the transition table; the external calls
// run asynchronously and report their completion back into the loop, so at
// most one call is ever in flight. FileChange may be called from any
// goroutine: it sets the dirty flag and nudges the loop. The flag is cleared
// on every entry to PhaseBuilding, before the build starts.
package pipeline

import (
	"context"
	"errors"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/livefn/livefn/pkg/cdk"
	"github.com/livefn/livefn/pkg/logger"
	"github.com/livefn/livefn/pkg/metrics"
	"github.com/livefn/livefn/pkg/util/broadcast"
)

// ErrStackFailed is reported when a deploy completes with a failed stack.
var ErrStackFailed = errors.New("one or more stacks failed to deploy")

type Builder interface {
	Build(ctx context.Context) error
}

type Synthesizer interface {
	Synth(ctx context.Context) (cdk.Manifest, error)
}

type Deployer interface {
	Deploy(ctx context.Context) ([]cdk.StackResult, error)
}

// Transition describes one phase change.
type Transition struct {
	From Phase `json:"from"`
	To   Phase `json:"to"`
	// Err is the failure of the external call which completed, if any.
	Err error `json:"-"`
	// Results holds the stack results when leaving PhaseDeploying.
	Results []cdk.StackResult `json:"results,omitempty"`
}

type Opts struct {
	Builder     Builder
	Synthesizer Synthesizer
	Deployer    Deployer

	// Checksums are the templates of the last successful deploy.
	Checksums Checksums
	// AutoDeploy deploys as soon as changed definitions are synthesized.
	AutoDeploy bool

	Logger  logger.Logger
	Metrics *metrics.Metrics
}

type Pipeline struct {
	opts Opts

	phase atomic.Int32
	dirty atomic.Bool

	changes  chan struct{}
	deploys  chan struct{}
	outcomes chan outcome

	transitions broadcast.Topic[Transition]

	mu        sync.Mutex
	checksums Checksums
	// pending holds the synthesized checksums awaiting deploy.
	pending Checksums

	wg sync.WaitGroup
}

type outcome struct {
	phase    Phase
	err      error
	manifest cdk.Manifest
	results  []cdk.StackResult
}

func New(opts Opts) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = logger.VoidLogger()
	}
	checksums := Checksums{}
	maps.Copy(checksums, opts.Checksums)

	return &Pipeline{
		opts:      opts,
		changes:   make(chan struct{}, 1),
		deploys:   make(chan struct{}, 1),
		outcomes:  make(chan outcome, 1),
		checksums: checksums,
	}
}

// FileChange records that the infrastructure source changed.
func (p *Pipeline) FileChange() {
	p.dirty.Store(true)
	select {
	case p.changes <- struct{}{}:
	default:
	}
}

// TriggerDeploy deploys the synthesized changes. It has no effect unless
// the pipeline is deployable when the loop handles it.
func (p *Pipeline) TriggerDeploy() {
	select {
	case p.deploys <- struct{}{}:
	default:
	}
}

func (p *Pipeline) Phase() Phase {
	return Phase(p.phase.Load())
}

func (p *Pipeline) Dirty() bool {
	return p.dirty.Load()
}

// Checksums returns the checksums of the last successful deploy.
func (p *Pipeline) Checksums() Checksums {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.checksums)
}

// OnTransition subscribes to phase changes. Subscribers run on the loop
// goroutine and must not block.
func (p *Pipeline) OnTransition(fn func(Transition)) (unsubscribe func()) {
	return p.transitions.Subscribe(fn)
}

// Run processes events until ctx is cancelled. An in-progress call is
// waited for before Run returns; deploys are never cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-p.changes:
			if p.Phase().acceptsChange() && p.dirty.Load() {
				p.enter(ctx, Transition{To: PhaseBuilding})
			}

		case <-p.deploys:
			if p.Phase() != PhaseDeployable {
				p.opts.Logger.Debug("ignoring deploy trigger", "phase", p.Phase())
				continue
			}
			p.enter(ctx, Transition{To: PhaseDeploying})

		case o := <-p.outcomes:
			p.complete(ctx, o)
		}
	}
}

func (p *Pipeline) complete(ctx context.Context, o outcome) {
	l := p.opts.Logger.With("phase", o.phase)
	if o.err != nil {
		l.Warn("pipeline step failed", "error", o.err)
	}

	switch o.phase {
	case PhaseBuilding:
		switch {
		case p.dirty.Load():
			p.enter(ctx, Transition{To: PhaseBuilding, Err: o.err})
		case o.err != nil:
			p.enter(ctx, Transition{To: PhaseIdle, Err: o.err})
		default:
			p.enter(ctx, Transition{To: PhaseSynthing})
		}

	case PhaseSynthing:
		if p.dirty.Load() {
			p.enter(ctx, Transition{To: PhaseBuilding, Err: o.err})
			return
		}
		if o.err != nil {
			p.enter(ctx, Transition{To: PhaseIdle, Err: o.err})
			return
		}
		sums, err := Compute(o.manifest)
		if err != nil {
			l.Warn("error computing template checksums", "error", err)
			p.enter(ctx, Transition{To: PhaseIdle, Err: err})
			return
		}

		p.mu.Lock()
		changed := p.checksums.Changed(sums)
		if changed {
			p.pending = sums
		}
		p.mu.Unlock()

		if !changed {
			l.Info("stack definitions unchanged")
			p.enter(ctx, Transition{To: PhaseIdle})
			return
		}
		p.enter(ctx, Transition{To: PhaseDeployable})
		if p.opts.AutoDeploy {
			p.enter(ctx, Transition{To: PhaseDeploying})
		}

	case PhaseDeploying:
		err := o.err
		if err == nil && cdk.Failed(o.results) {
			err = ErrStackFailed
		}
		if err == nil {
			p.mu.Lock()
			p.checksums = p.pending
			p.pending = nil
			p.mu.Unlock()
		} else if o.err == nil {
			l.Warn("pipeline step failed", "error", err)
		}

		next := PhaseIdle
		if p.dirty.Load() {
			next = PhaseBuilding
		}
		p.enter(ctx, Transition{To: next, Err: err, Results: o.results})
	}
}

// enter moves to t.To and starts the call the phase is named for.
func (p *Pipeline) enter(ctx context.Context, t Transition) {
	if t.To == PhaseBuilding {
		p.dirty.Store(false)
	}

	t.From = p.Phase()
	p.phase.Store(int32(t.To))

	p.opts.Metrics.PipelineTransition(t.From.String(), t.To.String())
	p.opts.Logger.Debug("pipeline transition", "from", t.From, "to", t.To)
	if t.To == PhaseDeployable {
		p.opts.Logger.Notice("stack definitions changed, ready to deploy")
	}
	p.transitions.Publish(t)

	switch t.To {
	case PhaseBuilding, PhaseSynthing, PhaseDeploying:
		p.launch(ctx, t.To)
	}
}

func (p *Pipeline) launch(ctx context.Context, phase Phase) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		o := outcome{phase: phase}
		switch phase {
		case PhaseBuilding:
			o.err = p.opts.Builder.Build(ctx)
		case PhaseSynthing:
			o.manifest, o.err = p.opts.Synthesizer.Synth(ctx)
		case PhaseDeploying:
			o.results, o.err = p.opts.Deployer.Deploy(context.WithoutCancel(ctx))
		}
		p.outcomes <- o
	}()
}
