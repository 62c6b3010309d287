package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/livefn/livefn/pkg/cdk"
	"github.com/stretchr/testify/require"
)

// fakeToolkit implements Builder, Synthesizer and Deployer. Calls of a
// gated kind block until a value is sent on the gate.
type fakeToolkit struct {
	dir string

	mu       sync.Mutex
	template string
	results  []cdk.StackResult
	buildErr error
	synthErr error

	gates   map[string]chan error
	started chan string

	builds  atomic.Int32
	synths  atomic.Int32
	deploys atomic.Int32

	lastBuild atomic.Int64
}

func newFakeToolkit(t *testing.T, gated ...string) *fakeToolkit {
	f := &fakeToolkit{
		dir:      t.TempDir(),
		template: `{"Resources": {}}`,
		gates:    map[string]chan error{},
		started:  make(chan string, 100),
	}
	for _, kind := range gated {
		f.gates[kind] = make(chan error)
	}
	return f
}

func (f *fakeToolkit) wait(ctx context.Context, kind string) error {
	f.started <- kind
	gate, ok := f.gates[kind]
	if !ok {
		return nil
	}
	select {
	case err := <-gate:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeToolkit) Build(ctx context.Context) error {
	f.builds.Add(1)
	f.lastBuild.Store(time.Now().UnixNano())
	if err := f.wait(ctx, "build"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buildErr
}

func (f *fakeToolkit) Synth(ctx context.Context) (cdk.Manifest, error) {
	f.synths.Add(1)
	if err := f.wait(ctx, "synth"); err != nil {
		return cdk.Manifest{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.synthErr != nil {
		return cdk.Manifest{}, f.synthErr
	}
	if err := os.WriteFile(filepath.Join(f.dir, "app.template.json"), []byte(f.template), 0o644); err != nil {
		return cdk.Manifest{}, err
	}
	return cdk.Manifest{
		Dir:    f.dir,
		Stacks: []cdk.Stack{{Name: "app", TemplateFile: "app.template.json"}},
	}, nil
}

func (f *fakeToolkit) Deploy(ctx context.Context) ([]cdk.StackResult, error) {
	f.deploys.Add(1)
	if err := f.wait(ctx, "deploy"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.results != nil {
		return f.results, nil
	}
	return []cdk.StackResult{{Name: "app", Status: cdk.StackDeployed}}, nil
}

func (f *fakeToolkit) setTemplate(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.template = s
}

// awaitStart waits until a call of kind has started.
func (f *fakeToolkit) awaitStart(t *testing.T, kind string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case k := <-f.started:
			if k == kind {
				return
			}
		case <-timeout:
			require.FailNow(t, fmt.Sprintf("%s never started", kind))
		}
	}
}

type harness struct {
	p           *Pipeline
	tk          *fakeToolkit
	transitions chan Transition
	cancel      context.CancelFunc
	done        chan error
}

func newHarness(t *testing.T, opts Opts, gated ...string) *harness {
	t.Helper()
	tk := newFakeToolkit(t, gated...)
	opts.Builder = tk
	opts.Synthesizer = tk
	opts.Deployer = tk

	h := &harness{
		p:           New(opts),
		tk:          tk,
		transitions: make(chan Transition, 1000),
		done:        make(chan error, 1),
	}
	h.p.OnTransition(func(tr Transition) { h.transitions <- tr })

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.p.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		for _, gate := range tk.gates {
			close(gate)
		}
		<-h.done
	})
	return h
}

// expect requires the next transitions to move through phases, in order.
func (h *harness) expect(t *testing.T, phases ...Phase) []Transition {
	t.Helper()
	var seen []Transition
	for _, want := range phases {
		select {
		case tr := <-h.transitions:
			require.Equal(t, want, tr.To, "after %v", seen)
			seen = append(seen, tr)
		case <-time.After(5 * time.Second):
			require.FailNow(t, fmt.Sprintf("no transition to %s", want))
		}
	}
	return seen
}

func (h *harness) quiet(t *testing.T) {
	t.Helper()
	select {
	case tr := <-h.transitions:
		require.FailNow(t, fmt.Sprintf("unexpected transition %s -> %s", tr.From, tr.To))
	case <-time.After(100 * time.Millisecond):
	}
}
