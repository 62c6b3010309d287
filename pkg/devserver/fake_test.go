package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/livefn/livefn/pkg/cdk"
	"github.com/livefn/livefn/pkg/function"
	"github.com/livefn/livefn/pkg/handler"
	"github.com/livefn/livefn/pkg/runtime"
	"github.com/stretchr/testify/require"
)

// echoStarter starts in-memory processes that poll the runtime API and
// answer every event with {"echo": event}.
type echoStarter struct {
	starts atomic.Int32
	kills  atomic.Int32
}

func (e *echoStarter) Start(ctx context.Context, spec runtime.Spec) (runtime.Process, error) {
	e.starts.Add(1)
	api := ""
	for _, kv := range spec.Env {
		if v, ok := strings.CutPrefix(kv, "AWS_LAMBDA_RUNTIME_API="); ok {
			api = "http://" + v + "/2018-06-01/runtime"
		}
	}

	pctx, cancel := context.WithCancel(context.Background())
	p := &echoProcess{done: make(chan struct{}), cancel: cancel, starter: e}
	go p.run(pctx, api)
	return p, nil
}

type echoProcess struct {
	done    chan struct{}
	once    sync.Once
	cancel  context.CancelFunc
	starter *echoStarter
}

func (p *echoProcess) Done() <-chan struct{} { return p.done }
func (p *echoProcess) Err() error            { return fmt.Errorf("signal: killed") }
func (p *echoProcess) Tail() string          { return "" }

func (p *echoProcess) Kill() error {
	p.once.Do(func() {
		p.starter.kills.Add(1)
		p.cancel()
		close(p.done)
	})
	return nil
}

func (p *echoProcess) run(ctx context.Context, api string) {
	for {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, api+"/invocation/next", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return
		}
		event, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return
		}
		id := resp.Header.Get("Lambda-Runtime-Aws-Request-Id")

		body, _ := json.Marshal(map[string]json.RawMessage{"echo": event})
		post, _ := http.NewRequestWithContext(ctx, http.MethodPost, api+"/invocation/"+id+"/response", bytes.NewReader(body))
		if resp, err := http.DefaultClient.Do(post); err == nil {
			resp.Body.Close()
		}
	}
}

// echoHandlers registers the "echo" runtime, watching .ts files below each
// function's source directory.
func echoHandlers() *handler.Registry {
	r := handler.NewRegistry()
	r.Register("echo", func(o handler.Opts) handler.Instructions {
		return handler.Instructions{
			Run:     handler.Command{Command: "echo"},
			Watcher: handler.Watcher{Include: []string{filepath.Join(o.SrcPath, "**", "*.ts")}},
		}
	})
	return r
}

// writeFunctions writes the function manifest the app build would produce.
func writeFunctions(t *testing.T, appDir string, fns ...function.Descriptor) {
	t.Helper()
	byt, err := json.Marshal(fns)
	require.NoError(t, err)
	path := filepath.Join(appDir, function.ManifestPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, byt, 0o644))
}

// fakeToolkit implements AppToolkit and bootstrap.Toolkit.
type fakeToolkit struct {
	dir      string
	template atomic.Value
	results  []cdk.StackResult
	err      error

	builds  atomic.Int32
	synths  atomic.Int32
	deploys atomic.Int32
}

func newFakeToolkit(t *testing.T) *fakeToolkit {
	f := &fakeToolkit{dir: t.TempDir()}
	f.template.Store(`{"Resources":{}}`)
	return f
}

func (f *fakeToolkit) Build(ctx context.Context) error {
	f.builds.Add(1)
	return nil
}

func (f *fakeToolkit) Synth(ctx context.Context) (cdk.Manifest, error) {
	f.synths.Add(1)
	if f.err != nil {
		return cdk.Manifest{}, f.err
	}
	tpl := f.template.Load().(string)
	if err := os.WriteFile(filepath.Join(f.dir, "app.template.json"), []byte(tpl), 0o644); err != nil {
		return cdk.Manifest{}, err
	}
	return cdk.Manifest{Dir: f.dir, Stacks: []cdk.Stack{{Name: "app", TemplateFile: "app.template.json"}}}, nil
}

func (f *fakeToolkit) Deploy(ctx context.Context) ([]cdk.StackResult, error) {
	f.deploys.Add(1)
	if f.results != nil {
		return f.results, nil
	}
	return []cdk.StackResult{{Name: "app", Status: cdk.StackDeployed}}, nil
}
