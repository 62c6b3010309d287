package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/livefn/livefn/pkg/function"
	"github.com/livefn/livefn/pkg/handler"
	"github.com/livefn/livefn/pkg/invocation"
	"github.com/stretchr/testify/require"
)

// behavior scripts a fake process.
type behavior struct {
	delay   time.Duration
	crash   bool
	initErr string
	fail    string
}

// fakeStarter starts in-memory processes that poll the runtime API over
// HTTP, just like a real bootstrap would.
type fakeStarter struct {
	mu        sync.Mutex
	behaviors map[string]behavior
	specs     []Spec
	events    []string
	starts    atomic.Int32
	kills     atomic.Int32
}

func newFakeStarter() *fakeStarter {
	return &fakeStarter{behaviors: map[string]behavior{}}
}

func (f *fakeStarter) set(fnID string, b behavior) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.behaviors[fnID] = b
}

func (f *fakeStarter) record(e string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeStarter) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.events...)
}

func (f *fakeStarter) lastSpec() Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.specs[len(f.specs)-1]
}

func (f *fakeStarter) Start(ctx context.Context, spec Spec) (Process, error) {
	f.mu.Lock()
	b := f.behaviors[spec.FunctionID]
	f.specs = append(f.specs, spec)
	f.mu.Unlock()
	f.starts.Add(1)

	api := ""
	for _, kv := range spec.Env {
		if v, ok := strings.CutPrefix(kv, "AWS_LAMBDA_RUNTIME_API="); ok {
			api = "http://" + v + "/2018-06-01/runtime"
		}
	}

	pctx, cancel := context.WithCancel(context.Background())
	p := &fakeProcess{done: make(chan struct{}), cancel: cancel, starter: f}
	go p.run(pctx, api, spec.InstanceID, b)
	return p, nil
}

type fakeProcess struct {
	done    chan struct{}
	once    sync.Once
	cancel  context.CancelFunc
	err     error
	tail    string
	starter *fakeStarter
}

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.err = err
		p.cancel()
		close(p.done)
	})
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) Err() error            { return p.err }
func (p *fakeProcess) Tail() string          { return p.tail }

func (p *fakeProcess) Kill() error {
	p.starter.kills.Add(1)
	p.exit(fmt.Errorf("signal: killed"))
	return nil
}

func (p *fakeProcess) run(ctx context.Context, api, instanceID string, b behavior) {
	if b.initErr != "" {
		post(ctx, api+"/init/error", fmt.Sprintf(`{"errorMessage":%q,"errorType":"ImportError"}`, b.initErr))
		<-ctx.Done()
		return
	}

	for {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, api+"/invocation/next", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return
		}
		event, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			<-ctx.Done()
			return
		}
		id := resp.Header.Get(headerRequestID)
		p.starter.record("start:" + string(event))

		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return
		}

		switch {
		case b.crash:
			p.tail = "segmentation fault"
			p.exit(fmt.Errorf("exit status 139"))
			return
		case b.fail != "":
			post(ctx, api+"/invocation/"+id+"/error", fmt.Sprintf(`{"errorMessage":%q,"errorType":"TypeError","stackTrace":["at handler"]}`, b.fail))
		default:
			body, _ := json.Marshal(map[string]any{"event": json.RawMessage(event), "instance": instanceID})
			post(ctx, api+"/invocation/"+id+"/response", string(body))
		}
		p.starter.record("end:" + string(event))
	}
}

func post(ctx context.Context, url, body string) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(body))
	resp, err := http.DefaultClient.Do(req)
	if err == nil {
		resp.Body.Close()
	}
}

type testServer struct {
	*Server
	starter *fakeStarter
}

func newTestServer(t *testing.T) testServer {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	handlers := handler.NewRegistry()
	handlers.Register("fake", func(o handler.Opts) handler.Instructions {
		return handler.Instructions{
			Run: handler.Command{Command: "fake", Env: map[string]string{"RUN_ENV": "run"}},
		}
	})

	starter := newFakeStarter()
	srv := New(Opts{
		Handlers: handlers,
		Starter:  starter,
		APIAddr:  l.Addr().String(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx, l, nil) }()
	t.Cleanup(func() {
		_ = srv.Close()
		cancel()
	})

	return testServer{Server: srv, starter: starter}
}

func fn(id string) function.Descriptor {
	return function.Descriptor{ID: id, Runtime: "fake1.x", Handler: "index.handler", Root: "/app", SrcPath: "src"}
}

func request(fnID, event string, timeout time.Duration) invocation.Request {
	return invocation.Request{
		FunctionID:    fnID,
		CorrelationID: event,
		Event:         json.RawMessage(event),
		Deadline:      time.Now().Add(timeout),
	}
}

func payload(t *testing.T, r invocation.Result) (event string, instance string) {
	require.True(t, r.IsSuccess(), "expected success, got %+v", r)
	var out struct {
		Event    json.RawMessage `json:"event"`
		Instance string          `json:"instance"`
	}
	require.NoError(t, json.Unmarshal(r.Payload, &out))
	return string(out.Event), out.Instance
}

func handlerCommand(cmd string, args ...string) handler.Command {
	return handler.Command{Command: cmd, Args: args}
}
