package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/livefn/livefn/pkg/bootstrap"
	"github.com/livefn/livefn/pkg/bridge"
	"github.com/livefn/livefn/pkg/cdk"
	"github.com/livefn/livefn/pkg/function"
	"github.com/livefn/livefn/pkg/invocation"
	"github.com/livefn/livefn/pkg/logger"
	"github.com/livefn/livefn/pkg/syscode"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a goroutine safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testSession struct {
	*Session
	starter *echoStarter
	logs    *syncBuffer
	appDir  string
}

// newAppDir returns an app with one echo function whose source lives in
// src/api.
func newAppDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src", "api"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "stacks"), 0o755))
	writeFunctions(t, dir, function.Descriptor{
		ID:      "api",
		Runtime: "echo",
		SrcPath: "src/api",
		Handler: "index.handler",
	})
	return dir
}

func startSession(t *testing.T, opts Options) testSession {
	t.Helper()
	if opts.AppDir == "" {
		opts.AppDir = newAppDir(t)
	}
	logs := &syncBuffer{}
	starter := &echoStarter{}
	opts.Starter = starter
	opts.Handlers = echoHandlers()
	opts.Port = 0
	opts.Debounce = 20 * time.Millisecond
	opts.Logger = logger.New(
		logger.WithLoggerWriter(logs),
		logger.WithHandler(logger.TextHandler),
		logger.WithLoggerLevel(logger.LevelTrace),
	)
	if opts.Stdin == nil {
		opts.Stdin = strings.NewReader("")
	}

	s := New(opts)
	require.NoError(t, s.Pre(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		require.NoError(t, s.Stop(context.Background()))
	})

	return testSession{Session: s, starter: starter, logs: logs, appDir: opts.AppDir}
}

func request(id, fn string) invocation.Request {
	return invocation.Request{
		FunctionID: fn,
		Event:      json.RawMessage(`{"path":"/"}`),
		Context:    invocation.Context{AwsRequestID: id},
		Deadline:   time.Now().Add(5 * time.Second),
	}
}

func TestHandleRequest(t *testing.T) {
	s := startSession(t, Options{})

	res := s.handleRequest(context.Background(), request("req-1", "api"))
	require.True(t, res.IsSuccess(), res.ErrorMessage)
	require.JSONEq(t, `{"echo":{"path":"/"}}`, string(res.Payload))
	require.Contains(t, s.logs.String(), `req-1 RESPONSE {\"echo\":{\"path\":\"/\"}}`)

	res = s.handleRequest(context.Background(), request("req-2", "missing"))
	require.False(t, res.IsSuccess())
	require.Equal(t, invocation.KindNotFound, res.Kind)
	require.Equal(t, "function not found", res.ErrorMessage)
}

func TestRequestsThroughSocket(t *testing.T) {
	results := make(chan bridge.Message, 2)
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.CloseNow()
		ctx := r.Context()

		// client.register
		if _, _, err := ws.Read(ctx); err != nil {
			return
		}
		for _, fn := range []string{"missing", "api"} {
			byt, _ := bridge.JSONCodec{}.Marshal(bridge.Message{
				Type:          bridge.TypeRequest,
				CorrelationID: "corr-" + fn,
				FunctionID:    fn,
				Event:         json.RawMessage(`{"n":1}`),
				Context:       &invocation.Context{AwsRequestID: "aws-" + fn},
				TimeoutMs:     5000,
			})
			if err := ws.Write(ctx, websocket.MessageText, byt); err != nil {
				return
			}
		}
		for i := 0; i < 2; i++ {
			_, data, err := ws.Read(ctx)
			if err != nil {
				return
			}
			var m bridge.Message
			_ = bridge.JSONCodec{}.Unmarshal(data, &m)
			results <- m
		}
		_, _, _ = ws.Read(ctx)
	}))
	defer stub.Close()

	startSession(t, Options{Endpoint: "ws" + strings.TrimPrefix(stub.URL, "http")})

	got := map[string]invocation.Result{}
	for i := 0; i < 2; i++ {
		select {
		case m := <-results:
			require.Equal(t, bridge.TypeResult, m.Type)
			got[m.CorrelationID] = *m.Outcome
		case <-time.After(5 * time.Second):
			require.FailNow(t, "no result")
		}
	}

	require.Equal(t, invocation.KindNotFound, got["corr-missing"].Kind)
	require.Equal(t, "function not found", got["corr-missing"].ErrorMessage)
	require.True(t, got["corr-api"].IsSuccess())
	require.JSONEq(t, `{"echo":{"n":1}}`, string(got["corr-api"].Payload))
}

func TestSourceChangeDrainsFunction(t *testing.T) {
	s := startSession(t, Options{})

	require.True(t, s.handleRequest(context.Background(), request("r1", "api")).IsSuccess())
	require.EqualValues(t, 1, s.starter.starts.Load())

	// unrelated files do not drain
	require.NoError(t, os.WriteFile(filepath.Join(s.appDir, "README.md"), []byte("docs"), 0o644))
	time.Sleep(200 * time.Millisecond)
	require.EqualValues(t, 0, s.starter.kills.Load())

	require.NoError(t, os.WriteFile(filepath.Join(s.appDir, "src", "api", "index.ts"), []byte("export {}"), 0o644))
	require.Eventually(t, func() bool { return s.starter.kills.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.True(t, s.handleRequest(context.Background(), request("r2", "api")).IsSuccess())
	require.EqualValues(t, 2, s.starter.starts.Load())
}

func TestInfraChangeRunsPipeline(t *testing.T) {
	tk := newFakeToolkit(t)
	s := startSession(t, Options{AppToolkit: tk})
	require.EqualValues(t, 1, tk.deploys.Load(), "initial app deploy")

	require.NoError(t, os.WriteFile(filepath.Join(s.appDir, "src", "api", "index.ts"), []byte("export {}"), 0o644))
	time.Sleep(200 * time.Millisecond)
	require.EqualValues(t, 0, tk.builds.Load())

	tk.template.Store(`{"Resources":{"Table":{"Type":"AWS::DynamoDB::Table"}}}`)
	require.NoError(t, os.WriteFile(filepath.Join(s.appDir, "stacks", "index.ts"), []byte("new Stack()"), 0o644))
	require.Eventually(t, func() bool { return s.pipeline.Phase().String() == "deployable" }, 5*time.Second, 10*time.Millisecond)
	require.EqualValues(t, 1, tk.builds.Load())
	require.Contains(t, s.logs.String(), "Press ENTER to deploy")
}

func TestDeployOnEnter(t *testing.T) {
	tk := newFakeToolkit(t)
	stdin, enter := io.Pipe()
	defer enter.Close()

	s := startSession(t, Options{AppToolkit: tk, Stdin: stdin})

	tk.template.Store(`{"Resources":{"Queue":{}}}`)
	require.NoError(t, os.WriteFile(filepath.Join(s.appDir, "stacks", "index.ts"), []byte("new Stack()"), 0o644))
	require.Eventually(t, func() bool { return s.pipeline.Phase().String() == "deployable" }, 5*time.Second, 10*time.Millisecond)

	// the deploy ships a second function
	writeFunctions(t, s.appDir,
		function.Descriptor{ID: "api", Runtime: "echo", SrcPath: "src/api", Handler: "index.handler"},
		function.Descriptor{ID: "worker", Runtime: "echo", SrcPath: "src/worker", Handler: "index.handler"},
	)
	_, err := enter.Write([]byte("\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return tk.deploys.Load() == 2 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := s.opts.Functions.Get("worker")
		return ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestReadEnterReturnsOnCancel(t *testing.T) {
	stdin, enter := io.Pipe()
	defer enter.Close()
	s := &Session{opts: Options{Stdin: stdin}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.readEnter(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("readEnter did not return after cancel")
	}

	// closing stdin releases the blocked reader
	require.NoError(t, s.closeStdin())
	_, err := enter.Write([]byte("\n"))
	require.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestMetricsEndpoint(t *testing.T) {
	s := startSession(t, Options{UDP: true, UDPAddr: "127.0.0.1:0"})
	require.True(t, s.handleRequest(context.Background(), request("r1", "api")).IsSuccess())

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `livefn_invocations_total{function="api",kind="",status="success"} 1`)
	require.Contains(t, string(body), "livefn_datagram_peers 0")
}

func TestSocketRegistersDatagramPeers(t *testing.T) {
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer peer.Close()

	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.CloseNow()
		ctx := r.Context()
		if _, _, err := ws.Read(ctx); err != nil {
			return
		}
		byt, _ := bridge.JSONCodec{}.Marshal(bridge.Message{
			Type: bridge.TypeRegister,
			Peer: &bridge.PeerInfo{ID: "stub-1", Host: "127.0.0.1", Port: peer.LocalAddr().(*net.UDPAddr).Port},
		})
		_ = ws.Write(ctx, websocket.MessageText, byt)
		_, _, _ = ws.Read(ctx)
	}))
	defer stub.Close()

	s := startSession(t, Options{
		Endpoint: "ws" + strings.TrimPrefix(stub.URL, "http"),
		UDP:      true,
		UDPAddr:  "127.0.0.1:0",
	})

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, 64*1024)
	n, _, err := peer.ReadFromUDP(buf)
	require.NoError(t, err)

	codec, err := bridge.NewCBORCodec()
	require.NoError(t, err)
	var m bridge.Message
	require.NoError(t, codec.Unmarshal(buf[:n], &m))
	require.Equal(t, bridge.TypePing, m.Type)
	require.Equal(t, 1, s.datagram.PeerCount())
}

func TestPreFailsOnDebugStack(t *testing.T) {
	tk := newFakeToolkit(t)
	tk.results = []cdk.StackResult{{Name: "dev-app-debug-stack", Status: cdk.StackDeployed}}

	s := New(Options{
		AppDir:       newAppDir(t),
		Name:         "app",
		Stage:        "dev",
		DebugToolkit: tk,
		Handlers:     echoHandlers(),
	})
	err := s.Pre(context.Background())
	require.ErrorIs(t, err, bootstrap.ErrMissingEndpoint)
	require.Equal(t, syscode.CodeDebugStackNoOutput, syscode.CodeOf(err))
	require.Nil(t, s.listener)
}

func TestPreFailsOnAppDeploy(t *testing.T) {
	tk := newFakeToolkit(t)
	tk.err = errors.New("synth exploded")

	s := New(Options{AppDir: newAppDir(t), AppToolkit: tk, Handlers: echoHandlers()})
	err := s.Pre(context.Background())
	require.ErrorIs(t, err, bootstrap.ErrAppFailed)
	require.ErrorContains(t, err, "synth exploded")
}

func TestInfraDir(t *testing.T) {
	o := Options{AppDir: "/app"}
	o.defaults()
	require.Equal(t, filepath.Join("/app", "stacks"), o.InfraDir())

	o.Main = "lib/app.ts"
	require.Equal(t, filepath.Join("/app", "lib"), o.InfraDir())
}
