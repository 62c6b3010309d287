package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/livefn/livefn/pkg/invocation"
	"github.com/livefn/livefn/pkg/logger"
	"github.com/livefn/livefn/pkg/util"
	"github.com/livefn/livefn/pkg/util/broadcast"
	"github.com/oklog/ulid/v2"
)

const socketReadLimit = 4 * 1024 * 1024

type SocketOpts struct {
	// URL is the stub's websocket endpoint.
	URL    string
	Blobs  BlobStore
	Logger logger.Logger
	// Reconnect controls the backoff between reconnect attempts. Attempts
	// are unlimited unless MaxAttempts is set.
	Reconnect util.RetryConf
	// Now is used to stamp request deadlines. Defaults to time.Now.
	Now func() time.Time
}

// Socket is the websocket transport. A dropped connection is re-dialled with
// backoff; a superseded session is not.
type Socket struct {
	opts     SocketOpts
	codec    JSONCodec
	offload  offloader
	requests broadcast.Handler[invocation.Request, invocation.Result]
	peers    broadcast.Topic[PeerInfo]

	// ctx is the session context handed to request handlers. It outlives
	// individual connections.
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func NewSocket(opts SocketOpts) *Socket {
	if opts.Logger == nil {
		opts.Logger = logger.VoidLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Reconnect.InitialBackoff == 0 {
		opts.Reconnect = util.NewRetryConf(
			util.WithRetryConfMaxAttempts(0),
			util.WithRetryConfInitialBackoff(250*time.Millisecond),
			util.WithRetryConfMaxBackoff(10*time.Second),
		)
	}
	return &Socket{
		opts:    opts,
		offload: offloader{store: opts.Blobs, limit: SocketInlineLimit},
	}
}

func (s *Socket) OnRequest(fn RequestFunc) {
	s.requests.Register(fn)
}

// OnRegister subscribes to peer registrations relayed by the stub.
func (s *Socket) OnRegister(fn func(PeerInfo)) (unsubscribe func()) {
	return s.peers.Subscribe(fn)
}

// Start dials the stub. The first dial is not retried so a bad endpoint
// fails fast.
func (s *Socket) Start(ctx context.Context) (Endpoint, error) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	c, err := s.dial(s.ctx)
	if err != nil {
		s.cancel()
		close(s.done)
		s.err = err
		return Endpoint{}, err
	}

	go func() {
		defer close(s.done)
		s.err = s.run(c)
	}()

	return Endpoint{Kind: "socket", Addr: s.opts.URL}, nil
}

func (s *Socket) Wait() error {
	if s.done == nil {
		return ErrNotStarted
	}
	<-s.done
	return s.err
}

func (s *Socket) Close() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	return nil
}

func (s *Socket) run(c *connection) error {
	l := s.opts.Logger
	for {
		err := s.serve(c)
		if errors.Is(err, ErrSuperseded) {
			return err
		}
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}

		l.Warn("debug session connection dropped, reconnecting", "error", err)
		c, err = util.WithRetry(logger.WithStdlib(s.ctx, l), "socket.reconnect", s.dial, s.opts.Reconnect)
		if err != nil {
			return fmt.Errorf("error reconnecting debug session: %w", err)
		}
	}
}

func (s *Socket) dial(ctx context.Context) (*connection, error) {
	ws, _, err := websocket.Dial(ctx, s.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("error connecting to %s: %w", s.opts.URL, err)
	}
	ws.SetReadLimit(socketReadLimit)

	c := &connection{ws: ws, id: ulid.Make().String()}
	if err := c.write(ctx, s.codec, Message{Type: TypeClientRegister}); err != nil {
		_ = ws.Close(websocket.StatusInternalError, "register failed")
		return nil, fmt.Errorf("error registering client: %w", err)
	}
	return c, nil
}

// serve reads from c until it fails or the session is superseded.
func (s *Socket) serve(c *connection) error {
	l := s.opts.Logger.With("conn_id", c.id)
	defer c.close()

	for {
		_, data, err := c.ws.Read(s.ctx)
		if err != nil {
			return err
		}

		var m Message
		if err := s.codec.Unmarshal(data, &m); err != nil {
			l.Warn("ignoring invalid message", "error", err)
			continue
		}

		switch m.Type {
		case TypeSessionStarted:
			l.Info("Debug session started", "connection_id", m.ConnectionID)
		case TypeSessionSuperseded:
			l.Warn("A new debug session was started elsewhere, closing this one")
			_ = c.ws.Close(websocket.StatusNormalClosure, "superseded")
			return ErrSuperseded
		case TypeDeliveryFailed:
			l.Error("Failed to deliver result, peer unreachable", "correlation_id", m.CorrelationID)
		case TypeRegister:
			s.peers.Publish(*m.Peer)
		case TypeRequest:
			go s.handle(c, m)
		default:
			l.Debug("ignoring message", "type", m.Type)
		}
	}
}

// handle runs a request and writes the result on the connection it arrived
// on. If that connection has gone away the result is dropped.
func (s *Socket) handle(c *connection, m Message) {
	l := s.opts.Logger.With("correlation_id", m.CorrelationID, "function_id", m.FunctionID)
	received := s.opts.Now()

	var res invocation.Result
	if err := s.offload.loadEvent(s.ctx, &m); err != nil {
		res = invocation.Failuref(invocation.KindTransport, "%s", err)
	} else {
		res = dispatch(s.ctx, &s.requests, m.Request(received))
	}

	out := s.offload.result(s.ctx, m.CorrelationID, res)
	if c.closed.Load() {
		l.Warn("discarding result, connection closed before it was ready")
		return
	}
	if err := c.write(s.ctx, s.codec, out); err != nil {
		l.Warn("discarding result, could not write to connection", "error", err)
	}
}

func dispatch(ctx context.Context, h *broadcast.Handler[invocation.Request, invocation.Result], req invocation.Request) invocation.Result {
	res, err := h.Call(ctx, req)
	if err != nil {
		return invocation.Failuref(invocation.KindTransport, "%s", err)
	}
	return res
}

// connection is one dialled websocket. Writes are serialised.
type connection struct {
	ws     *websocket.Conn
	id     string
	mu     sync.Mutex
	closed atomic.Bool
}

func (c *connection) write(ctx context.Context, codec Codec, m Message) error {
	byt, err := codec.Marshal(m)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, byt)
}

func (c *connection) close() {
	if c.closed.Swap(true) {
		return
	}
	_ = c.ws.CloseNow()
}
