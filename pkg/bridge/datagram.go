package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/livefn/livefn/pkg/invocation"
	"github.com/livefn/livefn/pkg/logger"
	"github.com/livefn/livefn/pkg/syscode"
	"github.com/livefn/livefn/pkg/util/broadcast"
	"github.com/oklog/ulid/v2"
)

const maxDatagram = 64 * 1024

type DatagramOpts struct {
	// Addr is the local address to bind, eg. "0.0.0.0:0".
	Addr string
	// ID identifies this machine in pings. Defaults to a new ULID.
	ID string
	// PingInterval is how often registered peers are pinged.
	PingInterval time.Duration
	// PeerTTL is how long a peer may stay silent before it is evicted.
	PeerTTL time.Duration
	Blobs   BlobStore
	Clock   clockwork.Clock
	Logger  logger.Logger
}

// Datagram is the UDP transport. Requests are only accepted from, and
// results only sent to, registered peers.
type Datagram struct {
	opts     DatagramOpts
	codec    *CBORCodec
	offload  offloader
	peers    *peerSet
	requests broadcast.Handler[invocation.Request, invocation.Result]

	conn   *net.UDPConn
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
	err    error
}

func NewDatagram(opts DatagramOpts) (*Datagram, error) {
	if opts.Addr == "" {
		opts.Addr = "0.0.0.0:0"
	}
	if opts.ID == "" {
		opts.ID = ulid.Make().String()
	}
	if opts.PingInterval == 0 {
		opts.PingInterval = 5 * time.Second
	}
	if opts.PeerTTL == 0 {
		opts.PeerTTL = 3 * opts.PingInterval
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logger.VoidLogger()
	}
	codec, err := NewCBORCodec()
	if err != nil {
		return nil, err
	}
	return &Datagram{
		opts:    opts,
		codec:   codec,
		offload: offloader{store: opts.Blobs, limit: DatagramInlineLimit},
		peers:   newPeerSet(),
	}, nil
}

func (d *Datagram) OnRequest(fn RequestFunc) {
	d.requests.Register(fn)
}

// Start binds the local socket. A bind failure is returned as is and is
// fatal to the session.
func (d *Datagram) Start(ctx context.Context) (Endpoint, error) {
	addr, err := net.ResolveUDPAddr("udp", d.opts.Addr)
	if err != nil {
		return Endpoint{}, syscode.New(syscode.CodePortUnavailable, "invalid datagram address %q: %s", d.opts.Addr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return Endpoint{}, syscode.New(syscode.CodePortUnavailable, "could not bind %s: %s", d.opts.Addr, err)
	}

	d.conn = conn
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		defer d.cancel()
		d.err = d.read()
	}()
	go func() {
		defer d.wg.Done()
		d.keepalive()
	}()
	go func() {
		<-d.ctx.Done()
		_ = d.conn.Close()
		d.wg.Wait()
		close(d.done)
	}()

	return Endpoint{Kind: "datagram", Addr: conn.LocalAddr().String()}, nil
}

// LocalAddr returns the bound address.
func (d *Datagram) LocalAddr() netip.AddrPort {
	if d.conn == nil {
		return netip.AddrPort{}
	}
	return d.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func (d *Datagram) Wait() error {
	if d.done == nil {
		return ErrNotStarted
	}
	<-d.done
	return d.err
}

func (d *Datagram) Close() error {
	if d.cancel == nil {
		return nil
	}
	d.cancel()
	<-d.done
	return nil
}

// AddPeer registers a peer announced by a register message.
func (d *Datagram) AddPeer(p PeerInfo) error {
	addr, err := resolvePeer(p)
	if err != nil {
		return err
	}
	d.peers.add(p.ID, addr, d.opts.Clock.Now())
	d.opts.Logger.Debug("registered peer", "peer_id", p.ID, "addr", addr.String())
	return nil
}

// Peers returns the registered peers.
func (d *Datagram) Peers() []Peer {
	return d.peers.list()
}

// PeerCount returns the number of registered peers.
func (d *Datagram) PeerCount() int {
	return d.peers.len()
}

// Ping sends a liveness probe to every registered peer.
func (d *Datagram) Ping() {
	msg := Message{Type: TypePing, Peer: &PeerInfo{ID: d.opts.ID}}
	for _, p := range d.peers.list() {
		if err := d.send(p.Addr, msg); err != nil {
			d.opts.Logger.Debug("error pinging peer", "peer_id", p.ID, "error", err)
		}
	}
}

func (d *Datagram) read() error {
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := d.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if d.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return d.ctx.Err()
			}
			return fmt.Errorf("error reading datagram: %w", err)
		}
		from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())

		var m Message
		if err := d.codec.Unmarshal(buf[:n], &m); err != nil {
			d.opts.Logger.Debug("ignoring invalid datagram", "from", from.String(), "error", err)
			continue
		}
		d.receive(from, m)
	}
}

func (d *Datagram) receive(from netip.AddrPort, m Message) {
	l := d.opts.Logger
	now := d.opts.Clock.Now()

	switch m.Type {
	case TypeRegister:
		p := *m.Peer
		if p.Host == "" {
			p.Host = from.Addr().Unmap().String()
			p.Port = int(from.Port())
		}
		if err := d.AddPeer(p); err != nil {
			l.Warn("ignoring peer registration", "peer_id", p.ID, "error", err)
		}
	case TypePing:
		d.peers.touch(from, now)
	case TypeRequest:
		peer, ok := d.peers.touch(from, now)
		if !ok {
			l.Warn("dropping request from unregistered peer", "from", from.String(), "correlation_id", m.CorrelationID)
			return
		}
		go d.handle(peer, m, now)
	default:
		l.Debug("ignoring datagram", "type", m.Type, "from", from.String())
	}
}

func (d *Datagram) handle(peer Peer, m Message, received time.Time) {
	l := d.opts.Logger.With("correlation_id", m.CorrelationID, "peer_id", peer.ID)

	var res invocation.Result
	if err := d.offload.loadEvent(d.ctx, &m); err != nil {
		res = invocation.Failuref(invocation.KindTransport, "%s", err)
	} else {
		res = dispatch(d.ctx, &d.requests, m.Request(received))
	}

	if _, ok := d.peers.get(peer.ID); !ok {
		l.Warn("discarding result, peer is no longer registered")
		return
	}
	if err := d.send(peer.Addr, d.offload.result(d.ctx, m.CorrelationID, res)); err != nil {
		l.Warn("discarding result, could not send to peer", "error", err)
	}
}

func (d *Datagram) keepalive() {
	t := d.opts.Clock.NewTicker(d.opts.PingInterval)
	defer t.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-t.Chan():
			for _, p := range d.peers.evict(d.opts.Clock.Now().Add(-d.opts.PeerTTL)) {
				d.opts.Logger.Info("evicted stale peer", "peer_id", p.ID, "addr", p.Addr.String())
			}
			d.Ping()
		}
	}
}

func (d *Datagram) send(to netip.AddrPort, m Message) error {
	byt, err := d.codec.Marshal(m)
	if err != nil {
		return err
	}
	if len(byt) > maxDatagram {
		return syscode.New(syscode.CodeOutputTooLarge, "datagram of %d bytes exceeds %d", len(byt), maxDatagram)
	}
	_, err = d.conn.WriteToUDPAddrPort(byt, to)
	return err
}

func resolvePeer(p PeerInfo) (netip.AddrPort, error) {
	if p.ID == "" {
		return netip.AddrPort{}, errors.New("peer id is required")
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(p.Host, strconv.Itoa(p.Port)))
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid peer address: %w", err)
	}
	ap := addr.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}
