// Package bridge relays invocations between the cloud stub and the local
// machine. Socket keeps a websocket to the stub; Datagram exchanges UDP
// packets with registered peers.
package bridge

import (
	"context"
	"errors"

	"github.com/livefn/livefn/pkg/invocation"
)

var (
	// ErrSuperseded is returned when a newer session took over the stub.
	ErrSuperseded = errors.New("debug session superseded by another connection")
	ErrNotStarted = errors.New("bridge not started")
)

// RequestFunc handles a single invocation and always returns a result.
type RequestFunc func(ctx context.Context, req invocation.Request) invocation.Result

// Endpoint describes where a started bridge is reachable.
type Endpoint struct {
	Kind string `json:"kind"`
	Addr string `json:"addr"`
}

// Bridge is the contract shared by the socket and datagram transports.
type Bridge interface {
	// Start connects or binds and returns once the transport is ready.
	Start(ctx context.Context) (Endpoint, error)
	OnRequest(fn RequestFunc)
	// Wait blocks until the transport stops and returns why.
	Wait() error
	Close() error
}
