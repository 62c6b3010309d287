package runtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/livefn/livefn/pkg/invocation"
	"github.com/oklog/ulid/v2"
)

// call is a single queued invocation. It resolves exactly once.
type call struct {
	// id is the request id the process sees in runtime API paths.
	id  string
	ctx context.Context
	req invocation.Request

	// delivered is set once a process has taken the call.
	delivered atomic.Bool
	// abandoned is set when the caller stopped waiting.
	abandoned atomic.Bool

	once   sync.Once
	done   chan struct{}
	result invocation.Result
}

func newCall(ctx context.Context, req invocation.Request) *call {
	id := req.Context.AwsRequestID
	if id == "" {
		id = ulid.Make().String()
		req.Context.AwsRequestID = id
	}
	return &call{
		id:   id,
		ctx:  ctx,
		req:  req,
		done: make(chan struct{}),
	}
}

// resolve sets the result. It returns false if the call was already
// resolved.
func (c *call) resolve(r invocation.Result) bool {
	resolved := false
	c.once.Do(func() {
		c.result = r
		resolved = true
		close(c.done)
	})
	return resolved
}

func (c *call) settled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
