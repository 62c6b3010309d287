package runtime

import (
	"sync"

	"github.com/livefn/livefn/pkg/invocation"
)

// instance is the runtime API's view of one started process. Work reaches a
// process only through its own instance, so a replaced process can never
// pick up calls meant for its successor.
type instance struct {
	functionID string
	id         string

	deliver chan *call

	mu       sync.Mutex
	inflight map[string]*call

	failed     chan struct{}
	failOnce   sync.Once
	initResult invocation.Result

	stopped  chan struct{}
	stopOnce sync.Once
}

func newInstance(functionID, id string) *instance {
	return &instance{
		functionID: functionID,
		id:         id,
		deliver:    make(chan *call, 1),
		inflight:   map[string]*call{},
		failed:     make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// take hands a queued call to the process.
func (i *instance) take(c *call) {
	i.mu.Lock()
	defer i.mu.Unlock()
	c.delivered.Store(true)
	i.inflight[c.id] = c
}

// complete removes and returns the in-flight call with the given id.
func (i *instance) complete(id string) (*call, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	c, ok := i.inflight[id]
	if ok {
		delete(i.inflight, id)
	}
	return c, ok
}

// fail records an init error reported by the process.
func (i *instance) fail(r invocation.Result) {
	i.failOnce.Do(func() {
		i.initResult = r
		close(i.failed)
	})
}

func (i *instance) stop() {
	i.stopOnce.Do(func() {
		close(i.stopped)
	})
}
