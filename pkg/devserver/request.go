package devserver

import (
	"context"
	"fmt"

	"github.com/livefn/livefn/pkg/bridge"
	"github.com/livefn/livefn/pkg/function"
	"github.com/livefn/livefn/pkg/invocation"
	"github.com/livefn/livefn/pkg/logger"
	"github.com/livefn/livefn/pkg/runtime"
	"github.com/livefn/livefn/pkg/util"
)

// handleRequest serves requests from either transport. Unknown functions
// fail through the normal result path.
func (s *Session) handleRequest(ctx context.Context, req invocation.Request) invocation.Result {
	id := req.Context.AwsRequestID
	l := s.log.With("function_id", req.FunctionID)

	fn, ok := s.function(req.FunctionID)
	if !ok {
		l.Error("unable to find function", "request_id", id)
		return invocation.NotFound()
	}

	l.Debug("invoking local function", "request_id", id)
	res := s.runtime.Invoke(ctx, fn, req)
	if res.IsSuccess() {
		l.Info(fmt.Sprintf("%s RESPONSE %s", id, util.Truncate(res.Payload)))
		return res
	}

	l.Info(fmt.Sprintf("%s ERROR", id),
		"kind", res.Kind,
		"error_type", res.ErrorType,
		"error", res.ErrorMessage,
		"stack", res.StackTrace,
	)
	return res
}

// function returns the descriptor for id with its root resolved.
func (s *Session) function(id string) (function.Descriptor, bool) {
	fn, ok := s.opts.Functions.Get(id)
	if !ok {
		return fn, false
	}
	if fn.Root == "" {
		fn.Root = s.opts.AppDir
	}
	return fn, true
}

func (s *Session) functions() []function.Descriptor {
	all := s.opts.Functions.All()
	for i := range all {
		if all[i].Root == "" {
			all[i].Root = s.opts.AppDir
		}
	}
	return all
}

// addPeer registers a datagram peer announced over the socket and pings it
// so it learns our address.
func (s *Session) addPeer(p bridge.PeerInfo) {
	if err := s.datagram.AddPeer(p); err != nil {
		s.log.Warn("ignoring peer registration", "peer_id", p.ID, "error", err)
		return
	}
	s.datagram.Ping()
}

func (s *Session) logOutput(o runtime.Output) {
	level := logger.LevelInfo
	if s.opts.Console {
		level = logger.LevelTrace
	}
	s.log.Log(context.Background(), level, o.Line, "function_id", o.FunctionID, "stream", o.Stream)
}
