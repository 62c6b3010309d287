package runtime

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/livefn/livefn/pkg/invocation"
)

const maxPayload = 6 * 1024 * 1024

const (
	headerRequestID       = "Lambda-Runtime-Aws-Request-Id"
	headerDeadline        = "Lambda-Runtime-Deadline-Ms"
	headerFunctionArn     = "Lambda-Runtime-Invoked-Function-Arn"
	headerClientContext   = "Lambda-Runtime-Client-Context"
	headerCognitoIdentity = "Lambda-Runtime-Cognito-Identity"
)

// errorBody is the payload processes post to the error endpoints.
type errorBody struct {
	ErrorMessage string   `json:"errorMessage"`
	ErrorType    string   `json:"errorType"`
	StackTrace   []string `json:"stackTrace,omitempty"`
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/{function}/{instance}/2018-06-01/runtime", func(r chi.Router) {
		r.Get("/invocation/next", s.next)
		r.Post("/invocation/{requestID}/response", s.response)
		r.Post("/invocation/{requestID}/error", s.invocationError)
		r.Post("/init/error", s.initError)
	})
	return r
}

func (s *Server) next(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.instance(chi.URLParam(r, "instance"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrUnknownInstance)
		return
	}

	select {
	case c := <-inst.deliver:
		inst.take(c)

		deadline := c.req.Deadline
		if deadline.IsZero() {
			deadline = s.opts.Clock.Now().Add(15 * time.Minute)
		}

		h := w.Header()
		h.Set("Content-Type", "application/json")
		h.Set(headerRequestID, c.id)
		h.Set(headerDeadline, strconv.FormatInt(deadline.UnixMilli(), 10))
		h.Set(headerFunctionArn, c.req.Context.InvokedFunctionArn)
		if cc := c.req.Context.ClientContext; cc != nil {
			byt, _ := json.Marshal(cc)
			h.Set(headerClientContext, string(byt))
		}
		if id := c.req.Context.Identity; id != nil {
			byt, _ := json.Marshal(id)
			h.Set(headerCognitoIdentity, string(byt))
		}

		event := []byte(c.req.Event)
		if len(event) == 0 {
			event = []byte("null")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(event)
	case <-inst.stopped:
		writeError(w, http.StatusGone, ErrUnknownInstance)
	case <-r.Context().Done():
	}
}

func (s *Server) response(w http.ResponseWriter, r *http.Request) {
	c, ok := s.complete(w, r)
	if !ok {
		return
	}
	body, err := readBody(r)
	if err != nil {
		c.resolve(invocation.Failuref(invocation.KindHandler, "error reading response: %s", err))
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	c.resolve(invocation.Success(normalizePayload(body)))
	writeAccepted(w)
}

func (s *Server) invocationError(w http.ResponseWriter, r *http.Request) {
	c, ok := s.complete(w, r)
	if !ok {
		return
	}
	c.resolve(failureFromBody(r, invocation.KindHandler))
	writeAccepted(w)
}

func (s *Server) initError(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.instance(chi.URLParam(r, "instance"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrUnknownInstance)
		return
	}
	inst.fail(failureFromBody(r, invocation.KindInit))
	writeAccepted(w)
}

// complete resolves the instance and in-flight call named in the path.
func (s *Server) complete(w http.ResponseWriter, r *http.Request) (*call, bool) {
	inst, ok := s.instance(chi.URLParam(r, "instance"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrUnknownInstance)
		return nil, false
	}
	c, ok := inst.complete(chi.URLParam(r, "requestID"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrUnknownRequest)
		return nil, false
	}
	return c, true
}

func failureFromBody(r *http.Request, kind invocation.Kind) invocation.Result {
	body, err := readBody(r)
	if err != nil {
		return invocation.Failuref(kind, "error reading error body: %s", err)
	}

	eb := errorBody{}
	if err := json.Unmarshal(body, &eb); err != nil || eb.ErrorMessage == "" {
		eb = errorBody{ErrorMessage: string(body)}
	}

	res := invocation.Failure(kind, eb.ErrorMessage, eb.StackTrace...)
	if eb.ErrorType != "" {
		res.ErrorType = eb.ErrorType
	}
	return res
}

func readBody(r *http.Request) ([]byte, error) {
	byt, err := io.ReadAll(io.LimitReader(r.Body, maxPayload+1))
	if err != nil {
		return nil, err
	}
	if len(byt) > maxPayload {
		return nil, errors.New("payload exceeds 6MB")
	}
	return byt, nil
}

// normalizePayload makes sure a response body can be embedded as JSON.
func normalizePayload(body []byte) json.RawMessage {
	if len(body) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(body) {
		return body
	}
	byt, _ := json.Marshal(string(body))
	return byt
}

func writeAccepted(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte(`{"status":"OK"}`))
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{ErrorMessage: err.Error(), ErrorType: http.StatusText(status)})
}
