package invocation

import (
	"encoding/json"
	"fmt"

	"github.com/livefn/livefn/pkg/syscode"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Kind classifies a failure.
type Kind string

const (
	// KindHandler is an error returned by the function's own code.
	KindHandler  Kind = "handler"
	KindTimeout  Kind = "timeout"
	KindCrash    Kind = "crash"
	KindNotFound Kind = "not_found"
	KindInit     Kind = "init"
	KindCanceled Kind = "canceled"
	// KindTransport is a failure to move the request or result across the
	// bridge, eg. an oversized payload with no blob store.
	KindTransport Kind = "transport"
)

// Code returns the syscode reported for a failure of this kind.
func (k Kind) Code() string {
	switch k {
	case KindHandler:
		return syscode.CodeHandlerError
	case KindTimeout:
		return syscode.CodeInvocationTimeout
	case KindCrash:
		return syscode.CodeProcessCrashed
	case KindNotFound:
		return syscode.CodeFunctionNotFound
	case KindInit:
		return syscode.CodeProcessInitFailed
	case KindTransport:
		return syscode.CodeBridgeDeliveryFailed
	default:
		return syscode.CodeUnknown
	}
}

// Result is the outcome of a Request: either a success carrying the
// function's payload, or a failure.
type Result struct {
	Status  Status          `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`

	ErrorMessage string   `json:"errorMessage,omitempty"`
	ErrorType    string   `json:"errorType,omitempty"`
	Kind         Kind     `json:"kind,omitempty"`
	StackTrace   []string `json:"stackTrace,omitempty"`
}

func Success(payload json.RawMessage) Result {
	return Result{Status: StatusSuccess, Payload: payload}
}

func Failure(kind Kind, message string, trace ...string) Result {
	return Result{
		Status:       StatusFailure,
		Kind:         kind,
		ErrorMessage: message,
		ErrorType:    defaultErrorType(kind),
		StackTrace:   trace,
	}
}

// Failuref is Failure with a formatted message.
func Failuref(kind Kind, format string, a ...any) Result {
	return Failure(kind, fmt.Sprintf(format, a...))
}

// NotFound is the result for requests naming an unknown function.
func NotFound() Result {
	return Failure(KindNotFound, "function not found")
}

func (r Result) IsSuccess() bool {
	return r.Status == StatusSuccess
}

// Err returns nil for successes and a syscode.Error for failures.
func (r Result) Err() error {
	if r.IsSuccess() {
		return nil
	}
	return syscode.Error{
		Code:    r.Kind.Code(),
		Message: r.ErrorMessage,
		Data: map[string]any{
			"errorType":  r.ErrorType,
			"stackTrace": r.StackTrace,
		},
	}
}

func defaultErrorType(kind Kind) string {
	switch kind {
	case KindTimeout:
		return "TimeoutError"
	case KindCrash:
		return "ProcessCrashError"
	case KindNotFound:
		return "FunctionNotFoundError"
	case KindInit:
		return "InitError"
	case KindCanceled:
		return "CanceledError"
	case KindTransport:
		return "TransportError"
	default:
		return "Error"
	}
}
