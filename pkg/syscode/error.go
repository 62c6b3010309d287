package syscode

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

func fromError(err error) Error {
	e := &Error{}
	if !errors.As(err, e) && !errors.As(err, &e) {
		e = &Error{
			Code:    CodeUnknown,
			Message: err.Error(),
		}
	}

	return *e
}

// Error is an error with a stable, machine-readable code.
type Error struct {
	Code    string `json:"code"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message"`
	// Err is the wrapped cause, if any.
	Err error `json:"-"`
}

func New(code, msg string, a ...any) Error {
	return Error{Code: code, Message: fmt.Sprintf(msg, a...)}
}

func (e Error) Error() string {
	if e.Message != "" {
		return e.Message
	}

	byt, err := json.Marshal(e.Data)
	if err != nil {
		return e.Code
	}

	msg, err := messageFromMultiErrData(byt)
	if err == nil {
		return msg
	}

	return e.Code
}

func (e Error) Unwrap() error {
	return e.Err
}

// Wrap returns err with a code attached.
func Wrap(code string, err error) Error {
	return Error{Code: code, Message: err.Error(), Err: err}
}

// CodeOf returns the code of the first syscode.Error in err's chain, or
// CodeUnknown.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	return fromError(err).Code
}

// Create an single error message from error data that contains multiple errors.
// Returns an error if the data isn't valid MultiErrData
func messageFromMultiErrData(data []byte) (string, error) {
	me := &DataMultiErr{}
	err := json.Unmarshal(data, me)
	if err != nil {
		return "", fmt.Errorf("not MultiErrData: %v", err)
	}
	if len(me.Errors) == 0 {
		return "", errors.New("not MultiErrData")
	}

	msgs := make([]string, len(me.Errors))
	for i, e := range me.Errors {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d errors occurred: %s", len(me.Errors), strings.Join(msgs, "; ")), nil
}

// Used to structure Error.Data when there are multiple errors (e.g. several
// stacks failing to deploy)
type DataMultiErr struct {
	Errors []Error `json:"errors"`
}

func (e *DataMultiErr) Append(err error) {
	if err == nil {
		return
	}

	if me, ok := err.(*multierror.Error); ok {
		for i := range me.Errors {
			e.Append(fromError(me.Errors[i]))
		}
		return
	}

	e.Errors = append(e.Errors, fromError(err))
}

func (e *DataMultiErr) Len() int {
	return len(e.Errors)
}
