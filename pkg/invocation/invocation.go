// Package invocation holds the data model shared by the bridge and the local
// invocation server: requests, their Lambda context and results.
package invocation

import (
	"encoding/json"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"
)

// Context mirrors the Lambda context object handed to a function.
type Context struct {
	AwsRequestID       string                         `json:"awsRequestId"`
	FunctionName       string                         `json:"functionName,omitempty"`
	FunctionVersion    string                         `json:"functionVersion,omitempty"`
	InvokedFunctionArn string                         `json:"invokedFunctionArn,omitempty"`
	MemoryLimitInMB    int                            `json:"memoryLimitInMB,omitempty"`
	LogGroupName       string                         `json:"logGroupName,omitempty"`
	LogStreamName      string                         `json:"logStreamName,omitempty"`
	Identity           *lambdacontext.CognitoIdentity `json:"identity,omitempty"`
	ClientContext      *lambdacontext.ClientContext   `json:"clientContext,omitempty"`
}

// Request is a single invocation to run locally. It is consumed exactly once.
type Request struct {
	FunctionID    string            `json:"functionId"`
	CorrelationID string            `json:"correlationId"`
	Event         json.RawMessage   `json:"event"`
	Context       Context           `json:"context"`
	Deadline      time.Time         `json:"deadline"`
	Env           map[string]string `json:"env,omitempty"`
}

// DeadlineFrom returns the absolute deadline for a request received at
// received with the caller supplied timeout.
func DeadlineFrom(received time.Time, timeoutMs int64) time.Time {
	return received.Add(time.Duration(timeoutMs) * time.Millisecond)
}

// Remaining returns the time left before the deadline, never negative.
func (r Request) Remaining(now time.Time) time.Duration {
	d := r.Deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
