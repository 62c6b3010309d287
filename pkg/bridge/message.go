package bridge

import (
	"encoding/json"
	"time"

	"github.com/livefn/livefn/pkg/invocation"
)

type MessageType string

const (
	// TypeClientRegister is sent by the local machine after connecting.
	TypeClientRegister    MessageType = "client.register"
	TypeRegister          MessageType = "register"
	TypeRequest           MessageType = "request"
	TypeResult            MessageType = "result"
	TypePing              MessageType = "ping"
	TypeSessionStarted    MessageType = "session.started"
	TypeSessionSuperseded MessageType = "session.superseded"
	// TypeDeliveryFailed reports that the stub could not reach a peer.
	TypeDeliveryFailed MessageType = "delivery.failed"
)

// PeerInfo identifies a datagram peer in register and ping messages.
type PeerInfo struct {
	ID   string `json:"id"`
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// BlobRef points at a payload stored out of band.
type BlobRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// Message is the envelope for everything sent across the bridge. Only the
// fields relevant to Type are set.
type Message struct {
	Type MessageType `json:"type"`

	Peer         *PeerInfo `json:"peer,omitempty"`
	ConnectionID string    `json:"connectionId,omitempty"`

	CorrelationID string              `json:"correlationId,omitempty"`
	FunctionID    string              `json:"functionId,omitempty"`
	Event         json.RawMessage     `json:"event,omitempty"`
	Context       *invocation.Context `json:"context,omitempty"`
	TimeoutMs     int64               `json:"timeoutMs,omitempty"`
	Env           map[string]string   `json:"env,omitempty"`
	EventRef      *BlobRef            `json:"eventRef,omitempty"`

	Outcome    *invocation.Result `json:"outcome,omitempty"`
	PayloadRef *BlobRef           `json:"payloadRef,omitempty"`
}

// Request converts a request message received at received.
func (m Message) Request(received time.Time) invocation.Request {
	req := invocation.Request{
		FunctionID:    m.FunctionID,
		CorrelationID: m.CorrelationID,
		Event:         m.Event,
		Deadline:      invocation.DeadlineFrom(received, m.TimeoutMs),
		Env:           m.Env,
	}
	if m.Context != nil {
		req.Context = *m.Context
	}
	return req
}

func NewResultMessage(correlationID string, r invocation.Result) Message {
	return Message{
		Type:          TypeResult,
		CorrelationID: correlationID,
		Outcome:       &r,
	}
}
