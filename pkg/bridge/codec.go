package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/livefn/livefn/pkg/syscode"
)

// Codec encodes messages for a transport.
type Codec interface {
	Marshal(m Message) ([]byte, error)
	Unmarshal(data []byte, m *Message) error
}

// JSONCodec is used over the websocket.
type JSONCodec struct{}

func (JSONCodec) Marshal(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func (JSONCodec) Unmarshal(data []byte, m *Message) error {
	if err := json.Unmarshal(data, m); err != nil {
		return syscode.New(syscode.CodeBridgeInvalidMessage, "invalid message: %s", err)
	}
	return validate(m)
}

// CBORCodec is used for datagrams, where every byte counts against the
// packet size.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func NewCBORCodec() (*CBORCodec, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("error creating cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{
		MaxNestedLevels: 64,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("error creating cbor decoder: %w", err)
	}
	return &CBORCodec{enc: enc, dec: dec}, nil
}

func (c *CBORCodec) Marshal(m Message) ([]byte, error) {
	return c.enc.Marshal(m)
}

func (c *CBORCodec) Unmarshal(data []byte, m *Message) error {
	if err := c.dec.Unmarshal(data, m); err != nil {
		return syscode.New(syscode.CodeBridgeInvalidMessage, "invalid message: %s", err)
	}
	return validate(m)
}

func validate(m *Message) error {
	switch m.Type {
	case TypeRequest:
		if m.CorrelationID == "" || m.FunctionID == "" {
			return syscode.New(syscode.CodeBridgeInvalidMessage, "request is missing correlationId or functionId")
		}
	case TypeResult:
		if m.CorrelationID == "" || m.Outcome == nil {
			return syscode.New(syscode.CodeBridgeInvalidMessage, "result is missing correlationId or outcome")
		}
	case TypeRegister, TypePing:
		if m.Peer == nil || m.Peer.ID == "" {
			return syscode.New(syscode.CodeBridgeInvalidMessage, "%s is missing peer id", m.Type)
		}
	case TypeClientRegister, TypeSessionStarted, TypeSessionSuperseded, TypeDeliveryFailed:
	default:
		return syscode.New(syscode.CodeBridgeInvalidMessage, "unknown message type %q", m.Type)
	}
	return nil
}
