package bridge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/livefn/livefn/pkg/invocation"
	"github.com/livefn/livefn/pkg/syscode"
	"github.com/stretchr/testify/require"
)

func codecs(t *testing.T) map[string]Codec {
	cb, err := NewCBORCodec()
	require.NoError(t, err)
	return map[string]Codec{"json": JSONCodec{}, "cbor": cb}
}

func TestCodecRoundTrip(t *testing.T) {
	messages := []Message{
		NewResultMessage("c-1", invocation.Success(json.RawMessage(`{"statusCode":200,"body":"ok"}`))),
		NewResultMessage("c-2", invocation.Failure(invocation.KindHandler, "boom", "at a", "at b")),
		NewResultMessage("c-3", invocation.Failuref(invocation.KindTimeout, "timed out")),
		{
			Type:          TypeRequest,
			CorrelationID: "c-4",
			FunctionID:    "api",
			Event:         json.RawMessage(`{"path":"/"}`),
			TimeoutMs:     3000,
			Env:           map[string]string{"STAGE": "dev"},
			Context: &invocation.Context{
				AwsRequestID: "aws-1",
				FunctionName: "api",
				ClientContext: &lambdacontext.ClientContext{
					Env: map[string]string{"k": "v"},
				},
			},
		},
		{Type: TypeRegister, Peer: &PeerInfo{ID: "p1", Host: "10.0.0.1", Port: 4000}},
		{Type: TypeSessionSuperseded},
		{Type: TypeDeliveryFailed, CorrelationID: "c-5"},
	}

	for name, codec := range codecs(t) {
		t.Run(name, func(t *testing.T) {
			for _, m := range messages {
				byt, err := codec.Marshal(m)
				require.NoError(t, err)

				var out Message
				require.NoError(t, codec.Unmarshal(byt, &out))
				if m.Outcome != nil && m.Outcome.Payload != nil {
					require.JSONEq(t, string(m.Outcome.Payload), string(out.Outcome.Payload))
					out.Outcome.Payload = m.Outcome.Payload
				}
				if m.Event != nil {
					require.JSONEq(t, string(m.Event), string(out.Event))
					out.Event = m.Event
				}
				require.Equal(t, m, out)
			}
		})
	}
}

func TestCodecRejectsInvalid(t *testing.T) {
	invalid := []Message{
		{Type: "nope"},
		{Type: TypeRequest, CorrelationID: "c"},
		{Type: TypeResult, CorrelationID: "c"},
		{Type: TypeRegister},
	}

	for name, codec := range codecs(t) {
		t.Run(name, func(t *testing.T) {
			for _, m := range invalid {
				byt, err := codec.Marshal(m)
				require.NoError(t, err)

				var out Message
				err = codec.Unmarshal(byt, &out)
				require.Error(t, err, m.Type)
				require.Equal(t, syscode.CodeBridgeInvalidMessage, syscode.CodeOf(err))
			}

			var out Message
			require.Error(t, codec.Unmarshal([]byte{0xff, 0x00}, &out))
		})
	}
}

func TestMessageRequest(t *testing.T) {
	received := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := Message{
		Type:          TypeRequest,
		CorrelationID: "c-1",
		FunctionID:    "api",
		TimeoutMs:     100,
		Context:       &invocation.Context{AwsRequestID: "aws-1"},
	}

	req := m.Request(received)
	require.Equal(t, "api", req.FunctionID)
	require.Equal(t, "c-1", req.CorrelationID)
	require.Equal(t, "aws-1", req.Context.AwsRequestID)
	require.Equal(t, received.Add(100*time.Millisecond), req.Deadline)
}
