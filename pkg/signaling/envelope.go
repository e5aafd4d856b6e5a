// Package signaling carries control-plane signals to a bridge over
// WebSocket.
//
// A client sends one Envelope per message, either as a JSON text frame or
// as a msgpack binary frame. The server answers each envelope with an Ack
// in the same encoding and passes the signal to its Handler.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/cmtbridge/pkg/cmtspeech"
	"github.com/haivivi/cmtbridge/pkg/jsontime"
)

// Sentinel errors.
var (
	ErrUnauthorized  = errors.New("signaling: unauthorized")
	ErrInvalidSignal = errors.New("signaling: invalid signal")
	ErrRejected      = errors.New("signaling: rejected")
)

// Envelope wraps a Signal on the wire.
type Envelope struct {
	ID     string           `json:"id" msgpack:"id"`
	Time   jsontime.Milli   `json:"time" msgpack:"time"`
	Signal cmtspeech.Signal `json:"signal" msgpack:"signal"`
}

// NewEnvelope wraps sig with a fresh ID and the current time.
func NewEnvelope(sig cmtspeech.Signal) Envelope {
	return Envelope{ID: uuid.NewString(), Time: jsontime.NowEpochMilli(), Signal: sig}
}

// Ack answers an Envelope. Error is empty when the signal was delivered.
type Ack struct {
	ID    string `json:"id" msgpack:"id"`
	Error string `json:"error,omitempty" msgpack:"error,omitempty"`
}

func validate(sig cmtspeech.Signal) error {
	switch sig.Kind {
	case cmtspeech.SignalCallConnect, cmtspeech.SignalServerStatus, cmtspeech.SignalModemState:
		return nil
	case cmtspeech.SignalVoiceCallState:
		if sig.CallState == "" {
			return fmt.Errorf("%w: voice_call_state without call_state", ErrInvalidSignal)
		}
		return nil
	}
	return fmt.Errorf("%w: kind %v", ErrInvalidSignal, sig.Kind)
}

// encode marshals v for the websocket message type mt.
func encode(mt int, v any) ([]byte, error) {
	if mt == websocket.BinaryMessage {
		return msgpack.Marshal(v)
	}
	return json.Marshal(v)
}

func decode(mt int, data []byte, v any) error {
	switch mt {
	case websocket.BinaryMessage:
		return msgpack.Unmarshal(data, v)
	case websocket.TextMessage:
		return json.Unmarshal(data, v)
	}
	return fmt.Errorf("signaling: unexpected message type %d", mt)
}
