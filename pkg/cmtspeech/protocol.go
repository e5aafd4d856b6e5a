package cmtspeech

import (
	"fmt"
	"time"
)

// DataHeaderLen is the length of the header that precedes the audio payload
// in every modem speech frame.
const DataHeaderLen = 4

// Protocol is an open connection to the modem speech endpoint.
//
// Implementations are not required to be safe for concurrent use; the
// Connection serialises every call under its own lock.
type Protocol interface {
	// Descriptor returns a pollable file descriptor that becomes readable
	// when CheckPending has something to report.
	Descriptor() int

	// CheckPending reports which kinds of events are waiting. A zero mask
	// means nothing is pending.
	CheckPending() (EventFlags, error)

	// ReadEvent reads the next control event.
	ReadEvent() (Event, error)

	// IsActive reports whether the modem considers a speech session open.
	IsActive() bool

	// AcquireDownlink takes ownership of the next received downlink frame.
	AcquireDownlink() (*Buffer, error)
	// ReleaseDownlink returns a downlink frame to the endpoint.
	ReleaseDownlink(b *Buffer) error
	// FindDownlink looks up an outstanding downlink frame by the address of
	// its payload. It returns nil if the endpoint does not own such a frame.
	FindDownlink(payload []byte) *Buffer

	// AcquireUplink takes an empty uplink frame to be filled.
	AcquireUplink() (*Buffer, error)
	// ReleaseUplink sends a filled uplink frame. An error wrapping ErrIO
	// invalidates the handle.
	ReleaseUplink(b *Buffer) error

	// InjectCallConnect forwards the call connect intent to the endpoint.
	InjectCallConnect(connected bool) error
	// InjectCallStatus forwards whether a call is in progress.
	InjectCallStatus(active bool) error
	// InjectError moves the endpoint into its error state.
	InjectError() error

	Close() error
}

// Opener opens a Protocol handle.
type Opener interface {
	Open() (Protocol, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func() (Protocol, error)

// Open calls f.
func (f OpenerFunc) Open() (Protocol, error) { return f() }

// Buffer is a modem-owned speech frame.
//
// Data holds the whole frame including the header. For downlink frames Count
// is the number of valid bytes; for uplink frames Count equals len(Data).
type Buffer struct {
	Data      []byte
	Count     int
	HeaderLen int
}

// Payload returns the audio bytes of the frame, header stripped. The result
// may be empty but still addresses the frame's memory.
func (b *Buffer) Payload() []byte {
	if b == nil || b.HeaderLen > b.Count || b.Count > len(b.Data) {
		return nil
	}
	return b.Data[b.HeaderLen:b.Count]
}

// SamePayload reports whether p starts at the payload of b. It is how a
// Protocol recognises a frame from the payload slice handed to the consumer.
func (b *Buffer) SamePayload(p []byte) bool {
	q := b.Payload()
	if cap(p) == 0 || cap(q) == 0 {
		return false
	}
	return &p[:1][0] == &q[:1][0]
}

// EventFlags is the bitmask returned by Protocol.CheckPending.
type EventFlags uint8

const (
	// EventControl means a control event can be read with ReadEvent.
	EventControl EventFlags = 1 << iota
	// EventDownlinkData means a downlink frame can be acquired.
	EventDownlinkData
)

// Has reports whether all bits of o are set in f.
func (f EventFlags) Has(o EventFlags) bool { return f&o == o }

// ProtocolState is the speech session state reported by the modem.
type ProtocolState int

const (
	StateDisconnected ProtocolState = iota
	StateConnected
	StateActiveDL
	StateActiveDLUL
)

// String returns the string representation of the state.
func (s ProtocolState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateActiveDL:
		return "active_dl"
	case StateActiveDLUL:
		return "active_dlul"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ProtocolState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ProtocolState) UnmarshalText(b []byte) error {
	v, err := ParseProtocolState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseProtocolState parses the String form of a ProtocolState.
func ParseProtocolState(name string) (ProtocolState, error) {
	switch name {
	case "disconnected":
		return StateDisconnected, nil
	case "connected":
		return StateConnected, nil
	case "active_dl":
		return StateActiveDL, nil
	case "active_dlul":
		return StateActiveDLUL, nil
	}
	return 0, fmt.Errorf("cmtspeech: unknown protocol state %q", name)
}

// MsgType identifies the control message that caused a state change.
type MsgType int

const (
	MsgNone MsgType = iota
	MsgResetConnReq
	MsgResetConnResp
	MsgSSIConfigReq
	MsgSSIConfigResp
	MsgSpeechConfigReq
	MsgSpeechConfigResp
	MsgTimingConfigNtf
	MsgUplinkDataReady
	MsgEventReset
)

var msgTypeNames = []string{
	MsgNone:             "none",
	MsgResetConnReq:     "reset_conn_req",
	MsgResetConnResp:    "reset_conn_resp",
	MsgSSIConfigReq:     "ssi_config_req",
	MsgSSIConfigResp:    "ssi_config_resp",
	MsgSpeechConfigReq:  "speech_config_req",
	MsgSpeechConfigResp: "speech_config_resp",
	MsgTimingConfigNtf:  "timing_config_ntf",
	MsgUplinkDataReady:  "ul_data_ready",
	MsgEventReset:       "event_reset",
}

// String returns the string representation of the message type.
func (m MsgType) String() string {
	if m >= 0 && int(m) < len(msgTypeNames) {
		return msgTypeNames[m]
	}
	return fmt.Sprintf("msg(%d)", int(m))
}

// MarshalText implements encoding.TextMarshaler.
func (m MsgType) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *MsgType) UnmarshalText(b []byte) error {
	v, err := ParseMsgType(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMsgType parses the String form of a MsgType.
func ParseMsgType(name string) (MsgType, error) {
	for i, n := range msgTypeNames {
		if n == name {
			return MsgType(i), nil
		}
	}
	return 0, fmt.Errorf("cmtspeech: unknown message type %q", name)
}

// SpeechConfig is the format metadata carried by a speech config request.
// The values are opaque to the bridge and only logged.
type SpeechConfig struct {
	SampleRate int `json:"sample_rate" yaml:"sample_rate" msgpack:"sample_rate"`
	DataFormat int `json:"data_format" yaml:"data_format" msgpack:"data_format"`
	Stream     int `json:"stream" yaml:"stream" msgpack:"stream"`
}

// TimingConfig is the uplink timing carried by a timing config notification.
type TimingConfig struct {
	Msec      int       `json:"msec" yaml:"msec" msgpack:"msec"`
	Usec      int       `json:"usec" yaml:"usec" msgpack:"usec"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp" msgpack:"timestamp"`
}

// Event is a control event read from the modem.
type Event struct {
	Prev   ProtocolState `json:"prev" yaml:"prev" msgpack:"prev"`
	State  ProtocolState `json:"state" yaml:"state" msgpack:"state"`
	Msg    MsgType       `json:"msg" yaml:"msg" msgpack:"msg"`
	Speech SpeechConfig  `json:"speech,omitzero" yaml:"speech,omitempty" msgpack:"speech,omitempty"`
	Timing TimingConfig  `json:"timing,omitzero" yaml:"timing,omitempty" msgpack:"timing,omitempty"`
}

// String formats the event the way it is logged.
func (ev Event) String() string {
	return fmt.Sprintf("state %v -> %v (type %v)", ev.Prev, ev.State, ev.Msg)
}
