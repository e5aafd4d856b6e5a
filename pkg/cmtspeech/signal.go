package cmtspeech

import "fmt"

// SignalKind tags a Signal.
type SignalKind int

const (
	// SignalCallConnect carries the call connect intent (UL, DL, Emergency).
	SignalCallConnect SignalKind = iota + 1
	// SignalServerStatus carries whether the call server has a call (Active).
	SignalServerStatus
	// SignalVoiceCallState carries a voice call state change (CallState).
	SignalVoiceCallState
	// SignalModemState carries a modem state string. It is only logged.
	SignalModemState
)

var signalKindNames = map[SignalKind]string{
	SignalCallConnect:    "call_connect",
	SignalServerStatus:   "server_status",
	SignalVoiceCallState: "voice_call_state",
	SignalModemState:     "modem_state",
}

// String returns the string representation of the kind.
func (k SignalKind) String() string {
	if n, ok := signalKindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("signal(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k SignalKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *SignalKind) UnmarshalText(b []byte) error {
	v, err := ParseSignalKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ParseSignalKind parses the String form of a SignalKind.
func ParseSignalKind(name string) (SignalKind, error) {
	for kind, n := range signalKindNames {
		if n == name {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("cmtspeech: unknown signal kind %q", name)
}

// CallState is a voice call state as reported by the telephony stack.
type CallState string

const (
	CallActive       CallState = "active"
	CallAlerting     CallState = "alerting"
	CallHeld         CallState = "held"
	CallWaiting      CallState = "waiting"
	CallIncoming     CallState = "incoming"
	CallDialing      CallState = "dialing"
	CallDisconnected CallState = "disconnected"
)

// InProgress maps the call state to "a call is in progress". ok is false for
// states the bridge does not know.
func (s CallState) InProgress() (inProgress, ok bool) {
	switch s {
	case CallActive, CallAlerting, CallHeld, CallWaiting:
		return true, true
	case CallIncoming, CallDialing, CallDisconnected:
		return false, true
	}
	return false, false
}

// Signal is a control-plane notification. Only the fields belonging to Kind
// are meaningful.
type Signal struct {
	Kind SignalKind `json:"kind" yaml:"kind" msgpack:"kind"`

	UL        bool `json:"ul,omitempty" yaml:"ul,omitempty" msgpack:"ul,omitempty"`
	DL        bool `json:"dl,omitempty" yaml:"dl,omitempty" msgpack:"dl,omitempty"`
	Emergency bool `json:"emergency,omitempty" yaml:"emergency,omitempty" msgpack:"emergency,omitempty"`

	Active bool `json:"active,omitempty" yaml:"active,omitempty" msgpack:"active,omitempty"`

	CallState CallState `json:"call_state,omitempty" yaml:"call_state,omitempty" msgpack:"call_state,omitempty"`

	ModemState string `json:"modem_state,omitempty" yaml:"modem_state,omitempty" msgpack:"modem_state,omitempty"`
}

// CallConnect builds a SignalCallConnect.
func CallConnect(ul, dl, emergency bool) Signal {
	return Signal{Kind: SignalCallConnect, UL: ul, DL: dl, Emergency: emergency}
}

// ServerStatus builds a SignalServerStatus.
func ServerStatus(active bool) Signal {
	return Signal{Kind: SignalServerStatus, Active: active}
}

// VoiceCallState builds a SignalVoiceCallState.
func VoiceCallState(s CallState) Signal {
	return Signal{Kind: SignalVoiceCallState, CallState: s}
}

// ModemState builds a SignalModemState.
func ModemState(s string) Signal {
	return Signal{Kind: SignalModemState, ModemState: s}
}

func (s Signal) String() string {
	switch s.Kind {
	case SignalCallConnect:
		return fmt.Sprintf("%v(ul=%t dl=%t emergency=%t)", s.Kind, s.UL, s.DL, s.Emergency)
	case SignalServerStatus:
		return fmt.Sprintf("%v(%t)", s.Kind, s.Active)
	case SignalVoiceCallState:
		return fmt.Sprintf("%v(%s)", s.Kind, s.CallState)
	case SignalModemState:
		return fmt.Sprintf("%v(%s)", s.Kind, s.ModemState)
	default:
		return s.Kind.String()
	}
}
