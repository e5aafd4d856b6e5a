package cmtspeech

import (
	"slices"
	"testing"
	"time"
)

func ev(prev, state ProtocolState, msg MsgType) Event {
	return Event{Prev: prev, State: state, Msg: msg}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want Row
	}{
		{"call start", ev(StateDisconnected, StateConnected, MsgSSIConfigResp), RowCallStart},
		{"speech start", ev(StateConnected, StateActiveDL, MsgSpeechConfigReq), RowSpeechStart},
		{"speech update", ev(StateActiveDLUL, StateActiveDL, MsgSpeechConfigReq), RowSpeechUpdate},
		{"uplink start", ev(StateActiveDL, StateActiveDLUL, MsgUplinkDataReady), RowUplinkStart},
		{"timing update", ev(StateActiveDLUL, StateActiveDLUL, MsgTimingConfigNtf), RowTimingUpdate},
		{"speech stop from dl", ev(StateActiveDL, StateConnected, MsgSpeechConfigReq), RowSpeechStop},
		{"speech stop from dlul", ev(StateActiveDLUL, StateConnected, MsgSpeechConfigReq), RowSpeechStop},
		{"call end", ev(StateConnected, StateDisconnected, MsgResetConnResp), RowCallEnd},
		{"reset wins over call start", ev(StateDisconnected, StateConnected, MsgEventReset), RowModemReset},
		{"reset in active", ev(StateActiveDLUL, StateActiveDLUL, MsgEventReset), RowModemReset},
		{"speech start needs speech config", ev(StateConnected, StateActiveDL, MsgNone), RowUnrecognized},
		{"unknown", ev(StateActiveDL, StateActiveDL, MsgNone), RowUnrecognized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.ev); got != tt.want {
				t.Errorf("Decide(%v)=%v, want %v", tt.ev, got, tt.want)
			}
		})
	}
}

func kinds(reqs []HostRequest) []HostRequestKind {
	out := make([]HostRequestKind, len(reqs))
	for i, r := range reqs {
		out[i] = r.Kind
	}
	return out
}

func TestTransition(t *testing.T) {
	live := Pipeline{StreamsCreated: true, PlaybackRunning: true, RecordRunning: true, FirstDownlink: true, UplinkFrames: 9}

	tests := []struct {
		name      string
		in        Pipeline
		ev        Event
		want      Pipeline
		requests  []HostRequestKind
		warnings  int
		closeOnEr bool
	}{
		{
			name:     "call start",
			ev:       ev(StateDisconnected, StateConnected, MsgSSIConfigResp),
			want:     Pipeline{StreamsCreated: true},
			requests: []HostRequestKind{RequestCreateStreams},
		},
		{
			name:     "call start with stale pipeline",
			in:       live,
			ev:       ev(StateDisconnected, StateConnected, MsgSSIConfigResp),
			want:     Pipeline{StreamsCreated: true, FirstDownlink: true},
			requests: []HostRequestKind{RequestDeleteStreams, RequestCreateStreams},
			warnings: 3,
		},
		{
			name:     "speech start resets first frame latch",
			in:       Pipeline{StreamsCreated: true, FirstDownlink: true},
			ev:       ev(StateConnected, StateActiveDL, MsgSpeechConfigReq),
			want:     Pipeline{StreamsCreated: true, PlaybackRunning: true},
			requests: []HostRequestKind{RequestDownlinkConnect},
		},
		{
			name: "speech update is log only",
			in:   live,
			ev:   ev(StateActiveDLUL, StateActiveDL, MsgSpeechConfigReq),
			want: live,
		},
		{
			name:     "uplink start",
			in:       Pipeline{StreamsCreated: true, PlaybackRunning: true},
			ev:       ev(StateActiveDL, StateActiveDLUL, MsgUplinkDataReady),
			want:     Pipeline{StreamsCreated: true, PlaybackRunning: true, RecordRunning: true},
			requests: []HostRequestKind{RequestUplinkConnect},
		},
		{
			name:     "speech stop",
			in:       live,
			ev:       ev(StateActiveDLUL, StateConnected, MsgSpeechConfigReq),
			want:     Pipeline{StreamsCreated: true, FirstDownlink: true},
			requests: []HostRequestKind{RequestDownlinkDisconnect, RequestUplinkDisconnect},
		},
		{
			name:     "call end",
			in:       Pipeline{StreamsCreated: true},
			ev:       ev(StateConnected, StateDisconnected, MsgResetConnResp),
			want:     Pipeline{},
			requests: []HostRequestKind{RequestDeleteStreams},
		},
		{
			name:     "call end without streams still deletes",
			ev:       ev(StateConnected, StateDisconnected, MsgResetConnResp),
			want:     Pipeline{},
			requests: []HostRequestKind{RequestDeleteStreams},
		},
		{
			name:      "modem reset",
			in:        live,
			ev:        ev(StateActiveDLUL, StateDisconnected, MsgEventReset),
			want:      live,
			closeOnEr: true,
		},
		{
			name:     "unrecognized into disconnected resets",
			in:       live,
			ev:       ev(StateActiveDL, StateDisconnected, MsgNone),
			want:     Pipeline{FirstDownlink: true},
			requests: []HostRequestKind{RequestDeleteStreams},
			warnings: 3,
		},
		{
			name: "unrecognized elsewhere is ignored",
			in:   live,
			ev:   ev(StateActiveDL, StateActiveDL, MsgNone),
			want: live,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, eff := Transition(tt.in, tt.ev)
			if got != tt.want {
				t.Errorf("pipeline=%+v, want %+v", got, tt.want)
			}
			if k := kinds(eff.Requests); !slices.Equal(k, tt.requests) {
				t.Errorf("requests=%v, want %v", k, tt.requests)
			}
			if len(eff.Warnings) != tt.warnings {
				t.Errorf("warnings=%q, want %d", eff.Warnings, tt.warnings)
			}
			if eff.CloseOnError != tt.closeOnEr {
				t.Errorf("CloseOnError=%v", eff.CloseOnError)
			}
		})
	}
}

func TestTransitionIsPure(t *testing.T) {
	p := Pipeline{StreamsCreated: true}
	e := ev(StateConnected, StateActiveDL, MsgSpeechConfigReq)
	a, effA := Transition(p, e)
	b, effB := Transition(p, e)
	if a != b || !slices.Equal(kinds(effA.Requests), kinds(effB.Requests)) {
		t.Errorf("two applications differ: %+v/%v vs %+v/%v", a, effA, b, effB)
	}
	if p != (Pipeline{StreamsCreated: true}) {
		t.Errorf("input modified: %+v", p)
	}
}

func TestComputeUplinkDeadline(t *testing.T) {
	tests := []struct {
		name         string
		timing       TimingConfig
		wantOffset   int64
		wantAbsolute int64
	}{
		{
			name:         "folds msec into the frame slot",
			timing:       TimingConfig{Msec: 37, Usec: 500, Timestamp: time.Unix(100, 300)},
			wantOffset:   17500,
			wantAbsolute: 100017500,
		},
		{
			name:         "sub-microsecond nanos truncate",
			timing:       TimingConfig{Msec: 0, Usec: 0, Timestamp: time.Unix(1, 999)},
			wantOffset:   0,
			wantAbsolute: 1000000,
		},
		{
			name:         "exact slot boundary",
			timing:       TimingConfig{Msec: 40, Usec: 1, Timestamp: time.Unix(0, 5000)},
			wantOffset:   1,
			wantAbsolute: 6,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ComputeUplinkDeadline(tt.timing)
			if d.OffsetUs != tt.wantOffset || d.AbsoluteUs != tt.wantAbsolute {
				t.Errorf("got=%+v, want offset=%d abs=%d", d, tt.wantOffset, tt.wantAbsolute)
			}
		})
	}
}

func TestTimingTransitionCarriesDeadline(t *testing.T) {
	e := Event{
		Prev:   StateActiveDLUL,
		State:  StateActiveDLUL,
		Msg:    MsgTimingConfigNtf,
		Timing: TimingConfig{Msec: 37, Usec: 500, Timestamp: time.Unix(100, 300)},
	}
	_, eff := Transition(Pipeline{}, e)
	if eff.Row != RowTimingUpdate || eff.Deadline == nil {
		t.Fatalf("effects=%+v", eff)
	}
	if eff.Deadline.AbsoluteUs != 100017500 {
		t.Errorf("deadline=%d", eff.Deadline.AbsoluteUs)
	}
}

func TestRowText(t *testing.T) {
	for r := RowUnrecognized; r <= RowCallEnd; r++ {
		b, err := r.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var got Row
		if err := got.UnmarshalText(b); err != nil || got != r {
			t.Errorf("round trip of %v: got=%v err=%v", r, got, err)
		}
	}
}
