package cmtspeech

import (
	"fmt"
	"time"
)

// Row identifies which entry of the transition table an event matched.
type Row int

const (
	RowUnrecognized Row = iota
	RowModemReset
	RowCallStart
	RowSpeechStart
	RowSpeechUpdate
	RowUplinkStart
	RowTimingUpdate
	RowSpeechStop
	RowCallEnd
)

// String returns the string representation of the row.
func (r Row) String() string {
	switch r {
	case RowModemReset:
		return "modem_reset"
	case RowCallStart:
		return "call_start"
	case RowSpeechStart:
		return "speech_start"
	case RowSpeechUpdate:
		return "speech_update"
	case RowUplinkStart:
		return "uplink_start"
	case RowTimingUpdate:
		return "timing_update"
	case RowSpeechStop:
		return "speech_stop"
	case RowCallEnd:
		return "call_end"
	default:
		return "unrecognized"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Row) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Row) UnmarshalText(b []byte) error {
	for v := RowUnrecognized; v <= RowCallEnd; v++ {
		if v.String() == string(b) {
			*r = v
			return nil
		}
	}
	return fmt.Errorf("cmtspeech: unknown row %q", b)
}

// Decide selects the transition table row for ev. Rows are checked top to
// bottom; the modem reset row wins over every state tuple.
func Decide(ev Event) Row {
	switch {
	case ev.Msg == MsgEventReset:
		return RowModemReset
	case ev.Prev == StateDisconnected && ev.State == StateConnected:
		return RowCallStart
	case ev.Prev == StateConnected && ev.State == StateActiveDL && ev.Msg == MsgSpeechConfigReq:
		return RowSpeechStart
	case ev.Prev == StateActiveDLUL && ev.State == StateActiveDL && ev.Msg == MsgSpeechConfigReq:
		return RowSpeechUpdate
	case ev.Prev == StateActiveDL && ev.State == StateActiveDLUL:
		return RowUplinkStart
	case ev.State == StateActiveDLUL && ev.Msg == MsgTimingConfigNtf:
		return RowTimingUpdate
	case (ev.Prev == StateActiveDL || ev.Prev == StateActiveDLUL) && ev.State == StateConnected:
		return RowSpeechStop
	case ev.Prev == StateConnected && ev.State == StateDisconnected:
		return RowCallEnd
	}
	return RowUnrecognized
}

// Pipeline is the local view of the host audio graph driven by modem events.
type Pipeline struct {
	StreamsCreated  bool `json:"streams_created" yaml:"streams_created"`
	PlaybackRunning bool `json:"playback_running" yaml:"playback_running"`
	RecordRunning   bool `json:"record_running" yaml:"record_running"`
	FirstDownlink   bool `json:"first_dl_frame_received" yaml:"first_dl_frame_received"`
	UplinkFrames    int  `json:"ul_frames" yaml:"ul_frames"`
}

// Effects lists what applying a transition requires of the caller.
type Effects struct {
	Row Row

	// Requests are posted to the host graph in order.
	Requests []HostRequest

	// Warnings describe stale pipeline state that had to be torn down.
	Warnings []string

	// CloseOnError asks the caller to run recovery and end the cycle.
	CloseOnError bool

	// Deadline is set for RowTimingUpdate.
	Deadline *UplinkDeadline
}

// Transition applies ev to p. It is a pure function of its arguments.
func Transition(p Pipeline, ev Event) (Pipeline, Effects) {
	eff := Effects{Row: Decide(ev)}
	switch eff.Row {
	case RowModemReset:
		eff.CloseOnError = true

	case RowCallStart:
		p = resetStreams(p, &eff)
		eff.Requests = append(eff.Requests, HostRequest{Kind: RequestCreateStreams})
		p.StreamsCreated = true

	case RowSpeechStart:
		eff.Requests = append(eff.Requests, HostRequest{Kind: RequestDownlinkConnect})
		p.PlaybackRunning = true
		p.FirstDownlink = false

	case RowSpeechUpdate:

	case RowUplinkStart:
		eff.Requests = append(eff.Requests, HostRequest{Kind: RequestUplinkConnect})
		p.RecordRunning = true

	case RowTimingUpdate:
		d := ComputeUplinkDeadline(ev.Timing)
		eff.Deadline = &d

	case RowSpeechStop:
		eff.Requests = append(eff.Requests,
			HostRequest{Kind: RequestDownlinkDisconnect},
			HostRequest{Kind: RequestUplinkDisconnect},
		)
		p.PlaybackRunning = false
		p.RecordRunning = false
		p.UplinkFrames = 0

	case RowCallEnd:
		eff.Requests = append(eff.Requests, HostRequest{Kind: RequestDeleteStreams})
		p.StreamsCreated = false
		p = resetStreams(p, &eff)

	case RowUnrecognized:
		if ev.State == StateDisconnected {
			p = resetStreams(p, &eff)
		}
	}
	return p, eff
}

// resetStreams clears every pipeline flag, requesting stream deletion if
// streams still exist.
func resetStreams(p Pipeline, eff *Effects) Pipeline {
	if p.StreamsCreated {
		eff.Warnings = append(eff.Warnings, "DL/UL streams existed at reset, closing")
		eff.Requests = append(eff.Requests, HostRequest{Kind: RequestDeleteStreams})
		p.StreamsCreated = false
	}
	if p.PlaybackRunning {
		eff.Warnings = append(eff.Warnings, "DL stream was open, closing")
		p.PlaybackRunning = false
	}
	if p.RecordRunning {
		eff.Warnings = append(eff.Warnings, "UL stream was open, closing")
		p.RecordRunning = false
		p.UplinkFrames = 0
	}
	return p
}

// uplinkSlot is the period of the modem's uplink frame schedule.
const uplinkSlot = 20 * time.Millisecond

// UplinkDeadline is the next uplink send deadline derived from a timing
// notification.
type UplinkDeadline struct {
	// OffsetUs is the deadline relative to the notification timestamp.
	OffsetUs int64
	// AbsoluteUs is the deadline in microseconds since the Unix epoch.
	AbsoluteUs int64
}

// ComputeUplinkDeadline computes the uplink deadline for a timing
// notification: the millisecond offset is folded into the 20 ms frame slot
// and added to the notification's wall-clock timestamp.
func ComputeUplinkDeadline(t TimingConfig) UplinkDeadline {
	slotMs := int64(uplinkSlot / time.Millisecond)
	offset := (int64(t.Msec)%slotMs)*1000 + int64(t.Usec)
	ts := t.Timestamp.Unix()*1_000_000 + int64(t.Timestamp.Nanosecond())/1000
	return UplinkDeadline{OffsetUs: offset, AbsoluteUs: ts + offset}
}
