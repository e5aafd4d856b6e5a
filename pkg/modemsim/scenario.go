package modemsim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haivivi/cmtbridge/pkg/cmtspeech"
	"github.com/haivivi/cmtbridge/pkg/jsontime"
)

// Scenario is a scripted call. Steps run in order; each step first waits
// After and then applies every action it carries.
//
// Example (YAML):
//
//	name: basic-call
//	steps:
//	  - signal: {kind: call_connect, ul: true, dl: true}
//	  - event: {to: connected, msg: ssi_config_resp}
//	  - event: {to: active_dl, msg: speech_config_req, speech: {sample_rate: 8000}}
//	  - after: 20ms
//	    downlink: 5
//	  - event: {to: active_dlul, msg: ul_data_ready}
//	  - event: {to: active_dlul, msg: timing_config_ntf, timing: {msec: 7, usec: 500}}
//	    uplink: 5
//	  - event: {to: connected, msg: speech_config_req}
//	  - event: {to: disconnected, msg: reset_conn_resp}
type Scenario struct {
	Name  string `json:"name" yaml:"name"`
	Steps []Step `json:"steps" yaml:"steps"`
}

// Step is one scenario step.
type Step struct {
	After jsontime.Duration `json:"after,omitempty" yaml:"after,omitempty"`

	// Event queues a modem control event.
	Event *EventStep `json:"event,omitempty" yaml:"event,omitempty"`

	// Downlink queues that many downlink frames.
	Downlink int `json:"downlink,omitempty" yaml:"downlink,omitempty"`

	// Uplink sends that many uplink frames through the bridge.
	Uplink int `json:"uplink,omitempty" yaml:"uplink,omitempty"`

	// Signal delivers a control-plane notification to the bridge.
	Signal *cmtspeech.Signal `json:"signal,omitempty" yaml:"signal,omitempty"`

	// Fault injects a fault: "reset" queues a modem reset event,
	// "ul_eio" fails the next uplink send with an I/O error.
	Fault string `json:"fault,omitempty" yaml:"fault,omitempty"`
}

// EventStep describes a control event. The previous state is the modem's
// current state.
type EventStep struct {
	To     cmtspeech.ProtocolState `json:"to" yaml:"to"`
	Msg    cmtspeech.MsgType       `json:"msg" yaml:"msg"`
	Speech cmtspeech.SpeechConfig  `json:"speech,omitzero" yaml:"speech,omitempty"`
	Timing *TimingStep             `json:"timing,omitempty" yaml:"timing,omitempty"`
}

// TimingStep is a timing notification. The timestamp is taken when the
// step runs.
type TimingStep struct {
	Msec int `json:"msec" yaml:"msec"`
	Usec int `json:"usec" yaml:"usec"`
}

// Bridge is what a scenario drives besides the Sim.
type Bridge interface {
	HandleSignal(sig cmtspeech.Signal)
	SendUplink(payload []byte) error
}

// Fault names accepted by Step.Fault.
const (
	FaultReset = "reset"
	FaultULEIO = "ul_eio"
)

// ErrUnknownFault is returned for an unsupported Step.Fault.
var ErrUnknownFault = errors.New("modemsim: unknown fault")

// Result summarises a scenario run.
type Result struct {
	Steps        int      `json:"steps" yaml:"steps"`
	Events       int      `json:"events" yaml:"events"`
	Downlink     int      `json:"downlink" yaml:"downlink"`
	UplinkSent   int      `json:"ul_sent" yaml:"ul_sent"`
	UplinkErrors []string `json:"ul_errors,omitempty" yaml:"ul_errors,omitempty"`
}

// Validate checks the scenario without running it.
func (sc *Scenario) Validate() error {
	for i, st := range sc.Steps {
		switch st.Fault {
		case "", FaultReset, FaultULEIO:
		default:
			return fmt.Errorf("step %d: %w %q", i, ErrUnknownFault, st.Fault)
		}
		if st.Downlink < 0 || st.Uplink < 0 {
			return fmt.Errorf("step %d: negative frame count", i)
		}
		if st.After < 0 {
			return fmt.Errorf("step %d: negative delay", i)
		}
	}
	return nil
}

// Run plays sc against the Sim and b. It stops early when ctx is done.
// Uplink send errors are collected in the Result rather than aborting.
func (s *Sim) Run(ctx context.Context, sc *Scenario, b Bridge) (Result, error) {
	var res Result
	if err := sc.Validate(); err != nil {
		return res, err
	}
	seq := 0
	for i, st := range sc.Steps {
		if d := st.After.Duration(); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return res, ctx.Err()
			case <-t.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if st.Signal != nil {
			b.HandleSignal(*st.Signal)
		}
		switch st.Fault {
		case FaultReset:
			s.Transition(s.State(), cmtspeech.MsgEventReset)
			res.Events++
		case FaultULEIO:
			s.FailUplinkRelease(fmt.Errorf("modemsim: injected uplink failure: %w", cmtspeech.ErrIO))
		}
		if ev := st.Event; ev != nil {
			e := cmtspeech.Event{Prev: s.State(), State: ev.To, Msg: ev.Msg, Speech: ev.Speech}
			if ev.Timing != nil {
				e.Timing = cmtspeech.TimingConfig{Msec: ev.Timing.Msec, Usec: ev.Timing.Usec, Timestamp: time.Now()}
			}
			s.PushEvent(e)
			res.Events++
		}
		for j := 0; j < st.Downlink; j++ {
			seq++
			if err := s.PushDownlink(Tone(s.cfg.FrameBytes, seq)); err != nil {
				return res, fmt.Errorf("step %d: %w", i, err)
			}
			res.Downlink++
		}
		for j := 0; j < st.Uplink; j++ {
			seq++
			if err := b.SendUplink(Tone(s.cfg.FrameBytes, seq)); err != nil {
				res.UplinkErrors = append(res.UplinkErrors, err.Error())
				continue
			}
			res.UplinkSent++
		}
		res.Steps++
	}
	return res, nil
}

// Tone returns an n-byte payload whose bytes all equal seq modulo 256, so a
// frame can be identified by any of its bytes.
func Tone(n, seq int) []byte {
	return bytes.Repeat([]byte{byte(seq)}, n)
}
