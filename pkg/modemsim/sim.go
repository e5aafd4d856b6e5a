// Package modemsim simulates a modem speech data endpoint.
//
// A Sim implements cmtspeech.Opener. Every handle it opens shares the Sim's
// modem state: the protocol state, the queue of pending control events and
// downlink frames, and the buffer pools. Handles expose a real pipe
// descriptor that is readable exactly while something is pending, so a
// cmtspeech.Connection can poll it like the real device.
//
// Tests use the fault injection methods (FailOpens, FailDownlinkAcquire,
// FailUplinkRelease) and the accounting methods (Counters, Uplink) to check
// buffer ownership and recovery behavior.
package modemsim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/haivivi/cmtbridge/pkg/cmtspeech"
	"golang.org/x/sys/unix"
)

// Sentinel errors.
var (
	ErrOpenFailed     = errors.New("modemsim: open failed")
	ErrClosed         = fmt.Errorf("modemsim: handle closed: %w", cmtspeech.ErrIO)
	ErrNotOutstanding = errors.New("modemsim: buffer not outstanding")
	ErrNoEvent        = errors.New("modemsim: no event pending")
)

// Config configures a Sim.
type Config struct {
	// FrameBytes is the audio payload size of one frame. Default 320, which
	// is 20 ms of 16-bit mono audio at 8 kHz.
	FrameBytes int

	// DownlinkBuffers is the number of downlink buffers the modem can lend
	// out at once. Default 8.
	DownlinkBuffers int
}

// Counters is a snapshot of the simulator's accounting.
type Counters struct {
	Opens             int `json:"opens" yaml:"opens"`
	Closes            int `json:"closes" yaml:"closes"`
	DownlinkAcquired  int `json:"dl_acquired" yaml:"dl_acquired"`
	DownlinkReleased  int `json:"dl_released" yaml:"dl_released"`
	DownlinkReclaimed int `json:"dl_reclaimed" yaml:"dl_reclaimed"`
	DoubleReleases    int `json:"double_releases" yaml:"double_releases"`
	UplinkSent        int `json:"ul_sent" yaml:"ul_sent"`
	InjectedErrors    int `json:"injected_errors" yaml:"injected_errors"`
}

// Outstanding returns the number of downlink buffers lent out and not yet
// released or reclaimed.
func (c Counters) Outstanding() int {
	return c.DownlinkAcquired - c.DownlinkReleased - c.DownlinkReclaimed
}

// Sim is a simulated modem.
type Sim struct {
	mu sync.Mutex

	cfg   Config
	state cmtspeech.ProtocolState

	events   []cmtspeech.Event
	downlink [][]byte
	uplink   [][]byte
	free     []*cmtspeech.Buffer

	activeOverride *bool
	callStatus     *bool
	callConnect    *bool

	failOpens     int
	failDLAcquire int
	failULRelease error

	current  *handle
	counters Counters
}

// New creates a Sim. cfg may be nil.
func New(cfg *Config) *Sim {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.FrameBytes <= 0 {
		c.FrameBytes = 320
	}
	if c.DownlinkBuffers <= 0 {
		c.DownlinkBuffers = 8
	}
	s := &Sim{cfg: c}
	for i := 0; i < c.DownlinkBuffers; i++ {
		s.free = append(s.free, s.newBuffer())
	}
	return s
}

func (s *Sim) newBuffer() *cmtspeech.Buffer {
	return &cmtspeech.Buffer{
		Data:      make([]byte, cmtspeech.DataHeaderLen+s.cfg.FrameBytes),
		HeaderLen: cmtspeech.DataHeaderLen,
	}
}

// FrameBytes returns the payload size of one frame.
func (s *Sim) FrameBytes() int {
	return s.cfg.FrameBytes
}

// Open implements cmtspeech.Opener. Only one handle is open at a time;
// opening while a handle is open fails.
func (s *Sim) Open() (cmtspeech.Protocol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOpens > 0 {
		s.failOpens--
		return nil, ErrOpenFailed
	}
	if s.current != nil {
		return nil, fmt.Errorf("%w: already open", ErrOpenFailed)
	}
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, fmt.Errorf("modemsim: pipe: %w", err)
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		unix.SetNonblock(fd, true)
	}
	h := &handle{sim: s, r: p[0], w: p[1], owned: map[*cmtspeech.Buffer]bool{}}
	s.current = h
	s.counters.Opens++
	s.syncLocked()
	return h, nil
}

// State returns the modem's protocol state.
func (s *Sim) State() cmtspeech.ProtocolState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsOpen reports whether a handle is open.
func (s *Sim) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// PushEvent queues a control event and moves the modem to ev.State.
func (s *Sim) PushEvent(ev cmtspeech.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	s.state = ev.State
	s.syncLocked()
}

// Transition queues a control event moving from the current state to to.
func (s *Sim) Transition(to cmtspeech.ProtocolState, msg cmtspeech.MsgType) cmtspeech.Event {
	s.mu.Lock()
	ev := cmtspeech.Event{Prev: s.state, State: to, Msg: msg}
	s.mu.Unlock()
	s.PushEvent(ev)
	return ev
}

// PushDownlink queues a received downlink frame. payload is copied when the
// frame is acquired; it may be shorter than FrameBytes.
func (s *Sim) PushDownlink(payload []byte) error {
	if len(payload) > s.cfg.FrameBytes {
		return fmt.Errorf("modemsim: frame of %d bytes exceeds %d", len(payload), s.cfg.FrameBytes)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downlink = append(s.downlink, append([]byte(nil), payload...))
	s.syncLocked()
	return nil
}

// SetActive overrides the active predicate. By default the endpoint is
// active in StateActiveDL and StateActiveDLUL.
func (s *Sim) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeOverride = &active
}

// FailOpens makes the next n opens fail.
func (s *Sim) FailOpens(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOpens = n
}

// FailDownlinkAcquire makes the next n downlink acquires fail.
func (s *Sim) FailDownlinkAcquire(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDLAcquire = n
}

// FailUplinkRelease makes the next uplink send fail with err.
func (s *Sim) FailUplinkRelease(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failULRelease = err
}

// Uplink returns copies of the uplink payloads sent so far.
func (s *Sim) Uplink() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.uplink))
	copy(out, s.uplink)
	return out
}

// CallStatus returns the last injected call status.
func (s *Sim) CallStatus() (active, set bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callStatus == nil {
		return false, false
	}
	return *s.callStatus, true
}

// CallConnect returns the last injected call connect value.
func (s *Sim) CallConnect() (connected, set bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callConnect == nil {
		return false, false
	}
	return *s.callConnect, true
}

// Counters returns a snapshot of the accounting.
func (s *Sim) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// Pending reports the number of queued control events and downlink frames.
func (s *Sim) Pending() (events, frames int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events), len(s.downlink)
}

func (s *Sim) activeLocked() bool {
	if s.activeOverride != nil {
		return *s.activeOverride
	}
	return s.state == cmtspeech.StateActiveDL || s.state == cmtspeech.StateActiveDLUL
}

func (s *Sim) flagsLocked() cmtspeech.EventFlags {
	var f cmtspeech.EventFlags
	if len(s.events) > 0 {
		f |= cmtspeech.EventControl
	}
	if len(s.downlink) > 0 {
		f |= cmtspeech.EventDownlinkData
	}
	return f
}

// syncLocked makes the current handle's descriptor readable exactly when
// something is pending.
func (s *Sim) syncLocked() {
	if s.current == nil {
		return
	}
	s.current.setReadable(s.flagsLocked() != 0)
}
