package modemsim

import (
	"fmt"

	"github.com/haivivi/cmtbridge/pkg/cmtspeech"
	"golang.org/x/sys/unix"
)

// handle is an open connection to a Sim. All methods take the Sim lock.
type handle struct {
	sim      *Sim
	r, w     int
	readable bool
	closed   bool

	// owned tracks downlink buffers lent out through this handle.
	owned map[*cmtspeech.Buffer]bool
}

var _ cmtspeech.Protocol = (*handle)(nil)

func (h *handle) setReadable(v bool) {
	if h.closed || h.readable == v {
		return
	}
	var b [1]byte
	if v {
		b[0] = 1
		unix.Write(h.w, b[:])
	} else {
		unix.Read(h.r, b[:])
	}
	h.readable = v
}

func (h *handle) Descriptor() int {
	return h.r
}

func (h *handle) CheckPending() (cmtspeech.EventFlags, error) {
	s := h.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.closed {
		return 0, ErrClosed
	}
	return s.flagsLocked(), nil
}

func (h *handle) ReadEvent() (cmtspeech.Event, error) {
	s := h.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.closed {
		return cmtspeech.Event{}, ErrClosed
	}
	if len(s.events) == 0 {
		return cmtspeech.Event{}, ErrNoEvent
	}
	ev := s.events[0]
	s.events = s.events[1:]
	s.syncLocked()
	return ev, nil
}

func (h *handle) IsActive() bool {
	s := h.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	return !h.closed && s.activeLocked()
}

func (h *handle) AcquireDownlink() (*cmtspeech.Buffer, error) {
	s := h.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	if len(s.downlink) == 0 {
		return nil, cmtspeech.ErrBufferUnavailable
	}
	if s.failDLAcquire > 0 {
		s.failDLAcquire--
		s.downlink = s.downlink[1:]
		s.syncLocked()
		return nil, fmt.Errorf("modemsim: injected acquire failure: %w", cmtspeech.ErrBufferUnavailable)
	}
	if len(s.free) == 0 {
		return nil, fmt.Errorf("modemsim: no free DL buffer: %w", cmtspeech.ErrBufferUnavailable)
	}
	payload := s.downlink[0]
	s.downlink = s.downlink[1:]
	b := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	clear(b.Data)
	b.Count = b.HeaderLen + copy(b.Data[b.HeaderLen:], payload)
	h.owned[b] = true
	s.counters.DownlinkAcquired++
	s.syncLocked()
	return b, nil
}

func (h *handle) ReleaseDownlink(b *cmtspeech.Buffer) error {
	s := h.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if !h.owned[b] {
		s.counters.DoubleReleases++
		return ErrNotOutstanding
	}
	delete(h.owned, b)
	s.free = append(s.free, b)
	s.counters.DownlinkReleased++
	return nil
}

func (h *handle) FindDownlink(payload []byte) *cmtspeech.Buffer {
	s := h.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.closed {
		return nil
	}
	for b := range h.owned {
		if b.SamePayload(payload) {
			return b
		}
	}
	return nil
}

func (h *handle) AcquireUplink() (*cmtspeech.Buffer, error) {
	s := h.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	b := s.newBuffer()
	b.Count = len(b.Data)
	return b, nil
}

func (h *handle) ReleaseUplink(b *cmtspeech.Buffer) error {
	s := h.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if err := s.failULRelease; err != nil {
		s.failULRelease = nil
		return err
	}
	s.uplink = append(s.uplink, append([]byte(nil), b.Payload()...))
	s.counters.UplinkSent++
	return nil
}

func (h *handle) InjectCallConnect(connected bool) error {
	s := h.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	s.callConnect = &connected
	return nil
}

func (h *handle) InjectCallStatus(active bool) error {
	s := h.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	s.callStatus = &active
	return nil
}

// InjectError drops the speech session: the modem returns to
// StateDisconnected and forgets pending traffic.
func (h *handle) InjectError() error {
	s := h.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	s.counters.InjectedErrors++
	s.state = cmtspeech.StateDisconnected
	s.activeOverride = nil
	s.events = nil
	s.downlink = nil
	s.syncLocked()
	return nil
}

// Close reclaims every buffer still lent out through this handle.
func (h *handle) Close() error {
	s := h.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	for b := range h.owned {
		s.free = append(s.free, b)
		s.counters.DownlinkReclaimed++
	}
	clear(h.owned)
	h.closed = true
	s.state = cmtspeech.StateDisconnected
	s.activeOverride = nil
	unix.Close(h.r)
	unix.Close(h.w)
	if s.current == h {
		s.current = nil
	}
	s.counters.Closes++
	return nil
}
