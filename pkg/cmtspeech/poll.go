package cmtspeech

import (
	"errors"
	"io"
	"time"

	"golang.org/x/sys/unix"
)

// wakeup is a self-pipe used to interrupt the event loop's poll from other
// goroutines.
type wakeup struct {
	r, w int
}

func newWakeup() (*wakeup, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, err
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, err
		}
	}
	return &wakeup{r: p[0], w: p[1]}, nil
}

// signal makes the read end readable. A full pipe already guarantees a
// pending wake-up, so EAGAIN is not an error.
func (w *wakeup) signal() error {
	for {
		_, err := unix.Write(w.w, []byte{1})
		switch {
		case err == nil, errors.Is(err, unix.EAGAIN):
			return nil
		case errors.Is(err, unix.EINTR):
			continue
		default:
			return err
		}
	}
}

// drain consumes all pending wake-ups.
func (w *wakeup) drain() error {
	var b [64]byte
	for {
		n, err := unix.Read(w.r, b[:])
		switch {
		case errors.Is(err, unix.EAGAIN):
			return nil
		case errors.Is(err, unix.EINTR):
			continue
		case err != nil:
			return err
		case n == 0:
			return io.ErrUnexpectedEOF
		case n < len(b):
			return nil
		}
	}
}

func (w *wakeup) close() {
	unix.Close(w.r)
	unix.Close(w.w)
}

// pollSet is the descriptor set of one loop iteration: the wake pipe always,
// and the protocol descriptor when a handle is open.
type pollSet struct {
	fds     []unix.PollFd
	timeout int
}

func newPollSet(wakeFd, protoFd int, timerAt, now time.Time) pollSet {
	ps := pollSet{
		fds:     []unix.PollFd{{Fd: int32(wakeFd), Events: unix.POLLIN}},
		timeout: pollTimeout(timerAt, now),
	}
	if protoFd >= 0 {
		ps.fds = append(ps.fds, unix.PollFd{Fd: int32(protoFd), Events: unix.POLLIN})
	}
	return ps
}

func (ps *pollSet) wait() error {
	_, err := unix.Poll(ps.fds, ps.timeout)
	return err
}

func (ps *pollSet) wakeEvents() int16 { return ps.fds[0].Revents }

// protoEvents returns the protocol descriptor's events and false if the set
// has no protocol descriptor.
func (ps *pollSet) protoEvents() (int16, bool) {
	if len(ps.fds) < 2 {
		return 0, false
	}
	return ps.fds[1].Revents, true
}

// pollTimeout converts an absolute timer into a poll timeout in milliseconds,
// rounding up so the timer has elapsed when poll returns. A zero timer means
// no timeout.
func pollTimeout(timerAt, now time.Time) int {
	if timerAt.IsZero() {
		return -1
	}
	d := timerAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}

const pollFailure = unix.POLLERR | unix.POLLHUP | unix.POLLNVAL
