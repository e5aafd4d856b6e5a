package cmtspeech

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// loop is the event loop goroutine. w is the wake pipe created by Start.
func (c *Connection) loop(w *wakeup) {
	defer close(c.done)

	c.thread.CompareAndSwap(ThreadStarting, ThreadRunning)

	// retryAt is the next open attempt while no handle is open. It is
	// cleared once it elapses so the next iteration retries.
	var retryAt time.Time
	for {
		if retryAt.IsZero() && !c.ensureOpen() {
			retryAt = time.Now().Add(c.cfg.OpenRetryInterval)
		}

		fd, gen := c.descriptor()
		ps := newPollSet(w.r, fd, c.nextTimer(retryAt), time.Now())
		err := ps.wait()

		if c.thread.Load() == ThreadAskQuit {
			break
		}
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			c.logger.ErrorPrintf("poll failed: %v", err)
			c.CloseOnError()
			continue
		}

		now := time.Now()
		if !retryAt.IsZero() && !now.Before(retryAt) {
			retryAt = time.Time{}
		}

		if re := ps.wakeEvents(); re != 0 {
			if re&pollFailure != 0 {
				c.requestUnload("wake signal unusable")
				break
			}
			if err := c.drainWake(w); err != nil {
				c.requestUnload("drain wake signal: " + err.Error())
				break
			}
		}

		re, ok := ps.protoEvents()
		if !ok {
			c.watchdogPass(now)
			continue
		}
		if c.generation() != gen {
			// The handle polled was closed meanwhile.
			continue
		}
		switch {
		case re&pollFailure != 0:
			c.logger.ErrorPrintf("speech endpoint descriptor failed (revents=%#x)", re)
			c.CloseOnError()
		case re&unix.POLLIN != 0:
			c.serviceProtocol()
		default:
			c.watchdogPass(now)
		}
	}

	c.CloseOnError()
	c.thread.CompareAndSwap(ThreadAskQuit, ThreadQuit)
}

// nextTimer returns the loop timer: the open retry, or the watchdog deadline
// while the watchdog is active, whichever comes first. An expired deadline
// keeps poll from blocking until a pass with an idle descriptor consumes it.
func (c *Connection) nextTimer(retryAt time.Time) time.Time {
	if c.wd.load() != WatchdogActive {
		return retryAt
	}
	deadline := c.wd.deadlineTime()
	if retryAt.IsZero() || deadline.Before(retryAt) {
		return deadline
	}
	return retryAt
}

// requestUnload asks the host to unload the bridge and parks the loop until
// Stop moves the lifecycle to AskQuit.
func (c *Connection) requestUnload(reason string) {
	c.logger.ErrorPrintf("event loop cannot continue (%s), requesting unload", reason)
	c.host.Post(HostRequest{Kind: RequestUnload, Reason: reason})
	c.record(Record{Kind: RecordUnload, Detail: reason})
	<-c.askQuit
}

// ensureOpen opens the speech endpoint if no handle is open. It reports
// whether a handle is open afterwards.
func (c *Connection) ensureOpen() bool {
	var (
		opened bool
		have   bool
		err    error
	)
	c.cell.with(func(l *locked) {
		if l.proto != nil {
			have = true
			return
		}
		p, oerr := c.opener.Open()
		if oerr != nil {
			err = oerr
			return
		}
		if p == nil {
			err = errors.New("opener returned no handle")
			return
		}
		l.proto = p
		l.gen++
		have, opened = true, true
	})
	if err != nil {
		c.counters.openFailures.Add(1)
		if c.openFail.allow() {
			c.logger.ErrorPrintf("open speech endpoint: %v", err)
		}
		return false
	}
	if opened {
		if n := c.openFail.reset(); n > 0 {
			c.logger.InfoPrintf("speech endpoint opened after %d failed attempts", n)
		} else {
			c.logger.DebugPrintf("speech endpoint opened")
		}
		c.record(Record{Kind: RecordOpen})
	}
	return have
}

// descriptor returns the protocol descriptor, or -1 if no handle is open,
// along with the handle generation.
func (c *Connection) descriptor() (fd int, gen uint64) {
	fd = -1
	c.cell.with(func(l *locked) {
		gen = l.gen
		if l.proto != nil {
			fd = l.proto.Descriptor()
		}
	})
	return fd, gen
}

// generation returns the generation of the open handle, or 0 if none is
// open.
func (c *Connection) generation() uint64 {
	var gen uint64
	c.cell.with(func(l *locked) {
		if l.proto != nil {
			gen = l.gen
		}
	})
	return gen
}

// serviceProtocol handles a readable protocol descriptor.
func (c *Connection) serviceProtocol() {
	var (
		flags EventFlags
		err   error
		have  bool
	)
	c.cell.with(func(l *locked) {
		if l.proto == nil {
			return
		}
		have = true
		flags, err = l.proto.CheckPending()
	})
	if !have {
		return
	}
	if err != nil {
		c.logger.ErrorPrintf("check pending: %v", err)
		if errors.Is(err, ErrIO) {
			c.CloseOnError()
		}
		return
	}

	if flags.Has(EventControl) {
		if end := c.serviceControl(); end {
			return
		}
	}
	if flags.Has(EventDownlinkData) {
		c.serviceDownlink()
	}
}

// serviceControl reads one control event and applies the transition table.
// It reports true if the cycle must end.
func (c *Connection) serviceControl() bool {
	var (
		ev   Event
		err  error
		eff  Effects
		read bool
	)
	c.cell.with(func(l *locked) {
		if l.proto == nil {
			return
		}
		ev, err = l.proto.ReadEvent()
		if err != nil {
			return
		}
		read = true
		l.pipe, eff = Transition(l.pipe, ev)
	})
	if err != nil {
		c.logger.ErrorPrintf("unable to read event: %v", err)
		if errors.Is(err, ErrIO) {
			c.CloseOnError()
			return true
		}
		return false
	}
	if !read {
		return false
	}

	c.logger.DebugPrintf("read event: %v", ev)
	for _, w := range eff.Warnings {
		c.logger.WarnPrintf("%s", w)
	}

	switch eff.Row {
	case RowModemReset:
		c.logger.WarnPrintf("modem reset detected")
	case RowCallStart:
		c.logger.DebugPrintf("call starting")
	case RowSpeechStart:
		c.logger.InfoPrintf("speech start: srate=%d, format=%d, stream=%d",
			ev.Speech.SampleRate, ev.Speech.DataFormat, ev.Speech.Stream)
	case RowSpeechUpdate:
		c.logger.InfoPrintf("speech update: srate=%d, format=%d, stream=%d",
			ev.Speech.SampleRate, ev.Speech.DataFormat, ev.Speech.Stream)
	case RowUplinkStart:
		c.logger.DebugPrintf("enabling UL")
	case RowSpeechStop:
		c.logger.InfoPrintf("speech stop: stream=%d", ev.Speech.Stream)
	case RowCallEnd:
		c.logger.DebugPrintf("call terminated")
	case RowUnrecognized:
		c.logger.ErrorPrintf("unrecognized event: %v", ev)
	}

	for _, req := range eff.Requests {
		c.host.Post(req)
	}
	if d := eff.Deadline; d != nil {
		c.forwardDeadline(ev.Timing, *d)
	}

	evCopy := ev
	c.record(Record{Kind: RecordTransition, Row: eff.Row, Event: &evCopy})

	if eff.CloseOnError {
		c.CloseOnError()
		return true
	}
	return false
}

func (c *Connection) forwardDeadline(t TimingConfig, d UplinkDeadline) {
	c.logger.DebugPrintf("msec=%d usec=%d rtclock=%d.%09d", t.Msec, t.Usec, t.Timestamp.Unix(), t.Timestamp.Nanosecond())
	c.logger.DebugPrintf("deadline at %d (%d usec from msg receival)", d.AbsoluteUs, d.OffsetUs)
	if !c.host.UplinkLinked() {
		c.logger.ErrorPrintf("no destination where to send timing info")
		return
	}
	c.host.Post(HostRequest{Kind: RequestUplinkDeadline, DeadlineUs: d.AbsoluteUs})
}

// serviceDownlink acquires one downlink frame and hands it to the queue, or
// releases it if it cannot be delivered.
func (c *Connection) serviceDownlink() {
	var (
		buf     *Buffer
		err     error
		have    bool
		active  bool
		playing bool
		first   bool
		gen     uint64
	)
	c.cell.with(func(l *locked) {
		if l.proto == nil {
			return
		}
		have = true
		gen = l.gen
		active = l.proto.IsActive()
		buf, err = l.proto.AcquireDownlink()
		if err != nil {
			return
		}
		playing = l.pipe.PlaybackRunning
		if playing && !l.pipe.FirstDownlink {
			l.pipe.FirstDownlink = true
			first = true
		}
	})
	if !have {
		return
	}
	if err != nil {
		c.counters.dlFailed.Add(1)
		if c.dlAcquire.allow() {
			c.logger.ErrorPrintf("invalid DL frame received, acquire failed: %v", err)
		}
		return
	}

	c.counters.dlReceived.Add(1)
	f := c.newFrame(buf, gen)
	payload := buf.Payload()
	if c.dlDebug.allow() {
		c.logger.DebugPrintf("DL frame %d (audio len %d) first bytes % x", f.Seq, len(payload), head(payload, 8))
	}

	switch {
	case len(payload) == 0:
		c.logger.WarnPrintf("no data in DL frame %d", f.Seq)
		c.counters.dlDropped.Add(1)
		f.Release()
	case playing:
		if first {
			c.logger.DebugPrintf("DL frame received, turn DL routing on")
		}
		if !c.queue.TryAdd(f) {
			c.logger.ErrorPrintf("failed to push DL frame %d to queue", f.Seq)
			c.counters.dlDropped.Add(1)
			f.Release()
			return
		}
		c.counters.dlQueued.Add(1)
	default:
		if !active {
			c.logger.DebugPrintf("DL frame received before ACTIVE_DL state, dropping")
		} else {
			c.logger.DebugPrintf("DL frame received while playback stopped, dropping")
		}
		c.counters.dlDropped.Add(1)
		f.Release()
	}
}

func head(b []byte, n int) []byte {
	if len(b) < n {
		return b
	}
	return b[:n]
}
