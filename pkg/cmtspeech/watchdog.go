package cmtspeech

import (
	"sync/atomic"
	"time"
)

// watchdog closes an endpoint that stays active after the call server said
// the call is over. State moves by compare-and-swap only, so at most one
// goroutine holds WatchdogCleanupInProgress at a time.
type watchdog struct {
	state    atomic.Int32
	deadline atomic.Int64 // unix nanoseconds
	timeout  time.Duration
}

func (w *watchdog) load() WatchdogState { return WatchdogState(w.state.Load()) }

func (w *watchdog) store(s WatchdogState) { w.state.Store(int32(s)) }

func (w *watchdog) cas(old, new WatchdogState) bool {
	return w.state.CompareAndSwap(int32(old), int32(new))
}

// arm moves the deadline to now+timeout and activates the watchdog if it is
// inactive. It reports whether the state changed.
func (w *watchdog) arm(now time.Time) bool {
	w.deadline.Store(now.Add(w.timeout).UnixNano())
	return w.cas(WatchdogInactive, WatchdogActive)
}

// pause deactivates an active watchdog. It reports whether the state
// changed.
func (w *watchdog) pause() bool {
	return w.cas(WatchdogActive, WatchdogInactive)
}

func (w *watchdog) deadlineTime() time.Time {
	return time.Unix(0, w.deadline.Load())
}

// watchdogVerdict is the outcome of one cleanup pass.
type watchdogVerdict int

const (
	verdictDisarm watchdogVerdict = iota
	verdictRearm
	verdictExpire
)

// decideWatchdog is the pure part of a cleanup pass, evaluated under the
// connection lock.
func decideWatchdog(callInProgress, haveHandle bool, now, deadline time.Time) watchdogVerdict {
	if callInProgress || !haveHandle {
		return verdictDisarm
	}
	if now.Before(deadline) {
		return verdictRearm
	}
	return verdictExpire
}

// watchdogPass runs on loop iterations where the protocol descriptor had
// nothing to report. The loop derives its timer from the watchdog state, so
// a pass that leaves the watchdog Active keeps the deadline scheduled.
func (c *Connection) watchdogPass(now time.Time) {
	if !c.wd.cas(WatchdogActive, WatchdogCleanupInProgress) {
		return
	}

	deadline := c.wd.deadlineTime()
	var (
		verdict watchdogVerdict
		forced  bool
		ierr    error
	)
	c.cell.with(func(l *locked) {
		verdict = decideWatchdog(c.serverStatus.Load(), l.proto != nil, now, deadline)
		if verdict == verdictExpire && l.proto.IsActive() {
			forced = true
			ierr = l.proto.InjectError()
		}
	})

	switch verdict {
	case verdictRearm:
		c.wd.store(WatchdogActive)
	case verdictExpire:
		c.wd.store(WatchdogInactive)
		if !forced {
			c.logger.DebugPrintf("watchdog expired, endpoint already idle")
			return
		}
		c.logger.WarnPrintf("speech endpoint still active %v after call end, forcing cleanup", c.wd.timeout)
		c.host.Post(HostRequest{Kind: RequestDownlinkDisconnect})
		c.host.Post(HostRequest{Kind: RequestUplinkDisconnect})
		if ierr != nil {
			c.logger.ErrorPrintf("inject error state: %v", ierr)
		}
		c.counters.watchdogCleanups.Add(1)
		c.record(Record{Kind: RecordWatchdog, Detail: "forced cleanup"})
	default:
		c.wd.store(WatchdogInactive)
		c.logger.DebugPrintf("watchdog inactive (call active or endpoint closed)")
	}
}
