package cmtspeech

import "time"

// HandleSignal applies a control-plane notification. It never blocks beyond
// the connection lock.
func (c *Connection) HandleSignal(sig Signal) {
	switch sig.Kind {
	case SignalCallConnect:
		c.callConnect(sig)
	case SignalServerStatus:
		c.serverStatusChanged(sig.Active)
	case SignalVoiceCallState:
		active, ok := sig.CallState.InProgress()
		if !ok {
			c.logger.WarnPrintf("unknown voice call state %q", sig.CallState)
			return
		}
		c.logger.DebugPrintf("voice call %s, call status %t", sig.CallState, active)
		c.injectCallStatus(active)
	case SignalModemState:
		c.logger.InfoPrintf("modem state change: %s", sig.ModemState)
	default:
		c.logger.WarnPrintf("ignoring signal %v", sig)
		return
	}
	s := sig
	c.record(Record{Kind: RecordSignal, Signal: &s})
}

func (c *Connection) callConnect(sig Signal) {
	c.logger.DebugPrintf("received call connect with params %t, %t, %t", sig.UL, sig.DL, sig.Emergency)
	var err error
	c.cell.with(func(l *locked) {
		l.intent = CallIntent{UL: sig.UL, DL: sig.DL, Emergency: sig.Emergency}
		if l.proto != nil {
			err = l.proto.InjectCallConnect(sig.DL)
		}
	})
	if err != nil {
		c.logger.ErrorPrintf("inject call connect: %v", err)
	}
}

func (c *Connection) injectCallStatus(active bool) {
	var err error
	c.cell.with(func(l *locked) {
		if l.proto != nil {
			err = l.proto.InjectCallStatus(active)
		}
	})
	if err != nil {
		c.logger.ErrorPrintf("inject call status: %v", err)
	}
}

// serverStatusChanged records whether the call server has a call. When the
// call ends the watchdog is armed and the loop is woken so that it schedules
// the idle check.
func (c *Connection) serverStatusChanged(active bool) {
	c.logger.DebugPrintf("set server status to %t", active)
	var (
		have   bool
		err    error
		armed  bool
		paused bool
	)
	c.cell.with(func(l *locked) {
		if l.proto == nil {
			return
		}
		have = true
		err = l.proto.InjectCallStatus(active)
		if active {
			c.serverStatus.Store(true)
			paused = c.wd.pause()
		} else {
			armed = c.wd.arm(time.Now())
			c.serverStatus.Store(false)
		}
	})
	if !have {
		return
	}
	if err != nil {
		c.logger.ErrorPrintf("inject call status: %v", err)
	}
	switch {
	case paused:
		c.logger.WarnPrintf("watchdog changed to inactive by call start")
	case armed:
		c.logger.DebugPrintf("watchdog armed for %v", c.wd.timeout)
		c.signalWake()
	case !active:
		c.logger.DebugPrintf("watchdog already active or cleanup in progress")
		c.signalWake()
	}
}
