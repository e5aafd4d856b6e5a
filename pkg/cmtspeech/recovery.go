package cmtspeech

// CloseOnError tears down the local pipeline and closes the speech endpoint.
// The loop is woken and its next iteration reopens the endpoint.
//
// It is the single recovery entry point for the event loop, the uplink path
// and external unload requests. Concurrent calls are serialised and a call
// with no open endpoint only resets local state.
func (c *Connection) CloseOnError() {
	c.recoverMu.Lock()
	defer c.recoverMu.Unlock()

	var (
		eff        Effects
		hadStreams bool
	)
	c.cell.with(func(l *locked) {
		hadStreams = l.pipe.StreamsCreated
		l.pipe = resetStreams(l.pipe, &eff)
	})
	for _, w := range eff.Warnings {
		c.logger.WarnPrintf("%s", w)
	}
	for _, req := range eff.Requests {
		c.host.Post(req)
	}

	if c.host.DownlinkLinked() {
		c.host.Post(HostRequest{Kind: RequestFlushDownlink})
	} else if n := c.queue.Drain(func(f *Frame) { f.Release() }); n > 0 {
		c.logger.DebugPrintf("flushed %d queued DL frames", n)
	}

	var (
		closed bool
		active bool
		cerr   error
	)
	c.cell.with(func(l *locked) {
		if l.proto == nil {
			return
		}
		active = l.proto.IsActive()
		cerr = l.proto.Close()
		l.proto = nil
		l.pipe.FirstDownlink = false
		closed = true
	})
	if !closed {
		return
	}

	if hadStreams {
		c.logger.ErrorPrintf("closing speech endpoint while streams existed")
	}
	if active {
		c.logger.ErrorPrintf("speech endpoint still active at close")
	}
	if cerr != nil {
		c.logger.ErrorPrintf("close speech endpoint: %v", cerr)
	}
	c.counters.recoveries.Add(1)
	c.record(Record{Kind: RecordRecovery})
	c.signalWake()
}
