package cmtspeech

import (
	"sync/atomic"
	"time"
)

// Frame is a downlink frame on loan from the modem. The audio consumer reads
// Payload and must call Release exactly once when done with it.
type Frame struct {
	// Seq numbers downlink frames in receive order, starting at 1.
	Seq uint64
	// ReceivedAt is when the frame was acquired from the endpoint.
	ReceivedAt time.Time

	conn     *Connection
	buf      *Buffer
	gen      uint64
	released atomic.Bool
}

func (c *Connection) newFrame(buf *Buffer, gen uint64) *Frame {
	return &Frame{
		Seq:        c.frameSeq.Add(1),
		ReceivedAt: time.Now(),
		conn:       c,
		buf:        buf,
		gen:        gen,
	}
}

// Payload returns the audio bytes of the frame. The slice aliases modem
// memory and must not be used after Release.
func (f *Frame) Payload() []byte {
	return f.buf.Payload()
}

// Released reports whether Release has been called.
func (f *Frame) Released() bool {
	return f.released.Load()
}

// Release returns the frame to the modem. Only the first call has an
// effect.
func (f *Frame) Release() {
	if !f.released.CompareAndSwap(false, true) {
		return
	}
	f.conn.releaseDownlink(f)
}

// releaseDownlink hands a frame back to the endpoint that lent it. A closed
// endpoint or an unknown frame is logged and counted as a failed release;
// the frame's memory is gone either way.
func (c *Connection) releaseDownlink(f *Frame) {
	var err error
	c.cell.with(func(l *locked) {
		if l.proto == nil {
			err = c.logger.Errorf("endpoint not open, DL frame %d was not freed", f.Seq)
			return
		}
		if l.gen != f.gen {
			err = c.logger.Errorf("DL frame %d belongs to a closed endpoint, not freed", f.Seq)
			return
		}
		b := l.proto.FindDownlink(f.buf.Payload())
		if b == nil {
			err = c.logger.Errorf("DL frame %d not found, releasing failed", f.Seq)
			return
		}
		if rerr := l.proto.ReleaseDownlink(b); rerr != nil {
			err = c.logger.Errorf("release DL frame %d: %w", f.Seq, rerr)
		}
	})
	if err != nil {
		c.counters.dlReleaseFailed.Add(1)
		c.logger.ErrorPrintf("%v", err)
		return
	}
	c.counters.dlReleased.Add(1)
}
