package cmtspeech

import (
	"errors"
	"fmt"
)

// SendUplink copies payload into an uplink frame and sends it to the modem.
//
// payload must be exactly as long as the frame the endpoint hands out;
// otherwise ErrFrameSize is returned and nothing is copied. ErrNotOpen is
// returned when no endpoint is open and ErrInactive when the modem has no
// speech session. A send failure wrapping ErrIO closes the endpoint before
// returning.
func (c *Connection) SendUplink(payload []byte) error {
	var (
		err      error
		recovery bool
		logFrame bool
		seq      int
	)
	c.cell.with(func(l *locked) {
		if l.proto == nil {
			err = ErrNotOpen
			return
		}
		if !l.proto.IsActive() {
			err = ErrInactive
			if l.ulInactive.allow() {
				c.logger.DebugPrintf("UL frame dropped, endpoint not active")
			}
			return
		}
		buf, aerr := l.proto.AcquireUplink()
		if aerr != nil {
			err = fmt.Errorf("cmtspeech: acquire UL buffer: %w", aerr)
			if l.ulInactive.allow() {
				c.logger.ErrorPrintf("acquire UL buffer: %v", aerr)
			}
			return
		}
		dst := buf.Payload()
		if len(dst) != len(payload) {
			clear(buf.Data)
			err = fmt.Errorf("%w: have %d bytes, frame holds %d", ErrFrameSize, len(payload), len(dst))
			if rerr := l.proto.ReleaseUplink(buf); rerr != nil {
				c.logger.ErrorPrintf("return unused UL buffer: %v", rerr)
			}
			return
		}
		copy(dst, payload)
		l.pipe.UplinkFrames++
		seq = l.pipe.UplinkFrames
		logFrame = l.ulFrames.allow()
		if rerr := l.proto.ReleaseUplink(buf); rerr != nil {
			err = fmt.Errorf("cmtspeech: send UL frame: %w", rerr)
			recovery = errors.Is(rerr, ErrIO)
		}
	})

	if err != nil {
		c.counters.ulFailed.Add(1)
		if recovery {
			c.logger.ErrorPrintf("UL send failed, closing endpoint: %v", err)
			c.CloseOnError()
		}
		return err
	}
	c.counters.ulSent.Add(1)
	if logFrame {
		c.logger.DebugPrintf("UL frame %d sent (%d bytes) first bytes % x", seq, len(payload), head(payload, 8))
	}
	return nil
}
