package hostgraph

import (
	"errors"
	"net"
	"time"

	"github.com/pion/rtp"

	"github.com/haivivi/cmtbridge/pkg/audio/pcm"
	"github.com/haivivi/cmtbridge/pkg/cmtspeech"
	"github.com/haivivi/cmtbridge/pkg/jsontime"
)

const readPoll = 50 * time.Millisecond

func (g *Graph) startRecord() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.record != nil {
		return
	}
	if g.ulConn == nil {
		g.logger.InfoPrintf("hostgraph: no uplink source, uplink stays unlinked")
		return
	}
	g.record = startPump(g.recordLoop)
	g.reqs.SetUplinkLinked(true)
	g.logger.InfoPrintf("hostgraph: record started on %v", g.ulConn.LocalAddr())
}

func (g *Graph) stopRecord() {
	g.mu.Lock()
	p := g.record
	g.record = nil
	g.mu.Unlock()
	if p == nil {
		return
	}
	g.reqs.SetUplinkLinked(false)
	p.stop()
	g.logger.InfoPrintf("hostgraph: record stopped")
}

// recordLoop reads uplink RTP and sends each payload to the modem.
func (g *Graph) recordLoop(quit <-chan struct{}) {
	buf := make([]byte, 1500)
	var (
		lastSeq uint16
		started bool
	)
	for {
		select {
		case <-quit:
			return
		default:
		}
		g.ulConn.SetReadDeadline(time.Now().Add(readPoll))
		n, _, err := g.ulConn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			g.logger.WarnPrintf("hostgraph: read uplink: %v", err)
			continue
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			g.logger.DebugPrintf("hostgraph: bad uplink packet: %v", err)
			continue
		}
		g.ulReceived.Add(1)
		if started && pkt.SequenceNumber != lastSeq+1 {
			g.ulGaps.Add(1)
		}
		lastSeq, started = pkt.SequenceNumber, true

		samples := make([]byte, len(pkt.Payload))
		swap16(samples, pkt.Payload)
		g.send(samples)
	}
}

func (g *Graph) send(samples []byte) {
	if err := g.src.SendUplink(samples); err != nil {
		n := g.ulDropped.Add(1)
		switch {
		case errors.Is(err, cmtspeech.ErrInactive), errors.Is(err, cmtspeech.ErrNotOpen):
			if n <= logFirst {
				g.logger.DebugPrintf("hostgraph: uplink dropped: %v", err)
			}
		default:
			if n <= logFirst {
				g.logger.WarnPrintf("hostgraph: uplink: %v", err)
			}
		}
		return
	}
	g.ulSent.Add(1)

	now := jsontime.FromTime(time.Now())
	g.mu.Lock()
	if d := g.deadline; d != 0 {
		if now > d {
			g.ulLate.Add(1)
		}
		g.deadline = d + jsontime.Micro(pcm.FrameDuration/time.Microsecond)
	}
	g.mu.Unlock()
}
