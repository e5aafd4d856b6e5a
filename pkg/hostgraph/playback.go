package hostgraph

import (
	"math/rand/v2"
	"time"

	"github.com/pion/rtp"

	"github.com/haivivi/cmtbridge/pkg/audio/pcm"
	"github.com/haivivi/cmtbridge/pkg/cmtspeech"
)

const logFirst = 5

func (g *Graph) startPlayback() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.playback != nil {
		return
	}
	g.playback = startPump(g.playLoop)
	g.reqs.SetDownlinkLinked(true)
	g.logger.InfoPrintf("hostgraph: playback started")
}

func (g *Graph) stopPlayback() {
	g.mu.Lock()
	p := g.playback
	g.playback = nil
	g.mu.Unlock()
	if p == nil {
		return
	}
	g.reqs.SetDownlinkLinked(false)
	p.stop()
	g.logger.InfoPrintf("hostgraph: playback stopped")
}

// playLoop takes one frame from the downlink queue per frame period.
func (g *Graph) playLoop(quit <-chan struct{}) {
	tick := time.NewTicker(pcm.FrameDuration)
	defer tick.Stop()

	seq := uint16(rand.Uint32())
	ts := rand.Uint32()
	for {
		select {
		case <-quit:
			return
		case <-tick.C:
		}
		f, ok := g.src.Downlink().TryNext()
		if !ok {
			continue
		}
		g.play(f, seq, ts)
		seq++
		ts += uint32(g.format.FrameSamples())
	}
}

func (g *Graph) play(f *cmtspeech.Frame, seq uint16, ts uint32) {
	samples := append([]byte(nil), f.Payload()...)
	f.Release()

	n := g.dlPlayed.Add(1)
	if len(samples) != g.format.FrameBytes() && n <= logFirst {
		g.logger.WarnPrintf("hostgraph: downlink frame of %d bytes, %v expects %d", len(samples), g.format, g.format.FrameBytes())
	}
	if err := g.tap.Write(g.format.DataChunk(samples)); err != nil && n <= logFirst {
		g.logger.WarnPrintf("hostgraph: tap: %v", err)
	}
	if g.dlConn == nil {
		return
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    g.pt,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           g.ssrc,
			Marker:         n == 1,
		},
		Payload: make([]byte, len(samples)),
	}
	swap16(pkt.Payload, samples)
	data, err := pkt.Marshal()
	if err != nil {
		g.logger.ErrorPrintf("hostgraph: marshal rtp: %v", err)
		return
	}
	if _, err := g.dlConn.Write(data); err != nil && n <= logFirst {
		g.logger.WarnPrintf("hostgraph: send downlink rtp: %v", err)
	}
}
