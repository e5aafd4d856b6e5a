// Package hostgraph is a host audio graph for a cmtspeech bridge. It
// consumes the connection's host requests, plays linked downlink frames out
// as RTP over UDP and feeds uplink RTP payloads back into the modem.
//
// Audio is 16-bit linear PCM, one 20 ms modem frame per RTP packet. The
// modem carries little-endian samples; on the wire they are big-endian as
// RTP L16 requires.
package hostgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"

	"github.com/haivivi/cmtbridge/pkg/audio/pcm"
	"github.com/haivivi/cmtbridge/pkg/buffer"
	"github.com/haivivi/cmtbridge/pkg/cmtspeech"
	"github.com/haivivi/cmtbridge/pkg/jsontime"
)

// DefaultPayloadType is the dynamic RTP payload type used for L16.
const DefaultPayloadType = 96

// ErrUnloaded is returned by Run when the connection asked to be unloaded.
var ErrUnloaded = errors.New("hostgraph: unloaded")

// Source is the bridge side of the graph. *cmtspeech.Connection
// implements it.
type Source interface {
	Downlink() *buffer.Queue[*cmtspeech.Frame]
	SendUplink(payload []byte) error
	Stop()
}

// Options configures a Graph.
type Options struct {
	// DownlinkAddr is the UDP peer downlink RTP is sent to. Empty disables
	// the downlink sink; flushes are then left to the connection.
	DownlinkAddr string

	// UplinkAddr is the local UDP address uplink RTP is received on.
	// Empty disables uplink.
	UplinkAddr string

	// SampleRate selects the PCM format. Default 8000.
	SampleRate int

	// PayloadType is the RTP payload type. Default DefaultPayloadType.
	PayloadType uint8

	// Tap, if set, receives a copy of every downlink frame played.
	Tap pcm.Writer

	Logger cmtspeech.Logger
}

// Stats is a snapshot of graph counters.
type Stats struct {
	Requests        uint64         `json:"requests" yaml:"requests"`
	DownlinkPlayed  uint64         `json:"dl_played" yaml:"dl_played"`
	DownlinkFlushed uint64         `json:"dl_flushed" yaml:"dl_flushed"`
	UplinkReceived  uint64         `json:"ul_received" yaml:"ul_received"`
	UplinkSent      uint64         `json:"ul_sent" yaml:"ul_sent"`
	UplinkDropped   uint64         `json:"ul_dropped" yaml:"ul_dropped"`
	UplinkLate      uint64         `json:"ul_late" yaml:"ul_late"`
	UplinkGaps      uint64         `json:"ul_seq_gaps" yaml:"ul_seq_gaps"`

	// Deadline is when the next uplink frame is due, zero when the modem
	// has not sent timing.
	Deadline jsontime.Micro `json:"ul_deadline,omitempty" yaml:"ul_deadline,omitempty"`
}

// Graph is the host audio graph.
type Graph struct {
	src    Source
	reqs   *cmtspeech.RequestQueue
	format pcm.Format
	pt     uint8
	ssrc   uint32
	tap    pcm.Writer
	logger cmtspeech.Logger

	dlConn *net.UDPConn
	ulConn *net.UDPConn

	mu       sync.Mutex
	streams  bool
	playback *pump
	record   *pump
	deadline jsontime.Micro

	requests, dlPlayed, dlFlushed                 atomic.Uint64
	ulReceived, ulSent, ulDropped, ulLate, ulGaps atomic.Uint64
}

// New creates a Graph and opens its UDP sockets.
func New(src Source, reqs *cmtspeech.RequestQueue, opts *Options) (*Graph, error) {
	if opts == nil {
		opts = &Options{}
	}
	rate := opts.SampleRate
	if rate == 0 {
		rate = 8000
	}
	format, err := pcm.FormatForSampleRate(rate)
	if err != nil {
		return nil, fmt.Errorf("hostgraph: %w", err)
	}
	g := &Graph{
		src:    src,
		reqs:   reqs,
		format: format,
		pt:     opts.PayloadType,
		ssrc:   rand.Uint32(),
		tap:    opts.Tap,
		logger: opts.Logger,
	}
	if g.pt == 0 {
		g.pt = DefaultPayloadType
	}
	if g.tap == nil {
		g.tap = pcm.Discard
	}
	if g.logger == nil {
		g.logger = cmtspeech.SlogLogger(slog.Default())
	}

	if opts.DownlinkAddr != "" {
		raddr, err := net.ResolveUDPAddr("udp", opts.DownlinkAddr)
		if err != nil {
			return nil, fmt.Errorf("hostgraph: downlink address: %w", err)
		}
		if g.dlConn, err = net.DialUDP("udp", nil, raddr); err != nil {
			return nil, fmt.Errorf("hostgraph: downlink socket: %w", err)
		}
	}
	if opts.UplinkAddr != "" {
		laddr, err := net.ResolveUDPAddr("udp", opts.UplinkAddr)
		if err == nil {
			g.ulConn, err = net.ListenUDP("udp", laddr)
		}
		if err != nil {
			g.closeSockets()
			return nil, fmt.Errorf("hostgraph: uplink socket: %w", err)
		}
	}
	return g, nil
}

// Format returns the PCM format frames are sized by.
func (g *Graph) Format() pcm.Format {
	return g.format
}

// UplinkAddr returns the bound uplink address, or nil without uplink.
func (g *Graph) UplinkAddr() net.Addr {
	if g.ulConn == nil {
		return nil
	}
	return g.ulConn.LocalAddr()
}

// Stats returns a snapshot of the counters.
func (g *Graph) Stats() Stats {
	g.mu.Lock()
	deadline := g.deadline
	g.mu.Unlock()
	return Stats{
		Requests:        g.requests.Load(),
		DownlinkPlayed:  g.dlPlayed.Load(),
		DownlinkFlushed: g.dlFlushed.Load(),
		UplinkReceived:  g.ulReceived.Load(),
		UplinkSent:      g.ulSent.Load(),
		UplinkDropped:   g.ulDropped.Load(),
		UplinkLate:      g.ulLate.Load(),
		UplinkGaps:      g.ulGaps.Load(),
		Deadline:        deadline,
	}
}

// Run handles host requests until ctx is done, the request queue is closed
// or the connection asks to be unloaded. When ctx is done Run closes the
// request queue. Sockets stay open until Close.
func (g *Graph) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { g.reqs.Close() })
	defer stop()
	defer g.stopPumps()

	g.logger.InfoPrintf("hostgraph: running, %v, %d bytes per frame", g.format, g.format.FrameBytes())
	for req := range g.reqs.Requests() {
		g.requests.Add(1)
		if req.Kind == cmtspeech.RequestUnload {
			g.logger.WarnPrintf("hostgraph: unload requested: %s", req.Reason)
			go g.src.Stop()
			return fmt.Errorf("%w: %s", ErrUnloaded, req.Reason)
		}
		g.handle(req)
	}
	return ctx.Err()
}

func (g *Graph) handle(req cmtspeech.HostRequest) {
	g.logger.DebugPrintf("hostgraph: %v", req)
	switch req.Kind {
	case cmtspeech.RequestCreateStreams:
		g.mu.Lock()
		g.streams = true
		g.mu.Unlock()
		g.logger.InfoPrintf("hostgraph: streams created")
	case cmtspeech.RequestDeleteStreams:
		g.stopPumps()
		g.mu.Lock()
		g.streams = false
		g.deadline = 0
		g.mu.Unlock()
		g.logger.InfoPrintf("hostgraph: streams deleted")
	case cmtspeech.RequestDownlinkConnect:
		g.startPlayback()
	case cmtspeech.RequestDownlinkDisconnect:
		g.stopPlayback()
	case cmtspeech.RequestUplinkConnect:
		g.startRecord()
	case cmtspeech.RequestUplinkDisconnect:
		g.stopRecord()
	case cmtspeech.RequestUplinkDeadline:
		g.mu.Lock()
		g.deadline = jsontime.Micro(req.DeadlineUs)
		g.mu.Unlock()
		g.logger.DebugPrintf("hostgraph: uplink deadline %v", jsontime.Micro(req.DeadlineUs))
	case cmtspeech.RequestFlushDownlink:
		n := g.src.Downlink().Drain(func(f *cmtspeech.Frame) { f.Release() })
		g.dlFlushed.Add(uint64(n))
		g.logger.DebugPrintf("hostgraph: flushed %d downlink frames", n)
	default:
		g.logger.WarnPrintf("hostgraph: unknown request %v", req)
	}
}

// Close stops the pumps and closes the sockets.
func (g *Graph) Close() error {
	g.stopPumps()
	return g.closeSockets()
}

func (g *Graph) closeSockets() error {
	var errs []error
	if g.dlConn != nil {
		errs = append(errs, g.dlConn.Close())
	}
	if g.ulConn != nil {
		errs = append(errs, g.ulConn.Close())
	}
	return errors.Join(errs...)
}

func (g *Graph) stopPumps() {
	g.stopPlayback()
	g.stopRecord()
}

// pump is a goroutine stopped by closing quit.
type pump struct {
	quit chan struct{}
	done chan struct{}
}

func startPump(fn func(quit <-chan struct{})) *pump {
	p := &pump{quit: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(p.done)
		fn(p.quit)
	}()
	return p
}

func (p *pump) stop() {
	close(p.quit)
	<-p.done
}

func swap16(dst, src []byte) {
	for i := 0; i+1 < len(src); i += 2 {
		dst[i], dst[i+1] = src[i+1], src[i]
	}
	if len(src)%2 == 1 {
		dst[len(src)-1] = src[len(src)-1]
	}
}
