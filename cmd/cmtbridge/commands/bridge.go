package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/haivivi/cmtbridge/pkg/audio/pcm"
	"github.com/haivivi/cmtbridge/pkg/cli"
	"github.com/haivivi/cmtbridge/pkg/cmtspeech"
	"github.com/haivivi/cmtbridge/pkg/hostgraph"
	"github.com/haivivi/cmtbridge/pkg/journal"
	"github.com/haivivi/cmtbridge/pkg/modemsim"
	"github.com/haivivi/cmtbridge/pkg/signaling"
)

// Context.Extra keys read by LoadBridgeConfig.
const (
	extraOpenRetry   = "open_retry"
	extraWatchdog    = "watchdog_timeout"
	extraQueueSize   = "queue_size"
	extraSampleRate  = "sample_rate"
	extraRTPDownlink = "rtp_downlink"
	extraRTPUplink   = "rtp_uplink"
	extraJournal     = "journal"
)

// Journal locations with special meaning.
const (
	journalOff    = "off"
	journalMemory = "memory"
)

// BridgeConfig is the bridge setup of one context.
type BridgeConfig struct {
	OpenRetry    time.Duration `json:"open_retry" yaml:"open_retry"`
	Watchdog     time.Duration `json:"watchdog_timeout" yaml:"watchdog_timeout"`
	QueueSize    int           `json:"queue_size" yaml:"queue_size"`
	SampleRate   int           `json:"sample_rate" yaml:"sample_rate"`
	RTPDownlink  string        `json:"rtp_downlink,omitempty" yaml:"rtp_downlink,omitempty"`
	RTPUplink    string        `json:"rtp_uplink,omitempty" yaml:"rtp_uplink,omitempty"`
	SignalListen string        `json:"signaling,omitempty" yaml:"signaling,omitempty"`
	Token        string        `json:"-" yaml:"-"`

	// Journal is a directory, "memory" or "off".
	Journal string `json:"journal" yaml:"journal"`
}

// LoadBridgeConfig reads the bridge setup from ctx, filling in defaults.
func LoadBridgeConfig(ctx *cli.Context) (BridgeConfig, error) {
	bc := BridgeConfig{
		OpenRetry:    cmtspeech.DefaultOpenRetryInterval,
		Watchdog:     cmtspeech.DefaultWatchdogTimeout,
		QueueSize:    cmtspeech.DefaultQueueSize,
		SampleRate:   8000,
		RTPDownlink:  ctx.GetExtra(extraRTPDownlink),
		RTPUplink:    ctx.GetExtra(extraRTPUplink),
		SignalListen: ctx.Signaling,
		Token:        ctx.Token,
		Journal:      ctx.GetExtra(extraJournal),
	}
	var err error
	if bc.OpenRetry, err = extraDuration(ctx, extraOpenRetry, bc.OpenRetry); err != nil {
		return bc, err
	}
	if bc.Watchdog, err = extraDuration(ctx, extraWatchdog, bc.Watchdog); err != nil {
		return bc, err
	}
	if bc.QueueSize, err = extraInt(ctx, extraQueueSize, bc.QueueSize); err != nil {
		return bc, err
	}
	if bc.SampleRate, err = extraInt(ctx, extraSampleRate, bc.SampleRate); err != nil {
		return bc, err
	}
	if _, err := pcm.FormatForSampleRate(bc.SampleRate); err != nil {
		return bc, fmt.Errorf("%s: %w", extraSampleRate, err)
	}
	if bc.Journal == "" {
		paths, err := cli.NewPaths(appName)
		if err != nil {
			return bc, err
		}
		bc.Journal = paths.JournalDir()
	}
	return bc, nil
}

func extraDuration(ctx *cli.Context, key string, def time.Duration) (time.Duration, error) {
	v := ctx.GetExtra(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive", key)
	}
	return d, nil
}

func extraInt(ctx *cli.Context, key string, def int) (int, error) {
	v := ctx.GetExtra(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s: must be positive", key)
	}
	return n, nil
}

// signalURL turns a signalling address into a client URL. Bare host:port
// addresses get the ws scheme and the server path.
func signalURL(addr string) (string, error) {
	if addr == "" {
		return "", errors.New("no signalling address; use --url or set one in the context")
	}
	if !strings.Contains(addr, "://") {
		return "ws://" + addr + signaling.Path, nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", err
	}
	if u.Path == "" {
		u.Path = signaling.Path
	}
	return u.String(), nil
}

func openStore(location string) (journal.Store, error) {
	switch location {
	case journalOff:
		return nil, nil
	case journalMemory:
		return journal.NewMemory(), nil
	}
	// Journals hold call metadata; keep a new directory private.
	if err := os.MkdirAll(location, 0700); err != nil {
		return nil, err
	}
	return journal.NewBadger(journal.BadgerOptions{Dir: location})
}

// bridge is a connection wired to the modem simulator, the RTP host graph,
// the journal and the signalling server.
type bridge struct {
	cfg     BridgeConfig
	sim     *modemsim.Sim
	conn    *cmtspeech.Connection
	reqs    *cmtspeech.RequestQueue
	graph   *hostgraph.Graph
	store   journal.Store
	journal *journal.Journal
	signals *signaling.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
	errs   chan error
}

func newBridge(ctx context.Context, bc BridgeConfig, label string) (_ *bridge, err error) {
	format, err := pcm.FormatForSampleRate(bc.SampleRate)
	if err != nil {
		return nil, err
	}
	b := &bridge{
		cfg:  bc,
		sim:  modemsim.New(&modemsim.Config{FrameBytes: format.FrameBytes()}),
		reqs: cmtspeech.NewRequestQueue(),
		errs: make(chan error, 1),
	}
	defer func() {
		if err != nil {
			b.close()
		}
	}()

	connCfg := &cmtspeech.Config{
		OpenRetryInterval: bc.OpenRetry,
		WatchdogTimeout:   bc.Watchdog,
		QueueSize:         bc.QueueSize,
		Logger:            cmtspeech.SlogLogger(slog.Default().With("component", "cmtspeech")),
	}
	if b.store, err = openStore(bc.Journal); err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if b.store != nil {
		b.journal, err = journal.Open(ctx, b.store, &journal.Options{
			Label:  label,
			Logger: cmtspeech.SlogLogger(slog.Default().With("component", "journal")),
		})
		if err != nil {
			return nil, err
		}
		connCfg.Recorder = b.journal
	}
	b.conn = cmtspeech.New(b.sim, b.reqs, connCfg)

	b.graph, err = hostgraph.New(b.conn, b.reqs, &hostgraph.Options{
		DownlinkAddr: bc.RTPDownlink,
		UplinkAddr:   bc.RTPUplink,
		SampleRate:   bc.SampleRate,
		Logger:       cmtspeech.SlogLogger(slog.Default().With("component", "hostgraph")),
	})
	if err != nil {
		return nil, err
	}
	b.signals = signaling.NewServer(b.conn, &signaling.ServerOptions{
		Token:  bc.Token,
		Logger: cmtspeech.SlogLogger(slog.Default().With("component", "signaling")),
	})
	return b, nil
}

// start launches the connection, the host graph and, when configured, the
// signalling server. Failures of the latter two are reported on errs.
func (b *bridge) start(ctx context.Context) error {
	ctx, b.cancel = context.WithCancel(ctx)
	if err := b.conn.Start(); err != nil {
		return err
	}
	b.wg.Go(func() {
		if err := b.graph.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.fail(err)
		}
	})
	if b.cfg.SignalListen != "" {
		b.wg.Go(func() {
			if err := b.signals.ListenAndServe(ctx, b.cfg.SignalListen); err != nil {
				b.fail(fmt.Errorf("signaling: %w", err))
			}
		})
	}
	return nil
}

// fail reports err on errs unless an error is already pending.
func (b *bridge) fail(err error) {
	select {
	case b.errs <- err:
	default:
	}
}

// settle waits until the modem has nothing pending and every downlink
// buffer is back, or until d elapses.
func (b *bridge) settle(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		events, frames := b.sim.Pending()
		if events == 0 && frames == 0 && b.sim.Counters().Outstanding() == 0 && b.conn.Downlink().Len() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// stop tears the bridge down. The connection stops first so the host graph
// still sees its final requests.
func (b *bridge) stop() {
	b.conn.Stop()
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}

func (b *bridge) close() error {
	var errs []error
	if b.graph != nil {
		errs = append(errs, b.graph.Close())
	}
	if b.journal != nil {
		errs = append(errs, b.journal.Close())
	}
	if b.store != nil {
		errs = append(errs, b.store.Close())
	}
	return errors.Join(errs...)
}

// report is what run and simulate print on exit.
type report struct {
	Scenario string            `json:"scenario,omitempty" yaml:"scenario,omitempty"`
	Result   *modemsim.Result  `json:"result,omitempty" yaml:"result,omitempty"`
	Config   BridgeConfig      `json:"config" yaml:"config"`
	Status   cmtspeech.Status  `json:"status" yaml:"status"`
	Graph    hostgraph.Stats   `json:"graph" yaml:"graph"`
	Modem    modemsim.Counters `json:"modem" yaml:"modem"`
	Session  string            `json:"session,omitempty" yaml:"session,omitempty"`
	Signals  *signalCounts     `json:"signals,omitempty" yaml:"signals,omitempty"`
}

type signalCounts struct {
	Delivered uint64 `json:"delivered" yaml:"delivered"`
	Rejected  uint64 `json:"rejected" yaml:"rejected"`
}

func (b *bridge) report() report {
	r := report{
		Config: b.cfg,
		Status: b.conn.Status(),
		Graph:  b.graph.Stats(),
		Modem:  b.sim.Counters(),
	}
	if b.journal != nil {
		r.Session = b.journal.Session().ID
	}
	if b.cfg.SignalListen != "" {
		d, rj := b.signals.Counts()
		r.Signals = &signalCounts{Delivered: d, Rejected: rj}
	}
	return r
}
