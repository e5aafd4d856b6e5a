package cmtspeech

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/haivivi/cmtbridge/pkg/buffer"
)

// Defaults for Config.
const (
	DefaultOpenRetryInterval = 60 * time.Second
	DefaultWatchdogTimeout   = 5 * time.Second
	DefaultQueueSize         = 4
	DefaultStopPollInterval  = 200 * time.Millisecond
)

// Config tunes a Connection. The zero value selects the defaults.
type Config struct {
	// OpenRetryInterval is how long the loop waits before retrying a failed
	// open of the speech endpoint.
	OpenRetryInterval time.Duration

	// WatchdogTimeout is how long an endpoint may stay active after the call
	// server reported the call over.
	WatchdogTimeout time.Duration

	// QueueSize is the capacity of the downlink frame queue.
	QueueSize int

	// StopPollInterval is how often Stop re-checks the loop state.
	StopPollInterval time.Duration

	Logger   Logger
	Recorder Recorder
}

func (c *Config) withDefaults() Config {
	var out Config
	if c != nil {
		out = *c
	}
	if out.OpenRetryInterval <= 0 {
		out.OpenRetryInterval = DefaultOpenRetryInterval
	}
	if out.WatchdogTimeout <= 0 {
		out.WatchdogTimeout = DefaultWatchdogTimeout
	}
	if out.QueueSize <= 0 {
		out.QueueSize = DefaultQueueSize
	}
	if out.StopPollInterval <= 0 {
		out.StopPollInterval = DefaultStopPollInterval
	}
	if out.Logger == nil {
		out.Logger = DefaultLogger()
	}
	if out.Recorder == nil {
		out.Recorder = nopRecorder{}
	}
	return out
}

// CallIntent is the call connect intent last announced by the control plane.
// Only DL reaches the endpoint; the rest is reported in Status.
type CallIntent struct {
	UL        bool `json:"ul" yaml:"ul"`
	DL        bool `json:"dl" yaml:"dl"`
	Emergency bool `json:"emergency" yaml:"emergency"`
}

// locked is the state only reachable while holding the connection lock.
type locked struct {
	proto  Protocol
	intent CallIntent
	pipe   Pipeline

	// gen counts opened handles. Frames remember the generation they were
	// acquired under.
	gen uint64

	ulInactive limiter
	ulFrames   limiter
}

// guarded owns the protocol handle and the flags that travel with it. The
// only way to reach them is through with, which holds the lock for the
// duration of fn.
type guarded struct {
	mu sync.Mutex
	l  locked
}

func (g *guarded) with(fn func(l *locked)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.l)
}

// Connection bridges one modem speech endpoint to a host audio graph.
//
// A Connection runs a dedicated event loop goroutine between Start and Stop.
// Downlink frames are delivered through Downlink and must each be released
// exactly once with Frame.Release. Uplink frames are sent synchronously with
// SendUplink. Control-plane notifications enter through HandleSignal.
type Connection struct {
	opener Opener
	host   Host
	cfg    Config
	logger Logger
	rec    Recorder

	cell guarded

	// recoverMu serialises CloseOnError.
	recoverMu sync.Mutex

	queue *buffer.Queue[*Frame]

	thread       threadState
	wd           watchdog
	serverStatus atomic.Bool

	stopMu  sync.Mutex
	wakeMu  sync.RWMutex
	wake    *wakeup
	askQuit chan struct{}
	done    chan struct{}

	// Loop-owned.
	openFail  limiter
	dlAcquire limiter
	dlDebug   limiter
	drainWake func(*wakeup) error
	frameSeq  atomic.Uint64
	counters  counters
}

// New creates a Connection that opens endpoints with opener and reports to
// host. cfg may be nil.
func New(opener Opener, host Host, cfg *Config) *Connection {
	c := cfg.withDefaults()
	conn := &Connection{
		opener:    opener,
		host:      host,
		cfg:       c,
		logger:    c.Logger,
		rec:       c.Recorder,
		queue:     buffer.QueueN[*Frame](c.QueueSize),
		openFail:  limiter{n: 5},
		dlAcquire: limiter{n: 10},
		dlDebug:   limiter{n: 10},
		drainWake: (*wakeup).drain,
	}
	conn.wd.timeout = c.WatchdogTimeout
	conn.cell.l.ulInactive = limiter{n: 10}
	conn.cell.l.ulFrames = limiter{n: 10}
	return conn
}

// Downlink returns the queue the event loop pushes downlink frames into.
// The audio consumer pops frames with TryNext or Next and releases each
// exactly once.
func (c *Connection) Downlink() *buffer.Queue[*Frame] {
	return c.queue
}

// ThreadState returns the lifecycle state of the event loop.
func (c *Connection) ThreadState() ThreadState {
	return c.thread.Load()
}

// WatchdogState returns the state of the idle watchdog.
func (c *Connection) WatchdogState() WatchdogState {
	return c.wd.load()
}

// Stats returns a snapshot of the connection counters.
func (c *Connection) Stats() Stats {
	return c.counters.snapshot()
}

// Status is a point-in-time view of a Connection.
type Status struct {
	Thread         ThreadState   `json:"thread" yaml:"thread"`
	Watchdog       WatchdogState `json:"watchdog" yaml:"watchdog"`
	Open           bool          `json:"open" yaml:"open"`
	Active         bool          `json:"active" yaml:"active"`
	CallInProgress bool          `json:"call_in_progress" yaml:"call_in_progress"`
	Intent         CallIntent    `json:"intent" yaml:"intent"`
	Pipeline       Pipeline      `json:"pipeline" yaml:"pipeline"`
	QueueLen       int           `json:"queue_len" yaml:"queue_len"`
	Stats          Stats         `json:"stats" yaml:"stats"`
}

// Status returns a point-in-time view of the connection.
func (c *Connection) Status() Status {
	s := Status{
		Thread:         c.thread.Load(),
		Watchdog:       c.wd.load(),
		CallInProgress: c.serverStatus.Load(),
		QueueLen:       c.queue.Len(),
		Stats:          c.counters.snapshot(),
	}
	c.cell.with(func(l *locked) {
		s.Pipeline = l.pipe
		s.Intent = l.intent
		if l.proto != nil {
			s.Open = true
			s.Active = l.proto.IsActive()
		}
	})
	return s
}

// Start creates the wake signal and spawns the event loop.
func (c *Connection) Start() error {
	if !c.thread.CompareAndSwap(ThreadUninitialized, ThreadStarting) {
		return ErrAlreadyStarted
	}
	w, err := newWakeup()
	if err != nil {
		c.thread.Store(ThreadQuit)
		c.teardown()
		return c.logger.Errorf("create wake signal: %w", err)
	}
	c.wakeMu.Lock()
	c.wake = w
	c.wakeMu.Unlock()
	c.askQuit = make(chan struct{})
	c.done = make(chan struct{})
	go c.loop(w)
	return nil
}

// Stop asks the event loop to exit, waits for it and releases the loop's
// resources. It is idempotent: once the connection is back in the
// uninitialized state further calls return immediately.
func (c *Connection) Stop() {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	for {
		switch stopStep(c.thread.Load()) {
		case stopDone:
			return
		case stopWaitRunning:
			time.Sleep(c.cfg.StopPollInterval)
		case stopAskQuit:
			if c.thread.CompareAndSwap(ThreadRunning, ThreadAskQuit) {
				close(c.askQuit)
				c.signalWake()
			}
		case stopWaitQuit:
			select {
			case <-c.done:
			case <-time.After(c.cfg.StopPollInterval):
			}
		case stopTeardown:
			c.teardown()
			return
		}
	}
}

func (c *Connection) teardown() {
	c.wakeMu.Lock()
	if c.wake != nil {
		c.wake.close()
		c.wake = nil
	}
	c.wakeMu.Unlock()

	if n := c.queue.Drain(func(f *Frame) { f.Release() }); n > 0 {
		c.logger.WarnPrintf("released %d queued downlink frames at shutdown", n)
	}

	var open bool
	c.cell.with(func(l *locked) { open = l.proto != nil })
	if open {
		c.logger.ErrorPrintf("speech connection up when shutting down")
	}
	c.thread.Store(ThreadUninitialized)
}

// signalWake interrupts the loop's poll. It is a no-op when the loop is not
// running.
func (c *Connection) signalWake() {
	c.wakeMu.RLock()
	defer c.wakeMu.RUnlock()
	if c.wake == nil {
		return
	}
	if err := c.wake.signal(); err != nil {
		c.logger.ErrorPrintf("signal event loop: %v", err)
	}
}

func (c *Connection) record(r Record) {
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	c.rec.Record(r)
}
