package cmtspeech

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// fakeProto is an in-memory Protocol. The Connection serialises calls to it
// under its lock, so it needs no locking of its own.
type fakeProto struct {
	fd     int
	active bool
	events []Event
	dl     [][]byte
	ulSize int
	ulErr  error
	dlErr  error

	owned    map[*Buffer]bool
	released int
	sent     [][]byte

	callStatus  []bool
	callConnect []bool
	injected    int
	closes      int

	// With a pipe descriptor, CheckPending consumes one byte from it and
	// then calls onPending, if set, with the write end.
	pipeW     int
	onPending func(w int)
}

func newFakeProto() *fakeProto {
	return &fakeProto{fd: -1, ulSize: 8, owned: map[*Buffer]bool{}}
}

func (p *fakeProto) Descriptor() int { return p.fd }

// withIdleDescriptor gives p a pollable descriptor that never becomes
// readable.
func (p *fakeProto) withIdleDescriptor(t *testing.T) *fakeProto {
	t.Helper()
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	p.fd = fds[0]
	return p
}

// withPipeDescriptor gives p a non-blocking pipe descriptor. Writing a byte
// to the returned write end makes it readable until CheckPending runs.
func (p *fakeProto) withPipeDescriptor(t *testing.T) (*fakeProto, int) {
	t.Helper()
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	p.fd, p.pipeW = fds[0], fds[1]
	return p, fds[1]
}

func (p *fakeProto) CheckPending() (EventFlags, error) {
	if p.pipeW > 0 {
		var b [1]byte
		unix.Read(p.fd, b[:])
		if p.onPending != nil {
			p.onPending(p.pipeW)
		}
	}
	var f EventFlags
	if len(p.events) > 0 {
		f |= EventControl
	}
	if len(p.dl) > 0 {
		f |= EventDownlinkData
	}
	return f, nil
}

func (p *fakeProto) ReadEvent() (Event, error) {
	if len(p.events) == 0 {
		return Event{}, fmt.Errorf("fake: no event")
	}
	ev := p.events[0]
	p.events = p.events[1:]
	return ev, nil
}

func (p *fakeProto) IsActive() bool { return p.active }

func (p *fakeProto) AcquireDownlink() (*Buffer, error) {
	if p.dlErr != nil {
		return nil, p.dlErr
	}
	if len(p.dl) == 0 {
		return nil, ErrBufferUnavailable
	}
	payload := p.dl[0]
	p.dl = p.dl[1:]
	b := &Buffer{Data: make([]byte, DataHeaderLen+len(payload)+1), HeaderLen: DataHeaderLen}
	b.Count = DataHeaderLen + copy(b.Data[DataHeaderLen:], payload)
	p.owned[b] = true
	return b, nil
}

func (p *fakeProto) ReleaseDownlink(b *Buffer) error {
	if !p.owned[b] {
		return fmt.Errorf("fake: buffer not owned")
	}
	delete(p.owned, b)
	p.released++
	return nil
}

func (p *fakeProto) FindDownlink(payload []byte) *Buffer {
	for b := range p.owned {
		if b.SamePayload(payload) {
			return b
		}
	}
	return nil
}

func (p *fakeProto) AcquireUplink() (*Buffer, error) {
	b := &Buffer{Data: make([]byte, DataHeaderLen+p.ulSize), HeaderLen: DataHeaderLen}
	b.Count = len(b.Data)
	return b, nil
}

func (p *fakeProto) ReleaseUplink(b *Buffer) error {
	if err := p.ulErr; err != nil {
		p.ulErr = nil
		return err
	}
	p.sent = append(p.sent, append([]byte(nil), b.Payload()...))
	return nil
}

func (p *fakeProto) InjectCallConnect(connected bool) error {
	p.callConnect = append(p.callConnect, connected)
	return nil
}

func (p *fakeProto) InjectCallStatus(active bool) error {
	p.callStatus = append(p.callStatus, active)
	return nil
}

func (p *fakeProto) InjectError() error {
	p.injected++
	p.active = false
	return nil
}

func (p *fakeProto) Close() error {
	p.closes++
	return nil
}

// testLogger collects log lines.
type testLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *testLogger) add(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+fmt.Sprintf(format, args...))
}

func (l *testLogger) ErrorPrintf(format string, args ...any) { l.add("ERROR", format, args...) }
func (l *testLogger) WarnPrintf(format string, args ...any)  { l.add("WARN", format, args...) }
func (l *testLogger) InfoPrintf(format string, args ...any)  { l.add("INFO", format, args...) }
func (l *testLogger) DebugPrintf(format string, args ...any) { l.add("DEBUG", format, args...) }

func (l *testLogger) Errorf(format string, args ...any) error {
	return fmt.Errorf("cmtspeech: "+format, args...)
}

func (l *testLogger) contains(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, sub) {
			return true
		}
	}
	return false
}

// testRecorder collects records.
type testRecorder struct {
	mu      sync.Mutex
	records []Record
}

func (r *testRecorder) Record(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *testRecorder) count(kind RecordKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.Kind == kind {
			n++
		}
	}
	return n
}

type testConn struct {
	*Connection
	proto  *fakeProto
	host   *RequestQueue
	logger *testLogger
	rec    *testRecorder
}

// newTestConn returns a connection whose endpoint is already open. The loop
// is not running.
func newTestConn(t *testing.T) *testConn {
	t.Helper()
	tc := &testConn{
		proto:  newFakeProto(),
		host:   NewRequestQueue(),
		logger: &testLogger{},
		rec:    &testRecorder{},
	}
	tc.Connection = New(OpenerFunc(func() (Protocol, error) { return tc.proto, nil }), tc.host, &Config{
		WatchdogTimeout:  5 * time.Second,
		StopPollInterval: 5 * time.Millisecond,
		Logger:           tc.logger,
		Recorder:         tc.rec,
	})
	if !tc.ensureOpen() {
		t.Fatal("ensureOpen failed")
	}
	return tc
}

func (tc *testConn) pipeline() Pipeline {
	var p Pipeline
	tc.cell.with(func(l *locked) { p = l.pipe })
	return p
}

func (tc *testConn) open() bool {
	var open bool
	tc.cell.with(func(l *locked) { open = l.proto != nil })
	return open
}

func (tc *testConn) drainRequests() []HostRequestKind {
	var kinds []HostRequestKind
	for {
		r, ok := tc.host.TryNext()
		if !ok {
			return kinds
		}
		kinds = append(kinds, r.Kind)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
