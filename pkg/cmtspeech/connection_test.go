package cmtspeech

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"
)

func TestCallSetup(t *testing.T) {
	tc := newTestConn(t)
	tc.proto.events = []Event{
		ev(StateDisconnected, StateConnected, MsgSSIConfigResp),
		{Prev: StateConnected, State: StateActiveDL, Msg: MsgSpeechConfigReq, Speech: SpeechConfig{SampleRate: 8000, DataFormat: 1}},
	}
	tc.serviceProtocol()
	tc.serviceProtocol()

	want := []HostRequestKind{RequestCreateStreams, RequestDownlinkConnect}
	if got := tc.drainRequests(); !slices.Equal(got, want) {
		t.Errorf("requests=%v, want %v", got, want)
	}
	p := tc.pipeline()
	if !p.StreamsCreated || !p.PlaybackRunning || p.FirstDownlink {
		t.Errorf("pipeline=%+v", p)
	}
	if n := tc.rec.count(RecordTransition); n != 2 {
		t.Errorf("transition records=%d", n)
	}
}

func TestDownlinkDroppedWhenNotPlaying(t *testing.T) {
	tc := newTestConn(t)
	tc.proto.active = false
	tc.proto.dl = [][]byte{{1, 2, 3, 4}}

	tc.serviceProtocol()

	if tc.proto.released != 1 || len(tc.proto.owned) != 0 {
		t.Errorf("released=%d owned=%d", tc.proto.released, len(tc.proto.owned))
	}
	if n := tc.Downlink().Len(); n != 0 {
		t.Errorf("queue len=%d", n)
	}
	if s := tc.Stats(); s.DownlinkReceived != 1 || s.DownlinkDropped != 1 {
		t.Errorf("stats=%+v", s)
	}
	if !tc.logger.contains("before ACTIVE_DL state") {
		t.Error("inactive drop not logged")
	}
}

func TestDownlinkEmptyPayloadReleased(t *testing.T) {
	tc := newTestConn(t)
	tc.cell.with(func(l *locked) { l.pipe.PlaybackRunning = true })
	tc.proto.dl = [][]byte{{}}

	tc.serviceDownlink()

	if tc.proto.released != 1 || tc.Downlink().Len() != 0 {
		t.Errorf("released=%d queue=%d", tc.proto.released, tc.Downlink().Len())
	}
}

func TestDownlinkQueueFull(t *testing.T) {
	tc := newTestConn(t)
	tc.cell.with(func(l *locked) { l.pipe.PlaybackRunning = true })
	for i := 0; i < 6; i++ {
		tc.proto.dl = append(tc.proto.dl, []byte{byte(i), 0, 0, 0})
	}
	for i := 0; i < 6; i++ {
		tc.serviceDownlink()
	}

	if n := tc.Downlink().Len(); n != DefaultQueueSize {
		t.Fatalf("queue len=%d, want %d", n, DefaultQueueSize)
	}
	if tc.proto.released != 2 {
		t.Errorf("released on overflow=%d, want 2", tc.proto.released)
	}
	if !tc.pipeline().FirstDownlink {
		t.Error("first frame latch not set")
	}

	var seen []byte
	for {
		f, ok := tc.Downlink().TryNext()
		if !ok {
			break
		}
		seen = append(seen, f.Payload()[0])
		f.Release()
		f.Release()
		if !f.Released() {
			t.Error("Released=false after Release")
		}
	}
	if !slices.Equal(seen, []byte{0, 1, 2, 3}) {
		t.Errorf("delivered=%v", seen)
	}
	if tc.proto.released != 6 || len(tc.proto.owned) != 0 {
		t.Errorf("released=%d owned=%d, want every frame released once", tc.proto.released, len(tc.proto.owned))
	}
	if s := tc.Stats(); s.DownlinkQueued != 4 || s.DownlinkDropped != 2 || s.DownlinkReleased != 6 || s.DownlinkReleaseFailed != 0 {
		t.Errorf("stats=%+v", s)
	}
}

func TestDownlinkAcquireFailure(t *testing.T) {
	tc := newTestConn(t)
	tc.proto.dl = [][]byte{{1}}
	tc.proto.dlErr = errors.New("boom")

	tc.serviceDownlink()

	if s := tc.Stats(); s.DownlinkFailed != 1 || s.DownlinkReceived != 0 {
		t.Errorf("stats=%+v", s)
	}
	if !tc.open() {
		t.Error("acquire failure closed the endpoint")
	}
}

func TestStaleFrameAfterReopen(t *testing.T) {
	tc := newTestConn(t)
	tc.host.SetDownlinkLinked(true)
	tc.cell.with(func(l *locked) { l.pipe.PlaybackRunning = true })
	tc.proto.dl = [][]byte{{7}}
	tc.serviceDownlink()

	f, ok := tc.Downlink().TryNext()
	if !ok {
		t.Fatal("no frame queued")
	}
	tc.CloseOnError()
	if !tc.ensureOpen() {
		t.Fatal("reopen failed")
	}
	f.Release()

	if tc.proto.released != 0 {
		t.Error("stale frame released into the new endpoint")
	}
	if !tc.logger.contains("belongs to a closed endpoint") {
		t.Error("stale release not logged")
	}
	if s := tc.Stats(); s.DownlinkReleased != 0 || s.DownlinkReleaseFailed != 1 {
		t.Errorf("released=%d release failed=%d, want 0 and 1", s.DownlinkReleased, s.DownlinkReleaseFailed)
	}
}

func TestTimingForwarded(t *testing.T) {
	timing := Event{
		Prev:   StateActiveDLUL,
		State:  StateActiveDLUL,
		Msg:    MsgTimingConfigNtf,
		Timing: TimingConfig{Msec: 37, Usec: 500, Timestamp: time.Unix(100, 300)},
	}

	t.Run("uplink linked", func(t *testing.T) {
		tc := newTestConn(t)
		tc.host.SetUplinkLinked(true)
		tc.proto.events = []Event{timing}
		tc.serviceControl()

		r, ok := tc.host.TryNext()
		if !ok || r.Kind != RequestUplinkDeadline || r.DeadlineUs != 100017500 {
			t.Errorf("request=%v ok=%v", r, ok)
		}
	})

	t.Run("no uplink", func(t *testing.T) {
		tc := newTestConn(t)
		tc.proto.events = []Event{timing}
		tc.serviceControl()

		if reqs := tc.drainRequests(); len(reqs) != 0 {
			t.Errorf("requests=%v", reqs)
		}
		if !tc.logger.contains("no destination where to send timing info") {
			t.Error("missing destination not logged")
		}
	})
}

func TestModemResetRecovers(t *testing.T) {
	tc := newTestConn(t)
	tc.cell.with(func(l *locked) { l.pipe = Pipeline{StreamsCreated: true, PlaybackRunning: true} })
	tc.proto.events = []Event{ev(StateActiveDL, StateDisconnected, MsgEventReset)}
	tc.proto.dl = [][]byte{{1}}

	tc.serviceProtocol()

	if tc.open() || tc.proto.closes != 1 {
		t.Errorf("open=%v closes=%d", tc.open(), tc.proto.closes)
	}
	if len(tc.proto.dl) != 1 {
		t.Error("downlink serviced after reset ended the cycle")
	}
	if got := tc.drainRequests(); !slices.Equal(got, []HostRequestKind{RequestDeleteStreams}) {
		t.Errorf("requests=%v", got)
	}
	if tc.pipeline() != (Pipeline{}) {
		t.Errorf("pipeline=%+v", tc.pipeline())
	}
}

func TestSendUplink(t *testing.T) {
	tc := newTestConn(t)
	tc.proto.active = true

	payload := []byte("12345678")
	if err := tc.SendUplink(payload); err != nil {
		t.Fatalf("SendUplink: %v", err)
	}
	if len(tc.proto.sent) != 1 || string(tc.proto.sent[0]) != "12345678" {
		t.Errorf("sent=%q", tc.proto.sent)
	}
	if n := tc.pipeline().UplinkFrames; n != 1 {
		t.Errorf("UplinkFrames=%d", n)
	}

	err := tc.SendUplink([]byte("short"))
	if !errors.Is(err, ErrFrameSize) {
		t.Fatalf("short frame err=%v, want ErrFrameSize", err)
	}
	if last := tc.proto.sent[len(tc.proto.sent)-1]; string(last) != string(make([]byte, 8)) {
		t.Errorf("mismatched frame leaked payload bytes: %q", last)
	}
	if n := tc.pipeline().UplinkFrames; n != 1 {
		t.Errorf("UplinkFrames after mismatch=%d", n)
	}

	tc.proto.active = false
	if err := tc.SendUplink(payload); !errors.Is(err, ErrInactive) {
		t.Errorf("inactive err=%v", err)
	}
}

func TestSendUplinkIOErrorRecovers(t *testing.T) {
	tc := newTestConn(t)
	tc.proto.active = true
	tc.proto.ulErr = fmt.Errorf("fake: write: %w", ErrIO)

	err := tc.SendUplink(make([]byte, 8))
	if !errors.Is(err, ErrIO) {
		t.Fatalf("err=%v, want ErrIO", err)
	}
	if tc.open() {
		t.Error("endpoint still open")
	}
	if tc.proto.closes != 1 {
		t.Errorf("closes=%d, want 1", tc.proto.closes)
	}
	if s := tc.Stats(); s.Recoveries != 1 || s.UplinkFailed != 1 {
		t.Errorf("stats=%+v", s)
	}

	err = tc.SendUplink(make([]byte, 8))
	if !errors.Is(err, ErrNotOpen) || !errors.Is(err, ErrIO) {
		t.Errorf("after close err=%v, want ErrNotOpen", err)
	}
	if tc.proto.closes != 1 {
		t.Errorf("closes=%d after second send", tc.proto.closes)
	}
}

func TestCloseOnErrorConcurrent(t *testing.T) {
	tc := newTestConn(t)
	tc.cell.with(func(l *locked) { l.pipe = Pipeline{StreamsCreated: true, RecordRunning: true} })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tc.CloseOnError()
		}()
	}
	wg.Wait()

	if tc.proto.closes != 1 {
		t.Errorf("closes=%d, want 1", tc.proto.closes)
	}
	if got := tc.drainRequests(); !slices.Equal(got, []HostRequestKind{RequestDeleteStreams}) {
		t.Errorf("requests=%v", got)
	}
	if s := tc.Stats(); s.Recoveries != 1 {
		t.Errorf("recoveries=%d", s.Recoveries)
	}
}

func TestCloseOnErrorFlush(t *testing.T) {
	fill := func(tc *testConn) {
		tc.cell.with(func(l *locked) { l.pipe.PlaybackRunning = true })
		tc.proto.dl = [][]byte{{1}, {2}}
		tc.serviceDownlink()
		tc.serviceDownlink()
	}

	t.Run("host linked flushes", func(t *testing.T) {
		tc := newTestConn(t)
		tc.host.SetDownlinkLinked(true)
		fill(tc)
		tc.CloseOnError()
		if got := tc.drainRequests(); !slices.Equal(got, []HostRequestKind{RequestFlushDownlink}) {
			t.Errorf("requests=%v", got)
		}
		if n := tc.Downlink().Len(); n != 2 {
			t.Errorf("queue len=%d, host owns the flush", n)
		}
	})

	t.Run("host unlinked drains", func(t *testing.T) {
		tc := newTestConn(t)
		fill(tc)
		tc.CloseOnError()
		if n := tc.Downlink().Len(); n != 0 {
			t.Errorf("queue len=%d", n)
		}
		if tc.proto.released != 2 {
			t.Errorf("released=%d", tc.proto.released)
		}
	})
}

func TestWatchdogForcesCleanup(t *testing.T) {
	tc := newTestConn(t)
	tc.proto.active = true

	before := time.Now()
	tc.HandleSignal(ServerStatus(false))
	if s := tc.WatchdogState(); s != WatchdogActive {
		t.Fatalf("watchdog=%v, want active", s)
	}
	deadline := tc.wd.deadlineTime()
	if d := deadline.Sub(before); d < 5*time.Second || d > 6*time.Second {
		t.Errorf("deadline in %v, want about 5s", d)
	}

	tc.watchdogPass(before.Add(time.Second))
	if tc.WatchdogState() != WatchdogActive {
		t.Errorf("early pass: state=%v", tc.WatchdogState())
	}
	if at := tc.nextTimer(time.Time{}); !at.Equal(deadline) {
		t.Errorf("early pass: timer=%v, want %v", at, deadline)
	}
	if tc.proto.injected != 0 {
		t.Error("early pass injected an error")
	}

	tc.watchdogPass(deadline.Add(time.Millisecond))
	if at := tc.nextTimer(time.Time{}); !at.IsZero() {
		t.Errorf("expiry pass: timer=%v", at)
	}
	if tc.WatchdogState() != WatchdogInactive {
		t.Errorf("watchdog=%v after expiry", tc.WatchdogState())
	}
	if tc.proto.injected != 1 {
		t.Errorf("injected=%d, want 1", tc.proto.injected)
	}
	want := []HostRequestKind{RequestDownlinkDisconnect, RequestUplinkDisconnect}
	if got := tc.drainRequests(); !slices.Equal(got, want) {
		t.Errorf("requests=%v, want %v", got, want)
	}
	if s := tc.Stats(); s.WatchdogCleanups != 1 {
		t.Errorf("cleanups=%d", s.WatchdogCleanups)
	}
}

func TestWatchdogIdleEndpoint(t *testing.T) {
	tc := newTestConn(t)
	tc.HandleSignal(ServerStatus(false))
	tc.watchdogPass(time.Now().Add(time.Minute))

	if tc.proto.injected != 0 || len(tc.drainRequests()) != 0 {
		t.Error("idle endpoint was force-cleaned")
	}
	if tc.WatchdogState() != WatchdogInactive {
		t.Errorf("watchdog=%v", tc.WatchdogState())
	}
}

func TestWatchdogPausedByCall(t *testing.T) {
	tc := newTestConn(t)
	tc.proto.active = true
	tc.HandleSignal(ServerStatus(false))
	tc.HandleSignal(ServerStatus(true))

	if tc.WatchdogState() != WatchdogInactive {
		t.Errorf("watchdog=%v, want inactive", tc.WatchdogState())
	}
	if !tc.logger.contains("watchdog changed to inactive by call start") {
		t.Error("pause not logged")
	}
	if !slices.Equal(tc.proto.callStatus, []bool{false, true}) {
		t.Errorf("call status=%v", tc.proto.callStatus)
	}
}

func TestWatchdogWithoutHandle(t *testing.T) {
	tc := newTestConn(t)
	tc.CloseOnError()
	tc.HandleSignal(ServerStatus(false))
	if tc.WatchdogState() != WatchdogInactive {
		t.Errorf("watchdog=%v without a handle", tc.WatchdogState())
	}
}

func TestDecideWatchdog(t *testing.T) {
	now := time.Unix(1000, 0)
	tests := []struct {
		name       string
		inProgress bool
		handle     bool
		deadline   time.Time
		want       watchdogVerdict
	}{
		{"call in progress", true, true, now.Add(-time.Second), verdictDisarm},
		{"no handle", false, false, now.Add(-time.Second), verdictDisarm},
		{"not yet", false, true, now.Add(time.Second), verdictRearm},
		{"expired", false, true, now.Add(-time.Nanosecond), verdictExpire},
		{"exactly at deadline", false, true, now, verdictExpire},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decideWatchdog(tt.inProgress, tt.handle, now, tt.deadline); got != tt.want {
				t.Errorf("got=%v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandleSignal(t *testing.T) {
	tc := newTestConn(t)

	tc.HandleSignal(CallConnect(true, false, true))
	if !slices.Equal(tc.proto.callConnect, []bool{false}) {
		t.Errorf("call connect=%v, want the DL flag", tc.proto.callConnect)
	}
	var intent CallIntent
	tc.cell.with(func(l *locked) { intent = l.intent })
	if intent != (CallIntent{UL: true, Emergency: true}) {
		t.Errorf("intent=%+v", intent)
	}
	if got := tc.Status().Intent; got != intent {
		t.Errorf("status intent=%+v, want %+v", got, intent)
	}

	states := []struct {
		state CallState
		want  bool
	}{
		{CallActive, true},
		{CallAlerting, true},
		{CallHeld, true},
		{CallWaiting, true},
		{CallIncoming, false},
		{CallDialing, false},
		{CallDisconnected, false},
	}
	for _, s := range states {
		tc.proto.callStatus = nil
		tc.HandleSignal(VoiceCallState(s.state))
		if !slices.Equal(tc.proto.callStatus, []bool{s.want}) {
			t.Errorf("%s: call status=%v, want %v", s.state, tc.proto.callStatus, s.want)
		}
	}

	tc.proto.callStatus = nil
	tc.HandleSignal(VoiceCallState("conference"))
	if len(tc.proto.callStatus) != 0 {
		t.Error("unknown call state injected")
	}

	tc.HandleSignal(ModemState("online"))
	if !tc.logger.contains("modem state change: online") {
		t.Error("modem state not logged")
	}
	if tc.WatchdogState() != WatchdogInactive {
		t.Error("voice call state touched the watchdog")
	}
}

func TestCallConnectWithoutHandle(t *testing.T) {
	tc := newTestConn(t)
	tc.CloseOnError()
	tc.HandleSignal(CallConnect(true, true, false))
	if len(tc.proto.callConnect) != 0 {
		t.Error("injected without a handle")
	}
	var intent CallIntent
	tc.cell.with(func(l *locked) { intent = l.intent })
	if !intent.DL || !intent.UL {
		t.Errorf("intent not stored: %+v", intent)
	}
}

func TestStatus(t *testing.T) {
	tc := newTestConn(t)
	tc.proto.active = true
	tc.HandleSignal(ServerStatus(true))
	s := tc.Status()
	if !s.Open || !s.Active || !s.CallInProgress || s.Thread != ThreadUninitialized {
		t.Errorf("status=%+v", s)
	}
}
