package cmtspeech

import "sync/atomic"

// ThreadState is the lifecycle state of the event loop goroutine.
type ThreadState int32

const (
	ThreadUninitialized ThreadState = iota
	ThreadStarting
	ThreadRunning
	ThreadAskQuit
	ThreadQuit
)

// String returns the string representation of the state.
func (s ThreadState) String() string {
	switch s {
	case ThreadUninitialized:
		return "uninitialized"
	case ThreadStarting:
		return "starting"
	case ThreadRunning:
		return "running"
	case ThreadAskQuit:
		return "ask_quit"
	case ThreadQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ThreadState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// stopAction is what Stop has to do when it observes a ThreadState.
type stopAction int

const (
	stopDone stopAction = iota
	stopWaitRunning
	stopAskQuit
	stopWaitQuit
	stopTeardown
)

// stopStep maps the observed lifecycle state to the next Stop action.
func stopStep(s ThreadState) stopAction {
	switch s {
	case ThreadStarting:
		return stopWaitRunning
	case ThreadRunning:
		return stopAskQuit
	case ThreadAskQuit:
		return stopWaitQuit
	case ThreadQuit:
		return stopTeardown
	default:
		return stopDone
	}
}

// threadState is an atomic ThreadState.
type threadState struct{ v atomic.Int32 }

func (t *threadState) Load() ThreadState   { return ThreadState(t.v.Load()) }
func (t *threadState) Store(s ThreadState) { t.v.Store(int32(s)) }
func (t *threadState) CompareAndSwap(old, new ThreadState) bool {
	return t.v.CompareAndSwap(int32(old), int32(new))
}

// WatchdogState is the state of the idle-connection watchdog.
type WatchdogState int32

const (
	WatchdogInactive WatchdogState = iota
	WatchdogActive
	WatchdogCleanupInProgress
)

// String returns the string representation of the state.
func (s WatchdogState) String() string {
	switch s {
	case WatchdogInactive:
		return "inactive"
	case WatchdogActive:
		return "active"
	case WatchdogCleanupInProgress:
		return "cleanup_in_progress"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s WatchdogState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
