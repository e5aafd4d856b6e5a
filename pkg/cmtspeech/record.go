package cmtspeech

import (
	"sync/atomic"
	"time"
)

// RecordKind tags a Record.
type RecordKind string

const (
	RecordOpen       RecordKind = "open"
	RecordTransition RecordKind = "transition"
	RecordRecovery   RecordKind = "recovery"
	RecordWatchdog   RecordKind = "watchdog"
	RecordSignal     RecordKind = "signal"
	RecordUnload     RecordKind = "unload"
)

// Record describes something the connection did. Records are emitted after
// the connection lock is released.
type Record struct {
	Kind   RecordKind `json:"kind" msgpack:"kind"`
	Time   time.Time  `json:"time" msgpack:"time"`
	Row    Row        `json:"row,omitempty" msgpack:"row,omitempty"`
	Event  *Event     `json:"event,omitempty" msgpack:"event,omitempty"`
	Signal *Signal    `json:"signal,omitempty" msgpack:"signal,omitempty"`
	Detail string     `json:"detail,omitempty" msgpack:"detail,omitempty"`
}

// Recorder receives Records. Record must not block for long; it is called
// from the event loop.
type Recorder interface {
	Record(r Record)
}

type nopRecorder struct{}

func (nopRecorder) Record(Record) {}

// Stats is a snapshot of connection counters.
type Stats struct {
	DownlinkReceived uint64 `json:"dl_received" yaml:"dl_received"`
	DownlinkQueued   uint64 `json:"dl_queued" yaml:"dl_queued"`
	DownlinkDropped  uint64 `json:"dl_dropped" yaml:"dl_dropped"`
	DownlinkReleased uint64 `json:"dl_released" yaml:"dl_released"`
	DownlinkFailed   uint64 `json:"dl_acquire_failed" yaml:"dl_acquire_failed"`
	UplinkSent       uint64 `json:"ul_sent" yaml:"ul_sent"`
	UplinkFailed     uint64 `json:"ul_failed" yaml:"ul_failed"`
	Recoveries       uint64 `json:"recoveries" yaml:"recoveries"`
	WatchdogCleanups uint64 `json:"watchdog_cleanups" yaml:"watchdog_cleanups"`
	OpenFailures     uint64 `json:"open_failures" yaml:"open_failures"`

	// DownlinkReleaseFailed counts frames the endpoint did not take back:
	// it was closed, reopened since, or did not know the frame.
	DownlinkReleaseFailed uint64 `json:"dl_release_failed" yaml:"dl_release_failed"`
}

type counters struct {
	dlReceived, dlQueued, dlDropped, dlReleased, dlFailed atomic.Uint64
	dlReleaseFailed                                       atomic.Uint64
	ulSent, ulFailed                                      atomic.Uint64
	recoveries, watchdogCleanups, openFailures            atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		DownlinkReceived: c.dlReceived.Load(),
		DownlinkQueued:   c.dlQueued.Load(),
		DownlinkDropped:  c.dlDropped.Load(),
		DownlinkReleased: c.dlReleased.Load(),
		DownlinkFailed:   c.dlFailed.Load(),
		UplinkSent:       c.ulSent.Load(),
		UplinkFailed:     c.ulFailed.Load(),
		Recoveries:       c.recoveries.Load(),
		WatchdogCleanups: c.watchdogCleanups.Load(),
		OpenFailures:     c.openFailures.Load(),

		DownlinkReleaseFailed: c.dlReleaseFailed.Load(),
	}
}
