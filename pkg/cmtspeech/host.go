package cmtspeech

import (
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/haivivi/cmtbridge/pkg/buffer"
)

// HostRequestKind tags a HostRequest.
type HostRequestKind int

const (
	RequestCreateStreams HostRequestKind = iota + 1
	RequestDeleteStreams
	RequestDownlinkConnect
	RequestDownlinkDisconnect
	RequestUplinkConnect
	RequestUplinkDisconnect
	RequestUplinkDeadline
	RequestFlushDownlink
	RequestUnload
)

// String returns the string representation of the kind.
func (k HostRequestKind) String() string {
	switch k {
	case RequestCreateStreams:
		return "create_streams"
	case RequestDeleteStreams:
		return "delete_streams"
	case RequestDownlinkConnect:
		return "dl_connect"
	case RequestDownlinkDisconnect:
		return "dl_disconnect"
	case RequestUplinkConnect:
		return "ul_connect"
	case RequestUplinkDisconnect:
		return "ul_disconnect"
	case RequestUplinkDeadline:
		return "ul_deadline"
	case RequestFlushDownlink:
		return "flush_dl"
	case RequestUnload:
		return "unload"
	default:
		return fmt.Sprintf("request(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k HostRequestKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *HostRequestKind) UnmarshalText(b []byte) error {
	for v := RequestCreateStreams; v <= RequestUnload; v++ {
		if v.String() == string(b) {
			*k = v
			return nil
		}
	}
	return fmt.Errorf("cmtspeech: unknown host request %q", b)
}

// HostRequest is a fire-and-forget message from the connection to the host
// audio graph. Only the field matching Kind is meaningful.
type HostRequest struct {
	Kind HostRequestKind `json:"kind" msgpack:"kind"`

	// DeadlineUs is the absolute uplink send deadline in microseconds since
	// the Unix epoch (RequestUplinkDeadline).
	DeadlineUs int64 `json:"deadline_us,omitempty" msgpack:"deadline_us,omitempty"`

	// Reason explains an unload request (RequestUnload).
	Reason string `json:"reason,omitempty" msgpack:"reason,omitempty"`
}

func (r HostRequest) String() string {
	switch r.Kind {
	case RequestUplinkDeadline:
		return fmt.Sprintf("%v(%d)", r.Kind, r.DeadlineUs)
	case RequestUnload:
		return fmt.Sprintf("%v(%s)", r.Kind, r.Reason)
	default:
		return r.Kind.String()
	}
}

// Host is the host audio graph as seen from the connection.
//
// Post must not block. Requests are delivered in posting order.
type Host interface {
	Post(req HostRequest)

	// DownlinkLinked reports whether the host's downlink sink is attached
	// and will drain the frame queue itself when asked to flush.
	DownlinkLinked() bool

	// UplinkLinked reports whether an uplink producer is attached that can
	// receive uplink deadlines.
	UplinkLinked() bool
}

// RequestQueue is a Host backed by an unbounded FIFO. The host graph
// consumes requests with Next and reports link state with SetDownlinkLinked
// and SetUplinkLinked.
type RequestQueue struct {
	reqs     *buffer.Buffer[HostRequest]
	dlLinked atomic.Bool
	ulLinked atomic.Bool
}

// NewRequestQueue creates an empty RequestQueue.
func NewRequestQueue() *RequestQueue {
	return &RequestQueue{reqs: buffer.N[HostRequest](16)}
}

// Post implements Host. Requests posted after Close are dropped.
func (q *RequestQueue) Post(req HostRequest) {
	_ = q.reqs.Add(req)
}

// DownlinkLinked implements Host.
func (q *RequestQueue) DownlinkLinked() bool { return q.dlLinked.Load() }

// UplinkLinked implements Host.
func (q *RequestQueue) UplinkLinked() bool { return q.ulLinked.Load() }

// SetDownlinkLinked updates the downlink link state.
func (q *RequestQueue) SetDownlinkLinked(v bool) { q.dlLinked.Store(v) }

// SetUplinkLinked updates the uplink link state.
func (q *RequestQueue) SetUplinkLinked(v bool) { q.ulLinked.Store(v) }

// Next blocks until a request is available. It returns
// buffer.ErrIteratorDone after Close once all requests are consumed.
func (q *RequestQueue) Next() (HostRequest, error) {
	return q.reqs.Next()
}

// TryNext returns the next request without blocking.
func (q *RequestQueue) TryNext() (HostRequest, bool) {
	return q.reqs.TryNext()
}

// Requests yields requests until the queue is closed and drained.
func (q *RequestQueue) Requests() iter.Seq[HostRequest] {
	return func(yield func(HostRequest) bool) {
		for {
			req, err := q.reqs.Next()
			if err != nil {
				return
			}
			if !yield(req) {
				return
			}
		}
	}
}

// Pending returns a copy of the requests not yet consumed.
func (q *RequestQueue) Pending() []HostRequest {
	return q.reqs.Snapshot()
}

// Close stops accepting requests. Queued requests remain readable.
func (q *RequestQueue) Close() error {
	return q.reqs.CloseWrite()
}
