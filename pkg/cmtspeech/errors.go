package cmtspeech

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrIO reports an I/O-class fault on the modem speech endpoint. A
	// Protocol implementation wraps it when a buffer release or a descriptor
	// operation fails in a way that invalidates the handle.
	ErrIO = errors.New("cmtspeech: i/o error")

	// ErrNotOpen is returned by SendUplink when no protocol handle is open.
	// It wraps ErrIO.
	ErrNotOpen = fmt.Errorf("cmtspeech: endpoint not open: %w", ErrIO)

	// ErrInactive is returned by SendUplink when the modem does not report an
	// active speech session.
	ErrInactive = errors.New("cmtspeech: endpoint not active")

	// ErrFrameSize is returned by SendUplink when the payload length does not
	// match the capacity of the acquired uplink buffer.
	ErrFrameSize = errors.New("cmtspeech: uplink frame size mismatch")

	// ErrBufferUnavailable is returned by a Protocol when no buffer can be
	// acquired right now.
	ErrBufferUnavailable = errors.New("cmtspeech: buffer unavailable")

	// ErrAlreadyStarted is returned by Start when the loop is not in the
	// uninitialized state.
	ErrAlreadyStarted = errors.New("cmtspeech: already started")
)
