package buffer

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrIteratorDone is returned when iteration is complete.
var ErrIteratorDone = errors.New("iterator done")

// Buffer is a thread-safe growable FIFO of elements.
//
// Add appends without ever blocking; Next pops from the front and blocks
// while the buffer is empty. The buffer maintains a write notification channel
// for blocking reads. When the buffer is closed for writing, Next returns
// ErrIteratorDone once all elements have been consumed.
type Buffer[T any] struct {
	writeNotify chan struct{}

	mu         sync.Mutex
	closeWrite bool
	closeErr   error
	buf        []T
}

// N creates a new Buffer with the specified initial capacity.
//
// The initial capacity is a hint; the buffer grows beyond it as needed.
func N[T any](n int) *Buffer[T] {
	return &Buffer[T]{
		writeNotify: make(chan struct{}, 1),
		buf:         make([]T, 0, n),
	}
}

// Add appends a single element to the end of the buffer and wakes a waiting
// reader.
//
// Returns an error if the buffer is closed for writing or has been closed with
// an error.
func (b *Buffer[T]) Add(t T) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeErr != nil {
		return fmt.Errorf("buffer: write to closed buffer: %w", b.closeErr)
	}
	if b.closeWrite {
		return fmt.Errorf("buffer: write to closed buffer: %w", io.ErrClosedPipe)
	}
	b.buf = append(b.buf, t)
	select {
	case b.writeNotify <- struct{}{}:
	default:
	}
	return nil
}

// Next removes and returns the oldest element.
//
// It blocks until an element is available or the buffer is closed. If the
// buffer is closed for writing and empty, it returns ErrIteratorDone.
func (b *Buffer[T]) Next() (t T, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeErr != nil {
		err = fmt.Errorf("buffer: read from closed buffer: %w", b.closeErr)
		return
	}
	for len(b.buf) == 0 {
		if b.closeWrite {
			err = ErrIteratorDone
			return
		}
		b.mu.Unlock()
		<-b.writeNotify
		b.mu.Lock()
		if b.closeErr != nil {
			err = fmt.Errorf("buffer: read from closed buffer: %w", b.closeErr)
			return
		}
	}
	var zero T
	t = b.buf[0]
	b.buf[0] = zero
	b.buf = b.buf[1:]
	return
}

// TryNext removes and returns the oldest element without blocking.
func (b *Buffer[T]) TryNext() (t T, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) == 0 {
		return t, false
	}
	var zero T
	t = b.buf[0]
	b.buf[0] = zero
	b.buf = b.buf[1:]
	return t, true
}

// Snapshot returns a copy of the queued elements in FIFO order.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]T, len(b.buf))
	copy(out, b.buf)
	return out
}

// Len returns the number of elements currently in the buffer.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Reset discards all buffered elements. It does not reopen a closed buffer.
func (b *Buffer[T]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.buf)
	b.buf = b.buf[:0]
}

// CloseWrite closes the write side of the buffer. Remaining elements stay
// readable; after they are consumed Next returns ErrIteratorDone.
//
// Returns nil if the write side was already closed.
func (b *Buffer[T]) CloseWrite() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeWrite {
		return nil
	}
	b.closeWrite = true
	close(b.writeNotify)
	return nil
}

// CloseWithError closes both ends of the buffer and drops buffered elements.
// If err is nil, io.ErrClosedPipe is used.
func (b *Buffer[T]) CloseWithError(err error) error {
	if err == nil {
		err = io.ErrClosedPipe
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeErr != nil {
		return nil
	}
	b.closeErr = err
	b.buf = nil
	if !b.closeWrite {
		b.closeWrite = true
		close(b.writeNotify)
	}
	return nil
}

// Error returns the error that caused the buffer to be closed, if any.
func (b *Buffer[T]) Error() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeErr
}

// Close is equivalent to CloseWithError(io.ErrClosedPipe).
func (b *Buffer[T]) Close() error {
	return b.CloseWithError(io.ErrClosedPipe)
}
