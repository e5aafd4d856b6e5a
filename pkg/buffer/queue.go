package buffer

import (
	"fmt"
	"io"
	"sync"
)

// Queue is a fixed-capacity, thread-safe FIFO of elements.
//
// Unlike Buffer, a Queue never grows: TryAdd reports false when the queue holds
// Cap() elements and the caller keeps ownership of the rejected element. The
// consumer side offers both a non-blocking TryNext and a blocking Next built on
// a condition variable, so a single queue can feed a pull-driven audio sink
// and a goroutine that waits for work.
type Queue[T any] struct {
	cond *sync.Cond

	mu         sync.Mutex
	buf        []T
	head, tail int64
	closeWrite bool
	closeErr   error
}

// QueueN creates a new Queue that holds at most size elements.
func QueueN[T any](size int) *Queue[T] {
	if size <= 0 {
		panic("buffer: queue size must be positive")
	}
	q := &Queue[T]{buf: make([]T, size)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// TryAdd appends t without blocking. It returns false if the queue is full or
// closed; the element is not retained in that case.
func (q *Queue[T]) TryAdd(t T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closeErr != nil || q.closeWrite {
		return false
	}
	if q.tail-q.head == int64(len(q.buf)) {
		return false
	}
	q.buf[q.tail%int64(len(q.buf))] = t
	q.tail++
	q.cond.Signal()
	return true
}

// TryNext removes and returns the oldest element without blocking.
func (q *Queue[T]) TryNext() (t T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == q.tail {
		return t, false
	}
	return q.popLocked(), true
}

// Next removes and returns the oldest element, blocking until one is
// available. It returns ErrIteratorDone once the queue is closed for writing
// and drained.
func (q *Queue[T]) Next() (t T, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head == q.tail {
		if q.closeErr != nil {
			err = fmt.Errorf("buffer: read from closed queue: %w", q.closeErr)
			return
		}
		if q.closeWrite {
			err = ErrIteratorDone
			return
		}
		q.cond.Wait()
	}
	return q.popLocked(), nil
}

func (q *Queue[T]) popLocked() T {
	var zero T
	i := q.head % int64(len(q.buf))
	t := q.buf[i]
	q.buf[i] = zero
	q.head++
	return t
}

// Drain removes every queued element in FIFO order and passes it to fn.
// It returns the number of elements drained. fn is called without the queue
// lock held, so it may call back into the queue.
func (q *Queue[T]) Drain(fn func(T)) int {
	n := 0
	for {
		t, ok := q.TryNext()
		if !ok {
			return n
		}
		n++
		if fn != nil {
			fn(t)
		}
	}
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.tail - q.head)
}

// Cap returns the fixed capacity of the queue.
func (q *Queue[T]) Cap() int {
	return len(q.buf)
}

// CloseWrite stops further additions. Queued elements stay readable.
func (q *Queue[T]) CloseWrite() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closeWrite = true
	q.cond.Broadcast()
	return nil
}

// CloseWithError closes both ends. Elements still queued are kept so that the
// owner can Drain them; blocked readers are woken and see err once the queue
// is empty. If err is nil, io.ErrClosedPipe is used.
func (q *Queue[T]) CloseWithError(err error) error {
	if err == nil {
		err = io.ErrClosedPipe
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closeErr != nil {
		return nil
	}
	q.closeErr = err
	q.closeWrite = true
	q.cond.Broadcast()
	return nil
}

// Close is equivalent to CloseWithError(io.ErrClosedPipe).
func (q *Queue[T]) Close() error {
	return q.CloseWithError(io.ErrClosedPipe)
}
