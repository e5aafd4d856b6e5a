// Package buffer provides thread-safe element queues for passing frames and
// requests between goroutines.
//
// Two queue types are offered:
//
//   - Queue: a fixed-capacity circular queue. Producers use TryAdd, which never
//     blocks and reports false when the queue is full. Consumers either poll
//     with TryNext or block in Next. Suitable for real-time hand-off where the
//     producer must not stall, such as modem frames handed to an audio sink.
//
//   - Buffer: a growable FIFO. Add never blocks and never fails while the
//     buffer is open; Next blocks until an element arrives. Suitable for
//     low-rate control requests that must not be dropped.
//
// Both support graceful shutdown through CloseWrite() (consumers drain what is
// left, then see ErrIteratorDone) or CloseWithError() (immediate closure).
//
// Example usage:
//
//	q := buffer.QueueN[*Frame](4)
//	if !q.TryAdd(frame) {
//	    frame.Release()
//	}
//
//	f, ok := q.TryNext()
package buffer
