// Package queue implements the bounded packet queues that sit between the
// embedding caller and the tunnel runtime. Capacity is fixed at
// construction and never exceeded; producers and consumers block with a
// bounded deadline instead of growing or silently dropping.
package queue

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geph-official/geph5/pkg/core"
)

// Queue errors. A closed queue returns the cause passed to Close so that
// callers can distinguish a graceful stop from a session failure.
var (
	// ErrClosed is returned when the queue has been closed without a cause.
	ErrClosed = errors.New("queue closed")

	// ErrFull is returned when an enqueue times out against a full queue.
	ErrFull = errors.New("queue full")

	// ErrWouldBlock is returned when a dequeue times out against an
	// empty queue. This is a transient condition, not a failure.
	ErrWouldBlock = errors.New("no packet available")

	// ErrBufferTooSmall is returned when the caller's buffer cannot hold
	// the head packet. The head packet is retained for a retry.
	ErrBufferTooSmall = errors.New("buffer too small for head packet")
)

// PacketQueue is a bounded FIFO of packets, safe for concurrent use.
// Blocking is wakeup-driven (channel-based), never spinning. Consumers are
// serialized so that the peek-then-commit dequeue contract holds.
type PacketQueue struct {
	name string
	ch   chan core.Packet

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error

	// cmu serializes consumers; head is the peeked-but-uncommitted packet
	// retained after a short-buffer dequeue.
	cmu  sync.Mutex
	head core.Packet

	metrics core.QueueMetrics
}

// New creates a queue with the given fixed capacity. The name is used only
// for logging and metrics identification.
func New(name string, capacity int) *PacketQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &PacketQueue{
		name:   name,
		ch:     make(chan core.Packet, capacity),
		closed: make(chan struct{}),
	}
}

// Name returns the queue's name.
func (q *PacketQueue) Name() string { return q.name }

// Capacity returns the fixed capacity.
func (q *PacketQueue) Capacity() int { return cap(q.ch) }

// Len returns the current number of queued packets, including a retained
// head packet.
func (q *PacketQueue) Len() int {
	n := len(q.ch)
	q.cmu.Lock()
	if q.head != nil {
		n++
	}
	q.cmu.Unlock()
	return n
}

// Enqueue appends a packet, blocking up to wait while the queue is full.
// It returns ErrFull on deadline expiry and the close cause once the queue
// is closed.
func (q *PacketQueue) Enqueue(pkt core.Packet, wait time.Duration) error {
	select {
	case <-q.closed:
		return q.closeErr
	default:
	}

	if wait <= 0 {
		select {
		case q.ch <- pkt:
			q.countEnqueue(pkt)
			return nil
		case <-q.closed:
			return q.closeErr
		default:
			atomic.AddUint64(&q.metrics.FullTimeouts, 1)
			return ErrFull
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case q.ch <- pkt:
		q.countEnqueue(pkt)
		return nil
	case <-q.closed:
		return q.closeErr
	case <-timer.C:
		atomic.AddUint64(&q.metrics.FullTimeouts, 1)
		return ErrFull
	}
}

// Dequeue removes and returns the oldest packet, blocking up to wait while
// the queue is empty. It returns ErrWouldBlock on deadline expiry and the
// close cause once the queue is closed.
func (q *PacketQueue) Dequeue(wait time.Duration) (core.Packet, error) {
	q.cmu.Lock()
	defer q.cmu.Unlock()

	pkt, err := q.takeLocked(wait)
	if err != nil {
		return nil, err
	}
	q.countDequeue(pkt)
	return pkt, nil
}

// DequeueInto removes the oldest packet and copies it into buf, returning
// the packet length. If the packet is larger than buf, it returns
// ErrBufferTooSmall and the packet stays at the head of the queue, so a
// retry with an adequate buffer returns those exact bytes. This is how
// "buffer inadequate" stays distinguishable from "no data yet".
func (q *PacketQueue) DequeueInto(buf []byte, wait time.Duration) (int, error) {
	q.cmu.Lock()
	defer q.cmu.Unlock()

	pkt, err := q.takeLocked(wait)
	if err != nil {
		return 0, err
	}

	data := pkt.Data()
	if len(data) > len(buf) {
		// Retain: the packet stays peeked, not consumed.
		q.head = pkt
		atomic.AddUint64(&q.metrics.ShortBuffers, 1)
		return 0, ErrBufferTooSmall
	}

	n := copy(buf, data)
	q.countDequeue(pkt)
	return n, nil
}

// takeLocked produces the next packet, preferring a retained head. Caller
// must hold cmu.
func (q *PacketQueue) takeLocked(wait time.Duration) (core.Packet, error) {
	if q.head != nil {
		pkt := q.head
		q.head = nil
		return pkt, nil
	}

	select {
	case <-q.closed:
		return nil, q.closeErr
	default:
	}

	if wait <= 0 {
		select {
		case pkt := <-q.ch:
			return pkt, nil
		default:
			atomic.AddUint64(&q.metrics.EmptyTimeouts, 1)
			return nil, ErrWouldBlock
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case pkt := <-q.ch:
		return pkt, nil
	case <-q.closed:
		return nil, q.closeErr
	case <-timer.C:
		atomic.AddUint64(&q.metrics.EmptyTimeouts, 1)
		return nil, ErrWouldBlock
	}
}

// Close closes the queue, waking every blocked producer and consumer. The
// cause, if non-nil, becomes the error returned by all subsequent (and
// currently blocked) operations. Close is idempotent; only the first cause
// sticks.
func (q *PacketQueue) Close(cause error) {
	q.closeOnce.Do(func() {
		if cause == nil {
			cause = ErrClosed
		}
		q.closeErr = cause
		close(q.closed)
	})
}

// Closed reports whether the queue has been closed.
func (q *PacketQueue) Closed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

// Metrics returns a snapshot of the queue's counters.
func (q *PacketQueue) Metrics() core.QueueMetrics {
	return core.QueueMetrics{
		PacketsEnqueued: atomic.LoadUint64(&q.metrics.PacketsEnqueued),
		PacketsDequeued: atomic.LoadUint64(&q.metrics.PacketsDequeued),
		BytesEnqueued:   atomic.LoadUint64(&q.metrics.BytesEnqueued),
		BytesDequeued:   atomic.LoadUint64(&q.metrics.BytesDequeued),
		FullTimeouts:    atomic.LoadUint64(&q.metrics.FullTimeouts),
		EmptyTimeouts:   atomic.LoadUint64(&q.metrics.EmptyTimeouts),
		ShortBuffers:    atomic.LoadUint64(&q.metrics.ShortBuffers),
	}
}

func (q *PacketQueue) countEnqueue(pkt core.Packet) {
	atomic.AddUint64(&q.metrics.PacketsEnqueued, 1)
	atomic.AddUint64(&q.metrics.BytesEnqueued, uint64(pkt.Length()))
}

func (q *PacketQueue) countDequeue(pkt core.Packet) {
	atomic.AddUint64(&q.metrics.PacketsDequeued, 1)
	atomic.AddUint64(&q.metrics.BytesDequeued, uint64(pkt.Length()))
}
