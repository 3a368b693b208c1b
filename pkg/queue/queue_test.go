package queue

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/geph-official/geph5/pkg/core"
)

func mkPacket(b []byte) core.Packet {
	return core.NewPacket(append([]byte(nil), b...))
}

func TestQueueFIFO(t *testing.T) {
	q := New("test", 8)
	for _, b := range [][]byte{{1}, {2}, {3}} {
		if err := q.Enqueue(mkPacket(b), time.Second); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	for i := byte(1); i <= 3; i++ {
		pkt, err := q.Dequeue(time.Second)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if pkt.Data()[0] != i {
			t.Fatalf("expected packet %d, got %d", i, pkt.Data()[0])
		}
	}
}

// TestShortBufferRetainsHead checks the peek-then-commit contract: a
// dequeue into an undersized buffer must not consume the head packet.
func TestShortBufferRetainsHead(t *testing.T) {
	q := New("test", 4)
	payload := make([]byte, 40)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := q.Enqueue(mkPacket(payload), time.Second); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	small := make([]byte, 10)
	if _, err := q.DequeueInto(small, time.Second); !errors.Is(err, ErrBufferTooSmall) {
		t.Fatalf("expected ErrBufferTooSmall, got %v", err)
	}

	big := make([]byte, 64)
	n, err := q.DequeueInto(big, time.Second)
	if err != nil {
		t.Fatalf("retry dequeue: %v", err)
	}
	if n != 40 {
		t.Fatalf("expected length 40, got %d", n)
	}
	if !bytes.Equal(big[:n], payload) {
		t.Fatal("retried packet bytes differ from original")
	}
	if q.Len() != 0 {
		t.Fatalf("queue should be empty, len=%d", q.Len())
	}
}

func TestEnqueueFullTimeout(t *testing.T) {
	q := New("test", 1)
	if err := q.Enqueue(mkPacket([]byte{1}), time.Second); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	start := time.Now()
	err := q.Enqueue(mkPacket([]byte{2}), 30*time.Millisecond)
	if !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("enqueue blocked far past its deadline")
	}
	if q.Metrics().FullTimeouts != 1 {
		t.Fatalf("expected 1 full timeout, got %d", q.Metrics().FullTimeouts)
	}
}

func TestDequeueWouldBlock(t *testing.T) {
	q := New("test", 4)
	buf := make([]byte, 64)
	if _, err := q.DequeueInto(buf, 20*time.Millisecond); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("expected ErrWouldBlock, got %v", err)
	}
	if _, err := q.Dequeue(0); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("expected ErrWouldBlock on non-blocking dequeue, got %v", err)
	}
}

// TestCloseUnblocks checks that a close wakes every blocked producer and
// consumer with the close cause.
func TestCloseUnblocks(t *testing.T) {
	q := New("test", 1)
	if err := q.Enqueue(mkPacket([]byte{1}), time.Second); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	cause := errors.New("session died")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs <- q.Enqueue(mkPacket([]byte{2}), 10*time.Second)
	}()
	go func() {
		defer wg.Done()
		// Drain the only packet first so this dequeue really blocks.
		if _, err := q.Dequeue(time.Second); err != nil {
			errs <- err
			return
		}
		_, err := q.Dequeue(10 * time.Second)
		errs <- err
	}()

	time.Sleep(50 * time.Millisecond)
	q.Close(cause)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked operations did not unblock after close")
	}
	close(errs)
	for err := range errs {
		// The enqueue may have won the race for the freed slot before
		// the close landed; everything else must carry the cause.
		if err != nil && !errors.Is(err, cause) {
			t.Fatalf("expected close cause, got %v", err)
		}
	}

	if err := q.Enqueue(mkPacket([]byte{3}), 0); !errors.Is(err, cause) {
		t.Fatalf("post-close enqueue: expected cause, got %v", err)
	}
}

func TestCapacityNeverExceeded(t *testing.T) {
	const capacity = 4
	q := New("test", capacity)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Enqueue(mkPacket([]byte{byte(i)}), 10*time.Millisecond)
		}(i)
	}
	wg.Wait()
	if got := q.Len(); got > capacity {
		t.Fatalf("queue grew past capacity: len=%d cap=%d", got, capacity)
	}
}
