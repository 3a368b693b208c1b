package tunnel

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/geph-official/geph5/pkg/core"
	"github.com/geph-official/geph5/pkg/logging"
	"github.com/geph-official/geph5/pkg/queue"
	"github.com/geph-official/geph5/pkg/rpc"
)

// sessionError carries the first pump error plus whether it must kill the
// whole runtime rather than trigger a redial.
type sessionError struct {
	err   error
	fatal bool
}

// runSession pumps one live session until it dies or the runtime
// terminates. It returns the cause and whether it is fatal.
func (r *Runtime) runSession(t core.Transport) (error, bool) {
	var (
		once    sync.Once
		cause   sessionError
		dead    = make(chan struct{})
		crashed = func(err error, fatal bool) {
			once.Do(func() {
				cause = sessionError{err: err, fatal: fatal}
				close(dead)
				// Unblock pumps stuck in transport reads/writes.
				t.Close()
			})
		}
	)

	// Runtime termination also ends the session.
	go func() {
		select {
		case <-r.stopCh:
			crashed(ErrClosing, false)
		case <-dead:
		}
	}()

	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); r.outboundPump(t, dead, crashed) }()
	go func() { defer wg.Done(); r.inboundPump(t, dead, crashed) }()
	go func() { defer wg.Done(); r.controlWritePump(t, dead, crashed) }()
	go func() { defer wg.Done(); r.controlReadPump(t, dead, crashed) }()
	wg.Wait()

	<-dead
	return cause.err, cause.fatal
}

// outboundPump drains the outbound queue into the transport, preserving
// queue order.
func (r *Runtime) outboundPump(t core.Transport, dead <-chan struct{}, crashed func(error, bool)) {
	for {
		pkt, err := r.outQ.Dequeue(drainPoll)
		if err != nil {
			if errors.Is(err, queue.ErrWouldBlock) {
				select {
				case <-dead:
					return
				default:
					continue
				}
			}
			// Queue closed: the runtime is terminating.
			crashed(err, false)
			return
		}
		if err := t.WritePacket(pkt.Data()); err != nil {
			crashed(err, false)
			return
		}
		atomic.AddUint64(&r.metrics.PacketsSent, 1)
		atomic.AddUint64(&r.metrics.BytesSent, uint64(pkt.Length()))
	}
}

// inboundPump feeds transport data into the inbound queue. A full queue
// blocks the pump (backpressure reaches the transport through the stalled
// read loop); blocking past the stall timeout is a fatal session failure,
// never a silent drop.
func (r *Runtime) inboundPump(t core.Transport, dead <-chan struct{}, crashed func(error, bool)) {
	stall := r.cfg.Tunnel.StallTimeout.D()
	for {
		data, err := t.ReadPacket()
		if err != nil {
			crashed(err, false)
			return
		}
		if err := r.inQ.Enqueue(core.NewPacket(data), stall); err != nil {
			if errors.Is(err, queue.ErrFull) {
				crashed(errInboundStall, true)
			} else {
				crashed(err, false)
			}
			return
		}
		atomic.AddUint64(&r.metrics.PacketsReceived, 1)
		atomic.AddUint64(&r.metrics.BytesReceived, uint64(len(data)))
	}
}

// controlWritePump sends scheduled control requests over the session.
func (r *Runtime) controlWritePump(t core.Transport, dead <-chan struct{}, crashed func(error, bool)) {
	for {
		select {
		case req := <-r.rpcCh:
			body, err := json.Marshal(req)
			if err != nil {
				// Leave the slot to the caller's timeout; the request
				// never reached the wire.
				logging.Errorf("control request %s failed to marshal: %v", req.ID, err)
				continue
			}
			if err := t.WriteControl(body); err != nil {
				crashed(err, false)
				return
			}
			atomic.AddUint64(&r.metrics.RPCsSent, 1)
		case <-dead:
			return
		}
	}
}

// controlReadPump routes incoming responses to their completion slots by
// correlation identity, never by arrival order.
func (r *Runtime) controlReadPump(t core.Transport, dead <-chan struct{}, crashed func(error, bool)) {
	for {
		body, err := t.ReadControl()
		if err != nil {
			crashed(err, false)
			return
		}
		var resp rpc.Response
		if err := json.Unmarshal(body, &resp); err != nil {
			logging.Warnf("dropping malformed control response: %v", err)
			continue
		}
		if !r.pending.Complete(&resp) {
			// Late response for a call that already timed out.
			logging.Debugf("dropping control response with unknown correlation id %q", resp.ID)
			continue
		}
		atomic.AddUint64(&r.metrics.RPCsCompleted, 1)
	}
}
