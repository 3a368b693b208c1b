// Package tunnel implements the asynchronous engine that owns the live
// session: it drains the outbound packet queue into the transport, feeds
// inbound transport data into the inbound packet queue, and executes
// dispatched control-plane work against live session state. Callers never
// touch runtime internals; they reach it through the queues and Call.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geph-official/geph5/pkg/config"
	"github.com/geph-official/geph5/pkg/core"
	"github.com/geph-official/geph5/pkg/logging"
	"github.com/geph-official/geph5/pkg/queue"
	"github.com/geph-official/geph5/pkg/rpc"
)

// Terminal runtime errors.
var (
	// ErrSessionFailed means the runtime died irrecoverably; every
	// in-flight and future operation fails with it.
	ErrSessionFailed = errors.New("tunnel session failed")

	// ErrClosing means a graceful shutdown is in progress or complete.
	ErrClosing = errors.New("tunnel closing")

	// ErrRPCTimeout means a control round trip exceeded the configured
	// timeout. The session itself may still be healthy.
	ErrRPCTimeout = errors.New("rpc timed out")
)

// errInboundStall is the fatal cause when the inbound queue stays full
// past the stall timeout.
var errInboundStall = errors.New("inbound queue stalled past stall timeout")

// drainPoll is how often the outbound pump rechecks session liveness
// while the outbound queue is empty.
const drainPoll = 250 * time.Millisecond

// Runtime drives one tunnel, redialing across transient transport
// failures. It is built once per daemon start and never restarted in
// place; after it fails or closes, a fresh Runtime is required.
type Runtime struct {
	cfg    *config.Config
	dialer core.Dialer
	outQ   *queue.PacketQueue
	inQ    *queue.PacketQueue

	pending *rpc.PendingCalls
	rpcCh   chan *rpc.Request

	state     int32 // core.SessionState
	startTime time.Time

	stopCh   chan struct{}
	doneCh   chan struct{}
	termOnce sync.Once
	termErr  error

	metrics core.TunnelMetrics
}

// New wires a runtime to its queues and dialer. The queues are owned by
// the caller (the daemon) but closed by the runtime on terminal
// transitions so every blocked producer/consumer gets a terminal outcome.
func New(cfg *config.Config, dialer core.Dialer, outQ, inQ *queue.PacketQueue) *Runtime {
	return &Runtime{
		cfg:     cfg,
		dialer:  dialer,
		outQ:    outQ,
		inQ:     inQ,
		pending: rpc.NewPendingCalls(),
		rpcCh:   make(chan *rpc.Request, 16),
		state:   int32(core.SessionConnecting),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the engine and returns once it is ready to accept queue
// and control work. The first dial proceeds in the background; the
// session state is Connecting until it completes.
func (r *Runtime) Start() error {
	r.startTime = time.Now()
	ready := make(chan struct{})
	go r.run(ready)
	<-ready
	return nil
}

// State returns the current session state.
func (r *Runtime) State() core.SessionState {
	return core.SessionState(atomic.LoadInt32(&r.state))
}

func (r *Runtime) setState(s core.SessionState) {
	atomic.StoreInt32(&r.state, int32(s))
}

// Done is closed when the engine has fully exited.
func (r *Runtime) Done() <-chan struct{} { return r.doneCh }

// Err returns the terminal cause after Done is closed, nil before any
// terminal transition.
func (r *Runtime) Err() error {
	select {
	case <-r.stopCh:
		return r.termErr
	default:
		return nil
	}
}

// StartTime returns when the runtime was started.
func (r *Runtime) StartTime() time.Time { return r.startTime }

// run is the engine's main loop: dial, pump until the session dies,
// back off, redial. Fatal causes (stall timeout, dial failure budget
// exhausted) terminate the runtime.
func (r *Runtime) run(ready chan<- struct{}) {
	defer close(r.doneCh)
	close(ready)

	backoff := r.cfg.Tunnel.DialBackoffInitial.D()
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	maxBackoff := r.cfg.Tunnel.DialBackoffMax.D()
	if maxBackoff < backoff {
		maxBackoff = backoff
	}
	curBackoff := backoff
	dialFailures := 0
	hadSession := false

	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		ctx, cancel := r.stopContext()
		t, err := r.dialer.Dial(ctx)
		cancel()
		if err != nil {
			select {
			case <-r.stopCh:
				return
			default:
			}
			dialFailures++
			atomic.AddUint64(&r.metrics.SessionErrors, 1)
			logging.Warnf("tunnel dial failed (attempt %d): %v", dialFailures, err)
			if max := r.cfg.Tunnel.MaxDialFailures; max > 0 && dialFailures >= max {
				r.fail(fmt.Errorf("dial failure budget exhausted: %w", err))
				return
			}
			if hadSession {
				r.setState(core.SessionDegraded)
			}
			if !r.sleep(curBackoff) {
				return
			}
			curBackoff *= 2
			if curBackoff > maxBackoff {
				curBackoff = maxBackoff
			}
			continue
		}

		dialFailures = 0
		curBackoff = backoff
		hadSession = true
		r.setState(core.SessionActive)
		logging.Infof("tunnel session established")

		sessErr, fatal := r.runSession(t)
		t.Close()

		select {
		case <-r.stopCh:
			return
		default:
		}

		if fatal {
			r.fail(sessErr)
			return
		}

		atomic.AddUint64(&r.metrics.SessionErrors, 1)
		atomic.AddUint64(&r.metrics.Redials, 1)
		r.setState(core.SessionDegraded)
		logging.Warnf("tunnel session lost, redialing: %v", sessErr)
	}
}

// stopContext returns a context canceled when the runtime terminates.
func (r *Runtime) stopContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-r.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// sleep waits d or until termination; it reports false on termination.
func (r *Runtime) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-r.stopCh:
		return false
	}
}

// terminate performs the single terminal transition: no new operation is
// admitted past it, and every admitted one is driven to a terminal
// outcome (queues closed, pending calls failed).
func (r *Runtime) terminate(st core.SessionState, cause error) bool {
	first := false
	r.termOnce.Do(func() {
		first = true
		r.termErr = cause
		r.setState(st)
		close(r.stopCh)
		r.pending.FailAll(cause)
		r.outQ.Close(cause)
		r.inQ.Close(cause)
	})
	return first
}

func (r *Runtime) fail(err error) {
	cause := fmt.Errorf("%w: %v", ErrSessionFailed, err)
	if r.terminate(core.SessionFailed, cause) {
		logging.Errorf("tunnel runtime failed: %v", err)
	}
}

// Stop gracefully shuts the runtime down, draining admitted operations to
// terminal outcomes before returning. Safe to call more than once.
func (r *Runtime) Stop() error {
	if r.terminate(core.SessionClosing, ErrClosing) {
		<-r.doneCh
		r.setState(core.SessionClosed)
		logging.Infof("tunnel runtime stopped")
		return nil
	}
	<-r.doneCh
	return nil
}

// Metrics returns a snapshot of the runtime counters.
func (r *Runtime) Metrics() core.TunnelMetrics {
	return core.TunnelMetrics{
		PacketsSent:     atomic.LoadUint64(&r.metrics.PacketsSent),
		PacketsReceived: atomic.LoadUint64(&r.metrics.PacketsReceived),
		BytesSent:       atomic.LoadUint64(&r.metrics.BytesSent),
		BytesReceived:   atomic.LoadUint64(&r.metrics.BytesReceived),
		RPCsSent:        atomic.LoadUint64(&r.metrics.RPCsSent),
		RPCsCompleted:   atomic.LoadUint64(&r.metrics.RPCsCompleted),
		Redials:         atomic.LoadUint64(&r.metrics.Redials),
		SessionErrors:   atomic.LoadUint64(&r.metrics.SessionErrors),
	}
}
