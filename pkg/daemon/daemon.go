// Package daemon owns the process-wide tunnel client instance: at most
// one live daemon exists at a time. It wires the packet queues and the
// tunnel runtime together at start, fronts the synchronous call surface
// (RPC gateway, packet bridge), and tears everything down atomically on
// fatal failure.
package daemon

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/geph-official/geph5/pkg/config"
	"github.com/geph-official/geph5/pkg/core"
	"github.com/geph-official/geph5/pkg/logging"
	"github.com/geph-official/geph5/pkg/queue"
	"github.com/geph-official/geph5/pkg/rpc"
	"github.com/geph-official/geph5/pkg/transport"
	"github.com/geph-official/geph5/pkg/tunnel"
)

// Lifecycle and boundary errors.
var (
	// ErrAlreadyRunning means a daemon is already starting or running;
	// starting is never idempotent and never yields a second session.
	ErrAlreadyRunning = errors.New("daemon already running")

	// ErrInvalidConfig means the configuration blob failed validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNotRunning means no daemon is running.
	ErrNotRunning = errors.New("daemon not running")

	// ErrBufferTooSmall means the serialized response does not fit the
	// caller's buffer. The buffer is left untouched; retry with a larger
	// one.
	ErrBufferTooSmall = errors.New("output buffer too small")

	// ErrEncoding means an otherwise-valid response could not be
	// serialized. Not retryable without a new request.
	ErrEncoding = errors.New("response encoding failed")
)

// State is the daemon lifecycle state.
type State int32

// Daemon lifecycle states.
const (
	Unstarted State = iota
	Starting
	Running
	Failed
	Stopped
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Daemon is one live tunnel client instance. It is created by Start,
// never restarted in place: once Failed or Stopped, a fresh Start builds
// a new one.
type Daemon struct {
	state int32 // State
	cfg   *config.Config

	rt   *tunnel.Runtime
	outQ *queue.PacketQueue
	inQ  *queue.PacketQueue
}

// newDaemon builds and launches a daemon from an already-validated
// configuration. On error, every partially-constructed resource is
// released before returning.
func newDaemon(cfg *config.Config) (*Daemon, error) {
	d := &Daemon{state: int32(Starting), cfg: cfg}

	dialer, err := dialerFor(cfg)
	if err != nil {
		d.setState(Failed)
		return nil, err
	}

	d.outQ = queue.New("outbound", cfg.Tunnel.OutboundQueueSize)
	d.inQ = queue.New("inbound", cfg.Tunnel.InboundQueueSize)
	d.rt = tunnel.New(cfg, dialer, d.outQ, d.inQ)

	if err := d.rt.Start(); err != nil {
		d.outQ.Close(ErrNotRunning)
		d.inQ.Close(ErrNotRunning)
		d.setState(Failed)
		return nil, fmt.Errorf("runtime start: %w", err)
	}

	// Reflect fatal runtime death in the daemon state so every future
	// boundary call fails fast instead of reaching dead queues.
	go func() {
		<-d.rt.Done()
		if errors.Is(d.rt.Err(), tunnel.ErrSessionFailed) {
			d.setState(Failed)
			logging.Errorf("daemon failed: %v", d.rt.Err())
		}
	}()

	d.setState(Running)
	return d, nil
}

func dialerFor(cfg *config.Config) (core.Dialer, error) {
	switch cfg.Transport.Kind {
	case "tcp":
		return transport.NewTCPDialer(cfg.Transport), nil
	case "wireguard":
		return transport.NewWGDialer(cfg), nil
	case "loopback":
		return transport.NewLoopbackDialer(), nil
	default:
		return nil, fmt.Errorf("%w: unknown transport kind %q", ErrInvalidConfig, cfg.Transport.Kind)
	}
}

// State returns the daemon lifecycle state.
func (d *Daemon) State() State {
	return State(atomic.LoadInt32(&d.state))
}

func (d *Daemon) setState(s State) {
	atomic.StoreInt32(&d.state, int32(s))
}

// Runtime exposes the tunnel runtime for metrics reporting.
func (d *Daemon) Runtime() *tunnel.Runtime { return d.rt }

// QueueMetrics returns snapshots of both packet queues.
func (d *Daemon) QueueMetrics() (outbound, inbound core.QueueMetrics) {
	return d.outQ.Metrics(), d.inQ.Metrics()
}

// Call executes one control-plane request and serializes its response
// into out, returning the number of bytes written. The write is
// two-phase: if the serialized response does not fit, out is left
// untouched and ErrBufferTooSmall is returned so the caller can retry
// with a larger buffer. When the remote method itself failed, the
// serialized error response is written (if it fits) and the returned
// error is the *rpc.Error, so method failure stays distinguishable from
// transport failure.
func (d *Daemon) Call(request []byte, out []byte) (int, error) {
	if d.State() != Running {
		return 0, ErrNotRunning
	}

	req, perr := rpc.ParseRequest(request)
	if perr != nil {
		// A malformed request is a protocol-level failure; surface it
		// as a parse-error response, mirroring what a remote peer would
		// answer.
		resp := &rpc.Response{
			JSONRPC: rpc.Version,
			Error:   &rpc.Error{Code: rpc.CodeParseError, Message: perr.Error()},
		}
		n, err := writeResponse(resp, out)
		if err != nil {
			return 0, err
		}
		return n, resp.Error
	}

	resp, err := d.rt.Call(req)
	if err != nil {
		return 0, mapRuntimeErr(err)
	}

	n, err := writeResponse(resp, out)
	if err != nil {
		return 0, err
	}
	if resp.Error != nil {
		return n, resp.Error
	}
	return n, nil
}

// writeResponse performs the two-phase buffer-bounded write.
func writeResponse(resp *rpc.Response, out []byte) (int, error) {
	body, err := resp.MarshalBody()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	if len(body) > len(out) {
		return 0, ErrBufferTooSmall
	}
	return copy(out, body), nil
}

// EnqueueOutbound appends one packet to the outbound queue, blocking up
// to the configured send timeout while the queue is full. The packet is
// copied; the caller may reuse its buffer immediately.
func (d *Daemon) EnqueueOutbound(pkt []byte) error {
	if d.State() != Running {
		return ErrNotRunning
	}
	cp := append([]byte(nil), pkt...)
	err := d.outQ.Enqueue(core.NewPacket(cp), d.cfg.Tunnel.SendTimeout.D())
	if err != nil {
		return mapRuntimeErr(err)
	}
	return nil
}

// DequeueInbound copies the oldest inbound packet into out and returns
// its length. An undersized buffer returns queue.ErrBufferTooSmall with
// the packet retained at the head; an empty queue waits the configured
// poll interval and returns queue.ErrWouldBlock.
func (d *Daemon) DequeueInbound(out []byte) (int, error) {
	if d.State() != Running {
		return 0, ErrNotRunning
	}
	n, err := d.inQ.DequeueInto(out, d.cfg.Tunnel.RecvPollInterval.D())
	if err != nil {
		return 0, mapRuntimeErr(err)
	}
	return n, nil
}

// Stop gracefully shuts the daemon down, draining admitted operations to
// terminal outcomes before releasing resources.
func (d *Daemon) Stop() error {
	st := d.State()
	if st != Running && st != Starting {
		return ErrNotRunning
	}
	err := d.rt.Stop()
	d.setState(Stopped)
	logging.Infof("daemon stopped")
	return err
}

// mapRuntimeErr normalizes internal terminal causes to the boundary
// taxonomy: graceful closure reads as NotRunning, fatal failure as
// SessionFailed, and transient queue conditions pass through.
func mapRuntimeErr(err error) error {
	switch {
	case errors.Is(err, tunnel.ErrClosing), errors.Is(err, queue.ErrClosed):
		return ErrNotRunning
	default:
		return err
	}
}
