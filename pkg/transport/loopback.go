package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/geph-official/geph5/pkg/core"
	"github.com/geph-official/geph5/pkg/rpc"
)

// LoopbackDialer hands out in-memory sessions that echo data packets back
// and serve a minimal control-plane method set. It backs the "loopback"
// transport kind for tests and smoke runs, and doubles as the mock
// endpoint for the runtime's own tests.
type LoopbackDialer struct {
	mu       sync.Mutex
	sessions []*LoopbackTransport

	// DialErr, when set, makes every Dial fail (for failure-path tests).
	DialErr error

	// Handler overrides the default control-plane handler. Returning nil
	// suppresses the response entirely.
	Handler func(req *rpc.Request) *rpc.Response
}

// NewLoopbackDialer creates a loopback dialer.
func NewLoopbackDialer() *LoopbackDialer {
	return &LoopbackDialer{}
}

// Dial implements core.Dialer.
func (d *LoopbackDialer) Dial(ctx context.Context) (core.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	t := &LoopbackTransport{
		handler: d.Handler,
		dataCh:  make(chan []byte, 1024),
		ctrlCh:  make(chan []byte, 1024),
		done:    make(chan struct{}),
	}
	d.sessions = append(d.sessions, t)
	return t, nil
}

// Sessions returns every session handed out so far, oldest first.
func (d *LoopbackDialer) Sessions() []*LoopbackTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*LoopbackTransport(nil), d.sessions...)
}

// LoopbackTransport is an in-memory core.Transport. Data packets written
// to it are recorded (the "transport boundary" for ordering tests) and
// reflected back as inbound packets. Control requests are answered by the
// handler, each on its own goroutine, so concurrent responses can arrive
// in any order just like on a real session.
type LoopbackTransport struct {
	handler func(req *rpc.Request) *rpc.Response

	mu   sync.Mutex
	sent [][]byte

	dataCh chan []byte
	ctrlCh chan []byte

	done     chan struct{}
	deadOnce sync.Once
	deadErr  error
}

// WritePacket implements core.Transport.
func (t *LoopbackTransport) WritePacket(data []byte) error {
	if err := t.err(); err != nil {
		return err
	}
	cp := append([]byte(nil), data...)
	t.mu.Lock()
	t.sent = append(t.sent, cp)
	t.mu.Unlock()
	select {
	case t.dataCh <- cp:
		return nil
	case <-t.done:
		return t.deadErr
	}
}

// ReadPacket implements core.Transport.
func (t *LoopbackTransport) ReadPacket() ([]byte, error) {
	select {
	case b := <-t.dataCh:
		return b, nil
	case <-t.done:
		return nil, t.deadErr
	}
}

// WriteControl implements core.Transport.
func (t *LoopbackTransport) WriteControl(data []byte) error {
	if err := t.err(); err != nil {
		return err
	}
	var req rpc.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	go func() {
		resp := t.respond(&req)
		if resp == nil {
			// Handler elected not to answer; the caller's own timeout
			// is the terminal outcome.
			return
		}
		body, err := json.Marshal(resp)
		if err != nil {
			return
		}
		select {
		case t.ctrlCh <- body:
		case <-t.done:
		}
	}()
	return nil
}

func (t *LoopbackTransport) respond(req *rpc.Request) *rpc.Response {
	if t.handler != nil {
		return t.handler(req)
	}
	switch req.Method {
	case "echo":
		return &rpc.Response{JSONRPC: rpc.Version, Result: req.Params, ID: req.ID}
	default:
		return rpc.NewError(req, rpc.CodeMethodNotFound, "method not found: "+req.Method)
	}
}

// ReadControl implements core.Transport.
func (t *LoopbackTransport) ReadControl() ([]byte, error) {
	select {
	case b := <-t.ctrlCh:
		return b, nil
	case <-t.done:
		return nil, t.deadErr
	}
}

// Close implements core.Transport.
func (t *LoopbackTransport) Close() error {
	t.FailNow(ErrTransportClosed)
	return nil
}

// FailNow kills the session with the given error, as if the remote side
// dropped the connection.
func (t *LoopbackTransport) FailNow(err error) {
	if err == nil {
		err = errors.New("loopback session killed")
	}
	t.deadOnce.Do(func() {
		t.deadErr = err
		close(t.done)
	})
}

// InjectPacket delivers a packet as if the remote endpoint sent it.
func (t *LoopbackTransport) InjectPacket(data []byte) error {
	if err := t.err(); err != nil {
		return err
	}
	select {
	case t.dataCh <- append([]byte(nil), data...):
		return nil
	case <-t.done:
		return t.deadErr
	}
}

// Sent returns the data packets written to the transport, in write order.
func (t *LoopbackTransport) Sent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.sent...)
}

func (t *LoopbackTransport) err() error {
	select {
	case <-t.done:
		return t.deadErr
	default:
		return nil
	}
}
