package transport

import (
	"errors"
	"net"
	"sync"

	"github.com/geph-official/geph5/pkg/logging"
)

// ErrTransportClosed is returned by session operations after Close.
var ErrTransportClosed = errors.New("transport closed")

// frameTransport implements core.Transport over a stream connection using
// the typed-frame codec. One reader goroutine demuxes incoming frames by
// kind into per-class channels; writers of both classes share the
// connection under a mutex. When the inbound consumer stalls, the demux
// send blocks and backpressure propagates into the stream itself.
type frameTransport struct {
	conn     net.Conn
	maxFrame int

	wmu sync.Mutex

	dataCh chan []byte
	ctrlCh chan []byte

	done     chan struct{}
	deadOnce sync.Once
	deadErr  error
}

func newFrameTransport(conn net.Conn, maxFrame int) *frameTransport {
	t := &frameTransport{
		conn:     conn,
		maxFrame: maxFrame,
		dataCh:   make(chan []byte, 1),
		ctrlCh:   make(chan []byte, 1),
		done:     make(chan struct{}),
	}
	go t.readLoop()
	return t
}

func (t *frameTransport) readLoop() {
	for {
		kind, payload, err := ReadFrame(t.conn, t.maxFrame)
		if err != nil {
			t.fail(err)
			return
		}
		switch kind {
		case FrameData:
			select {
			case t.dataCh <- payload:
			case <-t.done:
				return
			}
		case FrameRPCResponse:
			select {
			case t.ctrlCh <- payload:
			case <-t.done:
				return
			}
		default:
			// A client never receives requests; drop unknown kinds.
			logging.Warnf("transport: dropping frame of unexpected kind 0x%02x (%d bytes)", kind, len(payload))
		}
	}
}

// fail latches the first error, wakes all blocked calls, and closes the
// underlying connection.
func (t *frameTransport) fail(err error) {
	t.deadOnce.Do(func() {
		t.deadErr = err
		close(t.done)
		t.conn.Close()
	})
}

func (t *frameTransport) err() error {
	select {
	case <-t.done:
		return t.deadErr
	default:
		return nil
	}
}

// WritePacket implements core.Transport.
func (t *frameTransport) WritePacket(data []byte) error {
	return t.write(FrameData, data)
}

// WriteControl implements core.Transport.
func (t *frameTransport) WriteControl(data []byte) error {
	return t.write(FrameRPCRequest, data)
}

func (t *frameTransport) write(kind byte, data []byte) error {
	if err := t.err(); err != nil {
		return err
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if err := WriteFrame(t.conn, kind, data, t.maxFrame); err != nil {
		t.fail(err)
		return err
	}
	return nil
}

// ReadPacket implements core.Transport.
func (t *frameTransport) ReadPacket() ([]byte, error) {
	select {
	case b := <-t.dataCh:
		return b, nil
	case <-t.done:
		return nil, t.deadErr
	}
}

// ReadControl implements core.Transport.
func (t *frameTransport) ReadControl() ([]byte, error) {
	select {
	case b := <-t.ctrlCh:
		return b, nil
	case <-t.done:
		return nil, t.deadErr
	}
}

// Close implements core.Transport.
func (t *frameTransport) Close() error {
	t.fail(ErrTransportClosed)
	return nil
}
