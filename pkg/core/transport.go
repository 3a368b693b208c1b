package core

import "context"

// Transport is one established session to the remote tunnel endpoint. It
// multiplexes two independent traffic classes: raw data packets and
// serialized control-plane messages. All methods must be safe for
// concurrent use; Write methods may be called while Read methods block.
type Transport interface {
	// WritePacket sends one data packet to the remote endpoint.
	WritePacket(data []byte) error

	// ReadPacket blocks until the next data packet arrives from the
	// remote endpoint, or the session dies.
	ReadPacket() ([]byte, error)

	// WriteControl sends one serialized control-plane request.
	WriteControl(data []byte) error

	// ReadControl blocks until the next serialized control-plane
	// response arrives, or the session dies.
	ReadControl() ([]byte, error)

	// Close tears down the session. Blocked Read/Write calls return
	// errors promptly after Close.
	Close() error
}

// Dialer establishes sessions to the remote tunnel endpoint. The actual
// wire protocol (obfuscation, crypto, framing) lives behind this
// interface; the tunnel runtime only redials and pumps.
type Dialer interface {
	// Dial establishes a new session. It must honor ctx cancellation.
	Dial(ctx context.Context) (Transport, error)
}

// SessionState is the tunnel session state as seen by the bridge.
type SessionState int32

// Session states.
const (
	// SessionConnecting means no session is established yet; the runtime
	// is dialing (or redialing) the remote endpoint.
	SessionConnecting SessionState = iota

	// SessionActive means a live session is carrying traffic.
	SessionActive

	// SessionDegraded means the previous session hit a transient error
	// and the runtime is redialing. Queue and RPC operations are still
	// accepted but see elevated error rates.
	SessionDegraded

	// SessionFailed means the runtime died irrecoverably. Every queue
	// and RPC operation fails immediately.
	SessionFailed

	// SessionClosing means a graceful shutdown is draining admitted
	// operations.
	SessionClosing

	// SessionClosed means a graceful shutdown has completed.
	SessionClosed
)

// String returns the lowercase name of the state.
func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionActive:
		return "active"
	case SessionDegraded:
		return "degraded"
	case SessionFailed:
		return "failed"
	case SessionClosing:
		return "closing"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}
