package daemon

import (
	"errors"

	"github.com/geph-official/geph5/pkg/queue"
	"github.com/geph-official/geph5/pkg/rpc"
	"github.com/geph-official/geph5/pkg/tunnel"
)

// Status codes returned by the buffer-based call surface. Zero or a
// non-negative length means success; each failure class maps to a
// distinct negative constant so an embedding host can always tell "no
// data yet", "buffer too small", and "hard failure" apart.
const (
	StatusOK              = 0
	StatusAlreadyRunning  = -1
	StatusInvalidConfig   = -2
	StatusNotRunning      = -3
	StatusProtocolError   = -4
	StatusBufferTooSmall  = -5
	StatusEncodingFailure = -6
	StatusTimeout         = -7
	StatusSessionFailed   = -8
	StatusSendFailed      = -9
	StatusWouldBlock      = -10
	StatusInternalError   = -11
)

// StatusCode maps an error from the daemon surface to its boundary
// status code.
func StatusCode(err error) int {
	if err == nil {
		return StatusOK
	}
	var rpcErr *rpc.Error
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		return StatusAlreadyRunning
	case errors.Is(err, ErrInvalidConfig):
		return StatusInvalidConfig
	case errors.Is(err, ErrNotRunning):
		return StatusNotRunning
	case errors.As(err, &rpcErr):
		return StatusProtocolError
	case errors.Is(err, ErrBufferTooSmall), errors.Is(err, queue.ErrBufferTooSmall):
		return StatusBufferTooSmall
	case errors.Is(err, ErrEncoding):
		return StatusEncodingFailure
	case errors.Is(err, tunnel.ErrRPCTimeout):
		return StatusTimeout
	case errors.Is(err, tunnel.ErrSessionFailed):
		return StatusSessionFailed
	case errors.Is(err, queue.ErrFull):
		return StatusSendFailed
	case errors.Is(err, queue.ErrWouldBlock):
		return StatusWouldBlock
	default:
		return StatusInternalError
	}
}

// StartText starts the process-wide daemon from a configuration blob,
// returning StatusOK or a negative status code.
func StartText(configText []byte) int {
	return StatusCode(Start(configText))
}

// CallBuffer executes one control request and writes the serialized
// response into out. It returns the number of bytes written, or a
// negative status code. On StatusProtocolError the serialized error
// response has been written into out when it fits.
func CallBuffer(request, out []byte) int {
	d, err := running()
	if err != nil {
		return StatusCode(err)
	}
	n, err := d.Call(request, out)
	if err != nil {
		var rpcErr *rpc.Error
		if errors.As(err, &rpcErr) && n > 0 {
			// The error response body is in the buffer; the negative
			// code still signals the method-level failure.
			return StatusProtocolError
		}
		return StatusCode(err)
	}
	return n
}

// SendPacket appends one packet to the outbound queue, returning StatusOK
// or a negative status code.
func SendPacket(pkt []byte) int {
	d, err := running()
	if err != nil {
		return StatusCode(err)
	}
	return StatusCode(d.EnqueueOutbound(pkt))
}

// RecvPacket copies the oldest inbound packet into out, returning its
// length or a negative status code. StatusBufferTooSmall retains the
// packet for a retry; StatusWouldBlock means no packet arrived within the
// poll interval.
func RecvPacket(out []byte) int {
	d, err := running()
	if err != nil {
		return StatusCode(err)
	}
	n, err := d.DequeueInbound(out)
	if err != nil {
		return StatusCode(err)
	}
	return n
}
