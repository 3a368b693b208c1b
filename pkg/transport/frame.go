// Package transport implements session transports to the remote tunnel
// endpoint. A session carries two traffic classes over one connection
// using typed frames; the runtime above only sees the core.Transport
// interface.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frame kinds. Each wire frame is a 1-byte kind, a 4-byte big-endian
// payload length, and the payload.
const (
	// FrameData carries one raw network-layer packet.
	FrameData byte = 0x01

	// FrameRPCRequest carries one serialized control-plane request.
	FrameRPCRequest byte = 0x02

	// FrameRPCResponse carries one serialized control-plane response.
	FrameRPCResponse byte = 0x03
)

const frameHeaderSize = 5

// WriteFrame writes one frame. The header and payload go out in a single
// Write so concurrent writers serialized by a mutex never interleave.
func WriteFrame(w io.Writer, kind byte, payload []byte, maxSize int) error {
	if len(payload) > maxSize {
		return fmt.Errorf("frame payload %d exceeds max %d", len(payload), maxSize)
	}
	buf := make([]byte, frameHeaderSize+len(payload))
	buf[0] = kind
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(payload)))
	copy(buf[frameHeaderSize:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame, rejecting payloads above maxSize before
// allocating.
func ReadFrame(r io.Reader, maxSize int) (byte, []byte, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	kind := hdr[0]
	length := binary.BigEndian.Uint32(hdr[1:5])
	if int(length) > maxSize {
		return 0, nil, fmt.Errorf("frame payload %d exceeds max %d", length, maxSize)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return kind, payload, nil
}
