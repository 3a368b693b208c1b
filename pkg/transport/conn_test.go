package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFrameTransportDemux runs a frameTransport over one end of a pipe and
// plays a remote endpoint on the other, checking that data and control
// frames land on their own read paths.
func TestFrameTransportDemux(t *testing.T) {
	local, remote := net.Pipe()
	ft := newFrameTransport(local, 1024)
	defer ft.Close()

	// Remote end: serve reads and writes on its own goroutine.
	go func() {
		// Consume the outgoing packet and control request.
		for i := 0; i < 2; i++ {
			ReadFrame(remote, 1024)
		}
		WriteFrame(remote, FrameData, []byte("inbound-data"), 1024)
		WriteFrame(remote, FrameRPCResponse, []byte("inbound-ctrl"), 1024)
	}()

	require.NoError(t, ft.WritePacket([]byte("outbound-data")))
	require.NoError(t, ft.WriteControl([]byte("outbound-ctrl")))

	data, err := ft.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, []byte("inbound-data"), data)

	ctrl, err := ft.ReadControl()
	require.NoError(t, err)
	assert.Equal(t, []byte("inbound-ctrl"), ctrl)
}

func TestFrameTransportCloseUnblocksReaders(t *testing.T) {
	local, _ := net.Pipe()
	ft := newFrameTransport(local, 1024)

	errCh := make(chan error, 2)
	go func() {
		_, err := ft.ReadPacket()
		errCh <- err
	}()
	go func() {
		_, err := ft.ReadControl()
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	ft.Close()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			assert.Error(t, err)
		case <-time.After(time.Second):
			t.Fatal("reader did not unblock after close")
		}
	}

	assert.Error(t, ft.WritePacket([]byte{1}), "writes after close must fail")
}

func TestFrameTransportRemoteHangup(t *testing.T) {
	local, remote := net.Pipe()
	ft := newFrameTransport(local, 1024)
	remote.Close()

	_, err := ft.ReadPacket()
	assert.Error(t, err)
	assert.Error(t, ft.WriteControl([]byte{1}))
}
