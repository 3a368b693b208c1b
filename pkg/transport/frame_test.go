package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundtrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello tunnel")
	require.NoError(t, WriteFrame(&buf, FrameData, payload, 1024))

	kind, got, err := ReadFrame(&buf, 1024)
	require.NoError(t, err)
	assert.Equal(t, FrameData, kind)
	assert.Equal(t, payload, got)
}

func TestFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, FrameRPCRequest, nil, 1024))
	kind, got, err := ReadFrame(&buf, 1024)
	require.NoError(t, err)
	assert.Equal(t, FrameRPCRequest, kind)
	assert.Len(t, got, 0)
}

func TestFrameOversizeWrite(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, FrameData, make([]byte, 100), 64)
	assert.Error(t, err)
	assert.Zero(t, buf.Len(), "nothing may hit the wire on an oversize write")
}

func TestFrameOversizeRead(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, FrameData, make([]byte, 100), 1024))
	_, _, err := ReadFrame(&buf, 64)
	assert.Error(t, err, "reader must reject frames above its limit")
}

func TestFrameSequence(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, FrameData, []byte{1}, 1024))
	require.NoError(t, WriteFrame(&buf, FrameRPCResponse, []byte{2}, 1024))

	kind, got, err := ReadFrame(&buf, 1024)
	require.NoError(t, err)
	assert.Equal(t, FrameData, kind)
	assert.Equal(t, []byte{1}, got)

	kind, got, err = ReadFrame(&buf, 1024)
	require.NoError(t, err)
	assert.Equal(t, FrameRPCResponse, kind)
	assert.Equal(t, []byte{2}, got)
}
