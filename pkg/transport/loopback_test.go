package transport

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geph-official/geph5/pkg/rpc"
)

func TestLoopbackEchoesData(t *testing.T) {
	d := NewLoopbackDialer()
	tr, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.WritePacket([]byte("ping")))
	got, err := tr.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), got)

	lb := d.Sessions()[0]
	require.Len(t, lb.Sent(), 1)
	assert.Equal(t, []byte("ping"), lb.Sent()[0])
}

func TestLoopbackEchoMethod(t *testing.T) {
	d := NewLoopbackDialer()
	tr, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer tr.Close()

	req, err := rpc.NewRequest("echo", []string{"hello"})
	require.NoError(t, err)
	body, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, tr.WriteControl(body))

	raw, err := tr.ReadControl()
	require.NoError(t, err)
	var resp rpc.Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, req.ID, resp.ID)
	assert.Nil(t, resp.Error)
	assert.JSONEq(t, `["hello"]`, string(resp.Result))
}

func TestLoopbackUnknownMethod(t *testing.T) {
	d := NewLoopbackDialer()
	tr, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer tr.Close()

	req, err := rpc.NewRequest("no_such_method", nil)
	require.NoError(t, err)
	body, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, tr.WriteControl(body))

	raw, err := tr.ReadControl()
	require.NoError(t, err)
	var resp rpc.Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeMethodNotFound, resp.Error.Code)
}

func TestLoopbackFailNow(t *testing.T) {
	d := NewLoopbackDialer()
	tr, err := d.Dial(context.Background())
	require.NoError(t, err)

	cause := errors.New("remote dropped")
	lb := d.Sessions()[0]
	lb.FailNow(cause)

	_, err = tr.ReadPacket()
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, tr.WritePacket([]byte{1}), cause)
}

func TestLoopbackDialErr(t *testing.T) {
	d := NewLoopbackDialer()
	d.DialErr = errors.New("no route")
	_, err := d.Dial(context.Background())
	assert.Error(t, err)
	assert.Empty(t, d.Sessions())
}

func TestLoopbackNilHandlerResponse(t *testing.T) {
	d := NewLoopbackDialer()
	d.Handler = func(req *rpc.Request) *rpc.Response { return nil }
	tr, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer tr.Close()

	req, err := rpc.NewRequest("echo", nil)
	require.NoError(t, err)
	body, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, tr.WriteControl(body))

	lb := d.Sessions()[0]
	select {
	case <-lb.ctrlCh:
		t.Fatal("nil handler result must suppress the response")
	case <-time.After(100 * time.Millisecond):
	}
}
