package tunnel

import (
	"encoding/json"
	"time"

	"github.com/geph-official/geph5/pkg/rpc"
)

// ConnInfo is the session snapshot returned by the conn_info method.
type ConnInfo struct {
	State      string `json:"state"`
	Transport  string `json:"transport"`
	Endpoint   string `json:"endpoint"`
	UptimeSecs int64  `json:"uptime_secs"`
}

// Call executes one control-plane request and blocks the calling
// goroutine until its correlated outcome is ready: the matching response,
// a terminal runtime error, or the configured timeout. Each accepted
// request produces exactly one outcome, delivered only to its own caller.
func (r *Runtime) Call(req *rpc.Request) (*rpc.Response, error) {
	if resp, handled := r.callLocal(req); handled {
		return resp, nil
	}

	select {
	case <-r.stopCh:
		return nil, r.termErr
	default:
	}

	slot, err := r.pending.Register(req.ID)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(r.cfg.Tunnel.RPCTimeout.D())
	defer timer.Stop()

	// Schedule the work item on the engine.
	select {
	case r.rpcCh <- req:
	case <-r.stopCh:
		r.pending.Cancel(req.ID)
		return nil, r.termErr
	case <-timer.C:
		r.pending.Cancel(req.ID)
		return nil, ErrRPCTimeout
	}

	// Suspend until the completion slot fires.
	select {
	case out := <-slot:
		if out.Err != nil {
			return nil, out.Err
		}
		return out.Response, nil
	case <-timer.C:
		r.pending.Cancel(req.ID)
		return nil, ErrRPCTimeout
	}
}

// callLocal answers the small method set served against live session
// state without a network round trip. It reports false for methods that
// must go to the remote endpoint.
func (r *Runtime) callLocal(req *rpc.Request) (*rpc.Response, bool) {
	switch req.Method {
	case "conn_info":
		info := ConnInfo{
			State:      r.State().String(),
			Transport:  r.cfg.Transport.Kind,
			Endpoint:   r.cfg.Transport.Endpoint,
			UptimeSecs: int64(time.Since(r.startTime).Seconds()),
		}
		resp, err := rpc.NewResult(req, info)
		if err != nil {
			return rpc.NewError(req, rpc.CodeInternalError, err.Error()), true
		}
		return resp, true

	case "stat_num":
		name, ok := singleStringParam(req.Params)
		if !ok {
			return rpc.NewError(req, rpc.CodeInvalidParams, "stat_num takes one string parameter"), true
		}
		resp, err := rpc.NewResult(req, r.statNum(name))
		if err != nil {
			return rpc.NewError(req, rpc.CodeInternalError, err.Error()), true
		}
		return resp, true

	case "start_time":
		resp, err := rpc.NewResult(req, r.startTime.Unix())
		if err != nil {
			return rpc.NewError(req, rpc.CodeInternalError, err.Error()), true
		}
		return resp, true

	default:
		return nil, false
	}
}

// singleStringParam accepts either a bare JSON string or a one-element
// array of strings.
func singleStringParam(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 1 {
		return arr[0], true
	}
	return "", false
}

// statNum maps a counter name to its current value.
func (r *Runtime) statNum(name string) float64 {
	m := r.Metrics()
	switch name {
	case "total_tx_bytes":
		return float64(m.BytesSent)
	case "total_rx_bytes":
		return float64(m.BytesReceived)
	case "packets_sent":
		return float64(m.PacketsSent)
	case "packets_received":
		return float64(m.PacketsReceived)
	case "rpcs_sent":
		return float64(m.RPCsSent)
	case "rpcs_completed":
		return float64(m.RPCsCompleted)
	case "redials":
		return float64(m.Redials)
	case "session_errors":
		return float64(m.SessionErrors)
	case "outbound_queue_len":
		return float64(r.outQ.Len())
	case "inbound_queue_len":
		return float64(r.inQ.Len())
	default:
		return 0
	}
}
