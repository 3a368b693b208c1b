package main

import (
	"encoding/json"
	"time"

	"github.com/geph-official/geph5/pkg/daemon"
	"github.com/geph-official/geph5/pkg/logging"
)

type statsSnapshot struct {
	Timestamp string            `json:"ts"`
	State     string            `json:"state"`
	Session   string            `json:"session"`
	Tunnel    map[string]uint64 `json:"tunnel"`
	Outbound  map[string]uint64 `json:"outbound_queue"`
	Inbound   map[string]uint64 `json:"inbound_queue"`
}

// runStatsReporter periodically logs a JSON snapshot of the daemon's
// counters.
func runStatsReporter(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		dumpStats()
		<-ticker.C
	}
}

func dumpStats() {
	d := daemon.Current()
	if d == nil {
		return
	}
	rt := d.Runtime()
	tm := rt.Metrics()
	outM, inM := d.QueueMetrics()

	snap := statsSnapshot{
		Timestamp: time.Now().Format(time.RFC3339),
		State:     d.State().String(),
		Session:   rt.State().String(),
		Tunnel: map[string]uint64{
			"packets_sent":     tm.PacketsSent,
			"packets_received": tm.PacketsReceived,
			"bytes_sent":       tm.BytesSent,
			"bytes_received":   tm.BytesReceived,
			"rpcs_sent":        tm.RPCsSent,
			"rpcs_completed":   tm.RPCsCompleted,
			"redials":          tm.Redials,
			"session_errors":   tm.SessionErrors,
		},
		Outbound: queueMap(outM.PacketsEnqueued, outM.PacketsDequeued, outM.FullTimeouts, outM.EmptyTimeouts, outM.ShortBuffers),
		Inbound:  queueMap(inM.PacketsEnqueued, inM.PacketsDequeued, inM.FullTimeouts, inM.EmptyTimeouts, inM.ShortBuffers),
	}

	b, err := json.Marshal(snap)
	if err != nil {
		logging.Warnf("stats marshal failed: %v", err)
		return
	}
	logging.Infof("stats %s", string(b))
}

func queueMap(enq, deq, full, empty, short uint64) map[string]uint64 {
	return map[string]uint64{
		"enqueued":       enq,
		"dequeued":       deq,
		"full_timeouts":  full,
		"empty_timeouts": empty,
		"short_buffers":  short,
	}
}
