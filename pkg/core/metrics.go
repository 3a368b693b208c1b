package core

// QueueMetrics contains counters for one packet queue. Fields are updated
// with atomic operations; read them through a snapshot.
type QueueMetrics struct {
	// PacketsEnqueued is the number of packets accepted by the queue.
	PacketsEnqueued uint64

	// PacketsDequeued is the number of packets removed from the queue.
	PacketsDequeued uint64

	// BytesEnqueued is the number of payload bytes accepted.
	BytesEnqueued uint64

	// BytesDequeued is the number of payload bytes removed.
	BytesDequeued uint64

	// FullTimeouts is the number of enqueue attempts that timed out
	// against a full queue.
	FullTimeouts uint64

	// EmptyTimeouts is the number of dequeue attempts that timed out
	// against an empty queue.
	EmptyTimeouts uint64

	// ShortBuffers is the number of dequeue attempts rejected because
	// the caller's buffer was smaller than the head packet.
	ShortBuffers uint64
}

// TunnelMetrics contains counters for the tunnel runtime.
type TunnelMetrics struct {
	// PacketsSent is the number of data packets written to the transport.
	PacketsSent uint64

	// PacketsReceived is the number of data packets read from the transport.
	PacketsReceived uint64

	// BytesSent is the number of data bytes written to the transport.
	BytesSent uint64

	// BytesReceived is the number of data bytes read from the transport.
	BytesReceived uint64

	// RPCsSent is the number of control requests written to the transport.
	RPCsSent uint64

	// RPCsCompleted is the number of control responses matched to a
	// pending call.
	RPCsCompleted uint64

	// Redials is the number of session re-establishments after a
	// transient failure.
	Redials uint64

	// SessionErrors is the number of transient session errors absorbed
	// by the runtime.
	SessionErrors uint64
}
