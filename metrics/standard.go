package metrics

// Pre-declared metrics for a sync peer. All of them live in
// DefaultRegistry so call sites never pass a registry around.

var (
	// MessagesSent counts outgoing sync messages across all peers.
	MessagesSent = DefaultRegistry.Counter("sync.messages.sent")
	// MessagesReceived counts incoming sync messages across all peers.
	MessagesReceived = DefaultRegistry.Counter("sync.messages.received")
	// ChangesSent counts change blobs included in outgoing sync messages.
	ChangesSent = DefaultRegistry.Counter("sync.changes.sent")
	// ChangesApplied counts change blobs successfully applied to a backend.
	ChangesApplied = DefaultRegistry.Counter("sync.changes.applied")
	// BloomBytes records the encoded size, in bytes, of each Bloom filter
	// built for an outgoing Have entry.
	BloomBytes = DefaultRegistry.Histogram("sync.bloom.bytes")
	// ResetsSent counts reset messages sent after detecting an unknown
	// lastSync hash.
	ResetsSent = DefaultRegistry.Counter("sync.resets.sent")

	// MessageRate meters sync messages in either direction, for load
	// visibility on a long-running peer.
	MessageRate = DefaultRegistry.Meter("sync.messages.rate")

	// PeersConnected tracks the current number of active peer channels.
	PeersConnected = DefaultRegistry.Gauge("peer.connected")
	// GenerateLatency records generateSyncMessage duration in milliseconds.
	GenerateLatency = DefaultRegistry.Histogram("peer.generate_ms")
	// ReceiveLatency records receiveSyncMessage duration in milliseconds.
	ReceiveLatency = DefaultRegistry.Histogram("peer.receive_ms")
)
