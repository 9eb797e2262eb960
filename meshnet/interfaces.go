package meshnet

// ReceiveHandler is invoked once per message delivered to this node.
// The underlying medium is a flood: the same logical message may be
// delivered more than once, including the node's own broadcasts echoed
// back. Consumers must deduplicate at the protocol layer and must not
// rely on any transport-internal suppression.
type ReceiveHandler func(message []byte)

// Transport is the best-effort broadcast primitive the mesh coordinator
// is built on. Broadcasts reach every currently reachable peer with no
// ordering or delivery guarantee and no acknowledgment.
type Transport interface {
	// SelfID returns the mesh-assigned node id, stable for this boot
	// session.
	SelfID() string

	// Broadcast floods an opaque message to all reachable peers.
	// Fire-and-forget: a nil error means the message left this node,
	// not that anyone received it.
	Broadcast(message []byte) error

	// SetReceiveHandler installs the receive callback. Must be called
	// before messages are expected; later calls replace the handler.
	SetReceiveHandler(h ReceiveHandler)

	// PeerIDs returns the ids of peers the transport currently
	// considers reachable, directly or indirectly.
	PeerIDs() []string

	// SetTopologyHandler installs a callback fired whenever the live
	// peer set changes.
	SetTopologyHandler(h func())

	// Close tears the transport down and stops delivery.
	Close() error
}
