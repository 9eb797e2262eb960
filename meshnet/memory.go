package meshnet

import (
	"sync"
)

// MemoryHub is an in-process flood fabric connecting MemoryNode
// transports. It reproduces the awkward properties of the real medium
// on demand: duplicate delivery, self-echo, and silent loss, so the
// protocol layers can be tested against them deterministically.
type MemoryHub struct {
	mu         sync.Mutex
	nodes      map[string]*MemoryNode
	duplicates int
	dropAll    bool
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{nodes: make(map[string]*MemoryNode)}
}

// SetDuplicates makes every broadcast deliver n extra copies to each
// node, emulating multi-path flood duplication.
func (h *MemoryHub) SetDuplicates(n int) {
	h.mu.Lock()
	h.duplicates = n
	h.mu.Unlock()
}

// SetDropAll silently discards all broadcasts when enabled, emulating
// a partitioned or powered-off mesh.
func (h *MemoryHub) SetDropAll(drop bool) {
	h.mu.Lock()
	h.dropAll = drop
	h.mu.Unlock()
}

// Join attaches a new node transport with the given mesh id.
func (h *MemoryHub) Join(id string) *MemoryNode {
	n := &MemoryNode{id: id, hub: h}

	h.mu.Lock()
	h.nodes[id] = n
	others := h.snapshotLocked()
	h.mu.Unlock()

	h.notifyTopology(others)
	return n
}

// Leave detaches a node from the hub and notifies the remaining nodes.
func (h *MemoryHub) Leave(id string) {
	h.mu.Lock()
	delete(h.nodes, id)
	others := h.snapshotLocked()
	h.mu.Unlock()

	h.notifyTopology(others)
}

func (h *MemoryHub) snapshotLocked() []*MemoryNode {
	out := make([]*MemoryNode, 0, len(h.nodes))
	for _, n := range h.nodes {
		out = append(out, n)
	}
	return out
}

func (h *MemoryHub) notifyTopology(nodes []*MemoryNode) {
	for _, n := range nodes {
		n.mu.Lock()
		handler := n.topologyHandler
		n.mu.Unlock()
		if handler != nil {
			handler()
		}
	}
}

func (h *MemoryHub) broadcast(message []byte) {
	h.mu.Lock()
	if h.dropAll {
		h.mu.Unlock()
		return
	}
	copies := 1 + h.duplicates
	targets := h.snapshotLocked()
	h.mu.Unlock()

	// Delivery includes the sender: a flood echoes broadcasts back.
	msg := make([]byte, len(message))
	copy(msg, message)
	for _, n := range targets {
		for i := 0; i < copies; i++ {
			n.deliver(msg)
		}
	}
}

// MemoryNode is the per-node Transport handle on a MemoryHub.
type MemoryNode struct {
	id  string
	hub *MemoryHub

	mu              sync.Mutex
	receiveHandler  ReceiveHandler
	topologyHandler func()
	closed          bool
}

// SelfID returns the mesh id this node joined with.
func (n *MemoryNode) SelfID() string { return n.id }

// Broadcast floods the message to every node on the hub, including
// this one.
func (n *MemoryNode) Broadcast(message []byte) error {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return nil
	}
	n.hub.broadcast(message)
	return nil
}

// SetReceiveHandler installs the receive callback.
func (n *MemoryNode) SetReceiveHandler(h ReceiveHandler) {
	n.mu.Lock()
	n.receiveHandler = h
	n.mu.Unlock()
}

// SetTopologyHandler installs the topology-change callback.
func (n *MemoryNode) SetTopologyHandler(h func()) {
	n.mu.Lock()
	n.topologyHandler = h
	n.mu.Unlock()
}

// PeerIDs returns the other nodes currently joined to the hub.
func (n *MemoryNode) PeerIDs() []string {
	n.hub.mu.Lock()
	defer n.hub.mu.Unlock()

	peers := make([]string, 0, len(n.hub.nodes))
	for id := range n.hub.nodes {
		if id != n.id {
			peers = append(peers, id)
		}
	}
	return peers
}

// Close detaches the node from the hub.
func (n *MemoryNode) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	n.hub.Leave(n.id)
	return nil
}

func (n *MemoryNode) deliver(message []byte) {
	n.mu.Lock()
	handler := n.receiveHandler
	closed := n.closed
	n.mu.Unlock()

	if closed || handler == nil {
		return
	}
	handler(message)
}
