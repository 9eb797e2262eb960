// Package registry tracks the set of known mesh nodes and caches
// their most recent sensor snapshots.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/IsuHapu/smart-agri-project-sub000/protocol"
)

// Node describes one known mesh member: its stable-per-boot id, the
// user-settable device name, both IPv4 identities, last evidence time,
// and whether the mesh transport currently reports it as a peer.
type Node struct {
	ID            string    `json:"nodeId"`
	Name          string    `json:"deviceName"`
	StationIP     string    `json:"stationIP"`
	APIP          string    `json:"apIP"`
	LastSeen      time.Time `json:"lastSeen"`
	MeshConnected bool      `json:"meshConnected"`
}

// Registry is the authoritative set of known nodes, fed by mesh
// announcements and by UDP discovery packets. All methods are safe for
// concurrent use: the mesh receive path, the UDP listener, and the
// periodic maintenance tasks all touch the same maps.
type Registry struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.RWMutex
	nodes     map[string]*Node
	snapshots map[string]protocol.SensorSnapshot
	snapOrder []string // snapshot insertion order for FIFO eviction
	snapCap   int
}

// New creates a registry evicting nodes unseen for ttl and caching at
// most snapshotCap remote snapshots.
func New(ttl time.Duration, snapshotCap int) *Registry {
	return &Registry{
		ttl:       ttl,
		now:       time.Now,
		nodes:     make(map[string]*Node),
		snapshots: make(map[string]protocol.SensorSnapshot),
		snapCap:   snapshotCap,
	}
}

// Upsert merges evidence about a node. An update for an existing id
// replaces the entry's fields and refreshes last-seen; it never
// duplicates the entry. Empty name or address fields leave the
// previous values in place so a terse announce does not erase a
// richer one.
func (r *Registry) Upsert(id, name, stationIP, apIP string, meshConnected bool) {
	if id == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[id]
	if !ok {
		n = &Node{ID: id}
		r.nodes[id] = n
	}
	if name != "" {
		n.Name = name
	}
	if stationIP != "" {
		n.StationIP = stationIP
	}
	if apIP != "" {
		n.APIP = apIP
	}
	n.MeshConnected = meshConnected
	n.LastSeen = r.now()
}

// Get returns a copy of the node with the given id.
func (r *Registry) Get(id string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// List returns copies of all known nodes, sorted by id.
func (r *Registry) List() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of known nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// PruneExpired removes nodes whose last evidence is older than the
// registry TTL, along with their cached snapshots, and reports how
// many were evicted. It runs on a fixed cadence and after every mesh
// topology change.
func (r *Registry) PruneExpired() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, n := range r.nodes {
		if now.Sub(n.LastSeen) > r.ttl {
			delete(r.nodes, id)
			r.dropSnapshotLocked(id)
			evicted++
		}
	}
	return evicted
}

// ReconcileMeshMembership intersects the transport's live peer set
// (plus self) against the registry and the snapshot cache. Nodes in
// the live set are flagged mesh-connected and refreshed; nodes outside
// it are flagged disconnected but kept until the TTL prunes them,
// which is what distinguishes "still in mesh" from "seen once over
// UDP, now silent". Cached snapshots for ids outside the live set are
// evicted immediately.
func (r *Registry) ReconcileMeshMembership(livePeers []string, selfID string) {
	live := make(map[string]bool, len(livePeers)+1)
	for _, id := range livePeers {
		live[id] = true
	}
	live[selfID] = true

	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, n := range r.nodes {
		if live[id] {
			n.MeshConnected = true
			n.LastSeen = now
		} else {
			n.MeshConnected = false
		}
	}

	for id := range r.snapshots {
		if !live[id] {
			r.dropSnapshotLocked(id)
		}
	}
}

// StoreSnapshot caches a remote node's snapshot, overwriting any
// previous copy for the same id. When the cache is full the oldest
// cached id is evicted first.
func (r *Registry) StoreSnapshot(snap protocol.SensorSnapshot) {
	if snap.NodeID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.snapshots[snap.NodeID]; exists {
		r.snapshots[snap.NodeID] = snap
		return
	}

	if r.snapCap > 0 && len(r.snapshots) >= r.snapCap {
		oldest := r.snapOrder[0]
		r.snapOrder = r.snapOrder[1:]
		delete(r.snapshots, oldest)
	}
	r.snapshots[snap.NodeID] = snap
	r.snapOrder = append(r.snapOrder, snap.NodeID)
}

// Snapshot returns the cached snapshot for a node id.
func (r *Registry) Snapshot(id string) (protocol.SensorSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.snapshots[id]
	return snap, ok
}

// Snapshots returns all cached snapshots keyed by node id.
func (r *Registry) Snapshots() map[string]protocol.SensorSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]protocol.SensorSnapshot, len(r.snapshots))
	for id, snap := range r.snapshots {
		out[id] = snap
	}
	return out
}

func (r *Registry) dropSnapshotLocked(id string) {
	if _, ok := r.snapshots[id]; !ok {
		return
	}
	delete(r.snapshots, id)
	for i, ordered := range r.snapOrder {
		if ordered == id {
			r.snapOrder = append(r.snapOrder[:i], r.snapOrder[i+1:]...)
			break
		}
	}
}
