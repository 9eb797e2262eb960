// Package testutil provides multi-node test fixtures for the mesh
// coordinator. A Cluster joins several fully wired nodes to one
// in-process flood fabric so integration tests can exercise relay
// round-trips, discovery, and membership churn without sockets.
package testutil

import (
	"context"
	"testing"

	"github.com/IsuHapu/smart-agri-project-sub000/meshnet"
	"github.com/IsuHapu/smart-agri-project-sub000/node"
	"github.com/IsuHapu/smart-agri-project-sub000/protocol"
)

// ClusterOption is a function that modifies the per-node config.
type ClusterOption func(*protocol.MeshConfig)

// WithRelayTimeout sets the relay deadline in seconds.
func WithRelayTimeout(sec int) ClusterOption {
	return func(cfg *protocol.MeshConfig) {
		cfg.RelayTimeoutSec = sec
	}
}

// WithAnnounceInterval sets the announce cadence in seconds.
func WithAnnounceInterval(sec int) ClusterOption {
	return func(cfg *protocol.MeshConfig) {
		cfg.AnnounceSec = sec
	}
}

// WithCollectInterval sets the snapshot polling cadence in seconds.
func WithCollectInterval(sec int) ClusterOption {
	return func(cfg *protocol.MeshConfig) {
		cfg.CollectSec = sec
	}
}

// Cluster is a set of nodes sharing one in-memory mesh.
type Cluster struct {
	Hub   *meshnet.MemoryHub
	nodes map[string]*node.Node
}

// NewCluster builds one node per id, each with its own data directory,
// and registers cleanup with t. Nodes are wired but idle until Start.
func NewCluster(t *testing.T, ids []string, opts ...ClusterOption) *Cluster {
	t.Helper()

	c := &Cluster{
		Hub:   meshnet.NewMemoryHub(),
		nodes: make(map[string]*node.Node, len(ids)),
	}

	for _, id := range ids {
		cfg := protocol.DefaultConfig()
		cfg.DeviceName = "node-" + id
		cfg.MeshSSID = "AgriMesh-test"
		cfg.DataDir = t.TempDir()
		cfg.RelayTimeoutSec = 1
		cfg.DiscoveryPort = 0

		for _, opt := range opts {
			opt(cfg)
		}

		n, err := node.New(node.Options{
			Config:    cfg,
			NodeID:    id,
			Transport: c.Hub.Join(id),
		})
		if err != nil {
			t.Fatalf("building node %s: %v", id, err)
		}
		t.Cleanup(func() { _ = n.Close() })
		c.nodes[id] = n
	}

	return c
}

// Node returns the node with the given id.
func (c *Cluster) Node(id string) *node.Node {
	return c.nodes[id]
}

// Start runs every node's loops under ctx.
func (c *Cluster) Start(ctx context.Context) {
	for _, n := range c.nodes {
		n.Run(ctx)
	}
}
