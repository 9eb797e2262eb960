package node

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/IsuHapu/smart-agri-project-sub000/dispatch"
	"github.com/IsuHapu/smart-agri-project-sub000/meshnet"
	"github.com/IsuHapu/smart-agri-project-sub000/protocol"
	"github.com/IsuHapu/smart-agri-project-sub000/store"
)

func newTestNode(t *testing.T, hub *meshnet.MemoryHub, id string) *Node {
	t.Helper()

	cfg := protocol.DefaultConfig()
	cfg.DeviceName = "node-" + id
	cfg.MeshSSID = "AgriMesh"
	cfg.DataDir = t.TempDir()
	cfg.RelayTimeoutSec = 1
	// Ephemeral discovery port so parallel tests never collide.
	cfg.DiscoveryPort = 0

	n, err := New(Options{
		Config:    cfg,
		NodeID:    id,
		Transport: hub.Join(id),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func issueResult(t *testing.T, n *Node, target, apiPath string) dispatch.Result {
	t.Helper()

	payload, err := n.Router().Issue(context.Background(), target, apiPath, "", time.Second)
	require.NoError(t, err)

	var result dispatch.Result
	require.NoError(t, json.Unmarshal(payload, &result))
	return result
}

func TestRun_MutualDiscoveryOverMesh(t *testing.T) {
	hub := meshnet.NewMemoryHub()
	a := newTestNode(t, hub, "100")
	b := newTestNode(t, hub, "200")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Run(ctx)
	b.Run(ctx)

	require.Eventually(t, func() bool {
		na, okA := b.Registry().Get("100")
		nb, okB := a.Registry().Get("200")
		return okA && okB && na.MeshConnected && nb.MeshConnected
	}, 3*time.Second, 10*time.Millisecond)

	n, _ := a.Registry().Get("200")
	require.Equal(t, "node-200", n.Name)
}

func TestRemoteControlThenRead(t *testing.T) {
	hub := meshnet.NewMemoryHub()
	a := newTestNode(t, hub, "100")
	b := newTestNode(t, hub, "200")
	_ = b

	control := issueResult(t, a, "200", dispatch.PathControl+"?action=on")
	require.Equal(t, "ok", control.Status)

	data := issueResult(t, a, "200", dispatch.PathData)
	require.Equal(t, "ok", data.Status)

	var snap protocol.SensorSnapshot
	require.NoError(t, json.Unmarshal(data.Data, &snap))
	require.Equal(t, "200", snap.NodeID)
	require.True(t, snap.RelayOn, "earlier control must be visible in the next read")
}

func TestCollectReadings_CachesAndPersists(t *testing.T) {
	hub := meshnet.NewMemoryHub()
	a := newTestNode(t, hub, "100")
	b := newTestNode(t, hub, "200")
	_ = b

	a.Registry().Upsert("200", "node-200", "", "", true)
	a.collectReadings(context.Background())

	snap, ok := a.Registry().Snapshot("200")
	require.True(t, ok, "polled snapshot must be cached")
	require.Equal(t, "200", snap.NodeID)

	remote, err := a.files.History("200", time.Hour)
	require.NoError(t, err)
	require.Len(t, remote, 1)

	local, err := a.files.History("100", time.Hour)
	require.NoError(t, err)
	require.Len(t, local, 1)
}

func TestTopologyChange_FlipsMembershipAndEvictsSnapshot(t *testing.T) {
	hub := meshnet.NewMemoryHub()
	a := newTestNode(t, hub, "100")
	newTestNode(t, hub, "200")

	a.Registry().Upsert("200", "node-200", "", "", true)
	a.Registry().StoreSnapshot(protocol.SensorSnapshot{NodeID: "200"})

	hub.Leave("200")

	n, ok := a.Registry().Get("200")
	require.True(t, ok, "departed nodes stay until the TTL prunes them")
	require.False(t, n.MeshConnected)

	_, cached := a.Registry().Snapshot("200")
	require.False(t, cached, "snapshots for departed nodes are evicted")
}

func TestWriteTopology_SummaryFile(t *testing.T) {
	hub := meshnet.NewMemoryHub()
	a := newTestNode(t, hub, "100")
	a.Registry().Upsert("200", "node-200", "10.0.0.2", "", false)

	require.NoError(t, a.writeTopology())

	data, err := os.ReadFile(filepath.Join(a.cfg.DataDir, "topology.json"))
	require.NoError(t, err)

	var summary store.TopologySummary
	require.NoError(t, json.Unmarshal(data, &summary))
	require.Equal(t, "100", summary.SelfID)
	require.Contains(t, string(summary.Nodes), `"node-200"`)
}
