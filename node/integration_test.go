package node_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/IsuHapu/smart-agri-project-sub000/dispatch"
	"github.com/IsuHapu/smart-agri-project-sub000/protocol"
	"github.com/IsuHapu/smart-agri-project-sub000/testutil"
)

func TestCluster_DiscoverControlAndCollect(t *testing.T) {
	cluster := testutil.NewCluster(t, []string{"100", "200", "300"},
		testutil.WithAnnounceInterval(1),
		testutil.WithCollectInterval(1),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cluster.Start(ctx)

	a := cluster.Node("100")

	// Every node learns every other node over the mesh channel. Own
	// announces echo back but are never registered.
	require.Eventually(t, func() bool {
		_, ok200 := a.Registry().Get("200")
		_, ok300 := a.Registry().Get("300")
		return ok200 && ok300 && a.Registry().Len() == 2
	}, 5*time.Second, 20*time.Millisecond)

	// A relayed actuator command lands on the target node only.
	payload, err := a.Router().Issue(ctx, "300", dispatch.PathControl+"?action=on", "", time.Second)
	require.NoError(t, err)

	var result dispatch.Result
	require.NoError(t, json.Unmarshal(payload, &result))
	require.Equal(t, "ok", result.Status)

	// The collection loop caches remote snapshots; the one for the
	// switched node eventually reflects the actuator state.
	require.Eventually(t, func() bool {
		snap, ok := a.Registry().Snapshot("300")
		return ok && snap.RelayOn
	}, 5*time.Second, 20*time.Millisecond)

	// Mid-relay node never executed anything: its own relay stayed off.
	snapB, ok := a.Registry().Snapshot("200")
	if ok {
		require.False(t, snapB.RelayOn)
	}

	// Departure flips membership without erasing the entry.
	cluster.Hub.Leave("300")
	require.Eventually(t, func() bool {
		n, ok := a.Registry().Get("300")
		return ok && !n.MeshConnected
	}, 5*time.Second, 20*time.Millisecond)
}

func TestCluster_HistoryTravelsOverRelay(t *testing.T) {
	cluster := testutil.NewCluster(t, []string{"100", "200"},
		testutil.WithCollectInterval(1),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cluster.Start(ctx)

	b := cluster.Node("200")

	// Wait for the target to have logged at least one local reading.
	require.Eventually(t, func() bool {
		history := b.Dispatcher().Handle(dispatch.PathHistory, "")
		return history.Status == "ok" && !jsonEmptyReadings(history.Data)
	}, 5*time.Second, 50*time.Millisecond)

	payload, err := cluster.Node("100").Router().Issue(ctx, "200", dispatch.PathHistory+"?hours=1", "", time.Second)
	require.NoError(t, err)

	var result dispatch.Result
	require.NoError(t, json.Unmarshal(payload, &result))
	require.Equal(t, "ok", result.Status)

	var doc struct {
		NodeID   string                    `json:"nodeId"`
		Readings []protocol.SensorSnapshot `json:"readings"`
	}
	require.NoError(t, json.Unmarshal(result.Data, &doc))
	require.Equal(t, "200", doc.NodeID)
	require.NotEmpty(t, doc.Readings)
}

func jsonEmptyReadings(data json.RawMessage) bool {
	var doc struct {
		Readings []json.RawMessage `json:"readings"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return true
	}
	return len(doc.Readings) == 0
}
