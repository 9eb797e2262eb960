package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/IsuHapu/smart-agri-project-sub000/dispatch"
	"github.com/IsuHapu/smart-agri-project-sub000/meshnet"
	"github.com/IsuHapu/smart-agri-project-sub000/protocol"
	"github.com/IsuHapu/smart-agri-project-sub000/registry"
)

// countingExecutor records invocations and returns a canned result.
type countingExecutor struct {
	mu     sync.Mutex
	calls  int
	paths  []string
	result dispatch.Result
}

func (e *countingExecutor) Handle(apiPath, postData string) dispatch.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.paths = append(e.paths, apiPath)
	return e.result
}

func (e *countingExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type testNode struct {
	router *Router
	exec   *countingExecutor
	reg    *registry.Registry
}

func newTestNode(t *testing.T, hub *meshnet.MemoryHub, id string) *testNode {
	t.Helper()

	cfg := protocol.DefaultConfig()
	transport := hub.Join(id)
	reg := registry.New(cfg.RegistryTTL(), cfg.SnapshotCacheSize)
	exec := &countingExecutor{result: dispatch.OK(map[string]string{"from": id})}

	router := New(cfg, transport, reg, exec, nil)
	transport.SetReceiveHandler(func(msg []byte) { router.HandleMessage(msg) })

	return &testNode{router: router, exec: exec, reg: reg}
}

func TestIssue_RoundTrip(t *testing.T) {
	hub := meshnet.NewMemoryHub()
	a := newTestNode(t, hub, "100")
	b := newTestNode(t, hub, "200")

	payload, err := a.router.Issue(context.Background(), "200", "/api/data", "", time.Second)
	require.NoError(t, err)

	var result dispatch.Result
	require.NoError(t, json.Unmarshal(payload, &result))
	require.Equal(t, "ok", result.Status)
	require.JSONEq(t, `{"from":"200"}`, string(result.Data))

	require.Equal(t, 1, b.exec.count())
	require.Equal(t, 0, a.router.PendingCount(), "pending entry removed on response")
}

func TestIssue_SelfTargetSkipsFlood(t *testing.T) {
	hub := meshnet.NewMemoryHub()
	a := newTestNode(t, hub, "100")

	payload, err := a.router.Issue(context.Background(), "100", "/api/data", "", time.Second)
	require.NoError(t, err)
	require.NotNil(t, payload)
	require.Equal(t, 1, a.exec.count())
	require.Equal(t, 0, a.router.ProcessedCount(), "no flood means no dedup record")
}

func TestDuplicateDelivery_ExecutesOnce(t *testing.T) {
	hub := meshnet.NewMemoryHub()
	hub.SetDuplicates(2)
	a := newTestNode(t, hub, "100")
	b := newTestNode(t, hub, "200")

	_, err := a.router.Issue(context.Background(), "200", "/api/data", "", time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, b.exec.count(), "flood duplication must not re-execute")
}

func TestBystanderForwardsButNeverExecutes(t *testing.T) {
	hub := meshnet.NewMemoryHub()
	a := newTestNode(t, hub, "100")
	b := newTestNode(t, hub, "200")
	c := newTestNode(t, hub, "300")

	_, err := a.router.Issue(context.Background(), "200", "/api/data", "", time.Second)
	require.NoError(t, err)

	require.Equal(t, 1, b.exec.count())
	require.Equal(t, 0, c.exec.count())
	require.Equal(t, 1, c.router.ProcessedCount(), "bystander still records the id")
}

func TestIssue_TimeoutOnUnreachableTarget(t *testing.T) {
	hub := meshnet.NewMemoryHub()
	a := newTestNode(t, hub, "100")
	// Target 999 never joins the hub; registry is empty so the failure
	// is undetectable in advance and must fall through to a timeout.
	deadline := 300 * time.Millisecond

	start := time.Now()
	_, err := a.router.Issue(context.Background(), "999", "/api/data", "", deadline)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	require.GreaterOrEqual(t, elapsed, deadline, "must not give up early")
	require.Less(t, elapsed, 5*time.Second, "must not block indefinitely")
	require.Equal(t, 0, a.router.PendingCount(), "pending entry removed on timeout")
}

func TestIssue_TargetUnknownDetectedInAdvance(t *testing.T) {
	hub := meshnet.NewMemoryHub()
	a := newTestNode(t, hub, "100")
	a.reg.Upsert("200", "known", "", "", true)

	_, err := a.router.Issue(context.Background(), "999", "/api/data", "", time.Second)
	require.ErrorIs(t, err, ErrTargetUnknown)
}

func TestIssue_Validation(t *testing.T) {
	hub := meshnet.NewMemoryHub()
	a := newTestNode(t, hub, "100")

	_, err := a.router.Issue(context.Background(), "", "/api/data", "", time.Second)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = a.router.Issue(context.Background(), "200", "", "", time.Second)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestIssue_ContextCancellation(t *testing.T) {
	hub := meshnet.NewMemoryHub()
	a := newTestNode(t, hub, "100")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := a.router.Issue(ctx, "999", "/api/data", "", 10*time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLocalExecutionError_ReturnsPromptStructuredError(t *testing.T) {
	hub := meshnet.NewMemoryHub()
	a := newTestNode(t, hub, "100")
	b := newTestNode(t, hub, "200")
	b.exec.result = dispatch.Errorf("requested file absent")

	payload, err := a.router.Issue(context.Background(), "200", "/api/files/download?name=x.json", "", time.Second)
	require.NoError(t, err, "execution errors ride inside the response, not as timeouts")

	var result dispatch.Result
	require.NoError(t, json.Unmarshal(payload, &result))
	require.Equal(t, "error", result.Status)
	require.Contains(t, result.Error, "absent")
}

func TestTardyResponse_IsDropped(t *testing.T) {
	hub := meshnet.NewMemoryHub()
	a := newTestNode(t, hub, "100")

	resp := &protocol.RelayResponse{
		Type:      protocol.TypeRelayResponse,
		RequestID: "100-deadbeef",
		Response:  json.RawMessage(`{"status":"ok"}`),
	}
	raw, err := protocol.SerializeMessage(resp)
	require.NoError(t, err)

	require.True(t, a.router.HandleMessage(raw), "relay responses are always consumed")
	require.Equal(t, 0, a.router.PendingCount())
}

func TestHandleMessage_IgnoresOtherTypes(t *testing.T) {
	hub := meshnet.NewMemoryHub()
	a := newTestNode(t, hub, "100")

	require.False(t, a.router.HandleMessage([]byte(`{"type":"node_announce","nodeId":"200"}`)))
	require.False(t, a.router.HandleMessage([]byte("garbage")))
}

func TestCleanup_PrunesAgedRecords(t *testing.T) {
	hub := meshnet.NewMemoryHub()
	a := newTestNode(t, hub, "100")
	b := newTestNode(t, hub, "200")
	_ = b

	_, err := a.router.Issue(context.Background(), "200", "/api/data", "", time.Second)
	require.NoError(t, err)
	require.Greater(t, a.router.ProcessedCount(), 0)

	// Age every record past retirement and run one cleanup pass.
	a.router.now = func() time.Time { return time.Now().Add(time.Minute) }
	a.router.cleanup()

	require.Equal(t, 0, a.router.ProcessedCount())
	require.Equal(t, 0, a.router.PendingCount())
}
