package dispatch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/IsuHapu/smart-agri-project-sub000/protocol"
	"github.com/IsuHapu/smart-agri-project-sub000/registry"
	"github.com/IsuHapu/smart-agri-project-sub000/store"
)

type fakeSensors struct {
	snap protocol.SensorSnapshot
}

func (f *fakeSensors) Snapshot() protocol.SensorSnapshot { return f.snap }

type fakeActuator struct {
	on bool
}

func (f *fakeActuator) Set(on bool) { f.on = on }
func (f *fakeActuator) Toggle() bool {
	f.on = !f.on
	return f.on
}
func (f *fakeActuator) State() bool { return f.on }

type fakeReadings struct {
	history  []protocol.SensorSnapshot
	files    []store.FileInfo
	fileData map[string][]byte
	lastNode string
}

func (f *fakeReadings) History(nodeID string, window time.Duration) ([]protocol.SensorSnapshot, error) {
	f.lastNode = nodeID
	return f.history, nil
}
func (f *fakeReadings) ListFiles() ([]store.FileInfo, error) { return f.files, nil }
func (f *fakeReadings) ReadFile(name string) ([]byte, error) {
	if data, ok := f.fileData[name]; ok {
		return data, nil
	}
	return nil, errNotFound
}

var errNotFound = &fileError{"file not found"}

type fileError struct{ msg string }

func (e *fileError) Error() string { return e.msg }

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeActuator, *fakeReadings) {
	t.Helper()

	actuator := &fakeActuator{}
	readings := &fakeReadings{
		fileData: map[string][]byte{"readings-100.json": []byte(`{"ok":true}`)},
	}
	reg := registry.New(5*time.Minute, 50)
	reg.Upsert("200", "remote", "10.0.0.2", "", true)

	d := New(Config{
		SelfID:   "100",
		Sensors:  &fakeSensors{snap: protocol.SensorSnapshot{NodeID: "100", Temperature: 23.5}},
		Actuator: actuator,
		Registry: reg,
		Readings: readings,
	})
	return d, actuator, readings
}

func decodeData[T any](t *testing.T, res Result) T {
	t.Helper()
	require.False(t, res.IsError(), "unexpected error result: %s", res.Error)
	var v T
	require.NoError(t, json.Unmarshal(res.Data, &v))
	return v
}

func TestHandle_Data(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	res := d.Handle(PathData, "")
	snap := decodeData[protocol.SensorSnapshot](t, res)
	require.Equal(t, "100", snap.NodeID)
	require.Equal(t, 23.5, snap.Temperature)
}

func TestHandle_ControlActions(t *testing.T) {
	d, actuator, _ := newTestDispatcher(t)

	res := d.Handle(PathControl+"?action=on", "")
	require.False(t, res.IsError())
	require.True(t, actuator.on)

	res = d.Handle(PathControl+"?action=off", "")
	require.False(t, res.IsError())
	require.False(t, actuator.on)

	res = d.Handle(PathControl+"?action=toggle", "")
	require.False(t, res.IsError())
	require.True(t, actuator.on)
}

func TestHandle_ControlFromPostData(t *testing.T) {
	d, actuator, _ := newTestDispatcher(t)

	res := d.Handle(PathControl, `{"action":"on"}`)
	require.False(t, res.IsError())
	require.True(t, actuator.on)
}

func TestHandle_ControlRejectsBadInput(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	require.True(t, d.Handle(PathControl, "").IsError())
	require.True(t, d.Handle(PathControl+"?action=explode", "").IsError())
	require.True(t, d.Handle(PathControl, "not json").IsError())
}

func TestHandle_HistoryDefaultsToSelf(t *testing.T) {
	d, _, readings := newTestDispatcher(t)
	readings.history = []protocol.SensorSnapshot{{NodeID: "100", Temperature: 20}}

	res := d.Handle(PathHistory+"?hours=3", "")
	require.False(t, res.IsError())
	require.Equal(t, "100", readings.lastNode)
}

func TestHandle_HistoryRejectsBadHours(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	require.True(t, d.Handle(PathHistory+"?hours=abc", "").IsError())
	require.True(t, d.Handle(PathHistory+"?hours=-1", "").IsError())
}

func TestHandle_Files(t *testing.T) {
	d, _, readings := newTestDispatcher(t)
	readings.files = []store.FileInfo{{Name: "readings-100.json", Size: 12}}

	res := d.Handle(PathFiles, "")
	out := decodeData[map[string][]store.FileInfo](t, res)
	require.Len(t, out["files"], 1)
}

func TestHandle_FetchFile(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	res := d.Handle(PathFetchFile+"?name=readings-100.json", "")
	require.False(t, res.IsError())

	res = d.Handle(PathFetchFile+"?name=absent.json", "")
	require.True(t, res.IsError(), "missing file is a structured error, not a panic")

	res = d.Handle(PathFetchFile, "")
	require.True(t, res.IsError())
}

func TestHandle_MeshNodes(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	res := d.Handle(PathMeshNodes, "")
	out := decodeData[struct {
		SelfID string          `json:"selfId"`
		Nodes  []registry.Node `json:"nodes"`
	}](t, res)
	require.Equal(t, "100", out.SelfID)
	require.Len(t, out.Nodes, 1)
	require.Equal(t, "200", out.Nodes[0].ID)
}

func TestHandle_Discover(t *testing.T) {
	triggered := false
	d := New(Config{SelfID: "100", TriggerDiscovery: func() { triggered = true }})

	res := d.Handle(PathDiscover, "")
	require.False(t, res.IsError())
	require.True(t, triggered)
}

func TestHandle_UnknownPath(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	require.True(t, d.Handle("/api/nope", "").IsError())
}

type panickySensors struct{}

func (panickySensors) Snapshot() protocol.SensorSnapshot { panic("sensor bus fault") }

func TestHandle_PanicDoesNotEscape(t *testing.T) {
	d := New(Config{SelfID: "100", Sensors: panickySensors{}})

	res := d.Handle(PathData, "")
	require.True(t, res.IsError())
}
