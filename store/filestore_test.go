package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/IsuHapu/smart-agri-project-sub000/protocol"
)

func TestAppendAndHistory(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.AppendReading("100", protocol.SensorSnapshot{NodeID: "100", Temperature: 21.5, Timestamp: 1000}))
	require.NoError(t, s.AppendReading("100", protocol.SensorSnapshot{NodeID: "100", Temperature: 22.0, Timestamp: 2000}))
	require.NoError(t, s.AppendReading("200", protocol.SensorSnapshot{NodeID: "200", Temperature: 18.0, Timestamp: 500}))

	history, err := s.History("100", time.Hour)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, 21.5, history[0].Temperature)
	require.Equal(t, 22.0, history[1].Temperature)

	history, err = s.History("200", time.Hour)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestHistory_UnknownNodeIsEmpty(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	history, err := s.History("999", time.Hour)
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestHistory_SkipsTornLine(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.AppendReading("100", protocol.SensorSnapshot{NodeID: "100", Temperature: 21.5}))

	f, err := os.OpenFile(filepath.Join(dir, ReadingsFileName("100")), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"receivedAt":"2026-`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	history, err := s.History("100", time.Hour)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.AppendReading("100", protocol.SensorSnapshot{NodeID: "100"}))
	require.NoError(t, s.AppendReading("200", protocol.SensorSnapshot{NodeID: "200"}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	files, err := s.ListFiles()
	require.NoError(t, err)
	require.Len(t, files, 2, "only data files are listed")
	require.Equal(t, ReadingsFileName("100"), files[0].Name)
	require.Equal(t, ReadingsFileName("200"), files[1].Name)
}

func TestReadFile_RejectsUnsafeNames(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.ReadFile("../etc/passwd")
	require.Error(t, err)

	_, err = s.ReadFile("readings-100.txt")
	require.Error(t, err, "extension outside the data extension is refused")

	_, err = s.ReadFile("sub/readings-100.json")
	require.Error(t, err)
}

func TestReadFile(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.AppendReading("100", protocol.SensorSnapshot{NodeID: "100", Temperature: 20}))

	data, err := s.ReadFile(ReadingsFileName("100"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"nodeId":"100"`)
}

func TestWriteTopology(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	nodes, _ := json.Marshal([]map[string]string{{"nodeId": "200"}})
	require.NoError(t, s.WriteTopology(TopologySummary{SelfID: "100", WrittenAt: time.Now(), Nodes: nodes}))
	// Rewrites replace the previous summary in place.
	require.NoError(t, s.WriteTopology(TopologySummary{SelfID: "100", WrittenAt: time.Now(), Nodes: nodes}))

	data, err := os.ReadFile(filepath.Join(dir, "topology.json"))
	require.NoError(t, err)

	var summary TopologySummary
	require.NoError(t, json.Unmarshal(data, &summary))
	require.Equal(t, "100", summary.SelfID)
}
