package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/IsuHapu/smart-agri-project-sub000/protocol"
)

// dataExt is the only extension served by file fetch operations.
const dataExt = ".json"

// safeName restricts served filenames to flat names inside the data
// directory. Anything with separators or traversal is rejected before
// touching the filesystem.
var safeName = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// FileInfo describes one data file in the local log directory.
type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// loggedReading is one line in an append-only readings log. ReceivedAt
// is local wall-clock bookkeeping for the file only; the snapshot's
// own timestamp stays the opaque uptime marker it arrived with.
type loggedReading struct {
	ReceivedAt time.Time               `json:"receivedAt"`
	Snapshot   protocol.SensorSnapshot `json:"snapshot"`
}

// FileStore persists readings as one append-only JSON-lines file per
// node id, plus a topology summary rewritten each cycle. Filenames are
// derived deterministically from node ids.
type FileStore struct {
	dir string

	mu sync.Mutex
}

// NewFileStore creates the data directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// ReadingsFileName returns the deterministic log filename for a node.
func ReadingsFileName(nodeID string) string {
	return "readings-" + nodeID + dataExt
}

// AppendReading appends one snapshot to the owning node's log file.
func (s *FileStore) AppendReading(nodeID string, snap protocol.SensorSnapshot) error {
	if nodeID == "" {
		return fmt.Errorf("node id is required")
	}
	name := ReadingsFileName(nodeID)
	if !safeName.MatchString(name) {
		return fmt.Errorf("node id %q produces an unsafe filename", nodeID)
	}

	line, err := json.Marshal(loggedReading{ReceivedAt: time.Now(), Snapshot: snap})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}

// History returns the snapshots logged for a node within the window,
// oldest first. The window is bounded by the caller; readings whose
// local receive time falls outside it are skipped.
func (s *FileStore) History(nodeID string, window time.Duration) ([]protocol.SensorSnapshot, error) {
	name := ReadingsFileName(nodeID)
	if !safeName.MatchString(name) {
		return nil, fmt.Errorf("node id %q produces an unsafe filename", nodeID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	cutoff := time.Now().Add(-window)
	var out []protocol.SensorSnapshot

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec loggedReading
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			// A torn tail line from a crash mid-append is skipped, not fatal.
			continue
		}
		if rec.ReceivedAt.Before(cutoff) {
			continue
		}
		out = append(out, rec.Snapshot)
	}
	return out, scanner.Err()
}

// ListFiles lists the data files in the log directory.
func (s *FileStore) ListFiles() ([]FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var out []FileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), dataExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{Name: e.Name(), Size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ReadFile serves one data file by name. Names are restricted to flat
// files with the data extension inside the log directory.
func (s *FileStore) ReadFile(name string) ([]byte, error) {
	if !safeName.MatchString(name) {
		return nil, fmt.Errorf("disallowed file name %q", name)
	}
	if !strings.HasSuffix(name, dataExt) {
		return nil, fmt.Errorf("disallowed file extension on %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return os.ReadFile(filepath.Join(s.dir, name))
}

// TopologySummary is the registry dump rewritten each cycle.
type TopologySummary struct {
	SelfID    string          `json:"selfId"`
	WrittenAt time.Time       `json:"writtenAt"`
	Nodes     json.RawMessage `json:"nodes"`
}

// WriteTopology rewrites the topology summary file in place. The write
// goes through a rename so readers never observe a torn file.
func (s *FileStore) WriteTopology(summary TopologySummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := filepath.Join(s.dir, "topology.json.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(s.dir, "topology.json"))
}
