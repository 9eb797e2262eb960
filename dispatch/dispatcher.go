// Package dispatch maps abstract API paths onto local node operations.
package dispatch

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/IsuHapu/smart-agri-project-sub000/protocol"
	"github.com/IsuHapu/smart-agri-project-sub000/registry"
	"github.com/IsuHapu/smart-agri-project-sub000/store"
)

// Abstract operation paths recognized by the dispatcher. A path may
// carry a query-string suffix for parameterized reads.
const (
	PathData      = "/api/data"
	PathControl   = "/api/control"
	PathHistory   = "/api/history"
	PathFiles     = "/api/files"
	PathFetchFile = "/api/files/download"
	PathMeshNodes = "/api/mesh-nodes"
	PathDiscover  = "/api/discover"
)

// maxHistoryWindow bounds historical queries so a single relayed read
// cannot drag an arbitrarily large log across the mesh.
const maxHistoryWindow = 72 * time.Hour

// Result is the structured outcome of a local operation. It crosses
// the dispatch boundary as a value in both directions: callers (the
// HTTP front door or the relay router) translate it into their own
// transport's error representation.
type Result struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// OK wraps a success value.
func OK(v any) Result {
	data, err := json.Marshal(v)
	if err != nil {
		return Errorf("encoding result: %v", err)
	}
	return Result{Status: "ok", Data: data}
}

// Errorf wraps a structured error outcome.
func Errorf(format string, args ...any) Result {
	return Result{Status: "error", Error: fmt.Sprintf(format, args...)}
}

// IsError reports whether the result carries an error outcome.
func (r Result) IsError() bool { return r.Status != "ok" }

// Serialize renders the result for a relay response payload.
func (r Result) Serialize() json.RawMessage {
	data, err := json.Marshal(r)
	if err != nil {
		// Result marshaling only fails on invalid Data; degrade to a
		// minimal error document rather than dropping the response.
		return json.RawMessage(`{"status":"error","error":"unencodable result"}`)
	}
	return data
}

// SensorSource supplies the local node's current readings. Hardware
// acquisition lives behind this seam.
type SensorSource interface {
	Snapshot() protocol.SensorSnapshot
}

// Actuator controls the local relay/pump output.
type Actuator interface {
	Set(on bool)
	Toggle() bool
	State() bool
}

// Readings is the slice of the store the dispatcher reads from.
type Readings interface {
	History(nodeID string, window time.Duration) ([]protocol.SensorSnapshot, error)
	ListFiles() ([]store.FileInfo, error)
	ReadFile(name string) ([]byte, error)
}

// Dispatcher maps abstract API paths to local operations. It knows
// nothing about the relay protocol or the transport; it is a pure
// (path, payload) to Result mapping and never lets a panic escape the
// dispatch boundary.
type Dispatcher struct {
	selfID    string
	sensors   SensorSource
	actuator  Actuator
	reg       *registry.Registry
	readings  Readings
	discovery func()
	log       *slog.Logger
}

// Config wires the dispatcher's collaborators.
type Config struct {
	SelfID string

	Sensors  SensorSource
	Actuator Actuator
	Registry *registry.Registry
	Readings Readings

	// TriggerDiscovery asks the discovery broadcaster to announce now.
	// Optional; the discover operation reports an error when absent.
	TriggerDiscovery func()

	Log *slog.Logger
}

// New creates a dispatcher.
func New(cfg Config) *Dispatcher {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		selfID:    cfg.SelfID,
		sensors:   cfg.Sensors,
		actuator:  cfg.Actuator,
		reg:       cfg.Registry,
		readings:  cfg.Readings,
		discovery: cfg.TriggerDiscovery,
		log:       log,
	}
}

// Handle executes the operation named by apiPath with the optional
// payload and returns a structured result. It never panics across the
// boundary: a panicking operation is reported as an error result.
func (d *Dispatcher) Handle(apiPath, postData string) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error("dispatch panic", "path", apiPath, "panic", rec)
			result = Errorf("internal error handling %s", basePath(apiPath))
		}
	}()

	base, query := splitPath(apiPath)

	switch base {
	case PathData:
		return d.handleData()
	case PathControl:
		return d.handleControl(query, postData)
	case PathHistory:
		return d.handleHistory(query)
	case PathFiles:
		return d.handleListFiles()
	case PathFetchFile:
		return d.handleFetchFile(query)
	case PathMeshNodes:
		return d.handleMeshNodes()
	case PathDiscover:
		return d.handleDiscover()
	default:
		return Errorf("unknown api path %q", base)
	}
}

func (d *Dispatcher) handleData() Result {
	if d.sensors == nil {
		return Errorf("sensors unavailable")
	}
	return OK(d.sensors.Snapshot())
}

// controlPayload is the optional POST body for actuator control; the
// action may equivalently arrive as a query parameter.
type controlPayload struct {
	Action string `json:"action"`
}

func (d *Dispatcher) handleControl(query url.Values, postData string) Result {
	if d.actuator == nil {
		return Errorf("actuator unavailable")
	}

	action := query.Get("action")
	if action == "" && postData != "" {
		var payload controlPayload
		if err := json.Unmarshal([]byte(postData), &payload); err != nil {
			return Errorf("malformed control payload: %v", err)
		}
		action = payload.Action
	}

	switch action {
	case "on":
		d.actuator.Set(true)
	case "off":
		d.actuator.Set(false)
	case "toggle":
		d.actuator.Toggle()
	case "":
		return Errorf("missing control action")
	default:
		return Errorf("unknown control action %q", action)
	}

	return OK(map[string]any{"action": action, "relayOn": d.actuator.State()})
}

func (d *Dispatcher) handleHistory(query url.Values) Result {
	if d.readings == nil {
		return Errorf("readings store unavailable")
	}

	window := time.Hour
	if hoursStr := query.Get("hours"); hoursStr != "" {
		hours, err := strconv.Atoi(hoursStr)
		if err != nil || hours <= 0 {
			return Errorf("invalid hours parameter %q", hoursStr)
		}
		window = time.Duration(hours) * time.Hour
	}
	if window > maxHistoryWindow {
		window = maxHistoryWindow
	}

	nodeID := query.Get("nodeId")
	if nodeID == "" {
		nodeID = d.selfID
	}

	history, err := d.readings.History(nodeID, window)
	if err != nil {
		return Errorf("reading history: %v", err)
	}
	if history == nil {
		history = []protocol.SensorSnapshot{}
	}
	return OK(map[string]any{"nodeId": nodeID, "readings": history})
}

func (d *Dispatcher) handleListFiles() Result {
	if d.readings == nil {
		return Errorf("readings store unavailable")
	}
	files, err := d.readings.ListFiles()
	if err != nil {
		return Errorf("listing files: %v", err)
	}
	if files == nil {
		files = []store.FileInfo{}
	}
	return OK(map[string]any{"files": files})
}

func (d *Dispatcher) handleFetchFile(query url.Values) Result {
	if d.readings == nil {
		return Errorf("readings store unavailable")
	}
	name := query.Get("name")
	if name == "" {
		return Errorf("missing file name")
	}
	data, err := d.readings.ReadFile(name)
	if err != nil {
		return Errorf("reading %s: %v", name, err)
	}
	return OK(map[string]any{"name": name, "content": string(data)})
}

func (d *Dispatcher) handleMeshNodes() Result {
	if d.reg == nil {
		return Errorf("registry unavailable")
	}
	return OK(map[string]any{"selfId": d.selfID, "nodes": d.reg.List()})
}

func (d *Dispatcher) handleDiscover() Result {
	if d.discovery == nil {
		return Errorf("discovery unavailable")
	}
	d.discovery()
	return OK(map[string]any{"triggered": true})
}

func splitPath(apiPath string) (string, url.Values) {
	base, rawQuery, _ := strings.Cut(apiPath, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		query = url.Values{}
	}
	return base, query
}

func basePath(apiPath string) string {
	base, _, _ := strings.Cut(apiPath, "?")
	return base
}
