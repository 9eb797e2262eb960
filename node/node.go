// Package node wires the mesh coordinator together: transport,
// registry, discovery, relay router, dispatcher, and the readings
// store, plus the periodic maintenance loops that keep them honest.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/IsuHapu/smart-agri-project-sub000/discovery"
	"github.com/IsuHapu/smart-agri-project-sub000/dispatch"
	"github.com/IsuHapu/smart-agri-project-sub000/meshnet"
	"github.com/IsuHapu/smart-agri-project-sub000/protocol"
	"github.com/IsuHapu/smart-agri-project-sub000/registry"
	"github.com/IsuHapu/smart-agri-project-sub000/relay"
	"github.com/IsuHapu/smart-agri-project-sub000/store"
)

// ReadingsArchiver receives a copy of every persisted reading. The
// optional PostgreSQL store satisfies it for gateway deployments that
// mirror the file logs into a queryable database.
type ReadingsArchiver interface {
	AppendReading(nodeID string, snap protocol.SensorSnapshot) error
}

// Options configures a Node. Config and Transport are required; nil
// collaborators fall back to simulated ones.
type Options struct {
	Config *protocol.MeshConfig

	// NodeID is this node's mesh identity for the boot session.
	NodeID string

	Transport meshnet.Transport

	// Sensors and Actuator default to the simulated implementations.
	Sensors  dispatch.SensorSource
	Actuator dispatch.Actuator

	// Archive optionally mirrors readings into a second store.
	Archive ReadingsArchiver

	Log *slog.Logger
}

// Node is one mesh coordinator instance.
type Node struct {
	cfg *protocol.MeshConfig
	id  string
	log *slog.Logger

	transport  meshnet.Transport
	reg        *registry.Registry
	disc       *discovery.Broadcaster
	router     *relay.Router
	dispatcher *dispatch.Dispatcher
	files      *store.FileStore
	sensors    dispatch.SensorSource
	actuator   dispatch.Actuator
	archive    ReadingsArchiver
}

// New assembles a node from its options. The transport's receive and
// topology callbacks are installed here; Run starts the loops.
func New(opts Options) (*Node, error) {
	if opts.Config == nil || opts.Transport == nil {
		return nil, fmt.Errorf("node requires a config and a transport")
	}
	if opts.NodeID == "" {
		opts.NodeID = opts.Transport.SelfID()
	}
	if opts.Log == nil {
		opts.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	cfg := opts.Config
	log := opts.Log.With("nodeId", opts.NodeID)

	files, err := store.NewFileStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	actuator := opts.Actuator
	if actuator == nil {
		actuator = &SimulatedActuator{}
	}
	sensors := opts.Sensors
	if sensors == nil {
		sim, _ := actuator.(*SimulatedActuator)
		sensors = NewSimulatedSensors(opts.NodeID, cfg.DeviceName, sim)
	}

	reg := registry.New(cfg.RegistryTTL(), cfg.SnapshotCacheSize)

	disc, err := discovery.New(discovery.Config{
		DeviceName:       cfg.DeviceName,
		StationIP:        cfg.StationIP,
		APIP:             cfg.APIP,
		MeshSSID:         cfg.MeshSSID,
		Port:             cfg.DiscoveryPort,
		BroadcastAddrs:   cfg.BroadcastAddrs,
		AnnounceInterval: cfg.AnnounceInterval(),
		Log:              log,
	}, opts.Transport, reg)
	if err != nil {
		return nil, err
	}

	dispatcher := dispatch.New(dispatch.Config{
		SelfID:           opts.NodeID,
		Sensors:          sensors,
		Actuator:         actuator,
		Registry:         reg,
		Readings:         files,
		TriggerDiscovery: disc.TriggerNow,
		Log:              log,
	})

	router := relay.New(cfg, opts.Transport, reg, dispatcher, log)

	n := &Node{
		cfg:        cfg,
		id:         opts.NodeID,
		log:        log,
		transport:  opts.Transport,
		reg:        reg,
		disc:       disc,
		router:     router,
		dispatcher: dispatcher,
		files:      files,
		sensors:    sensors,
		actuator:   actuator,
		archive:    opts.Archive,
	}

	opts.Transport.SetReceiveHandler(n.handleMessage)
	opts.Transport.SetTopologyHandler(n.handleTopologyChange)

	return n, nil
}

// ID returns this node's mesh identity.
func (n *Node) ID() string { return n.id }

// Registry exposes the node registry for read access.
func (n *Node) Registry() *registry.Registry { return n.reg }

// Router exposes the relay router for issuing remote calls.
func (n *Node) Router() *relay.Router { return n.router }

// Dispatcher exposes the local operation dispatcher.
func (n *Node) Dispatcher() *dispatch.Dispatcher { return n.dispatcher }

// TriggerDiscovery asks for an immediate announce on both channels.
func (n *Node) TriggerDiscovery() { n.disc.TriggerNow() }

// Run starts the discovery, relay cleanup, and maintenance loops. It
// returns immediately; the loops stop when ctx is cancelled.
func (n *Node) Run(ctx context.Context) {
	n.router.Start(ctx)
	n.disc.Start(ctx)

	go n.maintenanceLoop(ctx)
	go n.collectLoop(ctx)
}

// Close releases the transport and the discovery socket.
func (n *Node) Close() error {
	err := n.disc.Close()
	if terr := n.transport.Close(); terr != nil && err == nil {
		err = terr
	}
	return err
}

func (n *Node) handleMessage(raw []byte) {
	if n.router.HandleMessage(raw) {
		return
	}
	if n.disc.HandleMeshMessage(raw) {
		return
	}
	n.log.Debug("unhandled mesh message", "size", len(raw))
}

// handleTopologyChange runs on every transport membership event.
// Pruning first means reconcile only sees entries still in their TTL.
func (n *Node) handleTopologyChange() {
	n.reg.PruneExpired()
	n.reg.ReconcileMeshMembership(n.transport.PeerIDs(), n.id)
}

func (n *Node) maintenanceLoop(ctx context.Context) {
	prune := time.NewTicker(n.cfg.PruneInterval())
	topology := time.NewTicker(n.cfg.TopologyInterval())
	defer prune.Stop()
	defer topology.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-prune.C:
			if removed := n.reg.PruneExpired(); removed > 0 {
				n.log.Info("pruned expired nodes", "count", removed)
			}
			n.reg.ReconcileMeshMembership(n.transport.PeerIDs(), n.id)
		case <-topology.C:
			if err := n.writeTopology(); err != nil {
				n.log.Warn("topology summary write failed", "err", err)
			}
		}
	}
}

func (n *Node) writeTopology() error {
	nodes, err := json.Marshal(n.reg.List())
	if err != nil {
		return err
	}
	return n.files.WriteTopology(store.TopologySummary{
		SelfID:    n.id,
		WrittenAt: time.Now(),
		Nodes:     nodes,
	})
}

func (n *Node) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.CollectInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.collectReadings(ctx)
		}
	}
}

// collectReadings appends the local snapshot to this node's log and
// polls every mesh-connected peer for its current snapshot, caching
// the copy and appending it to that peer's log. Unreachable peers are
// skipped; the next cycle retries.
func (n *Node) collectReadings(ctx context.Context) {
	local := n.sensors.Snapshot()
	n.persistReading(n.id, local)

	for _, peer := range n.reg.List() {
		if peer.ID == n.id || !peer.MeshConnected {
			continue
		}

		payload, err := n.router.Issue(ctx, peer.ID, dispatch.PathData, "", n.cfg.RelayTimeout())
		if err != nil {
			n.log.Debug("snapshot poll failed", "peer", peer.ID, "err", err)
			continue
		}

		var result dispatch.Result
		if err := json.Unmarshal(payload, &result); err != nil || result.IsError() {
			continue
		}

		snap, err := protocol.UnmarshalMessage[protocol.SensorSnapshot](result.Data)
		if err != nil {
			continue
		}
		if snap.NodeID == "" {
			snap.NodeID = peer.ID
		}

		n.reg.StoreSnapshot(*snap)
		n.persistReading(snap.NodeID, *snap)
	}
}

func (n *Node) persistReading(nodeID string, snap protocol.SensorSnapshot) {
	if err := n.files.AppendReading(nodeID, snap); err != nil {
		n.log.Warn("appending reading failed", "nodeId", nodeID, "err", err)
	}
	if n.archive != nil {
		if err := n.archive.AppendReading(nodeID, snap); err != nil {
			n.log.Warn("archiving reading failed", "nodeId", nodeID, "err", err)
		}
	}
}
