// Package discovery announces this node's identity and merges every
// announcement it hears into the node registry. Two channels run in
// parallel: self-announcements flooded over the mesh transport, and
// UDP packets broadcast to a fixed address list so devices outside
// mesh radio range but on a shared subnet still find each other. A
// query packet asks the receiver to answer with an immediate announce,
// which shortens first-contact latency after boot.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/IsuHapu/smart-agri-project-sub000/meshnet"
	"github.com/IsuHapu/smart-agri-project-sub000/protocol"
	"github.com/IsuHapu/smart-agri-project-sub000/registry"
)

var (
	announcesTotal    = metrics.NewCounter("agrimesh_discovery_announces_total")
	udpReceivedTotal  = metrics.NewCounter("agrimesh_discovery_udp_received_total")
	udpQueriesTotal   = metrics.NewCounter("agrimesh_discovery_udp_queries_total")
	meshReceivedTotal = metrics.NewCounter("agrimesh_discovery_mesh_received_total")
)

// Config carries the identity fields advertised in every announce and
// the UDP channel settings.
type Config struct {
	DeviceName string
	StationIP  string
	APIP       string
	MeshSSID   string

	// Port is the well-known UDP discovery port.
	Port int

	// BroadcastAddrs is the subnet broadcast address list UDP
	// announces are written to.
	BroadcastAddrs []string

	// AnnounceInterval is the cadence of unsolicited announces on both
	// channels.
	AnnounceInterval time.Duration

	Log *slog.Logger
}

// Broadcaster runs both discovery channels for one node.
type Broadcaster struct {
	cfg       Config
	transport meshnet.Transport
	reg       *registry.Registry
	conn      net.PacketConn
	log       *slog.Logger
	started   time.Time
	triggerCh chan struct{}

	mu     sync.Mutex
	closed bool
}

// New binds the UDP discovery port and prepares both channels. Start
// must be called to begin announcing and listening.
func New(cfg Config, transport meshnet.Transport, reg *registry.Registry) (*Broadcaster, error) {
	if transport == nil || reg == nil {
		return nil, fmt.Errorf("discovery requires a transport and a registry")
	}
	if cfg.AnnounceInterval <= 0 {
		cfg.AnnounceInterval = 30 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	conn, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("binding discovery port %d: %w", cfg.Port, err)
	}

	return &Broadcaster{
		cfg:       cfg,
		transport: transport,
		reg:       reg,
		conn:      conn,
		log:       cfg.Log,
		started:   time.Now(),
		triggerCh: make(chan struct{}, 1),
	}, nil
}

// Port returns the bound UDP port, which may differ from the
// configured one when it was zero.
func (b *Broadcaster) Port() int {
	return b.conn.LocalAddr().(*net.UDPAddr).Port
}

// Start launches the announce loop and the UDP listener. Both stop
// when ctx is cancelled or Close is called.
func (b *Broadcaster) Start(ctx context.Context) {
	go b.announceLoop(ctx)
	go b.udpReceiveLoop()
}

// TriggerNow requests an immediate announce on both channels without
// waiting for the next tick. Requests arriving while one is already
// queued collapse into it.
func (b *Broadcaster) TriggerNow() {
	select {
	case b.triggerCh <- struct{}{}:
	default:
	}
}

// HandleMeshMessage merges a mesh self-announcement into the registry.
// It returns true when the message was an announcement, false when the
// caller should route it elsewhere.
func (b *Broadcaster) HandleMeshMessage(raw []byte) bool {
	typ, err := protocol.PeekType(raw)
	if err != nil || typ != protocol.TypeAnnouncement {
		return false
	}

	ann, err := protocol.UnmarshalMessage[protocol.NodeAnnouncement](raw)
	if err != nil || ann.NodeID == "" {
		return true
	}
	if ann.NodeID == b.transport.SelfID() {
		return true
	}

	meshReceivedTotal.Inc()
	b.reg.Upsert(ann.NodeID, ann.DeviceName, ann.StationIP, ann.APIP, true)
	return true
}

// Close stops the UDP listener. The announce loop exits with its
// context.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	return b.conn.Close()
}

func (b *Broadcaster) announceLoop(ctx context.Context) {
	b.Announce()

	ticker := time.NewTicker(b.cfg.AnnounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Announce()
		case <-b.triggerCh:
			ticker.Reset(b.cfg.AnnounceInterval)
			b.Announce()

			// drain
			select {
			case <-b.triggerCh:
			default:
			}
		}
	}
}

// Announce sends one self-announcement on both channels.
func (b *Broadcaster) Announce() {
	announcesTotal.Inc()
	uptime := time.Since(b.started).Milliseconds()
	selfID := b.transport.SelfID()

	ann := &protocol.NodeAnnouncement{
		Type:       protocol.TypeAnnouncement,
		NodeID:     selfID,
		DeviceName: b.cfg.DeviceName,
		StationIP:  b.cfg.StationIP,
		APIP:       b.cfg.APIP,
		Timestamp:  uptime,
	}
	if data, err := protocol.SerializeMessage(ann); err == nil {
		if err := b.transport.Broadcast(data); err != nil {
			b.log.Warn("mesh announce failed", "err", err)
		}
	}

	packet := b.discoveryPacket(protocol.ActionAnnounce, uptime)
	for _, addr := range b.cfg.BroadcastAddrs {
		dst, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", addr, b.Port()))
		if err != nil {
			b.log.Warn("bad discovery broadcast address", "addr", addr, "err", err)
			continue
		}
		if _, err := b.conn.WriteTo(packet, dst); err != nil {
			b.log.Warn("udp announce failed", "addr", addr, "err", err)
		}
	}
}

func (b *Broadcaster) discoveryPacket(action string, uptime int64) []byte {
	data, _ := json.Marshal(protocol.DiscoveryPacket{
		Type:       protocol.TypeDiscovery,
		Action:     action,
		NodeID:     b.transport.SelfID(),
		DeviceName: b.cfg.DeviceName,
		StationIP:  b.cfg.StationIP,
		APIP:       b.cfg.APIP,
		MeshSSID:   b.cfg.MeshSSID,
		Timestamp:  uptime,
	})
	return data
}

func (b *Broadcaster) udpReceiveLoop() {
	buf := make([]byte, 8*1024)
	for {
		n, sender, err := b.conn.ReadFrom(buf)
		if err != nil {
			b.mu.Lock()
			closed := b.closed
			b.mu.Unlock()
			if closed {
				return
			}
			b.log.Warn("discovery read failed", "err", err)
			continue
		}

		var p protocol.DiscoveryPacket
		if err := json.Unmarshal(buf[:n], &p); err != nil {
			continue
		}
		if p.Type != protocol.TypeDiscovery || p.NodeID == "" || p.NodeID == b.transport.SelfID() {
			continue
		}

		udpReceivedTotal.Inc()

		// A UDP sighting never promotes a node to mesh membership;
		// the reconcile pass owns that flag. Keep whatever membership
		// the registry already believes.
		existing, known := b.reg.Get(p.NodeID)
		b.reg.Upsert(p.NodeID, p.DeviceName, p.StationIP, p.APIP, known && existing.MeshConnected)

		if p.Action == protocol.ActionQuery {
			udpQueriesTotal.Inc()
			reply := b.discoveryPacket(protocol.ActionAnnounce, time.Since(b.started).Milliseconds())
			if _, err := b.conn.WriteTo(reply, sender); err != nil {
				b.log.Warn("query reply failed", "to", sender.String(), "err", err)
			}
		}
	}
}
