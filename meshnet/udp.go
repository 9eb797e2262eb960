package meshnet

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"
)

// udpFrame wraps a mesh message with the sender's id so receivers can
// track peer liveness without inspecting the payload.
type udpFrame struct {
	From string          `json:"meshFrom"`
	Data json.RawMessage `json:"data"`
}

// UDPMeshConfig configures a UDP-broadcast transport.
type UDPMeshConfig struct {
	// SelfID is the mesh id for this boot session.
	SelfID string

	// Port is the UDP port shared by all mesh members.
	Port int

	// BroadcastAddrs are the broadcast addresses floods are written to.
	BroadcastAddrs []string

	// PeerTTL bounds how long a silent peer stays in the live set.
	PeerTTL time.Duration

	// Log is the structured logger; a nil logger discards output.
	Log *slog.Logger
}

// UDPMesh implements Transport over UDP subnet broadcast. Every write
// goes to the configured broadcast addresses; every member bound to the
// port receives it, including the sender via loopback, which matches
// the flood-echo behavior the protocol layers are built to tolerate.
type UDPMesh struct {
	cfg  UDPMeshConfig
	conn net.PacketConn
	log  *slog.Logger

	mu              sync.Mutex
	receiveHandler  ReceiveHandler
	topologyHandler func()
	lastHeard       map[string]time.Time
	closed          bool
}

// NewUDPMesh binds the mesh port and starts the receive loop.
func NewUDPMesh(cfg UDPMeshConfig) (*UDPMesh, error) {
	if cfg.SelfID == "" {
		return nil, fmt.Errorf("mesh self id is required")
	}
	if cfg.PeerTTL == 0 {
		cfg.PeerTTL = 90 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	conn, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("binding mesh port %d: %w", cfg.Port, err)
	}

	m := &UDPMesh{
		cfg:       cfg,
		conn:      conn,
		log:       cfg.Log,
		lastHeard: make(map[string]time.Time),
	}
	go m.receiveLoop()
	go m.expiryLoop()
	return m, nil
}

// SelfID returns the configured mesh id.
func (m *UDPMesh) SelfID() string { return m.cfg.SelfID }

// Broadcast writes the framed message to every broadcast address.
// Send errors on individual addresses are logged, not returned: the
// medium is best-effort and one unreachable subnet must not stop the
// others.
func (m *UDPMesh) Broadcast(message []byte) error {
	frame, err := json.Marshal(udpFrame{From: m.cfg.SelfID, Data: message})
	if err != nil {
		return err
	}

	for _, addr := range m.cfg.BroadcastAddrs {
		dst, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", addr, m.cfg.Port))
		if err != nil {
			m.log.Warn("bad broadcast address", "addr", addr, "err", err)
			continue
		}
		if _, err := m.conn.WriteTo(frame, dst); err != nil {
			m.log.Warn("mesh broadcast failed", "addr", addr, "err", err)
		}
	}
	return nil
}

// SetReceiveHandler installs the receive callback.
func (m *UDPMesh) SetReceiveHandler(h ReceiveHandler) {
	m.mu.Lock()
	m.receiveHandler = h
	m.mu.Unlock()
}

// SetTopologyHandler installs the topology-change callback.
func (m *UDPMesh) SetTopologyHandler(h func()) {
	m.mu.Lock()
	m.topologyHandler = h
	m.mu.Unlock()
}

// PeerIDs returns peers heard from within the configured TTL.
func (m *UDPMesh) PeerIDs() []string {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	peers := make([]string, 0, len(m.lastHeard))
	for id, at := range m.lastHeard {
		if now.Sub(at) <= m.cfg.PeerTTL {
			peers = append(peers, id)
		}
	}
	sort.Strings(peers)
	return peers
}

// Close stops the receive loop and releases the socket.
func (m *UDPMesh) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	return m.conn.Close()
}

func (m *UDPMesh) receiveLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, _, err := m.conn.ReadFrom(buf)
		if err != nil {
			m.mu.Lock()
			closed := m.closed
			m.mu.Unlock()
			if closed {
				return
			}
			m.log.Warn("mesh read failed", "err", err)
			continue
		}

		var frame udpFrame
		if err := json.Unmarshal(buf[:n], &frame); err != nil || frame.From == "" {
			continue
		}

		m.mu.Lock()
		var topo func()
		if frame.From != m.cfg.SelfID {
			if _, known := m.lastHeard[frame.From]; !known {
				topo = m.topologyHandler
			}
			m.lastHeard[frame.From] = time.Now()
		}
		handler := m.receiveHandler
		m.mu.Unlock()

		if topo != nil {
			topo()
		}
		if handler != nil {
			handler(frame.Data)
		}
	}
}

// expiryLoop drops peers that have been silent past the TTL so the
// live set shrinks without an explicit leave message.
func (m *UDPMesh) expiryLoop() {
	ticker := time.NewTicker(m.cfg.PeerTTL / 3)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		now := time.Now()
		var expired bool
		for id, at := range m.lastHeard {
			if now.Sub(at) > m.cfg.PeerTTL {
				delete(m.lastHeard, id)
				expired = true
			}
		}
		topo := m.topologyHandler
		m.mu.Unlock()

		if expired && topo != nil {
			topo()
		}
	}
}
