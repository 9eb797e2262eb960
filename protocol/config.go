package protocol

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for MeshConfig. Durations are expressed in seconds in the
// config file and on flags.
const (
	DefaultDiscoveryPort      = 4210
	DefaultAnnounceSec        = 30
	DefaultRelayTimeoutSec    = 5
	DefaultFileTimeoutSec     = 15
	DefaultPendingMaxAgeSec   = 30
	DefaultProcessedMaxAgeSec = 30
	DefaultCleanupSec         = 60
	DefaultRegistryTTLSec     = 300
	DefaultPruneSec           = 60
	DefaultTopologySec        = 60
	DefaultCollectSec         = 60
	DefaultProbeTimeoutSec    = 2
	DefaultSnapshotCacheSize  = 50
)

// MeshConfig provides configuration parameters shared by the mesh
// coordinator components. Every timeout budget observed on the wire is
// configurable here rather than hard-coded at the call sites.
type MeshConfig struct {
	// DeviceName is the user-settable name announced alongside the node id.
	DeviceName string `yaml:"device_name"`

	// MeshSSID identifies the mesh network in discovery packets.
	MeshSSID string `yaml:"mesh_ssid"`

	// StationIP and APIP are this node's two advertised IPv4 identities.
	// Either may be empty or "0.0.0.0" when the interface is down.
	StationIP string `yaml:"station_ip"`
	APIP      string `yaml:"ap_ip"`

	// DiscoveryPort is the well-known UDP port for cross-subnet discovery.
	DiscoveryPort int `yaml:"discovery_port"`

	// BroadcastAddrs is the fixed list of subnet-broadcast addresses the
	// UDP announcer targets, reaching devices outside mesh radio range.
	BroadcastAddrs []string `yaml:"broadcast_addrs"`

	// DataDir holds the per-node readings logs and the topology summary.
	DataDir string `yaml:"data_dir"`

	AnnounceSec        int `yaml:"announce_sec"`
	RelayTimeoutSec    int `yaml:"relay_timeout_sec"`
	FileTimeoutSec     int `yaml:"file_timeout_sec"`
	PendingMaxAgeSec   int `yaml:"pending_max_age_sec"`
	ProcessedMaxAgeSec int `yaml:"processed_max_age_sec"`
	CleanupSec         int `yaml:"cleanup_sec"`
	RegistryTTLSec     int `yaml:"registry_ttl_sec"`
	PruneSec           int `yaml:"prune_sec"`
	TopologySec        int `yaml:"topology_sec"`
	CollectSec         int `yaml:"collect_sec"`
	ProbeTimeoutSec    int `yaml:"probe_timeout_sec"`
	SnapshotCacheSize  int `yaml:"snapshot_cache_size"`
}

// DefaultConfig returns a MeshConfig with all defaults applied.
func DefaultConfig() *MeshConfig {
	cfg := &MeshConfig{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in default values when unset.
func ApplyDefaults(cfg *MeshConfig) {
	if cfg.DiscoveryPort == 0 {
		cfg.DiscoveryPort = DefaultDiscoveryPort
	}
	if len(cfg.BroadcastAddrs) == 0 {
		cfg.BroadcastAddrs = []string{"255.255.255.255"}
	}
	if cfg.AnnounceSec == 0 {
		cfg.AnnounceSec = DefaultAnnounceSec
	}
	if cfg.RelayTimeoutSec == 0 {
		cfg.RelayTimeoutSec = DefaultRelayTimeoutSec
	}
	if cfg.FileTimeoutSec == 0 {
		cfg.FileTimeoutSec = DefaultFileTimeoutSec
	}
	if cfg.PendingMaxAgeSec == 0 {
		cfg.PendingMaxAgeSec = DefaultPendingMaxAgeSec
	}
	if cfg.ProcessedMaxAgeSec == 0 {
		cfg.ProcessedMaxAgeSec = DefaultProcessedMaxAgeSec
	}
	if cfg.CleanupSec == 0 {
		cfg.CleanupSec = DefaultCleanupSec
	}
	if cfg.RegistryTTLSec == 0 {
		cfg.RegistryTTLSec = DefaultRegistryTTLSec
	}
	if cfg.PruneSec == 0 {
		cfg.PruneSec = DefaultPruneSec
	}
	if cfg.TopologySec == 0 {
		cfg.TopologySec = DefaultTopologySec
	}
	if cfg.CollectSec == 0 {
		cfg.CollectSec = DefaultCollectSec
	}
	if cfg.ProbeTimeoutSec == 0 {
		cfg.ProbeTimeoutSec = DefaultProbeTimeoutSec
	}
	if cfg.SnapshotCacheSize == 0 {
		cfg.SnapshotCacheSize = DefaultSnapshotCacheSize
	}
}

// LoadConfig reads and parses a YAML config file, applying defaults.
func LoadConfig(path string) (*MeshConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &MeshConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

func (c *MeshConfig) AnnounceInterval() time.Duration { return seconds(c.AnnounceSec) }
func (c *MeshConfig) RelayTimeout() time.Duration     { return seconds(c.RelayTimeoutSec) }
func (c *MeshConfig) FileTimeout() time.Duration      { return seconds(c.FileTimeoutSec) }
func (c *MeshConfig) PendingMaxAge() time.Duration    { return seconds(c.PendingMaxAgeSec) }
func (c *MeshConfig) ProcessedMaxAge() time.Duration  { return seconds(c.ProcessedMaxAgeSec) }
func (c *MeshConfig) CleanupInterval() time.Duration  { return seconds(c.CleanupSec) }
func (c *MeshConfig) RegistryTTL() time.Duration      { return seconds(c.RegistryTTLSec) }
func (c *MeshConfig) PruneInterval() time.Duration    { return seconds(c.PruneSec) }
func (c *MeshConfig) TopologyInterval() time.Duration { return seconds(c.TopologySec) }
func (c *MeshConfig) CollectInterval() time.Duration  { return seconds(c.CollectSec) }
func (c *MeshConfig) ProbeTimeout() time.Duration     { return seconds(c.ProbeTimeoutSec) }

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
