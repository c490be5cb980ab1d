package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// Defaults for the engine's tunables.
const (
	DefaultHotWindow           = 1000
	DefaultSnapshotInterval    = 100
	DefaultHeartbeatIntervalMs = 10000
	DefaultSessionTimeoutMs    = 30000
	DefaultMaxOutboundQueue    = 1024
	DefaultMaxConnections      = 64
	DefaultListenAddr          = "127.0.0.1:8000"
)

// Config holds node configuration.
type Config struct {
	// NodeID is the externally assigned identity of this node. It is the
	// tie-break field for concurrent edits, so it must be unique across
	// the cluster.
	NodeID string `json:"node_id"`

	// ListenAddr is the client-facing listen address.
	ListenAddr string `json:"listen_addr"`

	// PeerAddrs lists the other nodes to replicate with.
	PeerAddrs []string `json:"peer_addrs,omitempty"`

	// HotWindow bounds the per-document in-memory log:
	// version - earliest_retained never exceeds it.
	HotWindow int `json:"hot_window"`

	// SnapshotInterval is the number of committed operations between
	// document snapshots.
	SnapshotInterval int `json:"snapshot_interval"`

	// HeartbeatIntervalMs is the client heartbeat period.
	HeartbeatIntervalMs int `json:"heartbeat_interval_ms"`

	// SessionTimeoutMs is the idle cutoff after which a session is reaped.
	SessionTimeoutMs int `json:"session_timeout_ms"`

	// MaxOutboundQueue is the per-session outbound buffer. A session whose
	// queue is full when a commit fans out is dropped as a slow consumer.
	MaxOutboundQueue int `json:"max_outbound_queue"`

	// MaxConnections caps concurrent client connections per node.
	MaxConnections int `json:"max_connections"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:          DefaultListenAddr,
		HotWindow:           DefaultHotWindow,
		SnapshotInterval:    DefaultSnapshotInterval,
		HeartbeatIntervalMs: DefaultHeartbeatIntervalMs,
		SessionTimeoutMs:    DefaultSessionTimeoutMs,
		MaxOutboundQueue:    DefaultMaxOutboundQueue,
		MaxConnections:      DefaultMaxConnections,
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.weave.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFileRaw(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; peer lists are merged and
// deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.NodeID = overlay.NodeID
	if result.NodeID == "" {
		result.NodeID = base.NodeID
	}

	result.ListenAddr = overlay.ListenAddr
	if result.ListenAddr == "" {
		result.ListenAddr = base.ListenAddr
	}

	result.HotWindow = overlay.HotWindow
	if result.HotWindow == 0 {
		result.HotWindow = base.HotWindow
	}

	result.SnapshotInterval = overlay.SnapshotInterval
	if result.SnapshotInterval == 0 {
		result.SnapshotInterval = base.SnapshotInterval
	}

	result.HeartbeatIntervalMs = overlay.HeartbeatIntervalMs
	if result.HeartbeatIntervalMs == 0 {
		result.HeartbeatIntervalMs = base.HeartbeatIntervalMs
	}

	result.SessionTimeoutMs = overlay.SessionTimeoutMs
	if result.SessionTimeoutMs == 0 {
		result.SessionTimeoutMs = base.SessionTimeoutMs
	}

	result.MaxOutboundQueue = overlay.MaxOutboundQueue
	if result.MaxOutboundQueue == 0 {
		result.MaxOutboundQueue = base.MaxOutboundQueue
	}

	result.MaxConnections = overlay.MaxConnections
	if result.MaxConnections == 0 {
		result.MaxConnections = base.MaxConnections
	}

	result.PeerAddrs = mergeStringSlice(base.PeerAddrs, overlay.PeerAddrs)

	return result
}

// mergeStringSlice combines two slices and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
