package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HotWindow != DefaultHotWindow {
		t.Errorf("HotWindow = %d, want %d", cfg.HotWindow, DefaultHotWindow)
	}
	if cfg.SnapshotInterval != DefaultSnapshotInterval {
		t.Errorf("SnapshotInterval = %d, want %d", cfg.SnapshotInterval, DefaultSnapshotInterval)
	}
	if cfg.MaxOutboundQueue != DefaultMaxOutboundQueue {
		t.Errorf("MaxOutboundQueue = %d, want %d", cfg.MaxOutboundQueue, DefaultMaxOutboundQueue)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
}

func TestLoad_FileOverridesScalars(t *testing.T) {
	tmpDir := t.TempDir()
	content := `{
		"node_id": "node-7",
		"hot_window": 50,
		"peer_addrs": ["10.0.0.2:8000"]
	}`
	if err := os.WriteFile(filepath.Join(tmpDir, "config.json"), []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.NodeID != "node-7" {
		t.Errorf("NodeID = %q", cfg.NodeID)
	}
	if cfg.HotWindow != 50 {
		t.Errorf("HotWindow = %d, want 50", cfg.HotWindow)
	}
	// Unset fields keep their defaults.
	if cfg.SnapshotInterval != DefaultSnapshotInterval {
		t.Errorf("SnapshotInterval = %d, want default", cfg.SnapshotInterval)
	}
	if len(cfg.PeerAddrs) != 1 || cfg.PeerAddrs[0] != "10.0.0.2:8000" {
		t.Errorf("PeerAddrs = %v", cfg.PeerAddrs)
	}
}

func TestLoad_MalformedFileFails(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "config.json"), []byte("{nope"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(tmpDir); err == nil {
		t.Error("malformed config should fail")
	}
}

func TestMerge_PeerListsDeduplicated(t *testing.T) {
	base := &Config{PeerAddrs: []string{"a:1", "b:2"}}
	overlay := &Config{PeerAddrs: []string{"b:2", "c:3"}}

	merged := Merge(base, overlay)
	want := []string{"a:1", "b:2", "c:3"}
	if len(merged.PeerAddrs) != len(want) {
		t.Fatalf("PeerAddrs = %v, want %v", merged.PeerAddrs, want)
	}
	for i, addr := range want {
		if merged.PeerAddrs[i] != addr {
			t.Errorf("PeerAddrs[%d] = %q, want %q", i, merged.PeerAddrs[i], addr)
		}
	}
}
