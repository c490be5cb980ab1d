package mcp

import (
	"sort"
	"testing"

	"github.com/hpungsan/weave/internal/config"
	"github.com/hpungsan/weave/internal/engine"
	"github.com/hpungsan/weave/internal/store"
	"github.com/hpungsan/weave/internal/workspace"
)

func TestToolRegistry_Complete(t *testing.T) {
	want := []string{
		"workspace_checkout",
		"workspace_create_file",
		"workspace_delete_file",
		"workspace_list_files",
		"workspace_move_file",
		"workspace_recent_ops",
		"workspace_snapshot",
		"workspace_submit_patch",
	}

	got := AllToolNames()
	sort.Strings(got)
	if len(got) != len(want) {
		t.Fatalf("registry has %d tools, want %d: %v", len(got), len(want), got)
	}
	for i, name := range want {
		if got[i] != name {
			t.Errorf("tool %d = %q, want %q", i, got[i], name)
		}
	}

	for name, entry := range toolRegistry {
		if entry.def.Name != name {
			t.Errorf("tool %q declares name %q", name, entry.def.Name)
		}
		if entry.handler == nil {
			t.Errorf("tool %q has no handler", name)
		}
	}
}

func TestNewServer_Builds(t *testing.T) {
	st, err := store.Init(t.TempDir())
	if err != nil {
		t.Fatalf("store.Init failed: %v", err)
	}
	defer st.Close()

	ws, err := workspace.New(st)
	if err != nil {
		t.Fatalf("workspace.New failed: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.NodeID = "n1"
	eng, err := engine.New(cfg, st, ws)
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}

	if s := NewServer(eng, "agent-1", "test"); s == nil {
		t.Fatal("NewServer returned nil")
	}
}
