package engine

import (
	"math/rand"
	"testing"

	"github.com/hpungsan/weave/internal/config"
	"github.com/hpungsan/weave/internal/errors"
	"github.com/hpungsan/weave/internal/ot"
	"github.com/hpungsan/weave/internal/store"
	"github.com/hpungsan/weave/internal/workspace"
)

func newTestEngine(t *testing.T, nodeID string) *Engine {
	t.Helper()

	st, err := store.Init(t.TempDir())
	if err != nil {
		t.Fatalf("store.Init failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ws, err := workspace.New(st)
	if err != nil {
		t.Fatalf("workspace.New failed: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.NodeID = nodeID

	eng, err := New(cfg, st, ws)
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	return eng
}

func insert(pos int, text string) ot.Op {
	return ot.Op{Author: "test", Kind: ot.KindInsert, Pos: pos, Text: text}
}

func del(pos, length int) ot.Op {
	return ot.Op{Author: "test", Kind: ot.KindDelete, Pos: pos, Len: length}
}

func TestSubmit_SingleClientInsert(t *testing.T) {
	eng := newTestEngine(t, "n1")
	if err := eng.CreateFile("doc.txt", false, "", "test"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	commit, err := eng.Submit("doc.txt", 0, insert(0, "hello"), false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if commit.Seq != 1 {
		t.Errorf("seq = %d, want 1", commit.Seq)
	}

	version, content, err := eng.Snapshot("doc.txt")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if content != "hello" || version != 1 {
		t.Errorf("doc = %q v%d, want \"hello\" v1", content, version)
	}
}

func TestSubmit_ConcurrentRebase(t *testing.T) {
	eng := newTestEngine(t, "n1")
	if err := eng.CreateFile("doc.txt", false, "", "test"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	// Two clients compose against version 0; the second is rebased over
	// the first and shifts past it (earlier origin seq wins the tie).
	if _, err := eng.Submit("doc.txt", 0, insert(0, "AA"), false); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := eng.Submit("doc.txt", 0, insert(0, "BB"), false); err != nil {
		t.Fatalf("second submit: %v", err)
	}

	_, content, _ := eng.Snapshot("doc.txt")
	if content != "AABB" {
		t.Errorf("content = %q, want \"AABB\"", content)
	}
}

func TestSubmit_NoopAcknowledged(t *testing.T) {
	eng := newTestEngine(t, "n1")
	if err := eng.CreateFile("doc.txt", false, "abcdef", "test"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	var published int
	eng.Bus().Subscribe(func(Commit) { published++ })

	if _, err := eng.Submit("doc.txt", 1, del(1, 3), false); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	// The same range again from the same base collapses to nothing.
	commit, err := eng.Submit("doc.txt", 1, del(1, 3), false)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if !commit.Op.IsNoop() {
		t.Errorf("expected noop, got %+v", commit.Op)
	}
	if commit.Seq != 2 {
		t.Errorf("noop ack seq = %d, want current version 2", commit.Seq)
	}

	version, _, _ := eng.Snapshot("doc.txt")
	if version != 2 {
		t.Errorf("version = %d, noop must not bump it", version)
	}
	if published != 1 {
		t.Errorf("published = %d, noop must not broadcast", published)
	}
}

func TestSubmit_Preconditions(t *testing.T) {
	eng := newTestEngine(t, "n1")
	if err := eng.CreateFile("doc.txt", false, "abc", "test"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	if _, err := eng.Submit("doc.txt", 9, insert(0, "x"), false); !errors.Is(err, errors.ErrBadPrecondition) {
		t.Errorf("base ahead of server: got %v", err)
	}
	if _, err := eng.Submit("doc.txt", 1, insert(99, "x"), false); !errors.Is(err, errors.ErrBadPrecondition) {
		t.Errorf("out-of-range position: got %v", err)
	}
	if _, err := eng.Submit("nope.txt", 0, insert(0, "x"), false); !errors.Is(err, errors.ErrFileNotFound) {
		t.Errorf("unknown path: got %v", err)
	}

	// Nothing was logged.
	version, content, _ := eng.Snapshot("doc.txt")
	if version != 1 || content != "abc" {
		t.Errorf("doc mutated by rejected ops: %q v%d", content, version)
	}
}

func TestSubmit_EditAfterDelete(t *testing.T) {
	eng := newTestEngine(t, "n1")
	if err := eng.CreateFile("doc.txt", false, "abc", "test"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := eng.DeleteFile("doc.txt"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}

	if _, err := eng.Submit("doc.txt", 1, insert(0, "x"), false); !errors.Is(err, errors.ErrFileNotFound) {
		t.Errorf("edit after delete: got %v", err)
	}

	// An upstream edit for the dead path is absorbed, not an error.
	up := insert(0, "x")
	up.Origin = ot.ID{Node: "n2", Seq: 1}
	commit, err := eng.Submit("doc.txt", 0, up, true)
	if err != nil {
		t.Fatalf("upstream edit after delete: %v", err)
	}
	if !commit.Op.IsNoop() {
		t.Errorf("upstream edit should collapse to noop, got %+v", commit.Op)
	}
}

func TestBroadcastOrder_GapFree(t *testing.T) {
	eng := newTestEngine(t, "n1")
	if err := eng.CreateFile("doc.txt", false, "", "test"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	var seqs []uint64
	eng.Bus().Subscribe(func(c Commit) { seqs = append(seqs, c.Seq) })

	version := uint64(0)
	for i := 0; i < 50; i++ {
		if _, err := eng.Submit("doc.txt", version, insert(0, "x"), false); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		version++
	}

	for i, seq := range seqs {
		if seq != uint64(i+1) {
			t.Fatalf("broadcast seq %d at position %d: order must be gap-free", seq, i)
		}
	}
}

func TestCheckout_ReplayDeterminism(t *testing.T) {
	eng := newTestEngine(t, "n1")
	if err := eng.CreateFile("doc.txt", false, "", "test"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	rng := rand.New(rand.NewSource(7))
	contentAt := map[uint64]string{}

	version := uint64(0)
	for version < 200 {
		_, content, err := eng.Snapshot("doc.txt")
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		n := len([]rune(content))

		var op ot.Op
		if n == 0 || rng.Intn(2) == 0 {
			op = insert(rng.Intn(n+1), "abc"[:1+rng.Intn(2)])
		} else {
			pos := rng.Intn(n)
			op = del(pos, 1+rng.Intn(n-pos))
		}

		commit, err := eng.Submit("doc.txt", version, op, false)
		if err != nil {
			t.Fatalf("submit at v%d: %v", version, err)
		}
		version = commit.Seq
		_, after, _ := eng.Snapshot("doc.txt")
		contentAt[version] = after
	}

	// Snapshots landed at 100 and 200 (default interval). Checkout(150)
	// replays from the snapshot at 100, Checkout(37) replays from the
	// empty start, and Checkout(200) is the current content.
	for _, v := range []uint64{150, 37, 200} {
		got, err := eng.Checkout("doc.txt", v)
		if err != nil {
			t.Fatalf("Checkout(%d): %v", v, err)
		}
		if got != contentAt[v] {
			t.Errorf("Checkout(%d) = %q, want %q", v, got, contentAt[v])
		}
	}
}

func TestCreateFile_InitialContent(t *testing.T) {
	eng := newTestEngine(t, "n1")
	if err := eng.CreateFile("doc.txt", false, "seed", "alice"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	version, content, err := eng.Snapshot("doc.txt")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if content != "seed" || version != 1 {
		t.Errorf("doc = %q v%d, want \"seed\" v1", content, version)
	}

	if err := eng.CreateFile("doc.txt", false, "", "alice"); !errors.Is(err, errors.ErrFileExists) {
		t.Errorf("duplicate create: got %v", err)
	}
}

func TestMoveFile_HistorySurvives(t *testing.T) {
	eng := newTestEngine(t, "n1")
	if err := eng.CreateFile("a.txt", false, "one", "test"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if _, err := eng.Submit("a.txt", 1, insert(3, " two"), false); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := eng.MoveFile("a.txt", "b.txt"); err != nil {
		t.Fatalf("MoveFile: %v", err)
	}
	if err := eng.MoveFile("missing.txt", "c.txt"); !errors.Is(err, errors.ErrFileNotFound) {
		t.Errorf("move of missing path: got %v", err)
	}

	// History is addressable through the new path.
	content, err := eng.Checkout("b.txt", 1)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if content != "one" {
		t.Errorf("historical content = %q, want \"one\"", content)
	}

	version, content, _ := eng.Snapshot("b.txt")
	if version != 2 || content != "one two" {
		t.Errorf("current = %q v%d", content, version)
	}
}

func TestGlobalVersion_Bumps(t *testing.T) {
	eng := newTestEngine(t, "n1")
	ws := eng.Workspace()

	before := ws.GlobalVersion()
	if err := eng.CreateFile("doc.txt", false, "", "test"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if _, err := eng.Submit("doc.txt", 0, insert(0, "x"), false); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := eng.MoveFile("doc.txt", "other.txt"); err != nil {
		t.Fatalf("MoveFile: %v", err)
	}

	if got := ws.GlobalVersion(); got != before+3 {
		t.Errorf("global version advanced by %d, want 3", got-before)
	}
}

func TestRestart_RestoresState(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Init(dir)
	if err != nil {
		t.Fatalf("store.Init: %v", err)
	}
	ws, err := workspace.New(st)
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.NodeID = "n1"
	eng, err := New(cfg, st, ws)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	if err := eng.CreateFile("doc.txt", false, "", "test"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	version := uint64(0)
	for i := 0; i < 120; i++ {
		commit, err := eng.Submit("doc.txt", version, insert(0, "x"), false)
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		version = commit.Seq
	}
	_, wantContent, _ := eng.Snapshot("doc.txt")
	st.Close()

	// A fresh process over the same data dir sees the same document.
	st2, err := store.Init(dir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer st2.Close()
	ws2, err := workspace.New(st2)
	if err != nil {
		t.Fatalf("reopen workspace: %v", err)
	}
	eng2, err := New(cfg, st2, ws2)
	if err != nil {
		t.Fatalf("reopen engine: %v", err)
	}

	gotVersion, gotContent, err := eng2.Snapshot("doc.txt")
	if err != nil {
		t.Fatalf("Snapshot after restart: %v", err)
	}
	if gotVersion != 120 || gotContent != wantContent {
		t.Errorf("restored doc = v%d (want 120), content match = %v", gotVersion, gotContent == wantContent)
	}
}
