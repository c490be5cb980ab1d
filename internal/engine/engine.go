package engine

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hpungsan/weave/internal/config"
	"github.com/hpungsan/weave/internal/errors"
	"github.com/hpungsan/weave/internal/ot"
	"github.com/hpungsan/weave/internal/store"
	"github.com/hpungsan/weave/internal/wire"
	"github.com/hpungsan/weave/internal/workspace"
)

// storageFailureLimit is the number of consecutive storage failures after
// which the node flips to read-only.
const storageFailureLimit = 3

// Engine is the OT coordinator: it routes submissions to per-document
// serializers, owns the commit bus, and applies structural workspace
// operations.
type Engine struct {
	cfg *config.Config
	st  *store.Store
	ws  *workspace.Workspace
	bus *Bus

	mu   sync.Mutex
	docs map[string]*serializer

	storageFailures atomic.Int32
	readOnly        atomic.Bool

	// originSeq is this node's monotonic local sequence, stamped on every
	// locally originated op. Restored from the store so a restart never
	// reuses a sequence number.
	originSeq atomic.Uint64
}

// originSeqKey is the node_state row holding the origin sequence counter.
const originSeqKey = "origin_seq"

// New returns an engine over the given store and workspace.
func New(cfg *config.Config, st *store.Store, ws *workspace.Workspace) (*Engine, error) {
	e := &Engine{
		cfg:  cfg,
		st:   st,
		ws:   ws,
		bus:  NewBus(),
		docs: make(map[string]*serializer),
	}
	seq, err := st.GetNodeState(originSeqKey)
	if err != nil {
		return nil, errors.NewStorageUnavailable(err)
	}
	e.originSeq.Store(seq)
	return e, nil
}

// Bus returns the commit bus.
func (e *Engine) Bus() *Bus {
	return e.bus
}

// Workspace returns the workspace mapping.
func (e *Engine) Workspace() *workspace.Workspace {
	return e.ws
}

// ReadOnly reports whether the node has stopped accepting mutations after
// persistent storage failures.
func (e *Engine) ReadOnly() bool {
	return e.readOnly.Load()
}

// serializerFor resolves a path and returns (lazily loading) its
// serializer.
func (e *Engine) serializerFor(path string) (*serializer, error) {
	docID, err := e.ws.Resolve(path)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.docs[docID]; ok {
		return s, nil
	}

	m, err := e.st.GetMeta(path)
	if err != nil {
		return nil, errors.NewStorageUnavailable(err)
	}
	if m == nil {
		m = &store.Meta{Path: path, DocID: docID}
	}
	s, err := loadSerializer(*m, e.st, uint64(e.cfg.SnapshotInterval), e.cfg.HotWindow)
	if err != nil {
		return nil, err
	}
	e.docs[docID] = s
	return s, nil
}

// Submit runs one operation through its document's serialization point.
// upstream marks ops that arrived via replication: they are published for
// local fan-out but tagged so the replication layer does not forward them
// again. An upstream op for a path that no longer resolves is absorbed as a
// noop commit; a local one is rejected.
func (e *Engine) Submit(path string, baseVersion uint64, op ot.Op, upstream bool) (Commit, error) {
	if e.readOnly.Load() {
		return Commit{}, errors.NewStorageUnavailable(nil)
	}

	// Local ops get a provisional origin for tie-breaking during rebase;
	// the real sequence is allocated only if the op actually commits, so
	// a rejected or collapsed submission never leaves a hole in this
	// node's origin sequence.
	var alloc func() ot.ID
	if !upstream {
		op.Origin = ot.ID{Node: e.cfg.NodeID, Seq: e.originSeq.Load() + 1}
		alloc = func() ot.ID {
			seq := e.originSeq.Add(1)
			_ = e.st.SetNodeState(originSeqKey, seq)
			return ot.ID{Node: e.cfg.NodeID, Seq: seq}
		}
	}

	s, err := e.serializerFor(path)
	if err != nil {
		if upstream && errors.Is(err, errors.ErrFileNotFound) {
			return Commit{Path: path, Op: op.Noop(), Upstream: true}, nil
		}
		return Commit{}, err
	}

	commit, _, err := s.submit(op, baseVersion, alloc, func(c Commit) {
		c.Upstream = upstream
		e.ws.BumpGlobal()
		e.bus.Publish(c)
	})
	if err != nil {
		e.noteStorage(err)
		return Commit{}, err
	}
	e.storageFailures.Store(0)

	commit.Upstream = upstream
	return commit, nil
}

// noteStorage counts consecutive storage failures and flips the node
// read-only once they look persistent.
func (e *Engine) noteStorage(err error) {
	if !errors.Is(err, errors.ErrStorageUnavailable) && !errors.Is(err, errors.ErrRetryLater) {
		return
	}
	if e.storageFailures.Add(1) >= storageFailureLimit {
		e.readOnly.Store(true)
	}
}

// Snapshot returns the current version and content of a path.
func (e *Engine) Snapshot(path string) (uint64, string, error) {
	s, err := e.serializerFor(path)
	if err != nil {
		return 0, "", err
	}
	version, content := s.snapshot()
	return version, content, nil
}

// Since returns the committed ops after baseVersion for catch-up, in
// sequence order.
func (e *Engine) Since(path string, baseVersion uint64) ([]Commit, error) {
	s, err := e.serializerFor(path)
	if err != nil {
		return nil, err
	}
	return s.rangeSince(baseVersion)
}

// Recent returns the last n committed ops of a path: the deterministic
// suffix handed to agent sessions.
func (e *Engine) Recent(path string, n int) ([]Commit, error) {
	s, err := e.serializerFor(path)
	if err != nil {
		return nil, err
	}
	version, _ := s.snapshot()
	from := uint64(0)
	if uint64(n) < version {
		from = version - uint64(n)
	}
	return s.rangeSince(from)
}

// Checkout reconstructs a path's content at an historical version.
func (e *Engine) Checkout(path string, version uint64) (string, error) {
	s, err := e.serializerFor(path)
	if err != nil {
		return "", err
	}
	return s.checkout(version)
}

// CreateFile adds a file. Non-empty initial content commits as the
// document's first operation so the fold-of-ops invariant holds from
// version zero.
func (e *Engine) CreateFile(path string, isDir bool, initialContent, author string) error {
	if e.readOnly.Load() {
		return errors.NewStorageUnavailable(nil)
	}
	if _, err := e.ws.CreateFile(path, isDir); err != nil {
		return err
	}
	if isDir || initialContent == "" {
		return nil
	}
	op := ot.Op{
		Author: author,
		Kind:   ot.KindInsert,
		Pos:    0,
		Text:   initialContent,
	}
	_, err := e.Submit(path, 0, op, false)
	return err
}

// DeleteFile removes a file and its serializer. Pending edits fail to
// resolve afterwards.
func (e *Engine) DeleteFile(path string) error {
	if e.readOnly.Load() {
		return errors.NewStorageUnavailable(nil)
	}
	entry, err := e.ws.DeleteFile(path)
	if err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.docs, entry.DocID)
	e.mu.Unlock()
	return nil
}

// MoveFile renames a file, keeping identity and history.
func (e *Engine) MoveFile(from, to string) error {
	if e.readOnly.Load() {
		return errors.NewStorageUnavailable(nil)
	}
	entry, err := e.ws.MoveFile(from, to)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if s, ok := e.docs[entry.DocID]; ok {
		s.setPath(to)
	}
	e.mu.Unlock()
	return nil
}

// Files lists the workspace snapshot sent in Welcome.
func (e *Engine) Files() []wire.FileInfo {
	entries := e.ws.List()
	files := make([]wire.FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir {
			continue
		}
		m, err := e.st.GetMeta(entry.Path)
		if err != nil || m == nil {
			files = append(files, wire.FileInfo{Path: entry.Path})
			continue
		}
		files = append(files, wire.FileInfo{Path: entry.Path, Version: m.CurrentVersion})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}
