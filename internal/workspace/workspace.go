package workspace

import (
	"sync"

	"github.com/google/uuid"

	"github.com/hpungsan/weave/internal/errors"
	"github.com/hpungsan/weave/internal/store"
)

// Entry is one file of the workspace. The document id is a UUID minted at
// creation and preserved across renames, so history stays attached to the
// file rather than the path.
type Entry struct {
	DocID string
	Path  string
	IsDir bool
}

// Workspace maps paths to document identities and owns the structural
// operations. Structural mutation is serialized by the workspace lock;
// per-document edits are serialized elsewhere and only resolve paths here.
type Workspace struct {
	mu            sync.RWMutex
	files         map[string]*Entry
	globalVersion uint64
	st            *store.Store
}

// New returns a workspace backed by st, loading existing path metadata.
func New(st *store.Store) (*Workspace, error) {
	w := &Workspace{
		files: make(map[string]*Entry),
		st:    st,
	}
	metas, err := st.ListMeta()
	if err != nil {
		return nil, errors.NewStorageUnavailable(err)
	}
	for _, m := range metas {
		w.files[m.Path] = &Entry{DocID: m.DocID, Path: m.Path}
	}
	return w, nil
}

// CreateFile adds a path with a fresh document identity.
// Fails with FileExists if the path is taken.
func (w *Workspace) CreateFile(path string, isDir bool) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.files[path]; ok {
		return nil, errors.NewFileExists(path)
	}

	entry := &Entry{DocID: uuid.NewString(), Path: path, IsDir: isDir}
	if !isDir {
		err := w.st.PutMeta(store.Meta{Path: path, DocID: entry.DocID})
		if err != nil {
			return nil, errors.NewStorageUnavailable(err)
		}
	}
	w.files[path] = entry
	w.globalVersion++
	return entry, nil
}

// DeleteFile removes a path along with its persisted ops and snapshots.
// Afterwards the path no longer resolves: the engine rejects later local
// edits with FileNotFound and absorbs replicated ones as noops.
func (w *Workspace) DeleteFile(path string) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, ok := w.files[path]
	if !ok {
		return nil, errors.NewFileNotFound(path)
	}

	if !entry.IsDir {
		if err := w.st.DeleteMeta(path); err != nil {
			return nil, errors.NewStorageUnavailable(err)
		}
		if err := w.st.DeleteOps(entry.DocID); err != nil {
			return nil, errors.NewStorageUnavailable(err)
		}
		if err := w.st.DeleteSnapshots(entry.DocID); err != nil {
			return nil, errors.NewStorageUnavailable(err)
		}
	}
	delete(w.files, path)
	w.globalVersion++
	return entry, nil
}

// MoveFile renames a path. The document identity is preserved, so history
// remains intact across renames.
func (w *Workspace) MoveFile(from, to string) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, ok := w.files[from]
	if !ok {
		return nil, errors.NewFileNotFound(from)
	}
	if _, ok := w.files[to]; ok {
		return nil, errors.NewFileExists(to)
	}

	if !entry.IsDir {
		if err := w.st.RenameMeta(from, to); err != nil {
			return nil, errors.NewStorageUnavailable(err)
		}
	}
	delete(w.files, from)
	entry.Path = to
	w.files[to] = entry
	w.globalVersion++
	return entry, nil
}

// Resolve returns the document id for a path, used by the serializer to
// route ops. Strict policy: an edit whose target no longer resolves fails.
func (w *Workspace) Resolve(path string) (string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	entry, ok := w.files[path]
	if !ok || entry.IsDir {
		return "", errors.NewFileNotFound(path)
	}
	return entry.DocID, nil
}

// PathOf returns the current path of a document id, or "" if it is gone.
func (w *Workspace) PathOf(docID string) string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, entry := range w.files {
		if entry.DocID == docID {
			return entry.Path
		}
	}
	return ""
}

// List returns all file entries, directories included.
func (w *Workspace) List() []Entry {
	w.mu.RLock()
	defer w.mu.RUnlock()

	entries := make([]Entry, 0, len(w.files))
	for _, entry := range w.files {
		entries = append(entries, *entry)
	}
	return entries
}

// BumpGlobal increments the workspace version; called on every committed
// edit. Structural ops bump it under the workspace lock themselves.
// The counter is node-local monotonic, never compared across nodes.
func (w *Workspace) BumpGlobal() {
	w.mu.Lock()
	w.globalVersion++
	w.mu.Unlock()
}

// GlobalVersion returns the node-local workspace version.
func (w *Workspace) GlobalVersion() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.globalVersion
}
