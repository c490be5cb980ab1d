package engine

import (
	"fmt"
	"sync"

	"github.com/hpungsan/weave/internal/doc"
	"github.com/hpungsan/weave/internal/errors"
	"github.com/hpungsan/weave/internal/oplog"
	"github.com/hpungsan/weave/internal/ot"
	"github.com/hpungsan/weave/internal/store"
	"github.com/hpungsan/weave/internal/wire"
)

// serializer is the single mutation point for one document. It owns the
// document and its log; exactly one submit executes at a time per document,
// and documents are independent of each other.
//
// Cold-log appends happen under the lock so a crash can never leave the
// in-memory state ahead of the persistent log. Long waits block only this
// document.
type serializer struct {
	mu sync.Mutex

	doc *doc.Document
	log *oplog.Log
	st  *store.Store

	snapshotInterval uint64
	hotWindow        int
}

// loadSerializer restores a document's serializer from the store: the
// newest snapshot at or below the committed version plus the log suffix.
func loadSerializer(m store.Meta, st *store.Store, snapshotInterval uint64, hotWindow int) (*serializer, error) {
	content, err := replay(st, m.DocID, m.CurrentVersion)
	if err != nil {
		return nil, err
	}

	d := doc.New(m.DocID, m.Path, content)
	d.Version = m.CurrentVersion

	return &serializer{
		doc:              d,
		log:              oplog.New(m.DocID, m.CurrentVersion, hotWindow, st),
		st:               st,
		snapshotInterval: snapshotInterval,
		hotWindow:        hotWindow,
	}, nil
}

// replay rebuilds content at version from the greatest snapshot <= version
// plus the cold-log suffix, folded in sequence order.
func replay(st *store.Store, docID string, version uint64) (string, error) {
	snapVersion, content, ok, err := st.LatestSnapshot(docID, version)
	if err != nil {
		return "", errors.NewStorageUnavailable(err)
	}
	if !ok {
		snapVersion, content = 0, ""
	}
	if snapVersion == version {
		return content, nil
	}

	records, err := st.OpRange(docID, snapVersion+1, version)
	if err != nil {
		return "", errors.NewStorageUnavailable(err)
	}
	if uint64(len(records)) != version-snapVersion {
		return "", errors.NewStorageUnavailable(
			fmt.Errorf("log gap replaying %s: want %d ops, got %d", docID, version-snapVersion, len(records)))
	}

	for _, record := range records {
		op, err := wire.DecodeOp(record)
		if err != nil {
			return "", errors.NewStorageUnavailable(err)
		}
		content, err = ot.Apply(content, op)
		if err != nil {
			return "", errors.NewInternal(err)
		}
	}
	return content, nil
}

// submit runs the serialization protocol for one proposed op. alloc, when
// non-nil, assigns the node's next origin sequence at the commit point;
// upstream ops keep the origin they arrived with. committed runs under the
// serialization point, so broadcast order always equals commit order.
// appended is false when the op collapsed to a noop and was acknowledged
// with the current version without a log entry.
func (s *serializer) submit(op ot.Op, baseVersion uint64, alloc func() ot.ID, committed func(Commit)) (commit Commit, appended bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if baseVersion > s.doc.Version {
		return Commit{}, false, errors.NewBadPrecondition(
			fmt.Sprintf("base version %d ahead of document version %d", baseVersion, s.doc.Version))
	}

	op = op.Normalize()

	// Rebase over every commit the submitter had not seen.
	if baseVersion < s.doc.Version {
		concurrent, err := s.log.Range(baseVersion+1, s.doc.Version)
		if err != nil {
			return Commit{}, false, err
		}
		for _, c := range concurrent {
			op = ot.Transform(op, c)
		}
	}

	if op.IsNoop() {
		return Commit{Path: s.doc.Path, DocID: s.doc.ID, Seq: s.doc.Version, Op: op}, false, nil
	}

	if err := op.Validate(s.doc.Len()); err != nil {
		return Commit{}, false, err
	}

	seq := s.doc.Version + 1

	if alloc != nil {
		op.Origin = alloc()
	}

	// The canonical form is composed against the state it commits on; the
	// base travels with the op so replicas know the causal cut.
	op.Base = seq - 1

	// Persist before mutating memory; a storage failure leaves the
	// document exactly as it was and the client retries.
	if err := s.st.AppendOp(s.doc.ID, seq, wire.EncodeOp(op)); err != nil {
		return Commit{}, false, errors.NewRetryLater(err.Error())
	}

	if err := s.log.Append(op, seq); err != nil {
		return Commit{}, false, errors.NewInternal(err)
	}
	if err := s.doc.Apply(op); err != nil {
		// Validate ran against this exact content; getting here means
		// the log and document disagree.
		return Commit{}, false, errors.NewInternal(err)
	}

	if s.snapshotInterval > 0 && seq%s.snapshotInterval == 0 {
		if err := s.st.PutSnapshot(s.doc.ID, seq, s.doc.Content); err == nil {
			if seq > uint64(s.hotWindow) {
				s.log.TruncateBefore(seq - uint64(s.hotWindow) + 1)
			}
		}
	}

	meta := store.Meta{
		Path:             s.doc.Path,
		DocID:            s.doc.ID,
		CurrentVersion:   s.doc.Version,
		EarliestRetained: s.log.EarliestRetained(),
	}
	if err := s.st.PutMeta(meta); err != nil {
		return Commit{}, false, errors.NewStorageUnavailable(err)
	}

	commit = Commit{Path: s.doc.Path, DocID: s.doc.ID, Seq: seq, Op: op}
	if committed != nil {
		committed(commit)
	}
	return commit, true, nil
}

// snapshot returns the current version and content.
func (s *serializer) snapshot() (uint64, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Version, s.doc.Content
}

// rangeSince returns committed ops with seq in (from, version], paired with
// their sequence numbers.
func (s *serializer) rangeSince(from uint64) ([]Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if from >= s.doc.Version {
		return nil, nil
	}
	ops, err := s.log.Range(from+1, s.doc.Version)
	if err != nil {
		return nil, err
	}
	commits := make([]Commit, len(ops))
	for i, op := range ops {
		commits[i] = Commit{
			Path:  s.doc.Path,
			DocID: s.doc.ID,
			Seq:   from + 1 + uint64(i),
			Op:    op,
		}
	}
	return commits, nil
}

// checkout reconstructs the content immediately after the commit at
// version. Replay runs in commit order, never origin order.
func (s *serializer) checkout(version uint64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if version > s.doc.Version {
		return "", errors.NewBadPrecondition(
			fmt.Sprintf("version %d beyond document version %d", version, s.doc.Version))
	}
	if version == s.doc.Version {
		return s.doc.Content, nil
	}
	return replay(s.st, s.doc.ID, version)
}

// setPath tracks a rename; the serializer keeps broadcasting under the
// current path.
func (s *serializer) setPath(path string) {
	s.mu.Lock()
	s.doc.Path = path
	s.mu.Unlock()
}
