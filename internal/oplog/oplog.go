package oplog

import (
	"fmt"

	"github.com/hpungsan/weave/internal/errors"
	"github.com/hpungsan/weave/internal/ot"
	"github.com/hpungsan/weave/internal/wire"
)

// ColdReader reads encoded op records from the persistent log.
// *store.Store satisfies it.
type ColdReader interface {
	OpRange(docID string, from, to uint64) ([][]byte, error)
}

// Log is the bounded in-memory window over a document's committed
// operations. Sequence numbers are gap-free and strictly increasing; entries
// older than the window live only in cold storage, still indexed by seq.
//
// The log is owned alongside its document by the serializer; it is not safe
// for concurrent use on its own.
type Log struct {
	docID     string
	hotWindow int
	cold      ColdReader

	// hot[i] holds seq hotStart+i; invariant: version-hotStart+1 <= hotWindow.
	hot      []ot.Op
	hotStart uint64
	version  uint64
}

// New returns an empty log for a document. version is the last committed
// sequence number (0 for a fresh document); the hot window starts empty just
// past it.
func New(docID string, version uint64, hotWindow int, cold ColdReader) *Log {
	return &Log{
		docID:     docID,
		hotWindow: hotWindow,
		cold:      cold,
		hotStart:  version + 1,
		version:   version,
	}
}

// Version returns the last appended sequence number.
func (l *Log) Version() uint64 {
	return l.version
}

// EarliestRetained returns the lowest sequence number still in the hot
// window, or version+1 when the window is empty.
func (l *Log) EarliestRetained() uint64 {
	return l.hotStart
}

// Append records op at seq, which must be exactly version+1. The caller has
// already persisted the op to cold storage, so trimming the window never
// loses data.
func (l *Log) Append(op ot.Op, seq uint64) error {
	if seq != l.version+1 {
		return fmt.Errorf("append out of order: seq %d after version %d", seq, l.version)
	}
	l.hot = append(l.hot, op)
	l.version = seq
	if len(l.hot) > l.hotWindow {
		drop := len(l.hot) - l.hotWindow
		l.hot = l.hot[drop:]
		l.hotStart += uint64(drop)
	}
	return nil
}

// Range returns ops with sequence numbers in [from, to], in order, drawing
// from the hot window or cold storage transparently.
func (l *Log) Range(from, to uint64) ([]ot.Op, error) {
	if from > to {
		return nil, nil
	}
	if to > l.version {
		return nil, errors.NewBadPrecondition(
			fmt.Sprintf("range end %d beyond version %d", to, l.version))
	}

	var ops []ot.Op

	if from < l.hotStart {
		coldTo := to
		if coldTo >= l.hotStart {
			coldTo = l.hotStart - 1
		}
		records, err := l.cold.OpRange(l.docID, from, coldTo)
		if err != nil {
			return nil, errors.NewStorageUnavailable(err)
		}
		if uint64(len(records)) != coldTo-from+1 {
			return nil, errors.NewStorageUnavailable(
				fmt.Errorf("cold log gap: want %d records, got %d", coldTo-from+1, len(records)))
		}
		for _, record := range records {
			op, err := wire.DecodeOp(record)
			if err != nil {
				return nil, errors.NewStorageUnavailable(err)
			}
			ops = append(ops, op)
		}
	}

	for seq := max(from, l.hotStart); seq <= to; seq++ {
		ops = append(ops, l.hot[seq-l.hotStart])
	}
	return ops, nil
}

// TruncateBefore drops hot entries with seq < seq. The cold copy is
// retained.
func (l *Log) TruncateBefore(seq uint64) {
	if seq <= l.hotStart {
		return
	}
	if seq > l.version+1 {
		seq = l.version + 1
	}
	l.hot = l.hot[seq-l.hotStart:]
	l.hotStart = seq
}

// HotLen returns the number of entries currently in memory.
func (l *Log) HotLen() int {
	return len(l.hot)
}
