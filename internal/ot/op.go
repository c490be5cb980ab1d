package ot

import (
	"fmt"

	"github.com/hpungsan/weave/internal/errors"
)

// Kind discriminates the operation payload.
type Kind uint8

const (
	KindInsert Kind = iota + 1
	KindDelete
	KindReplace
	KindNoop
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindDelete:
		return "delete"
	case KindReplace:
		return "replace"
	case KindNoop:
		return "noop"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ID identifies the origin of an operation: the node it was born on and its
// monotonic local sequence there. The pair is globally unique and is the
// tie-break key for concurrent edits at the same position.
type ID struct {
	Node string
	Seq  uint64
}

// Less compares IDs lexicographically: node id first, then local sequence.
// The lesser ID is treated as the earlier edit.
func (a ID) Less(b ID) bool {
	if a.Node != b.Node {
		return a.Node < b.Node
	}
	return a.Seq < b.Seq
}

// Op is a single edit against a document at a known base version.
//
// Pos and Len count Unicode scalar values (Go runes), not bytes. Insert uses
// Pos and Text; Delete uses Pos and Len; Replace uses all three. Noop carries
// only identity and is the fixpoint of transformation.
type Op struct {
	Author string
	Origin ID
	Base   uint64
	Kind   Kind
	Pos    int
	Len    int
	Text   string
}

// Noop returns op reduced to its identity payload.
func (op Op) Noop() Op {
	return Op{Author: op.Author, Origin: op.Origin, Base: op.Base, Kind: KindNoop}
}

// IsNoop reports whether the op has no effect.
func (op Op) IsNoop() bool {
	return op.Kind == KindNoop
}

// end returns the exclusive end of the op's range in base coordinates.
func (op Op) end() int {
	return op.Pos + op.Len
}

// Validate checks the payload against a content length in runes.
// It is the receiver-side precondition from the protocol: positions must be
// in range for the content the op claims as its base.
func (op Op) Validate(contentLen int) error {
	switch op.Kind {
	case KindInsert:
		if op.Pos < 0 || op.Pos > contentLen {
			return errors.NewBadPrecondition(
				fmt.Sprintf("insert position %d out of range [0,%d]", op.Pos, contentLen))
		}
	case KindDelete, KindReplace:
		if op.Pos < 0 || op.Len < 0 || op.Pos+op.Len > contentLen {
			return errors.NewBadPrecondition(
				fmt.Sprintf("%s range [%d,%d) out of range [0,%d]", op.Kind, op.Pos, op.Pos+op.Len, contentLen))
		}
	case KindNoop:
	default:
		return errors.NewBadPrecondition(fmt.Sprintf("unknown op kind %d", op.Kind))
	}
	return nil
}

// Apply folds the op into content and returns the new content.
// Offsets are rune offsets; callers must have validated or transformed the op
// against exactly this content.
func Apply(content string, op Op) (string, error) {
	if op.Kind == KindNoop {
		return content, nil
	}
	runes := []rune(content)
	if err := op.Validate(len(runes)); err != nil {
		return "", err
	}
	switch op.Kind {
	case KindInsert:
		return string(runes[:op.Pos]) + op.Text + string(runes[op.Pos:]), nil
	case KindDelete:
		return string(runes[:op.Pos]) + string(runes[op.end():]), nil
	case KindReplace:
		return string(runes[:op.Pos]) + op.Text + string(runes[op.end():]), nil
	}
	return "", errors.NewBadPrecondition(fmt.Sprintf("unknown op kind %d", op.Kind))
}

// TextLen returns the length of the op's text in runes.
func (op Op) TextLen() int {
	return len([]rune(op.Text))
}

// Normalize rewrites degenerate payloads into their canonical kind: a
// zero-length replace is an insert, an empty-text replace is a delete, and
// an op that moves nothing is a noop. Transform assumes normalized inputs.
func (op Op) Normalize() Op {
	switch op.Kind {
	case KindInsert:
		if op.Text == "" {
			return op.Noop()
		}
		op.Len = 0
	case KindDelete:
		if op.Len <= 0 {
			return op.Noop()
		}
		op.Text = ""
	case KindReplace:
		if op.Len <= 0 && op.Text == "" {
			return op.Noop()
		}
		if op.Len <= 0 {
			op.Kind = KindInsert
			op.Len = 0
		} else if op.Text == "" {
			op.Kind = KindDelete
		}
	}
	return op
}
