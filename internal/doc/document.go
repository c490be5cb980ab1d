package doc

import (
	"unicode/utf8"

	"github.com/hpungsan/weave/internal/ot"
)

// Document is a versioned text buffer. Version counts the non-noop
// operations applied since empty; Content is the deterministic fold of those
// operations in sequence order.
//
// A document is exclusively owned by its serializer: it never sees an
// untransformed operation, and all mutation goes through that single point.
type Document struct {
	ID         string
	Path       string
	Content    string
	Version    uint64
	LastAuthor string
}

// New returns an empty document at version 0.
func New(id, path, initial string) *Document {
	return &Document{ID: id, Path: path, Content: initial}
}

// Apply folds op into the content and bumps the version. Noops leave both
// untouched. Precondition: op is already transformed against Content.
func (d *Document) Apply(op ot.Op) error {
	if op.IsNoop() {
		return nil
	}
	content, err := ot.Apply(d.Content, op)
	if err != nil {
		return err
	}
	d.Content = content
	d.Version++
	d.LastAuthor = op.Author
	return nil
}

// Len returns the content length in runes.
func (d *Document) Len() int {
	return utf8.RuneCountInString(d.Content)
}
