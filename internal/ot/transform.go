package ot

// mapAfterDelete maps a base-coordinate index through a committed deletion
// of [delStart, delEnd). Indices inside the deleted range collapse to its
// start.
func mapAfterDelete(i, delStart, delEnd int) int {
	if i <= delStart {
		return i
	}
	if i >= delEnd {
		return i - (delEnd - delStart)
	}
	return delStart
}

// Transform rebases op over prev, a concurrent operation composed against the
// same base that has already been committed. The result is op expressed
// against the post-prev document.
//
// Transform is pure, total, and deterministic. Convergence holds for every
// kind pair: for ops a and b against document s,
//
//	apply(apply(s, a), Transform(b, a)) == apply(apply(s, b), Transform(a, b))
//
// Ties between inserts at the same position go to the lexicographically
// lesser origin (node id, then local seq), which is treated as the earlier
// edit.
func Transform(op, prev Op) Op {
	if op.Kind == KindNoop || prev.Kind == KindNoop {
		return op
	}

	switch op.Kind {
	case KindInsert:
		return transformInsert(op, prev)
	case KindDelete:
		return transformDelete(op, prev)
	case KindReplace:
		return transformReplace(op, prev)
	}
	return op
}

func transformInsert(op, prev Op) Op {
	switch prev.Kind {
	case KindInsert:
		if prev.Pos < op.Pos || (prev.Pos == op.Pos && prev.Origin.Less(op.Origin)) {
			op.Pos += prev.TextLen()
		}
		return op

	case KindDelete:
		// Positions inside the deleted range move to the seam; the text
		// survives there.
		op.Pos = mapAfterDelete(op.Pos, prev.Pos, prev.end())
		return op

	case KindReplace:
		// At or inside the replaced range the insert lands before the
		// replacement text; past the range it shifts through delete and
		// insert.
		if op.Pos >= prev.end() {
			op.Pos = op.Pos - prev.Len + prev.TextLen()
			return op
		}
		if op.Pos > prev.Pos {
			op.Pos = prev.Pos
		}
		return op
	}
	return op
}

func transformDelete(op, prev Op) Op {
	switch prev.Kind {
	case KindInsert:
		return deleteOverInsert(op, prev.Pos, prev.Text)

	case KindDelete:
		start := mapAfterDelete(op.Pos, prev.Pos, prev.end())
		end := mapAfterDelete(op.end(), prev.Pos, prev.end())
		if start == end {
			return op.Noop()
		}
		op.Pos, op.Len = start, end-start
		return op

	case KindReplace:
		// Replace decomposes into delete then insert at the same point.
		start := mapAfterDelete(op.Pos, prev.Pos, prev.end())
		end := mapAfterDelete(op.end(), prev.Pos, prev.end())
		if start == end {
			return op.Noop()
		}
		op.Pos, op.Len = start, end-start
		return deleteOverInsert(op, prev.Pos, prev.Text)
	}
	return op
}

// deleteOverInsert rebases a delete over a committed insert of text at pos.
// An insert strictly inside the deleted range would be swallowed by a plain
// expansion, so the delete becomes a replace that reinserts the swallowed
// text at the seam.
func deleteOverInsert(op Op, pos int, text string) Op {
	n := len([]rune(text))
	if pos <= op.Pos {
		op.Pos += n
		return op
	}
	if pos < op.end() {
		op.Kind = KindReplace
		op.Len += n
		op.Text = text
		return op
	}
	return op
}

func transformReplace(op, prev Op) Op {
	switch prev.Kind {
	case KindInsert:
		n := prev.TextLen()
		if prev.Pos <= op.Pos {
			op.Pos += n
			return op
		}
		if prev.Pos < op.end() {
			// The concurrent insert survives at the head of the
			// replacement.
			op.Len += n
			op.Text = prev.Text + op.Text
		}
		return op

	case KindDelete:
		start := mapAfterDelete(op.Pos, prev.Pos, prev.end())
		end := mapAfterDelete(op.end(), prev.Pos, prev.end())
		if start == end {
			// The replaced range is gone but the text still lands.
			op.Kind = KindInsert
			op.Pos, op.Len = start, 0
			return op
		}
		op.Pos, op.Len = start, end-start
		return op

	case KindReplace:
		return replaceOverReplace(op, prev)
	}
	return op
}

// replaceOverReplace resolves concurrent replaces. Disjoint ranges transform
// componentwise. Overlapping ranges go to the lexicographically lesser
// origin: the winner's text replaces the union of both ranges, the loser
// keeps nothing but still clears its own non-overlapping fragments.
func replaceOverReplace(op, prev Op) Op {
	if op.end() <= prev.Pos {
		return op
	}
	if op.Pos >= prev.end() {
		op.Pos += prev.TextLen() - prev.Len
		return op
	}

	start := mapAfterDelete(op.Pos, prev.Pos, prev.end())
	end := mapAfterDelete(op.end(), prev.Pos, prev.end())

	if op.Origin.Less(prev.Origin) {
		// op wins: swallow prev's replacement text along with the
		// remains of op's own range.
		op.Pos = start
		op.Len = end + prev.TextLen() - start
		return op
	}

	if start == end {
		// op's range sat entirely inside prev's; the winner's text
		// already covers it.
		return op.Noop()
	}

	// op loses the overlap but its non-overlapping fragments are still
	// deleted. The span [start, end+|prev.Text|) covers those fragments
	// with the winner's text between them, so reinsert the winner's text.
	op.Pos = start
	op.Len = end + prev.TextLen() - start
	op.Text = prev.Text
	return op
}
