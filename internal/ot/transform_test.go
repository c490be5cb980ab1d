package ot

import (
	"math/rand"
	"testing"
)

func makeInsert(pos int, text, node string, seq uint64) Op {
	return Op{Origin: ID{Node: node, Seq: seq}, Kind: KindInsert, Pos: pos, Text: text}
}

func makeDelete(pos, length int, node string, seq uint64) Op {
	return Op{Origin: ID{Node: node, Seq: seq}, Kind: KindDelete, Pos: pos, Len: length}
}

func makeReplace(pos, length int, text, node string, seq uint64) Op {
	return Op{Origin: ID{Node: node, Seq: seq}, Kind: KindReplace, Pos: pos, Len: length, Text: text}
}

// checkConvergence applies a and b in both orders with transformation and
// requires identical results (TP1).
func checkConvergence(t *testing.T, initial string, a, b Op) string {
	t.Helper()

	one, err := Apply(initial, a)
	if err != nil {
		t.Fatalf("apply a: %v", err)
	}
	one, err = Apply(one, Transform(b, a))
	if err != nil {
		t.Fatalf("apply b': %v", err)
	}

	two, err := Apply(initial, b)
	if err != nil {
		t.Fatalf("apply b: %v", err)
	}
	two, err = Apply(two, Transform(a, b))
	if err != nil {
		t.Fatalf("apply a': %v", err)
	}

	if one != two {
		t.Fatalf("convergence failed\ninitial: %q\na: %+v\nb: %+v\na-first: %q\nb-first: %q",
			initial, a, b, one, two)
	}
	return one
}

func TestTransform_InsertInsertBefore(t *testing.T) {
	got := Transform(makeInsert(5, "X", "A", 1), makeInsert(2, "YY", "B", 1))
	if got.Pos != 7 || got.Text != "X" {
		t.Errorf("got pos=%d text=%q, want pos=7 text=\"X\"", got.Pos, got.Text)
	}
}

func TestTransform_InsertInsertAfter(t *testing.T) {
	got := Transform(makeInsert(2, "X", "A", 1), makeInsert(5, "YY", "B", 1))
	if got.Pos != 2 {
		t.Errorf("got pos=%d, want 2", got.Pos)
	}
}

func TestTransform_InsertInsertTieBreak(t *testing.T) {
	// Lesser origin is treated as earlier: B's insert shifts past A's.
	got := Transform(makeInsert(3, "X", "B", 1), makeInsert(3, "YY", "A", 1))
	if got.Pos != 5 {
		t.Errorf("loser should shift: got pos=%d, want 5", got.Pos)
	}

	got = Transform(makeInsert(3, "X", "A", 1), makeInsert(3, "YY", "B", 1))
	if got.Pos != 3 {
		t.Errorf("winner should hold: got pos=%d, want 3", got.Pos)
	}
}

func TestTransform_InsertOverDelete(t *testing.T) {
	// Before the range: unchanged.
	if got := Transform(makeInsert(2, "X", "A", 1), makeDelete(5, 3, "B", 1)); got.Pos != 2 {
		t.Errorf("before range: got pos=%d, want 2", got.Pos)
	}
	// Past the range: shifts left.
	if got := Transform(makeInsert(10, "X", "A", 1), makeDelete(5, 3, "B", 1)); got.Pos != 7 {
		t.Errorf("after range: got pos=%d, want 7", got.Pos)
	}
	// Inside the range: moves to the seam.
	if got := Transform(makeInsert(6, "X", "A", 1), makeDelete(5, 3, "B", 1)); got.Pos != 5 {
		t.Errorf("inside range: got pos=%d, want 5", got.Pos)
	}
}

func TestTransform_DeleteOverInsert(t *testing.T) {
	// Insert before: delete shifts right.
	got := Transform(makeDelete(5, 3, "A", 1), makeInsert(2, "XX", "B", 1))
	if got.Pos != 7 || got.Len != 3 {
		t.Errorf("got [%d,%d), want [7,10)", got.Pos, got.end())
	}
	// Insert after: unchanged.
	got = Transform(makeDelete(2, 2, "A", 1), makeInsert(10, "XX", "B", 1))
	if got.Pos != 2 || got.Len != 2 {
		t.Errorf("got [%d,%d), want [2,4)", got.Pos, got.end())
	}
	// Insert inside: the delete becomes a replace that keeps the inserted
	// text alive at the seam.
	got = Transform(makeDelete(2, 6, "A", 1), makeInsert(5, "XXX", "B", 1))
	if got.Kind != KindReplace || got.Pos != 2 || got.Len != 9 || got.Text != "XXX" {
		t.Errorf("got %+v, want Replace[2,11) text=\"XXX\"", got)
	}
}

func TestTransform_DeleteOverDelete(t *testing.T) {
	// Disjoint, prev earlier.
	got := Transform(makeDelete(10, 5, "A", 1), makeDelete(2, 3, "B", 1))
	if got.Pos != 7 || got.Len != 5 {
		t.Errorf("got [%d,%d), want [7,12)", got.Pos, got.end())
	}
	// Fully covered: noop.
	got = Transform(makeDelete(5, 3, "A", 1), makeDelete(2, 10, "B", 1))
	if !got.IsNoop() {
		t.Errorf("covered delete should become noop, got %+v", got)
	}
	// Partial overlap.
	got = Transform(makeDelete(5, 5, "A", 1), makeDelete(3, 4, "B", 1))
	if got.Pos != 3 || got.Len != 3 {
		t.Errorf("got [%d,%d), want [3,6)", got.Pos, got.end())
	}
}

func TestTransform_ReplaceOverDelete_Collapse(t *testing.T) {
	// The replaced range is gone; the text still lands as an insert.
	got := Transform(makeReplace(5, 3, "NEW", "A", 1), makeDelete(3, 7, "B", 1))
	if got.Kind != KindInsert || got.Pos != 3 || got.Text != "NEW" {
		t.Errorf("got %+v, want Insert(3, \"NEW\")", got)
	}
}

func TestTransform_AnyOverNoop(t *testing.T) {
	op := makeInsert(4, "X", "A", 1)
	noop := Op{Origin: ID{Node: "B", Seq: 1}, Kind: KindNoop}
	if got := Transform(op, noop); got != op {
		t.Errorf("transform over noop changed op: %+v", got)
	}
	if got := Transform(noop, op); !got.IsNoop() {
		t.Errorf("noop should stay noop, got %+v", got)
	}
}

// Literal acceptance scenarios.

func TestScenario_ConcurrentInsertConvergence(t *testing.T) {
	a := makeInsert(0, "AA", "1", 1)
	b := makeInsert(0, "BB", "2", 1)
	if got := checkConvergence(t, "", a, b); got != "AABB" {
		t.Errorf("got %q, want \"AABB\"", got)
	}
}

func TestScenario_InsertVsDeleteSeam(t *testing.T) {
	a := makeDelete(1, 3, "1", 1) // removes "bcd"
	b := makeInsert(2, "X", "2", 1)
	if got := checkConvergence(t, "abcdef", a, b); got != "aXef" {
		t.Errorf("got %q, want \"aXef\"", got)
	}
}

func TestScenario_ReplaceReplaceTieBreak(t *testing.T) {
	a := makeReplace(0, 5, "WORLD", "1", 1)
	b := makeReplace(0, 5, "world", "2", 1)
	if got := checkConvergence(t, "hello", a, b); got != "WORLD" {
		t.Errorf("got %q, want \"WORLD\"", got)
	}
}

func TestTransform_ReplaceReplaceDisjoint(t *testing.T) {
	a := makeReplace(1, 2, "XX", "1", 1)
	b := makeReplace(5, 2, "yy", "2", 1)
	if got := checkConvergence(t, "abcdefgh", a, b); got != "aXXdeyyh" {
		t.Errorf("got %q, want \"aXXdeyyh\"", got)
	}
}

func TestTransform_ReplaceReplacePartialOverlap(t *testing.T) {
	// Winner's text replaces the union of both ranges.
	a := makeReplace(2, 4, "XX", "1", 1)
	b := makeReplace(4, 4, "yy", "2", 1)
	if got := checkConvergence(t, "abcdefgh", a, b); got != "abXX" {
		t.Errorf("got %q, want \"abXX\"", got)
	}
}

func TestTransform_UnicodeOffsets(t *testing.T) {
	// Offsets count runes, not bytes.
	a := makeInsert(2, "é", "1", 1)
	b := makeDelete(1, 2, "2", 1)
	got := checkConvergence(t, "日本語ab", a, b)
	if got != "日éab" {
		t.Errorf("got %q, want \"日éab\"", got)
	}
}

// randomOp builds a valid op for a document of docLen runes.
func randomOp(rng *rand.Rand, docLen int, node string, seq uint64) Op {
	texts := []string{"x", "yz", "QRS", "émoji", "日本"}
	kind := rng.Intn(3)
	if docLen == 0 {
		kind = 0
	}
	switch kind {
	case 0:
		return makeInsert(rng.Intn(docLen+1), texts[rng.Intn(len(texts))], node, seq)
	case 1:
		pos := rng.Intn(docLen)
		return makeDelete(pos, 1+rng.Intn(docLen-pos), node, seq)
	default:
		pos := rng.Intn(docLen)
		return makeReplace(pos, 1+rng.Intn(docLen-pos), texts[rng.Intn(len(texts))], node, seq)
	}
}

func TestTransform_ConvergenceFuzz(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("abcdefghij語é")

	for i := 0; i < 1000; i++ {
		n := rng.Intn(30)
		runes := make([]rune, n)
		for j := range runes {
			runes[j] = alphabet[rng.Intn(len(alphabet))]
		}
		initial := string(runes)

		a := randomOp(rng, n, "1", uint64(i))
		b := randomOp(rng, n, "2", uint64(i))
		checkConvergence(t, initial, a, b)
	}
}

func TestNormalize_DegeneratePayloads(t *testing.T) {
	cases := []struct {
		in   Op
		want Kind
	}{
		{makeInsert(0, "", "A", 1), KindNoop},
		{makeDelete(3, 0, "A", 1), KindNoop},
		{makeReplace(3, 0, "", "A", 1), KindNoop},
		{makeReplace(3, 0, "x", "A", 1), KindInsert},
		{makeReplace(3, 2, "", "A", 1), KindDelete},
		{makeReplace(3, 2, "x", "A", 1), KindReplace},
	}
	for i, c := range cases {
		if got := c.in.Normalize(); got.Kind != c.want {
			t.Errorf("case %d: %v normalized to %v, want %v", i, c.in.Kind, got.Kind, c.want)
		}
	}
}

func TestApply_OutOfRange(t *testing.T) {
	if _, err := Apply("abc", makeInsert(4, "X", "A", 1)); err == nil {
		t.Error("insert past end should fail")
	}
	if _, err := Apply("abc", makeDelete(1, 3, "A", 1)); err == nil {
		t.Error("delete past end should fail")
	}
}
