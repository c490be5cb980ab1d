package wire

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/hpungsan/weave/internal/ot"
)

// Payloads use a fixed big-endian layout: u8/u32/u64 integers and strings as
// a u32 length followed by UTF-8 bytes.

type encoder struct {
	buf []byte
}

func (e *encoder) u8(v byte)    { e.buf = append(e.buf, v) }
func (e *encoder) u32(v uint32) { e.buf = binary.BigEndian.AppendUint32(e.buf, v) }
func (e *encoder) u64(v uint64) { e.buf = binary.BigEndian.AppendUint64(e.buf, v) }

func (e *encoder) bool(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) fail(what string) {
	if d.err == nil {
		d.err = fmt.Errorf("truncated payload reading %s at offset %d", what, d.off)
	}
}

func (d *decoder) u8() byte {
	if d.err != nil {
		return 0
	}
	if d.off+1 > len(d.buf) {
		d.fail("u8")
		return 0
	}
	v := d.buf[d.off]
	d.off++
	return v
}

func (d *decoder) u32() uint32 {
	if d.err != nil {
		return 0
	}
	if d.off+4 > len(d.buf) {
		d.fail("u32")
		return 0
	}
	v := binary.BigEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v
}

func (d *decoder) u64() uint64 {
	if d.err != nil {
		return 0
	}
	if d.off+8 > len(d.buf) {
		d.fail("u64")
		return 0
	}
	v := binary.BigEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v
}

func (d *decoder) bool() bool {
	return d.u8() != 0
}

func (d *decoder) str() string {
	n := int(d.u32())
	if d.err != nil {
		return ""
	}
	if n < 0 || d.off+n > len(d.buf) {
		d.fail("string")
		return ""
	}
	s := string(d.buf[d.off : d.off+n])
	d.off += n
	return s
}

// op appends an operation record.
func (e *encoder) op(op ot.Op) {
	e.u8(byte(op.Kind))
	e.str(op.Author)
	e.str(op.Origin.Node)
	e.u64(op.Origin.Seq)
	e.u64(op.Base)
	e.u32(uint32(op.Pos))
	e.u32(uint32(op.Len))
	e.str(op.Text)
}

func (d *decoder) op() ot.Op {
	var op ot.Op
	op.Kind = ot.Kind(d.u8())
	op.Author = d.str()
	op.Origin.Node = d.str()
	op.Origin.Seq = d.u64()
	op.Base = d.u64()
	op.Pos = int(d.u32())
	op.Len = int(d.u32())
	op.Text = d.str()
	return op
}

// vector encodes a causal vector with deterministic key order.
func (e *encoder) vector(v map[string]uint64) {
	nodes := make([]string, 0, len(v))
	for node := range v {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	e.u32(uint32(len(nodes)))
	for _, node := range nodes {
		e.str(node)
		e.u64(v[node])
	}
}

func (d *decoder) vector() map[string]uint64 {
	n := int(d.u32())
	if d.err != nil {
		return nil
	}
	v := make(map[string]uint64, n)
	for i := 0; i < n; i++ {
		node := d.str()
		v[node] = d.u64()
	}
	return v
}

// EncodeOp serializes a standalone operation record, as stored in the cold
// log.
func EncodeOp(op ot.Op) []byte {
	var e encoder
	e.op(op)
	return e.buf
}

// DecodeOp parses a standalone operation record.
func DecodeOp(b []byte) (ot.Op, error) {
	d := decoder{buf: b}
	op := d.op()
	if d.err != nil {
		return ot.Op{}, d.err
	}
	return op, nil
}
