package wire

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/hpungsan/weave/internal/ot"
)

var sampleOp = ot.Op{
	Author: "alice",
	Origin: ot.ID{Node: "node-1", Seq: 42},
	Base:   7,
	Kind:   ot.KindReplace,
	Pos:    3,
	Len:    2,
	Text:   "héllo",
}

func roundTrip(t *testing.T, m Message) {
	t.Helper()
	decoded, err := Decode(m.Tag(), Encode(m))
	if err != nil {
		t.Fatalf("decode %T: %v", m, err)
	}
	if !reflect.DeepEqual(m, decoded) {
		t.Errorf("round trip mismatch for %T:\nsent: %+v\ngot:  %+v", m, m, decoded)
	}
}

func TestRoundTrip_AllMessageTypes(t *testing.T) {
	messages := []Message{
		Hello{ClientID: "editor-7", ProtocolVersion: 1},
		Welcome{SessionID: "s1", NodeID: "node-1", Files: []FileInfo{
			{Path: "src/main.go", Version: 12},
			{Path: "README", Version: 0},
		}},
		Subscribe{RequestID: 9, Path: "src/main.go", BaseVersion: 4},
		Snapshot{Path: "src/main.go", Version: 12, Content: "package main\n"},
		SubmitOp{RequestID: 10, Path: "src/main.go", BaseVersion: 12, Op: sampleOp},
		Committed{Path: "src/main.go", Seq: 13, Op: sampleOp},
		Reject{RequestID: 10, Code: "BAD_PRECONDITION", Reason: "position out of range"},
		Heartbeat{T: 123456},
		OpCommit{Path: "src/main.go", OriginNode: "node-2", OriginSeq: 5, Op: sampleOp},
		PeerHeartbeat{NodeID: "node-1", Vector: map[string]uint64{"node-1": 9, "node-2": 5}},
		AntiEntropyRequest{NodeID: "node-2", From: map[string]uint64{"node-1": 3}},
		AntiEntropyResponse{Ops: []OpCommit{
			{Path: "a", OriginNode: "node-1", OriginSeq: 1, Op: sampleOp},
			{Path: "b", OriginNode: "node-2", OriginSeq: 2, Op: sampleOp},
		}},
		FileSystemOp{RequestID: 3, Action: FSMove, Path: "old.txt", To: "new.txt"},
		FileSystemOp{Action: FSCreate, Path: "notes.txt", InitialContent: "hi", IsDir: false},
	}

	for _, m := range messages {
		roundTrip(t, m)
	}
}

func TestRoundTrip_EmptyVectors(t *testing.T) {
	// An empty causal vector survives the trip as an empty map.
	decoded, err := Decode(TagPeerHeartbeat, Encode(PeerHeartbeat{NodeID: "n", Vector: map[string]uint64{}}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	hb := decoded.(PeerHeartbeat)
	if len(hb.Vector) != 0 {
		t.Errorf("vector = %v, want empty", hb.Vector)
	}
}

func TestDecode_UnknownTag(t *testing.T) {
	if _, err := Decode(0x7f, nil); err == nil {
		t.Error("unknown tag should fail")
	}
}

func TestDecode_Truncated(t *testing.T) {
	payload := Encode(Committed{Path: "p", Seq: 3, Op: sampleOp})
	if _, err := Decode(TagCommitted, payload[:len(payload)-1]); err == nil {
		t.Error("truncated payload should fail")
	}
}

func TestDecode_TrailingBytes(t *testing.T) {
	payload := append(Encode(Heartbeat{T: 1}), 0xff)
	if _, err := Decode(TagHeartbeat, payload); err == nil {
		t.Error("trailing bytes should fail")
	}
}

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := Encode(Heartbeat{T: 99})
	if err := WriteFrame(&buf, TagHeartbeat, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	tag, got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if tag != TagHeartbeat || !bytes.Equal(got, payload) {
		t.Errorf("frame mismatch: tag=0x%02x payload=%v", tag, got)
	}
}

func TestFrame_Disconnected(t *testing.T) {
	if _, _, err := ReadFrame(bytes.NewReader(nil)); err != ErrDisconnected {
		t.Errorf("clean EOF should be ErrDisconnected, got %v", err)
	}
}

func TestFrame_TooLarge(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	if _, _, err := ReadFrame(&buf); err == nil {
		t.Error("oversized frame should fail")
	}
}

func TestFrame_MultipleSequential(t *testing.T) {
	var buf bytes.Buffer
	for i := uint64(1); i <= 3; i++ {
		if err := WriteFrame(&buf, TagHeartbeat, Encode(Heartbeat{T: i})); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	for i := uint64(1); i <= 3; i++ {
		tag, payload, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		msg, err := Decode(tag, payload)
		if err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		if msg.(Heartbeat).T != i {
			t.Errorf("frame %d: got T=%d", i, msg.(Heartbeat).T)
		}
	}
}

func TestOpRecord_RoundTrip(t *testing.T) {
	decoded, err := DecodeOp(EncodeOp(sampleOp))
	if err != nil {
		t.Fatalf("decode op: %v", err)
	}
	if decoded != sampleOp {
		t.Errorf("op mismatch: %+v", decoded)
	}
}
