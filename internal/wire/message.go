package wire

import (
	"fmt"

	"github.com/hpungsan/weave/internal/ot"
)

// ProtocolVersion is the client-server protocol revision. A Hello with a
// different version is a protocol violation.
const ProtocolVersion = 1

// Frame type tags.
const (
	TagHello               byte = 0x01 // C→S
	TagWelcome             byte = 0x02 // S→C
	TagSubscribe           byte = 0x03 // C→S
	TagSnapshot            byte = 0x04 // S→C
	TagSubmitOp            byte = 0x05 // C→S
	TagCommitted           byte = 0x06 // S→C broadcast
	TagReject              byte = 0x07 // S→C
	TagHeartbeat           byte = 0x08 // C↔S
	TagOpCommit            byte = 0x10 // N↔N
	TagPeerHeartbeat       byte = 0x11 // N↔N
	TagAntiEntropyRequest  byte = 0x12 // N↔N
	TagAntiEntropyResponse byte = 0x13 // N↔N
	TagFileSystemOp        byte = 0x20 // C↔S
)

// FS actions carried by FileSystemOp.
const (
	FSCreate byte = 1
	FSDelete byte = 2
	FSMove   byte = 3
)

// Message is a decoded protocol payload.
type Message interface {
	Tag() byte
	encode(*encoder)
}

// Hello opens a client session.
type Hello struct {
	ClientID        string
	ProtocolVersion uint32
}

// Welcome answers Hello with the session identity and the workspace listing.
type Welcome struct {
	SessionID string
	NodeID    string
	Files     []FileInfo
}

// FileInfo is one entry of the workspace snapshot in Welcome.
type FileInfo struct {
	Path    string
	Version uint64
}

// Subscribe attaches the session to a path from a stated base version.
type Subscribe struct {
	RequestID   uint64
	Path        string
	BaseVersion uint64
}

// Snapshot carries full document state for a subscription.
type Snapshot struct {
	Path    string
	Version uint64
	Content string
}

// SubmitOp proposes an operation composed against BaseVersion.
type SubmitOp struct {
	RequestID   uint64
	Path        string
	BaseVersion uint64
	Op          ot.Op
}

// Committed broadcasts a canonical operation with its sequence number.
type Committed struct {
	Path string
	Seq  uint64
	Op   ot.Op
}

// Reject reports a failed request.
type Reject struct {
	RequestID uint64
	Code      string
	Reason    string
}

// Heartbeat is the client liveness ping; T echoes back unchanged.
type Heartbeat struct {
	T uint64
}

// OpCommit forwards a committed operation between nodes.
type OpCommit struct {
	Path       string
	OriginNode string
	OriginSeq  uint64
	Op         ot.Op
}

// PeerHeartbeat carries a node's causal vector for gap detection.
type PeerHeartbeat struct {
	NodeID string
	Vector map[string]uint64
}

// AntiEntropyRequest asks a peer for every op past the given vector.
type AntiEntropyRequest struct {
	NodeID string
	From   map[string]uint64
}

// AntiEntropyResponse returns missing ops ordered by (origin node,
// origin seq).
type AntiEntropyResponse struct {
	Ops []OpCommit
}

// FileSystemOp is a structural workspace operation.
type FileSystemOp struct {
	RequestID      uint64
	Action         byte
	Path           string
	To             string
	IsDir          bool
	InitialContent string
}

func (Hello) Tag() byte               { return TagHello }
func (Welcome) Tag() byte             { return TagWelcome }
func (Subscribe) Tag() byte           { return TagSubscribe }
func (Snapshot) Tag() byte            { return TagSnapshot }
func (SubmitOp) Tag() byte            { return TagSubmitOp }
func (Committed) Tag() byte           { return TagCommitted }
func (Reject) Tag() byte              { return TagReject }
func (Heartbeat) Tag() byte           { return TagHeartbeat }
func (OpCommit) Tag() byte            { return TagOpCommit }
func (PeerHeartbeat) Tag() byte       { return TagPeerHeartbeat }
func (AntiEntropyRequest) Tag() byte  { return TagAntiEntropyRequest }
func (AntiEntropyResponse) Tag() byte { return TagAntiEntropyResponse }
func (FileSystemOp) Tag() byte        { return TagFileSystemOp }

func (m Hello) encode(e *encoder) {
	e.str(m.ClientID)
	e.u32(m.ProtocolVersion)
}

func (m Welcome) encode(e *encoder) {
	e.str(m.SessionID)
	e.str(m.NodeID)
	e.u32(uint32(len(m.Files)))
	for _, f := range m.Files {
		e.str(f.Path)
		e.u64(f.Version)
	}
}

func (m Subscribe) encode(e *encoder) {
	e.u64(m.RequestID)
	e.str(m.Path)
	e.u64(m.BaseVersion)
}

func (m Snapshot) encode(e *encoder) {
	e.str(m.Path)
	e.u64(m.Version)
	e.str(m.Content)
}

func (m SubmitOp) encode(e *encoder) {
	e.u64(m.RequestID)
	e.str(m.Path)
	e.u64(m.BaseVersion)
	e.op(m.Op)
}

func (m Committed) encode(e *encoder) {
	e.str(m.Path)
	e.u64(m.Seq)
	e.op(m.Op)
}

func (m Reject) encode(e *encoder) {
	e.u64(m.RequestID)
	e.str(m.Code)
	e.str(m.Reason)
}

func (m Heartbeat) encode(e *encoder) {
	e.u64(m.T)
}

func (m OpCommit) encode(e *encoder) {
	e.str(m.Path)
	e.str(m.OriginNode)
	e.u64(m.OriginSeq)
	e.op(m.Op)
}

func (m PeerHeartbeat) encode(e *encoder) {
	e.str(m.NodeID)
	e.vector(m.Vector)
}

func (m AntiEntropyRequest) encode(e *encoder) {
	e.str(m.NodeID)
	e.vector(m.From)
}

func (m AntiEntropyResponse) encode(e *encoder) {
	e.u32(uint32(len(m.Ops)))
	for _, oc := range m.Ops {
		oc.encode(e)
	}
}

func (m FileSystemOp) encode(e *encoder) {
	e.u64(m.RequestID)
	e.u8(m.Action)
	e.str(m.Path)
	e.str(m.To)
	e.bool(m.IsDir)
	e.str(m.InitialContent)
}

// Encode serializes a message payload (without frame prefix or tag).
func Encode(m Message) []byte {
	var e encoder
	m.encode(&e)
	return e.buf
}

// Decode parses a payload for the given tag.
func Decode(tag byte, payload []byte) (Message, error) {
	d := decoder{buf: payload}

	var m Message
	switch tag {
	case TagHello:
		m = Hello{ClientID: d.str(), ProtocolVersion: d.u32()}
	case TagWelcome:
		w := Welcome{SessionID: d.str(), NodeID: d.str()}
		n := int(d.u32())
		for i := 0; i < n && d.err == nil; i++ {
			w.Files = append(w.Files, FileInfo{Path: d.str(), Version: d.u64()})
		}
		m = w
	case TagSubscribe:
		m = Subscribe{RequestID: d.u64(), Path: d.str(), BaseVersion: d.u64()}
	case TagSnapshot:
		m = Snapshot{Path: d.str(), Version: d.u64(), Content: d.str()}
	case TagSubmitOp:
		m = SubmitOp{RequestID: d.u64(), Path: d.str(), BaseVersion: d.u64(), Op: d.op()}
	case TagCommitted:
		m = Committed{Path: d.str(), Seq: d.u64(), Op: d.op()}
	case TagReject:
		m = Reject{RequestID: d.u64(), Code: d.str(), Reason: d.str()}
	case TagHeartbeat:
		m = Heartbeat{T: d.u64()}
	case TagOpCommit:
		m = OpCommit{Path: d.str(), OriginNode: d.str(), OriginSeq: d.u64(), Op: d.op()}
	case TagPeerHeartbeat:
		m = PeerHeartbeat{NodeID: d.str(), Vector: d.vector()}
	case TagAntiEntropyRequest:
		m = AntiEntropyRequest{NodeID: d.str(), From: d.vector()}
	case TagAntiEntropyResponse:
		r := AntiEntropyResponse{}
		n := int(d.u32())
		for i := 0; i < n && d.err == nil; i++ {
			r.Ops = append(r.Ops, OpCommit{Path: d.str(), OriginNode: d.str(), OriginSeq: d.u64(), Op: d.op()})
		}
		m = r
	case TagFileSystemOp:
		m = FileSystemOp{
			RequestID: d.u64(), Action: d.u8(), Path: d.str(),
			To: d.str(), IsDir: d.bool(), InitialContent: d.str(),
		}
	default:
		return nil, fmt.Errorf("unknown message tag 0x%02x", tag)
	}

	if d.err != nil {
		return nil, d.err
	}
	if d.off != len(payload) {
		return nil, fmt.Errorf("trailing %d bytes after tag 0x%02x payload", len(payload)-d.off, tag)
	}
	return m, nil
}
