package replica

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/hpungsan/weave/internal/engine"
	"github.com/hpungsan/weave/internal/errors"
	"github.com/hpungsan/weave/internal/store"
	"github.com/hpungsan/weave/internal/wire"
)

// Transport sends protocol messages to peers. The server's peer links
// implement it; tests use an in-memory mesh.
type Transport interface {
	// Broadcast sends to every connected peer, best effort.
	Broadcast(msg wire.Message)
	// SendTo sends to one peer by node id.
	SendTo(node string, msg wire.Message) error
}

// Manager runs the node-to-node protocol: it forwards local commits,
// ingests remote ones in origin order, and repairs gaps by anti-entropy.
type Manager struct {
	nodeID string
	eng    *engine.Engine
	st     *store.Store
	tr     Transport
	cancel func()

	mu sync.Mutex
	// vector tracks the highest origin sequence seen per node, this node
	// included.
	vector map[string]uint64
	// pending buffers out-of-order ops per origin until the gap closes.
	pending map[string][]wire.OpCommit
	// repairing marks origins with an anti-entropy exchange in flight.
	repairing map[string]bool
}

// NewManager wires a replication manager to the engine's commit bus.
func NewManager(nodeID string, eng *engine.Engine, st *store.Store, tr Transport) *Manager {
	m := &Manager{
		nodeID:    nodeID,
		eng:       eng,
		st:        st,
		tr:        tr,
		vector:    map[string]uint64{},
		pending:   map[string][]wire.OpCommit{},
		repairing: map[string]bool{},
	}
	m.cancel = eng.Bus().Subscribe(m.onCommit)
	return m
}

// Close detaches from the bus.
func (m *Manager) Close() {
	m.cancel()
}

// Vector returns a copy of the causal vector.
func (m *Manager) Vector() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make(map[string]uint64, len(m.vector))
	for node, seq := range m.vector {
		v[node] = seq
	}
	return v
}

// onCommit forwards locally originated commits to peers. Upstream commits
// are not re-replicated; that would ping-pong.
func (m *Manager) onCommit(c engine.Commit) {
	if c.Upstream || c.Op.IsNoop() {
		return
	}

	m.mu.Lock()
	if c.Op.Origin.Seq > m.vector[c.Op.Origin.Node] {
		m.vector[c.Op.Origin.Node] = c.Op.Origin.Seq
	}
	m.mu.Unlock()

	m.tr.Broadcast(wire.OpCommit{
		Path:       c.Path,
		OriginNode: c.Op.Origin.Node,
		OriginSeq:  c.Op.Origin.Seq,
		Op:         c.Op,
	})
}

// HandleOpCommit ingests one remote commit. Ops from an origin must arrive
// in origin order; a gap buffers the op and kicks off anti-entropy toward
// the sender.
func (m *Manager) HandleOpCommit(from string, msg wire.OpCommit) {
	m.mu.Lock()
	last := m.vector[msg.OriginNode]
	if msg.OriginSeq <= last {
		// Duplicate, already integrated.
		m.mu.Unlock()
		return
	}
	if msg.OriginSeq > last+1 {
		m.pending[msg.OriginNode] = insertPending(m.pending[msg.OriginNode], msg)
		m.mu.Unlock()
		m.requestRepair(from, msg.OriginNode)
		return
	}
	m.mu.Unlock()

	if !m.integrate(msg) {
		return
	}
	m.drainPending(msg.OriginNode)
}

// integrate feeds one in-order remote op through the local serializer.
// Returns false when the op had to be re-buffered.
func (m *Manager) integrate(msg wire.OpCommit) bool {
	_, err := m.eng.Submit(msg.Path, msg.Op.Base, msg.Op, true)
	if err != nil {
		if errors.Is(err, errors.ErrBadPrecondition) {
			// The op's causal cut is ahead of us: we are missing
			// commits it was composed against. Buffer until they
			// arrive.
			m.mu.Lock()
			m.pending[msg.OriginNode] = insertPending(m.pending[msg.OriginNode], msg)
			m.mu.Unlock()
			return false
		}
		log.Printf("[replica] dropping op %s/%d for %s: %v",
			msg.OriginNode, msg.OriginSeq, msg.Path, err)
	}

	m.mu.Lock()
	if msg.OriginSeq > m.vector[msg.OriginNode] {
		m.vector[msg.OriginNode] = msg.OriginSeq
	}
	m.mu.Unlock()
	return true
}

// drainPending integrates buffered ops that became deliverable.
func (m *Manager) drainPending(origin string) {
	for {
		m.mu.Lock()
		queue := m.pending[origin]
		if len(queue) == 0 || queue[0].OriginSeq != m.vector[origin]+1 {
			m.mu.Unlock()
			return
		}
		next := queue[0]
		m.pending[origin] = queue[1:]
		m.mu.Unlock()

		if !m.integrate(next) {
			return
		}
	}
}

// insertPending keeps the per-origin buffer sorted by origin seq, dropping
// duplicates.
func insertPending(queue []wire.OpCommit, msg wire.OpCommit) []wire.OpCommit {
	i := sort.Search(len(queue), func(i int) bool {
		return queue[i].OriginSeq >= msg.OriginSeq
	})
	if i < len(queue) && queue[i].OriginSeq == msg.OriginSeq {
		return queue
	}
	queue = append(queue, wire.OpCommit{})
	copy(queue[i+1:], queue[i:])
	queue[i] = msg
	return queue
}

// HandleHeartbeat compares vectors and starts anti-entropy for any origin
// the peer is ahead on.
func (m *Manager) HandleHeartbeat(msg wire.PeerHeartbeat) {
	m.mu.Lock()
	behind := false
	for node, seq := range msg.Vector {
		if node == m.nodeID {
			continue
		}
		if seq > m.vector[node] {
			behind = true
			break
		}
	}
	m.mu.Unlock()

	if behind {
		m.requestRepair(msg.NodeID, "")
	}
}

// requestRepair asks a peer for everything past our vector, retrying with
// exponential backoff. Replication gaps are handled internally; they are
// never surfaced unless unrecoverable.
func (m *Manager) requestRepair(peer, origin string) {
	m.mu.Lock()
	if m.repairing[peer] {
		m.mu.Unlock()
		return
	}
	m.repairing[peer] = true
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.repairing, peer)
			m.mu.Unlock()
		}()

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 200 * time.Millisecond
		b.MaxElapsedTime = 30 * time.Second

		err := backoff.Retry(func() error {
			return m.tr.SendTo(peer, wire.AntiEntropyRequest{
				NodeID: m.nodeID,
				From:   m.Vector(),
			})
		}, b)
		if err != nil {
			log.Printf("[replica] anti-entropy toward %s failed (origin %s): %v", peer, origin, err)
		}
	}()
}

// HandleAntiEntropyRequest answers with every op we hold past the
// requester's vector, ordered by (origin node, origin seq).
func (m *Manager) HandleAntiEntropyRequest(msg wire.AntiEntropyRequest) {
	ops, err := m.opsAfter(msg.From)
	if err != nil {
		log.Printf("[replica] anti-entropy scan failed: %v", err)
		return
	}
	if err := m.tr.SendTo(msg.NodeID, wire.AntiEntropyResponse{Ops: ops}); err != nil {
		log.Printf("[replica] anti-entropy response to %s failed: %v", msg.NodeID, err)
	}
}

// HandleAntiEntropyResponse ingests repair ops in their total order.
// Unlike live delivery, a repair stream is gap-tolerant: the responder sent
// everything it has, so an origin sequence it skipped (a commit that failed
// at the origin before broadcast) will never exist, and waiting for it
// would wedge the vector forever.
func (m *Manager) HandleAntiEntropyResponse(from string, msg wire.AntiEntropyResponse) {
	for _, oc := range msg.Ops {
		m.mu.Lock()
		dup := oc.OriginSeq <= m.vector[oc.OriginNode]
		m.mu.Unlock()
		if dup {
			continue
		}
		m.integrate(oc)
		m.drainPending(oc.OriginNode)
	}
}

// opsAfter scans the cold log for ops beyond the given vector.
func (m *Manager) opsAfter(from map[string]uint64) ([]wire.OpCommit, error) {
	metas, err := m.st.ListMeta()
	if err != nil {
		return nil, err
	}

	var out []wire.OpCommit
	for _, meta := range metas {
		if meta.CurrentVersion == 0 {
			continue
		}
		records, err := m.st.OpRange(meta.DocID, 1, meta.CurrentVersion)
		if err != nil {
			return nil, err
		}
		for _, record := range records {
			op, err := wire.DecodeOp(record)
			if err != nil {
				return nil, err
			}
			if op.Origin.Seq <= from[op.Origin.Node] {
				continue
			}
			out = append(out, wire.OpCommit{
				Path:       meta.Path,
				OriginNode: op.Origin.Node,
				OriginSeq:  op.Origin.Seq,
				Op:         op,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].OriginNode != out[j].OriginNode {
			return out[i].OriginNode < out[j].OriginNode
		}
		return out[i].OriginSeq < out[j].OriginSeq
	})
	return out, nil
}

// Heartbeat emits a causal-vector heartbeat to all peers. The server calls
// it on its peer heartbeat tick.
func (m *Manager) Heartbeat() {
	m.tr.Broadcast(wire.PeerHeartbeat{NodeID: m.nodeID, Vector: m.Vector()})
}
