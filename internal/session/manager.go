package session

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/weave/internal/config"
	"github.com/hpungsan/weave/internal/engine"
	"github.com/hpungsan/weave/internal/errors"
	"github.com/hpungsan/weave/internal/wire"
)

// Session is one connected client (or agent; agents are ordinary sessions
// with the flag set). Owned by the Manager; everything else refers to
// sessions by id only.
type Session struct {
	ID       string
	ClientID string
	Agent    bool

	// Outbound is drained by the connection's writer goroutine. Fan-out
	// never blocks on it; a full queue drops the session instead.
	Outbound chan wire.Message

	// Done is closed when the session is dropped.
	Done chan struct{}

	mu            sync.Mutex
	subscribed    map[string]bool
	lastAck       map[string]uint64
	lastHeartbeat time.Time
	closed        bool
	closeReason   string
}

// Closed reports whether the session has been dropped, and why.
func (s *Session) Closed() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, s.closeReason
}

// Subscribed reports whether the session receives commits for path.
func (s *Session) Subscribed(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed[path]
}

// Manager owns per-client state and fans committed operations out to
// subscribers. It subscribes to the engine's commit bus; the serializer
// never calls into it directly.
type Manager struct {
	cfg    *config.Config
	eng    *engine.Engine
	cancel func()

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns a manager wired to the engine's commit bus.
func NewManager(cfg *config.Config, eng *engine.Engine) *Manager {
	m := &Manager{
		cfg:      cfg,
		eng:      eng,
		sessions: make(map[string]*Session),
	}
	m.cancel = eng.Bus().Subscribe(m.fanOut)
	return m
}

// Close detaches the manager from the bus and drops every session.
func (m *Manager) Close() {
	m.cancel()
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		m.Drop(s.ID, "server shutdown")
	}
}

// Connect registers a new session. Fails when the node's connection cap is
// reached.
func (m *Manager) Connect(clientID string, agent bool) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.cfg.MaxConnections {
		return nil, errors.NewBadPrecondition("connection limit reached")
	}

	s := &Session{
		ID:            ulid.MustNew(ulid.Now(), rand.Reader).String(),
		ClientID:      clientID,
		Agent:         agent,
		Outbound:      make(chan wire.Message, m.cfg.MaxOutboundQueue),
		Done:          make(chan struct{}),
		subscribed:    make(map[string]bool),
		lastAck:       make(map[string]uint64),
		lastHeartbeat: time.Now(),
	}
	m.sessions[s.ID] = s
	return s, nil
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, errors.NewSessionClosed(id)
	}
	return s, nil
}

// All returns every live session.
func (m *Manager) All() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// TrySend queues a message on a session without blocking. Returns false
// when the queue is full or the session is closed.
func (m *Manager) TrySend(s *Session, msg wire.Message) bool {
	return m.trySend(s, msg)
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Drop removes a session and closes its Done channel, which stops its
// writer; the Outbound channel itself is left open. Submissions already past rebase complete normally; everything later
// sees SESSION_CLOSED.
func (m *Manager) Drop(id, reason string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.closeReason = reason
		close(s.Done)
	}
	s.mu.Unlock()
}

// Heartbeat records client liveness.
func (m *Manager) Heartbeat(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.lastHeartbeat = time.Now()
	s.mu.Unlock()
}

// Subscribe attaches a session to a path. A nonzero base version at or
// below the current version gets the committed ops after it as catch-up
// (nothing when it is current), or the full snapshot if that suffix cannot
// be read. A base of 0, or one ahead of the document, gets the full
// snapshot.
func (m *Manager) Subscribe(id, path string, baseVersion uint64) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}

	version, content, err := m.eng.Snapshot(path)
	if err != nil {
		return err
	}

	var backlog []wire.Message
	if baseVersion > 0 && baseVersion <= version {
		commits, err := m.eng.Since(path, baseVersion)
		if err != nil {
			// The suffix is gone or unreadable; fall back to the
			// full snapshot.
			backlog = []wire.Message{wire.Snapshot{Path: path, Version: version, Content: content}}
		} else {
			for _, c := range commits {
				backlog = append(backlog, wire.Committed{Path: c.Path, Seq: c.Seq, Op: c.Op})
			}
		}
	} else {
		backlog = []wire.Message{wire.Snapshot{Path: path, Version: version, Content: content}}
	}

	// Mark subscribed before queueing so no commit between the snapshot
	// read and now is lost; duplicates are resolved by seq on the client.
	s.mu.Lock()
	s.subscribed[path] = true
	s.lastAck[path] = baseVersion
	s.mu.Unlock()

	for _, msg := range backlog {
		if !m.trySend(s, msg) {
			m.Drop(s.ID, "slow consumer")
			return errors.NewSlowConsumer(s.ID)
		}
	}
	return nil
}

// Unsubscribe detaches a session from a path.
func (m *Manager) Unsubscribe(id, path string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.subscribed, path)
	s.mu.Unlock()
}

// fanOut delivers one commit to every subscribed session, in commit order.
// A slow consumer must not affect the rest of the system: any session whose
// queue is full is dropped on the spot.
func (m *Manager) fanOut(c engine.Commit) {
	m.mu.Lock()
	targets := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		targets = append(targets, s)
	}
	m.mu.Unlock()

	msg := wire.Committed{Path: c.Path, Seq: c.Seq, Op: c.Op}
	for _, s := range targets {
		if !s.Subscribed(c.Path) {
			continue
		}
		if !m.trySend(s, msg) {
			m.Drop(s.ID, "slow consumer")
		}
	}
}

// trySend queues a message without blocking. Returns false when the queue
// is full or the session is closed.
func (m *Manager) trySend(s *Session, msg wire.Message) bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return false
	}
	select {
	case s.Outbound <- msg:
		return true
	default:
		return false
	}
}

// Run reaps idle sessions until done is closed. The reap period is the
// heartbeat interval; a session is dropped after the configured timeout
// (3x the heartbeat interval by default).
func (m *Manager) Run(done <-chan struct{}) {
	interval := time.Duration(m.cfg.HeartbeatIntervalMs) * time.Millisecond
	timeout := time.Duration(m.cfg.SessionTimeoutMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.reap(timeout)
		}
	}
}

func (m *Manager) reap(timeout time.Duration) {
	cutoff := time.Now().Add(-timeout)

	m.mu.Lock()
	var idle []string
	for id, s := range m.sessions {
		s.mu.Lock()
		if s.lastHeartbeat.Before(cutoff) {
			idle = append(idle, id)
		}
		s.mu.Unlock()
	}
	m.mu.Unlock()

	for _, id := range idle {
		m.Drop(id, "heartbeat timeout")
	}
}
