package server

import (
	"log"
	"net"
	"time"

	"github.com/hpungsan/weave/internal/config"
	"github.com/hpungsan/weave/internal/engine"
	"github.com/hpungsan/weave/internal/errors"
	"github.com/hpungsan/weave/internal/replica"
	"github.com/hpungsan/weave/internal/session"
	"github.com/hpungsan/weave/internal/wire"
)

// Server accepts client and peer connections and dispatches frames into the
// engine, the session manager, and the replication manager. Each connection
// gets one reader goroutine; client connections get a writer goroutine
// draining the session's outbound queue.
type Server struct {
	cfg      *config.Config
	eng      *engine.Engine
	sessions *session.Manager
	repl     *replica.Manager
	peers    *PeerSet

	ln   net.Listener
	done chan struct{}
}

// New assembles a server; NewPeerSet returns the transport to hand the
// replication manager before calling this.
func New(cfg *config.Config, eng *engine.Engine, sessions *session.Manager, repl *replica.Manager, peers *PeerSet) *Server {
	return &Server{
		cfg:      cfg,
		eng:      eng,
		sessions: sessions,
		repl:     repl,
		peers:    peers,
		done:     make(chan struct{}),
	}
}

// NewPeerSet returns the transport implementation shared between the
// server and the replication manager.
func NewPeerSet() *PeerSet {
	return &PeerSet{}
}

// ListenAndServe binds the listen address and serves until Close.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.ln = ln
	log.Printf("[server] node %s listening on %s", s.cfg.NodeID, s.cfg.ListenAddr)

	for _, addr := range s.cfg.PeerAddrs {
		link := &peerLink{addr: addr}
		s.peers.add(link)
	}
	go s.peerLoop()
	go s.sessions.Run(s.done)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				return err
			}
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting and shuts the server down.
func (s *Server) Close() {
	close(s.done)
	if s.ln != nil {
		s.ln.Close()
	}
	s.sessions.Close()
	s.repl.Close()
}

// peerLoop dials peers and emits causal-vector heartbeats.
func (s *Server) peerLoop() {
	interval := time.Duration(s.cfg.HeartbeatIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.dialPeers()
	s.repl.Heartbeat()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.dialPeers()
			s.repl.Heartbeat()
		}
	}
}

// dialPeers reconnects dead outbound links and spawns their readers.
func (s *Server) dialPeers() {
	for _, link := range s.peers.snapshot() {
		if link.addr == "" {
			continue
		}
		link.mu.Lock()
		dead := link.conn == nil
		link.mu.Unlock()
		if !dead {
			continue
		}
		conn, err := net.DialTimeout("tcp", link.addr, 5*time.Second)
		if err != nil {
			continue
		}
		link.mu.Lock()
		link.conn = conn
		link.mu.Unlock()
		go s.peerReadLoop(link, conn)
	}
}

// handleConn reads the first frame to tell clients from peers.
func (s *Server) handleConn(conn net.Conn) {
	tag, payload, err := wire.ReadFrame(conn)
	if err != nil {
		conn.Close()
		return
	}
	msg, err := wire.Decode(tag, payload)
	if err != nil {
		conn.Close()
		return
	}

	switch first := msg.(type) {
	case wire.Hello:
		s.serveClient(conn, first)
	case wire.PeerHeartbeat, wire.OpCommit, wire.AntiEntropyRequest, wire.AntiEntropyResponse:
		link := &peerLink{conn: conn}
		s.peers.add(link)
		s.dispatchPeer(link, msg)
		s.peerReadLoop(link, conn)
	default:
		// Anything else before Hello is a protocol violation.
		conn.Close()
	}
}

// serveClient runs a client session until disconnect.
func (s *Server) serveClient(conn net.Conn, hello wire.Hello) {
	defer conn.Close()

	if hello.ProtocolVersion != wire.ProtocolVersion {
		wire.WriteFrame(conn, wire.TagReject, wire.Encode(wire.Reject{
			Code:   string(errors.ErrProtocolViolation),
			Reason: "protocol version mismatch",
		}))
		return
	}

	sess, err := s.sessions.Connect(hello.ClientID, false)
	if err != nil {
		wire.WriteFrame(conn, wire.TagReject, wire.Encode(wire.Reject{
			Code:   string(errors.ErrBadPrecondition),
			Reason: err.Error(),
		}))
		return
	}
	defer s.sessions.Drop(sess.ID, "disconnect")

	welcome := wire.Welcome{SessionID: sess.ID, NodeID: s.cfg.NodeID, Files: s.eng.Files()}
	if err := wire.WriteFrame(conn, wire.TagWelcome, wire.Encode(welcome)); err != nil {
		return
	}

	go s.writeLoop(conn, sess)

	log.Printf("[server] session %s connected (client %s)", sess.ID, hello.ClientID)

	for {
		tag, payload, err := wire.ReadFrame(conn)
		if err != nil {
			if err != wire.ErrDisconnected {
				log.Printf("[server] session %s read error: %v", sess.ID, err)
			}
			return
		}
		msg, err := wire.Decode(tag, payload)
		if err != nil {
			// Unknown tag or malformed payload closes the connection.
			log.Printf("[server] session %s protocol violation: %v", sess.ID, err)
			return
		}
		if !s.dispatchClient(sess, msg) {
			return
		}
	}
}

// writeLoop drains the session's outbound queue onto the connection.
func (s *Server) writeLoop(conn net.Conn, sess *session.Session) {
	for {
		select {
		case <-sess.Done:
			conn.Close()
			return
		case msg := <-sess.Outbound:
			if err := wire.WriteFrame(conn, msg.Tag(), wire.Encode(msg)); err != nil {
				s.sessions.Drop(sess.ID, "write error")
				conn.Close()
				return
			}
		}
	}
}

// dispatchClient handles one decoded client frame. Returns false to close
// the connection.
func (s *Server) dispatchClient(sess *session.Session, msg wire.Message) bool {
	if closed, reason := sess.Closed(); closed {
		s.send(sess, wire.Reject{Code: string(errors.ErrSessionClosed), Reason: reason})
		return false
	}

	switch m := msg.(type) {
	case wire.Heartbeat:
		s.sessions.Heartbeat(sess.ID)
		s.send(sess, m)

	case wire.Subscribe:
		if err := s.sessions.Subscribe(sess.ID, m.Path, m.BaseVersion); err != nil {
			s.reject(sess, m.RequestID, err)
		}

	case wire.SubmitOp:
		op := m.Op
		op.Author = sess.ClientID
		commit, err := s.eng.Submit(m.Path, m.BaseVersion, op, false)
		if err != nil {
			s.reject(sess, m.RequestID, err)
			return true
		}
		// Subscribers see the commit through fan-out; a noop rebase or
		// an unsubscribed submitter gets a direct acknowledgement.
		if commit.Op.IsNoop() || !sess.Subscribed(m.Path) {
			s.send(sess, wire.Committed{Path: commit.Path, Seq: commit.Seq, Op: commit.Op})
		}

	case wire.FileSystemOp:
		if err := s.applyFS(m, sess.ClientID); err != nil {
			s.reject(sess, m.RequestID, err)
			return true
		}
		s.broadcastFS(m)
		s.peers.Broadcast(m)

	default:
		// Peer tags on a client connection are a protocol violation.
		s.send(sess, wire.Reject{Code: string(errors.ErrProtocolViolation), Reason: "unexpected frame"})
		return false
	}
	return true
}

// applyFS runs a structural op against the engine.
func (s *Server) applyFS(m wire.FileSystemOp, author string) error {
	switch m.Action {
	case wire.FSCreate:
		return s.eng.CreateFile(m.Path, m.IsDir, m.InitialContent, author)
	case wire.FSDelete:
		return s.eng.DeleteFile(m.Path)
	case wire.FSMove:
		return s.eng.MoveFile(m.Path, m.To)
	default:
		return errors.NewProtocolViolation("unknown filesystem action")
	}
}

// broadcastFS forwards a structural op to every live session.
func (s *Server) broadcastFS(m wire.FileSystemOp) {
	for _, sess := range s.sessions.All() {
		s.send(sess, m)
	}
}

// send queues a message on a session without blocking; overflow drops the
// session as a slow consumer.
func (s *Server) send(sess *session.Session, msg wire.Message) {
	if !s.sessions.TrySend(sess, msg) {
		s.sessions.Drop(sess.ID, "slow consumer")
	}
}

// reject reports a failed request back to its session.
func (s *Server) reject(sess *session.Session, requestID uint64, err error) {
	code := string(errors.ErrInternal)
	if wErr, ok := err.(*errors.WeaveError); ok {
		code = string(wErr.Code)
	}
	s.send(sess, wire.Reject{RequestID: requestID, Code: code, Reason: err.Error()})
}

// peerReadLoop reads frames from a peer link until it dies.
func (s *Server) peerReadLoop(link *peerLink, conn net.Conn) {
	for {
		tag, payload, err := wire.ReadFrame(conn)
		if err != nil {
			link.mu.Lock()
			if link.conn == conn {
				link.conn.Close()
				link.conn = nil
			}
			link.mu.Unlock()
			if link.addr == "" {
				// Accepted links are not redialed.
				s.peers.remove(link)
			}
			return
		}
		msg, err := wire.Decode(tag, payload)
		if err != nil {
			log.Printf("[peer] protocol violation from %s: %v", link.addr, err)
			conn.Close()
			return
		}
		s.dispatchPeer(link, msg)
	}
}

// dispatchPeer handles one decoded peer frame.
func (s *Server) dispatchPeer(link *peerLink, msg wire.Message) {
	switch m := msg.(type) {
	case wire.OpCommit:
		s.repl.HandleOpCommit(m.OriginNode, m)
	case wire.PeerHeartbeat:
		s.peers.identify(link, m.NodeID)
		s.repl.HandleHeartbeat(m)
	case wire.AntiEntropyRequest:
		s.peers.identify(link, m.NodeID)
		s.repl.HandleAntiEntropyRequest(m)
	case wire.AntiEntropyResponse:
		s.repl.HandleAntiEntropyResponse(link.node, m)
	case wire.FileSystemOp:
		// Structural ops from peers apply locally and fan out to our
		// clients, but are not forwarded again.
		if err := s.applyFS(m, "peer"); err == nil {
			s.broadcastFS(m)
		}
	}
}
