package server

import (
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/hpungsan/weave/internal/wire"
)

// peerLink is one node-to-node connection, outbound-dialed or accepted.
// Writes are serialized per link.
type peerLink struct {
	mu   sync.Mutex
	conn net.Conn
	addr string // dial address; empty for accepted links
	node string // learned from the peer's first identifying message
}

func (p *peerLink) send(msg wire.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return fmt.Errorf("peer %s not connected", p.addr)
	}
	if err := wire.WriteFrame(p.conn, msg.Tag(), wire.Encode(msg)); err != nil {
		p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}

// PeerSet tracks peer links and implements replica.Transport.
type PeerSet struct {
	mu    sync.Mutex
	links []*peerLink
}

// Broadcast sends to every connected peer, best effort. A slow or dead
// peer recovers by anti-entropy, so send failures are only logged.
func (ps *PeerSet) Broadcast(msg wire.Message) {
	ps.mu.Lock()
	links := make([]*peerLink, len(ps.links))
	copy(links, ps.links)
	ps.mu.Unlock()

	for _, link := range links {
		if err := link.send(msg); err != nil {
			log.Printf("[peer] send to %s failed: %v", link.addr, err)
		}
	}
}

// SendTo sends to one peer by node id.
func (ps *PeerSet) SendTo(node string, msg wire.Message) error {
	ps.mu.Lock()
	var target *peerLink
	for _, link := range ps.links {
		if link.node == node {
			target = link
			break
		}
	}
	ps.mu.Unlock()

	if target == nil {
		return fmt.Errorf("no link to node %s", node)
	}
	return target.send(msg)
}

// add registers a link.
func (ps *PeerSet) add(link *peerLink) {
	ps.mu.Lock()
	ps.links = append(ps.links, link)
	ps.mu.Unlock()
}

// identify records the node id for a link once learned.
func (ps *PeerSet) identify(link *peerLink, node string) {
	ps.mu.Lock()
	link.node = node
	ps.mu.Unlock()
}

// remove drops a link.
func (ps *PeerSet) remove(link *peerLink) {
	ps.mu.Lock()
	for i, l := range ps.links {
		if l == link {
			ps.links = append(ps.links[:i], ps.links[i+1:]...)
			break
		}
	}
	ps.mu.Unlock()
}

// snapshot returns the current links.
func (ps *PeerSet) snapshot() []*peerLink {
	ps.mu.Lock()
	links := make([]*peerLink, len(ps.links))
	copy(links, ps.links)
	ps.mu.Unlock()
	return links
}
