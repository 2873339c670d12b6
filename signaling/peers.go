package signaling

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// PeerInfo is a snapshot of a connected peer.
type PeerInfo struct {
	ID         uint64
	ConnID     uuid.UUID
	Username   string
	RemoteAddr string
}

type peer struct {
	info PeerInfo
	out  *outbox
	conn *websocket.Conn
}

// PeerTable tracks connected peers keyed by remote address. Ids come from a
// counter that never goes backwards, so an id is never reused after a peer
// leaves.
type PeerTable struct {
	mu     sync.Mutex
	peers  map[string]*peer
	nextID uint64
	closed bool
}

// NewPeerTable returns an empty table.
func NewPeerTable() *PeerTable {
	return &PeerTable{peers: make(map[string]*peer)}
}

// allocateID reserves the next peer id.
func (t *PeerTable) allocateID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	return id
}

// insert adds p. It returns false once the table has been drained.
func (t *PeerTable) insert(p *peer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.peers[p.info.RemoteAddr] = p
	return true
}

func (t *PeerTable) remove(remoteAddr string) *peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[remoteAddr]
	if !ok {
		return nil
	}
	delete(t.peers, remoteAddr)
	return p
}

// Broadcast queues msg for every peer except from and returns how many
// peers accepted it. Peers whose outbox already closed are skipped.
func (t *PeerTable) Broadcast(from, msg string) int {
	t.mu.Lock()
	recipients := make([]*outbox, 0, len(t.peers))
	for addr, p := range t.peers {
		if addr != from {
			recipients = append(recipients, p.out)
		}
	}
	t.mu.Unlock()

	delivered := 0
	for _, out := range recipients {
		if out.push(msg) {
			delivered++
		}
	}
	return delivered
}

// Len returns the number of connected peers.
func (t *PeerTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

// Username returns the username registered for remoteAddr.
func (t *PeerTable) Username(remoteAddr string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[remoteAddr]
	if !ok {
		return "", false
	}
	return p.info.Username, true
}

// Snapshot returns the connected peers ordered by id.
func (t *PeerTable) Snapshot() []PeerInfo {
	t.mu.Lock()
	out := make([]PeerInfo, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p.info)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// drain removes every peer, refuses further inserts and returns the
// removed peers.
func (t *PeerTable) drain() []*peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	out := make([]*peer, 0, len(t.peers))
	for addr, p := range t.peers {
		out = append(out, p)
		delete(t.peers, addr)
	}
	return out
}
