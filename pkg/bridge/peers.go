package bridge

import (
	"net/netip"
	"sort"
	"sync"
	"time"
)

// Peer is a registered datagram endpoint.
type Peer struct {
	ID       string
	Addr     netip.AddrPort
	LastSeen time.Time
}

// peerSet tracks registered peers by id and by address.
type peerSet struct {
	mu     sync.RWMutex
	byID   map[string]*Peer
	byAddr map[netip.AddrPort]string
}

func newPeerSet() *peerSet {
	return &peerSet{
		byID:   map[string]*Peer{},
		byAddr: map[netip.AddrPort]string{},
	}
}

// add registers or re-registers a peer, replacing any previous address.
func (p *peerSet) add(id string, addr netip.AddrPort, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.byID[id]; ok {
		delete(p.byAddr, prev.Addr)
	}
	if prevID, ok := p.byAddr[addr]; ok && prevID != id {
		delete(p.byID, prevID)
	}
	p.byID[id] = &Peer{ID: id, Addr: addr, LastSeen: now}
	p.byAddr[addr] = id
}

// touch refreshes the peer at addr and returns it, or false if no
// registered peer uses addr.
func (p *peerSet) touch(addr netip.AddrPort, now time.Time) (Peer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.byAddr[addr]
	if !ok {
		return Peer{}, false
	}
	peer := p.byID[id]
	peer.LastSeen = now
	return *peer, true
}

func (p *peerSet) get(id string) (Peer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	peer, ok := p.byID[id]
	if !ok {
		return Peer{}, false
	}
	return *peer, true
}

func (p *peerSet) len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byID)
}

// list returns the peers sorted by id.
func (p *peerSet) list() []Peer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Peer, 0, len(p.byID))
	for _, peer := range p.byID {
		out = append(out, *peer)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// evict removes peers not seen since cutoff and returns them.
func (p *peerSet) evict(cutoff time.Time) []Peer {
	p.mu.Lock()
	defer p.mu.Unlock()

	var evicted []Peer
	for id, peer := range p.byID {
		if peer.LastSeen.Before(cutoff) {
			evicted = append(evicted, *peer)
			delete(p.byID, id)
			delete(p.byAddr, peer.Addr)
		}
	}
	return evicted
}
