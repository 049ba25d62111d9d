package domain

import (
	"sync"

	"github.com/shuklatul1021/Waveline/internal/media"
)

// Conn is the outbound side of a signaling connection. The websocket hub
// client implements it; tests substitute recording fakes.
type Conn interface {
	SendMessage(v any) error
}

// WaitingPeer is a connection parked in the approval queue. It holds no
// media state until the host admits it.
type WaitingPeer struct {
	ID   string
	Name string
	Conn Conn
}

// Peer is an admitted participant with its negotiated media state.
type Peer struct {
	ID     string
	Name   string
	IsHost bool
	Conn   Conn

	Transports map[string]media.Transport
	Producers  map[string]media.Producer
	Consumers  map[string]media.Consumer

	// SendTransportID and RecvTransportID remember the most recently
	// created transport per direction so produce and consume can pick
	// the right one without the client naming it.
	SendTransportID string
	RecvTransportID string
}

// NewPeer promotes a connection into an admitted peer.
func NewPeer(id, name string, isHost bool, conn Conn) *Peer {
	return &Peer{
		ID:         id,
		Name:       name,
		IsHost:     isHost,
		Conn:       conn,
		Transports: make(map[string]media.Transport),
		Producers:  make(map[string]media.Producer),
		Consumers:  make(map[string]media.Consumer),
	}
}

// Transport returns the peer's transport for the given direction, falling
// back to any transport when none matches.
func (p *Peer) Transport(direction media.Direction) media.Transport {
	var want string
	switch direction {
	case media.DirectionSend:
		want = p.SendTransportID
	case media.DirectionRecv:
		want = p.RecvTransportID
	}
	if t, ok := p.Transports[want]; ok {
		return t
	}
	for _, t := range p.Transports {
		return t
	}
	return nil
}

// Room is one meeting. Mu guards every mutable field; callers of the helper
// methods below must hold it.
type Room struct {
	ID     string
	Router media.Router

	Mu      sync.Mutex
	Peers   map[string]*Peer
	Waiting map[string]*WaitingPeer
	HostID  string

	// Removed is set by the registry when the room is destroyed. A join
	// that raced the destruction must not install itself here.
	Removed bool

	// Order records admission order for host failover.
	Order []string
}

func NewRoom(id string, router media.Router) *Room {
	return &Room{
		ID:      id,
		Router:  router,
		Peers:   make(map[string]*Peer),
		Waiting: make(map[string]*WaitingPeer),
	}
}

// AddPeer registers an admitted peer and records its admission order.
func (r *Room) AddPeer(p *Peer) {
	r.Peers[p.ID] = p
	r.Order = append(r.Order, p.ID)
	if p.IsHost {
		r.HostID = p.ID
	}
}

// RemovePeer drops the peer from the membership and the admission order.
func (r *Room) RemovePeer(id string) {
	delete(r.Peers, id)
	for i, pid := range r.Order {
		if pid == id {
			r.Order = append(r.Order[:i], r.Order[i+1:]...)
			break
		}
	}
}

// Host returns the current host peer, or nil when the room has none.
func (r *Room) Host() *Peer {
	if r.HostID == "" {
		return nil
	}
	return r.Peers[r.HostID]
}

// NextHost picks the earliest-admitted remaining peer as the new host.
func (r *Room) NextHost() *Peer {
	for _, id := range r.Order {
		if p, ok := r.Peers[id]; ok {
			return p
		}
	}
	return nil
}

// Empty reports whether nobody is left, neither admitted nor waiting.
func (r *Room) Empty() bool {
	return len(r.Peers) == 0 && len(r.Waiting) == 0
}

// FindProducer locates a producer and its owning peer by producer ID.
func (r *Room) FindProducer(producerID string) (*Peer, media.Producer) {
	for _, p := range r.Peers {
		if prod, ok := p.Producers[producerID]; ok {
			return p, prod
		}
	}
	return nil, nil
}

// PeerSummaries lists the admitted peers, optionally excluding one ID.
func (r *Room) PeerSummaries(except string) []PeerSummary {
	out := make([]PeerSummary, 0, len(r.Peers))
	for _, p := range r.Peers {
		if p.ID == except {
			continue
		}
		out = append(out, PeerSummary{ID: p.ID, Name: p.Name, IsHost: p.IsHost})
	}
	return out
}

// WaitingSummaries lists the peers still parked in the approval queue.
func (r *Room) WaitingSummaries() []WaitingSummary {
	out := make([]WaitingSummary, 0, len(r.Waiting))
	for _, w := range r.Waiting {
		out = append(out, WaitingSummary{ID: w.ID, Name: w.Name})
	}
	return out
}

// ProducerSummaries lists every live producer except those owned by the
// given peer, so a newly admitted peer knows what it can consume.
func (r *Room) ProducerSummaries(except string) []ProducerSummary {
	var out []ProducerSummary
	for _, p := range r.Peers {
		if p.ID == except {
			continue
		}
		for _, prod := range p.Producers {
			out = append(out, ProducerSummary{
				PeerID:     p.ID,
				ProducerID: prod.ID(),
				Kind:       string(prod.Kind()),
			})
		}
	}
	return out
}
