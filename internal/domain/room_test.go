package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuklatul1021/Waveline/internal/media"
)

type nopConn struct{}

func (nopConn) SendMessage(v any) error { return nil }

func TestRoomHostTracking(t *testing.T) {
	room := NewRoom("room-1", nil)

	host := NewPeer("peer-1", "Alice", true, nopConn{})
	room.AddPeer(host)
	assert.Equal(t, "peer-1", room.HostID)
	assert.Same(t, host, room.Host())

	guest := NewPeer("peer-2", "Bob", false, nopConn{})
	room.AddPeer(guest)
	assert.Equal(t, "peer-1", room.HostID, "adding a guest must not steal the host")
}

func TestRoomNextHostFollowsAdmissionOrder(t *testing.T) {
	room := NewRoom("room-1", nil)
	room.AddPeer(NewPeer("peer-1", "Alice", true, nopConn{}))
	room.AddPeer(NewPeer("peer-2", "Bob", false, nopConn{}))
	room.AddPeer(NewPeer("peer-3", "Carol", false, nopConn{}))

	room.RemovePeer("peer-1")
	next := room.NextHost()
	require.NotNil(t, next)
	assert.Equal(t, "peer-2", next.ID)

	room.RemovePeer("peer-2")
	next = room.NextHost()
	require.NotNil(t, next)
	assert.Equal(t, "peer-3", next.ID)

	room.RemovePeer("peer-3")
	assert.Nil(t, room.NextHost())
}

func TestRoomEmpty(t *testing.T) {
	room := NewRoom("room-1", nil)
	assert.True(t, room.Empty())

	room.Waiting["peer-w"] = &WaitingPeer{ID: "peer-w", Name: "Bob", Conn: nopConn{}}
	assert.False(t, room.Empty())

	delete(room.Waiting, "peer-w")
	room.AddPeer(NewPeer("peer-1", "Alice", true, nopConn{}))
	assert.False(t, room.Empty())

	room.RemovePeer("peer-1")
	assert.True(t, room.Empty())
}

func TestPeerTransportDirectionPreference(t *testing.T) {
	peer := NewPeer("peer-1", "Alice", false, nopConn{})

	// No transports at all.
	assert.Nil(t, peer.Transport(media.DirectionRecv))

	send := &stubTransport{id: "t-send", direction: media.DirectionSend}
	peer.Transports[send.id] = send
	peer.SendTransportID = send.id

	// Missing recv transport falls back to whatever exists.
	assert.Equal(t, send, peer.Transport(media.DirectionRecv))

	recv := &stubTransport{id: "t-recv", direction: media.DirectionRecv}
	peer.Transports[recv.id] = recv
	peer.RecvTransportID = recv.id

	assert.Equal(t, recv, peer.Transport(media.DirectionRecv))
	assert.Equal(t, send, peer.Transport(media.DirectionSend))
}

func TestRoomSummaries(t *testing.T) {
	room := NewRoom("room-1", nil)
	room.AddPeer(NewPeer("peer-1", "Alice", true, nopConn{}))
	room.AddPeer(NewPeer("peer-2", "Bob", false, nopConn{}))
	room.Waiting["peer-w"] = &WaitingPeer{ID: "peer-w", Name: "Carol", Conn: nopConn{}}

	peers := room.PeerSummaries("peer-2")
	require.Len(t, peers, 1)
	assert.Equal(t, "peer-1", peers[0].ID)
	assert.True(t, peers[0].IsHost)

	waiting := room.WaitingSummaries()
	require.Len(t, waiting, 1)
	assert.Equal(t, "peer-w", waiting[0].ID)
}

// stubTransport satisfies media.Transport for transport selection tests.
type stubTransport struct {
	media.Transport
	id        string
	direction media.Direction
}

func (s *stubTransport) ID() string                 { return s.id }
func (s *stubTransport) Direction() media.Direction { return s.direction }
