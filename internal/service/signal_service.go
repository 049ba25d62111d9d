package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shuklatul1021/Waveline/internal/domain"
	"github.com/shuklatul1021/Waveline/internal/media"
	pkglog "github.com/shuklatul1021/Waveline/pkg/log"
)

type signalService struct {
	registry *Registry
}

// NewSignalService creates the signaling service on top of a room registry.
func NewSignalService(registry *Registry) SignalService {
	return &signalService{registry: registry}
}

// outbound is a message addressed to one connection. Handlers collect them
// under the room lock and flush after releasing it, so a slow or dead
// connection never stalls room state.
type outbound struct {
	conn domain.Conn
	msg  *domain.Message
}

func flush(sends []outbound) {
	for _, s := range sends {
		if s.conn == nil {
			continue
		}
		if err := s.conn.SendMessage(s.msg); err != nil {
			pkglog.L().Warn().Err(err).Str("type", s.msg.Type).Msg("send failed")
		}
	}
}

func (s *signalService) JoinRoom(ctx context.Context, conn domain.Conn, peerID string, data domain.JoinRoomData) error {
	if data.RoomID == "" {
		return errors.New("roomId is required")
	}

	var (
		room    *domain.Room
		created bool
	)
	for {
		r, c, err := s.registry.GetOrCreate(ctx, data.RoomID)
		if err != nil {
			return err
		}
		r.Mu.Lock()
		if r.Removed {
			// Lost a race against the last peer's departure. The registry
			// no longer knows this room, so take a fresh one.
			r.Mu.Unlock()
			continue
		}
		room, created = r, c
		break
	}

	l := pkglog.L().With().
		Str(pkglog.FieldRoomID, room.ID).
		Str(pkglog.FieldPeerID, peerID).
		Str(pkglog.FieldPeerName, data.Name).
		Logger()

	var sends []outbound

	if peer, ok := room.Peers[peerID]; ok {
		// Duplicate joinRoom from an admitted peer. Refresh the snapshot
		// instead of parking the peer in the waiting room under an ID the
		// membership map already holds.
		peer.Conn = conn
		sends = append(sends, outbound{conn, s.roomJoinedMessage(room, peer)})
		l.Info().Msg("peer rejoined")
	} else if data.IsHost && created {
		// A declared host opening a fresh room is admitted immediately.
		peer := domain.NewPeer(peerID, data.Name, true, conn)
		room.AddPeer(peer)
		sends = append(sends, outbound{conn, s.roomJoinedMessage(room, peer)})
		l.Info().Msg("peer joined as host")
	} else if len(room.Peers) == 0 {
		// Anyone entering a room with no admitted peers becomes its host,
		// host flag or not.
		peer := domain.NewPeer(peerID, data.Name, true, conn)
		room.AddPeer(peer)
		sends = append(sends, outbound{conn, s.roomJoinedMessage(room, peer)})
		l.Info().Msg("peer joined as host of empty room")
	} else {
		room.Waiting[peerID] = &domain.WaitingPeer{ID: peerID, Name: data.Name, Conn: conn}
		sends = append(sends, outbound{conn, domain.NewMessage(domain.MsgTypeWaitingForApproval, domain.WaitingForApprovalData{
			RoomID: room.ID,
			PeerID: peerID,
		})})
		if host := room.Host(); host != nil {
			sends = append(sends, outbound{host.Conn, domain.NewMessage(domain.MsgTypePermissionRequest, domain.PermissionRequestData{
				PeerID: peerID,
				Name:   data.Name,
			})})
		}
		l.Info().Msg("peer waiting for approval")
	}

	room.Mu.Unlock()
	flush(sends)
	return nil
}

func (s *signalService) ApproveJoin(ctx context.Context, peerID string, data domain.AdmissionData) error {
	room, ok := s.registry.Get(data.RoomID)
	if !ok {
		return domain.ErrRoomNotFound
	}

	var sends []outbound
	room.Mu.Lock()

	if room.HostID != peerID {
		room.Mu.Unlock()
		return domain.ErrUnauthorized
	}

	w, ok := room.Waiting[data.RequestPeerID]
	if !ok {
		// Already admitted, rejected or gone. Nothing to do.
		room.Mu.Unlock()
		return nil
	}
	delete(room.Waiting, data.RequestPeerID)

	peer := domain.NewPeer(w.ID, w.Name, false, w.Conn)
	room.AddPeer(peer)

	sends = append(sends, outbound{peer.Conn, s.roomJoinedMessage(room, peer)})
	newPeer := domain.NewMessage(domain.MsgTypeNewPeer, domain.NewPeerData{
		PeerID: peer.ID,
		Name:   peer.Name,
		IsHost: false,
	})
	for _, p := range room.Peers {
		if p.ID != peer.ID {
			sends = append(sends, outbound{p.Conn, newPeer})
		}
	}

	room.Mu.Unlock()
	flush(sends)

	pkglog.L().Info().
		Str(pkglog.FieldRoomID, room.ID).
		Str(pkglog.FieldPeerID, data.RequestPeerID).
		Msg("peer admitted")
	return nil
}

func (s *signalService) RejectJoin(ctx context.Context, peerID string, data domain.AdmissionData) error {
	room, ok := s.registry.Get(data.RoomID)
	if !ok {
		return domain.ErrRoomNotFound
	}

	var sends []outbound
	room.Mu.Lock()

	if room.HostID != peerID {
		room.Mu.Unlock()
		return domain.ErrUnauthorized
	}

	w, ok := room.Waiting[data.RequestPeerID]
	if !ok {
		room.Mu.Unlock()
		return nil
	}
	delete(room.Waiting, data.RequestPeerID)
	sends = append(sends, outbound{w.Conn, domain.NewMessage(domain.MsgTypeJoinRejected, domain.JoinRejectedData{RoomID: room.ID})})

	room.Mu.Unlock()
	flush(sends)

	pkglog.L().Info().
		Str(pkglog.FieldRoomID, room.ID).
		Str(pkglog.FieldPeerID, data.RequestPeerID).
		Msg("peer rejected")

	s.registry.RemoveIfEmpty(room.ID)
	return nil
}

// roomJoinedMessage builds the admission snapshot for one peer. Callers
// hold the room lock. Waiting peers are only disclosed to the host.
func (s *signalService) roomJoinedMessage(room *domain.Room, peer *domain.Peer) *domain.Message {
	var waiting []domain.WaitingSummary
	if peer.IsHost {
		waiting = room.WaitingSummaries()
	}
	return domain.NewMessage(domain.MsgTypeRoomJoined, domain.RoomJoinedData{
		RoomID:            room.ID,
		PeerID:            peer.ID,
		IsHost:            peer.IsHost,
		RTPCapabilities:   room.Router.RTPCapabilities(),
		ExistingProducers: room.ProducerSummaries(peer.ID),
		Peers:             room.PeerSummaries(peer.ID),
		WaitingPeers:      waiting,
	})
}

func (s *signalService) CreateTransport(ctx context.Context, peerID string, data domain.CreateTransportData) error {
	direction, ok := media.ParseDirection(data.Direction)
	if !ok {
		return fmt.Errorf("unknown transport direction %q", data.Direction)
	}

	room, ok := s.registry.Get(data.RoomID)
	if !ok {
		return domain.ErrRoomNotFound
	}

	room.Mu.Lock()
	peer, ok := room.Peers[peerID]
	room.Mu.Unlock()
	if !ok {
		return domain.ErrPeerNotFound
	}

	// Gathering can block, so the router call runs outside the room lock.
	transport, err := room.Router.CreateTransport(ctx, direction)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrEngineAllocation, err)
	}

	room.Mu.Lock()
	if _, still := room.Peers[peerID]; !still {
		room.Mu.Unlock()
		transport.Close()
		return domain.ErrPeerNotFound
	}
	peer.Transports[transport.ID()] = transport
	switch direction {
	case media.DirectionSend:
		peer.SendTransportID = transport.ID()
	case media.DirectionRecv:
		peer.RecvTransportID = transport.ID()
	}
	conn := peer.Conn
	room.Mu.Unlock()

	info := transport.Info()
	flush([]outbound{{conn, domain.NewMessage(domain.MsgTypeTransportCreated, domain.TransportCreatedData{
		ID:             info.ID,
		Direction:      string(direction),
		ICEParameters:  info.ICEParameters,
		ICECandidates:  info.ICECandidates,
		DTLSParameters: info.DTLSParameters,
	})}})

	pkglog.L().Info().
		Str(pkglog.FieldRoomID, room.ID).
		Str(pkglog.FieldPeerID, peerID).
		Str(pkglog.FieldTransport, info.ID).
		Str("direction", string(direction)).
		Msg("transport created")
	return nil
}

func (s *signalService) ConnectTransport(ctx context.Context, peerID string, data domain.ConnectTransportData) error {
	room, ok := s.registry.Get(data.RoomID)
	if !ok {
		return domain.ErrRoomNotFound
	}

	room.Mu.Lock()
	peer, ok := room.Peers[peerID]
	if !ok {
		room.Mu.Unlock()
		return domain.ErrPeerNotFound
	}
	transport, ok := peer.Transports[data.TransportID]
	conn := peer.Conn
	room.Mu.Unlock()
	if !ok {
		return domain.ErrTransportNotFound
	}

	// The DTLS handshake blocks until the remote side completes it.
	if err := transport.Connect(ctx, data.DTLSParameters); err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}

	flush([]outbound{{conn, domain.NewMessage(domain.MsgTypeTransportConnected, domain.TransportConnectedData{
		TransportID: data.TransportID,
	})}})

	pkglog.L().Info().
		Str(pkglog.FieldRoomID, room.ID).
		Str(pkglog.FieldPeerID, peerID).
		Str(pkglog.FieldTransport, data.TransportID).
		Msg("transport connected")
	return nil
}

func (s *signalService) Produce(ctx context.Context, peerID string, data domain.ProduceData) error {
	room, ok := s.registry.Get(data.RoomID)
	if !ok {
		return domain.ErrRoomNotFound
	}

	room.Mu.Lock()
	peer, ok := room.Peers[peerID]
	if !ok {
		room.Mu.Unlock()
		return domain.ErrPeerNotFound
	}
	transport, ok := peer.Transports[data.TransportID]
	room.Mu.Unlock()
	if !ok {
		return domain.ErrTransportNotFound
	}
	if transport.Direction() != media.DirectionSend {
		return fmt.Errorf("transport %s is not a send transport", data.TransportID)
	}

	kind := media.Kind(data.Kind)
	if kind != media.KindAudio && kind != media.KindVideo {
		return fmt.Errorf("unknown media kind %q", data.Kind)
	}

	producer, err := transport.Produce(ctx, kind, data.RTPParameters)
	if err != nil {
		return fmt.Errorf("produce: %w", err)
	}

	var sends []outbound
	room.Mu.Lock()
	if _, still := room.Peers[peerID]; !still {
		room.Mu.Unlock()
		producer.Close()
		return domain.ErrPeerNotFound
	}
	peer.Producers[producer.ID()] = producer
	sends = append(sends, outbound{peer.Conn, domain.NewMessage(domain.MsgTypeProduced, domain.ProducedData{
		ProducerID: producer.ID(),
	})})
	announce := domain.NewMessage(domain.MsgTypeNewProducer, domain.NewProducerData{
		PeerID:     peerID,
		ProducerID: producer.ID(),
		Kind:       string(kind),
	})
	for _, p := range room.Peers {
		if p.ID != peerID {
			sends = append(sends, outbound{p.Conn, announce})
		}
	}
	room.Mu.Unlock()
	flush(sends)

	pkglog.L().Info().
		Str(pkglog.FieldRoomID, room.ID).
		Str(pkglog.FieldPeerID, peerID).
		Str(pkglog.FieldProducerID, producer.ID()).
		Str("kind", string(kind)).
		Msg("producer created")
	return nil
}

func (s *signalService) Consume(ctx context.Context, peerID string, data domain.ConsumeData) error {
	room, ok := s.registry.Get(data.RoomID)
	if !ok {
		return domain.ErrRoomNotFound
	}

	l := pkglog.L().With().
		Str(pkglog.FieldRoomID, room.ID).
		Str(pkglog.FieldPeerID, peerID).
		Str(pkglog.FieldProducerID, data.ProducerID).
		Logger()

	room.Mu.Lock()
	peer, ok := room.Peers[peerID]
	if !ok {
		room.Mu.Unlock()
		return domain.ErrPeerNotFound
	}
	owner, producer := room.FindProducer(data.ProducerID)
	transport := peer.Transport(media.DirectionRecv)
	room.Mu.Unlock()

	if producer == nil {
		// The producer may have closed between announcement and this
		// request. Drop the request instead of failing the session.
		l.Debug().Msg("consume dropped, producer gone")
		return nil
	}
	if transport == nil {
		return domain.ErrTransportNotFound
	}

	var caps media.RTPCapabilities
	if len(data.RTPCapabilities) > 0 {
		if err := json.Unmarshal(data.RTPCapabilities, &caps); err != nil {
			return fmt.Errorf("invalid rtp capabilities: %w", err)
		}
	}
	if !room.Router.CanConsume(producer, caps) {
		l.Debug().Msg("consume dropped, incompatible capabilities")
		return nil
	}

	consumer, err := transport.Consume(ctx, producer, caps)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	room.Mu.Lock()
	if _, still := room.Peers[peerID]; !still {
		room.Mu.Unlock()
		consumer.Close()
		return domain.ErrPeerNotFound
	}
	peer.Consumers[consumer.ID()] = consumer
	conn := peer.Conn
	room.Mu.Unlock()

	flush([]outbound{{conn, domain.NewMessage(domain.MsgTypeConsumed, domain.ConsumedData{
		ConsumerID:     consumer.ID(),
		ProducerID:     producer.ID(),
		ProducerPeerID: owner.ID,
		Kind:           string(consumer.Kind()),
		RTPParameters:  consumer.RTPParameters(),
	})}})

	l.Info().Str(pkglog.FieldConsumerID, consumer.ID()).Msg("consumer created")
	return nil
}

func (s *signalService) LeaveRoom(ctx context.Context, peerID string, data domain.LeaveRoomData) error {
	room, ok := s.registry.Get(data.RoomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	s.cleanupPeer(room, peerID)
	return nil
}

// Disconnect removes the peer from every room it appears in, admitted or
// waiting. Called when the underlying connection drops.
func (s *signalService) Disconnect(ctx context.Context, peerID string) {
	for _, room := range s.registry.Rooms() {
		room.Mu.Lock()
		_, admitted := room.Peers[peerID]
		_, waiting := room.Waiting[peerID]
		room.Mu.Unlock()
		if admitted || waiting {
			s.cleanupPeer(room, peerID)
		}
	}
}

// cleanupPeer tears down everything a peer holds in a room and notifies
// the remaining participants. Consumers close first, then producers with
// their remote fan-out, then transports.
func (s *signalService) cleanupPeer(room *domain.Room, peerID string) {
	l := pkglog.L().With().
		Str(pkglog.FieldRoomID, room.ID).
		Str(pkglog.FieldPeerID, peerID).
		Logger()

	var sends []outbound
	room.Mu.Lock()

	if _, ok := room.Waiting[peerID]; ok {
		delete(room.Waiting, peerID)
		room.Mu.Unlock()
		l.Info().Msg("waiting peer removed")
		s.registry.RemoveIfEmpty(room.ID)
		return
	}

	peer, ok := room.Peers[peerID]
	if !ok {
		room.Mu.Unlock()
		return
	}

	for _, c := range peer.Consumers {
		c.Close()
	}
	peer.Consumers = make(map[string]media.Consumer)

	for id, producer := range peer.Producers {
		// Every remote consumer of this producer dies with it.
		for _, other := range room.Peers {
			if other.ID == peerID {
				continue
			}
			for cid, c := range other.Consumers {
				if c.ProducerID() != id {
					continue
				}
				c.Close()
				delete(other.Consumers, cid)
				sends = append(sends, outbound{other.Conn, domain.NewMessage(domain.MsgTypeConsumerClosed, domain.ConsumerClosedData{
					ConsumerID: cid,
				})})
			}
		}
		producer.Close()
	}
	peer.Producers = make(map[string]media.Producer)

	for _, t := range peer.Transports {
		t.Close()
	}
	peer.Transports = make(map[string]media.Transport)

	room.RemovePeer(peerID)

	left := domain.NewMessage(domain.MsgTypePeerLeft, domain.PeerLeftData{PeerID: peerID})
	for _, p := range room.Peers {
		sends = append(sends, outbound{p.Conn, left})
	}

	if room.HostID == peerID {
		room.HostID = ""
		if next := room.NextHost(); next != nil {
			next.IsHost = true
			room.HostID = next.ID
			changed := domain.NewMessage(domain.MsgTypeHostChanged, domain.HostChangedData{
				NewHostID:   next.ID,
				NewHostName: next.Name,
			})
			for _, p := range room.Peers {
				sends = append(sends, outbound{p.Conn, changed})
			}
			l.Info().Str("new_host_id", next.ID).Msg("host changed")
		}
	}

	room.Mu.Unlock()
	flush(sends)

	l.Info().Msg("peer left")
	s.registry.RemoveIfEmpty(room.ID)
}
