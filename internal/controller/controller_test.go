package controller

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuklatul1021/Waveline/internal/domain"
	"github.com/shuklatul1021/Waveline/internal/media"
)

// scriptConn records outbound messages. Inbound traffic is injected by
// calling handle directly, so ReadMessage never runs.
type scriptConn struct {
	mu     sync.Mutex
	sent   []domain.Envelope
	closed bool
}

func (c *scriptConn) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	return nil
}

func (c *scriptConn) ReadMessage() (int, []byte, error) {
	select {}
}

func (c *scriptConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *scriptConn) ofType(msgType string) []domain.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Envelope
	for _, env := range c.sent {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

// fakeDevice scripts the media side of the controller.
type fakeDevice struct {
	mu              sync.Mutex
	loadedCaps      json.RawMessage
	setups          []media.Direction
	connects        []media.Direction
	consumeIDs      []string
	closedConsumers []string
	closed          bool
}

func (d *fakeDevice) Load(caps json.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loadedCaps = caps
	return nil
}

func (d *fakeDevice) RTPCapabilities() json.RawMessage {
	return json.RawMessage(`{"codecs":[]}`)
}

func (d *fakeDevice) SetupTransport(direction media.Direction, info domain.TransportCreatedData) (json.RawMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setups = append(d.setups, direction)
	return json.RawMessage(`{"iceParameters":{},"dtlsParameters":{}}`), nil
}

func (d *fakeDevice) Connect(ctx context.Context, direction media.Direction) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects = append(d.connects, direction)
	return nil
}

func (d *fakeDevice) ProduceParameters(kind media.Kind) (json.RawMessage, error) {
	return json.RawMessage(`{"codecs":[{"kind":"` + string(kind) + `"}]}`), nil
}

func (d *fakeDevice) Consume(consumerID string, kind media.Kind, rtpParameters json.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consumeIDs = append(d.consumeIDs, consumerID)
	return nil
}

func (d *fakeDevice) CloseConsumer(consumerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closedConsumers = append(d.closedConsumers, consumerID)
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDevice) connected() []media.Direction {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]media.Direction(nil), d.connects...)
}

func newTestController() (*Controller, *scriptConn, *fakeDevice) {
	device := &fakeDevice{}
	c := New(device)
	conn := &scriptConn{}
	c.conn = conn
	return c, conn, device
}

func inject(t *testing.T, c *Controller, msgType string, data any) {
	t.Helper()
	raw, err := json.Marshal(domain.NewMessage(msgType, data))
	require.NoError(t, err)
	c.handle(raw)
}

func drainEvents(c *Controller) []Event {
	var out []Event
	for {
		select {
		case ev := <-c.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestWelcomeAssignsPeerID(t *testing.T) {
	c, _, _ := newTestController()

	inject(t, c, domain.MsgTypeWelcome, domain.WelcomeData{PeerID: "peer-42"})

	assert.Equal(t, "peer-42", c.PeerID())
	assert.Equal(t, StateConnected, c.State())

	events := drainEvents(c)
	require.Len(t, events, 1)
	assert.Equal(t, domain.MsgTypeWelcome, events[0].Type)
}

func TestJoinRequiresConnectedState(t *testing.T) {
	c, conn, _ := newTestController()

	err := c.Join("room-1", "Alice", true)
	assert.Error(t, err)
	assert.Empty(t, conn.ofType(domain.MsgTypeJoinRoom))

	inject(t, c, domain.MsgTypeWelcome, domain.WelcomeData{PeerID: "peer-1"})
	require.NoError(t, c.Join("room-1", "Alice", true))

	joins := conn.ofType(domain.MsgTypeJoinRoom)
	require.Len(t, joins, 1)
	var data domain.JoinRoomData
	require.NoError(t, json.Unmarshal(joins[0].Data, &data))
	assert.Equal(t, "room-1", data.RoomID)
	assert.True(t, data.IsHost)
}

func TestWaitingAndRejection(t *testing.T) {
	c, _, _ := newTestController()
	inject(t, c, domain.MsgTypeWelcome, domain.WelcomeData{PeerID: "peer-1"})

	inject(t, c, domain.MsgTypeWaitingForApproval, domain.WaitingForApprovalData{RoomID: "room-1", PeerID: "peer-1"})
	assert.Equal(t, StateWaiting, c.State())

	inject(t, c, domain.MsgTypeJoinRejected, domain.JoinRejectedData{RoomID: "room-1"})
	assert.Equal(t, StateRejected, c.State())

	// A rejected controller may try another room.
	require.NoError(t, c.Join("room-2", "Alice", false))
}

func joinRoom(t *testing.T, c *Controller, isHost bool, existing []domain.ProducerSummary) {
	t.Helper()
	inject(t, c, domain.MsgTypeWelcome, domain.WelcomeData{PeerID: "peer-1"})
	inject(t, c, domain.MsgTypeRoomJoined, domain.RoomJoinedData{
		RoomID:            "room-1",
		PeerID:            "peer-1",
		IsHost:            isHost,
		RTPCapabilities:   map[string]any{"codecs": []any{}},
		ExistingProducers: existing,
	})
}

func TestRoomJoinedNegotiatesBothTransports(t *testing.T) {
	c, conn, device := newTestController()
	joinRoom(t, c, true, nil)

	assert.Equal(t, StateJoined, c.State())
	assert.True(t, c.IsHost())
	assert.NotNil(t, device.loadedCaps)

	creates := conn.ofType(domain.MsgTypeCreateTransport)
	require.Len(t, creates, 2)
	var dirs []string
	for _, env := range creates {
		var data domain.CreateTransportData
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, "room-1", data.RoomID)
		dirs = append(dirs, data.Direction)
	}
	assert.ElementsMatch(t, []string{"send", "recv"}, dirs)
}

func TestTransportCreatedRepliesWithConnect(t *testing.T) {
	c, conn, device := newTestController()
	joinRoom(t, c, false, nil)

	inject(t, c, domain.MsgTypeTransportCreated, domain.TransportCreatedData{
		ID:        "transport-send",
		Direction: "send",
	})

	require.Equal(t, []media.Direction{media.DirectionSend}, device.setups)

	connects := conn.ofType(domain.MsgTypeConnectTransport)
	require.Len(t, connects, 1)
	var data domain.ConnectTransportData
	require.NoError(t, json.Unmarshal(connects[0].Data, &data))
	assert.Equal(t, "transport-send", data.TransportID)
	assert.NotEmpty(t, data.DTLSParameters)
}

func TestQueuedConsumeFlushesWhenRecvReady(t *testing.T) {
	c, conn, device := newTestController()
	joinRoom(t, c, false, []domain.ProducerSummary{
		{PeerID: "peer-2", ProducerID: "producer-a", Kind: "video"},
	})

	inject(t, c, domain.MsgTypeTransportCreated, domain.TransportCreatedData{ID: "transport-recv", Direction: "recv"})

	// Announced before the recv transport is up: must queue, not send.
	inject(t, c, domain.MsgTypeNewProducer, domain.NewProducerData{
		PeerID: "peer-3", ProducerID: "producer-b", Kind: "audio",
	})
	assert.Empty(t, conn.ofType(domain.MsgTypeConsume))

	inject(t, c, domain.MsgTypeTransportConnected, domain.TransportConnectedData{TransportID: "transport-recv"})

	consumes := conn.ofType(domain.MsgTypeConsume)
	require.Len(t, consumes, 2)
	var ids []string
	for _, env := range consumes {
		var data domain.ConsumeData
		require.NoError(t, json.Unmarshal(env.Data, &data))
		ids = append(ids, data.ProducerID)
	}
	assert.ElementsMatch(t, []string{"producer-a", "producer-b"}, ids)

	// Announcements after readiness go straight out.
	inject(t, c, domain.MsgTypeNewProducer, domain.NewProducerData{
		PeerID: "peer-4", ProducerID: "producer-c", Kind: "video",
	})
	assert.Len(t, conn.ofType(domain.MsgTypeConsume), 3)

	require.Eventually(t, func() bool {
		return len(device.connected()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestProduceQueuesUntilSendReady(t *testing.T) {
	c, conn, _ := newTestController()
	joinRoom(t, c, false, nil)

	require.NoError(t, c.Produce(media.KindAudio))
	assert.Empty(t, conn.ofType(domain.MsgTypeProduce))

	inject(t, c, domain.MsgTypeTransportCreated, domain.TransportCreatedData{ID: "transport-send", Direction: "send"})
	inject(t, c, domain.MsgTypeTransportConnected, domain.TransportConnectedData{TransportID: "transport-send"})

	produces := conn.ofType(domain.MsgTypeProduce)
	require.Len(t, produces, 1)
	var data domain.ProduceData
	require.NoError(t, json.Unmarshal(produces[0].Data, &data))
	assert.Equal(t, "transport-send", data.TransportID)
	assert.Equal(t, "audio", data.Kind)

	inject(t, c, domain.MsgTypeProduced, domain.ProducedData{ProducerID: "producer-x"})
	c.mu.Lock()
	assert.Equal(t, "producer-x", c.producers[media.KindAudio])
	assert.Empty(t, c.pendingProduce)
	c.mu.Unlock()
}

func TestApprovalIsHostOnly(t *testing.T) {
	c, conn, _ := newTestController()
	joinRoom(t, c, false, nil)

	assert.Error(t, c.Approve("peer-9"))
	assert.Error(t, c.Reject("peer-9"))
	assert.Empty(t, conn.ofType(domain.MsgTypeApproveJoin))

	// Host failover promotes this peer.
	inject(t, c, domain.MsgTypeHostChanged, domain.HostChangedData{NewHostID: "peer-1", NewHostName: "Alice"})
	require.True(t, c.IsHost())

	require.NoError(t, c.Approve("peer-9"))
	approves := conn.ofType(domain.MsgTypeApproveJoin)
	require.Len(t, approves, 1)
	var data domain.AdmissionData
	require.NoError(t, json.Unmarshal(approves[0].Data, &data))
	assert.Equal(t, "peer-9", data.RequestPeerID)
	assert.Equal(t, "room-1", data.RoomID)
}

func TestToggleMuteIsLocalOnly(t *testing.T) {
	c, conn, _ := newTestController()
	joinRoom(t, c, false, nil)
	sentBefore := len(conn.sent)

	assert.True(t, c.AudioEnabled())
	assert.False(t, c.ToggleAudio())
	assert.False(t, c.AudioEnabled())
	assert.True(t, c.ToggleAudio())

	assert.True(t, c.VideoEnabled())
	assert.False(t, c.ToggleVideo())

	// No signaling traffic from mute changes.
	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Len(t, conn.sent, sentBefore)
}

func TestLeaveResetsRoomState(t *testing.T) {
	c, conn, _ := newTestController()
	joinRoom(t, c, true, nil)

	require.NoError(t, c.Leave())
	assert.Equal(t, StateConnected, c.State())
	assert.False(t, c.IsHost())

	leaves := conn.ofType(domain.MsgTypeLeaveRoom)
	require.Len(t, leaves, 1)
	var data domain.LeaveRoomData
	require.NoError(t, json.Unmarshal(leaves[0].Data, &data))
	assert.Equal(t, "room-1", data.RoomID)
}

func consumedFor(consumerID, producerID, peerID, kind string) domain.ConsumedData {
	return domain.ConsumedData{
		ConsumerID:     consumerID,
		ProducerID:     producerID,
		ProducerPeerID: peerID,
		Kind:           kind,
		RTPParameters:  map[string]any{"codecs": []any{}},
	}
}

func TestConsumedAttachesReceiver(t *testing.T) {
	c, _, device := newTestController()
	joinRoom(t, c, false, nil)

	inject(t, c, domain.MsgTypeConsumed, consumedFor("consumer-1", "producer-a", "peer-2", "video"))

	device.mu.Lock()
	assert.Equal(t, []string{"consumer-1"}, device.consumeIDs)
	device.mu.Unlock()

	c.mu.Lock()
	rc, ok := c.remoteConsumers["consumer-1"]
	c.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, "producer-a", rc.producerID)
	assert.Equal(t, "peer-2", rc.peerID)
}

func TestConsumerClosedReleasesReceiver(t *testing.T) {
	c, _, device := newTestController()
	joinRoom(t, c, false, nil)
	inject(t, c, domain.MsgTypeConsumed, consumedFor("consumer-1", "producer-a", "peer-2", "video"))

	inject(t, c, domain.MsgTypeConsumerClosed, domain.ConsumerClosedData{ConsumerID: "consumer-1"})

	device.mu.Lock()
	assert.Equal(t, []string{"consumer-1"}, device.closedConsumers)
	device.mu.Unlock()

	c.mu.Lock()
	assert.Empty(t, c.remoteConsumers)
	c.mu.Unlock()
}

func TestPeerLeftPrunesRemoteState(t *testing.T) {
	c, conn, device := newTestController()
	joinRoom(t, c, false, []domain.ProducerSummary{
		{PeerID: "peer-2", ProducerID: "producer-a", Kind: "video"},
		{PeerID: "peer-3", ProducerID: "producer-b", Kind: "audio"},
	})
	inject(t, c, domain.MsgTypeConsumed, consumedFor("consumer-2", "producer-a", "peer-2", "video"))
	inject(t, c, domain.MsgTypeConsumed, consumedFor("consumer-3", "producer-b", "peer-3", "audio"))

	inject(t, c, domain.MsgTypePeerLeft, domain.PeerLeftData{PeerID: "peer-2"})

	// Only the departed peer's receiver is released.
	device.mu.Lock()
	assert.Equal(t, []string{"consumer-2"}, device.closedConsumers)
	device.mu.Unlock()

	producers := c.RemoteProducers()
	require.Len(t, producers, 1)
	assert.Equal(t, "producer-b", producers[0].ProducerID)

	c.mu.Lock()
	_, survives := c.remoteConsumers["consumer-3"]
	c.mu.Unlock()
	assert.True(t, survives)

	// Producers queued for consumption before the recv transport came up
	// are dropped with their owner; only peer-3's gets requested.
	inject(t, c, domain.MsgTypeTransportCreated, domain.TransportCreatedData{ID: "transport-recv", Direction: "recv"})
	inject(t, c, domain.MsgTypeTransportConnected, domain.TransportConnectedData{TransportID: "transport-recv"})

	consumes := conn.ofType(domain.MsgTypeConsume)
	require.Len(t, consumes, 1)
	var data domain.ConsumeData
	require.NoError(t, json.Unmarshal(consumes[0].Data, &data))
	assert.Equal(t, "producer-b", data.ProducerID)
}

func TestLeaveReleasesHeldConsumers(t *testing.T) {
	c, _, device := newTestController()
	joinRoom(t, c, false, nil)
	inject(t, c, domain.MsgTypeConsumed, consumedFor("consumer-1", "producer-a", "peer-2", "video"))

	require.NoError(t, c.Leave())

	device.mu.Lock()
	assert.Equal(t, []string{"consumer-1"}, device.closedConsumers)
	device.mu.Unlock()
	assert.Empty(t, c.RemoteProducers())
}

func TestCloseShutsDownDevice(t *testing.T) {
	c, conn, device := newTestController()
	require.NoError(t, c.Close())
	assert.True(t, conn.closed)
	assert.True(t, device.closed)
}
