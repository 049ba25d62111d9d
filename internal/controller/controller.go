package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/shuklatul1021/Waveline/internal/domain"
	"github.com/shuklatul1021/Waveline/internal/media"
	pkglog "github.com/shuklatul1021/Waveline/pkg/log"
)

// State is the controller's position in the join lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateWaiting
	StateJoined
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateWaiting:
		return "waiting"
	case StateJoined:
		return "joined"
	case StateRejected:
		return "rejected"
	default:
		return "disconnected"
	}
}

// Event surfaces a server message or state change to the application.
type Event struct {
	Type string
	Data json.RawMessage
}

// wsConn is the subset of the websocket connection the controller needs.
// Tests substitute a scripted fake.
type wsConn interface {
	WriteJSON(v interface{}) error
	ReadMessage() (int, []byte, error)
	Close() error
}

// remoteConsumer records where a held consumer came from so peerLeft can
// prune everything a departed peer published.
type remoteConsumer struct {
	producerID string
	peerID     string
	kind       string
}

// roomJoinedPayload mirrors the server's roomJoined data with the router
// capabilities kept raw for the device.
type roomJoinedPayload struct {
	RoomID            string                   `json:"roomId"`
	PeerID            string                   `json:"peerId"`
	IsHost            bool                     `json:"isHost"`
	RTPCapabilities   json.RawMessage          `json:"rtpCapabilities"`
	ExistingProducers []domain.ProducerSummary `json:"existingProducers"`
	Peers             []domain.PeerSummary     `json:"peers"`
	WaitingPeers      []domain.WaitingSummary  `json:"waitingPeers"`
}

// Controller drives one client's signaling session: the join handshake,
// transport negotiation and produce/consume bookkeeping. Media flows
// through the Device; the application watches Events.
type Controller struct {
	device Device

	mu     sync.Mutex
	conn   wsConn
	state  State
	peerID string
	roomID string
	isHost bool

	sendTransportID string
	recvTransportID string
	sendReady       bool
	recvReady       bool

	// pendingProduce correlates produced responses to requests in FIFO
	// order, since the server echoes no request ID.
	pendingProduce []media.Kind
	// queuedProduce holds kinds requested before the send transport was
	// ready.
	queuedProduce []media.Kind
	// queuedConsume holds producers announced before the recv transport
	// was ready.
	queuedConsume []domain.ProducerSummary

	producers map[media.Kind]string // kind -> producerID

	// remoteProducers mirrors the server's view of who is publishing.
	remoteProducers map[string]domain.ProducerSummary // producerID -> summary
	// remoteConsumers tracks the receivers this client holds.
	remoteConsumers map[string]remoteConsumer // consumerID -> origin

	audioEnabled bool
	videoEnabled bool

	events chan Event
	done   chan struct{}
}

// New creates a controller over the given device.
func New(device Device) *Controller {
	return &Controller{
		device:          device,
		state:           StateDisconnected,
		producers:       make(map[media.Kind]string),
		remoteProducers: make(map[string]domain.ProducerSummary),
		remoteConsumers: make(map[string]remoteConsumer),
		audioEnabled:    true,
		videoEnabled:    true,
		events:          make(chan Event, 64),
		done:            make(chan struct{}),
	}
}

// Events is the stream of server messages and state changes. The channel
// is closed when the controller shuts down.
func (c *Controller) Events() <-chan Event { return c.events }

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PeerID returns the server-assigned peer ID, empty before welcome.
func (c *Controller) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

// IsHost reports whether this peer currently hosts the room.
func (c *Controller) IsHost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isHost
}

// RemoteProducers snapshots the remote producers currently known to this
// client.
func (c *Controller) RemoteProducers() []domain.ProducerSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ProducerSummary, 0, len(c.remoteProducers))
	for _, p := range c.remoteProducers {
		out = append(out, p)
	}
	return out
}

// Connect dials the signaling server and starts the read loop.
func (c *Controller) Connect(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop()
	return nil
}

func (c *Controller) readLoop() {
	defer func() {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		close(c.events)
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handle(message)
	}
}

// Join asks to enter a room. The outcome arrives as a roomJoined,
// waitingForApproval or joinRejected event.
func (c *Controller) Join(roomID, name string, isHost bool) error {
	c.mu.Lock()
	if c.state != StateConnected && c.state != StateRejected {
		c.mu.Unlock()
		return fmt.Errorf("cannot join in state %s", c.state)
	}
	conn := c.conn
	c.mu.Unlock()

	return conn.WriteJSON(domain.NewMessage(domain.MsgTypeJoinRoom, domain.JoinRoomData{
		RoomID: roomID,
		Name:   name,
		IsHost: isHost,
	}))
}

// Approve admits a waiting peer. Host only.
func (c *Controller) Approve(peerID string) error {
	return c.admit(domain.MsgTypeApproveJoin, peerID)
}

// Reject turns a waiting peer away. Host only.
func (c *Controller) Reject(peerID string) error {
	return c.admit(domain.MsgTypeRejectJoin, peerID)
}

func (c *Controller) admit(msgType, peerID string) error {
	c.mu.Lock()
	if !c.isHost {
		c.mu.Unlock()
		return errors.New("only the host can decide admissions")
	}
	conn, roomID := c.conn, c.roomID
	c.mu.Unlock()

	return conn.WriteJSON(domain.NewMessage(msgType, domain.AdmissionData{
		RoomID:        roomID,
		RequestPeerID: peerID,
	}))
}

// Produce publishes a local track of the given kind. If the send transport
// is still connecting the request is queued and sent once it is ready.
func (c *Controller) Produce(kind media.Kind) error {
	c.mu.Lock()
	if c.state != StateJoined {
		c.mu.Unlock()
		return errors.New("not in a room")
	}
	if !c.sendReady {
		c.queuedProduce = append(c.queuedProduce, kind)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.sendProduce(kind)
}

func (c *Controller) sendProduce(kind media.Kind) error {
	params, err := c.device.ProduceParameters(kind)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn, roomID := c.conn, c.roomID
	transportID := c.transportID(media.DirectionSend)
	c.pendingProduce = append(c.pendingProduce, kind)
	c.mu.Unlock()

	return conn.WriteJSON(domain.NewMessage(domain.MsgTypeProduce, domain.ProduceData{
		RoomID:        roomID,
		TransportID:   transportID,
		Kind:          string(kind),
		RTPParameters: params,
	}))
}

// ToggleAudio flips the local audio mute. This is local state only, the
// server is not told.
func (c *Controller) ToggleAudio() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioEnabled = !c.audioEnabled
	return c.audioEnabled
}

// ToggleVideo flips the local video mute. Local state only.
func (c *Controller) ToggleVideo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.videoEnabled = !c.videoEnabled
	return c.videoEnabled
}

// AudioEnabled reports the local audio mute state.
func (c *Controller) AudioEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioEnabled
}

// VideoEnabled reports the local video mute state.
func (c *Controller) VideoEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videoEnabled
}

// Leave exits the current room but keeps the connection.
func (c *Controller) Leave() error {
	c.mu.Lock()
	if c.state != StateJoined && c.state != StateWaiting {
		c.mu.Unlock()
		return errors.New("not in a room")
	}
	conn, roomID := c.conn, c.roomID
	stale := c.resetRoomState()
	c.state = StateConnected
	c.mu.Unlock()

	for _, id := range stale {
		if err := c.device.CloseConsumer(id); err != nil {
			pkglog.L().Warn().Err(err).Str(pkglog.FieldConsumerID, id).Msg("consumer release failed")
		}
	}

	return conn.WriteJSON(domain.NewMessage(domain.MsgTypeLeaveRoom, domain.LeaveRoomData{RoomID: roomID}))
}

// Close tears down the connection and the device.
func (c *Controller) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	select {
	case <-c.done:
	default:
		close(c.done)
	}

	var errs []error
	if conn != nil {
		errs = append(errs, conn.Close())
	}
	errs = append(errs, c.device.Close())
	return errors.Join(errs...)
}

// resetRoomState clears per-room bookkeeping and returns the consumer IDs
// whose receivers must be released. Caller holds the lock.
func (c *Controller) resetRoomState() []string {
	c.roomID = ""
	c.isHost = false
	c.sendReady = false
	c.recvReady = false
	c.pendingProduce = nil
	c.queuedProduce = nil
	c.queuedConsume = nil
	c.producers = make(map[media.Kind]string)

	stale := make([]string, 0, len(c.remoteConsumers))
	for id := range c.remoteConsumers {
		stale = append(stale, id)
	}
	c.remoteProducers = make(map[string]domain.ProducerSummary)
	c.remoteConsumers = make(map[string]remoteConsumer)
	return stale
}

// transportID maps a direction to the server-side transport ID recorded
// from transportCreated. Caller holds the lock.
func (c *Controller) transportID(direction media.Direction) string {
	if direction == media.DirectionSend {
		return c.sendTransportID
	}
	return c.recvTransportID
}

// handle dispatches one server message.
func (c *Controller) handle(message []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		pkglog.L().Warn().Err(err).Msg("bad server message")
		return
	}

	var err error
	switch env.Type {
	case domain.MsgTypeWelcome:
		err = c.onWelcome(env.Data)
	case domain.MsgTypeWaitingForApproval:
		err = c.onWaiting(env.Data)
	case domain.MsgTypeJoinRejected:
		err = c.onRejected(env.Data)
	case domain.MsgTypeRoomJoined:
		err = c.onRoomJoined(env.Data)
	case domain.MsgTypeTransportCreated:
		err = c.onTransportCreated(env.Data)
	case domain.MsgTypeTransportConnected:
		err = c.onTransportConnected(env.Data)
	case domain.MsgTypeProduced:
		err = c.onProduced(env.Data)
	case domain.MsgTypeNewProducer:
		err = c.onNewProducer(env.Data)
	case domain.MsgTypeHostChanged:
		err = c.onHostChanged(env.Data)
	case domain.MsgTypeConsumed:
		err = c.onConsumed(env.Data)
	case domain.MsgTypePeerLeft:
		err = c.onPeerLeft(env.Data)
	case domain.MsgTypeConsumerClosed:
		err = c.onConsumerClosed(env.Data)
	case domain.MsgTypePermissionRequest,
		domain.MsgTypeNewPeer,
		domain.MsgTypeError:
		// Application-facing messages pass straight through.
	default:
		pkglog.L().Debug().Str("type", env.Type).Msg("unhandled server message")
		return
	}
	if err != nil {
		pkglog.L().Warn().Err(err).Str("type", env.Type).Msg("message handling failed")
		return
	}

	c.emit(Event{Type: env.Type, Data: env.Data})
}

func (c *Controller) onWelcome(raw json.RawMessage) error {
	var data domain.WelcomeData
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}
	c.mu.Lock()
	c.peerID = data.PeerID
	c.state = StateConnected
	c.mu.Unlock()
	return nil
}

func (c *Controller) onWaiting(raw json.RawMessage) error {
	var data domain.WaitingForApprovalData
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}
	c.mu.Lock()
	c.roomID = data.RoomID
	c.state = StateWaiting
	c.mu.Unlock()
	return nil
}

func (c *Controller) onRejected(raw json.RawMessage) error {
	c.mu.Lock()
	c.resetRoomState()
	c.state = StateRejected
	c.mu.Unlock()
	return nil
}

func (c *Controller) onRoomJoined(raw json.RawMessage) error {
	var data roomJoinedPayload
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}

	if err := c.device.Load(data.RTPCapabilities); err != nil {
		return err
	}

	c.mu.Lock()
	c.roomID = data.RoomID
	c.isHost = data.IsHost
	c.state = StateJoined
	c.queuedConsume = append(c.queuedConsume, data.ExistingProducers...)
	for _, p := range data.ExistingProducers {
		c.remoteProducers[p.ProducerID] = p
	}
	conn, roomID := c.conn, c.roomID
	c.mu.Unlock()

	// Negotiate both directions right away.
	for _, dir := range []media.Direction{media.DirectionSend, media.DirectionRecv} {
		if err := conn.WriteJSON(domain.NewMessage(domain.MsgTypeCreateTransport, domain.CreateTransportData{
			RoomID:    roomID,
			Direction: string(dir),
		})); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) onTransportCreated(raw json.RawMessage) error {
	var data domain.TransportCreatedData
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}
	direction, ok := media.ParseDirection(data.Direction)
	if !ok {
		return fmt.Errorf("unknown transport direction %q", data.Direction)
	}

	connectParams, err := c.device.SetupTransport(direction, data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	switch direction {
	case media.DirectionSend:
		c.sendTransportID = data.ID
	case media.DirectionRecv:
		c.recvTransportID = data.ID
	}
	conn, roomID := c.conn, c.roomID
	c.mu.Unlock()

	return conn.WriteJSON(domain.NewMessage(domain.MsgTypeConnectTransport, domain.ConnectTransportData{
		RoomID:         roomID,
		TransportID:    data.ID,
		DTLSParameters: connectParams,
	}))
}

func (c *Controller) onTransportConnected(raw json.RawMessage) error {
	var data domain.TransportConnectedData
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}

	c.mu.Lock()
	var direction media.Direction
	switch data.TransportID {
	case c.sendTransportID:
		direction = media.DirectionSend
		c.sendReady = true
	case c.recvTransportID:
		direction = media.DirectionRecv
		c.recvReady = true
	default:
		c.mu.Unlock()
		return fmt.Errorf("unknown transport %s", data.TransportID)
	}
	produce := append([]media.Kind(nil), c.queuedProduce...)
	consume := append([]domain.ProducerSummary(nil), c.queuedConsume...)
	if direction == media.DirectionSend {
		c.queuedProduce = nil
	} else {
		c.queuedConsume = nil
	}
	c.mu.Unlock()

	// The DTLS handshake blocks until both sides finish, so it runs off
	// the read loop.
	go func() {
		if err := c.device.Connect(context.Background(), direction); err != nil {
			pkglog.L().Warn().Err(err).Str("direction", string(direction)).Msg("device connect failed")
		}
	}()

	switch direction {
	case media.DirectionSend:
		for _, kind := range produce {
			if err := c.sendProduce(kind); err != nil {
				return err
			}
		}
	case media.DirectionRecv:
		for _, p := range consume {
			if err := c.sendConsume(p.ProducerID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Controller) sendConsume(producerID string) error {
	c.mu.Lock()
	conn, roomID := c.conn, c.roomID
	c.mu.Unlock()

	return conn.WriteJSON(domain.NewMessage(domain.MsgTypeConsume, domain.ConsumeData{
		RoomID:          roomID,
		ProducerID:      producerID,
		RTPCapabilities: c.device.RTPCapabilities(),
	}))
}

func (c *Controller) onProduced(raw json.RawMessage) error {
	var data domain.ProducedData
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pendingProduce) == 0 {
		return fmt.Errorf("produced %s without a pending request", data.ProducerID)
	}
	kind := c.pendingProduce[0]
	c.pendingProduce = c.pendingProduce[1:]
	c.producers[kind] = data.ProducerID
	return nil
}

func (c *Controller) onNewProducer(raw json.RawMessage) error {
	var data domain.NewProducerData
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}

	summary := domain.ProducerSummary{
		PeerID:     data.PeerID,
		ProducerID: data.ProducerID,
		Kind:       data.Kind,
	}

	c.mu.Lock()
	c.remoteProducers[data.ProducerID] = summary
	ready := c.recvReady
	if !ready {
		c.queuedConsume = append(c.queuedConsume, summary)
	}
	c.mu.Unlock()

	if !ready {
		return nil
	}
	return c.sendConsume(data.ProducerID)
}

// consumedPayload mirrors the server's consumed data with the decode
// parameters kept raw for the device.
type consumedPayload struct {
	ConsumerID     string          `json:"consumerId"`
	ProducerID     string          `json:"producerId"`
	ProducerPeerID string          `json:"producerPeerId"`
	Kind           string          `json:"kind"`
	RTPParameters  json.RawMessage `json:"rtpParameters"`
}

func (c *Controller) onConsumed(raw json.RawMessage) error {
	var data consumedPayload
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}

	if err := c.device.Consume(data.ConsumerID, media.Kind(data.Kind), data.RTPParameters); err != nil {
		return err
	}

	c.mu.Lock()
	c.remoteConsumers[data.ConsumerID] = remoteConsumer{
		producerID: data.ProducerID,
		peerID:     data.ProducerPeerID,
		kind:       data.Kind,
	}
	c.mu.Unlock()
	return nil
}

func (c *Controller) onConsumerClosed(raw json.RawMessage) error {
	var data domain.ConsumerClosedData
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.remoteConsumers, data.ConsumerID)
	c.mu.Unlock()
	return c.device.CloseConsumer(data.ConsumerID)
}

func (c *Controller) onPeerLeft(raw json.RawMessage) error {
	var data domain.PeerLeftData
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}

	c.mu.Lock()
	for id, p := range c.remoteProducers {
		if p.PeerID == data.PeerID {
			delete(c.remoteProducers, id)
		}
	}
	var stale []string
	for id, rc := range c.remoteConsumers {
		if rc.peerID == data.PeerID {
			delete(c.remoteConsumers, id)
			stale = append(stale, id)
		}
	}
	queued := c.queuedConsume[:0]
	for _, p := range c.queuedConsume {
		if p.PeerID != data.PeerID {
			queued = append(queued, p)
		}
	}
	c.queuedConsume = queued
	c.mu.Unlock()

	var errs []error
	for _, id := range stale {
		errs = append(errs, c.device.CloseConsumer(id))
	}
	return errors.Join(errs...)
}

func (c *Controller) onHostChanged(raw json.RawMessage) error {
	var data domain.HostChangedData
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}
	c.mu.Lock()
	c.isHost = data.NewHostID == c.peerID
	c.mu.Unlock()
	return nil
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		pkglog.L().Warn().Str("type", ev.Type).Msg("event dropped, application lagging")
	}
}
