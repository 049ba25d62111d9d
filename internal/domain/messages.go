package domain

import "encoding/json"

// Client -> server message types.
const (
	MsgTypeJoinRoom         = "joinRoom"
	MsgTypeApproveJoin      = "approveJoin"
	MsgTypeRejectJoin       = "rejectJoin"
	MsgTypeCreateTransport  = "createTransport"
	MsgTypeConnectTransport = "connectTransport"
	MsgTypeProduce          = "produce"
	MsgTypeConsume          = "consume"
	MsgTypeLeaveRoom        = "leaveRoom"
)

// Server -> client message types.
const (
	MsgTypeWelcome            = "welcome"
	MsgTypeWaitingForApproval = "waitingForApproval"
	MsgTypePermissionRequest  = "permissionRequest"
	MsgTypeRoomJoined         = "roomJoined"
	MsgTypeJoinRejected       = "joinRejected"
	MsgTypeTransportCreated   = "transportCreated"
	MsgTypeTransportConnected = "transportConnected"
	MsgTypeProduced           = "produced"
	MsgTypeNewProducer        = "newProducer"
	MsgTypeConsumed           = "consumed"
	MsgTypeNewPeer            = "newPeer"
	MsgTypePeerLeft           = "peerLeft"
	MsgTypeHostChanged        = "hostChanged"
	MsgTypeConsumerClosed     = "consumerClosed"
	MsgTypeError              = "error"
)

// Envelope is the decoded form of an inbound wire message. The payload is
// kept raw until the type switch picks the concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message is an outbound wire message.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// NewMessage builds an outbound message.
func NewMessage(msgType string, data any) *Message {
	return &Message{Type: msgType, Data: data}
}

// Client -> server payloads

type JoinRoomData struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
	IsHost bool   `json:"isHost"`
}

// AdmissionData carries a host's approve/reject decision.
type AdmissionData struct {
	RoomID        string `json:"roomId"`
	RequestPeerID string `json:"requestPeerId"`
}

type CreateTransportData struct {
	RoomID    string `json:"roomId"`
	Direction string `json:"direction"`
}

type ConnectTransportData struct {
	RoomID         string          `json:"roomId"`
	TransportID    string          `json:"transportId"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

type ProduceData struct {
	RoomID        string          `json:"roomId"`
	TransportID   string          `json:"transportId"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

type ConsumeData struct {
	RoomID          string          `json:"roomId"`
	ProducerID      string          `json:"producerId"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

type LeaveRoomData struct {
	RoomID string `json:"roomId"`
}

// Server -> client payloads

type WelcomeData struct {
	PeerID string `json:"peerId"`
}

type WaitingForApprovalData struct {
	RoomID string `json:"roomId"`
	PeerID string `json:"peerId"`
}

// PermissionRequestData is sent to the host when a peer asks to join.
type PermissionRequestData struct {
	PeerID string `json:"peerId"`
	Name   string `json:"name"`
}

// PeerSummary describes an admitted peer in membership lists.
type PeerSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsHost bool   `json:"isHost"`
}

// WaitingSummary describes a peer still in the waiting room.
type WaitingSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ProducerSummary identifies one published track of one peer.
type ProducerSummary struct {
	PeerID     string `json:"peerId"`
	ProducerID string `json:"producerId"`
	Kind       string `json:"kind"`
}

type RoomJoinedData struct {
	RoomID            string            `json:"roomId"`
	PeerID            string            `json:"peerId"`
	IsHost            bool              `json:"isHost"`
	RTPCapabilities   any               `json:"rtpCapabilities"`
	ExistingProducers []ProducerSummary `json:"existingProducers"`
	Peers             []PeerSummary     `json:"peers"`
	WaitingPeers      []WaitingSummary  `json:"waitingPeers"`
}

type JoinRejectedData struct {
	RoomID string `json:"roomId"`
}

type TransportCreatedData struct {
	ID             string `json:"id"`
	Direction      string `json:"direction"`
	ICEParameters  any    `json:"iceParameters"`
	ICECandidates  any    `json:"iceCandidates"`
	DTLSParameters any    `json:"dtlsParameters"`
}

type TransportConnectedData struct {
	TransportID string `json:"transportId"`
}

type ProducedData struct {
	ProducerID string `json:"producerId"`
}

type NewProducerData struct {
	PeerID     string `json:"peerId"`
	ProducerID string `json:"producerId"`
	Kind       string `json:"kind"`
}

type ConsumedData struct {
	ConsumerID     string `json:"consumerId"`
	ProducerID     string `json:"producerId"`
	ProducerPeerID string `json:"producerPeerId"`
	Kind           string `json:"kind"`
	RTPParameters  any    `json:"rtpParameters"`
}

type NewPeerData struct {
	PeerID string `json:"peerId"`
	Name   string `json:"name"`
	IsHost bool   `json:"isHost"`
}

type PeerLeftData struct {
	PeerID string `json:"peerId"`
}

type HostChangedData struct {
	NewHostID   string `json:"newHostId"`
	NewHostName string `json:"newHostName"`
}

type ConsumerClosedData struct {
	ConsumerID string `json:"consumerId"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
