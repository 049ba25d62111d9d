package media

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// Kind is a media track kind.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Direction is the media flow direction of a transport, seen from the client.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// ParseDirection validates a wire direction string.
func ParseDirection(s string) (Direction, bool) {
	switch Direction(s) {
	case DirectionSend, DirectionRecv:
		return Direction(s), true
	default:
		return "", false
	}
}

// RTPCodecCapability describes one codec a router or receiver supports.
type RTPCodecCapability struct {
	Kind       Kind           `json:"kind"`
	MimeType   string         `json:"mimeType"`
	ClockRate  uint32         `json:"clockRate"`
	Channels   uint16         `json:"channels,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// RTPHeaderExtension is a negotiated RTP header extension.
type RTPHeaderExtension struct {
	URI string `json:"uri"`
	ID  int    `json:"id"`
}

// RTPCapabilities is the negotiated capability set of a router or receiver.
type RTPCapabilities struct {
	Codecs           []RTPCodecCapability `json:"codecs"`
	HeaderExtensions []RTPHeaderExtension `json:"headerExtensions,omitempty"`
}

// RTPCodecParameters binds a codec capability to a payload type.
type RTPCodecParameters struct {
	RTPCodecCapability
	PayloadType uint8 `json:"payloadType"`
}

// RTPEncodingParameters describes one encoding of a track.
type RTPEncodingParameters struct {
	SSRC uint32 `json:"ssrc,omitempty"`
	RID  string `json:"rid,omitempty"`
}

// RTPParameters describes how a single track is carried over RTP. Clients
// send them with produce requests; consumers receive the parameters needed
// to decode the forwarded stream.
type RTPParameters struct {
	MID              string                  `json:"mid,omitempty"`
	Codecs           []RTPCodecParameters    `json:"codecs"`
	HeaderExtensions []RTPHeaderExtension    `json:"headerExtensions,omitempty"`
	Encodings        []RTPEncodingParameters `json:"encodings,omitempty"`
}

// TransportInfo is handed to the client after transport creation so it can
// complete the connectivity handshake out of band.
type TransportInfo struct {
	ID             string                `json:"id"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

// ConnectParams is the remote side of the handshake. It travels inside the
// connectTransport dtlsParameters blob; the contents are engine-defined.
type ConnectParams struct {
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

// Engine abstracts the selective-forwarding media engine.
type Engine interface {
	// NewRouter allocates a routing context with the engine's codec set.
	NewRouter(ctx context.Context) (Router, error)
	Close() error
}

// Router is the per-room routing context.
type Router interface {
	// RTPCapabilities returns the capability set negotiated for the room.
	RTPCapabilities() RTPCapabilities
	// CreateTransport allocates one endpoint of the given direction.
	CreateTransport(ctx context.Context, direction Direction) (Transport, error)
	// CanConsume reports whether a receiver with the given capabilities can
	// decode the producer's stream.
	CanConsume(producer Producer, caps RTPCapabilities) bool
	Close() error
}

// Transport is one negotiated network endpoint owned by a peer.
type Transport interface {
	ID() string
	Direction() Direction
	// Info returns the parameters the client needs to connect.
	Info() TransportInfo
	// Connect completes the connectivity handshake with the remote side.
	Connect(ctx context.Context, params json.RawMessage) error
	// Produce starts receiving a track published over this transport.
	Produce(ctx context.Context, kind Kind, rtpParameters json.RawMessage) (Producer, error)
	// Consume forwards a producer's stream out over this transport.
	Consume(ctx context.Context, producer Producer, caps RTPCapabilities) (Consumer, error)
	Close() error
}

// Producer is one published track routed through the engine.
type Producer interface {
	ID() string
	Kind() Kind
	RTPParameters() RTPParameters
	Close() error
}

// Consumer is one forwarded stream, bound to exactly one producer.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() Kind
	// RTPParameters are what the receiving side needs to decode the stream.
	RTPParameters() RTPParameters
	Close() error
}
