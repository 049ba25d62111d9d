package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	pkglog "github.com/shuklatul1021/Waveline/pkg/log"
)

// transport bundles an ICE gatherer, ICE transport and DTLS transport the
// way the forwarding engine negotiates endpoints: the server gathers first
// and hands its parameters to the client, which completes the handshake via
// connectTransport.
type transport struct {
	id        string
	direction Direction
	eng       *engine

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	info TransportInfo

	mu        sync.Mutex
	connected bool
	closed    bool
}

func (r *router) CreateTransport(ctx context.Context, direction Direction) (Transport, error) {
	api := r.eng.api

	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create ICE gatherer: %w", err)
	}
	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		gatherer.Close()
		return nil, fmt.Errorf("failed to create DTLS transport: %w", err)
	}

	gatherDone := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(gatherDone)
		}
	})
	if err := gatherer.Gather(); err != nil {
		gatherer.Close()
		return nil, fmt.Errorf("ICE gathering failed: %w", err)
	}
	select {
	case <-gatherDone:
	case <-ctx.Done():
		gatherer.Close()
		return nil, ctx.Err()
	}

	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		gatherer.Close()
		return nil, fmt.Errorf("failed to get local candidates: %w", err)
	}
	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		gatherer.Close()
		return nil, fmt.Errorf("failed to get ICE parameters: %w", err)
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		gatherer.Close()
		return nil, fmt.Errorf("failed to get DTLS parameters: %w", err)
	}

	t := &transport{
		id:        uuid.New().String(),
		direction: direction,
		eng:       r.eng,
		gatherer:  gatherer,
		ice:       ice,
		dtls:      dtls,
	}
	t.info = TransportInfo{
		ID:             t.id,
		ICEParameters:  iceParams,
		ICECandidates:  candidates,
		DTLSParameters: dtlsParams,
	}
	return t, nil
}

func (t *transport) ID() string { return t.id }
func (t *transport) Direction() Direction { return t.direction }
func (t *transport) Info() TransportInfo { return t.info }

func (t *transport) Connect(_ context.Context, raw json.RawMessage) error {
	var params ConnectParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return fmt.Errorf("invalid connect parameters: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("transport is closed")
	}
	if t.connected {
		return nil
	}

	role := webrtc.ICERoleControlled
	if err := t.ice.Start(t.gatherer, params.ICEParameters, &role); err != nil {
		return fmt.Errorf("ICE start failed: %w", err)
	}
	if err := t.dtls.Start(params.DTLSParameters); err != nil {
		return fmt.Errorf("DTLS start failed: %w", err)
	}
	t.connected = true
	return nil
}

func (t *transport) Produce(_ context.Context, kind Kind, raw json.RawMessage) (Producer, error) {
	var params RTPParameters
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("invalid rtp parameters: %w", err)
	}
	if len(params.Codecs) == 0 {
		return nil, errors.New("rtp parameters carry no codec")
	}

	codecType := webrtc.RTPCodecTypeVideo
	if kind == KindAudio {
		codecType = webrtc.RTPCodecTypeAudio
	}

	receiver, err := t.eng.api.NewRTPReceiver(codecType, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("failed to create RTP receiver: %w", err)
	}

	encodings := make([]webrtc.RTPDecodingParameters, 0, len(params.Encodings))
	for _, e := range params.Encodings {
		encodings = append(encodings, webrtc.RTPDecodingParameters{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				RID:  e.RID,
				SSRC: webrtc.SSRC(e.SSRC),
			},
		})
	}
	if len(encodings) == 0 {
		encodings = append(encodings, webrtc.RTPDecodingParameters{})
	}
	if err := receiver.Receive(webrtc.RTPReceiveParameters{Encodings: encodings}); err != nil {
		return nil, fmt.Errorf("RTP receive failed: %w", err)
	}

	codec := params.Codecs[0]
	relay, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:    codec.MimeType,
		ClockRate:   codec.ClockRate,
		Channels:    codec.Channels,
		SDPFmtpLine: fmtpLine(codec.Parameters),
	}, uuid.New().String(), "waveline")
	if err != nil {
		receiver.Stop()
		return nil, fmt.Errorf("failed to create relay track: %w", err)
	}

	p := &producer{
		id:       uuid.New().String(),
		kind:     kind,
		params:   params,
		receiver: receiver,
		relay:    relay,
	}
	go p.forward()
	return p, nil
}

func (t *transport) Consume(_ context.Context, prod Producer, _ RTPCapabilities) (Consumer, error) {
	src, ok := prod.(*producer)
	if !ok {
		return nil, errors.New("producer does not belong to this engine")
	}

	sender, err := t.eng.api.NewRTPSender(src.relay, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("failed to create RTP sender: %w", err)
	}
	sendParams := sender.GetParameters()
	if err := sender.Send(sendParams); err != nil {
		return nil, fmt.Errorf("RTP send failed: %w", err)
	}

	return &consumer{
		id:         uuid.New().String(),
		producerID: src.id,
		kind:       src.kind,
		params:     consumerParameters(src.kind, sendParams),
		sender:     sender,
	}, nil
}

func (t *transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	var errs []error
	if err := t.dtls.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := t.ice.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := t.gatherer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// producer receives a published track and relays its packets onto a local
// track that consumers attach to.
type producer struct {
	id       string
	kind     Kind
	params   RTPParameters
	receiver *webrtc.RTPReceiver
	relay    *webrtc.TrackLocalStaticRTP

	closeOnce sync.Once
}

func (p *producer) ID() string { return p.id }
func (p *producer) Kind() Kind { return p.kind }
func (p *producer) RTPParameters() RTPParameters { return p.params }

// forward pumps RTP from the published track into the relay track. It exits
// when the receiver is stopped.
func (p *producer) forward() {
	track := p.receiver.Track()
	if track == nil {
		return
	}
	var pkt *rtp.Packet
	for {
		var err error
		pkt, _, err = track.ReadRTP()
		if err != nil {
			return
		}
		if err := p.relay.WriteRTP(pkt); err != nil {
			pkglog.L().Debug().Err(err).Str(pkglog.FieldProducerID, p.id).Msg("relay write failed")
			return
		}
	}
}

func (p *producer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.receiver.Stop()
	})
	return err
}

type consumer struct {
	id         string
	producerID string
	kind       Kind
	params     RTPParameters
	sender     *webrtc.RTPSender

	closeOnce sync.Once
}

func (c *consumer) ID() string { return c.id }
func (c *consumer) ProducerID() string { return c.producerID }
func (c *consumer) Kind() Kind { return c.kind }
func (c *consumer) RTPParameters() RTPParameters { return c.params }

func (c *consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.sender.Stop()
	})
	return err
}

// consumerParameters converts the sender's negotiated parameters into the
// wire form the receiving client decodes with.
func consumerParameters(kind Kind, sp webrtc.RTPSendParameters) RTPParameters {
	out := RTPParameters{}
	for _, c := range sp.Codecs {
		out.Codecs = append(out.Codecs, RTPCodecParameters{
			RTPCodecCapability: RTPCodecCapability{
				Kind:      kind,
				MimeType:  c.MimeType,
				ClockRate: c.ClockRate,
				Channels:  c.Channels,
			},
			PayloadType: uint8(c.PayloadType),
		})
	}
	for _, h := range sp.HeaderExtensions {
		out.HeaderExtensions = append(out.HeaderExtensions, RTPHeaderExtension{
			URI: h.URI,
			ID:  h.ID,
		})
	}
	for _, e := range sp.Encodings {
		out.Encodings = append(out.Encodings, RTPEncodingParameters{
			SSRC: uint32(e.SSRC),
			RID:  e.RID,
		})
	}
	return out
}
