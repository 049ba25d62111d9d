package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/shuklatul1021/Waveline/internal/domain"
	"github.com/shuklatul1021/Waveline/internal/media"
)

// Device is the client-side media engine the controller drives. It owns the
// local transports and tracks while the controller owns the signaling.
type Device interface {
	// Load primes the device with the router's RTP capabilities from the
	// roomJoined message.
	Load(routerCapabilities json.RawMessage) error
	// RTPCapabilities returns the device's receive capabilities for
	// consume requests. Valid after Load.
	RTPCapabilities() json.RawMessage
	// SetupTransport ingests server transport info and returns the
	// connect parameters to send back on connectTransport.
	SetupTransport(direction media.Direction, info domain.TransportCreatedData) (json.RawMessage, error)
	// Connect completes the handshake for a transport once the server
	// acknowledged connectTransport.
	Connect(ctx context.Context, direction media.Direction) error
	// ProduceParameters describes a local track of the given kind for a
	// produce request.
	ProduceParameters(kind media.Kind) (json.RawMessage, error)
	// Consume attaches a receiver for a remote producer's track using
	// the decode parameters from the consumed message.
	Consume(consumerID string, kind media.Kind, rtpParameters json.RawMessage) error
	// CloseConsumer stops the receiver for a consumer the server
	// announced closed.
	CloseConsumer(consumerID string) error
	Close() error
}

type deviceTransport struct {
	id       string
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	remoteICE        webrtc.ICEParameters
	remoteCandidates []webrtc.ICECandidate
	remoteDTLS       webrtc.DTLSParameters
}

// pionDevice is the ORTC-backed Device. The server gathers first, so the
// client side acts as the controlling ICE agent.
type pionDevice struct {
	api *webrtc.API

	mu         sync.Mutex
	loaded     bool
	routerCaps json.RawMessage
	recvCaps   json.RawMessage
	transports map[media.Direction]*deviceTransport
	consumers  map[string]*webrtc.RTPReceiver
	nextSSRC   uint32
}

// NewDevice builds a pion-backed client device.
func NewDevice() (Device, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}
	return &pionDevice{
		api:        webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine)),
		transports: make(map[media.Direction]*deviceTransport),
		consumers:  make(map[string]*webrtc.RTPReceiver),
		nextSSRC:   5000,
	}, nil
}

func (d *pionDevice) Load(routerCapabilities json.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loaded {
		return nil
	}
	var caps media.RTPCapabilities
	if err := json.Unmarshal(routerCapabilities, &caps); err != nil {
		return fmt.Errorf("invalid router capabilities: %w", err)
	}
	// The device consumes whatever subset of the router capabilities it
	// can decode. Default pion codecs cover the router's full set.
	recv, err := json.Marshal(caps)
	if err != nil {
		return err
	}
	d.routerCaps = routerCapabilities
	d.recvCaps = recv
	d.loaded = true
	return nil
}

func (d *pionDevice) RTPCapabilities() json.RawMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recvCaps
}

func (d *pionDevice) SetupTransport(direction media.Direction, info domain.TransportCreatedData) (json.RawMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		return nil, errors.New("device not loaded")
	}
	if _, ok := d.transports[direction]; ok {
		return nil, fmt.Errorf("transport for direction %s already set up", direction)
	}

	gatherer, err := d.api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create ICE gatherer: %w", err)
	}
	ice := d.api.NewICETransport(gatherer)
	dtls, err := d.api.NewDTLSTransport(ice, nil)
	if err != nil {
		gatherer.Close()
		return nil, fmt.Errorf("failed to create DTLS transport: %w", err)
	}

	done := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(done)
		}
	})
	if err := gatherer.Gather(); err != nil {
		gatherer.Close()
		return nil, fmt.Errorf("ICE gathering failed: %w", err)
	}
	<-done

	localICE, err := gatherer.GetLocalParameters()
	if err != nil {
		gatherer.Close()
		return nil, fmt.Errorf("failed to get ICE parameters: %w", err)
	}
	localDTLS, err := dtls.GetLocalParameters()
	if err != nil {
		gatherer.Close()
		return nil, fmt.Errorf("failed to get DTLS parameters: %w", err)
	}

	t := &deviceTransport{
		id:       info.ID,
		gatherer: gatherer,
		ice:      ice,
		dtls:     dtls,
	}
	if err := decodeRemote(info, t); err != nil {
		gatherer.Close()
		return nil, err
	}
	d.transports[direction] = t

	return json.Marshal(media.ConnectParams{
		ICEParameters:  localICE,
		DTLSParameters: localDTLS,
	})
}

// decodeRemote parses the server's transport parameters out of the
// transportCreated payload.
func decodeRemote(info domain.TransportCreatedData, t *deviceTransport) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return err
	}
	var remote media.TransportInfo
	if err := json.Unmarshal(raw, &remote); err != nil {
		return fmt.Errorf("invalid transport parameters: %w", err)
	}
	t.remoteICE = remote.ICEParameters
	t.remoteCandidates = remote.ICECandidates
	t.remoteDTLS = remote.DTLSParameters
	return nil
}

func (d *pionDevice) Connect(ctx context.Context, direction media.Direction) error {
	d.mu.Lock()
	t, ok := d.transports[direction]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("no transport for direction %s", direction)
	}

	if err := t.ice.SetRemoteCandidates(t.remoteCandidates); err != nil {
		return fmt.Errorf("failed to set remote candidates: %w", err)
	}
	role := webrtc.ICERoleControlling
	if err := t.ice.Start(t.gatherer, t.remoteICE, &role); err != nil {
		return fmt.Errorf("ICE start failed: %w", err)
	}
	if err := t.dtls.Start(t.remoteDTLS); err != nil {
		return fmt.Errorf("DTLS start failed: %w", err)
	}
	return nil
}

func (d *pionDevice) ProduceParameters(kind media.Kind) (json.RawMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		return nil, errors.New("device not loaded")
	}

	var caps media.RTPCapabilities
	if err := json.Unmarshal(d.routerCaps, &caps); err != nil {
		return nil, err
	}
	var codec *media.RTPCodecCapability
	for i := range caps.Codecs {
		if caps.Codecs[i].Kind == kind {
			codec = &caps.Codecs[i]
			break
		}
	}
	if codec == nil {
		return nil, fmt.Errorf("router offers no %s codec", kind)
	}

	d.nextSSRC++
	params := media.RTPParameters{
		Codecs: []media.RTPCodecParameters{{
			RTPCodecCapability: *codec,
		}},
		Encodings: []media.RTPEncodingParameters{{SSRC: d.nextSSRC}},
	}
	return json.Marshal(params)
}

func (d *pionDevice) Consume(consumerID string, kind media.Kind, rtpParameters json.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.transports[media.DirectionRecv]
	if !ok {
		return errors.New("recv transport not set up")
	}
	if _, ok := d.consumers[consumerID]; ok {
		return fmt.Errorf("consumer %s already attached", consumerID)
	}

	var params media.RTPParameters
	if err := json.Unmarshal(rtpParameters, &params); err != nil {
		return fmt.Errorf("invalid rtp parameters: %w", err)
	}

	codecType := webrtc.RTPCodecTypeAudio
	if kind == media.KindVideo {
		codecType = webrtc.RTPCodecTypeVideo
	}
	receiver, err := d.api.NewRTPReceiver(codecType, t.dtls)
	if err != nil {
		return fmt.Errorf("failed to create receiver: %w", err)
	}

	encodings := make([]webrtc.RTPDecodingParameters, 0, len(params.Encodings))
	for _, e := range params.Encodings {
		encodings = append(encodings, webrtc.RTPDecodingParameters{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC: webrtc.SSRC(e.SSRC),
				RID:  e.RID,
			},
		})
	}
	if len(encodings) == 0 {
		encodings = append(encodings, webrtc.RTPDecodingParameters{})
	}
	if err := receiver.Receive(webrtc.RTPReceiveParameters{Encodings: encodings}); err != nil {
		return fmt.Errorf("receive failed: %w", err)
	}

	d.consumers[consumerID] = receiver
	return nil
}

func (d *pionDevice) CloseConsumer(consumerID string) error {
	d.mu.Lock()
	receiver, ok := d.consumers[consumerID]
	delete(d.consumers, consumerID)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return receiver.Stop()
}

func (d *pionDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for id, receiver := range d.consumers {
		if err := receiver.Stop(); err != nil {
			errs = append(errs, err)
		}
		delete(d.consumers, id)
	}
	for dir, t := range d.transports {
		if err := t.dtls.Stop(); err != nil {
			errs = append(errs, err)
		}
		if err := t.ice.Stop(); err != nil {
			errs = append(errs, err)
		}
		if err := t.gatherer.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(d.transports, dir)
	}
	return errors.Join(errs...)
}
