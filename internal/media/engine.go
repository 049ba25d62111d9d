package media

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"

	pkglog "github.com/shuklatul1021/Waveline/pkg/log"
)

// Config holds the engine worker settings.
type Config struct {
	// UDPPortMin/UDPPortMax bound the ephemeral port range used for media.
	UDPPortMin uint16 `mapstructure:"udp_port_min"`
	UDPPortMax uint16 `mapstructure:"udp_port_max"`
	// AnnouncedIP is advertised in ICE candidates instead of the local
	// address, for deployments behind 1:1 NAT.
	AnnouncedIP string `mapstructure:"announced_ip"`
}

// DefaultCodecs is the fixed per-room codec set negotiated at room creation.
func DefaultCodecs() []RTPCodecCapability {
	return []RTPCodecCapability{
		{
			Kind:      KindAudio,
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
			Parameters: map[string]any{
				"minptime":     10,
				"useinbandfec": 1,
			},
		},
		{
			Kind:      KindVideo,
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		},
		{
			Kind:      KindVideo,
			MimeType:  webrtc.MimeTypeVP9,
			ClockRate: 90000,
			Parameters: map[string]any{
				"profile-id": 2,
			},
		},
		{
			Kind:      KindVideo,
			MimeType:  webrtc.MimeTypeH264,
			ClockRate: 90000,
			Parameters: map[string]any{
				"packetization-mode":      1,
				"profile-level-id":        "42001f",
				"level-asymmetry-allowed": 1,
			},
		},
	}
}

// payload types mirror the ones the browser stack expects for this codec set.
var payloadTypes = map[string]webrtc.PayloadType{
	webrtc.MimeTypeOpus: 111,
	webrtc.MimeTypeVP8:  96,
	webrtc.MimeTypeVP9:  98,
	webrtc.MimeTypeH264: 102,
}

type engine struct {
	api    *webrtc.API
	codecs []RTPCodecCapability
}

// NewEngine builds the pion-backed selective-forwarding engine.
func NewEngine(cfg Config) (Engine, error) {
	codecs := DefaultCodecs()

	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetLite(true)
	if cfg.UDPPortMin > 0 && cfg.UDPPortMax >= cfg.UDPPortMin {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.UDPPortMin, cfg.UDPPortMax); err != nil {
			return nil, fmt.Errorf("failed to set udp port range: %w", err)
		}
	}
	if cfg.AnnouncedIP != "" {
		settingEngine.SetNAT1To1IPs([]string{cfg.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}

	mediaEngine := &webrtc.MediaEngine{}
	for _, c := range codecs {
		codecType := webrtc.RTPCodecTypeVideo
		if c.Kind == KindAudio {
			codecType = webrtc.RTPCodecTypeAudio
		}
		if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    c.MimeType,
				ClockRate:   c.ClockRate,
				Channels:    c.Channels,
				SDPFmtpLine: fmtpLine(c.Parameters),
			},
			PayloadType: payloadTypes[c.MimeType],
		}, codecType); err != nil {
			return nil, fmt.Errorf("failed to register codec %s: %w", c.MimeType, err)
		}
	}

	interceptorRegistry := &interceptor.Registry{}
	pliFactory, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("failed to create PLI interceptor: %w", err)
	}
	interceptorRegistry.Add(pliFactory)
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(settingEngine),
	)

	return &engine{api: api, codecs: codecs}, nil
}

func (e *engine) NewRouter(_ context.Context) (Router, error) {
	r := &router{
		id:  uuid.New().String(),
		eng: e,
		caps: RTPCapabilities{
			Codecs: e.codecs,
		},
	}
	pkglog.L().Debug().Str("router_id", r.id).Msg("router created")
	return r, nil
}

func (e *engine) Close() error {
	return nil
}

// router is the per-room routing context.
type router struct {
	id   string
	eng  *engine
	caps RTPCapabilities
}

func (r *router) RTPCapabilities() RTPCapabilities {
	return r.caps
}

func (r *router) CanConsume(producer Producer, caps RTPCapabilities) bool {
	for _, produced := range producer.RTPParameters().Codecs {
		for _, supported := range caps.Codecs {
			if codecMatch(produced.RTPCodecCapability, supported) {
				return true
			}
		}
	}
	return false
}

func (r *router) Close() error {
	pkglog.L().Debug().Str("router_id", r.id).Msg("router closed")
	return nil
}

func codecMatch(a, b RTPCodecCapability) bool {
	return strings.EqualFold(a.MimeType, b.MimeType) && a.ClockRate == b.ClockRate
}

// fmtpLine renders codec parameters as an SDP fmtp attribute line.
func fmtpLine(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, ";")
}
