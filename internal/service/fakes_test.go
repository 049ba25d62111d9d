package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shuklatul1021/Waveline/internal/domain"
	"github.com/shuklatul1021/Waveline/internal/media"
)

// fakeConn records every message sent to one connection.
type fakeConn struct {
	mu   sync.Mutex
	msgs []*domain.Message
}

func (c *fakeConn) SendMessage(v any) error {
	msg, ok := v.(*domain.Message)
	if !ok {
		return fmt.Errorf("unexpected message type %T", v)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeConn) ofType(msgType string) []*domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*domain.Message
	for _, m := range c.msgs {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) count(msgType string) int {
	return len(c.ofType(msgType))
}

func (c *fakeConn) last(msgType string) *domain.Message {
	msgs := c.ofType(msgType)
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

// fakeEngine hands out fakeRouters and tracks teardown.
type fakeEngine struct {
	mu      sync.Mutex
	routers []*fakeRouter
	closed  bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{}
}

func (e *fakeEngine) NewRouter(ctx context.Context) (media.Router, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := &fakeRouter{canConsume: true}
	e.routers = append(e.routers, r)
	return r, nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

type fakeRouter struct {
	mu         sync.Mutex
	canConsume bool
	closed     bool
	seq        int
}

func (r *fakeRouter) RTPCapabilities() media.RTPCapabilities {
	return media.RTPCapabilities{Codecs: []media.RTPCodecCapability{
		{Kind: media.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{Kind: media.KindVideo, MimeType: "video/VP8", ClockRate: 90000},
	}}
}

func (r *fakeRouter) CreateTransport(ctx context.Context, direction media.Direction) (media.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return &fakeTransport{
		router:    r,
		id:        fmt.Sprintf("transport-%d", r.seq),
		direction: direction,
	}, nil
}

func (r *fakeRouter) CanConsume(producer media.Producer, caps media.RTPCapabilities) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canConsume
}

func (r *fakeRouter) setCanConsume(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.canConsume = v
}

func (r *fakeRouter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type fakeTransport struct {
	router    *fakeRouter
	id        string
	direction media.Direction
	connected bool
	closed    bool
}

func (t *fakeTransport) ID() string { return t.id }
func (t *fakeTransport) Direction() media.Direction { return t.direction }

func (t *fakeTransport) Info() media.TransportInfo {
	return media.TransportInfo{ID: t.id}
}

func (t *fakeTransport) Connect(ctx context.Context, params json.RawMessage) error {
	t.connected = true
	return nil
}

func (t *fakeTransport) Produce(ctx context.Context, kind media.Kind, rtpParameters json.RawMessage) (media.Producer, error) {
	t.router.mu.Lock()
	t.router.seq++
	id := fmt.Sprintf("producer-%d", t.router.seq)
	t.router.mu.Unlock()
	return &fakeProducer{id: id, kind: kind}, nil
}

func (t *fakeTransport) Consume(ctx context.Context, producer media.Producer, caps media.RTPCapabilities) (media.Consumer, error) {
	t.router.mu.Lock()
	t.router.seq++
	id := fmt.Sprintf("consumer-%d", t.router.seq)
	t.router.mu.Unlock()
	return &fakeConsumer{id: id, producerID: producer.ID(), kind: producer.Kind()}, nil
}

func (t *fakeTransport) Close() error {
	t.closed = true
	return nil
}

type fakeProducer struct {
	id     string
	kind   media.Kind
	closed bool
}

func (p *fakeProducer) ID() string { return p.id }
func (p *fakeProducer) Kind() media.Kind { return p.kind }
func (p *fakeProducer) RTPParameters() media.RTPParameters { return media.RTPParameters{} }
func (p *fakeProducer) Close() error {
	p.closed = true
	return nil
}

type fakeConsumer struct {
	id         string
	producerID string
	kind       media.Kind
	closed     bool
}

func (c *fakeConsumer) ID() string { return c.id }
func (c *fakeConsumer) ProducerID() string { return c.producerID }
func (c *fakeConsumer) Kind() media.Kind { return c.kind }
func (c *fakeConsumer) RTPParameters() media.RTPParameters { return media.RTPParameters{} }
func (c *fakeConsumer) Close() error {
	c.closed = true
	return nil
}
