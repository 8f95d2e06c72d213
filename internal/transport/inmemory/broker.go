// Package inmemory is an in-process topic broker. Like the production brokers it
// echoes every frame to all subscribers, the publisher included.
package inmemory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/sharetube/watchparty/internal/transport"
)

type Frame struct {
	Topic   string
	Payload []byte
}

type Broker struct {
	mu      sync.RWMutex
	conns   map[*Conn]struct{}
	history []Frame
}

func NewBroker() *Broker {
	return &Broker{conns: make(map[*Conn]struct{})}
}

func (b *Broker) attach(c *Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.conns[c] = struct{}{}
}

func (b *Broker) detach(c *Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.conns, c)
}

func (b *Broker) publish(ctx context.Context, topic string, payload []byte) {
	b.mu.Lock()
	b.history = append(b.history, Frame{Topic: topic, Payload: append([]byte(nil), payload...)})
	conns := make([]*Conn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.deliver(ctx, topic, payload)
	}
}

// History returns every frame published on topic, or on all topics when topic is empty.
func (b *Broker) History(topic string) []Frame {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Frame, 0, len(b.history))
	for _, f := range b.history {
		if topic == "" || f.Topic == topic {
			out = append(out, f)
		}
	}

	return out
}

type Conn struct {
	broker *Broker
	subs   *transport.Subscriptions
	opts   transport.Options
	clock  clock.Clock
	logger *slog.Logger

	mu        sync.Mutex
	ctx       context.Context
	onConnect func(context.Context)
	connected bool
	closed    bool
	reconnect *clock.Timer
}

func (b *Broker) NewConn(opts transport.Options, clk clock.Clock, logger *slog.Logger) *Conn {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Conn{
		broker: b,
		subs:   transport.NewSubscriptions(),
		opts:   opts.WithDefaults(),
		clock:  clk,
		logger: logger,
	}
}

func (c *Conn) Subscribe(topic string, handler transport.Handler) {
	c.subs.Add(topic, handler)
}

// Connect attaches synchronously and runs onConnect before returning.
func (c *Conn) Connect(ctx context.Context, onConnect func(context.Context)) error {
	c.mu.Lock()
	if c.connected || c.closed {
		c.mu.Unlock()
		return transport.ErrAlreadyConnected
	}
	c.ctx = ctx
	c.onConnect = onConnect
	c.mu.Unlock()

	c.up()

	return nil
}

func (c *Conn) up() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.connected = true
	ctx, onConnect := c.ctx, c.onConnect
	c.mu.Unlock()

	c.broker.attach(c)
	c.logger.DebugContext(ctx, "inmemory transport connected")

	if onConnect != nil {
		onConnect(ctx)
	}
}

// Drop simulates a lost link. The connection comes back after the reconnect delay.
func (c *Conn) Drop() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.reconnect = c.clock.AfterFunc(c.opts.ReconnectDelay, c.up)
	c.mu.Unlock()

	c.broker.detach(c)
	c.logger.Info("inmemory transport dropped, reconnecting", "delay", c.opts.ReconnectDelay)
}

func (c *Conn) deliver(ctx context.Context, topic string, payload []byte) {
	if !c.Connected() {
		return
	}

	c.subs.Deliver(ctx, topic, append([]byte(nil), payload...))
}

func (c *Conn) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	closed, connected := c.closed, c.connected
	c.mu.Unlock()

	if closed {
		return nil
	}
	if !connected {
		return transport.ErrNotConnected
	}

	c.broker.publish(ctx, topic, payload)

	return nil
}

func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected
}

func (c *Conn) Disconnect() error {
	c.mu.Lock()
	c.closed = true
	c.connected = false
	if c.reconnect != nil {
		c.reconnect.Stop()
	}
	c.mu.Unlock()

	c.broker.detach(c)

	return nil
}
