// Package redis carries room topics over Redis pub/sub channels.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"github.com/sharetube/watchparty/internal/transport"
)

type Conn struct {
	rc     *redis.Client
	subs   *transport.Subscriptions
	opts   transport.Options
	clock  clock.Clock
	logger *slog.Logger

	mu        sync.Mutex
	ps        *redis.PubSub
	cancel    context.CancelFunc
	connected bool
	closed    bool
}

func New(rc *redis.Client, opts transport.Options, clk clock.Clock, logger *slog.Logger) *Conn {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Conn{
		rc:     rc,
		subs:   transport.NewSubscriptions(),
		opts:   opts.WithDefaults(),
		clock:  clk,
		logger: logger,
	}
}

func (c *Conn) Subscribe(topic string, handler transport.Handler) {
	c.subs.Add(topic, handler)
}

func (c *Conn) Connect(ctx context.Context, onConnect func(context.Context)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil || c.closed {
		return transport.ErrAlreadyConnected
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.run(runCtx, onConnect)

	return nil
}

func (c *Conn) run(ctx context.Context, onConnect func(context.Context)) {
	for {
		err := c.session(ctx, onConnect)
		c.setConnected(false)
		if ctx.Err() != nil {
			return
		}

		c.logger.WarnContext(ctx, "redis transport dropped, reconnecting",
			"error", err,
			"delay", c.opts.ReconnectDelay,
		)

		t := c.clock.Timer(c.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (c *Conn) session(ctx context.Context, onConnect func(context.Context)) error {
	ps := c.rc.Subscribe(ctx, c.subs.Topics()...)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.ps = ps
	c.connected = true
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "redis transport connected", "topics", c.subs.Topics())
	if onConnect != nil {
		onConnect(ctx)
	}

	for {
		msg, err := ps.ReceiveTimeout(ctx, c.opts.HeartbeatInterval)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if err := ps.Ping(ctx); err != nil {
					return fmt.Errorf("heartbeat failed: %w", err)
				}
				continue
			}

			return fmt.Errorf("failed to receive: %w", err)
		}

		if m, ok := msg.(*redis.Message); ok {
			c.subs.Deliver(ctx, m.Channel, []byte(m.Payload))
		}
	}
}

func (c *Conn) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = connected
	if !connected {
		c.ps = nil
	}
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

	if err := c.rc.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	return nil
}

func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected
}

// Disconnect stops the reader without waiting for it, so it is safe to call from
// a message handler.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.connected = false
	if c.cancel != nil {
		c.cancel()
	}
	if c.ps != nil {
		if err := c.ps.Close(); err != nil {
			return fmt.Errorf("failed to close pubsub: %w", err)
		}
		c.ps = nil
	}

	return nil
}
