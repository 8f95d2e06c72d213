// Package ws carries room topics over a websocket connection to the development broker.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sharetube/watchparty/internal/broker"
	"github.com/sharetube/watchparty/internal/transport"
	"github.com/sharetube/watchparty/pkg/wsrouter"
)

const writeWait = 10 * time.Second

type Conn struct {
	brokerURL string
	clientID  string
	dialer    *websocket.Dialer
	subs      *transport.Subscriptions
	opts      transport.Options
	clock     clock.Clock
	logger    *slog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	ws        *websocket.Conn
	cancel    context.CancelFunc
	connected bool
	closed    bool
}

func New(brokerURL string, opts transport.Options, clk clock.Clock, logger *slog.Logger) *Conn {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientID := uuid.NewString()

	return &Conn{
		brokerURL: brokerURL,
		clientID:  clientID,
		dialer:    websocket.DefaultDialer,
		subs:      transport.NewSubscriptions(),
		opts:      opts.WithDefaults(),
		clock:     clk,
		logger:    logger.With("client_id", clientID),
	}
}

func (c *Conn) ClientID() string {
	return c.clientID
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
		c.down()
		if ctx.Err() != nil {
			return
		}

		c.logger.WarnContext(ctx, "websocket transport dropped, reconnecting",
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

func (c *Conn) dialURL() (string, error) {
	u, err := url.Parse(c.brokerURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse broker url: %w", err)
	}

	q := u.Query()
	q.Set("client-id", c.clientID)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (c *Conn) session(ctx context.Context, onConnect func(context.Context)) error {
	target, err := c.dialURL()
	if err != nil {
		return err
	}

	ws, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}
	defer ws.Close()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.ws = ws
	c.mu.Unlock()

	deadline := 2 * c.opts.HeartbeatInterval
	ws.SetReadDeadline(time.Now().Add(deadline))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(deadline))
	})
	ws.SetPingHandler(func(appData string) error {
		ws.SetReadDeadline(time.Now().Add(deadline))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	topics := c.subs.Topics()
	for _, topic := range topics {
		if err := c.writeFrame(ws, broker.TypeSubscribe, broker.TopicInput{Topic: topic}); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}

	stopPing := make(chan struct{})
	defer close(stopPing)
	go c.ping(ws, stopPing)

	acked := 0
	if len(topics) == 0 {
		c.up(ctx, onConnect)
	}

	for {
		var frame wsrouter.Frame
		if err := ws.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read frame: %w", err)
		}

		switch frame.Type {
		case broker.TypeSubscribed:
			acked++
			if acked == len(topics) {
				c.up(ctx, onConnect)
			}
		case broker.TypeMessage:
			var msg broker.MessageOutput
			if err := json.Unmarshal(frame.Payload, &msg); err != nil {
				c.logger.WarnContext(ctx, "dropping malformed broker frame", "error", err)
				continue
			}
			c.subs.Deliver(ctx, msg.Topic, []byte(msg.Body))
		case broker.TypeError:
			c.logger.WarnContext(ctx, "broker rejected frame", "payload", string(frame.Payload))
		}
	}
}

func (c *Conn) ping(ws *websocket.Conn, stop <-chan struct{}) {
	ticker := c.clock.Ticker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Conn) up(ctx context.Context, onConnect func(context.Context)) {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "websocket transport connected")
	if onConnect != nil {
		onConnect(ctx)
	}
}

func (c *Conn) down() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	c.ws = nil
}

func (c *Conn) writeFrame(ws *websocket.Conn, frameType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(wsrouter.Frame{Type: frameType, Payload: data})
}

func (c *Conn) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	closed, connected, ws := c.closed, c.connected, c.ws
	c.mu.Unlock()

	if closed {
		return nil
	}
	if !connected || ws == nil {
		return transport.ErrNotConnected
	}

	if err := c.writeFrame(ws, broker.TypePublish, broker.PublishInput{Topic: topic, Body: string(payload)}); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	return nil
}

func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected
}

// Disconnect closes the socket without waiting for the reader to exit.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.connected = false
	if c.cancel != nil {
		c.cancel()
	}
	if c.ws != nil {
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		if err := c.ws.Close(); err != nil {
			return fmt.Errorf("failed to close websocket: %w", err)
		}
		c.ws = nil
	}

	return nil
}
