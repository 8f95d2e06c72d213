// Package transport is the room's publish/subscribe connection. Delivery is
// at-most-once with no ordering across publishers; publishers get no acknowledgement.
package transport

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotConnected     = errors.New("transport not connected")
	ErrAlreadyConnected = errors.New("transport already connected")
)

const (
	DefaultReconnectDelay    = 5 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
)

// Handler receives one frame from a subscribed topic.
type Handler func(ctx context.Context, topic string, payload []byte)

// Conn is one connection per open room.
type Conn interface {
	// Subscribe registers handler for topic. Subscriptions survive reconnects.
	Subscribe(topic string, handler Handler)
	// Connect starts the connection in the background. onConnect runs after every
	// successful (re)connect, once subscriptions are active.
	Connect(ctx context.Context, onConnect func(ctx context.Context)) error
	// Publish returns ErrNotConnected while the link is down and nil after Disconnect.
	Publish(ctx context.Context, topic string, payload []byte) error
	Connected() bool
	Disconnect() error
}

type Options struct {
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
}

func (o Options) WithDefaults() Options {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return o
}
