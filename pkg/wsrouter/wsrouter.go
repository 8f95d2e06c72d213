// Package wsrouter routes type-tagged JSON frames read from a websocket
// connection to typed handlers.
package wsrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

var ErrUnknownType = errors.New("unknown message type")

// Frame is the envelope every message on the wire is wrapped in.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type HandlerFunc[T any] func(ctx context.Context, conn *websocket.Conn, input T) error

type Middleware func(next HandlerFunc[json.RawMessage]) HandlerFunc[json.RawMessage]

// ErrorHandler is called with every handler error. Returning a non-nil error
// stops ServeConn.
type ErrorHandler func(ctx context.Context, conn *websocket.Conn, err error) error

type WSRouter struct {
	routes      map[string]HandlerFunc[json.RawMessage]
	middlewares []Middleware
	onError     ErrorHandler
}

func New() *WSRouter {
	return &WSRouter{
		routes: make(map[string]HandlerFunc[json.RawMessage]),
		onError: func(_ context.Context, _ *websocket.Conn, err error) error {
			return nil
		},
	}
}

func (r *WSRouter) Use(mw ...Middleware) {
	r.middlewares = append(r.middlewares, mw...)
}

func (r *WSRouter) OnError(h ErrorHandler) {
	r.onError = h
}

// Handle registers a handler whose payload is decoded into T before the call.
func Handle[T any](r *WSRouter, messageType string, handler HandlerFunc[T]) {
	r.routes[messageType] = func(ctx context.Context, conn *websocket.Conn, payload json.RawMessage) error {
		var input T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &input); err != nil {
				return fmt.Errorf("failed to unmarshal %s payload: %w", messageType, err)
			}
		}

		return handler(ctx, conn, input)
	}
}

func (r *WSRouter) ServeConn(ctx context.Context, conn *websocket.Conn) error {
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}

		if err := r.route(ctx, conn, &frame); err != nil {
			if err := r.onError(ctx, conn, err); err != nil {
				return err
			}
		}
	}
}

func (r *WSRouter) route(ctx context.Context, conn *websocket.Conn, frame *Frame) error {
	handler, exists := r.routes[frame.Type]
	if !exists {
		return fmt.Errorf("%w: %q", ErrUnknownType, frame.Type)
	}

	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}

	return handler(context.WithValue(ctx, messageTypeKey, frame.Type), conn, frame.Payload)
}
