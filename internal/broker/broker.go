// Package broker is a development topic broker. Clients connect over a websocket,
// subscribe to topics and publish frames that are fanned out to every subscriber.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sharetube/watchparty/pkg/ctxlogger"
	"github.com/sharetube/watchparty/pkg/validator"
	"github.com/sharetube/watchparty/pkg/wsrouter"
)

const DefaultHeartbeatInterval = 10 * time.Second

type Config struct {
	HeartbeatInterval time.Duration
}

type Broker struct {
	hub       *hub
	upgrader  websocket.Upgrader
	router    *wsrouter.WSRouter
	validate  *validator.Validator
	heartbeat time.Duration
	logger    *slog.Logger
}

func New(cfg *Config, logger *slog.Logger) *Broker {
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}

	b := &Broker{
		hub: newHub(logger),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		validate:  validator.New(),
		heartbeat: heartbeat,
		logger:    logger,
	}
	b.router = b.getWSRouter()

	return b
}

func (b *Broker) getWSRouter() *wsrouter.WSRouter {
	mux := wsrouter.New()
	mux.Use(b.loggerWSMw)
	mux.OnError(b.handleFrameError)

	wsrouter.Handle(mux, TypeSubscribe, b.handleSubscribe)
	wsrouter.Handle(mux, TypeUnsubscribe, b.handleUnsubscribe)
	wsrouter.Handle(mux, TypePublish, b.handlePublish)

	return mux
}

func (b *Broker) Mux() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(b.requestIdMw)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Get("/ws", b.serveWS)

	return r
}

func (b *Broker) requestIdMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ctxlogger.AppendCtx(r.Context(), slog.String("request_id", uuid.NewString()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (b *Broker) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.InfoContext(r.Context(), "failed to upgrade connection", "error", err)
		return
	}

	clientID := r.URL.Query().Get("client-id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	c := newClient(clientID, conn)
	ctx := ctxlogger.AppendCtx(r.Context(), slog.String("client_id", c.id))
	ctx = context.WithValue(ctx, clientCtxKey, c)

	conn.SetReadDeadline(time.Now().Add(2 * b.heartbeat))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * b.heartbeat))
	})
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(2 * b.heartbeat))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	b.logger.InfoContext(ctx, "client connected")
	go c.writePump(b.heartbeat)

	err = b.router.ServeConn(ctx, conn)

	b.hub.drop(c)
	c.close()
	b.logger.InfoContext(ctx, "client disconnected", "reason", err)
}

type ctxKey int

const clientCtxKey ctxKey = iota

func clientFromCtx(ctx context.Context) *client {
	c, _ := ctx.Value(clientCtxKey).(*client)
	return c
}

func (b *Broker) loggerWSMw(next wsrouter.HandlerFunc[json.RawMessage]) wsrouter.HandlerFunc[json.RawMessage] {
	return func(ctx context.Context, conn *websocket.Conn, payload json.RawMessage) error {
		ctx = ctxlogger.AppendCtx(ctx, slog.String("message_type", wsrouter.GetMessageTypeFromCtx(ctx)))
		start := time.Now()

		err := next(ctx, conn, payload)

		b.logger.DebugContext(ctx, "websocket frame handled",
			"processing_time_us", time.Since(start).Microseconds(),
		)

		return err
	}
}

var errNoClient = errors.New("no client in context")

func (b *Broker) reply(ctx context.Context, frameType string, payload any) error {
	c := clientFromCtx(ctx)
	if c == nil {
		return errNoClient
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", frameType, err)
	}
	frame, err := json.Marshal(wsrouter.Frame{Type: frameType, Payload: data})
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	if !c.enqueue(frame) {
		c.close()
	}

	return nil
}

func (b *Broker) handleFrameError(ctx context.Context, _ *websocket.Conn, err error) error {
	b.logger.InfoContext(ctx, "rejected frame", "error", err)
	if err := b.reply(ctx, TypeError, ErrorOutput{Message: err.Error()}); err != nil {
		return fmt.Errorf("failed to write error: %w", err)
	}

	return nil
}

func (b *Broker) handleSubscribe(ctx context.Context, _ *websocket.Conn, input TopicInput) error {
	if err := b.validate.Validate(input); err != nil {
		return err
	}

	b.hub.subscribe(clientFromCtx(ctx), input.Topic)

	return b.reply(ctx, TypeSubscribed, input)
}

func (b *Broker) handleUnsubscribe(ctx context.Context, _ *websocket.Conn, input TopicInput) error {
	if err := b.validate.Validate(input); err != nil {
		return err
	}

	b.hub.unsubscribe(clientFromCtx(ctx), input.Topic)

	return nil
}

func (b *Broker) handlePublish(ctx context.Context, _ *websocket.Conn, input PublishInput) error {
	if err := b.validate.Validate(input); err != nil {
		return err
	}

	delivered, err := b.hub.publish(input.Topic, input.Body)
	if err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	b.logger.DebugContext(ctx, "frame published", "topic", input.Topic, "delivered", delivered)

	return nil
}

// Subscribers reports how many clients are subscribed to topic.
func (b *Broker) Subscribers(topic string) int {
	return b.hub.subscribers(topic)
}
