// Package dispatcher decodes inbound room frames and hands each one to exactly
// one handler.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sharetube/watchparty/internal/message"
	"github.com/sharetube/watchparty/pkg/ctxlogger"
)

var ErrWrongTopic = errors.New("message arrived on the wrong topic")

type PlaybackHandler interface {
	HandleVideoUpdate(ctx context.Context, msg message.VideoUpdate)
	HandleVideoPlay(ctx context.Context, msg message.VideoPlay)
	HandleVideoPause(ctx context.Context, msg message.VideoPause)
	HandleVideoProgress(ctx context.Context, msg message.VideoProgress)
}

type QueueHandler interface {
	HandleQueueUpdate(ctx context.Context, msg message.QueueUpdate)
}

type LifecycleHandler interface {
	HandleJoin(ctx context.Context, msg message.Join)
	HandleLeave(ctx context.Context, msg message.Leave)
	HandleChat(ctx context.Context, msg message.Chat)
	HandleOwnerLeft(ctx context.Context, msg message.OwnerLeft)
}

type Dispatcher struct {
	playback  PlaybackHandler
	queue     QueueHandler
	lifecycle LifecycleHandler
	logger    *slog.Logger
}

func New(playback PlaybackHandler, queue QueueHandler, lifecycle LifecycleHandler, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		playback:  playback,
		queue:     queue,
		lifecycle: lifecycle,
		logger:    logger,
	}
}

// Dispatch routes one raw frame received on a topic of the given kind. Frames that
// cannot be decoded or that do not belong to the topic are logged and dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, kind message.TopicKind, raw []byte) {
	ctx = ctxlogger.AppendCtx(ctx, slog.String("topic", kind.String()))

	if err := d.dispatch(ctx, kind, raw); err != nil {
		d.logger.WarnContext(ctx, "dropping inbound message", "error", err, "raw", string(raw))
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, kind message.TopicKind, raw []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	msg, err := message.Decode(raw)
	if err != nil {
		return err
	}

	ctx = ctxlogger.AppendCtx(ctx, slog.String("message_type", string(msg.Type())))
	if msg.Type().Topic() != kind {
		return fmt.Errorf("%w: %s on %s", ErrWrongTopic, msg.Type(), kind)
	}

	d.logger.DebugContext(ctx, "message received")

	switch m := msg.(type) {
	case message.Join:
		d.lifecycle.HandleJoin(ctx, m)
	case message.Leave:
		d.lifecycle.HandleLeave(ctx, m)
	case message.Chat:
		d.lifecycle.HandleChat(ctx, m)
	case message.OwnerLeft:
		d.lifecycle.HandleOwnerLeft(ctx, m)
	case message.QueueUpdate:
		d.queue.HandleQueueUpdate(ctx, m)
	case message.VideoUpdate:
		d.playback.HandleVideoUpdate(ctx, m)
	case message.VideoPlay:
		d.playback.HandleVideoPlay(ctx, m)
	case message.VideoPause:
		d.playback.HandleVideoPause(ctx, m)
	case message.VideoProgress:
		d.playback.HandleVideoProgress(ctx, m)
	default:
		return fmt.Errorf("%w: %s", message.ErrUnknownType, msg.Type())
	}

	return nil
}
