package room

import (
	"context"
	"fmt"

	"github.com/sharetube/watchparty/internal/message"
	"github.com/sharetube/watchparty/internal/transport"
)

// outbox encodes messages and publishes each on the topic its type belongs to.
type outbox struct {
	conn   transport.Conn
	roomID string
}

func (o *outbox) Publish(ctx context.Context, msg message.Message) error {
	payload, err := message.Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.Type(), err)
	}

	return o.conn.Publish(ctx, message.TopicFor(msg.Type().Topic(), o.roomID), payload)
}

func (o *outbox) Connected() bool {
	return o.conn.Connected()
}
