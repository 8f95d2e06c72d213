package message

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sharetube/watchparty/pkg/validator"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrMalformed   = errors.New("malformed message")
)

var validate = validator.New()

type envelope struct {
	Type Type `json:"type"`
}

// Decode parses one frame. Unknown types return ErrUnknownType so callers can drop
// them without failing.
func Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	var msg Message
	var err error
	switch env.Type {
	case TypeJoin:
		msg, err = decodeAs[Join](raw)
	case TypeLeave:
		msg, err = decodeAs[Leave](raw)
	case TypeChat:
		msg, err = decodeAs[Chat](raw)
	case TypeQueueUpdate:
		msg, err = decodeAs[QueueUpdate](raw)
	case TypeOwnerLeft:
		msg, err = decodeAs[OwnerLeft](raw)
	case TypeVideoUpdate:
		msg, err = decodeAs[VideoUpdate](raw)
	case TypeVideoPlay:
		msg, err = decodeAs[VideoPlay](raw)
	case TypeVideoPause:
		msg, err = decodeAs[VideoPause](raw)
	case TypeVideoProgress:
		msg, err = decodeAs[VideoProgress](raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", env.Type, err)
	}

	return msg, nil
}

func decodeAs[T Message](raw []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if err := validate.Validate(&m); err != nil {
		return nil, err
	}

	return m, nil
}

// Encode writes msg as a flat envelope with its "type" field set.
func Encode(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", msg.Type(), err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("failed to flatten %s: %w", msg.Type(), err)
	}

	typ, _ := json.Marshal(msg.Type())
	fields["type"] = typ

	return json.Marshal(fields)
}
