package broker

// Frame types understood by the broker. Clients send SUBSCRIBE, UNSUBSCRIBE
// and PUBLISH; the broker answers with SUBSCRIBED, MESSAGE and ERROR.
const (
	TypeSubscribe   = "SUBSCRIBE"
	TypeUnsubscribe = "UNSUBSCRIBE"
	TypePublish     = "PUBLISH"

	TypeSubscribed = "SUBSCRIBED"
	TypeMessage    = "MESSAGE"
	TypeError      = "ERROR"
)

type TopicInput struct {
	Topic string `json:"topic" validate:"required"`
}

type PublishInput struct {
	Topic string `json:"topic" validate:"required"`
	Body  string `json:"body"`
}

type MessageOutput struct {
	Topic string `json:"topic"`
	Body  string `json:"body"`
}

type ErrorOutput struct {
	Message string `json:"message"`
}
