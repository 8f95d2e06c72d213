package broker

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/sharetube/watchparty/pkg/wsrouter"
)

type hub struct {
	mu     sync.RWMutex
	topics map[string]map[*client]struct{}
	logger *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		topics: make(map[string]map[*client]struct{}),
		logger: logger,
	}
}

func (h *hub) subscribe(c *client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*client]struct{})
		h.topics[topic] = subs
	}
	subs[c] = struct{}{}
}

func (h *hub) unsubscribe(c *client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(c, topic)
}

func (h *hub) removeLocked(c *client, topic string) {
	subs, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}

func (h *hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for topic := range h.topics {
		h.removeLocked(c, topic)
	}
}

// publish fans a body out to every subscriber of topic, the sender included.
// It returns the number of clients the frame was queued for.
func (h *hub) publish(topic, body string) (int, error) {
	payload, err := json.Marshal(MessageOutput{Topic: topic, Body: body})
	if err != nil {
		return 0, err
	}
	frame, err := json.Marshal(wsrouter.Frame{Type: TypeMessage, Payload: payload})
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	subs := make([]*client, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		subs = append(subs, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range subs {
		if c.enqueue(frame) {
			delivered++
			continue
		}
		h.logger.Warn("client send buffer full, dropping client", "client_id", c.id)
		c.close()
	}

	return delivered, nil
}

func (h *hub) subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.topics[topic])
}
