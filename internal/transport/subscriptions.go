package transport

import (
	"context"
	"sync"
)

// Subscriptions is the topic → handler table shared by the implementations.
type Subscriptions struct {
	mu     sync.RWMutex
	topics map[string][]Handler
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{topics: make(map[string][]Handler)}
}

func (s *Subscriptions) Add(topic string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.topics[topic] = append(s.topics[topic], handler)
}

func (s *Subscriptions) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topics := make([]string, 0, len(s.topics))
	for topic := range s.topics {
		topics = append(topics, topic)
	}

	return topics
}

// Deliver calls every handler of topic without holding the table lock, so handlers
// may publish.
func (s *Subscriptions) Deliver(ctx context.Context, topic string, payload []byte) int {
	s.mu.RLock()
	handlers := append([]Handler(nil), s.topics[topic]...)
	s.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, topic, payload)
	}

	return len(handlers)
}
