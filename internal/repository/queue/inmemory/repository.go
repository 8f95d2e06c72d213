package inmemory

import (
	"context"
	"slices"
	"sync"

	"github.com/sharetube/watchparty/internal/domain"
)

type repo struct {
	mu     sync.RWMutex
	queues map[string][]domain.QueueItem
}

func NewRepo() *repo {
	return &repo{
		queues: make(map[string][]domain.QueueItem),
	}
}

func (r *repo) Load(_ context.Context, roomID string) ([]domain.QueueItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return domain.NewQueue(r.queues[roomID]).AsList(), nil
}

func (r *repo) Save(_ context.Context, roomID string, items []domain.QueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.queues[roomID] = domain.NewQueue(slices.Clone(items)).AsList()

	return nil
}

func (r *repo) Delete(_ context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.queues, roomID)

	return nil
}
