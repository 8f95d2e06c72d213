// Package queue manages the room's vote-ranked list of upcoming videos and keeps
// it in step across clients.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sharetube/watchparty/internal/authority"
	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/internal/message"
	"github.com/sharetube/watchparty/internal/playback"
	"github.com/sharetube/watchparty/pkg/taskgroup"
)

const (
	InitRetryInterval = time.Second
	InitRetryTimeout  = 10 * time.Second
)

var ErrEmptyQueue = errors.New("queue is empty")

// Store is the per-room durable queue cache.
type Store interface {
	Load(ctx context.Context, roomID string) ([]domain.QueueItem, error)
	Save(ctx context.Context, roomID string, items []domain.QueueItem) error
	Delete(ctx context.Context, roomID string) error
}

type Publisher interface {
	Publish(ctx context.Context, msg message.Message) error
	Connected() bool
}

// Selector starts playing a video right away.
type Selector interface {
	Loaded() bool
	Select(ctx context.Context, v playback.Video, autoplay bool) error
}

type TrendingSource interface {
	Trending(ctx context.Context) ([]domain.QueueItem, error)
}

type Params struct {
	Guard     *authority.Guard
	Store     Store
	Publisher Publisher
	Selector  Selector
	Trending  TrendingSource
	Tasks     *taskgroup.Group
	Logger    *slog.Logger
}

type Manager struct {
	guard    *authority.Guard
	store    Store
	pub      Publisher
	selector Selector
	trending TrendingSource
	tasks    *taskgroup.Group
	logger   *slog.Logger

	mu    sync.Mutex
	queue *domain.Queue
}

func New(p *Params) *Manager {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		guard:    p.Guard,
		store:    p.Store,
		pub:      p.Publisher,
		selector: p.Selector,
		trending: p.Trending,
		tasks:    p.Tasks,
		logger:   logger,
		queue:    domain.NewQueue(nil),
	}
}

func (m *Manager) roomID() string {
	return m.guard.RoomID()
}

// Items returns a copy of the queue in display order.
func (m *Manager) Items() []domain.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.queue.AsList()
}

// mutate applies fn under the lock, then persists and broadcasts the result.
func (m *Manager) mutate(ctx context.Context, fn func(q *domain.Queue) error) ([]domain.QueueItem, error) {
	m.mu.Lock()
	if err := fn(m.queue); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	items := m.queue.AsList()
	m.mu.Unlock()

	m.persist(ctx, items)
	if err := m.BroadcastQueueUpdate(ctx, items); err != nil && !errors.Is(err, ErrEmptyQueue) {
		m.logger.WarnContext(ctx, "failed to broadcast queue", "error", err)
	}

	return items, nil
}

func (m *Manager) persist(ctx context.Context, items []domain.QueueItem) {
	if err := m.store.Save(ctx, m.roomID(), items); err != nil {
		m.logger.WarnContext(ctx, "failed to save queue", "error", err)
	}
}

// AddOrVote adds candidate with the local user's vote, or votes for it if it is
// already queued. An owner with nothing playing skips the queue and plays it.
func (m *Manager) AddOrVote(ctx context.Context, candidate domain.QueueItem) ([]domain.QueueItem, error) {
	if m.guard.IsOwner() && !m.selector.Loaded() {
		if err := m.selector.Select(ctx, playback.VideoFromItem(candidate), true); err != nil {
			return nil, fmt.Errorf("failed to play candidate: %w", err)
		}
		return m.Items(), nil
	}

	voter := m.guard.User()
	return m.mutate(ctx, func(q *domain.Queue) error {
		q.AddOrVote(candidate, voter)
		return nil
	})
}

// Vote moves the local user's vote to the item at index.
func (m *Manager) Vote(ctx context.Context, index int) ([]domain.QueueItem, error) {
	voter := m.guard.User()
	return m.mutate(ctx, func(q *domain.Queue) error {
		return q.Vote(index, voter)
	})
}

// Remove deletes the item at index. Owner only.
func (m *Manager) Remove(ctx context.Context, index int) ([]domain.QueueItem, error) {
	if err := m.guard.Authorize(ctx, authority.ActionRemoveVideo); err != nil {
		return nil, err
	}

	return m.mutate(ctx, func(q *domain.Queue) error {
		_, err := q.RemoveAt(index)
		return err
	})
}

// PromoteNext takes the most-voted item out of the queue. When nothing has a vote
// the queue is refilled from trending videos and nothing is promoted.
func (m *Manager) PromoteNext(ctx context.Context) (domain.QueueItem, bool) {
	var promoted domain.QueueItem
	var found bool
	if _, err := m.mutate(ctx, func(q *domain.Queue) error {
		promoted, found = q.PopMostVoted()
		if !found {
			return ErrEmptyQueue
		}
		return nil
	}); err == nil {
		m.logger.InfoContext(ctx, "promoted next video", "video_id", promoted.ID, "votes", promoted.Votes)
		return promoted, true
	}

	m.refill(ctx)

	return domain.QueueItem{}, false
}

func (m *Manager) refill(ctx context.Context) {
	items, err := m.fetchTrending(ctx)
	if err != nil || len(items) == 0 {
		return
	}

	if _, err := m.mutate(ctx, func(q *domain.Queue) error {
		q.Replace(items)
		return nil
	}); err != nil {
		m.logger.WarnContext(ctx, "failed to refill queue", "error", err)
	}
}

func (m *Manager) fetchTrending(ctx context.Context) ([]domain.QueueItem, error) {
	if m.trending == nil {
		return nil, nil
	}

	items, err := m.trending.Trending(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "failed to fetch trending videos", "error", err)
		return nil, err
	}

	return items, nil
}

// BroadcastQueueUpdate publishes items to the room. An empty queue is never
// published so a late client cannot wipe a fuller queue elsewhere.
func (m *Manager) BroadcastQueueUpdate(ctx context.Context, items []domain.QueueItem) error {
	if len(items) == 0 {
		return ErrEmptyQueue
	}

	if err := m.pub.Publish(ctx, message.QueueUpdate{RoomID: m.roomID(), Queue: items}); err != nil {
		return fmt.Errorf("failed to publish queue update: %w", err)
	}

	return nil
}

// HandleQueueUpdate replaces the local queue with a non-empty queue broadcast for
// this room. The last update received wins.
func (m *Manager) HandleQueueUpdate(ctx context.Context, msg message.QueueUpdate) {
	if msg.RoomID != m.roomID() {
		m.logger.DebugContext(ctx, "ignoring queue for another room", "queue_room_id", msg.RoomID)
		return
	}
	if len(msg.Queue) == 0 {
		m.logger.DebugContext(ctx, "ignoring empty queue update")
		return
	}

	m.mu.Lock()
	m.queue.Replace(msg.Queue)
	items := m.queue.AsList()
	m.mu.Unlock()

	m.persist(ctx, items)
}

// Init loads the cached queue. Without one, the owner seeds the queue from
// trending videos and broadcasts it, polling for the connection for a while if
// it is not up yet. Other clients wait for the owner's broadcast.
func (m *Manager) Init(ctx context.Context) {
	items, err := m.store.Load(ctx, m.roomID())
	if err != nil {
		m.logger.WarnContext(ctx, "failed to load cached queue", "error", err)
	}
	if len(items) > 0 {
		m.mu.Lock()
		m.queue.Replace(items)
		m.mu.Unlock()
		m.logger.DebugContext(ctx, "queue restored from cache", "items", len(items))
		return
	}

	if !m.guard.IsOwner() {
		m.logger.DebugContext(ctx, "waiting for queue from owner")
		return
	}

	trending, _ := m.fetchTrending(ctx)
	if len(trending) == 0 {
		return
	}

	m.mu.Lock()
	m.queue.Replace(trending)
	items = m.queue.AsList()
	m.mu.Unlock()
	m.persist(ctx, items)

	if m.pub.Connected() {
		if err := m.BroadcastQueueUpdate(ctx, items); err != nil {
			m.logger.WarnContext(ctx, "failed to broadcast initial queue", "error", err)
		}
		return
	}

	m.broadcastWhenConnected(items)
}

func (m *Manager) broadcastWhenConnected(items []domain.QueueItem) {
	var once sync.Once
	var stopPoll, stopTimeout func()
	done := make(chan struct{})
	stop := func() {
		once.Do(func() {
			close(done)
		})
	}

	stopPoll = m.tasks.Every(InitRetryInterval, func(ctx context.Context) {
		select {
		case <-done:
			return
		default:
		}
		if !m.pub.Connected() {
			return
		}

		stop()
		if err := m.BroadcastQueueUpdate(ctx, items); err != nil {
			m.logger.WarnContext(ctx, "failed to broadcast initial queue", "error", err)
		}
	})
	stopTimeout = m.tasks.After(InitRetryTimeout, func(ctx context.Context) {
		stop()
	})

	m.tasks.Go(func(ctx context.Context) {
		select {
		case <-ctx.Done():
		case <-done:
		}
		stopPoll()
		stopTimeout()
	})
}

// Purge drops the room's cached queue.
func (m *Manager) Purge(ctx context.Context) error {
	if err := m.store.Delete(ctx, m.roomID()); err != nil {
		return fmt.Errorf("failed to purge queue cache: %w", err)
	}

	return nil
}
