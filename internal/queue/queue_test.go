package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sharetube/watchparty/internal/authority"
	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/internal/message"
	"github.com/sharetube/watchparty/internal/playback"
	"github.com/sharetube/watchparty/internal/repository/queue/inmemory"
	"github.com/sharetube/watchparty/pkg/taskgroup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu        sync.Mutex
	msgs      []message.Message
	connected atomic.Bool
}

func (p *fakePublisher) Publish(_ context.Context, msg message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *fakePublisher) Connected() bool {
	return p.connected.Load()
}

func (p *fakePublisher) queueUpdates() []message.QueueUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []message.QueueUpdate
	for _, m := range p.msgs {
		if qu, ok := m.(message.QueueUpdate); ok {
			out = append(out, qu)
		}
	}
	return out
}

type fakeSelector struct {
	mu       sync.Mutex
	loaded   bool
	selected []playback.Video
}

func (s *fakeSelector) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

func (s *fakeSelector) Select(_ context.Context, v playback.Video, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = true
	s.selected = append(s.selected, v)
	return nil
}

type fakeTrending struct {
	items []domain.QueueItem
	err   error
	calls atomic.Int32
}

func (f *fakeTrending) Trending(context.Context) ([]domain.QueueItem, error) {
	f.calls.Add(1)
	return f.items, f.err
}

type harness struct {
	mgr      *Manager
	pub      *fakePublisher
	selector *fakeSelector
	trending *fakeTrending
	store    Store
	clock    *clock.Mock
	notices  []authority.Notice
}

var (
	alice = domain.User{Username: "alice", AvatarURL: "a.png"}
	bob   = domain.User{Username: "bob", AvatarURL: "b.png"}
)

func newHarness(t *testing.T, user domain.User) *harness {
	t.Helper()

	h := &harness{
		pub:      &fakePublisher{},
		selector: &fakeSelector{},
		trending: &fakeTrending{},
		store:    inmemory.NewRepo(),
		clock:    clock.NewMock(),
	}
	h.pub.connected.Store(true)

	tasks := taskgroup.New(context.Background(), h.clock)
	t.Cleanup(tasks.Stop)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	guard := authority.NewGuard(user, domain.Room{ID: "r1", OwnerUsername: alice.Username},
		authority.NotifierFunc(func(_ context.Context, n authority.Notice) {
			h.notices = append(h.notices, n)
		}), logger)

	h.mgr = New(&Params{
		Guard:     guard,
		Store:     h.store,
		Publisher: h.pub,
		Selector:  h.selector,
		Trending:  h.trending,
		Tasks:     tasks,
		Logger:    logger,
	})

	return h
}

func ids(items []domain.QueueItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.ID)
	}
	return out
}

func TestAddThenVoteThenPromote(t *testing.T) {
	ctx := context.Background()
	owner := newHarness(t, alice)
	owner.selector.loaded = true
	guest := newHarness(t, bob)
	guest.selector.loaded = true

	items, err := owner.mgr.AddOrVote(ctx, domain.QueueItem{ID: "v1", Title: "X", SourceURL: "https://youtu.be/v1"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Votes)
	assert.Equal(t, []domain.User{alice}, items[0].Voters)

	guest.mgr.HandleQueueUpdate(ctx, owner.pub.queueUpdates()[0])
	items, err = guest.mgr.AddOrVote(ctx, domain.QueueItem{ID: "v1", Title: "X", SourceURL: "https://youtu.be/v1"})
	require.NoError(t, err)
	assert.Equal(t, 2, items[0].Votes)
	assert.Equal(t, []domain.User{alice, bob}, items[0].Voters)

	owner.mgr.HandleQueueUpdate(ctx, guest.pub.queueUpdates()[0])
	promoted, ok := owner.mgr.PromoteNext(ctx)
	require.True(t, ok)
	assert.Equal(t, "v1", promoted.ID)
	assert.Empty(t, owner.mgr.Items())

	cached, err := owner.store.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, cached)
	assert.Len(t, owner.pub.queueUpdates(), 1, "empty queue after promotion is not broadcast")
}

func TestOwnerWithNothingPlayingPlaysDirectly(t *testing.T) {
	h := newHarness(t, alice)

	items, err := h.mgr.AddOrVote(context.Background(), domain.QueueItem{ID: "v1", Title: "X", SourceURL: "u1", ChannelAvatarURL: "c.png"})
	require.NoError(t, err)

	assert.Empty(t, items)
	assert.Equal(t, []playback.Video{{URL: "u1", Title: "X", ChannelAvatarURL: "c.png"}}, h.selector.selected)
	assert.Empty(t, h.pub.queueUpdates())
}

func TestGuestWithNothingPlayingQueues(t *testing.T) {
	h := newHarness(t, bob)

	items, err := h.mgr.AddOrVote(context.Background(), domain.QueueItem{ID: "v1", SourceURL: "u1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"v1"}, ids(items))
	assert.Empty(t, h.selector.selected)
}

func TestVoteSwitchResorts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, bob)
	h.mgr.HandleQueueUpdate(ctx, message.QueueUpdate{RoomID: "r1", Queue: []domain.QueueItem{
		{ID: "v1", Votes: 1, Voters: []domain.User{bob}},
		{ID: "v2", Votes: 0, Voters: []domain.User{}},
	}})

	items, err := h.mgr.Vote(ctx, 1)
	require.NoError(t, err)

	require.Equal(t, []string{"v2", "v1"}, ids(items))
	assert.Equal(t, 1, items[0].Votes)
	assert.Equal(t, []domain.User{bob}, items[0].Voters)
	assert.Equal(t, 0, items[1].Votes)
	assert.Empty(t, items[1].Voters)

	updates := h.pub.queueUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, "r1", updates[0].RoomID)

	_, err = h.mgr.Vote(ctx, 5)
	assert.ErrorIs(t, err, domain.ErrIndexOutOfRange)
	assert.Len(t, h.pub.queueUpdates(), 1)
}

func TestGuestRemoveIsDenied(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, bob)
	h.mgr.HandleQueueUpdate(ctx, message.QueueUpdate{RoomID: "r1", Queue: []domain.QueueItem{{ID: "v1"}, {ID: "v2"}}})

	_, err := h.mgr.Remove(ctx, 0)

	assert.ErrorIs(t, err, authority.ErrPermissionDenied)
	assert.Equal(t, []string{"v1", "v2"}, ids(h.mgr.Items()))
	require.Len(t, h.notices, 1)
	assert.Equal(t, authority.ActionRemoveVideo, h.notices[0].Action)
	assert.Empty(t, h.pub.queueUpdates())
}

func TestOwnerRemove(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, alice)
	h.mgr.HandleQueueUpdate(ctx, message.QueueUpdate{RoomID: "r1", Queue: []domain.QueueItem{{ID: "v1"}, {ID: "v2"}}})

	items, err := h.mgr.Remove(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, ids(items))

	cached, err := h.store.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, ids(cached))

	_, err = h.mgr.Remove(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, h.pub.queueUpdates(), 1, "removing the last item is not broadcast")
}

func TestBroadcastEmptyQueuePublishesNothing(t *testing.T) {
	h := newHarness(t, alice)

	err := h.mgr.BroadcastQueueUpdate(context.Background(), []domain.QueueItem{})

	assert.ErrorIs(t, err, ErrEmptyQueue)
	assert.Empty(t, h.pub.msgs)
}

func TestHandleQueueUpdateGuards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, bob)
	h.mgr.HandleQueueUpdate(ctx, message.QueueUpdate{RoomID: "r1", Queue: []domain.QueueItem{{ID: "v1"}}})

	h.mgr.HandleQueueUpdate(ctx, message.QueueUpdate{RoomID: "other", Queue: []domain.QueueItem{{ID: "x"}}})
	h.mgr.HandleQueueUpdate(ctx, message.QueueUpdate{RoomID: "r1", Queue: nil})

	assert.Equal(t, []string{"v1"}, ids(h.mgr.Items()))
	assert.Empty(t, h.pub.msgs, "inbound updates are never re-broadcast")
}

func TestPromoteNextFallsBackToTrending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, alice)
	h.trending.items = []domain.QueueItem{{ID: "t1", IsTrending: true}, {ID: "t2", IsTrending: true}}
	h.mgr.HandleQueueUpdate(ctx, message.QueueUpdate{RoomID: "r1", Queue: []domain.QueueItem{{ID: "v1", Votes: 0}}})

	_, ok := h.mgr.PromoteNext(ctx)

	assert.False(t, ok)
	assert.Equal(t, []string{"t1", "t2"}, ids(h.mgr.Items()))
	require.Len(t, h.pub.queueUpdates(), 1)
}

func TestPromoteNextTrendingFailureKeepsQueue(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, alice)
	h.trending.err = errors.New("quota exceeded")

	_, ok := h.mgr.PromoteNext(ctx)

	assert.False(t, ok)
	assert.Empty(t, h.mgr.Items())
	assert.Empty(t, h.pub.msgs)
}

func TestInitRestoresCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, bob)
	require.NoError(t, h.store.Save(ctx, "r1", []domain.QueueItem{{ID: "cached"}}))

	h.mgr.Init(ctx)

	assert.Equal(t, []string{"cached"}, ids(h.mgr.Items()))
	assert.Equal(t, int32(0), h.trending.calls.Load())
}

func TestInitGuestWaitsForOwner(t *testing.T) {
	h := newHarness(t, bob)
	h.trending.items = []domain.QueueItem{{ID: "t1"}}

	h.mgr.Init(context.Background())

	assert.Empty(t, h.mgr.Items())
	assert.Equal(t, int32(0), h.trending.calls.Load())
}

func TestInitOwnerSeedsAndBroadcasts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, alice)
	h.trending.items = []domain.QueueItem{{ID: "t1"}, {ID: "t2"}}

	h.mgr.Init(ctx)

	assert.Equal(t, []string{"t1", "t2"}, ids(h.mgr.Items()))
	cached, err := h.store.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, cached, 2)
	assert.Len(t, h.pub.queueUpdates(), 1)
}

func TestInitOwnerRetriesUntilConnected(t *testing.T) {
	h := newHarness(t, alice)
	h.pub.connected.Store(false)
	h.trending.items = []domain.QueueItem{{ID: "t1"}}

	h.mgr.Init(context.Background())
	assert.Empty(t, h.pub.queueUpdates())

	h.clock.Add(InitRetryInterval)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, h.pub.queueUpdates())

	h.pub.connected.Store(true)
	h.clock.Add(InitRetryInterval)
	require.Eventually(t, func() bool { return len(h.pub.queueUpdates()) == 1 }, time.Second, 5*time.Millisecond)

	h.clock.Add(5 * InitRetryInterval)
	time.Sleep(10 * time.Millisecond)
	assert.Len(t, h.pub.queueUpdates(), 1)
}

func TestInitOwnerGivesUpAfterTimeout(t *testing.T) {
	h := newHarness(t, alice)
	h.pub.connected.Store(false)
	h.trending.items = []domain.QueueItem{{ID: "t1"}}

	h.mgr.Init(context.Background())
	for range 10 {
		h.clock.Add(InitRetryInterval)
	}
	time.Sleep(10 * time.Millisecond)

	h.pub.connected.Store(true)
	h.clock.Add(3 * InitRetryInterval)
	time.Sleep(10 * time.Millisecond)

	assert.Empty(t, h.pub.queueUpdates())
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, bob)
	require.NoError(t, h.store.Save(ctx, "r1", []domain.QueueItem{{ID: "v1"}}))

	require.NoError(t, h.mgr.Purge(ctx))

	cached, err := h.store.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, cached)
}
