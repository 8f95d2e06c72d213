package room

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
	"github.com/sharetube/watchparty/internal/queue"
	queuemem "github.com/sharetube/watchparty/internal/repository/queue/inmemory"
	"github.com/sharetube/watchparty/internal/transport"
	"github.com/sharetube/watchparty/internal/transport/inmemory"
	"github.com/sharetube/watchparty/pkg/ytvideodata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRoomID = "42"
	owner      = "alice"
	wait       = 2 * time.Second
	tick       = 5 * time.Millisecond
)

type fakeRooms struct {
	mu      sync.Mutex
	err     error
	deleted []string
	updated []string
}

func (r *fakeRooms) GetRoom(_ context.Context, roomID string) (domain.Room, error) {
	if r.err != nil {
		return domain.Room{}, r.err
	}
	return domain.Room{ID: roomID, OwnerUsername: owner}, nil
}

func (r *fakeRooms) UpdateVideo(_ context.Context, _, videoURL, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.updated = append(r.updated, videoURL)
	return nil
}

func (r *fakeRooms) DeleteRoom(_ context.Context, _, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deleted = append(r.deleted, username)
	return nil
}

type fakeCatalog struct {
	trending []domain.QueueItem
}

func (c *fakeCatalog) Trending(context.Context) ([]domain.QueueItem, error) {
	return c.trending, nil
}

func (c *fakeCatalog) Video(_ context.Context, id string) (domain.QueueItem, error) {
	return domain.QueueItem{ID: id, Title: "Title " + id, SourceURL: ytvideodata.WatchURL(id), Voters: []domain.User{}}, nil
}

func (c *fakeCatalog) Search(context.Context, string) ([]domain.QueueItem, error) {
	return nil, nil
}

func (c *fakeCatalog) Library(context.Context) ([]domain.QueueItem, error) {
	return nil, nil
}

type env struct {
	t       *testing.T
	clock   *clock.Mock
	broker  *inmemory.Broker
	rooms   *fakeRooms
	catalog *fakeCatalog
	logger  *slog.Logger
}

func newEnv(t *testing.T) *env {
	return &env{
		t:       t,
		clock:   clock.NewMock(),
		broker:  inmemory.NewBroker(),
		rooms:   &fakeRooms{},
		catalog: &fakeCatalog{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

type client struct {
	ctl    *Controller
	conn   *inmemory.Conn
	store  queue.Store
	player *playback.VirtualPlayer

	mu      sync.Mutex
	home    atomic.Int32
	homeAt  time.Time
	notices []authority.Notice
}

func (e *env) client(username string, configure ...func(*Params)) *client {
	c := &client{
		conn:   e.broker.NewConn(transport.Options{ReconnectDelay: 5 * time.Second}, e.clock, e.logger),
		store:  queuemem.NewRepo(),
		player: playback.NewVirtualPlayer(e.clock),
	}

	p := &Params{
		RoomID:  testRoomID,
		User:    domain.User{Username: username, AvatarURL: "https://a/" + username},
		Conn:    c.conn,
		Rooms:   e.rooms,
		Catalog: e.catalog,
		Store:   c.store,
		Player:  c.player,
		Notifier: authority.NotifierFunc(func(_ context.Context, n authority.Notice) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.notices = append(c.notices, n)
		}),
		Navigator: NavigatorFunc(func(context.Context) {
			c.mu.Lock()
			c.homeAt = e.clock.Now()
			c.mu.Unlock()
			c.home.Add(1)
		}),
		ShareURLBase: "https://watch.example/",
		Clock:        e.clock,
		Logger:       e.logger,
	}
	for _, fn := range configure {
		fn(p)
	}

	c.ctl = New(p)
	e.t.Cleanup(func() { c.ctl.Close(context.Background()) })

	return c
}

func (e *env) join(c *client) {
	e.t.Helper()
	require.NoError(e.t, c.ctl.Join(context.Background()))
}

// sent decodes every frame published to the room so far.
func (e *env) sent() []message.Message {
	var out []message.Message
	for _, f := range e.broker.History("") {
		msg, err := message.Decode(f.Payload)
		require.NoError(e.t, err)
		out = append(out, msg)
	}
	return out
}

func (e *env) count(t message.Type) int {
	n := 0
	for _, m := range e.sent() {
		if m.Type() == t {
			n++
		}
	}
	return n
}

func TestJoinAbortsWhenRoomFetchFails(t *testing.T) {
	e := newEnv(t)
	e.rooms.err = errors.New("502")
	c := e.client("bob")

	err := c.ctl.Join(context.Background())
	require.Error(t, err)
	assert.False(t, c.conn.Connected())
	assert.Empty(t, e.broker.History(""))
	assert.ErrorIs(t, c.ctl.Play(context.Background()), ErrNotJoined)
}

func TestJoinTwice(t *testing.T) {
	e := newEnv(t)
	c := e.client("bob")
	e.join(c)

	assert.ErrorIs(t, c.ctl.Join(context.Background()), ErrAlreadyJoined)
}

func TestOwnerJoinResendsQueueAndPostsLink(t *testing.T) {
	e := newEnv(t)
	o := e.client(owner)
	cached := []domain.QueueItem{{ID: "v9", Title: "Cached", SourceURL: "u9", Votes: 1, Voters: []domain.User{{Username: "bob"}}}}
	require.NoError(t, o.store.Save(context.Background(), testRoomID, cached))

	e.join(o)
	assert.Equal(t, message.Join{Sender: owner, AvatarURL: "https://a/alice"}, e.sent()[0])
	require.Eventually(t, func() bool { return len(o.ctl.Queue()) == 1 }, wait, tick)
	assert.Zero(t, e.count(message.TypeQueueUpdate))

	e.clock.Add(OwnerResyncDelay)
	require.Eventually(t, func() bool { return e.count(message.TypeQueueUpdate) == 1 }, wait, tick)
	require.Eventually(t, func() bool {
		for _, m := range e.sent() {
			if chat, ok := m.(message.Chat); ok && chat.Sender == SystemSender {
				return chat.Content == "Link: https://watch.example/room/42"
			}
		}
		return false
	}, wait, tick)
}

func TestLateJoinerReceivesOwnerState(t *testing.T) {
	e := newEnv(t)
	e.catalog.trending = []domain.QueueItem{{ID: "t1", Title: "Trend", SourceURL: "ut1", Voters: []domain.User{}}}
	o := e.client(owner)
	e.join(o)
	require.Eventually(t, func() bool { return len(o.ctl.Queue()) == 1 }, wait, tick)
	require.NoError(t, o.ctl.Select(context.Background(), "v1"))

	m := e.client("bob")
	e.join(m)
	assert.Empty(t, m.ctl.State().VideoURL)

	e.clock.Add(OwnerResyncDelay)
	require.Eventually(t, func() bool {
		return m.ctl.State().VideoURL == ytvideodata.WatchURL("v1") && len(m.ctl.Queue()) == 1
	}, wait, tick)
	assert.True(t, m.ctl.State().IsPlaying)
	assert.Equal(t, []string{ytvideodata.WatchURL("v1")}, e.rooms.updated)

	assert.ElementsMatch(t, []string{owner, "bob"}, usernames(o.ctl.Users()))
}

func TestDeepLinkAutoplay(t *testing.T) {
	e := newEnv(t)
	o := e.client(owner, func(p *Params) {
		p.DeepLink = &DeepLink{VideoID: "dl", Autoplay: false}
	})
	e.join(o)

	require.Eventually(t, func() bool { return o.ctl.State().VideoURL == ytvideodata.WatchURL("dl") }, wait, tick)
	assert.False(t, o.ctl.State().IsPlaying)
	assert.Equal(t, "Title dl", o.ctl.State().Title)
}

func TestMemberIgnoresDeepLink(t *testing.T) {
	e := newEnv(t)
	m := e.client("bob", func(p *Params) {
		p.DeepLink = &DeepLink{VideoID: "dl", Autoplay: true}
	})
	e.join(m)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, m.ctl.State().VideoURL)
	assert.Zero(t, e.count(message.TypeVideoUpdate))
}

func TestOwnerDepartureCleanup(t *testing.T) {
	e := newEnv(t)
	o := e.client(owner)
	m := e.client("bob")
	e.join(o)
	e.join(m)

	require.NoError(t, o.ctl.Select(context.Background(), "v1"))
	require.True(t, m.ctl.State().IsPlaying)
	require.NoError(t, m.store.Save(context.Background(), testRoomID, []domain.QueueItem{{ID: "v2", SourceURL: "u2"}}))

	start := e.clock.Now()
	done := make(chan error, 1)
	go func() { done <- o.ctl.Leave(context.Background()) }()

	require.Eventually(t, func() bool {
		items, _ := m.store.Load(context.Background(), testRoomID)
		return !m.ctl.State().IsPlaying && len(items) == 0 && !m.conn.Connected()
	}, wait, tick)
	assert.False(t, m.player.Playing())
	assert.Zero(t, m.home.Load())

	require.Eventually(t, func() bool {
		e.clock.Add(100 * time.Millisecond)
		return m.home.Load() == 1 && o.home.Load() == 1
	}, wait, tick)
	require.NoError(t, <-done)

	m.mu.Lock()
	assert.GreaterOrEqual(t, m.homeAt.Sub(start), NavigateDelay)
	require.NotEmpty(t, m.notices)
	assert.Equal(t, ownerLeftMessage, m.notices[len(m.notices)-1].Message)
	m.mu.Unlock()

	assert.Equal(t, 1, e.count(message.TypeOwnerLeft))
	assert.Equal(t, 2, e.count(message.TypeLeave))
	assert.Equal(t, []string{owner}, e.rooms.deleted)
	assert.ErrorIs(t, m.ctl.Play(context.Background()), ErrClosed)
}

// gatedStore holds Delete open after deleting until release is closed.
type gatedStore struct {
	queue.Store
	deleting chan struct{}
	release  chan struct{}
}

func (s *gatedStore) Delete(ctx context.Context, roomID string) error {
	err := s.Store.Delete(ctx, roomID)
	close(s.deleting)
	<-s.release
	return err
}

func TestOwnerDepartureIgnoresLateUpdates(t *testing.T) {
	e := newEnv(t)
	store := &gatedStore{
		Store:    queuemem.NewRepo(),
		deleting: make(chan struct{}),
		release:  make(chan struct{}),
	}
	o := e.client(owner)
	m := e.client("bob", func(p *Params) { p.Store = store })
	e.join(o)
	e.join(m)
	ctx := context.Background()

	require.NoError(t, o.ctl.Select(ctx, "v1"))
	require.True(t, m.ctl.State().IsPlaying)

	done := make(chan error, 1)
	go func() { done <- o.ctl.Leave(ctx) }()

	select {
	case <-store.deleting:
	case <-time.After(wait):
		t.Fatal("member cache was never purged")
	}

	_, err := o.ctl.AddVideo(ctx, "v2")
	require.NoError(t, err)
	require.NoError(t, o.ctl.Select(ctx, "v3"))
	close(store.release)

	require.Eventually(t, func() bool { return !m.conn.Connected() }, wait, tick)

	items, err := store.Load(ctx, testRoomID)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, ytvideodata.WatchURL("v1"), m.player.URL())
	assert.False(t, m.player.Playing())

	require.Eventually(t, func() bool {
		e.clock.Add(100 * time.Millisecond)
		return o.home.Load() == 1
	}, wait, tick)
	require.NoError(t, <-done)
}

func TestOwnerDisconnectIsNotDeparture(t *testing.T) {
	e := newEnv(t)
	o := e.client(owner)
	m := e.client("bob")
	e.join(o)
	e.join(m)
	require.NoError(t, o.ctl.Select(context.Background(), "v1"))

	require.NoError(t, o.conn.Disconnect())
	e.clock.Add(time.Minute)

	assert.True(t, m.conn.Connected())
	assert.True(t, m.ctl.State().IsPlaying)
	assert.Zero(t, m.home.Load())
}

func TestMemberLeave(t *testing.T) {
	e := newEnv(t)
	o := e.client(owner)
	m := e.client("bob")
	e.join(o)
	e.join(m)

	require.NoError(t, m.ctl.Leave(context.Background()))

	assert.Zero(t, e.count(message.TypeOwnerLeft))
	assert.Equal(t, []string{"bob"}, e.rooms.deleted)
	assert.Equal(t, int32(1), m.home.Load())
	assert.Equal(t, []string{owner}, usernames(o.ctl.Users()))
	assert.True(t, o.conn.Connected())
}

func TestReconnectConvergence(t *testing.T) {
	e := newEnv(t)
	o := e.client(owner)
	m := e.client("bob")
	e.join(o)
	e.join(m)
	ctx := context.Background()

	require.NoError(t, o.ctl.Select(ctx, "v1"))
	require.Equal(t, ytvideodata.WatchURL("v1"), m.ctl.State().VideoURL)

	m.conn.Drop()
	require.NoError(t, o.ctl.Select(ctx, "v2"))
	require.NoError(t, o.ctl.Pause(ctx))
	assert.Equal(t, ytvideodata.WatchURL("v1"), m.ctl.State().VideoURL)

	e.clock.Add(5 * time.Second)
	require.Eventually(t, m.conn.Connected, wait, tick)

	e.clock.Add(playback.ReannounceInterval)
	require.Eventually(t, func() bool {
		state := m.ctl.State()
		return state.VideoURL == ytvideodata.WatchURL("v2") && !state.IsPlaying
	}, wait, tick)
}

func TestCloseCancelsRoomTimers(t *testing.T) {
	e := newEnv(t)
	o := e.client(owner)
	e.join(o)
	ctx := context.Background()

	require.NoError(t, o.ctl.Select(ctx, "v1"))
	require.NoError(t, o.ctl.Ended(ctx))
	_, pending := o.ctl.Countdown()
	require.True(t, pending)

	require.NoError(t, o.ctl.Close(ctx))
	require.NoError(t, o.ctl.Close(ctx))
	published := len(e.broker.History(""))

	for range 6 {
		e.clock.Add(5 * time.Second)
	}
	time.Sleep(20 * time.Millisecond)

	assert.Len(t, e.broker.History(""), published)
	assert.Equal(t, 1, e.count(message.TypeLeave))
	assert.False(t, o.conn.Connected())
}

func TestChatAndPresence(t *testing.T) {
	e := newEnv(t)
	o := e.client(owner)
	m := e.client("bob")
	e.join(o)
	e.join(m)
	ctx := context.Background()

	assert.ErrorIs(t, m.ctl.SendChat(ctx, "   ", "", nil), ErrEmptyMessage)
	require.NoError(t, m.ctl.SendChat(ctx, "hello", "", nil))
	require.NoError(t, o.ctl.SendChat(ctx, "hi bob", "", &domain.ReplyTo{ID: "1", Sender: "bob", Content: "hello"}))

	var chats []domain.ChatMessage
	for _, msg := range o.ctl.Messages() {
		if msg.Type == domain.ChatTypeChat {
			chats = append(chats, msg)
		}
	}
	require.Len(t, chats, 2)
	assert.Equal(t, "bob", chats[0].Sender)
	assert.Equal(t, "hello", chats[0].Content)
	assert.NotEmpty(t, chats[0].ID)
	assert.Equal(t, "hello", chats[1].ReplyTo.Content)

	assert.ElementsMatch(t, []string{owner, "bob"}, usernames(o.ctl.Users()))
	require.NoError(t, m.ctl.Close(ctx))
	assert.Equal(t, []string{owner}, usernames(o.ctl.Users()))
}

func TestMemberCannotRemoveFromQueue(t *testing.T) {
	e := newEnv(t)
	o := e.client(owner)
	m := e.client("bob")
	e.join(o)
	e.join(m)
	ctx := context.Background()

	require.NoError(t, o.ctl.Select(ctx, "v1"))
	_, err := m.ctl.AddVideo(ctx, "v2")
	require.NoError(t, err)
	require.Len(t, o.ctl.Queue(), 1)
	updates := e.count(message.TypeQueueUpdate)

	_, err = m.ctl.Remove(ctx, 0)
	assert.ErrorIs(t, err, authority.ErrPermissionDenied)
	assert.Len(t, m.ctl.Queue(), 1)
	assert.Equal(t, updates, e.count(message.TypeQueueUpdate))
}

func usernames(users []domain.User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Username)
	}
	return out
}
