// Package room owns everything that lives while the local user is in a room: the
// connection, playback, the queue, chat and presence, and their timers.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sharetube/watchparty/internal/authority"
	"github.com/sharetube/watchparty/internal/dispatcher"
	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/internal/message"
	"github.com/sharetube/watchparty/internal/playback"
	"github.com/sharetube/watchparty/internal/queue"
	"github.com/sharetube/watchparty/internal/transport"
	"github.com/sharetube/watchparty/pkg/ctxlogger"
	"github.com/sharetube/watchparty/pkg/taskgroup"
	"github.com/sharetube/watchparty/pkg/ytvideodata"
)

const (
	// OwnerResyncDelay lets a JOIN show up before the owner answers with the room state.
	OwnerResyncDelay = time.Second
	OwnerLeftGrace   = 500 * time.Millisecond
	NavigateDelay    = 1500 * time.Millisecond

	SystemSender     = "System"
	SystemAvatarURL  = "https://i.imgur.com/axHfgSw.png"
	ownerLeftMessage = "the room owner left, returning home"
)

var (
	ErrNotJoined     = errors.New("not in a room")
	ErrAlreadyJoined = errors.New("already joined")
	ErrClosed        = errors.New("room closed")
	ErrEmptyMessage  = errors.New("message is empty")
)

// Rooms is the rooms REST service.
type Rooms interface {
	GetRoom(ctx context.Context, roomID string) (domain.Room, error)
	UpdateVideo(ctx context.Context, roomID, videoURL, title string) error
	DeleteRoom(ctx context.Context, roomID, username string) error
}

// Catalog finds videos to play or queue.
type Catalog interface {
	queue.TrendingSource
	Video(ctx context.Context, videoId string) (domain.QueueItem, error)
	Search(ctx context.Context, query string) ([]domain.QueueItem, error)
	Library(ctx context.Context) ([]domain.QueueItem, error)
}

// Navigator takes the user out of the room.
type Navigator interface {
	Home(ctx context.Context)
}

type NavigatorFunc func(ctx context.Context)

func (f NavigatorFunc) Home(ctx context.Context) {
	f(ctx)
}

// DeepLink is a video requested together with the room, played by the owner on join.
type DeepLink struct {
	VideoID  string
	Autoplay bool
}

type Params struct {
	RoomID       string
	User         domain.User
	Conn         transport.Conn
	Rooms        Rooms
	Catalog      Catalog
	Store        queue.Store
	Player       playback.Player
	Notifier     authority.Notifier
	Navigator    Navigator
	DeepLink     *DeepLink
	ShareURLBase string
	Clock        clock.Clock
	Logger       *slog.Logger
}

// session holds the parts built once the room metadata is known.
type session struct {
	guard    *authority.Guard
	tasks    *taskgroup.Group
	out      *outbox
	playback *playback.Synchronizer
	queue    *queue.Manager
}

type Controller struct {
	roomID       string
	user         domain.User
	conn         transport.Conn
	rooms        Rooms
	catalog      Catalog
	store        queue.Store
	player       playback.Player
	notifier     authority.Notifier
	navigator    Navigator
	deepLink     *DeepLink
	shareURLBase string
	clock        clock.Clock
	logger       *slog.Logger

	in *inbound

	mu        sync.Mutex
	session   *session
	closed    bool
	greeted   bool
	presence  []domain.User
	chatLog   []domain.ChatMessage
	navigated sync.Once
}

func New(p *Params) *Controller {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	player := p.Player
	if player == nil {
		player = playback.NewVirtualPlayer(clk)
	}

	return &Controller{
		roomID:       p.RoomID,
		user:         p.User,
		conn:         p.Conn,
		rooms:        p.Rooms,
		catalog:      p.Catalog,
		store:        p.Store,
		player:       player,
		notifier:     p.Notifier,
		navigator:    p.Navigator,
		deepLink:     p.DeepLink,
		shareURLBase: strings.TrimRight(p.ShareURLBase, "/"),
		clock:        clk,
		logger:       logger,
		in:           newInbound(),
	}
}

func (c *Controller) current() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.session == nil {
		return nil, ErrNotJoined
	}

	return c.session, nil
}

// Join fetches the room, wires playback and the queue to the connection and
// connects. A failed room fetch aborts the join.
func (c *Controller) Join(ctx context.Context) error {
	ctx = ctxlogger.AppendCtx(ctx, slog.String("room_id", c.roomID))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.session != nil {
		c.mu.Unlock()
		return ErrAlreadyJoined
	}
	c.mu.Unlock()

	room, err := c.rooms.GetRoom(ctx, c.roomID)
	if err != nil {
		return fmt.Errorf("failed to fetch room %s: %w", c.roomID, err)
	}
	room.ID = c.roomID

	s := &session{
		guard: authority.NewGuard(c.user, room, c.notifier, c.logger),
		tasks: taskgroup.New(ctx, c.clock),
		out:   &outbox{conn: c.conn, roomID: c.roomID},
	}
	s.playback = playback.New(&playback.Params{
		Player:    c.player,
		Guard:     s.guard,
		Publisher: s.out,
		Recorder:  c.rooms,
		Tasks:     s.tasks,
		Logger:    c.logger,
	})
	s.queue = queue.New(&queue.Params{
		Guard:     s.guard,
		Store:     c.store,
		Publisher: s.out,
		Selector:  s.playback,
		Trending:  c.catalog,
		Tasks:     s.tasks,
		Logger:    c.logger,
	})
	s.playback.SetPromoter(s.queue)

	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "joining room", "username", c.user.Username, "owner", s.guard.IsOwner())

	disp := dispatcher.New(s.playback, s.queue, c, c.logger)
	c.conn.Subscribe(message.ChatTopic(c.roomID), c.deliver(disp, message.TopicChat))
	c.conn.Subscribe(message.VideoTopic(c.roomID), c.deliver(disp, message.TopicVideo))

	s.tasks.Go(s.queue.Init)
	s.playback.RunReannounce()

	if err := c.conn.Connect(s.tasks.Context(), func(ctx context.Context) {
		c.onConnect(ctx, s)
	}); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	return nil
}

// deliver dispatches inbound payloads until the room starts tearing down.
func (c *Controller) deliver(disp *dispatcher.Dispatcher, kind message.TopicKind) transport.Handler {
	return func(ctx context.Context, _ string, payload []byte) {
		if !c.in.enter() {
			return
		}
		defer c.in.exit()

		disp.Dispatch(ctx, kind, payload)
	}
}

// onConnect runs after every (re)connect.
func (c *Controller) onConnect(ctx context.Context, s *session) {
	if err := s.out.Publish(ctx, message.Join{Sender: c.user.Username, AvatarURL: c.user.AvatarURL}); err != nil {
		c.logger.WarnContext(ctx, "failed to publish join", "error", err)
	}

	if !s.guard.IsOwner() {
		return
	}

	c.mu.Lock()
	first := !c.greeted
	c.greeted = true
	c.mu.Unlock()

	s.tasks.After(OwnerResyncDelay, func(ctx context.Context) {
		c.resync(ctx, s)
		if first {
			c.postShareLink(ctx, s)
		}
	})
	if first {
		s.tasks.Go(func(ctx context.Context) {
			c.playDeepLink(ctx, s)
		})
	}
}

// resync sends the owner's queue and playback state for clients that just arrived.
func (c *Controller) resync(ctx context.Context, s *session) {
	if items := s.queue.Items(); len(items) > 0 {
		if err := s.queue.BroadcastQueueUpdate(ctx, items); err != nil {
			c.logger.WarnContext(ctx, "failed to resend queue", "error", err)
		}
	}
	if err := s.playback.Announce(ctx); err != nil {
		c.logger.WarnContext(ctx, "failed to resend playback state", "error", err)
	}
}

func (c *Controller) postShareLink(ctx context.Context, s *session) {
	if c.shareURLBase == "" {
		return
	}

	if err := s.out.Publish(ctx, message.Chat{
		ID:        uuid.NewString(),
		Sender:    SystemSender,
		AvatarURL: SystemAvatarURL,
		Content:   "Link: " + c.shareURLBase + "/room/" + c.roomID,
	}); err != nil {
		c.logger.WarnContext(ctx, "failed to post room link", "error", err)
	}
}

// playDeepLink plays the requested video unless something is already loaded. The
// video plays even when its metadata cannot be fetched.
func (c *Controller) playDeepLink(ctx context.Context, s *session) {
	if c.deepLink == nil || c.deepLink.VideoID == "" || s.playback.Loaded() {
		return
	}

	video := playback.Video{URL: ytvideodata.WatchURL(c.deepLink.VideoID)}
	if c.catalog != nil {
		item, err := c.catalog.Video(ctx, c.deepLink.VideoID)
		if err != nil {
			c.logger.WarnContext(ctx, "failed to fetch deep-linked video", "video_id", c.deepLink.VideoID, "error", err)
		} else {
			video = playback.VideoFromItem(item)
		}
	}

	if err := s.playback.Select(ctx, video, c.deepLink.Autoplay); err != nil {
		c.logger.WarnContext(ctx, "failed to play deep-linked video", "error", err)
	}
}

func (c *Controller) record(msg domain.ChatMessage) {
	msg.ReceivedAt = c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.chatLog = append(c.chatLog, msg)
}

func (c *Controller) HandleJoin(ctx context.Context, msg message.Join) {
	c.mu.Lock()
	if !slices.ContainsFunc(c.presence, func(u domain.User) bool { return u.Username == msg.Sender }) {
		c.presence = append(c.presence, domain.User{Username: msg.Sender, AvatarURL: msg.AvatarURL})
	}
	c.mu.Unlock()
	c.record(domain.ChatMessage{Sender: msg.Sender, AvatarURL: msg.AvatarURL, Type: domain.ChatTypeJoin})

	s, err := c.current()
	if err != nil || !s.guard.IsOwner() || msg.Sender == c.user.Username {
		return
	}

	c.logger.DebugContext(ctx, "sending state to new member", "member", msg.Sender)
	s.tasks.After(OwnerResyncDelay, func(ctx context.Context) {
		c.resync(ctx, s)
	})
}

func (c *Controller) HandleLeave(ctx context.Context, msg message.Leave) {
	c.mu.Lock()
	c.presence = slices.DeleteFunc(c.presence, func(u domain.User) bool { return u.Username == msg.Sender })
	c.mu.Unlock()
	c.record(domain.ChatMessage{Sender: msg.Sender, AvatarURL: msg.AvatarURL, Type: domain.ChatTypeLeave})
}

func (c *Controller) HandleChat(ctx context.Context, msg message.Chat) {
	c.record(domain.ChatMessage{
		ID:        msg.ID,
		Sender:    msg.Sender,
		AvatarURL: msg.AvatarURL,
		Content:   msg.Content,
		ImageData: msg.Image,
		Type:      domain.ChatTypeChat,
		ReplyTo:   msg.ReplyTo,
	})
}

// HandleOwnerLeft tears the room down for members once the owner announces
// leaving. A plain disconnect of the owner never gets here.
func (c *Controller) HandleOwnerLeft(ctx context.Context, msg message.OwnerLeft) {
	s, err := c.current()
	if err != nil || s.guard.IsOwner() || msg.RoomID != c.roomID {
		return
	}

	c.logger.InfoContext(ctx, "room owner left", "owner", msg.Sender)
	if c.notifier != nil {
		c.notifier.Notify(ctx, authority.Notice{Message: ownerLeftMessage})
	}

	// nothing received from here on may touch playback or the cache
	c.in.close()

	// runs outside the delivering goroutine since Close disconnects it
	go c.ownerLeft(context.WithoutCancel(ctx), s)
}

func (c *Controller) ownerLeft(ctx context.Context, s *session) {
	c.in.wait()
	s.tasks.Stop()

	s.playback.Stop(ctx)
	if err := s.queue.Purge(ctx); err != nil {
		c.logger.WarnContext(ctx, "failed to purge queue cache", "error", err)
	}
	if err := c.Close(ctx); err != nil {
		c.logger.WarnContext(ctx, "failed to close room", "error", err)
	}

	c.clock.AfterFunc(NavigateDelay, func() {
		c.navigateHome(ctx)
	})
}

func (c *Controller) navigateHome(ctx context.Context) {
	c.navigated.Do(func() {
		if c.navigator != nil {
			c.navigator.Home(ctx)
		}
	})
}

// Close says goodbye, cancels every room timer and disconnects. It is safe to
// call more than once.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	s := c.session
	c.mu.Unlock()

	c.in.close()

	if s == nil {
		return nil
	}

	if err := s.out.Publish(ctx, message.Leave{Sender: c.user.Username, AvatarURL: c.user.AvatarURL}); err != nil {
		c.logger.DebugContext(ctx, "failed to publish leave", "error", err)
	}
	s.tasks.Stop()

	if err := c.conn.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}

	c.logger.InfoContext(ctx, "left room")

	return nil
}

// Leave is the explicit leave action. The owner first tells members the room is
// closing. The server is told the user left whatever the outcome.
func (c *Controller) Leave(ctx context.Context) error {
	s, err := c.current()
	if err != nil {
		return err
	}

	if s.guard.IsOwner() && s.out.Connected() {
		if err := s.out.Publish(ctx, message.OwnerLeft{Sender: c.user.Username, RoomID: c.roomID}); err != nil {
			c.logger.WarnContext(ctx, "failed to publish owner left", "error", err)
		} else {
			select {
			case <-c.clock.After(OwnerLeftGrace):
			case <-ctx.Done():
			}
		}
	}

	if err := c.rooms.DeleteRoom(ctx, c.roomID, c.user.Username); err != nil {
		c.logger.WarnContext(ctx, "failed to delete room", "error", err)
	}

	err = c.Close(ctx)
	c.navigateHome(ctx)

	return err
}
