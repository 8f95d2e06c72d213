package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sharetube/watchparty/internal/authority"
	"github.com/sharetube/watchparty/internal/domain"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingArg     = errors.New("missing argument")
)

// Room is the set of room actions the console drives.
type Room interface {
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, seconds float64) error
	Select(ctx context.Context, videoId string) error
	AddVideo(ctx context.Context, videoId string) ([]domain.QueueItem, error)
	Add(ctx context.Context, item domain.QueueItem) ([]domain.QueueItem, error)
	Vote(ctx context.Context, index int) ([]domain.QueueItem, error)
	Remove(ctx context.Context, index int) ([]domain.QueueItem, error)
	Search(ctx context.Context, query string) ([]domain.QueueItem, error)
	Library(ctx context.Context) ([]domain.QueueItem, error)
	SetPanelOpen(open bool)
	Ended(ctx context.Context) error
	SendChat(ctx context.Context, content, image string, replyTo *domain.ReplyTo) error
	State() domain.PlaybackState
	Queue() []domain.QueueItem
	Users() []domain.User
	Messages() []domain.ChatMessage
	Countdown() (time.Duration, bool)
	Leave(ctx context.Context) error
}

const helpText = `commands:
  play | pause | seek SECONDS | end
  select VIDEO_ID            play a YouTube video now (owner)
  add VIDEO_ID               queue a YouTube video or vote for it
  search QUERY | library     list candidates, then: pick N
  vote N | remove N          vote for or remove (owner) queue item N
  panel open|close
  chat TEXT | messages | users | state | queue
  leave | help`

// Console reads line commands and prints results and notices.
type Console struct {
	mu         sync.Mutex
	out        io.Writer
	candidates []domain.QueueItem
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, format, args...)
}

func (c *Console) Notify(_ context.Context, notice authority.Notice) {
	c.Printf("! %s\n", notice.Message)
}

// Run executes commands until leave, end of input or ctx is done.
func (c *Console) Run(ctx context.Context, room Room, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		leave, err := c.Exec(ctx, room, line)
		if err != nil {
			c.Printf("error: %v\n", err)
		}
		if leave {
			return nil
		}
	}

	return scanner.Err()
}

// Exec runs one command line. It reports whether the user left the room.
func (c *Console) Exec(ctx context.Context, room Room, line string) (bool, error) {
	cmd, arg, _ := strings.Cut(line, " ")
	cmd, arg = strings.ToLower(cmd), strings.TrimSpace(arg)

	switch cmd {
	case "help":
		c.Printf("%s\n", helpText)
	case "play":
		return false, room.Play(ctx)
	case "pause":
		return false, room.Pause(ctx)
	case "seek":
		seconds, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return false, fmt.Errorf("seek: %w", ErrMissingArg)
		}
		return false, room.Seek(ctx, seconds)
	case "end":
		return false, room.Ended(ctx)
	case "select":
		if arg == "" {
			return false, fmt.Errorf("select: %w", ErrMissingArg)
		}
		return false, room.Select(ctx, arg)
	case "add":
		if arg == "" {
			return false, fmt.Errorf("add: %w", ErrMissingArg)
		}
		return false, c.printQueue(room.AddVideo(ctx, arg))
	case "search":
		if arg == "" {
			return false, fmt.Errorf("search: %w", ErrMissingArg)
		}
		return false, c.listCandidates(room.Search(ctx, arg))
	case "library":
		return false, c.listCandidates(room.Library(ctx))
	case "pick":
		item, err := c.candidate(arg)
		if err != nil {
			return false, err
		}
		return false, c.printQueue(room.Add(ctx, item))
	case "vote", "remove":
		index, err := strconv.Atoi(arg)
		if err != nil {
			return false, fmt.Errorf("%s: %w", cmd, ErrMissingArg)
		}
		if cmd == "vote" {
			return false, c.printQueue(room.Vote(ctx, index))
		}
		return false, c.printQueue(room.Remove(ctx, index))
	case "panel":
		switch arg {
		case "open":
			room.SetPanelOpen(true)
		case "close":
			room.SetPanelOpen(false)
		default:
			return false, fmt.Errorf("panel: %w", ErrMissingArg)
		}
	case "chat":
		return false, room.SendChat(ctx, arg, "", nil)
	case "messages":
		for _, m := range room.Messages() {
			c.printMessage(m)
		}
	case "users":
		for _, u := range room.Users() {
			c.Printf("%s\n", u.Username)
		}
	case "state":
		c.printState(room)
	case "queue":
		return false, c.printQueue(room.Queue(), nil)
	case "leave":
		return true, room.Leave(ctx)
	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
	}

	return false, nil
}

func (c *Console) candidate(arg string) (domain.QueueItem, error) {
	index, err := strconv.Atoi(arg)
	if err != nil {
		return domain.QueueItem{}, fmt.Errorf("pick: %w", ErrMissingArg)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.candidates) {
		return domain.QueueItem{}, fmt.Errorf("pick: %w", domain.ErrIndexOutOfRange)
	}

	return c.candidates[index], nil
}

func (c *Console) listCandidates(items []domain.QueueItem, err error) error {
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.candidates = items
	c.mu.Unlock()

	for i, item := range items {
		c.Printf("[%d] %s %s\n", i, item.Title, item.DurationLabel)
	}

	return nil
}

func (c *Console) printQueue(items []domain.QueueItem, err error) error {
	if err != nil {
		return err
	}
	if len(items) == 0 {
		c.Printf("queue is empty\n")
	}

	for i, item := range items {
		c.Printf("%d. %s (%d votes)\n", i, item.Title, item.Votes)
	}

	return nil
}

func (c *Console) printState(room Room) {
	state := room.State()
	if !state.Loaded() {
		c.Printf("nothing playing\n")
		return
	}

	status := "paused"
	if state.IsPlaying {
		status = "playing"
	}
	c.Printf("%s %s at %.1fs\n", status, state.VideoURL, state.Position)

	if left, ok := room.Countdown(); ok {
		c.Printf("next video in %s\n", left.Round(time.Second))
	}
}

func (c *Console) printMessage(m domain.ChatMessage) {
	switch m.Type {
	case domain.ChatTypeJoin:
		c.Printf("* %s joined\n", m.Sender)
	case domain.ChatTypeLeave:
		c.Printf("* %s left\n", m.Sender)
	default:
		if m.ReplyTo != nil {
			c.Printf("%s (re %s): %s\n", m.Sender, m.ReplyTo.Sender, m.Content)
			return
		}
		c.Printf("%s: %s\n", m.Sender, m.Content)
	}
}
