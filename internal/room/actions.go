package room

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sharetube/watchparty/internal/authority"
	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/internal/message"
	"github.com/sharetube/watchparty/internal/playback"
)

func (c *Controller) RoomID() string {
	return c.roomID
}

func (c *Controller) IsOwner() bool {
	s, err := c.current()
	return err == nil && s.guard.IsOwner()
}

// Users returns the members seen joining and not yet leaving.
func (c *Controller) Users() []domain.User {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.presence)
}

// Messages returns the chat log, oldest first.
func (c *Controller) Messages() []domain.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.chatLog)
}

func (c *Controller) State() domain.PlaybackState {
	s, err := c.current()
	if err != nil {
		return domain.PlaybackState{}
	}

	return s.playback.Snapshot()
}

func (c *Controller) Queue() []domain.QueueItem {
	s, err := c.current()
	if err != nil {
		return nil
	}

	return s.queue.Items()
}

// Countdown reports the time left before the next video starts, if one is pending.
func (c *Controller) Countdown() (time.Duration, bool) {
	s, err := c.current()
	if err != nil {
		return 0, false
	}

	return s.playback.CountdownRemaining()
}

// SendChat posts a chat message. Either content or a base64 image is required.
func (c *Controller) SendChat(ctx context.Context, content, image string, replyTo *domain.ReplyTo) error {
	s, err := c.current()
	if err != nil {
		return err
	}

	content = strings.TrimSpace(content)
	if content == "" && image == "" {
		return ErrEmptyMessage
	}

	if err := s.out.Publish(ctx, message.Chat{
		ID:        uuid.NewString(),
		Sender:    c.user.Username,
		AvatarURL: c.user.AvatarURL,
		Content:   content,
		Image:     image,
		ReplyTo:   replyTo,
	}); err != nil {
		return fmt.Errorf("failed to send chat: %w", err)
	}

	return nil
}

// Select plays a YouTube video right away. Owner only.
func (c *Controller) Select(ctx context.Context, videoId string) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	if err := s.guard.Authorize(ctx, authority.ActionSelectVideo); err != nil {
		return err
	}

	item, err := c.catalog.Video(ctx, videoId)
	if err != nil {
		return fmt.Errorf("failed to look up video: %w", err)
	}

	return s.playback.Select(ctx, playback.VideoFromItem(item), true)
}

// AddVideo queues a YouTube video, or votes for it if it is queued already.
func (c *Controller) AddVideo(ctx context.Context, videoId string) ([]domain.QueueItem, error) {
	item, err := c.catalog.Video(ctx, videoId)
	if err != nil {
		return nil, fmt.Errorf("failed to look up video: %w", err)
	}

	return c.Add(ctx, item)
}

// Add queues item, or votes for it if it is queued already.
func (c *Controller) Add(ctx context.Context, item domain.QueueItem) ([]domain.QueueItem, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}

	return s.queue.AddOrVote(ctx, item)
}

func (c *Controller) Search(ctx context.Context, query string) ([]domain.QueueItem, error) {
	return c.catalog.Search(ctx, query)
}

func (c *Controller) Library(ctx context.Context) ([]domain.QueueItem, error) {
	return c.catalog.Library(ctx)
}

func (c *Controller) Vote(ctx context.Context, index int) ([]domain.QueueItem, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}

	return s.queue.Vote(ctx, index)
}

func (c *Controller) Remove(ctx context.Context, index int) ([]domain.QueueItem, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}

	return s.queue.Remove(ctx, index)
}

func (c *Controller) Play(ctx context.Context) error {
	s, err := c.current()
	if err != nil {
		return err
	}

	return s.playback.Play(ctx)
}

func (c *Controller) Pause(ctx context.Context) error {
	s, err := c.current()
	if err != nil {
		return err
	}

	return s.playback.Pause(ctx)
}

func (c *Controller) Seek(ctx context.Context, seconds float64) error {
	s, err := c.current()
	if err != nil {
		return err
	}

	return s.playback.Seek(ctx, seconds)
}

// SetPanelOpen pauses owner re-announcements while the browse panel is shown.
func (c *Controller) SetPanelOpen(open bool) {
	if s, err := c.current(); err == nil {
		s.playback.SetPanelOpen(open)
	}
}

// Ended reports that the local player reached the end of the video.
func (c *Controller) Ended(ctx context.Context) error {
	s, err := c.current()
	if err != nil {
		return err
	}

	s.playback.Ended(ctx)

	return nil
}
