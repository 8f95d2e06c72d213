// Package authority decides whether the local user may change room state.
package authority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sharetube/watchparty/internal/domain"
)

var ErrPermissionDenied = errors.New("permission denied")

type Action string

const (
	ActionSelectVideo Action = "select video"
	ActionPlay        Action = "play"
	ActionPause       Action = "pause"
	ActionSeek        Action = "seek"
	ActionRemoveVideo Action = "remove video from queue"
)

type Notice struct {
	Action  Action
	Message string
}

// Notifier shows transient messages to the user.
type Notifier interface {
	Notify(ctx context.Context, notice Notice)
}

type NotifierFunc func(ctx context.Context, notice Notice)

func (f NotifierFunc) Notify(ctx context.Context, notice Notice) {
	f(ctx, notice)
}

type Guard struct {
	mu       sync.RWMutex
	user     domain.User
	room     domain.Room
	notifier Notifier
	logger   *slog.Logger
}

func NewGuard(user domain.User, room domain.Room, notifier Notifier, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}

	return &Guard{
		user:     user,
		room:     room,
		notifier: notifier,
		logger:   logger,
	}
}

func (g *Guard) User() domain.User {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.user
}

func (g *Guard) RoomID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.room.ID
}

func (g *Guard) IsOwner() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.room.IsOwnedBy(g.user)
}

// Authorize allows owner-only actions. A denial is shown to the user and returned
// as ErrPermissionDenied.
func (g *Guard) Authorize(ctx context.Context, action Action) error {
	if g.IsOwner() {
		return nil
	}

	g.logger.InfoContext(ctx, "action denied", "action", action, "username", g.User().Username)
	if g.notifier != nil {
		g.notifier.Notify(ctx, Notice{
			Action:  action,
			Message: fmt.Sprintf("only the room owner can %s", action),
		})
	}

	return fmt.Errorf("%s: %w", action, ErrPermissionDenied)
}
