package pebble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"
	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/internal/repository/queue"
)

const queueKeyPrefix = "queue/"

// ErrLocked is returned when another process (or another repo in this one)
// holds the cache directory.
var ErrLocked = errors.New("queue cache is in use")

type repo struct {
	mu     sync.RWMutex
	db     *pebble.DB
	lock   *pebble.Lock
	closed bool
}

// NewRepo opens (or creates) the cache at dir. A nil fs uses the OS filesystem
// and a nil logger slog.Default.
func NewRepo(dir string, fs vfs.FS, logger *slog.Logger) (*repo, error) {
	if fs == nil {
		fs = vfs.Default
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create queue cache dir: %w", err)
	}

	lock, err := pebble.LockDirectory(dir, fs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLocked, err)
	}

	db, err := pebble.Open(dir, &pebble.Options{
		FS:     fs,
		Lock:   lock,
		Logger: slogLogger{logger: logger.With("component", "pebble")},
	})
	if err != nil {
		lock.Close()
		return nil, fmt.Errorf("failed to open queue cache: %w", err)
	}

	return &repo{db: db, lock: lock}, nil
}

// slogLogger sends pebble's own log lines to slog.
type slogLogger struct {
	logger *slog.Logger
}

func (l slogLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l slogLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l slogLogger) Fatalf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}

func (r *repo) getQueueKey(roomID string) []byte {
	return []byte(queueKeyPrefix + roomID)
}

func (r *repo) Load(_ context.Context, roomID string) ([]domain.QueueItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, queue.ErrClosed
	}

	value, closer, err := r.db.Get(r.getQueueKey(roomID))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	defer closer.Close()

	var items []domain.QueueItem
	if err := json.Unmarshal(value, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue: %w", err)
	}

	return items, nil
}

func (r *repo) Save(_ context.Context, roomID string, items []domain.QueueItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal queue: %w", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return queue.ErrClosed
	}

	if err := r.db.Set(r.getQueueKey(roomID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save queue: %w", err)
	}

	return nil
}

func (r *repo) Delete(_ context.Context, roomID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return queue.ErrClosed
	}

	if err := r.db.Delete(r.getQueueKey(roomID), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete queue: %w", err)
	}

	return nil
}

func (r *repo) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	err := r.db.Close()
	if lockErr := r.lock.Close(); err == nil {
		err = lockErr
	}

	return err
}
