package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sharetube/watchparty/internal/domain"
)

type repo struct {
	rc             *redis.Client
	expireDuration time.Duration
}

func NewRepo(rc *redis.Client, expireDuration time.Duration) *repo {
	return &repo{
		rc:             rc,
		expireDuration: expireDuration,
	}
}

func (r repo) getQueueKey(roomId string) string {
	return "room:" + roomId + ":queue"
}

func (r repo) Load(ctx context.Context, roomId string) ([]domain.QueueItem, error) {
	queueKey := r.getQueueKey(roomId)
	raw, err := r.rc.LRange(ctx, queueKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}

	items := make([]domain.QueueItem, 0, len(raw))
	for _, entry := range raw {
		var item domain.QueueItem
		if err := json.Unmarshal([]byte(entry), &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal queue item: %w", err)
		}
		items = append(items, item)
	}

	if len(items) > 0 {
		r.rc.Expire(ctx, queueKey, r.expireDuration)
	}

	return items, nil
}

// Save replaces the stored queue in one transaction.
func (r repo) Save(ctx context.Context, roomId string, items []domain.QueueItem) error {
	queueKey := r.getQueueKey(roomId)
	pipe := r.rc.TxPipeline()

	pipe.Del(ctx, queueKey)
	if len(items) > 0 {
		values := make([]any, 0, len(items))
		for _, item := range items {
			data, err := json.Marshal(item)
			if err != nil {
				return fmt.Errorf("failed to marshal queue item: %w", err)
			}
			values = append(values, data)
		}
		pipe.RPush(ctx, queueKey, values...)
		pipe.Expire(ctx, queueKey, r.expireDuration)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save queue: %w", err)
	}

	return nil
}

func (r repo) Delete(ctx context.Context, roomId string) error {
	return r.rc.Del(ctx, r.getQueueKey(roomId)).Err()
}
