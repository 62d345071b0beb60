package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/spamforflo-arch/jarvis-and-baymax/pkg/log"
)

// Redis is a conversation log backed by a Redis list. Entries are pushed
// to the head and the list is trimmed so the bound holds server-side.
type Redis struct {
	client *redis.Client
	id     string
	max    int
}

// NewRedis connects to Redis and returns a store bounded to max entries.
// Connection failures are logged, not fatal; operations will surface them.
func NewRedis(addr, password string, db, max int) *Redis {
	logger := log.Component("store")
	if max <= 0 {
		max = 64
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		logger.WithField("addr", addr).WithError(err).Error("redis ping failed")
	} else {
		logger.WithField("addr", addr).Info("connected to redis")
	}

	return &Redis{client: client, id: uuid.NewString(), max: max}
}

func (r *Redis) ConversationID() string { return r.id }

func (r *Redis) key() string { return "conversation:" + r.id }

func (r *Redis) Append(ctx context.Context, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("store: marshal entry: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key(), raw)
	pipe.LTrim(ctx, r.key(), 0, int64(r.max-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

func (r *Redis) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	if n > r.max {
		n = r.max
	}
	raws, err := r.client.LRange(ctx, r.key(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	// LPUSH stores newest first; callers expect oldest first.
	out := make([]Entry, 0, len(raws))
	for i := len(raws) - 1; i >= 0; i-- {
		var e Entry
		if err := json.Unmarshal([]byte(raws[i]), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
