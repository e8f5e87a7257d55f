// Package kvstore provides durable single-blob key-value slots for the chat
// snapshot cache. Expiry is not enforced here; the feed enforces freshness via
// the snapshot's own write timestamp.
package kvstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/chat"
)

// SnapshotKey builds the per-session snapshot slot key.
func SnapshotKey(userID string) string {
	return "darasa:chat:snapshot:" + userID
}

func NewRedisClient(conf core.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "connecting to redis")
	}
	return client, nil
}

type redisSnapshotStore struct {
	client *redis.Client
	key    string
}

var _ chat.SnapshotStore = (*redisSnapshotStore)(nil) // interface compliance check

func NewRedisSnapshotStore(client *redis.Client, key string) *redisSnapshotStore {
	return &redisSnapshotStore{client: client, key: key}
}

func (s redisSnapshotStore) Get(ctx context.Context) (chat.Snapshot, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return chat.Snapshot{}, chat.ErrNoSnapshot
		}
		return chat.Snapshot{}, errors.Wrap(err, "reading snapshot")
	}

	var snap chat.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return chat.Snapshot{}, errors.Wrap(err, "decoding snapshot")
	}
	return snap, nil
}

func (s redisSnapshotStore) Set(ctx context.Context, snap chat.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "encoding snapshot")
	}
	// no TTL: staleness is judged against snap.WrittenAt on read
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return errors.Wrap(err, "writing snapshot")
	}
	return nil
}
