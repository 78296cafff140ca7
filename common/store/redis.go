package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/medgenius/ledger/common/logger"
	redisWrapper "github.com/medgenius/ledger/common/redis"
)

// RedisStore persists the snapshot as one JSON envelope under a single key.
// Save runs inside a WATCH transaction so a writer that raced another
// writer fails with ErrConcurrentModification instead of silently dropping
// the intervening mints.
type RedisStore struct {
	redis *redisWrapper.Client
	key   string
	log   *logger.Logger
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(client *redisWrapper.Client, key string, log *logger.Logger) *RedisStore {
	return &RedisStore{
		redis: client,
		key:   key,
		log:   log,
	}
}

// Load reads the snapshot envelope. A missing key or unparseable envelope
// yields an empty snapshot.
func (s *RedisStore) Load(ctx context.Context) (*Snapshot, error) {
	data, err := s.redis.GetBytes(ctx, s.key)
	if errors.Is(err, redisWrapper.ErrKeyNotFound) {
		return &Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	return s.decode(data), nil
}

// Save replaces the snapshot envelope if the version still matches
func (s *RedisStore) Save(ctx context.Context, snap *Snapshot) error {
	next := Snapshot{
		Version: snap.Version + 1,
		Records: snap.Records,
	}

	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		current := &Snapshot{}
		raw, err := tx.Get(ctx, s.key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("read current snapshot: %w", err)
		}
		if err == nil {
			current = s.decode(raw)
		}

		if snap.Version != current.Version {
			return ErrConcurrentModification
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, data, 0)
			return nil
		})
		return err
	}, s.key)

	if errors.Is(err, redis.TxFailedErr) {
		// Key changed between WATCH and EXEC
		return ErrConcurrentModification
	}
	return err
}

func (s *RedisStore) decode(data []byte) *Snapshot {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.log.Warn("snapshot envelope is corrupt, treating store as empty", "key", s.key, "error", err)
		return &Snapshot{}
	}
	return &snap
}
