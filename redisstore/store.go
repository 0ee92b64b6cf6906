// Package redisstore backs the posclient storage and broadcast ports with
// Redis, so credentials and the active store survive reloads and are shared
// across terminal processes.
package redisstore

import (
	"context"
	"errors"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/retailcore/posclient"
)

// keyChannelPrefix is the pub/sub channel carrying change notifications for a
// stored key, so Subscribe works across processes.
const keyChannelPrefix = "posclient:kv:"

// Store is a Redis-backed posclient.KeyValueStore.
type Store struct {
	rdb *redis.Client
	log *logrus.Logger
}

// New creates a store over an existing Redis client. logger may be nil.
func New(rdb *redis.Client, logger *logrus.Logger) *Store {
	return &Store{rdb: rdb, log: ensureLogger(logger)}
}

// Dial connects to Redis and pings it once.
func Dial(addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "",
		DB:       0,
		PoolSize: 100,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return rdb, nil
}

// Get returns the stored value and whether the key was present.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}

// Set stores the value without expiry and publishes a change notification.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return err
	}
	if err := s.rdb.Publish(ctx, keyChannelPrefix+key, value).Err(); err != nil {
		s.log.WithFields(logrus.Fields{"module": "redisstore", "key": key}).
			Warn("failed to publish key change: ", err)
	}
	return nil
}

// Remove deletes the given keys.
func (s *Store) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

// Subscribe registers a handler for writes to key made by any process. The
// handler runs on a dedicated goroutine until the returned unsubscribe
// function is called.
func (s *Store) Subscribe(key string, fn func(value string)) func() {
	pubsub := s.rdb.Subscribe(context.Background(), keyChannelPrefix+key)
	go func() {
		for msg := range pubsub.Channel() {
			fn(msg.Payload)
		}
	}()
	return func() {
		if err := pubsub.Close(); err != nil {
			s.log.WithFields(logrus.Fields{"module": "redisstore", "key": key}).
				Warn("failed to close subscription: ", err)
		}
	}
}

var _ posclient.KeyValueStore = (*Store)(nil)

func ensureLogger(logger *logrus.Logger) *logrus.Logger {
	if logger != nil {
		return logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
