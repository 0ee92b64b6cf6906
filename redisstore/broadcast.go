package redisstore

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/retailcore/posclient"
)

// storeChangedChannel carries active-store changes between terminal processes.
const storeChangedChannel = "posclient:store-changed"

// Broadcaster is a Redis pub/sub posclient.Broadcaster.
type Broadcaster struct {
	rdb *redis.Client
	log *logrus.Logger
}

// NewBroadcaster creates a broadcaster over an existing Redis client.
func NewBroadcaster(rdb *redis.Client, logger *logrus.Logger) *Broadcaster {
	return &Broadcaster{rdb: rdb, log: ensureLogger(logger)}
}

// Publish sends the change to every subscribed context.
func (b *Broadcaster) Publish(ctx context.Context, change posclient.StoreChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, storeChangedChannel, payload).Err()
}

// Subscribe registers a change handler. Malformed messages are logged and
// dropped.
func (b *Broadcaster) Subscribe(fn func(posclient.StoreChange)) func() {
	pubsub := b.rdb.Subscribe(context.Background(), storeChangedChannel)
	go func() {
		for msg := range pubsub.Channel() {
			var change posclient.StoreChange
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				b.log.WithFields(logrus.Fields{"module": "redisstore"}).
					Warn("dropping malformed store-change message: ", err)
				continue
			}
			fn(change)
		}
	}()
	return func() {
		if err := pubsub.Close(); err != nil {
			b.log.WithFields(logrus.Fields{"module": "redisstore"}).
				Warn("failed to close subscription: ", err)
		}
	}
}

var _ posclient.Broadcaster = (*Broadcaster)(nil)
