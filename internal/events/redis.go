package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Channel is the Redis pub/sub channel events are published on.
const Channel = "quizsync:events"

// Redis publishes events so other processes (the player, other daemons) see them.
type Redis struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewRedis(rdb *redis.Client, log *zap.Logger) *Redis {
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{rdb: rdb, log: log}
}

func (r *Redis) Emit(ctx context.Context, name string, payload any, siteID string) {
	b, err := json.Marshal(newEvent(name, payload, siteID))
	if err != nil {
		r.log.Warn("encode event", zap.String("event", name), zap.Error(err))
		return
	}
	if err := r.rdb.Publish(ctx, Channel, b).Err(); err != nil {
		r.log.Warn("publish event", zap.String("event", name), zap.Error(err))
	}
}

// Relay forwards events published on Channel to fn until ctx is done.
func Relay(ctx context.Context, rdb *redis.Client, fn func(Event)) {
	pubsub := rdb.Subscribe(ctx, Channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			fn(ev)
		}
	}
}
