package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Channel is the Redis pub/sub channel carrying change notifications.
const Channel = "events"

// TypeReplaced is published after the event file is overwritten.
const TypeReplaced = "events_replaced"

// Notification is the message broadcast to stream subscribers.
type Notification struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Publish sends n on Channel. Best effort; a nil client is a no-op.
func Publish(ctx context.Context, rdb *redis.Client, n Notification) {
	if rdb == nil {
		return
	}
	b, err := json.Marshal(n)
	if err != nil {
		return
	}
	if err := rdb.Publish(ctx, Channel, b).Err(); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("type", n.Type).Msg("publish notification")
	}
}
