// Package events announces committed screenings on Redis pub/sub so that
// notification services can react to them.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spigell/screener/internal/screening"
)

// ChannelApplicationScreened carries one message per committed screening.
const ChannelApplicationScreened = "EVENT_APPLICATION_SCREENED"

type message struct {
	Type string `json:"type"`
	screening.ScreenedEvent
}

// RedisPublisher implements screening.EventPublisher.
type RedisPublisher struct {
	rdb     redis.Cmdable
	channel string
	logger  *zap.Logger
}

func NewRedisPublisher(rdb redis.Cmdable, logger *zap.Logger) *RedisPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{rdb: rdb, channel: ChannelApplicationScreened, logger: logger}
}

var _ screening.EventPublisher = (*RedisPublisher)(nil)

func (p *RedisPublisher) PublishScreened(ctx context.Context, ev screening.ScreenedEvent) error {
	payload, err := json.Marshal(message{Type: p.channel, ScreenedEvent: ev})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", p.channel, err)
	}

	receivers, err := p.rdb.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}

	p.logger.Debug("published screening event",
		zap.String("channel", p.channel),
		zap.Int64("application_id", ev.ApplicationID),
		zap.Int64("receivers", receivers),
	)
	return nil
}
