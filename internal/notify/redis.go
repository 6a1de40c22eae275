package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultChannelPrefix = "progression:events:"

// RedisPublisher fans events out over Redis pub/sub, one channel per user so
// the transport layer can subscribe per connection.
type RedisPublisher struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisPublisher(client redis.UniversalClient, channelPrefix string) *RedisPublisher {
	if client == nil {
		return nil
	}
	prefix := strings.TrimSpace(channelPrefix)
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.prefix+event.UserID, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
