package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisChannel = "sre:changes"

// RedisBroker relays changes over Redis pub/sub so every replica's SSE
// clients see writes made by any replica.
type RedisBroker struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisBroker(opts *redis.Options, logger *zap.Logger) *RedisBroker {
	return &RedisBroker{
		client: redis.NewClient(opts),
		logger: logger.Named("stream"),
	}
}

// Ping checks the connection.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBroker) Publish(ctx context.Context, c Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if err := b.client.Publish(ctx, redisChannel, data).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan Change, func()) {
	pubsub := b.client.Subscribe(ctx, redisChannel)
	out := make(chan Change, subscriberBuffer)
	done := make(chan struct{})

	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					b.logger.Warn("dropping malformed change", zap.Error(err))
					continue
				}
				select {
				case out <- c:
				default:
				}
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() { close(done) })
	}
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
