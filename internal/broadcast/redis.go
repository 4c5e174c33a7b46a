package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultTopic канал Redis Pub/Sub по умолчанию
const DefaultTopic = "causaltree:atoms"

// Redis рассылка через Redis Pub/Sub
type Redis struct {
	client *redis.Client
	logger *slog.Logger
	topic  string
}

// NewRedis создает брокер поверх клиента Redis и проверяет соединение
func NewRedis(ctx context.Context, client *redis.Client, topic string, logger *slog.Logger) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if topic == "" {
		topic = DefaultTopic
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Redis{client: client, topic: topic, logger: logger}, nil
}

// Publish кодирует сообщение в JSON и публикует его
func (r *Redis) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	if err := r.client.Publish(ctx, r.topic, data).Err(); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}
	return nil
}

// Listen подписывается на канал и декодирует сообщения до отмены ctx.
// Сообщения, которые не удалось декодировать, пропускаются.
func (r *Redis) Listen(ctx context.Context, handler func(Message)) error {
	pubsub := r.client.Subscribe(ctx, r.topic)
	defer pubsub.Close()

	// Дожидаемся подтверждения подписки
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.topic, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-ch:
			if !ok {
				return ErrClosed
			}
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				r.logger.Warn("Failed to decode broadcast message", "error", err)
				continue
			}
			handler(msg)
		}
	}
}
