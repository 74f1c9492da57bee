package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lalith-99/tenantgate/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker shares events between server instances over Redis pub/sub,
// one channel per tenant.
type RedisBroker struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisBroker(client *redis.Client, logger *zap.Logger) *RedisBroker {
	return &RedisBroker{client: client, logger: logger}
}

func channel(tenantID uuid.UUID) string {
	return "machine_events:" + tenantID.String()
}

func (b *RedisBroker) Publish(ctx context.Context, tenantID uuid.UUID, ev models.MachineEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode machine event: %w", err)
	}
	if err := b.client.Publish(ctx, channel(tenantID), payload).Err(); err != nil {
		return fmt.Errorf("publish machine event: %w", err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so events
// published after it returns are delivered.
func (b *RedisBroker) Subscribe(ctx context.Context, tenantID uuid.UUID) (<-chan models.MachineEvent, error) {
	pubsub := b.client.Subscribe(ctx, channel(tenantID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe machine events: %w", err)
	}

	out := make(chan models.MachineEvent, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev models.MachineEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Warn("drop undecodable machine event", zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				default:
				}
			}
		}
	}()
	return out, nil
}
