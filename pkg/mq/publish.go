package mq

import (
	"context"
	"encoding/json"
	"fmt"
)

// PublishJSON marshals v and publishes it to queue
func PublishJSON(ctx context.Context, r RabbitMQ, queue string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := r.Publish(ctx, queue, body); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}
