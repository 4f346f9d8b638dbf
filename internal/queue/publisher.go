package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"habitly/internal/logging"
)

type Publisher interface {
	// Publish appends event to stream and returns the Redis message id.
	Publish(ctx context.Context, stream string, event ActivityEvent) (messageID string, err error)
}

type RedisPublisher struct {
	client *redis.Client
	log    *logrus.Entry
}

func NewPublisher(client *redis.Client) Publisher {
	return &RedisPublisher{client: client, log: logging.For("Publisher")}
}

func (p *RedisPublisher) Publish(ctx context.Context, stream string, event ActivityEvent) (string, error) {
	startTime := time.Now()
	fields := logrus.Fields{"stream": stream, "type": event.Type}

	values, err := event.ToMap()
	if err != nil {
		p.log.WithFields(fields).WithError(err).Warn("Publish FAILED")
		return "", fmt.Errorf("serialize event: %w", err)
	}

	messageID, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
	if err != nil {
		p.log.WithFields(fields).WithError(err).Warn("Publish FAILED")
		return "", fmt.Errorf("xadd to stream: %w", err)
	}

	p.log.WithFields(fields).WithFields(logrus.Fields{
		"msg_id":   messageID,
		"duration": time.Since(startTime),
	}).Debug("Publish OK")
	return messageID, nil
}
