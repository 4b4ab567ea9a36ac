package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"traininghub-backend/internal/domain"
)

// DefaultEventChannel is the pub/sub channel events go to when none is configured.
const DefaultEventChannel = "traininghub.events"

type redisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher publishes events as JSON on a Redis pub/sub channel.
// Delivery is best-effort: subscribers that are not connected miss the event.
func NewRedisPublisher(client *redis.Client, channel string) domain.EventPublisher {
	if channel == "" {
		channel = DefaultEventChannel
	}
	return &redisPublisher{client: client, channel: channel}
}

func (p *redisPublisher) Publish(ctx context.Context, event domain.Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.Type, err)
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

type logPublisher struct {
	log *slog.Logger
}

// NewLogPublisher is the sink used when Redis is not configured.
func NewLogPublisher(log *slog.Logger) domain.EventPublisher {
	return &logPublisher{log: log}
}

func (p *logPublisher) Publish(_ context.Context, event domain.Event) error {
	p.log.Info("event",
		"type", event.Type,
		"student_id", event.StudentID,
		"course_id", event.CourseID,
		"slot_id", event.SlotID,
		"registration_id", event.RegistrationID,
		"certificate_id", event.CertificateID,
	)
	return nil
}
