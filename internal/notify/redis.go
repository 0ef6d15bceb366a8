package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/KevinKickass/OpenWardCore/internal/config"
	"github.com/go-redis/redis/v8"
)

// RedisSink appends events to a Redis stream for downstream consumers.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisSink(ctx context.Context, cfg config.RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return &RedisSink{client: client, stream: cfg.Stream, maxLen: cfg.MaxLen}, nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"id":        ev.ID.String(),
			"type":      string(ev.Kind),
			"bed_id":    ev.BedID,
			"timestamp": ev.Timestamp.UnixMilli(),
			"data":      string(data),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to add event to stream %s: %w", s.stream, err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
