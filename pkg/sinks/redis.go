package sinks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pixellineage/inputlat/internal/model"
	"github.com/pixellineage/inputlat/pkg/errors"
)

// RedisConfig configures the Redis stream sink.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string

	// Password for Redis authentication (optional)
	Password string

	// Database number to use (default: 0)
	Database int

	// Stream is the stream key timelines are appended to
	// (e.g., "inputlat:timelines")
	Stream string

	// MaxLen caps the stream length (approximate trimming; 0 = unbounded)
	MaxLen int64

	// Timeout for Redis operations
	Timeout time.Duration

	// PoolSize is the maximum number of connections
	PoolSize int

	// MinIdleConns is the minimum number of idle connections
	MinIdleConns int
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address:      address,
		Stream:       "inputlat:timelines",
		MaxLen:       100_000,
		Timeout:      5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// Redis appends completed timelines to a Redis stream so downstream
// consumers (dashboards, alerting) can tail them.
type Redis struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedis creates a Redis stream sink and verifies the connection.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	opts := &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeRedisConnect, "failed to connect to Redis").
			WithContext("address", cfg.Address)
	}

	return &Redis{cfg: cfg, client: client}, nil
}

// Name implements Writer.
func (s *Redis) Name() string { return "redis" }

// Write implements Writer: XADDs one entry per timeline.
func (s *Redis) Write(ctx context.Context, timeline *model.InputEventTimeline) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	data, err := json.Marshal(toRecord(timeline))
	if err != nil {
		return errors.SinkWrite(s.Name(), err)
	}

	args := &redis.XAddArgs{
		Stream: s.cfg.Stream,
		Values: map[string]interface{}{
			"event_time": timeline.EventTime,
			"action":     timeline.ActionType.String(),
			"timeline":   data,
		},
	}
	if s.cfg.MaxLen > 0 {
		args.MaxLen = s.cfg.MaxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return errors.SinkWrite(s.Name(), err).WithContext("stream", s.cfg.Stream)
	}
	return nil
}

// Close implements Writer.
func (s *Redis) Close(context.Context) error {
	if err := s.client.Close(); err != nil {
		return errors.Wrap(err, errors.CodeSinkClose, "failed to close Redis client")
	}
	return nil
}
