package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"motionbus.dev/gtfs/model"
)

const (
	redisLatestKey  = "positions:latest"
	redisTripPrefix = "positions:trip:"
)

// Keeps the latest snapshot of positions in Redis, both as a whole
// and per resolved trip. Keys expire after ttl unless refreshed by
// the next cycle.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCache(addr, password string, db int, ttl time.Duration, logger *slog.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisCache{
		client: client,
		prefix: "gtfs:",
		ttl:    ttl,
		logger: logger.With("component", "redis_cache"),
	}, nil
}

func (c *RedisCache) Name() string {
	return "redis"
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

func tripKey(tripID int) string {
	return redisTripPrefix + strconv.Itoa(tripID)
}

func (c *RedisCache) Publish(ctx context.Context, positions []model.VehiclePosition) error {
	start := time.Now()

	snapshot, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.key(redisLatestKey), snapshot, c.ttl)
		for _, pos := range positions {
			if pos.TripID == nil {
				continue
			}
			b, err := json.Marshal(pos)
			if err != nil {
				return fmt.Errorf("json marshal: %w", err)
			}
			pipe.Set(ctx, c.key(tripKey(*pos.TripID)), b, c.ttl)
		}
		return nil
	})
	if err != nil {
		c.logger.Error("cache set failed", "error", err)
		return fmt.Errorf("storing positions: %w", err)
	}

	c.logger.Debug("cache set", "positions", len(positions), "size_bytes", len(snapshot), "ttl", c.ttl, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// The last published snapshot, or nil if there is none.
func (c *RedisCache) Latest(ctx context.Context) ([]model.VehiclePosition, error) {
	data, err := c.client.Get(ctx, c.key(redisLatestKey)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading positions: %w", err)
	}

	positions := []model.VehiclePosition{}
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}
	return positions, nil
}

// Latest position of a trip's vehicle, or nil if not known.
func (c *RedisCache) Trip(ctx context.Context, tripID int) (*model.VehiclePosition, error) {
	data, err := c.client.Get(ctx, c.key(tripKey(tripID))).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading position: %w", err)
	}

	pos := &model.VehiclePosition{}
	if err := json.Unmarshal(data, pos); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}
	return pos, nil
}
