package presence

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps driver metadata in per-driver hashes so the API process and
// the ingest consumer share one view of availability.
type Redis struct {
	client *redis.Client
}

func NewRedis(addr, password string) *Redis {
	return &Redis{client: redis.NewClient(&redis.Options{Addr: addr, Password: password})}
}

func metaKey(driverID string) string { return "driver:meta:" + driverID }

func (r *Redis) SetAvailable(ctx context.Context, driverID string, available bool) error {
	return r.client.HSet(ctx, metaKey(driverID), map[string]interface{}{
		"available": strconv.FormatBool(available),
		"updated":   time.Now().UTC().Format(time.RFC3339),
	}).Err()
}

func (r *Redis) Available(ctx context.Context, driverID string) (bool, error) {
	v, err := r.client.HGet(ctx, metaKey(driverID), "available").Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

func (r *Redis) Touch(ctx context.Context, driverID string, at time.Time) error {
	return r.client.HSet(ctx, metaKey(driverID), map[string]interface{}{
		"last_seen": at.UTC().Format(time.RFC3339),
	}).Err()
}

func (r *Redis) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.client.Close() }
