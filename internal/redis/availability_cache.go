package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/carebridge/telehealth-booking/internal/booking"
)

// AvailabilityCache caches availability day slot sets in Redis. It is a pure
// read accelerator: every error degrades to a cache miss so a Redis outage
// never fails a request.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewAvailabilityCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *AvailabilityCache {
	return &AvailabilityCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func dayCacheKey(doctorID string, day time.Time) string {
	return fmt.Sprintf("availability:%s", booking.DayKey(doctorID, day))
}

func (c *AvailabilityCache) GetDay(ctx context.Context, doctorID string, day time.Time) ([]booking.TimeSlot, bool) {
	key := dayCacheKey(doctorID, day)

	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("availability cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var slots []booking.TimeSlot
	if err := json.Unmarshal(raw, &slots); err != nil {
		c.logger.Warn("availability cache entry corrupt, dropping", zap.String("key", key), zap.Error(err))
		_ = c.client.Del(ctx, key).Err()
		return nil, false
	}

	if slots == nil {
		slots = []booking.TimeSlot{}
	}
	return slots, true
}

func (c *AvailabilityCache) SetDay(ctx context.Context, doctorID string, day time.Time, slots []booking.TimeSlot) {
	key := dayCacheKey(doctorID, day)

	if slots == nil {
		slots = []booking.TimeSlot{}
	}
	raw, err := json.Marshal(slots)
	if err != nil {
		c.logger.Warn("availability cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}

	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Debug("availability cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *AvailabilityCache) InvalidateDay(ctx context.Context, doctorID string, day time.Time) {
	key := dayCacheKey(doctorID, day)

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Debug("availability cache invalidate failed", zap.String("key", key), zap.Error(err))
	}
}
