// Package cache keeps each user's activity feed as a Redis sorted set of
// completion ids scored by completion time in Unix milliseconds.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"habitly/internal/logging"
	"habitly/internal/model"
)

const (
	ActivityCachePrefix = "activity:user:"

	// ActivityCacheCap is the maximum number of completions kept per user.
	ActivityCacheCap = 500

	ActivityCacheTTL = 7 * 24 * time.Hour
)

// ActivityCache stores, per viewer, the ids of recent completions by the
// users they follow.
type ActivityCache interface {
	// Add inserts one completion, trims the set to the cap and refreshes the TTL.
	Add(ctx context.Context, userID, completionID, timestamp int64) error

	// Remove deletes completions from a viewer's set.
	Remove(ctx context.Context, userID int64, completionIDs ...int64) error

	// Get returns up to limit completion ids, newest first.
	Get(ctx context.Context, userID int64, limit int) ([]int64, error)

	// Warm bulk-inserts completions.
	Warm(ctx context.Context, userID int64, completions []model.CompletionScore) error

	Size(ctx context.Context, userID int64) (int64, error)

	// Exists is false for viewers never warmed or whose set expired.
	Exists(ctx context.Context, userID int64) (bool, error)
}

type RedisActivityCache struct {
	client *redis.Client
	log    *logrus.Entry
}

func NewActivityCache(client *redis.Client) ActivityCache {
	return &RedisActivityCache{client: client, log: logging.For("ActivityCache")}
}

func activityKey(userID int64) string {
	return fmt.Sprintf("%s%d", ActivityCachePrefix, userID)
}

func member(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (c *RedisActivityCache) Add(ctx context.Context, userID, completionID, timestamp int64) error {
	key := activityKey(userID)

	pipe := c.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(timestamp), Member: member(completionID)})
	// Rank 0 is the oldest entry; keep the newest ActivityCacheCap.
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-ActivityCacheCap-1))
	pipe.Expire(ctx, key, ActivityCacheTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		c.log.WithFields(logrus.Fields{"user": userID, "completion": completionID}).WithError(err).Warn("Add FAILED")
		return fmt.Errorf("add completion to activity cache: %w", err)
	}

	c.log.WithFields(logrus.Fields{"user": userID, "completion": completionID}).Debug("Add OK")
	return nil
}

func (c *RedisActivityCache) Remove(ctx context.Context, userID int64, completionIDs ...int64) error {
	if len(completionIDs) == 0 {
		return nil
	}

	members := make([]any, len(completionIDs))
	for i, id := range completionIDs {
		members[i] = member(id)
	}

	removed, err := c.client.ZRem(ctx, activityKey(userID), members...).Result()
	if err != nil {
		c.log.WithField("user", userID).WithError(err).Warn("Remove FAILED")
		return fmt.Errorf("remove completions from activity cache: %w", err)
	}

	c.log.WithFields(logrus.Fields{"user": userID, "removed": removed}).Debug("Remove OK")
	return nil
}

func (c *RedisActivityCache) Get(ctx context.Context, userID int64, limit int) ([]int64, error) {
	key := activityKey(userID)
	startTime := time.Now()

	members, err := c.client.ZRevRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		c.log.WithField("user", userID).WithError(err).Warn("Get FAILED")
		return nil, fmt.Errorf("get activity cache: %w", err)
	}

	c.client.Expire(ctx, key, ActivityCacheTTL)

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse completion id %q: %w", m, err)
		}
		ids = append(ids, id)
	}

	c.log.WithFields(logrus.Fields{
		"user":     userID,
		"returned": len(ids),
		"duration": time.Since(startTime),
	}).Debug("Get OK")
	return ids, nil
}

func (c *RedisActivityCache) Warm(ctx context.Context, userID int64, completions []model.CompletionScore) error {
	if len(completions) == 0 {
		return nil
	}

	key := activityKey(userID)
	startTime := time.Now()

	members := make([]redis.Z, len(completions))
	for i, cs := range completions {
		members[i] = redis.Z{Score: float64(cs.Timestamp), Member: member(cs.CompletionID)}
	}

	pipe := c.client.Pipeline()
	pipe.ZAdd(ctx, key, members...)
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-ActivityCacheCap-1))
	pipe.Expire(ctx, key, ActivityCacheTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		c.log.WithFields(logrus.Fields{"user": userID, "completions": len(completions)}).WithError(err).Warn("Warm FAILED")
		return fmt.Errorf("warm activity cache: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"user":        userID,
		"completions": len(completions),
		"duration":    time.Since(startTime),
	}).Info("Warm OK")
	return nil
}

func (c *RedisActivityCache) Size(ctx context.Context, userID int64) (int64, error) {
	size, err := c.client.ZCard(ctx, activityKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("get activity cache size: %w", err)
	}
	return size, nil
}

func (c *RedisActivityCache) Exists(ctx context.Context, userID int64) (bool, error) {
	n, err := c.client.Exists(ctx, activityKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("check activity cache exists: %w", err)
	}
	return n > 0, nil
}
