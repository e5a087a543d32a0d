package compat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCacheTTL = 5 * time.Minute

// CachedLookup serves capabilities from Redis, falling back to next on misses and on any
// Redis error.
type CachedLookup struct {
	rdb    redis.Cmdable
	next   CapabilityLookup
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedLookup(rdb redis.Cmdable, next CapabilityLookup, ttl time.Duration, logger *slog.Logger) *CachedLookup {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedLookup{rdb: rdb, next: next, ttl: ttl, logger: logger}
}

func cacheKey(businessID, employeeID string) string {
	return fmt.Sprintf("compat:caps:%s:%s", businessID, employeeID)
}

func (c *CachedLookup) ServiceIDsByEmployee(ctx context.Context, businessID string, employeeIDs []string) (map[string][]string, error) {
	if len(employeeIDs) == 0 {
		return map[string][]string{}, nil
	}
	keys := make([]string, len(employeeIDs))
	for i, id := range employeeIDs {
		keys[i] = cacheKey(businessID, id)
	}

	out := make(map[string][]string, len(employeeIDs))
	var missing []string
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("capability cache read failed", "business_id", businessID, "err", err)
		missing = employeeIDs
	} else {
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				missing = append(missing, employeeIDs[i])
				continue
			}
			var caps []string
			if err := json.Unmarshal([]byte(s), &caps); err != nil {
				missing = append(missing, employeeIDs[i])
				continue
			}
			out[employeeIDs[i]] = caps
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	fresh, err := c.next.ServiceIDsByEmployee(ctx, businessID, missing)
	if err != nil {
		return nil, err
	}
	_, err = c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range missing {
			caps := fresh[id]
			if caps == nil {
				caps = []string{}
			}
			b, _ := json.Marshal(caps)
			p.Set(ctx, cacheKey(businessID, id), b, c.ttl)
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("capability cache write failed", "business_id", businessID, "err", err)
	}
	for _, id := range missing {
		out[id] = fresh[id]
	}
	return out, nil
}

// Invalidate drops the cached capabilities of one employee.
func (c *CachedLookup) Invalidate(ctx context.Context, businessID, employeeID string) error {
	return c.rdb.Del(ctx, cacheKey(businessID, employeeID)).Err()
}
