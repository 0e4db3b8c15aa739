package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/costlane/costlane/internal/config"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const versionKey = "costlane:report:version"

// Cache memoizes report results in redis. Keys carry a version counter that
// day writes bump, so invalidation never has to enumerate fingerprints. A nil
// client turns every operation into a no-op.
type Cache struct {
	client *goredis.Client
	log    *zap.Logger
	ttl    time.Duration
}

type CacheParam struct {
	fx.In

	Client *goredis.Client `optional:"true"`
	Log    *zap.Logger
	Config config.Config
}

func NewCache(p CacheParam) *Cache {
	return &Cache{
		client: p.Client,
		log:    p.Log.Named("report.cache"),
		ttl:    time.Duration(p.Config.Redis.CacheTTLSeconds) * time.Second,
	}
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

func (c *Cache) key(ctx context.Context, fingerprint string) (string, error) {
	version, err := c.client.Get(ctx, versionKey).Int64()
	if err != nil && err != goredis.Nil {
		return "", err
	}
	return fmt.Sprintf("costlane:report:%d:%s", version, fingerprint), nil
}

func (c *Cache) Get(ctx context.Context, fingerprint string) ([]Row, bool) {
	if !c.enabled() {
		return nil, false
	}
	key, err := c.key(ctx, fingerprint)
	if err != nil {
		c.log.Warn("cache read failed", zap.Error(err))
		return nil, false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.log.Warn("cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var rows []Row
	if err := json.Unmarshal(raw, &rows); err != nil {
		c.log.Warn("cache entry corrupt", zap.Error(err))
		return nil, false
	}
	return rows, true
}

func (c *Cache) Set(ctx context.Context, fingerprint string, rows []Row) {
	if !c.enabled() {
		return
	}
	key, err := c.key(ctx, fingerprint)
	if err != nil {
		c.log.Warn("cache write failed", zap.Error(err))
		return
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		c.log.Warn("cache write failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.Warn("cache write failed", zap.Error(err))
	}
}

// InvalidateDay bumps the version counter, orphaning every cached result.
// Orphaned entries expire with their TTL.
func (c *Cache) InvalidateDay(ctx context.Context, date time.Time, forecast bool) error {
	if !c.enabled() {
		return nil
	}
	return c.client.Incr(ctx, versionKey).Err()
}

func fingerprint(req Request) string {
	canonical, _ := json.Marshal(req)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
