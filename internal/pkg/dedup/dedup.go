package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "casateva:dedup:listing:"

// Deduplicator 基于 Redis SetNX 的 (portal, external_id) 去重窗口。
//
// 入库前调用 Seen：窗口内第二次出现返回 true，调用方跳过重复 upsert。
type Deduplicator struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDeduplicator(rdb *redis.Client, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Deduplicator{
		rdb: rdb,
		ttl: ttl,
	}
}

// Seen 报告该 (portal, externalID) 是否已在窗口内出现过。
func (d *Deduplicator) Seen(ctx context.Context, portal, externalID string) (bool, error) {
	if d == nil || d.rdb == nil || portal == "" || externalID == "" {
		return false, nil
	}
	key := keyPrefix + Hash(portal, externalID)
	ok, err := d.rdb.SetNX(ctx, key, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return !ok, nil
}

// Forget 移除一个去重标记（测试与人工重采用）。
func (d *Deduplicator) Forget(ctx context.Context, portal, externalID string) error {
	if d == nil || d.rdb == nil {
		return nil
	}
	key := keyPrefix + Hash(portal, externalID)
	if err := d.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}

// Hash 计算 (portal, external_id) 的去重哈希，入库时同样存一份。
func Hash(portal, externalID string) string {
	sum := sha256.Sum256([]byte(portal + "|" + externalID))
	return hex.EncodeToString(sum[:])
}
