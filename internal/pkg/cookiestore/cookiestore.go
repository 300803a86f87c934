package cookiestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "casateva:cookies:"

// Cookie 是与浏览器实现解耦的 Cookie 快照。
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"` // unix 秒，0 表示会话 Cookie
	HTTPOnly bool    `json:"http_only"`
	Secure   bool    `json:"secure"`
}

// Store 把会话 Cookie 持久化到 Redis，按 (portal, account) 维度隔离。
//
// 会话开始时 Load，结束时 Save；命中缓存可以跳过重复的登录 / 挑战流程。
// 这是显式作用域的共享可变状态，不走任何包级全局。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func key(portal, account string) string {
	if account == "" {
		account = "anon"
	}
	return keyPrefix + portal + ":" + account
}

// Load 读取某 (portal, account) 的 Cookie 快照；没有记录时返回空切片。
func (s *Store) Load(ctx context.Context, portal, account string) ([]Cookie, error) {
	if s == nil || s.rdb == nil {
		return nil, nil
	}
	data, err := s.rdb.Get(ctx, key(portal, account)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cookiestore get: %w", err)
	}
	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("cookiestore decode: %w", err)
	}
	return cookies, nil
}

// Save 覆盖写入 Cookie 快照。空切片等价于 Clear。
func (s *Store) Save(ctx context.Context, portal, account string, cookies []Cookie) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	if len(cookies) == 0 {
		return s.Clear(ctx, portal, account)
	}
	data, err := json.Marshal(cookies)
	if err != nil {
		return fmt.Errorf("cookiestore encode: %w", err)
	}
	if err := s.rdb.Set(ctx, key(portal, account), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("cookiestore set: %w", err)
	}
	return nil
}

// Clear 删除某 (portal, account) 的 Cookie（403 后 Cookie 多半已失效）。
func (s *Store) Clear(ctx context.Context, portal, account string) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	if err := s.rdb.Del(ctx, key(portal, account)).Err(); err != nil {
		return fmt.Errorf("cookiestore del: %w", err)
	}
	return nil
}
