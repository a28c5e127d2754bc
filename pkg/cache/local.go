package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// localCache 基于LRU的本地缓存实现，过期时间按键维护
type localCache struct {
	config  LocalConfig
	items   *lru.Cache[string, cacheItem]
	mu      sync.Mutex
	closing chan struct{}
	once    sync.Once
}

// cacheItem 缓存项
type cacheItem struct {
	value      interface{}
	expiration time.Time
}

func (it cacheItem) expired(now time.Time) bool {
	return !it.expiration.IsZero() && now.After(it.expiration)
}

// NewLocalCache 创建本地缓存
func NewLocalCache(config LocalConfig) Cache {
	if config.MaxSize <= 0 {
		config.MaxSize = 1000
	}
	items, _ := lru.New[string, cacheItem](config.MaxSize)
	lc := &localCache{
		config:  config,
		items:   items,
		closing: make(chan struct{}),
	}

	// 启动清理协程
	go lc.startCleanup()
	return lc
}

// Get 获取缓存值
func (lc *localCache) Get(ctx context.Context, key string) (interface{}, bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	item, ok := lc.items.Get(key)
	if !ok {
		return nil, false
	}
	if item.expired(time.Now()) {
		lc.items.Remove(key)
		return nil, false
	}
	return item.value, true
}

// Set 设置缓存值
func (lc *localCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.items.Add(key, lc.newItem(value, expiration))
	return nil
}

// SetNX 仅当键不存在（或已过期）时设置
func (lc *localCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if item, ok := lc.items.Get(key); ok && !item.expired(time.Now()) {
		return false, nil
	}
	lc.items.Add(key, lc.newItem(value, expiration))
	return true, nil
}

// Delete 删除缓存
func (lc *localCache) Delete(ctx context.Context, key string) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.items.Remove(key)
	return nil
}

// Exists 检查键是否存在
func (lc *localCache) Exists(ctx context.Context, key string) bool {
	_, ok := lc.Get(ctx, key)
	return ok
}

// GetWithTTL 获取值和剩余TTL
func (lc *localCache) GetWithTTL(ctx context.Context, key string) (interface{}, time.Duration, bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	item, ok := lc.items.Get(key)
	if !ok {
		return nil, 0, false
	}
	now := time.Now()
	if item.expired(now) {
		lc.items.Remove(key)
		return nil, 0, false
	}
	if item.expiration.IsZero() {
		return item.value, 0, true
	}
	return item.value, item.expiration.Sub(now), true
}

// Increment 自增
func (lc *localCache) Increment(ctx context.Context, key string, value int64) (int64, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	current := int64(0)
	expiration := time.Time{}
	if item, ok := lc.items.Get(key); ok && !item.expired(time.Now()) {
		n, ok := item.value.(int64)
		if !ok {
			return 0, fmt.Errorf("value of key %s is not an integer", key)
		}
		current = n
		expiration = item.expiration
	}
	current += value
	lc.items.Add(key, cacheItem{value: current, expiration: expiration})
	return current, nil
}

// Close 停止清理协程
func (lc *localCache) Close() error {
	lc.once.Do(func() { close(lc.closing) })
	return nil
}

func (lc *localCache) newItem(value interface{}, expiration time.Duration) cacheItem {
	if expiration <= 0 {
		expiration = lc.config.DefaultExpiration
	}
	item := cacheItem{value: value}
	if expiration > 0 {
		item.expiration = time.Now().Add(expiration)
	}
	return item
}

// startCleanup 周期清理过期键，避免LRU长期持有僵尸项
func (lc *localCache) startCleanup() {
	interval := lc.config.CleanupInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-lc.closing:
			return
		case <-ticker.C:
			now := time.Now()
			lc.mu.Lock()
			for _, key := range lc.items.Keys() {
				if item, ok := lc.items.Peek(key); ok && item.expired(now) {
					lc.items.Remove(key)
				}
			}
			lc.mu.Unlock()
		}
	}
}
