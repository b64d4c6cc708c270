package onboarding

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/padelgate/internal/model"
)

// cacheEntry はキャッシュされた状態と有効期限を保持する。
type cacheEntry struct {
	status    model.OnboardingStatus
	expiresAt time.Time
}

// MemoryCache はプロセス内のTTL付きStatusCache。
// 単一インスタンス構成向け。複数インスタンスではRedisCacheを使用する。
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryCache は新しいMemoryCacheを生成する。
// sweepIntervalが正の場合、バックグラウンドで期限切れエントリの掃除を開始する。
func NewMemoryCache(ttl, sweepInterval time.Duration) *MemoryCache {
	c := &MemoryCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
		stopCh:  make(chan struct{}),
	}

	if sweepInterval > 0 {
		go c.sweepLoop(sweepInterval)
	}

	return c
}

// Stop は掃除のバックグラウンドゴルーチンを停止する。
func (c *MemoryCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Get はStatusCacheインターフェースを実装する。
func (c *MemoryCache) Get(_ context.Context, userID string) (model.OnboardingStatus, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[userID]
	c.mu.RUnlock()

	if !ok || !c.now().Before(e.expiresAt) {
		return model.OnboardingStatus{}, false, nil
	}
	return e.status, true, nil
}

// Set はStatusCacheインターフェースを実装する。未完了の状態は保持しない。
func (c *MemoryCache) Set(_ context.Context, userID string, status model.OnboardingStatus) error {
	if !status.Completed {
		return nil
	}

	c.mu.Lock()
	c.entries[userID] = cacheEntry{status: status, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

// Invalidate はStatusCacheインターフェースを実装する。
func (c *MemoryCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
	return nil
}

// Len は現在保持しているエントリ数を返す。テスト用。
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

// sweep は期限切れのエントリを削除する。
func (c *MemoryCache) sweep() {
	now := c.now()

	c.mu.Lock()
	for userID, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, userID)
		}
	}
	c.mu.Unlock()
}

// compile-time interface check
var _ StatusCache = (*MemoryCache)(nil)
