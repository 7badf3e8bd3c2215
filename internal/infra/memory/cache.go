package memory

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Cache is a process-local app.Cache with TTL expiry.
type Cache struct {
	clock func() time.Time

	mu      sync.Mutex
	rnd     *rand.Rand
	entries map[string]cacheEntry
}

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

func NewCache() *Cache {
	return &Cache{
		clock:   time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		entries: make(map[string]cacheEntry),
	}
}

func (c *Cache) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	now := c.clock()
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && !entry.expiresAt.IsZero() && !entry.expiresAt.After(now) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(entry.data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) SetJSON(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := cacheEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = c.clock().Add(c.ttlWithJitter(ttl))
	}
	c.entries[key] = entry
	return nil
}

func (c *Cache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	return nil
}

func (c *Cache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	return nil
}

// ttlWithJitter adds up to 10% so entries written together expire apart.
// Callers hold c.mu.
func (c *Cache) ttlWithJitter(ttl time.Duration) time.Duration {
	jitterMax := int64(ttl) / 10
	return ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
