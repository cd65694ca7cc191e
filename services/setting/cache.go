package setting

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{Name: "setting_cache_hits_total"})
	cacheMiss = promauto.NewCounter(prometheus.CounterOpts{Name: "setting_cache_miss_total"})
)

type cachedValue struct {
	Value     string
	Found     bool
	UpdatedAt time.Time
}

// thread-safe TTL cache for setting values; loads go through singleflight
// in the service.
type Cache struct {
	mu    sync.RWMutex
	items map[string]cachedValue
	ttl   time.Duration
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		items: make(map[string]cachedValue),
		ttl:   ttl,
	}
}

func (c *Cache) Get(key string) (cachedValue, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	if !ok || (c.ttl > 0 && time.Since(v.UpdatedAt) > c.ttl) {
		cacheMiss.Inc()
		return cachedValue{}, false
	}
	cacheHits.Inc()
	return v, true
}

func (c *Cache) Set(key, value string, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cachedValue{Value: value, Found: found, UpdatedAt: time.Now()}
}

func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}
