package scrape

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache memoizes scrape results for the lifetime of one run. Concurrent
// fetches of the same URL collapse into a single flight; completed
// results are served without refetching, failed empty pages included,
// so a URL is hit at most once per run.
type Cache struct {
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]*Content
}

func newCache() *Cache {
	return &Cache{entries: make(map[string]*Content)}
}

// do returns the cached content for url or runs fetch to produce it.
// Only successful fetch completions are stored; a fetch cut short by
// context cancellation stays uncached so a later call can retry.
func (c *Cache) do(url string, fetch func() (*Content, error)) (*Content, error) {
	c.mu.RLock()
	cached, ok := c.entries[url]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	v, err, _ := c.group.Do(url, func() (any, error) {
		content, err := fetch()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[url] = content
		c.mu.Unlock()
		return content, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Content), nil
}

// get reads the cache without triggering a fetch.
func (c *Cache) get(url string) (*Content, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	content, ok := c.entries[url]
	return content, ok
}

// size reports how many URLs have completed results.
func (c *Cache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
