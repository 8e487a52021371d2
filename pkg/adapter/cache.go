package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Cached memoizes successful responses by (adapter, model, prompt) for a TTL.
// Errors and blank answers are never cached.
type Cached struct {
	Adapter
	ttl   time.Duration
	cache *ttlcache.Cache[string, *Response]
}

// NewCached wraps inner with a response cache. A non-positive ttl disables
// caching and returns inner unchanged.
func NewCached(inner Adapter, ttl time.Duration) Adapter {
	if ttl <= 0 {
		return inner
	}
	return &Cached{
		Adapter: inner,
		ttl:     ttl,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, *Response](ttl),
		),
	}
}

// Generate returns a cached response when one is live.
func (c *Cached) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	key := cacheKey(c.Name(), model, prompt)
	if item := c.cache.Get(key); item != nil {
		hit := *item.Value()
		hit.Cached = true
		return &hit, nil
	}

	resp, err := c.Adapter.Generate(ctx, model, prompt)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.Text()) != "" {
		c.cache.Set(key, resp, c.ttl)
	}
	return resp, nil
}

// Len returns the number of live entries.
func (c *Cached) Len() int {
	return c.cache.Len()
}

func cacheKey(adapter, model, prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return adapter + "/" + model + "/" + hex.EncodeToString(sum[:])
}
