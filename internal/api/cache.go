package api

import (
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/rlt-tender/tenderguide/internal/inference"
)

// answerCache remembers deterministic answers. Sampling requests bypass it.
type answerCache struct {
	c *ttlcache.Cache[inference.Request, string]
}

func newAnswerCache(ttl time.Duration, capacity uint64) *answerCache {
	opts := []ttlcache.Option[inference.Request, string]{
		ttlcache.WithTTL[inference.Request, string](ttl),
		ttlcache.WithDisableTouchOnHit[inference.Request, string](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[inference.Request, string](capacity))
	}
	c := ttlcache.New[inference.Request, string](opts...)
	go c.Start()
	return &answerCache{c: c}
}

func (a *answerCache) get(req inference.Request) (string, bool) {
	if a == nil || !req.Deterministic {
		return "", false
	}
	item := a.c.Get(req)
	if item == nil {
		return "", false
	}
	return item.Value(), true
}

func (a *answerCache) put(req inference.Request, text string) {
	if a == nil || !req.Deterministic {
		return
	}
	a.c.Set(req, text, ttlcache.DefaultTTL)
}

func (a *answerCache) len() int {
	if a == nil {
		return 0
	}
	return a.c.Len()
}

func (a *answerCache) stop() {
	if a != nil {
		a.c.Stop()
	}
}
