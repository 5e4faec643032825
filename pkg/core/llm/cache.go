package llm

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/Edwinswanith/Multiaudio/pkg/core/types"
)

// cacheKey identifies one cleanup result: the transcript, the mode policy,
// and the summary snapshot the prompt was built against.
func cacheKey(raw string, mode types.Mode, summary string) string {
	rawSum := sha256.Sum256([]byte(raw))
	summarySum := sha256.Sum256([]byte(summary))
	return fmt.Sprintf("%s:%s:%s", hex.EncodeToString(rawSum[:]), mode, hex.EncodeToString(summarySum[:]))
}

// resultCache is a bounded LRU over validated results. Advisory: a miss
// costs one provider call, never correctness.
type resultCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
}

type cacheEntry struct {
	key    string
	result types.LlmResult
}

func newResultCache(max int) *resultCache {
	if max <= 0 {
		max = 256
	}
	return &resultCache{
		max:     max,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (c *resultCache) get(key string) (types.LlmResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return types.LlmResult{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).result, true
}

func (c *resultCache) put(key string, result types.LlmResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).result = result
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, result: result})
	if c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}
