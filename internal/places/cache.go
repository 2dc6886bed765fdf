package places

import lru "github.com/hashicorp/golang-lru/v2"

// newCache returns a thread-safe LRU holding at most size entries. Sizes
// below one are raised to one.
func newCache[V any](size int) *lru.Cache[string, V] {
	c, err := lru.New[string, V](max(size, 1))
	if err != nil {
		// lru.New only fails on a non-positive size.
		panic(err)
	}
	return c
}
