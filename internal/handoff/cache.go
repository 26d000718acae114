package handoff

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// ResultCache holds recently read session results. Results are immutable
// once written, so entries never need invalidation.
type ResultCache struct {
	*lru.Cache[string, *Result]
}

// NewResultCache creates a ResultCache with the given size.
func NewResultCache(size int) (*ResultCache, error) {
	c, err := lru.New[string, *Result](size)
	if err != nil {
		return nil, err
	}

	return &ResultCache{Cache: c}, nil
}
