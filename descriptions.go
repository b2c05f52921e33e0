package apmz

import (
	"sync"

	"github.com/bluele/gcache"
)

// TooManyUniques replaces descriptions once an endpoint exceeds its budget.
const TooManyUniques = "<too many unique descriptions>"

// descriptionTracker bounds the number of distinct span descriptions per
// endpoint. Endpoints themselves are kept in an LRU so the tracker cannot
// grow without bound.
type descriptionTracker struct {
	cache gcache.Cache
	max   int
	mu    sync.Mutex
}

func newDescriptionTracker(maxEndpoints, maxDescriptions int) *descriptionTracker {
	if maxEndpoints <= 0 {
		maxEndpoints = 1
	}
	return &descriptionTracker{
		max: maxDescriptions,
		cache: gcache.New(maxEndpoints).
			LRU().
			LoaderFunc(func(interface{}) (interface{}, error) {
				return make(map[string]struct{}), nil
			}).
			Build(),
	}
}

// limit returns desc if it fits the endpoint's budget, otherwise TooManyUniques.
// Empty descriptions never consume budget.
func (d *descriptionTracker) limit(endpoint, desc string) string {
	if desc == "" || d.max <= 0 {
		return desc
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	v, err := d.cache.Get(endpoint)
	if err != nil {
		return desc
	}
	seen := v.(map[string]struct{})

	if _, ok := seen[desc]; ok {
		return desc
	}
	if len(seen) >= d.max {
		return TooManyUniques
	}
	seen[desc] = struct{}{}
	return desc
}

func (d *descriptionTracker) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache.Purge()
}
