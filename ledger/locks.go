package ledger

import (
	"hash/fnv"
	"sort"
	"sync"
)

// KeyedLocks serializes mutation sets that share a key while letting disjoint
// sets proceed in parallel. Keys are hashed onto a fixed number of stripes;
// stripes are always acquired in index order so overlapping sets cannot
// deadlock.
type KeyedLocks struct {
	stripes []sync.Mutex
}

// NewKeyedLocks returns a lock set with the given stripe count (rounded up to
// a sane minimum).
func NewKeyedLocks(stripes int) *KeyedLocks {
	if stripes < 16 {
		stripes = 16
	}
	return &KeyedLocks{stripes: make([]sync.Mutex, stripes)}
}

func (k *KeyedLocks) stripeFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32()) % len(k.stripes)
}

// Lock acquires the stripes covering the given keys and returns the unlock
// function. Duplicate stripes are acquired once.
func (k *KeyedLocks) Lock(keys []string) func() {
	if k == nil || len(keys) == 0 {
		return func() {}
	}
	seen := make(map[int]struct{}, len(keys))
	indexes := make([]int, 0, len(keys))
	for _, key := range keys {
		idx := k.stripeFor(key)
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		k.stripes[idx].Lock()
	}
	return func() {
		for i := len(indexes) - 1; i >= 0; i-- {
			k.stripes[indexes[i]].Unlock()
		}
	}
}
