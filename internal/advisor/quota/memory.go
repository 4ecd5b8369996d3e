package quota

import (
	"context"
	"sort"
	"sync"
)

type slot struct {
	mu   sync.Mutex
	used int64
}

// MemoryCounter is a single-process Counter. Each key has its own mutex;
// Reserve locks the involved keys in sorted order so concurrent reservations
// over overlapping buckets cannot deadlock.
type MemoryCounter struct {
	slots sync.Map // key -> *slot
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{}
}

func (c *MemoryCounter) slot(key string) *slot {
	s, _ := c.slots.LoadOrStore(key, &slot{})
	return s.(*slot)
}

func (c *MemoryCounter) Get(_ context.Context, key string) (int64, error) {
	v, ok := c.slots.Load(key)
	if !ok {
		return 0, nil
	}
	s := v.(*slot)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used, nil
}

// lock acquires the slots for keys in sorted order and returns them in the
// order of keys along with an unlock func.
func (c *MemoryCounter) lock(keys []string) ([]*slot, func()) {
	order := make([]int, len(keys))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return keys[order[a]] < keys[order[b]] })

	slots := make([]*slot, len(keys))
	var locked []*slot
	seen := make(map[string]*slot, len(keys))
	for _, i := range order {
		if s, ok := seen[keys[i]]; ok {
			slots[i] = s
			continue
		}
		s := c.slot(keys[i])
		s.mu.Lock()
		locked = append(locked, s)
		seen[keys[i]] = s
		slots[i] = s
	}
	return slots, func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].mu.Unlock()
		}
	}
}

func (c *MemoryCounter) Reserve(_ context.Context, buckets []Bucket) (bool, []int64, error) {
	keys := make([]string, len(buckets))
	for i, b := range buckets {
		keys[i] = b.Key
	}
	slots, unlock := c.lock(keys)
	defer unlock()

	used := make([]int64, len(buckets))
	for i, b := range buckets {
		if b.Limit >= 0 && slots[i].used >= int64(b.Limit) {
			for j := range slots {
				used[j] = slots[j].used
			}
			return false, used, nil
		}
	}
	for i := range buckets {
		slots[i].used++
		used[i] = slots[i].used
	}
	return true, used, nil
}

func (c *MemoryCounter) Increment(_ context.Context, buckets []Bucket) error {
	for _, b := range buckets {
		s := c.slot(b.Key)
		s.mu.Lock()
		s.used++
		s.mu.Unlock()
	}
	return nil
}

func (c *MemoryCounter) Decrement(_ context.Context, keys []string) error {
	for _, key := range keys {
		v, ok := c.slots.Load(key)
		if !ok {
			continue
		}
		s := v.(*slot)
		s.mu.Lock()
		if s.used > 0 {
			s.used--
		}
		s.mu.Unlock()
	}
	return nil
}

// Delete zeroes the keys in place so holders of the slot keep a consistent
// view.
func (c *MemoryCounter) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		if v, ok := c.slots.Load(key); ok {
			s := v.(*slot)
			s.mu.Lock()
			s.used = 0
			s.mu.Unlock()
		}
	}
	return nil
}

func (c *MemoryCounter) Sweep(_ context.Context, keepPeriod string) (int, error) {
	removed := 0
	c.slots.Range(func(k, _ interface{}) bool {
		key := k.(string)
		if period, ok := periodOf(key); ok && period != keepPeriod {
			c.slots.Delete(key)
			removed++
		}
		return true
	})
	return removed, nil
}
