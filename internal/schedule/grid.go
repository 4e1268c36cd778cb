package schedule

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Generate returns the slot start times for h in ascending order.
//
// Slots step from h.Start by h.SlotMinutes. A slot is kept only when it ends
// at or before h.End, so a trailing partial slot is dropped. Slots starting
// inside [BreakStart, BreakEnd) are removed; a slot that starts before the
// break and runs into it is kept as is.
func Generate(h Hours) []Clock {
	if h.SlotMinutes <= 0 || h.Start >= h.End {
		return nil
	}

	slots := make([]Clock, 0, int(h.End-h.Start)/h.SlotMinutes)
	for t := h.Start; t.Add(h.SlotMinutes) <= h.End; t = t.Add(h.SlotMinutes) {
		if h.HasBreak && t >= h.BreakStart && t < h.BreakEnd {
			continue
		}
		slots = append(slots, t)
	}
	return slots
}

// Contains reports whether t is one of the generated slot starts of h.
func Contains(h Hours, t Clock) bool {
	if h.SlotMinutes <= 0 || t < h.Start || t.Add(h.SlotMinutes) > h.End {
		return false
	}
	if int(t-h.Start)%h.SlotMinutes != 0 {
		return false
	}
	return !(h.HasBreak && t >= h.BreakStart && t < h.BreakEnd)
}

// GridCache memoizes Generate. Generate is pure, so entries never go stale.
type GridCache struct {
	cache *lru.Cache[Hours, []Clock]
}

func NewGridCache(size int) (*GridCache, error) {
	if size <= 0 {
		size = 256
	}
	c, err := lru.New[Hours, []Clock](size)
	if err != nil {
		return nil, err
	}
	return &GridCache{cache: c}, nil
}

// Slots returns a copy of the grid for h so callers may modify it.
func (g *GridCache) Slots(h Hours) []Clock {
	if g == nil {
		return Generate(h)
	}
	grid, ok := g.cache.Get(h)
	if !ok {
		grid = Generate(h)
		g.cache.Add(h, grid)
	}
	out := make([]Clock, len(grid))
	copy(out, grid)
	return out
}
