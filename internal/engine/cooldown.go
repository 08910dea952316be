package engine

import (
	"sync"
	"time"
)

// Cooldown rate-limits repeated warnings per rover and event kind.
type Cooldown struct {
	mu    sync.Mutex
	last  map[string]time.Time
	nowFn func() time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[string]time.Time), nowFn: time.Now}
}

func (c *Cooldown) Allow(roverID, kind string, cooldown time.Duration) bool {
	return c.AllowKey(roverID+"|"+kind, cooldown)
}

func (c *Cooldown) AllowKey(key string, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	now := c.nowFn().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[key]; ok {
		if now.Sub(ts) < cooldown {
			return false
		}
	}
	c.last[key] = now
	return true
}

func (c *Cooldown) Reset() {
	c.mu.Lock()
	c.last = make(map[string]time.Time)
	c.mu.Unlock()
}
