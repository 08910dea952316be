package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"rescuerover/internal/model"
)

// DedupeCache remembers event fingerprints so a record delivered by two
// sources (a tailed file and a Kafka topic, say) is applied once.
type DedupeCache struct {
	mu    sync.Mutex
	items map[string]time.Time
}

func NewDedupeCache() *DedupeCache {
	return &DedupeCache{items: make(map[string]time.Time)}
}

func (d *DedupeCache) Seen(key string, now time.Time, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok {
		if now.Sub(ts) <= ttl {
			return true
		}
	}
	d.items[key] = now
	if len(d.items) > 10000 {
		d.compact(now, ttl)
	}
	return false
}

func (d *DedupeCache) Reset() {
	d.mu.Lock()
	d.items = make(map[string]time.Time)
	d.mu.Unlock()
}

func (d *DedupeCache) compact(now time.Time, ttl time.Duration) {
	for k, ts := range d.items {
		if now.Sub(ts) > ttl {
			delete(d.items, k)
		}
	}
}

// fingerprint ignores Source and Raw; the same reading arriving over two
// transports hashes equal.
func fingerprint(ev model.Event) string {
	payload, err := json.Marshal(struct {
		Kind    model.EventKind      `json:"k"`
		RoverID string               `json:"r"`
		Status  *model.RoverStatus   `json:"s,omitempty"`
		Reading *model.SensorReading `json:"d,omitempty"`
	}{ev.Kind, ev.RoverID, ev.Status, ev.Reading})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func (e *Engine) isDuplicate(ev model.Event, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	key := fingerprint(ev)
	if key == "" {
		return false
	}
	if e.deDupe.Seen(key, time.Now(), window) {
		if e.logger != nil {
			e.logger.Debug("duplicate event dropped", "rover_id", ev.RoverID, "kind", ev.Kind, "source", ev.Source)
		}
		return true
	}
	return false
}
