// Package events keeps a bounded in-memory journal of mission events.
package events

import (
	"sync"
	"time"

	"rescuerover/internal/model"
)

type Store struct {
	mu    sync.RWMutex
	buf   []model.MissionEvent
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

// Add appends ev, dropping the oldest entry once the journal is full.
func (s *Store) Add(ev model.MissionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, ev)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = ev
}

// List returns the newest limit events, oldest first.
func (s *Store) List(limit int) []model.MissionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	start := len(s.buf) - limit
	out := make([]model.MissionEvent, limit)
	copy(out, s.buf[start:])
	return out
}

func (s *Store) Since(ts time.Time) []model.MissionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.MissionEvent, 0)
	for _, ev := range s.buf {
		if !ev.Timestamp.Before(ts) {
			out = append(out, ev)
		}
	}
	return out
}

func (s *Store) ForRover(roverID string, limit int) []model.MissionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.MissionEvent, 0)
	for i := len(s.buf) - 1; i >= 0; i-- {
		if s.buf[i].RoverID != roverID {
			continue
		}
		out = append(out, s.buf[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
