// Package reports holds the latest status report and action per rover.
package reports

import (
	"sync"
	"time"

	"rescuerover/internal/model"
)

type Entry struct {
	Report    model.StatusReport `json:"report"`
	Action    model.Command      `json:"action"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type Store struct {
	mu    sync.RWMutex
	byID  map[string]Entry
	limit int
	nowFn func() time.Time
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 64
	}
	return &Store{
		byID:  make(map[string]Entry),
		limit: limit,
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// Update replaces the rover's entry. When more rovers than the limit are
// tracked the least recently updated one is dropped.
func (s *Store) Update(roverID string, report model.StatusReport, action model.Command) {
	if roverID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[roverID] = Entry{Report: report, Action: action, UpdatedAt: s.nowFn()}
	if len(s.byID) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(roverID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[roverID]
	return e, ok
}

func (s *Store) GetAll() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Entry, len(s.byID))
	for id, e := range s.byID {
		out[id] = e
	}
	return out
}

func (s *Store) evictOldest() {
	var oldestID string
	var oldest time.Time
	for id, e := range s.byID {
		if oldestID == "" || e.UpdatedAt.Before(oldest) {
			oldestID = id
			oldest = e.UpdatedAt
		}
	}
	if oldestID != "" {
		delete(s.byID, oldestID)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]Entry)
}
