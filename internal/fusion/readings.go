package fusion

import "rescuerover/internal/model"

// readingLog keeps readings whose age relative to the most recently added
// reading is within maxAge seconds.
type readingLog struct {
	maxAge  float64
	entries []model.SensorReading
	newest  float64
}

func newReadingLog(maxAge float64) *readingLog {
	return &readingLog{
		maxAge:  maxAge,
		entries: make([]model.SensorReading, 0, 128),
	}
}

func (l *readingLog) Add(r model.SensorReading) {
	l.entries = append(l.entries, r)
	l.newest = r.Timestamp
	l.evict()
}

func (l *readingLog) evict() {
	kept := l.entries[:0]
	for _, r := range l.entries {
		if l.newest-r.Timestamp <= l.maxAge {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(l.entries); i++ {
		l.entries[i] = model.SensorReading{}
	}
	l.entries = kept
	if cap(l.entries) > 1024 && len(l.entries)*4 < cap(l.entries) {
		l.entries = append([]model.SensorReading{}, l.entries...)
	}
}

func (l *readingLog) Newest() float64 {
	return l.newest
}

func (l *readingLog) Len() int {
	return len(l.entries)
}

func (l *readingLog) Snapshot() []model.SensorReading {
	return append([]model.SensorReading(nil), l.entries...)
}
