// Package fusion clusters timestamped sensor readings into survivor
// detection hypotheses with weighted confidence scores.
package fusion

import (
	"sort"

	"github.com/google/uuid"
	"github.com/paulmach/orb/planar"

	"rescuerover/internal/config"
	"rescuerover/internal/model"
)

// Detection is a survivor hypothesis backed by one or more readings. Its
// position is that of the reading which created it; detections never
// re-center.
type Detection struct {
	ID         string                `json:"id"`
	Position   model.Point           `json:"position"`
	Confidence float64               `json:"confidence"`
	LastUpdate float64               `json:"last_update"`
	Readings   []model.SensorReading `json:"readings"`
	Served     bool                  `json:"served"`
}

func (d *Detection) clone() Detection {
	out := *d
	out.Readings = append([]model.SensorReading(nil), d.Readings...)
	return out
}

// System is not safe for concurrent use; callers serialize access.
type System struct {
	cfg        config.FusionConfig
	readings   *readingLog
	detections []*Detection
}

func New(cfg config.FusionConfig) *System {
	if cfg.MaxReadingAgeSec <= 0 {
		cfg.MaxReadingAgeSec = 5
	}
	if cfg.PriorityCount <= 0 {
		cfg.PriorityCount = 5
	}
	return &System{
		cfg:      cfg,
		readings: newReadingLog(cfg.MaxReadingAgeSec),
	}
}

// AddReading logs r, ages out old readings and, when r indicates a
// survivor, folds it into the nearest detection or opens a new one. The
// returned detection is a copy; created reports whether it is new. ok is
// false for readings that do not indicate a survivor.
func (s *System) AddReading(r model.SensorReading) (det Detection, created bool, ok bool) {
	s.readings.Add(r)
	if !s.Triggers(r) {
		return Detection{}, false, false
	}
	// Served detections still absorb nearby readings: they are the survivor
	// already aided and must not reopen as a new target.
	for _, d := range s.detections {
		if planar.Distance(r.Position, d.Position) <= s.cfg.ProximityRadius {
			d.Readings = append(d.Readings, r)
			d.Confidence = s.confidence(d.Readings)
			d.LastUpdate = r.Timestamp
			return d.clone(), false, true
		}
	}
	d := &Detection{
		ID:         uuid.New().String(),
		Position:   r.Position,
		Confidence: r.Confidence,
		LastUpdate: r.Timestamp,
		Readings:   []model.SensorReading{r},
	}
	s.detections = append(s.detections, d)
	return d.clone(), true, true
}

// Triggers reports whether r crosses its kind's survivor threshold.
// Ultrasonic ranges trigger when closer than the threshold.
func (s *System) Triggers(r model.SensorReading) bool {
	switch r.Kind {
	case model.SensorUltrasonic:
		return r.Value < s.cfg.Thresholds.Ultrasonic
	case model.SensorIR:
		return r.Value > s.cfg.Thresholds.IR
	case model.SensorRFID:
		return r.Value > s.cfg.Thresholds.RFID
	case model.SensorAccelerometer:
		return r.Value > s.cfg.Thresholds.Accelerometer
	}
	return false
}

func (s *System) weight(kind model.SensorKind) float64 {
	switch kind {
	case model.SensorUltrasonic:
		return s.cfg.Weights.Ultrasonic
	case model.SensorIR:
		return s.cfg.Weights.IR
	case model.SensorRFID:
		return s.cfg.Weights.RFID
	case model.SensorAccelerometer:
		return s.cfg.Weights.Accelerometer
	}
	return 0
}

func (s *System) confidence(readings []model.SensorReading) float64 {
	var total, sum float64
	for _, r := range readings {
		w := s.weight(r.Kind)
		total += w
		sum += w * r.Confidence
	}
	if total <= 0 {
		return 0
	}
	return sum / total
}

// Detections returns copies of all detections at or above minConfidence in
// creation order.
func (s *System) Detections(minConfidence float64) []Detection {
	out := make([]Detection, 0, len(s.detections))
	for _, d := range s.detections {
		if d.Confidence < minConfidence || s.stale(d) {
			continue
		}
		out = append(out, d.clone())
	}
	return out
}

// PrioritySurvivors ranks unserved detections by confidence, then by time
// since their last update, and returns at most maxCount of them. Equal keys
// keep creation order.
func (s *System) PrioritySurvivors(maxCount int) []Detection {
	if maxCount <= 0 {
		maxCount = s.cfg.PriorityCount
	}
	now := s.readings.Newest()
	candidates := make([]*Detection, 0, len(s.detections))
	for _, d := range s.detections {
		if d.Served || s.stale(d) {
			continue
		}
		candidates = append(candidates, d)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return now-a.LastUpdate > now-b.LastUpdate
	})
	if len(candidates) > maxCount {
		candidates = candidates[:maxCount]
	}
	out := make([]Detection, 0, len(candidates))
	for _, d := range candidates {
		out = append(out, d.clone())
	}
	return out
}

// MarkServed retires a detection from the priority list once aid has been
// delivered. It stays visible through Detections.
func (s *System) MarkServed(id string) bool {
	for _, d := range s.detections {
		if d.ID == id {
			d.Served = true
			return true
		}
	}
	return false
}

func (s *System) Readings() []model.SensorReading {
	return s.readings.Snapshot()
}

func (s *System) Count() int {
	return len(s.detections)
}

func (s *System) stale(d *Detection) bool {
	if s.cfg.StaleAfterSec <= 0 {
		return false
	}
	return s.readings.Newest()-d.LastUpdate > s.cfg.StaleAfterSec
}
