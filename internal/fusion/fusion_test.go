package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rescuerover/internal/config"
	"rescuerover/internal/model"
)

func newSystem() *System {
	return New(config.DefaultFusionConfig())
}

func reading(kind model.SensorKind, value, conf, ts float64, x, y float64) model.SensorReading {
	return model.SensorReading{
		Kind:       kind,
		Value:      value,
		Timestamp:  ts,
		Position:   model.Point{x, y},
		Confidence: conf,
	}
}

func TestSingleReadingConfidence(t *testing.T) {
	s := newSystem()
	det, created, ok := s.AddReading(reading(model.SensorUltrasonic, 120, 0.65, 1, 10, 10))
	require.True(t, ok)
	require.True(t, created)
	assert.Equal(t, 0.65, det.Confidence)
	assert.Equal(t, model.Point{10, 10}, det.Position)
	assert.Len(t, det.Readings, 1)
}

func TestTwoKindsWeightedConfidence(t *testing.T) {
	s := newSystem()
	s.AddReading(reading(model.SensorUltrasonic, 100, 0.6, 1, 0, 0))
	det, created, ok := s.AddReading(reading(model.SensorRFID, 0.9, 0.9, 2, 20, 20))
	require.True(t, ok)
	assert.False(t, created)

	want := 0.3/0.7*0.6 + 0.4/0.7*0.9
	assert.InDelta(t, want, det.Confidence, 1e-9)
	assert.Equal(t, model.Point{0, 0}, det.Position, "detections do not re-center")
	assert.Equal(t, 2.0, det.LastUpdate)
	assert.Equal(t, 1, s.Count())
}

func TestThresholds(t *testing.T) {
	s := newSystem()
	cases := []struct {
		r    model.SensorReading
		want bool
	}{
		{reading(model.SensorUltrasonic, 199, 1, 0, 0, 0), true},
		{reading(model.SensorUltrasonic, 200, 1, 0, 0, 0), false},
		{reading(model.SensorIR, 0.71, 1, 0, 0, 0), true},
		{reading(model.SensorIR, 0.7, 1, 0, 0, 0), false},
		{reading(model.SensorRFID, 0.5, 1, 0, 0, 0), false},
		{reading(model.SensorRFID, 0.51, 1, 0, 0, 0), true},
		{reading(model.SensorAccelerometer, 2.5, 1, 0, 0, 0), true},
		{reading(model.SensorAccelerometer, 1.0, 1, 0, 0, 0), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, s.Triggers(tc.r), "%s=%v", tc.r.Kind, tc.r.Value)
	}
}

func TestNonTriggeringReadingOnlyLogged(t *testing.T) {
	s := newSystem()
	_, _, ok := s.AddReading(reading(model.SensorIR, 0.1, 0.9, 1, 0, 0))
	assert.False(t, ok)
	assert.Equal(t, 0, s.Count())
	assert.Len(t, s.Readings(), 1)
}

func TestFarReadingsOpenSeparateDetections(t *testing.T) {
	s := newSystem()
	s.AddReading(reading(model.SensorRFID, 0.9, 0.8, 1, 0, 0))
	_, created, _ := s.AddReading(reading(model.SensorRFID, 0.9, 0.8, 1, 51, 0))
	assert.True(t, created)
	assert.Equal(t, 2, s.Count())
}

func TestReadingLogEviction(t *testing.T) {
	s := newSystem()
	s.AddReading(reading(model.SensorIR, 0.1, 1, 0, 0, 0))
	s.AddReading(reading(model.SensorIR, 0.1, 1, 5, 0, 0))
	require.Len(t, s.Readings(), 2)
	s.AddReading(reading(model.SensorIR, 0.1, 1, 5.5, 0, 0))
	got := s.Readings()
	require.Len(t, got, 2)
	assert.Equal(t, 5.0, got[0].Timestamp)
}

func TestDetectionsMinConfidence(t *testing.T) {
	s := newSystem()
	s.AddReading(reading(model.SensorRFID, 0.9, 0.4, 1, 0, 0))
	s.AddReading(reading(model.SensorRFID, 0.9, 0.9, 1, 500, 0))
	assert.Len(t, s.Detections(0.5), 1)
	assert.Len(t, s.Detections(0), 2)
}

func TestPrioritySurvivorsOrdering(t *testing.T) {
	s := newSystem()
	s.AddReading(reading(model.SensorRFID, 0.9, 0.6, 1, 0, 0))
	s.AddReading(reading(model.SensorRFID, 0.9, 0.9, 2, 300, 0))
	s.AddReading(reading(model.SensorRFID, 0.9, 0.6, 3, 600, 0))
	s.AddReading(reading(model.SensorRFID, 0.9, 0.6, 3, 900, 0))

	got := s.PrioritySurvivors(5)
	require.Len(t, got, 4)
	assert.Equal(t, model.Point{300, 0}, got[0].Position)
	// equal confidence: older update first, then creation order
	assert.Equal(t, model.Point{0, 0}, got[1].Position)
	assert.Equal(t, model.Point{600, 0}, got[2].Position)
	assert.Equal(t, model.Point{900, 0}, got[3].Position)

	assert.Len(t, s.PrioritySurvivors(2), 2)
	assert.Equal(t, got, s.PrioritySurvivors(5), "repeat calls are stable")
}

func TestMarkServedDropsFromPriority(t *testing.T) {
	s := newSystem()
	det, _, _ := s.AddReading(reading(model.SensorRFID, 0.9, 0.8, 1, 100, 100))
	require.True(t, s.MarkServed(det.ID))
	assert.Empty(t, s.PrioritySurvivors(5))
	assert.Len(t, s.Detections(0.5), 1)
	assert.False(t, s.MarkServed("missing"))
}

func TestStaleAfter(t *testing.T) {
	cfg := config.DefaultFusionConfig()
	cfg.StaleAfterSec = 10
	s := New(cfg)
	s.AddReading(reading(model.SensorRFID, 0.9, 0.8, 1, 0, 0))
	s.AddReading(reading(model.SensorIR, 0.1, 0.8, 20, 0, 0))
	assert.Empty(t, s.Detections(0.5))
	assert.Empty(t, s.PrioritySurvivors(5))
}

func TestReturnedDetectionsAreCopies(t *testing.T) {
	s := newSystem()
	s.AddReading(reading(model.SensorRFID, 0.9, 0.8, 1, 0, 0))
	got := s.Detections(0)
	got[0].Confidence = 0
	got[0].Readings[0].Confidence = 0
	again := s.Detections(0)
	assert.Equal(t, 0.8, again[0].Confidence)
	assert.Equal(t, 0.8, again[0].Readings[0].Confidence)
}

func TestServedDetectionAbsorbsNearbyReadings(t *testing.T) {
	s := newSystem()
	det, _, _ := s.AddReading(reading(model.SensorRFID, 0.9, 0.8, 1, 0, 0))
	require.True(t, s.MarkServed(det.ID))

	again, created, ok := s.AddReading(reading(model.SensorRFID, 0.9, 0.9, 2, 10, 10))
	require.True(t, ok)
	assert.False(t, created)
	assert.Equal(t, det.ID, again.ID)
	assert.True(t, again.Served)
	assert.Empty(t, s.PrioritySurvivors(0))
	assert.Equal(t, 1, s.Count())

	_, created, _ = s.AddReading(reading(model.SensorRFID, 0.9, 0.9, 3, 200, 200))
	assert.True(t, created)
	assert.Len(t, s.PrioritySurvivors(0), 1)
}
