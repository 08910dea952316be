package normalize

import (
	"testing"
	"time"

	"rescuerover/internal/config"
	"rescuerover/internal/model"
)

func TestNormalizeTelemetryDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	ev, err := Normalize(EventFields{Battery: "55", Position: "[10 -5]", Timestamp: "12.5"}, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.Kind != model.EventTelemetry || ev.RoverID != "rover-1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	s := ev.Status
	if s.Position != (model.Point{10, -5}) || s.Timestamp != 12.5 {
		t.Fatalf("unexpected status: %+v", s)
	}
	if s.Temperature != 25 || s.Voltage != 12 || s.Current != 2 {
		t.Fatalf("defaults not applied: %+v", s)
	}
}

func TestNormalizeSensor(t *testing.T) {
	cfg := config.DefaultConfig()
	ev, err := Normalize(EventFields{Kind: "sonar", Value: "30", X: "1", Y: "2", Angle: "90"}, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	r := ev.Reading
	if r.Kind != model.SensorUltrasonic || r.Value != 30 || r.Confidence != 1 {
		t.Fatalf("unexpected reading: %+v", r)
	}
	if r.Angle == nil || *r.Angle != 90 {
		t.Fatalf("angle missing")
	}
	if r.Timestamp != 0 {
		t.Fatalf("missing timestamp should stay zero, got %v", r.Timestamp)
	}
}

func TestNormalizeRejects(t *testing.T) {
	cfg := config.DefaultConfig()
	cases := []EventFields{
		{},
		{Type: "weather", Battery: "10"},
		{Type: "telemetry"},
		{Kind: "rfid", Value: "0.9", Confidence: "1.5"},
		{Kind: "rfid"},
		{Battery: "10", Position: "1,2,3"},
		{Battery: "10", Timestamp: "yesterday"},
	}
	for i, f := range cases {
		if _, err := Normalize(f, cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestParseSeconds(t *testing.T) {
	if v, err := ParseSeconds("1700000000123", time.UTC); err != nil || v != 1700000000.123 {
		t.Fatalf("millis: %v %v", v, err)
	}
	if v, err := ParseSeconds("3.25", time.UTC); err != nil || v != 3.25 {
		t.Fatalf("seconds: %v %v", v, err)
	}
	v, err := ParseSeconds("2024-01-01T00:00:00Z", time.UTC)
	if err != nil || v != 1704067200 {
		t.Fatalf("rfc3339: %v %v", v, err)
	}
}

func TestFromMapAliases(t *testing.T) {
	f := FromMap(map[string]string{"coordinates": "[4 5]", "status": "idle", "batt": "9"})
	if f.Position != "[4 5]" || f.State != "idle" || f.Battery != "9" {
		t.Fatalf("aliases not resolved: %+v", f)
	}
}
