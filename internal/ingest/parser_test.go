package ingest

import "testing"

func TestParsePlainText(t *testing.T) {
	p := NewParser()
	line := "2026-02-23 12:34:56 rover-2 type=telemetry battery=80 x=10 y=20"
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.RoverID != "rover-2" {
		t.Fatalf("rover id: %s", fields.RoverID)
	}
	if fields.Timestamp != "2026-02-23 12:34:56" {
		t.Fatalf("timestamp: %q", fields.Timestamp)
	}
	if fields.Battery != "80" || fields.X != "10" || fields.Y != "20" {
		t.Fatalf("telemetry fields missing: %+v", fields)
	}
}

func TestParseCSV(t *testing.T) {
	p := NewParser()
	if fields, _ := p.ParseLine("timestamp,rover_id,kind,value,x,y,confidence"); fields != nil {
		t.Fatalf("expected header to return nil")
	}
	fields, err := p.ParseLine("12.5,rover-1,rfid,0.9,100,100,0.8")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.RoverID != "rover-1" || fields.Kind != "rfid" || fields.Value != "0.9" || fields.Confidence != "0.8" {
		t.Fatalf("csv parse mismatch: %+v", fields)
	}
}

func TestParseCSVWithoutHeader(t *testing.T) {
	p := NewParser()
	if _, err := p.ParseLine("12.5,rover-1,rfid,0.9"); err == nil {
		t.Fatalf("expected error for headerless csv")
	}
}

func TestParseJSON(t *testing.T) {
	p := NewParser()
	line := `{"ts":12,"rover":"r1","sensor":"ir","value":0.8,"position":[1,2]}`
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.RoverID != "r1" || fields.Kind != "ir" || fields.Position != "[1 2]" {
		t.Fatalf("json parse mismatch: %+v", fields)
	}
}

func TestSyslogPriorityStripped(t *testing.T) {
	if got := rePriority.ReplaceAllString("<13>Mar  1 12:00:00 rover-3 battery=50", ""); got != "Mar  1 12:00:00 rover-3 battery=50" {
		t.Fatalf("unexpected line: %q", got)
	}
}
