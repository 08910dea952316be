package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"rescuerover/internal/config"
	"rescuerover/internal/engine"
	"rescuerover/internal/events"
	"rescuerover/internal/model"
	"rescuerover/internal/reports"
)

type testServer struct {
	handler http.Handler
	engine  *engine.Engine
	events  *events.Store
}

func newTestServer() testServer {
	cfg := config.DefaultConfig()
	cfg.Engine.DedupeWindow = 0
	rs := reports.NewStore(10)
	es := events.NewStore(10)
	eng := engine.NewEngine(cfg, nil, rs, es, nil)
	srv := NewServer(config.NewStaticManager(cfg), rs, es, eng, nil, nil, "test")
	return testServer{handler: srv.Handler(), engine: eng, events: es}
}

func (ts testServer) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec.Code, out
}

func telemetry(battery, ts float64) model.Event {
	return model.Event{
		Kind:    model.EventTelemetry,
		RoverID: "r1",
		Status: &model.RoverStatus{
			Position:     model.Point{0, 0},
			BatteryLevel: battery,
			Temperature:  20,
			Voltage:      12,
			Current:      2,
			Timestamp:    ts,
		},
	}
}

func TestStatus(t *testing.T) {
	ts := newTestServer()
	code, body := ts.do(t, http.MethodGet, "/status", "")
	if code != http.StatusOK || body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected status %d %v", code, body)
	}
	if code, _ := ts.do(t, http.MethodPost, "/status", ""); code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", code)
	}
}

func TestMissionLifecycleOverAPI(t *testing.T) {
	ts := newTestServer()
	code, body := ts.do(t, http.MethodPost, "/rovers/r1/mission", `{"action":"start"}`)
	if code != http.StatusOK || body["changed"] != true {
		t.Fatalf("start mission: %d %v", code, body)
	}
	code, _ = ts.do(t, http.MethodPost, "/rovers/ghost/mission", `{"action":"abort"}`)
	if code != http.StatusNotFound {
		t.Fatalf("expected 404 aborting an unknown rover, got %d", code)
	}
	code, _ = ts.do(t, http.MethodPost, "/rovers/r1/mission", `{"action":"dance"}`)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d", code)
	}

	ts.engine.ProcessEvent(telemetry(90, 1))
	code, body = ts.do(t, http.MethodGet, "/rovers/r1/action", "")
	if code != http.StatusOK {
		t.Fatalf("action: %d", code)
	}
	action := body["action"].(map[string]any)
	if action["command"] != "search_pattern" {
		t.Fatalf("expected search_pattern, got %v", action)
	}

	code, body = ts.do(t, http.MethodGet, "/rovers", "")
	if code != http.StatusOK || body["count"].(float64) != 1 {
		t.Fatalf("rovers: %d %v", code, body)
	}

	code, body = ts.do(t, http.MethodGet, "/events?limit=10", "")
	if code != http.StatusOK || body["count"].(float64) < 1 {
		t.Fatalf("events: %d %v", code, body)
	}

	ts.do(t, http.MethodPost, "/rovers/r1/mission", `{"action":"abort"}`)
	code, body = ts.do(t, http.MethodGet, "/rovers/r1/events", "")
	if code != http.StatusOK || body["count"].(float64) != 2 {
		t.Fatalf("rover events: %d %v", code, body)
	}
	newest := body["events"].([]any)[0].(map[string]any)
	if newest["context"].(map[string]any)["reason"] != "mission_aborted" {
		t.Fatalf("expected newest event first, got %v", newest)
	}
}

func TestReportAndChargingStation(t *testing.T) {
	ts := newTestServer()
	if code, _ := ts.do(t, http.MethodGet, "/rovers/r1/report", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown rover, got %d", code)
	}
	code, _ := ts.do(t, http.MethodPost, "/rovers/r1/charging_station", `{"position":[50,50]}`)
	if code != http.StatusOK {
		t.Fatalf("charging station: %d", code)
	}
	if code, _ := ts.do(t, http.MethodPost, "/rovers/r1/charging_station", `{}`); code != http.StatusBadRequest {
		t.Fatalf("expected 400 without position, got %d", code)
	}

	ts.engine.ProcessEvent(telemetry(4, 1))
	code, body := ts.do(t, http.MethodGet, "/rovers/r1/report", "")
	if code != http.StatusOK {
		t.Fatalf("report: %d", code)
	}
	report := body["report"].(map[string]any)
	if report["state"] != "returning_to_charge" || report["power_state"] != "critical" {
		t.Fatalf("unexpected report %v", report)
	}
	if body["battery_life"] == "" {
		t.Fatalf("expected battery life text")
	}

	_, body = ts.do(t, http.MethodGet, "/rovers/r1/action", "")
	if body["action"].(map[string]any)["command"] != "move" {
		t.Fatalf("expected move toward station, got %v", body["action"])
	}
}

func TestSurvivorsAndObstacles(t *testing.T) {
	ts := newTestServer()
	ts.engine.ProcessEvent(telemetry(90, 1))
	ts.engine.ProcessEvent(model.Event{
		Kind:    model.EventSensor,
		RoverID: "r1",
		Reading: &model.SensorReading{
			Kind:       model.SensorRFID,
			Value:      0.9,
			Timestamp:  2,
			Position:   model.Point{100, 100},
			Confidence: 0.8,
		},
	})
	code, body := ts.do(t, http.MethodGet, "/rovers/r1/survivors?priority=true", "")
	if code != http.StatusOK || body["count"].(float64) != 1 {
		t.Fatalf("survivors: %d %v", code, body)
	}
	ts.engine.ProcessEvent(model.Event{
		Kind:    model.EventSensor,
		RoverID: "r1",
		Reading: &model.SensorReading{
			Kind:       model.SensorRFID,
			Value:      0.9,
			Timestamp:  3,
			Position:   model.Point{1000, 1000},
			Confidence: 0.3,
		},
	})
	code, body = ts.do(t, http.MethodGet, "/rovers/r1/survivors", "")
	if code != http.StatusOK || body["count"].(float64) != 1 {
		t.Fatalf("default threshold should hide the weak detection: %d %v", code, body)
	}
	code, body = ts.do(t, http.MethodGet, "/rovers/r1/survivors?min_confidence=0", "")
	if code != http.StatusOK || body["count"].(float64) != 2 {
		t.Fatalf("explicit zero threshold: %d %v", code, body)
	}
	code, body = ts.do(t, http.MethodGet, "/rovers/r1/survivors?min_confidence=0.9", "")
	if code != http.StatusOK || body["count"].(float64) != 0 {
		t.Fatalf("filtered survivors: %d %v", code, body)
	}
	if code, _ := ts.do(t, http.MethodGet, "/rovers/r1/survivors?priority=maybe", ""); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	code, body = ts.do(t, http.MethodGet, "/rovers/r1/obstacles", "")
	if code != http.StatusOK || body["count"].(float64) != 0 {
		t.Fatalf("obstacles: %d %v", code, body)
	}
	if code, _ := ts.do(t, http.MethodGet, "/rovers/r1/unknown", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestAdminClearAndRestart(t *testing.T) {
	ts := newTestServer()
	ts.engine.StartMission("r1")
	if ts.events.Len() == 0 {
		t.Fatalf("expected events before clear")
	}
	if code, _ := ts.do(t, http.MethodPost, "/admin/clear", `{"target":"events"}`); code != http.StatusOK {
		t.Fatalf("clear: %d", code)
	}
	if ts.events.Len() != 0 {
		t.Fatalf("expected events cleared")
	}
	if code, _ := ts.do(t, http.MethodPost, "/admin/clear", `{"target":"bogus"}`); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if code, _ := ts.do(t, http.MethodPost, "/admin/restart", ""); code != http.StatusOK {
		t.Fatalf("restart: %d", code)
	}
	if len(ts.engine.Rovers()) != 0 {
		t.Fatalf("expected rovers reset")
	}
}
