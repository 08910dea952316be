package storage

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"rescuerover/internal/config"
	"rescuerover/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "rover.db")
	store, err := NewSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return store
}

func TestSQLiteEventRoundTrip(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, typ := range []model.MissionEventType{model.MissionStateChange, model.MissionSurvivorDetected} {
		ev := model.MissionEvent{
			ID:        fmt.Sprintf("evt-%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			RoverID:   "rover-1",
			Type:      typ,
			Severity:  "info",
			Message:   "event",
			Context:   map[string]string{"n": fmt.Sprint(i)},
		}
		if err := store.SaveEvent(ctx, ev); err != nil {
			t.Fatalf("save event: %v", err)
		}
	}
	if err := store.SaveEvent(ctx, model.MissionEvent{ID: "other", Timestamp: base, RoverID: "rover-2", Type: model.MissionStateChange}); err != nil {
		t.Fatalf("save event: %v", err)
	}

	got, err := store.RecentEvents(ctx, "rover-1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != model.MissionSurvivorDetected || got[0].Context["n"] != "1" {
		t.Fatalf("expected newest first, got %+v", got[0])
	}
	if !got[1].Timestamp.Equal(base) {
		t.Fatalf("timestamp mismatch: %v", got[1].Timestamp)
	}
}

func TestSQLiteSaveReportInfiniteLife(t *testing.T) {
	store := newTestSQLite(t)
	report := model.StatusReport{
		RoverID:              "rover-1",
		State:                "idle",
		PowerActions:         []string{},
		EstimatedBatteryLife: math.Inf(1),
	}
	if err := store.SaveReport(context.Background(), report); err != nil {
		t.Fatalf("save report: %v", err)
	}
}

func TestNewStoreDisabled(t *testing.T) {
	store, err := NewStore(config.StorageConfig{Enabled: false})
	if err != nil || store != nil {
		t.Fatalf("expected nil store, got %v %v", store, err)
	}
	if _, err := NewStore(config.StorageConfig{Enabled: true, Driver: "oracle"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}
