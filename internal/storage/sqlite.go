package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"rescuerover/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:rover.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS mission_events (
			id TEXT PRIMARY KEY,
			ts DATETIME NOT NULL,
			rover_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			context_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mission_events_rover_ts ON mission_events(rover_id, ts)`,
		`CREATE TABLE IF NOT EXISTS status_reports (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts DATETIME NOT NULL,
			rover_id TEXT NOT NULL,
			state TEXT NOT NULL,
			pos_x REAL NOT NULL,
			pos_y REAL NOT NULL,
			battery_level REAL NOT NULL,
			temperature REAL NOT NULL,
			survivors_found INTEGER NOT NULL,
			power_state TEXT NOT NULL,
			power_actions_json TEXT NOT NULL,
			battery_life_sec REAL NOT NULL,
			mission_ts REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_status_reports_rover ON status_reports(rover_id, ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveEvent(ctx context.Context, ev model.MissionEvent) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mission_events (id, ts, rover_id, event_type, severity, message, context_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID,
		ev.Timestamp.UTC(),
		ev.RoverID,
		string(ev.Type),
		ev.Severity,
		ev.Message,
		encodeJSON(ev.Context),
	)
	return err
}

func (s *sqliteStore) SaveReport(ctx context.Context, report model.StatusReport) error {
	if s.db == nil || report.RoverID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO status_reports (ts, rover_id, state, pos_x, pos_y, battery_level, temperature,
			survivors_found, power_state, power_actions_json, battery_life_sec, mission_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nowUTC(),
		report.RoverID,
		report.State,
		report.Position[0],
		report.Position[1],
		report.BatteryLevel,
		report.Temperature,
		report.SurvivorsFound,
		report.PowerState,
		encodeJSON(report.PowerActions),
		finite(report.EstimatedBatteryLife),
		report.Timestamp,
	)
	return err
}

func (s *sqliteStore) RecentEvents(ctx context.Context, roverID string, limit int) ([]model.MissionEvent, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	return s.queryEvents(ctx,
		`SELECT id, ts, rover_id, event_type, severity, message, context_json
		FROM mission_events WHERE rover_id = ? ORDER BY ts DESC LIMIT ?`,
		roverID, limit)
}
