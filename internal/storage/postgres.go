package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"rescuerover/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/rover?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS mission_events (
			id UUID PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			rover_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			context_json JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mission_events_rover_ts ON mission_events(rover_id, ts)`,
		`CREATE TABLE IF NOT EXISTS status_reports (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			rover_id TEXT NOT NULL,
			state TEXT NOT NULL,
			pos_x DOUBLE PRECISION NOT NULL,
			pos_y DOUBLE PRECISION NOT NULL,
			battery_level DOUBLE PRECISION NOT NULL,
			temperature DOUBLE PRECISION NOT NULL,
			survivors_found INTEGER NOT NULL,
			power_state TEXT NOT NULL,
			power_actions_json JSONB NOT NULL,
			battery_life_sec DOUBLE PRECISION NOT NULL,
			mission_ts DOUBLE PRECISION NOT NULL
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

func (s *postgresStore) SaveEvent(ctx context.Context, ev model.MissionEvent) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mission_events (id, ts, rover_id, event_type, severity, message, context_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
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

func (s *postgresStore) SaveReport(ctx context.Context, report model.StatusReport) error {
	if s.db == nil || report.RoverID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO status_reports (ts, rover_id, state, pos_x, pos_y, battery_level, temperature,
			survivors_found, power_state, power_actions_json, battery_life_sec, mission_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
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

func (s *postgresStore) RecentEvents(ctx context.Context, roverID string, limit int) ([]model.MissionEvent, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	return s.queryEvents(ctx,
		`SELECT id::text, ts, rover_id, event_type, severity, message, context_json::text
		FROM mission_events WHERE rover_id = $1 ORDER BY ts DESC LIMIT $2`,
		roverID, limit)
}
