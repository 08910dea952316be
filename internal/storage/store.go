package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"rescuerover/internal/config"
	"rescuerover/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveEvent(ctx context.Context, ev model.MissionEvent) error
	SaveReport(ctx context.Context, report model.StatusReport) error
	RecentEvents(ctx context.Context, roverID string, limit int) ([]model.MissionEvent, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) queryEvents(ctx context.Context, query string, args ...any) ([]model.MissionEvent, error) {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.MissionEvent, 0)
	for rows.Next() {
		var ev model.MissionEvent
		var ctxJSON sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.RoverID, &ev.Type, &ev.Severity, &ev.Message, &ctxJSON); err != nil {
			return nil, err
		}
		if ctxJSON.Valid && ctxJSON.String != "" {
			_ = json.Unmarshal([]byte(ctxJSON.String), &ev.Context)
		}
		ev.Timestamp = ev.Timestamp.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

// finite maps the +Inf battery life of an idle draw to a storable value.
func finite(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return -1
	}
	return v
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
