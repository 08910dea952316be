package ingest

import (
	"context"
	"log/slog"
	"time"

	"rescuerover/internal/config"
	"rescuerover/internal/model"
	"rescuerover/internal/normalize"
)

func SendNonBlocking(ctx context.Context, out chan<- model.Event, ev model.Event, logger *slog.Logger) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("event channel full, dropping event", "rover_id", ev.RoverID, "kind", ev.Kind, "timestamp", ev.Timestamp())
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// emitLine parses, normalizes and forwards one text line. Lines that fail
// either step are logged and skipped.
func emitLine(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Event, logger *slog.Logger, line, source string) bool {
	fields, err := parser.ParseLine(line)
	if err != nil || fields == nil {
		return false
	}
	ev, err := normalize.Normalize(*fields, cfg.Get())
	if err != nil {
		if logger != nil {
			logger.Warn("normalize error", "source", source, "err", err)
		}
		return false
	}
	ev.Source = source
	return SendNonBlocking(ctx, out, ev, logger)
}
