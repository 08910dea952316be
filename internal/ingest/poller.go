package ingest

import (
	"context"
	"log/slog"
	"time"

	"rescuerover/internal/config"
	"rescuerover/internal/model"
	"rescuerover/internal/roverapi"
)

// StatusSource is the part of the remote rover client the poller needs.
type StatusSource interface {
	Status(ctx context.Context) (roverapi.Status, error)
}

// StartRoverAPIPoller turns the remote status endpoint into telemetry
// events, one per poll interval.
func StartRoverAPIPoller(ctx context.Context, cfg *config.Manager, src StatusSource, out chan<- model.Event, logger *slog.Logger) {
	current := cfg.Get().RoverAPI
	if !current.Poll || src == nil {
		if logger != nil {
			logger.Info("rover api poller disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("rover api poller enabled", "base_url", current.BaseURL, "interval", current.PollInterval)
	}
	go func() {
		for {
			pollOnce(ctx, cfg, src, out, logger)
			interval := cfg.Get().RoverAPI.PollInterval
			if !BackoffSleep(ctx, interval) {
				return
			}
		}
	}()
}

func pollOnce(ctx context.Context, cfg *config.Manager, src StatusSource, out chan<- model.Event, logger *slog.Logger) bool {
	st, err := src.Status(ctx)
	if err != nil {
		if logger != nil && ctx.Err() == nil {
			logger.Warn("rover api poll failed", "err", err)
		}
		return false
	}
	return SendNonBlocking(ctx, out, statusEvent(cfg.Get(), st, time.Now()), logger)
}

func statusEvent(cfg *config.Config, st roverapi.Status, now time.Time) model.Event {
	pc := cfg.Ingest.Parser
	rover := cfg.RoverAPI.RoverID
	if rover == "" {
		rover = pc.DefaultRoverID
	}
	return model.Event{
		Kind:    model.EventTelemetry,
		RoverID: rover,
		Source:  "rover_api",
		Status: &model.RoverStatus{
			Position:     st.Coordinates,
			BatteryLevel: float64(st.Battery),
			Temperature:  pc.DefaultTemperature,
			Voltage:      pc.DefaultVoltage,
			Current:      pc.DefaultCurrent,
			State:        st.Status,
			Timestamp:    float64(now.UnixNano()) / 1e9,
		},
	}
}
