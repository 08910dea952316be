package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"rescuerover/internal/config"
	"rescuerover/internal/events"
	"rescuerover/internal/fusion"
	"rescuerover/internal/model"
	"rescuerover/internal/navigation"
	"rescuerover/internal/power"
	"rescuerover/internal/reports"
	"rescuerover/internal/rover"
	"rescuerover/internal/storage"
)

var ErrUnknownRover = errors.New("unknown rover")

// ActionSink receives the action chosen for a rover after each telemetry
// tick.
type ActionSink interface {
	Dispatch(ctx context.Context, roverID string, cmd model.Command) error
}

// EventPublisher receives every mission event as it is recorded.
type EventPublisher interface {
	PublishEvent(ev model.MissionEvent)
}

type Engine struct {
	logger     *slog.Logger
	reports    *reports.Store
	events     *events.Store
	store      storage.Store
	cfg        atomic.Value
	rovers     map[string]*RoverState
	mu         sync.Mutex
	started    time.Time
	cooldown   *Cooldown
	deDupe     *DedupeCache
	sinks      []ActionSink
	publishers []EventPublisher
	actions    chan pendingAction
	processed  atomic.Int64
}

// RoverState wraps one controller. Its mutex serializes every call into the
// controller.
type RoverState struct {
	id       string
	mu       sync.Mutex
	ctrl     *rover.Controller
	lastSeen time.Time
}

type pendingAction struct {
	roverID string
	cmd     model.Command
}

func NewEngine(cfg *config.Config, logger *slog.Logger, reportsStore *reports.Store, eventsStore *events.Store, store storage.Store) *Engine {
	e := &Engine{
		logger:   logger,
		reports:  reportsStore,
		events:   eventsStore,
		store:    store,
		rovers:   make(map[string]*RoverState),
		started:  time.Now().UTC(),
		cooldown: NewCooldown(),
		deDupe:   NewDedupeCache(),
		actions:  make(chan pendingAction, 64),
	}
	e.cfg.Store(cfg)
	return e
}

// AddSink registers an action sink. Call before Start.
func (e *Engine) AddSink(s ActionSink) {
	e.sinks = append(e.sinks, s)
}

// AddPublisher registers a mission event publisher. Call before Start.
func (e *Engine) AddPublisher(p EventPublisher) {
	e.publishers = append(e.publishers, p)
}

// UpdateConfig applies to rovers seen after the call; running controllers
// keep the configuration they were created with.
func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

// Start consumes events from in and dispatches actions to the sinks until
// ctx is done.
func (e *Engine) Start(ctx context.Context, in <-chan model.Event) {
	go func() {
		for {
			select {
			case ev := <-in:
				e.ProcessEvent(ev)
			case <-ctx.Done():
				return
			}
		}
	}()
	go e.dispatchLoop(ctx)
}

func (e *Engine) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-e.actions:
			for _, sink := range e.sinks {
				dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
				if err := sink.Dispatch(dctx, a.roverID, a.cmd); err != nil && e.logger != nil {
					e.logger.Warn("action dispatch failed", "rover_id", a.roverID, "command", a.cmd.Command, "err", err)
				}
				cancel()
			}
		}
	}
}

// ProcessEvent routes one ingest event to its rover and returns the mission
// events it produced.
func (e *Engine) ProcessEvent(ev model.Event) []model.MissionEvent {
	cfg := e.config()
	if e.isDuplicate(ev, cfg.Engine.DedupeWindow) {
		return nil
	}
	e.processed.Add(1)

	r := e.getRover(ev.RoverID, cfg)
	switch ev.Kind {
	case model.EventSensor:
		if ev.Reading == nil {
			return nil
		}
		out := e.handleSensor(r, *ev.Reading)
		e.record(out)
		return out
	case model.EventTelemetry:
		if ev.Status == nil {
			return nil
		}
		out, action := e.handleTelemetry(cfg, r, *ev.Status)
		e.record(out)
		e.enqueue(r.id, action)
		return out
	}
	if e.logger != nil {
		e.logger.Warn("unknown event kind", "rover_id", ev.RoverID, "kind", ev.Kind)
	}
	return nil
}

func (e *Engine) enqueue(roverID string, cmd model.Command) {
	if len(e.sinks) == 0 {
		return
	}
	select {
	case e.actions <- pendingAction{roverID: roverID, cmd: cmd}:
	default:
		if e.logger != nil {
			e.logger.Warn("action queue full, dropping action", "rover_id", roverID, "command", cmd.Command)
		}
	}
}

func (e *Engine) handleSensor(r *RoverState, reading model.SensorReading) []model.MissionEvent {
	r.mu.Lock()
	det, created, ok := r.ctrl.ProcessSensorData(reading)
	r.mu.Unlock()
	if !ok || !created {
		return nil
	}
	return []model.MissionEvent{newEvent(r.id, model.MissionSurvivorDetected, "high",
		fmt.Sprintf("possible survivor at (%.1f, %.1f)", det.Position[0], det.Position[1]),
		map[string]string{
			"detection_id": det.ID,
			"sensor":       string(reading.Kind),
			"confidence":   strconv.FormatFloat(det.Confidence, 'f', 3, 64),
		})}
}

func (e *Engine) handleTelemetry(cfg *config.Config, r *RoverState, status model.RoverStatus) ([]model.MissionEvent, model.Command) {
	r.mu.Lock()
	prevPower := r.ctrl.PowerState()
	tr, changed := r.ctrl.UpdateStatus(status)
	nextPower := r.ctrl.PowerState()
	report, hasReport := r.ctrl.StatusReport()
	action := r.ctrl.NextAction()
	r.mu.Unlock()

	var out []model.MissionEvent
	if changed {
		out = append(out, e.transitionEvents(cfg, r.id, tr, status)...)
	}
	if nextPower != prevPower && nextPower != power.StateRecharging {
		severity := "info"
		if nextPower == power.StateCritical {
			severity = "critical"
		} else if nextPower == power.StateLowPower {
			severity = "warning"
		}
		if severity == "info" || e.cooldown.Allow(r.id, "power|"+nextPower.String(), cfg.Engine.WarningCooldown) {
			out = append(out, newEvent(r.id, model.MissionPowerState, severity,
				fmt.Sprintf("power state %s -> %s at %.0f%% battery", prevPower, nextPower, status.BatteryLevel),
				map[string]string{"from": prevPower.String(), "to": nextPower.String()}))
		}
	}

	if hasReport {
		report.RoverID = r.id
		if e.reports != nil {
			e.reports.Update(r.id, report, action)
		}
		if e.store != nil {
			if err := e.store.SaveReport(context.Background(), report); err != nil && e.logger != nil {
				e.logger.Warn("save status report failed", "rover_id", r.id, "err", err)
			}
		}
	}
	return out, action
}

func (e *Engine) transitionEvents(cfg *config.Config, roverID string, tr rover.Transition, status model.RoverStatus) []model.MissionEvent {
	out := []model.MissionEvent{newEvent(roverID, model.MissionStateChange, "info",
		fmt.Sprintf("%s -> %s (%s)", tr.From, tr.To, tr.Reason),
		map[string]string{"from": tr.From.String(), "to": tr.To.String(), "reason": tr.Reason})}
	if tr.To == rover.StateReturningToCharge && e.cooldown.Allow(roverID, "return_to_charge", cfg.Engine.WarningCooldown) {
		out = append(out, newEvent(roverID, model.MissionReturnToCharge, "warning",
			fmt.Sprintf("returning to charge at %.0f%% battery, %.1f°C", status.BatteryLevel, status.Temperature),
			map[string]string{
				"battery":     strconv.FormatFloat(status.BatteryLevel, 'f', 1, 64),
				"temperature": strconv.FormatFloat(status.Temperature, 'f', 1, 64),
			}))
	}
	if tr.Served != "" {
		out = append(out, newEvent(roverID, model.MissionAidDelivered, "info",
			"aid delivered", map[string]string{"detection_id": tr.Served}))
	}
	return out
}

func newEvent(roverID string, typ model.MissionEventType, severity, msg string, ctx map[string]string) model.MissionEvent {
	return model.MissionEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		RoverID:   roverID,
		Type:      typ,
		Severity:  severity,
		Message:   msg,
		Context:   ctx,
	}
}

func (e *Engine) record(evs []model.MissionEvent) {
	for _, ev := range evs {
		if e.events != nil {
			e.events.Add(ev)
		}
		if e.logger != nil {
			level := slog.LevelInfo
			if ev.Severity == "warning" || ev.Severity == "critical" || ev.Severity == "high" {
				level = slog.LevelWarn
			}
			e.logger.Log(context.Background(), level, "mission event",
				"rover_id", ev.RoverID,
				"type", ev.Type,
				"severity", ev.Severity,
				"message", ev.Message,
			)
		}
		if e.store != nil {
			if err := e.store.SaveEvent(context.Background(), ev); err != nil && e.logger != nil {
				e.logger.Warn("save mission event failed", "rover_id", ev.RoverID, "err", err)
			}
		}
		for _, p := range e.publishers {
			p.PublishEvent(ev)
		}
	}
}

func (e *Engine) Reset() {
	e.mu.Lock()
	e.rovers = make(map[string]*RoverState)
	e.mu.Unlock()
	e.cooldown.Reset()
	e.deDupe.Reset()
}

// getRover returns the rover's state, creating it on first sight. Past
// MaxRovers the least recently seen rover is forgotten.
func (e *Engine) getRover(roverID string, cfg *config.Config) *RoverState {
	if roverID == "" {
		roverID = cfg.Ingest.Parser.DefaultRoverID
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	if r, ok := e.rovers[roverID]; ok {
		r.lastSeen = now
		return r
	}
	if limit := cfg.Engine.MaxRovers; limit > 0 && len(e.rovers) >= limit {
		e.evictOldest()
	}
	r := &RoverState{
		id:       roverID,
		ctrl:     rover.NewController(rover.ConfigFrom(cfg)),
		lastSeen: now,
	}
	e.rovers[roverID] = r
	if e.logger != nil {
		e.logger.Info("tracking new rover", "rover_id", roverID, "rovers", len(e.rovers))
	}
	return r
}

func (e *Engine) evictOldest() {
	var oldest *RoverState
	for _, r := range e.rovers {
		if oldest == nil || r.lastSeen.Before(oldest.lastSeen) {
			oldest = r
		}
	}
	if oldest != nil {
		delete(e.rovers, oldest.id)
		if e.logger != nil {
			e.logger.Warn("evicted rover", "rover_id", oldest.id, "last_seen", humanize.Time(oldest.lastSeen))
		}
	}
}

func (e *Engine) lookup(roverID string) (*RoverState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rovers[roverID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRover, roverID)
	}
	return r, nil
}

// Rovers lists tracked rover ids in order.
func (e *Engine) Rovers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.rovers))
	for id := range e.rovers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StartMission moves an idle rover into Searching, creating the rover if
// it has not reported yet. It reports whether the state changed.
func (e *Engine) StartMission(roverID string) bool {
	r := e.getRover(roverID, e.config())
	r.mu.Lock()
	tr, ok := r.ctrl.StartMission()
	r.mu.Unlock()
	if ok {
		e.record(e.transitionEvents(e.config(), r.id, tr, model.RoverStatus{}))
	}
	return ok
}

func (e *Engine) AbortMission(roverID string) (bool, error) {
	r, err := e.lookup(roverID)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	tr, ok := r.ctrl.AbortMission()
	r.mu.Unlock()
	if ok {
		e.record(e.transitionEvents(e.config(), r.id, tr, model.RoverStatus{}))
	}
	return ok, nil
}

func (e *Engine) SetChargingStation(roverID string, p model.Point) {
	r := e.getRover(roverID, e.config())
	r.mu.Lock()
	r.ctrl.SetChargingStation(p)
	r.mu.Unlock()
}

func (e *Engine) Report(roverID string) (model.StatusReport, bool, error) {
	r, err := e.lookup(roverID)
	if err != nil {
		return model.StatusReport{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	report, ok := r.ctrl.StatusReport()
	report.RoverID = r.id
	return report, ok, nil
}

func (e *Engine) NextAction(roverID string) (model.Command, error) {
	r, err := e.lookup(roverID)
	if err != nil {
		return model.Command{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctrl.NextAction(), nil
}

// Survivors returns detections at or above minConfidence, or the priority
// list when priority is set.
func (e *Engine) Survivors(roverID string, minConfidence float64, priority bool, maxCount int) ([]fusion.Detection, error) {
	r, err := e.lookup(roverID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if priority {
		return r.ctrl.PrioritySurvivors(maxCount), nil
	}
	return r.ctrl.Survivors(minConfidence), nil
}

func (e *Engine) Obstacles(roverID string) ([]navigation.Obstacle, error) {
	r, err := e.lookup(roverID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctrl.Obstacles(), nil
}

func (e *Engine) Uptime() time.Duration {
	return time.Since(e.started)
}

func (e *Engine) Processed() int64 {
	return e.processed.Load()
}

// EventHistory reads the rover's journal from durable storage when it is
// configured and from the in-memory ring otherwise. Newest first.
func (e *Engine) EventHistory(ctx context.Context, roverID string, limit int) ([]model.MissionEvent, error) {
	if e.store != nil {
		list, err := e.store.RecentEvents(ctx, roverID, limit)
		if err != nil {
			return nil, fmt.Errorf("recent events: %w", err)
		}
		return list, nil
	}
	if e.events == nil {
		return nil, nil
	}
	list := e.events.ForRover(roverID, limit)
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}
