package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"rescuerover/internal/config"
	"rescuerover/internal/engine"
	"rescuerover/internal/events"
	"rescuerover/internal/fusion"
	"rescuerover/internal/model"
	"rescuerover/internal/navigation"
	"rescuerover/internal/reports"
)

// RoverControl is the part of the engine the API drives.
type RoverControl interface {
	Reset()
	UpdateConfig(cfg *config.Config)
	Rovers() []string
	Report(roverID string) (model.StatusReport, bool, error)
	NextAction(roverID string) (model.Command, error)
	Survivors(roverID string, minConfidence float64, priority bool, maxCount int) ([]fusion.Detection, error)
	Obstacles(roverID string) ([]navigation.Obstacle, error)
	StartMission(roverID string) bool
	AbortMission(roverID string) (bool, error)
	SetChargingStation(roverID string, p model.Point)
	EventHistory(ctx context.Context, roverID string, limit int) ([]model.MissionEvent, error)
	Uptime() time.Duration
	Processed() int64
}

type Server struct {
	cfg     *config.Manager
	reports *reports.Store
	events  *events.Store
	engine  RoverControl
	ws      http.HandlerFunc
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status     string       `json:"status"`
	Time       string       `json:"time"`
	Version    string       `json:"version"`
	ConfigPath string       `json:"config_path"`
	Uptime     string       `json:"uptime"`
	Rovers     int          `json:"rovers"`
	Processed  int64        `json:"events_processed"`
	Ingest     ingestStatus `json:"ingest"`
	Actions    actionStatus `json:"actions"`
	API        apiStatus    `json:"api"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	Syslog    bool `json:"syslog"`
	FileTail  bool `json:"file_tail"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
	RoverAPI  bool `json:"rover_api_poll"`
}

type actionStatus struct {
	Kafka    bool `json:"kafka"`
	RoverAPI bool `json:"rover_api"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// NewServer wires the handlers. ws may be nil when the live feed is off.
func NewServer(cfg *config.Manager, reportsStore *reports.Store, eventsStore *events.Store, eng RoverControl, ws http.HandlerFunc, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:     cfg,
		reports: reportsStore,
		events:  eventsStore,
		engine:  eng,
		ws:      ws,
		logger:  logger,
		version: version,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/rovers", s.handleRovers)
	mux.HandleFunc("/rovers/", s.handleRover)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/admin/clear", s.handleClear)
	mux.HandleFunc("/admin/restart", s.handleRestart)
	if s.ws != nil {
		mux.HandleFunc("/ws", s.ws)
	}
	return mux
}

func Start(ctx context.Context, cfg *config.Manager, reportsStore *reports.Store, eventsStore *events.Store, eng RoverControl, ws http.HandlerFunc, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := NewServer(cfg, reportsStore, eventsStore, eng, ws, logger, version)

	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			Syslog:    cfg.Ingest.Syslog.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
			RoverAPI:  cfg.RoverAPI.Poll,
		},
		Actions: actionStatus{Kafka: cfg.Actions.Kafka.Enabled, RoverAPI: cfg.Actions.RoverAPI},
		API:     apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
	}
	if s.engine != nil {
		resp.Uptime = humanize.RelTime(time.Now().Add(-s.engine.Uptime()), time.Now(), "", "")
		resp.Rovers = len(s.engine.Rovers())
		resp.Processed = s.engine.Processed()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRovers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var ids []string
	if s.engine != nil {
		ids = s.engine.Rovers()
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rovers": ids,
		"count":  len(ids),
	})
}

// handleRover serves /rovers/{id}/{resource}.
func (s *Server) handleRover(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/rovers/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || s.engine == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id, resource := parts[0], parts[1]
	switch resource {
	case "report":
		s.handleReport(w, r, id)
	case "action":
		s.handleAction(w, r, id)
	case "survivors":
		s.handleSurvivors(w, r, id)
	case "obstacles":
		s.handleObstacles(w, r, id)
	case "mission":
		s.handleMission(w, r, id)
	case "charging_station":
		s.handleChargingStation(w, r, id)
	case "events":
		s.handleRoverEvents(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	report, ok, err := s.engine.Report(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"rover_id": id, "report": nil})
		return
	}
	out := map[string]any{
		"rover_id":     id,
		"report":       reportJSON(report),
		"battery_life": batteryLifeText(report.EstimatedBatteryLife),
	}
	if s.reports != nil {
		if entry, ok := s.reports.Get(id); ok {
			out["updated_at"] = entry.UpdatedAt.Format(time.RFC3339Nano)
			out["updated"] = humanize.Time(entry.UpdatedAt)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cmd, err := s.engine.NextAction(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rover_id": id, "action": cmd})
}

func (s *Server) handleSurvivors(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	minConfidence := s.cfg.Get().Fusion.MinConfidence
	if v := q.Get("min_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		minConfidence = f
	}
	priority := false
	if v := q.Get("priority"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		priority = b
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	list, err := s.engine.Survivors(id, minConfidence, priority, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []fusion.Detection{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rover_id":  id,
		"survivors": list,
		"count":     len(list),
	})
}

func (s *Server) handleObstacles(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	list, err := s.engine.Obstacles(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []navigation.Obstacle{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rover_id":  id,
		"obstacles": list,
		"count":     len(list),
	})
}

func (s *Server) handleMission(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Action string `json:"action"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var (
		changed bool
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "start":
		changed = s.engine.StartMission(id)
	case "abort":
		changed, err = s.engine.AbortMission(id)
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "changed": changed})
}

func (s *Server) handleChargingStation(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Position *model.Point `json:"position"`
	}
	if err := decodeBody(w, r, &req); err != nil || req.Position == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.engine.SetChargingStation(id, *req.Position)
	if s.logger != nil {
		s.logger.Info("charging station set", "rover_id", id, "x", req.Position[0], "y", req.Position[1])
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleRoverEvents(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	list, err := s.engine.EventHistory(r.Context(), id, limit)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("event history failed", "rover_id", id, "err", err)
		}
		writeError(w, err)
		return
	}
	if list == nil {
		list = []model.MissionEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rover_id": id,
		"events":   list,
		"count":    len(list),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.MissionEvent
	sinceStr := r.URL.Query().Get("since")
	roverID := r.URL.Query().Get("rover_id")
	switch {
	case sinceStr != "":
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.events.Since(ts)
	case roverID != "":
		list = s.events.ForRover(roverID, limit)
	default:
		list = s.events.List(limit)
	}
	if list == nil {
		list = []model.MissionEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": list,
		"count":  len(list),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.clearReports()
		s.clearEvents()
	case "events":
		s.clearEvents()
	case "reports":
		s.clearReports()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.engine != nil {
		s.engine.Reset()
		s.engine.UpdateConfig(s.cfg.Get())
	}
	s.clearReports()
	s.clearEvents()
	if s.logger != nil {
		s.logger.Warn("mission state reset via api")
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) clearReports() {
	if s.reports != nil {
		s.reports.Clear()
	}
}

func (s *Server) clearEvents() {
	if s.events != nil {
		s.events.Clear()
	}
}

// reportJSON swaps an unbounded battery life for null; encoding/json
// rejects +Inf.
func reportJSON(report model.StatusReport) map[string]any {
	var life any = report.EstimatedBatteryLife
	if math.IsInf(report.EstimatedBatteryLife, 0) || math.IsNaN(report.EstimatedBatteryLife) {
		life = nil
	}
	return map[string]any{
		"rover_id":               report.RoverID,
		"state":                  report.State,
		"position":               report.Position,
		"battery_level":          report.BatteryLevel,
		"temperature":            report.Temperature,
		"survivors_found":        report.SurvivorsFound,
		"power_state":            report.PowerState,
		"power_actions":          report.PowerActions,
		"estimated_battery_life": life,
		"timestamp":              report.Timestamp,
	}
}

func batteryLifeText(seconds float64) string {
	switch {
	case math.IsInf(seconds, 1) || seconds > 1e9:
		return "unlimited"
	case seconds <= 0 || math.IsNaN(seconds):
		return "depleted"
	}
	now := time.Now()
	return humanize.RelTime(now, now.Add(time.Duration(seconds*float64(time.Second))), "left", "")
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dst)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, engine.ErrUnknownRover) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
