package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	LogFormat  string           `json:"log_format" yaml:"log_format"`
	Ingest     IngestConfig     `json:"ingest" yaml:"ingest"`
	Fusion     FusionConfig     `json:"fusion" yaml:"fusion"`
	Power      PowerConfig      `json:"power" yaml:"power"`
	Navigation NavigationConfig `json:"navigation" yaml:"navigation"`
	Mission    MissionConfig    `json:"mission" yaml:"mission"`
	Engine     EngineConfig     `json:"engine" yaml:"engine"`
	Actions    ActionsConfig    `json:"actions" yaml:"actions"`
	RoverAPI   RoverAPIConfig   `json:"rover_api" yaml:"rover_api"`
	API        APIConfig        `json:"api" yaml:"api"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Reports    ReportsConfig    `json:"reports" yaml:"reports"`
	Events     EventsConfig     `json:"events" yaml:"events"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	Syslog        SyslogConfig    `json:"syslog" yaml:"syslog"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	FileTail      FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	Parser        ParserConfig    `json:"parser" yaml:"parser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type SyslogConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	UDPAddr string `json:"udp_addr" yaml:"udp_addr"`
	TCPAddr string `json:"tcp_addr" yaml:"tcp_addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

// ParserConfig supplies the values used when a telemetry record omits them.
type ParserConfig struct {
	Timezone           string  `json:"timezone" yaml:"timezone"`
	DefaultRoverID     string  `json:"default_rover_id" yaml:"default_rover_id"`
	DefaultConfidence  float64 `json:"default_confidence" yaml:"default_confidence"`
	DefaultTemperature float64 `json:"default_temperature" yaml:"default_temperature"`
	DefaultVoltage     float64 `json:"default_voltage" yaml:"default_voltage"`
	DefaultCurrent     float64 `json:"default_current" yaml:"default_current"`
}

type SensorValues struct {
	Ultrasonic    float64 `json:"ultrasonic" yaml:"ultrasonic"`
	IR            float64 `json:"ir" yaml:"ir"`
	RFID          float64 `json:"rfid" yaml:"rfid"`
	Accelerometer float64 `json:"accelerometer" yaml:"accelerometer"`
}

type FusionConfig struct {
	MaxReadingAgeSec float64      `json:"max_reading_age_sec" yaml:"max_reading_age_sec"`
	ProximityRadius  float64      `json:"proximity_radius" yaml:"proximity_radius"`
	MinConfidence    float64      `json:"min_confidence" yaml:"min_confidence"`
	PriorityCount    int          `json:"priority_count" yaml:"priority_count"`
	StaleAfterSec    float64      `json:"stale_after_sec" yaml:"stale_after_sec"`
	Weights          SensorValues `json:"weights" yaml:"weights"`
	Thresholds       SensorValues `json:"thresholds" yaml:"thresholds"`
}

type PowerConfig struct {
	BaseConsumption          float64     `json:"base_consumption" yaml:"base_consumption"`
	MovementConsumption      float64     `json:"movement_consumption" yaml:"movement_consumption"`
	SensorConsumption        float64     `json:"sensor_consumption" yaml:"sensor_consumption"`
	CommunicationConsumption float64     `json:"communication_consumption" yaml:"communication_consumption"`
	LowPowerScale            float64     `json:"low_power_scale" yaml:"low_power_scale"`
	CriticalScale            float64     `json:"critical_scale" yaml:"critical_scale"`
	RechargeStart            float64     `json:"recharge_start" yaml:"recharge_start"`
	RechargeStop             float64     `json:"recharge_stop" yaml:"recharge_stop"`
	CommsLoss                float64     `json:"comms_loss" yaml:"comms_loss"`
	LowPower                 float64     `json:"low_power" yaml:"low_power"`
	TempWarning              float64     `json:"temp_warning" yaml:"temp_warning"`
	TempCritical             float64     `json:"temp_critical" yaml:"temp_critical"`
	MaxHistoryAgeSec         float64     `json:"max_history_age_sec" yaml:"max_history_age_sec"`
	ChargingStation          *[2]float64 `json:"charging_station,omitempty" yaml:"charging_station,omitempty"`
}

type NavigationConfig struct {
	ObstacleThreshold       float64 `json:"obstacle_threshold" yaml:"obstacle_threshold"`
	SafeDistance            float64 `json:"safe_distance" yaml:"safe_distance"`
	PatternWidth            float64 `json:"pattern_width" yaml:"pattern_width"`
	SegmentLength           float64 `json:"segment_length" yaml:"segment_length"`
	LowBatterySegmentLength float64 `json:"low_battery_segment_length" yaml:"low_battery_segment_length"`
	LowBatteryLevel         float64 `json:"low_battery_level" yaml:"low_battery_level"`
	TurnIntervalSec         float64 `json:"turn_interval_sec" yaml:"turn_interval_sec"`
	TurnStepDeg             float64 `json:"turn_step_deg" yaml:"turn_step_deg"`
	CurvePoints             int     `json:"curve_points" yaml:"curve_points"`
	ObstacleCapacity        int     `json:"obstacle_capacity" yaml:"obstacle_capacity"`
	PathHistoryLimit        int     `json:"path_history_limit" yaml:"path_history_limit"`
}

type MissionConfig struct {
	StatusHistoryAgeSec float64 `json:"status_history_age_sec" yaml:"status_history_age_sec"`
	StationTolerance    float64 `json:"station_tolerance" yaml:"station_tolerance"`
	ArrivalRadius       float64 `json:"arrival_radius" yaml:"arrival_radius"`
	AidDeliveryTicks    int     `json:"aid_delivery_ticks" yaml:"aid_delivery_ticks"`
	AutoStart           bool    `json:"auto_start" yaml:"auto_start"`
}

type EngineConfig struct {
	DedupeWindow    time.Duration `json:"dedupe_window" yaml:"dedupe_window"`
	WarningCooldown time.Duration `json:"warning_cooldown" yaml:"warning_cooldown"`
	MaxRovers       int           `json:"max_rovers" yaml:"max_rovers"`
}

type ActionsConfig struct {
	Kafka    ActionsKafkaConfig `json:"kafka" yaml:"kafka"`
	RoverAPI bool               `json:"rover_api" yaml:"rover_api"`
}

type ActionsKafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

// RoverAPIConfig points at the remote telemetry/command service. Poll turns
// the status endpoint into a telemetry ingest source.
type RoverAPIConfig struct {
	BaseURL      string        `json:"base_url" yaml:"base_url"`
	SessionID    string        `json:"session_id" yaml:"session_id"`
	RoverID      string        `json:"rover_id" yaml:"rover_id"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
	Retries      int           `json:"retries" yaml:"retries"`
	Backoff      time.Duration `json:"backoff" yaml:"backoff"`
	Poll         bool          `json:"poll" yaml:"poll"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type ReportsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type EventsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			Syslog:        SyslogConfig{Enabled: false, UDPAddr: ":5514", TCPAddr: ":5514"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: false},
			Kafka:         KafkaConfig{Enabled: false},
			Parser: ParserConfig{
				Timezone:           "UTC",
				DefaultRoverID:     "rover-1",
				DefaultConfidence:  1.0,
				DefaultTemperature: 25,
				DefaultVoltage:     12,
				DefaultCurrent:     2,
			},
		},
		Fusion:     DefaultFusionConfig(),
		Power:      DefaultPowerConfig(),
		Navigation: DefaultNavigationConfig(),
		Mission:    DefaultMissionConfig(),
		Engine: EngineConfig{
			DedupeWindow:    1 * time.Second,
			WarningCooldown: 30 * time.Second,
			MaxRovers:       64,
		},
		Actions: ActionsConfig{},
		RoverAPI: RoverAPIConfig{
			RoverID:      "rover-1",
			Timeout:      3 * time.Second,
			Retries:      2,
			Backoff:      1 * time.Second,
			PollInterval: 2 * time.Second,
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:rover.db?_pragma=busy_timeout(5000)"},
		Reports: ReportsConfig{StoreLimit: 64},
		Events:  EventsConfig{StoreLimit: 1000},
	}
}

func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		MaxReadingAgeSec: 5,
		ProximityRadius:  50,
		MinConfidence:    0.5,
		PriorityCount:    5,
		Weights:          SensorValues{Ultrasonic: 0.3, IR: 0.3, RFID: 0.4, Accelerometer: 0.1},
		Thresholds:       SensorValues{Ultrasonic: 200, IR: 0.7, RFID: 0.5, Accelerometer: 2.0},
	}
}

func DefaultPowerConfig() PowerConfig {
	return PowerConfig{
		BaseConsumption:          10,
		MovementConsumption:      20,
		SensorConsumption:        5,
		CommunicationConsumption: 15,
		LowPowerScale:            0.7,
		CriticalScale:            0.5,
		RechargeStart:            5,
		RechargeStop:             80,
		CommsLoss:                10,
		LowPower:                 20,
		TempWarning:              45,
		TempCritical:             60,
		MaxHistoryAgeSec:         3600,
	}
}

func DefaultNavigationConfig() NavigationConfig {
	return NavigationConfig{
		ObstacleThreshold:       50,
		SafeDistance:            100,
		PatternWidth:            200,
		SegmentLength:           100,
		LowBatterySegmentLength: 50,
		LowBatteryLevel:         20,
		TurnIntervalSec:         5,
		TurnStepDeg:             45,
		CurvePoints:             5,
		ObstacleCapacity:        4096,
		PathHistoryLimit:        1000,
	}
}

func DefaultMissionConfig() MissionConfig {
	return MissionConfig{
		StatusHistoryAgeSec: 3600,
		StationTolerance:    10,
		ArrivalRadius:       10,
		AidDeliveryTicks:    1,
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Reports.StoreLimit <= 0 {
		cfg.Reports.StoreLimit = 64
	}
	if cfg.Events.StoreLimit <= 0 {
		cfg.Events.StoreLimit = 1000
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
	if cfg.Ingest.Parser.DefaultRoverID == "" {
		cfg.Ingest.Parser.DefaultRoverID = "rover-1"
	}
	if cfg.Ingest.Parser.DefaultConfidence <= 0 {
		cfg.Ingest.Parser.DefaultConfidence = 1.0
	}
	if cfg.Fusion.PriorityCount <= 0 {
		cfg.Fusion.PriorityCount = 5
	}
	if cfg.Fusion.MaxReadingAgeSec <= 0 {
		cfg.Fusion.MaxReadingAgeSec = 5
	}
	if cfg.Power.MaxHistoryAgeSec <= 0 {
		cfg.Power.MaxHistoryAgeSec = 3600
	}
	if cfg.Navigation.CurvePoints < 2 {
		cfg.Navigation.CurvePoints = 5
	}
	if cfg.Navigation.ObstacleCapacity <= 0 {
		cfg.Navigation.ObstacleCapacity = 4096
	}
	if cfg.Navigation.PathHistoryLimit <= 0 {
		cfg.Navigation.PathHistoryLimit = 1000
	}
	if cfg.Mission.StatusHistoryAgeSec <= 0 {
		cfg.Mission.StatusHistoryAgeSec = 3600
	}
	if cfg.Mission.AidDeliveryTicks <= 0 {
		cfg.Mission.AidDeliveryTicks = 1
	}
	if cfg.Engine.MaxRovers <= 0 {
		cfg.Engine.MaxRovers = 64
	}
	if cfg.RoverAPI.RoverID == "" {
		cfg.RoverAPI.RoverID = cfg.Ingest.Parser.DefaultRoverID
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.Syslog.Enabled && cfg.Ingest.Syslog.UDPAddr == "" && cfg.Ingest.Syslog.TCPAddr == "" {
		return errors.New("ingest.syslog.udp_addr or tcp_addr required when ingest.syslog.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Actions.Kafka.Enabled && (len(cfg.Actions.Kafka.Brokers) == 0 || cfg.Actions.Kafka.Topic == "") {
		return errors.New("actions.kafka requires brokers and topic")
	}
	if (cfg.RoverAPI.Poll || cfg.Actions.RoverAPI) && cfg.RoverAPI.BaseURL == "" {
		return errors.New("rover_api.base_url required when polling or dispatching actions")
	}
	if cfg.Fusion.ProximityRadius <= 0 {
		return errors.New("fusion.proximity_radius must be > 0")
	}
	w := cfg.Fusion.Weights
	if w.Ultrasonic < 0 || w.IR < 0 || w.RFID < 0 || w.Accelerometer < 0 {
		return errors.New("fusion.weights must be >= 0")
	}
	if cfg.Power.LowPower < cfg.Power.CommsLoss || cfg.Power.CommsLoss < cfg.Power.RechargeStart {
		return errors.New("power thresholds must satisfy recharge_start <= comms_loss <= low_power")
	}
	if cfg.Power.RechargeStop <= cfg.Power.LowPower {
		return errors.New("power.recharge_stop must be > power.low_power")
	}
	if cfg.Power.TempCritical < cfg.Power.TempWarning {
		return errors.New("power.temp_critical must be >= power.temp_warning")
	}
	if cfg.Navigation.SegmentLength <= 0 || cfg.Navigation.LowBatterySegmentLength <= 0 {
		return fmt.Errorf("navigation segment lengths must be > 0: %v/%v",
			cfg.Navigation.SegmentLength, cfg.Navigation.LowBatterySegmentLength)
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager serves cfg without a backing file. Update keeps the new
// config in memory only and Watch is never needed.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.path == "" {
		m.cfg.Store(cfg)
		return nil
	}
	if err := Save(m.path, cfg); err != nil {
		return err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
