package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

type Point = orb.Point

type Path = orb.LineString

type SensorKind string

const (
	SensorUltrasonic    SensorKind = "ultrasonic"
	SensorIR            SensorKind = "ir"
	SensorRFID          SensorKind = "rfid"
	SensorAccelerometer SensorKind = "accelerometer"
)

func ParseSensorKind(value string) (SensorKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "ultrasonic", "us", "sonar":
		return SensorUltrasonic, nil
	case "ir", "infrared":
		return SensorIR, nil
	case "rfid":
		return SensorRFID, nil
	case "accelerometer", "accel", "imu":
		return SensorAccelerometer, nil
	}
	return "", fmt.Errorf("unknown sensor kind %q", value)
}

// SensorReading is immutable once created. Timestamp is in seconds on the
// rover's logical clock. Angle is set only by ranging sensors and carries the
// bearing in degrees used to project obstacles.
type SensorReading struct {
	Kind       SensorKind `json:"kind"`
	Value      float64    `json:"value"`
	Timestamp  float64    `json:"timestamp"`
	Position   Point      `json:"position"`
	Confidence float64    `json:"confidence"`
	Angle      *float64   `json:"angle,omitempty"`
}

type PowerMetrics struct {
	BatteryLevel     float64 `json:"battery_level"`
	PowerConsumption float64 `json:"power_consumption"`
	Temperature      float64 `json:"temperature"`
	Voltage          float64 `json:"voltage"`
	Current          float64 `json:"current"`
	Timestamp        float64 `json:"timestamp"`
}

type RoverStatus struct {
	Position       Point   `json:"position"`
	BatteryLevel   float64 `json:"battery_level"`
	Temperature    float64 `json:"temperature"`
	Voltage        float64 `json:"voltage"`
	Current        float64 `json:"current"`
	State          string  `json:"state,omitempty"`
	SurvivorsFound int     `json:"survivors_found"`
	Timestamp      float64 `json:"timestamp"`
}

type CommandName string

const (
	CommandStop          CommandName = "stop"
	CommandStartSearch   CommandName = "start_search"
	CommandSearchPattern CommandName = "search_pattern"
	CommandMove          CommandName = "move"
	CommandDeliverAid    CommandName = "deliver_aid"
	CommandRecharge      CommandName = "recharge"
)

// Command is the single action emitted per tick. Angle, Distance and Path
// are only set for move; Reason only for stop.
type Command struct {
	Command  CommandName `json:"command"`
	Angle    float64     `json:"angle"`
	Distance float64     `json:"distance"`
	Path     Path        `json:"path,omitempty"`
	Reason   string      `json:"reason,omitempty"`
}

func Stop(reason string) Command {
	return Command{Command: CommandStop, Reason: reason}
}

func (c Command) MarshalJSON() ([]byte, error) {
	out := map[string]any{"command": c.Command}
	switch c.Command {
	case CommandMove:
		out["angle"] = c.Angle
		out["distance"] = c.Distance
		path := c.Path
		if path == nil {
			path = Path{}
		}
		out["path"] = path
	case CommandStop:
		if c.Reason != "" {
			out["reason"] = c.Reason
		}
	}
	return json.Marshal(out)
}

type StatusReport struct {
	RoverID              string   `json:"rover_id,omitempty"`
	State                string   `json:"state"`
	Position             Point    `json:"position"`
	BatteryLevel         float64  `json:"battery_level"`
	Temperature          float64  `json:"temperature"`
	SurvivorsFound       int      `json:"survivors_found"`
	PowerState           string   `json:"power_state"`
	PowerActions         []string `json:"power_actions"`
	EstimatedBatteryLife float64  `json:"estimated_battery_life"`
	Timestamp            float64  `json:"timestamp"`
}

type EventKind string

const (
	EventTelemetry EventKind = "telemetry"
	EventSensor    EventKind = "sensor"
)

// Event is what every ingest source produces. Exactly one of Status or
// Reading is set, matching Kind.
type Event struct {
	Kind    EventKind      `json:"kind"`
	RoverID string         `json:"rover_id"`
	Source  string         `json:"source,omitempty"`
	Status  *RoverStatus   `json:"status,omitempty"`
	Reading *SensorReading `json:"reading,omitempty"`
	Raw     string         `json:"raw,omitempty"`
}

func (e Event) Timestamp() float64 {
	switch {
	case e.Status != nil:
		return e.Status.Timestamp
	case e.Reading != nil:
		return e.Reading.Timestamp
	}
	return 0
}

type MissionEventType string

const (
	MissionStateChange      MissionEventType = "state_change"
	MissionSurvivorDetected MissionEventType = "survivor_detected"
	MissionReturnToCharge   MissionEventType = "return_to_charge"
	MissionPowerState       MissionEventType = "power_state"
	MissionAidDelivered     MissionEventType = "aid_delivered"
)

type MissionEvent struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	RoverID   string            `json:"rover_id"`
	Type      MissionEventType  `json:"type"`
	Severity  string            `json:"severity"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
}
