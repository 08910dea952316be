package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"rescuerover/internal/config"
	"rescuerover/internal/model"
)

// EventFields is the loosely typed record every line format parses into.
// Empty strings mean "not present".
type EventFields struct {
	Type           string
	Timestamp      string
	RoverID        string
	Kind           string
	Value          string
	X              string
	Y              string
	Position       string
	Confidence     string
	Angle          string
	Battery        string
	Temperature    string
	Voltage        string
	Current        string
	State          string
	SurvivorsFound string
	Extras         map[string]string
	Raw            string
}

var aliases = map[string][]string{
	"type":            {"type", "event", "event_type", "record"},
	"timestamp":       {"timestamp", "time", "ts"},
	"rover_id":        {"rover_id", "rover", "roverid", "device", "unit"},
	"kind":            {"kind", "sensor", "sensor_type", "sensor_kind"},
	"value":           {"value", "reading", "val"},
	"x":               {"x", "pos_x"},
	"y":               {"y", "pos_y"},
	"position":        {"position", "pos", "coordinates", "coords"},
	"confidence":      {"confidence", "conf"},
	"angle":           {"angle", "bearing", "heading_deg"},
	"battery":         {"battery", "battery_level", "batt"},
	"temperature":     {"temperature", "temp"},
	"voltage":         {"voltage", "volts"},
	"current":         {"current", "amps"},
	"state":           {"state", "status"},
	"survivors_found": {"survivors_found", "survivors"},
}

// KnownField reports whether name is an alias of any recognised field.
func KnownField(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, names := range aliases {
		for _, n := range names {
			if n == name {
				return true
			}
		}
	}
	return false
}

// FromMap resolves aliases in a lower-cased key/value map.
func FromMap(kv map[string]string) *EventFields {
	get := func(field string) string {
		for _, k := range aliases[field] {
			if v := strings.TrimSpace(kv[k]); v != "" {
				return v
			}
		}
		return ""
	}
	fields := &EventFields{
		Type:           get("type"),
		Timestamp:      get("timestamp"),
		RoverID:        get("rover_id"),
		Kind:           get("kind"),
		Value:          get("value"),
		X:              get("x"),
		Y:              get("y"),
		Position:       get("position"),
		Confidence:     get("confidence"),
		Angle:          get("angle"),
		Battery:        get("battery"),
		Temperature:    get("temperature"),
		Voltage:        get("voltage"),
		Current:        get("current"),
		State:          get("state"),
		SurvivorsFound: get("survivors_found"),
		Extras:         make(map[string]string, len(kv)),
	}
	for k, v := range kv {
		fields.Extras[k] = v
	}
	return fields
}

// Normalize turns fields into a telemetry or sensor event. The kind comes
// from the type field, or is inferred from which fields are present.
func Normalize(fields EventFields, cfg *config.Config) (model.Event, error) {
	pc := cfg.Ingest.Parser
	rover := strings.TrimSpace(fields.RoverID)
	if rover == "" {
		rover = pc.DefaultRoverID
	}

	kind, err := eventKind(fields)
	if err != nil {
		return model.Event{}, err
	}

	loc := time.UTC
	if pc.Timezone != "" {
		if l, err := time.LoadLocation(pc.Timezone); err == nil {
			loc = l
		}
	}
	var ts float64
	if fields.Timestamp != "" {
		ts, err = ParseSeconds(fields.Timestamp, loc)
		if err != nil {
			return model.Event{}, fmt.Errorf("parse timestamp: %w", err)
		}
	}

	pos, err := parsePosition(fields)
	if err != nil {
		return model.Event{}, err
	}

	ev := model.Event{Kind: kind, RoverID: rover, Source: "log", Raw: fields.Raw}
	switch kind {
	case model.EventTelemetry:
		status, err := telemetry(fields, pc)
		if err != nil {
			return model.Event{}, err
		}
		if ts == 0 {
			ts = unixSeconds(time.Now())
		}
		status.Position = pos
		status.Timestamp = ts
		ev.Status = &status
	case model.EventSensor:
		reading, err := sensor(fields, pc)
		if err != nil {
			return model.Event{}, err
		}
		reading.Position = pos
		reading.Timestamp = ts
		ev.Reading = &reading
	}
	return ev, nil
}

func eventKind(fields EventFields) (model.EventKind, error) {
	switch strings.ToLower(strings.TrimSpace(fields.Type)) {
	case "telemetry", "status", "tick":
		return model.EventTelemetry, nil
	case "sensor", "reading", "detection":
		return model.EventSensor, nil
	case "":
	default:
		return "", fmt.Errorf("unknown event type %q", fields.Type)
	}
	switch {
	case fields.Kind != "":
		return model.EventSensor, nil
	case fields.Battery != "":
		return model.EventTelemetry, nil
	}
	return "", errors.New("record is neither telemetry nor a sensor reading")
}

func telemetry(fields EventFields, pc config.ParserConfig) (model.RoverStatus, error) {
	if fields.Battery == "" {
		return model.RoverStatus{}, errors.New("telemetry without battery level")
	}
	battery, err := parseFloat("battery", fields.Battery)
	if err != nil {
		return model.RoverStatus{}, err
	}
	status := model.RoverStatus{
		BatteryLevel: battery,
		Temperature:  pc.DefaultTemperature,
		Voltage:      pc.DefaultVoltage,
		Current:      pc.DefaultCurrent,
		State:        strings.TrimSpace(fields.State),
	}
	if status.Temperature, err = optionalFloat("temperature", fields.Temperature, status.Temperature); err != nil {
		return model.RoverStatus{}, err
	}
	if status.Voltage, err = optionalFloat("voltage", fields.Voltage, status.Voltage); err != nil {
		return model.RoverStatus{}, err
	}
	if status.Current, err = optionalFloat("current", fields.Current, status.Current); err != nil {
		return model.RoverStatus{}, err
	}
	if fields.SurvivorsFound != "" {
		n, err := strconv.Atoi(fields.SurvivorsFound)
		if err != nil {
			return model.RoverStatus{}, fmt.Errorf("parse survivors_found: %w", err)
		}
		status.SurvivorsFound = n
	}
	return status, nil
}

func sensor(fields EventFields, pc config.ParserConfig) (model.SensorReading, error) {
	kind, err := model.ParseSensorKind(fields.Kind)
	if err != nil {
		return model.SensorReading{}, err
	}
	if fields.Value == "" {
		return model.SensorReading{}, errors.New("sensor reading without value")
	}
	value, err := parseFloat("value", fields.Value)
	if err != nil {
		return model.SensorReading{}, err
	}
	conf, err := optionalFloat("confidence", fields.Confidence, pc.DefaultConfidence)
	if err != nil {
		return model.SensorReading{}, err
	}
	if conf < 0 || conf > 1 {
		return model.SensorReading{}, fmt.Errorf("confidence %v outside [0,1]", conf)
	}
	reading := model.SensorReading{Kind: kind, Value: value, Confidence: conf}
	if fields.Angle != "" {
		angle, err := parseFloat("angle", fields.Angle)
		if err != nil {
			return model.SensorReading{}, err
		}
		reading.Angle = &angle
	}
	return reading, nil
}

// parsePosition accepts separate x/y fields or a combined "[x y]", "x,y"
// or "x y" value.
func parsePosition(fields EventFields) (model.Point, error) {
	if fields.X != "" || fields.Y != "" {
		x, err := optionalFloat("x", fields.X, 0)
		if err != nil {
			return model.Point{}, err
		}
		y, err := optionalFloat("y", fields.Y, 0)
		if err != nil {
			return model.Point{}, err
		}
		return model.Point{x, y}, nil
	}
	if fields.Position == "" {
		return model.Point{}, nil
	}
	trimmed := strings.Trim(strings.TrimSpace(fields.Position), "[]()")
	parts := strings.FieldsFunc(trimmed, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })
	if len(parts) != 2 {
		return model.Point{}, fmt.Errorf("position %q is not a 2-D point", fields.Position)
	}
	x, err := parseFloat("position", parts[0])
	if err != nil {
		return model.Point{}, err
	}
	y, err := parseFloat("position", parts[1])
	if err != nil {
		return model.Point{}, err
	}
	return model.Point{x, y}, nil
}

func parseFloat(name, value string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}

func optionalFloat(name, value string, fallback float64) (float64, error) {
	if strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	return parseFloat(name, value)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"Jan 02 15:04:05",
	"Jan 2 15:04:05",
}

// ParseSeconds converts a timestamp to seconds on the mission clock.
// Decimal numbers are taken as seconds as-is; 13+ digit integers are unix
// milliseconds; anything else must be a calendar timestamp.
func ParseSeconds(value string, loc *time.Location) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if len(value) >= 13 && !strings.Contains(value, ".") {
			ms, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, err
			}
			return float64(ms) / 1000, nil
		}
		return strconv.ParseFloat(value, 64)
	}
	t, err := ParseTimestamp(value, loc)
	if err != nil {
		return 0, err
	}
	return unixSeconds(t), nil
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if layout == "Jan 02 15:04:05" || layout == "Jan 2 15:04:05" {
			if t, err := time.ParseInLocation(layout, value, loc); err == nil {
				now := time.Now().In(loc)
				return time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), nil
			}
			continue
		}
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func isNumeric(value string) bool {
	dot := false
	for i, ch := range value {
		switch {
		case ch >= '0' && ch <= '9':
		case ch == '.' && !dot:
			dot = true
		case ch == '-' && i == 0:
		default:
			return false
		}
	}
	return len(value) > 0
}
