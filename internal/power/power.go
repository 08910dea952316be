// Package power tracks battery and thermal telemetry and derives the
// rover's discrete power state.
package power

import (
	"fmt"
	"math"
	"strings"

	"rescuerover/internal/config"
	"rescuerover/internal/model"
)

type State int

const (
	StateNormal State = iota
	StateLowPower
	StateCritical
	StateRecharging
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateLowPower:
		return "low_power"
	case StateCritical:
		return "critical"
	case StateRecharging:
		return "recharging"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func ParseState(value string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "normal":
		return StateNormal, nil
	case "low_power":
		return StateLowPower, nil
	case "critical":
		return StateCritical, nil
	case "recharging":
		return StateRecharging, nil
	}
	return StateNormal, fmt.Errorf("unknown power state %q", value)
}

var (
	criticalActions = []string{
		"Stop all non-essential operations",
		"Return to charging station",
		"Reduce sensor sampling rate",
		"Minimize communication",
	}
	lowPowerActions = []string{
		"Reduce movement speed",
		"Optimize sensor usage",
		"Limit communication frequency",
		"Monitor temperature",
	}
)

type Recommendations struct {
	State        string   `json:"state"`
	BatteryLevel float64  `json:"battery_level"`
	Temperature  float64  `json:"temperature"`
	Actions      []string `json:"actions"`
}

// Manager keeps metrics no older than MaxHistoryAgeSec relative to the most
// recent one. It is not safe for concurrent use.
type Manager struct {
	cfg        config.PowerConfig
	state      State
	history    []model.PowerMetrics
	station    model.Point
	hasStation bool
}

func NewManager(cfg config.PowerConfig) *Manager {
	m := &Manager{cfg: cfg, state: StateNormal}
	if cfg.ChargingStation != nil {
		m.SetChargingStation(model.Point(*cfg.ChargingStation))
	}
	return m
}

// Update records metrics and recomputes the state from them alone; the
// previous state only matters when leaving Recharging or when the battery
// sits between the low-power and recharge-stop thresholds.
func (m *Manager) Update(metrics model.PowerMetrics) {
	m.history = append(m.history, metrics)
	m.prune(metrics.Timestamp)
	m.state = m.derive(metrics)
}

func (m *Manager) derive(metrics model.PowerMetrics) State {
	next := m.state
	battery := metrics.BatteryLevel
	switch {
	case battery <= m.cfg.CommsLoss:
		next = StateCritical
	case battery <= m.cfg.RechargeStart:
		next = StateCritical
	case battery <= m.cfg.LowPower:
		next = StateLowPower
	case battery >= m.cfg.RechargeStop:
		next = StateNormal
	case m.state == StateRecharging:
		next = StateNormal
	}

	// temperature escalates only
	if metrics.Temperature >= m.cfg.TempCritical {
		next = StateCritical
	} else if metrics.Temperature >= m.cfg.TempWarning && next != StateCritical {
		next = StateLowPower
	}
	return next
}

func (m *Manager) prune(now float64) {
	if m.cfg.MaxHistoryAgeSec <= 0 {
		return
	}
	kept := m.history[:0]
	for _, h := range m.history {
		if now-h.Timestamp <= m.cfg.MaxHistoryAgeSec {
			kept = append(kept, h)
		}
	}
	m.history = kept
}

// Consumption returns the instantaneous draw in watts for the given
// activity flags, scaled down in the reduced power states.
func (m *Manager) Consumption(isMoving, sensorActive, commActive bool) float64 {
	consumption := m.cfg.BaseConsumption
	if isMoving {
		consumption += m.cfg.MovementConsumption
	}
	if sensorActive {
		consumption += m.cfg.SensorConsumption
	}
	if commActive {
		consumption += m.cfg.CommunicationConsumption
	}
	switch m.state {
	case StateLowPower:
		consumption *= m.cfg.LowPowerScale
	case StateCritical:
		consumption *= m.cfg.CriticalScale
	}
	return consumption
}

// EstimateBatteryLife returns the remaining runtime in seconds at the given
// draw. It is zero without history and +Inf for a non-positive draw.
func (m *Manager) EstimateBatteryLife(consumption float64) float64 {
	latest, ok := m.Latest()
	if !ok {
		return 0
	}
	if consumption <= 0 {
		return math.Inf(1)
	}
	return (latest.BatteryLevel / 100.0) * (latest.Voltage * latest.Current) / consumption
}

func (m *Manager) ShouldReturnToCharge() bool {
	latest, ok := m.Latest()
	if !ok {
		return false
	}
	return latest.BatteryLevel <= m.cfg.RechargeStart || latest.Temperature >= m.cfg.TempWarning
}

// ChargingStationPath returns the station location when one is configured
// and the rover needs to head there.
func (m *Manager) ChargingStationPath(_ model.Point) (model.Point, bool) {
	if !m.hasStation || !m.ShouldReturnToCharge() {
		return model.Point{}, false
	}
	return m.station, true
}

func (m *Manager) SetChargingStation(p model.Point) {
	m.station = p
	m.hasStation = true
}

func (m *Manager) ChargingStation() (model.Point, bool) {
	return m.station, m.hasStation
}

// MarkRecharging flags the rover as docked. The next Update resolves the
// state from fresh metrics.
func (m *Manager) MarkRecharging() {
	m.state = StateRecharging
}

func (m *Manager) State() State {
	return m.state
}

func (m *Manager) Latest() (model.PowerMetrics, bool) {
	if len(m.history) == 0 {
		return model.PowerMetrics{}, false
	}
	return m.history[len(m.history)-1], true
}

func (m *Manager) History() []model.PowerMetrics {
	return append([]model.PowerMetrics(nil), m.history...)
}

// Recommendations summarizes the power state with the operator actions for
// it. ok is false until metrics have been received.
func (m *Manager) Recommendations() (Recommendations, bool) {
	latest, ok := m.Latest()
	if !ok {
		return Recommendations{}, false
	}
	rec := Recommendations{
		State:        m.state.String(),
		BatteryLevel: latest.BatteryLevel,
		Temperature:  latest.Temperature,
		Actions:      []string{},
	}
	switch m.state {
	case StateCritical:
		rec.Actions = append(rec.Actions, criticalActions...)
	case StateLowPower:
		rec.Actions = append(rec.Actions, lowPowerActions...)
	}
	return rec, true
}
