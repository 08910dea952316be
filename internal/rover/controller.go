// Package rover implements the mission state machine that ties sensor
// fusion, power management and navigation together for a single rover.
package rover

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb/planar"

	"rescuerover/internal/config"
	"rescuerover/internal/fusion"
	"rescuerover/internal/model"
	"rescuerover/internal/navigation"
	"rescuerover/internal/power"
)

type State int

const (
	StateIdle State = iota
	StateSearching
	StateMovingToSurvivor
	StateDeliveringAid
	StateReturningToCharge
	StateRecharging
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateMovingToSurvivor:
		return "moving_to_survivor"
	case StateDeliveringAid:
		return "delivering_aid"
	case StateReturningToCharge:
		return "returning_to_charge"
	case StateRecharging:
		return "recharging"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func ParseState(value string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "idle":
		return StateIdle, nil
	case "searching":
		return StateSearching, nil
	case "moving_to_survivor":
		return StateMovingToSurvivor, nil
	case "delivering_aid":
		return StateDeliveringAid, nil
	case "returning_to_charge":
		return StateReturningToCharge, nil
	case "recharging":
		return StateRecharging, nil
	}
	return StateIdle, fmt.Errorf("unknown rover state %q", value)
}

// Transition describes a state change made by UpdateStatus or a mission
// command. Served is the detection marked served when aid delivery
// completed on this transition.
type Transition struct {
	From   State
	To     State
	Reason string
	Served string
}

// Config groups the sections a controller reads.
type Config struct {
	Fusion     config.FusionConfig
	Power      config.PowerConfig
	Navigation config.NavigationConfig
	Mission    config.MissionConfig
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Fusion:     cfg.Fusion,
		Power:      cfg.Power,
		Navigation: cfg.Navigation,
		Mission:    cfg.Mission,
	}
}

// Controller is the only writer of the mission state. It is not safe for
// concurrent use; callers serialize access per rover.
type Controller struct {
	cfg        Config
	fusion     *fusion.System
	power      *power.Manager
	navigation *navigation.Navigator
	state      State
	history    []model.RoverStatus

	aidTarget string
	aidTicks  int
	delivered int
}

func NewController(cfg Config) *Controller {
	if cfg.Mission.StatusHistoryAgeSec <= 0 {
		cfg.Mission.StatusHistoryAgeSec = 3600
	}
	if cfg.Mission.StationTolerance <= 0 {
		cfg.Mission.StationTolerance = 10
	}
	if cfg.Mission.AidDeliveryTicks <= 0 {
		cfg.Mission.AidDeliveryTicks = 1
	}
	c := &Controller{
		cfg:        cfg,
		fusion:     fusion.New(cfg.Fusion),
		power:      power.NewManager(cfg.Power),
		navigation: navigation.New(cfg.Navigation),
		state:      StateIdle,
	}
	if cfg.Mission.AutoStart {
		c.state = StateSearching
	}
	return c
}

// UpdateStatus records a telemetry tick, feeds power management and
// navigation, then evaluates the mission rules in priority order. At most
// one transition happens per call.
func (c *Controller) UpdateStatus(status model.RoverStatus) (Transition, bool) {
	c.history = append(c.history, status)
	c.pruneHistory(status.Timestamp)

	c.power.Update(model.PowerMetrics{
		BatteryLevel:     status.BatteryLevel,
		PowerConsumption: c.consumption(),
		Temperature:      status.Temperature,
		Voltage:          status.Voltage,
		Current:          status.Current,
		Timestamp:        status.Timestamp,
	})
	c.navigation.UpdatePosition(status.Position, c.direction(), status.Timestamp)

	if c.state == StateDeliveringAid {
		c.aidTicks++
	}
	return c.evaluate(status)
}

func (c *Controller) evaluate(status model.RoverStatus) (Transition, bool) {
	// rule 1 holds from every state and stops evaluation; heading home
	// again is not a transition
	if c.power.ShouldReturnToCharge() {
		if c.state == StateReturningToCharge {
			return Transition{}, false
		}
		return c.moveTo(StateReturningToCharge, "return_to_charge"), true
	}

	if c.state == StateReturningToCharge && c.atStation(status.Position) {
		c.power.MarkRecharging()
		return c.moveTo(StateRecharging, "at_charging_station"), true
	}

	if c.state == StateRecharging && status.BatteryLevel >= c.cfg.Power.RechargeStop {
		return c.moveTo(StateIdle, "recharged"), true
	}

	if c.state == StateSearching && len(c.fusion.PrioritySurvivors(0)) > 0 {
		return c.moveTo(StateMovingToSurvivor, "survivor_detected"), true
	}

	if c.state == StateDeliveringAid && c.aidTicks >= c.cfg.Mission.AidDeliveryTicks {
		served := c.aidTarget
		if served != "" && c.fusion.MarkServed(served) {
			c.delivered++
		}
		t := c.moveTo(StateSearching, "aid_delivered")
		t.Served = served
		return t, true
	}

	if c.state == StateMovingToSurvivor && c.cfg.Mission.ArrivalRadius > 0 {
		if top, ok := c.topSurvivor(); ok && planar.Distance(status.Position, top.Position) <= c.cfg.Mission.ArrivalRadius {
			t := c.moveTo(StateDeliveringAid, "arrived_at_survivor")
			c.aidTarget = top.ID
			return t, true
		}
	}
	return Transition{}, false
}

func (c *Controller) moveTo(next State, reason string) Transition {
	t := Transition{From: c.state, To: next, Reason: reason}
	c.state = next
	c.aidTarget = ""
	c.aidTicks = 0
	return t
}

func (c *Controller) pruneHistory(now float64) {
	kept := c.history[:0]
	for _, s := range c.history {
		if now-s.Timestamp <= c.cfg.Mission.StatusHistoryAgeSec {
			kept = append(kept, s)
		}
	}
	c.history = kept
}

func (c *Controller) consumption() float64 {
	moving := c.state == StateSearching || c.state == StateMovingToSurvivor || c.state == StateReturningToCharge
	sensing := c.state != StateIdle
	return c.power.Consumption(moving, sensing, true)
}

func (c *Controller) direction() navigation.Direction {
	if len(c.history) < 2 {
		return navigation.DirectionForward
	}
	cur := c.history[len(c.history)-1].Position
	prev := c.history[len(c.history)-2].Position
	dx := cur[0] - prev[0]
	dy := cur[1] - prev[1]
	if math.Abs(dx) > math.Abs(dy) {
		if dx > 0 {
			return navigation.DirectionRight
		}
		return navigation.DirectionLeft
	}
	if dy > 0 {
		return navigation.DirectionForward
	}
	return navigation.DirectionBackward
}

func (c *Controller) atStation(p model.Point) bool {
	station, ok := c.power.ChargingStation()
	if !ok {
		return false
	}
	tol := c.cfg.Mission.StationTolerance
	return math.Abs(p[0]-station[0]) < tol && math.Abs(p[1]-station[1]) < tol
}

func (c *Controller) topSurvivor() (fusion.Detection, bool) {
	survivors := c.fusion.PrioritySurvivors(1)
	if len(survivors) == 0 {
		return fusion.Detection{}, false
	}
	return survivors[0], true
}

// ProcessSensorData feeds a reading to fusion. Ranging readings that carry
// a bearing are also projected into the obstacle map. A zero timestamp is
// taken to mean "now" on the telemetry clock.
func (c *Controller) ProcessSensorData(r model.SensorReading) (fusion.Detection, bool, bool) {
	if r.Timestamp == 0 {
		if latest, ok := c.latest(); ok {
			r.Timestamp = latest.Timestamp
		}
	}
	if r.Kind == model.SensorUltrasonic && r.Angle != nil {
		c.navigation.ProcessUltrasonic(r.Value, *r.Angle)
	}
	return c.fusion.AddReading(r)
}

// NextAction dispatches on the current state. It never mutates mission
// state.
func (c *Controller) NextAction() model.Command {
	latest, ok := c.latest()
	if !ok {
		return model.Stop("")
	}
	switch c.state {
	case StateIdle:
		return model.Command{Command: model.CommandStartSearch}
	case StateSearching:
		return model.Command{Command: model.CommandSearchPattern}
	case StateMovingToSurvivor:
		top, ok := c.topSurvivor()
		if !ok {
			return model.Stop("")
		}
		return c.navigation.Commands(top.Position, latest.BatteryLevel)
	case StateDeliveringAid:
		return model.Command{Command: model.CommandDeliverAid}
	case StateReturningToCharge:
		station, ok := c.power.ChargingStationPath(latest.Position)
		if !ok {
			return model.Stop("")
		}
		return c.navigation.Commands(station, latest.BatteryLevel)
	case StateRecharging:
		return model.Command{Command: model.CommandRecharge}
	}
	return model.Stop("")
}

// StatusReport aggregates the latest telemetry with fusion and power
// summaries. ok is false until the first status update.
func (c *Controller) StatusReport() (model.StatusReport, bool) {
	latest, ok := c.latest()
	if !ok {
		return model.StatusReport{}, false
	}
	report := model.StatusReport{
		State:                c.state.String(),
		Position:             latest.Position,
		BatteryLevel:         latest.BatteryLevel,
		Temperature:          latest.Temperature,
		SurvivorsFound:       len(c.fusion.Detections(c.cfg.Fusion.MinConfidence)),
		PowerActions:         []string{},
		EstimatedBatteryLife: c.power.EstimateBatteryLife(c.consumption()),
		Timestamp:            latest.Timestamp,
	}
	if rec, ok := c.power.Recommendations(); ok {
		report.PowerState = rec.State
		report.PowerActions = rec.Actions
	}
	return report, true
}

// StartMission begins searching from Idle.
func (c *Controller) StartMission() (Transition, bool) {
	if c.state != StateIdle {
		return Transition{}, false
	}
	return c.moveTo(StateSearching, "mission_started"), true
}

// AbortMission returns the rover to Idle from any state.
func (c *Controller) AbortMission() (Transition, bool) {
	if c.state == StateIdle {
		return Transition{}, false
	}
	return c.moveTo(StateIdle, "mission_aborted"), true
}

func (c *Controller) SetChargingStation(p model.Point) {
	c.power.SetChargingStation(p)
}

func (c *Controller) ChargingStation() (model.Point, bool) {
	return c.power.ChargingStation()
}

func (c *Controller) State() State {
	return c.state
}

func (c *Controller) PowerState() power.State {
	return c.power.State()
}

func (c *Controller) Survivors(minConfidence float64) []fusion.Detection {
	return c.fusion.Detections(minConfidence)
}

func (c *Controller) PrioritySurvivors(maxCount int) []fusion.Detection {
	return c.fusion.PrioritySurvivors(maxCount)
}

func (c *Controller) Obstacles() []navigation.Obstacle {
	return c.navigation.Obstacles()
}

func (c *Controller) Delivered() int {
	return c.delivered
}

func (c *Controller) Latest() (model.RoverStatus, bool) {
	return c.latest()
}

func (c *Controller) History() []model.RoverStatus {
	return append([]model.RoverStatus(nil), c.history...)
}

func (c *Controller) latest() (model.RoverStatus, bool) {
	if len(c.history) == 0 {
		return model.RoverStatus{}, false
	}
	return c.history[len(c.history)-1], true
}
