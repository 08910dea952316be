package power

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rescuerover/internal/config"
	"rescuerover/internal/model"
)

func metrics(battery, temp, ts float64) model.PowerMetrics {
	return model.PowerMetrics{
		BatteryLevel: battery,
		Temperature:  temp,
		Voltage:      12,
		Current:      2,
		Timestamp:    ts,
	}
}

func TestStateSequenceOnDischarge(t *testing.T) {
	m := NewManager(config.DefaultPowerConfig())
	want := []State{StateNormal, StateLowPower, StateCritical, StateCritical}
	for i, battery := range []float64{50, 20, 10, 5} {
		m.Update(metrics(battery, 20, float64(i)))
		assert.Equal(t, want[i], m.State(), "battery %v", battery)
	}
}

func TestMidBandKeepsPreviousState(t *testing.T) {
	m := NewManager(config.DefaultPowerConfig())
	m.Update(metrics(15, 20, 0))
	require.Equal(t, StateLowPower, m.State())
	m.Update(metrics(50, 20, 1))
	assert.Equal(t, StateLowPower, m.State())
	m.Update(metrics(85, 20, 2))
	assert.Equal(t, StateNormal, m.State())
}

func TestRechargingResolvesToNormal(t *testing.T) {
	m := NewManager(config.DefaultPowerConfig())
	m.MarkRecharging()
	m.Update(metrics(50, 20, 0))
	assert.Equal(t, StateNormal, m.State())
}

func TestTemperatureEscalation(t *testing.T) {
	m := NewManager(config.DefaultPowerConfig())
	m.Update(metrics(90, 50, 0))
	assert.Equal(t, StateLowPower, m.State())
	m.Update(metrics(90, 65, 1))
	assert.Equal(t, StateCritical, m.State())

	m = NewManager(config.DefaultPowerConfig())
	m.Update(metrics(8, 50, 0))
	assert.Equal(t, StateCritical, m.State(), "warning temperature never downgrades critical")
}

func TestConsumption(t *testing.T) {
	m := NewManager(config.DefaultPowerConfig())
	assert.Equal(t, 50.0, m.Consumption(true, true, true))
	assert.Equal(t, 10.0, m.Consumption(false, false, false))

	m.Update(metrics(15, 20, 0))
	assert.InDelta(t, 35.0, m.Consumption(true, true, true), 1e-9)
	m.Update(metrics(4, 20, 1))
	assert.InDelta(t, 25.0, m.Consumption(true, true, true), 1e-9)
}

func TestCriticalBatteryScenario(t *testing.T) {
	m := NewManager(config.DefaultPowerConfig())
	assert.Equal(t, 0.0, m.EstimateBatteryLife(10))
	assert.False(t, m.ShouldReturnToCharge())

	m.Update(metrics(4, 20, 0))
	assert.True(t, m.ShouldReturnToCharge())
	assert.Equal(t, StateCritical, m.State())
	assert.InDelta(t, (4.0/100)*(12*2)/25.0, m.EstimateBatteryLife(25), 1e-12)
	assert.True(t, math.IsInf(m.EstimateBatteryLife(0), 1))
}

func TestShouldReturnOnHeat(t *testing.T) {
	m := NewManager(config.DefaultPowerConfig())
	m.Update(metrics(90, 45, 0))
	assert.True(t, m.ShouldReturnToCharge())
}

func TestChargingStationPath(t *testing.T) {
	m := NewManager(config.DefaultPowerConfig())
	m.Update(metrics(4, 20, 0))
	_, ok := m.ChargingStationPath(model.Point{})
	assert.False(t, ok, "no station configured")

	m.SetChargingStation(model.Point{5, 5})
	p, ok := m.ChargingStationPath(model.Point{})
	require.True(t, ok)
	assert.Equal(t, model.Point{5, 5}, p)

	m.Update(metrics(60, 20, 1))
	_, ok = m.ChargingStationPath(model.Point{})
	assert.False(t, ok, "no need to charge")
}

func TestStationFromConfig(t *testing.T) {
	cfg := config.DefaultPowerConfig()
	cfg.ChargingStation = &[2]float64{-10, 40}
	m := NewManager(cfg)
	p, ok := m.ChargingStation()
	require.True(t, ok)
	assert.Equal(t, model.Point{-10, 40}, p)
}

func TestHistoryPruning(t *testing.T) {
	m := NewManager(config.DefaultPowerConfig())
	m.Update(metrics(90, 20, 0))
	m.Update(metrics(89, 20, 3600))
	assert.Len(t, m.History(), 2)
	m.Update(metrics(88, 20, 3600.5))
	assert.Len(t, m.History(), 2)
}

func TestRecommendations(t *testing.T) {
	m := NewManager(config.DefaultPowerConfig())
	_, ok := m.Recommendations()
	assert.False(t, ok)

	m.Update(metrics(90, 20, 0))
	rec, ok := m.Recommendations()
	require.True(t, ok)
	assert.Equal(t, "normal", rec.State)
	assert.Empty(t, rec.Actions)

	m.Update(metrics(4, 20, 1))
	rec, _ = m.Recommendations()
	assert.Equal(t, "critical", rec.State)
	assert.Contains(t, rec.Actions, "Return to charging station")
}

func TestParseState(t *testing.T) {
	for _, s := range []State{StateNormal, StateLowPower, StateCritical, StateRecharging} {
		got, err := ParseState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseState("overdrive")
	assert.Error(t, err)
}
