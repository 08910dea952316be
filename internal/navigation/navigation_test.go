package navigation

import (
	"math"
	"testing"

	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rescuerover/internal/config"
	"rescuerover/internal/model"
)

func newNavigator() *Navigator {
	return New(config.DefaultNavigationConfig())
}

func TestZigzagSegmentCount(t *testing.T) {
	n := newNavigator()
	path := n.OptimizePath(model.Point{1000, 0}, 50)
	// 10 zig points plus 5 curve points between each pair
	assert.Len(t, path, 10+9*5)

	path = n.OptimizePath(model.Point{1000, 0}, 10)
	assert.Len(t, path, 20+19*5)
}

func TestZeroDistancePath(t *testing.T) {
	n := newNavigator()
	path := n.OptimizePath(model.Point{0, 0}, 50)
	require.Len(t, path, 1)
	assert.InDelta(t, 0, path[0][0], 1e-9)
	assert.InDelta(t, 200, path[0][1], 1e-9)
}

func TestZigzagAlternatesAndCurves(t *testing.T) {
	n := newNavigator()
	path := n.OptimizePath(model.Point{1000, 0}, 50)
	assert.InDelta(t, 100, path[0][0], 1e-9)
	assert.InDelta(t, 200, path[0][1], 1e-9)
	// curve runs from the zig point to the next segment base
	assert.InDelta(t, 100, path[1][0], 1e-9)
	assert.InDelta(t, 200, path[1][1], 1e-9)
	assert.InDelta(t, 200, path[5][0], 1e-9)
	assert.InDelta(t, 0, path[5][1], 1e-9)
	// second segment zags to the other side
	assert.InDelta(t, 200, path[6][0], 1e-9)
	assert.InDelta(t, -200, path[6][1], 1e-9)
}

func TestUnsafeWaypointReplaced(t *testing.T) {
	n := newNavigator()
	obstacle := model.Point{100, 200}
	n.AddObstacle(obstacle, 10)

	path := n.OptimizePath(model.Point{1000, 0}, 50)
	require.Len(t, path, 10+9*5)
	want := model.Point{100 + 120*math.Cos(math.Pi/4), 200 + 120*math.Sin(math.Pi/4)}
	assert.InDelta(t, want[0], path[0][0], 1e-9)
	assert.InDelta(t, want[1], path[0][1], 1e-9)

	for i := 0; i < 10; i++ {
		p := path[i*6]
		for _, o := range n.Obstacles() {
			assert.Greater(t, planar.Distance(p, o.Cell.Point()), 100.0, "waypoint %d", i)
		}
	}
}

func TestNoSafePath(t *testing.T) {
	n := newNavigator()
	for x := -300.0; x <= 300; x += 50 {
		for y := -100.0; y <= 500; y += 50 {
			n.AddObstacle(model.Point{x, y}, 10)
		}
	}
	assert.Empty(t, n.OptimizePath(model.Point{0, 0}, 50))

	cmd := n.Commands(model.Point{0, 0}, 50)
	assert.Equal(t, model.CommandStop, cmd.Command)
	assert.Equal(t, "no_safe_path", cmd.Reason)
}

func TestMoveCommand(t *testing.T) {
	n := newNavigator()
	cmd := n.Commands(model.Point{1000, 0}, 50)
	require.Equal(t, model.CommandMove, cmd.Command)
	assert.InDelta(t, math.Atan2(200, 100)*180/math.Pi, cmd.Angle, 1e-9)
	assert.InDelta(t, math.Hypot(100, 200), cmd.Distance, 1e-9)
	assert.Len(t, cmd.Path, 55)
}

func TestProcessUltrasonic(t *testing.T) {
	n := newNavigator()
	n.UpdatePosition(model.Point{10, 10}, DirectionForward, 0)

	det := n.ProcessUltrasonic(30, 90)
	require.True(t, det.Detected)
	assert.InDelta(t, 10, det.Position[0], 1e-9)
	assert.InDelta(t, 40, det.Position[1], 1e-9)
	require.Len(t, n.Obstacles(), 1)
	assert.Equal(t, GridCell{X: 10, Y: 40}, n.Obstacles()[0].Cell)

	assert.False(t, n.ProcessUltrasonic(60, 0).Detected)
	assert.Equal(t, 1, n.ObstacleCount())
}

func TestObstacleMapBounded(t *testing.T) {
	cfg := config.DefaultNavigationConfig()
	cfg.ObstacleCapacity = 2
	n := New(cfg)
	n.AddObstacle(model.Point{0, 0}, 1)
	n.AddObstacle(model.Point{10, 0}, 1)
	n.AddObstacle(model.Point{20, 0}, 1)

	obs := n.Obstacles()
	require.Len(t, obs, 2)
	for _, o := range obs {
		assert.NotEqual(t, GridCell{X: 0, Y: 0}, o.Cell)
	}
}

func TestPatternAngleUsesLogicalClock(t *testing.T) {
	n := newNavigator()
	n.UpdatePosition(model.Point{0, 0}, DirectionForward, 1)
	assert.Equal(t, 0.0, n.PatternAngle())
	n.UpdatePosition(model.Point{0, 1}, DirectionForward, 6)
	assert.Equal(t, 45.0, n.PatternAngle())
	n.UpdatePosition(model.Point{0, 2}, DirectionForward, 10)
	assert.Equal(t, 45.0, n.PatternAngle())
	n.UpdatePosition(model.Point{0, 3}, DirectionForward, 11.5)
	assert.Equal(t, 90.0, n.PatternAngle())
	assert.Len(t, n.PathHistory(), 4)
}

func TestPathHistoryBounded(t *testing.T) {
	cfg := config.DefaultNavigationConfig()
	cfg.PathHistoryLimit = 3
	n := New(cfg)
	for i := 0; i < 5; i++ {
		n.UpdatePosition(model.Point{float64(i), 0}, DirectionRight, float64(i))
	}
	h := n.PathHistory()
	require.Len(t, h, 3)
	assert.Equal(t, model.Point{2, 0}, h[0])
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection(" Left ")
	require.NoError(t, err)
	assert.Equal(t, DirectionLeft, d)
	_, err = ParseDirection("up")
	assert.Error(t, err)
}
