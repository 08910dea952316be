// Package navigation keeps the rover pose and a local obstacle map and
// synthesizes zigzag paths toward a target.
package navigation

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb/planar"

	"rescuerover/internal/config"
	"rescuerover/internal/model"
)

type Direction string

const (
	DirectionForward  Direction = "forward"
	DirectionBackward Direction = "backward"
	DirectionLeft     Direction = "left"
	DirectionRight    Direction = "right"
)

func ParseDirection(value string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(value))); d {
	case DirectionForward, DirectionBackward, DirectionLeft, DirectionRight:
		return d, nil
	}
	return DirectionForward, fmt.Errorf("unknown direction %q", value)
}

// probeAngles are tried in order around an unsafe waypoint.
var probeAngles = []float64{45, 90, 135, 180, 225, 270, 315}

var probeRadii = []float64{1.2, 1.5}

type ObstacleDetection struct {
	Detected bool        `json:"obstacle_detected"`
	Distance float64     `json:"distance,omitempty"`
	Angle    float64     `json:"angle,omitempty"`
	Position model.Point `json:"position"`
}

// Navigator is not safe for concurrent use. Time is the caller's logical
// clock in seconds.
type Navigator struct {
	cfg          config.NavigationConfig
	position     model.Point
	direction    Direction
	history      []model.Point
	obstacles    *obstacleMap
	patternAngle float64
	lastTurn     float64
}

func New(cfg config.NavigationConfig) *Navigator {
	if cfg.CurvePoints < 2 {
		cfg.CurvePoints = 5
	}
	if cfg.PathHistoryLimit <= 0 {
		cfg.PathHistoryLimit = 1000
	}
	return &Navigator{
		cfg:       cfg,
		direction: DirectionForward,
		obstacles: newObstacleMap(cfg.ObstacleCapacity),
	}
}

// ProcessUltrasonic projects a close range return from the current pose at
// angleDeg and records it in the obstacle map.
func (n *Navigator) ProcessUltrasonic(distance, angleDeg float64) ObstacleDetection {
	if distance >= n.cfg.ObstacleThreshold {
		return ObstacleDetection{Detected: false}
	}
	rad := angleDeg * math.Pi / 180
	pos := model.Point{
		n.position[0] + distance*math.Cos(rad),
		n.position[1] + distance*math.Sin(rad),
	}
	n.obstacles.Record(pos, distance)
	return ObstacleDetection{
		Detected: true,
		Distance: distance,
		Angle:    angleDeg,
		Position: pos,
	}
}

// AddObstacle records a known obstacle position directly, e.g. from a
// pre-surveyed map.
func (n *Navigator) AddObstacle(p model.Point, distance float64) {
	n.obstacles.Record(p, distance)
}

// OptimizePath walks the straight line to target in equal segments and
// offsets each segment end alternately to either side by the pattern
// width. Unsafe offsets are replaced by the first safe probe around them or
// dropped. Consecutive segments are joined by Bezier points.
func (n *Navigator) OptimizePath(target model.Point, batteryLevel float64) model.Path {
	start := n.position
	dx := target[0] - start[0]
	dy := target[1] - start[1]
	distance := math.Hypot(dx, dy)

	segmentLength := n.cfg.SegmentLength
	if batteryLevel < n.cfg.LowBatteryLevel {
		segmentLength = n.cfg.LowBatterySegmentLength
	}
	segments := 1
	if segmentLength > 0 {
		segments = max(1, int(distance/segmentLength))
	}
	stepX := dx / float64(segments)
	stepY := dy / float64(segments)

	path := make(model.Path, 0, segments*(n.cfg.CurvePoints+1))
	for i := 0; i < segments; i++ {
		base := model.Point{start[0] + stepX*float64(i+1), start[1] + stepY*float64(i+1)}
		offset := n.patternAngle + 90
		if i%2 == 1 {
			offset = n.patternAngle - 90
		}
		rad := offset * math.Pi / 180
		zig := model.Point{
			base[0] + n.cfg.PatternWidth*math.Cos(rad),
			base[1] + n.cfg.PatternWidth*math.Sin(rad),
		}

		if n.IsSafe(zig) {
			path = append(path, zig)
		} else if alt, ok := n.safeAlternative(zig); ok {
			path = append(path, alt)
		}

		if i < segments-1 {
			next := model.Point{start[0] + stepX*float64(i+2), start[1] + stepY*float64(i+2)}
			path = append(path, n.curve(zig, next)...)
		}
	}
	return path
}

// curve samples a quadratic Bezier from a to b whose control point is
// their midpoint.
func (n *Navigator) curve(a, b model.Point) []model.Point {
	count := n.cfg.CurvePoints
	ctrl := model.Point{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2}
	out := make([]model.Point, 0, count)
	for i := 0; i < count; i++ {
		t := float64(i) / float64(count-1)
		u := 1 - t
		out = append(out, model.Point{
			u*u*a[0] + 2*u*t*ctrl[0] + t*t*b[0],
			u*u*a[1] + 2*u*t*ctrl[1] + t*t*b[1],
		})
	}
	return out
}

// IsSafe reports whether p is farther than the safe distance from every
// mapped obstacle.
func (n *Navigator) IsSafe(p model.Point) bool {
	return n.obstacles.Clear(p, n.cfg.SafeDistance)
}

func (n *Navigator) safeAlternative(p model.Point) (model.Point, bool) {
	for _, scale := range probeRadii {
		r := n.cfg.SafeDistance * scale
		for _, deg := range probeAngles {
			rad := deg * math.Pi / 180
			candidate := model.Point{p[0] + r*math.Cos(rad), p[1] + r*math.Sin(rad)}
			if n.IsSafe(candidate) {
				return candidate, true
			}
		}
	}
	return model.Point{}, false
}

// Commands plans a path to target and returns a move toward its first
// waypoint, or a stop when no safe waypoint exists.
func (n *Navigator) Commands(target model.Point, batteryLevel float64) model.Command {
	path := n.OptimizePath(target, batteryLevel)
	if len(path) == 0 {
		return model.Stop("no_safe_path")
	}
	next := path[0]
	return model.Command{
		Command:  model.CommandMove,
		Angle:    math.Atan2(next[1]-n.position[1], next[0]-n.position[0]) * 180 / math.Pi,
		Distance: planar.Distance(n.position, next),
		Path:     path,
	}
}

// UpdatePosition records a new pose. The zigzag pattern rotates by one
// turn step whenever more than the turn interval has passed since the last
// rotation.
func (n *Navigator) UpdatePosition(p model.Point, direction Direction, now float64) {
	n.position = p
	n.direction = direction
	n.history = append(n.history, p)
	if over := len(n.history) - n.cfg.PathHistoryLimit; over > 0 {
		n.history = append(n.history[:0], n.history[over:]...)
	}
	if now-n.lastTurn > n.cfg.TurnIntervalSec {
		n.patternAngle = math.Mod(n.patternAngle+n.cfg.TurnStepDeg, 360)
		n.lastTurn = now
	}
}

func (n *Navigator) Position() model.Point {
	return n.position
}

func (n *Navigator) Direction() Direction {
	return n.direction
}

func (n *Navigator) PatternAngle() float64 {
	return n.patternAngle
}

func (n *Navigator) Obstacles() []Obstacle {
	return n.obstacles.Snapshot()
}

func (n *Navigator) ObstacleCount() int {
	return n.obstacles.Len()
}

func (n *Navigator) PathHistory() []model.Point {
	return append([]model.Point(nil), n.history...)
}
