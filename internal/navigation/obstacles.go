package navigation

import (
	"math"

	lru "github.com/hashicorp/golang-lru/v2"

	"rescuerover/internal/model"
)

// GridCell is an obstacle position rounded to whole map units.
type GridCell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func cellOf(p model.Point) GridCell {
	return GridCell{X: int(math.RoundToEven(p[0])), Y: int(math.RoundToEven(p[1]))}
}

func (c GridCell) Point() model.Point {
	return model.Point{float64(c.X), float64(c.Y)}
}

type Obstacle struct {
	Cell     GridCell `json:"cell"`
	Distance float64  `json:"distance"`
}

// obstacleMap records the nearest observed range per cell. Capacity is
// bounded; the least recently written cell is evicted first.
type obstacleMap struct {
	cells *lru.Cache[GridCell, float64]
}

func newObstacleMap(capacity int) *obstacleMap {
	if capacity <= 0 {
		capacity = 4096
	}
	cells, err := lru.New[GridCell, float64](capacity)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &obstacleMap{cells: cells}
}

func (m *obstacleMap) Record(p model.Point, distance float64) GridCell {
	cell := cellOf(p)
	m.cells.Add(cell, distance)
	return cell
}

// Clear reports whether every recorded cell is strictly farther than
// minDistance from p.
func (m *obstacleMap) Clear(p model.Point, minDistance float64) bool {
	for _, cell := range m.cells.Keys() {
		c := cell.Point()
		if math.Hypot(p[0]-c[0], p[1]-c[1]) <= minDistance {
			return false
		}
	}
	return true
}

func (m *obstacleMap) Len() int {
	return m.cells.Len()
}

func (m *obstacleMap) Snapshot() []Obstacle {
	keys := m.cells.Keys()
	out := make([]Obstacle, 0, len(keys))
	for _, k := range keys {
		if d, ok := m.cells.Peek(k); ok {
			out = append(out, Obstacle{Cell: k, Distance: d})
		}
	}
	return out
}
