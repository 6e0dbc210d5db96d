package app

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/roman-kulish/rem-builder/internal/rem"
)

// ErrNoData is returned when there are no measurements to render
var ErrNoData = errors.New("no measurements to render")

// ErrGridTooLarge is returned when the measured area does not fit maxGridCells
// cells of the requested size
var ErrGridTooLarge = errors.New("grid too large")

const maxGridCells = 1 << 22

// Aggregation selects how the measurements falling into one cell are combined
type Aggregation string

const (
	AggregateMax  Aggregation = "max"  // Strongest access point heard in the cell
	AggregateMean Aggregation = "mean" // Mean RSSI of every observation in the cell
)

// Cell accumulates the observations of one grid cell
type Cell struct {
	Max   int
	Sum   int
	Count int
}

// Value returns the cell RSSI for the given aggregation
func (c *Cell) Value(agg Aggregation) float64 {
	if agg == AggregateMean {
		return float64(c.Sum) / float64(c.Count)
	}
	return float64(c.Max)
}

// Grid is a horizontal projection of the measurements onto square cells.
// Row 0 is the northmost (largest Y) row, so the grid can be drawn top-down.
type Grid struct {
	CellSize                     float64 // meters
	MinX, MinY, MaxX, MaxY       float64
	Cols, Rows                   int
	Cells                        [][]*Cell // [row][col], nil where nothing was heard
	Measurements                 int
	Networks                     int
	Scans                        int
	TimestampStart, TimestampEnd time.Time
	Histogram                    *SignalHistogram
}

// NewGrid projects measurements onto a grid of cellSize meters
func NewGrid(measurements []rem.Measurement, cellSize float64) (*Grid, error) {
	if cellSize <= 0 || math.IsNaN(cellSize) {
		return nil, fmt.Errorf("invalid cell size: %v", cellSize)
	}
	if len(measurements) == 0 {
		return nil, ErrNoData
	}

	g := Grid{
		CellSize:  cellSize,
		MinX:      math.Inf(1),
		MinY:      math.Inf(1),
		MaxX:      math.Inf(-1),
		MaxY:      math.Inf(-1),
		Histogram: NewSignalHistogram(),
	}

	networks := make(map[string]struct{})
	scans := make(map[time.Time]struct{})

	for _, m := range measurements {
		g.MinX = min(g.MinX, m.X)
		g.MinY = min(g.MinY, m.Y)
		g.MaxX = max(g.MaxX, m.X)
		g.MaxY = max(g.MaxY, m.Y)

		if g.TimestampStart.IsZero() || m.Timestamp.Before(g.TimestampStart) {
			g.TimestampStart = m.Timestamp
		}
		if g.TimestampEnd.IsZero() || m.Timestamp.After(g.TimestampEnd) {
			g.TimestampEnd = m.Timestamp
		}

		networks[m.MAC] = struct{}{}
		scans[m.Timestamp] = struct{}{}
		g.Histogram.Update(m.RSSI)
	}

	cols := math.Floor((g.MaxX-g.MinX)/cellSize) + 1
	rows := math.Floor((g.MaxY-g.MinY)/cellSize) + 1
	// negated so that NaN and Inf extents are rejected too
	if !(cols*rows <= maxGridCells) {
		return nil, fmt.Errorf("%w: %v x %v cells of %v m, at most %d allowed", ErrGridTooLarge, cols, rows, cellSize, maxGridCells)
	}

	g.Cols = int(cols)
	g.Rows = int(rows)
	g.Measurements = len(measurements)
	g.Networks = len(networks)
	g.Scans = len(scans)

	g.Cells = make([][]*Cell, g.Rows)
	for i := range g.Cells {
		g.Cells[i] = make([]*Cell, g.Cols)
	}

	for _, m := range measurements {
		row, col := g.index(m.X, m.Y)

		c := g.Cells[row][col]
		if c == nil {
			c = &Cell{Max: m.RSSI}
			g.Cells[row][col] = c
		}

		c.Max = max(c.Max, m.RSSI)
		c.Sum += m.RSSI
		c.Count++
	}

	return &g, nil
}

func (g *Grid) index(x, y float64) (row, col int) {
	col = int(math.Floor((x - g.MinX) / g.CellSize))
	row = g.Rows - 1 - int(math.Floor((y-g.MinY)/g.CellSize))

	col = max(0, min(col, g.Cols-1))
	row = max(0, min(row, g.Rows-1))
	return row, col
}

// Cell returns the cell covering the given position, nil when the cell is empty
func (g *Grid) Cell(x, y float64) *Cell {
	row, col := g.index(x, y)
	return g.Cells[row][col]
}

// Filter narrows down measurements read from a result file
type Filter struct {
	SSID    *string
	MinRSSI *int
	Start   *time.Time
	End     *time.Time
}

// Apply returns the measurements matching every set criterion
func (f Filter) Apply(measurements []rem.Measurement) []rem.Measurement {
	out := make([]rem.Measurement, 0, len(measurements))
	for _, m := range measurements {
		if f.SSID != nil && m.SSID != *f.SSID {
			continue
		}
		if f.MinRSSI != nil && m.RSSI < *f.MinRSSI {
			continue
		}
		if f.Start != nil && m.Timestamp.Before(*f.Start) {
			continue
		}
		if f.End != nil && m.Timestamp.After(*f.End) {
			continue
		}
		out = append(out, m)
	}
	return out
}
