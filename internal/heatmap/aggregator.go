package heatmap

import (
	"math"
	"sort"

	"github.com/gosight/gosight/signals/internal/config"
	"github.com/gosight/gosight/signals/internal/models"
)

type Falloff string

const (
	FalloffLinear   Falloff = "linear"
	FalloffGaussian Falloff = "gaussian"
)

// RawPoint is an interaction position in the viewport it was recorded in.
// A zero viewport means the origin size is unknown.
type RawPoint struct {
	X              float64
	Y              float64
	ViewportWidth  int
	ViewportHeight int
}

// Point is one non-empty grid cell: its centre in canonical space and its
// intensity normalized to [0,1].
type Point struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Value float64 `json:"value"`
}

type Field struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	CellSize int     `json:"cell_size"`
	Points   []Point `json:"points"`
	Max      float64 `json:"max"`
	Total    int     `json:"total"`
	Skipped  int     `json:"skipped"`
}

// Aggregator maps points from heterogeneous viewports onto one canonical
// space and splats them into an additive intensity grid.
type Aggregator struct {
	TargetWidth     int
	TargetHeight    int
	DefaultViewport models.Viewport
	// Upper bound for targets taken from recorded pages.
	MaxWidth        int
	MaxHeight       int
	CellSize        int
	Radius          float64
	Falloff         Falloff
}

func NewAggregator(cfg config.HeatmapConfig) *Aggregator {
	a := &Aggregator{
		TargetWidth:     cfg.TargetWidth,
		TargetHeight:    cfg.TargetHeight,
		DefaultViewport: models.Viewport{Width: cfg.DefaultViewportWidth, Height: cfg.DefaultViewportHeight},
		MaxWidth:        cfg.MaxTargetWidth,
		MaxHeight:       cfg.MaxTargetHeight,
		CellSize:        cfg.CellSize,
		Radius:          cfg.Radius,
		Falloff:         Falloff(cfg.Falloff),
	}
	if a.TargetWidth <= 0 || a.TargetHeight <= 0 {
		a.TargetWidth, a.TargetHeight = 1280, 768
	}
	if a.DefaultViewport.Width <= 0 || a.DefaultViewport.Height <= 0 {
		a.DefaultViewport = models.Viewport{Width: 1280, Height: 768}
	}
	if a.MaxWidth <= 0 || a.MaxHeight <= 0 {
		a.MaxWidth, a.MaxHeight = 3840, 16384
	}
	if a.CellSize <= 0 {
		a.CellSize = 8
	}
	return a
}

// Fits reports whether a w×h canonical space is positive and within the
// configured maximum.
func (a *Aggregator) Fits(w, h int) bool {
	return w > 0 && h > 0 && w <= a.MaxWidth && h <= a.MaxHeight
}

// WithTarget returns a copy of the aggregator drawing into a w×h space.
// A space that does not fit leaves the current target in place.
func (a *Aggregator) WithTarget(w, h int) *Aggregator {
	c := *a
	if a.Fits(w, h) {
		c.TargetWidth, c.TargetHeight = w, h
	}
	return &c
}

// Normalize maps a point into canonical coordinates.
func (a *Aggregator) Normalize(p RawPoint) (float64, float64) {
	vw, vh := p.ViewportWidth, p.ViewportHeight
	if vw <= 0 || vh <= 0 {
		vw, vh = a.DefaultViewport.Width, a.DefaultViewport.Height
	}
	scaleX := float64(a.TargetWidth) / float64(vw)
	scaleY := float64(a.TargetHeight) / float64(vh)
	return p.X * scaleX, p.Y * scaleY
}

// Aggregate builds the intensity field. Points that fall outside the
// canonical space after scaling, or are not finite, are skipped.
func (a *Aggregator) Aggregate(points []RawPoint) Field {
	cols := int(math.Ceil(float64(a.TargetWidth) / float64(a.CellSize)))
	rows := int(math.Ceil(float64(a.TargetHeight) / float64(a.CellSize)))
	grid := make([]float64, cols*rows)

	field := Field{Width: a.TargetWidth, Height: a.TargetHeight, CellSize: a.CellSize}
	for _, p := range points {
		x, y := a.Normalize(p)
		if !finite(x) || !finite(y) || x < 0 || y < 0 || x > float64(a.TargetWidth) || y > float64(a.TargetHeight) {
			field.Skipped++
			continue
		}
		a.splat(grid, cols, rows, x, y)
		field.Total++
	}

	for _, v := range grid {
		if v > field.Max {
			field.Max = v
		}
	}
	if field.Max == 0 {
		return field
	}

	half := float64(a.CellSize) / 2
	for i, v := range grid {
		if v == 0 {
			continue
		}
		field.Points = append(field.Points, Point{
			X:     float64((i%cols)*a.CellSize) + half,
			Y:     float64((i/cols)*a.CellSize) + half,
			Value: v / field.Max,
		})
	}
	sort.SliceStable(field.Points, func(i, j int) bool {
		if field.Points[i].Y != field.Points[j].Y {
			return field.Points[i].Y < field.Points[j].Y
		}
		return field.Points[i].X < field.Points[j].X
	})
	return field
}

// splat adds a radial contribution centred on (x, y). The cell holding the
// point always receives full weight.
func (a *Aggregator) splat(grid []float64, cols, rows int, x, y float64) {
	cell := float64(a.CellSize)
	pc := clamp(int(x/cell), cols-1)
	pr := clamp(int(y/cell), rows-1)

	r := a.Radius
	if r <= 0 {
		grid[pr*cols+pc]++
		return
	}

	c0, c1 := clamp(int((x-r)/cell), cols-1), clamp(int((x+r)/cell), cols-1)
	r0, r1 := clamp(int((y-r)/cell), rows-1), clamp(int((y+r)/cell), rows-1)
	for row := r0; row <= r1; row++ {
		for col := c0; col <= c1; col++ {
			d := 0.0
			if row != pr || col != pc {
				cx := (float64(col) + 0.5) * cell
				cy := (float64(row) + 0.5) * cell
				d = math.Hypot(cx-x, cy-y)
			}
			if d > r {
				continue
			}
			grid[row*cols+col] += a.weight(d, r)
		}
	}
}

func (a *Aggregator) weight(d, r float64) float64 {
	if a.Falloff == FalloffLinear {
		return 1 - d/r
	}
	sigma := r / 3
	return math.Exp(-(d * d) / (2 * sigma * sigma))
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
