package locate

import (
	"fmt"
	"math"
)

// Floorplan defaults
const (
	DefaultFloorplanNeighbors = 25
	DefaultRegionRadius       = 3.0
	DefaultGridStep           = 1.0

	// floorplanComponents is fixed: the estimator produces planar coordinates.
	floorplanComponents = 2
	// maxRegionCells bounds the region grid; the step doubles until it fits.
	maxRegionCells = 250000
)

// FloorplanEstimator projects fingerprints onto a rough 2D floorplan. The
// projection is learned once from labelled fingerprints (Isomap), and room
// regions are estimated by radius-neighbour voting over the projected
// training samples.
type FloorplanEstimator struct {
	neighbors    int
	radius       float64
	gridStep     float64
	outlierLabel string

	embedding *isomap
	dims      int
	points    []Point
	labels    []string
}

// FloorplanOption configures a FloorplanEstimator
type FloorplanOption func(*FloorplanEstimator)

// WithFloorplanNeighbors sets the neighbourhood size of the Isomap graph
func WithFloorplanNeighbors(k int) FloorplanOption {
	return func(e *FloorplanEstimator) {
		e.neighbors = k
	}
}

// WithRegionRadius sets the voting radius used when estimating regions
func WithRegionRadius(r float64) FloorplanOption {
	return func(e *FloorplanEstimator) {
		e.radius = r
	}
}

// WithGridStep sets the spacing of the region grid in projected units
func WithGridStep(step float64) FloorplanOption {
	return func(e *FloorplanEstimator) {
		e.gridStep = step
	}
}

// WithOutlierLabel sets the label for grid cells with no sample in radius
func WithOutlierLabel(label string) FloorplanOption {
	return func(e *FloorplanEstimator) {
		e.outlierLabel = label
	}
}

// NewFloorplanEstimator creates an unfitted estimator
func NewFloorplanEstimator(opts ...FloorplanOption) (*FloorplanEstimator, error) {
	e := &FloorplanEstimator{
		neighbors: DefaultFloorplanNeighbors,
		radius:    DefaultRegionRadius,
		gridStep:  DefaultGridStep,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.neighbors <= 0 {
		return nil, fmt.Errorf("%w: floorplan neighbors must be positive, got %d", ErrConfig, e.neighbors)
	}
	if e.radius <= 0 {
		return nil, fmt.Errorf("%w: region radius must be positive, got %g", ErrConfig, e.radius)
	}
	if e.gridStep <= 0 {
		return nil, fmt.Errorf("%w: grid step must be positive, got %g", ErrConfig, e.gridStep)
	}
	return e, nil
}

// Fit learns the projection from labelled fingerprints
func (e *FloorplanEstimator) Fit(fingerprints []Fingerprint, labels []string) error {
	if len(labels) != len(fingerprints) {
		return fmt.Errorf("got %d labels for %d fingerprints", len(labels), len(fingerprints))
	}
	data, dims, err := fingerprintRows(fingerprints)
	if err != nil {
		return err
	}

	im, err := fitIsomap(data, e.neighbors, floorplanComponents)
	if err != nil {
		return fmt.Errorf("fitting floorplan projection: %w", err)
	}

	points := make([]Point, len(data))
	for i := range data {
		c := im.coordinates(i)
		points[i] = Point{X: c[0], Y: c[1]}
	}

	e.embedding = im
	e.dims = dims
	e.points = points
	e.labels = append([]string(nil), labels...)
	return nil
}

// Transform returns floorplan coordinates for the fingerprints
func (e *FloorplanEstimator) Transform(fingerprints []Fingerprint) ([]Point, error) {
	if e.embedding == nil {
		return nil, ErrNotFitted
	}
	out := make([]Point, len(fingerprints))
	for i, fp := range fingerprints {
		if len(fp) != e.dims {
			return nil, fmt.Errorf("%w: fingerprint %d has %d values, projection expects %d",
				ErrDimensionMismatch, i, len(fp), e.dims)
		}
		c := e.embedding.transform(fp)
		out[i] = Point{X: c[0], Y: c[1]}
	}
	return out, nil
}

// Samples returns the projected training points and their labels
func (e *FloorplanEstimator) Samples() ([]Point, []string) {
	return append([]Point(nil), e.points...), append([]string(nil), e.labels...)
}

// Fitted returns true once Fit has succeeded
func (e *FloorplanEstimator) Fitted() bool {
	return e.embedding != nil
}

// RegionGrid is a coarse partition of the floorplan into room labels.
// Cells are stored row-major starting at (MinX, MinY).
type RegionGrid struct {
	MinX   float64
	MinY   float64
	Step   float64
	Cols   int
	Rows   int
	Labels []string
	// Outlier is the label of cells with no training sample within radius.
	Outlier string
}

// At returns the label of the cell at the given column and row
func (g *RegionGrid) At(col, row int) string {
	return g.Labels[row*g.Cols+col]
}

// CellOrigin returns the lower-left corner of a cell
func (g *RegionGrid) CellOrigin(col, row int) Point {
	return Point{X: g.MinX + float64(col)*g.Step, Y: g.MinY + float64(row)*g.Step}
}

// Rooms returns the distinct non-outlier labels in the grid, sorted
func (g *RegionGrid) Rooms() []string {
	set := make(map[string]struct{})
	for _, l := range g.Labels {
		if l != g.Outlier {
			set[l] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// Regions evaluates a radius-neighbour vote at the centre of each cell of a
// grid spanning the projected training samples.
func (e *FloorplanEstimator) Regions() (*RegionGrid, error) {
	if e.embedding == nil {
		return nil, ErrNotFitted
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	vectors := make([][]float64, len(e.points))
	for i, p := range e.points {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
		vectors[i] = []float64{p.X, p.Y}
	}

	step := e.gridStep
	cols, rows := gridSize(minX, maxX, step), gridSize(minY, maxY, step)
	for cols*rows > maxRegionCells {
		step *= 2
		cols, rows = gridSize(minX, maxX, step), gridSize(minY, maxY, step)
	}

	index := newNeighbourIndex(vectors)
	grid := &RegionGrid{
		MinX:    minX,
		MinY:    minY,
		Step:    step,
		Cols:    cols,
		Rows:    rows,
		Labels:  make([]string, cols*rows),
		Outlier: e.outlierLabel,
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			p := grid.CellOrigin(c, r)
			nbs := index.within([]float64{p.X + step/2, p.Y + step/2}, e.radius)
			label := e.outlierLabel
			if len(nbs) > 0 {
				label = majorityLabel(nbs, e.labels)
			}
			grid.Labels[r*cols+c] = label
		}
	}
	return grid, nil
}

// gridSize counts the samples of [lo, hi) at the given step, at least one
func gridSize(lo, hi, step float64) int {
	n := int(math.Ceil((hi - lo) / step))
	if n < 1 {
		n = 1
	}
	return n
}

// fingerprintRows validates that all fingerprints share a non-zero length
func fingerprintRows(fingerprints []Fingerprint) ([][]float64, int, error) {
	if len(fingerprints) == 0 {
		return nil, 0, fmt.Errorf("%w: no fingerprints", ErrNoObservations)
	}
	dims := len(fingerprints[0])
	if dims == 0 {
		return nil, 0, fmt.Errorf("%w: fingerprints have no beacon dimensions", ErrDimensionMismatch)
	}
	rows := make([][]float64, len(fingerprints))
	for i, fp := range fingerprints {
		if len(fp) != dims {
			return nil, 0, fmt.Errorf("%w: fingerprint %d has %d values, want %d", ErrDimensionMismatch, i, len(fp), dims)
		}
		rows[i] = fp
	}
	return rows, dims, nil
}
