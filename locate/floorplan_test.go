package locate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// planarFloor lays samples on a cols x rows grid of walking positions and
// encodes them with signals that vary linearly with position, so the
// fingerprints lie on a flat plane. Columns left of split are "living",
// the rest "kitchen".
func planarFloor(cols, rows, split int) ([]Fingerprint, []string) {
	var fps []Fingerprint
	var labels []string
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			fps = append(fps, planarFingerprint(float64(x), float64(y)))
			if x < split {
				labels = append(labels, "living")
			} else {
				labels = append(labels, "kitchen")
			}
		}
	}
	return fps, labels
}

func planarFingerprint(x, y float64) Fingerprint {
	return Fingerprint{-30 - 2*x, -30 - 2*y, -80 + 2*x}
}

func fittedFloorplan(t *testing.T, opts ...FloorplanOption) *FloorplanEstimator {
	t.Helper()
	fps, labels := planarFloor(6, 5, 3)
	// A complete neighbourhood graph makes geodesics equal Euclidean distances
	opts = append([]FloorplanOption{WithFloorplanNeighbors(len(fps))}, opts...)
	est, err := NewFloorplanEstimator(opts...)
	require.NoError(t, err)
	require.NoError(t, est.Fit(fps, labels))
	return est
}

func dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func TestNewFloorplanEstimator_Validation(t *testing.T) {
	for _, opt := range []FloorplanOption{
		WithFloorplanNeighbors(0),
		WithRegionRadius(-1),
		WithGridStep(0),
	} {
		_, err := NewFloorplanEstimator(opt)
		assert.ErrorIs(t, err, ErrConfig)
	}

	est, err := NewFloorplanEstimator()
	require.NoError(t, err)
	assert.Equal(t, DefaultFloorplanNeighbors, est.neighbors)
	assert.Equal(t, DefaultRegionRadius, est.radius)
	assert.Equal(t, DefaultGridStep, est.gridStep)
	assert.Equal(t, "", est.outlierLabel)
	assert.False(t, est.Fitted())
}

func TestFloorplanEstimator_PreservesDistances(t *testing.T) {
	est := fittedFloorplan(t)
	points, labels := est.Samples()
	require.Len(t, points, 30)
	require.Len(t, labels, 30)

	fps, _ := planarFloor(6, 5, 3)
	for i := range fps {
		for j := i + 1; j < len(fps); j++ {
			want := 0.0
			for k := range fps[i] {
				d := fps[i][k] - fps[j][k]
				want += d * d
			}
			assert.InDelta(t, math.Sqrt(want), dist(points[i], points[j]), 1e-6, "samples %d and %d", i, j)
		}
	}
}

func TestFloorplanEstimator_Transform(t *testing.T) {
	est := fittedFloorplan(t)
	points, _ := est.Samples()
	fps, _ := planarFloor(6, 5, 3)

	got, err := est.Transform(fps)
	require.NoError(t, err)
	for i := range got {
		assert.InDelta(t, points[i].X, got[i].X, 1e-6)
		assert.InDelta(t, points[i].Y, got[i].Y, 1e-6)
	}

	// Halfway between (2,2) and (3,2) projects halfway between their samples
	mid, err := est.Transform([]Fingerprint{planarFingerprint(2.5, 2)})
	require.NoError(t, err)
	a, b := points[2*6+2], points[2*6+3]
	assert.InDelta(t, (a.X+b.X)/2, mid[0].X, 1e-6)
	assert.InDelta(t, (a.Y+b.Y)/2, mid[0].Y, 1e-6)
}

func TestFloorplanEstimator_TransformErrors(t *testing.T) {
	est, err := NewFloorplanEstimator()
	require.NoError(t, err)
	_, err = est.Transform([]Fingerprint{{1, 2, 3}})
	assert.ErrorIs(t, err, ErrNotFitted)
	_, err = est.Regions()
	assert.ErrorIs(t, err, ErrNotFitted)

	est = fittedFloorplan(t)
	_, err = est.Transform([]Fingerprint{{1, 2}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestFloorplanEstimator_FitErrors(t *testing.T) {
	est, err := NewFloorplanEstimator(WithFloorplanNeighbors(1))
	require.NoError(t, err)

	err = est.Fit(nil, nil)
	assert.ErrorIs(t, err, ErrNoObservations)

	err = est.Fit([]Fingerprint{{1, 2}, {3}}, []string{"a", "b"})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	err = est.Fit([]Fingerprint{{1, 2}}, []string{"a", "b"})
	assert.Error(t, err)
}

func TestFloorplanEstimator_JoinsDisconnectedClusters(t *testing.T) {
	est, err := NewFloorplanEstimator(WithFloorplanNeighbors(1))
	require.NoError(t, err)

	// With one neighbour each column is its own chain; the chains are
	// joined through samples 0 and 3, the first closest cross pair.
	clusters := []Fingerprint{{0, 0}, {0, 1}, {0, 2}, {100, 0}, {100, 1}, {100, 2}}
	require.NoError(t, est.Fit(clusters, []string{"a", "a", "a", "b", "b", "b"}))
	require.True(t, est.Fitted())

	// The joined graph is a path, so the embedding reproduces it exactly
	points, _ := est.Samples()
	assert.InDelta(t, 100, dist(points[0], points[3]), 1e-6)
	assert.InDelta(t, 104, dist(points[2], points[5]), 1e-6)
	assert.InDelta(t, 2, dist(points[0], points[2]), 1e-6)
	assert.InDelta(t, 1, dist(points[3], points[4]), 1e-6)

	grid, err := est.Regions()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, grid.Rooms())
}

// cellOf returns the grid cell containing p
func cellOf(g *RegionGrid, p Point) (int, int) {
	col := int(math.Floor((p.X - g.MinX) / g.Step))
	row := int(math.Floor((p.Y - g.MinY) / g.Step))
	return min(max(col, 0), g.Cols-1), min(max(row, 0), g.Rows-1)
}

func TestFloorplanEstimator_Regions(t *testing.T) {
	est := fittedFloorplan(t)
	grid, err := est.Regions()
	require.NoError(t, err)

	assert.Equal(t, DefaultGridStep, grid.Step)
	assert.Equal(t, grid.Cols*grid.Rows, len(grid.Labels))
	assert.Equal(t, []string{"kitchen", "living"}, grid.Rooms())

	points, labels := est.Samples()
	for i, p := range points {
		x := i % 6
		if x != 0 && x != 5 {
			continue
		}
		c, r := cellOf(grid, p)
		assert.Equal(t, labels[i], grid.At(c, r), "sample %d at column %d", i, x)
	}
}

func TestFloorplanEstimator_RegionsOutlierCells(t *testing.T) {
	est := fittedFloorplan(t, WithRegionRadius(0.5), WithOutlierLabel("unknown"))
	grid, err := est.Regions()
	require.NoError(t, err)

	assert.Equal(t, "unknown", grid.Outlier)
	assert.Contains(t, grid.Labels, "unknown")
	assert.NotContains(t, grid.Rooms(), "unknown")
}

func TestFloorplanEstimator_RegionsBoundedGrid(t *testing.T) {
	est := fittedFloorplan(t, WithGridStep(0.001))
	grid, err := est.Regions()
	require.NoError(t, err)

	assert.LessOrEqual(t, grid.Cols*grid.Rows, maxRegionCells)
	assert.Greater(t, grid.Step, 0.001)
}

func TestRegionGrid_CellOrigin(t *testing.T) {
	g := &RegionGrid{MinX: -2, MinY: 1, Step: 0.5, Cols: 4, Rows: 2, Labels: make([]string, 8)}
	assert.Equal(t, Point{X: -1, Y: 1.5}, g.CellOrigin(2, 1))

	g.Labels[1*4+3] = "hall"
	assert.Equal(t, "hall", g.At(3, 1))
}

func TestGridSize(t *testing.T) {
	assert.Equal(t, 1, gridSize(0, 0, 1))
	assert.Equal(t, 3, gridSize(0, 2.5, 1))
	assert.Equal(t, 2, gridSize(-1, 1, 1))
}
