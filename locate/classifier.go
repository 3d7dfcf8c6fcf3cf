package locate

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Classifier defaults
const (
	DefaultComponents       = 5
	DefaultNeighbors        = 5
	DefaultOutlierThreshold = 25.0
)

// RoomClassifier maps fingerprints to room labels. Fingerprints are
// projected onto their leading principal components and classified by
// majority vote among the k nearest training samples in that space.
//
// Predict always answers with some room, so callers that need to know
// whether a fingerprint belongs to any trained room also call
// PredictOutlier (or use Classify, which does both).
type RoomClassifier struct {
	components       int
	neighbors        int
	outlierThreshold float64

	model *trainedModel
}

// ClassifierOption configures a RoomClassifier
type ClassifierOption func(*RoomClassifier)

// WithComponents sets the number of principal components kept
func WithComponents(n int) ClassifierOption {
	return func(c *RoomClassifier) {
		c.components = n
	}
}

// WithNeighbors sets k for the nearest-neighbour vote
func WithNeighbors(k int) ClassifierOption {
	return func(c *RoomClassifier) {
		c.neighbors = k
	}
}

// WithOutlierThreshold sets the reduced-space distance beyond which a
// fingerprint is reported as not belonging to any trained room.
func WithOutlierThreshold(t float64) ClassifierOption {
	return func(c *RoomClassifier) {
		c.outlierThreshold = t
	}
}

// Classification combines the predicted room with the outlier decision
type Classification struct {
	Room     string
	Outlier  bool
	Distance float64
}

// trainedModel is everything Fit produces. It is never mutated after Fit
// returns; a new Fit replaces it.
type trainedModel struct {
	dims       int
	mean       []float64
	projection *mat.Dense // dims x components
	labels     []string
	index      *neighbourIndex
	neighbors  int
}

// NewRoomClassifier creates an unfitted classifier
func NewRoomClassifier(opts ...ClassifierOption) (*RoomClassifier, error) {
	c := &RoomClassifier{
		components:       DefaultComponents,
		neighbors:        DefaultNeighbors,
		outlierThreshold: DefaultOutlierThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.components <= 0 {
		return nil, fmt.Errorf("%w: components must be positive, got %d", ErrConfig, c.components)
	}
	if c.neighbors <= 0 {
		return nil, fmt.Errorf("%w: neighbors must be positive, got %d", ErrConfig, c.neighbors)
	}
	if c.outlierThreshold <= 0 {
		return nil, fmt.Errorf("%w: outlier threshold must be positive, got %g", ErrConfig, c.outlierThreshold)
	}
	return c, nil
}

// Fit trains the projection and neighbour index, replacing any previous model.
// The number of components is capped at min(samples, beacons) and the
// neighbour count at the number of samples.
func (c *RoomClassifier) Fit(fingerprints []Fingerprint, labels []string) error {
	n := len(fingerprints)
	if n == 0 {
		return fmt.Errorf("%w: no training fingerprints", ErrNoObservations)
	}
	if len(labels) != n {
		return fmt.Errorf("got %d labels for %d fingerprints", len(labels), n)
	}
	d := len(fingerprints[0])
	if d == 0 {
		return fmt.Errorf("%w: fingerprints have no beacon dimensions", ErrDimensionMismatch)
	}

	data := mat.NewDense(n, d, nil)
	for i, fp := range fingerprints {
		if len(fp) != d {
			return fmt.Errorf("%w: fingerprint %d has %d values, want %d", ErrDimensionMismatch, i, len(fp), d)
		}
		data.SetRow(i, fp)
	}

	mean := make([]float64, d)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		mat.Col(col, j, data)
		mean[j] = stat.Mean(col, nil)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(data, nil); !ok {
		return errors.New("principal component analysis did not converge")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	k := min(c.components, n, d)
	_, available := vecs.Dims()
	k = min(k, available)

	m := &trainedModel{
		dims:       d,
		mean:       mean,
		projection: mat.DenseCopyOf(vecs.Slice(0, d, 0, k)),
		labels:     append([]string(nil), labels...),
		neighbors:  min(c.neighbors, n),
	}

	reduced, err := m.project(fingerprints)
	if err != nil {
		return err
	}
	m.index = newNeighbourIndex(reduced)

	c.model = m
	return nil
}

// Fitted returns true once Fit has succeeded
func (c *RoomClassifier) Fitted() bool {
	return c.model != nil
}

// Predict returns the majority room among each fingerprint's nearest
// training neighbours.
func (c *RoomClassifier) Predict(fingerprints []Fingerprint) ([]string, error) {
	results, err := c.Classify(fingerprints)
	if err != nil {
		return nil, err
	}
	rooms := make([]string, len(results))
	for i, r := range results {
		rooms[i] = r.Room
	}
	return rooms, nil
}

// PredictOutlier reports, per fingerprint, whether its nearest training
// neighbour is farther than the outlier threshold.
func (c *RoomClassifier) PredictOutlier(fingerprints []Fingerprint) ([]bool, error) {
	dists, err := c.NearestDistances(fingerprints)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(dists))
	for i, d := range dists {
		out[i] = d > c.outlierThreshold
	}
	return out, nil
}

// NearestDistances returns the reduced-space distance from each fingerprint
// to its single nearest training sample.
func (c *RoomClassifier) NearestDistances(fingerprints []Fingerprint) ([]float64, error) {
	m := c.model
	if m == nil {
		return nil, ErrNotFitted
	}
	reduced, err := m.project(fingerprints)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(reduced))
	for i, q := range reduced {
		out[i] = m.index.nearest(q, 1)[0].dist
	}
	return out, nil
}

// Classify predicts the room and the outlier flag in one pass
func (c *RoomClassifier) Classify(fingerprints []Fingerprint) ([]Classification, error) {
	m := c.model
	if m == nil {
		return nil, ErrNotFitted
	}
	reduced, err := m.project(fingerprints)
	if err != nil {
		return nil, err
	}

	out := make([]Classification, len(reduced))
	for i, q := range reduced {
		nbs := m.index.nearest(q, m.neighbors)
		out[i] = Classification{
			Room:     majorityLabel(nbs, m.labels),
			Distance: nbs[0].dist,
			Outlier:  nbs[0].dist > c.outlierThreshold,
		}
	}
	return out, nil
}

// Rooms returns the distinct labels seen during Fit, sorted
func (c *RoomClassifier) Rooms() []string {
	if c.model == nil {
		return nil
	}
	set := make(map[string]struct{})
	for _, l := range c.model.labels {
		set[l] = struct{}{}
	}
	return sortedKeys(set)
}

// OutlierThreshold returns the configured rejection distance
func (c *RoomClassifier) OutlierThreshold() float64 {
	return c.outlierThreshold
}

// project centres the fingerprints on the training mean and maps them onto
// the retained principal components.
func (m *trainedModel) project(fingerprints []Fingerprint) ([][]float64, error) {
	if len(fingerprints) == 0 {
		return nil, nil
	}
	centred := mat.NewDense(len(fingerprints), m.dims, nil)
	row := make([]float64, m.dims)
	for i, fp := range fingerprints {
		if len(fp) != m.dims {
			return nil, fmt.Errorf("%w: fingerprint %d has %d values, model expects %d",
				ErrDimensionMismatch, i, len(fp), m.dims)
		}
		for j, v := range fp {
			row[j] = v - m.mean[j]
		}
		centred.SetRow(i, row)
	}

	var reduced mat.Dense
	reduced.Mul(centred, m.projection)

	out := make([][]float64, len(fingerprints))
	for i := range out {
		out[i] = mat.Row(nil, i, &reduced)
	}
	return out, nil
}
