package locate

import (
	"fmt"
	"time"
)

// Locator turns raw observations into room locations using a frozen beacon
// registry and a fitted classifier. An optional floorplan estimator adds a
// projected position to each result.
type Locator struct {
	registry   *BeaconRegistry
	classifier *RoomClassifier
	floorplan  *FloorplanEstimator
}

// NewLocator wraps an established registry and a fitted classifier
func NewLocator(registry *BeaconRegistry, classifier *RoomClassifier) (*Locator, error) {
	if !registry.Fitted() {
		return nil, fmt.Errorf("%w: beacon registry has no beacon set", ErrNotFitted)
	}
	if !classifier.Fitted() {
		return nil, ErrNotFitted
	}
	return &Locator{registry: registry, classifier: classifier}, nil
}

// BuildLocator fits a classifier on a labelled dataset. The dataset's beacon
// list becomes a fixed registry so live observations encode identically.
func BuildLocator(ds *Dataset, opts ...ClassifierOption) (*Locator, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	if !ds.Labelled() {
		return nil, fmt.Errorf("%w: dataset has no labelled fingerprints", ErrNoObservations)
	}
	if len(ds.Beacons) == 0 {
		return nil, fmt.Errorf("%w: dataset does not name its beacons", ErrConfig)
	}

	registry, err := NewBeaconRegistry(Fixed(ds.Beacons...), WithUndetectedValue(ds.Undetected()))
	if err != nil {
		return nil, err
	}
	classifier, err := NewRoomClassifier(opts...)
	if err != nil {
		return nil, err
	}
	if err := classifier.Fit(ds.Fingerprints, ds.Labels); err != nil {
		return nil, fmt.Errorf("training classifier: %w", err)
	}
	return NewLocator(registry, classifier)
}

// AttachFloorplan sets the estimator used to project located observations
func (l *Locator) AttachFloorplan(est *FloorplanEstimator) error {
	if !est.Fitted() {
		return ErrNotFitted
	}
	l.floorplan = est
	return nil
}

// Floorplan returns the attached estimator, or nil
func (l *Locator) Floorplan() *FloorplanEstimator {
	return l.floorplan
}

// Locate classifies a single observation from a scanner. A zero timestamp
// is replaced with the current time.
func (l *Locator) Locate(scannerID string, obs Observation, timestamp int64) (*Location, error) {
	fp := l.registry.TransformOne(obs)
	results, err := l.classifier.Classify([]Fingerprint{fp})
	if err != nil {
		return nil, err
	}
	if timestamp == 0 {
		timestamp = time.Now().Unix()
	}

	loc := &Location{
		ScannerID: scannerID,
		Room:      results[0].Room,
		Outlier:   results[0].Outlier,
		Distance:  results[0].Distance,
		Timestamp: timestamp,
	}
	if l.floorplan != nil {
		pts, err := l.floorplan.Transform([]Fingerprint{fp})
		if err != nil {
			return nil, fmt.Errorf("projecting observation: %w", err)
		}
		loc.Position = &pts[0]
	}
	return loc, nil
}

// Beacons returns the beacon set observations are encoded against
func (l *Locator) Beacons() []string {
	return l.registry.Beacons()
}

// Rooms returns the rooms the classifier was trained on
func (l *Locator) Rooms() []string {
	return l.classifier.Rooms()
}

// Classifier returns the underlying classifier
func (l *Locator) Classifier() *RoomClassifier {
	return l.classifier
}
