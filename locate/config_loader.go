package locate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads the configuration from a YAML file. MQTT settings are
// not required here; only the service mode needs a broker.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the configuration for structural errors
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Scanners))
	for i, sc := range c.Scanners {
		if sc.ID == "" {
			return fmt.Errorf("%w: scanners[%d].id is required", ErrConfig, i)
		}
		if sc.Topic == "" {
			return fmt.Errorf("%w: scanners[%d].topic is required for %s", ErrConfig, i, sc.ID)
		}
		if seen[sc.ID] {
			return fmt.Errorf("%w: scanner %s is defined twice", ErrConfig, sc.ID)
		}
		seen[sc.ID] = true
	}

	// The fingerprint section only matters for training; an absent section
	// is checked when a registry is built from it.
	if c.Fingerprint.Policy != "" || len(c.Fingerprint.Beacons) > 0 {
		if _, err := c.Fingerprint.SelectionPolicy(); err != nil {
			return err
		}
	}

	if c.Classifier.Components < 0 || c.Classifier.Neighbors < 0 || c.Classifier.OutlierThreshold < 0 {
		return fmt.Errorf("%w: classifier parameters must not be negative", ErrConfig)
	}
	if c.Floorplan.Neighbors < 0 || c.Floorplan.Radius < 0 || c.Floorplan.GridStep < 0 {
		return fmt.Errorf("%w: floorplan parameters must not be negative", ErrConfig)
	}

	for i, r := range c.Rooms {
		if r.ID == "" {
			return fmt.Errorf("%w: rooms[%d].id is required", ErrConfig, i)
		}
	}
	return nil
}

// SelectionPolicy parses the configured policy. A beacon list without a
// policy name selects "fixed"; neither is an error. Beacons listed for a
// data-driven policy are rejected.
func (fc FingerprintConfig) SelectionPolicy() (SelectionPolicy, error) {
	name := fc.Policy
	if name == "" {
		if len(fc.Beacons) == 0 {
			return SelectionPolicy{}, fmt.Errorf("%w: fingerprint.policy or fingerprint.beacons is required", ErrConfig)
		}
		name = PolicyNameFixed
	}
	if name != PolicyNameFixed && len(fc.Beacons) > 0 {
		return SelectionPolicy{}, fmt.Errorf("%w: fingerprint.beacons is only used with the %s policy, got %q",
			ErrConfig, PolicyNameFixed, name)
	}
	return ParsePolicy(name, fc.Beacons)
}

// NewBeaconRegistryFromConfig builds a registry from the fingerprint section
func NewBeaconRegistryFromConfig(fc FingerprintConfig) (*BeaconRegistry, error) {
	policy, err := fc.SelectionPolicy()
	if err != nil {
		return nil, err
	}
	var opts []RegistryOption
	if fc.UndetectedValue != nil {
		opts = append(opts, WithUndetectedValue(*fc.UndetectedValue))
	}
	return NewBeaconRegistry(policy, opts...)
}

// ClassifierOptions converts the classifier section; zero values keep defaults
func (cc ClassifierConfig) ClassifierOptions() []ClassifierOption {
	var opts []ClassifierOption
	if cc.Components > 0 {
		opts = append(opts, WithComponents(cc.Components))
	}
	if cc.Neighbors > 0 {
		opts = append(opts, WithNeighbors(cc.Neighbors))
	}
	if cc.OutlierThreshold > 0 {
		opts = append(opts, WithOutlierThreshold(cc.OutlierThreshold))
	}
	return opts
}

// NewRoomClassifierFromConfig builds an unfitted classifier
func NewRoomClassifierFromConfig(cc ClassifierConfig) (*RoomClassifier, error) {
	return NewRoomClassifier(cc.ClassifierOptions()...)
}

// NewFloorplanEstimatorFromConfig builds an unfitted floorplan estimator
func NewFloorplanEstimatorFromConfig(fc FloorplanConfig) (*FloorplanEstimator, error) {
	var opts []FloorplanOption
	if fc.Neighbors > 0 {
		opts = append(opts, WithFloorplanNeighbors(fc.Neighbors))
	}
	if fc.Radius > 0 {
		opts = append(opts, WithRegionRadius(fc.Radius))
	}
	if fc.GridStep > 0 {
		opts = append(opts, WithGridStep(fc.GridStep))
	}
	return NewFloorplanEstimator(opts...)
}
