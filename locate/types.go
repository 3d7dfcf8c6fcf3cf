package locate

// Observation maps a beacon identifier (usually a hardware address) to the
// RSSI it was received at, in dB. A missing key means the beacon was not
// detected during the scan.
type Observation map[string]float64

// Fingerprint is an Observation encoded against a fixed beacon set.
// Position i holds the RSSI of beacon i, or the undetected fill value.
type Fingerprint []float64

// Point represents a 2D coordinate on the estimated floorplan
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ObservationMessage is a single scan as published by a scanner device.
// Room is set only when the scanner is recording labelled training data.
type ObservationMessage struct {
	Scanner   string      `json:"scanner"`
	Room      string      `json:"room,omitempty"`
	Timestamp int64       `json:"timestamp"`
	RSSI      Observation `json:"rssi"`
}

// Location is the classification result for one observation
type Location struct {
	ScannerID string  `json:"scannerId"`
	Room      string  `json:"room"`
	Outlier   bool    `json:"outlier"`
	Distance  float64 `json:"distance"` // reduced-space distance to the nearest training sample
	Timestamp int64   `json:"timestamp"`
	// Position is the projected floorplan coordinate, when a floorplan is fitted.
	Position *Point `json:"position,omitempty"`
}

// ScannerConfig defines a scanning device from the config file
type ScannerConfig struct {
	ID    string `yaml:"id" json:"id"`
	Topic string `yaml:"topic" json:"topic"`
	// Record stores labelled observations from this scanner for training.
	Record bool `yaml:"record,omitempty" json:"record,omitempty"`
}

// RoomConfig assigns display properties to a room label
type RoomConfig struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name,omitempty" json:"name,omitempty"`
	Color string `yaml:"color,omitempty" json:"color,omitempty"`
}

// FingerprintConfig configures the beacon registry
type FingerprintConfig struct {
	Policy          string   `yaml:"policy" json:"policy"` // "fixed", "always_visible", "all"
	UndetectedValue *float64 `yaml:"undetectedValue,omitempty" json:"undetectedValue,omitempty"`
	Beacons         []string `yaml:"beacons,omitempty" json:"beacons,omitempty"`
}

// ClassifierConfig configures the room classifier
type ClassifierConfig struct {
	Components       int     `yaml:"components,omitempty" json:"components,omitempty"`
	Neighbors        int     `yaml:"neighbors,omitempty" json:"neighbors,omitempty"`
	OutlierThreshold float64 `yaml:"outlierThreshold,omitempty" json:"outlierThreshold,omitempty"`
}

// FloorplanConfig configures the floorplan estimator
type FloorplanConfig struct {
	Neighbors int     `yaml:"neighbors,omitempty" json:"neighbors,omitempty"`
	Radius    float64 `yaml:"radius,omitempty" json:"radius,omitempty"`
	GridStep  float64 `yaml:"gridStep,omitempty" json:"gridStep,omitempty"`
}

// StoreConfig locates the observation database
type StoreConfig struct {
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// Config represents the full configuration file
type Config struct {
	MQTT        MQTTConfig        `yaml:"mqtt" json:"mqtt"`
	Scanners    []ScannerConfig   `yaml:"scanners" json:"scanners"`
	Fingerprint FingerprintConfig `yaml:"fingerprint" json:"fingerprint"`
	Classifier  ClassifierConfig  `yaml:"classifier,omitempty" json:"classifier,omitempty"`
	Floorplan   FloorplanConfig   `yaml:"floorplan,omitempty" json:"floorplan,omitempty"`
	Store       StoreConfig       `yaml:"store,omitempty" json:"store,omitempty"`
	Dataset     string            `yaml:"dataset,omitempty" json:"dataset,omitempty"` // fingerprint dataset path
	Rooms       []RoomConfig      `yaml:"rooms,omitempty" json:"rooms,omitempty"`
}

// GetScannerByID returns the scanner config for the given ID
func (c *Config) GetScannerByID(id string) *ScannerConfig {
	for i := range c.Scanners {
		if c.Scanners[i].ID == id {
			return &c.Scanners[i]
		}
	}
	return nil
}

// GetRoomByID returns the room config for the given label
func (c *Config) GetRoomByID(id string) *RoomConfig {
	for i := range c.Rooms {
		if c.Rooms[i].ID == id {
			return &c.Rooms[i]
		}
	}
	return nil
}

// RoomColors returns the configured hex colors keyed by room label
func (c *Config) RoomColors() map[string]string {
	colors := make(map[string]string, len(c.Rooms))
	for _, r := range c.Rooms {
		if r.Color != "" {
			colors[r.ID] = r.Color
		}
	}
	return colors
}
