package locate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigYAML = `mqtt:
  broker: "mqtt://localhost:1883"
  publishPrefix: "home/rooms"
  clientId: "roomprint-test"
scanners:
  - id: phone
    topic: "scanners/phone/rssi"
    record: true
  - id: watch
    topic: "scanners/watch/rssi"
fingerprint:
  policy: fixed
  undetectedValue: -110
  beacons: ["aa:bb", "cc:dd", "ee:ff"]
classifier:
  components: 3
  neighbors: 7
  outlierThreshold: 12.5
floorplan:
  neighbors: 10
  radius: 2
  gridStep: 0.5
store:
  path: "/var/lib/roomprint/observations.db"
dataset: "/var/lib/roomprint/dataset.json"
rooms:
  - id: kitchen
    name: Kitchen
    color: "#FF6347"
  - id: office
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, testConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "mqtt://localhost:1883", config.MQTT.Broker)
	assert.Equal(t, "home/rooms", config.MQTT.PublishPrefix)
	require.Len(t, config.Scanners, 2)
	assert.True(t, config.Scanners[0].Record)
	assert.False(t, config.Scanners[1].Record)
	assert.Equal(t, "scanners/watch/rssi", config.GetScannerByID("watch").Topic)
	assert.Nil(t, config.GetScannerByID("tablet"))

	assert.Equal(t, "fixed", config.Fingerprint.Policy)
	require.NotNil(t, config.Fingerprint.UndetectedValue)
	assert.Equal(t, -110.0, *config.Fingerprint.UndetectedValue)
	assert.Equal(t, ClassifierConfig{Components: 3, Neighbors: 7, OutlierThreshold: 12.5}, config.Classifier)
	assert.Equal(t, FloorplanConfig{Neighbors: 10, Radius: 2, GridStep: 0.5}, config.Floorplan)
	assert.Equal(t, "/var/lib/roomprint/observations.db", config.Store.Path)
	assert.Equal(t, "/var/lib/roomprint/dataset.json", config.Dataset)

	assert.Equal(t, "Kitchen", config.GetRoomByID("kitchen").Name)
	assert.Nil(t, config.GetRoomByID("attic"))
	assert.Equal(t, map[string]string{"kitchen": "#FF6347"}, config.RoomColors())
}

func TestLoadConfig_Minimal(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, "fingerprint:\n  policy: always_visible\n"))
	require.NoError(t, err)
	assert.Empty(t, config.MQTT.Broker)
	assert.Empty(t, config.Scanners)

	empty, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err, "the fingerprint section is only needed for training")
	_, err = empty.Fingerprint.SelectionPolicy()
	assert.ErrorIs(t, err, ErrConfig, "a missing policy is not defaulted")
}

func TestFingerprintConfig_SelectionPolicy(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantKind    PolicyKind
		wantBeacons []string
		wantErr     bool
	}{
		{
			name:        "beacons without a policy select fixed",
			content:     "fingerprint:\n  beacons: [A, B, C]\n",
			wantKind:    PolicyFixed,
			wantBeacons: []string{"A", "B", "C"},
		},
		{
			name:     "explicit all",
			content:  "fingerprint:\n  policy: all\n",
			wantKind: PolicyAll,
		},
		{
			name:    "beacons with all",
			content: "fingerprint:\n  policy: all\n  beacons: [A, B, C]\n",
			wantErr: true,
		},
		{
			name:    "beacons with always_visible",
			content: "fingerprint:\n  policy: always_visible\n  beacons: [A]\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := LoadConfig(writeConfig(t, tt.content))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrConfig)
				return
			}
			require.NoError(t, err)

			reg, err := NewBeaconRegistryFromConfig(config.Fingerprint)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, reg.Policy().Kind())

			// The configured list survives a fit on data that sees other beacons
			obs := []Observation{{"A": -10, "B": -20, "C": -30}, {"B": -20, "C": -30, "D": -40}}
			require.NoError(t, reg.Fit(obs))
			if tt.wantBeacons != nil {
				assert.Equal(t, tt.wantBeacons, reg.Beacons())
			} else {
				assert.Equal(t, []string{"A", "B", "C", "D"}, reg.Beacons())
			}
		})
	}

	_, err := NewBeaconRegistryFromConfig(FingerprintConfig{})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		isConfig bool
	}{
		{"invalid yaml", "scanners: [", false},
		{"scanner without id", "scanners:\n  - topic: a\n", true},
		{"scanner without topic", "scanners:\n  - id: a\n", true},
		{"duplicate scanner", "scanners:\n  - id: a\n    topic: x\n  - id: a\n    topic: y\n", true},
		{"unknown policy", "fingerprint:\n  policy: strongest\n", true},
		{"fixed without beacons", "fingerprint:\n  policy: fixed\n", true},
		{"negative classifier", "classifier:\n  neighbors: -1\n", true},
		{"negative floorplan", "floorplan:\n  radius: -2\n", true},
		{"room without id", "rooms:\n  - name: Kitchen\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			if tt.isConfig {
				assert.ErrorIs(t, err, ErrConfig)
			}
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "config file not found")
}

func TestNewBeaconRegistryFromConfig(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, testConfigYAML))
	require.NoError(t, err)

	reg, err := NewBeaconRegistryFromConfig(config.Fingerprint)
	require.NoError(t, err)
	assert.True(t, reg.Fitted())
	assert.Equal(t, []string{"aa:bb", "cc:dd", "ee:ff"}, reg.Beacons())
	assert.Equal(t, -110.0, reg.UndetectedValue())

	reg, err = NewBeaconRegistryFromConfig(FingerprintConfig{Policy: "all"})
	require.NoError(t, err)
	assert.Equal(t, PolicyAll, reg.Policy().Kind())
	assert.Equal(t, DefaultUndetectedValue, reg.UndetectedValue())
}

func TestNewRoomClassifierFromConfig(t *testing.T) {
	c, err := NewRoomClassifierFromConfig(ClassifierConfig{Components: 3, Neighbors: 7, OutlierThreshold: 12.5})
	require.NoError(t, err)
	assert.Equal(t, 3, c.components)
	assert.Equal(t, 7, c.neighbors)
	assert.Equal(t, 12.5, c.OutlierThreshold())

	c, err = NewRoomClassifierFromConfig(ClassifierConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultComponents, c.components)
}

func TestNewFloorplanEstimatorFromConfig(t *testing.T) {
	e, err := NewFloorplanEstimatorFromConfig(FloorplanConfig{Neighbors: 10, Radius: 2, GridStep: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 10, e.neighbors)
	assert.Equal(t, 2.0, e.radius)
	assert.Equal(t, 0.5, e.gridStep)

	e, err = NewFloorplanEstimatorFromConfig(FloorplanConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultFloorplanNeighbors, e.neighbors)
}
