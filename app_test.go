package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kwv/roomprint/locate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gridDataset lays fingerprints on a 6x5 walk with signals varying
// linearly with position; the left half is "living", the right "kitchen".
func gridDataset() *locate.Dataset {
	ds := &locate.Dataset{Beacons: []string{"b1", "b2", "b3"}}
	for y := 0; y < 5; y++ {
		for x := 0; x < 6; x++ {
			fx, fy := float64(x), float64(y)
			ds.Fingerprints = append(ds.Fingerprints, locate.Fingerprint{-30 - 2*fx, -30 - 2*fy, -80 + 2*fx})
			if x < 3 {
				ds.Labels = append(ds.Labels, "living")
			} else {
				ds.Labels = append(ds.Labels, "kitchen")
			}
		}
	}
	return ds
}

// writeTestConfig writes a config file and returns its path
func writeTestConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const appTestConfig = `scanners:
  - id: phone
    topic: scanners/phone
    record: true
  - id: watch
    topic: scanners/watch
fingerprint:
  policy: all
classifier:
  neighbors: 3
rooms:
  - id: kitchen
    color: "#FF0000"
`

func TestNewApp(t *testing.T) {
	app := NewApp()
	if app == nil {
		t.Fatal("NewApp returned nil")
		return
	}
	if app.StateTracker == nil {
		t.Error("StateTracker should be initialized")
	}
}

func TestApplyOptions(t *testing.T) {
	app := NewApp()
	opts := AppOptions{
		ConfigFile:  "test-config.yaml",
		DatasetFile: "ds.json",
		StorePath:   "obs.db",
		OutputFile:  "out.png",
		Format:      "svg",
		EvalDataset: "held.json",
		PlotFile:    "cm.png",
		LegacyFile:  "legacy.json",
		HttpPort:    8080,
		MqttMode:    true,
		HttpMode:    false,
	}

	app.ApplyOptions(opts)

	if app.ConfigFile != "test-config.yaml" {
		t.Errorf("ConfigFile = %s, want test-config.yaml", app.ConfigFile)
	}
	if app.DatasetFile != "ds.json" || app.StorePath != "obs.db" {
		t.Errorf("DatasetFile/StorePath = %s/%s", app.DatasetFile, app.StorePath)
	}
	if app.OutputFile != "out.png" || app.Format != "svg" {
		t.Errorf("OutputFile/Format = %s/%s", app.OutputFile, app.Format)
	}
	if app.EvalDataset != "held.json" || app.PlotFile != "cm.png" || app.LegacyFile != "legacy.json" {
		t.Errorf("EvalDataset/PlotFile/LegacyFile = %s/%s/%s", app.EvalDataset, app.PlotFile, app.LegacyFile)
	}
	if app.HttpPort != 8080 {
		t.Errorf("HttpPort = %d, want 8080", app.HttpPort)
	}
	if !app.MqttMode || app.HttpMode {
		t.Errorf("MqttMode/HttpMode = %t/%t, want true/false", app.MqttMode, app.HttpMode)
	}
}

func TestApp_PathResolution(t *testing.T) {
	app := NewApp()
	assert.Equal(t, defaultDatasetFile, app.datasetPath())
	assert.Equal(t, defaultStorePath, app.storePath())

	app.Config = &locate.Config{Dataset: "cfg.json", Store: locate.StoreConfig{Path: "cfg.db"}}
	assert.Equal(t, "cfg.json", app.datasetPath())
	assert.Equal(t, "cfg.db", app.storePath())

	app.DatasetFile = "flag.json"
	app.StorePath = "flag.db"
	assert.Equal(t, "flag.json", app.datasetPath())
	assert.Equal(t, "flag.db", app.storePath())
}

func TestApp_Train(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "obs.db")

	store, err := locate.OpenObservationStore(storePath)
	require.NoError(t, err)
	msgs := []*locate.ObservationMessage{
		{Scanner: "phone", Room: "kitchen", Timestamp: 1, RSSI: locate.Observation{"aa": -40, "bb": -80}},
		{Scanner: "phone", Room: "office", Timestamp: 2, RSSI: locate.Observation{"bb": -45}},
		{Scanner: "phone", Timestamp: 3, RSSI: locate.Observation{"cc": -45}},
	}
	for _, m := range msgs {
		_, err := store.Record(m)
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())

	app := NewApp()
	app.ConfigFile = writeTestConfig(t, dir, appTestConfig)
	app.StorePath = storePath
	app.OutputFile = filepath.Join(dir, "out", "dataset.json")
	require.NoError(t, app.train())

	ds, err := locate.LoadDataset(app.OutputFile)
	require.NoError(t, err)

	undetected := locate.DefaultUndetectedValue
	want := &locate.Dataset{
		Fingerprints:    []locate.Fingerprint{{-40, -80}, {-100, -45}},
		Labels:          []string{"kitchen", "office"},
		Beacons:         []string{"aa", "bb"},
		UndetectedValue: &undetected,
	}
	if diff := cmp.Diff(want, ds); diff != "" {
		t.Errorf("trained dataset mismatch (-want +got):\n%s", diff)
	}
}

func TestApp_TrainEmptyStore(t *testing.T) {
	dir := t.TempDir()
	app := NewApp()
	app.ConfigFile = writeTestConfig(t, dir, appTestConfig)
	app.StorePath = filepath.Join(dir, "empty.db")

	err := app.train()
	assert.ErrorIs(t, err, locate.ErrNoObservations)
}

func TestApp_TrainMissingConfig(t *testing.T) {
	app := NewApp()
	app.ConfigFile = filepath.Join(t.TempDir(), "missing.yaml")
	assert.Error(t, app.train())
}

func TestApp_Evaluate(t *testing.T) {
	dir := t.TempDir()
	dsPath := filepath.Join(dir, "dataset.json")
	require.NoError(t, locate.SaveDataset(dsPath, gridDataset()))

	app := NewApp()
	app.ConfigFile = writeTestConfig(t, dir, appTestConfig)
	app.DatasetFile = dsPath
	app.PlotFile = filepath.Join(dir, "confusion.png")
	require.NoError(t, app.evaluate())

	info, err := os.Stat(app.PlotFile)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestApp_EvaluateHeldOut(t *testing.T) {
	dir := t.TempDir()
	dsPath := filepath.Join(dir, "dataset.json")
	require.NoError(t, locate.SaveDataset(dsPath, gridDataset()))

	held := gridDataset()
	held.Beacons = []string{"x", "y", "z"}
	heldPath := filepath.Join(dir, "held.json")
	require.NoError(t, locate.SaveDataset(heldPath, held))

	app := NewApp()
	app.ConfigFile = writeTestConfig(t, dir, appTestConfig)
	app.DatasetFile = dsPath
	app.EvalDataset = heldPath
	err := app.evaluate()
	assert.ErrorIs(t, err, locate.ErrDimensionMismatch)

	held.Beacons = nil
	require.NoError(t, locate.SaveDataset(heldPath, held))
	assert.NoError(t, app.evaluate())
}

func TestApp_RenderFloorplan(t *testing.T) {
	dir := t.TempDir()
	dsPath := filepath.Join(dir, "dataset.json")
	require.NoError(t, locate.SaveDataset(dsPath, gridDataset()))

	formats := []struct {
		format string
		check  func(t *testing.T, data []byte)
	}{
		{"png", func(t *testing.T, data []byte) {
			assert.True(t, strings.HasPrefix(string(data), "\x89PNG"))
		}},
		{"vector-png", func(t *testing.T, data []byte) {
			assert.True(t, strings.HasPrefix(string(data), "\x89PNG"))
		}},
		{"svg", func(t *testing.T, data []byte) {
			assert.Contains(t, string(data), "<svg")
		}},
		{"geojson", func(t *testing.T, data []byte) {
			var fc map[string]interface{}
			require.NoError(t, json.Unmarshal(data, &fc))
			assert.Equal(t, "FeatureCollection", fc["type"])
		}},
	}

	for _, f := range formats {
		t.Run(f.format, func(t *testing.T) {
			app := NewApp()
			app.ConfigFile = writeTestConfig(t, dir, appTestConfig)
			app.DatasetFile = dsPath
			app.Format = f.format
			app.OutputFile = filepath.Join(dir, "plans", "floorplan."+f.format)
			require.NoError(t, app.renderFloorplan())

			data, err := os.ReadFile(app.OutputFile)
			require.NoError(t, err)
			f.check(t, data)
		})
	}
}

func TestApp_RenderFloorplanErrors(t *testing.T) {
	dir := t.TempDir()
	dsPath := filepath.Join(dir, "dataset.json")
	require.NoError(t, locate.SaveDataset(dsPath, gridDataset()))

	app := NewApp()
	app.ConfigFile = writeTestConfig(t, dir, appTestConfig)
	app.DatasetFile = dsPath
	app.Format = "bmp"
	app.OutputFile = filepath.Join(dir, "floorplan.bmp")
	assert.ErrorIs(t, app.renderFloorplan(), locate.ErrConfig)

	unlabelled := gridDataset()
	unlabelled.Labels = nil
	require.NoError(t, locate.SaveDataset(dsPath, unlabelled))
	app.Format = "png"
	assert.ErrorIs(t, app.renderFloorplan(), locate.ErrNoObservations)
}

func TestApp_ImportLegacy(t *testing.T) {
	dir := t.TempDir()
	legacyPath := filepath.Join(dir, "legacy.json")
	legacy := `{"somData":{"data":[[-40,-80],[-80,-40]],"label":["kitchen",7]}}`
	require.NoError(t, os.WriteFile(legacyPath, []byte(legacy), 0644))

	config := "fingerprint:\n  policy: fixed\n  undetectedValue: -99\n  beacons: [aa, bb]\n"

	app := NewApp()
	app.ConfigFile = writeTestConfig(t, dir, config)
	app.LegacyFile = legacyPath
	app.OutputFile = filepath.Join(dir, "dataset.json")
	require.NoError(t, app.importLegacy())

	ds, err := locate.LoadDataset(app.OutputFile)
	require.NoError(t, err)
	undetected := -99.0
	want := &locate.Dataset{
		Fingerprints:    []locate.Fingerprint{{-40, -80}, {-80, -40}},
		Labels:          []string{"kitchen", "7"},
		Beacons:         []string{"aa", "bb"},
		UndetectedValue: &undetected,
	}
	if diff := cmp.Diff(want, ds); diff != "" {
		t.Errorf("imported dataset mismatch (-want +got):\n%s", diff)
	}
}

func TestApp_ImportLegacyWithoutConfig(t *testing.T) {
	dir := t.TempDir()
	legacyPath := filepath.Join(dir, "legacy.json")
	require.NoError(t, os.WriteFile(legacyPath, []byte(`{"somData":{"data":[[1,2]],"label":["a"]}}`), 0644))

	app := NewApp()
	app.ConfigFile = filepath.Join(dir, "missing.yaml")
	app.LegacyFile = legacyPath
	app.OutputFile = filepath.Join(dir, "dataset.json")
	require.NoError(t, app.importLegacy())

	ds, err := locate.LoadDataset(app.OutputFile)
	require.NoError(t, err)
	assert.Empty(t, ds.Beacons)

	app.LegacyFile = ""
	assert.ErrorIs(t, app.importLegacy(), locate.ErrConfig)
}

func TestApp_LoadLocator(t *testing.T) {
	dir := t.TempDir()

	app := NewApp()
	app.Config = &locate.Config{Classifier: locate.ClassifierConfig{Neighbors: 3}}
	app.DatasetFile = filepath.Join(dir, "missing.json")
	require.NoError(t, app.loadLocator(), "a missing dataset is not fatal")
	assert.Nil(t, app.StateTracker.Locator())

	app.DatasetFile = filepath.Join(dir, "dataset.json")
	require.NoError(t, locate.SaveDataset(app.DatasetFile, gridDataset()))
	require.NoError(t, app.loadLocator())

	locator := app.StateTracker.Locator()
	require.NotNil(t, locator)
	assert.Equal(t, []string{"kitchen", "living"}, locator.Rooms())
	assert.NotNil(t, locator.Floorplan())
}

func TestApp_LoadLocatorWithoutBeacons(t *testing.T) {
	dir := t.TempDir()
	ds := gridDataset()
	ds.Beacons = nil

	app := NewApp()
	app.Config = &locate.Config{}
	app.DatasetFile = filepath.Join(dir, "dataset.json")
	require.NoError(t, locate.SaveDataset(app.DatasetFile, ds))
	assert.ErrorIs(t, app.loadLocator(), locate.ErrConfig)
}

func newServiceTestApp(t *testing.T) (*App, *locate.MockClient) {
	t.Helper()
	dir := t.TempDir()

	config, err := locate.LoadConfig(writeTestConfig(t, dir, appTestConfig))
	require.NoError(t, err)

	app := NewApp()
	app.Config = config
	app.DatasetFile = filepath.Join(dir, "dataset.json")
	require.NoError(t, locate.SaveDataset(app.DatasetFile, gridDataset()))
	require.NoError(t, app.loadLocator())

	store, err := locate.OpenObservationStore(filepath.Join(dir, "obs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	app.Store = store

	mock := locate.NewMockClient()
	mock.SetConnected(true)
	app.Publisher = locate.NewPublisher(mock, "test/rooms")
	return app, mock
}

func TestApp_HandleObservation(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	app, mock := newServiceTestApp(t)

	app.handleObservation("phone", &locate.ObservationMessage{
		Scanner: "phone",
		Room:    "living",
		RSSI:    locate.Observation{"b1": -30, "b2": -30, "b3": -80},
	}, nil)

	n, err := app.Store.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "labelled observation from a recording scanner is stored")

	locs := app.StateTracker.GetLocations()
	require.Contains(t, locs, "phone")
	assert.Equal(t, "living", locs["phone"].Room)
	assert.NotNil(t, locs["phone"].Position)

	published := mock.PublishedTo("test/rooms/phone")
	require.Len(t, published, 1)
	var loc locate.Location
	require.NoError(t, json.Unmarshal(published[0].Payload, &loc))
	assert.Equal(t, "living", loc.Room)
	assert.Len(t, mock.PublishedTo("test/rooms/locations"), 1)
}

func TestApp_HandleObservationNotRecorded(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	app, mock := newServiceTestApp(t)

	// watch does not record, and the phone message carries no room
	app.handleObservation("watch", &locate.ObservationMessage{
		Scanner: "watch", Room: "kitchen", RSSI: locate.Observation{"b1": -40},
	}, nil)
	app.handleObservation("phone", &locate.ObservationMessage{
		Scanner: "phone", RSSI: locate.Observation{"b1": -40},
	}, nil)

	n, err := app.Store.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, app.StateTracker.GetLocations(), 2)
	assert.Len(t, mock.PublishedTo("test/rooms/locations"), 2)
}

func TestApp_HandleObservationErrors(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	app, mock := newServiceTestApp(t)

	app.handleObservation("phone", nil, errors.New("bad payload"))
	assert.Empty(t, app.StateTracker.GetLocations())

	// Without a trained locator nothing is published
	app.StateTracker.SetLocator(nil)
	app.handleObservation("watch", &locate.ObservationMessage{Scanner: "watch", RSSI: locate.Observation{}}, nil)
	assert.Empty(t, app.StateTracker.GetLocations())
	assert.Empty(t, mock.Published())
}

func TestApp_StartServiceWithoutTransports(t *testing.T) {
	dir := t.TempDir()
	dsPath := filepath.Join(dir, "dataset.json")
	require.NoError(t, locate.SaveDataset(dsPath, gridDataset()))

	config := fmt.Sprintf("%sdataset: %q\nstore:\n  path: %q\n", appTestConfig, dsPath, filepath.Join(dir, "obs.db"))

	app := NewApp()
	app.ConfigFile = writeTestConfig(t, dir, config)
	app.MqttMode = false
	app.HttpMode = false
	require.NoError(t, app.startService())
	defer app.stopService()

	assert.NotNil(t, app.StateTracker.Locator())
	assert.NotNil(t, app.Store, "phone records, so the store is opened")
	assert.Nil(t, app.MQTTClient)
	assert.Equal(t, "#FF0000", app.StateTracker.RoomColors()["kitchen"])
}

func TestApp_StartServiceRequiresBroker(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	dir := t.TempDir()

	app := NewApp()
	app.ConfigFile = writeTestConfig(t, dir, "fingerprint:\n  policy: all\n")
	app.DatasetFile = filepath.Join(dir, "missing.json")
	app.MqttMode = true
	assert.ErrorIs(t, app.startService(), locate.ErrConfig)
}

func TestRoomDisplayName(t *testing.T) {
	config := &locate.Config{Rooms: []locate.RoomConfig{
		{ID: "kitchen", Name: "Kitchen"},
		{ID: "office"},
	}}
	assert.Equal(t, "Kitchen", roomDisplayName(config, "kitchen"))
	assert.Equal(t, "office", roomDisplayName(config, "office"))
	assert.Equal(t, "attic", roomDisplayName(config, "attic"))
}

func TestApp_HandleObservationPublishErrorLoggedOnce(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	app, mock := newServiceTestApp(t)
	mock.SetPublishError(errors.New("broker full"))

	var logs bytes.Buffer
	log.SetOutput(&logs)
	defer log.SetOutput(os.Stderr)

	app.handleObservation("watch", &locate.ObservationMessage{
		Scanner: "watch", RSSI: locate.Observation{"b1": -30, "b2": -30, "b3": -80},
	}, nil)

	assert.Equal(t, 1, strings.Count(logs.String(), "broker full"), "logs:\n%s", logs.String())
	assert.Contains(t, logs.String(), "Error publishing location for watch")
}

func TestRecordsAny(t *testing.T) {
	assert.False(t, recordsAny(&locate.Config{}))
	assert.False(t, recordsAny(&locate.Config{Scanners: []locate.ScannerConfig{{ID: "a"}}}))
	assert.True(t, recordsAny(&locate.Config{Scanners: []locate.ScannerConfig{{ID: "a"}, {ID: "b", Record: true}}}))
}
