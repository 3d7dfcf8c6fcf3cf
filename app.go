package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"syscall"

	"github.com/kwv/roomprint/locate"
)

const (
	defaultDatasetFile = "dataset.json"
	defaultStorePath   = "roomprint.db"
)

// App encapsulates the application state and dependencies
type App struct {
	Config       *locate.Config
	StateTracker *locate.StateTracker
	MQTTClient   *locate.MQTTClient
	Publisher    *locate.Publisher
	Store        *locate.ObservationStore

	ConfigFile  string
	DatasetFile string
	StorePath   string
	OutputFile  string
	Format      string
	EvalDataset string
	PlotFile    string
	LegacyFile  string
	HttpPort    int
	MqttMode    bool
	HttpMode    bool
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		StateTracker: locate.NewStateTracker(),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.DatasetFile = opts.DatasetFile
	a.StorePath = opts.StorePath
	a.OutputFile = opts.OutputFile
	a.Format = opts.Format
	a.EvalDataset = opts.EvalDataset
	a.PlotFile = opts.PlotFile
	a.LegacyFile = opts.LegacyFile
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// RunTrain builds a fingerprint dataset from labelled observations
func (a *App) RunTrain() {
	if err := a.train(); err != nil {
		log.Fatalf("Training failed: %v", err)
	}
}

// RunEvaluate reports classifier accuracy on a labelled dataset
func (a *App) RunEvaluate() {
	if err := a.evaluate(); err != nil {
		log.Fatalf("Evaluation failed: %v", err)
	}
}

// RunFloorplan renders the estimated floorplan to a file
func (a *App) RunFloorplan() {
	if err := a.renderFloorplan(); err != nil {
		log.Fatalf("Floorplan rendering failed: %v", err)
	}
}

// RunImportLegacy converts a legacy aggregator export to a dataset
func (a *App) RunImportLegacy() {
	if err := a.importLegacy(); err != nil {
		log.Fatalf("Legacy import failed: %v", err)
	}
}

// loadConfig loads the config file once
func (a *App) loadConfig() (*locate.Config, error) {
	if a.Config != nil {
		return a.Config, nil
	}
	config, err := locate.LoadConfig(a.ConfigFile)
	if err != nil {
		return nil, err
	}
	a.Config = config
	log.Printf("Loaded config from %s", a.ConfigFile)
	return config, nil
}

// datasetPath resolves the dataset: flag, then config, then default
func (a *App) datasetPath() string {
	if a.DatasetFile != "" {
		return a.DatasetFile
	}
	if a.Config != nil && a.Config.Dataset != "" {
		return a.Config.Dataset
	}
	return defaultDatasetFile
}

// storePath resolves the observation database: flag, then config, then default
func (a *App) storePath() string {
	if a.StorePath != "" {
		return a.StorePath
	}
	if a.Config != nil && a.Config.Store.Path != "" {
		return a.Config.Store.Path
	}
	return defaultStorePath
}

func (a *App) train() error {
	config, err := a.loadConfig()
	if err != nil {
		return err
	}

	store, err := locate.OpenObservationStore(a.storePath())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	observations, labels, err := store.Labelled()
	if err != nil {
		return err
	}
	total, err := store.Count()
	if err != nil {
		return err
	}
	log.Printf("Loaded %d labelled observations (%d stored) from %s", len(observations), total, a.storePath())

	registry, err := locate.NewBeaconRegistryFromConfig(config.Fingerprint)
	if err != nil {
		return err
	}
	if err := registry.Fit(observations); err != nil {
		return fmt.Errorf("selecting beacons: %w", err)
	}
	if registry.Dims() == 0 {
		return fmt.Errorf("%w: no beacon is common to all observations", locate.ErrNoObservations)
	}

	undetected := registry.UndetectedValue()
	ds := &locate.Dataset{
		Fingerprints:    registry.Transform(observations),
		Labels:          labels,
		Beacons:         registry.Beacons(),
		UndetectedValue: &undetected,
	}

	out := a.OutputFile
	if out == "" {
		out = a.datasetPath()
	}
	if err := locate.SaveDataset(out, ds); err != nil {
		return err
	}

	counts, err := store.RoomCounts()
	if err != nil {
		return err
	}
	rooms := make([]string, 0, len(counts))
	for r := range counts {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)

	fmt.Printf("Wrote %d fingerprints over %d beacons (%s policy) to %s\n",
		len(ds.Fingerprints), len(ds.Beacons), registry.Policy(), out)
	for _, r := range rooms {
		fmt.Printf("  %-20s %d\n", roomDisplayName(config, r), counts[r])
	}
	return nil
}

// roomDisplayName returns the configured name of a room, or its label
func roomDisplayName(config *locate.Config, room string) string {
	if rc := config.GetRoomByID(room); rc != nil && rc.Name != "" {
		return rc.Name
	}
	return room
}

func (a *App) evaluate() error {
	config, err := a.loadConfig()
	if err != nil {
		return err
	}

	training, err := locate.LoadDataset(a.datasetPath())
	if err != nil {
		return err
	}
	locator, err := locate.BuildLocator(training, config.Classifier.ClassifierOptions()...)
	if err != nil {
		return err
	}

	held := training
	if a.EvalDataset != "" {
		if held, err = locate.LoadDataset(a.EvalDataset); err != nil {
			return err
		}
		if err := held.Validate(); err != nil {
			return err
		}
		if len(held.Beacons) > 0 && !slices.Equal(held.Beacons, training.Beacons) {
			return fmt.Errorf("%w: evaluation dataset uses a different beacon set", locate.ErrDimensionMismatch)
		}
	} else {
		log.Println("Warning: no --eval-dataset given, evaluating on the training data")
	}

	eval, err := locate.Evaluate(locator.Classifier(), held.Fingerprints, held.Labels)
	if err != nil {
		return err
	}
	fmt.Print(eval.String())

	if a.PlotFile != "" {
		if err := locate.SaveConfusionPlot(eval, a.PlotFile); err != nil {
			return err
		}
		fmt.Printf("Confusion plot saved to %s\n", a.PlotFile)
	}
	return nil
}

// fitFloorplan fits a floorplan estimator on a labelled dataset
func fitFloorplan(ds *locate.Dataset, fc locate.FloorplanConfig) (*locate.FloorplanEstimator, error) {
	if !ds.Labelled() {
		return nil, fmt.Errorf("%w: dataset has no labelled fingerprints", locate.ErrNoObservations)
	}
	est, err := locate.NewFloorplanEstimatorFromConfig(fc)
	if err != nil {
		return nil, err
	}
	if err := est.Fit(ds.Fingerprints, ds.Labels); err != nil {
		return nil, err
	}
	return est, nil
}

func (a *App) renderFloorplan() error {
	config, err := a.loadConfig()
	if err != nil {
		return err
	}
	ds, err := locate.LoadDataset(a.datasetPath())
	if err != nil {
		return err
	}
	if err := ds.Validate(); err != nil {
		return err
	}
	est, err := fitFloorplan(ds, config.Floorplan)
	if err != nil {
		return err
	}

	format := strings.ToLower(a.Format)
	out := a.OutputFile
	if out == "" {
		ext := format
		if format == "vector-png" {
			ext = "png"
		}
		out = "floorplan." + ext
	}

	if err := writeFloorplan(out, format, est, config.RoomColors()); err != nil {
		return err
	}
	fmt.Printf("Floorplan saved to %s\n", out)
	return nil
}

// writeFloorplan writes the floorplan in the requested format
func writeFloorplan(path, format string, est *locate.FloorplanEstimator, colors map[string]string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}

	switch format {
	case "png":
		renderer, err := locate.NewFloorplanRenderer(est, colors)
		if err != nil {
			return err
		}
		return renderer.SavePNG(path)
	case "geojson":
		data, err := locate.FloorplanGeoJSON(est, colors)
		if err != nil {
			return err
		}
		return os.WriteFile(path, data, 0644)
	case "svg", "vector-png":
		renderer, err := locate.NewVectorFloorplanRenderer(est, colors)
		if err != nil {
			return err
		}
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		if format == "svg" {
			return renderer.RenderToSVG(f)
		}
		return renderer.RenderToPNG(f)
	default:
		return fmt.Errorf("%w: unknown floorplan format %q", locate.ErrConfig, format)
	}
}

func (a *App) importLegacy() error {
	if a.LegacyFile == "" {
		return fmt.Errorf("%w: --legacy is required", locate.ErrConfig)
	}
	ds, err := locate.LoadDataset(a.LegacyFile)
	if err != nil {
		return err
	}

	// A fixed beacon list in the config names the legacy axes.
	if len(ds.Beacons) == 0 && a.ConfigFile != "" {
		if _, statErr := os.Stat(a.ConfigFile); statErr == nil {
			config, err := a.loadConfig()
			if err != nil {
				return err
			}
			if len(config.Fingerprint.Beacons) > 0 {
				ds.Beacons = append([]string(nil), config.Fingerprint.Beacons...)
				if config.Fingerprint.UndetectedValue != nil {
					v := *config.Fingerprint.UndetectedValue
					ds.UndetectedValue = &v
				}
			}
		}
	}
	if err := ds.Validate(); err != nil {
		return err
	}

	out := a.OutputFile
	if out == "" {
		out = a.datasetPath()
	}
	if err := locate.SaveDataset(out, ds); err != nil {
		return err
	}
	fmt.Printf("Imported %d fingerprints from %s to %s\n", len(ds.Fingerprints), a.LegacyFile, out)
	if len(ds.Beacons) == 0 {
		log.Println("Warning: imported dataset does not name its beacons; set fingerprint.beacons and re-import before serving")
	}
	return nil
}

// RunService loads the model and serves locations over MQTT and HTTP
func (a *App) RunService() {
	if err := a.startService(); err != nil {
		log.Fatalf("Failed to start service: %v", err)
	}

	fmt.Println("\nPress Ctrl+C to stop")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down service...")
	a.stopService()
	fmt.Println("Service stopped")
}

// startService wires the locator, store, MQTT and HTTP without blocking
func (a *App) startService() error {
	config, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.StateTracker.SetRoomColors(config.RoomColors())

	if err := a.loadLocator(); err != nil {
		return err
	}

	if recordsAny(config) {
		store, err := locate.OpenObservationStore(a.storePath())
		if err != nil {
			return err
		}
		a.Store = store
		log.Printf("Recording labelled observations to %s", a.storePath())
	}

	if a.MqttMode {
		client, err := locate.NewMQTTClient(config, a.handleObservation)
		if err != nil {
			return err
		}
		if client == nil {
			return fmt.Errorf("%w: MQTT broker not configured", locate.ErrConfig)
		}
		a.MQTTClient = client
		a.Publisher = locate.NewPublisher(client.Client(), config.MQTT.PublishPrefix)
		fmt.Println("MQTT location publisher initialized")
		client.Start()
	}

	if a.HttpMode {
		handler := newHTTPServer(a.StateTracker, config)
		go func() {
			addr := fmt.Sprintf("0.0.0.0:%d", a.HttpPort)
			log.Printf("[HTTP] Starting server on %s", addr)
			if err := http.ListenAndServe(addr, handler); err != nil {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
		}()
	}

	a.printServiceInfo(config)
	return nil
}

// loadLocator trains the locator from the dataset. A missing dataset is
// not fatal: the service can still record observations for training.
func (a *App) loadLocator() error {
	path := a.datasetPath()
	ds, err := locate.LoadDataset(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("Warning: no dataset at %s, locations are disabled until one is trained", path)
			return nil
		}
		return err
	}

	locator, err := locate.BuildLocator(ds, a.Config.Classifier.ClassifierOptions()...)
	if err != nil {
		return err
	}
	log.Printf("Trained locator on %d fingerprints, %d beacons, rooms %v",
		len(ds.Fingerprints), len(locator.Beacons()), locator.Rooms())

	if est, err := fitFloorplan(ds, a.Config.Floorplan); err != nil {
		log.Printf("Warning: floorplan unavailable: %v", err)
	} else if err := locator.AttachFloorplan(est); err != nil {
		log.Printf("Warning: floorplan unavailable: %v", err)
	}

	a.StateTracker.SetLocator(locator)
	return nil
}

// handleObservation records and locates one scanner message
func (a *App) handleObservation(scannerID string, msg *locate.ObservationMessage, err error) {
	if err != nil {
		log.Printf("Error receiving observation for %s: %v", scannerID, err)
		return
	}

	if msg.Room != "" && a.Store != nil {
		if sc := a.Config.GetScannerByID(scannerID); sc != nil && sc.Record {
			id, err := a.Store.Record(msg)
			if err != nil {
				log.Printf("Error recording observation for %s: %v", scannerID, err)
			} else {
				log.Printf("[DEBUG] Recorded %s observation %s in room %s (%d beacons)",
					scannerID, id, msg.Room, len(msg.RSSI))
			}
		}
	}

	loc, err := a.StateTracker.Observe(msg)
	if err != nil {
		if !errors.Is(err, locate.ErrNotFitted) {
			log.Printf("Error locating %s: %v", scannerID, err)
		}
		return
	}
	log.Printf("%s: room=%s outlier=%t distance=%.2f", scannerID, loc.Room, loc.Outlier, loc.Distance)

	if a.Publisher != nil {
		if err := a.Publisher.PublishLocation(loc); err != nil {
			log.Printf("Error publishing location for %s: %v", scannerID, err)
		}
	}
}

func (a *App) stopService() {
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			log.Printf("Warning: closing observation store: %v", err)
		}
	}
}

func (a *App) printServiceInfo(config *locate.Config) {
	fmt.Println("\nService Running")
	fmt.Println("===============")

	if a.MqttMode && a.Publisher != nil {
		fmt.Println("\nMQTT:")
		fmt.Println("  Subscribed topics:")
		for _, sc := range config.Scanners {
			fmt.Printf("    - %s (%s)\n", sc.Topic, sc.ID)
		}
		fmt.Printf("  Publishing to: %s/{scannerID}\n", a.Publisher.Prefix())
		fmt.Printf("  Combined locations: %s/locations\n", a.Publisher.Prefix())
	}

	if a.HttpMode {
		fmt.Printf("\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Println("  GET /health             - Health check")
		fmt.Println("  GET /locations          - Latest location per scanner")
		fmt.Println("  GET /beacons            - Beacon set and rooms of the model")
		fmt.Println("  GET /floorplan.png      - Estimated floorplan with live scanners")
		fmt.Println("  GET /floorplan.svg      - Vector floorplan")
		fmt.Println("  GET /floorplan.geojson  - Room outlines")
	}
}

func recordsAny(config *locate.Config) bool {
	for _, sc := range config.Scanners {
		if sc.Record {
			return true
		}
	}
	return false
}
