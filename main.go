package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
	ConfigFile   string
	DatasetFile  string
	StorePath    string
	OutputFile   string
	Format       string
	EvalDataset  string
	PlotFile     string
	LegacyFile   string
	HttpPort     int
	Train        bool
	Evaluate     bool
	Floorplan    bool
	ImportLegacy bool
	MqttMode     bool
	HttpMode     bool
}

// Runner is implemented by App; tests substitute a recorder
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunTrain()
	RunEvaluate()
	RunFloorplan()
	RunImportLegacy()
	RunService()
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}
}

// run parses args and dispatches to the selected mode
func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("roomprint", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.DatasetFile, "dataset", "", "Fingerprint dataset (default: from config, else dataset.json)")
	fs.StringVar(&opts.StorePath, "store", "", "Observation database (default: from config, else roomprint.db)")
	fs.StringVar(&opts.OutputFile, "output", "", "Output file for --train, --floorplan and --import-legacy")
	fs.StringVar(&opts.Format, "format", "png", "Floorplan output format: png, svg, vector-png, geojson")
	fs.StringVar(&opts.EvalDataset, "eval-dataset", "", "Held-out dataset for --evaluate (default: the training dataset)")
	fs.StringVar(&opts.PlotFile, "plot", "", "Write a confusion matrix plot in --evaluate mode")
	fs.StringVar(&opts.LegacyFile, "legacy", "", "Legacy aggregator export for --import-legacy")
	fs.IntVar(&opts.HttpPort, "http-port", 4090, "HTTP server port")
	fs.BoolVar(&opts.Train, "train", false, "Build a fingerprint dataset from recorded observations and exit")
	fs.BoolVar(&opts.Evaluate, "evaluate", false, "Evaluate the classifier on a labelled dataset and exit")
	fs.BoolVar(&opts.Floorplan, "floorplan", false, "Render the estimated floorplan and exit")
	fs.BoolVar(&opts.ImportLegacy, "import-legacy", false, "Convert a legacy aggregator export to a dataset and exit")
	fs.BoolVar(&opts.MqttMode, "mqtt", true, "Subscribe to scanners and publish locations")
	fs.BoolVar(&opts.HttpMode, "http", true, "Serve locations and floorplans over HTTP")

	if err := fs.Parse(args); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "roomprint version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.ImportLegacy:
		app.RunImportLegacy()
	case opts.Train:
		app.RunTrain()
	case opts.Evaluate:
		app.RunEvaluate()
	case opts.Floorplan:
		app.RunFloorplan()
	default:
		_, _ = fmt.Fprintln(out, "roomprint service starting...")
		app.RunService()
	}
	return nil
}
