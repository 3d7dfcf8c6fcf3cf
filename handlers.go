package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/kwv/roomprint/locate"
)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(stateTracker *locate.StateTracker, config *locate.Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		locator := stateTracker.Locator()
		locations := stateTracker.GetLocations()
		observations := make(map[string]int, len(locations))
		for id := range locations {
			observations[id] = stateTracker.ObservationCount(id)
		}
		status := struct {
			Status       string         `json:"status"`
			Timestamp    time.Time      `json:"timestamp"`
			HasModel     bool           `json:"hasModel"`
			HasFloorplan bool           `json:"hasFloorplan"`
			Scanners     int            `json:"scanners"`
			Observations map[string]int `json:"observations"`
		}{
			Status:       "ok",
			Timestamp:    time.Now(),
			HasModel:     locator != nil,
			HasFloorplan: locator != nil && locator.Floorplan() != nil,
			Scanners:     len(locations),
			Observations: observations,
		}
		writeJSON(w, status)
	})

	mux.HandleFunc("/locations", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, stateTracker.GetLocations())
	})

	mux.HandleFunc("/beacons", func(w http.ResponseWriter, r *http.Request) {
		locator := stateTracker.Locator()
		if locator == nil {
			http.Error(w, "No model trained", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, struct {
			Beacons          []string `json:"beacons"`
			Rooms            []string `json:"rooms"`
			OutlierThreshold float64  `json:"outlierThreshold"`
		}{
			Beacons:          locator.Beacons(),
			Rooms:            locator.Rooms(),
			OutlierThreshold: locator.Classifier().OutlierThreshold(),
		})
	})

	mux.HandleFunc("/floorplan.png", func(w http.ResponseWriter, r *http.Request) {
		est := currentFloorplan(w, stateTracker)
		if est == nil {
			return
		}
		renderer, err := locate.NewFloorplanRenderer(est, stateTracker.RoomColors())
		if err != nil {
			log.Printf("Error preparing floorplan: %v", err)
			http.Error(w, "Floorplan unavailable", http.StatusInternalServerError)
			return
		}
		renderer.Live = stateTracker.GetLocations()
		serveRendered(w, "image/png", renderer.WritePNG)
	})

	mux.HandleFunc("/floorplan.svg", func(w http.ResponseWriter, r *http.Request) {
		est := currentFloorplan(w, stateTracker)
		if est == nil {
			return
		}
		renderer, err := locate.NewVectorFloorplanRenderer(est, stateTracker.RoomColors())
		if err != nil {
			log.Printf("Error preparing floorplan: %v", err)
			http.Error(w, "Floorplan unavailable", http.StatusInternalServerError)
			return
		}
		renderer.Live = stateTracker.GetLocations()
		serveRendered(w, "image/svg+xml", renderer.RenderToSVG)
	})

	mux.HandleFunc("/floorplan.geojson", func(w http.ResponseWriter, r *http.Request) {
		est := currentFloorplan(w, stateTracker)
		if est == nil {
			return
		}
		data, err := locate.FloorplanGeoJSON(est, stateTracker.RoomColors())
		if err != nil {
			log.Printf("Error building floorplan GeoJSON: %v", err)
			http.Error(w, "Floorplan unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(data)
	})

	if config != nil {
		mux.HandleFunc("/rooms", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, config.Rooms)
		})
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}

// currentFloorplan returns the fitted floorplan or writes a 503
func currentFloorplan(w http.ResponseWriter, st *locate.StateTracker) *locate.FloorplanEstimator {
	locator := st.Locator()
	if locator == nil || locator.Floorplan() == nil {
		http.Error(w, "No floorplan available", http.StatusServiceUnavailable)
		return nil
	}
	return locator.Floorplan()
}

// serveRendered renders into a buffer so failures can still produce a 500
func serveRendered(w http.ResponseWriter, contentType string, render func(w io.Writer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		log.Printf("Error rendering %s: %v", contentType, err)
		http.Error(w, "Render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(buf.Bytes())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}
