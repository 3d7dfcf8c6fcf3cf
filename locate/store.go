package locate

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// schema.sql creates the observation table and its indexes.
//
//go:embed schema.sql
var schemaSQL string

// ObservationStore persists raw scanner observations in SQLite so that
// labelled scans can be replayed into a training dataset.
type ObservationStore struct {
	db *sql.DB
}

// OpenObservationStore opens (creating if needed) the database at path
func OpenObservationStore(path string) (*ObservationStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening observation store: %w", err)
	}
	// A single connection keeps :memory: databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing observation schema: %w", err)
	}
	return &ObservationStore{db: db}, nil
}

// Close releases the database
func (s *ObservationStore) Close() error {
	return s.db.Close()
}

// Record stores one observation message and returns its generated id
func (s *ObservationStore) Record(msg *ObservationMessage) (string, error) {
	if msg == nil || msg.Scanner == "" {
		return "", fmt.Errorf("observation has no scanner id")
	}
	rssi, err := json.Marshal(msg.RSSI)
	if err != nil {
		return "", fmt.Errorf("marshaling rssi: %w", err)
	}

	id := uuid.NewString()
	_, err = s.db.Exec(
		`INSERT INTO observations (observation_id, scanner_id, room, timestamp, rssi_json) VALUES (?, ?, ?, ?, ?)`,
		id, msg.Scanner, msg.Room, msg.Timestamp, string(rssi),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert observation: %w", err)
	}
	return id, nil
}

// Labelled returns every observation that carries a room label, oldest first
func (s *ObservationStore) Labelled() ([]Observation, []string, error) {
	rows, err := s.db.Query(
		`SELECT room, rssi_json FROM observations WHERE room != '' ORDER BY timestamp, rowid`,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("querying labelled observations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var observations []Observation
	var labels []string
	for rows.Next() {
		var room, raw string
		if err := rows.Scan(&room, &raw); err != nil {
			return nil, nil, fmt.Errorf("scanning observation: %w", err)
		}
		var obs Observation
		if err := json.Unmarshal([]byte(raw), &obs); err != nil {
			return nil, nil, fmt.Errorf("decoding stored rssi: %w", err)
		}
		observations = append(observations, obs)
		labels = append(labels, room)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return observations, labels, nil
}

// Count returns the number of stored observations
func (s *ObservationStore) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM observations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting observations: %w", err)
	}
	return n, nil
}

// RoomCounts returns the number of labelled observations per room
func (s *ObservationStore) RoomCounts() (map[string]int, error) {
	rows, err := s.db.Query(
		`SELECT room, COUNT(*) FROM observations WHERE room != '' GROUP BY room`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying room counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var room string
		var n int
		if err := rows.Scan(&room, &n); err != nil {
			return nil, fmt.Errorf("scanning room count: %w", err)
		}
		counts[room] = n
	}
	return counts, rows.Err()
}
