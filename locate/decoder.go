package locate

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"math"
)

// DecodeObservation decodes a scanner payload. Accepted forms:
//   - an ObservationMessage envelope with an "rssi" object
//   - a bare {"beacon": rssi, ...} object
//   - a list of {"id"|"mac": ..., "rssi": ...} entries
//   - any of the above, zlib-compressed
//
// scannerID fills in the scanner when the payload does not name one.
func DecodeObservation(data []byte, scannerID string) (*ObservationMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty observation payload")
	}

	if data[0] != '{' && data[0] != '[' {
		inflated, err := inflateZlib(data)
		if err != nil {
			return nil, fmt.Errorf("unknown format: not JSON or zlib-compressed JSON")
		}
		data = bytes.TrimSpace(inflated)
		if len(data) == 0 {
			return nil, fmt.Errorf("decoded observation payload is empty")
		}
	}

	var msg *ObservationMessage
	var err error
	switch data[0] {
	case '{':
		msg, err = decodeObservationObject(data)
	case '[':
		msg, err = decodeObservationList(data)
	default:
		err = fmt.Errorf("observation payload is not a JSON object or array")
	}
	if err != nil {
		return nil, err
	}

	if msg.Scanner == "" {
		msg.Scanner = scannerID
	}
	for id, v := range msg.RSSI {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("beacon %s has non-finite rssi", id)
		}
	}
	return msg, nil
}

func decodeObservationObject(data []byte) (*ObservationMessage, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parsing observation JSON: %w", err)
	}

	if _, ok := probe["rssi"]; ok {
		var msg ObservationMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("parsing observation envelope: %w", err)
		}
		if msg.RSSI == nil {
			msg.RSSI = Observation{}
		}
		return &msg, nil
	}

	obs := make(Observation, len(probe))
	for id, raw := range probe {
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("beacon %s: rssi is not a number", id)
		}
		obs[id] = v
	}
	return &ObservationMessage{RSSI: obs}, nil
}

type beaconReading struct {
	ID   string   `json:"id"`
	MAC  string   `json:"mac"`
	RSSI *float64 `json:"rssi"`
}

func decodeObservationList(data []byte) (*ObservationMessage, error) {
	var readings []beaconReading
	if err := json.Unmarshal(data, &readings); err != nil {
		return nil, fmt.Errorf("parsing beacon list: %w", err)
	}

	obs := make(Observation, len(readings))
	for i, r := range readings {
		id := r.ID
		if id == "" {
			id = r.MAC
		}
		if id == "" {
			return nil, fmt.Errorf("beacon[%d] has no id", i)
		}
		if r.RSSI == nil {
			return nil, fmt.Errorf("beacon %s has no rssi", id)
		}
		// Repeated readings keep the strongest signal.
		if prev, ok := obs[id]; !ok || *r.RSSI > prev {
			obs[id] = *r.RSSI
		}
	}
	return &ObservationMessage{RSSI: obs}, nil
}

// inflateZlib decompresses zlib-compressed data
func inflateZlib(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating zlib reader: %w", err)
	}
	defer func() { _ = reader.Close() }()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompressing zlib data: %w", err)
	}
	return decompressed, nil
}
