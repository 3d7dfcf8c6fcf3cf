package locate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Dataset is a labelled fingerprint corpus. Labels may be nil or empty for
// unlabelled data; otherwise it parallels Fingerprints.
type Dataset struct {
	Fingerprints []Fingerprint `json:"fingerprints"`
	Labels       []string      `json:"label"`
	// Beacons names the fingerprint axes, when known.
	Beacons         []string `json:"beacons,omitempty"`
	UndetectedValue *float64 `json:"undetectedValue,omitempty"`
}

// SOMDataSource is implemented by legacy aggregators that export their
// recorded fingerprints as parallel data and label slices.
type SOMDataSource interface {
	SOMData() (data [][]float64, labels []string)
}

// DatasetFromSOM converts a legacy aggregator export into a Dataset
func DatasetFromSOM(src SOMDataSource) *Dataset {
	data, labels := src.SOMData()
	ds := &Dataset{Labels: labels}
	if data != nil {
		ds.Fingerprints = make([]Fingerprint, len(data))
		for i, row := range data {
			ds.Fingerprints[i] = Fingerprint(row)
		}
	}
	return ds
}

// legacySOMExport is the JSON shape written by the old aggregator
type legacySOMExport struct {
	Data  [][]float64       `json:"data"`
	Label []json.RawMessage `json:"label"`
}

// SOMData implements SOMDataSource. Numeric labels are kept as their
// decimal text.
func (l *legacySOMExport) SOMData() ([][]float64, []string) {
	if l.Label == nil {
		return l.Data, nil
	}
	labels := make([]string, len(l.Label))
	for i, raw := range l.Label {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			labels[i] = s
			continue
		}
		var n json.Number
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&n); err == nil {
			labels[i] = n.String()
			continue
		}
		labels[i] = string(raw)
	}
	return l.Data, labels
}

// UnmarshalJSON reads both the current format and legacy aggregator exports,
// which wrap data and labels in a "somData" object.
func (d *Dataset) UnmarshalJSON(data []byte) error {
	var probe struct {
		SOMData *legacySOMExport `json:"somData"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.SOMData != nil {
		*d = *DatasetFromSOM(probe.SOMData)
		return nil
	}

	type plain Dataset
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*d = Dataset(p)
	return nil
}

// Validate checks that labels parallel the fingerprints and that every
// fingerprint has the same dimensionality.
func (d *Dataset) Validate() error {
	if len(d.Labels) > 0 && len(d.Labels) != len(d.Fingerprints) {
		return fmt.Errorf("dataset has %d labels for %d fingerprints", len(d.Labels), len(d.Fingerprints))
	}
	for i, fp := range d.Fingerprints {
		if len(fp) != len(d.Fingerprints[0]) {
			return fmt.Errorf("%w: fingerprint %d has %d values, want %d",
				ErrDimensionMismatch, i, len(fp), len(d.Fingerprints[0]))
		}
	}
	if len(d.Beacons) > 0 && len(d.Fingerprints) > 0 && len(d.Beacons) != len(d.Fingerprints[0]) {
		return fmt.Errorf("%w: dataset names %d beacons for %d-value fingerprints",
			ErrDimensionMismatch, len(d.Beacons), len(d.Fingerprints[0]))
	}
	return nil
}

// Labelled reports whether the dataset carries a label per fingerprint
func (d *Dataset) Labelled() bool {
	return len(d.Fingerprints) > 0 && len(d.Labels) == len(d.Fingerprints)
}

// Undetected returns the fill value recorded with the dataset, or the default
func (d *Dataset) Undetected() float64 {
	if d.UndetectedValue != nil {
		return *d.UndetectedValue
	}
	return DefaultUndetectedValue
}

// LoadDataset reads a fingerprint dataset from a JSON file
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset file: %w", err)
	}

	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parsing dataset file: %w", err)
	}
	return &ds, nil
}

// SaveDataset writes a fingerprint dataset to a JSON file
func SaveDataset(path string, ds *Dataset) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating dataset directory: %w", err)
	}

	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling dataset: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing dataset file: %w", err)
	}
	return nil
}

