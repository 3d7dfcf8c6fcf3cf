package locate

import (
	"fmt"
	"sort"
	"strings"
)

// Evaluation summarises classifier performance on a labelled dataset
type Evaluation struct {
	Rooms []string `json:"rooms"`
	// Confusion[i][j] counts samples of Rooms[i] predicted as Rooms[j].
	Confusion   [][]int `json:"confusion"`
	Accuracy    float64 `json:"accuracy"`
	OutlierRate float64 `json:"outlierRate"`
	Samples     int     `json:"samples"`
}

// Evaluate predicts every fingerprint and compares against labels
func Evaluate(clf *RoomClassifier, fingerprints []Fingerprint, labels []string) (*Evaluation, error) {
	if len(labels) != len(fingerprints) {
		return nil, fmt.Errorf("got %d labels for %d fingerprints", len(labels), len(fingerprints))
	}
	if len(fingerprints) == 0 {
		return nil, fmt.Errorf("%w: nothing to evaluate", ErrNoObservations)
	}

	predicted, err := clf.Predict(fingerprints)
	if err != nil {
		return nil, err
	}
	outliers, err := clf.PredictOutlier(fingerprints)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{})
	for i := range labels {
		set[labels[i]] = struct{}{}
		set[predicted[i]] = struct{}{}
	}
	rooms := sortedKeys(set)
	pos := make(map[string]int, len(rooms))
	for i, r := range rooms {
		pos[r] = i
	}

	eval := &Evaluation{
		Rooms:     rooms,
		Confusion: make([][]int, len(rooms)),
		Samples:   len(fingerprints),
	}
	for i := range eval.Confusion {
		eval.Confusion[i] = make([]int, len(rooms))
	}

	correct, flagged := 0, 0
	for i := range labels {
		eval.Confusion[pos[labels[i]]][pos[predicted[i]]]++
		if labels[i] == predicted[i] {
			correct++
		}
		if outliers[i] {
			flagged++
		}
	}
	eval.Accuracy = float64(correct) / float64(len(labels))
	eval.OutlierRate = float64(flagged) / float64(len(labels))
	return eval, nil
}

// Recall returns the fraction of a room's samples predicted correctly
func (e *Evaluation) Recall(room string) float64 {
	i := sort.SearchStrings(e.Rooms, room)
	if i >= len(e.Rooms) || e.Rooms[i] != room {
		return 0
	}
	total := 0
	for _, n := range e.Confusion[i] {
		total += n
	}
	if total == 0 {
		return 0
	}
	return float64(e.Confusion[i][i]) / float64(total)
}

// String renders the confusion matrix as a text table with per-room recall
func (e *Evaluation) String() string {
	width := len("actual")
	for _, r := range e.Rooms {
		if len(r) > width {
			width = len(r)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "samples=%d accuracy=%.3f outliers=%.3f\n", e.Samples, e.Accuracy, e.OutlierRate)
	fmt.Fprintf(&b, "%-*s", width, "actual")
	for _, r := range e.Rooms {
		fmt.Fprintf(&b, " %*s", width, r)
	}
	fmt.Fprintf(&b, " %*s\n", width, "recall")
	for i, r := range e.Rooms {
		fmt.Fprintf(&b, "%-*s", width, r)
		for _, n := range e.Confusion[i] {
			fmt.Fprintf(&b, " %*d", width, n)
		}
		fmt.Fprintf(&b, " %*.3f\n", width, e.Recall(r))
	}
	return b.String()
}
