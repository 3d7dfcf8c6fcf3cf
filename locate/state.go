package locate

import (
	"sync"
)

// StateTracker holds the live service state served over HTTP: the current
// locator, the latest location per scanner and room colors.
type StateTracker struct {
	mu        sync.RWMutex
	locator   *Locator
	locations map[string]*Location
	colors    map[string]string
	observed  map[string]int
}

// NewStateTracker creates an empty state tracker
func NewStateTracker() *StateTracker {
	return &StateTracker{
		locations: make(map[string]*Location),
		colors:    make(map[string]string),
		observed:  make(map[string]int),
	}
}

// SetLocator swaps in a new locator. Existing locations are kept.
func (st *StateTracker) SetLocator(l *Locator) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.locator = l
}

// Locator returns the current locator, or nil before training
func (st *StateTracker) Locator() *Locator {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.locator
}

// SetRoomColors replaces the configured room colors
func (st *StateTracker) SetRoomColors(colors map[string]string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.colors = make(map[string]string, len(colors))
	for k, v := range colors {
		st.colors[k] = v
	}
}

// RoomColors returns a color for every room the locator knows
func (st *StateTracker) RoomColors() map[string]string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var rooms []string
	if st.locator != nil {
		rooms = st.locator.Rooms()
	}
	for room := range st.colors {
		rooms = append(rooms, room)
	}
	return AssignRoomColors(dedupe(rooms), st.colors)
}

// Observe locates an observation with the current locator and records the
// result. It returns ErrNotFitted when no locator is set.
func (st *StateTracker) Observe(msg *ObservationMessage) (*Location, error) {
	l := st.Locator()
	if l == nil {
		return nil, ErrNotFitted
	}
	loc, err := l.Locate(msg.Scanner, msg.RSSI, msg.Timestamp)
	if err != nil {
		return nil, err
	}
	st.UpdateLocation(loc)
	return loc, nil
}

// UpdateLocation records the latest location of a scanner
func (st *StateTracker) UpdateLocation(loc *Location) {
	st.mu.Lock()
	defer st.mu.Unlock()
	c := *loc
	st.locations[loc.ScannerID] = &c
	st.observed[loc.ScannerID]++
}

// GetLocations returns a copy of all current locations
func (st *StateTracker) GetLocations() map[string]*Location {
	st.mu.RLock()
	defer st.mu.RUnlock()

	result := make(map[string]*Location, len(st.locations))
	for k, v := range st.locations {
		c := *v
		result[k] = &c
	}
	return result
}

// ObservationCount returns how many observations a scanner has produced
func (st *StateTracker) ObservationCount(scannerID string) int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.observed[scannerID]
}

func dedupe(ids []string) []string {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return sortedKeys(set)
}
