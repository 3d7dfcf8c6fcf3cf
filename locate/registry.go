package locate

import (
	"fmt"
	"sort"
)

// DefaultUndetectedValue is the RSSI assigned to beacons missing from an
// observation. It sits below the realistic RSSI range so it reads as
// "not observed" rather than as a weak signal.
const DefaultUndetectedValue = -100.0

// BeaconRegistry turns variable, unordered observations into fixed-length
// fingerprints. The beacon set is chosen once, either at construction
// (fixed policy) or by the first Fit, and is frozen afterwards so every
// fingerprint it produces shares the same axes.
//
// A registry is not safe for concurrent use while Fit is running.
type BeaconRegistry struct {
	policy          SelectionPolicy
	undetectedValue float64
	beacons         []string
	frozen          bool
}

// RegistryOption configures a BeaconRegistry
type RegistryOption func(*BeaconRegistry)

// WithUndetectedValue sets the fill value for beacons absent from an observation.
func WithUndetectedValue(v float64) RegistryOption {
	return func(r *BeaconRegistry) {
		r.undetectedValue = v
	}
}

// NewBeaconRegistry creates a registry using the given selection policy.
// A fixed policy establishes the beacon set immediately.
func NewBeaconRegistry(policy SelectionPolicy, opts ...RegistryOption) (*BeaconRegistry, error) {
	if err := policy.validate(); err != nil {
		return nil, err
	}

	r := &BeaconRegistry{
		policy:          policy,
		undetectedValue: DefaultUndetectedValue,
	}
	for _, opt := range opts {
		opt(r)
	}

	if policy.kind == PolicyFixed {
		r.beacons = policy.Beacons()
		r.frozen = true
	}

	return r, nil
}

// Fit selects the beacon set from the observations using the configured policy.
func (r *BeaconRegistry) Fit(observations []Observation) error {
	return r.FitWithPolicy(observations, r.policy)
}

// FitWithPolicy is like Fit but selects with the given policy, which
// replaces the configured one when the fit succeeds.
//
// A fixed policy is a no-op once a beacon set exists. The data-driven
// policies return ErrBeaconSetFrozen in that case.
func (r *BeaconRegistry) FitWithPolicy(observations []Observation, policy SelectionPolicy) error {
	if err := policy.validate(); err != nil {
		return err
	}

	if policy.kind == PolicyFixed {
		if r.frozen {
			return nil
		}
		r.beacons = policy.Beacons()
		r.policy = policy
		r.frozen = true
		return nil
	}

	if r.frozen {
		return fmt.Errorf("%w: cannot refit with policy %s", ErrBeaconSetFrozen, policy)
	}
	if len(observations) == 0 {
		return fmt.Errorf("%w: policy %s needs at least one observation", ErrNoObservations, policy)
	}

	var selected map[string]struct{}
	switch policy.kind {
	case PolicyAlwaysVisible:
		selected = intersectBeacons(observations)
	case PolicyAll:
		selected = unionBeacons(observations)
	}

	r.beacons = sortedKeys(selected)
	r.policy = policy
	r.frozen = true
	return nil
}

// Transform encodes each observation against the beacon set. Before a
// beacon set exists every fingerprint is empty.
func (r *BeaconRegistry) Transform(observations []Observation) []Fingerprint {
	out := make([]Fingerprint, len(observations))
	for i, obs := range observations {
		out[i] = r.TransformOne(obs)
	}
	return out
}

// TransformOne encodes a single observation
func (r *BeaconRegistry) TransformOne(obs Observation) Fingerprint {
	fp := make(Fingerprint, len(r.beacons))
	for i, id := range r.beacons {
		if rssi, ok := obs[id]; ok {
			fp[i] = rssi
		} else {
			fp[i] = r.undetectedValue
		}
	}
	return fp
}

// Beacons returns a copy of the current beacon set in axis order
func (r *BeaconRegistry) Beacons() []string {
	return append([]string(nil), r.beacons...)
}

// Dims returns the fingerprint length
func (r *BeaconRegistry) Dims() int {
	return len(r.beacons)
}

// Fitted returns true once the beacon set has been established
func (r *BeaconRegistry) Fitted() bool {
	return r.frozen
}

// Policy returns the active selection policy
func (r *BeaconRegistry) Policy() SelectionPolicy {
	return r.policy
}

// UndetectedValue returns the fill value for missing beacons
func (r *BeaconRegistry) UndetectedValue() float64 {
	return r.undetectedValue
}

// intersectBeacons folds the observations into the set of beacons present
// in all of them.
func intersectBeacons(observations []Observation) map[string]struct{} {
	common := make(map[string]struct{}, len(observations[0]))
	for id := range observations[0] {
		common[id] = struct{}{}
	}
	for _, obs := range observations[1:] {
		next := make(map[string]struct{}, len(common))
		for id := range common {
			if _, ok := obs[id]; ok {
				next[id] = struct{}{}
			}
		}
		common = next
	}
	return common
}

func unionBeacons(observations []Observation) map[string]struct{} {
	all := make(map[string]struct{})
	for _, obs := range observations {
		for id := range obs {
			all[id] = struct{}{}
		}
	}
	return all
}

func sortedKeys(set map[string]struct{}) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
