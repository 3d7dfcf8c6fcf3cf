package locate

import "fmt"

// PolicyKind enumerates the beacon selection strategies
type PolicyKind int

const (
	// PolicyFixed uses a caller-supplied beacon list as is.
	PolicyFixed PolicyKind = iota + 1
	// PolicyAlwaysVisible keeps beacons present in every fitted observation.
	PolicyAlwaysVisible
	// PolicyAll keeps every beacon seen at least once.
	PolicyAll
)

// Policy names as they appear in config files
const (
	PolicyNameFixed         = "fixed"
	PolicyNameAlwaysVisible = "always_visible"
	PolicyNameAll           = "all"
)

func (k PolicyKind) String() string {
	switch k {
	case PolicyFixed:
		return PolicyNameFixed
	case PolicyAlwaysVisible:
		return PolicyNameAlwaysVisible
	case PolicyAll:
		return PolicyNameAll
	default:
		return fmt.Sprintf("PolicyKind(%d)", int(k))
	}
}

// SelectionPolicy decides which beacons become fingerprint dimensions.
// Only the fixed policy carries data (its beacon list). The zero value is
// not a valid policy.
type SelectionPolicy struct {
	kind    PolicyKind
	beacons []string
}

// Fixed returns a policy that always uses the given beacons, in order.
func Fixed(beacons ...string) SelectionPolicy {
	return SelectionPolicy{kind: PolicyFixed, beacons: append([]string(nil), beacons...)}
}

// AlwaysVisible returns a policy that keeps beacons seen in every observation.
func AlwaysVisible() SelectionPolicy {
	return SelectionPolicy{kind: PolicyAlwaysVisible}
}

// All returns a policy that keeps every beacon observed at least once.
func All() SelectionPolicy {
	return SelectionPolicy{kind: PolicyAll}
}

// ParsePolicy builds a policy from its config name. Beacons are only
// used (and required) for "fixed".
func ParsePolicy(name string, beacons []string) (SelectionPolicy, error) {
	var p SelectionPolicy
	switch name {
	case PolicyNameFixed:
		p = Fixed(beacons...)
	case PolicyNameAlwaysVisible:
		p = AlwaysVisible()
	case PolicyNameAll:
		p = All()
	default:
		return SelectionPolicy{}, fmt.Errorf("%w: unknown beacon selection policy %q", ErrConfig, name)
	}
	if err := p.validate(); err != nil {
		return SelectionPolicy{}, err
	}
	return p, nil
}

// Kind returns the policy variant
func (p SelectionPolicy) Kind() PolicyKind {
	return p.kind
}

// Beacons returns a copy of the fixed beacon list (nil for other kinds)
func (p SelectionPolicy) Beacons() []string {
	if p.beacons == nil {
		return nil
	}
	return append([]string(nil), p.beacons...)
}

func (p SelectionPolicy) String() string {
	return p.kind.String()
}

func (p SelectionPolicy) validate() error {
	switch p.kind {
	case PolicyAlwaysVisible, PolicyAll:
		return nil
	case PolicyFixed:
		if len(p.beacons) == 0 {
			return fmt.Errorf("%w: beacons have to be provided when using a fixed set of beacons", ErrConfig)
		}
		seen := make(map[string]struct{}, len(p.beacons))
		for i, id := range p.beacons {
			if id == "" {
				return fmt.Errorf("%w: beacons[%d] is empty", ErrConfig, i)
			}
			if _, dup := seen[id]; dup {
				return fmt.Errorf("%w: duplicate beacon %q", ErrConfig, id)
			}
			seen[id] = struct{}{}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown beacon selection policy %s", ErrConfig, p.kind)
	}
}
