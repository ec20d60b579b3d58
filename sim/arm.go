package sim

import (
	"fmt"
	"math"
)

// ArmState represents the lifecycle state of an arm.
// The only transition is active → eliminated; it is terminal.
type ArmState string

const (
	ArmActive     ArmState = "active"
	ArmEliminated ArmState = "eliminated"
)

// Arm is a candidate predictive model competing for selection.
type Arm struct {
	ID    string   // Unique identifier, also the deterministic tie-breaker
	Model string   // Reference to the underlying model; opaque to the engine
	Cost  float64  // Fixed operational cost per use
	State ArmState // active or eliminated

	// EliminatedAt is the simulated time of elimination. Only meaningful when
	// State == ArmEliminated.
	EliminatedAt int64
}

// Registry is the static catalog of arms. Arms are never deleted; eliminated
// arms stay in the catalog for audit.
//
// Thread-safety: NOT thread-safe. The Engine serializes all access.
type Registry struct {
	arms  map[string]*Arm
	order []string // insertion order
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{arms: make(map[string]*Arm)}
}

// NewRegistryFromConfig registers every arm in cfg, in order.
func NewRegistryFromConfig(arms []ArmConfig) (*Registry, error) {
	r := NewRegistry()
	for _, a := range arms {
		if err := r.Register(a.ID, a.Model, a.Cost); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a new active arm.
func (r *Registry) Register(id, model string, cost float64) error {
	if id == "" {
		return &InvalidArmError{ArmID: id, Reason: "empty id"}
	}
	if math.IsNaN(cost) || math.IsInf(cost, 0) || cost < 0 {
		return &InvalidArmError{ArmID: id, Reason: fmt.Sprintf("cost must be finite and non-negative, got %v", cost)}
	}
	if _, exists := r.arms[id]; exists {
		return &DuplicateArmError{ArmID: id}
	}
	r.arms[id] = &Arm{ID: id, Model: model, Cost: cost, State: ArmActive}
	r.order = append(r.order, id)
	return nil
}

// ActiveArms returns the ids of non-eliminated arms in insertion order.
func (r *Registry) ActiveArms() []string {
	active := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if r.arms[id].State == ArmActive {
			active = append(active, id)
		}
	}
	return active
}

// Eliminate permanently removes an arm from consideration.
// Eliminating an already eliminated arm is a no-op and keeps the original time.
func (r *Registry) Eliminate(id string, at int64) error {
	arm, ok := r.arms[id]
	if !ok {
		return &UnknownArmError{ArmID: id}
	}
	if arm.State == ArmEliminated {
		return nil
	}
	arm.State = ArmEliminated
	arm.EliminatedAt = at
	return nil
}

// Arm returns a copy of the named arm.
func (r *Registry) Arm(id string) (Arm, bool) {
	arm, ok := r.arms[id]
	if !ok {
		return Arm{}, false
	}
	return *arm, true
}

// Arms returns copies of every arm, active or not, in insertion order.
func (r *Registry) Arms() []Arm {
	out := make([]Arm, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.arms[id])
	}
	return out
}

// Len returns the number of registered arms.
func (r *Registry) Len() int {
	return len(r.order)
}

// IsActive reports whether the arm exists and has not been eliminated.
func (r *Registry) IsActive(id string) bool {
	arm, ok := r.arms[id]
	return ok && arm.State == ArmActive
}
