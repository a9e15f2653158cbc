package model

// FullStatus is the aggregator's single consolidated view of the system:
// a monotonically increasing counter plus the three peer statuses. The
// Aggregator publishes fresh, immutable snapshots of this type under a
// write lock; readers only ever see one internally consistent version at a
// time, copy-on-write, matching the concurrency model fleet's own status
// caches use (swap an atomic pointer to a freshly cloned value, never edit
// shared state in place).
type FullStatus struct {
	Counter     uint64               `json:"counter"`
	Deployers   AllDeployerStatus    `json:"deployers"`
	Transitions AllTransitionStatus  `json:"transitions"`
	Analysis    *VersionsAnalysis    `json:"analysis"`
}

func NewFullStatus() *FullStatus {
	return &FullStatus{
		Deployers:   AllDeployerStatus{},
		Transitions: AllTransitionStatus{},
		Analysis:    NewVersionsAnalysis(),
	}
}

// Clone produces a fresh owned snapshot with the counter incremented,
// ready to have exactly one of its three sub-fields mutated by the caller
// before being published.
func (s *FullStatus) Clone() *FullStatus {
	return &FullStatus{
		Counter:     s.Counter + 1,
		Deployers:   s.Deployers.Clone(),
		Transitions: s.Transitions.Clone(),
		Analysis:    s.Analysis.Clone(),
	}
}
