package model

// DeployerStatus is one environment's deployment state as published by the
// Deployer loop and consumed by the Transitioner's SourceClean precondition
// and the Aggregator's fan-out.
type DeployerStatus struct {
	DeployedVersion                ObjectID                 `json:"deployed_version"`
	LastSuccessfullyDeployedVersion *ObjectID                `json:"last_successfully_deployed_version,omitempty"`
	RolloutStatus                   RolloutStatus            `json:"rollout_status"`
	StatusByResource                map[string]ResourceState `json:"status_by_resource"`
}

func NewDeployerStatus() *DeployerStatus {
	return &DeployerStatus{StatusByResource: map[string]ResourceState{}}
}

// Clone returns a deep copy so the deployer loop can mutate a working copy
// and publish it without readers observing a half-updated status.
func (s *DeployerStatus) Clone() *DeployerStatus {
	if s == nil {
		return NewDeployerStatus()
	}
	out := &DeployerStatus{
		DeployedVersion:   s.DeployedVersion,
		RolloutStatus:     s.RolloutStatus,
		StatusByResource:  make(map[string]ResourceState, len(s.StatusByResource)),
	}
	if s.LastSuccessfullyDeployedVersion != nil {
		v := *s.LastSuccessfullyDeployedVersion
		out.LastSuccessfullyDeployedVersion = &v
	}
	for k, v := range s.StatusByResource {
		out.StatusByResource[k] = v
	}
	return out
}

// AllDeployerStatus maps environment name to its DeployerStatus. It is
// serialized as a plain JSON object; Go's encoding/json already sorts map
// keys on marshal, giving the "ordered" wire representation the spec asks
// for without a dedicated ordered-map type.
type AllDeployerStatus map[string]*DeployerStatus

func (a AllDeployerStatus) Clone() AllDeployerStatus {
	out := make(AllDeployerStatus, len(a))
	for k, v := range a {
		out[k] = v.Clone()
	}
	return out
}
