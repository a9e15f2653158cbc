// Package cluster defines the abstract capability the deployer loop needs
// from a target cluster — read current state, apply one resource — plus an
// in-memory mock for tests and a real Kubernetes implementation.
package cluster

import (
	"context"

	"github.com/gitops-dm/dm/internal/model"
	"github.com/gitops-dm/dm/internal/resource"
)

// VersionAnnotation is the metadata annotation the driver stamps onto
// every resource it deploys, and reads back to determine live version.
const VersionAnnotation = "new-dm/version"

// Driver is the abstract cluster capability set described in §4.4.
type Driver interface {
	// RetrieveCurrentState returns, for every named resource, NotDeployed
	// if it is absent from the cluster, or its live version/expected
	// version/rollout observation otherwise.
	RetrieveCurrentState(ctx context.Context, resources []*resource.Resource) (map[string]model.ResourceState, error)

	// Deploy injects/overwrites the version annotation on resource and
	// applies it.
	Deploy(ctx context.Context, r *resource.Resource) error
}
