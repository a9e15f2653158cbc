package cluster

import (
	"context"
	"sync"

	"github.com/gitops-dm/dm/internal/model"
	"github.com/gitops-dm/dm/internal/resource"
)

// deployedEntry is what the mock remembers about one deployed resource.
type deployedEntry struct {
	version model.ObjectID
	status  model.RolloutStatusReason
}

// Mock is the in-memory Driver required by §4.4 for tests: a plain map
// standing in for the cluster, guarded by a mutex since the deployer loop
// and tests may both touch it concurrently.
type Mock struct {
	mu       sync.Mutex
	deployed map[string]deployedEntry
}

func NewMock() *Mock {
	return &Mock{deployed: map[string]deployedEntry{}}
}

func (m *Mock) RetrieveCurrentState(_ context.Context, resources []*resource.Resource) (map[string]model.ResourceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]model.ResourceState, len(resources))
	for _, r := range resources {
		entry, ok := m.deployed[r.Name]
		if !ok {
			out[r.Name] = model.NotDeployed()
			continue
		}
		out[r.Name] = model.ResourceState{
			Deployed:        true,
			Version:         entry.version,
			ExpectedVersion: r.Version,
			Status:          entry.status,
		}
	}
	return out, nil
}

func (m *Mock) Deploy(_ context.Context, r *resource.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deployed[r.Name] = deployedEntry{version: r.Version, status: model.CleanReason()}
	return nil
}

// SetStatus lets tests simulate a cluster-observed rollout reason for an
// already-deployed resource, without going through Deploy.
func (m *Mock) SetStatus(name string, status model.RolloutStatusReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.deployed[name]
	entry.status = status
	m.deployed[name] = entry
}

// Remove deletes a resource from the mock cluster, simulating it never
// having been deployed (or having been deleted out-of-band).
func (m *Mock) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deployed, name)
}
