// Package deployerloop implements the Deployer service's control loop:
// per environment, assemble the desired resource set from the versions
// repo, deploy whatever has drifted, then poll the cluster until the
// rollout settles. Modeled on the ticker-driven poll loop in Fleet's
// pkg/git/poll, adapted from a single watched repo to many environments
// sharing one repo handle and driven in turn on each tick.
package deployerloop

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/gitops-dm/dm/internal/cluster"
	"github.com/gitops-dm/dm/internal/httpapi"
	"github.com/gitops-dm/dm/internal/metrics"
	"github.com/gitops-dm/dm/internal/model"
	"github.com/gitops-dm/dm/internal/resource"
	"github.com/gitops-dm/dm/internal/versionsrepo"
)

// DefaultPollInterval is the ~1s cadence §4.5 calls for between iterations.
const DefaultPollInterval = time.Second

// Loop is one Deployer process's worth of state: every environment named
// in /deployers.yaml gets its own driver and its own independently
// evolving DeployerStatus, but they all share one repo handle and tick on
// the same clock.
type Loop struct {
	repo         *versionsrepo.Repo
	drivers      map[string]cluster.Driver
	environments []string
	pollInterval time.Duration
	log          *logrus.Entry

	mu           sync.RWMutex
	statuses     model.AllDeployerStatus
	lastVersion  map[string]*model.ObjectID
	lastKnownSet map[string][]*resource.Resource
}

// NewLoop builds a Loop over drivers, one per environment name. Unknown
// environments (present in the repo but absent from /deployers.yaml) are
// simply never driven, matching §6's "if absent, no environments deploy".
func NewLoop(repo *versionsrepo.Repo, drivers map[string]cluster.Driver, pollInterval time.Duration) *Loop {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	environments := make([]string, 0, len(drivers))
	statuses := make(model.AllDeployerStatus, len(drivers))
	for env := range drivers {
		environments = append(environments, env)
		statuses[env] = model.NewDeployerStatus()
	}
	sort.Strings(environments)

	return &Loop{
		repo:         repo,
		drivers:      drivers,
		environments: environments,
		pollInterval: pollInterval,
		log:          logrus.WithField("component", "deployer"),
		statuses:     statuses,
		lastVersion:  map[string]*model.ObjectID{},
		lastKnownSet: map[string][]*resource.Resource{},
	}
}

// Status returns a deep-copied snapshot safe for concurrent reads, served
// by the Deployer's /status endpoint and consumed by the Transitioner's
// SourceClean precondition and the Aggregator's watch loop.
func (l *Loop) Status() model.AllDeployerStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.statuses.Clone()
}

// Run drives every environment once per tick until ctx is canceled. A
// failing environment logs and is retried next tick; it never halts the
// others.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		for _, env := range l.environments {
			if err := l.tick(ctx, env); err != nil {
				l.log.WithError(err).WithField("env", env).Warn("deployer tick failed")
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// tick runs the five steps of §4.5 for one environment.
func (l *Loop) tick(ctx context.Context, env string) error {
	driver := l.drivers[env]

	if err := l.repo.Update(ctx); err != nil {
		return fmt.Errorf("updating repo: %w", err)
	}
	version, err := l.repo.Version()
	if err != nil {
		return fmt.Errorf("resolving head version: %w", err)
	}

	l.mu.RLock()
	status := l.statuses[env].Clone()
	lastVersion := l.lastVersion[env]
	l.mu.RUnlock()

	desired, err := resource.Assemble(l.repo, env, lastVersion)
	if err != nil {
		return fmt.Errorf("assembling %s: %w", env, err)
	}
	if desired != nil {
		l.setKnownSet(env, desired.Resources)

		// Retrieve the cluster's actual current state before deciding what
		// to skip, rather than trusting the previous tick's cached status:
		// an in-memory-only cache is empty on every process restart, which
		// would otherwise redeploy everything that was already correctly
		// live.
		liveStates, err := driver.RetrieveCurrentState(ctx, desired.Resources)
		if err != nil {
			return fmt.Errorf("retrieving current state for %s: %w", env, err)
		}

		for _, r := range desired.Resources {
			live := liveStates[r.Name]
			if live.Deployed && live.Version == r.Version {
				continue
			}
			if err := driver.Deploy(ctx, r); err != nil {
				l.log.WithError(err).WithField("env", env).WithField("resource", r.Name).
					Warn("deploy failed, continuing batch")
				metrics.DeployAttemptsTotal.WithLabelValues(env, r.Name, metrics.ResultFailure).Inc()
				continue
			}
			metrics.DeployAttemptsTotal.WithLabelValues(env, r.Name, metrics.ResultSuccess).Inc()
		}
		status.DeployedVersion = version
		status.RolloutStatus = model.RolloutInProgress
	}

	if status.RolloutStatus == model.RolloutInProgress {
		reassembled, err := resource.Assemble(l.repo, env, status.LastSuccessfullyDeployedVersion)
		if err != nil {
			return fmt.Errorf("reassembling %s: %w", env, err)
		}
		if reassembled != nil {
			l.setKnownSet(env, reassembled.Resources)
		}
		current := l.knownSet(env)

		states, err := driver.RetrieveCurrentState(ctx, current)
		if err != nil {
			return fmt.Errorf("retrieving current state for %s: %w", env, err)
		}

		combined := model.RolloutClean
		byResource := make(map[string]model.ResourceState, len(current))
		for _, r := range current {
			st := states[r.Name]
			byResource[r.Name] = st

			resourceStatus := st.Status.ToRolloutStatus()
			if st.Version != st.ExpectedVersion {
				resourceStatus = model.Combine(model.RolloutOutdated, resourceStatus)
			}
			combined = model.Combine(combined, resourceStatus)
		}
		status.StatusByResource = byResource
		status.RolloutStatus = combined
	}

	metrics.RolloutStatus.WithLabelValues(env).Set(float64(status.RolloutStatus))

	if status.RolloutStatus == model.RolloutClean {
		v := version
		status.LastSuccessfullyDeployedVersion = &v
	}

	l.mu.Lock()
	l.statuses[env] = status
	l.lastVersion[env] = &version
	l.mu.Unlock()

	return nil
}

// RegisterRoutes adds GET /status to r, serving the current AllDeployerStatus
// snapshot as JSON, per §6.
func (l *Loop) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		httpapi.WriteJSON(w, http.StatusOK, l.Status())
	}).Methods(http.MethodGet)
}

func (l *Loop) setKnownSet(env string, resources []*resource.Resource) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastKnownSet[env] = resources
}

func (l *Loop) knownSet(env string) []*resource.Resource {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastKnownSet[env]
}
