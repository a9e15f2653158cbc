// Package transitioner implements the Transitioner service's control loop:
// evaluate declaration-ordered promotion rules against the versions repo's
// HEAD, mirror one environment's /version subtree onto another's as an
// atomic commit once every precondition passes, and persist per-rule
// scheduling state inside the repo itself. Modeled on the same ticker loop
// fleet's pkg/git/poll uses, adapted to a rule list instead of a single
// watched path.
package transitioner

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/gitops-dm/dm/internal/httpapi"
	"github.com/gitops-dm/dm/internal/metrics"
	"github.com/gitops-dm/dm/internal/model"
	"github.com/gitops-dm/dm/internal/resource"
	"github.com/gitops-dm/dm/internal/versionsrepo"
)

// DefaultPollInterval is the cadence between full passes over the rule
// list.
const DefaultPollInterval = time.Second

const (
	commitAuthorName  = "DM Transitioner"
	commitAuthorEmail = "n/a"
)

// Loop is one Transitioner process's worth of state: a fixed,
// declaration-ordered list of rules evaluated against one shared repo
// handle, each tick.
type Loop struct {
	repo         *versionsrepo.Repo
	rules        []Rule
	deployerURL  string
	httpClient   *http.Client
	pollInterval time.Duration
	log          *logrus.Entry

	status *statusStore
}

// NewLoop builds a Loop over a declaration-ordered rule list. deployerURL
// is passed to every precondition that needs to query the Deployer.
func NewLoop(repo *versionsrepo.Repo, rules []Rule, deployerURL string, pollInterval time.Duration) *Loop {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Loop{
		repo:         repo,
		rules:        rules,
		deployerURL:  deployerURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		pollInterval: pollInterval,
		log:          logrus.WithField("component", "transitioner"),
		status:       newStatusStore(),
	}
}

// Run drives one declaration-ordered pass over the rule list per tick,
// until ctx is canceled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		if err := l.runOneTick(ctx); err != nil {
			l.log.WithError(err).Warn("transitioner tick failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runOneTick evaluates rules in declaration order. A Success or Blocked
// result ends the tick immediately; Skipped and CheckFailed let the next
// rule try, per §4.6's priority rule.
func (l *Loop) runOneTick(ctx context.Context) error {
	if err := l.repo.Update(ctx); err != nil {
		return fmt.Errorf("updating repo: %w", err)
	}

	for _, rule := range l.rules {
		result, err := l.runTransition(ctx, rule)
		if err != nil {
			return fmt.Errorf("evaluating transition %s: %w", rule.Name, err)
		}

		now := time.Now()
		l.status.recordLastRun(rule.Name, now, result)
		if result.Kind == model.ResultSuccess {
			l.status.recordSuccess(rule.Name, model.TransitionSuccessfulRunInfo{
				Time:             now,
				CommittedVersion: result.CommittedVersion,
			})
		}

		resultKind := "skipped"
		switch result.Kind {
		case model.ResultSuccess:
			resultKind = metrics.ResultSuccess
		case model.ResultBlocked, model.ResultCheckFailed:
			resultKind = metrics.ResultFailure
		}
		metrics.TransitionRunsTotal.WithLabelValues(rule.Name, resultKind).Inc()

		if result.IsTerminalForTick() {
			return nil
		}
	}
	return nil
}

// scheduledNotYetDue reports whether scheduled is still pending as of now.
// Non-strict: scheduled exactly equal to now still counts as pending, per
// the original's `if time >= now`, not `>`, so a rule is never evaluated at
// the exact instant it becomes eligible.
func scheduledNotYetDue(scheduled *time.Time, now time.Time) bool {
	return scheduled != nil && !scheduled.Before(now)
}

// runTransition runs the ten steps of §4.6 for one rule.
func (l *Loop) runTransition(ctx context.Context, rule Rule) (model.TransitionResult, error) {
	root, err := l.repo.Zipper()
	if err != nil {
		return model.TransitionResult{}, err
	}

	states, err := loadStates(root)
	if err != nil {
		return model.TransitionResult{}, fmt.Errorf("loading transition state: %w", err)
	}

	now := time.Now()
	if state, ok := states[rule.Name]; ok && scheduledNotYetDue(state.Scheduled, now) {
		return model.Skipped(model.SkipReason{Kind: model.SkipScheduled, Time: *state.Scheduled}), nil
	}

	currentVersion, err := l.repo.Version()
	if err != nil {
		return model.TransitionResult{}, fmt.Errorf("resolving head version: %w", err)
	}
	preTransitionTree := root.IntoInner()

	targetLocks, err := loadLocks(l.repo.Storer(), preTransitionTree, rule.Target)
	if err != nil {
		return model.TransitionResult{}, fmt.Errorf("loading %s locks: %w", rule.Target, err)
	}
	if targetLocks.EnvLock.Locked() {
		return model.Skipped(model.SkipReason{Kind: model.SkipTargetLocked}), nil
	}

	states.set(rule.Name, RuleState{Scheduled: nextScheduledTime(rule.Schedule, now)})

	// Re-root fresh zippers from the snapshot above: root was consumed by
	// IntoInner, and source/target need independent cursors over the same
	// immutable tree.
	sourceZ := versionsrepo.NewTreeZipper(l.repo.Storer(), preTransitionTree)
	sourceZ.Descend(rule.Source)
	sourceZ.Descend("version")
	if !sourceZ.Exists() {
		return model.Skipped(model.SkipReason{Kind: model.SkipSourceMissing}), nil
	}

	targetZ := versionsrepo.NewTreeZipper(l.repo.Storer(), preTransitionTree)
	targetZ.Descend(rule.Target)
	targetZ.Descend("version")

	if err := mirrorInto(sourceZ, targetZ); err != nil {
		return model.TransitionResult{}, fmt.Errorf("mirroring %s to %s: %w", rule.Source, rule.Target, err)
	}
	if err := targetZ.Ascend(); err != nil { // out of "version"
		return model.TransitionResult{}, err
	}
	if err := targetZ.Ascend(); err != nil { // out of "<target>"
		return model.TransitionResult{}, err
	}

	if err := targetZ.Rebuild(func(b *versionsrepo.TreeBuilder) {
		if err := saveStates(l.repo.Storer(), b, states); err != nil {
			l.log.WithError(err).Error("saving transition state")
		}
	}); err != nil {
		return model.TransitionResult{}, fmt.Errorf("persisting transition state: %w", err)
	}

	newTree := targetZ.IntoInner()
	if treeHash(newTree) == treeHash(preTransitionTree) {
		return model.Skipped(model.SkipReason{Kind: model.SkipNoChange}), nil
	}

	transition := pendingTransition{
		Source:         rule.Source,
		Target:         rule.Target,
		CurrentVersion: currentVersion,
	}
	for _, name := range rule.Preconditions {
		result, err := checkPrecondition(name, transition, l.deployerURL, l.httpClient)
		if err != nil {
			return model.TransitionResult{}, fmt.Errorf("checking precondition %s: %w", name, err)
		}
		if result.Kind != model.ResultSuccess {
			return result, nil
		}
	}

	message := fmt.Sprintf(
		"Mirroring %s to %s\n\nDM-Transition: %s\nDM-Source: %s\nDM-Target: %s\n",
		rule.Source, rule.Target, rule.Name, rule.Source, rule.Target,
	)
	commitID, err := l.repo.Commit(commitAuthorName, commitAuthorEmail, message, newTree, currentVersion)
	if err != nil {
		return model.TransitionResult{}, fmt.Errorf("committing mirror: %w", err)
	}
	if err := l.repo.Push(ctx); err != nil {
		return model.TransitionResult{}, fmt.Errorf("pushing mirror commit: %w", err)
	}

	return model.Success(commitID), nil
}

// loadLocks reads env's locks.yaml out of root, a repo root tree.
func loadLocks(st storer.EncodedObjectStorer, root *object.Tree, env string) (resource.Locks, error) {
	z := versionsrepo.NewTreeZipper(st, root)
	z.Descend(env)
	content, ok, err := z.GetBlob("locks.yaml")
	if err != nil {
		return resource.Locks{}, err
	}
	if !ok {
		return resource.DefaultLocks(), nil
	}
	return resource.ParseLocks(content)
}

// Status returns a deep-copied snapshot of every rule's status, safe for
// concurrent reads.
func (l *Loop) Status() model.AllTransitionStatus {
	return l.status.snapshot()
}

// RegisterRoutes adds GET /status to r, serving the current
// AllTransitionStatus snapshot as JSON.
func (l *Loop) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		httpapi.WriteJSON(w, http.StatusOK, l.Status())
	}).Methods(http.MethodGet)
}
