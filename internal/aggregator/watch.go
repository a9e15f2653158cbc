package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gitops-dm/dm/internal/analyzer"
	"github.com/gitops-dm/dm/internal/model"
	"github.com/gitops-dm/dm/internal/versionsrepo"
)

// pollInterval is the ~1Hz cadence every watch loop in §4.8 uses.
const pollInterval = time.Second

// recentRunWindow is how recently a transition must have last run for its
// last_run timestamp to be scrubbed before diffing/storage, so a steady
// stream of "still running" updates doesn't broadcast every tick.
const recentRunWindow = 10 * time.Second

// RunVersionsWatch polls repo for new commits and feeds them through the
// analyzer, publishing an updated VersionsAnalysis whenever HEAD advances.
func RunVersionsWatch(ctx context.Context, hub *Hub, repo *versionsrepo.Repo) error {
	log := logrus.WithField("component", "aggregator").WithField("watch", "versions")
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastHead *model.ObjectID
	analysis := model.NewVersionsAnalysis()

	for {
		head, err := repo.Version()
		if err != nil {
			log.WithError(err).Warn("resolving head failed")
		} else if lastHead == nil || *lastHead != head {
			next, err := analyzer.Analyze(repo, analysis, lastHead, head)
			if err != nil {
				log.WithError(err).Warn("analyzing commits failed")
			} else {
				analysis = next
				h := head
				lastHead = &h
				hub.updateAnalysis(analysis)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := repo.Update(ctx); err != nil {
			log.WithError(err).Warn("updating repo failed")
		}
	}
}

// RunDeployerWatch polls deployerURL/status and republishes whenever the
// payload differs from the last observed one.
func RunDeployerWatch(ctx context.Context, hub *Hub, deployerURL string, client *http.Client) error {
	return pollStatusLoop(ctx, "deployer", deployerURL, client, func() (model.AllDeployerStatus, error) {
		var status model.AllDeployerStatus
		err := fetchJSON(client, deployerURL+"/status", &status)
		return status, err
	}, func(a, b model.AllDeployerStatus) bool {
		return reflect.DeepEqual(a, b)
	}, hub.updateDeployers)
}

// RunTransitionerWatch polls transitionerURL/status, scrubs chatty
// last-run timestamps, and republishes whenever the scrubbed payload
// differs from the last observed one.
func RunTransitionerWatch(ctx context.Context, hub *Hub, transitionerURL string, client *http.Client) error {
	return pollStatusLoop(ctx, "transitioner", transitionerURL, client, func() (model.AllTransitionStatus, error) {
		var status model.AllTransitionStatus
		if err := fetchJSON(client, transitionerURL+"/status", &status); err != nil {
			return nil, err
		}
		scrubRecentRuns(status, time.Now())
		return status, nil
	}, func(a, b model.AllTransitionStatus) bool {
		return reflect.DeepEqual(a, b)
	}, hub.updateTransitions)
}

// scrubRecentRuns zeroes last_run.time for any entry whose last run
// happened within recentRunWindow of now, so near-simultaneous polls of a
// still-running transition don't look different every tick.
func scrubRecentRuns(status model.AllTransitionStatus, now time.Time) {
	for _, info := range status {
		if info == nil || info.LastRun == nil {
			continue
		}
		if now.Sub(info.LastRun.Time) < recentRunWindow {
			info.LastRun.Time = time.Time{}
		}
	}
}

// pollStatusLoop is the shared shape of the deployer and transitioner
// watch loops: fetch, compare against the last observed value, publish on
// difference, sleep, repeat. url is required; a blank url means the peer
// was never configured and the loop makes no requests (logged once).
func pollStatusLoop[T any](ctx context.Context, name, url string, client *http.Client, fetch func() (T, error), equal func(a, b T) bool, publish func(T)) error {
	log := logrus.WithField("component", "aggregator").WithField("watch", name)
	if url == "" {
		log.Warn("no url configured, watch loop is a no-op")
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var last T
	haveLast := false
	for {
		status, err := fetch()
		if err != nil {
			log.WithError(err).Warn("polling status failed")
		} else if !haveLast || !equal(last, status) {
			last = status
			haveLast = true
			publish(status)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func fetchJSON(client *http.Client, url string, out interface{}) error {
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
