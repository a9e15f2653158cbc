package transitioner

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gitops-dm/dm/internal/model"
)

// pendingTransition is the snapshot of a rule's identity taken at the start
// of one tick's evaluation, passed to every precondition check.
type pendingTransition struct {
	Source         string
	Target         string
	CurrentVersion model.ObjectID
}

// checkPrecondition evaluates one named precondition. Currently only
// "SourceClean" is understood; per §4.7 the interface is meant to grow
// more tagged variants later.
func checkPrecondition(name string, transition pendingTransition, deployerURL string, client *http.Client) (model.TransitionResult, error) {
	switch name {
	case "SourceClean":
		return checkSourceClean(transition, deployerURL, client)
	default:
		return model.CheckFailed(fmt.Sprintf("unknown precondition %q", name)), nil
	}
}

func checkSourceClean(transition pendingTransition, deployerURL string, client *http.Client) (model.TransitionResult, error) {
	if deployerURL == "" {
		return model.CheckFailed("no deployer url configured"), nil
	}

	resp, err := client.Get(deployerURL + "/status")
	if err != nil {
		return model.TransitionResult{}, fmt.Errorf("querying deployer status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.TransitionResult{}, fmt.Errorf("deployer status returned %d", resp.StatusCode)
	}

	var status model.AllDeployerStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return model.TransitionResult{}, fmt.Errorf("decoding deployer status: %w", err)
	}

	envStatus, ok := status[transition.Source]
	if !ok {
		return model.Blocked("deployer does not yet know about source env"), nil
	}

	if envStatus.DeployedVersion != transition.CurrentVersion {
		return model.Blocked(fmt.Sprintf("deployer is on version %s, we're on version %s",
			envStatus.DeployedVersion, transition.CurrentVersion)), nil
	}

	switch envStatus.RolloutStatus {
	case model.RolloutInProgress:
		return model.Blocked("rollout still in progress"), nil
	case model.RolloutOutdated:
		return model.Blocked("changes pending"), nil
	case model.RolloutFailed:
		return model.CheckFailed("rollout failed"), nil
	default:
		// Kind == Success here only means "this precondition passed"; the
		// loop ignores CommittedVersion until it actually commits.
		return model.Success(model.ZeroID), nil
	}
}
