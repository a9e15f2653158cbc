package transitioner

import (
	"fmt"
	"time"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"gopkg.in/yaml.v3"

	"github.com/gitops-dm/dm/internal/versionsrepo"
)

const stateFileName = "transition_state.yaml"

// RuleState is the persisted per-rule scheduling state: when (if ever) the
// rule is next allowed to run. It lives inside the repo itself so every
// Transitioner replica reaches the same decision from the same commit.
type RuleState struct {
	Scheduled *time.Time `yaml:"scheduled,omitempty"`
}

func (s RuleState) isEmpty() bool { return s.Scheduled == nil }

// States is the decoded content of /transition_state.yaml, keyed by rule
// name.
type States map[string]RuleState

// loadStates reads /transition_state.yaml at the zipper's current root
// position, defaulting to an empty map when absent.
func loadStates(z *versionsrepo.TreeZipper) (States, error) {
	content, ok, err := z.GetBlob(stateFileName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return States{}, nil
	}
	var states States
	if err := yaml.Unmarshal(content, &states); err != nil {
		return nil, err
	}
	if states == nil {
		states = States{}
	}
	return states, nil
}

// set inserts or removes name's entry: an empty RuleState (no scheduled
// time) is equivalent to absence, matching the original's "remove empty
// entries" behavior for a lean transition_state.yaml.
func (s States) set(name string, state RuleState) {
	if state.isEmpty() {
		delete(s, name)
		return
	}
	s[name] = state
}

// saveStates serializes states into b, the TreeBuilder for the repo root,
// per §4.6 step 7: insert or overwrite the file when states is non-empty,
// remove it entirely when it is empty.
func saveStates(st storer.EncodedObjectStorer, b *versionsrepo.TreeBuilder, states States) error {
	if len(states) == 0 {
		b.Remove(stateFileName)
		return nil
	}

	data, err := yaml.Marshal(states)
	if err != nil {
		return fmt.Errorf("serializing %s: %w", stateFileName, err)
	}
	hash, err := versionsrepo.WriteBlob(st, data)
	if err != nil {
		return fmt.Errorf("writing %s blob: %w", stateFileName, err)
	}
	b.SetBlob(stateFileName, hash, filemode.Regular)
	return nil
}
