// Package gitopsconfig loads each service's process configuration from
// environment variables, in the typed-getter style Fleet's
// internal/config/overrides.go uses for its own env-var escape hatches.
package gitopsconfig

import (
	"fmt"
	"os"
	"strconv"
)

const defaultAPIPort = 9001

// defaultMaxAncestorDepth mirrors versionsrepo's own default, duplicated
// here only as the value reported by env var parsing; versionsrepo.Config
// applies the same default when left at zero.
const defaultMaxAncestorDepth = 10000

// Shared is the configuration every one of the three services reads:
// where the versions repo lives, what port to serve its HTTP surface on,
// and the safety valve on versionsrepo's ancestor walk.
type Shared struct {
	VersionsURL          string
	VersionsCheckoutPath string
	APIPort              int
	MaxAncestorDepth     int
}

// LoadShared reads the variables common to all three services:
// VERSIONS_URL, VERSIONS_CHECKOUT_PATH, API_PORT (default 9001),
// VERSIONS_MAX_ANCESTOR_DEPTH (default 10000).
func LoadShared() (Shared, error) {
	versionsURL := os.Getenv("VERSIONS_URL")
	if versionsURL == "" {
		return Shared{}, fmt.Errorf("VERSIONS_URL is required")
	}
	checkoutPath := os.Getenv("VERSIONS_CHECKOUT_PATH")
	if checkoutPath == "" {
		return Shared{}, fmt.Errorf("VERSIONS_CHECKOUT_PATH is required")
	}

	port := defaultAPIPort
	if raw := os.Getenv("API_PORT"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			return Shared{}, fmt.Errorf("parsing API_PORT %q: %w", raw, err)
		}
		port = p
	}

	maxAncestorDepth := defaultMaxAncestorDepth
	if raw := os.Getenv("VERSIONS_MAX_ANCESTOR_DEPTH"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			return Shared{}, fmt.Errorf("parsing VERSIONS_MAX_ANCESTOR_DEPTH %q: %w", raw, err)
		}
		maxAncestorDepth = d
	}

	return Shared{
		VersionsURL:          versionsURL,
		VersionsCheckoutPath: checkoutPath,
		APIPort:              port,
		MaxAncestorDepth:     maxAncestorDepth,
	}, nil
}

// Aggregator adds the variables only the Aggregator needs: where the
// static UI bundle lives, and the Deployer/Transitioner status URLs to
// poll.
type Aggregator struct {
	Shared
	UIPath          string
	DeployerURL     string
	TransitionerURL string
}

const defaultUIPath = "/ui/dist"

func LoadAggregator() (Aggregator, error) {
	shared, err := LoadShared()
	if err != nil {
		return Aggregator{}, err
	}

	uiPath := os.Getenv("UI_PATH")
	if uiPath == "" {
		uiPath = defaultUIPath
	}

	return Aggregator{
		Shared:          shared,
		UIPath:          uiPath,
		DeployerURL:     os.Getenv("DEPLOYER_URL"),
		TransitionerURL: os.Getenv("TRANSITIONER_URL"),
	}, nil
}

const defaultTransitionsConfigPath = "/etc/dm/transitions.yaml"

// Transitioner adds DEPLOYER_URL, which the SourceClean precondition
// queries, and the path to the transition rules document.
type Transitioner struct {
	Shared
	DeployerURL         string
	TransitionsConfigPath string
}

func LoadTransitioner() (Transitioner, error) {
	shared, err := LoadShared()
	if err != nil {
		return Transitioner{}, err
	}

	path := os.Getenv("TRANSITIONS_CONFIG_PATH")
	if path == "" {
		path = defaultTransitionsConfigPath
	}

	return Transitioner{
		Shared:                shared,
		DeployerURL:           os.Getenv("DEPLOYER_URL"),
		TransitionsConfigPath: path,
	}, nil
}

// Deployer has no extra variables of its own: its per-environment cluster
// configuration lives in /deployers.yaml inside the repo, per §6.
type Deployer struct {
	Shared
}

func LoadDeployer() (Deployer, error) {
	shared, err := LoadShared()
	if err != nil {
		return Deployer{}, err
	}
	return Deployer{Shared: shared}, nil
}
