package cluster

import (
	"gopkg.in/yaml.v3"

	"github.com/gitops-dm/dm/internal/versionsrepo"
)

// EnvironmentConfig is one environment's entry in /deployers.yaml: which
// kubeconfig and context to use, and the namespace resources are applied
// into when they don't carry their own.
type EnvironmentConfig struct {
	KubeconfigPath string `yaml:"kubeconfig_path"`
	Context        string `yaml:"context"`
	Namespace      string `yaml:"namespace"`
}

// DeployersConfig is the decoded content of /deployers.yaml, keyed by
// environment name.
type DeployersConfig map[string]EnvironmentConfig

// LoadDeployersConfig reads /deployers.yaml from repo. A missing file is
// not an error: it yields an empty config, meaning no environments deploy,
// per §6.
func LoadDeployersConfig(repo *versionsrepo.Repo) (DeployersConfig, error) {
	data, err := repo.Get("deployers.yaml")
	if err != nil {
		return nil, err
	}
	if data == nil {
		return DeployersConfig{}, nil
	}
	var cfg DeployersConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = DeployersConfig{}
	}
	return cfg, nil
}
