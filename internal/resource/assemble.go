package resource

import (
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/gitops-dm/dm/internal/model"
	"github.com/gitops-dm/dm/internal/versionsrepo"
)

// ResourcesInfo is the non-empty assembly result for one environment at
// one repo revision.
type ResourcesInfo struct {
	Resources []*Resource
}

const yamlSuffix = ".yaml"

// Assemble turns a repo revision + environment name into a set of
// resources, per §4.3. It returns (nil, nil) when the repo's current
// version equals lastVersion (nothing to do), satisfying the invariant
// that assembling at the repo's own version is always a no-op.
func Assemble(repo *versionsrepo.Repo, env string, lastVersion *model.ObjectID) (*ResourcesInfo, error) {
	version, err := repo.Version()
	if err != nil {
		return nil, err
	}
	if lastVersion != nil && *lastVersion == version {
		return nil, nil
	}

	byName := map[string]*Resource{}

	deployableBase := env + "/deployable"
	if err := repo.Walk(deployableBase, func(b versionsrepo.WalkedBlob) error {
		if !strings.HasSuffix(b.Path, yamlSuffix) {
			return nil
		}
		name := strings.TrimSuffix(b.Path, yamlSuffix)
		var content interface{}
		if err := yaml.Unmarshal(b.Content, &content); err != nil {
			logrus.WithError(err).WithField("resource", name).WithField("env", env).
				Warn("malformed deployable resource, skipping")
			return nil
		}
		byName[name] = &Resource{
			Name:          name,
			BasePath:      deployableBase + "/" + b.Path,
			MergedContent: content,
			Version:       b.LastChange,
			Message:       b.ChangeMessage,
		}
		return nil
	}); err != nil {
		return nil, err
	}

	versionBase := env + "/version"
	baseBase := env + "/base"
	if err := repo.Walk(versionBase, func(b versionsrepo.WalkedBlob) error {
		if !strings.HasSuffix(b.Path, yamlSuffix) {
			return nil
		}
		name := strings.TrimSuffix(b.Path, yamlSuffix)

		var versionContent map[string]string
		if err := yaml.Unmarshal(b.Content, &versionContent); err != nil {
			logrus.WithError(err).WithField("resource", name).WithField("env", env).
				Warn("malformed version file, skipping resource")
			return nil
		}

		basePath := baseBase + "/" + b.Path
		baseContent, err := repo.Get(basePath)
		if err != nil {
			return err
		}
		if baseContent == nil {
			// Logged, not fatal: the resource is simply skipped until its
			// base file shows up.
			logrus.WithField("resource", name).WithField("env", env).
				Warn("version file has no matching base file, skipping resource")
			return nil
		}

		var base interface{}
		if err := yaml.Unmarshal(baseContent, &base); err != nil {
			logrus.WithError(err).WithField("resource", name).WithField("env", env).
				Warn("malformed base file, skipping resource")
			return nil
		}

		merged := substituteVersion(base, versionContent["version"])

		// The version/base pair overwrites any same-name entry produced
		// from deployable/.
		byName[name] = &Resource{
			Name:           name,
			BasePath:       basePath,
			VersionPath:    versionBase + "/" + b.Path,
			VersionContent: versionContent,
			MergedContent:  merged,
			Version:        b.LastChange,
			Message:        b.ChangeMessage,
		}
		return nil
	}); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	resources := make([]*Resource, 0, len(names))
	for _, name := range names {
		resources = append(resources, byName[name])
	}
	return &ResourcesInfo{Resources: resources}, nil
}
