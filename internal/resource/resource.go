package resource

import (
	"strings"

	"github.com/gitops-dm/dm/internal/model"
)

// Resource is one {name, merged content, originating commit, message}
// record produced by the assembler for a single environment.
type Resource struct {
	Name    string
	BasePath string
	// VersionPath is empty for a deployable-mode resource (no separate
	// version file).
	VersionPath string

	// VersionContent is the decoded content of version/<name>.yaml, nil
	// for deployable-mode resources.
	VersionContent map[string]string

	// MergedContent is the $version-substituted (or, for deployable mode,
	// untouched) structured document: map[string]interface{},
	// []interface{}, or a scalar, as decoded from YAML.
	MergedContent interface{}

	// Version is the blob's last-change commit id: both the value stamped
	// onto the cluster object and the no-op redeploy detector.
	Version model.ObjectID
	Message string
}

// substituteVersion recursively replaces every occurrence of the literal
// token "$version" inside every string leaf of node with version. Arrays
// and objects are recursed into; non-string scalars are returned
// unchanged. It is the identity when "$version" does not occur anywhere in
// node, since strings.ReplaceAll leaves non-matching strings untouched.
func substituteVersion(node interface{}, version string) interface{} {
	switch v := node.(type) {
	case string:
		return strings.ReplaceAll(v, versionToken, version)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = substituteVersion(val, version)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = substituteVersion(val, version)
		}
		return out
	default:
		return v
	}
}

const versionToken = "$version"
