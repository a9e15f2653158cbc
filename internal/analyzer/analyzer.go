// Package analyzer implements the commit analyzer described in §4.8: it
// replays the versions repository's history into the append-only
// VersionsAnalysis model, one commit at a time, in the order commits were
// made.
package analyzer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/object"
	"gopkg.in/yaml.v3"

	"github.com/gitops-dm/dm/internal/model"
	"github.com/gitops-dm/dm/internal/versionsrepo"
)

// watchedEnvs is the fixed set of environments the analyzer inspects.
// Extending this to a configurable list is left as a straightforward
// extension point, per §4.8.
var watchedEnvs = []string{"latest", "dev", "prod"}

// yamlSuffix matches the resource manifest file extension the versions
// repository layout uses throughout.
const yamlSuffix = ".yaml"

// Analyze extends analysis with every commit strictly after from (or from
// the repository's root if from is nil) up to and including to, applied in
// the order they were made (oldest first), so VersionDeployed's
// previous-value comparisons are well-defined. It does not mutate
// analysis's receiver; it returns a new value built from analysis.Clone().
func Analyze(repo *versionsrepo.Repo, analysis *model.VersionsAnalysis, from *model.ObjectID, to model.ObjectID) (*model.VersionsAnalysis, error) {
	commits, err := ancestorsBetween(repo, from, to)
	if err != nil {
		return nil, fmt.Errorf("resolving commit range: %w", err)
	}

	next := analysis.Clone()
	for _, commit := range commits {
		resourceCommit, err := analyzeCommit(repo, commit, next)
		if err != nil {
			return nil, fmt.Errorf("analyzing commit %s: %w", commit.Hash, err)
		}
		next.AddCommit(resourceCommit)
	}
	return next, nil
}

// ancestorsBetween returns commits from (from, to] oldest-first. The
// versions repository is single-writer per ref (§3), so walking first
// parents only is equivalent to a full topological+reverse ancestor walk.
func ancestorsBetween(repo *versionsrepo.Repo, from *model.ObjectID, to model.ObjectID) ([]*object.Commit, error) {
	var commits []*object.Commit

	cur, err := repo.CommitObject(to)
	if err != nil {
		return nil, err
	}
	for {
		if from != nil && cur.Hash == from.Hash() {
			break
		}
		commits = append(commits, cur)
		if cur.NumParents() == 0 {
			break
		}
		parent, err := cur.Parent(0)
		if err != nil {
			return nil, err
		}
		cur = parent
	}

	for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
		commits[i], commits[j] = commits[j], commits[i]
	}
	return commits, nil
}

// analyzeCommit inspects one commit, in isolation from its neighbors, and
// reports the typed changes it introduced to any watched env's version,
// base, or deployable subtree. prior is consulted (but never mutated) to
// decide whether a VersionDeployed/BaseData/Deployable change represents an
// actual pointer move.
func analyzeCommit(repo *versionsrepo.Repo, commit *object.Commit, prior *model.VersionsAnalysis) (model.ResourceRepoCommit, error) {
	id := model.ObjectID(commit.Hash)
	header, body := splitCommitMessage(commit.Message)

	result := model.ResourceRepoCommit{
		ID:            id,
		MessageHeader: header,
		LongMessage:   body,
		AuthorName:    commit.Author.Name,
		AuthorEmail:   commit.Author.Email,
		Time:          commit.Author.When,
	}

	for _, env := range watchedEnvs {
		changes, err := analyzeEnvSubtree(repo, commit, id, env, "version", body, prior, versionChange)
		if err != nil {
			return model.ResourceRepoCommit{}, err
		}
		result.Changes = append(result.Changes, changes...)

		changes, err = analyzeEnvSubtree(repo, commit, id, env, "base", body, prior, baseDataChange)
		if err != nil {
			return model.ResourceRepoCommit{}, err
		}
		result.Changes = append(result.Changes, changes...)

		changes, err = analyzeEnvSubtree(repo, commit, id, env, "deployable", body, prior, deployableChange)
		if err != nil {
			return model.ResourceRepoCommit{}, err
		}
		result.Changes = append(result.Changes, changes...)
	}
	return result, nil
}

// changeBuilder produces zero or more Changes for one resource entry that
// last changed in exactly this commit.
type changeBuilder func(resourceName, env string, entry versionsrepo.WalkedBlob, commitID model.ObjectID, changeLog string, prior *model.VersionsAnalysis) []model.Change

func analyzeEnvSubtree(repo *versionsrepo.Repo, commit *object.Commit, commitID model.ObjectID, env, subtree, changeLog string, prior *model.VersionsAnalysis, build changeBuilder) ([]model.Change, error) {
	var changes []model.Change
	basePath := env + "/" + subtree
	err := repo.WalkCommit(commit, basePath, func(entry versionsrepo.WalkedBlob) error {
		if !strings.HasSuffix(entry.Path, yamlSuffix) {
			return nil
		}
		if entry.LastChange != commitID {
			// This entry exists at commit's tree but last changed value in
			// an earlier commit; it contributes no change here.
			return nil
		}
		name := strings.TrimSuffix(entry.Path, yamlSuffix)
		changes = append(changes, build(name, env, entry, commitID, changeLog, prior)...)
		return nil
	})
	return changes, err
}

func versionChange(name, env string, entry versionsrepo.WalkedBlob, commitID model.ObjectID, changeLog string, prior *model.VersionsAnalysis) []model.Change {
	var content map[string]string
	if err := yaml.Unmarshal(entry.Content, &content); err != nil {
		return nil
	}

	var out []model.Change
	rs := prior.Resources[name]
	if rs == nil || !rs.HasVersion(entry.BlobID) {
		out = append(out, model.Change{
			Kind:     model.ChangeVersion,
			Resource: name,
			VersionInfo: &model.ResourceVersion{
				VersionID:    entry.BlobID,
				IntroducedIn: commitID,
				Version:      content["version"],
				ChangeLog:    changeLog,
			},
		})
	}

	var previous *model.ObjectID
	if rs != nil {
		if v, ok := rs.VersionByEnv[env]; ok {
			if v == entry.BlobID {
				return out // pointer unchanged
			}
			prev := v
			previous = &prev
		}
	}
	out = append(out, model.Change{
		Kind:              model.ChangeVersionDeployed,
		Resource:          name,
		Env:               env,
		PreviousVersionID: previous,
		VersionID:         entry.BlobID,
	})
	return out
}

func baseDataChange(name, env string, entry versionsrepo.WalkedBlob, _ model.ObjectID, _ string, prior *model.VersionsAnalysis) []model.Change {
	return contentPointerChange(model.ChangeBaseData, name, env, entry, prior)
}

func deployableChange(name, env string, entry versionsrepo.WalkedBlob, _ model.ObjectID, _ string, prior *model.VersionsAnalysis) []model.Change {
	return contentPointerChange(model.ChangeDeployable, name, env, entry, prior)
}

func contentPointerChange(kind model.ChangeKind, name, env string, entry versionsrepo.WalkedBlob, prior *model.VersionsAnalysis) []model.Change {
	if rs := prior.Resources[name]; rs != nil {
		if v, ok := rs.BaseData[env]; ok && v == entry.BlobID {
			return nil
		}
	}
	return []model.Change{{
		Kind:      kind,
		Resource:  name,
		Env:       env,
		ContentID: entry.BlobID,
	}}
}

// trailerLine matches one Git-style trailer line, e.g. "DM-Transition: foo".
var trailerLine = regexp.MustCompile(`^[A-Za-z-]+\s*:\s*.*$`)

// splitCommitMessage strips trailing trailer lines from msg, then splits
// what remains into a header (newlines collapsed to spaces) and an
// optional body, separated by the first blank line.
func splitCommitMessage(msg string) (header, body string) {
	lines := strings.Split(strings.TrimRight(msg, "\n"), "\n")

	end := len(lines)
	for end > 0 && trailerLine.MatchString(lines[end-1]) {
		end--
	}
	lines = lines[:end]

	text := strings.Join(lines, "\n")
	parts := strings.SplitN(text, "\n\n", 2)

	header = strings.Join(strings.Fields(strings.ReplaceAll(parts[0], "\n", " ")), " ")
	if len(parts) > 1 {
		body = strings.TrimSpace(parts[1])
	}
	return header, body
}
