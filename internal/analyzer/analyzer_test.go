package analyzer

import (
	"context"
	"testing"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/filemode"

	"github.com/gitops-dm/dm/internal/model"
	"github.com/gitops-dm/dm/internal/versionsrepo"
)

func newTestRepo(t *testing.T) *versionsrepo.Repo {
	t.Helper()
	upstreamDir := t.TempDir()
	if _, err := gogit.PlainInit(upstreamDir, true); err != nil {
		t.Fatalf("init upstream: %v", err)
	}

	repo, err := versionsrepo.Open(context.Background(), versionsrepo.Config{
		Name:         "repo",
		CheckoutPath: t.TempDir(),
		UpstreamURL:  upstreamDir,
	})
	if err != nil {
		t.Fatalf("opening repo: %v", err)
	}
	return repo
}

// commitFile writes path=content on top of HEAD as its own commit.
func commitFile(t *testing.T, repo *versionsrepo.Repo, path, content string) model.ObjectID {
	t.Helper()
	z, err := repo.Zipper()
	if err != nil {
		t.Fatalf("zipper: %v", err)
	}

	segments := splitPath(path)
	dirs := segments[:len(segments)-1]
	name := segments[len(segments)-1]

	for _, d := range dirs {
		z.Descend(d)
	}

	if err := z.Rebuild(func(b *versionsrepo.TreeBuilder) {
		hash, err := versionsrepo.WriteBlob(repo.Storer(), []byte(content))
		if err != nil {
			t.Fatalf("writing blob: %v", err)
		}
		b.SetBlob(name, hash, filemode.Regular)
	}); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	for range dirs {
		if err := z.Ascend(); err != nil {
			t.Fatalf("ascend: %v", err)
		}
	}

	var parents []model.ObjectID
	if v, err := repo.Version(); err == nil {
		parents = append(parents, v)
	}

	id, err := repo.Commit("Test Author", "test@example.com", "Introduce "+path+"\n\nsome body text\n", z.IntoInner(), parents...)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return id
}

func splitPath(path string) []string {
	var out []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			out = append(out, path[start:i])
			start = i + 1
		}
	}
	out = append(out, path[start:])
	return out
}

func TestAnalyzeEmitsVersionAndVersionDeployedOnFirstCommit(t *testing.T) {
	repo := newTestRepo(t)
	commitFile(t, repo, "dev/version/web.yaml", "version: v1\n")

	head, err := repo.Version()
	if err != nil {
		t.Fatalf("version: %v", err)
	}

	analysis, err := Analyze(repo, model.NewVersionsAnalysis(), nil, head)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	rs := analysis.Resources["web"]
	if rs == nil {
		t.Fatal("expected a resource status for web")
	}
	if len(rs.OrderedVersions()) != 1 {
		t.Fatalf("versions = %v, want exactly 1", rs.OrderedVersions())
	}
	if rs.OrderedVersions()[0].Version != "v1" {
		t.Fatalf("version content = %q, want v1", rs.OrderedVersions()[0].Version)
	}
	if _, ok := rs.VersionByEnv["dev"]; !ok {
		t.Fatal("expected dev's version pointer to be set")
	}
}

func TestAnalyzeIsIncrementalAcrossTwoCalls(t *testing.T) {
	repo := newTestRepo(t)
	commitFile(t, repo, "dev/version/web.yaml", "version: v1\n")
	firstHead, err := repo.Version()
	if err != nil {
		t.Fatalf("version: %v", err)
	}

	first, err := Analyze(repo, model.NewVersionsAnalysis(), nil, firstHead)
	if err != nil {
		t.Fatalf("first analyze: %v", err)
	}

	commitFile(t, repo, "dev/version/web.yaml", "version: v2\n")
	secondHead, err := repo.Version()
	if err != nil {
		t.Fatalf("version: %v", err)
	}

	second, err := Analyze(repo, first, &firstHead, secondHead)
	if err != nil {
		t.Fatalf("second analyze: %v", err)
	}

	rs := second.Resources["web"]
	if len(rs.OrderedVersions()) != 2 {
		t.Fatalf("versions = %v, want 2 after incremental analysis", rs.OrderedVersions())
	}
	if len(second.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(second.History))
	}
	// The first analysis must not have been mutated by the second call.
	if len(first.History) != 1 {
		t.Fatalf("first analysis history mutated: len = %d, want 1", len(first.History))
	}
}

func TestAnalyzeSuppressesDuplicateVersionOnReintroduction(t *testing.T) {
	repo := newTestRepo(t)
	commitFile(t, repo, "dev/version/web.yaml", "version: v1\n")
	commitFile(t, repo, "prod/version/web.yaml", "version: v1\n")

	head, err := repo.Version()
	if err != nil {
		t.Fatalf("version: %v", err)
	}

	analysis, err := Analyze(repo, model.NewVersionsAnalysis(), nil, head)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	rs := analysis.Resources["web"]
	if len(rs.OrderedVersions()) != 1 {
		t.Fatalf("versions = %v, want exactly 1 (same content reused across envs)", rs.OrderedVersions())
	}
	if _, ok := rs.VersionByEnv["prod"]; !ok {
		t.Fatal("expected prod's version pointer to be set despite the version itself being a duplicate")
	}
}

func TestSplitCommitMessageStripsTrailers(t *testing.T) {
	header, body := splitCommitMessage("Mirroring dev to prod\n\nDM-Transition: rule\nDM-Source: dev\nDM-Target: prod\n")
	if header != "Mirroring dev to prod" {
		t.Fatalf("header = %q", header)
	}
	if body != "" {
		t.Fatalf("body = %q, want empty", body)
	}
}

func TestSplitCommitMessageKeepsBody(t *testing.T) {
	header, body := splitCommitMessage("Bump web to v2\n\nRolling out the new health check endpoint.\n")
	if header != "Bump web to v2" {
		t.Fatalf("header = %q", header)
	}
	if body != "Rolling out the new health check endpoint." {
		t.Fatalf("body = %q", body)
	}
}
