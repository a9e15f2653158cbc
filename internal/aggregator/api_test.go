package aggregator

import (
	"context"
	"testing"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/filemode"

	"github.com/gitops-dm/dm/internal/model"
	"github.com/gitops-dm/dm/internal/resource"
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

	id, err := repo.Commit("Test Author", "test@example.com", "Introduce "+path, z.IntoInner(), parents...)
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

// blobIDAt returns the content-addressed blob id of the file at path in
// repo's current HEAD tree.
func blobIDAt(t *testing.T, repo *versionsrepo.Repo, path string) model.ObjectID {
	t.Helper()
	var found model.ObjectID
	if err := repo.Walk("", func(entry versionsrepo.WalkedBlob) error {
		if entry.Path == path {
			found = entry.BlobID
		}
		return nil
	}); err != nil {
		t.Fatalf("walk: %v", err)
	}
	if found.IsZero() {
		t.Fatalf("no blob found at %q", path)
	}
	return found
}

func TestApplyDeployOverwritesVersionPointer(t *testing.T) {
	repo := newTestRepo(t)
	commitFile(t, repo, "dev/version/web.yaml", "version: v1\n")
	commitFile(t, repo, "dev/version/api.yaml", "version: v2\n")

	webVersionID := blobIDAt(t, repo, "dev/version/web.yaml")
	versionID := webVersionID.String()

	if _, err := applyDeploy(context.Background(), repo, deployRequest{
		Message: "promote api to web's version",
		Resources: []deployedItem{
			{Resource: "api", Env: "dev", VersionID: &versionID},
		},
	}); err != nil {
		t.Fatalf("applyDeploy: %v", err)
	}

	got := blobIDAt(t, repo, "dev/version/api.yaml")
	if got != webVersionID {
		t.Fatalf("api.yaml blob id = %s, want %s", got, webVersionID)
	}
}

func TestApplyDeployLocksAndUnlocksResource(t *testing.T) {
	repo := newTestRepo(t)
	commitFile(t, repo, "dev/version/web.yaml", "version: v1\n")

	locked := true
	if _, err := applyDeploy(context.Background(), repo, deployRequest{
		Message: "lock web",
		Resources: []deployedItem{
			{Resource: "web", Env: "dev", Locked: &locked},
		},
	}); err != nil {
		t.Fatalf("applyDeploy: %v", err)
	}

	data, err := repo.Get("dev/locks.yaml")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	locks, err := resource.ParseLocks(data)
	if err != nil {
		t.Fatalf("parse locks: %v", err)
	}
	if !locks.ResourceLocks["web"].Locked() {
		t.Fatal("expected web to be locked")
	}

	unlocked := false
	if _, err := applyDeploy(context.Background(), repo, deployRequest{
		Message: "unlock web",
		Resources: []deployedItem{
			{Resource: "web", Env: "dev", Locked: &unlocked},
		},
	}); err != nil {
		t.Fatalf("applyDeploy: %v", err)
	}

	data, err = repo.Get("dev/locks.yaml")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	locks, err = resource.ParseLocks(data)
	if err != nil {
		t.Fatalf("parse locks: %v", err)
	}
	if locks.ResourceLocks["web"].Locked() {
		t.Fatal("expected web to be unlocked")
	}
}

func TestApplyDeployProducesEmptyDiffCommitWhenNothingChanges(t *testing.T) {
	repo := newTestRepo(t)
	commitFile(t, repo, "dev/version/web.yaml", "version: v1\n")
	before, err := repo.Version()
	if err != nil {
		t.Fatalf("version: %v", err)
	}

	versionID := blobIDAt(t, repo, "dev/version/web.yaml").String()
	commitID, err := applyDeploy(context.Background(), repo, deployRequest{
		Message: "redeploy same version",
		Resources: []deployedItem{
			{Resource: "web", Env: "dev", VersionID: &versionID},
		},
	})
	if err != nil {
		t.Fatalf("applyDeploy: %v", err)
	}
	if commitID == before {
		t.Fatal("expected a new commit even though the tree content is unchanged")
	}
}
