package versionsrepo

import (
	"context"
	"testing"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/stretchr/testify/require"

	"github.com/gitops-dm/dm/internal/model"
)

func newWalkTestRepo(t *testing.T, maxAncestorDepth int) *Repo {
	t.Helper()
	upstreamDir := t.TempDir()
	_, err := gogit.PlainInit(upstreamDir, true)
	require.NoError(t, err)

	repo, err := Open(context.Background(), Config{
		Name:             "repo",
		CheckoutPath:     t.TempDir(),
		UpstreamURL:      upstreamDir,
		MaxAncestorDepth: maxAncestorDepth,
	})
	require.NoError(t, err)
	return repo
}

// commitTouching writes target once (only on its first call) and churn on
// every call, so target's own last-change commit stays the first commit no
// matter how many times commitTouching is called afterwards — exercising
// lastChange's ancestor walk across a growing, otherwise-unrelated history.
func commitTouching(t *testing.T, repo *Repo, target string, churn string) model.ObjectID {
	t.Helper()
	z, err := repo.Zipper()
	require.NoError(t, err)

	if _, ok, err := z.GetBlob(target); err == nil && !ok {
		require.NoError(t, z.Rebuild(func(b *TreeBuilder) {
			hash, err := WriteBlob(repo.Storer(), []byte("original"))
			require.NoError(t, err)
			b.SetBlob(target, hash, filemode.Regular)
		}))
	}
	require.NoError(t, z.Rebuild(func(b *TreeBuilder) {
		hash, err := WriteBlob(repo.Storer(), []byte(churn))
		require.NoError(t, err)
		b.SetBlob("churn.yaml", hash, filemode.Regular)
	}))

	var parents []model.ObjectID
	if v, err := repo.Version(); err == nil {
		parents = append(parents, v)
	}
	id, err := repo.Commit("Test Author", "test@example.com", "churn "+churn, z.IntoInner(), parents...)
	require.NoError(t, err)
	return id
}

func TestLastChangeWalksFullHistoryWithinDefaultDepth(t *testing.T) {
	repo := newWalkTestRepo(t, 0)
	first := commitTouching(t, repo, "target.yaml", "1")
	commitTouching(t, repo, "target.yaml", "2")
	commitTouching(t, repo, "target.yaml", "3")

	var found WalkedBlob
	require.NoError(t, repo.Walk("", func(b WalkedBlob) error {
		if b.Path == "target.yaml" {
			found = b
		}
		return nil
	}))
	require.Equal(t, first, found.LastChange, "target.yaml's last change should resolve to the commit that introduced it")
}

func TestLastChangeStopsAtMaxAncestorDepth(t *testing.T) {
	repo := newWalkTestRepo(t, 1)
	commitTouching(t, repo, "target.yaml", "1")
	commitTouching(t, repo, "target.yaml", "2")
	head := commitTouching(t, repo, "target.yaml", "3")

	var found WalkedBlob
	require.NoError(t, repo.Walk("", func(b WalkedBlob) error {
		if b.Path == "target.yaml" {
			found = b
		}
		return nil
	}))
	require.Equal(t, head, found.LastChange, "a depth-bounded walk should give up at the starting commit rather than finding the true origin")
}
