// Package versionsrepo provides typed read/write access over a bare clone
// of the versions repository: commit lookup, path-scoped walk with
// per-entry last-change commit, the TreeZipper editing discipline, and
// anonymous/SSH fetch and push. All three services (deployer, transitioner,
// aggregator) each open their own independent Repo handle onto the same
// upstream, following fleet's pattern of one client per watcher rather than
// a shared mutable handle (pkg/git/poll/watch.go).
package versionsrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/sirupsen/logrus"

	"github.com/gitops-dm/dm/internal/model"
)

// workingRef is the local reference fetch mirrors the upstream branch to
// and push mirrors back from, per §3's data model.
const workingRef = plumbing.ReferenceName("refs/dm_head")

// upstreamBranchRef is the remote branch this service treats as the single
// source of truth.
const upstreamBranchRef = "refs/heads/master"

// defaultMaxAncestorDepth bounds lastChange's ancestor walk when Config
// leaves MaxAncestorDepth unset.
const defaultMaxAncestorDepth = 10000

// Config names the upstream and local checkout for one Repo handle.
type Config struct {
	// Name distinguishes this handle's checkout directory, e.g. the
	// environment name or "shared" for handles that read the whole tree.
	Name         string
	CheckoutPath string
	UpstreamURL  string

	// MaxAncestorDepth bounds how many first-parent commits lastChange will
	// walk looking for a blob's last change before giving up and reporting
	// the walk's starting commit instead. Zero means defaultMaxAncestorDepth.
	MaxAncestorDepth int
}

// Repo is a typed handle onto one bare clone of the versions repository.
type Repo struct {
	cfg   Config
	repo  *gogit.Repository
	auth  transport.AuthMethod
	log   *logrus.Entry
}

// Open initializes (or reopens) a bare store at cfg.CheckoutPath/cfg.Name,
// resolves SSH credentials for cfg.UpstreamURL if needed, and performs the
// initial fetch. Opening is idempotent: calling Open again against the
// same checkout path reuses the existing bare repository.
func Open(ctx context.Context, cfg Config) (*Repo, error) {
	path := checkoutDir(cfg)

	auth, err := ResolveAuth(cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("resolving auth for %s: %w", cfg.UpstreamURL, err)
	}

	gitRepo, err := gogit.PlainInit(path, true)
	if errors.Is(err, gogit.ErrRepositoryAlreadyExists) {
		gitRepo, err = gogit.PlainOpen(path)
	}
	if err != nil {
		return nil, fmt.Errorf("opening versions repo at %s: %w", path, err)
	}

	if _, err := gitRepo.Remote("origin"); errors.Is(err, gogit.ErrRemoteNotFound) {
		_, err = gitRepo.CreateRemote(&config.RemoteConfig{
			Name: "origin",
			URLs: []string{cfg.UpstreamURL},
		})
	}
	if err != nil {
		return nil, fmt.Errorf("configuring origin remote: %w", err)
	}

	if cfg.MaxAncestorDepth == 0 {
		cfg.MaxAncestorDepth = defaultMaxAncestorDepth
	}

	r := &Repo{
		cfg:  cfg,
		repo: gitRepo,
		auth: auth,
		log:  logrus.WithField("component", "versionsrepo").WithField("repo", cfg.Name),
	}

	if err := r.Update(ctx); err != nil {
		return nil, fmt.Errorf("initial fetch: %w", err)
	}
	return r, nil
}

func checkoutDir(cfg Config) string {
	if cfg.Name == "" {
		return cfg.CheckoutPath
	}
	return cfg.CheckoutPath + "/" + cfg.Name
}

// Update re-fetches refs/heads/master from upstream into refs/dm_head.
// Fetch failures are the caller's to retry next tick, per §4.5/§4.6's
// "transient, retried next tick" failure tier.
func (r *Repo) Update(ctx context.Context) error {
	refspec := config.RefSpec(fmt.Sprintf("+%s:%s", upstreamBranchRef, workingRef))
	err := r.repo.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{refspec},
		Auth:       r.auth,
		Force:      true,
	})
	// An upstream with no commits yet has nothing to fetch; refs/dm_head is
	// left as it is.
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) && !errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return fmt.Errorf("fetching %s: %w", r.cfg.UpstreamURL, err)
	}
	return nil
}

// Version returns the commit id refs/dm_head pointed to after the last
// Update.
func (r *Repo) Version() (model.ObjectID, error) {
	ref, err := r.repo.Reference(workingRef, true)
	if err != nil {
		return model.ZeroID, fmt.Errorf("resolving %s: %w", workingRef, err)
	}
	return model.ObjectID(ref.Hash()), nil
}

// headCommit resolves the current refs/dm_head commit object.
func (r *Repo) headCommit() (*object.Commit, error) {
	ref, err := r.repo.Reference(workingRef, true)
	if err != nil {
		return nil, err
	}
	return object.GetCommit(r.repo.Storer, ref.Hash())
}

// headTree resolves the root tree of the current HEAD commit.
func (r *Repo) headTree() (*object.Tree, error) {
	commit, err := r.headCommit()
	if err != nil {
		return nil, err
	}
	return commit.Tree()
}

// Get returns the content of the blob at path, or (nil, nil) if no such
// blob exists. It errors if path names a non-blob (directory) entry or on
// I/O/decode failure.
func (r *Repo) Get(path string) ([]byte, error) {
	tree, err := r.headTree()
	if err != nil {
		return nil, err
	}
	if entry, err := tree.FindEntry(path); err == nil && entry.Mode == filemode.Dir {
		return nil, errEntryIsDir(path)
	}
	file, err := tree.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	content, err := file.Contents()
	if err != nil {
		return nil, err
	}
	return []byte(content), nil
}

// Zipper returns a TreeZipper positioned at the current HEAD's root tree.
// On a brand new repository with no commits yet, refs/dm_head does not
// resolve; that is not an error here, it yields a zipper positioned at an
// empty (nil) root, letting the transitioner's first mirror commit build a
// tree from nothing.
func (r *Repo) Zipper() (*TreeZipper, error) {
	tree, err := r.headTree()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return NewTreeZipper(r.repo.Storer, nil), nil
		}
		return nil, err
	}
	return NewTreeZipper(r.repo.Storer, tree), nil
}

// Storer exposes the underlying object store for callers building blobs
// directly (e.g. the deploy endpoint's version-bump commit).
func (r *Repo) Storer() storer.EncodedObjectStorer { return r.repo.Storer }

// Commit writes a new commit object with the given tree and parents, moves
// refs/dm_head to it, and returns its id. It does not push.
func (r *Repo) Commit(authorName, authorEmail, message string, tree *object.Tree, parents ...model.ObjectID) (model.ObjectID, error) {
	sig := object.Signature{Name: authorName, Email: authorEmail, When: time.Now()}

	var parentHashes []plumbing.Hash
	for _, p := range parents {
		parentHashes = append(parentHashes, p.Hash())
	}

	var treeHash plumbing.Hash
	if tree != nil {
		treeHash = tree.Hash
	}

	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     treeHash,
		ParentHashes: parentHashes,
	}

	obj := r.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.CommitObject)
	if err := commit.Encode(obj); err != nil {
		return model.ZeroID, fmt.Errorf("encoding commit: %w", err)
	}
	hash, err := r.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return model.ZeroID, fmt.Errorf("storing commit: %w", err)
	}

	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(workingRef, hash)); err != nil {
		return model.ZeroID, fmt.Errorf("updating %s: %w", workingRef, err)
	}
	return model.ObjectID(hash), nil
}

// Push force-pushes refs/dm_head to refs/heads/master on the upstream.
func (r *Repo) Push(ctx context.Context) error {
	refspec := config.RefSpec(fmt.Sprintf("+%s:%s", workingRef, upstreamBranchRef))
	err := r.repo.PushContext(ctx, &gogit.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{refspec},
		Auth:       r.auth,
		Force:      true,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("pushing to %s: %w", r.cfg.UpstreamURL, err)
	}
	return nil
}

// CommitObject resolves a commit id to its object, used by the analyzer's
// ancestor walk and by last-change resolution.
func (r *Repo) CommitObject(id model.ObjectID) (*object.Commit, error) {
	return object.GetCommit(r.repo.Storer, id.Hash())
}
