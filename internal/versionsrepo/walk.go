package versionsrepo

import (
	"errors"
	"io"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/gitops-dm/dm/internal/model"
)

// WalkedBlob is one blob leaf reported by Walk: its path relative to the
// base path that was walked, its content, its own blob id (content
// identity, stable across commits that don't touch it), and the commit
// under which it last changed value.
type WalkedBlob struct {
	Path          string
	Content       []byte
	BlobID        model.ObjectID
	LastChange    model.ObjectID
	ChangeMessage string
}

// Walk performs the depth-first traversal of blob leaves under basePath
// described in §4.1, rooted at the current HEAD.
func (r *Repo) Walk(basePath string, visit func(WalkedBlob) error) error {
	commit, err := r.headCommit()
	if err != nil {
		return nil // empty repository: nothing to walk
	}
	return r.WalkCommit(commit, basePath, visit)
}

// WalkCommit performs the same depth-first traversal as Walk, but rooted at
// an arbitrary historical commit rather than HEAD: each leaf is reported
// with its content, blob id, and its last-change commit as of that
// historical root, found by walking ancestors and comparing the blob's
// entry id at basePath/path until the first divergence. A missing basePath
// yields no entries and no error. Grounded on the original implementation's
// walk_commit, used by the commit analyzer to ask "what changed in exactly
// this commit" one historical commit at a time.
func (r *Repo) WalkCommit(commit *object.Commit, basePath string, visit func(WalkedBlob) error) error {
	root, err := commit.Tree()
	if err != nil {
		return err
	}

	base := strings.Trim(basePath, "/")
	subtree := root
	if base != "" {
		subtree, err = root.Tree(base)
		if errors.Is(err, object.ErrDirectoryNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
	}

	iter := subtree.Files()
	defer iter.Close()
	for {
		file, err := iter.Next()
		if err == nil {
			content, cerr := file.Contents()
			if cerr != nil {
				return cerr
			}
			fullPath := file.Name
			if base != "" {
				fullPath = base + "/" + file.Name
			}
			lastChange, message, lerr := r.lastChange(commit, fullPath)
			if lerr != nil {
				return lerr
			}
			if verr := visit(WalkedBlob{
				Path:          file.Name,
				Content:       content2bytes(content),
				BlobID:        model.ObjectID(file.Hash),
				LastChange:    lastChange,
				ChangeMessage: message,
			}); verr != nil {
				return verr
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
}

func content2bytes(s string) []byte { return []byte(s) }

// lastChange walks commit's ancestry (first-parent only: the versions
// repository has a single-writer contract per ref, so linear history is
// the expected shape) comparing the blob id at path, stopping at the first
// commit whose parent's id (or presence) differs. The walk is bounded by
// r.cfg.MaxAncestorDepth: a repository whose history is longer than that is
// an operational anomaly, logged and reported as "last changed at the
// walk's starting commit" rather than left to run unbounded.
func (r *Repo) lastChange(commit *object.Commit, path string) (model.ObjectID, string, error) {
	cur := commit
	curHash, curExists, err := blobHashAtPath(cur, path)
	if err != nil {
		return model.ZeroID, "", err
	}

	for depth := 0; ; depth++ {
		if depth >= r.cfg.MaxAncestorDepth {
			r.log.WithField("path", path).
				WithField("max_ancestor_depth", r.cfg.MaxAncestorDepth).
				Warn("last-change ancestor walk exceeded max depth, giving up")
			return model.ObjectID(commit.Hash), commit.Message, nil
		}
		if cur.NumParents() == 0 {
			return model.ObjectID(cur.Hash), cur.Message, nil
		}
		parent, err := cur.Parent(0)
		if err != nil {
			return model.ZeroID, "", err
		}
		parentHash, parentExists, err := blobHashAtPath(parent, path)
		if err != nil {
			return model.ZeroID, "", err
		}
		if parentHash != curHash || parentExists != curExists {
			return model.ObjectID(cur.Hash), cur.Message, nil
		}
		cur = parent
		curHash, curExists = parentHash, parentExists
	}
}

func blobHashAtPath(c *object.Commit, path string) (h plumbing.Hash, exists bool, err error) {
	tree, err := c.Tree()
	if err != nil {
		return h, false, err
	}
	entry, err := tree.FindEntry(path)
	if err != nil {
		return h, false, nil
	}
	return entry.Hash, true, nil
}
