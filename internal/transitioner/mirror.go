package transitioner

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/gitops-dm/dm/internal/versionsrepo"
)

// mirrorInto replaces target's content with an exact copy of source,
// reusing source's blob hashes directly rather than reading and
// re-writing their content (trees are content-addressed, so referencing
// the same hash from two trees is free). Entries present in target but
// not in source are removed; subdirectories are recursed into, creating
// them in target as needed. Symlinks and submodules are not supported,
// per §4.6.
func mirrorInto(source, target *versionsrepo.TreeZipper) error {
	sourceNames := map[string]bool{}
	var blobs, dirs []versionsrepo.WalkEntry
	if err := source.Walk(true, func(e versionsrepo.WalkEntry) error {
		sourceNames[e.Name] = true
		switch {
		case e.IsDir:
			dirs = append(dirs, e)
		case e.Mode == filemode.Regular || e.Mode == filemode.Executable:
			blobs = append(blobs, e)
		default:
			return fmt.Errorf("unsupported entry %q with mode %s: only blobs and directories can be mirrored", e.Name, e.Mode)
		}
		return nil
	}); err != nil {
		return err
	}

	var staleNames []string
	if err := target.Walk(true, func(e versionsrepo.WalkEntry) error {
		if !sourceNames[e.Name] {
			staleNames = append(staleNames, e.Name)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := target.Rebuild(func(b *versionsrepo.TreeBuilder) {
		for _, name := range staleNames {
			b.Remove(name)
		}
		for _, e := range blobs {
			b.SetBlob(e.Name, e.Hash, e.Mode)
		}
	}); err != nil {
		return err
	}

	for _, d := range dirs {
		source.Descend(d.Name)
		target.Descend(d.Name)
		if err := mirrorInto(source, target); err != nil {
			return err
		}
		if err := target.Ascend(); err != nil {
			return err
		}
		if err := source.Ascend(); err != nil {
			return err
		}
	}
	return nil
}

// treeHash returns a tree's hash, or the zero hash for a nil ("doesn't
// exist") tree, so an empty and an absent tree compare equal.
func treeHash(t *object.Tree) plumbing.Hash {
	if t == nil {
		return plumbing.ZeroHash
	}
	return t.Hash
}
