package versionsrepo

import (
	"errors"
	"io"
	"sort"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// ErrEntryNotFound is returned by zipper lookups for a name that isn't
// present in the current tree.
var ErrEntryNotFound = errors.New("tree entry not found")

// ErrAscendAtRoot is returned by Ascend when the zipper holds no parent
// frames, matching the invariant that "at the root, ascend is disallowed".
var ErrAscendAtRoot = errors.New("cannot ascend: already at tree root")

// frame records one step taken by Descend: the parent tree it was taken
// from (possibly nil, if the parent itself didn't exist) and the name
// descended into.
type frame struct {
	parent *object.Tree
	name   string
}

// TreeZipper is a cursor over an immutable tree, following the "pure
// functional zipper" design fleet's tree-editing code never needed (fleet
// only ever reads remote refs) but whose shape mirrors how go-git's own
// object.Tree is built: a stack of parent frames plus the tree currently
// being edited. descend/ascend never mutate an existing tree object in
// place; rebuild always writes a brand new tree and the zipper only ever
// holds references to immutable trees already committed to the object
// store.
type TreeZipper struct {
	storer storer.EncodedObjectStorer
	tree   *object.Tree // nil means "this path does not exist"
	stack  []frame
}

// NewTreeZipper creates a zipper rooted at root (which may be nil to
// represent an empty tree, e.g. a brand new repository).
func NewTreeZipper(st storer.EncodedObjectStorer, root *object.Tree) *TreeZipper {
	return &TreeZipper{storer: st, tree: root}
}

// Exists reports whether the cursor's current position names a real tree.
func (z *TreeZipper) Exists() bool { return z.tree != nil }

// Descend moves the cursor into the named subtree. If name does not exist,
// or exists but is not a directory, the cursor becomes "not exists" but
// remains valid: a subsequent Rebuild may still create a new subtree at
// this position, and Ascend will splice it into the parent.
func (z *TreeZipper) Descend(name string) {
	child := z.lookupSubtree(name)
	z.stack = append(z.stack, frame{parent: z.tree, name: name})
	z.tree = child
}

func (z *TreeZipper) lookupSubtree(name string) *object.Tree {
	if z.tree == nil {
		return nil
	}
	entry, err := findEntry(z.tree, name)
	if err != nil || entry.Mode != filemode.Dir {
		return nil
	}
	t, err := object.GetTree(z.storer, entry.Hash)
	if err != nil {
		return nil
	}
	return t
}

// Ascend pops the top frame, splicing the (possibly freshly rebuilt)
// current tree back into its parent under the descended name: removed
// if the current tree is nil or empty, replaced otherwise. It is an error
// to call Ascend with an empty frame stack.
func (z *TreeZipper) Ascend() error {
	if len(z.stack) == 0 {
		return ErrAscendAtRoot
	}
	top := z.stack[len(z.stack)-1]
	z.stack = z.stack[:len(z.stack)-1]

	b := newTreeBuilder(top.parent)
	if z.tree == nil || len(z.tree.Entries) == 0 {
		b.Remove(top.name)
	} else {
		b.SetTree(top.name, z.tree.Hash)
	}
	newParent, err := b.build(z.storer)
	if err != nil {
		return err
	}
	z.tree = newParent
	return nil
}

// GetBlob returns the content of the named blob at the current position.
// ok is false when the name is absent; an error is returned only for a
// genuine I/O or decode failure, or when name names a subtree.
func (z *TreeZipper) GetBlob(name string) (content []byte, ok bool, err error) {
	if z.tree == nil {
		return nil, false, nil
	}
	entry, err := findEntry(z.tree, name)
	if err != nil {
		return nil, false, nil
	}
	if entry.Mode == filemode.Dir {
		return nil, false, errEntryIsDir(name)
	}
	blob, err := object.GetBlob(z.storer, entry.Hash)
	if err != nil {
		return nil, false, err
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, false, err
	}
	defer r.Close()
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, false, err
	}
	return buf, true, nil
}

// WalkEntry is one direct child reported by Walk.
type WalkEntry struct {
	Name  string
	IsDir bool
	Hash  plumbing.Hash
	Mode  filemode.FileMode
}

// Walk iterates the direct children of the current position, in tree
// order. Directories are skipped unless includeDirs is set. It is a no-op
// on a non-existent position.
func (z *TreeZipper) Walk(includeDirs bool, visit func(WalkEntry) error) error {
	if z.tree == nil {
		return nil
	}
	for _, e := range z.tree.Entries {
		isDir := e.Mode == filemode.Dir
		if isDir && !includeDirs {
			continue
		}
		if err := visit(WalkEntry{Name: e.Name, IsDir: isDir, Hash: e.Hash, Mode: e.Mode}); err != nil {
			return err
		}
	}
	return nil
}

// Rebuild is the sole mutation path for a zipper's current position: it
// hands the caller a TreeBuilder seeded with the existing entries (if any),
// lets the caller add/replace/remove entries, then writes the resulting
// tree as a brand new object and swaps it in as the current position.
func (z *TreeZipper) Rebuild(fn func(*TreeBuilder)) error {
	b := newTreeBuilder(z.tree)
	fn(b)
	t, err := b.build(z.storer)
	if err != nil {
		return err
	}
	z.tree = t
	return nil
}

// IntoInner returns the tree at the current position (nil if it doesn't
// exist), ending the zipper's life.
func (z *TreeZipper) IntoInner() *object.Tree { return z.tree }

// TreeBuilder accumulates entry edits for one Rebuild call.
type TreeBuilder struct {
	entries map[string]object.TreeEntry
}

func newTreeBuilder(existing *object.Tree) *TreeBuilder {
	b := &TreeBuilder{entries: map[string]object.TreeEntry{}}
	if existing != nil {
		for _, e := range existing.Entries {
			b.entries[e.Name] = e
		}
	}
	return b
}

// SetBlob inserts or overwrites name as a blob entry.
func (b *TreeBuilder) SetBlob(name string, hash plumbing.Hash, mode filemode.FileMode) {
	b.entries[name] = object.TreeEntry{Name: name, Mode: mode, Hash: hash}
}

// SetTree inserts or overwrites name as a subtree entry.
func (b *TreeBuilder) SetTree(name string, hash plumbing.Hash) {
	b.entries[name] = object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: hash}
}

// Remove deletes name, if present. Removing an absent name is a no-op.
func (b *TreeBuilder) Remove(name string) { delete(b.entries, name) }

// build writes the accumulated entries as a new tree object. An empty
// entry set builds to (nil, nil): "no tree", letting Ascend/callers treat
// an emptied directory as absent rather than writing an empty tree object.
func (b *TreeBuilder) build(st storer.EncodedObjectStorer) (*object.Tree, error) {
	if len(b.entries) == 0 {
		return nil, nil
	}
	entries := make([]object.TreeEntry, 0, len(b.entries))
	for _, e := range b.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return writeTree(st, entries)
}

func findEntry(t *object.Tree, name string) (object.TreeEntry, error) {
	for _, e := range t.Entries {
		if e.Name == name {
			return e, nil
		}
	}
	return object.TreeEntry{}, ErrEntryNotFound
}

func writeTree(st storer.EncodedObjectStorer, entries []object.TreeEntry) (*object.Tree, error) {
	t := &object.Tree{Entries: entries}
	obj := st.NewEncodedObject()
	obj.SetType(plumbing.TreeObject)
	if err := t.Encode(obj); err != nil {
		return nil, err
	}
	hash, err := st.SetEncodedObject(obj)
	if err != nil {
		return nil, err
	}
	t.Hash = hash
	return t, nil
}

// WriteBlob stores content as a new blob object and returns its hash. It is
// exported for callers (the deploy endpoint, the transitioner's
// transition_state.yaml writer) that need to create a blob before handing its hash to a
// TreeBuilder.
func WriteBlob(st storer.EncodedObjectStorer, content []byte) (plumbing.Hash, error) {
	obj := st.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(content)))
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return st.SetEncodedObject(obj)
}

func errEntryIsDir(name string) error {
	return &entryIsDirError{name: name}
}

type entryIsDirError struct{ name string }

func (e *entryIsDirError) Error() string { return e.name + " is a directory, not a blob" }
