// Package model holds the wire and in-memory data types shared by all three
// services: the commit-addressed object id, the rollout-status lattice, the
// deployer/transitioner status snapshots, the commit analysis graph, and the
// message envelope broadcast by the aggregator.
package model

import (
	"encoding/hex"
	"encoding/json"

	"github.com/go-git/go-git/v5/plumbing"
)

// ObjectID is a content hash identifying a commit or blob in the versions
// repository. It wraps the same 20-byte SHA-1 type go-git uses internally
// for every object address, so converting to/from a plumbing.Hash is a
// plain cast, while still letting us attach the hex-string JSON encoding
// the wire format requires.
type ObjectID plumbing.Hash

// ZeroID is the sentinel "no object" id, used as the synthetic live version
// when a cluster resource has no version annotation.
var ZeroID = ObjectID(plumbing.ZeroHash)

// ParseID parses a lowercase hex object id, returning ZeroID for an empty
// string (a common "not yet known" case for optional pointers).
func ParseID(s string) ObjectID {
	if s == "" {
		return ZeroID
	}
	return ObjectID(plumbing.NewHash(s))
}

// ParseIDStrict parses a 40-character hex id (either letter case), unlike
// ParseID refusing to accept anything else. Used where a malformed value read from
// outside the repo (a cluster annotation, a user-supplied string) must
// become the synthetic zero id rather than whatever garbage
// plumbing.NewHash would pad it into.
func ParseIDStrict(s string) (ObjectID, bool) {
	if len(s) != 40 {
		return ZeroID, false
	}
	var raw [20]byte
	if _, err := hex.Decode(raw[:], []byte(s)); err != nil {
		return ZeroID, false
	}
	return ObjectID(raw), true
}

// Hash returns the go-git plumbing hash underlying this id.
func (id ObjectID) Hash() plumbing.Hash { return plumbing.Hash(id) }

// String renders the id as lowercase hex.
func (id ObjectID) String() string { return plumbing.Hash(id).String() }

// IsZero reports whether id is the sentinel zero id.
func (id ObjectID) IsZero() bool { return id == ZeroID }

// Less gives ObjectID its total byte-sequence ordering, used when stable
// iteration order over a set of ids is required.
func Less(a, b ObjectID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func (id ObjectID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *ObjectID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*id = ParseID(s)
	return nil
}
