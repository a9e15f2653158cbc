package model

import (
	"testing"
	"time"
)

func commitWithVersionChange(id, versionID ObjectID) ResourceRepoCommit {
	return ResourceRepoCommit{
		ID:   id,
		Time: time.Now(),
		Changes: []Change{
			{
				Kind:     ChangeVersion,
				Resource: "foo",
				VersionInfo: &ResourceVersion{
					VersionID:    versionID,
					IntroducedIn: id,
					Version:      "1",
				},
			},
		},
	}
}

func TestAddCommitIsIdempotent(t *testing.T) {
	va := NewVersionsAnalysis()
	c := commitWithVersionChange(ParseID("aa"), ParseID("bb"))

	va.AddCommit(c)
	va.AddCommit(c)

	if len(va.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(va.History))
	}
	rs := va.Resources["foo"]
	if len(rs.VersionIDs) != 1 {
		t.Fatalf("versions length = %d, want 1", len(rs.VersionIDs))
	}
}

func TestVersionsMapHasNoDuplicateKeysAndPreservesOrder(t *testing.T) {
	va := NewVersionsAnalysis()
	va.AddCommit(commitWithVersionChange(ParseID("aa"), ParseID("11")))
	va.AddCommit(commitWithVersionChange(ParseID("bb"), ParseID("22")))
	va.AddCommit(commitWithVersionChange(ParseID("cc"), ParseID("11"))) // duplicate version id

	rs := va.Resources["foo"]
	if len(rs.VersionIDs) != 2 {
		t.Fatalf("expected 2 distinct version ids, got %d", len(rs.VersionIDs))
	}
	if rs.VersionIDs[0] != ParseID("11") || rs.VersionIDs[1] != ParseID("22") {
		t.Fatalf("unexpected insertion order: %v", rs.VersionIDs)
	}
	if len(va.History) != 3 {
		t.Fatalf("history length = %d, want 3", len(va.History))
	}
}
