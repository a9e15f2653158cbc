package transitioner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/filemode"

	"github.com/gitops-dm/dm/internal/model"
	"github.com/gitops-dm/dm/internal/versionsrepo"
)

// newTestRepo opens a Repo backed by an empty local bare upstream, so
// Update's initial fetch has nothing to do and every commit is built
// locally through the zipper.
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

	id, err := repo.Commit("Test", "test@example.com", "test commit", z.IntoInner(), parents...)
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

func noPreconditionRule(name, source, target string) Rule {
	return Rule{Name: name, Source: source, Target: target}
}

func TestRunTransitionMirrorsNewVersionFile(t *testing.T) {
	repo := newTestRepo(t)
	commitFile(t, repo, "dev/version/web.yaml", "version: v1\n")

	loop := NewLoop(repo, []Rule{noPreconditionRule("dev-to-prod", "dev", "prod")}, "", time.Millisecond)

	result, err := loop.runTransition(context.Background(), loop.rules[0])
	if err != nil {
		t.Fatalf("runTransition: %v", err)
	}
	if result.Kind != model.ResultSuccess {
		t.Fatalf("result = %+v, want Success", result)
	}

	content, err := repo.Get("prod/version/web.yaml")
	if err != nil {
		t.Fatalf("reading mirrored file: %v", err)
	}
	if string(content) != "version: v1\n" {
		t.Fatalf("mirrored content = %q, want %q", content, "version: v1\n")
	}
}

func TestRunTransitionSkippedWhenSourceMissing(t *testing.T) {
	repo := newTestRepo(t)
	commitFile(t, repo, "prod/version/web.yaml", "version: v1\n")

	loop := NewLoop(repo, []Rule{noPreconditionRule("dev-to-prod", "dev", "prod")}, "", time.Millisecond)

	result, err := loop.runTransition(context.Background(), loop.rules[0])
	if err != nil {
		t.Fatalf("runTransition: %v", err)
	}
	if result.Kind != model.ResultSkipped || result.Reason == nil || result.Reason.Kind != model.SkipSourceMissing {
		t.Fatalf("result = %+v, want Skipped(SourceMissing)", result)
	}
}

func TestRunTransitionSkippedWhenNoChange(t *testing.T) {
	repo := newTestRepo(t)
	commitFile(t, repo, "dev/version/web.yaml", "version: v1\n")
	commitFile(t, repo, "prod/version/web.yaml", "version: v1\n")

	loop := NewLoop(repo, []Rule{noPreconditionRule("dev-to-prod", "dev", "prod")}, "", time.Millisecond)

	result, err := loop.runTransition(context.Background(), loop.rules[0])
	if err != nil {
		t.Fatalf("runTransition: %v", err)
	}
	if result.Kind != model.ResultSkipped || result.Reason == nil || result.Reason.Kind != model.SkipNoChange {
		t.Fatalf("result = %+v, want Skipped(NoChange)", result)
	}
}

func TestRunTransitionSkippedWhenTargetLocked(t *testing.T) {
	repo := newTestRepo(t)
	commitFile(t, repo, "dev/version/web.yaml", "version: v1\n")
	commitFile(t, repo, "prod/locks.yaml", "env_lock:\n  reasons:\n    - frozen for release\nresource_locks: {}\n")

	loop := NewLoop(repo, []Rule{noPreconditionRule("dev-to-prod", "dev", "prod")}, "", time.Millisecond)

	result, err := loop.runTransition(context.Background(), loop.rules[0])
	if err != nil {
		t.Fatalf("runTransition: %v", err)
	}
	if result.Kind != model.ResultSkipped || result.Reason == nil || result.Reason.Kind != model.SkipTargetLocked {
		t.Fatalf("result = %+v, want Skipped(TargetLocked)", result)
	}
}

func TestRunTransitionBlockedBySourceCleanPrecondition(t *testing.T) {
	repo := newTestRepo(t)
	commitFile(t, repo, "dev/version/web.yaml", "version: v1\n")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	rule := Rule{Name: "dev-to-prod", Source: "dev", Target: "prod", Preconditions: []string{"SourceClean"}}
	loop := NewLoop(repo, []Rule{rule}, server.URL, time.Millisecond)

	result, err := loop.runTransition(context.Background(), loop.rules[0])
	if err != nil {
		t.Fatalf("runTransition: %v", err)
	}
	if result.Kind != model.ResultBlocked {
		t.Fatalf("result = %+v, want Blocked (deployer doesn't know about dev yet)", result)
	}
}

func TestRunOneTickFallsThroughSkippedRuleToNextRule(t *testing.T) {
	repo := newTestRepo(t)
	commitFile(t, repo, "dev/version/web.yaml", "version: v1\n")
	commitFile(t, repo, "staging/version/web.yaml", "version: v1\n")

	rules := []Rule{
		noPreconditionRule("dev-to-staging", "dev", "staging"),
		noPreconditionRule("staging-to-prod", "staging", "prod"),
	}
	loop := NewLoop(repo, rules, "", time.Millisecond)

	if err := loop.runOneTick(context.Background()); err != nil {
		t.Fatalf("runOneTick: %v", err)
	}

	status := loop.Status()
	stagingStatus, ok := status["dev-to-staging"]
	if !ok || stagingStatus.LastRun == nil || stagingStatus.LastRun.Result.Kind != model.ResultSkipped {
		t.Fatalf("dev-to-staging status = %+v, want a Skipped(NoChange) last run", stagingStatus)
	}

	prodStatus, ok := status["staging-to-prod"]
	if !ok || len(prodStatus.SuccessfulRuns) != 1 {
		t.Fatalf("staging-to-prod status = %+v, want one successful run", prodStatus)
	}
}

func TestScheduledNotYetDue(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	if scheduledNotYetDue(nil, now) {
		t.Fatal("no scheduled time at all should never be considered not-yet-due")
	}
	if scheduledNotYetDue(&past, now) {
		t.Fatal("a scheduled time in the past should be due")
	}
	if !scheduledNotYetDue(&future, now) {
		t.Fatal("a scheduled time in the future should not yet be due")
	}
	if !scheduledNotYetDue(&now, now) {
		t.Fatal("a scheduled time exactly equal to now should still count as not yet due (non-strict boundary)")
	}
}
