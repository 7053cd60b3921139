package revision

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/projectatomic/papr/pkg/config"
	"github.com/projectatomic/papr/pkg/forge"
	"github.com/projectatomic/papr/pkg/publish"
	"github.com/projectatomic/papr/pkg/suite"
	"github.com/projectatomic/papr/pkg/suiterun"
	"github.com/projectatomic/papr/pkg/templates"
)

func newTestSite(fg forge.Client, pub publish.Publisher) *config.Site {
	return &config.Site{Publisher: pub, Forge: fg, CacheDir: "/tmp"}
}

func newTestLog() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

func parseFixture(t *testing.T, yaml string) []suite.CanonicalSuite {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "suite.yml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	suites, err := suite.Parse(path)
	if err != nil {
		t.Fatalf("parsing fixture: %v", err)
	}
	return suites
}

func TestFilterActiveSuitesBranchMode(t *testing.T) {
	suites := parseFixture(t, `
context: on-main
container: {image: x}
tests: ["true"]
branches: [main]
---
context: on-other
inherit: true
branches: [other]
`)
	active := filterActiveSuites(suites, Input{Repo: "o/r", Branch: "main"})
	if len(active) != 1 || active[0].Context() != "on-main" {
		t.Fatalf("expected only on-main active, got %v", active)
	}
}

func TestFilterActiveSuitesPullMode(t *testing.T) {
	suites := parseFixture(t, `
context: runs-on-pulls
container: {image: x}
tests: ["true"]
---
context: branch-only
inherit: true
pulls: false
`)
	active := filterActiveSuites(suites, Input{Repo: "o/r", PullID: 5})
	if len(active) != 1 || active[0].Context() != "runs-on-pulls" {
		t.Fatalf("expected only runs-on-pulls active, got %v", active)
	}
}

func TestFilterByContextDetectsUnknown(t *testing.T) {
	suites := parseFixture(t, `
context: a
container: {image: x}
tests: ["true"]
---
context: b
inherit: true
`)
	got := filterByContext(suites, []string{"a"})
	if len(got) != 1 || got[0].Context() != "a" {
		t.Fatalf("unexpected filter result: %v", got)
	}
	if got := filterByContext(suites, []string{"a", "bogus"}); len(got) != 1 {
		t.Fatalf("expected only the real context to match, got %v", got)
	}
}

func TestSanitizeContextStripsUnsafeChars(t *testing.T) {
	if got := sanitizeContext("Fedora 38 / x86_64"); got != "Fedora-38---x86_64" {
		t.Errorf("unexpected sanitized context: %q", got)
	}
}

type fakeForge struct {
	statuses []fakeStatus
	comments []fakeComment
}

type fakeStatus struct {
	sha, context, description, url string
	state                          forge.State
}

type fakeComment struct {
	issueID int
	text    string
}

func (f *fakeForge) PostStatus(sha string, state forge.State, context, description, url string) error {
	f.statuses = append(f.statuses, fakeStatus{sha, context, description, url, state})
	return nil
}

func (f *fakeForge) PostComment(issueID int, text string) error {
	f.comments = append(f.comments, fakeComment{issueID, text})
	return nil
}

func TestDualSHAForgePostsToBothCommits(t *testing.T) {
	inner := &fakeForge{}
	fg := &dualSHAForge{inner: inner, headSHA: "head123", testSHA: "merge456"}

	if err := fg.PostStatus("ignored", forge.StateSuccess, "ci", "ok", "https://x"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(inner.statuses) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(inner.statuses))
	}
	if inner.statuses[0].sha != "head123" || inner.statuses[1].sha != "merge456" {
		t.Errorf("unexpected shas posted: %+v", inner.statuses)
	}
}

func TestDualSHAForgeSkipsSecondPostWhenSameSHA(t *testing.T) {
	inner := &fakeForge{}
	fg := &dualSHAForge{inner: inner, headSHA: "same", testSHA: "same"}
	if err := fg.PostStatus("ignored", forge.StateSuccess, "ci", "ok", ""); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(inner.statuses) != 1 {
		t.Fatalf("expected 1 post when head==test, got %d", len(inner.statuses))
	}
}

type fakePublisher struct{}

func (fakePublisher) PublishDir(ctx context.Context, dir, destKey string) (string, error) {
	return "https://example.com/" + destKey, nil
}

func (fakePublisher) PublishBlob(ctx context.Context, data []byte, destKey, contentType string) (string, error) {
	return "https://example.com/" + destKey, nil
}

var _ publish.Publisher = fakePublisher{}

func TestUpdateRequiredContextAggregatesPassFail(t *testing.T) {
	suites := parseFixture(t, `
context: a
container: {image: x}
tests: ["true"]
required: true
---
context: b
inherit: true
required: true
---
context: c
inherit: true
required: false
`)

	fg := &fakeForge{}

	results := map[string]suiterun.Result{
		"a": {Completed: true, Rc: 0, PublishURL: "https://a"},
		"b": {Completed: true, Rc: 1, PublishURL: "https://b"},
		"c": {Completed: true, Rc: 1, PublishURL: "https://c"},
	}

	revInfo := suiterun.RevisionInfo{Repo: "o/r", HeadSHA: "deadbeef", Branch: "main"}
	d := &Driver{Site: newTestSite(fg, fakePublisher{}), Log: newTestLog()}
	if err := d.updateRequiredContext(context.Background(), Input{Repo: "o/r", Branch: "main"}, revInfo, suites, results); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if len(fg.statuses) != 1 {
		t.Fatalf("expected exactly one required status post, got %d", len(fg.statuses))
	}
	last := fg.statuses[0]
	if last.context != "required" || last.description != "1/2 PASSES" || last.state != forge.StateFailure {
		t.Errorf("unexpected required status: %+v", last)
	}
}

func TestRenderRequiredIndexEscapesContext(t *testing.T) {
	page, err := templates.RenderRequiredIndex([]templates.RequiredSuiteResult{
		{Context: "<script>", Passed: true, PublishURL: "https://x"},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if containsRaw(page, "<script>") {
		t.Errorf("expected context to be HTML-escaped, got: %s", page)
	}
}

func containsRaw(b []byte, s string) bool {
	return indexOf(string(b), s) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

// TestCheckoutRefBranchMode exercises checkoutRef's branch path against a
// real local git repository, since gitCheckout is a thin exec.Command
// wrapper with no interface to fake.
func TestCheckoutRefBranchMode(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	upstream := t.TempDir()
	run(t, upstream, "init", "-q", "-b", "main")
	run(t, upstream, "config", "user.email", "papr@example.com")
	run(t, upstream, "config", "user.name", "papr")
	if err := os.WriteFile(filepath.Join(upstream, "f"), []byte("1"), 0o644); err != nil {
		t.Fatal(err)
	}
	run(t, upstream, "add", "f")
	run(t, upstream, "commit", "-q", "-m", "c1")

	checkoutDir := t.TempDir()
	git := newGitCheckout(checkoutDir, upstream)
	if err := git.update(context.Background()); err != nil {
		t.Fatalf("update: %v", err)
	}

	d := &Driver{Log: newTestLog()}
	rev, err := d.checkoutRef(context.Background(), git, Input{Repo: "o/r", Branch: "main"})
	if err != nil {
		t.Fatalf("checkoutRef: %v", err)
	}
	if rev.headSHA == "" || rev.headSHA != rev.testSHA || rev.isMerge {
		t.Errorf("unexpected branch-mode revision: %+v", rev)
	}
}

func TestLockExclusiveRoundTrips(t *testing.T) {
	git := newGitCheckout(t.TempDir(), "unused")

	unlock, err := git.lockExclusive()
	if err != nil {
		t.Fatalf("lockExclusive: %v", err)
	}
	if err := unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	// Locking again after unlocking must not block or error: the lock
	// file is reused, not recreated.
	unlock2, err := git.lockExclusive()
	if err != nil {
		t.Fatalf("second lockExclusive: %v", err)
	}
	if err := unlock2(); err != nil {
		t.Fatalf("second unlock: %v", err)
	}
}

func run(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v: %s", args, err, out)
	}
}
