package suiterun

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/projectatomic/papr/pkg/forge"
	"github.com/projectatomic/papr/pkg/suite"
	"github.com/projectatomic/papr/pkg/testenv"
)

type fakeEnv struct {
	provisionErr error
	rc           *int
	timedOut     bool
	teardownCalled bool
	copyFromOK   bool
	copied       map[string][]byte
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{copied: map[string][]byte{}}
}

func (e *fakeEnv) Provision(ctx context.Context) error { return e.provisionErr }

func (e *fakeEnv) Teardown(ctx context.Context) error {
	e.teardownCalled = true
	return nil
}

func (e *fakeEnv) RunCmd(ctx context.Context, cmd []string, timeout time.Duration) (testenv.CmdResult, error) {
	if e.timedOut {
		return testenv.CmdResult{Rc: nil, Output: io.NopCloser(strings.NewReader("")), Duration: timeout}, nil
	}
	rc := 0
	if e.rc != nil {
		rc = *e.rc
	}
	return testenv.CmdResult{Rc: &rc, Output: io.NopCloser(strings.NewReader("ok\n")), Duration: time.Millisecond}, nil
}

func (e *fakeEnv) RunCheckedCmd(ctx context.Context, cmd []string, timeout time.Duration) ([]byte, error) {
	return []byte("4"), nil
}

func (e *fakeEnv) CopyTo(ctx context.Context, src, dest string) error {
	data, err := os.ReadFile(src)
	if err == nil {
		e.copied[dest] = data
	}
	return nil
}

func (e *fakeEnv) CopyFrom(ctx context.Context, src, dest string, allowMissing bool) (bool, error) {
	if e.copyFromOK {
		if err := os.WriteFile(dest, []byte("artifact\n"), 0o644); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

type fakeForge struct {
	posts []statusPost
}

type statusPost struct {
	sha, context, description, url string
	state                          forge.State
}

func (f *fakeForge) PostStatus(sha string, state forge.State, context, description, url string) error {
	f.posts = append(f.posts, statusPost{sha, context, description, url, state})
	return nil
}

func (f *fakeForge) PostComment(issueID int, text string) error { return nil }

// fakePublisher records the staging directory's entry names at the
// moment of publish, since Runner.Run removes the staging dir in its
// teardown defer before returning.
type fakePublisher struct {
	stagedEntries []string
}

func (p *fakePublisher) PublishDir(ctx context.Context, dir, destKey string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		p.stagedEntries = append(p.stagedEntries, e.Name())
	}
	return "https://example.com/" + destKey, nil
}

func (p *fakePublisher) PublishBlob(ctx context.Context, data []byte, destKey, contentType string) (string, error) {
	return "https://example.com/" + destKey, nil
}

func parseOneSuite(t *testing.T, yaml string) suite.CanonicalSuite {
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
	return suites[0]
}

func newRunner(t *testing.T, s suite.CanonicalSuite, env *fakeEnv, fg *fakeForge) *Runner {
	return newRunnerWithPublisher(t, s, env, fg, &fakePublisher{})
}

func newRunnerWithPublisher(t *testing.T, s suite.CanonicalSuite, env *fakeEnv, fg *fakeForge, pub *fakePublisher) *Runner {
	return &Runner{
		Suite:       s,
		Env:         env,
		Forge:       fg,
		Publisher:   pub,
		Revision:    RevisionInfo{Repo: "owner/repo", HeadSHA: "deadbeef", Branch: "main"},
		CheckoutDir: t.TempDir(),
		StagingDir:  filepath.Join(t.TempDir(), "staging"),
	}
}

func TestRunnerHappyPathReportsSuccess(t *testing.T) {
	s := parseOneSuite(t, "context: ci\ncontainer: {image: x}\ntests: [\"true\"]\n")
	env := newFakeEnv()
	fg := &fakeForge{}
	r := newRunner(t, s, env, fg)

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !result.Completed || result.Rc != 0 || result.TimedOut {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.PublishURL == "" {
		t.Errorf("expected a publish url")
	}
	if !env.teardownCalled {
		t.Errorf("expected teardown to run")
	}
	last := fg.posts[len(fg.posts)-1]
	if last.state != forge.StateSuccess {
		t.Errorf("expected final success status, got %+v", last)
	}
}

func TestRunnerNonZeroExitReportsFailure(t *testing.T) {
	s := parseOneSuite(t, "context: ci\ncontainer: {image: x}\ntests: [\"false\"]\n")
	env := newFakeEnv()
	rc := 7
	env.rc = &rc
	fg := &fakeForge{}
	r := newRunner(t, s, env, fg)

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if result.Rc != 7 || result.TimedOut {
		t.Fatalf("unexpected result: %+v", result)
	}
	last := fg.posts[len(fg.posts)-1]
	if last.state != forge.StateFailure || !strings.Contains(last.description, "7") {
		t.Errorf("expected failure status mentioning rc 7, got %+v", last)
	}
}

func TestRunnerTimeoutMarksTimedOut(t *testing.T) {
	s := parseOneSuite(t, "context: ci\ncontainer: {image: x}\ntests: [\"sleep 100\"]\ntimeout: \"1m\"\n")
	env := newFakeEnv()
	env.timedOut = true
	fg := &fakeForge{}
	r := newRunner(t, s, env, fg)

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !result.TimedOut {
		t.Fatalf("expected timed out result, got %+v", result)
	}
	last := fg.posts[len(fg.posts)-1]
	if last.state != forge.StateFailure || !strings.Contains(last.description, "timed out") {
		t.Errorf("expected timeout failure status, got %+v", last)
	}
}

func TestRunnerUserFacingProvisionErrorSkipsTestsAndReportsFailure(t *testing.T) {
	s := parseOneSuite(t, "context: ci\ncontainer: {image: x}\ntests: [\"true\"]\n")
	env := newFakeEnv()
	env.provisionErr = &testenv.UserFacingProvisionError{Message: "bad image"}
	fg := &fakeForge{}
	r := newRunner(t, s, env, fg)

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if result.Completed {
		t.Errorf("expected result.Completed=false on provision error")
	}
	if !env.teardownCalled {
		t.Errorf("expected teardown to still run")
	}
	last := fg.posts[len(fg.posts)-1]
	if last.state != forge.StateFailure || last.description != "bad image" {
		t.Errorf("expected failure status with provision message, got %+v", last)
	}
}

func TestRunnerTestOnlySuiteStagesOnlyOutputLog(t *testing.T) {
	s := parseOneSuite(t, "context: ci\ncontainer: {image: x}\ntests: [\"true\"]\n")
	env := newFakeEnv()
	fg := &fakeForge{}
	pub := &fakePublisher{}
	r := newRunnerWithPublisher(t, s, env, fg, pub)

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if len(pub.stagedEntries) != 1 || pub.stagedEntries[0] != "output.log" {
		t.Errorf("expected staging dir to contain exactly output.log, got %v", pub.stagedEntries)
	}
}

func TestRunnerMultiEntryStagingGetsIndex(t *testing.T) {
	s := parseOneSuite(t, "context: ci\ncontainer: {image: x}\ntests: [\"true\"]\nartifacts: [\"out.bin\"]\n")
	env := newFakeEnv()
	env.copyFromOK = true
	fg := &fakeForge{}
	pub := &fakePublisher{}
	r := newRunnerWithPublisher(t, s, env, fg, pub)

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	names := map[string]bool{}
	for _, n := range pub.stagedEntries {
		names[n] = true
	}
	if !names["index.html"] {
		t.Errorf("expected a generated index.html alongside output.log and artifacts/, got %v", pub.stagedEntries)
	}
	if !names["artifacts"] {
		t.Errorf("expected an artifacts entry, got %v", pub.stagedEntries)
	}
}
