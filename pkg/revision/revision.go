// Package revision implements the top-level per-invocation driver:
// resolve the ref under test, locate and parse its suite file, fan the
// active suites out to one pkg/suiterun.Runner each, and aggregate a
// "required" status. It reproduces papr/test.py's Test/BranchTest/PullTest
// classes and the runtest entry point in papr/cmd_runtest.py.
package revision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/projectatomic/papr/pkg/config"
	"github.com/projectatomic/papr/pkg/forge"
	"github.com/projectatomic/papr/pkg/publish"
	"github.com/projectatomic/papr/pkg/suite"
	"github.com/projectatomic/papr/pkg/suiterun"
	"github.com/projectatomic/papr/pkg/templates"
	papratime "github.com/projectatomic/papr/pkg/time"
)

// suiteYAMLNames are tried in order in the repo root: the current name
// first, falling back to the legacy name, matching
// Test.find_papr_yaml's migration fallback.
var suiteYAMLNames = []string{".papr.yml", ".papr.yaml", ".redhat-ci.yml"}

// Input is everything the CLI layer gathers from flags before handing
// off to the driver.
type Input struct {
	Repo        string
	Branch      string // mutually exclusive with PullID; zero value means PR mode
	PullID      int
	ExpectedSHA string
	Suites      []string // optional --suite CONTEXT filter
	BuildID     string
}

func (in Input) isPull() bool { return in.Branch == "" }

// Driver runs one revision end to end against a Site.
type Driver struct {
	Site *config.Site
	Log  *logrus.Entry
}

// NewDriver builds a Driver. log may be nil.
func NewDriver(site *config.Site, log *logrus.Entry) *Driver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Driver{Site: site, Log: log}
}

// resolvedRevision captures everything checkoutRef figures out about the
// ref under test.
type resolvedRevision struct {
	headSHA    string // posted to the forge, reported to env vars as COMMIT
	testSHA    string // what's actually checked out and built
	isMerge    bool
	landingURL string
}

// Run drives the full revision flow (spec.md §4.4 phases 1-8). A nil
// error means either a completed run or a quiet exit: a ref race, a
// missing suite file or no active suites (logged only), or an
// unparsable suite file (reported to the forge as an 'error' status
// and, on PRs, a comment).
// Any non-nil error is an infra failure that the caller should treat as
// fatal (matching cmd_runtest.py's bare `raise`).
func (d *Driver) Run(ctx context.Context, in Input) error {
	checkoutDir := filepath.Join(d.Site.CacheDir, "checkouts", in.Repo)
	git := newGitCheckout(checkoutDir, "https://github.com/"+in.Repo)

	// Exclusive for the whole update+checkout sequence: two papr
	// invocations racing on the same repo's cached clone would
	// otherwise stomp on each other's fetch/checkout.
	unlock, err := git.lockExclusive()
	if err != nil {
		return errors.Wrap(err, "locking local checkout")
	}

	if err := git.update(ctx); err != nil {
		unlock()
		return errors.Wrap(err, "updating local checkout")
	}

	rev, err := d.checkoutRef(ctx, git, in)
	if err != nil {
		unlock()
		return errors.Wrap(err, "checking out ref")
	}
	if err := unlock(); err != nil {
		d.Log.Warnf("unlocking local checkout: %v", err)
	}

	if in.ExpectedSHA != "" && in.ExpectedSHA != rev.headSHA {
		d.Log.Infof("SHA1 mismatch: expected %s, got %s; exiting quietly", in.ExpectedSHA, rev.headSHA)
		return nil
	}

	revInfo := d.revisionInfo(in, rev)

	yamlPath, findErr := findSuiteFile(checkoutDir)
	if findErr != nil {
		d.Log.WithError(findErr).Info("no papr YAML file found, exiting quietly...")
		return nil
	}

	suites, parseErr := suite.Parse(yamlPath)
	if parseErr != nil {
		if suite.IsUserError(parseErr) {
			d.reportParseError(in, revInfo, filepath.Base(yamlPath), parseErr)
			return nil
		}
		d.postStatusForRevision(revInfo, forge.StateError, "An internal error occurred.")
		return errors.Wrap(parseErr, "parsing suites")
	}

	active := filterActiveSuites(suites, in)

	if len(in.Suites) > 0 {
		found := map[string]bool{}
		for _, s := range active {
			found[s.Context()] = true
		}
		active = filterByContext(active, in.Suites)
		if len(active) != len(in.Suites) {
			var bad []string
			for _, want := range in.Suites {
				if !found[want] {
					bad = append(bad, want)
				}
			}
			err := errors.Errorf("undefined contexts: %v", bad)
			d.postStatusForRevision(revInfo, forge.StateError, "An internal error occurred.")
			return err
		}
	}

	if len(active) == 0 {
		d.Log.Info("no active suites to run, exiting quietly...")
		return nil
	}

	results, runErr := d.runSuites(ctx, in, revInfo, checkoutDir, active)
	if runErr != nil {
		return runErr
	}

	// "required" aggregation only applies to branch runs, per
	// test.py's _update_required_context (isinstance(self, BranchTest)).
	if !in.isPull() {
		if err := d.updateRequiredContext(ctx, in, revInfo, active, results); err != nil {
			d.Log.Warnf("updating required context: %v", err)
		}
	}

	return nil
}

func (d *Driver) checkoutRef(ctx context.Context, git *gitCheckout, in Input) (resolvedRevision, error) {
	if !in.isPull() {
		if err := git.fetch(ctx, in.Branch); err != nil {
			return resolvedRevision{}, err
		}
		if err := git.checkout(ctx, "FETCH_HEAD"); err != nil {
			return resolvedRevision{}, err
		}
		head, err := git.revParse(ctx, "HEAD")
		if err != nil {
			return resolvedRevision{}, err
		}
		return resolvedRevision{
			headSHA:    head,
			testSHA:    head,
			landingURL: fmt.Sprintf("https://github.com/%s/commits/%s", in.Repo, in.Branch),
		}, nil
	}

	rev := resolvedRevision{landingURL: fmt.Sprintf("https://github.com/%s/pull/%d", in.Repo, in.PullID)}

	mergeRef := fmt.Sprintf("refs/pull/%d/merge", in.PullID)
	if err := git.fetch(ctx, mergeRef); err == nil {
		head, herr := git.revParse(ctx, "FETCH_HEAD^2")
		test, terr := git.revParse(ctx, "FETCH_HEAD")
		if herr == nil && terr == nil {
			rev.headSHA, rev.testSHA, rev.isMerge = head, test, true
		}
	}

	if rev.headSHA == "" {
		// no conflict-free merge available (or the above failed);
		// fall back to testing the PR head directly.
		headRef := fmt.Sprintf("refs/pull/%d/head", in.PullID)
		if err := git.fetch(ctx, headRef); err != nil {
			return resolvedRevision{}, err
		}
		head, err := git.revParse(ctx, "FETCH_HEAD")
		if err != nil {
			return resolvedRevision{}, err
		}
		rev.headSHA, rev.testSHA, rev.isMerge = head, head, false
	}

	if err := git.checkout(ctx, "FETCH_HEAD"); err != nil {
		return resolvedRevision{}, err
	}
	return rev, nil
}

func (d *Driver) revisionInfo(in Input, rev resolvedRevision) suiterun.RevisionInfo {
	return suiterun.RevisionInfo{
		Repo:       in.Repo,
		HeadSHA:    rev.headSHA,
		TestSHA:    rev.testSHA,
		Branch:     in.Branch,
		PullID:     in.PullID,
		IsMerge:    rev.isMerge,
		LandingURL: rev.landingURL,
		BuildID:    in.BuildID,
	}
}

// findSuiteFile locates the suite document in checkoutDir under any of
// the recognized names, preferring the newest.
func findSuiteFile(checkoutDir string) (string, error) {
	for _, name := range suiteYAMLNames {
		f := filepath.Join(checkoutDir, name)
		if st, err := os.Stat(f); err == nil && !st.IsDir() {
			return f, nil
		}
	}
	return "", errors.New("no papr YAML file found in repo root")
}

// filterActiveSuites keeps only the suites whose branches/pulls
// selector matches the revision under test, mirroring
// BranchTest._is_active_suite / PullTest._is_active_suite.
func filterActiveSuites(suites []suite.CanonicalSuite, in Input) []suite.CanonicalSuite {
	var out []suite.CanonicalSuite
	for _, s := range suites {
		if in.isPull() {
			if s.RunsOnPulls() {
				out = append(out, s)
			}
			continue
		}
		for _, b := range s.Branches() {
			if b == in.Branch {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func filterByContext(suites []suite.CanonicalSuite, wanted []string) []suite.CanonicalSuite {
	want := map[string]bool{}
	for _, w := range wanted {
		want[w] = true
	}
	var out []suite.CanonicalSuite
	for _, s := range suites {
		if want[s.Context()] {
			out = append(out, s)
		}
	}
	return out
}

// reportParseError posts an 'error' status and (on PRs) a comment
// pointing the author at `papr validate`, matching cmd_runtest.py's
// ParserError handler.
func (d *Driver) reportParseError(in Input, revInfo suiterun.RevisionInfo, basename string, parseErr error) {
	msg := fmt.Sprintf("Invalid YAML file `%s`", basename)
	d.Log.Warnf("%s: %v", msg, parseErr)

	fg := d.forgeFor(revInfo)
	if err := fg.PostStatus(revInfo.HeadSHA, forge.StateError, "", msg+".", revInfo.LandingURL); err != nil {
		d.Log.Warnf("posting parse-error status: %v", err)
	}
	if in.isPull() {
		comment, renderErr := templates.ParseErrorComment(basename, "validation failed", parseErr.Error())
		if renderErr != nil {
			d.Log.Warnf("rendering parse-error comment: %v", renderErr)
			return
		}
		if err := fg.PostComment(in.PullID, comment); err != nil {
			d.Log.Warnf("posting parse-error comment: %v", err)
		}
	}
}

func (d *Driver) postStatusForRevision(revInfo suiterun.RevisionInfo, state forge.State, msg string) {
	fg := d.forgeFor(revInfo)
	if err := fg.PostStatus(revInfo.HeadSHA, state, "", msg, revInfo.LandingURL); err != nil {
		d.Log.Warnf("posting status: %v", err)
	}
}

// forgeFor wraps the site forge client so every post against a PR merge
// commit also lands on the commit GitHub actually shows the PR's diff
// against.
func (d *Driver) forgeFor(revInfo suiterun.RevisionInfo) forge.Client {
	if !revInfo.IsMerge {
		return d.Site.Forge
	}
	return &dualSHAForge{inner: d.Site.Forge, headSHA: revInfo.HeadSHA, testSHA: revInfo.TestSHA}
}

type suiteOutcome struct {
	suite  suite.CanonicalSuite
	result suiterun.Result
	err    error
}

// runSuites spawns one goroutine per active suite (test.py's
// _spawn_suites, multiprocessing.Process replaced by a goroutine since
// Go has no GIL to dodge) and joins every one of them before returning,
// regardless of individual failures.
func (d *Driver) runSuites(ctx context.Context, in Input, revInfo suiterun.RevisionInfo, checkoutDir string, suites []suite.CanonicalSuite) (map[string]suiterun.Result, error) {
	results := make(chan suiteOutcome, len(suites))
	var wg sync.WaitGroup

	for _, s := range suites {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- d.runOneSuite(ctx, revInfo, checkoutDir, s)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make(map[string]suiterun.Result, len(suites))
	var failed []string
	for outcome := range results {
		suiteCtx := outcome.suite.Context()
		if outcome.err != nil {
			d.Log.Warnf("suite %q failed: %v", suiteCtx, outcome.err)
			failed = append(failed, suiteCtx)
			continue
		}
		out[suiteCtx] = outcome.result
	}

	if len(failed) > 0 {
		return out, errors.Errorf("the following suites failed: %v", failed)
	}
	return out, nil
}

func (d *Driver) runOneSuite(ctx context.Context, revInfo suiterun.RevisionInfo, checkoutDir string, s suite.CanonicalSuite) suiteOutcome {
	log := d.Log.WithField("suite", s.Context())

	env, err := buildEnv(d.Site, s, log)
	if err != nil {
		return suiteOutcome{suite: s, err: errors.Wrap(err, "building test environment")}
	}

	stagingDir := filepath.Join(d.Site.CacheDir, "staging", fmt.Sprintf("%d-%s", papratime.Now().UnixNano(), sanitizeContext(s.Context())))

	runner := &suiterun.Runner{
		Suite:       s,
		Env:         env,
		Forge:       d.forgeFor(revInfo),
		Publisher:   d.Site.Publisher,
		Revision:    revInfo,
		CheckoutDir: checkoutDir,
		StagingDir:  stagingDir,
		Log:         log,
	}

	result, err := runner.Run(ctx)
	if err != nil {
		return suiteOutcome{suite: s, result: result, err: err}
	}
	return suiteOutcome{suite: s, result: result}
}

func sanitizeContext(ctx string) string {
	out := make([]rune, 0, len(ctx))
	for _, r := range ctx {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}

// updateRequiredContext publishes the aggregated landing page for every
// suite marked 'required' and posts a single "required" status summing
// up the pass/fail count, reproducing Test._update_required_context.
func (d *Driver) updateRequiredContext(ctx context.Context, in Input, revInfo suiterun.RevisionInfo, suites []suite.CanonicalSuite, results map[string]suiterun.Result) error {
	var required []suite.CanonicalSuite
	for _, s := range suites {
		if s.Required() {
			required = append(required, s)
		}
	}
	total := len(required)
	if total == 0 {
		return nil
	}

	failures := 0
	rows := make([]templates.RequiredSuiteResult, 0, total)
	for _, s := range required {
		result := results[s.Context()]
		passed := result.Success()
		if !passed {
			failures++
		}
		rows = append(rows, templates.RequiredSuiteResult{
			Context:    s.Context(),
			Passed:     passed,
			PublishURL: result.PublishURL,
		})
	}

	page, err := templates.RenderRequiredIndex(rows)
	if err != nil {
		return errors.Wrap(err, "rendering required index")
	}

	destKey := fmt.Sprintf("%s/%s.%d/index.html", in.Repo, revInfo.HeadSHA, papratime.Now().UnixNano())
	url, err := d.Site.Publisher.PublishBlob(ctx, page, destKey, publish.ContentType("index.html"))
	if err != nil {
		return errors.Wrap(err, "publishing required index")
	}

	state := forge.StateSuccess
	if failures > 0 {
		state = forge.StateFailure
	}
	desc := fmt.Sprintf("%d/%d PASSES", total-failures, total)

	fg := d.forgeFor(revInfo)
	return fg.PostStatus(revInfo.HeadSHA, state, "required", desc, url)
}
