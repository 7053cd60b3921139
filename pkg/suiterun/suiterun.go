// Package suiterun implements the per-suite executor state machine:
// provision an environment, stage the checkout, assemble and run the
// build/test command list under a shrinking timeout budget, collect
// artifacts, publish the staging directory, and report a final status.
// It reproduces papr/testrun.py's TestSuiteRun.
package suiterun

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/projectatomic/papr/pkg/forge"
	"github.com/projectatomic/papr/pkg/publish"
	"github.com/projectatomic/papr/pkg/suite"
	"github.com/projectatomic/papr/pkg/testenv"
	papratime "github.com/projectatomic/papr/pkg/time"
)

// RevisionInfo is the slice of a Revision a SuiteRun needs: enough to
// compose forge-injected env vars and the log header, without pkg/suiterun
// importing pkg/revision (which itself depends on pkg/suiterun).
type RevisionInfo struct {
	Repo       string
	HeadSHA    string
	TestSHA    string // the merge commit actually built; equals HeadSHA outside PR-merge mode
	Branch     string // empty in PR mode
	PullID     int    // zero in branch mode
	IsMerge    bool
	LandingURL string // ref's own page, used as a status URL fallback
	BuildID    string
}

func (r RevisionInfo) isPull() bool { return r.PullID != 0 }

// Result is the outcome of one SuiteRun, shipped back to the driver
// exactly once over its result channel.
type Result struct {
	Context    string
	Completed  bool // false only for UserFacingProvisionError
	Rc         int
	TimedOut   bool
	PublishURL string
	Required   bool
}

// Success reports whether this suite is considered to have passed for
// "required" aggregation purposes.
func (r Result) Success() bool {
	return r.Completed && r.Rc == 0 && !r.TimedOut
}

// InfraFailure wraps any error not attributable to the suite's own
// declared data or user test commands. The driver re-raises these
// after joining every worker.
type InfraFailure struct {
	Context string
	Cause   error
}

func (e *InfraFailure) Error() string {
	return fmt.Sprintf("infra failure running suite %q: %v", e.Context, e.Cause)
}

func (e *InfraFailure) Unwrap() error { return e.Cause }

// Runner executes exactly one suite against one TestEnv. It owns the
// TestEnv and the local staging directory for its entire lifetime.
type Runner struct {
	Suite      suite.CanonicalSuite
	Env        testenv.TestEnv
	Forge      forge.Client
	Publisher  publish.Publisher
	Revision   RevisionInfo
	CheckoutDir string // local, already-cloned working tree
	StagingDir  string // local, fresh, owned exclusively by this Runner
	Log         *logrus.Entry
}

const checkoutDirInEnv = "/var/tmp/papr-checkout"

// Run drives the suite through its full state machine and returns the
// Result to ship back to the driver. Teardown always runs before Run
// returns, on every exit path.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	result := Result{Context: r.Suite.Context(), Required: r.Suite.Required()}
	log := r.logger()

	defer func() {
		if err := r.Env.Teardown(ctx); err != nil {
			log.Warnf("teardown failed: %v", err)
		}
		if err := os.RemoveAll(r.StagingDir); err != nil {
			log.Warnf("removing staging dir: %v", err)
		}
	}()

	envKind, _ := r.Suite.EnvSpec()
	if err := r.postStatus(forge.StatePending, fmt.Sprintf("Scheduling %s...", envKind), ""); err != nil {
		log.Warnf("posting scheduling status: %v", err)
	}

	if err := r.Env.Provision(ctx); err != nil {
		if ufe, ok := err.(*testenv.UserFacingProvisionError); ok {
			result.Completed = false
			if postErr := r.postStatus(forge.StateFailure, ufe.Message, ""); postErr != nil {
				log.Warnf("posting provision-failure status: %v", postErr)
			}
			return result, nil
		}
		return result, &InfraFailure{Context: result.Context, Cause: errors.Wrap(err, "provisioning")}
	}

	if err := r.prepare(ctx); err != nil {
		return result, &InfraFailure{Context: result.Context, Cause: errors.Wrap(err, "preparing checkout")}
	}

	buildLog := filepath.Join(r.StagingDir, "build.log")
	testLog := filepath.Join(r.StagingDir, "output.log")

	commands, err := r.assembleCommands(ctx)
	if err != nil {
		return result, &InfraFailure{Context: result.Context, Cause: err}
	}

	if err := os.MkdirAll(r.StagingDir, 0o755); err != nil {
		return result, &InfraFailure{Context: result.Context, Cause: err}
	}
	if len(commands.build) > 0 {
		if err := writeLogHeader(buildLog, r.Revision, result.Context); err != nil {
			return result, &InfraFailure{Context: result.Context, Cause: err}
		}
	}
	if len(commands.tests) > 0 {
		if err := writeLogHeader(testLog, r.Revision, result.Context); err != nil {
			return result, &InfraFailure{Context: result.Context, Cause: err}
		}
	}

	timeoutRemaining := time.Duration(r.Suite.TimeoutSeconds()) * time.Second

	if len(commands.build) > 0 {
		if err := r.postStatus(forge.StatePending, "Building...", ""); err != nil {
			log.Warnf("posting build status: %v", err)
		}
		rc, timedOut, remaining, err := r.runPhase(ctx, commands.build, buildLog, timeoutRemaining)
		timeoutRemaining = remaining
		if err != nil {
			return result, &InfraFailure{Context: result.Context, Cause: err}
		}
		result.Rc, result.TimedOut = rc, timedOut
		if rc != 0 || timedOut {
			result.Completed = true
			return r.finish(ctx, result)
		}
	}

	if len(commands.tests) > 0 {
		if err := r.postStatus(forge.StatePending, "Running tests...", ""); err != nil {
			log.Warnf("posting test status: %v", err)
		}
		rc, timedOut, _, err := r.runPhase(ctx, commands.tests, testLog, timeoutRemaining)
		if err != nil {
			return result, &InfraFailure{Context: result.Context, Cause: err}
		}
		result.Rc, result.TimedOut = rc, timedOut
	}

	result.Completed = true
	return r.finish(ctx, result)
}

func (r *Runner) finish(ctx context.Context, result Result) (Result, error) {
	if err := r.collectArtifacts(ctx); err != nil {
		return result, &InfraFailure{Context: result.Context, Cause: errors.Wrap(err, "collecting artifacts")}
	}

	if err := ensureIndexes(r.StagingDir); err != nil {
		return result, &InfraFailure{Context: result.Context, Cause: errors.Wrap(err, "generating directory indexes")}
	}

	url, err := r.publishStaging(ctx)
	if err != nil {
		return result, &InfraFailure{Context: result.Context, Cause: errors.Wrap(err, "publishing results")}
	}
	result.PublishURL = url

	state, desc := reportOutcome(result)
	if err := r.postStatus(state, desc, url); err != nil {
		r.logger().Warnf("posting final status: %v", err)
	}
	return result, nil
}

func reportOutcome(r Result) (forge.State, string) {
	switch {
	case r.TimedOut:
		return forge.StateFailure, "Test timed out."
	case r.Rc != 0:
		return forge.StateFailure, fmt.Sprintf("Test failed with rc %d.", r.Rc)
	default:
		return forge.StateSuccess, "All tests passed."
	}
}

// postStatus swallows a commit-not-found error (the ref raced and
// disappeared; there's nothing left to report against) and retries
// exactly once on any other error.
func (r *Runner) postStatus(state forge.State, description, url string) error {
	if url == "" {
		url = r.Revision.LandingURL
	}
	err := r.Forge.PostStatus(r.Revision.HeadSHA, state, r.Suite.Context(), description, url)
	if err == nil {
		return nil
	}
	if _, ok := err.(*forge.CommitNotFoundError); ok {
		return nil
	}
	// one retry for anything else (covers the forge client's own
	// internal retry-once-on-bad-json, plus whatever surfaces past it)
	return r.Forge.PostStatus(r.Revision.HeadSHA, state, r.Suite.Context(), description, url)
}

func (r *Runner) prepare(ctx context.Context) error {
	if err := r.ensureRemoteDir(ctx, checkoutDirInEnv); err != nil {
		return err
	}
	return r.Env.CopyTo(ctx, r.CheckoutDir+string(filepath.Separator)+".", checkoutDirInEnv+"/")
}

func (r *Runner) ensureRemoteDir(ctx context.Context, dir string) error {
	_, err := r.Env.RunCheckedCmd(ctx, []string{"mkdir", "-p", dir}, 30*time.Second)
	return err
}

func (r *Runner) collectArtifacts(ctx context.Context) error {
	artifacts := r.Suite.Artifacts()
	if len(artifacts) == 0 {
		return nil
	}
	dir := filepath.Join(r.StagingDir, "artifacts")
	var any bool
	for _, a := range artifacts {
		src := filepath.Join(checkoutDirInEnv, a)
		dest := filepath.Join(dir, a)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		copied, err := r.Env.CopyFrom(ctx, src, dest, true)
		if err != nil {
			return err
		}
		any = any || copied
	}
	if !any {
		return os.RemoveAll(dir)
	}
	return nil
}

func (r *Runner) publishStaging(ctx context.Context) (string, error) {
	nanos := papratime.Now().UnixNano()
	destKey := fmt.Sprintf("%s/%s.%d", r.Revision.Repo, r.Revision.HeadSHA, nanos)
	return r.Publisher.PublishDir(ctx, r.StagingDir, destKey)
}

func (r *Runner) logger() *logrus.Entry {
	if r.Log != nil {
		return r.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// envVars composes the suite's user-declared variables with the
// forge-injected ones, each emitted twice (once PAPR_-prefixed, once
// RHCI_-prefixed for legacy consumers).
func (r *Runner) envVars() map[string]string {
	out := map[string]string{}
	for k, v := range r.Suite.EnvVars() {
		out[k] = v
	}

	injected := map[string]string{
		"REPO":   r.Revision.Repo,
		"COMMIT": r.Revision.HeadSHA,
	}
	if r.Revision.isPull() {
		injected["PULL_ID"] = fmt.Sprintf("%d", r.Revision.PullID)
	} else {
		injected["BRANCH"] = r.Revision.Branch
	}
	if r.Revision.IsMerge {
		injected["MERGE_COMMIT"] = r.Revision.TestSHA
	}
	if r.Revision.BuildID != "" {
		injected["BUILD_ID"] = r.Revision.BuildID
	}
	for k, v := range injected {
		out["PAPR_"+k] = v
		out["RHCI_"+k] = v
	}
	return out
}

func sortedEnvLines(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("export %s=%q", k, env[k]))
	}
	return lines
}

// runPhase runs cmds in order against a shrinking timeout budget,
// appending each command's markers to logPath. It stops at the first
// nonzero exit or timeout and returns the observed rc/timedOut along
// with the remaining budget for the next phase.
func (r *Runner) runPhase(ctx context.Context, cmds []string, logPath string, budget time.Duration) (rc int, timedOut bool, remaining time.Duration, err error) {
	remaining = budget
	env := r.envVars()

	for _, line := range cmds {
		if remaining <= 0 {
			timedOut = true
			if appendErr := appendTimeoutMarker(logPath, line, 0); appendErr != nil {
				return 0, false, remaining, appendErr
			}
			return rc, timedOut, remaining, nil
		}

		res, runErr := r.runOne(ctx, line, env, remaining)
		if runErr != nil {
			return 0, false, remaining, runErr
		}
		remaining -= res.Duration

		if res.TimedOut() {
			timedOut = true
			if appendErr := appendOutputAndMarker(logPath, line, res, "### TIMED OUT AFTER %.0fs\n"); appendErr != nil {
				return 0, false, remaining, appendErr
			}
			return rc, timedOut, remaining, nil
		}

		rc = *res.Rc
		var marker string
		if rc == 0 {
			marker = "### COMPLETED IN %.0fs\n"
		} else {
			marker = fmt.Sprintf("### EXITED WITH CODE %d AFTER %%.0fs\n", rc)
		}
		if appendErr := appendOutputAndMarker(logPath, line, res, marker); appendErr != nil {
			return 0, false, remaining, appendErr
		}
		if rc != 0 {
			return rc, false, remaining, nil
		}
	}
	return rc, timedOut, remaining, nil
}

func (r *Runner) runOne(ctx context.Context, line string, env map[string]string, timeout time.Duration) (testenv.CmdResult, error) {
	script := buildScript(line, checkoutDirInEnv, env)

	local, err := os.CreateTemp("", "papr-cmd-*.sh")
	if err != nil {
		return testenv.CmdResult{}, err
	}
	defer os.Remove(local.Name())
	if _, err := local.WriteString(script); err != nil {
		local.Close()
		return testenv.CmdResult{}, err
	}
	local.Close()

	remotePath := "/var/tmp/" + filepath.Base(local.Name())
	if err := r.Env.CopyTo(ctx, local.Name(), remotePath); err != nil {
		return testenv.CmdResult{}, err
	}

	return r.Env.RunCmd(ctx, []string{"bash", remotePath}, timeout)
}

func buildScript(cmdLine, checkoutDir string, env map[string]string) string {
	var b bytes.Buffer
	b.WriteString("set -euo pipefail\n")
	b.WriteString("exec 2>&1\n")
	fmt.Fprintf(&b, "cd %s\n", checkoutDir)
	for _, line := range sortedEnvLines(env) {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString(cmdLine)
	b.WriteByte('\n')
	return b.String()
}

func appendOutputAndMarker(logPath, cmdLine string, res testenv.CmdResult, markerFmt string) error {
	out, err := io.ReadAll(res.Output)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(f, ">>> %s\n", cmdLine)
	f.Write(out)
	if len(out) > 0 && out[len(out)-1] != '\n' {
		f.WriteString("\n")
	}
	fmt.Fprintf(f, markerFmt, res.Duration.Seconds())
	return nil
}

func appendTimeoutMarker(logPath, cmdLine string, seconds float64) error {
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	fmt.Fprintf(f, ">>> %s\n### TIMED OUT AFTER %.0fs\n", cmdLine, seconds)
	return nil
}
