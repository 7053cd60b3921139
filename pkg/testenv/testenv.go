// Package testenv defines the abstract test-environment contract that
// hides the container/VM/cluster backends from the SuiteRun executor.
// See SPEC_FULL.md §5.2.
package testenv

import (
	"context"
	"io"
	"time"
)

// CmdResult is the outcome of a single command run inside a TestEnv.
// Rc is nil if the command did not complete within its timeout.
type CmdResult struct {
	Rc       *int
	Output   io.ReadCloser
	Duration time.Duration
}

// TimedOut reports whether this result represents a command that did not
// finish before its deadline.
func (r CmdResult) TimedOut() bool {
	return r.Rc == nil
}

// TestEnv is the abstract contract every backend (container, host, cluster)
// implements. A single TestEnv instance is single-writer: the owning
// SuiteRun never issues concurrent calls against it, though multiple
// TestEnv instances (one per suite) run concurrently.
type TestEnv interface {
	// Provision prepares an isolated execution target. It blocks until
	// ready or returns a *UserFacingProvisionError for problems
	// traceable to the suite's own declared spec (bad image, bad distro).
	Provision(ctx context.Context) error

	// Teardown releases all resources. It must be idempotent and must
	// not fail when the underlying objects are already gone.
	Teardown(ctx context.Context) error

	// RunCmd runs cmd inside the environment, merging stdout and stderr
	// into the returned result. If timeout elapses, Rc is left nil and
	// whatever output was captured so far is still returned.
	RunCmd(ctx context.Context, cmd []string, timeout time.Duration) (CmdResult, error)

	// RunCheckedCmd is like RunCmd but raises an error for any nonzero
	// exit code or timeout. Intended only for small, bounded diagnostic
	// commands (e.g. getconf _NPROCESSORS_ONLN).
	RunCheckedCmd(ctx context.Context, cmd []string, timeout time.Duration) ([]byte, error)

	// CopyTo copies a local file or directory into the environment.
	// src ending in "/." copies the directory's contents into dest.
	CopyTo(ctx context.Context, src, dest string) error

	// CopyFrom copies a file or directory out of the environment. If
	// allowMissing is true and src does not exist, it returns
	// (false, nil) instead of an error.
	CopyFrom(ctx context.Context, src, dest string, allowMissing bool) (bool, error)
}

// UserFacingProvisionError wraps a provisioning failure traceable to the
// suite's own data (a bad image reference, an unresolvable ostree ref,
// and so on). The executor surfaces Message as the suite's failure status
// rather than treating it as an infrastructure failure.
type UserFacingProvisionError struct {
	Message string
	Cause   error
}

func (e *UserFacingProvisionError) Error() string { return e.Message }

func (e *UserFacingProvisionError) Unwrap() error { return e.Cause }
