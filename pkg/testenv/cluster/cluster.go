// Package cluster composes multiple host.Env backends (and, optionally,
// a controller container.Env) into a single testenv.TestEnv, so a suite
// declaring a 'cluster' env selector runs exactly like a single-host
// suite from the SuiteRun executor's point of view. Commands are routed
// to the controller: the first host when there's no container
// controller, otherwise the container.
package cluster

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/projectatomic/papr/pkg/testenv"
)

// Env composes N host backends and an optional container controller into
// a single TestEnv. All N hosts (and the controller, if present) are
// provisioned and torn down together; RunCmd/CopyTo/CopyFrom forward to
// the controller only.
type Env struct {
	Hosts      []testenv.TestEnv
	Controller testenv.TestEnv // nil when the first host is the controller
}

func (e *Env) controller() testenv.TestEnv {
	if e.Controller != nil {
		return e.Controller
	}
	return e.Hosts[0]
}

func (e *Env) Provision(ctx context.Context) error {
	for i, h := range e.Hosts {
		if err := h.Provision(ctx); err != nil {
			return errors.Wrapf(err, "provisioning host %d", i)
		}
	}
	if e.Controller != nil {
		if err := e.Controller.Provision(ctx); err != nil {
			return errors.Wrap(err, "provisioning controller")
		}
	}
	return nil
}

func (e *Env) Teardown(ctx context.Context) error {
	var firstErr error
	if e.Controller != nil {
		if err := e.Controller.Teardown(ctx); err != nil {
			firstErr = err
		}
	}
	for i, h := range e.Hosts {
		if err := h.Teardown(ctx); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "tearing down host %d", i)
		}
	}
	return firstErr
}

func (e *Env) RunCmd(ctx context.Context, cmd []string, timeout time.Duration) (testenv.CmdResult, error) {
	return e.controller().RunCmd(ctx, cmd, timeout)
}

func (e *Env) RunCheckedCmd(ctx context.Context, cmd []string, timeout time.Duration) ([]byte, error) {
	return e.controller().RunCheckedCmd(ctx, cmd, timeout)
}

func (e *Env) CopyTo(ctx context.Context, src, dest string) error {
	return e.controller().CopyTo(ctx, src, dest)
}

func (e *Env) CopyFrom(ctx context.Context, src, dest string, allowMissing bool) (bool, error) {
	return e.controller().CopyFrom(ctx, src, dest, allowMissing)
}
