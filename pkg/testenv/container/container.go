// Package container implements a testenv.TestEnv backed by a single
// long-lived Docker container, grounded on papr's original docker.py
// backend: pull the image up front so the pull doesn't eat into a
// suite's command timeout, run "sleep 1d" as the container's root
// process so it never exits on its own, and shell out to `docker cp`
// for file transfer rather than wrestling with tar-stream archive APIs.
package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/projectatomic/papr/pkg/testenv"
)

// Spec describes the container environment a suite declared.
type Spec struct {
	Image string
}

// Env is a testenv.TestEnv backed by a single docker container.
type Env struct {
	spec        Spec
	cli         *client.Client
	containerID string
	log         *logrus.Entry
}

// New builds a container Env from a negotiated docker client and the
// suite's container spec. The client is expected to be shared across
// suites running concurrently against the same daemon.
func New(cli *client.Client, spec Spec, log *logrus.Entry) *Env {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Env{spec: spec, cli: cli, log: log}
}

// NewClient negotiates a docker client from the ambient DOCKER_HOST/
// DOCKER_* environment, mirroring docker.from_env(version="auto").
func NewClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "building docker client")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		return nil, errors.Wrap(err, "pinging docker daemon")
	}
	return cli, nil
}

func (e *Env) Provision(ctx context.Context) error {
	e.log.Debugf("pulling image %q", e.spec.Image)
	rc, err := e.cli.ImagePull(ctx, e.spec.Image, dockertypes.ImagePullOptions{})
	if err != nil {
		return &testenv.UserFacingProvisionError{
			Message: fmt.Sprintf("could not pull image %s", e.spec.Image),
			Cause:   err,
		}
	}
	// drain the pull's progress stream; we don't report it upstream
	_, _ = io.Copy(io.Discard, rc)
	rc.Close()

	resp, err := e.cli.ContainerCreate(ctx,
		&container.Config{Image: e.spec.Image, Cmd: []string{"sleep", "1d"}},
		&container.HostConfig{},
		nil, nil, "")
	if err != nil {
		return &testenv.UserFacingProvisionError{
			Message: fmt.Sprintf("could not create container from %s", e.spec.Image),
			Cause:   err,
		}
	}
	e.containerID = resp.ID
	if err := e.cli.ContainerStart(ctx, e.containerID, container.StartOptions{}); err != nil {
		return errors.Wrapf(err, "starting container %s", e.containerID)
	}
	e.log.Debugf("started container %q", e.containerID)
	return nil
}

func (e *Env) Teardown(ctx context.Context) error {
	if e.containerID == "" {
		return nil
	}
	// The daemon occasionally fails to remove a container's root fs on
	// the first try but succeeds shortly after, so retry a few times
	// before giving up.
	const retries = 5
	var lastErr error
	for i := 0; i < retries; i++ {
		err := e.cli.ContainerRemove(ctx, e.containerID, container.RemoveOptions{Force: true})
		if err == nil || client.IsErrNotFound(err) {
			return nil
		}
		lastErr = err
		time.Sleep(500 * time.Millisecond)
	}
	return errors.Wrapf(lastErr, "removing container %s", e.containerID)
}

func (e *Env) RunCmd(ctx context.Context, cmd []string, timeout time.Duration) (testenv.CmdResult, error) {
	start := time.Now()

	execResp, err := e.cli.ContainerExecCreate(ctx, e.containerID, dockertypes.ExecConfig{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
	})
	if err != nil {
		return testenv.CmdResult{}, errors.Wrap(err, "creating exec")
	}

	attach, err := e.cli.ContainerExecAttach(ctx, execResp.ID, dockertypes.ExecStartCheck{})
	if err != nil {
		return testenv.CmdResult{}, errors.Wrap(err, "attaching exec")
	}
	defer attach.Close()

	var buf bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&buf, &buf, attach.Reader)
		done <- copyErr
	}()

	var timedOut bool
	select {
	case <-done:
	case <-time.After(timeout):
		timedOut = true
		e.log.Debugf("left an exec reader running (%v)", cmd)
	}

	duration := time.Since(start)
	if timedOut {
		return testenv.CmdResult{
			Rc:       nil,
			Output:   io.NopCloser(&buf),
			Duration: duration,
		}, nil
	}

	inspect, err := e.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return testenv.CmdResult{}, errors.Wrap(err, "inspecting exec")
	}
	rc := inspect.ExitCode
	return testenv.CmdResult{
		Rc:       &rc,
		Output:   io.NopCloser(&buf),
		Duration: duration,
	}, nil
}

func (e *Env) RunCheckedCmd(ctx context.Context, cmd []string, timeout time.Duration) ([]byte, error) {
	r, err := e.RunCmd(ctx, cmd, timeout)
	if err != nil {
		return nil, err
	}
	out, _ := io.ReadAll(r.Output)
	if r.TimedOut() {
		return nil, errors.Errorf("command %v timed out", cmd)
	}
	if *r.Rc != 0 {
		return nil, errors.Errorf("command %v exited with rc=%d: %s", cmd, *r.Rc, out)
	}
	return out, nil
}

// CopyTo shells out to `docker cp`, matching the original backend: the
// CLI already implements the directory-vs-contents copy semantics we'd
// otherwise have to reimplement against the tar-archive API.
func (e *Env) CopyTo(ctx context.Context, src, dest string) error {
	cpDest := fmt.Sprintf("%s:%s", e.containerID, dest)
	return runLogged(ctx, "docker", "cp", src, cpDest)
}

func (e *Env) CopyFrom(ctx context.Context, src, dest string, allowMissing bool) (bool, error) {
	r, err := e.RunCmd(ctx, []string{"test", "-e", src}, 30*time.Second)
	if err != nil {
		return false, err
	}
	if r.Rc == nil || *r.Rc != 0 {
		if allowMissing {
			return false, nil
		}
		return false, errors.Errorf("src not found in container: %s", src)
	}

	cpSrc := fmt.Sprintf("%s:%s", e.containerID, src)
	if err := runLogged(ctx, "docker", "cp", cpSrc, dest); err != nil {
		return false, err
	}
	return true, nil
}

func runLogged(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "running %s %v: %s", name, args, out)
	}
	return nil
}
