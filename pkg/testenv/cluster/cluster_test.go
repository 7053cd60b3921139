package cluster

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/projectatomic/papr/pkg/testenv"
)

type fakeEnv struct {
	name           string
	provisionErr   error
	teardownErr    error
	provisioned    bool
	tornDown       bool
	lastCmd        []string
}

func (f *fakeEnv) Provision(ctx context.Context) error {
	f.provisioned = true
	return f.provisionErr
}

func (f *fakeEnv) Teardown(ctx context.Context) error {
	f.tornDown = true
	return f.teardownErr
}

func (f *fakeEnv) RunCmd(ctx context.Context, cmd []string, timeout time.Duration) (testenv.CmdResult, error) {
	f.lastCmd = cmd
	rc := 0
	return testenv.CmdResult{Rc: &rc, Output: io.NopCloser(strings.NewReader(f.name))}, nil
}

func (f *fakeEnv) RunCheckedCmd(ctx context.Context, cmd []string, timeout time.Duration) ([]byte, error) {
	f.lastCmd = cmd
	return []byte(f.name), nil
}

func (f *fakeEnv) CopyTo(ctx context.Context, src, dest string) error { return nil }

func (f *fakeEnv) CopyFrom(ctx context.Context, src, dest string, allowMissing bool) (bool, error) {
	return true, nil
}

func TestClusterRoutesToFirstHostWithoutController(t *testing.T) {
	h0 := &fakeEnv{name: "host0"}
	h1 := &fakeEnv{name: "host1"}
	c := &Env{Hosts: []testenv.TestEnv{h0, h1}}

	if err := c.Provision(context.Background()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !h0.provisioned || !h1.provisioned {
		t.Fatalf("expected both hosts to be provisioned")
	}

	out, err := c.RunCheckedCmd(context.Background(), []string{"true"}, time.Second)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if string(out) != "host0" {
		t.Errorf("expected command routed to first host, got %q", out)
	}
	if h1.lastCmd != nil {
		t.Errorf("expected second host to never receive a command")
	}
}

func TestClusterRoutesToControllerWhenPresent(t *testing.T) {
	h0 := &fakeEnv{name: "host0"}
	ctrl := &fakeEnv{name: "controller"}
	c := &Env{Hosts: []testenv.TestEnv{h0}, Controller: ctrl}

	out, err := c.RunCheckedCmd(context.Background(), []string{"true"}, time.Second)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if string(out) != "controller" {
		t.Errorf("expected command routed to controller, got %q", out)
	}
}

func TestClusterTeardownTearsDownAllMembers(t *testing.T) {
	h0 := &fakeEnv{name: "host0"}
	h1 := &fakeEnv{name: "host1"}
	ctrl := &fakeEnv{name: "controller"}
	c := &Env{Hosts: []testenv.TestEnv{h0, h1}, Controller: ctrl}

	if err := c.Teardown(context.Background()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !h0.tornDown || !h1.tornDown || !ctrl.tornDown {
		t.Fatalf("expected all members torn down")
	}
}
