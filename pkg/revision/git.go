package revision

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// gitCheckout is a thin wrapper around a local clone used to resolve and
// check out the revision under test, reproducing papr/git.py's Git
// helper. Unlike the suite's TestEnv, this always runs on the papr host
// itself: the checkout is later staged into the TestEnv by pkg/suiterun.
type gitCheckout struct {
	dir     string
	repoURL string
}

func newGitCheckout(dir, repoURL string) *gitCheckout {
	return &gitCheckout{dir: dir, repoURL: repoURL}
}

func (g *gitCheckout) env() []string {
	return append(os.Environ(),
		"GIT_COMMITTER_NAME=papr",
		"GIT_COMMITTER_EMAIL=papr@example.com",
	)
}

func (g *gitCheckout) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir
	cmd.Env = g.env()
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "git %s: %s", strings.Join(args, " "), out)
	}
	return nil
}

func (g *gitCheckout) output(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir
	cmd.Env = g.env()
	out, err := cmd.Output()
	if err != nil {
		return "", errors.Wrapf(err, "git %s", strings.Join(args, " "))
	}
	return strings.TrimSpace(string(out)), nil
}

// update clones into dir if it isn't a checkout yet, otherwise fetches.
func (g *gitCheckout) update(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(g.dir, ".git")); os.IsNotExist(err) {
		if err := os.MkdirAll(g.dir, 0o755); err != nil {
			return err
		}
		return g.clone(ctx)
	}
	return g.fetch(ctx, "")
}

func (g *gitCheckout) clone(ctx context.Context) error {
	return g.run(ctx, "clone", g.repoURL, ".")
}

func (g *gitCheckout) fetch(ctx context.Context, ref string) error {
	args := []string{"fetch", "origin"}
	if ref != "" {
		args = append(args, ref)
	}
	return g.run(ctx, args...)
}

func (g *gitCheckout) revParse(ctx context.Context, ref string) (string, error) {
	return g.output(ctx, "rev-parse", ref)
}

func (g *gitCheckout) checkout(ctx context.Context, ref string) error {
	return g.run(ctx, "checkout", ref)
}

// lockExclusive holds an advisory exclusive lock on the checkout for the
// duration of an update+checkout sequence, so two papr invocations
// racing against the same repo's cached clone can't corrupt it. Every
// revision.Driver operation against a checkout both reads and writes
// it, so there's no read-only path that would benefit from a shared
// lock; LOCK_EX is always what's taken.
func (g *gitCheckout) lockExclusive() (unlock func() error, err error) {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(g.dir, ".papr-lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "opening checkout lock file")
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "locking checkout")
	}
	return func() error {
		defer f.Close()
		return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	}, nil
}
