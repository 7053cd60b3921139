package suiterun

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type commandList struct {
	build []string
	tests []string
}

// assembleCommands synthesizes the build-API command sequence (if the
// suite declares one) and appends the suite's own test commands,
// reproducing testrun.py's _assemble_build_api_cmds.
func (r *Runner) assembleCommands(ctx context.Context) (*commandList, error) {
	c := &commandList{tests: r.Suite.Tests()}

	if r.Suite.UsesBuildAPI() {
		// the make invocation below reuses configOpts, not buildOpts, per
		// _assemble_build_api_cmds; buildOpts goes unused there too.
		configOpts, _, installOpts := r.Suite.BuildOpts()

		if !fileExists(filepath.Join(r.CheckoutDir, "configure")) {
			switch {
			case fileExists(filepath.Join(r.CheckoutDir, "autogen.sh")):
				c.build = append(c.build, "NOCONFIGURE=1 ./autogen.sh")
			case fileExists(filepath.Join(r.CheckoutDir, "autogen")):
				c.build = append(c.build, "NOCONFIGURE=1 ./autogen")
			}
		}

		c.build = append(c.build, strings.TrimSpace("./configure "+configOpts))

		out, err := r.Env.RunCheckedCmd(ctx, []string{"getconf", "_NPROCESSORS_ONLN"}, 30*time.Second)
		if err != nil {
			return nil, errors.Wrap(err, "querying processor count")
		}
		nproc := strings.TrimSpace(string(out))

		c.build = append(c.build, strings.TrimSpace(fmt.Sprintf("make all --jobs %s %s", nproc, configOpts)))
		c.build = append(c.build, strings.TrimSpace("make install "+installOpts))
	}

	if len(c.build) == 0 && len(c.tests) == 0 {
		return nil, errors.New("suite has neither build nor test commands; the parser should have rejected this")
	}
	return c, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
