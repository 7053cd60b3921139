package app

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/projectatomic/papr/pkg/config"
	"github.com/projectatomic/papr/pkg/errlog"
	"github.com/projectatomic/papr/pkg/revision"
)

type runTestFlags struct {
	conf        string
	repo        string
	branch      string
	pull        int
	expectedSHA string
	suites      []string
	buildID     string
}

func NewCmdRunTest() *cobra.Command {
	var f runTestFlags
	cmd := &cobra.Command{
		Use:   "runtest",
		Short: "Run the suites a branch or pull request declares against its repo",
		Run:   runTest(&f),
		Args:  cobra.ExactArgs(0),
	}
	flags := cmd.Flags()

	flags.StringVar(&f.conf, "conf", "site.yaml", "Path to the site configuration file")
	flags.StringVar(&f.repo, "repo", "", "The repo to test, as OWNER/NAME")
	flags.StringVar(&f.branch, "branch", "", "Test the tip of this branch")
	flags.IntVar(&f.pull, "pull", 0, "Test this pull request number")
	flags.StringVar(&f.expectedSHA, "expected-sha1", "", "Exit quietly if the resolved head commit doesn't match this SHA1")
	flags.StringSliceVar(&f.suites, "suite", nil, "Only run the suite with this context (repeatable)")
	flags.StringVar(&f.buildID, "build-id", "", "Opaque identifier for this invocation, written to log headers and exported to test commands")

	cmd.MarkFlagRequired("repo")

	return cmd
}

func runTest(f *runTestFlags) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		if (f.branch == "") == (f.pull == 0) {
			errlog.LogError(errors.New("exactly one of --branch or --pull is required"))
			os.Exit(1)
		}

		log := logrus.NewEntry(logrus.StandardLogger())

		site, err := config.Load(f.conf, f.repo, log)
		if err != nil {
			errlog.LogError(errors.Wrap(err, "loading site config"))
			os.Exit(1)
		}

		in := revision.Input{
			Repo:        f.repo,
			Branch:      f.branch,
			PullID:      f.pull,
			ExpectedSHA: f.expectedSHA,
			Suites:      f.suites,
			BuildID:     f.buildID,
		}

		driver := revision.NewDriver(site, log)
		if err := driver.Run(context.Background(), in); err != nil {
			errlog.LogError(err)
			os.Exit(1)
		}
	}
}
