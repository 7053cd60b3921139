package app

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/projectatomic/papr/pkg/errlog"
	"github.com/projectatomic/papr/pkg/suite"
)

const (
	validateSpinnerCharSet = 14
	validateSpinnerRate    = 200 * time.Millisecond
	validateSpinnerColor   = "red"
)

type validateFlags struct {
	outputDir string
}

func NewCmdValidate() *cobra.Command {
	var f validateFlags
	cmd := &cobra.Command{
		Use:   "validate YML_FILE",
		Short: "Parse and canonicalize a suite file, reporting any errors",
		Run:   validate(&f),
		Args:  cobra.ExactArgs(1),
	}
	flags := cmd.Flags()

	flags.StringVar(&f.outputDir, "output-dir", "", "Write the canonicalized form of each suite to this directory")

	return cmd
}

func validate(f *validateFlags) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		path := args[0]

		var s *spinner.Spinner
		if isatty.IsTerminal(os.Stdout.Fd()) {
			s = spinner.New(spinner.CharSets[validateSpinnerCharSet], validateSpinnerRate)
			s.Color(validateSpinnerColor)
			s.Suffix = fmt.Sprintf(" parsing %s", path)
			s.Start()
		}

		suites, err := suite.Parse(path)

		if s != nil {
			s.Stop()
		}

		if err != nil {
			errlog.LogError(errors.Wrap(err, "invalid suite file"))
			os.Exit(1)
		}

		for i, one := range suites {
			fmt.Printf("INFO: validated suite %d (%s)\n", i, one.Context())
		}

		if f.outputDir == "" {
			return
		}

		for _, one := range suites {
			dir := f.outputDir + "/" + sanitizeFilename(one.Context())
			if err := suite.Flush(one, dir); err != nil {
				errlog.LogError(errors.Wrapf(err, "flushing suite %q", one.Context()))
				os.Exit(1)
			}
		}
	}
}

func sanitizeFilename(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}
