package app

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/projectatomic/papr/pkg/errlog"
)

func init() {
	RootCmd.PersistentFlags().BoolVarP(&errlog.DebugOutput, "debug", "d", false, "Enable debug output (includes stack traces)")
	RootCmd.PersistentFlags().VarP(&errlog.LogLevel, "loglevel", "", "Set the log level (panic, fatal, error, warn, info, debug, trace)")

	RootCmd.AddCommand(NewCmdRunTest())
	RootCmd.AddCommand(NewCmdValidate())
	RootCmd.AddCommand(NewCmdVersion())
}

// RootCmd is the root command that is executed when papr is run without
// any subcommands.
var RootCmd = &cobra.Command{
	Use:   "papr",
	Short: "Pull request and branch testing orchestrator",
	Long:  "papr checks out a branch or pull request, runs the test suites it declares against the environments they ask for, and reports results back to the forge",
	Run:   rootCmd,
}

func rootCmd(cmd *cobra.Command, args []string) {
	cmd.Help()
	os.Exit(0)
}
