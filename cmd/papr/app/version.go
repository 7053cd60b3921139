package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/projectatomic/papr/pkg/buildinfo"
)

func NewCmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print papr version",
		Run:   runVersion,
		Args:  cobra.ExactArgs(0),
	}
}

func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("papr version: %s\n", buildinfo.Version)
	if buildinfo.GitSHA != "" {
		fmt.Printf("git SHA: %s\n", buildinfo.GitSHA)
	}
}
