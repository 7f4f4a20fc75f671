package cmd

import (
	"fmt"

	"github.com/meridian-labs/emissions-engine/internal/version"
	"github.com/spf13/cobra"
)

var runVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and commit of the build",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("emissions-engine %s (commit %s)\n", version.GetVersion(), version.GetCommit())
	},
}
