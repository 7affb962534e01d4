package main

import (
	"fmt"

	"github.com/aretw0/texrender"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of texrender",
	// Skip config loading.
	PersistentPreRun: func(cmd *cobra.Command, args []string) {},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "texrender version %s\n", texrender.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
