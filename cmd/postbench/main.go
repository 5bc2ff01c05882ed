// Package main is the entry point for postbench, a dispatch benchmark for the
// post event bus.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "postbench",
		Short:        "Measure dispatch cost of the post event bus",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("postbench %s\n", version)
			cmd.Printf("Commit: %s\n", commit)
			cmd.Printf("Built: %s\n", date)
		},
	}
}
