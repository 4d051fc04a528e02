package main

import (
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("nilebus %s\n", version)
			cmd.Printf("Commit: %s\n", commit)
			cmd.Printf("Built: %s\n", date)
		},
	}
}
