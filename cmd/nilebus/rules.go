package main

import (
	"github.com/spf13/cobra"

	"github.com/Alnajaar/nilelink-sub003/internal/rules"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Work with rule files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file|dir>...",
		Short: "Check rule files without installing them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rules.ValidateFiles(args); err != nil {
				return err
			}
			cmd.Println("ok")
			return nil
		},
	})
	return cmd
}
