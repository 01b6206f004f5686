package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sowctl",
		Short:         "SOW approval workflow maintenance tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newReconcileCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newStagesCmd())
	cmd.AddCommand(newSchemaCmd())
	return cmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
