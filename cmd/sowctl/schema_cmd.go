package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/sowflow/sowflow/modules/sow/infrastructure/persistence"
)

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the Postgres DDL",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := io.WriteString(cmd.OutOrStdout(), persistence.SchemaSQL)
			return err
		},
	}
}
