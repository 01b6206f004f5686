package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sowflow/sowflow/modules/sow/services"
)

func newStagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stages",
		Short: "Manage the approval stage registry",
	}
	cmd.AddCommand(newStagesListCmd())
	cmd.AddCommand(newStagesApplyCmd())
	return cmd
}

func newStagesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every stage, active or not",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			stages, err := s.services.Stages.ListAll(s.ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), stages)
		},
	}
}

func newStagesApplyCmd() *cobra.Command {
	var (
		file   string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Upsert stages from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			defs, err := services.ParseStageDefinitions(f)
			if err != nil {
				return err
			}
			if dryRun {
				return writeJSON(cmd.OutOrStdout(), defs)
			}

			s, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			stages, err := s.services.Stages.Apply(s.ctx, defs)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), stages)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Stages YAML file (required)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Parse and print without writing")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
