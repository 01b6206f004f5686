package main

import (
	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var (
		documentID string
		validate   bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print approval statistics for a document",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(documentID)
			if err != nil {
				return err
			}
			s, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			if validate {
				v, err := s.services.Reports.ValidateWorkflow(s.ctx, id)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), v)
			}
			stats, err := s.services.Reports.GetApprovalStats(s.ctx, id)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), stats)
		},
	}

	cmd.Flags().StringVar(&documentID, "document", "", "Document UUID (required)")
	cmd.Flags().BoolVar(&validate, "validate", false, "Print the validation report instead")
	_ = cmd.MarkFlagRequired("document")
	return cmd
}
