package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sowflow/sowflow/modules/sow/services"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the approval audit trail",
	}
	cmd.AddCommand(newAuditSummaryCmd())
	cmd.AddCommand(newAuditExportCmd())
	return cmd
}

func newAuditSummaryCmd() *cobra.Command {
	var documentID string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print decided approval events",
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

			summary, err := s.services.Reports.GetAuditSummary(s.ctx, id)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), summary)
		},
	}

	cmd.Flags().StringVar(&documentID, "document", "", "Document UUID (required)")
	_ = cmd.MarkFlagRequired("document")
	return cmd
}

func newAuditExportCmd() *cobra.Command {
	var (
		documentID string
		format     string
		out        string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the full changelog as csv or xlsx",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(documentID)
			if err != nil {
				return err
			}
			f, err := services.ParseExportFormat(format)
			if err != nil {
				return err
			}
			s, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			export, err := s.services.Reports.ExportChangelog(s.ctx, id, f)
			if err != nil {
				return err
			}
			if out == "" {
				out = export.Filename
			}
			if out == "-" {
				_, err = cmd.OutOrStdout().Write(export.Body)
				return err
			}
			if err := os.WriteFile(out, export.Body, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d bytes)\n", out, len(export.Body))
			return nil
		},
	}

	cmd.Flags().StringVar(&documentID, "document", "", "Document UUID (required)")
	cmd.Flags().StringVar(&format, "format", "csv", "Export format: csv or xlsx")
	cmd.Flags().StringVar(&out, "out", "", "Output path; - writes to stdout")
	_ = cmd.MarkFlagRequired("document")
	return cmd
}
