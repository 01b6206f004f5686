package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sowflow/sowflow/modules/sow/domain/document"
)

type reconcileOutput struct {
	Command    string `json:"command"`
	DurationMS int64  `json:"duration_ms"`
	Result     any    `json:"result"`
}

func newReconcileCmd() *cobra.Command {
	var (
		documentID string
		all        bool
		status     string
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Re-derive stored document status from approvals and fix drift",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (documentID != "") {
				return errors.New("exactly one of --document or --all is required")
			}
			st := document.Status(status)
			if all && status != "" && !st.Valid() {
				return fmt.Errorf("invalid --status %q", status)
			}

			s, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			start := time.Now()
			var res any
			if all {
				res, err = s.services.Consistency.ReconcileAll(s.ctx, st)
			} else {
				id, perr := parseDocumentID(documentID)
				if perr != nil {
					return perr
				}
				res, err = s.services.Consistency.CheckAndFix(s.ctx, id)
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), reconcileOutput{
				Command:    "reconcile",
				DurationMS: time.Since(start).Milliseconds(),
				Result:     res,
			})
		},
	}

	cmd.Flags().StringVar(&documentID, "document", "", "Document UUID")
	cmd.Flags().BoolVar(&all, "all", false, "Sweep every document with --status")
	cmd.Flags().StringVar(&status, "status", string(document.StatusInReview), "Status to sweep with --all")
	return cmd
}
