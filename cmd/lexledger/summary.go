package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the billing summary and case totals of a case as JSON",
	RunE:  runSummary,
}

func init() {
	summaryCmd.Flags().String("case", "", "case identifier")
}

func runSummary(cmd *cobra.Command, _ []string) error {
	caseID, err := cmd.Flags().GetString("case")
	if err != nil {
		return err
	}
	if caseID == "" {
		return errors.New("--case is required")
	}

	ctx := cmd.Context()
	l, cleanup, err := newLedger(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := l.Start(ctx); err != nil {
		return err
	}
	defer l.Stop()

	billing, err := l.BillingSummary(ctx, caseID)
	if err != nil {
		return err
	}
	totals, err := l.CaseTotals(ctx, caseID)
	if err != nil {
		return err
	}
	docs, err := l.DocumentStats(ctx, caseID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"billing":   billing,
		"timeline":  totals,
		"documents": docs,
	})
}
