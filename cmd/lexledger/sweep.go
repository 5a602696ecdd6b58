package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Mark sent invoices past their due date as overdue",
	RunE:  runSweep,
}

func runSweep(cmd *cobra.Command, _ []string) error {
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

	n, err := l.SweepOverdue(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d invoice(s) marked overdue\n", n)
	return nil
}
