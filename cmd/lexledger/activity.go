package main

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/spf13/cobra"
)

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Print what a user recorded over the last days as JSON",
	RunE:  runActivity,
}

func init() {
	activityCmd.Flags().String("user", "", "user identifier")
	activityCmd.Flags().Int("days", 30, "number of days to look back")
}

func runActivity(cmd *cobra.Command, _ []string) error {
	userID, err := cmd.Flags().GetString("user")
	if err != nil {
		return err
	}
	if userID == "" {
		return errors.New("--user is required")
	}
	days, err := cmd.Flags().GetInt("days")
	if err != nil {
		return err
	}
	if days <= 0 {
		return errors.New("--days must be positive")
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

	since := time.Now().UTC().AddDate(0, 0, -days)
	activity, err := l.UserActivity(ctx, userID, since)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(activity)
}
