package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Force an immediate sweep of stale clarification states and expired memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doJSON(newClient().R().Post("/api/admin/sweep"))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	rootCmd.AddCommand(sweepCmd)

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check service and database health",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doJSON(newClient().R().Get("/api/health/db"))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	rootCmd.AddCommand(healthCmd)

	var owner, payload string
	var override bool
	dryRunCmd := &cobra.Command{
		Use:   "filter-dry-run",
		Short: "Run a payload through a user's dietary filter pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				return fmt.Errorf("--user required")
			}
			data, err := doJSON(newClient().R().
				SetHeader("Content-Type", "application/json").
				SetBody(fmt.Sprintf(`{"ownerId":%q,"payload":%s,"personaOverride":%t}`, owner, payload, override)).
				Post("/api/filters/dry-run"))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	dryRunCmd.Flags().StringVarP(&owner, "user", "u", "", "User ID (required)")
	dryRunCmd.Flags().StringVarP(&payload, "payload", "p", "{}", "Meal payload JSON")
	dryRunCmd.Flags().BoolVar(&override, "persona-override", false, "Bypass all dietary gating")
	_ = dryRunCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(dryRunCmd)
}
