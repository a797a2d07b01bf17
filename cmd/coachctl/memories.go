package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	memoriesCmd := &cobra.Command{Use: "memories", Short: "User memory operations"}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export every memory record for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userFlag == "" {
				return fmt.Errorf("--user required")
			}
			data, err := doJSON(newClient().R().
				Get(fmt.Sprintf("/api/users/%s/memories/export", userFlag)))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&userFlag, "user", "u", "", "User ID (required)")
	_ = exportCmd.MarkFlagRequired("user")
	memoriesCmd.AddCommand(exportCmd)

	var confirm bool
	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every memory record for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userFlag == "" {
				return fmt.Errorf("--user required")
			}
			if !confirm {
				return fmt.Errorf("refusing to purge without --yes")
			}
			_, err := doJSON(newClient().R().
				Delete(fmt.Sprintf("/api/users/%s/memories", userFlag)))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(os.Stdout, "purged all memories for %s\n", userFlag)
			return nil
		},
	}
	purgeCmd.Flags().StringVarP(&userFlag, "user", "u", "", "User ID (required)")
	purgeCmd.Flags().BoolVarP(&confirm, "yes", "y", false, "Confirm the purge")
	_ = purgeCmd.MarkFlagRequired("user")
	memoriesCmd.AddCommand(purgeCmd)

	rootCmd.AddCommand(memoriesCmd)
}
