package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"gap-advisor/internal/advisor/app"
)

func newQuotaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect or reset question quotas",
	}
	cmd.PersistentFlags().String("user", "", "user id (required)")
	cmd.PersistentFlags().String("analysis", "", "analysis id")
	_ = cmd.MarkPersistentFlagRequired("user")

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show remaining questions for a user and analysis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, _ := cmd.Flags().GetString("user")
			analysisID, _ := cmd.Flags().GetString("analysis")
			if analysisID == "" {
				return fmt.Errorf("--analysis is required for status")
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				status, err := a.Engine.RemainingQuestions(ctx, userID, analysisID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), status)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Clear the user's monthly bucket and, with --analysis, the per-analysis bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, _ := cmd.Flags().GetString("user")
			analysisID, _ := cmd.Flags().GetString("analysis")
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Quota.Reset(ctx, userID, analysisID); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "quota reset")
				return nil
			})
		},
	})

	return cmd
}
