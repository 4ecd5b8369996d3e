package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"gap-advisor/internal/advisor/app"
)

func newConversationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversation",
		Aliases: []string{"conv"},
		Short:   "List or delete a user's conversations",
	}
	cmd.PersistentFlags().String("user", "", "owning user id (required)")
	_ = cmd.MarkPersistentFlagRequired("user")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List conversations oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, _ := cmd.Flags().GetString("user")
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				convs, err := a.Engine.ListConversations(ctx, userID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), convs)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <conversationId>",
		Short: "Delete a conversation, its messages and its variant links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user")
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Engine.DeleteConversation(ctx, userID, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	})

	return cmd
}
