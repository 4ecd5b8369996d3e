package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gap-advisor/internal/advisor/app"
	"gap-advisor/internal/advisor/export"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <conversationId>",
		Short: "Export a conversation transcript",
		Args:  cobra.ExactArgs(1),
		RunE:  runExportCmd,
	}
	cmd.Flags().String("user", "", "owning user id (required)")
	cmd.Flags().String("format", string(export.FormatMarkdown), "markdown, json or pdf")
	cmd.Flags().Bool("include-analysis", false, "prepend the analysis summary")
	cmd.Flags().StringP("out", "o", "", "write inline content to this file instead of stdout")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runExportCmd(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetString("user")
	rawFormat, _ := cmd.Flags().GetString("format")
	includeAnalysis, _ := cmd.Flags().GetBool("include-analysis")
	out, _ := cmd.Flags().GetString("out")

	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		res, err := a.Engine.Export(ctx, userID, args[0], format, export.Options{IncludeAnalysis: includeAnalysis})
		if err != nil {
			return err
		}
		return writeExport(cmd, res, out)
	})
}

func writeExport(cmd *cobra.Command, res *export.Result, out string) error {
	if res.URL != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes, %d messages)\n", res.URL, res.Size, res.MessageCount)
		return nil
	}
	if out == "" {
		_, err := cmd.OutOrStdout().Write(res.Content)
		return err
	}
	if err := os.WriteFile(out, res.Content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d messages)\n", out, res.MessageCount)
	return nil
}
