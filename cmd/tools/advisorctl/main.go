// Command advisorctl runs maintenance tasks against the advisor stores.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"gap-advisor/internal/advisor/app"
	"gap-advisor/internal/common/config"
	"gap-advisor/internal/common/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "advisorctl",
		Short:         "Operate the gap analysis advisor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "path to config file (defaults to configs/config.yaml)")
	root.PersistentFlags().String("log-level", "warn", "log level")

	root.AddCommand(newMigrateCmd())
	root.AddCommand(newExportCmd())
	root.AddCommand(newQuotaCmd())
	root.AddCommand(newConversationCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Load()
	}
	return config.LoadFromFile(path)
}

// withApp builds the advisor for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level, _ := cmd.Flags().GetString("log-level")
	log := logger.NewStructured(level, "console")

	ctx := cmd.Context()
	a, err := app.Build(ctx, cfg, nil, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
