package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var schemaCmd = &cobra.Command{
	Use:          "schema",
	Short:        "Print a compact per-table schema summary",
	SilenceUsage: true,
	Long: `Print one line per user table in the form
  TABLE schema.name: col (type), ...
optionally filtered by a search term. Column lists are truncated to keep the
output compact.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.logger.Sync()
		ensureSecret(a.cfg, viper.GetString("env"))

		resp := a.svc.SchemaSummary(context.Background(),
			viper.GetString("env"), mustString(cmd, "search"))
		renderer(os.Stdout).RenderSchema(resp)
		if !resp.Success {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	schemaCmd.Flags().StringP("search", "s", "", "Filter tables by a case-insensitive substring")
	rootCmd.AddCommand(schemaCmd)
}
