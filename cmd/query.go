package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shaharwiener/mcp-sql-server/internal/executor"
)

var queryCmd = &cobra.Command{
	Use:          "query [SQL statement]",
	Short:        "Execute a single SELECT under the full safety gate chain",
	SilenceUsage: true,
	Long: `Execute a read-only query. The statement must be a single SELECT; it is
validated, reviewed, rewritten per the environment's policy (shared-read
hints, resource caps, pagination), and streamed back under row and payload
limits.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sqlText, err := getSQLInput(cmd, args)
		if err != nil {
			return err
		}

		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.logger.Sync()
		ensureSecret(a.cfg, viper.GetString("env"))

		req := executor.Request{
			SQL:      sqlText,
			Env:      viper.GetString("env"),
			Database: mustString(cmd, "database"),
			User:     mustString(cmd, "user"),
		}
		if cmd.Flags().Changed("page-size") {
			pageSize, _ := cmd.Flags().GetInt("page-size")
			req.PageSize = &pageSize
		}
		if cmd.Flags().Changed("page") {
			page, _ := cmd.Flags().GetInt("page")
			req.Page = &page
		}

		resp := a.svc.QueryReadonly(context.Background(), req)
		renderer(os.Stdout).RenderQuery(resp)
		if !resp.Success {
			os.Exit(1)
		}
		return nil
	},
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

func init() {
	queryCmd.Flags().StringP("database", "d", "", "Target database (defaults to the environment's database)")
	queryCmd.Flags().StringP("user", "u", "", "User identifier for concurrency throttling")
	queryCmd.Flags().String("file", "", "Read the SQL statement from a file")
	queryCmd.Flags().Int("page-size", 0, "Rows per page (1-1000), requires --page")
	queryCmd.Flags().Int("page", 0, "Page number (1-based), requires --page-size")
	rootCmd.AddCommand(queryCmd)
}
