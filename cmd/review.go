package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var reviewCmd = &cobra.Command{
	Use:          "review [SQL script]",
	Short:        "Review a T-SQL script and report findings with a risk verdict",
	SilenceUsage: true,
	Long: `Run the full review pipeline over a T-SQL script:
  - Static analysis: statement classification, security rules, best practices
  - Execution plan analysis: cost and plan-shape diagnostics
  - Metadata analysis: schema-health findings from the catalog

The result is a scored verdict (APPROVED, WARNING, or REJECTED) with every
finding listed.`,
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

		result := a.svc.ReviewScript(context.Background(), sqlText, viper.GetString("env"))
		renderer(os.Stdout).RenderReview(result)
		return nil
	},
}

func init() {
	reviewCmd.Flags().String("file", "", "Read the SQL script from a file")
	rootCmd.AddCommand(reviewCmd)
}
