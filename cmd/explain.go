package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var explainCmd = &cobra.Command{
	Use:          "explain [SQL statement]",
	Short:        "Retrieve the estimated execution plan as XML",
	SilenceUsage: true,
	Args:         cobra.MaximumNArgs(1),
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

		resp := a.svc.Explain(context.Background(), sqlText,
			viper.GetString("env"), mustString(cmd, "database"))
		renderer(os.Stdout).RenderExplain(resp)
		if !resp.Success {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	explainCmd.Flags().StringP("database", "d", "", "Target database (defaults to the environment's database)")
	explainCmd.Flags().String("file", "", "Read the SQL statement from a file")
	rootCmd.AddCommand(explainCmd)
}
