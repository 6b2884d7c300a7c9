package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaharwiener/mcp-sql-server/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the gateway configuration",
}

var configShowCmd = &cobra.Command{
	Use:          "show",
	Short:        "Print the resolved configuration with secrets masked",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	},
}

var configCheckCmd = &cobra.Command{
	Use:          "check",
	Short:        "Validate the configuration file and report the environments it covers",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		fmt.Printf("Configuration OK. Default environment: %s\n", cfg.Environment)
		for _, env := range cfg.AvailableEnvironments {
			if creds, err := cfg.CredentialsFor(env); err == nil {
				secret := "set"
				if creds.Password.Reveal() == "" {
					secret = "NOT SET (will prompt, or use MCPSQL_DB_PASSWORD_" + strings.ToUpper(env) + ")"
				}
				fmt.Printf("  %-4s %s/%s as %s, password %s\n",
					env, creds.Server, creds.Database, creds.Username, secret)
			} else {
				fmt.Printf("  %-4s no connection configured\n", env)
			}
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(configCmd)
}
