package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/shaharwiener/mcp-sql-server/internal/analyzer"
	"github.com/shaharwiener/mcp-sql-server/internal/config"
	"github.com/shaharwiener/mcp-sql-server/internal/executor"
	"github.com/shaharwiener/mcp-sql-server/internal/metadata"
	"github.com/shaharwiener/mcp-sql-server/internal/mssql"
	"github.com/shaharwiener/mcp-sql-server/internal/output"
	"github.com/shaharwiener/mcp-sql-server/internal/review"
	"github.com/shaharwiener/mcp-sql-server/internal/tools"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mcp-sql-server",
	Short: "Policy-enforcing gateway for T-SQL review and safe read-only execution",
	Long: `mcp-sql-server reviews arbitrary T-SQL before it ever runs and executes
read-only queries under strict safety controls.

Every script goes through static analysis, execution-plan analysis, and
catalog metadata analysis, producing a scored verdict. Execution requests
pass a gate chain: concurrency throttling, read-only validation, database
allow-listing, cost gating, hint rewriting, and bounded result streaming.`,
}

// Execute is called by main.main(). It adds all child commands to the root
// command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringP("env", "e", "", "Target environment (e.g. Int, Stg, Prd)")
	rootCmd.PersistentFlags().StringP("format", "f", "text", "Output format: text, plain, json, markdown")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Show additional debug info")

	viper.BindPFlag("env", rootCmd.PersistentFlags().Lookup("env"))
	viper.BindPFlag("format", rootCmd.PersistentFlags().Lookup("format"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// app bundles the wired components for one command invocation.
type app struct {
	cfg    *config.Config
	svc    *tools.Service
	logger *zap.Logger
}

// buildApp loads configuration and wires the gateway. The review service
// takes the executor as its plan provider, so the executor is constructed
// first and bound afterwards.
func buildApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(viper.GetBool("verbose"))
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	pools := mssql.NewManager(cfg, logger)
	throttle := executor.NewThrottler(
		cfg.Safety.MaxConcurrentQueries, cfg.Safety.MaxConcurrentQueriesPerUser)
	exec := executor.New(cfg, pools, throttle, logger)
	meta := metadata.New(pools, logger)
	reviews := review.NewService(cfg, analyzer.New(cfg, logger), exec, meta, logger)
	exec.BindReviews(reviews)

	return &app{
		cfg:    cfg,
		svc:    tools.NewService(cfg, reviews, exec, meta, logger),
		logger: logger,
	}, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.OutputPaths = []string{"stderr"}
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zcfg.Build()
}

func renderer(w io.Writer) output.Renderer {
	return output.NewRenderer(viper.GetString("format"), w)
}

// ensureSecret prompts for the environment's password when neither the
// config file nor the environment variables supplied one.
func ensureSecret(cfg *config.Config, env string) {
	env = cfg.ResolveEnvironment(env)
	creds, err := cfg.CredentialsFor(env)
	if err != nil || creds.Password.Reveal() != "" {
		return
	}
	creds.Password = config.Secret(mssql.PromptPassword())
	cfg.Database.Connections[env] = creds
}

// getSQLInput reads the SQL text from args, the --file flag, or stdin.
func getSQLInput(cmd *cobra.Command, args []string) (string, error) {
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading SQL file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return args[0], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading SQL from stdin: %w", err)
	}
	sql := strings.TrimSpace(string(data))
	if sql == "" {
		return "", fmt.Errorf("no SQL provided: pass it as an argument, via --file, or on stdin")
	}
	return sql, nil
}
