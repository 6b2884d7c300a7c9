// Package config resolves the gateway configuration: per-environment
// credentials, safety limits, pool sizing, and risk weights. Configuration is
// resolved once at process start; changes require a restart.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Secret wraps a sensitive string so it cannot leak through logging or
// serialization. The plaintext is only reachable via Reveal.
type Secret string

func (s Secret) String() string { return "****" }

func (s Secret) MarshalJSON() ([]byte, error) { return []byte(`"****"`), nil }

// Reveal returns the plaintext value.
func (s Secret) Reveal() string { return string(s) }

// Credentials identifies one environment's database endpoint.
type Credentials struct {
	Server   string `mapstructure:"server"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password Secret `mapstructure:"password"`
}

// Fingerprint keys connection pools: one pool per server+database+user.
func (c Credentials) Fingerprint() string {
	return strings.ToLower(c.Server + "|" + c.Database + "|" + c.Username)
}

// DatabaseConfig holds pool sizing and timeout tunables.
type DatabaseConfig struct {
	PoolSize                 int    `mapstructure:"connection_pool_size"`
	ConnectionTimeoutSeconds int    `mapstructure:"connection_timeout_seconds"`
	CommandTimeoutSeconds    int    `mapstructure:"command_timeout_seconds"`
	MaxCommandTimeoutSeconds int    `mapstructure:"max_command_timeout_seconds"`
	AppName                  string `mapstructure:"app_name"`

	// Connections maps environment name to its credential set.
	Connections map[string]Credentials `mapstructure:"connections"`
}

// RiskWeights maps rule families to score contributions.
type RiskWeights struct {
	NoWhereClause int `mapstructure:"no_where_clause"`
	CrossJoin     int `mapstructure:"cross_join"`
	WildcardSel   int `mapstructure:"wildcard_select"`
	DynamicSQL    int `mapstructure:"dynamic_sql"`
	DDLStatement  int `mapstructure:"ddl_statement"`
	TableScan     int `mapstructure:"table_scan"`
	MissingIndex  int `mapstructure:"missing_index"`
}

// EnvOverride holds per-environment safety overrides. Nil pointers fall back
// to the global SafetyConfig values.
type EnvOverride struct {
	MaxRows                 *int     `mapstructure:"max_rows"`
	MaxExecutionTimeSeconds *int     `mapstructure:"max_execution_time_seconds"`
	QueryCostThreshold      *float64 `mapstructure:"query_cost_threshold"`
	EnableNolockHint        *bool    `mapstructure:"enable_nolock_hint"`
	EnableResourceHints     *bool    `mapstructure:"enable_resource_hints"`
	Maxdop                  *int     `mapstructure:"maxdop"`
	MaxGrantPercent         *int     `mapstructure:"max_grant_percent"`
}

// SafetyConfig holds global limits and the per-environment override map.
type SafetyConfig struct {
	MaxRows                 int      `mapstructure:"max_rows"`
	MaxPayloadSizeMB        int      `mapstructure:"max_payload_size_mb"`
	MaxExecutionTimeSeconds int      `mapstructure:"max_execution_time_seconds"`
	AllowLinkedServers      bool     `mapstructure:"allow_linked_servers"`
	AllowedDatabases        []string `mapstructure:"allowed_databases"`

	MaxConcurrentQueries        int `mapstructure:"max_concurrent_queries"`
	MaxConcurrentQueriesPerUser int `mapstructure:"max_concurrent_queries_per_user"`

	EnableCostCheck bool    `mapstructure:"enable_cost_check"`
	MaxQueryCost    float64 `mapstructure:"max_query_cost"`

	EnableResourceHints bool `mapstructure:"enable_resource_hints"`
	Maxdop              int  `mapstructure:"maxdop"`
	MaxGrantPercent     int  `mapstructure:"max_grant_percent"`

	EnvironmentOverrides map[string]EnvOverride `mapstructure:"environment_overrides"`
	RiskWeights          RiskWeights            `mapstructure:"risk_weights"`
}

// BestPracticesConfig toggles the optional AST rules.
type BestPracticesConfig struct {
	EnforceSchemaPrefix bool `mapstructure:"enforce_schema_prefix"`
	EnforceNoSelectStar bool `mapstructure:"enforce_no_select_star"`
}

// Config is the process-scoped configuration root.
type Config struct {
	Environment           string              `mapstructure:"environment"`
	AvailableEnvironments []string            `mapstructure:"available_environments"`
	Database              DatabaseConfig      `mapstructure:"database"`
	Safety                SafetyConfig        `mapstructure:"safety"`
	BestPractices         BestPracticesConfig `mapstructure:"best_practices"`
}

// Load reads configuration from the given file (or the MCP_SQL_CONFIG path,
// or ./config.yaml) and applies environment-variable overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = os.Getenv("MCP_SQL_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("MCPSQL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults plus env vars apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Viper lowercases map keys; restore the configured environment names.
	for _, env := range cfg.AvailableEnvironments {
		lower := strings.ToLower(env)
		if lower == env {
			continue
		}
		if c, ok := cfg.Database.Connections[lower]; ok {
			delete(cfg.Database.Connections, lower)
			cfg.Database.Connections[env] = c
		}
		if o, ok := cfg.Safety.EnvironmentOverrides[lower]; ok {
			delete(cfg.Safety.EnvironmentOverrides, lower)
			cfg.Safety.EnvironmentOverrides[env] = o
		}
	}

	injectCredentialEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "Int")
	v.SetDefault("available_environments", []string{"Int", "Stg", "Prd"})

	v.SetDefault("database.connection_pool_size", 10)
	v.SetDefault("database.connection_timeout_seconds", 30)
	v.SetDefault("database.command_timeout_seconds", 60)
	v.SetDefault("database.max_command_timeout_seconds", 300)
	v.SetDefault("database.app_name", "MCP-SQLServer")

	v.SetDefault("safety.max_rows", 1000)
	v.SetDefault("safety.max_payload_size_mb", 1)
	v.SetDefault("safety.max_execution_time_seconds", 60)
	v.SetDefault("safety.max_concurrent_queries", 5)
	v.SetDefault("safety.max_concurrent_queries_per_user", 2)
	v.SetDefault("safety.enable_cost_check", true)
	v.SetDefault("safety.max_query_cost", 50.0)
	v.SetDefault("safety.enable_resource_hints", true)
	v.SetDefault("safety.maxdop", 1)
	v.SetDefault("safety.max_grant_percent", 10)

	v.SetDefault("safety.risk_weights.no_where_clause", 100)
	v.SetDefault("safety.risk_weights.cross_join", 80)
	v.SetDefault("safety.risk_weights.wildcard_select", 20)
	v.SetDefault("safety.risk_weights.dynamic_sql", 90)
	v.SetDefault("safety.risk_weights.ddl_statement", 100)
	v.SetDefault("safety.risk_weights.table_scan", 60)
	v.SetDefault("safety.risk_weights.missing_index", 40)

	v.SetDefault("best_practices.enforce_schema_prefix", true)
	v.SetDefault("best_practices.enforce_no_select_star", true)
}

// injectCredentialEnv merges per-environment credentials supplied as
// MCPSQL_DB_{SERVER,DATABASE,USERNAME,PASSWORD}_<ENV> variables. A complete
// quadruple replaces the file-provided entry; a lone password overrides just
// the secret, so config files never need to carry plaintext.
func injectCredentialEnv(cfg *Config) {
	if cfg.Database.Connections == nil {
		cfg.Database.Connections = map[string]Credentials{}
	}
	for _, env := range cfg.AvailableEnvironments {
		u := strings.ToUpper(env)
		server := os.Getenv("MCPSQL_DB_SERVER_" + u)
		database := os.Getenv("MCPSQL_DB_DATABASE_" + u)
		username := os.Getenv("MCPSQL_DB_USERNAME_" + u)
		password := os.Getenv("MCPSQL_DB_PASSWORD_" + u)

		if server != "" && database != "" && username != "" && password != "" {
			cfg.Database.Connections[env] = Credentials{
				Server:   server,
				Database: database,
				Username: username,
				Password: Secret(password),
			}
			continue
		}
		if password != "" {
			if c, ok := cfg.Database.Connections[env]; ok {
				c.Password = Secret(password)
				cfg.Database.Connections[env] = c
			}
		}
	}
}

// Validate checks internal consistency.
func (c *Config) Validate() error {
	if len(c.AvailableEnvironments) == 0 {
		return fmt.Errorf("config: no available environments")
	}
	if !c.EnvironmentAllowed(c.Environment) {
		return fmt.Errorf("config: default environment %q is not in available_environments", c.Environment)
	}
	for env := range c.Database.Connections {
		if !c.EnvironmentAllowed(env) {
			return fmt.Errorf("config: connection for unknown environment %q", env)
		}
	}
	if c.Database.PoolSize < 1 {
		return fmt.Errorf("config: connection_pool_size must be >= 1")
	}
	if c.Database.CommandTimeoutSeconds > c.Database.MaxCommandTimeoutSeconds {
		return fmt.Errorf("config: command_timeout_seconds exceeds max_command_timeout_seconds")
	}
	return nil
}

// EnvironmentAllowed reports whether env is configured as selectable.
func (c *Config) EnvironmentAllowed(env string) bool {
	for _, e := range c.AvailableEnvironments {
		if e == env {
			return true
		}
	}
	return false
}

// ResolveEnvironment returns env, or the configured default when env is
// empty.
func (c *Config) ResolveEnvironment(env string) string {
	if env == "" {
		return c.Environment
	}
	return env
}

// CredentialsFor returns the credential set for env.
func (c *Config) CredentialsFor(env string) (Credentials, error) {
	creds, ok := c.Database.Connections[env]
	if !ok {
		return Credentials{}, fmt.Errorf("no connection configured for environment %q", env)
	}
	return creds, nil
}

// DatabaseAllowed applies the allow-list: an empty list allows everything,
// otherwise membership is case-insensitive.
func (c *Config) DatabaseAllowed(db string) bool {
	if len(c.Safety.AllowedDatabases) == 0 {
		return true
	}
	for _, allowed := range c.Safety.AllowedDatabases {
		if strings.EqualFold(allowed, db) {
			return true
		}
	}
	return false
}

func (c *Config) override(env string) *EnvOverride {
	if o, ok := c.Safety.EnvironmentOverrides[env]; ok {
		return &o
	}
	return nil
}

// MaxRows returns the row cap for env.
func (c *Config) MaxRows(env string) int {
	if o := c.override(env); o != nil && o.MaxRows != nil {
		return *o.MaxRows
	}
	return c.Safety.MaxRows
}

// MaxExecutionTimeSeconds returns the wall-clock limit for env.
func (c *Config) MaxExecutionTimeSeconds(env string) int {
	if o := c.override(env); o != nil && o.MaxExecutionTimeSeconds != nil {
		return *o.MaxExecutionTimeSeconds
	}
	return c.Safety.MaxExecutionTimeSeconds
}

// QueryCostThreshold returns the plan-cost gate for env.
func (c *Config) QueryCostThreshold(env string) float64 {
	if o := c.override(env); o != nil && o.QueryCostThreshold != nil {
		return *o.QueryCostThreshold
	}
	return c.Safety.MaxQueryCost
}

// NolockEnabled reports whether the shared-read hint rewrite applies on env.
func (c *Config) NolockEnabled(env string) bool {
	if o := c.override(env); o != nil && o.EnableNolockHint != nil {
		return *o.EnableNolockHint
	}
	return false
}

// ResourceHintsEnabled reports whether the OPTION hint rewrite applies on env.
func (c *Config) ResourceHintsEnabled(env string) bool {
	if o := c.override(env); o != nil && o.EnableResourceHints != nil {
		return *o.EnableResourceHints
	}
	return c.Safety.EnableResourceHints
}

// Maxdop returns the parallelism cap for env.
func (c *Config) Maxdop(env string) int {
	if o := c.override(env); o != nil && o.Maxdop != nil {
		return *o.Maxdop
	}
	return c.Safety.Maxdop
}

// MaxGrantPercent returns the memory-grant cap for env.
func (c *Config) MaxGrantPercent(env string) int {
	if o := c.override(env); o != nil && o.MaxGrantPercent != nil {
		return *o.MaxGrantPercent
	}
	return c.Safety.MaxGrantPercent
}
