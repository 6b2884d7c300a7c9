// Package mssql provides the connection substrate: DSN construction, the
// mandatory session defaults, and the pooled, breaker-guarded acquisition of
// SQL Server connections.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"syscall"
	"time"

	_ "github.com/microsoft/go-mssqldb"
	"golang.org/x/term"
)

// ConnectionConfig holds the parameters for one SQL Server endpoint.
type ConnectionConfig struct {
	Server          string
	Database        string
	Username        string
	Password        string
	AppName         string
	ConnectTimeout  time.Duration
	TrustServerCert bool
}

// BuildDSN renders the sqlserver:// connection URL.
func BuildDSN(cfg ConnectionConfig) string {
	q := url.Values{}
	if cfg.Database != "" {
		q.Set("database", cfg.Database)
	}
	if cfg.AppName != "" {
		q.Set("app name", cfg.AppName)
	}
	if cfg.ConnectTimeout > 0 {
		q.Set("connection timeout", fmt.Sprintf("%d", int(cfg.ConnectTimeout.Seconds())))
	}
	if cfg.TrustServerCert {
		q.Set("TrustServerCertificate", "true")
	}
	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     cfg.Server,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Open creates the database handle for one credential fingerprint. The
// handle's own pooling is capped at the configured capacity; the Pool layer
// on top adds validation, session defaults, and the breaker.
func Open(cfg ConnectionConfig, capacity int) (*sql.DB, error) {
	db, err := sql.Open("sqlserver", BuildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}
	db.SetMaxOpenConns(capacity)
	db.SetMaxIdleConns(capacity)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// sessionDefaults are the non-negotiable settings applied to every connection
// before it is ever handed out: suppress row-count chatter, abort the
// transaction on error, bound lock waits, yield in deadlocks, read-committed
// isolation, strict arithmetic.
func sessionDefaults(lockTimeout time.Duration) []string {
	return []string{
		"SET NOCOUNT ON",
		"SET XACT_ABORT ON",
		fmt.Sprintf("SET LOCK_TIMEOUT %d", lockTimeout.Milliseconds()),
		"SET DEADLOCK_PRIORITY LOW",
		"SET TRANSACTION ISOLATION LEVEL READ COMMITTED",
		"SET ARITHABORT ON",
	}
}

func applySessionDefaults(ctx context.Context, conn *sql.Conn, lockTimeout time.Duration) error {
	for _, stmt := range sessionDefaults(lockTimeout) {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying session default %q: %w", stmt, err)
		}
	}
	return nil
}

// PromptPassword reads a password from the terminal without echoing.
func PromptPassword() string {
	fmt.Print("Enter password: ")
	password, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return ""
	}
	return string(password)
}
