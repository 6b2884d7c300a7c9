package mssql

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/shaharwiener/mcp-sql-server/internal/config"
	"github.com/shaharwiener/mcp-sql-server/internal/sqlerr"
)

// Manager holds one pool per credential fingerprint and hands out scoped
// connection handles. The breaker is process-wide across all fingerprints.
type Manager struct {
	cfg     *config.Config
	logger  *zap.Logger
	breaker *gobreaker.CircuitBreaker

	mu    sync.Mutex
	pools map[string]*Pool

	// open is swappable so tests can substitute a mock database.
	open func(cfg ConnectionConfig, capacity int) (*sql.DB, error)
}

// NewManager builds the pool manager.
func NewManager(cfg *config.Config, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		logger:  logger,
		breaker: NewBreaker(logger),
		pools:   map[string]*Pool{},
		open:    Open,
	}
}

// NewManagerWithOpener builds a manager whose physical connections come from
// the given opener instead of the real driver. Tests substitute a mock
// database here.
func NewManagerWithOpener(cfg *config.Config, logger *zap.Logger,
	open func(cfg ConnectionConfig, capacity int) (*sql.DB, error)) *Manager {
	m := NewManager(cfg, logger)
	m.open = open
	return m
}

// Handle is one acquired connection, bound to its pool for release.
type Handle struct {
	Conn     *sql.Conn
	Env      string
	Database string
	pool     *Pool
}

// Release returns the connection to its pool. Safe on every exit path.
func (h *Handle) Release() {
	if h == nil || h.pool == nil {
		return
	}
	h.pool.Release(h.Conn)
	h.pool = nil
}

// Acquire resolves env (and the optional database override) to a pool and
// returns a validated connection handle.
func (m *Manager) Acquire(ctx context.Context, env, database string) (*Handle, error) {
	creds, err := m.cfg.CredentialsFor(env)
	if err != nil {
		return nil, sqlerr.Wrap(sqlerr.ConfigError, err, "resolving environment %q", env)
	}
	if database != "" {
		creds.Database = database
	}

	pool, err := m.poolFor(creds)
	if err != nil {
		return nil, err
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Handle{Conn: conn, Env: env, Database: creds.Database, pool: pool}, nil
}

// DefaultDatabase returns the configured database for env, or empty when the
// environment is unknown.
func (m *Manager) DefaultDatabase(env string) string {
	creds, err := m.cfg.CredentialsFor(env)
	if err != nil {
		return ""
	}
	return creds.Database
}

func (m *Manager) poolFor(creds config.Credentials) (*Pool, error) {
	key := creds.Fingerprint()
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[key]; ok {
		return p, nil
	}

	connectTimeout := time.Duration(m.cfg.Database.ConnectionTimeoutSeconds) * time.Second
	lockTimeout := time.Duration(m.cfg.Database.CommandTimeoutSeconds) * time.Second

	db, err := m.open(ConnectionConfig{
		Server:          creds.Server,
		Database:        creds.Database,
		Username:        creds.Username,
		Password:        creds.Password.Reveal(),
		AppName:         m.cfg.Database.AppName,
		ConnectTimeout:  connectTimeout,
		TrustServerCert: isLocalServer(creds.Server),
	}, m.cfg.Database.PoolSize)
	if err != nil {
		return nil, sqlerr.Wrap(sqlerr.DBError, err, "opening pool for %s", creds.Server)
	}

	p := NewPool(db, m.cfg.Database.PoolSize, connectTimeout, lockTimeout, m.breaker, m.logger)
	m.pools[key] = p
	m.logger.Info("connection pool created",
		zap.String("server", creds.Server), zap.String("database", creds.Database))
	return p, nil
}

// isLocalServer detects development endpoints where the server certificate
// cannot be verified.
func isLocalServer(server string) bool {
	host := server
	if i := strings.IndexAny(host, ":,"); i >= 0 {
		host = host[:i]
	}
	return host == "localhost" || host == "127.0.0.1" || !strings.Contains(host, ".")
}
