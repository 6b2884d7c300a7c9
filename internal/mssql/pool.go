package mssql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/shaharwiener/mcp-sql-server/internal/sqlerr"
)

const (
	breakerFailureThreshold = 5
	breakerCooldown         = 30 * time.Second
	validateTimeout         = 5 * time.Second
)

// NewBreaker builds the process-wide connection circuit breaker: open after
// five consecutive factory failures, one trial admitted after the cooldown,
// fully reset on trial success.
func NewBreaker(logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mssql-connect",
		MaxRequests: 1,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
}

// Pool owns the connections of one credential fingerprint: an ordered idle
// bag, a live count bounded by capacity, and a bounded wait when saturated.
type Pool struct {
	db          *sql.DB
	capacity    int
	waitTimeout time.Duration
	lockTimeout time.Duration
	breaker     *gobreaker.CircuitBreaker
	logger      *zap.Logger

	mu   sync.Mutex
	live int
	idle chan *sql.Conn
}

// NewPool wraps an opened database handle.
func NewPool(db *sql.DB, capacity int, waitTimeout, lockTimeout time.Duration,
	breaker *gobreaker.CircuitBreaker, logger *zap.Logger) *Pool {
	return &Pool{
		db:          db,
		capacity:    capacity,
		waitTimeout: waitTimeout,
		lockTimeout: lockTimeout,
		breaker:     breaker,
		logger:      logger,
		idle:        make(chan *sql.Conn, capacity),
	}
}

// Acquire returns a validated connection. It consults the breaker, prefers an
// idle connection, creates below capacity, and otherwise blocks up to the
// wait timeout.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	// Idle first: validate before handing out, discard on failure.
	select {
	case conn := <-p.idle:
		if p.validate(ctx, conn) {
			return conn, nil
		}
		p.discard(conn)
	default:
	}

	p.mu.Lock()
	if p.live < p.capacity {
		p.live++
		p.mu.Unlock()
		return p.create(ctx)
	}
	p.mu.Unlock()

	// Saturated: wait for a release.
	timer := time.NewTimer(p.waitTimeout)
	defer timer.Stop()
	for {
		select {
		case conn := <-p.idle:
			if p.validate(ctx, conn) {
				return conn, nil
			}
			p.discard(conn)
			// The discard freed capacity; replace the dead connection.
			p.mu.Lock()
			if p.live < p.capacity {
				p.live++
				p.mu.Unlock()
				return p.create(ctx)
			}
			p.mu.Unlock()
		case <-timer.C:
			return nil, sqlerr.New(sqlerr.PoolExhausted,
				"connection pool exhausted after %s, increase pool size or try again later", p.waitTimeout)
		case <-ctx.Done():
			return nil, sqlerr.Wrap(sqlerr.PoolExhausted, ctx.Err(), "canceled while waiting for a connection")
		}
	}
}

// create runs the connection factory behind the breaker. The factory opens a
// physical connection and applies the session defaults before handing it out.
func (p *Pool) create(ctx context.Context) (*sql.Conn, error) {
	v, err := p.breaker.Execute(func() (interface{}, error) {
		conn, err := p.db.Conn(ctx)
		if err != nil {
			return nil, err
		}
		if err := applySessionDefaults(ctx, conn, p.lockTimeout); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return conn, nil
	})
	if err != nil {
		p.mu.Lock()
		p.live--
		p.mu.Unlock()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, sqlerr.Wrap(sqlerr.CircuitOpen, err,
				"database is temporarily unavailable (circuit breaker open), try again later")
		}
		return nil, sqlerr.Wrap(sqlerr.DBError, err, "failed to connect to database")
	}
	return v.(*sql.Conn), nil
}

// Release rolls back any in-flight transaction, revalidates, and returns the
// connection to the idle bag; a connection that fails either step is
// discarded.
func (p *Pool) Release(conn *sql.Conn) {
	if conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), validateTimeout)
	defer cancel()
	if _, err := conn.ExecContext(ctx, "IF @@TRANCOUNT > 0 ROLLBACK TRANSACTION"); err != nil {
		p.discard(conn)
		return
	}
	if !p.validate(ctx, conn) {
		p.discard(conn)
		return
	}
	select {
	case p.idle <- conn:
	default:
		p.discard(conn)
	}
}

// validate runs the trivial round trip.
func (p *Pool) validate(ctx context.Context, conn *sql.Conn) bool {
	vctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	var one int
	if err := conn.QueryRowContext(vctx, "SELECT 1").Scan(&one); err != nil {
		p.logger.Debug("connection validation failed", zap.Error(err))
		return false
	}
	return one == 1
}

// discard closes a connection and frees its capacity slot. The raw handle is
// marked bad so the underlying pool does not resurrect the session.
func (p *Pool) discard(conn *sql.Conn) {
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	_ = conn.Close()
	p.mu.Lock()
	if p.live > 0 {
		p.live--
	}
	p.mu.Unlock()
}

// Live returns the current live connection count.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}
