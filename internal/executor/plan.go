package executor

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shaharwiener/mcp-sql-server/internal/sqlerr"
)

// EstimatedPlan retrieves the estimated execution plan as XML by toggling the
// dialect's showplan mode around the statement. The toggle is session state,
// so both SET statements and the query run on the same autocommit connection,
// and the mode is always switched back before the connection is released.
func (e *Executor) EstimatedPlan(ctx context.Context, sql, env, database string) (string, error) {
	env = e.cfg.ResolveEnvironment(env)

	handle, err := e.pools.Acquire(ctx, env, database)
	if err != nil {
		return "", err
	}
	defer handle.Release()

	qctx, cancel := context.WithTimeout(ctx, time.Duration(e.commandTimeoutSeconds(env))*time.Second)
	defer cancel()

	if _, err := handle.Conn.ExecContext(qctx, "SET SHOWPLAN_XML ON"); err != nil {
		return "", sqlerr.Wrap(sqlerr.DBError, err, "enabling showplan mode")
	}
	defer func() {
		if _, err := handle.Conn.ExecContext(context.Background(), "SET SHOWPLAN_XML OFF"); err != nil {
			e.logger.Warn("failed to disable showplan mode", zap.String("env", env), zap.Error(err))
		}
	}()

	rows, err := handle.Conn.QueryContext(qctx, sql)
	if err != nil {
		return "", sqlerr.Wrap(sqlerr.DBError, err, "retrieving execution plan")
	}
	defer rows.Close()

	// The plan arrives as one XML document per statement, each a single-cell
	// row; concatenate across result sets.
	var b strings.Builder
	for {
		for rows.Next() {
			var fragment string
			if err := rows.Scan(&fragment); err != nil {
				return "", sqlerr.Wrap(sqlerr.DBError, err, "scanning plan row")
			}
			b.WriteString(fragment)
		}
		if err := rows.Err(); err != nil {
			return "", sqlerr.Wrap(sqlerr.DBError, err, "streaming plan rows")
		}
		if !rows.NextResultSet() {
			break
		}
	}
	return b.String(), nil
}
