// Package metadata issues catalog and DMV queries against the target
// database to surface schema-health findings and the compact schema summary.
package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/shaharwiener/mcp-sql-server/internal/finding"
	"github.com/shaharwiener/mcp-sql-server/internal/mssql"
)

const columnListLimit = 500

// Analyzer runs the schema-health rules.
type Analyzer struct {
	pools  *mssql.Manager
	logger *zap.Logger
}

// New builds the metadata analyzer on the shared connection substrate.
func New(pools *mssql.Manager, logger *zap.Logger) *Analyzer {
	return &Analyzer{pools: pools, logger: logger}
}

// SchemaFindings runs every metadata rule against env/database. Each rule
// catches its own errors; aggregate failure yields no findings, never an
// error.
func (a *Analyzer) SchemaFindings(ctx context.Context, env, database string) []finding.Finding {
	handle, err := a.pools.Acquire(ctx, env, database)
	if err != nil {
		a.logger.Warn("metadata analysis skipped", zap.String("env", env), zap.Error(err))
		return nil
	}
	defer handle.Release()

	var out []finding.Finding
	for _, rule := range metadataRules {
		messages, err := a.runRule(ctx, handle.Conn, rule)
		if err != nil {
			a.logger.Warn("metadata rule failed",
				zap.String("rule", rule.code), zap.String("env", env), zap.Error(err))
			continue
		}
		for _, msg := range messages {
			out = append(out, finding.Finding{
				Code:           rule.code,
				Severity:       finding.Medium,
				Category:       finding.Reliability,
				Title:          "Metadata Issue",
				Description:    msg,
				Recommendation: "Check database schema and statistics.",
			})
		}
	}
	return finding.Dedupe(out)
}

func (a *Analyzer) runRule(ctx context.Context, conn *sql.Conn, rule metaRule) ([]string, error) {
	rows, err := conn.QueryContext(ctx, rule.query)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", rule.code, err)
	}
	defer rows.Close()

	messages, err := rule.collect(rows)
	if err != nil {
		return nil, err
	}
	return messages, rows.Err()
}

// SchemaSummary returns one compact line per user table: "TABLE schema.name:
// col (type), ...", with the column list truncated and results capped when a
// search term narrows the set.
func (a *Analyzer) SchemaSummary(ctx context.Context, env, searchTerm string) ([]string, error) {
	handle, err := a.pools.Acquire(ctx, env, "")
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	rows, err := handle.Conn.QueryContext(ctx, `
		SELECT s.name, t.name, c.name, ty.name
		FROM sys.tables t
		JOIN sys.schemas s ON t.schema_id = s.schema_id
		JOIN sys.columns c ON t.object_id = c.object_id
		JOIN sys.types ty ON c.user_type_id = ty.user_type_id
		WHERE t.is_ms_shipped = 0
		ORDER BY s.name, t.name, c.column_id`)
	if err != nil {
		return nil, fmt.Errorf("querying schema summary: %w", err)
	}
	defer rows.Close()

	type tableCols struct {
		name string
		cols []string
	}
	byTable := map[string]*tableCols{}
	var order []string
	for rows.Next() {
		var schemaName, tableName, colName, typeName string
		if err := rows.Scan(&schemaName, &tableName, &colName, &typeName); err != nil {
			return nil, fmt.Errorf("scanning schema row: %w", err)
		}
		full := schemaName + "." + tableName
		if searchTerm != "" && !strings.Contains(strings.ToLower(full), strings.ToLower(searchTerm)) {
			continue
		}
		tc, ok := byTable[full]
		if !ok {
			tc = &tableCols{name: full}
			byTable[full] = tc
			order = append(order, full)
		}
		tc.cols = append(tc.cols, fmt.Sprintf("%s (%s)", colName, typeName))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Strings(order)
	var summary []string
	for _, name := range order {
		if searchTerm != "" && len(summary) >= 50 {
			break
		}
		colList := strings.Join(byTable[name].cols, ", ")
		if len(colList) > columnListLimit {
			colList = colList[:columnListLimit] + "..."
		}
		summary = append(summary, fmt.Sprintf("TABLE %s: %s", name, colList))
	}
	return summary, nil
}
