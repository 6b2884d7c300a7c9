package metadata

import (
	"database/sql"
	"fmt"
)

// metaRule is one independent catalog check: a query and a collector turning
// its rows into violation messages. New rules are added by appending to the
// table.
type metaRule struct {
	code    string
	query   string
	collect func(rows *sql.Rows) ([]string, error)
}

const (
	staleStatisticsDays   = 7
	fragmentationPercent  = 30
	fragmentationMinPages = 1000
	partitioningRows      = 10_000_000
	columnstoreRows       = 1_000_000
	wideTableColumns      = 50
)

var metadataRules = []metaRule{
	{
		code: "BP032",
		query: fmt.Sprintf(`
			SELECT OBJECT_NAME(s.object_id), s.name,
			       DATEDIFF(day, STATS_DATE(s.object_id, s.stats_id), GETDATE())
			FROM sys.stats s
			JOIN sys.tables t ON s.object_id = t.object_id
			WHERE STATS_DATE(s.object_id, s.stats_id) IS NOT NULL
			  AND DATEDIFF(day, STATS_DATE(s.object_id, s.stats_id), GETDATE()) > %d`,
			staleStatisticsDays),
		collect: func(rows *sql.Rows) ([]string, error) {
			var out []string
			for rows.Next() {
				var table, stat string
				var days int
				if err := rows.Scan(&table, &stat, &days); err != nil {
					return nil, err
				}
				out = append(out, fmt.Sprintf(
					"Statistics on '%s' are %d days old. Update statistics for better query plans.", table, days))
			}
			return out, nil
		},
	},
	{
		code: "BP033",
		query: fmt.Sprintf(`
			SELECT OBJECT_NAME(ips.object_id), i.name, ips.avg_fragmentation_in_percent
			FROM sys.dm_db_index_physical_stats(DB_ID(), NULL, NULL, NULL, 'LIMITED') ips
			JOIN sys.indexes i ON ips.object_id = i.object_id AND ips.index_id = i.index_id
			WHERE ips.avg_fragmentation_in_percent > %d
			  AND ips.page_count > %d
			  AND i.name IS NOT NULL`,
			fragmentationPercent, fragmentationMinPages),
		collect: func(rows *sql.Rows) ([]string, error) {
			var out []string
			for rows.Next() {
				var table, index string
				var frag float64
				if err := rows.Scan(&table, &index, &frag); err != nil {
					return nil, err
				}
				out = append(out, fmt.Sprintf(
					"Index '%s' on '%s' is %.1f%% fragmented. Consider rebuilding.", index, table, frag))
			}
			return out, nil
		},
	},
	{
		code: "BP034",
		query: `
			SELECT t.name
			FROM sys.tables t
			LEFT JOIN sys.stats s ON t.object_id = s.object_id
			WHERE t.is_ms_shipped = 0
			GROUP BY t.name
			HAVING COUNT(s.stats_id) = 0`,
		collect: oneColumnMessages(
			"Table '%s' has no statistics. Create statistics for better query optimization."),
	},
	{
		code: "BP035",
		query: `
			SELECT OBJECT_NAME(i.object_id), i.name
			FROM sys.indexes i
			LEFT JOIN sys.dm_db_index_usage_stats ius
			  ON i.object_id = ius.object_id AND i.index_id = ius.index_id AND ius.database_id = DB_ID()
			WHERE i.name IS NOT NULL
			  AND i.is_primary_key = 0
			  AND i.is_unique = 0
			  AND OBJECTPROPERTY(i.object_id, 'IsUserTable') = 1
			  AND ISNULL(ius.user_seeks, 0) + ISNULL(ius.user_scans, 0) + ISNULL(ius.user_lookups, 0) = 0`,
		collect: func(rows *sql.Rows) ([]string, error) {
			var out []string
			for rows.Next() {
				var table, index string
				if err := rows.Scan(&table, &index); err != nil {
					return nil, err
				}
				out = append(out, fmt.Sprintf(
					"Index '%s' on '%s' is never used. Consider dropping to reduce write overhead.", index, table))
			}
			return out, nil
		},
	},
	{
		code: "BP036",
		query: `
			SELECT OBJECT_NAME(i1.object_id), i1.name, i2.name
			FROM sys.indexes i1
			JOIN sys.indexes i2
			  ON i1.object_id = i2.object_id AND i1.index_id < i2.index_id
			JOIN sys.index_columns ic1
			  ON i1.object_id = ic1.object_id AND i1.index_id = ic1.index_id AND ic1.key_ordinal = 1
			JOIN sys.index_columns ic2
			  ON i2.object_id = ic2.object_id AND i2.index_id = ic2.index_id AND ic2.key_ordinal = 1
			WHERE i1.name IS NOT NULL AND i2.name IS NOT NULL
			  AND ic1.column_id = ic2.column_id
			  AND OBJECTPROPERTY(i1.object_id, 'IsUserTable') = 1`,
		collect: func(rows *sql.Rows) ([]string, error) {
			var out []string
			for rows.Next() {
				var table, first, second string
				if err := rows.Scan(&table, &first, &second); err != nil {
					return nil, err
				}
				out = append(out, fmt.Sprintf(
					"Potential duplicate indexes '%s' and '%s' on '%s'. Review and consolidate.", first, second, table))
			}
			return out, nil
		},
	},
	{
		code: "BP037",
		query: fmt.Sprintf(`
			SELECT t.name, SUM(p.rows)
			FROM sys.tables t
			JOIN sys.partitions p ON t.object_id = p.object_id AND p.index_id IN (0, 1)
			WHERE t.is_ms_shipped = 0
			GROUP BY t.name
			HAVING SUM(p.rows) > %d AND COUNT(DISTINCT p.partition_number) = 1`,
			partitioningRows),
		collect: tableRowCountMessages(
			"Table '%s' has %d rows. Consider partitioning for better performance."),
	},
	{
		code: "BP038",
		query: fmt.Sprintf(`
			SELECT t.name, SUM(p.rows)
			FROM sys.tables t
			JOIN sys.partitions p ON t.object_id = p.object_id AND p.index_id IN (0, 1)
			WHERE t.is_ms_shipped = 0
			  AND NOT EXISTS (
			    SELECT 1 FROM sys.indexes i
			    WHERE i.object_id = t.object_id AND i.type IN (5, 6))
			GROUP BY t.name
			HAVING SUM(p.rows) > %d`,
			columnstoreRows),
		collect: tableRowCountMessages(
			"Large table '%s' (%d rows) lacks columnstore index. Consider for analytics workloads."),
	},
	{
		code: "BP039",
		query: `
			SELECT t.name, c.name
			FROM sys.columns c
			JOIN sys.tables t ON c.object_id = t.object_id
			JOIN sys.types ty ON c.user_type_id = ty.user_type_id
			WHERE t.is_ms_shipped = 0
			  AND ty.name IN ('varchar', 'nvarchar', 'varbinary')
			  AND c.max_length = -1`,
		collect: func(rows *sql.Rows) ([]string, error) {
			var out []string
			for rows.Next() {
				var table, column string
				if err := rows.Scan(&table, &column); err != nil {
					return nil, err
				}
				out = append(out, fmt.Sprintf(
					"Column '%s.%s' uses MAX data type. Specify explicit size when possible.", table, column))
			}
			return out, nil
		},
	},
	{
		code: "BP040",
		query: `
			SELECT t.name
			FROM sys.tables t
			WHERE t.is_ms_shipped = 0
			  AND NOT EXISTS (
			    SELECT 1 FROM sys.indexes i
			    WHERE i.object_id = t.object_id AND i.type = 1)`,
		collect: oneColumnMessages(
			"Table '%s' is a heap (no clustered index). Add clustered index for better performance."),
	},
	{
		code: "BP041",
		query: fmt.Sprintf(`
			SELECT t.name, COUNT(c.column_id)
			FROM sys.columns c
			JOIN sys.tables t ON c.object_id = t.object_id
			WHERE t.is_ms_shipped = 0
			GROUP BY t.name
			HAVING COUNT(c.column_id) > %d`,
			wideTableColumns),
		collect: tableRowCountMessages(
			"Table '%s' has %d columns. Consider normalizing or vertical partitioning."),
	},
	{
		code: "BP042",
		query: `
			SELECT OBJECT_NAME(fk.parent_object_id), fk.name
			FROM sys.foreign_keys fk
			JOIN sys.foreign_key_columns fkc
			  ON fk.object_id = fkc.constraint_object_id AND fkc.constraint_column_id = 1
			WHERE NOT EXISTS (
			  SELECT 1
			  FROM sys.index_columns ic
			  WHERE ic.object_id = fk.parent_object_id
			    AND ic.column_id = fkc.parent_column_id
			    AND ic.key_ordinal = 1)`,
		collect: func(rows *sql.Rows) ([]string, error) {
			var out []string
			for rows.Next() {
				var table, fk string
				if err := rows.Scan(&table, &fk); err != nil {
					return nil, err
				}
				out = append(out, fmt.Sprintf(
					"Foreign key '%s' on '%s' has no supporting index on its leading column. Add one to speed joins and deletes.", fk, table))
			}
			return out, nil
		},
	},
}

func oneColumnMessages(format string) func(rows *sql.Rows) ([]string, error) {
	return func(rows *sql.Rows) ([]string, error) {
		var out []string
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return nil, err
			}
			out = append(out, fmt.Sprintf(format, name))
		}
		return out, nil
	}
}

func tableRowCountMessages(format string) func(rows *sql.Rows) ([]string, error) {
	return func(rows *sql.Rows) ([]string, error) {
		var out []string
		for rows.Next() {
			var name string
			var count int64
			if err := rows.Scan(&name, &count); err != nil {
				return nil, err
			}
			out = append(out, fmt.Sprintf(format, name, count))
		}
		return out, nil
	}
}
