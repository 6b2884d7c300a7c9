// Package executor is the safe execution engine: the ordered gate chain
// wrapping every read-only query, plus estimated-plan retrieval.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shaharwiener/mcp-sql-server/internal/config"
	"github.com/shaharwiener/mcp-sql-server/internal/finding"
	"github.com/shaharwiener/mcp-sql-server/internal/mssql"
	"github.com/shaharwiener/mcp-sql-server/internal/parser"
	"github.com/shaharwiener/mcp-sql-server/internal/plan"
	"github.com/shaharwiener/mcp-sql-server/internal/review"
	"github.com/shaharwiener/mcp-sql-server/internal/rewrite"
	"github.com/shaharwiener/mcp-sql-server/internal/sqlerr"
)

const (
	cellTruncateLength = 1000
	nonStringCellBytes = 16
	retryAfterSeconds  = 5
)

// Request is one read-only execution request.
type Request struct {
	SQL      string
	Env      string
	Database string
	User     string
	PageSize *int
	Page     *int
}

// Limits echoes the caps applied to an execution.
type Limits struct {
	MaxRows        int  `json:"max_rows"`
	MaxTimeSeconds int  `json:"max_time_seconds"`
	NolockEnabled  bool `json:"nolock_enabled"`
}

// Pagination echoes the applied page window.
type Pagination struct {
	Page         int `json:"page"`
	PageSize     int `json:"page_size"`
	Offset       int `json:"offset"`
	RowsReturned int `json:"rows_returned"`
}

// Result is a successful (possibly partial) execution.
type Result struct {
	Data                 []map[string]any
	RowCount             int
	ExecutionTimeMs      float64
	Environment          string
	Limits               Limits
	ReviewSummary        *review.Summary
	BestPracticeWarnings []finding.Finding
	Pagination           *Pagination
	Warnings             []string
	RowLimitReached      bool
}

// BlockedError is a policy rejection: the review found blocking violations,
// returned so the caller can self-correct.
type BlockedError struct {
	Violations []finding.Finding
	Summary    review.Summary
	Warnings   []finding.Finding
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s: query blocked due to security or performance violations detected in review (%d blocking)",
		sqlerr.SecurityViolation, len(e.Violations))
}

// Executor wires the gate chain together.
type Executor struct {
	cfg      *config.Config
	pools    *mssql.Manager
	throttle *Throttler
	reviews  *review.Service
	logger   *zap.Logger
}

// New builds the executor. The review service is bound afterwards because it
// takes this executor as its plan provider.
func New(cfg *config.Config, pools *mssql.Manager, throttle *Throttler, logger *zap.Logger) *Executor {
	return &Executor{cfg: cfg, pools: pools, throttle: throttle, logger: logger}
}

// BindReviews attaches the review orchestrator once constructed.
func (e *Executor) BindReviews(r *review.Service) { e.reviews = r }

// ExecuteReadonly runs the full gate chain and streams the result under the
// row and byte caps.
func (e *Executor) ExecuteReadonly(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	env := e.cfg.ResolveEnvironment(req.Env)
	user := req.User
	if user == "" {
		user = "anonymous"
	}

	// Gate 1: pagination shape, before anything touches the database.
	if err := validatePagination(req.PageSize, req.Page); err != nil {
		return nil, err
	}

	// Gate 2: throttle slot, released on every exit path.
	release, err := e.throttle.Acquire(env, user)
	if err != nil {
		return nil, err
	}
	defer release()

	// Gate 3: strict syntactic read-only validation.
	if ok, reason := parser.ValidateReadOnly(req.SQL); !ok {
		e.logger.Warn("readonly validation failed", zap.String("env", env), zap.String("reason", reason))
		return nil, sqlerr.New(sqlerr.SecurityViolation, "security violation: %s", reason)
	}

	// Gate 4: pagination rewrite.
	query := req.SQL
	var warnings []string
	var pagination *Pagination
	if req.PageSize != nil {
		rewritten, applied := rewrite.ApplyPagination(query, *req.PageSize, *req.Page)
		if applied {
			query = rewritten
		} else {
			warnings = append(warnings, "query already contains pagination clauses; requested pagination was skipped")
		}
		pagination = &Pagination{
			Page:     *req.Page,
			PageSize: *req.PageSize,
			Offset:   (*req.Page - 1) * *req.PageSize,
		}
	}

	// Gate 5: database allow-list.
	targetDB := req.Database
	if targetDB == "" {
		targetDB = e.pools.DefaultDatabase(env)
	}
	if targetDB != "" && !e.cfg.DatabaseAllowed(targetDB) {
		return nil, sqlerr.New(sqlerr.DBNotAllowed,
			"database %q is not in the allowed list (allowed: %s)",
			targetDB, strings.Join(e.cfg.Safety.AllowedDatabases, ", "))
	}

	// Gate 6: full review; blocking findings are hard gates, best-practice
	// findings surface as warnings.
	var reviewSummary *review.Summary
	var bpWarnings []finding.Finding
	if e.reviews != nil {
		rev := e.reviews.Review(ctx, query, env, req.Database)
		reviewSummary = &rev.Summary
		bpWarnings = rev.BestPracticeWarnings()
		blocking := rev.BlockingFindings()
		if len(blocking) > 0 || (rev.Summary.Status == review.Rejected && rev.Summary.TopSeverity == finding.Critical) {
			e.logger.Warn("query blocked by review",
				zap.String("env", env),
				zap.Int("violations", len(blocking)),
				zap.Int("risk_score", rev.Summary.RiskScore))
			return nil, &BlockedError{Violations: blocking, Summary: rev.Summary, Warnings: bpWarnings}
		}
	}

	// Gate 7: cost gate, fail-open on plan acquisition failure.
	if e.cfg.Safety.EnableCostCheck {
		if err := e.checkCost(ctx, query, env, req.Database); err != nil {
			return nil, err
		}
	}

	// Gate 8: shared-read hint rewrite, fail-closed where the environment
	// requires the hint.
	nolockEnabled := e.cfg.NolockEnabled(env)
	if nolockEnabled {
		injected, err := rewrite.InjectNolock(query)
		if err != nil {
			e.logger.Error("nolock injection failed, blocking execution",
				zap.String("env", env), zap.Error(err))
			return nil, sqlerr.Wrap(sqlerr.HintInjectionFailed, err,
				"security enforcement failed, query blocked on %s to prevent locking", env)
		}
		query = injected
	}

	// Gate 9: resource hint rewrite.
	if e.cfg.ResourceHintsEnabled(env) {
		query = rewrite.EnsureResourceHints(query, e.cfg.Maxdop(env), e.cfg.MaxGrantPercent(env))
	}

	// Gate 10: execute and stream under the row and byte caps.
	maxRows := e.cfg.MaxRows(env)
	maxSeconds := e.commandTimeoutSeconds(env)
	res, err := e.runQuery(ctx, query, env, req.Database, maxRows, maxSeconds)
	if err != nil {
		return nil, err
	}

	res.Environment = env
	res.ExecutionTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	res.Limits = Limits{MaxRows: maxRows, MaxTimeSeconds: maxSeconds, NolockEnabled: nolockEnabled}
	res.ReviewSummary = reviewSummary
	res.BestPracticeWarnings = bpWarnings
	res.Warnings = append(warnings, res.Warnings...)
	if pagination != nil {
		pagination.RowsReturned = res.RowCount
		res.Pagination = pagination
	}

	elapsed := time.Since(start)
	if elapsed > time.Second {
		e.logger.Info("slow query",
			zap.Duration("duration", elapsed), zap.String("query", finding.Snip(query, 100)))
	}
	e.logger.Info("query executed",
		zap.String("env", env),
		zap.Float64("execution_time_ms", res.ExecutionTimeMs),
		zap.Int("row_count", res.RowCount),
		zap.String("user", user))
	return res, nil
}

// commandTimeoutSeconds caps the per-environment wall clock at the global
// maximum, logging when the request had to be trimmed.
func (e *Executor) commandTimeoutSeconds(env string) int {
	seconds := e.cfg.MaxExecutionTimeSeconds(env)
	if max := e.cfg.Database.MaxCommandTimeoutSeconds; seconds > max {
		e.logger.Warn("requested timeout exceeds maximum, capping",
			zap.Int("requested", seconds), zap.Int("max", max))
		seconds = max
	}
	return seconds
}

func (e *Executor) checkCost(ctx context.Context, query, env, database string) error {
	planXML, err := e.EstimatedPlan(ctx, query, env, database)
	if err != nil {
		// Fail open: a plan-acquisition failure must not cascade.
		e.logger.Warn("cost check skipped, plan unavailable", zap.String("env", env), zap.Error(err))
		return nil
	}
	threshold := e.cfg.QueryCostThreshold(env)
	cost := plan.ExtractCost(planXML)
	if cost > threshold {
		e.logger.Warn("query cost exceeded",
			zap.String("env", env), zap.Float64("cost", cost), zap.Float64("threshold", threshold))
		return sqlerr.New(sqlerr.QueryTooExpensive,
			"query cost (%.2f) exceeds threshold (%.2f) for %s environment", cost, threshold, env)
	}
	return nil
}

// runQuery consumes rows, truncating oversized string cells and enforcing the
// row and byte caps. The row cap returns partial data with a warning; the
// byte cap fails the request.
func (e *Executor) runQuery(ctx context.Context, query, env, database string, maxRows, maxSeconds int) (*Result, error) {
	handle, err := e.pools.Acquire(ctx, env, database)
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	qctx, cancel := context.WithTimeout(ctx, time.Duration(maxSeconds)*time.Second)
	defer cancel()

	rows, err := handle.Conn.QueryContext(qctx, query)
	if err != nil {
		return nil, sqlerr.Wrap(sqlerr.DBError, err, "database error")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, sqlerr.Wrap(sqlerr.DBError, err, "reading result columns")
	}

	maxBytes := int64(e.cfg.Safety.MaxPayloadSizeMB) * 1024 * 1024
	var payloadBytes int64
	res := &Result{}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, sqlerr.Wrap(sqlerr.DBError, err, "scanning result row")
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			cell := values[i]
			if b, ok := cell.([]byte); ok {
				cell = string(b)
			}
			if s, ok := cell.(string); ok {
				// Each cell is counted once, at its wire size.
				payloadBytes += int64(len(s))
				if len(s) > cellTruncateLength {
					cell = s[:cellTruncateLength] + "...(truncated)"
				}
			} else if cell != nil {
				payloadBytes += nonStringCellBytes
			}
			row[col] = cell
		}

		if payloadBytes > maxBytes {
			e.logger.Warn("payload limit exceeded",
				zap.String("env", env), zap.Int64("bytes", payloadBytes), zap.Int64("limit", maxBytes))
			return nil, sqlerr.New(sqlerr.PayloadTooLarge,
				"query result too large (exceeded %dMB limit), please refine your filters",
				e.cfg.Safety.MaxPayloadSizeMB)
		}

		res.Data = append(res.Data, row)
		if len(res.Data) >= maxRows {
			res.RowLimitReached = true
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("row limit of %d reached; partial results returned", maxRows))
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, sqlerr.Wrap(sqlerr.DBError, err, "streaming result rows")
	}

	res.RowCount = len(res.Data)
	return res, nil
}

func validatePagination(pageSize, page *int) error {
	if pageSize == nil && page == nil {
		return nil
	}
	if pageSize == nil || page == nil {
		return sqlerr.New(sqlerr.Validation,
			"both page_size and page must be provided together, or both omitted")
	}
	if *pageSize < 1 || *pageSize > 1000 {
		return sqlerr.New(sqlerr.Validation, "page_size must be between 1 and 1000, got %d", *pageSize)
	}
	if *page < 1 {
		return sqlerr.New(sqlerr.Validation, "page must be >= 1, got %d", *page)
	}
	return nil
}

// RetryAfterSeconds is the backoff hint attached to throttle rejections.
func RetryAfterSeconds() int { return retryAfterSeconds }
