// Package tools exposes the four read-only tool operations with their
// boundary response shapes. The RPC transport that invokes them lives
// outside this module; the CLI drives them directly.
package tools

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/shaharwiener/mcp-sql-server/internal/config"
	"github.com/shaharwiener/mcp-sql-server/internal/executor"
	"github.com/shaharwiener/mcp-sql-server/internal/finding"
	"github.com/shaharwiener/mcp-sql-server/internal/metadata"
	"github.com/shaharwiener/mcp-sql-server/internal/review"
	"github.com/shaharwiener/mcp-sql-server/internal/sqlerr"
)

// Service binds the tool operations to the core components.
type Service struct {
	cfg     *config.Config
	reviews *review.Service
	exec    *executor.Executor
	meta    *metadata.Analyzer
	logger  *zap.Logger
}

// NewService builds the tool surface.
func NewService(cfg *config.Config, reviews *review.Service, exec *executor.Executor,
	meta *metadata.Analyzer, logger *zap.Logger) *Service {
	return &Service{cfg: cfg, reviews: reviews, exec: exec, meta: meta, logger: logger}
}

// QueryResponse is the query_readonly boundary shape.
type QueryResponse struct {
	Success              bool                 `json:"success"`
	Data                 []map[string]any     `json:"data,omitempty"`
	RowCount             *int                 `json:"row_count,omitempty"`
	ExecutionTimeMs      *float64             `json:"execution_time_ms,omitempty"`
	Environment          string               `json:"environment,omitempty"`
	LimitsApplied        *executor.Limits     `json:"limits_applied,omitempty"`
	ReviewSummary        *review.Summary      `json:"review_summary,omitempty"`
	BestPracticeWarnings []finding.Finding    `json:"best_practice_warnings,omitempty"`
	Pagination           *executor.Pagination `json:"pagination,omitempty"`
	Warnings             []string             `json:"warnings,omitempty"`
	Error                string               `json:"error,omitempty"`
	ErrorCode            string               `json:"error_code,omitempty"`
	BlockingViolations   []finding.Finding    `json:"blocking_violations,omitempty"`
	RetryAfterSeconds    *int                 `json:"retry_after_seconds,omitempty"`
	RiskScore            *int                 `json:"risk_score,omitempty"`
}

// SchemaResponse is the schema_summary boundary shape.
type SchemaResponse struct {
	Success bool     `json:"success"`
	Summary []string `json:"summary,omitempty"`
	Count   int      `json:"count"`
	Error   string   `json:"error,omitempty"`
}

// ExplainResponse is the explain boundary shape.
type ExplainResponse struct {
	Success     bool   `json:"success"`
	PlanXML     string `json:"plan_xml,omitempty"`
	Environment string `json:"environment,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ReviewScript runs the full review pipeline over a script.
func (s *Service) ReviewScript(ctx context.Context, script, env string) *review.Result {
	return s.reviews.Review(ctx, script, env, "")
}

// QueryReadonly executes a SELECT under the full gate chain and maps every
// failure class onto the boundary shape.
func (s *Service) QueryReadonly(ctx context.Context, req executor.Request) *QueryResponse {
	res, err := s.exec.ExecuteReadonly(ctx, req)
	if err != nil {
		return s.queryError(err)
	}
	return &QueryResponse{
		Success:              true,
		Data:                 res.Data,
		RowCount:             &res.RowCount,
		ExecutionTimeMs:      &res.ExecutionTimeMs,
		Environment:          res.Environment,
		LimitsApplied:        &res.Limits,
		ReviewSummary:        res.ReviewSummary,
		BestPracticeWarnings: res.BestPracticeWarnings,
		Pagination:           res.Pagination,
		Warnings:             res.Warnings,
	}
}

func (s *Service) queryError(err error) *QueryResponse {
	var blocked *executor.BlockedError
	if errors.As(err, &blocked) {
		return &QueryResponse{
			Error:                "query blocked due to security or performance violations detected in review",
			ErrorCode:            string(sqlerr.SecurityViolation),
			BlockingViolations:   blocked.Violations,
			ReviewSummary:        &blocked.Summary,
			BestPracticeWarnings: blocked.Warnings,
		}
	}

	code := sqlerr.CodeOf(err)
	resp := &QueryResponse{Error: err.Error(), ErrorCode: string(code)}
	switch code {
	case sqlerr.TooManyConcurrent:
		retry := executor.RetryAfterSeconds()
		resp.RetryAfterSeconds = &retry
	case sqlerr.SecurityViolation, sqlerr.HintInjectionFailed:
		risk := 100
		resp.RiskScore = &risk
	}
	return resp
}

// SchemaSummary returns the compact per-table schema listing.
func (s *Service) SchemaSummary(ctx context.Context, env, searchTerm string) *SchemaResponse {
	env = s.cfg.ResolveEnvironment(env)
	summary, err := s.meta.SchemaSummary(ctx, env, searchTerm)
	if err != nil {
		s.logger.Warn("schema summary failed", zap.String("env", env), zap.Error(err))
		return &SchemaResponse{Error: err.Error()}
	}
	return &SchemaResponse{Success: true, Summary: summary, Count: len(summary)}
}

// Explain returns the estimated execution plan XML for a query.
func (s *Service) Explain(ctx context.Context, query, env, database string) *ExplainResponse {
	env = s.cfg.ResolveEnvironment(env)
	planXML, err := s.exec.EstimatedPlan(ctx, query, env, database)
	if err != nil {
		s.logger.Warn("explain failed", zap.String("env", env), zap.Error(err))
		return &ExplainResponse{Error: err.Error(), Environment: env}
	}
	return &ExplainResponse{Success: true, PlanXML: planXML, Environment: env}
}
