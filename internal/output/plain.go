package output

import (
	"fmt"
	"io"

	"github.com/shaharwiener/mcp-sql-server/internal/review"
	"github.com/shaharwiener/mcp-sql-server/internal/tools"
)

// PlainRenderer produces unformatted text output safe for piping.
type PlainRenderer struct {
	w io.Writer
}

func (r *PlainRenderer) RenderReview(result *review.Result) {
	fmt.Fprintf(r.w, "=== SQL Review ===\n\n")
	fmt.Fprintf(r.w, "Status:        %s\n", result.Summary.Status)
	fmt.Fprintf(r.w, "Risk score:    %d/100\n", result.Summary.RiskScore)
	fmt.Fprintf(r.w, "Top severity:  %s\n", result.Summary.TopSeverity)
	fmt.Fprintf(r.w, "Verdict:       %s\n", result.Summary.Verdict)
	fmt.Fprintf(r.w, "Read-only:     %v  Writes: %v  DDL: %v\n",
		result.SafetyChecks.IsReadonly, result.SafetyChecks.HasWriteOps, result.SafetyChecks.HasDDL)

	if result.PerformanceInsights.ExecutionPlanAvailable && result.PerformanceInsights.EstimatedCost != nil {
		fmt.Fprintf(r.w, "Plan cost:     %.2f\n", *result.PerformanceInsights.EstimatedCost)
	}
	if len(result.SchemaContext.ReferencedObjects) > 0 {
		fmt.Fprintf(r.w, "References:    %v\n", result.SchemaContext.ReferencedObjects)
	}
	fmt.Fprintln(r.w)

	for _, f := range result.Findings {
		fmt.Fprintf(r.w, "[%s] %s (%s/%s)\n", f.Code, f.Title, f.Severity, f.Category)
		fmt.Fprintf(r.w, "    %s\n", f.Description)
		if f.Recommendation != "" {
			fmt.Fprintf(r.w, "    Recommendation: %s\n", f.Recommendation)
		}
	}
}

func (r *PlainRenderer) RenderQuery(resp *tools.QueryResponse) {
	if !resp.Success {
		fmt.Fprintf(r.w, "ERROR (%s): %s\n", resp.ErrorCode, resp.Error)
		for _, v := range resp.BlockingViolations {
			fmt.Fprintf(r.w, "  BLOCKING [%s] %s: %s\n", v.Code, v.Title, v.Description)
		}
		return
	}
	if resp.RowCount != nil {
		fmt.Fprintf(r.w, "Rows: %d", *resp.RowCount)
	}
	if resp.ExecutionTimeMs != nil {
		fmt.Fprintf(r.w, "  (%.1f ms)", *resp.ExecutionTimeMs)
	}
	fmt.Fprintln(r.w)
	for _, w := range resp.Warnings {
		fmt.Fprintf(r.w, "WARNING: %s\n", w)
	}
	for _, row := range resp.Data {
		fmt.Fprintf(r.w, "%v\n", row)
	}
}

func (r *PlainRenderer) RenderSchema(resp *tools.SchemaResponse) {
	if !resp.Success {
		fmt.Fprintf(r.w, "ERROR: %s\n", resp.Error)
		return
	}
	for _, line := range resp.Summary {
		fmt.Fprintln(r.w, line)
	}
	fmt.Fprintf(r.w, "(%d tables)\n", resp.Count)
}

func (r *PlainRenderer) RenderExplain(resp *tools.ExplainResponse) {
	if !resp.Success {
		fmt.Fprintf(r.w, "ERROR: %s\n", resp.Error)
		return
	}
	fmt.Fprintln(r.w, resp.PlanXML)
}
