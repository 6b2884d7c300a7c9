package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/shaharwiener/mcp-sql-server/internal/review"
	"github.com/shaharwiener/mcp-sql-server/internal/tools"
)

// MarkdownRenderer produces output suitable for pasting into tickets and
// pull requests.
type MarkdownRenderer struct {
	w io.Writer
}

func (r *MarkdownRenderer) RenderReview(result *review.Result) {
	fmt.Fprintf(r.w, "## SQL Review — %s\n\n", result.Summary.Status)
	fmt.Fprintf(r.w, "| | |\n|---|---|\n")
	fmt.Fprintf(r.w, "| Risk score | %d/100 |\n", result.Summary.RiskScore)
	fmt.Fprintf(r.w, "| Top severity | %s |\n", result.Summary.TopSeverity)
	fmt.Fprintf(r.w, "| Verdict | %s |\n", result.Summary.Verdict)
	fmt.Fprintf(r.w, "| Read-only | %v |\n", result.SafetyChecks.IsReadonly)
	if result.PerformanceInsights.ExecutionPlanAvailable && result.PerformanceInsights.EstimatedCost != nil {
		fmt.Fprintf(r.w, "| Plan cost | %.2f |\n", *result.PerformanceInsights.EstimatedCost)
	}
	if len(result.SchemaContext.ReferencedObjects) > 0 {
		fmt.Fprintf(r.w, "| References | %s |\n", strings.Join(result.SchemaContext.ReferencedObjects, ", "))
	}
	fmt.Fprintln(r.w)

	if len(result.Findings) > 0 {
		fmt.Fprintf(r.w, "### Findings\n\n")
		fmt.Fprintf(r.w, "| Code | Severity | Category | Description |\n|---|---|---|---|\n")
		for _, f := range result.Findings {
			fmt.Fprintf(r.w, "| %s | %s | %s | %s |\n", f.Code, f.Severity, f.Category,
				strings.ReplaceAll(f.Description, "|", "\\|"))
		}
		fmt.Fprintln(r.w)
	}
}

func (r *MarkdownRenderer) RenderQuery(resp *tools.QueryResponse) {
	if !resp.Success {
		fmt.Fprintf(r.w, "**ERROR (%s)**: %s\n", resp.ErrorCode, resp.Error)
		for _, v := range resp.BlockingViolations {
			fmt.Fprintf(r.w, "- `%s` %s — %s\n", v.Code, v.Title, v.Description)
		}
		return
	}
	if resp.RowCount != nil && resp.ExecutionTimeMs != nil {
		fmt.Fprintf(r.w, "**%d rows** in %.1f ms on %s\n\n", *resp.RowCount, *resp.ExecutionTimeMs, resp.Environment)
	}
	for _, w := range resp.Warnings {
		fmt.Fprintf(r.w, "> %s\n", w)
	}
	for _, row := range resp.Data {
		fmt.Fprintf(r.w, "- `%v`\n", row)
	}
}

func (r *MarkdownRenderer) RenderSchema(resp *tools.SchemaResponse) {
	if !resp.Success {
		fmt.Fprintf(r.w, "**ERROR**: %s\n", resp.Error)
		return
	}
	fmt.Fprintf(r.w, "## Schema (%d tables)\n\n", resp.Count)
	for _, line := range resp.Summary {
		fmt.Fprintf(r.w, "- %s\n", line)
	}
}

func (r *MarkdownRenderer) RenderExplain(resp *tools.ExplainResponse) {
	if !resp.Success {
		fmt.Fprintf(r.w, "**ERROR**: %s\n", resp.Error)
		return
	}
	fmt.Fprintf(r.w, "## Estimated plan (%s)\n\n```xml\n%s\n```\n", resp.Environment, resp.PlanXML)
}
