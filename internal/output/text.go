package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/shaharwiener/mcp-sql-server/internal/review"
	"github.com/shaharwiener/mcp-sql-server/internal/tools"
)

// TextRenderer produces styled terminal output.
type TextRenderer struct {
	w io.Writer
}

func (r *TextRenderer) RenderReview(result *review.Result) {
	fmt.Fprintln(r.w, TitleStyle.Render("SQL Review"))
	fmt.Fprintln(r.w)

	fmt.Fprintf(r.w, "%s %s\n", LabelStyle.Render("Status"),
		statusStyle(result.Summary.Status).Render(string(result.Summary.Status)))
	fmt.Fprintf(r.w, "%s %d/100\n", LabelStyle.Render("Risk score"), result.Summary.RiskScore)
	fmt.Fprintf(r.w, "%s %s\n", LabelStyle.Render("Top severity"),
		severityStyle(result.Summary.TopSeverity).Render(string(result.Summary.TopSeverity)))
	fmt.Fprintf(r.w, "%s %s\n", LabelStyle.Render("Verdict"), result.Summary.Verdict)
	fmt.Fprintf(r.w, "%s read-only=%v writes=%v ddl=%v\n", LabelStyle.Render("Safety"),
		result.SafetyChecks.IsReadonly, result.SafetyChecks.HasWriteOps, result.SafetyChecks.HasDDL)

	if result.PerformanceInsights.ExecutionPlanAvailable && result.PerformanceInsights.EstimatedCost != nil {
		fmt.Fprintf(r.w, "%s %.2f\n", LabelStyle.Render("Plan cost"), *result.PerformanceInsights.EstimatedCost)
	}
	if len(result.SchemaContext.ReferencedObjects) > 0 {
		fmt.Fprintf(r.w, "%s %s\n", LabelStyle.Render("References"),
			MutedText.Render(strings.Join(result.SchemaContext.ReferencedObjects, ", ")))
	}

	if len(result.Findings) > 0 {
		fmt.Fprintln(r.w)
		fmt.Fprintln(r.w, TitleStyle.Render(fmt.Sprintf("Findings (%d)", len(result.Findings))))
		for _, f := range result.Findings {
			fmt.Fprintf(r.w, "  %s %s — %s\n",
				severityStyle(f.Severity).Render(fmt.Sprintf("[%s]", f.Code)), f.Title, f.Description)
			if f.Recommendation != "" {
				fmt.Fprintf(r.w, "      %s\n", MutedText.Render(f.Recommendation))
			}
		}
	}
}

func (r *TextRenderer) RenderQuery(resp *tools.QueryResponse) {
	if !resp.Success {
		fmt.Fprintf(r.w, "%s %s\n", DangerText.Render(fmt.Sprintf("ERROR (%s)", resp.ErrorCode)), resp.Error)
		for _, v := range resp.BlockingViolations {
			fmt.Fprintf(r.w, "  %s %s — %s\n",
				DangerText.Render(fmt.Sprintf("[%s]", v.Code)), v.Title, v.Description)
		}
		if resp.RetryAfterSeconds != nil {
			fmt.Fprintf(r.w, "  %s\n", MutedText.Render(fmt.Sprintf("retry after %d seconds", *resp.RetryAfterSeconds)))
		}
		return
	}

	if resp.RowCount != nil && resp.ExecutionTimeMs != nil {
		fmt.Fprintf(r.w, "%s %d rows in %.1f ms on %s\n",
			SafeText.Render("OK"), *resp.RowCount, *resp.ExecutionTimeMs, resp.Environment)
	}
	for _, w := range resp.Warnings {
		fmt.Fprintf(r.w, "%s %s\n", WarningText.Render("WARNING"), w)
	}
	for _, bpw := range resp.BestPracticeWarnings {
		fmt.Fprintf(r.w, "%s %s\n", WarningText.Render(fmt.Sprintf("[%s]", bpw.Code)), bpw.Description)
	}
	for _, row := range resp.Data {
		fmt.Fprintf(r.w, "%v\n", row)
	}
}

func (r *TextRenderer) RenderSchema(resp *tools.SchemaResponse) {
	if !resp.Success {
		fmt.Fprintf(r.w, "%s %s\n", DangerText.Render("ERROR"), resp.Error)
		return
	}
	fmt.Fprintln(r.w, TitleStyle.Render(fmt.Sprintf("Schema (%d tables)", resp.Count)))
	for _, line := range resp.Summary {
		fmt.Fprintln(r.w, line)
	}
}

func (r *TextRenderer) RenderExplain(resp *tools.ExplainResponse) {
	if !resp.Success {
		fmt.Fprintf(r.w, "%s %s\n", DangerText.Render("ERROR"), resp.Error)
		return
	}
	fmt.Fprintln(r.w, TitleStyle.Render(fmt.Sprintf("Estimated plan (%s)", resp.Environment)))
	fmt.Fprintln(r.w, resp.PlanXML)
}
