package review

import "github.com/shaharwiener/mcp-sql-server/internal/finding"

// Status is the review outcome.
type Status string

const (
	Approved Status = "APPROVED"
	Warning  Status = "WARNING"
	Rejected Status = "REJECTED"
)

var statusRank = map[Status]int{Approved: 0, Warning: 1, Rejected: 2}

// Worse reports whether a is a worse outcome than b.
func Worse(a, b Status) bool { return statusRank[a] > statusRank[b] }

// Summary is the review headline.
type Summary struct {
	Status      Status           `json:"status"`
	RiskScore   int              `json:"risk_score"`
	Verdict     string           `json:"verdict"`
	TopSeverity finding.Severity `json:"top_severity"`
}

// SafetyChecks are the derived statement-class booleans.
type SafetyChecks struct {
	IsReadonly  bool `json:"is_readonly"`
	HasWriteOps bool `json:"has_write_ops"`
	HasDDL      bool `json:"has_ddl"`
}

// PerformanceInsights carries what plan analysis produced, if anything.
type PerformanceInsights struct {
	ExecutionPlanAvailable bool     `json:"execution_plan_available"`
	EstimatedCost          *float64 `json:"estimated_cost,omitempty"`
}

// SchemaContext lists the qualified objects the script references.
type SchemaContext struct {
	ReferencedObjects []string `json:"referenced_objects"`
}

// Result is the full review report.
type Result struct {
	Summary             Summary             `json:"summary"`
	SafetyChecks        SafetyChecks        `json:"safety_checks"`
	Findings            []finding.Finding   `json:"issues"`
	PerformanceInsights PerformanceInsights `json:"performance_insights"`
	SchemaContext       SchemaContext       `json:"schema_context"`
}

// BlockingFindings returns the findings the safe executor must treat as hard
// gates.
func (r *Result) BlockingFindings() []finding.Finding {
	var out []finding.Finding
	for _, f := range r.Findings {
		if f.Blocking() {
			out = append(out, f)
		}
	}
	return out
}

// BestPracticeWarnings returns the non-blocking best-practice findings.
func (r *Result) BestPracticeWarnings() []finding.Finding {
	var out []finding.Finding
	for _, f := range r.Findings {
		if f.Category == finding.BestPractice {
			out = append(out, f)
		}
	}
	return out
}

// Review verdict strings, keyed by outcome.
const (
	verdictApproved       = "Script is safe to execute."
	verdictWarning        = "Script contains potential issues. Review findings before critical execution."
	verdictRejected       = "Script poses critical risks and should NOT be executed."
	verdictSyntaxError    = "Syntax error prevented analysis."
	verdictPlanEscalation = "Significant risks detected in plan/metadata."
)

func verdictFor(status Status) string {
	switch status {
	case Rejected:
		return verdictRejected
	case Warning:
		return verdictWarning
	default:
		return verdictApproved
	}
}

func statusFor(riskScore int) Status {
	switch {
	case riskScore >= 80:
		return Rejected
	case riskScore >= 30:
		return Warning
	default:
		return Approved
	}
}
