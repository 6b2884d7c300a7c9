package plan

import (
	"fmt"
	"strings"

	"github.com/shaharwiener/mcp-sql-server/internal/finding"
)

const (
	parallelismThreshold = 3
	expensiveSortCost    = 1.0
	cardinalitySkew      = 10.0
)

func planFinding(code string, severity finding.Severity, description string) finding.Finding {
	return finding.Finding{
		Code:           code,
		Severity:       severity,
		Category:       finding.Performance,
		Title:          "Execution Plan Insight",
		Description:    description,
		Recommendation: "Optimize query based on plan warning (e.g., add missing index).",
	}
}

// Analyze extracts plan-shape findings from a showplan document. A document
// that fails to parse contributes no findings; plan analysis never fails a
// review.
func Analyze(planXML string) []finding.Finding {
	p, err := Parse(planXML)
	if err != nil {
		return nil
	}
	return p.Findings()
}

// Findings applies the plan-shape rules BP023-BP031.
func (p *Plan) Findings() []finding.Finding {
	var out []finding.Finding

	for _, impact := range p.MissingIndexImpacts {
		out = append(out, planFinding("BP023", finding.Medium,
			fmt.Sprintf("Missing index detected (Impact: %s%%). Consider creating recommended indexes.", impact)))
	}

	parallelism := 0
	lookups := 0
	for _, op := range p.Operators {
		switch {
		case op.PhysicalOp == "Table Scan":
			out = append(out, planFinding("BP024", finding.High,
				fmt.Sprintf("Table scan detected on '%s'. This reads entire table. Add appropriate indexes.", op.objectName())))
		case op.PhysicalOp == "Index Scan" || op.PhysicalOp == "Clustered Index Scan":
			out = append(out, planFinding("BP025", finding.High,
				fmt.Sprintf("Index scan detected on '%s'. Index seeks are more efficient. Review WHERE clause and indexes.", op.objectName())))
		case op.PhysicalOp == "Parallelism":
			parallelism++
		case op.PhysicalOp == "Sort" && op.SubtreeCost >= expensiveSortCost:
			out = append(out, planFinding("BP028", finding.Medium,
				fmt.Sprintf("Expensive sort operation detected (Cost: %.2f). Consider adding index to avoid sort.", op.SubtreeCost)))
		case strings.Contains(op.PhysicalOp, "Hash Match"):
			out = append(out, planFinding("BP029", finding.Medium,
				fmt.Sprintf("Hash match operation detected (%s). Consider adding indexes to enable merge or nested loop joins.", op.PhysicalOp)))
		case op.PhysicalOp == "Key Lookup" || op.PhysicalOp == "RID Lookup":
			lookups++
		}

		if op.HasActual && op.EstimateRows > 0 && op.ActualRows > 0 {
			ratio := op.EstimateRows / op.ActualRows
			if ratio < 1 {
				ratio = 1 / ratio
			}
			if ratio > cardinalitySkew {
				out = append(out, planFinding("BP031", finding.Medium,
					fmt.Sprintf("Cardinality estimation issue detected (Est: %.0f, Actual: %.0f). Update statistics.",
						op.EstimateRows, op.ActualRows)))
			}
		}
	}

	if p.ImplicitConversions > 0 {
		out = append(out, planFinding("BP026", finding.Medium,
			"Implicit conversion detected in execution plan. This prevents index usage. Ensure data types match."))
	}
	if parallelism > parallelismThreshold {
		out = append(out, planFinding("BP027", finding.Medium,
			fmt.Sprintf("Excessive parallelism detected (%d operators). May indicate inefficient query or MAXDOP settings.", parallelism)))
	}
	if lookups > 0 {
		out = append(out, planFinding("BP030", finding.High,
			fmt.Sprintf("Key/RID lookups detected (%d). Consider creating covering index to include all required columns.", lookups)))
	}

	return finding.Dedupe(out)
}

func (o Operator) objectName() string {
	if o.Table == "" {
		return "Unknown"
	}
	if o.Schema == "" {
		return o.Table
	}
	return o.Schema + "." + o.Table
}
