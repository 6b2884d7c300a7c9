// Package plan parses SQL Server estimated execution plans (showplan XML)
// and derives cost figures and plan-shape findings from them.
package plan

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Operator is one physical operator node from the plan tree.
type Operator struct {
	PhysicalOp   string
	SubtreeCost  float64
	EstimateRows float64
	ActualRows   float64
	HasActual    bool
	Schema       string
	Table        string
}

// Plan is the flattened view of a showplan document.
type Plan struct {
	StatementCosts      []float64
	Operators           []Operator
	MissingIndexImpacts []string
	ImplicitConversions int
}

// Parse walks the showplan XML with a streaming decoder. The document schema
// is deeply recursive, so operators are collected with an explicit element
// stack instead of a mirrored struct tree.
func Parse(planXML string) (*Plan, error) {
	if strings.TrimSpace(planXML) == "" {
		return nil, fmt.Errorf("empty plan document")
	}

	p := &Plan{}
	dec := xml.NewDecoder(strings.NewReader(planXML))
	// The server stamps the prolog utf-16 even though the driver has already
	// decoded the document; the bytes here are always UTF-8.
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	// Index into p.Operators for each open RelOp element, outermost first.
	var relOpStack []int

	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if len(p.Operators) == 0 && len(p.StatementCosts) == 0 {
				return nil, fmt.Errorf("parsing plan XML: %w", err)
			}
			break
		}

		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "StmtSimple":
				if v, ok := attr(el, "StatementSubTreeCost"); ok {
					if c, err := strconv.ParseFloat(v, 64); err == nil {
						p.StatementCosts = append(p.StatementCosts, c)
					}
				}
			case "RelOp":
				op := Operator{}
				op.PhysicalOp, _ = attr(el, "PhysicalOp")
				if v, ok := attr(el, "EstimatedTotalSubtreeCost"); ok {
					op.SubtreeCost, _ = strconv.ParseFloat(v, 64)
				}
				if v, ok := attr(el, "EstimateRows"); ok {
					op.EstimateRows, _ = strconv.ParseFloat(v, 64)
				}
				if v, ok := attr(el, "ActualRows"); ok {
					op.ActualRows, _ = strconv.ParseFloat(v, 64)
					op.HasActual = true
				}
				p.Operators = append(p.Operators, op)
				relOpStack = append(relOpStack, len(p.Operators)-1)
			case "Object":
				if len(relOpStack) > 0 {
					idx := relOpStack[len(relOpStack)-1]
					if p.Operators[idx].Table == "" {
						p.Operators[idx].Schema = trimBrackets(attrOr(el, "Schema", ""))
						p.Operators[idx].Table = trimBrackets(attrOr(el, "Table", ""))
					}
				}
			case "MissingIndexGroup":
				p.MissingIndexImpacts = append(p.MissingIndexImpacts, attrOr(el, "Impact", "0"))
			case "ScalarOperator":
				if v, ok := attr(el, "ScalarString"); ok && strings.Contains(v, "CONVERT_IMPLICIT") {
					p.ImplicitConversions++
				}
			}
		case xml.EndElement:
			if el.Name.Local == "RelOp" && len(relOpStack) > 0 {
				relOpStack = relOpStack[:len(relOpStack)-1]
			}
		}
	}
	return p, nil
}

// Cost returns the estimated total cost: the summed statement-level subtree
// costs when present, otherwise the maximum operator subtree cost.
func (p *Plan) Cost() float64 {
	if len(p.StatementCosts) > 0 {
		total := 0.0
		for _, c := range p.StatementCosts {
			total += c
		}
		return total
	}
	max := 0.0
	for _, op := range p.Operators {
		if op.SubtreeCost > max {
			max = op.SubtreeCost
		}
	}
	return max
}

// ExtractCost parses the plan and returns its cost; any failure yields 0.
func ExtractCost(planXML string) float64 {
	p, err := Parse(planXML)
	if err != nil {
		return 0
	}
	return p.Cost()
}

func attr(el xml.StartElement, name string) (string, bool) {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func attrOr(el xml.StartElement, name, def string) string {
	if v, ok := attr(el, name); ok {
		return v
	}
	return def
}

func trimBrackets(s string) string {
	return strings.Trim(s, "[]")
}
