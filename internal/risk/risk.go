// Package risk computes an explainable risk score from rule violations:
// risk = Σ(base_weight × factors) / max_possible × 100, individually traced
// per violation so every point of the score can be attributed.
package risk

import (
	"fmt"
	"math"

	"guardrail/internal/ast"
	"guardrail/internal/callgraph"
	"guardrail/internal/logging"
	"guardrail/internal/rules"
)

// ViolationContribution explains one violation's share of the total score.
type ViolationContribution struct {
	RuleID               string
	Severity             string
	File                 string
	Line                 int
	BaseWeight           float64
	BlastRadiusFactor    float64
	StateMutationFactor  float64
	TestFailureFactor    float64
	AsyncBoundaryFactor  float64
	TotalFactor          float64
	WeightedScore        float64
}

// Breakdown is the full explainable risk score.
type Breakdown struct {
	TotalScore              int
	MaxPossibleScore         float64
	ViolationContributions  []ViolationContribution
	Formula                  string
	Summary                  string
}

const formula = "risk = Σ(base_weight × factors) / max_possible × 100"

var stateMutationRules = map[string]bool{
	"shared_mutable_state": true, "race_condition": true, "cross_module_mutation": true,
}

var asyncBoundaryRules = map[string]bool{
	"missing_await": true, "blocking_io_in_async": true, "race_condition": true,
}

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }

// Compute scores a rule result: base_weight × (1 + blast + state + test +
// async) per violation, normalized against the all-critical, all-factors-at-1
// ceiling, clamped to [0, 100].
func Compute(result rules.Result, graph *callgraph.Graph, testFailureRuleIDs map[string]bool) Breakdown {
	if testFailureRuleIDs == nil {
		testFailureRuleIDs = map[string]bool{}
	}
	violations := result.Violations

	if len(violations) == 0 {
		return Breakdown{
			TotalScore:       0,
			MaxPossibleScore: 0,
			Formula:          formula,
			Summary:          "No violations detected. Risk score is 0.",
		}
	}

	maxGraphDepth := 1
	if graph != nil {
		if d := graph.MaxDepth(); d > 0 {
			maxGraphDepth = d
		}
	}

	contributions := make([]ViolationContribution, 0, len(violations))
	totalWeighted := 0.0

	for _, v := range violations {
		baseWeight := ast.SeverityWeight[v.Severity]
		if baseWeight == 0 {
			baseWeight = 1
		}

		blastRadius := 0
		if graph != nil && v.GraphNodeID != "" {
			if _, ok := graph.Nodes[v.GraphNodeID]; ok {
				blastRadius = graph.BlastRadius(v.GraphNodeID)
			}
		}
		blastFactor := 0.0
		if maxGraphDepth > 0 {
			blastFactor = 0.3 * (float64(blastRadius) / float64(maxGraphDepth))
		}

		stateMutation := 0.0
		if stateMutationRules[v.RuleID] {
			stateMutation = 0.2
		}

		testFactor := 0.0
		if testFailureRuleIDs[v.RuleID] {
			testFactor = 0.3
		}

		asyncFactor := 0.0
		if asyncBoundaryRules[v.RuleID] {
			asyncFactor = 0.2
		}

		totalFactor := 1.0 + blastFactor + stateMutation + testFactor + asyncFactor
		weightedScore := baseWeight * totalFactor

		contributions = append(contributions, ViolationContribution{
			RuleID:              v.RuleID,
			Severity:            string(v.Severity),
			File:                v.File,
			Line:                v.Line,
			BaseWeight:          baseWeight,
			BlastRadiusFactor:   round4(blastFactor),
			StateMutationFactor: round4(stateMutation),
			TestFailureFactor:   round4(testFactor),
			AsyncBoundaryFactor: round4(asyncFactor),
			TotalFactor:         round4(totalFactor),
			WeightedScore:       round4(weightedScore),
		})
		totalWeighted += weightedScore
	}

	maxPossible := float64(len(violations)) * ast.SeverityWeight[ast.SeverityCritical] * 2.0
	if maxPossible == 0 {
		maxPossible = 1
	}

	rawScore := (totalWeighted / maxPossible) * 100
	finalScore := int(math.Round(rawScore))
	if finalScore > 100 {
		finalScore = 100
	}
	if finalScore < 0 {
		finalScore = 0
	}

	var critical, high, medium, low int
	for _, v := range violations {
		switch v.Severity {
		case ast.SeverityCritical:
			critical++
		case ast.SeverityHigh:
			high++
		case ast.SeverityMedium:
			medium++
		case ast.SeverityLow:
			low++
		}
	}

	var parts []string
	if critical > 0 {
		parts = append(parts, fmt.Sprintf("%d critical", critical))
	}
	if high > 0 {
		parts = append(parts, fmt.Sprintf("%d high", high))
	}
	if medium > 0 {
		parts = append(parts, fmt.Sprintf("%d medium", medium))
	}
	if low > 0 {
		parts = append(parts, fmt.Sprintf("%d low", low))
	}

	summary := fmt.Sprintf(
		"Risk score %d/100 based on %d violations (%s). Weighted by blast radius, "+
			"state mutation impact, test failures, and async boundary crossings.",
		finalScore, len(violations), joinParts(parts),
	)

	logging.Risk("computed risk score %d/100 from %d violations (max possible %.2f)",
		finalScore, len(violations), maxPossible)

	return Breakdown{
		TotalScore:             finalScore,
		MaxPossibleScore:       round2(maxPossible),
		ViolationContributions: contributions,
		Formula:                formula,
		Summary:                summary,
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func joinParts(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
