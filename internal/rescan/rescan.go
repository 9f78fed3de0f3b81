// Package rescan re-runs the rule engine against a patch's result to verify
// the fix actually worked: the target rule must be gone, no new critical or
// high violation may appear, and the risk score must not have gone up.
package rescan

import (
	"fmt"
	"strings"

	"guardrail/internal/ast"
	"guardrail/internal/callgraph"
	"guardrail/internal/logging"
	"guardrail/internal/risk"
	"guardrail/internal/rules"
)

// Result is the pass/fail verdict for one patched file.
type Result struct {
	Passed                 bool
	TargetRuleEliminated   bool
	NewViolationsIntroduced []string
	RiskScoreBefore        int
	RiskScoreAfter         int
	RiskIncreased          bool
	Details                string
}

var highSeverity = map[ast.Severity]bool{
	ast.SeverityCritical: true,
	ast.SeverityHigh:      true,
}

// Rescan parses patchedSource, re-runs engine against it alone, and checks
// whether targetRuleID disappeared without introducing new critical/high
// violations or raising the risk score above originalRiskScore.
func Rescan(engine *rules.Engine, patchedSource, filePath, targetRuleID string, originalRiskScore int) Result {
	result := Result{RiskScoreBefore: originalRiskScore}

	parser := ast.NewPythonParser()
	mod := parser.Parse(filePath, []byte(patchedSource))
	if mod == nil {
		result.Details = fmt.Sprintf("failed to parse patched source for %s", filePath)
		logging.Get(logging.CategoryRescan).Warn(result.Details)
		return result
	}

	modules := map[string]*ast.ModuleAST{filePath: mod}
	graph := callgraph.Build(modules)
	ruleResult := engine.Run(modules, graph)

	var remainingTarget []rules.Violation
	var newCriticalHigh []rules.Violation
	for _, v := range ruleResult.Violations {
		if v.RuleID == targetRuleID {
			remainingTarget = append(remainingTarget, v)
			continue
		}
		if highSeverity[v.Severity] {
			newCriticalHigh = append(newCriticalHigh, v)
		}
	}

	result.TargetRuleEliminated = len(remainingTarget) == 0
	if !result.TargetRuleEliminated {
		result.Details = fmt.Sprintf(
			"target rule '%s' still present after patch (%d violation(s) remaining)",
			targetRuleID, len(remainingTarget),
		)
		logging.Get(logging.CategoryRescan).Warn(result.Details)
	}

	for _, v := range newCriticalHigh {
		result.NewViolationsIntroduced = append(result.NewViolationsIntroduced, fmt.Sprintf("%s: %s", v.RuleID, v.Title))
	}

	breakdown := risk.Compute(ruleResult, graph, nil)
	result.RiskScoreAfter = breakdown.TotalScore
	result.RiskIncreased = result.RiskScoreAfter > originalRiskScore

	result.Passed = result.TargetRuleEliminated &&
		len(result.NewViolationsIntroduced) == 0 &&
		!result.RiskIncreased

	if result.Passed {
		result.Details = fmt.Sprintf(
			"re-scan passed: rule '%s' eliminated, risk %d -> %d",
			targetRuleID, originalRiskScore, result.RiskScoreAfter,
		)
		logging.Rescan(result.Details)
		return result
	}

	if result.Details == "" {
		var parts []string
		if !result.TargetRuleEliminated {
			parts = append(parts, "target rule not eliminated")
		}
		if len(result.NewViolationsIntroduced) > 0 {
			parts = append(parts, fmt.Sprintf("%d new critical/high violations", len(result.NewViolationsIntroduced)))
		}
		if result.RiskIncreased {
			parts = append(parts, fmt.Sprintf("risk increased %d -> %d", originalRiskScore, result.RiskScoreAfter))
		}
		result.Details = fmt.Sprintf("re-scan failed: %s", strings.Join(parts, "; "))
		logging.Get(logging.CategoryRescan).Warn(result.Details)
	}

	return result
}
