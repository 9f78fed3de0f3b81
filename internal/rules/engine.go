package rules

import (
	"fmt"
	"sort"
	"time"

	"guardrail/internal/ast"
	"guardrail/internal/callgraph"
	"guardrail/internal/logging"
)

// CheckFn is a single rule's pure check function.
type CheckFn func(mod *ast.ModuleAST, graph *callgraph.Graph) []Violation

// Registry is the fixed catalog of every deterministic rule, keyed by ID.
var Registry = map[string]CheckFn{
	RaceConditionRuleID:            CheckRaceCondition,
	MissingAwaitRuleID:             CheckMissingAwait,
	UnsanitizedIORuleID:            CheckUnsanitizedIO,
	DangerousEvalRuleID:            CheckDangerousEval,
	SharedMutableStateRuleID:       CheckSharedMutableState,
	MissingExceptionBoundaryRuleID: CheckMissingExceptionBoundary,
	RetryWithoutBackoffRuleID:      CheckRetryWithoutBackoff,
	BlockingIOInAsyncRuleID:        CheckBlockingIOInAsync,
	DBConnPerRequestRuleID:         CheckDBConnPerRequest,
	MissingHTTPTimeoutRuleID:       CheckMissingHTTPTimeout,
	MissingIdempotencyRuleID:       CheckMissingIdempotency,
	PartialTxnNoRollbackRuleID:     CheckPartialTxnNoRollback,
	InfiniteLoopRuleID:             CheckInfiniteLoop,
}

// Engine runs a fixed set of rules against a set of modules. Rules are pure
// functions; a panicking or erroring rule degrades to a single low-severity
// violation rather than crashing the scan.
type Engine struct {
	rules map[string]CheckFn
}

// NewEngine constructs an Engine over the full registry, or a caller-supplied
// subset (used by tests that want to exercise one rule in isolation).
func NewEngine(rules map[string]CheckFn) *Engine {
	if rules == nil {
		rules = Registry
	}
	return &Engine{rules: rules}
}

// Run executes every registered rule against every module, in a deterministic
// rule-ID order so output ordering never depends on map iteration.
func (e *Engine) Run(modules map[string]*ast.ModuleAST, graph *callgraph.Graph) Result {
	start := time.Now()

	ruleIDs := make([]string, 0, len(e.rules))
	for id := range e.rules {
		ruleIDs = append(ruleIDs, id)
	}
	sort.Strings(ruleIDs)

	filePaths := make([]string, 0, len(modules))
	for path := range modules {
		filePaths = append(filePaths, path)
	}
	sort.Strings(filePaths)

	var allViolations []Violation
	for _, ruleID := range ruleIDs {
		checkFn := e.rules[ruleID]
		for _, filePath := range filePaths {
			allViolations = append(allViolations, e.runOne(ruleID, checkFn, filePath, modules[filePath], graph)...)
		}
	}

	elapsed := time.Since(start)
	logging.Rules("ran %d rules across %d files: %d violations in %v",
		len(ruleIDs), len(modules), len(allViolations), elapsed)

	return Result{
		Violations:        allViolations,
		RulesExecuted:     ruleIDs,
		TotalFilesScanned: len(modules),
		ScanDurationMs:    float64(elapsed.Microseconds()) / 1000.0,
	}
}

// runOne isolates one rule's execution against one file: a panic or an
// internal inconsistency becomes a low-severity violation, never a crash.
func (e *Engine) runOne(ruleID string, checkFn CheckFn, filePath string, mod *ast.ModuleAST, graph *callgraph.Graph) (result []Violation) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryRules).Warn("rule %s panicked on %s: %v", ruleID, filePath, r)
			result = []Violation{{
				RuleID:      ruleID,
				Severity:    SeverityLow,
				File:        filePath,
				Title:       fmt.Sprintf("Rule '%s' internal error", ruleID),
				Description: fmt.Sprintf("Rule execution failed: %v", r),
				Evidence:    []string{fmt.Sprintf("panic: %v", r)},
			}}
		}
	}()
	return checkFn(mod, graph)
}

// RunSingleRule runs one named rule against one module.
func (e *Engine) RunSingleRule(ruleID string, mod *ast.ModuleAST, graph *callgraph.Graph) ([]Violation, error) {
	checkFn, ok := e.rules[ruleID]
	if !ok {
		return nil, fmt.Errorf("unknown rule: %s", ruleID)
	}
	return e.runOne(ruleID, checkFn, mod.FilePath, mod, graph), nil
}
