package rules

import (
	"fmt"
	"sort"
	"strings"

	"guardrail/internal/ast"
	"guardrail/internal/callgraph"
)

const RaceConditionRuleID = "race_condition"

// isMutableContainerType reports whether a syntactically inferred mutation
// target type is a mutable container kind shared module state cares about.
func isMutableContainerType(t ast.MutationType) bool {
	return t == ast.MutationList || t == ast.MutationDict || t == ast.MutationSet
}

// CheckRaceCondition flags module-level mutable containers written by more
// than one async function: without synchronization, concurrent execution of
// those writers corrupts the shared state.
func CheckRaceCondition(mod *ast.ModuleAST, _ *callgraph.Graph) []Violation {
	var violations []Violation

	mutableVars := make(map[string]ast.MutationType)
	for _, vm := range mod.VariableMutations {
		if vm.Scope == ast.ScopeModule && isMutableContainerType(vm.TargetType) {
			mutableVars[vm.Name] = vm.TargetType
		}
	}
	if len(mutableVars) == 0 {
		return violations
	}

	writers := make(map[string][]string)
	for _, fn := range mod.AllFunctions() {
		if !fn.IsAsync {
			continue
		}
		for _, name := range fn.WritesGlobals {
			if _, ok := mutableVars[name]; ok {
				writers[name] = append(writers[name], fn.QualifiedName)
			}
		}
	}

	varNames := make([]string, 0, len(writers))
	for name := range writers {
		varNames = append(varNames, name)
	}
	sort.Strings(varNames)

	for _, varName := range varNames {
		funcNames := writers[varName]
		if len(funcNames) <= 1 {
			continue
		}
		line := 0
		for _, vm := range mod.VariableMutations {
			if vm.Name == varName {
				line = vm.Line
				break
			}
		}
		violations = append(violations, Violation{
			RuleID:   RaceConditionRuleID,
			Severity: SeverityCritical,
			File:     mod.FilePath,
			Line:     line,
			Title:    fmt.Sprintf("Race condition: '%s' written by multiple async functions", varName),
			Description: fmt.Sprintf(
				"Module-level mutable '%s' (%s) is written by %d async functions: %s. "+
					"Without synchronization (locks/queues), concurrent execution will cause data corruption.",
				varName, mutableVars[varName], len(funcNames), strings.Join(funcNames, ", "),
			),
			Evidence: []string{
				fmt.Sprintf("Shared mutable variable: %s (type: %s)", varName, mutableVars[varName]),
				fmt.Sprintf("Async writers: %s", strings.Join(funcNames, ", ")),
				"No synchronization primitive detected",
			},
			AffectedFunction: funcNames[0],
		})
	}

	return violations
}
