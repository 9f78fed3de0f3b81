package rules

import (
	"fmt"
	"sort"
	"strings"

	"guardrail/internal/ast"
	"guardrail/internal/callgraph"
)

const SharedMutableStateRuleID = "shared_mutable_state"

// CheckSharedMutableState flags module-level mutable containers touched
// (read or written) by more than one function: implicit coupling that is
// unsafe under concurrent access.
func CheckSharedMutableState(mod *ast.ModuleAST, _ *callgraph.Graph) []Violation {
	var violations []Violation

	mutableLine := make(map[string]int)
	mutableType := make(map[string]ast.MutationType)
	for _, vm := range mod.VariableMutations {
		if vm.Scope == ast.ScopeModule && isMutableContainerType(vm.TargetType) {
			mutableLine[vm.Name] = vm.Line
			mutableType[vm.Name] = vm.TargetType
		}
	}
	if len(mutableLine) == 0 {
		return violations
	}

	accessors := make(map[string]map[string]bool)
	for _, fn := range mod.AllFunctions() {
		touched := make(map[string]bool)
		for _, n := range fn.ReadsGlobals {
			touched[n] = true
		}
		for _, n := range fn.WritesGlobals {
			touched[n] = true
		}
		for name := range touched {
			if _, ok := mutableLine[name]; !ok {
				continue
			}
			if accessors[name] == nil {
				accessors[name] = make(map[string]bool)
			}
			accessors[name][fn.QualifiedName] = true
		}
	}

	varNames := make([]string, 0, len(accessors))
	for name := range accessors {
		varNames = append(varNames, name)
	}
	sort.Strings(varNames)

	for _, varName := range varNames {
		funcSet := accessors[varName]
		if len(funcSet) <= 1 {
			continue
		}
		funcs := make([]string, 0, len(funcSet))
		for f := range funcSet {
			funcs = append(funcs, f)
		}
		sort.Strings(funcs)

		violations = append(violations, Violation{
			RuleID:   SharedMutableStateRuleID,
			Severity: SeverityHigh,
			File:     mod.FilePath,
			Line:     mutableLine[varName],
			Title:    fmt.Sprintf("Shared mutable state: '%s' accessed by %d functions", varName, len(funcs)),
			Description: fmt.Sprintf(
				"Module-level %s '%s' is accessed by multiple functions: %s. "+
					"This creates implicit coupling and is unsafe under concurrent access (threads, async, multiprocessing).",
				mutableType[varName], varName, strings.Join(funcs, ", "),
			),
			Evidence: []string{
				fmt.Sprintf("Variable: %s (type: %s)", varName, mutableType[varName]),
				fmt.Sprintf("Accessing functions: %s", strings.Join(funcs, ", ")),
				fmt.Sprintf("Count: %d accessors", len(funcs)),
				"No encapsulation or thread-safety mechanism detected",
			},
			AffectedFunction: funcs[0],
		})
	}

	return violations
}
