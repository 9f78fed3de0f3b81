package rules

import (
	"fmt"
	"strings"

	"guardrail/internal/ast"
	"guardrail/internal/callgraph"
)

const MissingAwaitRuleID = "missing_await"

// CheckMissingAwait flags calls to a known async function made without
// await: the coroutine object is created but never scheduled, silently
// dropping the operation.
func CheckMissingAwait(mod *ast.ModuleAST, graph *callgraph.Graph) []Violation {
	var violations []Violation

	asyncFuncNames := make(map[string]bool)
	for _, fn := range mod.Functions {
		if fn.IsAsync {
			asyncFuncNames[fn.Name] = true
		}
	}
	for _, cls := range mod.Classes {
		for _, m := range cls.Methods {
			if m.IsAsync {
				asyncFuncNames[m.Name] = true
				asyncFuncNames[cls.Name+"."+m.Name] = true
			}
		}
	}
	if len(asyncFuncNames) == 0 {
		return violations
	}

	if graph != nil {
		for _, node := range graph.Nodes {
			if node.IsAsync {
				asyncFuncNames[node.Function] = true
			}
		}
	}

	for _, fn := range mod.AllFunctions() {
		awaited := make(map[string]bool, len(fn.Awaits))
		for _, a := range fn.Awaits {
			awaited[a] = true
		}

		for _, callNameStr := range fn.Calls {
			baseName := callNameStr
			if idx := strings.LastIndex(callNameStr, "."); idx >= 0 {
				baseName = callNameStr[idx+1:]
			}
			if !asyncFuncNames[baseName] && !asyncFuncNames[callNameStr] {
				continue
			}
			if awaited[callNameStr] || awaited[baseName] {
				continue
			}

			severity := SeverityCritical
			if fn.IsAsync {
				severity = SeverityHigh
			}

			awaitedList := "none"
			if len(fn.Awaits) > 0 {
				awaitedList = strings.Join(fn.Awaits, ", ")
			}

			violations = append(violations, Violation{
				RuleID:   MissingAwaitRuleID,
				Severity: severity,
				File:     mod.FilePath,
				Line:     fn.Line,
				Title:    fmt.Sprintf("Async function '%s' called without await", callNameStr),
				Description: fmt.Sprintf(
					"In function '%s', async function '%s' is called without 'await'. "+
						"The coroutine will be created but never executed, silently dropping the operation.",
					fn.Name, callNameStr,
				),
				Evidence: []string{
					fmt.Sprintf("Caller: %s (async=%v)", fn.QualifiedName, fn.IsAsync),
					fmt.Sprintf("Callee: %s (async=true)", callNameStr),
					"No 'await' keyword found for this call",
					fmt.Sprintf("Awaited calls in this function: %s", awaitedList),
				},
				AffectedFunction: fn.QualifiedName,
			})
		}
	}

	return violations
}
