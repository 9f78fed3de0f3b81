package rules

import (
	"fmt"
	"strings"

	"guardrail/internal/ast"
	"guardrail/internal/callgraph"
)

const MissingExceptionBoundaryRuleID = "missing_exception_boundary"

var entryBoundaryDecorators = map[string]bool{
	"app.route": true, "app.get": true, "app.post": true, "app.put": true,
	"app.delete": true, "app.patch": true,
	"router.get": true, "router.post": true, "router.put": true,
	"router.delete": true, "router.patch": true,
	"route": true, "get": true, "post": true, "put": true, "delete": true, "patch": true,
}

var asyncHandlerNamePrefixes = []string{"handle_", "on_", "process_", "endpoint_"}

// CheckMissingExceptionBoundary flags entry points (decorated handlers,
// main, or async functions named like a handler) lacking a try/except.
func CheckMissingExceptionBoundary(mod *ast.ModuleAST, _ *callgraph.Graph) []Violation {
	var violations []Violation

	for _, fn := range mod.AllFunctions() {
		isEntry := fn.Name == "main" || fn.Name == "__main__"
		if !isEntry {
			for _, d := range fn.Decorators {
				if entryBoundaryDecorators[strings.ToLower(d)] {
					isEntry = true
					break
				}
			}
		}
		if !isEntry && fn.IsAsync {
			for _, prefix := range asyncHandlerNamePrefixes {
				if strings.HasPrefix(fn.Name, prefix) {
					isEntry = true
					break
				}
			}
		}
		if !isEntry || fn.HasTryExcept {
			continue
		}

		decoratorList := "none"
		if len(fn.Decorators) > 0 {
			decoratorList = strings.Join(fn.Decorators, ", ")
		}

		violations = append(violations, Violation{
			RuleID:   MissingExceptionBoundaryRuleID,
			Severity: SeverityHigh,
			File:     mod.FilePath,
			Line:     fn.Line,
			Title:    fmt.Sprintf("Missing exception boundary in entry point '%s'", fn.Name),
			Description: fmt.Sprintf(
				"Entry point '%s' has no try/except block. Unhandled exceptions will propagate to the "+
					"framework, potentially returning 500 errors with stack traces (information leakage) "+
					"or crashing background workers.",
				fn.Name,
			),
			Evidence: []string{
				fmt.Sprintf("Function: %s", fn.QualifiedName),
				fmt.Sprintf("Decorators: %s", decoratorList),
				fmt.Sprintf("Async: %v", fn.IsAsync),
				"No try/except block found in function body",
			},
			AffectedFunction: fn.QualifiedName,
		})
	}

	return violations
}
