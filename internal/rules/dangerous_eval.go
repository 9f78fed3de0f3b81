package rules

import (
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"guardrail/internal/ast"
	"guardrail/internal/callgraph"
)

const DangerousEvalRuleID = "dangerous_eval"

var dangerousEvalFunctions = map[string]bool{
	"eval": true, "exec": true, "compile": true, "__import__": true,
}

// CheckDangerousEval flags eval/exec/compile/__import__ calls whose arguments
// are not all string literals: a non-literal argument lets an attacker who
// controls the input run arbitrary code in the process.
func CheckDangerousEval(mod *ast.ModuleAST, _ *callgraph.Graph) []Violation {
	var violations []Violation

	for _, fn := range mod.AllFunctions() {
		root, src := parseBody(fn.BodySource)
		if root == nil {
			continue
		}

		walkCalls(root, src, func(call *sitter.Node) {
			name := callName(call.ChildByFieldName("function"), src)
			if !dangerousEvalFunctions[name] {
				return
			}

			args := callArgs(call)
			posArgs := positionalArgs(args)
			allLiteral := len(posArgs) > 0
			for _, a := range posArgs {
				if a.Type() != "string" {
					allLiteral = false
					break
				}
			}

			if allLiteral {
				return
			}

			argDesc := "no args"
			if len(posArgs) > 0 {
				argDesc = "dynamic expression"
			}

			violations = append(violations, Violation{
				RuleID:   DangerousEvalRuleID,
				Severity: SeverityCritical,
				File:     mod.FilePath,
				Line:     fn.Line + int(call.StartPoint().Row),
				Title:    fmt.Sprintf("Dangerous '%s()' with non-literal argument", name),
				Description: fmt.Sprintf(
					"In function '%s', '%s()' is called with a dynamic (non-literal) argument. "+
						"This enables arbitrary code execution. An attacker controlling the input "+
						"can execute any code in the process.",
					fn.Name, name,
				),
				Evidence: []string{
					fmt.Sprintf("Function: %s", fn.QualifiedName),
					fmt.Sprintf("Dangerous call: %s()", name),
					fmt.Sprintf("Argument type: %s", argDesc),
					"Non-literal arguments allow arbitrary code execution",
				},
				AffectedFunction: fn.QualifiedName,
			})
		})
	}

	return violations
}
