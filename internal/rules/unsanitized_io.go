package rules

import (
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"guardrail/internal/ast"
	"guardrail/internal/callgraph"
)

const UnsanitizedIORuleID = "unsanitized_io"

var dangerousIOCalls = map[string]Severity{
	"open":             SeverityHigh,
	"os.open":          SeverityHigh,
	"os.remove":        SeverityCritical,
	"os.unlink":        SeverityCritical,
	"os.rmdir":         SeverityCritical,
	"os.makedirs":      SeverityMedium,
	"shutil.rmtree":    SeverityCritical,
	"shutil.copy":      SeverityHigh,
	"shutil.move":      SeverityHigh,
	"subprocess.run":   SeverityCritical,
	"subprocess.call":  SeverityCritical,
	"subprocess.Popen": SeverityCritical,
	"os.system":        SeverityCritical,
}

// CheckUnsanitizedIO flags dangerous file/process I/O calls whose arguments
// trace back directly to an unvalidated function parameter.
func CheckUnsanitizedIO(mod *ast.ModuleAST, _ *callgraph.Graph) []Violation {
	var violations []Violation

	for _, fn := range mod.AllFunctions() {
		paramNames := make(map[string]bool)
		for _, p := range fn.Parameters {
			if p.Name != "self" {
				paramNames[p.Name] = true
			}
		}
		if len(paramNames) == 0 {
			continue
		}

		root, src := parseBody(fn.BodySource)
		if root == nil {
			continue
		}

		walkCalls(root, src, func(call *sitter.Node) {
			name := callName(call.ChildByFieldName("function"), src)
			severity, dangerous := dangerousIOCalls[name]
			if !dangerous {
				return
			}

			args := callArgs(call)
			tainted := make(map[string]bool)
			if args != nil {
				for i := 0; i < int(args.NamedChildCount()); i++ {
					arg := args.NamedChild(i)
					target := arg
					if arg.Type() == "keyword_argument" {
						target = arg.ChildByFieldName("value")
					}
					var idents []string
					findIdentifiers(target, src, &idents)
					for _, id := range idents {
						if paramNames[id] {
							tainted[id] = true
						}
					}
				}
			}
			if len(tainted) == 0 {
				return
			}

			names := make([]string, 0, len(tainted))
			for n := range tainted {
				names = append(names, n)
			}
			sort.Strings(names)
			joined := strings.Join(names, ", ")

			violations = append(violations, Violation{
				RuleID:   UnsanitizedIORuleID,
				Severity: severity,
				File:     mod.FilePath,
				Line:     fn.Line + int(call.StartPoint().Row),
				Title:    fmt.Sprintf("Unsanitized input in '%s()' call", name),
				Description: fmt.Sprintf(
					"In function '%s', parameter(s) %s flow directly into '%s()' without sanitization. "+
						"This enables path traversal, command injection, or arbitrary file operations.",
					fn.Name, joined, name,
				),
				Evidence: []string{
					fmt.Sprintf("Function: %s", fn.QualifiedName),
					fmt.Sprintf("Dangerous call: %s()", name),
					fmt.Sprintf("Tainted parameters: %s", joined),
					"No input validation or sanitization detected",
				},
				AffectedFunction: fn.QualifiedName,
			})
		})
	}

	return violations
}
