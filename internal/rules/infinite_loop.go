package rules

import (
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"guardrail/internal/ast"
	"guardrail/internal/callgraph"
)

const InfiniteLoopRuleID = "infinite_loop"

var infiniteIterators = map[string]bool{"count": true, "repeat": true}

// isInfiniteIteratorCall reports whether a node is a call to a known
// infinite iterator: itertools.count/repeat, a bare import of either, or the
// iter(callable, sentinel) two-argument form.
func isInfiniteIteratorCall(node *sitter.Node, src []byte) bool {
	if node == nil || node.Type() != "call" {
		return false
	}
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return false
	}
	text := callName(fn, src)

	if fn.Type() == "attribute" {
		obj := nodeText(fn.ChildByFieldName("object"), src)
		attr := nodeText(fn.ChildByFieldName("attribute"), src)
		if obj == "itertools" && infiniteIterators[attr] {
			return true
		}
	}
	if infiniteIterators[text] {
		return true
	}
	if text == "iter" {
		args := callArgs(node)
		if args != nil && int(args.NamedChildCount()) == 2 {
			return true
		}
	}
	return false
}

// CheckInfiniteLoop flags `while True` loops with no break/return/raise in
// the body, and `for` loops over a known infinite iterator with no exit.
func CheckInfiniteLoop(mod *ast.ModuleAST, _ *callgraph.Graph) []Violation {
	var violations []Violation

	for _, fn := range mod.AllFunctions() {
		root, src := parseBody(fn.BodySource)
		if root == nil {
			continue
		}

		walkType(root, "while_statement", func(node *sitter.Node) {
			condition := node.ChildByFieldName("condition")
			body := node.ChildByFieldName("body")
			if condition == nil || !isTrueLiteral(condition, src) {
				return
			}
			if body == nil || hasExitStatement(body) {
				return
			}
			violations = append(violations, Violation{
				RuleID:   InfiniteLoopRuleID,
				Severity: SeverityMedium,
				File:     mod.FilePath,
				Line:     fn.Line + int(node.StartPoint().Row),
				EndLine:  fn.Line + int(node.EndPoint().Row),
				Title:    fmt.Sprintf("`while True` loop without exit in '%s'", fn.Name),
				Description: fmt.Sprintf(
					"In function '%s', a `while True` loop has no break/return/raise in its body. "+
						"It will run indefinitely and exhaust CPU.",
					fn.Name,
				),
				Evidence: []string{
					fmt.Sprintf("Function: %s", fn.QualifiedName),
					"`while True` loop without break/return/raise — will run indefinitely and exhaust CPU",
				},
				AffectedFunction: fn.QualifiedName,
			})
		})

		walkType(root, "for_statement", func(node *sitter.Node) {
			iterNode := node.ChildByFieldName("right")
			body := node.ChildByFieldName("body")
			if iterNode == nil || !isInfiniteIteratorCall(iterNode, src) {
				return
			}
			if body == nil || hasExitStatement(body) {
				return
			}
			violations = append(violations, Violation{
				RuleID:   InfiniteLoopRuleID,
				Severity: SeverityMedium,
				File:     mod.FilePath,
				Line:     fn.Line + int(node.StartPoint().Row),
				EndLine:  fn.Line + int(node.EndPoint().Row),
				Title:    fmt.Sprintf("`for` loop over infinite iterator in '%s'", fn.Name),
				Description: fmt.Sprintf(
					"In function '%s', a `for` loop iterates over infinite iterator `%s` with no "+
						"break — it will never terminate.",
					fn.Name, nodeText(iterNode, src),
				),
				Evidence: []string{
					fmt.Sprintf("Function: %s", fn.QualifiedName),
					fmt.Sprintf("`for` loop over infinite iterator `%s` without break — will never terminate",
						nodeText(iterNode, src)),
				},
				AffectedFunction: fn.QualifiedName,
			})
		})
	}

	return violations
}
