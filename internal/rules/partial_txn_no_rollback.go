package rules

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"guardrail/internal/ast"
	"guardrail/internal/callgraph"
)

const PartialTxnNoRollbackRuleID = "partial_txn_no_rollback"

var txnCallMarkers = []string{
	"cursor.execute", "cursor.executemany", "cursor.executescript",
	"session.add", "session.flush", "session.bulk_save_objects",
	"db.session.add", "db.session.flush",
	"connection.execute",
}

var commitCallMarkers = []string{"commit", "session.commit", "connection.commit", "db.session.commit"}
var rollbackCallMarkers = []string{"rollback", "session.rollback", "connection.rollback", "db.session.rollback"}

func matchesAny(name string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}

// CheckPartialTxnNoRollback flags functions that start a DB transaction but
// neither use a context manager nor catch failures with an explicit rollback.
func CheckPartialTxnNoRollback(mod *ast.ModuleAST, _ *callgraph.Graph) []Violation {
	var violations []Violation

	for _, fn := range mod.AllFunctions() {
		root, src := parseBody(fn.BodySource)
		if root == nil {
			continue
		}

		hasTxnCall := false
		var txnCallNames []string
		walkCalls(root, src, func(call *sitter.Node) {
			name := callName(call.ChildByFieldName("function"), src)
			if matchesAny(name, txnCallMarkers) {
				hasTxnCall = true
				txnCallNames = append(txnCallNames, name)
			}
		})
		if !hasTxnCall {
			continue
		}

		usesContextManager := false
		walkType(root, "with_statement", func(*sitter.Node) { usesContextManager = true })

		hasTryWithRollback := false
		walkType(root, "try_statement", func(tryNode *sitter.Node) {
			for i := 0; i < int(tryNode.NamedChildCount()); i++ {
				c := tryNode.NamedChild(i)
				if c.Type() != "except_clause" {
					continue
				}
				walkCalls(c, src, func(call *sitter.Node) {
					if matchesAny(callName(call.ChildByFieldName("function"), src), rollbackCallMarkers) {
						hasTryWithRollback = true
					}
				})
			}
		})

		hasCommit := false
		walkCalls(root, src, func(call *sitter.Node) {
			if matchesAny(callName(call.ChildByFieldName("function"), src), commitCallMarkers) {
				hasCommit = true
			}
		})

		if hasTryWithRollback || usesContextManager {
			continue
		}

		severity := SeverityCritical
		if hasCommit {
			severity = SeverityHigh
		}

		sample := txnCallNames
		if len(sample) > 3 {
			sample = sample[:3]
		}

		violations = append(violations, Violation{
			RuleID:   PartialTxnNoRollbackRuleID,
			Severity: severity,
			File:     mod.FilePath,
			Line:     fn.Line,
			EndLine:  fn.EndLine,
			Title:    fmt.Sprintf("Partial transaction without rollback in '%s'", fn.Name),
			Description: fmt.Sprintf(
				"Function '%s' executes DB operations (%s) without try/except + rollback handling or "+
					"a context manager. On failure, partial writes remain, corrupting data and "+
					"potentially leaking DB connections.",
				fn.Name, strings.Join(sample, ", "),
			),
			Evidence: []string{
				fmt.Sprintf("Function: %s", fn.QualifiedName),
				fmt.Sprintf("DB operations: %s", strings.Join(sample, ", ")),
				fmt.Sprintf("Has commit: %v", hasCommit),
				fmt.Sprintf("Has rollback: %v", hasTryWithRollback),
				"Fix: Wrap in try/except with rollback, or use a context manager",
			},
			AffectedFunction: fn.QualifiedName,
			Metadata:         map[string]interface{}{"failure_class": "data_corruption"},
		})
	}

	return violations
}
