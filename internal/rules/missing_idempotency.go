package rules

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"guardrail/internal/ast"
	"guardrail/internal/callgraph"
)

const MissingIdempotencyRuleID = "missing_idempotency"

var mutatingDecorators = map[string]bool{
	"app.post": true, "app.put": true, "app.patch": true,
	"router.post": true, "router.put": true, "router.patch": true,
	"post": true, "put": true, "patch": true,
	"blueprint.route": true,
}

var writeCallMarkers = []string{
	"cursor.execute", "session.add", "session.commit", "session.flush",
	"db.session.add", "db.session.commit",
	"collection.insert_one", "collection.insert_many",
	"collection.update_one", "collection.update_many", "collection.replace_one",
	".save", ".create", ".bulk_create",
	"requests.post", "requests.put", "requests.patch",
	"httpx.post", "httpx.put", "httpx.patch",
}

var idempotencyPatterns = []string{
	"idempotency_key", "idempotent", "if_not_exists",
	"get_or_create", "ON CONFLICT", "INSERT OR IGNORE",
	"upsert", "REPLACE INTO", "on_duplicate_key",
}

func isMutatingHandler(decorators []string) bool {
	for _, d := range decorators {
		lower := strings.Trim(strings.ToLower(d), "@")
		for m := range mutatingDecorators {
			if strings.Contains(lower, m) {
				return true
			}
		}
	}
	return false
}

func isMutatingHandlerByCalls(calls []string) bool {
	for _, c := range calls {
		lower := strings.ToLower(c)
		for m := range mutatingDecorators {
			if strings.Contains(lower, m) {
				return true
			}
		}
	}
	return false
}

func containsWriteCall(name string) bool {
	for _, w := range writeCallMarkers {
		if strings.Contains(name, w) {
			return true
		}
	}
	return false
}

// CheckMissingIdempotency flags mutating (POST/PUT/PATCH) handlers that
// perform writes without any idempotency guard: retries on timeout will
// duplicate records or double-charge.
func CheckMissingIdempotency(mod *ast.ModuleAST, _ *callgraph.Graph) []Violation {
	var violations []Violation

	var mutatingFuncs []*ast.FunctionDef
	for i := range mod.Functions {
		fn := &mod.Functions[i]
		if isMutatingHandler(fn.Decorators) || isMutatingHandlerByCalls(fn.Calls) {
			mutatingFuncs = append(mutatingFuncs, fn)
		}
	}
	for ci := range mod.Classes {
		for mi := range mod.Classes[ci].Methods {
			m := &mod.Classes[ci].Methods[mi]
			if isMutatingHandler(m.Decorators) || isMutatingHandlerByCalls(m.Calls) {
				mutatingFuncs = append(mutatingFuncs, m)
			}
		}
	}

	for _, fn := range mutatingFuncs {
		body := strings.TrimSpace(fn.BodySource)
		if body == "" {
			continue
		}

		hasWrite := false
		for _, c := range fn.Calls {
			if containsWriteCall(c) {
				hasWrite = true
				break
			}
		}
		if !hasWrite {
			root, src := parseBody(fn.BodySource)
			if root != nil {
				walkCalls(root, src, func(call *sitter.Node) {
					if containsWriteCall(callName(call.ChildByFieldName("function"), src)) {
						hasWrite = true
					}
				})
			}
		}
		if !hasWrite {
			continue
		}

		bodyLower := strings.ToLower(body)
		hasIdempotency := false
		for _, pattern := range idempotencyPatterns {
			if strings.Contains(bodyLower, strings.ToLower(pattern)) {
				hasIdempotency = true
				break
			}
		}
		if hasIdempotency {
			continue
		}

		violations = append(violations, Violation{
			RuleID:   MissingIdempotencyRuleID,
			Severity: SeverityHigh,
			File:     mod.FilePath,
			Line:     fn.Line,
			EndLine:  fn.EndLine,
			Title:    fmt.Sprintf("Missing idempotency guard in mutating handler '%s'", fn.Name),
			Description: fmt.Sprintf(
				"Handler '%s' performs write operations (DB inserts, API calls) without an idempotency "+
					"key or duplicate guard. Client retries on network failures will cause duplicate "+
					"records, double-charges, or data corruption.",
				fn.Name,
			),
			Evidence: []string{
				fmt.Sprintf("Handler: %s", fn.QualifiedName),
				"Performs write operations without idempotency guard",
				"Risk: duplicate records on client retry",
				"Fix: Accept an idempotency key and check before executing write",
			},
			AffectedFunction: fn.QualifiedName,
			Metadata:         map[string]interface{}{"failure_class": "data_corruption"},
		})
	}

	return violations
}
