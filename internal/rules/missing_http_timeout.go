package rules

import (
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"guardrail/internal/ast"
	"guardrail/internal/callgraph"
)

const MissingHTTPTimeoutRuleID = "missing_http_timeout"

var httpCalls = map[string]bool{
	"requests.get": true, "requests.post": true, "requests.put": true,
	"requests.delete": true, "requests.patch": true, "requests.head": true, "requests.request": true,
	"httpx.get": true, "httpx.post": true, "httpx.put": true, "httpx.delete": true,
	"httpx.patch": true, "httpx.head": true, "httpx.request": true,
	"urllib.request.urlopen":        true,
	"aiohttp.ClientSession.get":     true,
	"aiohttp.ClientSession.post":    true,
}

// CheckMissingHTTPTimeout flags HTTP client calls without a timeout keyword
// argument: the call can hang indefinitely, exhausting threads/coroutines.
func CheckMissingHTTPTimeout(mod *ast.ModuleAST, _ *callgraph.Graph) []Violation {
	var violations []Violation

	for _, fn := range mod.AllFunctions() {
		root, src := parseBody(fn.BodySource)
		if root == nil {
			continue
		}

		walkCalls(root, src, func(call *sitter.Node) {
			name := callName(call.ChildByFieldName("function"), src)
			if !httpCalls[name] {
				return
			}

			hasTimeout := false
			for _, kw := range keywordArgNames(callArgs(call), src) {
				if kw == "timeout" {
					hasTimeout = true
					break
				}
			}
			if hasTimeout {
				return
			}

			violations = append(violations, Violation{
				RuleID:   MissingHTTPTimeoutRuleID,
				Severity: SeverityHigh,
				File:     mod.FilePath,
				Line:     fn.Line + int(call.StartPoint().Row),
				Title:    fmt.Sprintf("Missing timeout in '%s()' inside '%s'", name, fn.Name),
				Description: fmt.Sprintf(
					"'%s()' in function '%s' has no timeout parameter. Without a timeout, the call "+
						"will hang indefinitely if the remote server doesn't respond, blocking the "+
						"thread/coroutine and eventually exhausting process resources.",
					name, fn.Name,
				),
				Evidence: []string{
					fmt.Sprintf("Function: %s", fn.QualifiedName),
					fmt.Sprintf("HTTP call: %s()", name),
					"No timeout= parameter specified",
					"Fix: Add timeout=10 (or appropriate value) to the call",
				},
				AffectedFunction: fn.QualifiedName,
				Metadata:         map[string]interface{}{"failure_class": "resource_exhaustion"},
			})
		})
	}

	return violations
}
