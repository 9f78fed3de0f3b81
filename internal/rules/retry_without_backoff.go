package rules

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"guardrail/internal/ast"
	"guardrail/internal/callgraph"
)

const RetryWithoutBackoffRuleID = "retry_without_backoff"

var networkCalls = map[string]bool{
	"requests.get": true, "requests.post": true, "requests.put": true,
	"requests.delete": true, "requests.patch": true, "requests.head": true,
	"requests.request": true,
	"httpx.get": true, "httpx.post": true, "httpx.put": true, "httpx.delete": true,
	"httpx.request": true, "httpx.AsyncClient": true,
	"aiohttp.ClientSession": true, "urllib.request.urlopen": true,
	"client.chat.completions.create": true, "openai.ChatCompletion.create": true,
}

var backoffIndicators = map[string]bool{
	"time.sleep": true, "asyncio.sleep": true, "sleep": true,
	"backoff": true, "tenacity": true, "retry": true, "exponential_backoff": true,
}

var loopNodeTypes = []string{"for_statement", "while_statement"}

// CheckRetryWithoutBackoff flags loops that make network calls with no
// sleep/backoff indicator anywhere in the loop body.
func CheckRetryWithoutBackoff(mod *ast.ModuleAST, _ *callgraph.Graph) []Violation {
	var violations []Violation

	for _, fn := range mod.AllFunctions() {
		root, src := parseBody(fn.BodySource)
		if root == nil {
			continue
		}

		for _, loopType := range loopNodeTypes {
			walkType(root, loopType, func(loop *sitter.Node) {
				hasNetworkCall := false
				hasBackoff := false
				networkCallName := ""

				walkCalls(loop, src, func(call *sitter.Node) {
					name := callName(call.ChildByFieldName("function"), src)
					if networkCalls[name] || containsAny(name, networkCalls) {
						hasNetworkCall = true
						networkCallName = name
					}
					if backoffIndicators[name] || containsAny(name, backoffIndicators) {
						hasBackoff = true
					}
				})

				if !hasNetworkCall || hasBackoff {
					return
				}

				violations = append(violations, Violation{
					RuleID:   RetryWithoutBackoffRuleID,
					Severity: SeverityHigh,
					File:     mod.FilePath,
					Line:     fn.Line + int(loop.StartPoint().Row),
					Title:    fmt.Sprintf("Retry loop without backoff calling '%s'", networkCallName),
					Description: fmt.Sprintf(
						"In function '%s', a loop makes network calls to '%s' without any sleep/backoff "+
							"logic. On failure, this will immediately retry at full speed, overwhelming the "+
							"target service and causing cascading failures.",
						fn.Name, networkCallName,
					),
					Evidence: []string{
						fmt.Sprintf("Function: %s", fn.QualifiedName),
						fmt.Sprintf("Loop type: %s", strings.TrimSuffix(loop.Type(), "_statement")),
						fmt.Sprintf("Network call: %s", networkCallName),
						"No time.sleep(), asyncio.sleep(), or backoff decorator detected",
					},
					AffectedFunction: fn.QualifiedName,
				})
			})
		}
	}

	return violations
}
