package rules

import (
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"guardrail/internal/ast"
	"guardrail/internal/callgraph"
)

const BlockingIOInAsyncRuleID = "blocking_io_in_async"

var blockingCalls = map[string]string{
	"time.sleep":              "Use asyncio.sleep() instead",
	"requests.get":            "Use httpx.AsyncClient or aiohttp instead",
	"requests.post":           "Use httpx.AsyncClient or aiohttp instead",
	"requests.put":            "Use httpx.AsyncClient or aiohttp instead",
	"requests.delete":         "Use httpx.AsyncClient or aiohttp instead",
	"requests.patch":          "Use httpx.AsyncClient or aiohttp instead",
	"requests.head":           "Use httpx.AsyncClient or aiohttp instead",
	"requests.request":        "Use httpx.AsyncClient or aiohttp instead",
	"urllib.request.urlopen":  "Use httpx.AsyncClient or aiohttp instead",
	"open":                    "Use aiofiles.open() instead",
	"input":                   "Use aioconsole.ainput() instead",
	"os.system":               "Use asyncio.create_subprocess_shell() instead",
	"subprocess.run":          "Use asyncio.create_subprocess_exec() instead",
	"subprocess.call":         "Use asyncio.create_subprocess_exec() instead",
	"subprocess.check_output": "Use asyncio.create_subprocess_exec() instead",
}

// CheckBlockingIOInAsync flags synchronous blocking calls inside async
// functions: they stall the event loop for every concurrent coroutine.
func CheckBlockingIOInAsync(mod *ast.ModuleAST, _ *callgraph.Graph) []Violation {
	var violations []Violation

	for _, fn := range mod.AllFunctions() {
		if !fn.IsAsync {
			continue
		}
		root, src := parseBody(fn.BodySource)
		if root == nil {
			continue
		}

		walkCalls(root, src, func(call *sitter.Node) {
			name := callName(call.ChildByFieldName("function"), src)
			fix, blocking := blockingCalls[name]
			if !blocking {
				return
			}

			violations = append(violations, Violation{
				RuleID:   BlockingIOInAsyncRuleID,
				Severity: SeverityHigh,
				File:     mod.FilePath,
				Line:     fn.Line + int(call.StartPoint().Row),
				Title:    fmt.Sprintf("Blocking '%s()' inside async function '%s'", name, fn.Name),
				Description: fmt.Sprintf(
					"'%s()' is a synchronous blocking call used inside async function '%s'. This blocks "+
						"the entire event loop, stalling all concurrent coroutines. Fix: %s",
					name, fn.Name, fix,
				),
				Evidence: []string{
					fmt.Sprintf("Async function: %s", fn.QualifiedName),
					fmt.Sprintf("Blocking call: %s()", name),
					fmt.Sprintf("Fix: %s", fix),
					"Blocks event loop for all concurrent tasks",
				},
				AffectedFunction: fn.QualifiedName,
			})
		})
	}

	return violations
}
