// Package validator performs the 7 deterministic structural checks every
// generated patch must pass before it is ever applied to a file.
package validator

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"guardrail/internal/logging"
)

// Verdict is the outcome of validating one patch.
type Verdict struct {
	Valid  bool
	Errors []string
}

func (v *Verdict) addError(format string, args ...interface{}) {
	v.Valid = false
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// forbiddenImports must never appear in a patch, regardless of context.
var forbiddenImports = []string{
	"os.system", "subprocess", "eval", "exec", "compile",
	"__import__", "importlib", "ctypes", "pickle",
}

// blockingCalls are synchronous calls that must never appear in an async
// function after patching.
var blockingCalls = map[string]bool{
	"time.sleep": true, "requests.get": true, "requests.post": true,
	"requests.put": true, "requests.delete": true, "requests.patch": true,
	"requests.head": true, "open": true, "input": true, "os.system": true,
	"subprocess.run": true, "subprocess.call": true, "subprocess.check_output": true,
}

var routeKeywords = map[string]bool{
	"route": true, "get": true, "post": true, "put": true,
	"delete": true, "patch": true, "head": true,
}

var parser = newParser()

func newParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())
	return p
}

func parseSource(source string) *sitter.Node {
	tree, err := parser.ParseCtx(context.Background(), nil, []byte(source))
	if err != nil {
		return nil
	}
	root := tree.RootNode()
	if root == nil || root.HasError() {
		return root // caller checks HasError explicitly where it matters
	}
	return root
}

// ValidatePatch runs all 7 structural checks. originalSource and
// patchedSource are full-file contents; targetFunction is the function the
// patch was meant to modify.
func ValidatePatch(originalSource, patchedSource, targetFunction string, isAsync bool, originalDecorators []string) Verdict {
	verdict := Verdict{Valid: true}

	// Check 1: patched code parses.
	patchedSrc := []byte(patchedSource)
	patchedTree, err := parser.ParseCtx(context.Background(), nil, patchedSrc)
	if err != nil {
		verdict.addError("patched code has syntax error: %v", err)
		return verdict
	}
	patchedRoot := patchedTree.RootNode()
	if patchedRoot.HasError() {
		verdict.addError("patched code has syntax error")
		return verdict
	}

	originalSrc := []byte(originalSource)
	originalTree, err := parser.ParseCtx(context.Background(), nil, originalSrc)
	if err != nil || originalTree.RootNode().HasError() {
		// Original source unparsable: nothing to compare against.
		return verdict
	}
	originalRoot := originalTree.RootNode()

	// Check 2: function name survives.
	originalFuncs := functionNames(originalRoot, originalSrc)
	patchedFuncs := functionNames(patchedRoot, patchedSrc)
	if originalFuncs[targetFunction] && !patchedFuncs[targetFunction] {
		verdict.addError("function '%s' was renamed or removed in patch", targetFunction)
	}

	// Check 3: route decorator survives.
	if len(originalDecorators) > 0 {
		patchedFunc := findFunction(patchedRoot, patchedSrc, targetFunction)
		if patchedFunc != nil {
			patchedDecs := decoratorNames(patchedFunc, patchedSrc)
			patchedDecSet := make(map[string]bool, len(patchedDecs))
			for _, d := range patchedDecs {
				patchedDecSet[d] = true
			}
			for _, origDec := range originalDecorators {
				if isRouteDecorator(origDec) && !patchedDecSet[origDec] {
					verdict.addError("route decorator '%s' was modified or removed", origDec)
				}
			}
		}
	}

	// Check 4: no new global statements.
	originalGlobals := countNodeType(originalRoot, "global_statement")
	patchedGlobals := countNodeType(patchedRoot, "global_statement")
	if patchedGlobals > originalGlobals {
		verdict.addError("patch introduces %d new global statement(s)", patchedGlobals-originalGlobals)
	}

	// Check 5: no forbidden imports added.
	originalImports := importNames(originalRoot, originalSrc)
	patchedImports := importNames(patchedRoot, patchedSrc)
	for imp := range patchedImports {
		if originalImports[imp] {
			continue
		}
		for _, forbidden := range forbiddenImports {
			if strings.Contains(imp, forbidden) {
				verdict.addError("patch adds forbidden import: '%s'", imp)
			}
		}
	}

	// Check 6: no new blocking calls in async context.
	if isAsync {
		patchedFunc := findFunction(patchedRoot, patchedSrc, targetFunction)
		if patchedFunc != nil {
			var blocking []string
			walkCalls(patchedFunc, patchedSrc, func(name string) {
				if blockingCalls[name] {
					blocking = append(blocking, name)
				}
			})
			if len(blocking) > 0 {
				verdict.addError("patch introduces blocking calls in async function: %s", strings.Join(blocking, ", "))
			}
		}
	}

	// Check 7: no deletion of return statements or exception handlers.
	originalFunc := findFunction(originalRoot, originalSrc, targetFunction)
	patchedFunc := findFunction(patchedRoot, patchedSrc, targetFunction)
	if originalFunc != nil && patchedFunc != nil {
		origReturns := countNodeType(originalFunc, "return_statement")
		patchedReturns := countNodeType(patchedFunc, "return_statement")
		if patchedReturns < origReturns {
			verdict.addError("patch removes %d return statement(s)", origReturns-patchedReturns)
		}

		origHandlers := countNodeType(originalFunc, "except_clause")
		patchedHandlers := countNodeType(patchedFunc, "except_clause")
		if patchedHandlers < origHandlers {
			verdict.addError("patch removes %d exception handler(s)", origHandlers-patchedHandlers)
		}
	}

	if verdict.Valid {
		logging.Validator("AST validation passed for function '%s'", targetFunction)
	} else {
		logging.Get(logging.CategoryValidator).Warn("AST validation failed for '%s': %v", targetFunction, verdict.Errors)
	}

	return verdict
}

func isFunctionNode(t string) bool {
	return t == "function_definition"
}

func functionNames(root *sitter.Node, src []byte) map[string]bool {
	names := make(map[string]bool)
	walk(root, func(n *sitter.Node) {
		if isFunctionNode(n.Type()) {
			if name := n.ChildByFieldName("name"); name != nil {
				names[nodeText(name, src)] = true
			}
		}
	})
	return names
}

func findFunction(root *sitter.Node, src []byte, name string) *sitter.Node {
	var found *sitter.Node
	walk(root, func(n *sitter.Node) {
		if found != nil || !isFunctionNode(n.Type()) {
			return
		}
		if nameNode := n.ChildByFieldName("name"); nameNode != nil && nodeText(nameNode, src) == name {
			found = n
		}
	})
	return found
}

func decoratorNames(funcNode *sitter.Node, src []byte) []string {
	parent := funcNode.Parent()
	var decoratedNode *sitter.Node
	if parent != nil && parent.Type() == "decorated_definition" {
		decoratedNode = parent
	}
	if decoratedNode == nil {
		return nil
	}
	var decs []string
	for i := 0; i < int(decoratedNode.NamedChildCount()); i++ {
		c := decoratedNode.NamedChild(i)
		if c.Type() != "decorator" {
			continue
		}
		text := strings.TrimSpace(nodeText(c, src))
		text = strings.TrimPrefix(text, "@")
		if idx := strings.Index(text, "("); idx >= 0 {
			text = text[:idx]
		}
		decs = append(decs, strings.TrimSpace(text))
	}
	return decs
}

func isRouteDecorator(name string) bool {
	lower := strings.ToLower(name)
	for _, part := range strings.Split(lower, ".") {
		if routeKeywords[part] {
			return true
		}
	}
	return false
}

func importNames(root *sitter.Node, src []byte) map[string]bool {
	imports := make(map[string]bool)
	walk(root, func(n *sitter.Node) {
		switch n.Type() {
		case "import_statement":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				c := n.NamedChild(i)
				switch c.Type() {
				case "dotted_name":
					imports[nodeText(c, src)] = true
				case "aliased_import":
					if name := c.ChildByFieldName("name"); name != nil {
						imports[nodeText(name, src)] = true
					}
				}
			}
		case "import_from_statement":
			if mod := n.ChildByFieldName("module_name"); mod != nil {
				imports[nodeText(mod, src)] = true
			}
		}
	})
	return imports
}

func countNodeType(root *sitter.Node, nodeType string) int {
	count := 0
	walk(root, func(n *sitter.Node) {
		if n.Type() == nodeType {
			count++
		}
	})
	return count
}

func walkCalls(root *sitter.Node, src []byte, visit func(name string)) {
	walk(root, func(n *sitter.Node) {
		if n.Type() != "call" {
			return
		}
		visit(callName(n.ChildByFieldName("function"), src))
	})
}

func callName(fnNode *sitter.Node, src []byte) string {
	if fnNode == nil {
		return ""
	}
	switch fnNode.Type() {
	case "identifier":
		return nodeText(fnNode, src)
	case "attribute":
		obj := callName(fnNode.ChildByFieldName("object"), src)
		attr := nodeText(fnNode.ChildByFieldName("attribute"), src)
		if obj != "" {
			return obj + "." + attr
		}
		return attr
	default:
		return ""
	}
}

func nodeText(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return string(src[n.StartByte():n.EndByte()])
}

func walk(node *sitter.Node, visit func(*sitter.Node)) {
	if node == nil {
		return
	}
	visit(node)
	for i := 0; i < int(node.NamedChildCount()); i++ {
		walk(node.NamedChild(i), visit)
	}
}
