package rules

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// bodyParser is shared across rule checks that need expression-level
// inspection of a function body beyond what ModuleAST already extracted.
// Re-parsing body_source in isolation mirrors the reference implementation's
// use of ast.parse(func.body_source) as a second, finer-grained pass.
var bodyParser = newBodyParser()

func newBodyParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())
	return p
}

// parseBody re-parses a function's extracted source text. Returns nil if the
// text is blank or fails to parse; callers must treat that as "skip".
func parseBody(source string) (*sitter.Node, []byte) {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return nil, nil
	}
	src := []byte(source)
	tree, err := bodyParser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, nil
	}
	root := tree.RootNode()
	if root == nil {
		return nil, nil
	}
	return root, src
}

// walkCalls invokes visit for every "call" node in the subtree.
func walkCalls(node *sitter.Node, src []byte, visit func(call *sitter.Node)) {
	if node == nil {
		return
	}
	if node.Type() == "call" {
		visit(node)
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		walkCalls(node.NamedChild(i), src, visit)
	}
}

// walkType invokes visit for every node of the given type in the subtree.
func walkType(node *sitter.Node, nodeType string, visit func(n *sitter.Node)) {
	if node == nil {
		return
	}
	if node.Type() == nodeType {
		visit(node)
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		walkType(node.NamedChild(i), nodeType, visit)
	}
}

// nodeText returns the literal source slice for a node.
func nodeText(node *sitter.Node, src []byte) string {
	if node == nil {
		return ""
	}
	return string(src[node.StartByte():node.EndByte()])
}

// callName extracts the dotted name of a call's function expression:
// `foo` -> "foo", `a.b.c` -> "a.b.c". Anything else yields "".
func callName(fnNode *sitter.Node, src []byte) string {
	if fnNode == nil {
		return ""
	}
	switch fnNode.Type() {
	case "identifier":
		return nodeText(fnNode, src)
	case "attribute":
		obj := fnNode.ChildByFieldName("object")
		attr := fnNode.ChildByFieldName("attribute")
		objText := callName(obj, src)
		attrText := nodeText(attr, src)
		if objText != "" {
			return objText + "." + attrText
		}
		return attrText
	default:
		return ""
	}
}

// callArgs returns the call's "arguments" field, or nil if absent.
func callArgs(callNode *sitter.Node) *sitter.Node {
	return callNode.ChildByFieldName("arguments")
}

// positionalArgs returns every non-keyword argument expression.
func positionalArgs(args *sitter.Node) []*sitter.Node {
	if args == nil {
		return nil
	}
	var out []*sitter.Node
	for i := 0; i < int(args.NamedChildCount()); i++ {
		c := args.NamedChild(i)
		if c.Type() != "keyword_argument" {
			out = append(out, c)
		}
	}
	return out
}

// keywordArgNames returns the names of every keyword argument in a call.
func keywordArgNames(args *sitter.Node, src []byte) []string {
	if args == nil {
		return nil
	}
	var out []string
	for i := 0; i < int(args.NamedChildCount()); i++ {
		c := args.NamedChild(i)
		if c.Type() != "keyword_argument" {
			continue
		}
		name := c.ChildByFieldName("name")
		out = append(out, nodeText(name, src))
	}
	return out
}

// hasExitStatement reports whether a subtree contains a break, return, or
// raise — used to judge whether a loop can ever terminate.
func hasExitStatement(node *sitter.Node) bool {
	if node == nil {
		return false
	}
	switch node.Type() {
	case "break_statement", "return_statement", "raise_statement":
		return true
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if hasExitStatement(node.Child(i)) {
			return true
		}
	}
	return false
}

// isTrueLiteral reports whether a node is the boolean literal True.
func isTrueLiteral(node *sitter.Node, src []byte) bool {
	if node == nil {
		return false
	}
	return node.Type() == "true" || nodeText(node, src) == "True"
}

// findIdentifiers collects every identifier node's literal text in a subtree.
func findIdentifiers(node *sitter.Node, src []byte, into *[]string) {
	if node == nil {
		return
	}
	if node.Type() == "identifier" {
		*into = append(*into, nodeText(node, src))
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		findIdentifiers(node.NamedChild(i), src, into)
	}
}

// containsAny reports whether s contains any of the given substrings.
func containsAny(s string, substrs map[string]bool) bool {
	for sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
