package ast

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"guardrail/internal/logging"
)

// requestHandlerDecorators is the fixed set of decorator substrings that mark
// a function as an entry point (a request handler).
var requestHandlerDecorators = []string{
	"app.get", "app.post", "app.put", "app.delete", "app.patch", "app.head",
	"router.get", "router.post", "router.put", "router.delete", "router.patch",
	"route", "blueprint.route",
	"get", "post", "put", "delete", "patch", "head",
}

// PythonParser implements Parse for the one language this Engine supports: a
// Python-like, indentation-structured language with def/async def, class,
// decorators, and try/except.
type PythonParser struct {
	parser *sitter.Parser
}

// NewPythonParser constructs a parser configured with the Python grammar.
func NewPythonParser() *PythonParser {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())
	return &PythonParser{parser: p}
}

// Language reports the language tag this parser produces.
func (p *PythonParser) Language() string { return "python" }

// SupportedExtensions lists the file extensions this parser accepts.
func (p *PythonParser) SupportedExtensions() []string { return []string{".py", ".pyw"} }

// Parse turns source text into a ModuleAST. A pure function of its inputs:
// identical (filePath, source) always yields byte-identical output. A
// syntactically invalid source yields parse errors, not a Go error. A path
// whose extension is not in SupportedExtensions yields an empty ModuleAST with
// a single parse error; a path with no extension is parsed as Python.
func (p *PythonParser) Parse(filePath string, source []byte) *ModuleAST {
	start := time.Now()
	logging.ParserDebug("parsing %s", filePath)

	mod := &ModuleAST{
		FilePath:   filePath,
		Language:   p.Language(),
		TotalLines: strings.Count(string(source), "\n") + 1,
	}

	if ext := filepath.Ext(filePath); ext != "" {
		supported := false
		for _, e := range p.SupportedExtensions() {
			supported = supported || ext == e
		}
		if !supported {
			mod.ParseErrors = append(mod.ParseErrors, ParseError{Message: "unsupported file extension " + ext})
			return mod
		}
	}

	tree, err := p.parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		mod.ParseErrors = append(mod.ParseErrors, ParseError{Message: err.Error()})
		return mod
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		mod.ParseErrors = append(mod.ParseErrors, ParseError{Message: "syntax error in source", Line: 0})
		return mod
	}

	w := &walker{src: source, mod: mod}
	w.walkModule(root)

	logging.ParserDebug("parsed %s: %d functions, %d classes in %v",
		filePath, len(mod.Functions), len(mod.Classes), time.Since(start))
	return mod
}

// walker threads the source bytes and the ModuleAST being assembled through
// the tree-sitter traversal.
type walker struct {
	src []byte
	mod *ModuleAST
}

func (w *walker) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return string(w.src[n.StartByte():n.EndByte()])
}

func (w *walker) line(n *sitter.Node) int { return int(n.StartPoint().Row) + 1 }

func (w *walker) endLine(n *sitter.Node) int { return int(n.EndPoint().Row) + 1 }

// walkModule visits every top-level statement of the module body.
func (w *walker) walkModule(root *sitter.Node) {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		w.walkTopLevel(child, "")
	}
}

// walkTopLevel dispatches a module- or class-body statement.
func (w *walker) walkTopLevel(node *sitter.Node, enclosingClass string) {
	switch node.Type() {
	case "function_definition":
		fn := w.parseFunctionDef(node, nil, enclosingClass)
		w.registerFunction(fn, enclosingClass)

	case "class_definition":
		w.parseClassDef(node)

	case "decorated_definition":
		w.walkDecorated(node, enclosingClass)

	case "import_statement":
		w.parseImportStatement(node)

	case "import_from_statement":
		w.parseImportFromStatement(node)

	case "expression_statement":
		w.parseAssignmentLike(node, enclosingClass)

	case "try_statement":
		w.parseTryStatement(node, "")

	default:
		// Other top-level statements (if/for/with at module scope) are
		// walked for nested assignments and try-blocks but do not
		// themselves introduce functions.
		w.walkNestedForSideEffects(node, enclosingClass)
	}
}

// walkNestedForSideEffects recurses into compound statement bodies looking
// only for module-level mutations and exception flows, without descending
// into nested function bodies (those are handled by parseFunctionDef).
func (w *walker) walkNestedForSideEffects(node *sitter.Node, enclosingClass string) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "function_definition", "class_definition", "decorated_definition":
			w.walkTopLevel(child, enclosingClass)
		case "expression_statement":
			w.parseAssignmentLike(child, enclosingClass)
		case "try_statement":
			w.parseTryStatement(child, "")
		default:
			w.walkNestedForSideEffects(child, enclosingClass)
		}
	}
}

func (w *walker) walkDecorated(node *sitter.Node, enclosingClass string) {
	decorators := w.extractDecorators(node)
	var startLine int = w.line(node)

	for i := 0; i < int(node.NamedChildCount()); i++ {
		inner := node.NamedChild(i)
		switch inner.Type() {
		case "function_definition":
			fn := w.parseFunctionDef(inner, decorators, enclosingClass)
			fn.Line = startLine
			w.registerFunction(fn, enclosingClass)
		case "class_definition":
			w.parseClassDefWithDecorators(inner, decorators, startLine)
		}
	}
}

func (w *walker) extractDecorators(decoratedNode *sitter.Node) []string {
	var decorators []string
	for i := 0; i < int(decoratedNode.NamedChildCount()); i++ {
		c := decoratedNode.NamedChild(i)
		if c.Type() != "decorator" {
			continue
		}
		text := strings.TrimSpace(w.text(c))
		text = strings.TrimPrefix(text, "@")
		if idx := strings.Index(text, "("); idx >= 0 {
			text = text[:idx]
		}
		decorators = append(decorators, strings.TrimSpace(text))
	}
	return decorators
}

func (w *walker) registerFunction(fn FunctionDef, enclosingClass string) {
	if enclosingClass == "" {
		w.mod.Functions = append(w.mod.Functions, fn)
		w.mod.ModuleLevelNames = append(w.mod.ModuleLevelNames, fn.Name)
		return
	}
	for i := range w.mod.Classes {
		if w.mod.Classes[i].Name == enclosingClass {
			w.mod.Classes[i].Methods = append(w.mod.Classes[i].Methods, fn)
			return
		}
	}
}

// parseFunctionDef extracts a FunctionDef, including the full body-walk
// needed for calls/awaits/global reads-writes/exception flows.
func (w *walker) parseFunctionDef(node *sitter.Node, decorators []string, enclosingClass string) FunctionDef {
	nameNode := node.ChildByFieldName("name")
	name := w.text(nameNode)

	qualified := name
	if enclosingClass != "" {
		qualified = enclosingClass + "." + name
	}

	isAsync := false
	if node.Type() == "function_definition" {
		// tree-sitter-python marks async defs via a preceding "async" token
		// sibling to the def keyword; check the first child's type.
		if node.ChildCount() > 0 && node.Child(0).Type() == "async" {
			isAsync = true
		}
	}

	fn := FunctionDef{
		Name:          name,
		QualifiedName: qualified,
		Line:          w.line(node),
		EndLine:       w.endLine(node),
		IsAsync:       isAsync,
		Decorators:    decorators,
	}

	if params := node.ChildByFieldName("parameters"); params != nil {
		fn.Parameters = w.parseParameters(params)
	}
	if ret := node.ChildByFieldName("return_type"); ret != nil {
		fn.ReturnAnnotation = w.text(ret)
	}

	body := node.ChildByFieldName("body")
	if body != nil {
		fb := &funcBody{w: w, fn: &fn, globalNames: map[string]bool{}}
		fb.walk(body)
	}

	fn.BodySource = extractLines(w.src, fn.Line, fn.EndLine)
	return fn
}

func (w *walker) parseParameters(params *sitter.Node) []Parameter {
	var out []Parameter
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		switch p.Type() {
		case "identifier":
			out = append(out, Parameter{Name: w.text(p)})
		case "typed_parameter":
			nameNode := p.NamedChild(0)
			ann := ""
			if p.NamedChildCount() > 1 {
				ann = w.text(p.NamedChild(1))
			}
			out = append(out, Parameter{Name: w.text(nameNode), Annotation: ann})
		case "default_parameter", "typed_default_parameter":
			nameNode := p.ChildByFieldName("name")
			out = append(out, Parameter{Name: w.text(nameNode)})
		case "list_splat_pattern", "dictionary_splat_pattern":
			out = append(out, Parameter{Name: w.text(p)})
		}
	}
	return out
}

func (w *walker) parseClassDef(node *sitter.Node) {
	w.parseClassDefWithDecorators(node, nil, w.line(node))
}

func (w *walker) parseClassDefWithDecorators(node *sitter.Node, decorators []string, startLine int) {
	nameNode := node.ChildByFieldName("name")
	name := w.text(nameNode)

	cls := ClassDef{
		Name:       name,
		Line:       startLine,
		EndLine:    w.endLine(node),
		Decorators: decorators,
	}

	if superclasses := node.ChildByFieldName("superclasses"); superclasses != nil {
		for i := 0; i < int(superclasses.NamedChildCount()); i++ {
			cls.Bases = append(cls.Bases, w.text(superclasses.NamedChild(i)))
		}
	}

	w.mod.Classes = append(w.mod.Classes, cls)
	w.mod.ModuleLevelNames = append(w.mod.ModuleLevelNames, name)

	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		child := body.NamedChild(i)
		switch child.Type() {
		case "function_definition":
			fn := w.parseFunctionDef(child, nil, name)
			w.registerFunction(fn, name)
		case "decorated_definition":
			decs := w.extractDecorators(child)
			methodLine := w.line(child)
			for j := 0; j < int(child.NamedChildCount()); j++ {
				inner := child.NamedChild(j)
				if inner.Type() == "function_definition" {
					fn := w.parseFunctionDef(inner, decs, name)
					fn.Line = methodLine
					w.registerFunction(fn, name)
				}
			}
		case "expression_statement":
			w.parseClassVariable(child, name)
		}
	}
}

func (w *walker) parseClassVariable(node *sitter.Node, className string) {
	assign := node.NamedChild(0)
	if assign == nil || (assign.Type() != "assignment" && assign.Type() != "augmented_assignment") {
		return
	}
	target := assign.ChildByFieldName("left")
	if target == nil || target.Type() != "identifier" {
		return
	}
	mutation := VariableMutation{
		Name:        w.text(target),
		Line:        w.line(node),
		Scope:       ScopeClass,
		IsAugmented: assign.Type() == "augmented_assignment",
		TargetType:  w.inferTargetType(assign.ChildByFieldName("right")),
	}
	for i := range w.mod.Classes {
		if w.mod.Classes[i].Name == className {
			w.mod.Classes[i].ClassVariables = append(w.mod.Classes[i].ClassVariables, mutation)
			return
		}
	}
}

func (w *walker) parseAssignmentLike(node *sitter.Node, enclosingClass string) {
	if enclosingClass != "" {
		return // class-body assignments handled in parseClassVariable
	}
	assign := node.NamedChild(0)
	if assign == nil {
		return
	}
	if assign.Type() != "assignment" && assign.Type() != "augmented_assignment" {
		return
	}
	target := assign.ChildByFieldName("left")
	if target == nil || target.Type() != "identifier" {
		return
	}
	name := w.text(target)
	w.mod.VariableMutations = append(w.mod.VariableMutations, VariableMutation{
		Name:        name,
		Line:        w.line(node),
		Scope:       ScopeModule,
		IsAugmented: assign.Type() == "augmented_assignment",
		TargetType:  w.inferTargetType(assign.ChildByFieldName("right")),
	})
	w.mod.ModuleLevelNames = append(w.mod.ModuleLevelNames, name)
}

// inferTargetType syntactically infers a mutation's target type from the
// literal form of the assigned value or the name of a called constructor.
func (w *walker) inferTargetType(value *sitter.Node) MutationType {
	if value == nil {
		return MutationNone
	}
	switch value.Type() {
	case "list", "list_comprehension":
		return MutationList
	case "dictionary", "dictionary_comprehension":
		return MutationDict
	case "set", "set_comprehension":
		return MutationSet
	case "call":
		fn := value.ChildByFieldName("function")
		name := w.text(fn)
		switch name {
		case "list":
			return MutationList
		case "dict":
			return MutationDict
		case "set", "frozenset":
			return MutationSet
		}
	}
	return MutationOther
}

func (w *walker) parseImportStatement(node *sitter.Node) {
	line := w.line(node)
	for i := 0; i < int(node.NamedChildCount()); i++ {
		c := node.NamedChild(i)
		switch c.Type() {
		case "dotted_name":
			w.mod.Imports = append(w.mod.Imports, Import{Module: w.text(c), Line: line, Kind: ImportPlain})
		case "aliased_import":
			name := w.text(c.ChildByFieldName("name"))
			alias := w.text(c.ChildByFieldName("alias"))
			w.mod.Imports = append(w.mod.Imports, Import{Module: name, Alias: alias, Line: line, Kind: ImportPlain})
		}
	}
}

func (w *walker) parseImportFromStatement(node *sitter.Node) {
	line := w.line(node)
	moduleNode := node.ChildByFieldName("module_name")
	module := w.text(moduleNode)

	var names []string
	for i := 0; i < int(node.NamedChildCount()); i++ {
		c := node.NamedChild(i)
		switch c.Type() {
		case "dotted_name", "identifier":
			if c == moduleNode {
				continue
			}
			names = append(names, w.text(c))
		case "aliased_import":
			names = append(names, w.text(c.ChildByFieldName("name")))
		case "wildcard_import":
			names = append(names, "*")
		}
	}
	w.mod.Imports = append(w.mod.Imports, Import{Module: module, ImportedNames: names, Line: line, Kind: ImportFrom})
}

func (w *walker) parseTryStatement(node *sitter.Node, enclosingFunc string) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		c := node.NamedChild(i)
		if c.Type() != "except_clause" {
			continue
		}
		flow := ExceptionFlow{Line: w.line(c), EndLine: w.endLine(c)}
		var types []string
		for j := 0; j < int(c.NamedChildCount()); j++ {
			inner := c.NamedChild(j)
			switch inner.Type() {
			case "identifier", "attribute":
				types = append(types, w.text(inner))
			case "tuple":
				for k := 0; k < int(inner.NamedChildCount()); k++ {
					types = append(types, w.text(inner.NamedChild(k)))
				}
			case "block":
				if strings.Contains(w.text(inner), "raise") {
					flow.HasReraise = true
				}
			}
		}
		flow.ExceptionTypes = types
		flow.IsBare = len(types) == 0
		w.mod.ExceptionFlows = append(w.mod.ExceptionFlows, flow)
	}
}

func extractLines(src []byte, startLine, endLine int) string {
	lines := strings.Split(string(src), "\n")
	if startLine < 1 {
		startLine = 1
	}
	if endLine > len(lines) {
		endLine = len(lines)
	}
	if startLine > endLine || startLine > len(lines) {
		return ""
	}
	return strings.Join(lines[startLine-1:endLine], "\n")
}

// IsEntryPointDecorator reports whether a decorator string matches the fixed
// request-handler pattern set (case-insensitive substring match).
func IsEntryPointDecorator(decorator string) bool {
	lower := strings.ToLower(decorator)
	for _, pattern := range requestHandlerDecorators {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// IsEntryPoint reports whether a function is an externally-reachable surface:
// named main, or decorated with a request-handler pattern.
func IsEntryPoint(fn *FunctionDef) bool {
	if fn.Name == "main" || fn.Name == "__main__" {
		return true
	}
	for _, d := range fn.Decorators {
		if IsEntryPointDecorator(d) {
			return true
		}
	}
	return false
}
