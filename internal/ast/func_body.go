package ast

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// funcBody walks one function body collecting calls, awaits, global
// reads/writes, and nested exception flows. Mirrors the field-level
// semantics of a Python ast.NodeVisitor walking Load/Store/Del contexts.
type funcBody struct {
	w           *walker
	fn          *FunctionDef
	globalNames map[string]bool // names declared via `global` inside this function
}

func (fb *funcBody) walk(node *sitter.Node) {
	fb.visit(node)
}

func (fb *funcBody) visit(node *sitter.Node) {
	switch node.Type() {
	case "global_statement":
		fb.visitGlobalStatement(node)
		return

	case "call":
		fb.visitCall(node)

	case "await":
		fb.visitAwait(node)

	case "assignment", "augmented_assignment":
		fb.visitAssignment(node)

	case "try_statement":
		fb.visitTryStatement(node)
		return

	case "raise_statement":
		if node.NamedChildCount() > 0 {
			fb.fn.ExceptionsRaised = append(fb.fn.ExceptionsRaised, fb.w.text(node.NamedChild(0)))
		}

	case "function_definition":
		// nested function: do not descend further for call/global
		// attribution purposes, its own extraction happens separately
		// if ever promoted; spec tracks only module-level and method scope.
		return
	}

	// identifier read/write attribution happens only outside the special
	// cases already handled above (assignment targets are handled in
	// visitAssignment to avoid double-counting reads on the LHS name).
	if node.Type() == "identifier" {
		fb.maybeRecordGlobalRead(node)
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		fb.visit(node.NamedChild(i))
	}
}

// visitTryStatement records function-scoped exception flows and recurses
// into both the try block and each handler body for nested calls/mutations.
func (fb *funcBody) visitTryStatement(node *sitter.Node) {
	fb.fn.HasTryExcept = true
	for i := 0; i < int(node.NamedChildCount()); i++ {
		c := node.NamedChild(i)
		if c.Type() != "except_clause" {
			fb.visit(c)
			continue
		}

		flow := ExceptionFlow{Line: fb.w.line(c), EndLine: fb.w.endLine(c)}
		var types []string
		for j := 0; j < int(c.NamedChildCount()); j++ {
			inner := c.NamedChild(j)
			switch inner.Type() {
			case "identifier", "attribute":
				types = append(types, fb.w.text(inner))
			case "tuple":
				for k := 0; k < int(inner.NamedChildCount()); k++ {
					types = append(types, fb.w.text(inner.NamedChild(k)))
				}
			case "block":
				if strings.Contains(fb.w.text(inner), "raise") {
					flow.HasReraise = true
				}
				fb.visit(inner)
			}
		}
		flow.ExceptionTypes = types
		flow.IsBare = len(types) == 0
		if flow.IsBare {
			fb.fn.HasBareExcept = true
		}
		fb.fn.ExceptionsCaught = append(fb.fn.ExceptionsCaught, flow)
		fb.w.mod.ExceptionFlows = append(fb.w.mod.ExceptionFlows, flow)
	}
}

func (fb *funcBody) visitGlobalStatement(node *sitter.Node) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		name := fb.w.text(node.NamedChild(i))
		fb.globalNames[name] = true
		fb.addWrite(name)
	}
}

func (fb *funcBody) visitCall(node *sitter.Node) {
	fnNode := node.ChildByFieldName("function")
	if fnNode != nil {
		name := fb.callTargetName(fnNode)
		if name != "" {
			fb.fn.Calls = append(fb.fn.Calls, name)
		}
	}
	// Still descend into arguments for nested calls/reads.
	if args := node.ChildByFieldName("arguments"); args != nil {
		fb.visit(args)
	}
	if fnNode != nil {
		fb.visit(fnNode)
	}
}

// callTargetName returns the literal dotted-name string for a call target
// when it is a plain name or attribute chain; empty string otherwise.
func (fb *funcBody) callTargetName(fnNode *sitter.Node) string {
	switch fnNode.Type() {
	case "identifier":
		return fb.w.text(fnNode)
	case "attribute":
		return fb.w.text(fnNode)
	default:
		return ""
	}
}

func (fb *funcBody) visitAwait(node *sitter.Node) {
	fb.w.mod.AsyncBoundaries = append(fb.w.mod.AsyncBoundaries, AsyncBoundary{
		Kind:          "await",
		Line:          fb.w.line(node),
		EnclosingFunc: fb.fn.QualifiedName,
	})
	if node.NamedChildCount() > 0 {
		inner := node.NamedChild(0)
		if inner.Type() == "call" {
			fnNode := inner.ChildByFieldName("function")
			if fnNode != nil {
				name := fb.callTargetName(fnNode)
				if name != "" {
					fb.fn.Awaits = append(fb.fn.Awaits, name)
				}
			}
		}
		fb.visit(inner)
	}
}

func (fb *funcBody) visitAssignment(node *sitter.Node) {
	target := node.ChildByFieldName("left")
	value := node.ChildByFieldName("right")

	if target != nil {
		switch target.Type() {
		case "identifier":
			name := fb.w.text(target)
			if fb.globalNames[name] || fb.isModuleLevelName(name) {
				fb.addWrite(name)
			}
			fb.w.mod.VariableMutations = append(fb.w.mod.VariableMutations, VariableMutation{
				Name:        name,
				Line:        fb.w.line(node),
				Scope:       ScopeLocal,
				IsAugmented: node.Type() == "augmented_assignment",
				TargetType:  fb.w.inferTargetType(value),
			})
		case "attribute", "subscript":
			// a.b = x / a[b] = x mutates whatever `a` is; record the base
			// identifier as a read (the container itself isn't rebound).
			fb.visit(target)
		}
	}
	if value != nil {
		fb.visit(value)
	}
}

// maybeRecordGlobalRead records a read of a module-level name. Because this
// walker only tracks module-scope names, any identifier matching a name
// bound at module scope (or explicitly globalled) counts as a global read
// unless it is locally shadowed by a parameter.
func (fb *funcBody) maybeRecordGlobalRead(node *sitter.Node) {
	name := fb.w.text(node)
	for _, p := range fb.fn.Parameters {
		if p.Name == name {
			return
		}
	}
	if fb.globalNames[name] || fb.isModuleLevelName(name) {
		fb.addRead(name)
	}
}

func (fb *funcBody) isModuleLevelName(name string) bool {
	for _, n := range fb.w.mod.ModuleLevelNames {
		if n == name {
			return true
		}
	}
	return false
}

func (fb *funcBody) addRead(name string) {
	for _, existing := range fb.fn.ReadsGlobals {
		if existing == name {
			return
		}
	}
	fb.fn.ReadsGlobals = append(fb.fn.ReadsGlobals, name)
}

func (fb *funcBody) addWrite(name string) {
	for _, existing := range fb.fn.WritesGlobals {
		if existing == name {
			return
		}
	}
	fb.fn.WritesGlobals = append(fb.fn.WritesGlobals, name)
}
