package callgraph

import (
	"strings"

	"guardrail/internal/ast"
	"guardrail/internal/logging"
)

// entryDecorators is the fixed set of decorator markers identifying an
// externally reachable handler, matched as case-insensitive substrings.
var entryDecorators = map[string]bool{
	"app.route": true, "app.get": true, "app.post": true, "app.put": true,
	"app.delete": true, "app.patch": true,
	"router.get": true, "router.post": true, "router.put": true,
	"router.delete": true, "router.patch": true,
	"route": true, "get": true, "post": true, "put": true, "delete": true,
	"patch": true, "blueprint.route": true,
}

func nodeID(module, function string) string { return module + "::" + function }

func isEntryPoint(funcName string, decorators []string) bool {
	if funcName == "main" || funcName == "__main__" {
		return true
	}
	for _, d := range decorators {
		lower := strings.ToLower(d)
		for marker := range entryDecorators {
			if strings.Contains(lower, marker) {
				return true
			}
		}
	}
	return false
}

// Build constructs a call graph from a set of parsed modules, keyed by file
// path. Three phases: node creation, call-edge resolution, import-edge
// overlay. A pure function of its input modules.
func Build(modules map[string]*ast.ModuleAST) *Graph {
	graph := New()
	nameToNodes := make(map[string][]string)

	// Phase 1: nodes.
	for filePath, mod := range modules {
		moduleName := filePath

		for i := range mod.Functions {
			fn := &mod.Functions[i]
			id := nodeID(moduleName, fn.Name)
			graph.Nodes[id] = &Node{
				ID:                id,
				Module:            moduleName,
				Function:          fn.Name,
				IsAsync:           fn.IsAsync,
				IsEntryPoint:      isEntryPoint(fn.Name, fn.Decorators),
				ReadsSharedState:  fn.ReadsGlobals,
				WritesSharedState: fn.WritesGlobals,
				Line:              fn.Line,
			}
			nameToNodes[fn.Name] = append(nameToNodes[fn.Name], id)
		}

		for ci := range mod.Classes {
			cls := &mod.Classes[ci]
			for mi := range cls.Methods {
				method := &cls.Methods[mi]
				qualified := cls.Name + "." + method.Name
				id := nodeID(moduleName, qualified)
				graph.Nodes[id] = &Node{
					ID:                id,
					Module:            moduleName,
					Function:          qualified,
					IsAsync:           method.IsAsync,
					IsEntryPoint:      isEntryPoint(method.Name, method.Decorators),
					ReadsSharedState:  method.ReadsGlobals,
					WritesSharedState: method.WritesGlobals,
					Line:              method.Line,
				}
				nameToNodes[qualified] = append(nameToNodes[qualified], id)
				nameToNodes[method.Name] = append(nameToNodes[method.Name], id)
			}
		}
	}

	// Phase 2: call edges.
	for filePath, mod := range modules {
		moduleName := filePath
		importMap := buildImportMap(mod)

		allFuncs := make([]*ast.FunctionDef, 0, len(mod.Functions))
		for i := range mod.Functions {
			allFuncs = append(allFuncs, &mod.Functions[i])
		}
		for ci := range mod.Classes {
			for mi := range mod.Classes[ci].Methods {
				allFuncs = append(allFuncs, &mod.Classes[ci].Methods[mi])
			}
		}

		for _, fn := range allFuncs {
			callerName := fn.QualifiedName
			if callerName == "" {
				callerName = fn.Name
			}
			callerID := nodeID(moduleName, callerName)
			callerNode, ok := graph.Nodes[callerID]
			if !ok {
				continue
			}

			for _, callName := range fn.Calls {
				for _, calleeID := range resolveCallee(callName, moduleName, nameToNodes, importMap, modules) {
					calleeNode, ok := graph.Nodes[calleeID]
					if !ok {
						continue
					}
					graph.Edges = append(graph.Edges, Edge{
						Source:                callerID,
						Target:                calleeID,
						CallType:              CallDirect,
						AsyncBoundaryCrossing: callerNode.IsAsync != calleeNode.IsAsync,
					})
				}
			}
		}
	}

	// Phase 3: import edges.
	for filePath, mod := range modules {
		moduleName := filePath
		for _, imp := range mod.Imports {
			if imp.Kind != ast.ImportFrom {
				continue
			}
			for targetPath := range modules {
				if targetPath == filePath {
					continue
				}
				if !moduleMatches(imp.Module, targetPath) {
					continue
				}
				for _, name := range imp.ImportedNames {
					sourceID := nodeID(moduleName, name)
					targetID := nodeID(targetPath, name)
					if _, ok := graph.Nodes[targetID]; !ok {
						continue
					}
					if _, ok := graph.Nodes[sourceID]; !ok {
						sourceID = nodeID(moduleName, "__module__")
					}
					graph.Edges = append(graph.Edges, Edge{
						Source:   sourceID,
						Target:   targetID,
						CallType: CallImport,
						Line:     imp.Line,
					})
				}
			}
		}
	}

	logging.CallGraph("built call graph: %d nodes, %d edges across %d modules",
		len(graph.Nodes), len(graph.Edges), len(modules))
	return graph
}

func buildImportMap(mod *ast.ModuleAST) map[string]string {
	importMap := make(map[string]string)
	for _, imp := range mod.Imports {
		if imp.Kind == ast.ImportFrom {
			for _, name := range imp.ImportedNames {
				importMap[name] = imp.Module
			}
			continue
		}
		if imp.Alias != "" {
			importMap[imp.Alias] = imp.Module
		} else {
			importMap[imp.Module] = imp.Module
		}
	}
	return importMap
}

// resolveCallee resolves a call-site name to candidate callee node IDs,
// preferring a same-module match, then falling back to the match from the
// lexicographically smallest other module path, then an import-alias-qualified
// lookup.
func resolveCallee(
	callName, currentModule string,
	nameToNodes map[string][]string,
	importMap map[string]string,
	modules map[string]*ast.ModuleAST,
) []string {
	if candidates, ok := nameToNodes[callName]; ok {
		var sameModule []string
		for _, nid := range candidates {
			if strings.HasPrefix(nid, currentModule) {
				sameModule = append(sameModule, nid)
			}
		}
		if len(sameModule) > 0 {
			return sameModule
		}
		first := candidates[0]
		for _, nid := range candidates[1:] {
			if nid[:strings.LastIndex(nid, "::")] < first[:strings.LastIndex(first, "::")] {
				first = nid
			}
		}
		return []string{first}
	}

	if strings.Contains(callName, ".") {
		parts := strings.Split(callName, ".")
		if importedModule, ok := importMap[parts[0]]; ok {
			for path := range modules {
				if moduleMatches(importedModule, path) {
					return []string{nodeID(path, parts[len(parts)-1])}
				}
			}
		}
		if candidates, ok := nameToNodes[callName]; ok {
			return candidates[:1]
		}
	}

	return nil
}

// moduleMatches checks whether a dotted module name plausibly refers to a
// file path, by normalizing path separators and the .py suffix to dots.
func moduleMatches(moduleName, filePath string) bool {
	normalized := strings.ReplaceAll(filePath, "/", ".")
	normalized = strings.ReplaceAll(normalized, "\\", ".")
	normalized = strings.TrimSuffix(normalized, ".py")
	return strings.Contains(normalized, moduleName) || strings.HasSuffix(normalized, moduleName)
}
