// Package ast defines the structured representation the Engine extracts from
// source files, and the parser that produces it.
package ast

// Severity is a fixed-weight classification shared by violations and the risk scorer.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// SeverityWeight maps each severity to its base scoring weight. A fixed table,
// never a conditional chain.
var SeverityWeight = map[Severity]float64{
	SeverityCritical: 10,
	SeverityHigh:     7,
	SeverityMedium:   4,
	SeverityLow:      1,
}

// ImportKind distinguishes `import x` from `from x import y`.
type ImportKind string

const (
	ImportPlain ImportKind = "plain"
	ImportFrom  ImportKind = "from"
)

// Import is one import statement.
type Import struct {
	Module        string
	ImportedNames []string
	Alias         string
	Line          int
	Kind          ImportKind
}

// MutationScope classifies where a variable mutation occurs.
type MutationScope string

const (
	ScopeModule MutationScope = "module"
	ScopeLocal  MutationScope = "local"
	ScopeClass  MutationScope = "class"
)

// MutationType is the syntactically-inferred type of a mutated target.
type MutationType string

const (
	MutationList  MutationType = "list"
	MutationDict  MutationType = "dict"
	MutationSet   MutationType = "set"
	MutationOther MutationType = "other"
	MutationNone  MutationType = ""
)

// VariableMutation is one assignment or augmented assignment.
type VariableMutation struct {
	Name         string
	Line         int
	Scope        MutationScope
	IsAugmented  bool
	TargetType   MutationType
}

// AsyncBoundary marks one await expression found inside an extracted
// function body. Async defs, async-for and async-with are not recorded.
type AsyncBoundary struct {
	Kind            string // always "await"
	Line            int
	EnclosingFunc   string
}

// ExceptionFlow is one except-handler.
type ExceptionFlow struct {
	Line            int
	EndLine         int
	ExceptionTypes  []string
	IsBare          bool
	HasReraise      bool
}

// Parameter is one function parameter.
type Parameter struct {
	Name       string
	Annotation string
}

// FunctionDef is one module-level function or class method.
type FunctionDef struct {
	Name              string
	QualifiedName     string
	Line              int
	EndLine           int
	IsAsync           bool
	Decorators        []string
	Parameters        []Parameter
	ReturnAnnotation  string
	Calls             []string
	Awaits            []string
	ExceptionsRaised  []string
	ExceptionsCaught  []ExceptionFlow
	HasBareExcept     bool
	HasTryExcept      bool
	ReadsGlobals      []string
	WritesGlobals     []string
	BodySource        string
}

// ClassDef is a class and its methods.
type ClassDef struct {
	Name            string
	Line            int
	EndLine         int
	Bases           []string
	Methods         []FunctionDef
	ClassVariables  []VariableMutation
	Decorators      []string
}

// ParseError is a non-fatal structural warning surfaced on the ModuleAST
// instead of being returned as an error.
type ParseError struct {
	Message string
	Line    int
}

// ModuleAST is the immutable extracted structure of one source file.
type ModuleAST struct {
	FilePath          string
	Language          string
	TotalLines        int
	Imports           []Import
	Functions         []FunctionDef
	Classes           []ClassDef
	VariableMutations []VariableMutation
	AsyncBoundaries   []AsyncBoundary
	ExceptionFlows    []ExceptionFlow
	ModuleLevelNames  []string
	ParseErrors       []ParseError
}

// AllFunctions returns every FunctionDef in the module: module-level functions
// plus every method of every class, in source order grouping by class.
func (m *ModuleAST) AllFunctions() []*FunctionDef {
	out := make([]*FunctionDef, 0, len(m.Functions))
	for i := range m.Functions {
		out = append(out, &m.Functions[i])
	}
	for c := range m.Classes {
		for f := range m.Classes[c].Methods {
			out = append(out, &m.Classes[c].Methods[f])
		}
	}
	return out
}

// FindFunction returns the function whose qualified name matches, or nil.
func (m *ModuleAST) FindFunction(qualifiedName string) *FunctionDef {
	for _, f := range m.AllFunctions() {
		if f.QualifiedName == qualifiedName {
			return f
		}
	}
	return nil
}
