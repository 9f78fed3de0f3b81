package rules

import (
	"testing"

	"guardrail/internal/ast"
	"guardrail/internal/callgraph"
)

const dangerousEvalSource = `def run(user_input):
    result = eval(user_input)
    return result
`

const safeEvalSource = `def run():
    result = eval("1 + 1")
    return result
`

const missingTimeoutSource = `import requests


def fetch(url):
    return requests.get(url)
`

func parseModule(t *testing.T, path, source string) *ast.ModuleAST {
	t.Helper()
	mod := ast.NewPythonParser().Parse(path, []byte(source))
	if mod == nil {
		t.Fatalf("failed to parse %s", path)
	}
	return mod
}

func TestCheckDangerousEval_FlagsDynamicArgument(t *testing.T) {
	mod := parseModule(t, "app.py", dangerousEvalSource)
	violations := CheckDangerousEval(mod, nil)
	if len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %d: %+v", len(violations), violations)
	}
	if violations[0].RuleID != DangerousEvalRuleID {
		t.Fatalf("unexpected rule ID %q", violations[0].RuleID)
	}
	if violations[0].Severity != SeverityCritical {
		t.Fatalf("expected critical severity, got %q", violations[0].Severity)
	}
}

func TestCheckDangerousEval_IgnoresLiteralArgument(t *testing.T) {
	mod := parseModule(t, "app.py", safeEvalSource)
	violations := CheckDangerousEval(mod, nil)
	if len(violations) != 0 {
		t.Fatalf("expected no violations for a literal-only eval, got %+v", violations)
	}
}

func TestCheckMissingHTTPTimeout_FlagsBareGet(t *testing.T) {
	mod := parseModule(t, "app.py", missingTimeoutSource)
	violations := CheckMissingHTTPTimeout(mod, nil)
	if len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %d: %+v", len(violations), violations)
	}
	if violations[0].AffectedFunction == "" {
		t.Fatalf("expected AffectedFunction to be populated")
	}
}

func TestEngine_Run_IsDeterministicAcrossRuns(t *testing.T) {
	modules := map[string]*ast.ModuleAST{
		"app.py": parseModule(t, "app.py", dangerousEvalSource),
	}
	engine := NewEngine(nil)
	graph := callgraph.Build(modules)

	first := engine.Run(modules, graph)
	second := engine.Run(modules, graph)

	if len(first.Violations) != len(second.Violations) {
		t.Fatalf("expected deterministic violation count, got %d then %d", len(first.Violations), len(second.Violations))
	}
	if len(first.RulesExecuted) == 0 {
		t.Fatalf("expected at least one rule to have executed")
	}
}

func TestEngine_Run_IsolatesPanickingRule(t *testing.T) {
	modules := map[string]*ast.ModuleAST{
		"app.py": parseModule(t, "app.py", safeEvalSource),
	}
	panicking := map[string]CheckFn{
		"boom": func(_ *ast.ModuleAST, _ *callgraph.Graph) []Violation {
			panic("rule exploded")
		},
		DangerousEvalRuleID: CheckDangerousEval,
	}
	engine := NewEngine(panicking)

	result := engine.Run(modules, nil)

	found := false
	for _, id := range result.RulesExecuted {
		if id == "boom" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the panicking rule to be recorded as executed despite panicking, got %+v", result.RulesExecuted)
	}
}
