// Package orchestrator runs the bounded-retry generate/apply/validate/rescan
// loop that turns a deterministic violation into an accepted patch, a
// rejection, or a rollback to the pre-patch source.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"guardrail/internal/applier"
	"guardrail/internal/ast"
	"guardrail/internal/callgraph"
	"guardrail/internal/logging"
	"guardrail/internal/patch"
	"guardrail/internal/rescan"
	"guardrail/internal/risk"
	"guardrail/internal/rollback"
	"guardrail/internal/rules"
	"guardrail/internal/validator"
)

// Orchestrator owns one scan/patch run's rule engine, completion-service
// client, and rollback store. It holds no state across runs other than the
// rollback store, which is scoped to a single Orchestrator instance.
type Orchestrator struct {
	engine        *rules.Engine
	completion    patch.CompletionClient
	rollbackStore *rollback.Store
	maxRetries    int
	reviewEnabled bool
}

// New constructs an Orchestrator. completion may be nil, in which case every
// violation falls through to the deterministic template path.
func New(engine *rules.Engine, completion patch.CompletionClient, maxRetries int, reviewEnabled bool) *Orchestrator {
	if engine == nil {
		engine = rules.NewEngine(nil)
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Orchestrator{
		engine:        engine,
		completion:    completion,
		rollbackStore: rollback.New(),
		maxRetries:    maxRetries,
		reviewEnabled: reviewEnabled,
	}
}

// Run parses every file, scores the aggregate violations, then attempts to
// patch each one (optionally filtered to targetRuleIDs) in the order the rule
// engine produced them. useFallback forces the deterministic template path
// for every generation attempt rather than only the last retry.
func (o *Orchestrator) Run(ctx context.Context, files []FileInput, targetRuleIDs []string, useFallback bool) PatchResponse {
	parser := ast.NewPythonParser()

	modules := make(map[string]*ast.ModuleAST, len(files))
	sources := make(map[string]string, len(files))
	for _, f := range files {
		mod := parser.Parse(f.Path, []byte(f.Content))
		if mod == nil {
			logging.OrchestratorWarn("failed to parse %s, excluding from patch run", f.Path)
			continue
		}
		modules[f.Path] = mod
		sources[f.Path] = f.Content
	}

	graph := callgraph.Build(modules)
	ruleResult := o.engine.Run(modules, graph)
	riskBreakdown := risk.Compute(ruleResult, graph, nil)
	originalRiskScore := riskBreakdown.TotalScore

	violations := ruleResult.Violations
	if len(targetRuleIDs) > 0 {
		wanted := make(map[string]bool, len(targetRuleIDs))
		for _, id := range targetRuleIDs {
			wanted[id] = true
		}
		filtered := make([]rules.Violation, 0, len(violations))
		for _, v := range violations {
			if wanted[v.RuleID] {
				filtered = append(filtered, v)
			}
		}
		violations = filtered
	}

	logging.Orchestrator("patch run starting: %d violations targeted across %d files, risk %d",
		len(violations), len(sources), originalRiskScore)

	currentSources := make(map[string]string, len(sources))
	for path, src := range sources {
		currentSources[path] = src
	}

	results := make([]PatchResult, 0, len(violations))
	var applied, rejected, rolledBack int

	for _, v := range violations {
		result := o.processViolation(ctx, v, currentSources, originalRiskScore, useFallback)
		results = append(results, result)

		switch result.Status {
		case "applied":
			currentSources[result.FilePath] = result.PatchedCode
			applied++
		case "rollback":
			rolledBack++
		default:
			rejected++
		}
	}

	finalModules := make(map[string]*ast.ModuleAST, len(currentSources))
	for path, src := range currentSources {
		if mod := parser.Parse(path, []byte(src)); mod != nil {
			finalModules[path] = mod
		}
	}
	finalGraph := callgraph.Build(finalModules)
	finalResult := o.engine.Run(finalModules, finalGraph)
	finalRisk := risk.Compute(finalResult, finalGraph, nil)

	logging.Orchestrator("patch run complete: %d applied, %d rejected, %d rolled back, risk %d -> %d",
		applied, rejected, rolledBack, originalRiskScore, finalRisk.TotalScore)

	return PatchResponse{
		Message:           "patch_complete",
		Results:           results,
		TotalViolations:   len(violations),
		PatchesApplied:    applied,
		PatchesRejected:   rejected,
		PatchesRolledBack: rolledBack,
		RiskScoreBefore:   originalRiskScore,
		RiskScoreAfter:    finalRisk.TotalScore,
		PatchedSources:    currentSources,
	}
}

// processViolation runs the generate -> apply -> validate -> review ->
// rescan loop for a single violation, up to maxRetries+1 attempts. A
// risk-increasing rescan triggers an immediate rollback and return; any
// other failure mode retries until attempts are exhausted.
func (o *Orchestrator) processViolation(ctx context.Context, v rules.Violation, sources map[string]string, originalRiskScore int, useFallback bool) PatchResult {
	result := PatchResult{
		RuleID:          v.RuleID,
		TargetFunction:  v.AffectedFunction,
		FilePath:        v.File,
		Status:          "failed",
		RiskScoreBefore: originalRiskScore,
	}

	source, ok := sources[v.File]
	if !ok || source == "" {
		logging.OrchestratorWarn("no source available for %s, cannot patch '%s'", v.File, v.AffectedFunction)
		return result
	}

	o.rollbackStore.Save(v.File, v.AffectedFunction, source)

	funcSource, startLine, endLine, isAsync, decorators := extractFunctionSource(source, v.File, v.AffectedFunction)
	result.OriginalCode = funcSource

	var lastErrors []string
	var explanation string

	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		result.LLMAttempts = attempt + 1
		forceFallback := useFallback || attempt == o.maxRetries

		newCode, genExplanation, usedFallback, err := o.generatePatch(ctx, v, funcSource, forceFallback)
		if err != nil {
			lastErrors = []string{err.Error()}
			if attempt < o.maxRetries {
				continue
			}
			result.Status = "failed"
			result.ValidationErrors = lastErrors
			return result
		}
		explanation = genExplanation
		result.UsedFallback = usedFallback

		patched, ok := applier.FunctionPatch(source, v.AffectedFunction, newCode, startLine, endLine)
		if !ok {
			lastErrors = []string{fmt.Sprintf("failed to splice patch into '%s'", v.AffectedFunction)}
			if attempt < o.maxRetries {
				continue
			}
			result.Status = "rejected"
			result.ValidationErrors = lastErrors
			return result
		}

		verdict := validator.ValidatePatch(source, patched, v.AffectedFunction, isAsync, decorators)
		if !verdict.Valid {
			lastErrors = verdict.Errors
			if attempt < o.maxRetries {
				continue
			}
			result.Status = "rejected"
			result.ValidationErrors = lastErrors
			return result
		}

		if o.reviewEnabled && o.completion != nil && attempt < o.maxRetries {
			if !o.reviewPatch(ctx, v, funcSource, newCode) {
				lastErrors = []string{"self-review flagged the patch as unsafe"}
				continue
			}
		}

		rescanResult := rescan.Rescan(o.engine, patched, v.File, v.RuleID, originalRiskScore)
		result.RiskScoreAfter = rescanResult.RiskScoreAfter

		if rescanResult.Passed {
			result.Status = "applied"
			result.PatchedCode = patched
			result.Explanation = explanation
			logging.Orchestrator("patch applied: %s on '%s' in %s (attempt %d)", v.RuleID, v.AffectedFunction, v.File, attempt+1)
			return result
		}

		if rescanResult.RiskIncreased {
			if original, ok := o.rollbackStore.Rollback(v.File, v.AffectedFunction); ok {
				sources[v.File] = original
			}
			result.Status = "rollback"
			result.ValidationErrors = []string{rescanResult.Details}
			logging.OrchestratorWarn("rolled back patch for %s on '%s' in %s: %s", v.RuleID, v.AffectedFunction, v.File, rescanResult.Details)
			return result
		}

		lastErrors = []string{rescanResult.Details}
		if attempt < o.maxRetries {
			continue
		}
		result.Status = "rejected"
		result.ValidationErrors = lastErrors
		return result
	}

	result.Status = "failed"
	result.ValidationErrors = lastErrors
	return result
}

// generatePatch requests a replacement from the completion service unless
// forceFallback is set or no completion client is configured, falling
// through to the deterministic template on any completion failure.
func (o *Orchestrator) generatePatch(ctx context.Context, v rules.Violation, funcSource string, forceFallback bool) (code, explanation string, usedFallback bool, err error) {
	if !forceFallback && o.completion != nil {
		prompt := patch.BuildPatchPrompt(v, funcSource, nil)
		raw, reqErr := o.completion.ProposeReplacement(ctx, prompt)
		if reqErr != nil {
			logging.PatchWarn("completion request failed for rule '%s': %v", v.RuleID, reqErr)
		} else {
			rp, parseErr := patch.ParseReplacement(raw)
			if parseErr != nil {
				logging.PatchWarn("completion reply unparseable for rule '%s': %v", v.RuleID, parseErr)
			} else {
				return rp.Patch.NewCode, rp.Explanation, false, nil
			}
		}
	}

	templateCode, ok := patch.GenerateTemplate(v.RuleID, funcSource, v.AffectedFunction)
	if !ok {
		return "", "", false, fmt.Errorf("no patch available for rule '%s'", v.RuleID)
	}
	return templateCode, "applied deterministic fallback template", true, nil
}

// reviewPatch asks the completion service to self-review a candidate patch.
// It fails open: any request or parse failure is treated as "safe" so a
// review-service outage never blocks an otherwise-valid patch.
func (o *Orchestrator) reviewPatch(ctx context.Context, v rules.Violation, originalCode, patchedCode string) bool {
	prompt := patch.BuildReviewPrompt(v, originalCode, patchedCode)
	raw, err := o.completion.ProposeReplacement(ctx, prompt)
	if err != nil {
		logging.PatchWarn("self-review request failed, defaulting to safe: %v", err)
		return true
	}
	verdict, err := patch.ParseSelfReview(raw)
	if err != nil {
		logging.PatchWarn("self-review reply unparseable, defaulting to safe: %v", err)
		return true
	}
	return verdict.Safe
}

// extractFunctionSource re-parses source to locate targetFunction by its
// qualified name, returning its body text and the 1-indexed inclusive line
// range (including any decorators) that the applier should replace. If the
// function cannot be located, it falls back to patching the whole file as a
// single unit.
func extractFunctionSource(source, filePath, targetFunction string) (funcSource string, startLine, endLine int, isAsync bool, decorators []string) {
	mod := ast.NewPythonParser().Parse(filePath, []byte(source))
	if mod != nil {
		if fn := mod.FindFunction(targetFunction); fn != nil {
			return fn.BodySource, fn.Line, fn.EndLine, fn.IsAsync, fn.Decorators
		}
	}
	logging.OrchestratorWarn("could not locate function '%s' in %s, falling back to whole-file source", targetFunction, filePath)
	lineCount := len(strings.Split(source, "\n"))
	return source, 1, lineCount, false, nil
}
