package patch

import (
	"encoding/json"
	"fmt"
	"strings"

	"guardrail/internal/rules"
)

const patchSystemPrompt = `You are Guardrail Patch Engine, a code repair assistant that generates MINIMAL, SAFE patches.

You receive a single rule violation detected by the deterministic engine, along with the
source code of the affected function. Your task: generate a corrected version of ONLY the
affected function.

STRICT CONSTRAINTS - VIOLATION OF ANY CONSTRAINT MEANS REJECTION:
1. PRESERVE the function signature exactly (name, parameters, type hints, return type)
2. DO NOT modify route decorators (@app.get, @router.post, etc.)
3. DO NOT introduce new global variables or 'global' statements
4. ONLY modify the detected function - do not add new functions
5. DO NOT remove business logic - only fix the detected issue
6. DO NOT add imports outside this whitelist: asyncio, logging, typing, contextlib, functools
7. Output MUST be strict JSON - no markdown, no comments, no text outside JSON

OUTPUT SCHEMA (strict):
{
  "explanation": "Why this patch fixes the issue (1-2 sentences)",
  "patch": {
    "type": "replace_function",
    "target": "exact function name",
    "new_code": "complete corrected function definition (including def/async def line)"
  },
  "risk_score_after": <estimated 0-100 risk score after fix>
}`

const reviewSystemPrompt = `You are Guardrail Safety Reviewer. You review a code patch that was generated to fix
a production issue.

Analyze the patch for:
1. Race conditions - does the patch introduce shared mutable state access?
2. Blocking calls - does the patch add time.sleep(), requests.get(), or file I/O in async context?
3. Unsafe patterns - eval, exec, subprocess, unsanitized I/O?
4. Logic errors - does the patch preserve the original business logic?
5. Missing error handling - does the patch remove try/except blocks?

OUTPUT SCHEMA (strict JSON):
{
  "safe": true/false,
  "issues": ["list of issues found, empty if safe"],
  "recommendation": "apply" | "regenerate" | "reject"
}`

var defaultImportWhitelist = []string{"asyncio", "logging", "typing", "contextlib", "functools"}

// BuildPatchPrompt renders a structured completion-service prompt for
// generating a single function-level patch.
func BuildPatchPrompt(v rules.Violation, functionSource string, allowedImports []string) string {
	if allowedImports == nil {
		allowedImports = defaultImportWhitelist
	}

	endLine := v.EndLine
	if endLine == 0 {
		endLine = v.Line
	}
	violationData := map[string]interface{}{
		"rule_id":           v.RuleID,
		"severity":          string(v.Severity),
		"file":              v.File,
		"line":              v.Line,
		"end_line":          endLine,
		"title":             v.Title,
		"description":       v.Description,
		"evidence":          v.Evidence,
		"affected_function": v.AffectedFunction,
	}
	violationJSON, _ := json.MarshalIndent(violationData, "", "  ")
	whitelistJSON, _ := json.Marshal(allowedImports)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", patchSystemPrompt)
	fmt.Fprintf(&b, "=== VIOLATION (detected deterministically - this is a FACT) ===\n%s\n\n", violationJSON)
	fmt.Fprintf(&b, "=== AFFECTED FUNCTION SOURCE ===\n```python\n%s\n```\n\n", functionSource)
	fmt.Fprintf(&b, "=== ALLOWED IMPORT WHITELIST ===\n%s\n\n", whitelistJSON)
	b.WriteString("Generate a corrected version of ONLY the function above.\n")
	b.WriteString("Respond with STRICT JSON only. No markdown, no comments, no text outside JSON.\n")
	return b.String()
}

// BuildReviewPrompt renders a self-review prompt for a candidate patch.
func BuildReviewPrompt(v rules.Violation, originalCode, patchedCode string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", reviewSystemPrompt)
	fmt.Fprintf(&b, "=== ORIGINAL VIOLATION ===\nRule: %s\nDescription: %s\n\n", v.RuleID, v.Description)
	fmt.Fprintf(&b, "=== ORIGINAL FUNCTION ===\n```python\n%s\n```\n\n", originalCode)
	fmt.Fprintf(&b, "=== PROPOSED PATCH ===\n```python\n%s\n```\n\n", patchedCode)
	b.WriteString("Review this patch carefully. Respond with STRICT JSON only.\n")
	return b.String()
}
