package orchestrator

import (
	"context"
	"strings"
	"testing"

	"guardrail/internal/patch"
	"guardrail/internal/rules"
)

const missingTimeoutSource = `import requests


def fetch_data(url):
    response = requests.get(url)
    return response.json()
`

func TestRun_AppliesDeterministicFallback(t *testing.T) {
	o := New(rules.NewEngine(nil), nil, 1, false)

	resp := o.Run(context.Background(), []FileInput{
		{Path: "app.py", Content: missingTimeoutSource},
	}, []string{"missing_http_timeout"}, true)

	if resp.Message != "patch_complete" {
		t.Fatalf("expected patch_complete, got %q", resp.Message)
	}
	if resp.TotalViolations != 1 {
		t.Fatalf("expected 1 targeted violation, got %d", resp.TotalViolations)
	}
	if resp.PatchesApplied != 1 {
		t.Fatalf("expected 1 applied patch, got %d (results=%+v)", resp.PatchesApplied, resp.Results)
	}
	if len(resp.Results) != 1 || resp.Results[0].Status != "applied" {
		t.Fatalf("expected a single applied result, got %+v", resp.Results)
	}
	if !resp.Results[0].UsedFallback {
		t.Fatalf("expected the deterministic template path to be used")
	}
	if !strings.Contains(resp.PatchedSources["app.py"], "timeout=10") {
		t.Fatalf("expected patched source to add a timeout, got:\n%s", resp.PatchedSources["app.py"])
	}
	if resp.RiskScoreAfter >= resp.RiskScoreBefore {
		t.Fatalf("expected risk score to drop after patching, before=%d after=%d", resp.RiskScoreBefore, resp.RiskScoreAfter)
	}
}

func TestRun_UnknownRuleFails(t *testing.T) {
	o := New(rules.NewEngine(nil), nil, 0, false)

	resp := o.Run(context.Background(), []FileInput{
		{Path: "app.py", Content: missingTimeoutSource},
	}, []string{"no_such_rule"}, true)

	if resp.TotalViolations != 0 {
		t.Fatalf("expected no violations matched for an unknown rule ID, got %d", resp.TotalViolations)
	}
	if resp.PatchesApplied != 0 || len(resp.Results) != 0 {
		t.Fatalf("expected no patch attempts, got %+v", resp.Results)
	}
}

// brokenClient always returns a reply the parser cannot make sense of, so the
// orchestrator falls through to the deterministic template on that same attempt.
type brokenClient struct{}

func (brokenClient) ProposeReplacement(_ context.Context, _ string) (string, error) {
	return "not json", nil
}

func TestRun_FallsBackWhenCompletionReplyIsUnparseable(t *testing.T) {
	var _ patch.CompletionClient = brokenClient{}

	o := New(rules.NewEngine(nil), brokenClient{}, 1, false)

	resp := o.Run(context.Background(), []FileInput{
		{Path: "app.py", Content: missingTimeoutSource},
	}, []string{"missing_http_timeout"}, false)

	if len(resp.Results) != 1 {
		t.Fatalf("expected one result, got %+v", resp.Results)
	}
	if resp.Results[0].Status != "applied" {
		t.Fatalf("expected the fallback template to still succeed, got status %q", resp.Results[0].Status)
	}
	if !resp.Results[0].UsedFallback {
		t.Fatalf("expected UsedFallback=true once the completion reply failed to parse")
	}
}
