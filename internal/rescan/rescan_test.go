package rescan

import (
	"testing"

	"guardrail/internal/rules"
)

const patchedFixesTimeout = `import requests


def fetch(url):
    response = requests.get(url, timeout=10)
    return response
`

const patchedStillBroken = `import requests


def fetch(url):
    response = requests.get(url)
    return response
`

const patchedIntroducesEval = `import requests


def fetch(url):
    response = requests.get(url, timeout=10)
    eval(url)
    return response
`

func TestRescan_PassesWhenTargetRuleEliminated(t *testing.T) {
	result := Rescan(rules.NewEngine(nil), patchedFixesTimeout, "app.py", rules.MissingHTTPTimeoutRuleID, 20)
	if !result.Passed {
		t.Fatalf("expected rescan to pass, got %+v", result)
	}
	if !result.TargetRuleEliminated {
		t.Fatalf("expected the timeout violation to be gone")
	}
	if result.RiskIncreased {
		t.Fatalf("did not expect risk to increase")
	}
}

func TestRescan_FailsWhenTargetRuleStillPresent(t *testing.T) {
	result := Rescan(rules.NewEngine(nil), patchedStillBroken, "app.py", rules.MissingHTTPTimeoutRuleID, 20)
	if result.Passed {
		t.Fatalf("expected rescan to fail since the violation is still present")
	}
	if result.TargetRuleEliminated {
		t.Fatalf("expected TargetRuleEliminated=false")
	}
}

func TestRescan_FailsAndFlagsNewCriticalViolation(t *testing.T) {
	result := Rescan(rules.NewEngine(nil), patchedIntroducesEval, "app.py", rules.MissingHTTPTimeoutRuleID, 0)
	if result.Passed {
		t.Fatalf("expected rescan to fail when a new critical violation is introduced")
	}
	if len(result.NewViolationsIntroduced) == 0 {
		t.Fatalf("expected the new dangerous_eval violation to be recorded")
	}
	if !result.RiskIncreased {
		t.Fatalf("expected risk to have increased from a 0 baseline")
	}
}

func TestRescan_DetailsExplainFailure(t *testing.T) {
	result := Rescan(rules.NewEngine(nil), patchedStillBroken, "app.py", rules.MissingHTTPTimeoutRuleID, 20)
	if result.Details == "" {
		t.Fatalf("expected a details message explaining why the rescan failed")
	}
}
