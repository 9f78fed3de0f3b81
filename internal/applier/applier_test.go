package applier

import (
	"strings"
	"testing"
)

const fetchSource = `import requests


def fetch(url):
    response = requests.get(url)
    return response
`

func TestFunctionPatch_ReplacesFunctionBody(t *testing.T) {
	newFunc := `def fetch(url):
    response = requests.get(url, timeout=10)
    return response
`
	patched, ok := FunctionPatch(fetchSource, "fetch", newFunc, 4, 6)
	if !ok {
		t.Fatalf("expected patch to apply")
	}
	if !containsAll(patched, "timeout=10", "import requests") {
		t.Fatalf("expected patched source to preserve imports and add the fix, got:\n%s", patched)
	}
}

func TestFunctionPatch_PreservesIndentationInsideClass(t *testing.T) {
	source := `class Service:
    def fetch(self, url):
        response = requests.get(url)
        return response
`
	newFunc := `def fetch(self, url):
    response = requests.get(url, timeout=10)
    return response
`
	patched, ok := FunctionPatch(source, "fetch", newFunc, 2, 4)
	if !ok {
		t.Fatalf("expected patch to apply")
	}
	if !containsAll(patched, "        response = requests.get(url, timeout=10)") {
		t.Fatalf("expected the patched body to be reindented to the method's original indent, got:\n%s", patched)
	}
}

func TestFunctionPatch_RejectsOutOfRangeStartLine(t *testing.T) {
	_, ok := FunctionPatch(fetchSource, "fetch", "def fetch(): pass", 999, 1000)
	if ok {
		t.Fatalf("expected an out-of-range start line to fail")
	}
}

func TestFunctionPatch_RejectsSyntaxError(t *testing.T) {
	_, ok := FunctionPatch(fetchSource, "fetch", "def fetch(url)\n    return", 4, 6)
	if ok {
		t.Fatalf("expected a syntactically broken replacement to be rejected")
	}
}

func TestLineRangePatch_ReplacesRange(t *testing.T) {
	patched, ok := LineRangePatch(fetchSource, 5, 5, "response = requests.get(url, timeout=10)")
	if !ok {
		t.Fatalf("expected line range patch to apply")
	}
	if !containsAll(patched, "timeout=10") {
		t.Fatalf("expected patched source to contain the new line, got:\n%s", patched)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
