package validator

import "testing"

const originalSource = `def fetch(url):
    response = requests.get(url)
    return response
`

const patchedAddsTimeout = `def fetch(url):
    response = requests.get(url, timeout=10)
    return response
`

const patchedRenamesFunction = `def fetch_data(url):
    response = requests.get(url, timeout=10)
    return response
`

const patchedAddsForbiddenImport = `import subprocess


def fetch(url):
    response = requests.get(url, timeout=10)
    return response
`

const patchedRemovesReturn = `def fetch(url):
    response = requests.get(url, timeout=10)
`

func TestValidatePatch_AcceptsMinimalTimeoutFix(t *testing.T) {
	verdict := ValidatePatch(originalSource, patchedAddsTimeout, "fetch", false, nil)
	if !verdict.Valid {
		t.Fatalf("expected valid patch, got errors: %v", verdict.Errors)
	}
}

func TestValidatePatch_RejectsRenamedFunction(t *testing.T) {
	verdict := ValidatePatch(originalSource, patchedRenamesFunction, "fetch", false, nil)
	if verdict.Valid {
		t.Fatalf("expected invalid verdict for a renamed function")
	}
}

func TestValidatePatch_RejectsForbiddenImport(t *testing.T) {
	verdict := ValidatePatch(originalSource, patchedAddsForbiddenImport, "fetch", false, nil)
	if verdict.Valid {
		t.Fatalf("expected invalid verdict for a newly added subprocess import")
	}
}

func TestValidatePatch_RejectsRemovedReturn(t *testing.T) {
	verdict := ValidatePatch(originalSource, patchedRemovesReturn, "fetch", false, nil)
	if verdict.Valid {
		t.Fatalf("expected invalid verdict when a return statement is dropped")
	}
}

func TestValidatePatch_RejectsSyntaxError(t *testing.T) {
	verdict := ValidatePatch(originalSource, "def fetch(url)\n    return", "fetch", false, nil)
	if verdict.Valid {
		t.Fatalf("expected invalid verdict for unparsable patched source")
	}
}
