package patch

import (
	"strings"

	"guardrail/internal/logging"
)

// TemplateGenerator produces a deterministic, rule-specific rewrite of a
// function's source. It never calls out to a completion service.
type TemplateGenerator func(source, functionName string) string

// templates is the fixed registry of fallback generators by rule ID.
var templates = map[string]TemplateGenerator{
	"db_conn_per_request":        patchDBConnPerRequest,
	"missing_http_timeout":       patchMissingHTTPTimeout,
	"blocking_io_in_async":       patchBlockingIOInAsync,
	"missing_idempotency":        patchMissingIdempotency,
	"partial_txn_no_rollback":    patchPartialTxnNoRollback,
	"missing_exception_boundary": patchMissingExceptionBoundary,
}

// GenerateTemplate produces a deterministic patch for a known rule, or
// ("", false) when no template exists for ruleID.
func GenerateTemplate(ruleID, functionSource, functionName string) (string, bool) {
	generator, ok := templates[ruleID]
	if !ok {
		logging.PatchWarn("no fallback template for rule '%s'", ruleID)
		return "", false
	}
	patched := generator(functionSource, functionName)
	return patched, patched != ""
}

func leadingWhitespace(line string) string {
	trimmed := strings.TrimLeft(line, " \t")
	return line[:len(line)-len(trimmed)]
}

func isDefLine(stripped string) bool {
	return strings.HasPrefix(stripped, "def ") || strings.HasPrefix(stripped, "async def ")
}

// patchDBConnPerRequest replaces raw DB connect calls with a pool-backed helper.
func patchDBConnPerRequest(source, _ string) string {
	connectMarkers := []string{
		"sqlite3.connect", "psycopg2.connect", "pymysql.connect", "mysql.connector.connect",
	}
	lines := strings.Split(source, "\n")
	var out []string
	poolAdded := false

	for _, line := range lines {
		matched := false
		for _, marker := range connectMarkers {
			if strings.Contains(line, marker) {
				matched = true
				break
			}
		}
		if matched {
			if !poolAdded {
				indent := leadingWhitespace(line)
				out = append(out, indent+"# Use connection pool instead of per-request connection")
				out = append(out, indent+"conn = get_db_connection()  # from connection pool")
				poolAdded = true
			}
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

var httpMethodsNeedingTimeout = []string{
	"requests.get", "requests.post", "requests.put", "requests.delete", "requests.patch", "requests.head",
	"httpx.get", "httpx.post", "httpx.put", "httpx.delete", "httpx.patch",
}

// patchMissingHTTPTimeout inserts a timeout=10 keyword into calls lacking one.
func patchMissingHTTPTimeout(source, _ string) string {
	lines := strings.Split(source, "\n")
	for i, line := range lines {
		modified := line
		for _, method := range httpMethodsNeedingTimeout {
			if strings.Contains(line, method) && !strings.Contains(line, "timeout") {
				trimmed := strings.TrimRight(line, " \t")
				if strings.HasSuffix(trimmed, ")") {
					modified = trimmed[:len(trimmed)-1] + ", timeout=10)"
				} else if idx := strings.Index(line, ")"); idx >= 0 {
					modified = line[:idx] + ", timeout=10)" + line[idx+1:]
				}
			}
		}
		lines[i] = modified
	}
	return strings.Join(lines, "\n")
}

var blockingToAsyncReplacements = []struct{ old, new string }{
	{"time.sleep(", "await asyncio.sleep("},
	{"requests.get(", "await httpx.AsyncClient().get("},
	{"requests.post(", "await httpx.AsyncClient().post("},
	{"requests.put(", "await httpx.AsyncClient().put("},
	{"requests.delete(", "await httpx.AsyncClient().delete("},
}

// patchBlockingIOInAsync swaps known blocking calls for async equivalents.
func patchBlockingIOInAsync(source, _ string) string {
	result := source
	for _, r := range blockingToAsyncReplacements {
		result = strings.ReplaceAll(result, r.old, r.new)
	}
	return result
}

// bodyStartAfterSignature returns the line index where a function's body
// begins, skipping the def line and (if present) a leading docstring.
func bodyStartAfterSignature(lines []string) int {
	bodyStart := 0
	for i, line := range lines {
		if isDefLine(strings.TrimSpace(line)) {
			bodyStart = i + 1
			break
		}
	}
	if bodyStart >= len(lines) {
		return bodyStart
	}
	stripped := strings.TrimSpace(lines[bodyStart])
	for _, quote := range []string{`"""`, `'''`} {
		if !strings.HasPrefix(stripped, quote) {
			continue
		}
		if strings.Count(stripped, quote) >= 2 {
			return bodyStart + 1
		}
		for j := bodyStart + 1; j < len(lines); j++ {
			if strings.Contains(lines[j], quote) {
				return j + 1
			}
		}
	}
	return bodyStart
}

// patchMissingIdempotency inserts an idempotency-key guard at function entry.
func patchMissingIdempotency(source, _ string) string {
	lines := strings.Split(source, "\n")
	if len(lines) == 0 {
		return source
	}
	bodyStart := bodyStartAfterSignature(lines)

	indent := "    "
	if bodyStart < len(lines) {
		indent = leadingWhitespace(lines[bodyStart])
	}

	guard := []string{
		indent + "# Idempotency guard - prevent duplicate processing",
		indent + "idempotency_key = request.headers.get('Idempotency-Key', '')",
		indent + "if idempotency_key:",
		indent + "    # Check if this request was already processed",
		indent + "    cached = await check_idempotency(idempotency_key)",
		indent + "    if cached is not None:",
		indent + "        return cached",
	}

	out := append([]string{}, lines[:bodyStart]...)
	out = append(out, guard...)
	out = append(out, lines[bodyStart:]...)
	return strings.Join(out, "\n")
}

// patchPartialTxnNoRollback wraps everything from the first DB write call to
// the end of the function in a try/except that commits then rolls back.
func patchPartialTxnNoRollback(source, _ string) string {
	lines := strings.Split(source, "\n")
	var out []string
	inBody := false
	bodyIndent := "    "

	for i, line := range lines {
		stripped := strings.TrimSpace(line)
		if isDefLine(stripped) {
			out = append(out, line)
			inBody = true
			bodyIndent = leadingWhitespace(line) + "    "
			continue
		}

		if inBody && (strings.Contains(line, "cursor.execute") || strings.Contains(line, "session.add")) {
			out = append(out, bodyIndent+"try:")
			for _, rem := range lines[i:] {
				out = append(out, "    "+rem)
			}
			out = append(out, bodyIndent+"    conn.commit()")
			out = append(out, bodyIndent+"except Exception as e:")
			out = append(out, bodyIndent+"    conn.rollback()")
			out = append(out, bodyIndent+"    raise")
			return strings.Join(out, "\n")
		}

		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// patchMissingExceptionBoundary wraps the entire function body in try/except.
func patchMissingExceptionBoundary(source, functionName string) string {
	lines := strings.Split(source, "\n")
	if len(lines) == 0 {
		return source
	}

	bodyStart := 0
	funcIndent := ""
	for i, line := range lines {
		if isDefLine(strings.TrimSpace(line)) {
			bodyStart = i + 1
			funcIndent = leadingWhitespace(line)
			break
		}
	}
	bodyIndent := funcIndent + "    "
	bodyStart = bodyStartAfterSignatureFrom(lines, bodyStart, bodyIndent)

	header := lines[:bodyStart]
	body := lines[bodyStart:]

	wrapped := append([]string{}, header...)
	wrapped = append(wrapped, bodyIndent+"try:")
	for _, line := range body {
		wrapped = append(wrapped, "    "+line)
	}
	wrapped = append(wrapped, bodyIndent+"except Exception as e:")
	wrapped = append(wrapped, bodyIndent+`    logging.exception(f"Error in `+functionName+`: {e}")`)
	wrapped = append(wrapped, bodyIndent+"    raise")

	return strings.Join(wrapped, "\n")
}

// bodyStartAfterSignatureFrom skips a docstring starting at bodyStart, for
// callers that have already computed funcIndent/bodyIndent separately.
func bodyStartAfterSignatureFrom(lines []string, bodyStart int, _ string) int {
	if bodyStart >= len(lines) {
		return bodyStart
	}
	stripped := strings.TrimSpace(lines[bodyStart])
	for _, quote := range []string{`"""`, `'''`} {
		if !strings.HasPrefix(stripped, quote) {
			continue
		}
		if strings.Count(stripped, quote) >= 2 {
			return bodyStart + 1
		}
		for j := bodyStart + 1; j < len(lines); j++ {
			if strings.Contains(lines[j], quote) {
				return j + 1
			}
		}
	}
	return bodyStart
}
